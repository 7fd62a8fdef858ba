package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCatalog() *ToolCatalog {
	c := NewToolCatalog()
	c.Add("search", ToolSchema{Name: "web_search"})
	c.Add("search", ToolSchema{Name: "download_page"})
	c.Add("fs", ToolSchema{Name: "read_file"})
	c.Add("fs", ToolSchema{Name: "write_file"})
	c.Add(ProviderBuiltin, ToolSchema{Name: ToolFinalize})
	c.Add(ProviderBuiltin, ToolSchema{Name: ToolThink})
	return c
}

func toolNames(tools []ToolSchema) []string {
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Name)
	}
	return names
}

func TestSelectToolsAllProvidersByDefault(t *testing.T) {
	role := RoleConfig{System: map[string]string{"en": "s"}, Instruction: "i", UseModel: "m"}
	tools, err := SelectTools(testCatalog(), role)
	require.NoError(t, err)
	assert.Equal(t, []string{"web_search", "download_page", "read_file", "write_file", ToolFinalize, ToolThink},
		toolNames(tools))
}

func TestSelectToolsProviderFilter(t *testing.T) {
	role := RoleConfig{IncludeProviders: []string{"fs", ProviderBuiltin}}
	tools, err := SelectTools(testCatalog(), role)
	require.NoError(t, err)
	assert.Equal(t, []string{"read_file", "write_file", ToolFinalize, ToolThink}, toolNames(tools))
}

func TestSelectToolsExcludes(t *testing.T) {
	role := RoleConfig{
		ExcludeProviders: []string{"search"},
		ExcludeTools:     []string{"write_file"},
	}
	tools, err := SelectTools(testCatalog(), role)
	require.NoError(t, err)
	assert.Equal(t, []string{"read_file", ToolFinalize, ToolThink}, toolNames(tools))
}

func TestSelectToolsIncludedToolsComeLast(t *testing.T) {
	role := RoleConfig{
		IncludeProviders: []string{ProviderBuiltin},
		IncludeTools:     []string{"web_search"},
	}
	tools, err := SelectTools(testCatalog(), role)
	require.NoError(t, err)
	assert.Equal(t, []string{ToolFinalize, ToolThink, "web_search"}, toolNames(tools))
}

func TestSelectToolsUnknownProvider(t *testing.T) {
	_, err := SelectTools(testCatalog(), RoleConfig{IncludeProviders: []string{"nope"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProviderNotFound)
}

func TestSelectToolsUnknownTool(t *testing.T) {
	_, err := SelectTools(testCatalog(), RoleConfig{ExcludeTools: []string{"nope"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrToolNotFound)
}

func TestSelectToolsEmptyResult(t *testing.T) {
	role := RoleConfig{
		IncludeProviders: []string{"fs"},
		ExcludeTools:     []string{"read_file", "write_file"},
	}
	_, err := SelectTools(testCatalog(), role)
	require.Error(t, err)
}

func TestCatalogAddIgnoresDuplicates(t *testing.T) {
	c := NewToolCatalog()
	c.Add("a", ToolSchema{Name: "x", Description: "first"})
	c.Add("b", ToolSchema{Name: "x", Description: "second"})

	s, ok := c.Tool("x")
	require.True(t, ok)
	assert.Equal(t, "first", s.Description)

	p, ok := c.Provider("x")
	require.True(t, ok)
	assert.Equal(t, "a", p)
	assert.Len(t, c.Order, 1)
}
