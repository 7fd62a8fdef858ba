package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessageNormalizesContent(t *testing.T) {
	m := NewMessage(RoleUser, "  hello  ")
	require.Len(t, m.Content, 1)
	assert.Equal(t, "hello", m.Content[0].Text)
	assert.NotEmpty(t, m.ID)
	assert.False(t, m.CreatedAt.IsZero())
}

func TestNewMessageEmptyText(t *testing.T) {
	m := NewMessage(RoleUser, "   ")
	assert.Empty(t, m.Content)
	assert.NotNil(t, m.Content)
}

func TestNormalizeIsIdempotent(t *testing.T) {
	m := Message{
		Role: RoleUser,
		Content: []ContentBlock{
			TextBlock("  a  "),
			TextBlock("   "),
			ImageBlock("https://example.com/x.png"),
		},
	}
	m.Normalize()
	first := make([]ContentBlock, len(m.Content))
	copy(first, m.Content)

	m.Normalize()
	assert.Equal(t, first, m.Content)
	require.Len(t, m.Content, 2)
	assert.Equal(t, "a", m.Content[0].Text)
	assert.Equal(t, BlockImageURL, m.Content[1].Type)
}

func TestTextProjection(t *testing.T) {
	m := Message{
		Role: RoleTool,
		Content: []ContentBlock{
			TextBlock("line one"),
			ImageBlock("data:image/png;base64,AAAA"),
			TextBlock("line two"),
		},
	}
	assert.Equal(t, "line one\n<image>\nline two", m.Text())
}

func TestTextProjectionFallsBackToToolCalls(t *testing.T) {
	m := Message{
		Role: RoleAssistant,
		ToolCalls: []ToolCall{
			{ID: "c1", Name: "read_file", Arguments: json.RawMessage(`{"path":"a.md"}`)},
		},
	}
	text := m.Text()
	assert.Contains(t, text, "read_file")
	assert.Contains(t, text, "a.md")
}

func TestHasImage(t *testing.T) {
	assert.False(t, NewMessage(RoleUser, "text").HasImage())

	m := Message{Content: []ContentBlock{ImageBlock("https://example.com/x.png")}}
	assert.True(t, m.HasImage())

	m = Message{Content: []ContentBlock{{Type: BlockImage, Source: &ImageSource{Type: "base64"}}}}
	assert.True(t, m.HasImage())
}

func TestParseArguments(t *testing.T) {
	tests := []struct {
		name    string
		args    string
		want    map[string]any
		wantErr bool
	}{
		{name: "empty means no arguments", args: "", want: nil},
		{name: "object", args: `{"path":"x"}`, want: map[string]any{"path": "x"}},
		{name: "non-object fails", args: `[1,2]`, wantErr: true},
		{name: "garbage fails", args: `{not json`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			call := ToolCall{ID: "c", Name: "t", Arguments: json.RawMessage(tt.args)}
			got, err := call.ParseArguments()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSetArgumentsCanonicalizes(t *testing.T) {
	call := ToolCall{ID: "c", Name: "finalize"}
	require.NoError(t, call.SetArguments(map[string]any{"outcome": "out.md", "agent_name": "Researcher"}))

	parsed, err := call.ParseArguments()
	require.NoError(t, err)
	assert.Equal(t, "out.md", parsed["outcome"])
	assert.Equal(t, "Researcher", parsed["agent_name"])
}

func TestNewToolMessage(t *testing.T) {
	call := ToolCall{ID: "c9", Name: "web_search"}
	m := NewToolMessage(call, []ContentBlock{TextBlock(" result ")}, true)

	assert.Equal(t, RoleTool, m.Role)
	assert.Equal(t, "c9", m.ToolCallID)
	assert.Equal(t, "web_search", m.FromTool)
	assert.True(t, m.IsError)
	require.Len(t, m.Content, 1)
	assert.Equal(t, "result", m.Content[0].Text)
}
