package domain

import (
	"context"
	"encoding/json"
	"fmt"
)

// Built-in control tools every agent receives, served in-process rather than
// by an external provider.
const (
	ProviderBuiltin = "local"
	ToolFinalize    = "finalize"
	ToolThink       = "think"
)

// ToolSchema describes a tool for the model's function-calling protocol.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ToolCatalog is the read-only view of every tool advertised by the connected
// providers. It is built once per environment session and never mutated
// afterwards.
type ToolCatalog struct {
	Schemas       map[string]ToolSchema `json:"tool_specs"`
	ToolProvider  map[string]string     `json:"tool_provider"`
	ProviderTools map[string][]string   `json:"server_tools"`
	Order         []string              `json:"order"` // tool names in discovery order
}

// NewToolCatalog creates an empty catalog.
func NewToolCatalog() *ToolCatalog {
	return &ToolCatalog{
		Schemas:       make(map[string]ToolSchema),
		ToolProvider:  make(map[string]string),
		ProviderTools: make(map[string][]string),
	}
}

// Add registers a tool under the given provider, preserving discovery order.
func (c *ToolCatalog) Add(provider string, schema ToolSchema) {
	if _, ok := c.Schemas[schema.Name]; ok {
		return
	}
	c.Schemas[schema.Name] = schema
	c.ToolProvider[schema.Name] = provider
	c.ProviderTools[provider] = append(c.ProviderTools[provider], schema.Name)
	c.Order = append(c.Order, schema.Name)
}

// Tool returns the schema for a tool name.
func (c *ToolCatalog) Tool(name string) (ToolSchema, bool) {
	s, ok := c.Schemas[name]
	return s, ok
}

// Provider returns the owning provider id for a tool name.
func (c *ToolCatalog) Provider(name string) (string, bool) {
	p, ok := c.ToolProvider[name]
	return p, ok
}

// Providers returns provider ids that advertised at least one tool.
func (c *ToolCatalog) Providers() []string {
	out := make([]string, 0, len(c.ProviderTools))
	seen := make(map[string]bool)
	for _, name := range c.Order {
		p := c.ToolProvider[name]
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out
}

// SelectTools computes an agent's ordered tool subset from role configuration.
// It is a pure function over the catalog: provider include/exclude lists are
// applied first (an empty include list means every provider), then individual
// tool include/exclude lists. Unknown provider or tool names are an error.
func SelectTools(catalog *ToolCatalog, role RoleConfig) ([]ToolSchema, error) {
	include := role.IncludeProviders
	if len(include) == 0 {
		include = catalog.Providers()
	}
	for _, p := range append(append([]string{}, include...), role.ExcludeProviders...) {
		if _, ok := catalog.ProviderTools[p]; !ok {
			return nil, NewDomainError("SelectTools", ErrProviderNotFound, p)
		}
	}
	for _, t := range append(append([]string{}, role.IncludeTools...), role.ExcludeTools...) {
		if _, ok := catalog.Schemas[t]; !ok {
			return nil, NewDomainError("SelectTools", ErrToolNotFound, t)
		}
	}

	excludedProvider := make(map[string]bool, len(role.ExcludeProviders))
	for _, p := range role.ExcludeProviders {
		excludedProvider[p] = true
	}
	includedProvider := make(map[string]bool, len(include))
	for _, p := range include {
		includedProvider[p] = true
	}
	excludedTool := make(map[string]bool, len(role.ExcludeTools))
	for _, t := range role.ExcludeTools {
		excludedTool[t] = true
	}

	var out []ToolSchema
	added := make(map[string]bool)
	for _, name := range catalog.Order {
		p := catalog.ToolProvider[name]
		if !includedProvider[p] || excludedProvider[p] || excludedTool[name] {
			continue
		}
		out = append(out, catalog.Schemas[name])
		added[name] = true
	}
	// Individually included tools come last, regardless of provider filters.
	for _, name := range role.IncludeTools {
		if !added[name] {
			out = append(out, catalog.Schemas[name])
			added[name] = true
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("role selects no tools")
	}
	return out, nil
}

// ToolEnvironment multiplexes tool calls across connected providers for one
// run. Execute never fails: provider errors come back as error-tagged tool
// messages.
type ToolEnvironment interface {
	Execute(ctx context.Context, call ToolCall) Message
	Catalog() *ToolCatalog
	Workspace() string
}
