package domain

import "fmt"

// RoleConfig is the static, per-agent-class configuration loaded from a YAML
// resource. It is immutable once loaded.
type RoleConfig struct {
	// System maps language code ("en", "zh") to the system prompt.
	System map[string]string `yaml:"system"`
	// Instruction is the first-turn user prompt template.
	Instruction string `yaml:"instruction"`
	// UseModel names the model alias this agent binds to.
	UseModel string `yaml:"use_model"`
	// IncludeProviders limits the agent to these providers; empty = all.
	IncludeProviders []string `yaml:"include_tool_servers"`
	ExcludeProviders []string `yaml:"exclude_tool_servers"`
	// IncludeTools adds individual tools regardless of provider filters.
	IncludeTools []string `yaml:"include_tools"`
	ExcludeTools []string `yaml:"exclude_tools"`
}

// Validate checks the role for structural completeness.
func (r RoleConfig) Validate() error {
	if len(r.System) == 0 {
		return fmt.Errorf("role config: no system prompts")
	}
	if r.Instruction == "" {
		return fmt.Errorf("role config: no instruction template")
	}
	if r.UseModel == "" {
		return fmt.Errorf("role config: no model alias")
	}
	return nil
}

// SystemPrompt returns the system prompt for a language.
func (r RoleConfig) SystemPrompt(language string) (string, error) {
	s, ok := r.System[language]
	if !ok {
		return "", fmt.Errorf("language %q not found in system prompts", language)
	}
	return s, nil
}
