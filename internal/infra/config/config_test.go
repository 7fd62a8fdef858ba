package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"presenter-ai/internal/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const minimalConfig = `
models:
  chat:
    base_url: https://api.example.com/v1
    model: gpt-4o
    api_key: sk-test
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, 64_000, cfg.Limits.ContextBudget)
	assert.Equal(t, 4192, cfg.Limits.ToolCutoffLen)
	assert.Equal(t, 6, cfg.Limits.RetryTimes)
	assert.Equal(t, 2*time.Minute, cfg.Limits.ConnectTimeout)
	assert.Equal(t, 10*time.Minute, cfg.Limits.CallTimeout)
	assert.Equal(t, 1024, cfg.Limits.MaxLogLen)
	assert.Equal(t, "docker", cfg.Sandbox.Runtime)
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.NotEmpty(t, cfg.WorkspaceBase)
}

func TestLoadRejectsEmptyModels(t *testing.T) {
	_, err := Load(writeConfig(t, `workspace_base: /tmp/x`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no models")
}

func TestLoadRejectsDuplicateProviders(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+`
tool_providers:
  - name: fs
    command: fs-server
  - name: fs
    command: fs-server
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestLoadRejectsProviderWithoutTransport(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+`
tool_providers:
  - name: fs
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "command or a url")
}

func TestModelLookup(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	m, err := cfg.Model("chat")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", m.Model)

	_, err = cfg.Model("nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrModelNotFound)
}

func TestAllEndpoints(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
models:
  chat:
    base_url: https://primary.example.com/v1
    model: primary
    endpoints:
      - base_url: https://backup.example.com/v1
        model: backup
`))
	require.NoError(t, err)

	m, err := cfg.Model("chat")
	require.NoError(t, err)
	eps := m.AllEndpoints()
	require.Len(t, eps, 2)
	assert.Equal(t, "primary", eps[0].Model)
	assert.Equal(t, "backup", eps[1].Model)
}

func TestContextBudgetFallback(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	m, _ := cfg.Model("chat")
	assert.Equal(t, 64_000, cfg.ContextBudget(m))

	m.ContextWindow = 128_000
	assert.Equal(t, 128_000, cfg.ContextBudget(m))
}

func TestExpandEnvSubstitution(t *testing.T) {
	t.Setenv("SEARCH_KEY", "secret-value")

	p := ProviderConfig{
		Name: "search",
		Args: []string{"--key", "$SEARCH_KEY"},
		URL:  "https://host/$SEARCH_KEY",
	}
	require.NoError(t, p.ExpandEnv(nil))
	assert.Equal(t, []string{"--key", "secret-value"}, p.Args)
	assert.Equal(t, "https://host/secret-value", p.URL)
}

func TestExpandEnvSelfReferential(t *testing.T) {
	t.Setenv("API_TOKEN", "from-outside")

	p := ProviderConfig{
		Name: "x",
		Env:  map[string]string{"API_TOKEN": "$API_TOKEN"},
	}
	require.NoError(t, p.ExpandEnv(nil))
	assert.Equal(t, "from-outside", p.Env["API_TOKEN"])
}

func TestExpandEnvUndeclaredVariable(t *testing.T) {
	p := ProviderConfig{
		Name: "x",
		Args: []string{"$DEFINITELY_NOT_SET_ANYWHERE_12345"},
	}
	err := p.ExpandEnv(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "declared but not found")
}

func TestExpandEnvMergesExtraAndProxy(t *testing.T) {
	t.Setenv("HTTPS_PROXY", "http://proxy:8080")

	p := ProviderConfig{Name: "x", Command: "server"}
	require.NoError(t, p.ExpandEnv(map[string]string{"WORKSPACE_DIR": "/ws"}))
	assert.Equal(t, "/ws", p.Env["WORKSPACE_DIR"])
	assert.Equal(t, "http://proxy:8080", p.Env["HTTPS_PROXY"])
}

func TestLoadRole(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "research.yaml"), []byte(`
system:
  en: You research topics.
instruction: "Task: {{.instruction}}"
use_model: chat
exclude_tool_servers: [slides]
`), 0o644))

	role, err := LoadRole(dir, "research")
	require.NoError(t, err)
	assert.Equal(t, "chat", role.UseModel)
	assert.Equal(t, []string{"slides"}, role.ExcludeProviders)

	prompt, err := role.SystemPrompt("en")
	require.NoError(t, err)
	assert.Equal(t, "You research topics.", prompt)
}

func TestLoadRoleMissing(t *testing.T) {
	_, err := LoadRole(t.TempDir(), "nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRoleNotFound)
}

func TestLoadRoleInvalid(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte(`
system:
  en: prompt
`), 0o644))

	_, err := LoadRole(dir, "bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "instruction")
}
