package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"presenter-ai/internal/domain"
)

// Config is the top-level application configuration.
type Config struct {
	WorkspaceBase string                 `yaml:"workspace_base"`
	RolesDir      string                 `yaml:"roles_dir"`
	OfflineMode   bool                   `yaml:"offline_mode"`
	Models        map[string]ModelConfig `yaml:"models"`
	Providers     []ProviderConfig       `yaml:"tool_providers"`
	Limits        LimitsConfig           `yaml:"limits"`
	Sandbox       SandboxConfig          `yaml:"sandbox"`
	Logger        LoggerConfig           `yaml:"logger"`
	Tracer        TracerConfig           `yaml:"tracer"`
	Store         StoreConfig            `yaml:"store"`

	filePath string
}

// EndpointConfig describes one chat-completion endpoint.
type EndpointConfig struct {
	BaseURL     string   `yaml:"base_url"`
	Model       string   `yaml:"model"`
	APIKey      string   `yaml:"api_key"`
	Temperature *float64 `yaml:"temperature,omitempty"`
	TopP        *float64 `yaml:"top_p,omitempty"`
	MaxTokens   int      `yaml:"max_tokens,omitempty"`
}

// ModelConfig binds a model alias to its primary endpoint plus optional
// alternates used by the retry cycle.
type ModelConfig struct {
	EndpointConfig `yaml:",inline"`

	// Endpoints are alternates tried in round-robin after the primary.
	Endpoints []EndpointConfig `yaml:"endpoints,omitempty"`
	// Multimodal overrides name-based detection when set.
	Multimodal *bool `yaml:"is_multimodal,omitempty"`
	// MaxConcurrent caps simultaneous in-flight requests through this alias.
	MaxConcurrent int `yaml:"max_concurrent,omitempty"`
	// ContextWindow is the alias's token budget; 0 falls back to Limits.
	ContextWindow int `yaml:"context_window,omitempty"`
	// SoftParsing parses structured output from plain completions instead of
	// the backend's native structured-output mode.
	SoftParsing bool `yaml:"soft_response_parsing,omitempty"`
	// MinImageSize is the minimum width*height for image generation.
	MinImageSize int `yaml:"min_image_size,omitempty"`
	// RequestsPerSecond paces calls to this alias; 0 = unpaced.
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty"`
}

// AllEndpoints returns the primary endpoint (when configured inline) followed
// by the alternates.
func (m ModelConfig) AllEndpoints() []EndpointConfig {
	var out []EndpointConfig
	if m.Model != "" {
		out = append(out, m.EndpointConfig)
	}
	out = append(out, m.Endpoints...)
	return out
}

// ProviderConfig describes one tool provider: either a subprocess speaking
// stdio or a remote streaming endpoint.
type ProviderConfig struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description,omitempty"`
	Command     string            `yaml:"command,omitempty"`
	Args        []string          `yaml:"args,omitempty"`
	Env         map[string]string `yaml:"env,omitempty"`
	URL         string            `yaml:"url,omitempty"`
	Headers     map[string]string `yaml:"headers,omitempty"`
	// KeepTools, when non-nil, limits the provider to these tools.
	KeepTools []string `yaml:"keep_tools,omitempty"`
	// ExcludeTools drops individual tools from the provider.
	ExcludeTools []string `yaml:"exclude_tools,omitempty"`
}

// LimitsConfig holds run-wide limits.
type LimitsConfig struct {
	ContextBudget  int           `yaml:"context_budget"`
	ToolCutoffLen  int           `yaml:"tool_cutoff_len"`
	RetryTimes     int           `yaml:"retry_times"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	CallTimeout    time.Duration `yaml:"call_timeout"`
	MaxLogLen      int           `yaml:"max_log_len"`
}

// SandboxConfig controls the stale sandbox reaper.
type SandboxConfig struct {
	Enabled bool   `yaml:"enabled"`
	Runtime string `yaml:"runtime"` // e.g. "docker"
}

// LoggerConfig holds logger construction settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
	Output string `yaml:"output"` // "stdout", "stderr", or a file path
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // "stdout" or "noop"
}

// StoreConfig holds the run-record store settings.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// Load reads and validates the configuration file, applying defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.WrapOp("read config", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, domain.WrapOp("parse config", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	cfg.filePath = abs
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.WorkspaceBase == "" {
		cache, err := os.UserCacheDir()
		if err != nil {
			cache = os.TempDir()
		}
		c.WorkspaceBase = filepath.Join(cache, "presenter-ai")
	}
	if c.RolesDir == "" {
		c.RolesDir = filepath.Join(filepath.Dir(c.filePath), "roles")
	}
	if c.Limits.ContextBudget <= 0 {
		c.Limits.ContextBudget = 64_000
	}
	if c.Limits.ToolCutoffLen <= 0 {
		c.Limits.ToolCutoffLen = 4192
	}
	if c.Limits.RetryTimes <= 0 {
		c.Limits.RetryTimes = 6
	}
	if c.Limits.ConnectTimeout <= 0 {
		c.Limits.ConnectTimeout = 2 * time.Minute
	}
	if c.Limits.CallTimeout <= 0 {
		c.Limits.CallTimeout = 10 * time.Minute
	}
	if c.Limits.MaxLogLen <= 0 {
		c.Limits.MaxLogLen = 1024
	}
	if c.Sandbox.Runtime == "" {
		c.Sandbox.Runtime = "docker"
	}
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
}

func (c *Config) validate() error {
	if len(c.Models) == 0 {
		return fmt.Errorf("config: no models configured")
	}
	for alias, m := range c.Models {
		if len(m.AllEndpoints()) == 0 {
			return fmt.Errorf("config: model %q has no endpoints", alias)
		}
	}
	seen := make(map[string]bool)
	for _, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("config: tool provider with empty name")
		}
		if seen[p.Name] {
			return fmt.Errorf("config: duplicate tool provider %q", p.Name)
		}
		seen[p.Name] = true
		if p.Command == "" && p.URL == "" {
			return fmt.Errorf("config: provider %q needs a command or a url", p.Name)
		}
	}
	return nil
}

// FilePath returns the absolute path the config was loaded from.
func (c *Config) FilePath() string { return c.filePath }

// Model returns the configuration bound to an alias.
func (c *Config) Model(alias string) (ModelConfig, error) {
	m, ok := c.Models[alias]
	if !ok {
		return ModelConfig{}, domain.NewDomainError("Config.Model", domain.ErrModelNotFound, alias)
	}
	return m, nil
}

// ContextBudget resolves the token budget for an alias.
func (c *Config) ContextBudget(m ModelConfig) int {
	if m.ContextWindow > 0 {
		return m.ContextWindow
	}
	return c.Limits.ContextBudget
}

var envVarPattern = regexp.MustCompile(`\$([A-Z][A-Z0-9_]*)`)

// proxyEnvVars are passed through to subprocess providers when set.
var proxyEnvVars = []string{
	"HTTP_PROXY", "HTTPS_PROXY", "NO_PROXY", "ALL_PROXY",
	"http_proxy", "https_proxy", "no_proxy", "all_proxy",
}

// ExpandEnv substitutes $VARS in the provider's args, url, and env values,
// resolving against the process environment first, then the provider env,
// then extra. It also passes any ambient proxy variables through and merges
// extra into the provider env. Undeclared variables are an error.
func (p *ProviderConfig) ExpandEnv(extra map[string]string) error {
	if p.Env == nil {
		p.Env = make(map[string]string)
	}
	for _, k := range proxyEnvVars {
		if v, ok := os.LookupEnv(k); ok {
			p.Env[k] = v
		}
	}
	for k, v := range extra {
		p.Env[k] = v
	}

	expand := func(text string) (string, error) {
		var expandErr error
		out := envVarPattern.ReplaceAllStringFunc(text, func(ref string) string {
			name := ref[1:]
			if v, ok := os.LookupEnv(name); ok {
				return v
			}
			if v, ok := p.Env[name]; ok {
				return v
			}
			expandErr = fmt.Errorf("environment variable %s declared but not found", name)
			return ref
		})
		return out, expandErr
	}

	var err error
	for i, arg := range p.Args {
		if p.Args[i], err = expand(arg); err != nil {
			return domain.WrapOp("provider "+p.Name, err)
		}
	}
	for k, v := range p.Env {
		// Self-referential entries (KEY: $KEY) pull the value from outside.
		if v == "$"+k {
			if p.Env[k], err = expand(v); err != nil {
				return domain.WrapOp("provider "+p.Name, err)
			}
		}
	}
	if p.URL != "" {
		if p.URL, err = expand(p.URL); err != nil {
			return domain.WrapOp("provider "+p.Name, err)
		}
	}
	return nil
}

// LoadRole reads one agent class's role configuration from rolesDir.
func LoadRole(rolesDir, name string) (domain.RoleConfig, error) {
	path := filepath.Join(rolesDir, name+".yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.RoleConfig{}, domain.NewDomainError("LoadRole", domain.ErrRoleNotFound, path)
		}
		return domain.RoleConfig{}, domain.WrapOp("read role config", err)
	}
	var role domain.RoleConfig
	if err := yaml.Unmarshal(data, &role); err != nil {
		return domain.RoleConfig{}, domain.WrapOp("parse role config", err)
	}
	if err := role.Validate(); err != nil {
		return domain.RoleConfig{}, err
	}
	return role, nil
}
