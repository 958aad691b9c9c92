// Package config provides configuration management for the gateway server.
// It handles loading and parsing YAML configuration files, and provides
// structured access to application settings including the inbound API key,
// default provider, persistence file paths, risk policy, cooldown defaults,
// and per-provider feature flags.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// Port is the network port on which the API server will listen.
	Port int `yaml:"port"`

	// RequiredAPIKey authenticates inbound clients. Any of the Bearer
	// header, ?key= query, x-goog-api-key or x-api-key header may carry it.
	RequiredAPIKey string `yaml:"required-api-key"`

	// DefaultProvider is the provider type used when no routing heuristic
	// matches the requested model.
	DefaultProvider string `yaml:"default-provider"`

	// Debug enables or disables debug-level logging.
	Debug bool `yaml:"debug"`

	// LogMode selects where prompt logs go: none, console, or file.
	LogMode string `yaml:"log-mode"`

	// PoolsFile is the path of the provider pools JSON file.
	PoolsFile string `yaml:"pools-file"`

	// LifecycleFile is the path of the credential lifecycle snapshot file.
	LifecycleFile string `yaml:"lifecycle-file"`

	// UsageFile is the path of the per-credential usage database.
	UsageFile string `yaml:"usage-file"`

	// CredentialsDir is the directory holding per-provider credential files.
	CredentialsDir string `yaml:"credentials-dir"`

	// PromptLogDir is the directory for prompt input/output log files.
	PromptLogDir string `yaml:"prompt-log-dir"`

	// PromptLogBaseName is the base name for prompt log files.
	PromptLogBaseName string `yaml:"prompt-log-base-name"`

	// SystemPromptFile is the path of the operator-supplied system prompt.
	SystemPromptFile string `yaml:"system-prompt-file"`

	// SystemPromptMode is either "override" or "append".
	SystemPromptMode string `yaml:"system-prompt-mode"`

	// RequestRetry is the maximum number of credentials tried per request.
	RequestRetry int `yaml:"request-retry"`

	// ProxyURL is an optional global outbound proxy. Credential configs may
	// override it per entry.
	ProxyURL string `yaml:"proxy-url"`

	// Risk configures the credential risk policy.
	Risk RiskConfig `yaml:"risk"`

	// Cooldown configures default cooldown durations.
	Cooldown CooldownConfig `yaml:"cooldown"`

	// Providers holds per-provider feature settings.
	Providers ProvidersConfig `yaml:"providers"`

	// TelemetryURL, when set, receives a best-effort summary POST per request.
	TelemetryURL string `yaml:"telemetry-url"`
}

// RiskConfig configures the risk policy engine.
type RiskConfig struct {
	// Mode is one of observe, enforce_soft, enforce_strict,
	// protective_emergency.
	Mode string `yaml:"mode"`

	// IdentityWindowMs is the identity-collision detection window in
	// milliseconds.
	IdentityWindowMs int64 `yaml:"identity-window-ms"`

	// MaxEvents bounds the persisted event ring.
	MaxEvents int `yaml:"max-events"`
}

// CooldownConfig holds the default cooldown durations applied when the
// upstream does not say how long to back off.
type CooldownConfig struct {
	// QuotaMs is the default cooldown after a quota_exceeded signal.
	QuotaMs int64 `yaml:"quota-ms"`

	// RateLimitMs is the default cooldown after a rate_limited signal.
	RateLimitMs int64 `yaml:"rate-limit-ms"`
}

// ProvidersConfig groups per-provider feature settings.
type ProvidersConfig struct {
	// Orchids configures the WebSocket coding-agent adapter.
	Orchids OrchidsConfig `yaml:"orchids"`
}

// OrchidsConfig holds the coding-agent adapter settings.
type OrchidsConfig struct {
	// WorkspaceDir is the root for upstream-initiated filesystem
	// operations. Paths are resolved against it and must not escape it.
	WorkspaceDir string `yaml:"workspace-dir"`

	// AllowRunCommand gates subprocess execution requested by the upstream.
	AllowRunCommand bool `yaml:"allow-run-command"`

	// EmitToolUse controls whether fs_operation requests are surfaced as
	// tool_use blocks on the outbound stream.
	EmitToolUse bool `yaml:"emit-tool-use"`

	// AllowFsOperations enables local execution of upstream fs_operation
	// requests. When false the adapter only acknowledges them.
	AllowFsOperations bool `yaml:"allow-fs-operations"`
}

// LoadConfig reads a YAML configuration file from the given path,
// unmarshals it into a Config struct, applies defaults, and returns it.
func LoadConfig(configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err = yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()
	return &config, nil
}

// applyDefaults fills in the values a minimal config file may omit.
func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 3000
	}
	if c.LogMode == "" {
		c.LogMode = "console"
	}
	if c.PoolsFile == "" {
		c.PoolsFile = "provider_pools.json"
	}
	if c.LifecycleFile == "" {
		c.LifecycleFile = "risk_lifecycle.json"
	}
	if c.UsageFile == "" {
		c.UsageFile = "usage.db"
	}
	if c.CredentialsDir == "" {
		c.CredentialsDir = "auths"
	}
	if c.PromptLogDir == "" {
		c.PromptLogDir = "logs"
	}
	if c.PromptLogBaseName == "" {
		c.PromptLogBaseName = "prompt_log"
	}
	if c.SystemPromptMode == "" {
		c.SystemPromptMode = "append"
	}
	if c.RequestRetry <= 0 {
		c.RequestRetry = 3
	}
	if c.Risk.Mode == "" {
		c.Risk.Mode = "enforce_soft"
	}
	if c.Risk.IdentityWindowMs <= 0 {
		c.Risk.IdentityWindowMs = 10 * 60 * 1000
	}
	if c.Risk.MaxEvents <= 0 {
		c.Risk.MaxEvents = 5000
	}
	if c.Cooldown.QuotaMs <= 0 {
		c.Cooldown.QuotaMs = 60 * 60 * 1000
	}
	if c.Cooldown.RateLimitMs <= 0 {
		c.Cooldown.RateLimitMs = 60 * 1000
	}
	if c.Providers.Orchids.WorkspaceDir == "" {
		c.Providers.Orchids.WorkspaceDir = "."
	}
}

// ExpandHome rewrites a leading "~" in path to the user home directory.
func ExpandHome(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	rest := strings.TrimPrefix(path, "~")
	rest = strings.TrimPrefix(rest, string(os.PathSeparator))
	return filepath.Join(home, rest), nil
}
