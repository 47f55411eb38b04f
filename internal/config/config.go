// Package config provides unified configuration loading for troupe.
// It supports loading from YAML files and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// TroupeConfig contains all troupe configuration settings.
type TroupeConfig struct {
	// Orchestrator contains session and round scheduling limits.
	Orchestrator OrchestratorConfig `json:"orchestrator" yaml:"orchestrator"`

	// Engine contains settings for the completion-service backend.
	Engine EngineConfig `json:"engine" yaml:"engine"`

	// Store contains persistence settings.
	Store StoreConfig `json:"store" yaml:"store"`

	// Logging contains settings for operational and trace logging.
	Logging LoggingConfig `json:"logging" yaml:"logging"`
}

// OrchestratorConfig bounds concurrent work across and within sessions.
type OrchestratorConfig struct {
	// MaxSessions caps concurrently active sessions. Zero means unlimited.
	MaxSessions int `json:"max_sessions" yaml:"max_sessions"`

	// MaxConcurrency caps in-flight engine calls within one round.
	MaxConcurrency int `json:"max_concurrency" yaml:"max_concurrency"`

	// RetryAttempts is how many times a failed agent turn is retried
	// before the turn is recorded as failed.
	RetryAttempts int `json:"retry_attempts" yaml:"retry_attempts"`

	// RetryBackoff is the base delay between retries; it doubles per
	// attempt.
	RetryBackoff time.Duration `json:"retry_backoff" yaml:"retry_backoff"`

	// GracePeriod is how long EndSession waits for in-flight work to
	// drain before forcing termination.
	GracePeriod time.Duration `json:"grace_period" yaml:"grace_period"`
}

// EngineConfig configures the completion-service backend.
type EngineConfig struct {
	// Provider identifies the backend: "anthropic", "openai", "ollama",
	// or "" for disabled (mock-only operation).
	Provider string `json:"provider" yaml:"provider"`

	// APIKey is the API key for the provider. Supports ${VAR} syntax for
	// env vars. Not required for ollama.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// BaseURL is the API endpoint URL. Used for ollama or custom
	// OpenAI-compatible endpoints.
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`

	// Model is the model identifier sent with each completion.
	Model string `json:"model,omitempty" yaml:"model,omitempty"`

	// Temperature and MaxTokens are the sampling parameters. Both are
	// part of the completion cache key.
	Temperature float64 `json:"temperature" yaml:"temperature"`
	MaxTokens   int     `json:"max_tokens" yaml:"max_tokens"`

	// Timeout is the maximum duration to wait for one completion.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	// RequestsPerMinute is the local provider budget. Zero disables the
	// local limiter.
	RequestsPerMinute float64 `json:"requests_per_minute" yaml:"requests_per_minute"`
}

// RedactedAPIKey returns the API key with most characters masked.
// Shows first 4 and last 4 characters, e.g., "sk-a...xyz9".
// Returns "" for empty keys and "(set)" for keys shorter than 12 chars.
func (c EngineConfig) RedactedAPIKey() string {
	if c.APIKey == "" {
		return ""
	}
	if len(c.APIKey) < 12 {
		return "(set)"
	}
	return c.APIKey[:4] + "..." + c.APIKey[len(c.APIKey)-4:]
}

// String implements fmt.Stringer to prevent accidental API key logging.
// It returns a representation with the API key redacted.
func (c EngineConfig) String() string {
	return fmt.Sprintf("EngineConfig{Provider:%s, APIKey:%s, Model:%s}",
		c.Provider, c.RedactedAPIKey(), c.Model)
}

// StoreConfig configures the persistence layer.
type StoreConfig struct {
	// Dir is the directory holding the SQLite database and trace files.
	// Defaults to ".troupe" in the working directory.
	Dir string `json:"dir" yaml:"dir"`
}

// LoggingConfig configures troupe's logging behavior.
type LoggingConfig struct {
	// Level sets the log verbosity: "info" (default), "debug", or "trace".
	// "debug" enables round tracing to .troupe/trace.jsonl.
	// "trace" additionally includes full prompt/completion content.
	Level string `json:"level" yaml:"level"`
}

// Default returns a TroupeConfig with sensible defaults.
func Default() *TroupeConfig {
	return &TroupeConfig{
		Orchestrator: OrchestratorConfig{
			MaxSessions:    8,
			MaxConcurrency: 4,
			RetryAttempts:  2,
			RetryBackoff:   500 * time.Millisecond,
			GracePeriod:    10 * time.Second,
		},
		Engine: EngineConfig{
			Provider:    "",
			Temperature: 0.7,
			MaxTokens:   1024,
			Timeout:     30 * time.Second,
		},
		Store: StoreConfig{
			Dir: ".troupe",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from the default locations and environment variables.
// Order: defaults -> ~/.troupe/config.yaml -> environment variables
func Load() (*TroupeConfig, error) {
	config := Default()

	// Try to load from default config file
	homeDir, err := os.UserHomeDir()
	if err == nil {
		configPath := filepath.Join(homeDir, ".troupe", "config.yaml")
		if _, statErr := os.Stat(configPath); statErr == nil {
			fileConfig, loadErr := LoadFromFile(configPath)
			if loadErr != nil {
				return nil, fmt.Errorf("loading config file: %w", loadErr)
			}
			config = fileConfig
		}
	}

	// Apply environment variable overrides
	applyEnvOverrides(config)

	return config, nil
}

// LoadFromFile loads configuration from a specific YAML file.
func LoadFromFile(path string) (*TroupeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Expand environment variables in API key
	config.Engine.APIKey = expandEnvVars(config.Engine.APIKey)

	return config, nil
}

// Validate checks that the configuration is valid.
func (c *TroupeConfig) Validate() error {
	if c.Orchestrator.MaxSessions < 0 {
		return fmt.Errorf("max_sessions must be non-negative, got %d", c.Orchestrator.MaxSessions)
	}
	if c.Orchestrator.MaxConcurrency < 1 {
		return fmt.Errorf("max_concurrency must be at least 1, got %d", c.Orchestrator.MaxConcurrency)
	}
	if c.Orchestrator.RetryAttempts < 0 {
		return fmt.Errorf("retry_attempts must be non-negative, got %d", c.Orchestrator.RetryAttempts)
	}
	if c.Orchestrator.RetryBackoff < 0 {
		return fmt.Errorf("retry_backoff must be non-negative, got %v", c.Orchestrator.RetryBackoff)
	}
	if c.Orchestrator.GracePeriod < 0 {
		return fmt.Errorf("grace_period must be non-negative, got %v", c.Orchestrator.GracePeriod)
	}

	if c.Engine.Timeout < 0 {
		return fmt.Errorf("timeout must be non-negative, got %v", c.Engine.Timeout)
	}
	if c.Engine.RequestsPerMinute < 0 {
		return fmt.Errorf("requests_per_minute must be non-negative, got %f", c.Engine.RequestsPerMinute)
	}

	validProviders := map[string]bool{"": true, "anthropic": true, "openai": true, "ollama": true}
	if !validProviders[c.Engine.Provider] {
		return fmt.Errorf("invalid provider: %s (valid: anthropic, openai, ollama, or empty)", c.Engine.Provider)
	}

	validLevels := map[string]bool{"info": true, "debug": true, "trace": true}
	if c.Logging.Level != "" && !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: info, debug, trace, or empty for default)", c.Logging.Level)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
func applyEnvOverrides(config *TroupeConfig) {
	if v := os.Getenv("TROUPE_ENGINE_PROVIDER"); v != "" {
		config.Engine.Provider = v
	}

	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" && config.Engine.Provider == "anthropic" {
		config.Engine.APIKey = v
	}

	if v := os.Getenv("OPENAI_API_KEY"); v != "" && config.Engine.Provider == "openai" {
		config.Engine.APIKey = v
	}

	// Ollama uses OLLAMA_HOST for base URL (no API key needed)
	if config.Engine.Provider == "ollama" {
		if v := os.Getenv("OLLAMA_HOST"); v != "" {
			config.Engine.BaseURL = v
		}
	}

	if v := os.Getenv("TROUPE_ENGINE_MODEL"); v != "" {
		config.Engine.Model = v
	}

	if v := os.Getenv("TROUPE_MAX_SESSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Orchestrator.MaxSessions = n
		}
	}

	if v := os.Getenv("TROUPE_MAX_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Orchestrator.MaxConcurrency = n
		}
	}

	if v := os.Getenv("TROUPE_STORE_DIR"); v != "" {
		config.Store.Dir = v
	}

	if v := os.Getenv("TROUPE_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
}

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return os.Expand(s, os.Getenv)
}
