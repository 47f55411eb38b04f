package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	config := Default()

	if config.Orchestrator.MaxSessions != 8 {
		t.Errorf("expected MaxSessions 8, got %d", config.Orchestrator.MaxSessions)
	}
	if config.Orchestrator.MaxConcurrency != 4 {
		t.Errorf("expected MaxConcurrency 4, got %d", config.Orchestrator.MaxConcurrency)
	}
	if config.Orchestrator.RetryAttempts != 2 {
		t.Errorf("expected RetryAttempts 2, got %d", config.Orchestrator.RetryAttempts)
	}
	if config.Orchestrator.GracePeriod != 10*time.Second {
		t.Errorf("expected GracePeriod 10s, got %v", config.Orchestrator.GracePeriod)
	}

	if config.Engine.Provider != "" {
		t.Errorf("expected empty Provider, got '%s'", config.Engine.Provider)
	}
	if config.Engine.Temperature != 0.7 {
		t.Errorf("expected Temperature 0.7, got %f", config.Engine.Temperature)
	}
	if config.Engine.Timeout != 30*time.Second {
		t.Errorf("expected Timeout 30s, got %v", config.Engine.Timeout)
	}

	if config.Store.Dir != ".troupe" {
		t.Errorf("expected Store.Dir '.troupe', got '%s'", config.Store.Dir)
	}
	if config.Logging.Level != "info" {
		t.Errorf("expected Logging.Level 'info', got '%s'", config.Logging.Level)
	}

	if err := config.Validate(); err != nil {
		t.Errorf("default config must validate: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
orchestrator:
  max_sessions: 16
  max_concurrency: 8
  retry_attempts: 3
  retry_backoff: 1s

engine:
  provider: anthropic
  api_key: test-key
  model: claude-sonnet-4-20250514
  temperature: 0.2
  requests_per_minute: 60

store:
  dir: /tmp/troupe-test

logging:
  level: debug
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	config, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if config.Orchestrator.MaxSessions != 16 {
		t.Errorf("expected MaxSessions 16, got %d", config.Orchestrator.MaxSessions)
	}
	if config.Orchestrator.RetryBackoff != time.Second {
		t.Errorf("expected RetryBackoff 1s, got %v", config.Orchestrator.RetryBackoff)
	}
	if config.Engine.Provider != "anthropic" {
		t.Errorf("expected Provider 'anthropic', got '%s'", config.Engine.Provider)
	}
	if config.Engine.APIKey != "test-key" {
		t.Errorf("expected APIKey 'test-key', got '%s'", config.Engine.APIKey)
	}
	if config.Engine.Temperature != 0.2 {
		t.Errorf("expected Temperature 0.2, got %f", config.Engine.Temperature)
	}
	if config.Store.Dir != "/tmp/troupe-test" {
		t.Errorf("expected Store.Dir '/tmp/troupe-test', got '%s'", config.Store.Dir)
	}
	if config.Logging.Level != "debug" {
		t.Errorf("expected Level 'debug', got '%s'", config.Logging.Level)
	}

	// Unspecified fields keep their defaults.
	if config.Engine.MaxTokens != 1024 {
		t.Errorf("expected default MaxTokens 1024, got %d", config.Engine.MaxTokens)
	}
}

func TestLoadFromFile_EnvExpansion(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
engine:
  provider: anthropic
  api_key: ${TEST_TROUPE_API_KEY}
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	os.Setenv("TEST_TROUPE_API_KEY", "expanded-key-value")
	defer os.Unsetenv("TEST_TROUPE_API_KEY")

	config, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if config.Engine.APIKey != "expanded-key-value" {
		t.Errorf("expected APIKey 'expanded-key-value', got '%s'", config.Engine.APIKey)
	}
}

func TestLoadFromFile_Missing(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TROUPE_ENGINE_PROVIDER", "anthropic")
	t.Setenv("ANTHROPIC_API_KEY", "env-key")
	t.Setenv("TROUPE_ENGINE_MODEL", "claude-haiku")
	t.Setenv("TROUPE_MAX_SESSIONS", "32")
	t.Setenv("TROUPE_MAX_CONCURRENCY", "2")
	t.Setenv("TROUPE_STORE_DIR", "/tmp/env-store")
	t.Setenv("TROUPE_LOG_LEVEL", "trace")

	config := Default()
	applyEnvOverrides(config)

	if config.Engine.Provider != "anthropic" {
		t.Errorf("Provider = %s", config.Engine.Provider)
	}
	if config.Engine.APIKey != "env-key" {
		t.Errorf("APIKey = %s", config.Engine.APIKey)
	}
	if config.Engine.Model != "claude-haiku" {
		t.Errorf("Model = %s", config.Engine.Model)
	}
	if config.Orchestrator.MaxSessions != 32 {
		t.Errorf("MaxSessions = %d", config.Orchestrator.MaxSessions)
	}
	if config.Orchestrator.MaxConcurrency != 2 {
		t.Errorf("MaxConcurrency = %d", config.Orchestrator.MaxConcurrency)
	}
	if config.Store.Dir != "/tmp/env-store" {
		t.Errorf("Store.Dir = %s", config.Store.Dir)
	}
	if config.Logging.Level != "trace" {
		t.Errorf("Level = %s", config.Logging.Level)
	}
}

func TestEnvOverridesKeyGatedOnProvider(t *testing.T) {
	// An OpenAI key must not leak into an anthropic config.
	t.Setenv("TROUPE_ENGINE_PROVIDER", "anthropic")
	t.Setenv("OPENAI_API_KEY", "wrong-provider-key")

	config := Default()
	applyEnvOverrides(config)

	if config.Engine.APIKey == "wrong-provider-key" {
		t.Error("OPENAI_API_KEY applied to anthropic provider")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*TroupeConfig)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(c *TroupeConfig) {},
		},
		{
			name:    "negative max sessions",
			mutate:  func(c *TroupeConfig) { c.Orchestrator.MaxSessions = -1 },
			wantErr: "max_sessions",
		},
		{
			name:    "zero concurrency",
			mutate:  func(c *TroupeConfig) { c.Orchestrator.MaxConcurrency = 0 },
			wantErr: "max_concurrency",
		},
		{
			name:    "negative retries",
			mutate:  func(c *TroupeConfig) { c.Orchestrator.RetryAttempts = -1 },
			wantErr: "retry_attempts",
		},
		{
			name:    "negative grace period",
			mutate:  func(c *TroupeConfig) { c.Orchestrator.GracePeriod = -time.Second },
			wantErr: "grace_period",
		},
		{
			name:    "unknown provider",
			mutate:  func(c *TroupeConfig) { c.Engine.Provider = "psychic" },
			wantErr: "invalid provider",
		},
		{
			name:    "unknown log level",
			mutate:  func(c *TroupeConfig) { c.Logging.Level = "loud" },
			wantErr: "invalid log level",
		},
		{
			name:    "negative rate",
			mutate:  func(c *TroupeConfig) { c.Engine.RequestsPerMinute = -1 },
			wantErr: "requests_per_minute",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Default()
			tt.mutate(config)
			err := config.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("err = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestRedactedAPIKey(t *testing.T) {
	tests := []struct {
		name string
		key  string
		want string
	}{
		{"empty", "", ""},
		{"short", "short-key", "(set)"},
		{"long", "sk-ant-api03-abcdefgh1234", "sk-a...1234"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := EngineConfig{APIKey: tt.key}
			if got := cfg.RedactedAPIKey(); got != tt.want {
				t.Errorf("RedactedAPIKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStringRedactsKey(t *testing.T) {
	cfg := EngineConfig{Provider: "anthropic", APIKey: "sk-ant-api03-abcdefgh1234", Model: "m"}
	s := cfg.String()
	if strings.Contains(s, "abcdefgh") {
		t.Errorf("String() leaked the API key: %s", s)
	}
	if !strings.Contains(s, "anthropic") {
		t.Errorf("String() missing provider: %s", s)
	}
}
