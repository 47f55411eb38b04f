// Package engine is the boundary to the two external collaborators: the
// persona behavior engine (turns an agent's memory plus a stimulus into
// the agent's next action) and the language-model completion service it
// runs on. It supports Anthropic and OpenAI-compatible backends (incl.
// Ollama), routes every completion through the session's cache store,
// and provides a configurable mock for testing.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/troupe-sim/troupe/internal/models"
)

var (
	// ErrRateLimited reports a completion rejected by the provider (or
	// the local provider budget). Retryable.
	ErrRateLimited = errors.New("completion rate limited")

	// ErrTimeout reports a completion call that exceeded its deadline.
	// Retryable.
	ErrTimeout = errors.New("completion timed out")
)

// EngineError wraps a behavior-engine failure with the operation and
// agent it occurred on. The scheduler treats any EngineError as a
// per-agent failure subject to the retry policy, never a session abort.
type EngineError struct {
	Op    string // "act" or "extract"
	Agent string
	Err   error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("engine %s for %s: %v", e.Op, e.Agent, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

// Params are the sampling parameters sent with each completion. They
// are part of the cache key: two calls with identical prompt and params
// are interchangeable.
type Params struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// Completer is the completion-service contract. Deadlines arrive via
// ctx; on expiry implementations return an error wrapping ErrTimeout.
type Completer interface {
	// Complete sends a rendered prompt and returns the completion text.
	Complete(ctx context.Context, prompt string, params Params) (string, error)

	// Available reports whether the completer is configured and ready
	// to handle requests.
	Available() bool
}

// ActRequest asks the behavior engine for an agent's next action.
type ActRequest struct {
	SessionID string
	Agent     string
	Template  models.PersonaTemplate
	Memory    []models.MemoryEvent
	Stimulus  string
}

// Action is the agent's response to a stimulus.
type Action struct {
	Content string
}

// ExtractRequest asks the behavior engine to pull declared fields out of
// an agent's final memory state.
type ExtractRequest struct {
	SessionID string
	Agent     string
	Template  models.PersonaTemplate
	Memory    []models.MemoryEvent
	Objective string
	Fields    []models.FieldSpec
}

// Engine is the persona behavior engine contract consumed by the round
// scheduler and the extraction pipeline.
type Engine interface {
	Act(ctx context.Context, req ActRequest) (Action, error)
	ExtractFields(ctx context.Context, req ExtractRequest) (map[string]any, error)
}

// ClientConfig configures a completion-service client.
type ClientConfig struct {
	// Provider identifies the backend: "anthropic", "openai", "ollama".
	Provider string `json:"provider" yaml:"provider"`

	// APIKey is the provider credential (not used for ollama). Supports
	// fallback to the provider's conventional environment variable.
	APIKey string `json:"api_key,omitempty" yaml:"api_key,omitempty"`

	// BaseURL overrides the API endpoint. Used for ollama or custom
	// OpenAI-compatible endpoints.
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`

	// Model is the model identifier for requests.
	Model string `json:"model,omitempty" yaml:"model,omitempty"`

	// Temperature and MaxTokens are the default sampling parameters.
	Temperature float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`

	// Timeout is the per-call deadline for the completion service.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// DefaultClientConfig returns a ClientConfig with sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Provider:    "anthropic",
		Temperature: 0.7,
		MaxTokens:   1024,
		Timeout:     30 * time.Second,
	}
}

// NewCompleter builds a Completer for the configured provider.
func NewCompleter(cfg ClientConfig) (Completer, error) {
	switch cfg.Provider {
	case "anthropic":
		return NewAnthropicCompleter(cfg), nil
	case "openai", "ollama":
		return NewOpenAICompleter(cfg), nil
	default:
		return nil, fmt.Errorf("unknown completion provider: %q", cfg.Provider)
	}
}
