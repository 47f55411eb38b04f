package engine

import (
	"context"
	"log/slog"

	"github.com/troupe-sim/troupe/internal/ratelimit"
	"github.com/troupe-sim/troupe/internal/store"
)

// LLMEngine is the production behavior engine: it renders prompts from
// agent state, memoizes completions in the session's cache partition,
// and enforces a local provider budget before each outbound call.
type LLMEngine struct {
	completer Completer
	cache     store.CacheStore
	limiter   *ratelimit.Limiter
	provider  string
	params    Params
	log       *slog.Logger
}

// Option configures an LLMEngine.
type Option func(*LLMEngine)

// WithCache routes completions through the given cache store.
func WithCache(cache store.CacheStore) Option {
	return func(e *LLMEngine) { e.cache = cache }
}

// WithLimiter applies a local token budget, keyed by provider, before
// each outbound completion.
func WithLimiter(limiter *ratelimit.Limiter) Option {
	return func(e *LLMEngine) { e.limiter = limiter }
}

// WithLogger sets the engine's logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *LLMEngine) { e.log = log }
}

// NewLLMEngine creates an engine on the given completer. Without a cache
// option every call goes to the completion service.
func NewLLMEngine(completer Completer, provider string, params Params, opts ...Option) *LLMEngine {
	e := &LLMEngine{
		completer: completer,
		provider:  provider,
		params:    params,
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Act produces the agent's next action for a stimulus. The completion is
// looked up in the session's cache partition first; a hit returns the
// recorded action without touching the completion service, which is what
// makes warm replays deterministic and free.
func (e *LLMEngine) Act(ctx context.Context, req ActRequest) (Action, error) {
	prompt := ActPrompt(req)
	text, err := e.complete(ctx, req.SessionID, req.Agent, "act", prompt)
	if err != nil {
		return Action{}, err
	}
	return Action{Content: text}, nil
}

// ExtractFields pulls the declared fields out of an agent's history.
// Extraction completions share the session cache, so re-running an
// extraction against unchanged history is free.
func (e *LLMEngine) ExtractFields(ctx context.Context, req ExtractRequest) (map[string]any, error) {
	prompt := ExtractPrompt(req)
	text, err := e.complete(ctx, req.SessionID, req.Agent, "extract", prompt)
	if err != nil {
		return nil, err
	}

	fields, err := ParseFieldResponse(text)
	if err != nil {
		return nil, &EngineError{Op: "extract", Agent: req.Agent, Err: err}
	}
	return fields, nil
}

func (e *LLMEngine) complete(ctx context.Context, sessionID, agent, op, prompt string) (string, error) {
	key := CacheKey(prompt, e.params)

	if e.cache != nil {
		value, ok, err := e.cache.Get(ctx, sessionID, key)
		if err != nil {
			// Cache trouble is never fatal to the turn.
			e.log.Warn("cache lookup failed", "session", sessionID, "agent", agent, "error", err)
		} else if ok {
			e.log.Debug("cache hit", "session", sessionID, "agent", agent, "op", op)
			return value, nil
		}
	}

	if e.limiter != nil && !e.limiter.Allow(e.provider) {
		return "", &EngineError{Op: op, Agent: agent, Err: ErrRateLimited}
	}

	text, err := e.completer.Complete(ctx, prompt, e.params)
	if err != nil {
		return "", &EngineError{Op: op, Agent: agent, Err: err}
	}

	if e.cache != nil {
		if err := e.cache.Put(ctx, sessionID, key, text); err != nil {
			e.log.Warn("cache write failed", "session", sessionID, "agent", agent, "error", err)
		}
	}
	return text, nil
}
