package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MockCompleter is a configurable fake completion service for testing.
// Responses are matched by substring against the prompt; the zero state
// echoes a canned reply.
type MockCompleter struct {
	mu        sync.Mutex
	responses map[string]string // prompt substring -> response
	fallback  string
	err       error
	available bool
	calls     []string // prompts, in call order
}

// NewMockCompleter creates an available mock with a default reply.
func NewMockCompleter() *MockCompleter {
	return &MockCompleter{
		responses: make(map[string]string),
		fallback:  "ok",
		available: true,
	}
}

// WithResponse returns the reply for any prompt containing substr.
func (m *MockCompleter) WithResponse(substr, reply string) *MockCompleter {
	m.responses[substr] = reply
	return m
}

// WithFallback sets the reply used when no substring matches.
func (m *MockCompleter) WithFallback(reply string) *MockCompleter {
	m.fallback = reply
	return m
}

// WithError makes every Complete call fail with err.
func (m *MockCompleter) WithError(err error) *MockCompleter {
	m.err = err
	return m
}

// WithAvailable sets the Available result.
func (m *MockCompleter) WithAvailable(available bool) *MockCompleter {
	m.available = available
	return m
}

// Complete records the call and returns the configured response.
func (m *MockCompleter) Complete(_ context.Context, prompt string, _ Params) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, prompt)
	if m.err != nil {
		return "", m.err
	}
	for substr, reply := range m.responses {
		if strings.Contains(prompt, substr) {
			return reply, nil
		}
	}
	return m.fallback, nil
}

// Available returns the configured availability.
func (m *MockCompleter) Available() bool { return m.available }

// CallCount returns how many times Complete was invoked.
func (m *MockCompleter) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Calls returns the prompts seen so far, in order.
func (m *MockCompleter) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]string, len(m.calls))
	copy(cp, m.calls)
	return cp
}

// MockEngine is a scripted behavior engine for scheduler and controller
// tests. Per-agent failures can be injected, optionally for a limited
// number of attempts to exercise retry paths.
type MockEngine struct {
	mu         sync.Mutex
	actFunc    func(req ActRequest) (Action, error)
	fieldsFunc func(req ExtractRequest) (map[string]any, error)
	failures   map[string]*failurePlan // agent name -> plan
	actCalls   []ActRequest
}

type failurePlan struct {
	err       error
	remaining int // -1 = fail forever
}

// NewMockEngine creates an engine whose default action echoes the
// stimulus back with the agent's name.
func NewMockEngine() *MockEngine {
	return &MockEngine{failures: make(map[string]*failurePlan)}
}

// WithActFunc overrides action generation.
func (m *MockEngine) WithActFunc(fn func(req ActRequest) (Action, error)) *MockEngine {
	m.actFunc = fn
	return m
}

// WithFieldsFunc overrides field extraction.
func (m *MockEngine) WithFieldsFunc(fn func(req ExtractRequest) (map[string]any, error)) *MockEngine {
	m.fieldsFunc = fn
	return m
}

// WithAgentError makes Act fail for the named agent on every attempt.
func (m *MockEngine) WithAgentError(agent string, err error) *MockEngine {
	m.failures[agent] = &failurePlan{err: err, remaining: -1}
	return m
}

// WithAgentErrorN makes Act fail for the named agent n times, then
// succeed. Used to exercise the retry policy.
func (m *MockEngine) WithAgentErrorN(agent string, err error, n int) *MockEngine {
	m.failures[agent] = &failurePlan{err: err, remaining: n}
	return m
}

// Act returns the scripted action, consuming any planned failure first.
func (m *MockEngine) Act(_ context.Context, req ActRequest) (Action, error) {
	m.mu.Lock()
	m.actCalls = append(m.actCalls, req)
	plan := m.failures[req.Agent]
	var planErr error
	if plan != nil && plan.remaining != 0 {
		if plan.remaining > 0 {
			plan.remaining--
		}
		planErr = plan.err
	}
	actFunc := m.actFunc
	m.mu.Unlock()

	if planErr != nil {
		return Action{}, &EngineError{Op: "act", Agent: req.Agent, Err: planErr}
	}
	if actFunc != nil {
		return actFunc(req)
	}
	return Action{Content: fmt.Sprintf("%s responds to %q", req.Agent, req.Stimulus)}, nil
}

// ExtractFields returns the scripted fields, or an empty map.
func (m *MockEngine) ExtractFields(_ context.Context, req ExtractRequest) (map[string]any, error) {
	m.mu.Lock()
	fieldsFunc := m.fieldsFunc
	plan := m.failures[req.Agent]
	var planErr error
	if plan != nil && plan.remaining != 0 {
		if plan.remaining > 0 {
			plan.remaining--
		}
		planErr = plan.err
	}
	m.mu.Unlock()

	if planErr != nil {
		return nil, &EngineError{Op: "extract", Agent: req.Agent, Err: planErr}
	}
	if fieldsFunc != nil {
		return fieldsFunc(req)
	}
	return map[string]any{}, nil
}

// ActCalls returns the Act requests seen so far, in call order.
func (m *MockEngine) ActCalls() []ActRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]ActRequest, len(m.actCalls))
	copy(cp, m.actCalls)
	return cp
}
