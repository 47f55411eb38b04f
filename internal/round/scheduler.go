// Package round runs simulation rounds: it broadcasts a stimulus to
// every agent in a session, fans the act calls out under a concurrency
// bound, retries transient failures, and applies the results to agent
// memory in a deterministic order.
package round

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/troupe-sim/troupe/internal/engine"
	"github.com/troupe-sim/troupe/internal/logging"
	"github.com/troupe-sim/troupe/internal/models"
	"github.com/troupe-sim/troupe/internal/registry"
)

// Policy bounds one round's scheduling behavior.
type Policy struct {
	// MaxConcurrency caps in-flight act calls. Values below 1 are
	// treated as 1.
	MaxConcurrency int

	// RetryAttempts is how many retries a failed act call gets before
	// the turn is recorded as failed. Zero means no retries.
	RetryAttempts int

	// RetryBackoff is the delay before the first retry; it doubles on
	// each subsequent attempt.
	RetryBackoff time.Duration
}

// Scheduler executes rounds against a behavior engine. One scheduler is
// shared by all sessions; per-round state lives on the stack.
type Scheduler struct {
	engine engine.Engine
	policy Policy
	log    *slog.Logger
	trace  *logging.TraceLogger

	// sleep is the retry delay hook, injectable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewScheduler creates a scheduler with the given policy.
func NewScheduler(eng engine.Engine, policy Policy, log *slog.Logger, trace *logging.TraceLogger) *Scheduler {
	if policy.MaxConcurrency < 1 {
		policy.MaxConcurrency = 1
	}
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		engine: eng,
		policy: policy,
		log:    log,
		trace:  trace,
		sleep:  sleepCtx,
	}
}

// turnOutcome is one agent's result, indexed by participant position so
// collection order never affects application order.
type turnOutcome struct {
	action   engine.Action
	err      error
	attempts int
}

// Run executes one round for the session: each participating agent
// receives the stimulus and produces at most one action. A nil
// participants slice means every registered agent; a non-nil slice
// restricts the broadcast to those agents, in registration order. Act
// calls run concurrently under the policy's bound, but results are
// applied to agent memory strictly in registration order, so a round's
// outcome is independent of goroutine scheduling. A failed turn gets a
// failure event in that agent's memory and leaves every other agent
// untouched.
//
// The returned RoundResult covers all participants even when ctx is
// canceled mid-round; in that case the error reports the cancellation,
// unstarted turns are recorded as failed, and no agent memory is
// mutated. Once memory has been mutated the round is committed and
// Run returns nil even if ctx expires afterwards.
func (s *Scheduler) Run(ctx context.Context, sessionID string, roundNum int, stimulus string, participants []string, reg *registry.Registry) (models.RoundResult, error) {
	if participants == nil {
		participants = reg.Names()
	} else {
		var err error
		participants, err = reg.Subset(participants)
		if err != nil {
			return models.RoundResult{Round: roundNum, Stimulus: stimulus}, err
		}
	}
	result := models.RoundResult{
		Round:    roundNum,
		Stimulus: stimulus,
		Turns:    make([]models.TurnResult, len(participants)),
	}

	s.log.Debug("round start",
		"session", sessionID, "round", roundNum, "agents", len(participants))
	s.trace.Log(map[string]any{
		"event": "round_start", "session": sessionID,
		"round": roundNum, "agents": len(participants),
	})

	outcomes := make([]turnOutcome, len(participants))
	sem := make(chan struct{}, s.policy.MaxConcurrency)
	done := make(chan int)

	for i, name := range participants {
		go func(i int, name string) {
			defer func() { done <- i }()

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				outcomes[i] = turnOutcome{err: ctx.Err()}
				return
			}
			defer func() { <-sem }()

			memory, err := reg.Memory(name)
			if err != nil {
				outcomes[i] = turnOutcome{err: err, attempts: 1}
				return
			}
			agent, err := reg.Get(name)
			if err != nil {
				outcomes[i] = turnOutcome{err: err, attempts: 1}
				return
			}

			outcomes[i] = s.actWithRetry(ctx, engine.ActRequest{
				SessionID: sessionID,
				Agent:     name,
				Template:  agent.Template,
				Memory:    memory,
				Stimulus:  stimulus,
			})
		}(i, name)
	}
	for range participants {
		<-done
	}

	// A canceled round mutates no memory: the controller does not count
	// it, so the next attempt reuses the round number against unchanged
	// logs and the cache replays any completions that did land. Turns
	// are still reported so the caller can see how far the round got.
	if err := ctx.Err(); err != nil {
		for i, name := range participants {
			result.Turns[i] = turnResult(name, outcomes[i])
		}
		s.log.Warn("round canceled",
			"session", sessionID, "round", roundNum, "error", err)
		s.trace.Log(map[string]any{
			"event": "round_canceled", "session": sessionID, "round": roundNum,
		})
		return result, err
	}

	// Apply results in registration order. Each turn appends the
	// stimulus and then the action (or a failure marker) to the agent's
	// memory, so all participants see the same event sequence numbers
	// for the same round regardless of completion order.
	for i, name := range participants {
		out := outcomes[i]
		turn := turnResult(name, out)

		events := []models.MemoryEvent{
			{Round: roundNum, Seq: 0, Kind: models.EventStimulus, Content: stimulus},
		}
		if out.err != nil {
			events = append(events, models.MemoryEvent{
				Round: roundNum, Seq: 1, Kind: models.EventFailure, Content: out.err.Error(),
			})
			s.log.Warn("turn failed",
				"session", sessionID, "round", roundNum,
				"agent", name, "attempts", out.attempts, "error", out.err)
		} else {
			events = append(events, models.MemoryEvent{
				Round: roundNum, Seq: 1, Kind: models.EventAction, Content: out.action.Content,
			})
		}

		if err := reg.Append(name, events...); err != nil {
			return result, err
		}
		result.Turns[i] = turn

		s.trace.Log(map[string]any{
			"event": "turn", "session": sessionID, "round": roundNum,
			"agent": name, "status": string(turn.Status), "attempts": out.attempts,
		})
	}

	s.log.Debug("round done",
		"session", sessionID, "round", roundNum, "failed", result.FailedTurns())
	s.trace.Log(map[string]any{
		"event": "round_done", "session": sessionID,
		"round": roundNum, "failed": result.FailedTurns(),
	})

	return result, nil
}

// turnResult converts an outcome into the reported turn.
func turnResult(name string, out turnOutcome) models.TurnResult {
	turn := models.TurnResult{Agent: name, Attempts: out.attempts}
	if out.err != nil {
		turn.Status = models.TurnFailed
		turn.Error = out.err.Error()
		return turn
	}
	turn.Status = models.TurnOK
	turn.Action = out.action.Content
	return turn
}

// actWithRetry runs one act call with the retry policy. Backoff doubles
// per attempt. Cancellation stops retrying immediately.
func (s *Scheduler) actWithRetry(ctx context.Context, req engine.ActRequest) turnOutcome {
	backoff := s.policy.RetryBackoff
	var lastErr error

	for attempt := 1; attempt <= s.policy.RetryAttempts+1; attempt++ {
		action, err := s.engine.Act(ctx, req)
		if err == nil {
			return turnOutcome{action: action, attempts: attempt}
		}
		lastErr = err

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return turnOutcome{err: lastErr, attempts: attempt}
		}
		if attempt <= s.policy.RetryAttempts {
			if err := s.sleep(ctx, backoff); err != nil {
				return turnOutcome{err: lastErr, attempts: attempt}
			}
			backoff *= 2
		}
	}
	return turnOutcome{err: lastErr, attempts: s.policy.RetryAttempts + 1}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
