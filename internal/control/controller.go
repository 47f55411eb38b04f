// Package control is the orchestration core: it owns the session table,
// enforces the session lifecycle and quiescence protocol, and routes
// rounds, checkpoints, restores, and extractions to the packages that
// execute them. Every public method is safe for concurrent use; sessions
// never share mutable state, so operations on different sessions run in
// parallel without coordination.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/troupe-sim/troupe/internal/engine"
	"github.com/troupe-sim/troupe/internal/extraction"
	"github.com/troupe-sim/troupe/internal/logging"
	"github.com/troupe-sim/troupe/internal/models"
	"github.com/troupe-sim/troupe/internal/round"
	"github.com/troupe-sim/troupe/internal/store"
)

// Options configures a Controller.
type Options struct {
	// MaxSessions caps live (active or checkpointing) sessions. Zero
	// means unlimited.
	MaxSessions int

	// GracePeriod bounds how long EndSession waits for in-flight work
	// to drain after cancellation.
	GracePeriod time.Duration

	// Round is the scheduling policy applied to every session's rounds.
	Round round.Policy

	Logger *slog.Logger
	Trace  *logging.TraceLogger
}

// Controller orchestrates concurrent simulation sessions over shared
// stores and one behavior engine.
type Controller struct {
	mu       sync.Mutex
	sessions map[string]*session

	opts        Options
	scheduler   *round.Scheduler
	pipeline    *extraction.Pipeline
	cache       store.CacheStore
	checkpoints store.CheckpointStore
	log         *slog.Logger
	trace       *logging.TraceLogger
}

// New creates a controller on the given engine and stores.
func New(eng engine.Engine, cache store.CacheStore, checkpoints store.CheckpointStore, opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = 10 * time.Second
	}
	return &Controller{
		sessions:    make(map[string]*session),
		opts:        opts,
		scheduler:   round.NewScheduler(eng, opts.Round, opts.Logger, opts.Trace),
		pipeline:    extraction.NewPipeline(eng, opts.Logger),
		cache:       cache,
		checkpoints: checkpoints,
		log:         opts.Logger,
		trace:       opts.Trace,
	}
}

// BeginSession creates a new isolated session. The session cap counts
// only live sessions, so ended and failed sessions never starve new
// work. A non-empty name must be unique among live sessions.
func (c *Controller) BeginSession(_ context.Context, cfg models.SessionConfig) (models.SessionInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	live := 0
	for _, s := range c.sessions {
		if !s.live() {
			continue
		}
		live++
		if cfg.Name != "" && s.name == cfg.Name {
			return models.SessionInfo{}, fmt.Errorf("%w: %q", ErrNameConflict, cfg.Name)
		}
	}
	if c.opts.MaxSessions > 0 && live >= c.opts.MaxSessions {
		return models.SessionInfo{}, fmt.Errorf("%w: %d live sessions", ErrResourceExhausted, live)
	}

	sess := newSession(uuid.NewString(), cfg.Name)
	c.sessions[sess.id] = sess

	c.log.Info("session started", "session", sess.id, "name", sess.name)
	c.trace.Log(map[string]any{"event": "begin_session", "session": sess.id, "name": sess.name})
	return sess.info(), nil
}

// LoadAgent instantiates a persona template into the session. Loads
// queue behind an in-progress checkpoint like any other work.
func (c *Controller) LoadAgent(ctx context.Context, sessionID string, tmpl models.PersonaTemplate) (models.AgentInstance, error) {
	sess, err := c.get(sessionID)
	if err != nil {
		return models.AgentInstance{}, err
	}
	if err := sess.beginWork(ctx); err != nil {
		return models.AgentInstance{}, err
	}
	defer sess.endWork()

	agent, err := sess.reg.Load(tmpl)
	if err != nil {
		return models.AgentInstance{}, err
	}

	c.log.Debug("agent loaded", "session", sessionID, "agent", agent.Name)
	c.trace.Log(map[string]any{"event": "load_agent", "session": sessionID, "agent": agent.Name})
	return agent, nil
}

// RunRound broadcasts a stimulus to the session's agents and collects
// their actions. With no participants given the stimulus goes to every
// agent; naming participants restricts the broadcast to that subset (an
// unknown name is an error and leaves the session untouched). Rounds
// within one session run strictly one at a time and carry consecutive
// round numbers; rounds in different sessions proceed independently. A
// failed turn is recorded in that agent's memory and does not fail the
// round.
func (c *Controller) RunRound(ctx context.Context, sessionID, stimulus string, participants ...string) (models.RoundResult, error) {
	sess, err := c.get(sessionID)
	if err != nil {
		return models.RoundResult{}, err
	}

	sess.roundMu.Lock()
	defer sess.roundMu.Unlock()

	if err := sess.beginWork(ctx); err != nil {
		return models.RoundResult{}, err
	}
	defer sess.endWork()

	// Resolve the subset before any work starts so a bad name cannot
	// fail the session.
	var only []string
	if len(participants) > 0 {
		only, err = sess.reg.Subset(participants)
		if err != nil {
			return models.RoundResult{}, err
		}
	}

	sess.mu.Lock()
	roundNum := sess.roundCounter + 1
	sess.mu.Unlock()

	// The round stops early if either the caller gives up or the
	// session is ended underneath it.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(sess.ctx, cancel)
	defer stop()

	result, err := c.scheduler.Run(runCtx, sessionID, roundNum, stimulus, only, sess.reg)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return result, err
		}
		// Results could not be applied consistently; the session needs
		// a Restore (or EndSession) before it can continue.
		sess.mu.Lock()
		sess.state = models.SessionFailed
		sess.cond.Broadcast()
		sess.mu.Unlock()
		c.log.Error("session failed", "session", sessionID, "round", roundNum, "error", err)
		return result, err
	}

	sess.mu.Lock()
	sess.roundCounter = roundNum
	sess.mu.Unlock()
	return result, nil
}

// Checkpoint quiesces the session and persists a content-complete
// snapshot with the next sequence number. On persistence failure the
// checkpoint is aborted whole: no partial state is written and the
// session returns to Active.
func (c *Controller) Checkpoint(ctx context.Context, sessionID, label string) (models.CheckpointMeta, error) {
	sess, err := c.get(sessionID)
	if err != nil {
		return models.CheckpointMeta{}, err
	}

	sess.mu.Lock()
	if sess.state != models.SessionActive {
		state := sess.state
		sess.mu.Unlock()
		return models.CheckpointMeta{}, fmt.Errorf("%w: session %s is %s", ErrInvalidState, sessionID, state)
	}
	sess.state = models.SessionCheckpointing

	if err := sess.quiesce(ctx); err != nil {
		sess.state = models.SessionActive
		sess.cond.Broadcast()
		sess.mu.Unlock()
		return models.CheckpointMeta{}, fmt.Errorf("waiting for quiescence: %w", err)
	}
	// EndSession may have claimed the session while we waited.
	if sess.state != models.SessionCheckpointing {
		state := sess.state
		sess.mu.Unlock()
		return models.CheckpointMeta{}, fmt.Errorf("%w: session %s is %s", ErrInvalidState, sessionID, state)
	}

	snap := models.NewSnapshot(sess.roundCounter, sess.reg.All())
	seq := sess.checkpointSeq + 1
	sess.mu.Unlock()

	meta := models.CheckpointMeta{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Seq:       seq,
		Label:     label,
		CreatedAt: time.Now().UTC(),
	}

	data, encErr := snap.Encode()
	var saveErr error
	if encErr == nil {
		saveErr = c.checkpoints.Save(ctx, meta, data)
	}

	sess.mu.Lock()
	if sess.state == models.SessionCheckpointing {
		sess.state = models.SessionActive
	}
	if encErr == nil && saveErr == nil {
		sess.checkpointSeq = seq
	}
	sess.cond.Broadcast()
	sess.mu.Unlock()

	if encErr != nil {
		return models.CheckpointMeta{}, encErr
	}
	if saveErr != nil {
		return models.CheckpointMeta{}, saveErr
	}

	c.log.Info("checkpoint written", "session", sessionID, "seq", seq, "label", label)
	c.trace.Log(map[string]any{
		"event": "checkpoint", "session": sessionID, "checkpoint": meta.ID, "seq": seq,
	})
	return meta, nil
}

// Restore replaces the session's live state with a previously written
// checkpoint. Allowed from Active and from Failed, which is the
// recovery path after a failed round. The completion cache is not
// rolled back: entries are content-addressed, so replaying restored
// rounds hits the cache instead of the completion service.
func (c *Controller) Restore(ctx context.Context, sessionID, checkpointID string) (models.SessionInfo, error) {
	sess, err := c.get(sessionID)
	if err != nil {
		return models.SessionInfo{}, err
	}

	sess.mu.Lock()
	prev := sess.state
	if prev != models.SessionActive && prev != models.SessionFailed {
		sess.mu.Unlock()
		return models.SessionInfo{}, fmt.Errorf("%w: session %s is %s", ErrInvalidState, sessionID, prev)
	}
	sess.state = models.SessionCheckpointing

	if err := sess.quiesce(ctx); err != nil {
		sess.state = prev
		sess.cond.Broadcast()
		sess.mu.Unlock()
		return models.SessionInfo{}, fmt.Errorf("waiting for quiescence: %w", err)
	}
	if sess.state != models.SessionCheckpointing {
		state := sess.state
		sess.mu.Unlock()
		return models.SessionInfo{}, fmt.Errorf("%w: session %s is %s", ErrInvalidState, sessionID, state)
	}
	sess.mu.Unlock()

	meta, data, loadErr := c.checkpoints.Load(ctx, checkpointID)
	var snap models.Snapshot
	if loadErr == nil {
		if meta.SessionID != sessionID {
			loadErr = fmt.Errorf("%w: %s belongs to session %s", ErrCheckpointNotFound, checkpointID, meta.SessionID)
		} else {
			snap, loadErr = models.DecodeSnapshot(data)
		}
	} else if errors.Is(loadErr, store.ErrNotFound) {
		loadErr = fmt.Errorf("%w: %s", ErrCheckpointNotFound, checkpointID)
	}

	sess.mu.Lock()
	defer func() {
		sess.cond.Broadcast()
		sess.mu.Unlock()
	}()

	// EndSession may have claimed the session while the checkpoint was
	// loading; an ended session must stay ended.
	if sess.state != models.SessionCheckpointing {
		state := sess.state
		return models.SessionInfo{}, fmt.Errorf("%w: session %s is %s", ErrInvalidState, sessionID, state)
	}

	if loadErr != nil {
		// Nothing was touched; the session keeps its previous state.
		sess.state = prev
		return models.SessionInfo{}, loadErr
	}

	sess.reg.Replace(snap.Agents)
	sess.roundCounter = snap.RoundCounter
	sess.state = models.SessionActive

	c.log.Info("session restored",
		"session", sessionID, "checkpoint", checkpointID, "seq", meta.Seq, "round", snap.RoundCounter)
	c.trace.Log(map[string]any{
		"event": "restore", "session": sessionID, "checkpoint": checkpointID, "seq": meta.Seq,
	})

	return models.SessionInfo{
		ID:           sess.id,
		Name:         sess.name,
		State:        sess.state,
		CreatedAt:    sess.createdAt,
		RoundCounter: sess.roundCounter,
		AgentCount:   sess.reg.Len(),
	}, nil
}

// EndSession terminates the session: in-flight work is canceled and
// given the grace period to drain, agents are retired, and the session
// stops counting against the cap. Checkpoints written by the session
// remain queryable and restorable-from for extraction. Ending an ended
// session is an error.
func (c *Controller) EndSession(ctx context.Context, sessionID string) (models.SessionInfo, error) {
	sess, err := c.get(sessionID)
	if err != nil {
		return models.SessionInfo{}, err
	}

	sess.mu.Lock()
	if sess.state == models.SessionEnded {
		sess.mu.Unlock()
		return models.SessionInfo{}, fmt.Errorf("%w: session %s already ended", ErrInvalidState, sessionID)
	}
	sess.state = models.SessionEnded
	sess.cond.Broadcast()
	sess.mu.Unlock()

	// Cancel in-flight engine calls, then give them the grace period to
	// unwind before declaring the session done.
	sess.cancel()

	graceCtx, cancel := context.WithTimeout(ctx, c.opts.GracePeriod)
	defer cancel()

	sess.mu.Lock()
	if err := sess.quiesce(graceCtx); err != nil {
		c.log.Warn("session ended with work still in flight",
			"session", sessionID, "in_flight", sess.inFlight)
	}
	sess.mu.Unlock()

	sess.reg.RetireAll()

	c.log.Info("session ended", "session", sessionID)
	c.trace.Log(map[string]any{"event": "end_session", "session": sessionID})
	return sess.info(), nil
}

// Extract runs an extraction job over the session's current agent
// population. Allowed on Active sessions (the job counts as in-flight
// work, so it never overlaps a checkpoint) and on Ended sessions, whose
// retired agents keep their final memory.
func (c *Controller) Extract(ctx context.Context, sessionID string, job models.ExtractionJob) (models.ExtractionResult, error) {
	sess, err := c.get(sessionID)
	if err != nil {
		return models.ExtractionResult{}, err
	}

	sess.mu.Lock()
	state := sess.state
	sess.mu.Unlock()

	if state != models.SessionEnded {
		if err := sess.beginWork(ctx); err != nil {
			return models.ExtractionResult{}, err
		}
		defer sess.endWork()
	}

	return c.pipeline.Run(ctx, job, sessionID, sess.reg.All())
}

// ExtractCheckpoint runs an extraction job over the population captured
// in a checkpoint, without touching the session's live state. Works even
// after the session has ended.
func (c *Controller) ExtractCheckpoint(ctx context.Context, sessionID, checkpointID string, job models.ExtractionJob) (models.ExtractionResult, error) {
	meta, data, err := c.checkpoints.Load(ctx, checkpointID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.ExtractionResult{}, fmt.Errorf("%w: %s", ErrCheckpointNotFound, checkpointID)
		}
		return models.ExtractionResult{}, err
	}
	if meta.SessionID != sessionID {
		return models.ExtractionResult{}, fmt.Errorf("%w: %s belongs to session %s", ErrCheckpointNotFound, checkpointID, meta.SessionID)
	}

	snap, err := models.DecodeSnapshot(data)
	if err != nil {
		return models.ExtractionResult{}, err
	}

	return c.pipeline.Run(ctx, job, sessionID, snap.Agents)
}

// GetSession returns the introspection view of a session, including its
// checkpoint and cache entry counts.
func (c *Controller) GetSession(ctx context.Context, sessionID string) (models.SessionInfo, error) {
	sess, err := c.get(sessionID)
	if err != nil {
		return models.SessionInfo{}, err
	}

	info := sess.info()
	if metas, err := c.checkpoints.List(ctx, sessionID); err == nil {
		info.CheckpointCount = len(metas)
	}
	if c.cache != nil {
		if n, err := c.cache.Count(ctx, sessionID); err == nil {
			info.CacheEntries = n
		}
	}
	return info, nil
}

// ListSessions returns every known session, live or not, sorted by
// creation time.
func (c *Controller) ListSessions(_ context.Context) []models.SessionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	infos := make([]models.SessionInfo, 0, len(c.sessions))
	for _, s := range c.sessions {
		infos = append(infos, s.info())
	}
	sortSessionInfos(infos)
	return infos
}

// ListCheckpoints returns the session's checkpoints in sequence order.
func (c *Controller) ListCheckpoints(ctx context.Context, sessionID string) ([]models.CheckpointMeta, error) {
	if _, err := c.get(sessionID); err != nil {
		return nil, err
	}
	return c.checkpoints.List(ctx, sessionID)
}

func sortSessionInfos(infos []models.SessionInfo) {
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
}

func (c *Controller) get(sessionID string) (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, ok := c.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return sess, nil
}
