package control

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/troupe-sim/troupe/internal/models"
	"github.com/troupe-sim/troupe/internal/registry"
)

// session is the in-memory runtime of one simulation session. Lifecycle
// state, the in-flight counter, and the checkpoint sequence all live
// under mu; the quiescence protocol waits on cond for the counter to
// drain. roundMu serializes rounds within the session so round numbers
// form a strict sequence.
type session struct {
	id        string
	name      string
	createdAt time.Time
	reg       *registry.Registry

	// ctx is canceled at EndSession so in-flight engine calls stop
	// promptly instead of running out the clock.
	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	cond          *sync.Cond
	state         models.SessionState
	inFlight      int
	roundCounter  int
	checkpointSeq int

	roundMu sync.Mutex
}

func newSession(id, name string) *session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &session{
		id:        id,
		name:      name,
		createdAt: time.Now().UTC(),
		reg:       registry.New(id),
		ctx:       ctx,
		cancel:    cancel,
		state:     models.SessionActive,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// beginWork registers an in-flight unit of work. Work arriving during a
// Checkpointing window queues until the session returns to Active, so a
// snapshot never interleaves with a round. Ended and Failed sessions
// reject new work outright.
func (s *session) beginWork(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer stop()

	for s.state == models.SessionCheckpointing {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.cond.Wait()
	}
	if s.state != models.SessionActive {
		return fmt.Errorf("%w: session %s is %s", ErrInvalidState, s.id, s.state)
	}
	s.inFlight++
	return nil
}

// endWork retires an in-flight unit and wakes any quiescence waiter.
func (s *session) endWork() {
	s.mu.Lock()
	s.inFlight--
	s.cond.Broadcast()
	s.mu.Unlock()
}

// quiesce waits under mu for in-flight work to drain. The caller must
// hold mu and must already have moved the session out of Active so no
// new work can start. Returns ctx's error if it expires first.
func (s *session) quiesce(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer stop()

	for s.inFlight > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.cond.Wait()
	}
	return nil
}

// info builds the introspection view. Checkpoint and cache counts are
// filled in by the controller.
func (s *session) info() models.SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	return models.SessionInfo{
		ID:           s.id,
		Name:         s.name,
		State:        s.state,
		CreatedAt:    s.createdAt,
		RoundCounter: s.roundCounter,
		AgentCount:   s.reg.Len(),
	}
}

// live reports whether the session still counts against the session cap
// and holds its name.
func (s *session) live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == models.SessionActive || s.state == models.SessionCheckpointing
}
