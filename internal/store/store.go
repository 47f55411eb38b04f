// Package store provides durable storage for the simulation core: a
// per-session content-addressed completion cache and an ordered
// checkpoint log. Both are write-once: concurrent sessions never
// contend on the same key or sequence number.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/troupe-sim/troupe/internal/models"
)

// ErrNotFound is returned by Load for an unknown checkpoint id.
var ErrNotFound = errors.New("checkpoint not found")

// PersistenceError wraps an I/O or database failure. A failed checkpoint
// write surfaces as a PersistenceError and aborts only the checkpoint
// attempt, leaving the session active.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// SessionUsage summarizes what the store holds for one session: the
// footprint a session leaves behind after its process exits.
type SessionUsage struct {
	SessionID      string `json:"session_id"`
	CacheEntries   int    `json:"cache_entries"`
	Checkpoints    int    `json:"checkpoints"`
	LastCheckpoint string `json:"last_checkpoint,omitempty"`
}

// CacheStore memoizes completion-service calls, scoped per session.
// Absence of an entry never changes simulation outcome, only cost: a
// miss falls through to the completion service, and an unreadable entry
// is reported as a miss rather than an error.
type CacheStore interface {
	// Get returns the cached value for (sessionID, key), or ok=false on
	// a miss.
	Get(ctx context.Context, sessionID, key string) (value string, ok bool, err error)

	// Put records a completion under (sessionID, key). Re-putting the
	// same key is a no-op; values are content-addressed.
	Put(ctx context.Context, sessionID, key, value string) error

	// Count returns the number of entries in a session's partition.
	Count(ctx context.Context, sessionID string) (int, error)

	Close() error
}

// CheckpointStore persists ordered session snapshots. Sequence numbers
// are allocated by the orchestrator per session; the store enforces
// their uniqueness.
type CheckpointStore interface {
	// Save persists a snapshot under the given metadata. A duplicate
	// (sessionID, seq) pair is a *PersistenceError.
	Save(ctx context.Context, meta models.CheckpointMeta, snapshot []byte) error

	// Load returns the metadata and snapshot for a checkpoint id, or
	// ErrNotFound.
	Load(ctx context.Context, checkpointID string) (models.CheckpointMeta, []byte, error)

	// List returns a session's checkpoint metadata ordered by sequence
	// number.
	List(ctx context.Context, sessionID string) ([]models.CheckpointMeta, error)

	Close() error
}
