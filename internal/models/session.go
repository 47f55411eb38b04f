// Package models defines the core domain types shared across the
// orchestrator, scheduler, stores, and extraction pipeline.
package models

import "time"

// SessionState is the lifecycle state of a simulation session.
type SessionState string

const (
	// SessionActive accepts agent loads, rounds, and checkpoints.
	SessionActive SessionState = "active"
	// SessionCheckpointing is the quiescence window: new rounds queue
	// until the snapshot is written.
	SessionCheckpointing SessionState = "checkpointing"
	// SessionEnded has released its in-memory resources. Checkpoints
	// remain queryable.
	SessionEnded SessionState = "ended"
	// SessionFailed violated an internal invariant and needs a Restore
	// (or EndSession) to proceed.
	SessionFailed SessionState = "failed"
)

// SessionInfo is the read-only view of a session returned by
// introspection calls.
type SessionInfo struct {
	ID              string       `json:"id"`
	Name            string       `json:"name,omitempty"`
	State           SessionState `json:"state"`
	CreatedAt       time.Time    `json:"created_at"`
	RoundCounter    int          `json:"round_counter"`
	AgentCount      int          `json:"agent_count"`
	CheckpointCount int          `json:"checkpoint_count"`
	CacheEntries    int          `json:"cache_entries,omitempty"`
}

// SessionConfig carries per-session options supplied at BeginSession.
type SessionConfig struct {
	// Name is an optional human-readable label.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`
}

// CheckpointMeta describes one checkpoint without its snapshot payload.
// Checkpoints for a session form a total order by Seq.
type CheckpointMeta struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Seq       int       `json:"seq"`
	Label     string    `json:"label,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
