package models

import (
	"encoding/json"
	"fmt"
)

// snapshotVersion guards against decoding snapshots written by an
// incompatible build.
const snapshotVersion = 1

// Snapshot is the content-complete serialized state of a session:
// the full agent set plus the round counter. The cache is not part of a
// snapshot; entries are content-addressed and remain valid across
// restores.
type Snapshot struct {
	Version      int             `json:"version"`
	RoundCounter int             `json:"round_counter"`
	Agents       []AgentInstance `json:"agents"`
}

// NewSnapshot builds a snapshot from deep copies of the given agents.
// Agent order is preserved: it records registration order, and a
// restore replays rounds in that same order.
func NewSnapshot(roundCounter int, agents []AgentInstance) Snapshot {
	cp := make([]AgentInstance, len(agents))
	for i, a := range agents {
		cp[i] = a.Clone()
	}
	return Snapshot{Version: snapshotVersion, RoundCounter: roundCounter, Agents: cp}
}

// Encode serializes the snapshot to JSON.
func (s Snapshot) Encode() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}
	return data, nil
}

// DecodeSnapshot parses a serialized snapshot and checks its version.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("decoding snapshot: %w", err)
	}
	if s.Version != snapshotVersion {
		return Snapshot{}, fmt.Errorf("unsupported snapshot version: %d", s.Version)
	}
	return s, nil
}
