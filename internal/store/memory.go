package store

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/troupe-sim/troupe/internal/models"
)

// MemoryCacheStore implements CacheStore in memory, for tests and
// cache-less runs.
type MemoryCacheStore struct {
	mu      sync.RWMutex
	entries map[string]map[string]string // session id -> key -> value
}

// NewMemoryCacheStore creates an empty in-memory cache store.
func NewMemoryCacheStore() *MemoryCacheStore {
	return &MemoryCacheStore{entries: make(map[string]map[string]string)}
}

// Get returns the cached value for (sessionID, key), or ok=false.
func (s *MemoryCacheStore) Get(_ context.Context, sessionID, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.entries[sessionID][key]
	return value, ok, nil
}

// Put records a completion under (sessionID, key).
func (s *MemoryCacheStore) Put(_ context.Context, sessionID, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	part, ok := s.entries[sessionID]
	if !ok {
		part = make(map[string]string)
		s.entries[sessionID] = part
	}
	part[key] = value
	return nil
}

// Count returns the number of entries in a session's partition.
func (s *MemoryCacheStore) Count(_ context.Context, sessionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.entries[sessionID]), nil
}

// Close is a no-op.
func (s *MemoryCacheStore) Close() error { return nil }

type checkpointRecord struct {
	meta     models.CheckpointMeta
	snapshot []byte
}

// MemoryCheckpointStore implements CheckpointStore in memory.
type MemoryCheckpointStore struct {
	mu          sync.RWMutex
	checkpoints map[string]checkpointRecord // checkpoint id -> record
}

// NewMemoryCheckpointStore creates an empty in-memory checkpoint store.
func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{checkpoints: make(map[string]checkpointRecord)}
}

// Save persists a snapshot. Duplicate (sessionID, seq) pairs are
// rejected like the SQLite unique constraint would.
func (s *MemoryCheckpointStore) Save(_ context.Context, meta models.CheckpointMeta, snapshot []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.checkpoints {
		if rec.meta.SessionID == meta.SessionID && rec.meta.Seq == meta.Seq {
			return &PersistenceError{Op: "checkpoint save", Err: errDuplicateSeq}
		}
	}

	cp := make([]byte, len(snapshot))
	copy(cp, snapshot)
	s.checkpoints[meta.ID] = checkpointRecord{meta: meta, snapshot: cp}
	return nil
}

// Load returns the metadata and snapshot for a checkpoint id.
func (s *MemoryCheckpointStore) Load(_ context.Context, checkpointID string) (models.CheckpointMeta, []byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.checkpoints[checkpointID]
	if !ok {
		return models.CheckpointMeta{}, nil, ErrNotFound
	}
	cp := make([]byte, len(rec.snapshot))
	copy(cp, rec.snapshot)
	return rec.meta, cp, nil
}

// List returns a session's checkpoint metadata in sequence order.
func (s *MemoryCheckpointStore) List(_ context.Context, sessionID string) ([]models.CheckpointMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var metas []models.CheckpointMeta
	for _, rec := range s.checkpoints {
		if rec.meta.SessionID == sessionID {
			metas = append(metas, rec.meta)
		}
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].Seq < metas[j].Seq })
	return metas, nil
}

// Close is a no-op.
func (s *MemoryCheckpointStore) Close() error { return nil }

var errDuplicateSeq = errors.New("duplicate sequence number for session")
