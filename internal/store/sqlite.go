package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/troupe-sim/troupe/internal/models"
)

// SQLiteStore implements CacheStore and CheckpointStore on a single
// SQLite database file.
type SQLiteStore struct {
	mu sync.RWMutex
	db *sql.DB
}

// Open creates (or opens) the store at dir/troupe.db, creating dir if
// needed.
func Open(dir string) (*SQLiteStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	dbPath := filepath.Join(dir, "troupe.db")
	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// SQLite works best with a single writer.
	db.SetMaxOpenConns(1)

	if err := InitSchema(context.Background(), db); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Get looks up a cached completion. Unreadable entries are reported as a
// miss: the cache is a pure memoization layer and corruption must not
// change simulation outcome.
func (s *SQLiteStore) Get(ctx context.Context, sessionID, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM cache_entries WHERE session_id = ? AND key = ?`,
		sessionID, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, &PersistenceError{Op: "cache get", Err: err}
	}
	if !value.Valid {
		// Corrupt row: treat as a miss.
		return "", false, nil
	}
	return value.String, true, nil
}

// Put stores a completion under (sessionID, key). Values are
// content-addressed, so replacing an existing entry with the same key is
// harmless.
func (s *SQLiteStore) Put(ctx context.Context, sessionID, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO cache_entries (session_id, key, value, created_at)
		VALUES (?, ?, ?, ?)
	`, sessionID, key, value, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return &PersistenceError{Op: "cache put", Err: err}
	}
	return nil
}

// Count returns the number of cache entries in a session's partition.
func (s *SQLiteStore) Count(ctx context.Context, sessionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM cache_entries WHERE session_id = ?`, sessionID).Scan(&n)
	if err != nil {
		return 0, &PersistenceError{Op: "cache count", Err: err}
	}
	return n, nil
}

// Save persists a checkpoint snapshot. A duplicate (sessionID, seq) is
// rejected by the unique constraint and surfaces as a PersistenceError.
func (s *SQLiteStore) Save(ctx context.Context, meta models.CheckpointMeta, snapshot []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (id, session_id, seq, label, snapshot, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, meta.ID, meta.SessionID, meta.Seq, nullString(meta.Label),
		string(snapshot), meta.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return &PersistenceError{Op: "checkpoint save", Err: err}
	}
	return nil
}

// Load returns a checkpoint's metadata and snapshot payload.
func (s *SQLiteStore) Load(ctx context.Context, checkpointID string) (models.CheckpointMeta, []byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		meta      models.CheckpointMeta
		label     sql.NullString
		snapshot  string
		createdAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT session_id, seq, label, snapshot, created_at
		FROM checkpoints WHERE id = ?
	`, checkpointID).Scan(&meta.SessionID, &meta.Seq, &label, &snapshot, &createdAt)
	if err == sql.ErrNoRows {
		return models.CheckpointMeta{}, nil, ErrNotFound
	}
	if err != nil {
		return models.CheckpointMeta{}, nil, &PersistenceError{Op: "checkpoint load", Err: err}
	}

	meta.ID = checkpointID
	meta.Label = label.String
	meta.CreatedAt = parseTime(createdAt)
	return meta, []byte(snapshot), nil
}

// List returns a session's checkpoint metadata in sequence order.
func (s *SQLiteStore) List(ctx context.Context, sessionID string) ([]models.CheckpointMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, label, created_at
		FROM checkpoints WHERE session_id = ? ORDER BY seq
	`, sessionID)
	if err != nil {
		return nil, &PersistenceError{Op: "checkpoint list", Err: err}
	}
	defer rows.Close()

	var metas []models.CheckpointMeta
	for rows.Next() {
		var (
			meta      models.CheckpointMeta
			label     sql.NullString
			createdAt string
		)
		if err := rows.Scan(&meta.ID, &meta.Seq, &label, &createdAt); err != nil {
			return nil, &PersistenceError{Op: "checkpoint list scan", Err: err}
		}
		meta.SessionID = sessionID
		meta.Label = label.String
		meta.CreatedAt = parseTime(createdAt)
		metas = append(metas, meta)
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: "checkpoint list", Err: err}
	}
	return metas, nil
}

// Usage returns per-session storage footprints across the whole store:
// every session id that appears in the cache or checkpoint tables, with
// its entry counts. Ordered by session id for stable output.
func (s *SQLiteStore) Usage(ctx context.Context) ([]SessionUsage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bySession := make(map[string]*SessionUsage)

	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, COUNT(*) FROM cache_entries GROUP BY session_id`)
	if err != nil {
		return nil, &PersistenceError{Op: "usage cache scan", Err: err}
	}
	for rows.Next() {
		var (
			id string
			n  int
		)
		if err := rows.Scan(&id, &n); err != nil {
			rows.Close()
			return nil, &PersistenceError{Op: "usage cache scan", Err: err}
		}
		bySession[id] = &SessionUsage{SessionID: id, CacheEntries: n}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: "usage cache scan", Err: err}
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT session_id, COUNT(*), MAX(created_at) FROM checkpoints GROUP BY session_id`)
	if err != nil {
		return nil, &PersistenceError{Op: "usage checkpoint scan", Err: err}
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id   string
			n    int
			last sql.NullString
		)
		if err := rows.Scan(&id, &n, &last); err != nil {
			return nil, &PersistenceError{Op: "usage checkpoint scan", Err: err}
		}
		u, ok := bySession[id]
		if !ok {
			u = &SessionUsage{SessionID: id}
			bySession[id] = u
		}
		u.Checkpoints = n
		u.LastCheckpoint = last.String
	}
	if err := rows.Err(); err != nil {
		return nil, &PersistenceError{Op: "usage checkpoint scan", Err: err}
	}

	usages := make([]SessionUsage, 0, len(bySession))
	for _, u := range bySession {
		usages = append(usages, *u)
	}
	sort.Slice(usages, func(i, j int) bool { return usages[i].SessionID < usages[j].SessionID })
	return usages, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
