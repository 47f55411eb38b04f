package store

import (
	"context"
	"database/sql"
	"fmt"
)

// SchemaVersion is the current schema version.
const SchemaVersion = 1

// schemaV1 is the initial schema for the SQLite store. Cache entries and
// checkpoints live in one database file; both tables are append-only.
const schemaV1 = `
-- Completion cache, one partition per session. The key is a SHA-256 of
-- the rendered prompt plus sampling parameters, so entries are valid for
-- the lifetime of the session regardless of restores.
CREATE TABLE IF NOT EXISTS cache_entries (
    session_id TEXT NOT NULL,
    key TEXT NOT NULL,
    value TEXT NOT NULL,
    created_at TEXT NOT NULL,
    PRIMARY KEY (session_id, key)
);

-- Ordered snapshot log. seq is allocated per session by the orchestrator
-- under its session mutex; the unique constraint is the backstop.
CREATE TABLE IF NOT EXISTS checkpoints (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    label TEXT,
    snapshot TEXT NOT NULL,
    created_at TEXT NOT NULL,
    UNIQUE (session_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_session ON checkpoints(session_id, seq);

-- Schema version tracking
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY
);
`

// InitSchema creates the schema if it doesn't exist and records the
// schema version.
func InitSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaV1); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}

	if _, err := db.ExecContext(ctx,
		`INSERT OR IGNORE INTO schema_version (version) VALUES (?)`, SchemaVersion); err != nil {
		return fmt.Errorf("recording schema version: %w", err)
	}

	return nil
}
