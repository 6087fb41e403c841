package queue

import (
	"context"
	"fmt"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS jobs (
    id               TEXT PRIMARY KEY,
    owner_sub        TEXT NOT NULL,
    source_key       TEXT NOT NULL,
    options_json     TEXT NOT NULL DEFAULT '{}',
    status           TEXT NOT NULL,
    logs_json        TEXT NOT NULL DEFAULT '[]',
    output_key       TEXT,
    json_key         TEXT,
    detect_mp4_key   TEXT,
    error_message    TEXT,
    abort            INTEGER NOT NULL DEFAULT 0,
    cancel_requested INTEGER NOT NULL DEFAULT 0,
    canceled         INTEGER NOT NULL DEFAULT 0,
    child_pid        INTEGER NOT NULL DEFAULT 0,
    timeout_seconds  INTEGER NOT NULL DEFAULT 0,
    result_retention INTEGER NOT NULL DEFAULT 0,
    failure_retention INTEGER NOT NULL DEFAULT 0,
    created_at       TEXT NOT NULL,
    updated_at       TEXT NOT NULL,
    started_at       TEXT,
    ended_at         TEXT,
    last_heartbeat   TEXT
);

CREATE INDEX IF NOT EXISTS idx_jobs_status_created ON jobs (status, created_at);
CREATE INDEX IF NOT EXISTS idx_jobs_owner ON jobs (owner_sub, created_at);
`

func (s *Store) applyMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
