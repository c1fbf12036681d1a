package sqlstore

import (
	"context"
	"fmt"
	"strings"
)

const tsToken = "{{ts}}"

// schema is rendered with the dialect's timestamp column type in place of {{ts}}.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS webhook_events (
		id TEXT PRIMARY KEY,
		event_type VARCHAR(100) NOT NULL,
		source VARCHAR(50) NOT NULL,
		payload TEXT NOT NULL,
		headers TEXT NOT NULL,
		processed BOOLEAN NOT NULL DEFAULT FALSE,
		created_at {{ts}} NOT NULL,
		processed_at {{ts}},
		error_message VARCHAR(1000),
		retry_count INTEGER NOT NULL DEFAULT 0 CHECK (retry_count BETWEEN 0 AND 10),
		retry_at {{ts}}
	)`,
	`CREATE INDEX IF NOT EXISTS idx_webhook_events_queue ON webhook_events (processed, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_webhook_events_type ON webhook_events (event_type)`,
	`CREATE TABLE IF NOT EXISTS api_keys (
		id TEXT PRIMARY KEY,
		key_name VARCHAR(100) NOT NULL,
		key_hash VARCHAR(64) NOT NULL UNIQUE,
		permissions TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at {{ts}} NOT NULL,
		last_used_at {{ts}},
		expires_at {{ts}}
	)`,
	`CREATE TABLE IF NOT EXISTS webhook_endpoints (
		id TEXT PRIMARY KEY,
		name VARCHAR(100) NOT NULL,
		url VARCHAR(500) NOT NULL,
		secret VARCHAR(100),
		events TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at {{ts}} NOT NULL,
		last_triggered_at {{ts}}
	)`,
	`CREATE TABLE IF NOT EXISTS event_processing_logs (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		event_type VARCHAR(100) NOT NULL,
		success BOOLEAN NOT NULL,
		message TEXT,
		processing_data TEXT,
		processed_at {{ts}} NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_event_processing_logs_event ON event_processing_logs (event_id)`,
}

// statements renders the schema for the dialect.
func (s *Store) statements() []string {
	tsType := "TIMESTAMPTZ"
	if s.dialect == SQLite {
		// go-sqlite3 only parses TIMESTAMP/DATETIME/DATE columns into time.Time
		tsType = "TIMESTAMP"
	}
	out := make([]string, 0, len(schema))
	for _, stmt := range schema {
		out = append(out, strings.ReplaceAll(stmt, tsToken, tsType))
	}
	return out
}

// EnsureSchema creates the relay tables when they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range s.statements() {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("creating schema: %w", err)
		}
	}
	return nil
}
