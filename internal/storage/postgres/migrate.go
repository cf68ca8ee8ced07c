package postgres

import (
	"context"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	whitelist TEXT[] NOT NULL DEFAULT '{}',
	daily_request_ceiling INTEGER NOT NULL DEFAULT 0
)`,
	`CREATE TABLE IF NOT EXISTS screenshots (
	id TEXT PRIMARY KEY,
	fingerprint TEXT NOT NULL UNIQUE,
	project_id TEXT NOT NULL,
	target_url TEXT NOT NULL,
	delay_secs INTEGER NOT NULL,
	image_type TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	uploaded_at TIMESTAMPTZ
)`,
	`CREATE TABLE IF NOT EXISTS capture_requests (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	client_id TEXT NOT NULL,
	request_id TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS capture_requests_project_created_idx
	ON capture_requests (project_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS capture_runs (
	client_id TEXT NOT NULL,
	request_id TEXT NOT NULL,
	project_id TEXT NOT NULL,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ,
	status TEXT NOT NULL,
	source TEXT NOT NULL DEFAULT '',
	note TEXT,
	PRIMARY KEY (client_id, request_id)
)`,
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i, err)
		}
	}
	return nil
}
