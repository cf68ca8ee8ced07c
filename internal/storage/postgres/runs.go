package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/shotcast/internal/store"
)

// StartRun inserts or restarts the run for (ClientID, RequestID).
func (s *Store) StartRun(ctx context.Context, run store.Run) error {
	query := `
INSERT INTO capture_runs (client_id, request_id, project_id, started_at, status)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (client_id, request_id) DO UPDATE
SET project_id = EXCLUDED.project_id,
	started_at = EXCLUDED.started_at,
	status = EXCLUDED.status,
	finished_at = NULL,
	source = '',
	note = NULL`
	_, err := s.pool.Exec(ctx, query, run.ClientID, run.RequestID, run.ProjectID, run.StartedAt, string(store.RunRunning))
	if err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}
	return nil
}

// CompleteRun marks a run finished with a status and optional note.
func (s *Store) CompleteRun(
	ctx context.Context,
	clientID, requestID string,
	finishedAt time.Time,
	status store.RunStatus,
	source string,
	note *string,
) error {
	query := `
UPDATE capture_runs
SET finished_at = $1, status = $2, source = $3, note = $4
WHERE client_id = $5 AND request_id = $6`
	tag, err := s.pool.Exec(ctx, query, finishedAt, string(status), source, note, clientID, requestID)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetRun retrieves a single run.
func (s *Store) GetRun(ctx context.Context, clientID, requestID string) (store.Run, error) {
	query := `
SELECT client_id, request_id, project_id, started_at, finished_at, status, source, note
FROM capture_runs
WHERE client_id = $1 AND request_id = $2`
	var (
		run    store.Run
		status string
	)
	err := s.pool.QueryRow(ctx, query, clientID, requestID).Scan(
		&run.ClientID,
		&run.RequestID,
		&run.ProjectID,
		&run.StartedAt,
		&run.FinishedAt,
		&status,
		&run.Source,
		&run.Note,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("failed to get run: %w", err)
	}
	run.Status = store.RunStatus(status)
	return run, nil
}
