package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/shotcast/internal/store"
)

// CountRequests counts ledger rows for projectID created in [from, to).
func (s *Store) CountRequests(ctx context.Context, projectID string, from, to time.Time) (int, error) {
	query := `
SELECT count(*) FROM capture_requests
WHERE project_id = $1 AND created_at >= $2 AND created_at < $3`
	var n int
	if err := s.pool.QueryRow(ctx, query, projectID, from, to).Scan(&n); err != nil {
		return 0, fmt.Errorf("count capture requests: %w", err)
	}
	return n, nil
}

// RecordRequest appends a ledger row.
func (s *Store) RecordRequest(ctx context.Context, rec store.RequestRecord) error {
	query := `
INSERT INTO capture_requests (id, project_id, client_id, request_id, created_at)
VALUES ($1, $2, $3, $4, $5)`
	_, err := s.pool.Exec(ctx, query, rec.ID, rec.ProjectID, rec.ClientID, rec.RequestID, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("record capture request: %w", err)
	}
	return nil
}
