package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/shotcast/internal/capture"
	"github.com/JakeFAU/shotcast/internal/store"
)

// FindProjectByID returns the project or store.ErrNotFound.
func (s *Store) FindProjectByID(ctx context.Context, projectID string) (capture.Project, error) {
	query := `SELECT id, whitelist, daily_request_ceiling FROM projects WHERE id = $1`
	var p capture.Project
	err := s.pool.QueryRow(ctx, query, projectID).Scan(&p.ID, &p.Whitelist, &p.DailyRequestCeiling)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return capture.Project{}, store.ErrNotFound
		}
		return capture.Project{}, fmt.Errorf("find project: %w", err)
	}
	return p, nil
}

// UpsertProject creates or replaces a project definition.
func (s *Store) UpsertProject(ctx context.Context, project capture.Project) error {
	if project.ID == "" {
		return fmt.Errorf("project id is required")
	}
	whitelist := project.Whitelist
	if whitelist == nil {
		whitelist = []string{}
	}
	query := `
INSERT INTO projects (id, whitelist, daily_request_ceiling)
VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE
SET whitelist = EXCLUDED.whitelist, daily_request_ceiling = EXCLUDED.daily_request_ceiling`
	if _, err := s.pool.Exec(ctx, query, project.ID, whitelist, project.DailyRequestCeiling); err != nil {
		return fmt.Errorf("upsert project: %w", err)
	}
	return nil
}
