package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/shotcast/internal/capture"
	"github.com/JakeFAU/shotcast/internal/store"
)

const screenshotColumns = `id, fingerprint, project_id, target_url, delay_secs, image_type, created_at, uploaded_at`

// FindByFingerprint returns the row for key or store.ErrNotFound.
func (s *Store) FindByFingerprint(ctx context.Context, key string) (capture.Screenshot, error) {
	query := `SELECT ` + screenshotColumns + ` FROM screenshots WHERE fingerprint = $1`
	row, err := scanScreenshot(s.pool.QueryRow(ctx, query, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return capture.Screenshot{}, store.ErrNotFound
		}
		return capture.Screenshot{}, fmt.Errorf("find screenshot: %w", err)
	}
	return row, nil
}

// InsertOrGet inserts row unless the fingerprint already exists, relying on
// the unique constraint to settle concurrent inserts.
func (s *Store) InsertOrGet(ctx context.Context, row capture.Screenshot) (capture.Screenshot, bool, error) {
	query := `
INSERT INTO screenshots (id, fingerprint, project_id, target_url, delay_secs, image_type, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (fingerprint) DO NOTHING
RETURNING ` + screenshotColumns
	stored, err := scanScreenshot(s.pool.QueryRow(
		ctx,
		query,
		row.ID,
		row.Fingerprint,
		row.ProjectID,
		row.TargetURL,
		row.DelaySecs,
		string(row.ImageType),
		row.CreatedAt,
	))
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return capture.Screenshot{}, false, fmt.Errorf("insert screenshot: %w", err)
	}
	existing, err := s.FindByFingerprint(ctx, row.Fingerprint)
	if err != nil {
		return capture.Screenshot{}, false, err
	}
	return existing, false, nil
}

// MarkUploaded records that the bytes for id are in object storage.
func (s *Store) MarkUploaded(ctx context.Context, id string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE screenshots SET uploaded_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("mark screenshot uploaded: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func scanScreenshot(row pgx.Row) (capture.Screenshot, error) {
	var (
		out       capture.Screenshot
		imageType string
	)
	err := row.Scan(
		&out.ID,
		&out.Fingerprint,
		&out.ProjectID,
		&out.TargetURL,
		&out.DelaySecs,
		&imageType,
		&out.CreatedAt,
		&out.UploadedAt,
	)
	if err != nil {
		return capture.Screenshot{}, err
	}
	parsed, ok := capture.ParseImageType(imageType)
	if !ok {
		return capture.Screenshot{}, fmt.Errorf("%w: image_type %q", store.ErrMalformedRow, imageType)
	}
	out.ImageType = parsed
	return out, nil
}
