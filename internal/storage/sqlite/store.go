// Package sqlite implements the repositories on an embedded SQLite database
// for single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/JakeFAU/shotcast/internal/capture"
	"github.com/JakeFAU/shotcast/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS projects (
	id                    TEXT PRIMARY KEY,
	whitelist             TEXT NOT NULL DEFAULT '[]',
	daily_request_ceiling INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS screenshots (
	id          TEXT PRIMARY KEY,
	fingerprint TEXT NOT NULL UNIQUE,
	project_id  TEXT NOT NULL,
	target_url  TEXT NOT NULL,
	delay_secs  INTEGER NOT NULL,
	image_type  TEXT NOT NULL,
	created_at  INTEGER NOT NULL,
	uploaded_at INTEGER
);

CREATE TABLE IF NOT EXISTS capture_requests (
	id         TEXT PRIMARY KEY,
	project_id TEXT NOT NULL,
	client_id  TEXT NOT NULL,
	request_id TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_capture_requests_project_created ON capture_requests (project_id, created_at);

CREATE TABLE IF NOT EXISTS capture_runs (
	client_id   TEXT NOT NULL,
	request_id  TEXT NOT NULL,
	project_id  TEXT NOT NULL,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER,
	status      TEXT NOT NULL,
	source      TEXT NOT NULL DEFAULT '',
	note        TEXT,
	PRIMARY KEY (client_id, request_id)
);
`

// Store implements the screenshot, ledger, project, and run repositories.
type Store struct {
	db *sql.DB
}

// New opens (creating if needed) the database file at path and applies the schema.
func New(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("database.sqlite_path is required")
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("unable to open sqlite database: %w", err)
	}
	// One writer connection; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error { return s.db.Close() }

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := fromMillis(v.Int64)
	return &t
}

const screenshotColumns = `id, fingerprint, project_id, target_url, delay_secs, image_type, created_at, uploaded_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanScreenshot(row scanner) (capture.Screenshot, error) {
	var (
		out       capture.Screenshot
		imageType string
		created   int64
		uploaded  sql.NullInt64
	)
	if err := row.Scan(
		&out.ID,
		&out.Fingerprint,
		&out.ProjectID,
		&out.TargetURL,
		&out.DelaySecs,
		&imageType,
		&created,
		&uploaded,
	); err != nil {
		return capture.Screenshot{}, err
	}
	parsed, ok := capture.ParseImageType(imageType)
	if !ok {
		return capture.Screenshot{}, fmt.Errorf("%w: image_type %q", store.ErrMalformedRow, imageType)
	}
	out.ImageType = parsed
	out.CreatedAt = fromMillis(created)
	out.UploadedAt = nullMillis(uploaded)
	return out, nil
}

// FindByFingerprint returns the row for key or store.ErrNotFound.
func (s *Store) FindByFingerprint(ctx context.Context, key string) (capture.Screenshot, error) {
	query := `SELECT ` + screenshotColumns + ` FROM screenshots WHERE fingerprint = ?`
	row, err := scanScreenshot(s.db.QueryRowContext(ctx, query, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return capture.Screenshot{}, store.ErrNotFound
		}
		return capture.Screenshot{}, fmt.Errorf("find screenshot: %w", err)
	}
	return row, nil
}

// InsertOrGet inserts row unless its fingerprint already exists.
func (s *Store) InsertOrGet(ctx context.Context, row capture.Screenshot) (capture.Screenshot, bool, error) {
	query := `
INSERT INTO screenshots (id, fingerprint, project_id, target_url, delay_secs, image_type, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(fingerprint) DO NOTHING`
	res, err := s.db.ExecContext(ctx, query,
		row.ID, row.Fingerprint, row.ProjectID, row.TargetURL, row.DelaySecs, string(row.ImageType), toMillis(row.CreatedAt))
	if err != nil {
		return capture.Screenshot{}, false, fmt.Errorf("insert screenshot: %w", err)
	}
	affected, _ := res.RowsAffected()
	stored, err := s.FindByFingerprint(ctx, row.Fingerprint)
	if err != nil {
		return capture.Screenshot{}, false, err
	}
	return stored, affected > 0, nil
}

// MarkUploaded records that the bytes for id are in object storage.
func (s *Store) MarkUploaded(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE screenshots SET uploaded_at = ? WHERE id = ?`, toMillis(at), id)
	if err != nil {
		return fmt.Errorf("mark screenshot uploaded: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// CountRequests counts ledger rows for projectID created in [from, to).
func (s *Store) CountRequests(ctx context.Context, projectID string, from, to time.Time) (int, error) {
	query := `SELECT count(*) FROM capture_requests WHERE project_id = ? AND created_at >= ? AND created_at < ?`
	var n int
	if err := s.db.QueryRowContext(ctx, query, projectID, toMillis(from), toMillis(to)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count capture requests: %w", err)
	}
	return n, nil
}

// RecordRequest appends a ledger row.
func (s *Store) RecordRequest(ctx context.Context, rec store.RequestRecord) error {
	query := `INSERT INTO capture_requests (id, project_id, client_id, request_id, created_at) VALUES (?, ?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.ProjectID, rec.ClientID, rec.RequestID, toMillis(rec.CreatedAt)); err != nil {
		return fmt.Errorf("record capture request: %w", err)
	}
	return nil
}

// FindProjectByID returns the project or store.ErrNotFound.
func (s *Store) FindProjectByID(ctx context.Context, projectID string) (capture.Project, error) {
	var (
		p         capture.Project
		whitelist string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, whitelist, daily_request_ceiling FROM projects WHERE id = ?`, projectID,
	).Scan(&p.ID, &whitelist, &p.DailyRequestCeiling)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return capture.Project{}, store.ErrNotFound
		}
		return capture.Project{}, fmt.Errorf("find project: %w", err)
	}
	if err := json.Unmarshal([]byte(whitelist), &p.Whitelist); err != nil {
		return capture.Project{}, fmt.Errorf("%w: whitelist: %v", store.ErrMalformedRow, err)
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
	encoded, err := json.Marshal(whitelist)
	if err != nil {
		return fmt.Errorf("encode whitelist: %w", err)
	}
	query := `
INSERT INTO projects (id, whitelist, daily_request_ceiling) VALUES (?, ?, ?)
ON CONFLICT(id) DO UPDATE SET whitelist = excluded.whitelist, daily_request_ceiling = excluded.daily_request_ceiling`
	if _, err := s.db.ExecContext(ctx, query, project.ID, string(encoded), project.DailyRequestCeiling); err != nil {
		return fmt.Errorf("upsert project: %w", err)
	}
	return nil
}

// StartRun inserts or restarts the run for (ClientID, RequestID).
func (s *Store) StartRun(ctx context.Context, run store.Run) error {
	query := `
INSERT INTO capture_runs (client_id, request_id, project_id, started_at, status)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(client_id, request_id) DO UPDATE SET
	project_id = excluded.project_id,
	started_at = excluded.started_at,
	status = excluded.status,
	finished_at = NULL,
	source = '',
	note = NULL`
	if _, err := s.db.ExecContext(ctx, query,
		run.ClientID, run.RequestID, run.ProjectID, toMillis(run.StartedAt), string(store.RunRunning)); err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}
	return nil
}

// CompleteRun marks a run finished.
func (s *Store) CompleteRun(
	ctx context.Context,
	clientID, requestID string,
	finishedAt time.Time,
	status store.RunStatus,
	source string,
	note *string,
) error {
	query := `UPDATE capture_runs SET finished_at = ?, status = ?, source = ?, note = ? WHERE client_id = ? AND request_id = ?`
	res, err := s.db.ExecContext(ctx, query, toMillis(finishedAt), string(status), source, note, clientID, requestID)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// GetRun loads one run or returns store.ErrNotFound.
func (s *Store) GetRun(ctx context.Context, clientID, requestID string) (store.Run, error) {
	query := `
SELECT client_id, request_id, project_id, started_at, finished_at, status, source, note
FROM capture_runs WHERE client_id = ? AND request_id = ?`
	var (
		run      store.Run
		started  int64
		finished sql.NullInt64
		status   string
		note     sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, clientID, requestID).Scan(
		&run.ClientID, &run.RequestID, &run.ProjectID, &started, &finished, &status, &run.Source, &note,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("failed to get run: %w", err)
	}
	run.StartedAt = fromMillis(started)
	run.FinishedAt = nullMillis(finished)
	run.Status = store.RunStatus(status)
	if note.Valid {
		run.Note = &note.String
	}
	return run, nil
}
