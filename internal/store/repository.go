package store

import (
	"context"
	"errors"
	"time"

	"github.com/JakeFAU/shotcast/internal/capture"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrMalformedRow signals that a persisted row could not be decoded.
var ErrMalformedRow = errors.New("malformed row")

// RunStatus mirrors the capture_runs status column.
type RunStatus string

// Run statuses persisted in capture_runs.status.
const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// RequestRecord is one row of the rate-limit ledger.
type RequestRecord struct {
	ID        string
	ProjectID string
	ClientID  string
	RequestID string
	CreatedAt time.Time
}

// Run models the capture_runs table.
type Run struct {
	ClientID   string
	RequestID  string
	ProjectID  string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     RunStatus
	Source     string
	Note       *string
}

// ScreenshotRepository persists screenshot metadata keyed by fingerprint.
type ScreenshotRepository interface {
	// FindByFingerprint returns the row for key or ErrNotFound.
	FindByFingerprint(ctx context.Context, key string) (capture.Screenshot, error)
	// InsertOrGet inserts row unless one already exists for its fingerprint, in
	// which case the existing row is returned untouched. inserted reports which.
	InsertOrGet(ctx context.Context, row capture.Screenshot) (stored capture.Screenshot, inserted bool, err error)
	// MarkUploaded records that the bytes for id are in object storage.
	MarkUploaded(ctx context.Context, id string, at time.Time) error
}

// RequestLedger counts network captures per project for rate limiting.
type RequestLedger interface {
	// CountRequests counts rows for projectID created in [from, to).
	CountRequests(ctx context.Context, projectID string, from, to time.Time) (int, error)
	// RecordRequest appends a ledger row.
	RecordRequest(ctx context.Context, rec RequestRecord) error
}

// ProjectRepository reads (and, for migrations, seeds) projects.
type ProjectRepository interface {
	// FindProjectByID returns the project or ErrNotFound.
	FindProjectByID(ctx context.Context, projectID string) (capture.Project, error)
	// UpsertProject creates or replaces a project definition.
	UpsertProject(ctx context.Context, project capture.Project) error
}

// RunRepository records capture lifecycle history.
type RunRepository interface {
	// StartRun inserts (or restarts) the run for (clientID, requestID).
	StartRun(ctx context.Context, run Run) error
	// CompleteRun marks the run finished with the provided status and note.
	CompleteRun(
		ctx context.Context,
		clientID, requestID string,
		finishedAt time.Time,
		status RunStatus,
		source string,
		note *string,
	) error
	// GetRun loads one run or returns ErrNotFound.
	GetRun(ctx context.Context, clientID, requestID string) (Run, error)
}
