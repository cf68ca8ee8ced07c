package capture

import (
	"context"
	"time"
)

// Driver renders a page in an isolated browsing context and returns the
// encoded image. Implementations must close every page they open.
type Driver interface {
	Capture(ctx context.Context, opts CaptureOptions) ([]byte, error)
}

// Prober checks that a target is reachable before a browser tab is spent on it.
type Prober interface {
	Probe(ctx context.Context, targetURL string) error
}

// CacheStore provides find-or-insert semantics over fingerprints.
type CacheStore interface {
	FindByFingerprint(ctx context.Context, fp Fingerprint) (Screenshot, bool, error)
	PutOrFind(ctx context.Context, fp Fingerprint, data []byte) (Screenshot, error)
	LocatorFor(screenshotID string, imageType ImageType) string
}

// RateLimiter gates new network captures against a project's daily ceiling.
type RateLimiter interface {
	CheckAndReserve(ctx context.Context, project Project, req Request) error
}

// ProjectFinder looks up projects by id.
type ProjectFinder interface {
	FindProjectByID(ctx context.Context, projectID string) (Project, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for fingerprint keys.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces screenshot and client IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
