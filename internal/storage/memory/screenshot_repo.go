package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/shotcast/internal/capture"
	"github.com/JakeFAU/shotcast/internal/store"
)

// ScreenshotRepo implements store.ScreenshotRepository with a fingerprint
// index guarded by a single mutex.
type ScreenshotRepo struct {
	mu      sync.RWMutex
	byKey   map[string]capture.Screenshot
	keyByID map[string]string
}

// NewScreenshotRepo constructs an empty repository.
func NewScreenshotRepo() *ScreenshotRepo {
	return &ScreenshotRepo{
		byKey:   make(map[string]capture.Screenshot),
		keyByID: make(map[string]string),
	}
}

// FindByFingerprint returns the row for key or store.ErrNotFound.
func (r *ScreenshotRepo) FindByFingerprint(_ context.Context, key string) (capture.Screenshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	row, ok := r.byKey[key]
	if !ok {
		return capture.Screenshot{}, store.ErrNotFound
	}
	return cloneScreenshot(row), nil
}

// InsertOrGet stores row unless its fingerprint is already present.
func (r *ScreenshotRepo) InsertOrGet(_ context.Context, row capture.Screenshot) (capture.Screenshot, bool, error) {
	if row.ID == "" || row.Fingerprint == "" {
		return capture.Screenshot{}, false, fmt.Errorf("screenshot id and fingerprint are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byKey[row.Fingerprint]; ok {
		return cloneScreenshot(existing), false, nil
	}
	row.UploadedAt = nil
	r.byKey[row.Fingerprint] = row
	r.keyByID[row.ID] = row.Fingerprint
	return cloneScreenshot(row), true, nil
}

// MarkUploaded sets uploaded_at for id.
func (r *ScreenshotRepo) MarkUploaded(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, ok := r.keyByID[id]
	if !ok {
		return store.ErrNotFound
	}
	row := r.byKey[key]
	uploaded := at
	row.UploadedAt = &uploaded
	r.byKey[key] = row
	return nil
}

// Len reports how many rows exist.
func (r *ScreenshotRepo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byKey)
}

func cloneScreenshot(src capture.Screenshot) capture.Screenshot {
	if src.UploadedAt != nil {
		at := *src.UploadedAt
		src.UploadedAt = &at
	}
	return src
}
