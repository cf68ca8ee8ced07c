// Package cache implements find-or-insert screenshot caching on top of a
// metadata repository and an object store.
package cache

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"path"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/shotcast/internal/capture"
	"github.com/JakeFAU/shotcast/internal/store"
)

// ObjectStore persists encoded screenshots.
type ObjectStore interface {
	Upload(ctx context.Context, key, contentType string, data []byte) error
	Download(ctx context.Context, key string) ([]byte, error)
	PublicURL(key string) string
}

// Config tunes the cache.
type Config struct {
	// Prefix is prepended to every object key.
	Prefix string
	// WriteTimeout bounds a PutOrFind, which deliberately outlives the
	// caller's context.
	WriteTimeout time.Duration
}

// Store implements capture.CacheStore.
type Store struct {
	repo    store.ScreenshotRepository
	objects ObjectStore
	ids     capture.IDGenerator
	clock   capture.Clock
	cfg     Config
	logger  *zap.Logger
	flights singleflight.Group
}

// New wires a Store.
func New(
	repo store.ScreenshotRepository,
	objects ObjectStore,
	ids capture.IDGenerator,
	clock capture.Clock,
	cfg Config,
	logger *zap.Logger,
) (*Store, error) {
	if repo == nil || objects == nil {
		return nil, fmt.Errorf("cache requires a repository and an object store")
	}
	if ids == nil || clock == nil {
		return nil, fmt.Errorf("cache requires an id generator and a clock")
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		repo:    repo,
		objects: objects,
		ids:     ids,
		clock:   clock,
		cfg:     cfg,
		logger:  logger,
	}, nil
}

// FindByFingerprint reports a hit only for rows whose bytes were uploaded.
func (s *Store) FindByFingerprint(ctx context.Context, fp capture.Fingerprint) (capture.Screenshot, bool, error) {
	row, err := s.repo.FindByFingerprint(ctx, fp.Key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return capture.Screenshot{}, false, nil
		}
		return capture.Screenshot{}, false, capture.StorageErrorf(err, "could not read screenshot cache")
	}
	if !row.Uploaded() {
		return capture.Screenshot{}, false, nil
	}
	return row, true, nil
}

// PutOrFind persists data under fp unless another writer already has. The
// returned row always refers to the winning writer's screenshot. Concurrent
// calls for the same fingerprint in this process share one write.
func (s *Store) PutOrFind(ctx context.Context, fp capture.Fingerprint, data []byte) (capture.Screenshot, error) {
	ch := s.flights.DoChan(fp.Key, func() (any, error) {
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.WriteTimeout)
		defer cancel()
		return s.putOrFind(writeCtx, fp, data)
	})
	select {
	case res := <-ch:
		row, _ := res.Val.(capture.Screenshot)
		return row, res.Err
	case <-ctx.Done():
		return capture.Screenshot{}, capture.StorageErrorf(ctx.Err(), "screenshot write abandoned")
	}
}

func (s *Store) putOrFind(ctx context.Context, fp capture.Fingerprint, data []byte) (capture.Screenshot, error) {
	id, err := s.ids.NewID()
	if err != nil {
		return capture.Screenshot{}, capture.StorageErrorf(err, "could not allocate screenshot id")
	}
	candidate := capture.Screenshot{
		ID:          id,
		Fingerprint: fp.Key,
		ProjectID:   fp.ProjectID,
		TargetURL:   fp.TargetURL,
		DelaySecs:   fp.DelaySecs,
		ImageType:   fp.ImageType,
		CreatedAt:   s.clock.Now(),
	}
	row, inserted, err := s.repo.InsertOrGet(ctx, candidate)
	if err != nil {
		return capture.Screenshot{}, capture.StorageErrorf(err, "could not save screenshot metadata")
	}
	if row.Uploaded() {
		s.logger.Debug("screenshot already cached", zap.String("screenshot_id", row.ID), zap.String("fingerprint", fp.Key))
		return row, nil
	}
	if !inserted {
		// A previous writer registered the row but never finished the upload.
		s.logger.Info("completing unfinished screenshot upload", zap.String("screenshot_id", row.ID))
	}
	if err := s.objects.Upload(ctx, s.ObjectKey(row.ID, row.ImageType), row.ImageType.ContentType(), data); err != nil {
		return row, capture.StorageErrorf(err, "could not upload screenshot")
	}
	at := s.clock.Now()
	if err := s.repo.MarkUploaded(ctx, row.ID, at); err != nil {
		return row, capture.StorageErrorf(err, "could not finalize screenshot")
	}
	row.UploadedAt = &at
	return row, nil
}

// ObjectKey returns the object storage key for a screenshot.
func (s *Store) ObjectKey(screenshotID string, imageType capture.ImageType) string {
	return path.Join(s.cfg.Prefix, screenshotID+"."+imageType.Extension())
}

// LocatorFor returns the client-facing URL for a stored screenshot.
func (s *Store) LocatorFor(screenshotID string, imageType capture.ImageType) string {
	return s.objects.PublicURL(s.ObjectKey(screenshotID, imageType))
}

// InlineLocator encodes data as a data: URL, used when persistence fails but
// the image is small enough to hand back directly.
func InlineLocator(data []byte, imageType capture.ImageType) string {
	return "data:" + imageType.ContentType() + ";base64," + base64.StdEncoding.EncodeToString(data)
}
