// Package memory keeps screenshots, metadata, and ledgers in process memory
// for development and tests.
package memory

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/JakeFAU/shotcast/internal/store"
)

// BlobStore stores screenshot bytes in-memory and serves them back through
// the API's download route.
type BlobStore struct {
	mu      sync.RWMutex
	data    map[string][]byte
	baseURL string
}

// NewBlobStore creates an in-memory blob store whose public URLs are rooted
// at baseURL (for example "http://localhost:8080").
func NewBlobStore(baseURL string) *BlobStore {
	return &BlobStore{
		data:    make(map[string][]byte),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

// Upload stores a copy of data under key.
func (s *BlobStore) Upload(_ context.Context, key, _ string, data []byte) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), data...)
	return nil
}

// Download returns a copy of the bytes stored under key.
func (s *BlobStore) Download(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[key]
	if !ok {
		return nil, fmt.Errorf("object %q: %w", key, store.ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

// PublicURL points at the download route for key.
func (s *BlobStore) PublicURL(key string) string {
	return downloadURL(s.baseURL, key)
}

// Len reports how many objects are stored.
func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

func downloadURL(baseURL, key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return baseURL + "/v1/screenshots/" + strings.Join(parts, "/")
}
