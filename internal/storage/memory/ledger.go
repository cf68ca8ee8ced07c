package memory

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/shotcast/internal/store"
)

// Ledger implements store.RequestLedger in memory.
type Ledger struct {
	mu      sync.RWMutex
	records []store.RequestRecord
}

// NewLedger constructs an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// CountRequests counts records for projectID created in [from, to).
func (l *Ledger) CountRequests(_ context.Context, projectID string, from, to time.Time) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	count := 0
	for _, rec := range l.records {
		if rec.ProjectID != projectID {
			continue
		}
		if rec.CreatedAt.Before(from) || !rec.CreatedAt.Before(to) {
			continue
		}
		count++
	}
	return count, nil
}

// RecordRequest appends rec.
func (l *Ledger) RecordRequest(_ context.Context, rec store.RequestRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append(l.records, rec)
	return nil
}

// Records returns a copy of every ledger row.
func (l *Ledger) Records() []store.RequestRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]store.RequestRecord, len(l.records))
	copy(out, l.records)
	return out
}
