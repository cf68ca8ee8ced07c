// Package ratelimit enforces per-project daily ceilings on network captures.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/shotcast/internal/capture"
	"github.com/JakeFAU/shotcast/internal/store"
)

// Daily implements capture.RateLimiter against a request ledger. The check
// is read-then-insert, so concurrent requests may overshoot the ceiling by
// the number in flight.
type Daily struct {
	ledger         store.RequestLedger
	clock          capture.Clock
	ids            capture.IDGenerator
	defaultCeiling int
}

// NewDaily builds a limiter. defaultCeiling applies to projects without
// their own ceiling; zero or less disables the limit for them.
func NewDaily(ledger store.RequestLedger, clock capture.Clock, ids capture.IDGenerator, defaultCeiling int) (*Daily, error) {
	if ledger == nil || clock == nil || ids == nil {
		return nil, fmt.Errorf("ledger, clock, and id generator are required")
	}
	return &Daily{ledger: ledger, clock: clock, ids: ids, defaultCeiling: defaultCeiling}, nil
}

// Window returns the UTC day [from, to) containing t.
func Window(t time.Time) (time.Time, time.Time) {
	t = t.UTC()
	from := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return from, from.AddDate(0, 0, 1)
}

// Ceiling returns the effective daily ceiling for project.
func (d *Daily) Ceiling(project capture.Project) int {
	if project.DailyRequestCeiling > 0 {
		return project.DailyRequestCeiling
	}
	return d.defaultCeiling
}

// CheckAndReserve fails with a rate_limit error once the project has used
// its ceiling for the current day, and otherwise records req.
func (d *Daily) CheckAndReserve(ctx context.Context, project capture.Project, req capture.Request) error {
	ceiling := d.Ceiling(project)
	now := d.clock.Now()
	if ceiling > 0 {
		from, to := Window(now)
		n, err := d.ledger.CountRequests(ctx, project.ID, from, to)
		if err != nil {
			return capture.StorageErrorf(err, "could not check request limit")
		}
		if n >= ceiling {
			return capture.RateLimitExceeded(project.ID, ceiling)
		}
	}
	id, err := d.ids.NewID()
	if err != nil {
		return capture.StorageErrorf(err, "could not allocate request id")
	}
	err = d.ledger.RecordRequest(ctx, store.RequestRecord{
		ID:        id,
		ProjectID: project.ID,
		ClientID:  req.ClientID,
		RequestID: req.RequestID,
		CreatedAt: now,
	})
	if err != nil {
		return capture.StorageErrorf(err, "could not record request")
	}
	return nil
}
