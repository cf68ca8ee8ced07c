package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/shotcast/internal/capture"
	"github.com/JakeFAU/shotcast/internal/clock/system"
	"github.com/JakeFAU/shotcast/internal/id/uuid"
	"github.com/JakeFAU/shotcast/internal/storage/memory"
	"github.com/JakeFAU/shotcast/internal/store"
)

type failingLedger struct{ err error }

func (f failingLedger) CountRequests(context.Context, string, time.Time, time.Time) (int, error) {
	return 0, f.err
}

func (f failingLedger) RecordRequest(context.Context, store.RequestRecord) error { return f.err }

func TestWindow(t *testing.T) {
	t.Parallel()

	tz := time.FixedZone("X", 5*60*60)
	from, to := Window(time.Date(2024, 5, 2, 3, 0, 0, 0, tz))
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), from)
	assert.Equal(t, time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC), to)
}

func TestCheckAndReserveEnforcesCeiling(t *testing.T) {
	t.Parallel()

	ledger := memory.NewLedger()
	clock := system.NewManual(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))
	limiter, err := NewDaily(ledger, clock, uuid.New(), 100)
	require.NoError(t, err)

	project := capture.Project{ID: "p1", DailyRequestCeiling: 2}
	req := capture.Request{RequestID: "r", ClientID: "c", ProjectID: "p1"}
	ctx := context.Background()

	require.NoError(t, limiter.CheckAndReserve(ctx, project, req))
	require.NoError(t, limiter.CheckAndReserve(ctx, project, req))

	err = limiter.CheckAndReserve(ctx, project, req)
	require.Error(t, err)
	assert.True(t, capture.IsKind(err, capture.KindRateLimit))
	assert.Equal(t, "project p1 has reached its limit of 2 requests per day", err.Error())
	assert.Len(t, ledger.Records(), 2)

	// The next UTC day starts a fresh window.
	clock.Advance(24 * time.Hour)
	require.NoError(t, limiter.CheckAndReserve(ctx, project, req))
}

func TestDefaultCeiling(t *testing.T) {
	t.Parallel()

	limiter, err := NewDaily(memory.NewLedger(), system.New(), uuid.New(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, limiter.Ceiling(capture.Project{ID: "p"}))
	assert.Equal(t, 7, limiter.Ceiling(capture.Project{ID: "p", DailyRequestCeiling: 7}))

	ctx := context.Background()
	require.NoError(t, limiter.CheckAndReserve(ctx, capture.Project{ID: "p"}, capture.Request{}))
	require.Error(t, limiter.CheckAndReserve(ctx, capture.Project{ID: "p"}, capture.Request{}))
}

func TestUnlimitedWhenNoCeiling(t *testing.T) {
	t.Parallel()

	ledger := memory.NewLedger()
	limiter, err := NewDaily(ledger, system.New(), uuid.New(), 0)
	require.NoError(t, err)
	for range 5 {
		require.NoError(t, limiter.CheckAndReserve(context.Background(), capture.Project{ID: "p"}, capture.Request{}))
	}
	assert.Len(t, ledger.Records(), 5)
}

func TestLedgerFailureIsStorageError(t *testing.T) {
	t.Parallel()

	limiter, err := NewDaily(failingLedger{err: errors.New("down")}, system.New(), uuid.New(), 10)
	require.NoError(t, err)
	err = limiter.CheckAndReserve(context.Background(), capture.Project{ID: "p"}, capture.Request{})
	require.Error(t, err)
	assert.True(t, capture.IsKind(err, capture.KindStorage))
}
