package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/shotcast/internal/capture"
	"github.com/JakeFAU/shotcast/internal/store"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(context.Background(), filepath.Join(t.TempDir(), "shotcast.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func TestNewRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), "")
	require.Error(t, err)
}

func TestScreenshotLifecycle(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := context.Background()
	created := time.UnixMilli(1700000000123).UTC()
	row := capture.Screenshot{
		ID:          "shot-1",
		Fingerprint: "fp-1",
		ProjectID:   "p1",
		TargetURL:   "https://example.com",
		DelaySecs:   3,
		ImageType:   capture.ImageJPEG,
		CreatedAt:   created,
	}

	stored, inserted, err := s.InsertOrGet(ctx, row)
	require.NoError(t, err)
	assert.True(t, inserted)
	assert.Equal(t, row.ID, stored.ID)
	assert.Equal(t, created, stored.CreatedAt)
	assert.False(t, stored.Uploaded())

	dup := row
	dup.ID = "shot-2"
	stored, inserted, err = s.InsertOrGet(ctx, dup)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, "shot-1", stored.ID)

	at := created.Add(time.Second)
	require.NoError(t, s.MarkUploaded(ctx, "shot-1", at))
	found, err := s.FindByFingerprint(ctx, "fp-1")
	require.NoError(t, err)
	require.True(t, found.Uploaded())
	assert.Equal(t, at, *found.UploadedAt)
	assert.Equal(t, capture.ImageJPEG, found.ImageType)

	_, err = s.FindByFingerprint(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.ErrorIs(t, s.MarkUploaded(ctx, "missing", at), store.ErrNotFound)
}

func TestInsertOrGetConcurrent(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			row, _, err := s.InsertOrGet(context.Background(), capture.Screenshot{
				ID:          "shot-" + string(rune('a'+i)),
				Fingerprint: "shared",
				ImageType:   capture.ImagePNG,
				CreatedAt:   time.Now(),
			})
			if err == nil {
				results[i] = row.ID
			}
		}()
	}
	wg.Wait()
	for _, id := range results {
		assert.Equal(t, results[0], id)
	}
	assert.NotEmpty(t, results[0])
}

func TestLedgerWindow(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := context.Background()
	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	stamps := []time.Time{day.Add(-time.Millisecond), day, day.Add(12 * time.Hour), day.Add(24 * time.Hour)}
	for i, ts := range stamps {
		require.NoError(t, s.RecordRequest(ctx, store.RequestRecord{
			ID: string(rune('a' + i)), ProjectID: "p1", ClientID: "c", RequestID: "r", CreatedAt: ts,
		}))
	}
	require.NoError(t, s.RecordRequest(ctx, store.RequestRecord{ID: "other", ProjectID: "p2", CreatedAt: day}))

	n, err := s.CountRequests(ctx, "p1", day, day.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestProjects(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertProject(ctx, capture.Project{ID: "p1", Whitelist: []string{"https://a.test"}, DailyRequestCeiling: 4}))
	require.NoError(t, s.UpsertProject(ctx, capture.Project{ID: "p1", DailyRequestCeiling: 9}))

	p, err := s.FindProjectByID(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 9, p.DailyRequestCeiling)
	assert.Empty(t, p.Whitelist)

	_, err = s.FindProjectByID(ctx, "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRuns(t *testing.T) {
	t.Parallel()

	s := newStore(t)
	ctx := context.Background()
	started := time.UnixMilli(1000).UTC()
	require.NoError(t, s.StartRun(ctx, store.Run{ClientID: "c", RequestID: "r", ProjectID: "p", StartedAt: started}))

	run, err := s.GetRun(ctx, "c", "r")
	require.NoError(t, err)
	assert.Equal(t, store.RunRunning, run.Status)
	assert.Nil(t, run.FinishedAt)

	require.NoError(t, s.CompleteRun(ctx, "c", "r", started.Add(time.Second), store.RunSucceeded, "network", nil))
	run, err = s.GetRun(ctx, "c", "r")
	require.NoError(t, err)
	assert.Equal(t, store.RunSucceeded, run.Status)
	assert.Equal(t, "network", run.Source)
	require.NotNil(t, run.FinishedAt)
	assert.Nil(t, run.Note)

	// Restarting the same request id clears the previous outcome.
	require.NoError(t, s.StartRun(ctx, store.Run{ClientID: "c", RequestID: "r", ProjectID: "p", StartedAt: started}))
	run, err = s.GetRun(ctx, "c", "r")
	require.NoError(t, err)
	assert.Equal(t, store.RunRunning, run.Status)
	assert.Empty(t, run.Source)

	assert.ErrorIs(t, s.CompleteRun(ctx, "x", "y", started, store.RunFailed, "", nil), store.ErrNotFound)
	_, err = s.GetRun(ctx, "x", "y")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
