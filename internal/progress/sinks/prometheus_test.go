package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/shotcast/internal/capture"
	"github.com/JakeFAU/shotcast/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms are incremented from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	now := time.Now()
	base := progress.Event{ClientID: "c1", RequestID: "r1", ProjectID: "p"}
	at := func(stage progress.Stage, offset time.Duration) progress.Event {
		evt := base
		evt.Stage = stage
		evt.TS = now.Add(offset)
		return evt
	}
	capture1 := at(progress.StageCaptureDone, 2*time.Second)
	capture1.TargetURL = "https://Example.com/page"
	capture1.Bytes = 2048
	capture1.Dur = 1500 * time.Millisecond
	done := at(progress.StageRequestSucceeded, 3*time.Second)
	done.Source = capture.SourceNetwork
	done.Dur = 3 * time.Second

	batch := []progress.Event{at(progress.StageRequestStart, 0), at(progress.StageRequestStart, 0), capture1, done}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 2.0, testutil.ToFloat64(sink.requestsStarted))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.requestsInFlight))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.requestsCompleted.WithLabelValues("succeeded")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.requestsCompleted.WithLabelValues("failed")))
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.captures.WithLabelValues("example.com")), 1e-9)
	require.InDelta(t, 2048.0, testutil.ToFloat64(sink.captureBytes.WithLabelValues("example.com")), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.captureDuration, "shotcast_browser_capture_duration_seconds"))
	require.Equal(t, 1, testutil.CollectAndCount(sink.requestDuration, "shotcast_request_duration_seconds"))
}

func TestPrometheusSinkTracksInFlight(t *testing.T) {
	t.Parallel()

	sink, err := NewPrometheusSink(prometheus.NewRegistry())
	require.NoError(t, err)

	now := time.Now()
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{ClientID: "a", RequestID: "r", TS: now, Stage: progress.StageRequestStart},
		{ClientID: "b", RequestID: "r", TS: now, Stage: progress.StageRequestStart},
		{ClientID: "a", RequestID: "r", TS: now, Stage: progress.StageCacheHit},
		{ClientID: "a", RequestID: "r", TS: now, Stage: progress.StageRequestCancelled},
	}))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.requestsInFlight))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.cacheHits))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.requestsCompleted.WithLabelValues("cancelled")))
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
