package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/shotcast/internal/metrics"
	"github.com/JakeFAU/shotcast/internal/progress"
)

// PrometheusSink exports request lifecycle metrics. It owns the collectors for
// requests started, completed and in flight plus per-site capture counters.
type PrometheusSink struct {
	requestsStarted   prometheus.Counter
	requestsCompleted *prometheus.CounterVec
	requestsInFlight  prometheus.Gauge
	requestDuration   *prometheus.HistogramVec
	cacheHits         prometheus.Counter

	captures        *prometheus.CounterVec
	captureBytes    *prometheus.CounterVec
	captureDuration *prometheus.HistogramVec

	tracker *requestTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		requestsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shotcast_requests_started_total",
			Help: "Total capture requests that have started.",
		}),
		requestsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shotcast_requests_completed_total",
			Help: "Total capture requests completed partitioned by result.",
		}, []string{"result"}),
		requestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shotcast_requests_in_flight",
			Help: "Current number of loading capture requests.",
		}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shotcast_request_duration_seconds",
			Help:    "Wall time per completed capture request.",
			Buckets: []float64{0.05, 0.25, 1, 2.5, 5, 10, 20, 45, 90},
		}, []string{"result"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shotcast_cache_hits_total",
			Help: "Requests answered from the screenshot cache.",
		}),
		captures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shotcast_browser_captures_total",
			Help: "Browser captures completed partitioned by site.",
		}, []string{"site"}),
		captureBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shotcast_browser_capture_bytes_total",
			Help: "Encoded image bytes produced per site.",
		}, []string{"site"}),
		captureDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shotcast_browser_capture_duration_seconds",
			Help:    "Browser capture latency partitioned by site.",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 45},
		}, []string{"site"}),
		tracker: newRequestTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.requestsStarted,
		s.requestsCompleted,
		s.requestsInFlight,
		s.requestDuration,
		s.cacheHits,
		s.captures,
		s.captureBytes,
		s.captureDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors using the provided batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRequestStart:
		s.requestsStarted.Inc()
		if s.tracker.start(evt.Key()) {
			s.requestsInFlight.Inc()
		}
	case progress.StageCacheHit:
		s.cacheHits.Inc()
	case progress.StageCaptureDone:
		site := metrics.SanitizeSite(evt.TargetURL)
		s.captures.WithLabelValues(site).Inc()
		if evt.Bytes > 0 {
			s.captureBytes.WithLabelValues(site).Add(float64(evt.Bytes))
		}
		if evt.Dur > 0 {
			s.captureDuration.WithLabelValues(site).Observe(evt.Dur.Seconds())
		}
	case progress.StageRequestSucceeded, progress.StageRequestFailed, progress.StageRequestCancelled:
		result := resultLabel(evt.Stage)
		s.requestsCompleted.WithLabelValues(result).Inc()
		if evt.Dur > 0 {
			s.requestDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
		}
		if s.tracker.complete(evt.Key()) {
			s.requestsInFlight.Dec()
		}
	}
}

func resultLabel(stage progress.Stage) string {
	switch stage {
	case progress.StageRequestSucceeded:
		return "succeeded"
	case progress.StageRequestCancelled:
		return "cancelled"
	default:
		return "failed"
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type requestTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newRequestTracker() *requestTracker {
	return &requestTracker{running: make(map[string]struct{})}
}

func (t *requestTracker) start(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[key]; ok {
		return false
	}
	t.running[key] = struct{}{}
	return true
}

func (t *requestTracker) complete(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[key]; !ok {
		return false
	}
	delete(t.running, key)
	return true
}
