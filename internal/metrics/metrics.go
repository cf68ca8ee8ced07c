// Package metrics exposes Prometheus collectors for the shotcast service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	captureTargetsTotal        *prometheus.CounterVec
	captureBytesTotal          *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	probeFailuresTotal         *prometheus.CounterVec
	wsConnections              prometheus.Gauge
	wsMessagesTotal            *prometheus.CounterVec
	protocolErrorsTotal        prometheus.Counter
	commandsThrottledTotal     prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		captureTargetsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shotcast_capture_targets_total",
				Help: "Screenshots delivered, labeled by target site and source.",
			},
			[]string{"site", "source"},
		)

		captureBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shotcast_capture_bytes_total",
				Help: "Encoded screenshot bytes produced by the browser, labeled by site.",
			},
			[]string{"site"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		probeFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shotcast_probe_failures_total",
				Help: "Reachability probes that failed before a browser tab was opened.",
			},
			[]string{"site"},
		)

		wsConnections = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "shotcast_ws_connections",
				Help: "Number of connected WebSocket clients.",
			},
		)

		wsMessagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shotcast_ws_messages_total",
				Help: "WebSocket messages, labeled by direction and type.",
			},
			[]string{"direction", "type"},
		)

		protocolErrorsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "shotcast_protocol_errors_total",
				Help: "Client frames that could not be decoded into a command.",
			},
		)

		commandsThrottledTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "shotcast_commands_throttled_total",
				Help: "Commands rejected by the per-connection throttle.",
			},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCapture records a delivered screenshot. bytesCaptured is zero for cache hits.
func ObserveCapture(targetURL, source string, bytesCaptured int) {
	Init()
	site := SanitizeSite(targetURL)
	captureTargetsTotal.WithLabelValues(site, source).Inc()
	if bytesCaptured > 0 {
		captureBytesTotal.WithLabelValues(site).Add(float64(bytesCaptured))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveProbeFailure counts a failed reachability probe.
func ObserveProbeFailure(targetURL string) {
	Init()
	probeFailuresTotal.WithLabelValues(SanitizeSite(targetURL)).Inc()
}

// IncConnections increments the connected clients gauge.
func IncConnections() {
	Init()
	wsConnections.Inc()
}

// DecConnections decrements the connected clients gauge.
func DecConnections() {
	Init()
	wsConnections.Dec()
}

// ObserveMessage counts a WebSocket message. direction is "in" or "out".
func ObserveMessage(direction, msgType string) {
	Init()
	wsMessagesTotal.WithLabelValues(direction, msgType).Inc()
}

// ObserveProtocolError counts an undecodable client frame.
func ObserveProtocolError() {
	Init()
	protocolErrorsTotal.Inc()
}

// ObserveThrottled counts a command rejected by the connection throttle.
func ObserveThrottled() {
	Init()
	commandsThrottledTotal.Inc()
}
