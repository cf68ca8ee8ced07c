// Package throttle implements a per-connection token bucket so one noisy
// client cannot flood the orchestrator with commands.
package throttle

import (
	"sync"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/shotcast/internal/metrics"
)

// Config holds throttle configuration.
type Config struct {
	// CommandsPerSecond is the sustained rate per client. Zero or less disables throttling.
	CommandsPerSecond float64
	Burst             int
}

// Limiter manages per-client rate limits.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.CommandsPerSecond)
	if cfg.CommandsPerSecond <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: burst,
	}
}

// Allow reports whether clientID may issue another command now.
func (l *Limiter) Allow(clientID string) bool {
	l.mu.Lock()
	limiter, exists := l.limiters[clientID]
	if !exists {
		limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.limiters[clientID] = limiter
	}
	l.mu.Unlock()

	if limiter.Allow() {
		return true
	}
	metrics.ObserveThrottled()
	return false
}

// Forget drops the bucket for a disconnected client.
func (l *Limiter) Forget(clientID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.limiters, clientID)
}

// Len reports how many clients currently hold a bucket.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
