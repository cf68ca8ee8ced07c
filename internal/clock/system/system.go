// Package system provides the wall clock used by the service and a manual
// clock for driving day-window logic deterministically.
package system

import (
	"sync"
	"time"
)

// Clock implements capture.Clock with UTC wall time.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time in UTC. Day windows for the rate limit are
// computed from this value, so it must never carry a local zone.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Manual is a capture.Clock that only moves when told to.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual returns a Manual clock pinned to t (converted to UTC).
func NewManual(t time.Time) *Manual {
	return &Manual{now: t.UTC()}
}

// Now returns the pinned time.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	m.mu.Unlock()
}

// Set pins the clock to t.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t.UTC()
	m.mu.Unlock()
}
