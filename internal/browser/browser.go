// Package browser holds pieces shared by the capture drivers.
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/shotcast/internal/capture"
)

// ErrEmptyImage is returned when the browser produced no image bytes.
var ErrEmptyImage = errors.New("browser returned an empty image")

// ErrUnavailable is returned by Noop.
var ErrUnavailable = errors.New("browser capture is not configured")

// Settle waits delaySecs seconds after load so animations and lazy content
// can finish. tick, when non-nil, is called at the start of every second with
// the number of seconds still to wait. The wait ends early when ctx is done.
func Settle(ctx context.Context, delaySecs int, tick func(remaining int)) error {
	for remaining := delaySecs; remaining > 0; remaining-- {
		if tick != nil {
			tick(remaining)
		}
		timer := time.NewTimer(time.Second)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("settle interrupted: %w", ctx.Err())
		case <-timer.C:
		}
	}
	return nil
}

// Noop implements capture.Driver but always fails, for deployments that only
// serve cached screenshots.
type Noop struct{}

// NewNoop creates a new Noop driver.
func NewNoop() *Noop {
	return &Noop{}
}

// Capture returns ErrUnavailable.
func (Noop) Capture(context.Context, capture.CaptureOptions) ([]byte, error) {
	return nil, ErrUnavailable
}

// Close is a no-op.
func (Noop) Close() error { return nil }
