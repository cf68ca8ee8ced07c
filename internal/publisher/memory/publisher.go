// Package memory keeps screenshot.captured notifications in process. It backs
// the service when no Pub/Sub topic is configured and doubles as a test fake.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/JakeFAU/shotcast/internal/capture"
)

var (
	// ErrPublishFailed is returned by a Publisher configured to fail.
	ErrPublishFailed = errors.New("publish failed")
	// ErrUnsupportedPayload is returned for anything but a capture notification.
	ErrUnsupportedPayload = errors.New("payload is not a screenshot notification")
)

// Notification is one recorded publish.
type Notification struct {
	ID    string
	Topic string
	Event capture.ScreenshotCaptured
}

// Publisher implements capture.Publisher by appending to a slice.
type Publisher struct {
	mu   sync.RWMutex
	sent []Notification
	fail bool
}

// New returns a memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Failing returns a Publisher whose Publish always fails.
func Failing() *Publisher {
	return &Publisher{fail: true}
}

// Publish records a capture.ScreenshotCaptured (value or pointer) and returns
// a sequential message id.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	var evt capture.ScreenshotCaptured
	switch v := payload.(type) {
	case capture.ScreenshotCaptured:
		evt = v
	case *capture.ScreenshotCaptured:
		if v == nil {
			return "", ErrUnsupportedPayload
		}
		evt = *v
	default:
		return "", fmt.Errorf("%w: %T", ErrUnsupportedPayload, payload)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return "", ErrPublishFailed
	}
	id := fmt.Sprintf("memory-%d", len(p.sent)+1)
	p.sent = append(p.sent, Notification{ID: id, Topic: topic, Event: evt})
	return id, nil
}

// Notifications returns a copy of everything published so far.
func (p *Publisher) Notifications() []Notification {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Notification, len(p.sent))
	copy(out, p.sent)
	return out
}

// ForScreenshot returns the notifications announcing screenshotID.
func (p *Publisher) ForScreenshot(screenshotID string) []Notification {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []Notification
	for _, n := range p.sent {
		if n.Event.ScreenshotID == screenshotID {
			out = append(out, n)
		}
	}
	return out
}
