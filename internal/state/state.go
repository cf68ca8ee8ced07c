// Package state implements the per-request lifecycle as a tagged state value
// and a pure transition function. Orchestrators keep one State per requestId
// and fold every produced Event through Reduce.
package state

import (
	"slices"

	"github.com/JakeFAU/shotcast/internal/capture"
)

// Status discriminates the State union. The zero value is Idle.
type Status uint8

// Lifecycle statuses.
const (
	Idle Status = iota
	Loading
	Cancelling
	Cancelled
	Failed
	Succeeded
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Cancelling:
		return "cancelling"
	case Cancelled:
		return "cancelled"
	case Failed:
		return "failed"
	case Succeeded:
		return "succeeded"
	default:
		return "unknown"
	}
}

// Terminal reports whether s ends a request's lifecycle.
func (s Status) Terminal() bool {
	return s == Succeeded || s == Failed || s == Cancelled
}

// Level is the severity of a client-visible log line.
type Level string

// Log levels.
const (
	LevelInfo   Level = "info"
	LevelNotice Level = "notice"
	LevelWarn   Level = "warn"
	LevelError  Level = "error"
)

// LogEntry is one client-visible log line.
type LogEntry struct {
	Level   Level
	Message string
}

// State is the lifecycle of one request. RequestID is bound while Loading and
// kept afterwards; Problems is only set when Failed and Locator only when
// Succeeded.
type State struct {
	Status    Status
	RequestID string
	Logs      []LogEntry
	Problems  []capture.Problem
	Locator   string
}

// EventKind discriminates Event values.
type EventKind uint8

// Events accepted by Reduce.
const (
	EventStart EventKind = iota + 1
	EventLog
	EventCancel
	EventSucceed
	EventFail
	EventCancelled
)

// Event is an input to Reduce.
type Event struct {
	Kind      EventKind
	RequestID string
	Entry     LogEntry
	Locator   string
	Problems  []capture.Problem
}

// Start binds a request and begins loading.
func Start(requestID string) Event {
	return Event{Kind: EventStart, RequestID: requestID}
}

// Log appends a line in any state.
func Log(level Level, message string) Event {
	return Event{Kind: EventLog, Entry: LogEntry{Level: level, Message: message}}
}

// Cancel requests cancellation of a loading request.
func Cancel() Event {
	return Event{Kind: EventCancel}
}

// Succeed completes a loading request.
func Succeed(locator string) Event {
	return Event{Kind: EventSucceed, Locator: locator}
}

// Fail completes a loading request with problems.
func Fail(problems []capture.Problem) Event {
	return Event{Kind: EventFail, Problems: problems}
}

// CancelDone finishes a cancellation.
func CancelDone() Event {
	return Event{Kind: EventCancelled}
}

// Reduce returns the state that follows s after e. It never mutates s and
// treats every unlisted (state, event) pair as a no-op.
func Reduce(s State, e Event) State {
	switch e.Kind {
	case EventLog:
		next := s
		next.Logs = append(slices.Clip(s.Logs), e.Entry)
		return next
	case EventStart:
		if s.Status == Idle || s.Status.Terminal() {
			return State{Status: Loading, RequestID: e.RequestID, Logs: []LogEntry{}}
		}
	case EventCancel:
		if s.Status == Loading {
			return State{Status: Cancelling, RequestID: s.RequestID, Logs: s.Logs}
		}
	case EventSucceed:
		if s.Status == Loading {
			return State{Status: Succeeded, RequestID: s.RequestID, Logs: s.Logs, Locator: e.Locator}
		}
	case EventFail:
		if s.Status == Loading {
			return State{
				Status:    Failed,
				RequestID: s.RequestID,
				Logs:      s.Logs,
				Problems:  slices.Clone(e.Problems),
			}
		}
	case EventCancelled:
		if s.Status == Cancelling {
			return State{Status: Cancelled, RequestID: s.RequestID, Logs: s.Logs}
		}
	}
	return s
}
