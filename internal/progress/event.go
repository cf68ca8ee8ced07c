package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/shotcast/internal/capture"
)

// Stage denotes the milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRequestStart     Stage = "REQUEST_START"
	StageCacheHit         Stage = "CACHE_HIT"
	StageCaptureDone      Stage = "CAPTURE_DONE"
	StageRequestSucceeded Stage = "REQUEST_SUCCEEDED"
	StageRequestFailed    Stage = "REQUEST_FAILED"
	StageRequestCancelled Stage = "REQUEST_CANCELLED"
)

// Terminal reports whether the stage ends a request.
func (s Stage) Terminal() bool {
	return s == StageRequestSucceeded || s == StageRequestFailed || s == StageRequestCancelled
}

// Event is one lifecycle milestone of a capture request.
type Event struct {
	// ClientID and RequestID jointly identify the request.
	ClientID  string
	RequestID string
	ProjectID string
	// TS is the UTC timestamp recorded by the emitter.
	TS    time.Time
	Stage Stage
	// TargetURL is the captured page; it should not contain credentials.
	TargetURL string
	// Source is set on success.
	Source capture.Source
	// Bytes is the encoded image size for CAPTURE_DONE.
	Bytes int64
	// Dur is the capture latency for CAPTURE_DONE and the total request time
	// for terminal stages.
	Dur time.Duration
	// Note carries the failure summary for REQUEST_FAILED.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.ClientID == "" || e.RequestID == "" {
		return errors.New("client id and request id are required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRequestStart, StageRequestFailed, StageRequestCancelled:
	case StageCacheHit:
	case StageCaptureDone:
		if e.TargetURL == "" {
			return errors.New("capture done requires target url")
		}
	case StageRequestSucceeded:
		if e.Source == "" {
			return errors.New("request succeeded requires source")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// Key returns a map key unique to the event's request.
func (e Event) Key() string {
	return e.ClientID + "/" + e.RequestID
}
