package capture

import (
	"errors"
	"fmt"
)

// Kind classifies failures so they can be reported as typed problems.
type Kind string

// Error kinds surfaced to clients.
const (
	KindValidation Kind = "validation"
	KindNotFound   Kind = "not_found"
	KindRateLimit  Kind = "rate_limit"
	KindCapture    Kind = "capture"
	KindStorage    Kind = "storage"
	KindProtocol   Kind = "protocol"
)

// Problem is a user-facing error unit carried by Failed events.
type Problem struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
}

// Error is a classified failure. Msg is safe to show to clients; Err keeps the
// underlying cause for operators.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Msg
	}
	return fmt.Sprintf("%s: %v", e.Msg, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Problem converts the error into its client-facing form.
func (e *Error) Problem() Problem {
	return Problem{Kind: e.Kind, Message: e.Msg}
}

// ValidationErrorf reports malformed request fields.
func ValidationErrorf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

// NotFoundErrorf reports a missing referenced entity.
func NotFoundErrorf(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

// ProtocolErrorf reports a malformed or out-of-sequence client command.
func ProtocolErrorf(format string, args ...any) *Error {
	return &Error{Kind: KindProtocol, Msg: fmt.Sprintf(format, args...)}
}

// CaptureErrorf wraps a browser, navigation, or rendering failure.
func CaptureErrorf(err error, format string, args ...any) *Error {
	return &Error{Kind: KindCapture, Msg: fmt.Sprintf(format, args...), Err: err}
}

// StorageErrorf wraps a cache, ledger, or object storage failure.
func StorageErrorf(err error, format string, args ...any) *Error {
	return &Error{Kind: KindStorage, Msg: fmt.Sprintf(format, args...), Err: err}
}

// RateLimitExceeded reports that a project has used its daily ceiling.
func RateLimitExceeded(projectID string, ceiling int) *Error {
	return &Error{
		Kind: KindRateLimit,
		Msg:  fmt.Sprintf("project %s has reached its limit of %d requests per day", projectID, ceiling),
	}
}

// KindOf returns the kind of the first classified error in err's tree, or
// fallback when none is present.
func KindOf(err error, fallback Kind) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return fallback
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err, "") == kind
}

// ProblemsFrom flattens err (including errors.Join trees) into problems.
// Unclassified errors are reported under fallback.
func ProblemsFrom(err error, fallback Kind) []Problem {
	if err == nil {
		return nil
	}
	var out []Problem
	collectProblems(err, fallback, &out)
	return out
}

func collectProblems(err error, fallback Kind, out *[]Problem) {
	if ce, ok := err.(*Error); ok {
		*out = append(*out, ce.Problem())
		return
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, inner := range joined.Unwrap() {
			collectProblems(inner, fallback, out)
		}
		return
	}
	var ce *Error
	if errors.As(err, &ce) {
		*out = append(*out, ce.Problem())
		return
	}
	*out = append(*out, Problem{Kind: fallback, Message: err.Error()})
}
