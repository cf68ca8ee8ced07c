// Package protocol defines the JSON frames exchanged with clients over the
// capture WebSocket.
package protocol

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/JakeFAU/shotcast/internal/capture"
	"github.com/JakeFAU/shotcast/internal/state"
)

// CommandType discriminates client frames.
type CommandType string

// Client commands.
const (
	CommandStart  CommandType = "start"
	CommandCancel CommandType = "cancel"
)

// MessageType discriminates server frames.
type MessageType string

// Server messages.
const (
	MessageLog       MessageType = "log"
	MessageSucceeded MessageType = "succeeded"
	MessageFailed    MessageType = "failed"
	MessageCancelled MessageType = "cancelled"
)

// Command is a decoded client frame. Request is fully populated for Start;
// for Cancel only Request.RequestID is set.
type Command struct {
	Type    CommandType
	Request capture.Request
}

// RequestID returns the request the command targets.
func (c Command) RequestID() string {
	return c.Request.RequestID
}

// DecodeCommand parses one client frame. Field-level validation of Start
// is left to the orchestrator so that it can be reported per request; only
// frames that cannot be attributed to a request fail here. Start fields of
// the wrong JSON type are recorded in Request.Malformed for the same reason.
func DecodeCommand(data []byte) (Command, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Command{}, capture.ProtocolErrorf("malformed command: %v", err)
	}
	rawType, ok := stringField(fields, "type")
	if !ok {
		return Command{}, capture.ProtocolErrorf("type must be a string")
	}
	typ := CommandType(strings.ToLower(strings.TrimSpace(rawType)))
	if typ != CommandStart && typ != CommandCancel {
		return Command{}, capture.ProtocolErrorf("unknown command type %q", rawType)
	}
	requestID, ok := stringField(fields, "requestId")
	if !ok || strings.TrimSpace(requestID) == "" {
		return Command{}, capture.ProtocolErrorf("%s command requires requestId", typ)
	}
	cmd := Command{Type: typ, Request: capture.Request{RequestID: requestID}}
	if typ == CommandCancel {
		return cmd, nil
	}

	req := &cmd.Request
	str := func(name string) string {
		v, ok := stringField(fields, name)
		if !ok {
			req.Malformed = append(req.Malformed, name+" must be a string")
		}
		return v
	}
	req.ProjectID = str("projectId")
	req.TargetURL = strings.TrimSpace(str("targetUrl"))
	rawImage := str("imageType")
	req.Strategy = capture.Strategy(strings.ToLower(strings.TrimSpace(str("strategy"))))
	req.OriginURL = str("originUrl")

	imageType, ok := capture.ParseImageType(rawImage)
	if !ok {
		imageType = capture.ImageType(rawImage)
	}
	req.ImageType = imageType

	delay, ok := intField(fields, "delaySecs")
	if !ok {
		req.Malformed = append(req.Malformed, "delaySecs must be a whole number of seconds")
	}
	req.DelaySecs = delay
	return cmd, nil
}

// stringField returns fields[name] as a string. Absent and null decode to "".
func stringField(fields map[string]json.RawMessage, name string) (string, bool) {
	raw, present := fields[name]
	if !present || isNull(raw) {
		return "", true
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", false
	}
	return v, true
}

// intField returns fields[name] as an int. Only integer literals are
// accepted; quoted numbers and fractions are not.
func intField(fields map[string]json.RawMessage, name string) (int, bool) {
	raw, present := fields[name]
	if !present || isNull(raw) {
		return 0, true
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] == '"' {
		return 0, false
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, false
	}
	v, err := strconv.ParseInt(n.String(), 10, 32)
	if err != nil {
		return 0, false
	}
	return int(v), true
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// Message is a server frame. Only the fields relevant to Type are set.
type Message struct {
	Type         MessageType       `json:"type"`
	RequestID    string            `json:"requestId"`
	Level        state.Level       `json:"level,omitempty"`
	Message      string            `json:"message,omitempty"`
	ScreenshotID string            `json:"screenshotId,omitempty"`
	ImageType    capture.ImageType `json:"imageType,omitempty"`
	Locator      string            `json:"locator,omitempty"`
	Source       capture.Source    `json:"source,omitempty"`
	Problems     []capture.Problem `json:"problems,omitempty"`
}

// LogMessage builds a log frame.
func LogMessage(requestID string, entry state.LogEntry) Message {
	return Message{Type: MessageLog, RequestID: requestID, Level: entry.Level, Message: entry.Message}
}

// SucceededMessage builds a success frame.
func SucceededMessage(requestID, screenshotID string, imageType capture.ImageType, locator string, source capture.Source) Message {
	return Message{
		Type:         MessageSucceeded,
		RequestID:    requestID,
		ScreenshotID: screenshotID,
		ImageType:    imageType,
		Locator:      locator,
		Source:       source,
	}
}

// FailedMessage builds a failure frame.
func FailedMessage(requestID string, problems []capture.Problem) Message {
	return Message{Type: MessageFailed, RequestID: requestID, Problems: problems}
}

// CancelledMessage builds a cancellation frame.
func CancelledMessage(requestID string) Message {
	return Message{Type: MessageCancelled, RequestID: requestID}
}

// Terminal reports whether m ends its request.
func (m Message) Terminal() bool {
	return m.Type == MessageSucceeded || m.Type == MessageFailed || m.Type == MessageCancelled
}
