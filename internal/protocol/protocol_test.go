package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/shotcast/internal/capture"
	"github.com/JakeFAU/shotcast/internal/state"
)

func TestDecodeStart(t *testing.T) {
	t.Parallel()

	cmd, err := DecodeCommand([]byte(`{
		"type": "start",
		"requestId": "r1",
		"projectId": "p1",
		"targetUrl": " https://example.com ",
		"delaySecs": 3,
		"imageType": "JPG",
		"strategy": "Network-First",
		"originUrl": "https://app.example.com"
	}`))
	require.NoError(t, err)
	assert.Equal(t, CommandStart, cmd.Type)
	assert.Equal(t, "r1", cmd.RequestID())
	assert.Equal(t, capture.Request{
		RequestID: "r1",
		ProjectID: "p1",
		TargetURL: "https://example.com",
		DelaySecs: 3,
		ImageType: capture.ImageJPEG,
		Strategy:  capture.NetworkFirst,
		OriginURL: "https://app.example.com",
	}, cmd.Request)
}

func TestDecodeStartKeepsInvalidFieldsForValidation(t *testing.T) {
	t.Parallel()

	cmd, err := DecodeCommand([]byte(`{"type":"start","requestId":"r1","imageType":"gif","delaySecs":99}`))
	require.NoError(t, err)
	assert.Equal(t, capture.ImageType("gif"), cmd.Request.ImageType)
	assert.Error(t, cmd.Request.Validate(capture.DefaultMaxDelaySecs))
}

func TestDecodeStartRecordsMistypedFields(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		extra string
		want  []string
	}{
		{"fractional delay", `"delaySecs":3.5`, []string{"delaySecs must be a whole number of seconds"}},
		{"quoted delay", `"delaySecs":"3"`, []string{"delaySecs must be a whole number of seconds"}},
		{"object delay", `"delaySecs":{}`, []string{"delaySecs must be a whole number of seconds"}},
		{"numeric project", `"projectId":42`, []string{"projectId must be a string"}},
		{"null delay", `"delaySecs":null`, nil},
		{"integer delay", `"delaySecs":4`, nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			frame := `{"type":"start","requestId":"r1","targetUrl":"https://example.com","imageType":"png",` + tc.extra + `}`
			cmd, err := DecodeCommand([]byte(frame))
			require.NoError(t, err)
			assert.Equal(t, "r1", cmd.RequestID())
			assert.Equal(t, tc.want, cmd.Request.Malformed)
		})
	}
}

func TestMistypedDelayFailsValidation(t *testing.T) {
	t.Parallel()

	cmd, err := DecodeCommand([]byte(`{"type":"start","requestId":"r1","projectId":"p","targetUrl":"https://example.com","imageType":"png","delaySecs":3.5}`))
	require.NoError(t, err)

	err = cmd.Request.Validate(capture.DefaultMaxDelaySecs)
	require.Error(t, err)
	problems := capture.ProblemsFrom(err, capture.KindValidation)
	require.Len(t, problems, 1)
	assert.Equal(t, capture.KindValidation, problems[0].Kind)
	assert.Contains(t, problems[0].Message, "delaySecs")
}

func TestDecodeCancel(t *testing.T) {
	t.Parallel()

	cmd, err := DecodeCommand([]byte(`{"type":"cancel","requestId":"r9","targetUrl":"ignored"}`))
	require.NoError(t, err)
	assert.Equal(t, CommandCancel, cmd.Type)
	assert.Equal(t, capture.Request{RequestID: "r9"}, cmd.Request)
}

func TestDecodeErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
	}{
		{"not json", `hello`},
		{"unknown type", `{"type":"pause","requestId":"r"}`},
		{"missing type", `{"requestId":"r"}`},
		{"missing request id", `{"type":"start"}`},
		{"blank request id", `{"type":"cancel","requestId":"  "}`},
		{"type not a string", `{"type":5,"requestId":"r"}`},
		{"numeric request id", `{"type":"start","requestId":7}`},
		{"array frame", `[{"type":"start"}]`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeCommand([]byte(tc.in))
			require.Error(t, err)
			assert.True(t, capture.IsKind(err, capture.KindProtocol))
		})
	}
}

func TestMessageJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msg  Message
		want string
	}{
		{
			"log",
			LogMessage("r1", state.LogEntry{Level: state.LevelInfo, Message: "opening page"}),
			`{"type":"log","requestId":"r1","level":"info","message":"opening page"}`,
		},
		{
			"succeeded",
			SucceededMessage("r1", "s1", capture.ImagePNG, "https://cdn/s1.png", capture.SourceCache),
			`{"type":"succeeded","requestId":"r1","screenshotId":"s1","imageType":"png","locator":"https://cdn/s1.png","source":"cache"}`,
		},
		{
			"failed",
			FailedMessage("r1", []capture.Problem{{Kind: capture.KindRateLimit, Message: "limit"}}),
			`{"type":"failed","requestId":"r1","problems":[{"kind":"rate_limit","message":"limit"}]}`,
		},
		{
			"cancelled",
			CancelledMessage("r1"),
			`{"type":"cancelled","requestId":"r1"}`,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			data, err := json.Marshal(tc.msg)
			require.NoError(t, err)
			assert.JSONEq(t, tc.want, string(data))
		})
	}
}

func TestTerminal(t *testing.T) {
	t.Parallel()

	assert.False(t, LogMessage("r", state.LogEntry{}).Terminal())
	assert.True(t, CancelledMessage("r").Terminal())
	assert.True(t, FailedMessage("r", nil).Terminal())
	assert.True(t, SucceededMessage("r", "", "", "", "").Terminal())
}
