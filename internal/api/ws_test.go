package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/shotcast/internal/capture"
	"github.com/JakeFAU/shotcast/internal/config"
	"github.com/JakeFAU/shotcast/internal/protocol"
)

func dial(t *testing.T, h *harness, query string) (*websocket.Conn, context.Context) {
	t.Helper()

	srv := httptest.NewServer(h.server.Handler())
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws" + query
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn, ctx
}

// readUntilTerminal collects messages for requestID up to and including its
// terminal message.
func readUntilTerminal(ctx context.Context, t *testing.T, conn *websocket.Conn, requestID string) []protocol.Message {
	t.Helper()

	var msgs []protocol.Message
	for {
		var msg protocol.Message
		require.NoError(t, wsjson.Read(ctx, conn, &msg))
		if msg.RequestID != requestID {
			continue
		}
		msgs = append(msgs, msg)
		if msg.Terminal() {
			return msgs
		}
	}
}

func TestWebSocketCaptureRoundTrip(t *testing.T) {
	t.Parallel()

	h := newHarness(t, config.Config{})
	conn, ctx := dial(t, h, "")

	require.NoError(t, wsjson.Write(ctx, conn, map[string]any{
		"type":      "start",
		"requestId": "r-1",
		"projectId": "proj",
		"targetUrl": "https://example.com",
		"delaySecs": 1,
		"imageType": "png",
		"strategy":  "cache-first",
	}))
	msgs := readUntilTerminal(ctx, t, conn, "r-1")

	require.GreaterOrEqual(t, len(msgs), 3)
	assert.Equal(t, "opening page", msgs[0].Message)
	assert.Equal(t, "capturing in 1", msgs[1].Message)
	last := msgs[len(msgs)-1]
	require.Equal(t, protocol.MessageSucceeded, last.Type)
	assert.Equal(t, capture.SourceNetwork, last.Source)
	assert.Equal(t, capture.ImagePNG, last.ImageType)
	assert.True(t, strings.HasPrefix(last.Locator, "http://shots.test/v1/screenshots/screenshots/"), last.Locator)

	// The same fingerprint is now served from the cache.
	require.NoError(t, wsjson.Write(ctx, conn, map[string]any{
		"type":      "start",
		"requestId": "r-2",
		"projectId": "proj",
		"targetUrl": "https://example.com",
		"delaySecs": 1,
		"imageType": "png",
		"strategy":  "cache-first",
	}))
	cached := readUntilTerminal(ctx, t, conn, "r-2")
	require.Len(t, cached, 1)
	assert.Equal(t, capture.SourceCache, cached[0].Source)
	assert.Equal(t, last.ScreenshotID, cached[0].ScreenshotID)
}

func TestWebSocketMalformedFramesKeepConnection(t *testing.T) {
	t.Parallel()

	h := newHarness(t, config.Config{})
	conn, ctx := dial(t, h, "")

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("{not json")))
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"type":"explode","requestId":"x"}`)))
	require.NoError(t, conn.Write(ctx, websocket.MessageBinary, []byte{0x01}))

	require.NoError(t, wsjson.Write(ctx, conn, map[string]any{
		"type":      "start",
		"requestId": "r-bad",
		"projectId": "proj",
		"targetUrl": "ftp://example.com",
		"delaySecs": 0,
		"imageType": "gif",
		"strategy":  "cache-first",
	}))
	msgs := readUntilTerminal(ctx, t, conn, "r-bad")
	last := msgs[len(msgs)-1]
	require.Equal(t, protocol.MessageFailed, last.Type)
	require.Len(t, last.Problems, 2)
	for _, p := range last.Problems {
		assert.Equal(t, capture.KindValidation, p.Kind)
	}
}

func TestWebSocketCancel(t *testing.T) {
	t.Parallel()

	h := newHarness(t, config.Config{})
	conn, ctx := dial(t, h, "")

	require.NoError(t, wsjson.Write(ctx, conn, map[string]any{
		"type":      "start",
		"requestId": "r-slow",
		"projectId": "proj",
		"targetUrl": "https://example.com/slow",
		"delaySecs": 8,
		"imageType": "jpeg",
		"strategy":  "network-first",
	}))

	// Wait for the countdown to begin before cancelling.
	for {
		var msg protocol.Message
		require.NoError(t, wsjson.Read(ctx, conn, &msg))
		if strings.HasPrefix(msg.Message, "capturing in") {
			break
		}
	}
	require.NoError(t, wsjson.Write(ctx, conn, map[string]any{"type": "cancel", "requestId": "r-slow"}))

	msgs := readUntilTerminal(ctx, t, conn, "r-slow")
	last := msgs[len(msgs)-1]
	require.Equal(t, protocol.MessageCancelled, last.Type)
	for _, m := range msgs[:len(msgs)-1] {
		assert.Equal(t, protocol.MessageLog, m.Type)
	}
}

func TestWebSocketDisconnectReleasesClient(t *testing.T) {
	t.Parallel()

	h := newHarness(t, config.Config{})
	conn, ctx := dial(t, h, "")

	require.NoError(t, wsjson.Write(ctx, conn, map[string]any{
		"type":      "start",
		"requestId": "r-gone",
		"projectId": "proj",
		"targetUrl": "https://example.com/gone",
		"delaySecs": 8,
		"imageType": "png",
		"strategy":  "network-first",
	}))
	require.Eventually(t, func() bool { return h.reg.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, "bye"))
	require.Eventually(t, func() bool { return h.reg.Len() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestWebSocketRequiresAPIKey(t *testing.T) {
	t.Parallel()

	h := newHarness(t, config.Config{Auth: config.AuthConfig{Enabled: true, APIKey: "secret"}})
	srv := httptest.NewServer(h.server.Handler())
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws"
	_, resp, err := websocket.Dial(ctx, url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	conn, _ := dial(t, h, "?api_key=secret")
	require.NotNil(t, conn)
}

func TestWebSocketMistypedDelayIsAValidationFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, config.Config{})
	conn, ctx := dial(t, h, "")

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(
		`{"type":"start","requestId":"r-frac","projectId":"proj","targetUrl":"https://example.com","delaySecs":3.5,"imageType":"png","strategy":"network-first"}`,
	)))
	msgs := readUntilTerminal(ctx, t, conn, "r-frac")
	last := msgs[len(msgs)-1]
	require.Equal(t, protocol.MessageFailed, last.Type)
	require.Len(t, last.Problems, 1)
	assert.Equal(t, capture.KindValidation, last.Problems[0].Kind)
	assert.Contains(t, last.Problems[0].Message, "delaySecs")
}
