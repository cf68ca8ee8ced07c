package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/JakeFAU/shotcast/internal/logging"
	"github.com/JakeFAU/shotcast/internal/metrics"
	"github.com/JakeFAU/shotcast/internal/orchestrator"
	"github.com/JakeFAU/shotcast/internal/protocol"
	queueMemory "github.com/JakeFAU/shotcast/internal/queue/memory"
)

const (
	defaultOutboxDepth  = 64
	defaultWriteTimeout = 10 * time.Second
)

// serveWebSocket upgrades the request and binds the connection to a fresh
// orchestrator until either side closes it.
func (s *Server) serveWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.WebSocket.AllowedOrigins,
	})
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.CloseNow() //nolint:errcheck // best-effort close after the handshake
	if s.cfg.WebSocket.ReadLimitBytes > 0 {
		conn.SetReadLimit(s.cfg.WebSocket.ReadLimitBytes)
	}

	clientID, err := s.ids.NewID()
	if err != nil {
		s.logger.Error("client id allocation failed", zap.Error(err))
		_ = conn.Close(websocket.StatusInternalError, "internal error")
		return
	}
	logger := logging.ForClient(s.logger, clientID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	depth := s.cfg.WebSocket.OutboxDepth
	if depth <= 0 {
		depth = defaultOutboxDepth
	}
	outbox := queueMemory.NewQueue[protocol.Message](depth)
	sender := orchestrator.SenderFunc(func(ctx context.Context, msg protocol.Message) error {
		return outbox.Enqueue(ctx, msg)
	})

	if err := s.registry.Connect(ctx, clientID, sender); err != nil {
		logger.Warn("client rejected", zap.Error(err))
		_ = conn.Close(websocket.StatusTryAgainLater, "server is shutting down")
		return
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer cancel()
		s.writeLoop(ctx, conn, outbox, logger)
	}()

	s.readLoop(ctx, conn, clientID, logger)

	cancel()
	if err := s.registry.Disconnect(clientID); err != nil {
		logger.Debug("disconnect", zap.Error(err))
	}
	outbox.Close()
	<-writerDone
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

// readLoop decodes client frames and routes them until the connection fails.
// Malformed frames are logged and skipped.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, clientID string, logger *zap.Logger) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			s.logReadError(ctx, err, logger)
			return
		}
		if typ != websocket.MessageText {
			metrics.ObserveProtocolError()
			logger.Warn("ignoring binary frame", zap.Int("bytes", len(data)))
			continue
		}
		cmd, err := protocol.DecodeCommand(data)
		if err != nil {
			metrics.ObserveProtocolError()
			logger.Warn("ignoring malformed command", zap.Error(err))
			continue
		}
		metrics.ObserveMessage("in", string(cmd.Type))
		if err := s.registry.Route(ctx, clientID, cmd); err != nil {
			logger.Debug("route stopped", zap.String("request_id", cmd.RequestID()), zap.Error(err))
			return
		}
	}
}

func (s *Server) logReadError(ctx context.Context, err error, logger *zap.Logger) {
	switch status := websocket.CloseStatus(err); {
	case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
		logger.Debug("client closed connection", zap.Int("status", int(status)))
	case ctx.Err() != nil || errors.Is(err, context.Canceled):
		logger.Debug("connection context ended", zap.Error(err))
	default:
		logger.Info("connection read failed", zap.Error(err))
	}
}

// writeLoop drains the outbox onto the connection. It stops when the outbox
// is closed, ctx ends, or a write fails.
func (s *Server) writeLoop(
	ctx context.Context,
	conn *websocket.Conn,
	outbox *queueMemory.Queue[protocol.Message],
	logger *zap.Logger,
) {
	timeout := time.Duration(s.cfg.WebSocket.WriteTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}
	for {
		msg, err := outbox.Dequeue(ctx)
		if err != nil {
			return
		}
		writeCtx, cancel := context.WithTimeout(ctx, timeout)
		err = wsjson.Write(writeCtx, conn, msg)
		cancel()
		if err != nil {
			logger.Info("connection write failed", zap.String("request_id", msg.RequestID), zap.Error(err))
			return
		}
		metrics.ObserveMessage("out", string(msg.Type))
	}
}
