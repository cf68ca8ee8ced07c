// Package api exposes the HTTP interface for the shotcast service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/shotcast/internal/capture"
	"github.com/JakeFAU/shotcast/internal/config"
	"github.com/JakeFAU/shotcast/internal/metrics"
	"github.com/JakeFAU/shotcast/internal/registry"
	"github.com/JakeFAU/shotcast/internal/store"
)

// Downloader reads stored screenshot bytes.
type Downloader interface {
	Download(ctx context.Context, key string) ([]byte, error)
}

// Server wires HTTP handlers to the client registry and the object store.
type Server struct {
	router   chi.Router
	registry *registry.Registry
	objects  Downloader
	ids      capture.IDGenerator
	cfg      config.Config
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes. objects may be
// nil when screenshots are served from elsewhere.
func NewServer(
	reg *registry.Registry,
	objects Downloader,
	ids capture.IDGenerator,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		registry: reg,
		objects:  objects,
		ids:      ids,
		cfg:      cfg,
		logger:   logger.Named("api"),
	}
	timeout := time.Duration(cfg.Server.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		// Long-lived; kept outside the timeout handler, which cannot hijack.
		r.Get("/v1/ws", s.serveWebSocket)
		r.With(timeoutMiddleware(timeout)).Get("/v1/screenshots/*", s.downloadScreenshot)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "clients": s.registry.Len()})
}

func (s *Server) downloadScreenshot(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimLeft(chi.URLParam(r, "*"), "/")
	if key == "" || s.objects == nil {
		writeError(w, http.StatusNotFound, "screenshot not found")
		return
	}
	data, err := s.objects.Download(r.Context(), key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "screenshot not found")
			return
		}
		s.logger.Error("screenshot download failed", zap.String("key", key), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read screenshot")
		return
	}
	w.Header().Set("Content-Type", contentTypeFor(key))
	w.Header().Set("Cache-Control", "public, max-age=86400, immutable")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Debug("screenshot write failed", zap.String("key", key), zap.Error(err))
	}
}

func contentTypeFor(key string) string {
	if t, ok := capture.ParseImageType(strings.TrimPrefix(path.Ext(key), ".")); ok {
		return t.ContentType()
	}
	return "application/octet-stream"
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
