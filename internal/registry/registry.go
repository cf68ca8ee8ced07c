// Package registry tracks connected clients and the orchestrator serving
// each one. Commands are routed strictly by client id.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/shotcast/internal/metrics"
	"github.com/JakeFAU/shotcast/internal/orchestrator"
	"github.com/JakeFAU/shotcast/internal/protocol"
)

// Sentinel errors returned by Registry.
var (
	ErrDuplicateClient = errors.New("client already connected")
	ErrUnknownClient   = errors.New("client not connected")
	ErrClosed          = errors.New("registry closed")
)

// Factory builds the orchestrator for a newly connected client.
type Factory func(clientID string, out orchestrator.Sender) (*orchestrator.Orchestrator, error)

// Config tunes a Registry.
type Config struct {
	// InboxDepth buffers commands between the reader and the orchestrator.
	InboxDepth int
	// OnDisconnect, when set, runs after a client's orchestrator has stopped.
	OnDisconnect func(clientID string)
}

type session struct {
	orch   *orchestrator.Orchestrator
	inbox  chan protocol.Command
	cancel context.CancelFunc
	done   chan struct{}
}

// Registry maps client ids to running orchestrators.
type Registry struct {
	factory Factory
	cfg     Config
	logger  *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*session
	closed   bool
}

// New constructs a Registry that builds orchestrators with factory.
func New(factory Factory, cfg Config, logger *zap.Logger) (*Registry, error) {
	if factory == nil {
		return nil, errors.New("registry requires an orchestrator factory")
	}
	if cfg.InboxDepth <= 0 {
		cfg.InboxDepth = 16
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		factory:  factory,
		cfg:      cfg,
		logger:   logger.Named("registry"),
		sessions: make(map[string]*session),
	}, nil
}

// Connect starts an orchestrator for clientID whose messages go to out. The
// orchestrator lives until Disconnect, Close or ctx ends.
func (r *Registry) Connect(ctx context.Context, clientID string, out orchestrator.Sender) error {
	orch, err := r.factory(clientID, out)
	if err != nil {
		return fmt.Errorf("build orchestrator for %s: %w", clientID, err)
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if _, exists := r.sessions[clientID]; exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateClient, clientID)
	}
	runCtx, cancel := context.WithCancel(ctx)
	s := &session{
		orch:   orch,
		inbox:  make(chan protocol.Command, r.cfg.InboxDepth),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	r.sessions[clientID] = s
	r.mu.Unlock()

	metrics.IncConnections()
	go func() {
		defer close(s.done)
		orch.Run(runCtx, s.inbox)
	}()
	r.logger.Info("client connected", zap.String("client_id", clientID))
	return nil
}

// Route hands cmd to the orchestrator of clientID. It blocks while that
// client's inbox is full.
func (r *Registry) Route(ctx context.Context, clientID string, cmd protocol.Command) error {
	r.mu.RLock()
	s, ok := r.sessions[clientID]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownClient, clientID)
	}
	select {
	case s.inbox <- cmd:
		return nil
	case <-s.done:
		return fmt.Errorf("%w: %s", ErrUnknownClient, clientID)
	case <-ctx.Done():
		return fmt.Errorf("route command: %w", ctx.Err())
	}
}

// Disconnect cancels the client's orchestrator and waits until every flight
// has been released.
func (r *Registry) Disconnect(clientID string) error {
	r.mu.Lock()
	s, ok := r.sessions[clientID]
	if ok {
		delete(r.sessions, clientID)
	}
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownClient, clientID)
	}
	s.cancel()
	<-s.done
	metrics.DecConnections()
	if r.cfg.OnDisconnect != nil {
		r.cfg.OnDisconnect(clientID)
	}
	r.logger.Info("client disconnected", zap.String("client_id", clientID))
	return nil
}

// Orchestrator returns the orchestrator serving clientID.
func (r *Registry) Orchestrator(clientID string) (*orchestrator.Orchestrator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[clientID]
	if !ok {
		return nil, false
	}
	return s.orch, true
}

// Len reports the number of connected clients.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Clients lists the connected client ids.
func (r *Registry) Clients() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Close disconnects every client and rejects new connections.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	for _, id := range ids {
		if err := r.Disconnect(id); err != nil && !errors.Is(err, ErrUnknownClient) {
			r.logger.Warn("disconnect during close failed", zap.String("client_id", id), zap.Error(err))
		}
	}
}
