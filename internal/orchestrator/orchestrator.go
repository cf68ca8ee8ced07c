// Package orchestrator services the capture commands of a single connected
// client. Every accepted Start runs as its own flight: the capture pipeline
// races a Cancel for the same requestId, and exactly one terminal message is
// delivered for it.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/JakeFAU/shotcast/internal/capture"
	"github.com/JakeFAU/shotcast/internal/fingerprint"
	"github.com/JakeFAU/shotcast/internal/progress"
	"github.com/JakeFAU/shotcast/internal/protocol"
	"github.com/JakeFAU/shotcast/internal/state"
)

// DefaultTopic is the event type published after a fresh capture is stored.
const DefaultTopic = "screenshot.captured"

const defaultCancelGrace = 500 * time.Millisecond

var tracer = otel.Tracer("github.com/JakeFAU/shotcast/internal/orchestrator")

// Sender delivers server messages to the owning connection.
type Sender interface {
	Send(ctx context.Context, msg protocol.Message) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, msg protocol.Message) error

// Send implements Sender.
func (f SenderFunc) Send(ctx context.Context, msg protocol.Message) error {
	return f(ctx, msg)
}

// Resolver derives the strategy and fingerprint of a request.
type Resolver interface {
	Resolve(req capture.Request) fingerprint.Resolution
}

// Throttle limits how fast one client may issue Start commands.
type Throttle interface {
	Allow(clientID string) bool
}

// Config tunes an Orchestrator.
type Config struct {
	// CancelGrace is how long a cancelled flight waits before confirming.
	CancelGrace time.Duration
	// MaxDelaySecs bounds the requested settle delay.
	MaxDelaySecs int
	// InlineFallbackMaxBytes is the largest image returned as a data: URL
	// when it could not be stored. Zero disables the fallback.
	InlineFallbackMaxBytes int
	// Topic is the event type used for completion notifications.
	Topic string
}

// Deps are the collaborators shared by every orchestrator of the process.
// Prober, Publisher, Throttle and Progress are optional.
type Deps struct {
	Projects  capture.ProjectFinder
	Resolver  Resolver
	Cache     capture.CacheStore
	Driver    capture.Driver
	Limiter   capture.RateLimiter
	Prober    capture.Prober
	Publisher capture.Publisher
	Throttle  Throttle
	Progress  progress.Emitter
	Clock     capture.Clock
	Logger    *zap.Logger
}

func (d Deps) validate() error {
	var missing []error
	if d.Projects == nil {
		missing = append(missing, errors.New("project finder"))
	}
	if d.Resolver == nil {
		missing = append(missing, errors.New("resolver"))
	}
	if d.Cache == nil {
		missing = append(missing, errors.New("cache store"))
	}
	if d.Driver == nil {
		missing = append(missing, errors.New("capture driver"))
	}
	if d.Limiter == nil {
		missing = append(missing, errors.New("rate limiter"))
	}
	if d.Clock == nil {
		missing = append(missing, errors.New("clock"))
	}
	if len(missing) > 0 {
		return fmt.Errorf("orchestrator dependencies missing: %w", errors.Join(missing...))
	}
	return nil
}

// Orchestrator owns the request states of one client.
type Orchestrator struct {
	clientID string
	cfg      Config
	deps     Deps
	out      Sender
	logger   *zap.Logger

	mu      sync.Mutex
	states  map[string]state.State
	flights map[string]*flight
	wg      sync.WaitGroup
}

type flight struct {
	cancel    chan struct{}
	cancelOne sync.Once
	startedAt time.Time
}

func (f *flight) requestCancel() {
	f.cancelOne.Do(func() { close(f.cancel) })
}

// New builds the orchestrator for clientID. Messages for the client are
// written to out.
func New(clientID string, cfg Config, deps Deps, out Sender) (*Orchestrator, error) {
	if clientID == "" {
		return nil, errors.New("orchestrator requires a client id")
	}
	if out == nil {
		return nil, errors.New("orchestrator requires a sender")
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if cfg.CancelGrace <= 0 {
		cfg.CancelGrace = defaultCancelGrace
	}
	if cfg.MaxDelaySecs <= 0 {
		cfg.MaxDelaySecs = capture.DefaultMaxDelaySecs
	}
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if deps.Progress == nil {
		deps.Progress = progress.Discard{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		clientID: clientID,
		cfg:      cfg,
		deps:     deps,
		out:      out,
		logger:   logger.Named("orchestrator").With(zap.String("client_id", clientID)),
		states:   make(map[string]state.State),
		flights:  make(map[string]*flight),
	}, nil
}

// ClientID returns the client this orchestrator serves.
func (o *Orchestrator) ClientID() string {
	return o.clientID
}

// Run handles commands from inbox until it is closed or ctx ends. On return
// every flight has been abandoned and its goroutine has exited; no further
// messages are sent.
func (o *Orchestrator) Run(ctx context.Context, inbox <-chan protocol.Command) {
	ctx, cancel := context.WithCancel(ctx)
	defer o.wg.Wait()
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-inbox:
			if !ok {
				return
			}
			o.Handle(ctx, cmd)
		}
	}
}

// Handle applies one command. Start forks a flight bound to ctx; Cancel
// signals the matching flight.
func (o *Orchestrator) Handle(ctx context.Context, cmd protocol.Command) {
	switch cmd.Type {
	case protocol.CommandStart:
		o.start(ctx, cmd.Request)
	case protocol.CommandCancel:
		o.cancel(cmd.RequestID())
	default:
		o.logger.Warn("ignoring unknown command", zap.String("type", string(cmd.Type)))
	}
}

// State returns the current state of requestID.
func (o *Orchestrator) State(requestID string) (state.State, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.states[requestID]
	return s, ok
}

// InFlight reports how many requests are loading or cancelling.
func (o *Orchestrator) InFlight() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.flights)
}

func (o *Orchestrator) start(ctx context.Context, req capture.Request) {
	req.ClientID = o.clientID
	o.mu.Lock()
	current := o.states[req.RequestID]
	if _, busy := o.flights[req.RequestID]; busy {
		o.mu.Unlock()
		o.logger.Warn("ignoring start for a request that is still running",
			zap.String("request_id", req.RequestID),
			zap.Stringer("status", current.Status),
		)
		return
	}
	f := &flight{cancel: make(chan struct{}), startedAt: o.deps.Clock.Now()}
	o.states[req.RequestID] = state.Reduce(current, state.Start(req.RequestID))
	o.flights[req.RequestID] = f
	o.wg.Add(1)
	o.mu.Unlock()

	o.emit(req, progress.StageRequestStart, func(*progress.Event) {})
	go o.race(ctx, f, req)
}

func (o *Orchestrator) cancel(requestID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	current, ok := o.states[requestID]
	f, running := o.flights[requestID]
	if !ok || !running || current.Status != state.Loading {
		o.logger.Debug("cancel ignored", zap.String("request_id", requestID))
		return
	}
	o.states[requestID] = state.Reduce(current, state.Cancel())
	f.requestCancel()
}

type result struct {
	screenshotID string
	imageType    capture.ImageType
	locator      string
	source       capture.Source
}

type outcome struct {
	res result
	err error
}

// race runs the pipeline for req and delivers exactly one terminal message,
// unless the connection goes away first.
func (o *Orchestrator) race(ctx context.Context, f *flight, req capture.Request) {
	defer o.wg.Done()
	pctx, abandon := context.WithCancel(ctx)
	defer abandon()

	logs := make(chan state.LogEntry)
	done := make(chan outcome, 1)
	logf := func(level state.Level, format string, args ...any) {
		entry := state.LogEntry{Level: level, Message: fmt.Sprintf(format, args...)}
		select {
		case logs <- entry:
		case <-pctx.Done():
		}
	}
	go func() {
		res, err := o.pipeline(pctx, req, logf)
		done <- outcome{res: res, err: err}
	}()

	for {
		select {
		case entry := <-logs:
			o.log(ctx, req.RequestID, entry)
		case out := <-done:
			if ctx.Err() != nil {
				o.drop(f, req)
				return
			}
			if o.complete(ctx, f, req, out) {
				return
			}
			abandon()
			o.confirmCancel(ctx, f, req)
			return
		case <-f.cancel:
			abandon()
			o.confirmCancel(ctx, f, req)
			return
		case <-ctx.Done():
			abandon()
			o.drop(f, req)
			return
		}
	}
}

// complete applies the pipeline outcome unless a cancel was recorded first,
// in which case it reports false and the outcome is discarded.
func (o *Orchestrator) complete(ctx context.Context, f *flight, req capture.Request, out outcome) bool {
	o.mu.Lock()
	current := o.states[req.RequestID]
	if current.Status != state.Loading {
		o.mu.Unlock()
		return false
	}
	if out.err != nil {
		problems := capture.ProblemsFrom(out.err, capture.KindCapture)
		o.states[req.RequestID] = state.Reduce(state.Reduce(current, state.Log(state.LevelError, summary(problems))), state.Fail(problems))
		delete(o.flights, req.RequestID)
		o.mu.Unlock()

		o.logger.Warn("capture request failed",
			zap.String("request_id", req.RequestID),
			zap.String("project_id", req.ProjectID),
			zap.Error(out.err),
		)
		o.send(ctx, protocol.LogMessage(req.RequestID, state.LogEntry{Level: state.LevelError, Message: summary(problems)}))
		o.send(ctx, protocol.FailedMessage(req.RequestID, problems))
		o.emit(req, progress.StageRequestFailed, func(evt *progress.Event) {
			evt.Dur = o.since(f.startedAt)
			evt.Note = summary(problems)
		})
		return true
	}
	o.states[req.RequestID] = state.Reduce(current, state.Succeed(out.res.locator))
	delete(o.flights, req.RequestID)
	o.mu.Unlock()

	o.logger.Info("capture request succeeded",
		zap.String("request_id", req.RequestID),
		zap.String("project_id", req.ProjectID),
		zap.String("screenshot_id", out.res.screenshotID),
		zap.String("source", string(out.res.source)),
	)
	o.send(ctx, protocol.SucceededMessage(req.RequestID, out.res.screenshotID, out.res.imageType, out.res.locator, out.res.source))
	o.emit(req, progress.StageRequestSucceeded, func(evt *progress.Event) {
		evt.Source = out.res.source
		evt.Dur = o.since(f.startedAt)
	})
	return true
}

func (o *Orchestrator) confirmCancel(ctx context.Context, f *flight, req capture.Request) {
	o.log(ctx, req.RequestID, state.LogEntry{Level: state.LevelInfo, Message: "cancelling"})
	timer := time.NewTimer(o.cfg.CancelGrace)
	select {
	case <-timer.C:
	case <-ctx.Done():
		timer.Stop()
		o.drop(f, req)
		return
	}
	o.log(ctx, req.RequestID, state.LogEntry{Level: state.LevelNotice, Message: "cancelled"})

	o.mu.Lock()
	o.states[req.RequestID] = state.Reduce(o.states[req.RequestID], state.CancelDone())
	delete(o.flights, req.RequestID)
	o.mu.Unlock()

	o.logger.Info("capture request cancelled", zap.String("request_id", req.RequestID))
	o.send(ctx, protocol.CancelledMessage(req.RequestID))
	o.emit(req, progress.StageRequestCancelled, func(evt *progress.Event) {
		evt.Dur = o.since(f.startedAt)
	})
}

// drop forgets a flight whose client disconnected.
func (o *Orchestrator) drop(f *flight, req capture.Request) {
	o.mu.Lock()
	current := o.states[req.RequestID]
	o.states[req.RequestID] = state.Reduce(state.Reduce(current, state.Cancel()), state.CancelDone())
	delete(o.flights, req.RequestID)
	o.mu.Unlock()
	o.emit(req, progress.StageRequestCancelled, func(evt *progress.Event) {
		evt.Dur = o.since(f.startedAt)
		evt.Note = "client disconnected"
	})
}

func (o *Orchestrator) log(ctx context.Context, requestID string, entry state.LogEntry) {
	o.mu.Lock()
	o.states[requestID] = state.Reduce(o.states[requestID], state.Log(entry.Level, entry.Message))
	o.mu.Unlock()
	o.send(ctx, protocol.LogMessage(requestID, entry))
}

func (o *Orchestrator) send(ctx context.Context, msg protocol.Message) {
	if err := o.out.Send(ctx, msg); err != nil {
		o.logger.Debug("message not delivered",
			zap.String("request_id", msg.RequestID),
			zap.String("type", string(msg.Type)),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) emit(req capture.Request, stage progress.Stage, fill func(*progress.Event)) {
	evt := progress.Event{
		ClientID:  o.clientID,
		RequestID: req.RequestID,
		ProjectID: req.ProjectID,
		TS:        o.deps.Clock.Now(),
		Stage:     stage,
		TargetURL: req.TargetURL,
	}
	fill(&evt)
	o.deps.Progress.Emit(evt)
}

func (o *Orchestrator) since(t time.Time) time.Duration {
	d := o.deps.Clock.Now().Sub(t)
	if d < 0 {
		return 0
	}
	return d
}

func summary(problems []capture.Problem) string {
	if len(problems) == 0 {
		return "request failed"
	}
	return problems[0].Message
}
