package orchestrator

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/shotcast/internal/browser"
	"github.com/JakeFAU/shotcast/internal/cache"
	"github.com/JakeFAU/shotcast/internal/capture"
	"github.com/JakeFAU/shotcast/internal/metrics"
	"github.com/JakeFAU/shotcast/internal/progress"
	"github.com/JakeFAU/shotcast/internal/state"
	"github.com/JakeFAU/shotcast/internal/store"
)

type logFunc func(level state.Level, format string, args ...any)

var errThrottled = &capture.Error{Kind: capture.KindRateLimit, Msg: "too many commands"}

// pipeline resolves one request to a screenshot. It never sends messages
// itself; client-visible progress goes through logf so it stays ordered with
// the terminal message.
func (o *Orchestrator) pipeline(ctx context.Context, req capture.Request, logf logFunc) (result, error) {
	ctx, span := tracer.Start(ctx, "capture.request")
	defer span.End()

	res, err := o.resolve(ctx, req, logf)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result{}, err
	}
	span.SetAttributes(attribute.String("shotcast.source", string(res.source)))
	return res, nil
}

func (o *Orchestrator) resolve(ctx context.Context, req capture.Request, logf logFunc) (result, error) {
	if o.deps.Throttle != nil && !o.deps.Throttle.Allow(o.clientID) {
		return result{}, errThrottled
	}
	if err := req.Validate(o.cfg.MaxDelaySecs); err != nil {
		return result{}, err
	}
	project, err := o.findProject(ctx, req.ProjectID)
	if err != nil {
		return result{}, err
	}
	if !project.AllowsOrigin(req.OriginURL) {
		return result{}, capture.ValidationErrorf("origin %q is not allowed for project %s", req.OriginURL, project.ID)
	}

	resolution := o.deps.Resolver.Resolve(req)
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("shotcast.client_id", req.ClientID),
		attribute.String("shotcast.request_id", req.RequestID),
		attribute.String("shotcast.project_id", req.ProjectID),
		attribute.String("shotcast.strategy", string(resolution.Strategy)),
		attribute.Int("shotcast.delay_secs", req.DelaySecs),
	)

	if resolution.Strategy == capture.CacheFirst {
		if res, ok := o.lookup(ctx, req, resolution.Fingerprint, logf); ok {
			return res, nil
		}
	}
	return o.captureFresh(ctx, req, project, resolution.Fingerprint, logf)
}

func (o *Orchestrator) findProject(ctx context.Context, projectID string) (capture.Project, error) {
	project, err := o.deps.Projects.FindProjectByID(ctx, projectID)
	switch {
	case err == nil:
		return project, nil
	case errors.Is(err, store.ErrNotFound) || capture.IsKind(err, capture.KindNotFound):
		return capture.Project{}, capture.NotFoundErrorf("project %s not found", projectID)
	default:
		return capture.Project{}, capture.StorageErrorf(err, "could not load project %s", projectID)
	}
}

// lookup consults the cache. Read failures degrade to a miss.
func (o *Orchestrator) lookup(
	ctx context.Context,
	req capture.Request,
	fp capture.Fingerprint,
	logf logFunc,
) (result, bool) {
	shot, hit, err := o.deps.Cache.FindByFingerprint(ctx, fp)
	if err != nil {
		o.logger.Warn("cache lookup failed",
			zap.String("request_id", req.RequestID),
			zap.String("fingerprint", fp.Key),
			zap.Error(err),
		)
		logf(state.LevelWarn, "cache unavailable, capturing a fresh screenshot")
		return result{}, false
	}
	if !hit {
		return result{}, false
	}
	o.emit(req, progress.StageCacheHit, func(*progress.Event) {})
	return result{
		screenshotID: shot.ID,
		imageType:    shot.ImageType,
		locator:      o.deps.Cache.LocatorFor(shot.ID, shot.ImageType),
		source:       capture.SourceCache,
	}, true
}

func (o *Orchestrator) captureFresh(
	ctx context.Context,
	req capture.Request,
	project capture.Project,
	fp capture.Fingerprint,
	logf logFunc,
) (result, error) {
	logf(state.LevelInfo, "opening page")
	if o.deps.Prober != nil {
		if err := o.deps.Prober.Probe(ctx, req.TargetURL); err != nil {
			return result{}, asCaptureError(err, "%s is not reachable", req.TargetURL)
		}
	}

	started := o.deps.Clock.Now()
	data, err := o.deps.Driver.Capture(ctx, capture.CaptureOptions{
		TargetURL: req.TargetURL,
		DelaySecs: req.DelaySecs,
		ImageType: req.ImageType,
		OnSettle: func(remaining int) {
			logf(state.LevelInfo, "capturing in %d", remaining)
		},
	})
	if ctx.Err() != nil {
		return result{}, context.Cause(ctx)
	}
	if err != nil {
		return result{}, asCaptureError(err, "could not capture %s", req.TargetURL)
	}
	if len(data) == 0 {
		return result{}, capture.CaptureErrorf(browser.ErrEmptyImage, "could not capture %s", req.TargetURL)
	}
	metrics.ObserveCapture(req.TargetURL, string(capture.SourceNetwork), len(data))
	o.emit(req, progress.StageCaptureDone, func(evt *progress.Event) {
		evt.Bytes = int64(len(data))
		evt.Dur = o.since(started)
	})

	if err := o.deps.Limiter.CheckAndReserve(ctx, project, req); err != nil {
		return result{}, err
	}
	return o.persist(ctx, req, fp, data, logf)
}

// persist stores the capture. When storing fails, a small enough image is
// still returned inline.
func (o *Orchestrator) persist(
	ctx context.Context,
	req capture.Request,
	fp capture.Fingerprint,
	data []byte,
	logf logFunc,
) (result, error) {
	shot, err := o.deps.Cache.PutOrFind(ctx, fp, data)
	if err != nil {
		o.logger.Warn("could not store screenshot",
			zap.String("request_id", req.RequestID),
			zap.String("screenshot_id", shot.ID),
			zap.Error(err),
		)
		if o.cfg.InlineFallbackMaxBytes <= 0 || len(data) > o.cfg.InlineFallbackMaxBytes {
			return result{}, err
		}
		logf(state.LevelWarn, "screenshot could not be stored, returning it inline")
		return result{
			screenshotID: shot.ID,
			imageType:    req.ImageType,
			locator:      cache.InlineLocator(data, req.ImageType),
			source:       capture.SourceNetwork,
		}, nil
	}

	locator := o.deps.Cache.LocatorFor(shot.ID, shot.ImageType)
	o.publish(ctx, req, shot, locator)
	return result{
		screenshotID: shot.ID,
		imageType:    shot.ImageType,
		locator:      locator,
		source:       capture.SourceNetwork,
	}, nil
}

func (o *Orchestrator) publish(ctx context.Context, req capture.Request, shot capture.Screenshot, locator string) {
	if o.deps.Publisher == nil {
		return
	}
	payload := capture.ScreenshotCaptured{
		ScreenshotID: shot.ID,
		ProjectID:    shot.ProjectID,
		TargetURL:    shot.TargetURL,
		DelaySecs:    shot.DelaySecs,
		ImageType:    shot.ImageType,
		Locator:      locator,
		CapturedAt:   o.deps.Clock.Now(),
	}
	id, err := o.deps.Publisher.Publish(ctx, o.cfg.Topic, payload)
	if err != nil {
		o.logger.Warn("publish failed",
			zap.String("request_id", req.RequestID),
			zap.String("screenshot_id", shot.ID),
			zap.Error(err),
		)
		return
	}
	o.logger.Debug("capture published", zap.String("message_id", id), zap.String("screenshot_id", shot.ID))
}

// asCaptureError keeps already classified errors and wraps the rest.
func asCaptureError(err error, format string, args ...any) error {
	var classified *capture.Error
	if errors.As(err, &classified) {
		return err
	}
	return capture.CaptureErrorf(err, format, args...)
}
