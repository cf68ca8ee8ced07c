// Package server provides the core application server and dependency injection.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/shotcast/internal/api"
	"github.com/JakeFAU/shotcast/internal/browser"
	"github.com/JakeFAU/shotcast/internal/browser/headless"
	rodbrowser "github.com/JakeFAU/shotcast/internal/browser/rod"
	"github.com/JakeFAU/shotcast/internal/cache"
	"github.com/JakeFAU/shotcast/internal/capture"
	"github.com/JakeFAU/shotcast/internal/clock/system"
	"github.com/JakeFAU/shotcast/internal/config"
	"github.com/JakeFAU/shotcast/internal/fingerprint"
	"github.com/JakeFAU/shotcast/internal/hash/sha256"
	"github.com/JakeFAU/shotcast/internal/id/uuid"
	"github.com/JakeFAU/shotcast/internal/logging"
	"github.com/JakeFAU/shotcast/internal/metrics"
	"github.com/JakeFAU/shotcast/internal/orchestrator"
	"github.com/JakeFAU/shotcast/internal/policy/throttle"
	collyprobe "github.com/JakeFAU/shotcast/internal/probe/colly"
	"github.com/JakeFAU/shotcast/internal/progress"
	progresssinks "github.com/JakeFAU/shotcast/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/shotcast/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/shotcast/internal/publisher/pubsub"
	"github.com/JakeFAU/shotcast/internal/ratelimit"
	"github.com/JakeFAU/shotcast/internal/registry"
	gcsstorage "github.com/JakeFAU/shotcast/internal/storage/gcs"
	localstorage "github.com/JakeFAU/shotcast/internal/storage/local"
	memoryStorage "github.com/JakeFAU/shotcast/internal/storage/memory"
	pgstore "github.com/JakeFAU/shotcast/internal/storage/postgres"
	redisstore "github.com/JakeFAU/shotcast/internal/storage/redis"
	sqlitestore "github.com/JakeFAU/shotcast/internal/storage/sqlite"
	"github.com/JakeFAU/shotcast/internal/store"
	"github.com/JakeFAU/shotcast/internal/telemetry"
)

// App contains the application's dependencies.
type App struct {
	cfg             *config.Config
	logger          *zap.Logger
	apiServer       *api.Server
	registry        *registry.Registry
	progressHub     *progress.Hub
	driver          io.Closer
	pubsubClient    *pubsub.Client
	pubsubPublisher *pubsub.Publisher
	storage         *storage.Client
	pgStore         *pgstore.Store
	sqliteStore     *sqlitestore.Store
	redisClient     *goredis.Client
	repos           repositories
	tracerShutdown  func(context.Context) error
}

// repositories are the metadata stores selected by database.driver.
type repositories struct {
	screenshots store.ScreenshotRepository
	ledger      store.RequestLedger
	projects    store.ProjectRepository
	runs        store.RunRepository
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	// Only non-sensitive fields.
	logger.Info("Creating application",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("browser_engine", cfg.Browser.Engine),
		zap.String("storage_backend", cfg.Storage.Backend),
		zap.String("database_driver", cfg.Database.Driver),
	)
	return &App{
		cfg:    cfg,
		logger: logger,
	}, nil
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Run starts the application and blocks until the context is canceled.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// WebSocket handlers outlive Shutdown, so their contexts hang off ctx.
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	return a.Close(shutdownCtx)
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	if a.registry != nil {
		a.registry.Close()
	}
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

//nolint:gocognit // Shutdown logic is linear but extensive, ignoring complexity check
func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.driver != nil {
		if err := a.driver.Close(); err != nil {
			a.logger.Warn("browser close failed", zap.Error(err))
		}
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
	}
	if a.pgStore != nil {
		a.pgStore.Close()
	}
	if a.sqliteStore != nil {
		if err := a.sqliteStore.Close(); err != nil {
			a.logger.Warn("sqlite close failed", zap.Error(err))
		}
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app, err := NewApp(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("app init failed: %w", err)
	}
	if err := app.build(ctx); err != nil {
		_ = app.Close(context.Background())
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	tp, err := telemetry.InitTracerProvider(ctx, a.cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("tracer init failed: %w", err)
	}
	a.tracerShutdown = tp.Shutdown
	metrics.Init()

	a.logger.Info("building application dependencies")
	clock := system.New()
	ids := uuid.New()

	objects, err := setupStorage(ctx, a)
	if err != nil {
		return err
	}
	if err := setupDatabase(ctx, a); err != nil {
		return err
	}
	if err := seedMemoryProjects(ctx, a); err != nil {
		return err
	}
	ledger, err := setupLedger(a)
	if err != nil {
		return err
	}
	publisher, err := setupPublisher(ctx, a)
	if err != nil {
		return err
	}
	emitter, err := setupProgress(a)
	if err != nil {
		return err
	}
	driver, err := setupBrowser(a)
	if err != nil {
		return err
	}

	cacheStore, err := cache.New(a.repos.screenshots, objects, ids, clock, cache.Config{
		Prefix:       a.cfg.Storage.Prefix,
		WriteTimeout: a.cfg.Capture.WriteTimeout(),
	}, a.logger.Named("cache"))
	if err != nil {
		return fmt.Errorf("cache init failed: %w", err)
	}
	limiter, err := ratelimit.NewDaily(ledger, clock, ids, a.cfg.RateLimit.MaxDailyRequests)
	if err != nil {
		return fmt.Errorf("rate limiter init failed: %w", err)
	}

	deps := orchestrator.Deps{
		Projects:  a.repos.projects,
		Resolver:  fingerprint.New(sha256.NewNamespaced(a.cfg.Storage.Prefix)),
		Cache:     cacheStore,
		Driver:    driver,
		Limiter:   limiter,
		Publisher: publisher,
		Progress:  emitter,
		Clock:     clock,
		Logger:    a.logger,
	}
	if a.cfg.Capture.ProbeEnabled {
		deps.Prober = collyprobe.New(collyprobe.Config{
			UserAgent: a.cfg.Browser.UserAgent,
			Timeout:   a.cfg.Capture.ProbeTimeout(),
		})
		a.logger.Info("reachability probe enabled", zap.Duration("timeout", a.cfg.Capture.ProbeTimeout()))
	}

	regCfg := registry.Config{InboxDepth: a.cfg.WebSocket.InboxDepth}
	if a.cfg.Throttle.Enabled {
		commands := throttle.New(throttle.Config{
			CommandsPerSecond: a.cfg.Throttle.CommandsPerSecond,
			Burst:             a.cfg.Throttle.Burst,
		})
		deps.Throttle = commands
		regCfg.OnDisconnect = commands.Forget
		a.logger.Info("command throttle enabled",
			zap.Float64("commands_per_second", a.cfg.Throttle.CommandsPerSecond),
			zap.Int("burst", a.cfg.Throttle.Burst),
		)
	}

	orchCfg := orchestrator.Config{
		CancelGrace:            a.cfg.Capture.CancelGrace(),
		MaxDelaySecs:           a.cfg.Capture.MaxDelaySecs,
		InlineFallbackMaxBytes: a.cfg.Capture.InlineFallbackMaxBytes,
		Topic:                  a.cfg.Capture.Topic,
	}
	a.registry, err = registry.New(func(clientID string, out orchestrator.Sender) (*orchestrator.Orchestrator, error) {
		return orchestrator.New(clientID, orchCfg, deps, out)
	}, regCfg, a.logger)
	if err != nil {
		return fmt.Errorf("registry init failed: %w", err)
	}

	a.apiServer = api.NewServer(a.registry, objects, ids, *a.cfg, a.logger)
	return nil
}

func setupStorage(ctx context.Context, app *App) (cache.ObjectStore, error) {
	switch app.cfg.Storage.Backend {
	case "gcs":
		app.logger.Info("using GCS storage backend")
		var err error
		app.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobStore, err := gcsstorage.New(app.storage, gcsstorage.Config{
			Bucket:        app.cfg.Storage.Bucket,
			PublicBaseURL: app.cfg.Storage.PublicBaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Debug("GCS storage backend", zap.String("bucket", app.cfg.Storage.Bucket))
		return blobStore, nil
	case "local":
		app.logger.Info("using local storage backend")
		blobStore, err := localstorage.New(localstorage.Config{
			BaseDir:       app.cfg.Storage.Local.BaseDir,
			PublicBaseURL: app.cfg.Server.PublicBaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Debug("local storage backend", zap.String("path", app.cfg.Storage.Local.BaseDir))
		return blobStore, nil
	default:
		app.logger.Info("using in-memory storage backend")
		return memoryStorage.NewBlobStore(app.cfg.Server.PublicBaseURL), nil
	}
}

func setupDatabase(ctx context.Context, app *App) error {
	switch app.cfg.Database.Driver {
	case "postgres":
		var err error
		app.pgStore, err = pgstore.New(ctx, pgstore.Config{
			DSN:             app.cfg.Database.DSN,
			MaxConns:        app.cfg.Database.MaxConns,
			MinConns:        app.cfg.Database.MinConns,
			MaxConnLifetime: time.Duration(app.cfg.Database.MaxConnLifetimeMinutes) * time.Minute,
		})
		if err != nil {
			return fmt.Errorf("postgres store init failed: %w", err)
		}
		if err := app.pgStore.Ping(ctx); err != nil {
			return fmt.Errorf("postgres unavailable: %w", err)
		}
		app.repos = repositories{
			screenshots: app.pgStore,
			ledger:      app.pgStore,
			projects:    app.pgStore,
			runs:        app.pgStore,
		}
		app.logger.Info("postgres metadata store initialized")
	case "sqlite":
		var err error
		app.sqliteStore, err = sqlitestore.New(ctx, app.cfg.Database.SQLitePath)
		if err != nil {
			return fmt.Errorf("sqlite store init failed: %w", err)
		}
		app.repos = repositories{
			screenshots: app.sqliteStore,
			ledger:      app.sqliteStore,
			projects:    app.sqliteStore,
			runs:        app.sqliteStore,
		}
		app.logger.Info("sqlite metadata store initialized", zap.String("path", app.cfg.Database.SQLitePath))
	default:
		app.logger.Warn("using in-memory metadata store; screenshots and ledgers are lost on restart")
		app.repos = repositories{
			screenshots: memoryStorage.NewScreenshotRepo(),
			ledger:      memoryStorage.NewLedger(),
			projects:    memoryStorage.NewProjectRepo(),
			runs:        memoryStorage.NewRunRepo(),
		}
	}
	return nil
}

// seedMemoryProjects loads the configured projects into the in-memory
// repository. Relational stores are seeded by the migrate command.
func seedMemoryProjects(ctx context.Context, app *App) error {
	if app.cfg.Database.Driver != "memory" && app.cfg.Database.Driver != "" {
		return nil
	}
	return SeedProjects(ctx, app.repos.projects, app.cfg.Projects)
}

// SeedProjects upserts every configured project into repo.
func SeedProjects(ctx context.Context, repo store.ProjectRepository, seeds []config.ProjectConfig) error {
	for _, p := range seeds {
		project := capture.Project{
			ID:                  p.ID,
			Whitelist:           p.Whitelist,
			DailyRequestCeiling: p.DailyRequestCeiling,
		}
		if err := repo.UpsertProject(ctx, project); err != nil {
			return fmt.Errorf("seed project %s: %w", p.ID, err)
		}
	}
	return nil
}

func setupLedger(app *App) (store.RequestLedger, error) {
	if app.cfg.RateLimit.Ledger != "redis" {
		return app.repos.ledger, nil
	}
	var err error
	app.redisClient, err = redisstore.NewClient(redisstore.Config{
		Addr:     app.cfg.Redis.Addr,
		Password: app.cfg.Redis.Password,
		DB:       app.cfg.Redis.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("redis client init failed: %w", err)
	}
	ledger, err := redisstore.NewLedger(app.redisClient, app.cfg.Redis.KeyPrefix+":requests:")
	if err != nil {
		return nil, fmt.Errorf("redis ledger init failed: %w", err)
	}
	app.logger.Info("using redis rate-limit ledger", zap.String("addr", app.cfg.Redis.Addr))
	return ledger, nil
}

func setupPublisher(ctx context.Context, app *App) (capture.Publisher, error) {
	if app.cfg.PubSub.TopicName == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Warn("No Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	var err error
	app.pubsubClient, err = pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubPublisher = app.pubsubClient.Publisher(app.cfg.PubSub.TopicName)
	app.logger.Info(
		"Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return gcppublisher.New(app.pubsubPublisher), nil
}

func setupProgress(app *App) (progress.Emitter, error) {
	if !app.cfg.Progress.Enabled {
		app.logger.Info("progress tracking disabled")
		return progress.Discard{}, nil
	}
	promSink, err := progresssinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, fmt.Errorf("prometheus progress sink init failed: %w", err)
	}
	sinkList := []progress.Sink{
		promSink,
		progresssinks.NewStoreSink(app.repos.runs, app.logger.Named("progress_store")),
	}
	if app.cfg.Progress.LogEnabled {
		sinkList = append(sinkList, progresssinks.NewLogSink(app.logger.Named("progress_log")))
		app.logger.Debug("Added progress log sink")
	}
	hubCfg := progress.Config{
		BufferSize:     app.cfg.Progress.BufferSize,
		MaxBatchEvents: app.cfg.Progress.Batch.MaxEvents,
		MaxBatchWait:   time.Duration(app.cfg.Progress.Batch.MaxWaitMS) * time.Millisecond,
		SinkTimeout:    time.Duration(app.cfg.Progress.SinkTimeoutMS) * time.Millisecond,
		Logger:         app.logger.Named("progress_hub"),
	}
	app.progressHub = progress.NewHub(hubCfg, sinkList...)
	app.logger.Info("progress hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
		zap.Duration("sink_timeout", hubCfg.SinkTimeout),
	)
	return app.progressHub, nil
}

func setupBrowser(app *App) (capture.Driver, error) {
	b := app.cfg.Browser
	switch b.Engine {
	case config.EngineChromedp:
		driver, err := headless.NewChromedp(headless.Config{
			MaxParallel:       b.MaxParallel,
			UserAgent:         b.UserAgent,
			NavigationTimeout: time.Duration(b.NavTimeoutSeconds) * time.Second,
			IdleTimeout:       time.Duration(b.IdleTimeoutMS) * time.Millisecond,
			ViewportWidth:     b.ViewportWidth,
			ViewportHeight:    b.ViewportHeight,
			JPEGQuality:       b.JPEGQuality,
		})
		if err != nil {
			return nil, fmt.Errorf("chromedp driver init failed: %w", err)
		}
		app.driver = driver
		app.logger.Info("using chromedp browser", zap.Int("max_parallel", b.MaxParallel))
		return driver, nil
	case config.EngineRod:
		driver, err := rodbrowser.New(rodbrowser.Config{
			RemoteURL:         b.RemoteURL,
			MaxParallel:       b.MaxParallel,
			UserAgent:         b.UserAgent,
			NavigationTimeout: time.Duration(b.NavTimeoutSeconds) * time.Second,
			IdleTimeout:       time.Duration(b.IdleTimeoutMS) * time.Millisecond,
			ViewportWidth:     b.ViewportWidth,
			ViewportHeight:    b.ViewportHeight,
			JPEGQuality:       b.JPEGQuality,
			Stealth:           b.Stealth,
		})
		if err != nil {
			return nil, fmt.Errorf("rod driver init failed: %w", err)
		}
		app.driver = driver
		app.logger.Info("using rod browser",
			zap.Int("max_parallel", b.MaxParallel),
			zap.Bool("stealth", b.Stealth),
			zap.Bool("remote", b.RemoteURL != ""),
		)
		return driver, nil
	default:
		app.logger.Warn("browser disabled; only cached screenshots can be served")
		return browser.NewNoop(), nil
	}
}

// Migrate creates the relational schema and upserts the configured projects.
func Migrate(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	switch cfg.Database.Driver {
	case "postgres":
		s, err := pgstore.New(ctx, pgstore.Config{DSN: cfg.Database.DSN, MaxConns: 1})
		if err != nil {
			return fmt.Errorf("postgres store init failed: %w", err)
		}
		defer s.Close()
		if err := s.Migrate(ctx); err != nil {
			return err
		}
		if err := SeedProjects(ctx, s, cfg.Projects); err != nil {
			return err
		}
	case "sqlite":
		s, err := sqlitestore.New(ctx, cfg.Database.SQLitePath)
		if err != nil {
			return fmt.Errorf("sqlite store init failed: %w", err)
		}
		defer func() { _ = s.Close() }()
		if err := SeedProjects(ctx, s, cfg.Projects); err != nil {
			return err
		}
	default:
		return fmt.Errorf("database.driver %q has no schema to migrate", cfg.Database.Driver)
	}
	logger.Info("migration complete",
		zap.String("driver", cfg.Database.Driver),
		zap.Int("projects", len(cfg.Projects)),
	)
	return nil
}
