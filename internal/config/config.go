// Package config loads shotcast configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config aggregates all configuration sections consumed by the service.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Capture   CaptureConfig   `mapstructure:"capture"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Throttle  ThrottleConfig  `mapstructure:"throttle"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Progress  ProgressConfig  `mapstructure:"progress"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Projects  []ProjectConfig `mapstructure:"projects"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
	// PublicBaseURL is the externally reachable root of this service. Download
	// locators for the local and memory storage backends are built from it.
	PublicBaseURL         string `mapstructure:"public_base_url"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds"`
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig controls zap logger settings.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// CaptureConfig tunes request handling.
type CaptureConfig struct {
	MaxDelaySecs           int    `mapstructure:"max_delay_secs"`
	CancelGraceMS          int    `mapstructure:"cancel_grace_ms"`
	InlineFallbackMaxBytes int    `mapstructure:"inline_fallback_max_bytes"`
	WriteTimeoutSeconds    int    `mapstructure:"write_timeout_seconds"`
	ProbeEnabled           bool   `mapstructure:"probe_enabled"`
	ProbeTimeoutSeconds    int    `mapstructure:"probe_timeout_seconds"`
	Topic                  string `mapstructure:"topic"`
}

// CancelGrace returns the pause between a cancel request and its confirmation.
func (c CaptureConfig) CancelGrace() time.Duration {
	return time.Duration(c.CancelGraceMS) * time.Millisecond
}

// WriteTimeout bounds one screenshot persist.
func (c CaptureConfig) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutSeconds) * time.Second
}

// ProbeTimeout bounds the reachability pre-flight.
func (c CaptureConfig) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutSeconds) * time.Second
}

// Browser engines.
const (
	EngineChromedp = "chromedp"
	EngineRod      = "rod"
	EngineNone     = "none"
)

// BrowserConfig configures the headless browser that takes screenshots.
type BrowserConfig struct {
	Engine            string `mapstructure:"engine"`
	MaxParallel       int    `mapstructure:"max_parallel"`
	UserAgent         string `mapstructure:"user_agent"`
	NavTimeoutSeconds int    `mapstructure:"nav_timeout_seconds"`
	IdleTimeoutMS     int    `mapstructure:"idle_timeout_ms"`
	ViewportWidth     int    `mapstructure:"viewport_width"`
	ViewportHeight    int    `mapstructure:"viewport_height"`
	JPEGQuality       int    `mapstructure:"jpeg_quality"`
	// RemoteURL attaches the rod engine to an existing Chrome.
	RemoteURL string `mapstructure:"remote_url"`
	Stealth   bool   `mapstructure:"stealth"`
}

// RateLimitConfig configures the per-project daily ceiling.
type RateLimitConfig struct {
	MaxDailyRequests int `mapstructure:"max_daily_requests"`
	// Ledger selects where issued requests are counted: "database" uses the
	// configured database, "redis" uses the redis section.
	Ledger string `mapstructure:"ledger"`
}

// ThrottleConfig configures the per-connection command throttle.
type ThrottleConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	CommandsPerSecond float64 `mapstructure:"commands_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// StorageConfig selects the screenshot object store.
type StorageConfig struct {
	Backend       string             `mapstructure:"backend"`
	Bucket        string             `mapstructure:"bucket"`
	Prefix        string             `mapstructure:"prefix"`
	PublicBaseURL string             `mapstructure:"public_base_url"`
	Local         LocalStorageConfig `mapstructure:"local"`
}

// LocalStorageConfig configures the filesystem backend.
type LocalStorageConfig struct {
	BaseDir string `mapstructure:"base_dir"`
}

// DatabaseConfig selects the metadata store.
type DatabaseConfig struct {
	Driver                 string `mapstructure:"driver"`
	DSN                    string `mapstructure:"dsn"`
	SQLitePath             string `mapstructure:"sqlite_path"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	MaxConnLifetimeMinutes int    `mapstructure:"max_conn_lifetime_minutes"`
}

// RedisConfig configures the optional redis rate-limit ledger.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// PubSubConfig configures completion notifications. An empty project disables them.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ProgressConfig configures the progress hub.
type ProgressConfig struct {
	Enabled       bool                `mapstructure:"enabled"`
	LogEnabled    bool                `mapstructure:"log_enabled"`
	BufferSize    int                 `mapstructure:"buffer_size"`
	Batch         ProgressBatchConfig `mapstructure:"batch"`
	SinkTimeoutMS int                 `mapstructure:"sink_timeout_ms"`
}

// ProgressBatchConfig controls batch thresholds for sink delivery.
type ProgressBatchConfig struct {
	MaxEvents int `mapstructure:"max_events"`
	MaxWaitMS int `mapstructure:"max_wait_ms"`
}

// WebSocketConfig tunes client connections.
type WebSocketConfig struct {
	ReadLimitBytes      int64    `mapstructure:"read_limit_bytes"`
	OutboxDepth         int      `mapstructure:"outbox_depth"`
	InboxDepth          int      `mapstructure:"inbox_depth"`
	WriteTimeoutSeconds int      `mapstructure:"write_timeout_seconds"`
	AllowedOrigins      []string `mapstructure:"allowed_origins"`
}

// TelemetryConfig describes the service to the tracer provider.
type TelemetryConfig struct {
	ServiceName string  `mapstructure:"service_name"`
	Version     string  `mapstructure:"version"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// ProjectConfig seeds one project.
type ProjectConfig struct {
	ID                  string   `mapstructure:"id"`
	Whitelist           []string `mapstructure:"whitelist"`
	DailyRequestCeiling int      `mapstructure:"daily_request_ceiling"`
}

// Load reads configuration from the provided path (if any) and environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SHOTCAST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.public_base_url", "http://localhost:8080")
	v.SetDefault("server.request_timeout_seconds", 30)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")

	v.SetDefault("capture.max_delay_secs", 10)
	v.SetDefault("capture.cancel_grace_ms", 500)
	v.SetDefault("capture.inline_fallback_max_bytes", 0)
	v.SetDefault("capture.write_timeout_seconds", 30)
	v.SetDefault("capture.probe_enabled", false)
	v.SetDefault("capture.probe_timeout_seconds", 5)
	v.SetDefault("capture.topic", "screenshot.captured")

	v.SetDefault("browser.engine", EngineChromedp)
	v.SetDefault("browser.max_parallel", 2)
	v.SetDefault("browser.user_agent", "shotcast/1.0")
	v.SetDefault("browser.nav_timeout_seconds", 20)
	v.SetDefault("browser.idle_timeout_ms", 3000)
	v.SetDefault("browser.viewport_width", 1280)
	v.SetDefault("browser.viewport_height", 800)
	v.SetDefault("browser.jpeg_quality", 85)
	v.SetDefault("browser.remote_url", "")
	v.SetDefault("browser.stealth", false)

	v.SetDefault("rate_limit.max_daily_requests", 100)
	v.SetDefault("rate_limit.ledger", "database")

	v.SetDefault("throttle.enabled", false)
	v.SetDefault("throttle.commands_per_second", 5.0)
	v.SetDefault("throttle.burst", 10)

	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.prefix", "screenshots")
	v.SetDefault("storage.local.base_dir", "tmp/screenshots")

	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.sqlite_path", "shotcast.db")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime_minutes", 30)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "shotcast")

	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "screenshots")

	v.SetDefault("progress.enabled", true)
	v.SetDefault("progress.log_enabled", false)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.batch.max_events", 256)
	v.SetDefault("progress.batch.max_wait_ms", 250)
	v.SetDefault("progress.sink_timeout_ms", 5000)

	v.SetDefault("websocket.read_limit_bytes", 64*1024)
	v.SetDefault("websocket.outbox_depth", 64)
	v.SetDefault("websocket.inbox_depth", 16)
	v.SetDefault("websocket.write_timeout_seconds", 10)
	v.SetDefault("websocket.allowed_origins", []string{})

	v.SetDefault("telemetry.service_name", "shotcast")
	v.SetDefault("telemetry.version", "dev")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate ensures required fields are present and sane.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535"))
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		errs = append(errs, fmt.Errorf("auth.api_key is required when auth.enabled is true"))
	}
	if c.Capture.MaxDelaySecs < 0 {
		errs = append(errs, fmt.Errorf("capture.max_delay_secs must be >= 0"))
	}
	if c.Capture.CancelGraceMS < 0 {
		errs = append(errs, fmt.Errorf("capture.cancel_grace_ms must be >= 0"))
	}
	if c.Capture.WriteTimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("capture.write_timeout_seconds must be > 0"))
	}

	switch c.Browser.Engine {
	case EngineChromedp, EngineRod:
		if c.Browser.MaxParallel <= 0 {
			errs = append(errs, fmt.Errorf("browser.max_parallel must be > 0"))
		}
		if c.Browser.JPEGQuality < 1 || c.Browser.JPEGQuality > 100 {
			errs = append(errs, fmt.Errorf("browser.jpeg_quality must be between 1 and 100"))
		}
	case EngineNone:
	default:
		errs = append(errs, fmt.Errorf("browser.engine must be one of chromedp, rod, none"))
	}

	switch c.RateLimit.Ledger {
	case "database":
	case "redis":
		if c.Redis.Addr == "" {
			errs = append(errs, fmt.Errorf("redis.addr is required when rate_limit.ledger is redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("rate_limit.ledger must be database or redis"))
	}

	if c.Throttle.Enabled && c.Throttle.CommandsPerSecond <= 0 {
		errs = append(errs, fmt.Errorf("throttle.commands_per_second must be > 0 when throttle.enabled is true"))
	}

	switch c.Storage.Backend {
	case "gcs":
		if c.Storage.Bucket == "" {
			errs = append(errs, fmt.Errorf("storage.bucket is required for the gcs backend"))
		}
	case "local":
		if c.Storage.Local.BaseDir == "" {
			errs = append(errs, fmt.Errorf("storage.local.base_dir is required for the local backend"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("storage.backend must be one of gcs, local, memory"))
	}
	if c.Storage.Backend != "gcs" {
		if _, err := url.ParseRequestURI(c.Server.PublicBaseURL); err != nil {
			errs = append(errs, fmt.Errorf("server.public_base_url must be an absolute URL: %w", err))
		}
	}

	switch c.Database.Driver {
	case "postgres":
		if c.Database.DSN == "" {
			errs = append(errs, fmt.Errorf("database.dsn is required for the postgres driver"))
		}
	case "sqlite":
		if c.Database.SQLitePath == "" {
			errs = append(errs, fmt.Errorf("database.sqlite_path is required for the sqlite driver"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("database.driver must be one of postgres, sqlite, memory"))
	}

	if c.WebSocket.ReadLimitBytes <= 0 {
		errs = append(errs, fmt.Errorf("websocket.read_limit_bytes must be > 0"))
	}
	if c.WebSocket.OutboxDepth <= 0 {
		errs = append(errs, fmt.Errorf("websocket.outbox_depth must be > 0"))
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sample_ratio must be between 0 and 1"))
	}

	seen := make(map[string]struct{}, len(c.Projects))
	for i, p := range c.Projects {
		if strings.TrimSpace(p.ID) == "" {
			errs = append(errs, fmt.Errorf("projects[%d].id is required", i))
			continue
		}
		if _, dup := seen[p.ID]; dup {
			errs = append(errs, fmt.Errorf("projects[%d].id %q is duplicated", i, p.ID))
		}
		seen[p.ID] = struct{}{}
	}
	return errors.Join(errs...)
}
