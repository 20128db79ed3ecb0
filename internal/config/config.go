// Package config loads and validates pipeline configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Registry  RegistryConfig  `mapstructure:"registry"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Snapshot  SnapshotConfig  `mapstructure:"snapshot"`
	Labels    LabelsConfig    `mapstructure:"labels"`
	Extract   ExtractConfig   `mapstructure:"extract"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	DB        DBConfig        `mapstructure:"db"`
	Storage   StorageConfig   `mapstructure:"storage"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                   int `mapstructure:"port"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// AuthConfig defines the optional API key guard.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// RegistryConfig describes the document registry being crawled.
type RegistryConfig struct {
	BaseURL          string            `mapstructure:"base_url"`
	ListPath         string            `mapstructure:"list_path"`
	PageParam        string            `mapstructure:"page_param"`
	RequiredParams   map[string]string `mapstructure:"required_params"`
	AttachmentLabels []string          `mapstructure:"attachment_labels"`
	MaxPages         int               `mapstructure:"max_pages"`
	MaxDocuments     int               `mapstructure:"max_documents"`
}

// HTTPConfig configures the resilient network client.
type HTTPConfig struct {
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	MaxRetries       int    `mapstructure:"max_retries"`
	BackoffInitialMs int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int    `mapstructure:"backoff_max_ms"`
	UserAgent        string `mapstructure:"user_agent"`
	FallbackCommand  string `mapstructure:"fallback_command"`
	MaxBodyBytes     int    `mapstructure:"max_body_bytes"`

	// RequestsPerSecond paces requests per host; 0 disables pacing.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// HeadlessConfig configures the optional chromedp page source.
type HeadlessConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	MaxParallel   int  `mapstructure:"max_parallel"`
	NavTimeoutSec int  `mapstructure:"nav_timeout_seconds"`
	WaitSeconds   int  `mapstructure:"wait_seconds"`

	// Always renders every page; otherwise only pages the detector flags are rendered.
	Always          bool `mapstructure:"always"`
	PromoteMinBytes int  `mapstructure:"promote_min_bytes"`
}

// SnapshotConfig configures the reader-mode fallback.
type SnapshotConfig struct {
	ReaderBase  string `mapstructure:"reader_base"`
	LocalRender bool   `mapstructure:"local_render"`
}

// LabelsConfig points at the optional label override file.
type LabelsConfig struct {
	File        string `mapstructure:"file"`
	Watch       bool   `mapstructure:"watch"`
	PollSeconds int    `mapstructure:"poll_seconds"`
	DebounceMs  int    `mapstructure:"debounce_ms"`
}

// ExtractConfig configures keyword dictionary loading.
type ExtractConfig struct {
	KeywordDataType string `mapstructure:"keyword_data_type"`
	CacheSeconds    int    `mapstructure:"cache_seconds"`
}

// QueueConfig selects and tunes the durable job backend. An empty URL selects inline execution.
type QueueConfig struct {
	Backend           string `mapstructure:"backend"`
	URL               string `mapstructure:"url"`
	Prefix            string `mapstructure:"prefix"`
	Attempts          int    `mapstructure:"attempts"`
	BackoffSeconds    int    `mapstructure:"backoff_seconds"`
	KeepCompleted     int    `mapstructure:"keep_completed"`
	KeepFailed        int    `mapstructure:"keep_failed"`
	VisibilitySeconds int    `mapstructure:"visibility_seconds"`
	PollMs            int    `mapstructure:"poll_ms"`
	Depth             int    `mapstructure:"depth"`
}

// WorkerConfig bounds the job worker pool.
type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN         string `mapstructure:"dsn"`
	MaxConns    int    `mapstructure:"max_conns"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

// StorageConfig selects where raw attachments are archived.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// TelemetryConfig controls OpenTelemetry tracing.
type TelemetryConfig struct {
	TracingEnabled bool    `mapstructure:"tracing_enabled"`
	ServiceName    string  `mapstructure:"service_name"`
	ProjectID      string  `mapstructure:"project_id"`
	SampleRatio    float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from an optional file, a .env file and the environment.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("REGDOCS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("registry.base_url", "https://www.customs.gov.vn")
	v.SetDefault("registry.list_path", "/index.jsp")
	v.SetDefault("registry.page_param", "page")
	v.SetDefault("registry.required_params", map[string]string{"pageId": "8", "cid": "1"})
	v.SetDefault("registry.attachment_labels", []string{"Tải về", "File đính kèm", "Tệp đính kèm"})
	v.SetDefault("registry.max_pages", 5)
	v.SetDefault("registry.max_documents", 0)
	v.SetDefault("http.timeout_seconds", 20)
	v.SetDefault("http.max_retries", 2)
	v.SetDefault("http.backoff_initial_ms", 500)
	v.SetDefault("http.backoff_max_ms", 8000)
	v.SetDefault("http.user_agent", "Mozilla/5.0 (compatible; regdocs/1.0)")
	v.SetDefault("http.fallback_command", "curl")
	v.SetDefault("http.max_body_bytes", 0)
	v.SetDefault("http.requests_per_second", 2.0)
	v.SetDefault("http.burst", 2)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 45)
	v.SetDefault("headless.wait_seconds", 30)
	v.SetDefault("headless.always", false)
	v.SetDefault("headless.promote_min_bytes", 2048)
	v.SetDefault("snapshot.reader_base", "https://r.jina.ai/")
	v.SetDefault("snapshot.local_render", true)
	v.SetDefault("labels.watch", true)
	v.SetDefault("labels.poll_seconds", 0)
	v.SetDefault("labels.debounce_ms", 250)
	v.SetDefault("extract.keyword_data_type", "product_keywords")
	v.SetDefault("extract.cache_seconds", 300)
	v.SetDefault("queue.backend", "redis")
	v.SetDefault("queue.prefix", "regdocs:jobs")
	v.SetDefault("queue.attempts", 3)
	v.SetDefault("queue.backoff_seconds", 30)
	v.SetDefault("queue.keep_completed", 100)
	v.SetDefault("queue.keep_failed", 500)
	v.SetDefault("queue.visibility_seconds", 300)
	v.SetDefault("queue.poll_ms", 500)
	v.SetDefault("queue.depth", 256)
	v.SetDefault("worker.concurrency", 2)
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.auto_migrate", true)
	v.SetDefault("storage.prefix", "attachments")
	v.SetDefault("storage.local_dir", "data/attachments")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
	v.SetDefault("telemetry.tracing_enabled", false)
	v.SetDefault("telemetry.service_name", "regdocs")
	v.SetDefault("telemetry.project_id", "")
	v.SetDefault("telemetry.sample_ratio", 1.0)
	// AutomaticEnv only resolves keys viper already knows about.
	v.SetDefault("labels.file", "")
	v.SetDefault("queue.url", "")
	v.SetDefault("db.dsn", "")
	v.SetDefault("storage.backend", "")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if _, err := url.ParseRequestURI(c.Registry.BaseURL); err != nil {
		return fmt.Errorf("registry.base_url is invalid: %w", err)
	}
	if c.Registry.PageParam == "" {
		return fmt.Errorf("registry.page_param must be set")
	}
	if c.Registry.MaxPages <= 0 {
		return fmt.Errorf("registry.max_pages must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker.concurrency must be > 0")
	}
	if c.Queue.Attempts <= 0 {
		return fmt.Errorf("queue.attempts must be > 0")
	}
	switch c.Queue.Backend {
	case "redis", "memory":
	default:
		return fmt.Errorf("queue.backend %q is not supported", c.Queue.Backend)
	}
	switch c.Storage.Backend {
	case "", "memory", "local":
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set when storage.backend is gcs")
		}
	default:
		return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
	}
	if c.HTTP.RequestsPerSecond < 0 {
		return fmt.Errorf("http.requests_per_second must be >= 0")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be within [0, 1]")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// RequestTimeout returns the network client timeout.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// DurableQueue reports whether a durable queue connection is configured.
func (c Config) DurableQueue() bool {
	return c.Queue.Backend == "memory" || strings.TrimSpace(c.Queue.URL) != ""
}
