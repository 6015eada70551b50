// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/edital-crawler/internal/classify"
	"github.com/JakeFAU/edital-crawler/internal/crawler"
)

// EnvPrefix prefixes every environment override, e.g. EDITAL_DB_DSN.
const EnvPrefix = "EDITAL"

// Store, cache, archive and publisher backends.
const (
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
	BackendStore    = "store"
	BackendRedis    = "redis"
	BackendNone     = "none"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Logging     LoggingConfig    `mapstructure:"logging"`
	Crawler     CrawlerConfig    `mapstructure:"crawler"`
	HTTP        HTTPConfig       `mapstructure:"http"`
	Headless    HeadlessConfig   `mapstructure:"headless"`
	Detector    DetectorConfig   `mapstructure:"detector"`
	Classifier  classify.Rules   `mapstructure:"classifier"`
	Extraction  ExtractionConfig `mapstructure:"extraction"`
	Pipeline    PipelineConfig   `mapstructure:"pipeline"`
	DB          DBConfig         `mapstructure:"db"`
	Cache       CacheConfig      `mapstructure:"cache"`
	Storage     StorageConfig    `mapstructure:"storage"`
	PubSub      PubSubConfig     `mapstructure:"pubsub"`
	Server      ServerConfig     `mapstructure:"server"`
	Telemetry   TelemetryConfig  `mapstructure:"telemetry"`
	SourcesFile string           `mapstructure:"sources_file"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// CrawlerConfig governs listing discovery and document resolution.
type CrawlerConfig struct {
	UserAgent     string        `mapstructure:"user_agent"`
	RespectRobots bool          `mapstructure:"respect_robots"`
	MaxPages      int           `mapstructure:"max_pages"`
	PageDelay     time.Duration `mapstructure:"page_delay"`
	PageSize      int           `mapstructure:"page_size"`
	MinPageBytes  int           `mapstructure:"min_page_bytes"`
	MaxHops       int           `mapstructure:"max_hops"`
	ResolveMode   string        `mapstructure:"resolve_mode"`
}

// HTTPConfig configures static fetches and their retries.
type HTTPConfig struct {
	Timeout        time.Duration `mapstructure:"timeout"`
	HeadTimeout    time.Duration `mapstructure:"head_timeout"`
	MaxBodyBytes   int           `mapstructure:"max_body_bytes"`
	MaxRetries     int           `mapstructure:"max_retries"`
	BackoffInitial time.Duration `mapstructure:"backoff_initial"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
	// HostRPS paces static requests per host; zero disables the limiter.
	HostRPS   float64 `mapstructure:"host_rps"`
	HostBurst int     `mapstructure:"host_burst"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	MaxParallel int           `mapstructure:"max_parallel"`
	NavTimeout  time.Duration `mapstructure:"nav_timeout"`
	SettleTime  time.Duration `mapstructure:"settle_time"`
	DomainQPS   float64       `mapstructure:"domain_qps"`
	ExecPath    string        `mapstructure:"exec_path"`
}

// DetectorConfig tunes block fingerprinting and SPA promotion.
type DetectorConfig struct {
	BlockKeywords      []string `mapstructure:"block_keywords"`
	BlockSelectors     []string `mapstructure:"block_selectors"`
	PromotionThreshold int      `mapstructure:"promotion_threshold"`
	RequiredSelectors  []string `mapstructure:"required_selectors"`
}

// ExtractionConfig configures document text extraction and the structured-extraction service.
type ExtractionConfig struct {
	Endpoint    string        `mapstructure:"endpoint"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxChars    int           `mapstructure:"max_chars"`
	MaxPages    int           `mapstructure:"max_pages"`
	Markers     []string      `mapstructure:"markers"`
}

// PipelineConfig controls the runner.
type PipelineConfig struct {
	PostingDelay        time.Duration `mapstructure:"posting_delay"`
	PersistUndocumented bool          `mapstructure:"persist_undocumented"`
	Sentinel            string        `mapstructure:"sentinel"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	Backend         string        `mapstructure:"backend"`
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// CacheConfig selects where listing cache validators live.
type CacheConfig struct {
	Backend  string        `mapstructure:"backend"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// StorageConfig selects the document archive.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for extraction notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ServerConfig controls the operations API (health, metrics, runs and reviews).
// An empty Addr disables it; an empty APIKey leaves the /v1 routes open.
type ServerConfig struct {
	Addr   string `mapstructure:"addr"`
	APIKey string `mapstructure:"api_key"`
}

// TelemetryConfig controls OpenTelemetry tracing. Spans are exported to Cloud Trace
// when ProjectID is set.
type TelemetryConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	Version     string  `mapstructure:"version"`
	ProjectID   string  `mapstructure:"project_id"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment. Without a path it looks for
// config.yaml in the working directory and carries on without one.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
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
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("crawler.user_agent", "edital-crawler/1.0 (+https://github.com/JakeFAU/edital-crawler)")
	v.SetDefault("crawler.respect_robots", false)
	v.SetDefault("crawler.max_pages", 20)
	v.SetDefault("crawler.page_delay", time.Second)
	v.SetDefault("crawler.page_size", 10)
	v.SetDefault("crawler.min_page_bytes", 256)
	v.SetDefault("crawler.max_hops", 1)
	v.SetDefault("crawler.resolve_mode", string(crawler.RenderStatic))
	v.SetDefault("http.timeout", 30*time.Second)
	v.SetDefault("http.head_timeout", 10*time.Second)
	v.SetDefault("http.max_body_bytes", 50<<20)
	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.backoff_initial", 250*time.Millisecond)
	v.SetDefault("http.backoff_max", 5*time.Second)
	v.SetDefault("http.host_rps", 2.0)
	v.SetDefault("http.host_burst", 1)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.nav_timeout", 10*time.Second)
	v.SetDefault("headless.settle_time", 6*time.Second)
	v.SetDefault("headless.domain_qps", 0.5)
	v.SetDefault("headless.exec_path", "")
	v.SetDefault("detector.block_keywords", []string{})
	v.SetDefault("detector.block_selectors", []string{})
	v.SetDefault("detector.promotion_threshold", 2048)
	v.SetDefault("detector.required_selectors", []string{})
	v.SetDefault("extraction.endpoint", "https://api.openai.com/v1/chat/completions")
	v.SetDefault("extraction.api_key", "")
	v.SetDefault("extraction.model", "gpt-4o-mini")
	v.SetDefault("extraction.temperature", 0.0)
	v.SetDefault("extraction.timeout", 2*time.Minute)
	v.SetDefault("extraction.max_chars", 15000)
	v.SetDefault("extraction.max_pages", 30)
	v.SetDefault("pipeline.posting_delay", 2*time.Second)
	v.SetDefault("pipeline.persist_undocumented", false)
	v.SetDefault("pipeline.sentinel", "Veja o edital oficial")
	v.SetDefault("db.backend", BackendPostgres)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.max_conn_lifetime", 30*time.Minute)
	v.SetDefault("db.auto_migrate", false)
	v.SetDefault("cache.backend", BackendStore)
	v.SetDefault("cache.addr", "localhost:6379")
	v.SetDefault("cache.password", "")
	v.SetDefault("cache.db", 0)
	v.SetDefault("cache.prefix", "edital:validators:")
	v.SetDefault("cache.ttl", 0)
	v.SetDefault("storage.backend", BackendNone)
	v.SetDefault("storage.local_dir", "")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "documents")
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "syllabus-extracted")
	v.SetDefault("server.addr", "")
	v.SetDefault("server.api_key", "")
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "edital-crawler")
	v.SetDefault("telemetry.version", "dev")
	v.SetDefault("telemetry.project_id", "")
	v.SetDefault("telemetry.sample_ratio", 1.0)
	v.SetDefault("sources_file", "sources.yaml")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.SourcesFile != "", "sources_file must be set")
	check(c.Crawler.MaxPages > 0, "crawler.max_pages must be > 0")
	check(c.Crawler.PageDelay >= 0, "crawler.page_delay must be >= 0")
	check(c.Crawler.PageSize > 0, "crawler.page_size must be > 0")
	check(c.Crawler.MaxHops >= 0, "crawler.max_hops must be >= 0")
	check(crawler.RenderMode(c.Crawler.ResolveMode).Valid(),
		"crawler.resolve_mode %q is not a render mode", c.Crawler.ResolveMode)
	check(c.HTTP.Timeout > 0, "http.timeout must be > 0")
	check(c.HTTP.MaxRetries >= 0, "http.max_retries must be >= 0")
	check(c.HTTP.HostRPS >= 0, "http.host_rps must be >= 0")
	check(!c.Headless.Enabled || c.Headless.MaxParallel > 0,
		"headless.max_parallel must be > 0 when headless is enabled")
	check(c.Extraction.MaxChars > 0, "extraction.max_chars must be > 0")
	check(c.Extraction.MaxPages > 0, "extraction.max_pages must be > 0")
	check(c.Pipeline.PostingDelay >= 0, "pipeline.posting_delay must be >= 0")
	check(c.Telemetry.SampleRatio >= 0 && c.Telemetry.SampleRatio <= 1,
		"telemetry.sample_ratio must be within [0, 1]")

	switch c.DB.Backend {
	case BackendPostgres:
		check(c.DB.DSN != "", "db.dsn must be set for the postgres backend")
	case BackendMemory:
	default:
		check(false, "db.backend %q must be postgres or memory", c.DB.Backend)
	}
	switch c.Cache.Backend {
	case BackendStore:
	case BackendRedis:
		check(c.Cache.Addr != "", "cache.addr must be set for the redis backend")
	default:
		check(false, "cache.backend %q must be store or redis", c.Cache.Backend)
	}
	switch c.Storage.Backend {
	case BackendNone:
	case BackendLocal:
		check(c.Storage.LocalDir != "", "storage.local_dir must be set for the local backend")
	case BackendGCS:
		check(c.Storage.GCSBucket != "", "storage.gcs_bucket must be set for the gcs backend")
	default:
		check(false, "storage.backend %q must be none, local or gcs", c.Storage.Backend)
	}
	if c.PubSub.Enabled {
		check(c.PubSub.ProjectID != "", "pubsub.project_id must be set when pubsub is enabled")
		check(c.PubSub.TopicName != "", "pubsub.topic_name must be set when pubsub is enabled")
	}
	return errors.Join(errs...)
}
