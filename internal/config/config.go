// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage and cache backend names.
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
)

// EnvPrefix namespaces environment overrides, e.g. CRAWLSEARCH_SERVER_PORT.
const EnvPrefix = "CRAWLSEARCH"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Search    SearchConfig    `mapstructure:"search"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	CORSOrigin      string        `mapstructure:"cors_origin"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// CrawlerConfig governs the manual index pool and the background scheduler.
type CrawlerConfig struct {
	QueueDepth       int           `mapstructure:"queue_depth"`
	Workers          int           `mapstructure:"workers"`
	TaskTimeout      time.Duration `mapstructure:"task_timeout"`
	SchedulerEnabled bool          `mapstructure:"scheduler_enabled"`
	Interval         time.Duration `mapstructure:"interval"`
	BatchSize        int           `mapstructure:"batch_size"`
	URLTimeout       time.Duration `mapstructure:"url_timeout"`
	// BlockedHosts are never enqueued from discovered links, e.g. "*.doubleclick.net".
	BlockedHosts []string `mapstructure:"blocked_hosts"`
}

// HeadlessConfig configures the chromedp renderer.
type HeadlessConfig struct {
	MaxParallel int           `mapstructure:"max_parallel"`
	UserAgent   string        `mapstructure:"user_agent"`
	NavTimeout  time.Duration `mapstructure:"nav_timeout"`
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`
	SettleDelay time.Duration `mapstructure:"settle_delay"`
	RenderQPS   float64       `mapstructure:"render_qps"`
}

// SearchConfig bounds pagination and controls result caching.
type SearchConfig struct {
	DefaultPageSize int           `mapstructure:"default_page_size"`
	MaxPageSize     int           `mapstructure:"max_page_size"`
	CacheEnabled    bool          `mapstructure:"cache_enabled"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"`
}

// CacheConfig selects the result cache backend.
type CacheConfig struct {
	Backend       string        `mapstructure:"backend"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	RedisAddress  string        `mapstructure:"redis_address"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	KeyPrefix     string        `mapstructure:"key_prefix"`
}

// DatabaseConfig selects the page and frontier store.
type DatabaseConfig struct {
	Backend         string        `mapstructure:"backend"`
	DSN             string        `mapstructure:"dsn"`
	SQLitePath      string        `mapstructure:"sqlite_path"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

// StorageConfig sets where rendered HTML snapshots are archived.
type StorageConfig struct {
	SnapshotsEnabled bool   `mapstructure:"snapshots_enabled"`
	Backend          string `mapstructure:"backend"`
	LocalDir         string `mapstructure:"local_dir"`
	GCSBucket        string `mapstructure:"gcs_bucket"`
	Prefix           string `mapstructure:"prefix"`
	ContentType      string `mapstructure:"content_type"`
	CacheControl     string `mapstructure:"cache_control"`
}

// PubSubConfig holds metadata for index event notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// TelemetryConfig controls tracing.
type TelemetryConfig struct {
	ServiceName    string  `mapstructure:"service_name"`
	ServiceVersion string  `mapstructure:"service_version"`
	TraceProjectID string  `mapstructure:"trace_project_id"`
	SampleRatio    float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from defaults, an optional file and the environment.
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
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.request_timeout", "25s")
	v.SetDefault("server.cors_origin", "*")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("crawler.queue_depth", 64)
	v.SetDefault("crawler.workers", 2)
	v.SetDefault("crawler.task_timeout", "90s")
	v.SetDefault("crawler.scheduler_enabled", true)
	v.SetDefault("crawler.interval", "20s")
	v.SetDefault("crawler.batch_size", 1)
	v.SetDefault("crawler.url_timeout", "90s")
	v.SetDefault("crawler.blocked_hosts", []string{})
	v.SetDefault("headless.max_parallel", 2)
	v.SetDefault("headless.user_agent", "crawlsearch-bot/0.1")
	v.SetDefault("headless.nav_timeout", "60s")
	v.SetDefault("headless.idle_timeout", "10s")
	v.SetDefault("headless.settle_delay", "0s")
	v.SetDefault("headless.render_qps", 0)
	v.SetDefault("search.default_page_size", 10)
	v.SetDefault("search.max_page_size", 100)
	v.SetDefault("search.cache_enabled", true)
	v.SetDefault("search.cache_ttl", "60s")
	v.SetDefault("cache.backend", BackendMemory)
	v.SetDefault("cache.sweep_interval", "5m")
	v.SetDefault("cache.redis_address", "")
	v.SetDefault("cache.redis_password", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.key_prefix", "crawlsearch:")
	v.SetDefault("database.backend", BackendSQLite)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.sqlite_path", "data/crawlsearch.db")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.max_conn_lifetime", "30m")
	v.SetDefault("database.migrate", true)
	v.SetDefault("storage.snapshots_enabled", false)
	v.SetDefault("storage.backend", BackendLocal)
	v.SetDefault("storage.local_dir", "data/snapshots")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "pages")
	v.SetDefault("storage.content_type", "text/html; charset=utf-8")
	v.SetDefault("storage.cache_control", "")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("telemetry.service_name", "crawlsearch")
	v.SetDefault("telemetry.service_version", "dev")
	v.SetDefault("telemetry.trace_project_id", "")
	v.SetDefault("telemetry.sample_ratio", 0.1)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Crawler.QueueDepth <= 0 {
		return fmt.Errorf("crawler.queue_depth must be > 0")
	}
	if c.Crawler.Workers <= 0 {
		return fmt.Errorf("crawler.workers must be > 0")
	}
	if c.Crawler.SchedulerEnabled {
		if c.Crawler.Interval < time.Second {
			return fmt.Errorf("crawler.interval must be >= 1s")
		}
		if c.Crawler.BatchSize <= 0 {
			return fmt.Errorf("crawler.batch_size must be > 0")
		}
	}
	if c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0")
	}
	if c.Headless.NavTimeout <= 0 {
		return fmt.Errorf("headless.nav_timeout must be > 0")
	}
	if c.Headless.RenderQPS < 0 {
		return fmt.Errorf("headless.render_qps must be >= 0")
	}
	if c.Search.MaxPageSize <= 0 {
		return fmt.Errorf("search.max_page_size must be > 0")
	}
	if c.Search.DefaultPageSize <= 0 || c.Search.DefaultPageSize > c.Search.MaxPageSize {
		return fmt.Errorf("search.default_page_size must be between 1 and search.max_page_size")
	}
	if c.Search.CacheEnabled && c.Search.CacheTTL <= 0 {
		return fmt.Errorf("search.cache_ttl must be > 0 when caching is enabled")
	}
	switch c.Cache.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Cache.RedisAddress == "" {
			return fmt.Errorf("cache.redis_address is required for the redis backend")
		}
	default:
		return fmt.Errorf("cache.backend %q is not supported", c.Cache.Backend)
	}
	switch c.Database.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Database.SQLitePath == "" {
			return fmt.Errorf("database.sqlite_path is required for the sqlite backend")
		}
	case BackendPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("database.backend %q is not supported", c.Database.Backend)
	}
	if c.Storage.SnapshotsEnabled {
		switch c.Storage.Backend {
		case BackendMemory:
		case BackendLocal:
			if c.Storage.LocalDir == "" {
				return fmt.Errorf("storage.local_dir is required for the local backend")
			}
		case BackendGCS:
			if c.Storage.GCSBucket == "" {
				return fmt.Errorf("storage.gcs_bucket is required for the gcs backend")
			}
		default:
			return fmt.Errorf("storage.backend %q is not supported", c.Storage.Backend)
		}
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry.sample_ratio must be between 0 and 1")
	}
	return nil
}
