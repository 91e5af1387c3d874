package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Crawler.Interval != 20*time.Second || cfg.Crawler.BatchSize != 1 {
		t.Fatalf("unexpected scheduler defaults: %+v", cfg.Crawler)
	}
	if cfg.Headless.NavTimeout != 60*time.Second {
		t.Fatalf("expected 60s navigation timeout, got %v", cfg.Headless.NavTimeout)
	}
	if cfg.Headless.IdleTimeout != 10*time.Second {
		t.Fatalf("expected 10s network idle wait, got %v", cfg.Headless.IdleTimeout)
	}
	if cfg.Search.DefaultPageSize != 10 || cfg.Search.MaxPageSize != 100 {
		t.Fatalf("unexpected search defaults: %+v", cfg.Search)
	}
	if !cfg.Search.CacheEnabled || cfg.Search.CacheTTL != time.Minute {
		t.Fatalf("expected a 60s cache by default: %+v", cfg.Search)
	}
	if cfg.Database.Backend != BackendSQLite || cfg.Cache.Backend != BackendMemory {
		t.Fatalf("unexpected backends: database=%s cache=%s", cfg.Database.Backend, cfg.Cache.Backend)
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  cors_origin: https://ui.example.com
logging:
  development: true
  level: debug
crawler:
  workers: 4
  interval: 1m
  batch_size: 10
  blocked_hosts:
    - "*.doubleclick.net"
    - ads.example.com
headless:
  max_parallel: 3
  nav_timeout: 30s
  render_qps: 1.5
search:
  default_page_size: 20
  cache_ttl: 2m
cache:
  backend: redis
  redis_address: localhost:6379
database:
  backend: postgres
  dsn: postgres://crawl@localhost/crawl
storage:
  snapshots_enabled: true
  backend: gcs
  gcs_bucket: snapshots
pubsub:
  project_id: proj
  topic_name: pages-indexed
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 || cfg.Server.CORSOrigin != "https://ui.example.com" {
		t.Fatalf("expected server overrides to apply: %+v", cfg.Server)
	}
	if !cfg.Logging.Development || cfg.Logging.Level != "debug" {
		t.Fatalf("expected logging overrides to apply: %+v", cfg.Logging)
	}
	if cfg.Crawler.Workers != 4 || cfg.Crawler.Interval != time.Minute || cfg.Crawler.BatchSize != 10 {
		t.Fatalf("expected crawler overrides to apply: %+v", cfg.Crawler)
	}
	if len(cfg.Crawler.BlockedHosts) != 2 || cfg.Crawler.BlockedHosts[1] != "ads.example.com" {
		t.Fatalf("expected blocklist overrides to apply: %+v", cfg.Crawler)
	}
	if cfg.Headless.RenderQPS != 1.5 || cfg.Headless.NavTimeout != 30*time.Second {
		t.Fatalf("expected headless overrides to apply: %+v", cfg.Headless)
	}
	if cfg.Search.DefaultPageSize != 20 || cfg.Search.CacheTTL != 2*time.Minute {
		t.Fatalf("expected search overrides to apply: %+v", cfg.Search)
	}
	if cfg.Cache.Backend != BackendRedis || cfg.Cache.RedisAddress != "localhost:6379" {
		t.Fatalf("expected cache overrides to apply: %+v", cfg.Cache)
	}
	if cfg.Database.Backend != BackendPostgres || cfg.Database.DSN == "" {
		t.Fatalf("expected database overrides to apply: %+v", cfg.Database)
	}
	if !cfg.Storage.SnapshotsEnabled || cfg.Storage.GCSBucket != "snapshots" {
		t.Fatalf("expected storage overrides to apply: %+v", cfg.Storage)
	}
	if cfg.PubSub.TopicName != "pages-indexed" {
		t.Fatalf("expected pubsub topic, got %q", cfg.PubSub.TopicName)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CRAWLSEARCH_SERVER_PORT", "7070")
	t.Setenv("CRAWLSEARCH_SEARCH_MAX_PAGE_SIZE", "50")
	t.Setenv("CRAWLSEARCH_DATABASE_BACKEND", "memory")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Fatalf("expected env port 7070, got %d", cfg.Server.Port)
	}
	if cfg.Search.MaxPageSize != 50 {
		t.Fatalf("expected env max page size 50, got %d", cfg.Search.MaxPageSize)
	}
	if cfg.Database.Backend != BackendMemory {
		t.Fatalf("expected memory backend, got %s", cfg.Database.Backend)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"workers", func(c *Config) { c.Crawler.Workers = 0 }, "crawler.workers"},
		{"interval", func(c *Config) { c.Crawler.Interval = 100 * time.Millisecond }, "crawler.interval"},
		{"batch", func(c *Config) { c.Crawler.BatchSize = 0 }, "crawler.batch_size"},
		{"nav timeout", func(c *Config) { c.Headless.NavTimeout = 0 }, "headless.nav_timeout"},
		{"qps", func(c *Config) { c.Headless.RenderQPS = -1 }, "headless.render_qps"},
		{"default page size", func(c *Config) { c.Search.DefaultPageSize = 500 }, "search.default_page_size"},
		{"cache ttl", func(c *Config) { c.Search.CacheTTL = 0 }, "search.cache_ttl"},
		{"redis address", func(c *Config) { c.Cache.Backend = BackendRedis }, "cache.redis_address"},
		{"cache backend", func(c *Config) { c.Cache.Backend = "memcached" }, "cache.backend"},
		{"postgres dsn", func(c *Config) { c.Database.Backend = BackendPostgres }, "database.dsn"},
		{"database backend", func(c *Config) { c.Database.Backend = "mysql" }, "database.backend"},
		{"sample ratio", func(c *Config) { c.Telemetry.SampleRatio = 2 }, "telemetry.sample_ratio"},
		{"gcs bucket", func(c *Config) {
			c.Storage.SnapshotsEnabled = true
			c.Storage.Backend = BackendGCS
		}, "storage.gcs_bucket"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg := base
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Validate() error = %v, want mention of %s", err, tc.want)
			}
		})
	}
}

func TestValidateSkipsSchedulerChecksWhenDisabled(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	cfg.Crawler.SchedulerEnabled = false
	cfg.Crawler.Interval = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
}
