// Package redis stores search results in Redis so several API replicas share one cache.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlsearch/internal/crawler"
)

// Config holds Redis connection configuration.
type Config struct {
	Address  string
	Password string
	DB       int
	// KeyPrefix is prepended to every cache key.
	KeyPrefix string
}

// ErrEmptyAddress is returned when the Redis address is not configured.
var ErrEmptyAddress = errors.New("redis address is required")

const connectionTimeout = 5 * time.Second

// NewClient creates a Redis client and verifies the connection.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	if cfg.Address == "" {
		return nil, ErrEmptyAddress
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, connectionTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// Cache implements crawler.ResultCache on Redis. Redis failures degrade to cache misses.
type Cache struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// New wraps an existing client.
func New(client *redis.Client, prefix string, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{client: client, prefix: prefix, logger: logger.Named("redis_cache")}
}

// Get returns the cached result, treating any Redis or decode error as a miss.
func (c *Cache) Get(ctx context.Context, key crawler.CacheKey) (crawler.SearchResult, bool) {
	raw, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("cache get failed", zap.String("key", c.key(key)), zap.Error(err))
		}
		return crawler.SearchResult{}, false
	}
	var result crawler.SearchResult
	if err := json.Unmarshal(raw, &result); err != nil {
		c.logger.Warn("cache entry undecodable", zap.String("key", c.key(key)), zap.Error(err))
		return crawler.SearchResult{}, false
	}
	return result, true
}

// Set stores value with a Redis TTL. Errors are logged only.
func (c *Cache) Set(ctx context.Context, key crawler.CacheKey, value crawler.SearchResult, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("cache entry unencodable", zap.String("key", c.key(key)), zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, c.key(key), raw, ttl).Err(); err != nil {
		c.logger.Warn("cache set failed", zap.String("key", c.key(key)), zap.Error(err))
	}
}

func (c *Cache) key(k crawler.CacheKey) string {
	return c.prefix + k.String()
}
