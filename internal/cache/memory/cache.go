// Package memory provides an in-process TTL cache for search results.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/crawlsearch/internal/crawler"
)

type entry struct {
	value     crawler.SearchResult
	expiresAt time.Time
}

// Cache is a mutex-guarded map with per-entry expiry. Expired entries are dropped lazily
// on read and in bulk by Sweep.
type Cache struct {
	clock crawler.Clock

	mu      sync.Mutex
	entries map[crawler.CacheKey]entry
}

// New creates a Cache. A nil clock uses the wall clock.
func New(clock crawler.Clock) *Cache {
	return &Cache{clock: clock, entries: make(map[crawler.CacheKey]entry)}
}

// Get returns the cached result for key if it has not expired.
func (c *Cache) Get(_ context.Context, key crawler.CacheKey) (crawler.SearchResult, bool) {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return crawler.SearchResult{}, false
	}
	if !now.Before(e.expiresAt) {
		delete(c.entries, key)
		return crawler.SearchResult{}, false
	}
	return e.value, true
}

// Set stores value for ttl. A non-positive ttl is ignored.
func (c *Cache) Set(_ context.Context, key crawler.CacheKey, value crawler.SearchResult, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	expires := c.now().Add(ttl)
	c.mu.Lock()
	c.entries[key] = entry{value: value, expiresAt: expires}
	c.mu.Unlock()
}

// Sweep removes every expired entry and returns how many were dropped.
func (c *Cache) Sweep() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	dropped := 0
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			dropped++
		}
	}
	return dropped
}

// Len reports the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// RunSweeper calls Sweep every interval until ctx ends.
func (c *Cache) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}

func (c *Cache) now() time.Time {
	if c.clock == nil {
		return time.Now()
	}
	return c.clock.Now()
}
