// Package search validates queries, ranks matching pages and caches paginated results.
package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawlsearch/internal/crawler"
	"github.com/JakeFAU/crawlsearch/internal/metrics"
)

var (
	// ErrInvalidQuery is returned for a blank query.
	ErrInvalidQuery = fmt.Errorf("%w: query is required", crawler.ErrInvalidInput)
	// ErrInvalidPagination is returned for an out-of-range page or page size.
	ErrInvalidPagination = fmt.Errorf("%w: invalid pagination", crawler.ErrInvalidInput)
)

// Config holds engine limits.
type Config struct {
	MaxPageSize int
	CacheTTL    time.Duration
}

// Query is a client search request. Page is 1-based.
type Query struct {
	Text     string
	Page     int
	PageSize int
}

// Engine answers search queries from a PageRepository, consulting an optional cache.
type Engine struct {
	repo   crawler.PageRepository
	cache  crawler.ResultCache
	cfg    Config
	logger *zap.Logger
}

// NewEngine builds an Engine. A nil cache disables caching.
func NewEngine(repo crawler.PageRepository, cache crawler.ResultCache, cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = 100
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 60 * time.Second
	}
	return &Engine{repo: repo, cache: cache, cfg: cfg, logger: logger.Named("search")}
}

// Search returns one page of ranked results. A page past the end yields an empty result
// list with the true total page count.
func (e *Engine) Search(ctx context.Context, q Query) (crawler.SearchResult, error) {
	// The text is matched verbatim, surrounding spaces included; only an all-blank query is rejected.
	text := q.Text
	if strings.TrimSpace(text) == "" {
		metrics.ObserveSearch("invalid")
		return crawler.SearchResult{}, ErrInvalidQuery
	}
	if q.Page < 1 || q.PageSize < 1 || q.PageSize > e.cfg.MaxPageSize {
		metrics.ObserveSearch("invalid")
		return crawler.SearchResult{}, fmt.Errorf("%w: page=%d limit=%d (max %d)",
			ErrInvalidPagination, q.Page, q.PageSize, e.cfg.MaxPageSize)
	}

	key := crawler.CacheKey{Query: text, Page: q.Page, PageSize: q.PageSize}
	if e.cache != nil {
		if cached, ok := e.cache.Get(ctx, key); ok {
			metrics.ObserveCache(true)
			metrics.ObserveSearch("ok")
			return cached, nil
		}
		metrics.ObserveCache(false)
	}

	window, err := e.repo.SearchPages(ctx, crawler.SearchQuery{
		Text:   text,
		Offset: (q.Page - 1) * q.PageSize,
		Limit:  q.PageSize,
	})
	if err != nil {
		metrics.ObserveSearch("error")
		e.logger.Error("search query failed", zap.String("query", text), zap.Error(err))
		if errors.Is(err, crawler.ErrStore) {
			return crawler.SearchResult{}, fmt.Errorf("search pages: %w", err)
		}
		return crawler.SearchResult{}, fmt.Errorf("search pages: %w: %w", crawler.ErrStore, err)
	}

	result := crawler.SearchResult{
		Results:     make([]crawler.ResultView, 0, len(window.Pages)),
		TotalPages:  TotalPages(window.Total, q.PageSize),
		CurrentPage: q.Page,
	}
	for _, p := range window.Pages {
		result.Results = append(result.Results, View(p))
	}

	if e.cache != nil {
		e.cache.Set(ctx, key, result, e.cfg.CacheTTL)
	}
	metrics.ObserveSearch("ok")
	return result, nil
}

// View projects a page onto the fields returned to search clients.
func View(p crawler.Page) crawler.ResultView {
	images := p.ImageURLs
	if images == nil {
		images = []string{}
	}
	return crawler.ResultView{
		ID:          p.ID,
		URL:         p.URL,
		Title:       p.Title,
		ImageURLs:   images,
		Description: p.Description,
	}
}
