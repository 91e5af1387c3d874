package search

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	cachememory "github.com/JakeFAU/crawlsearch/internal/cache/memory"
	"github.com/JakeFAU/crawlsearch/internal/crawler"
)

// fakeRepo ranks an in-memory slice and counts store queries.
type fakeRepo struct {
	crawler.PageRepository

	mu      sync.Mutex
	pages   []crawler.Page
	queries int
	err     error
}

func (f *fakeRepo) SearchPages(_ context.Context, q crawler.SearchQuery) (crawler.SearchPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++
	if f.err != nil {
		return crawler.SearchPage{}, f.err
	}
	ranked := Rank(f.pages, q.Text)
	out := crawler.SearchPage{Total: int64(len(ranked)), Pages: []crawler.Page{}}
	if q.Offset < len(ranked) {
		end := q.Offset + q.Limit
		if end > len(ranked) {
			end = len(ranked)
		}
		out.Pages = ranked[q.Offset:end]
	}
	return out, nil
}

func (f *fakeRepo) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queries
}

// mapCache is a trivial ResultCache without expiry.
type mapCache struct {
	mu sync.Mutex
	m  map[crawler.CacheKey]crawler.SearchResult
}

func (c *mapCache) Get(_ context.Context, k crawler.CacheKey) (crawler.SearchResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.m[k]
	return v, ok
}

func (c *mapCache) Set(_ context.Context, k crawler.CacheKey, v crawler.SearchResult, _ time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[k] = v
}

func manyPages(n int) []crawler.Page {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	pages := make([]crawler.Page, n)
	for i := range pages {
		pages[i] = crawler.Page{
			ID:        int64(i + 1),
			URL:       fmt.Sprintf("https://a.test/%d", i),
			Title:     "rust tips",
			Content:   "systems",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
	}
	return pages
}

func TestSearchRanksTitleAboveContent(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{pages: []crawler.Page{
		{ID: 1, URL: "https://a.test/content", Title: "Pets", Content: "my cat sleeps"},
		{ID: 2, URL: "https://a.test/title", Title: "Cat care", Content: "feeding guide"},
		{ID: 3, URL: "https://a.test/none", Title: "Dogs", Content: "walks"},
	}}
	e := NewEngine(repo, nil, Config{}, zap.NewNop())

	res, err := e.Search(context.Background(), Query{Text: "CAT", Page: 1, PageSize: 10})
	require.NoError(t, err)
	require.Len(t, res.Results, 2)
	require.Equal(t, int64(2), res.Results[0].ID)
	require.Equal(t, int64(1), res.Results[1].ID)
	require.Equal(t, 1, res.TotalPages)
	require.Equal(t, 1, res.CurrentPage)
}

func TestSearchPagination(t *testing.T) {
	t.Parallel()

	e := NewEngine(&fakeRepo{pages: manyPages(25)}, nil, Config{}, nil)
	ctx := context.Background()

	for page, want := range map[int]int{1: 10, 2: 10, 3: 5, 4: 0} {
		res, err := e.Search(ctx, Query{Text: "rust", Page: page, PageSize: 10})
		require.NoError(t, err)
		require.Len(t, res.Results, want, "page %d", page)
		require.NotNil(t, res.Results)
		require.Equal(t, 3, res.TotalPages)
		require.Equal(t, page, res.CurrentPage)
	}
}

func TestSearchValidation(t *testing.T) {
	t.Parallel()

	e := NewEngine(&fakeRepo{}, nil, Config{MaxPageSize: 50}, nil)
	ctx := context.Background()

	_, err := e.Search(ctx, Query{Text: "   ", Page: 1, PageSize: 10})
	require.ErrorIs(t, err, ErrInvalidQuery)
	require.ErrorIs(t, err, crawler.ErrInvalidInput)

	for _, q := range []Query{
		{Text: "x", Page: 0, PageSize: 10},
		{Text: "x", Page: 1, PageSize: 0},
		{Text: "x", Page: 1, PageSize: 51},
	} {
		_, err := e.Search(ctx, q)
		require.ErrorIs(t, err, ErrInvalidPagination, "%+v", q)
	}
}

func TestSearchCacheHitSkipsStore(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{pages: manyPages(3)}
	cache := &mapCache{m: map[crawler.CacheKey]crawler.SearchResult{}}
	e := NewEngine(repo, cache, Config{}, nil)
	ctx := context.Background()

	first, err := e.Search(ctx, Query{Text: "rust", Page: 1, PageSize: 10})
	require.NoError(t, err)
	second, err := e.Search(ctx, Query{Text: "rust", Page: 1, PageSize: 10})
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, repo.count())

	_, err = e.Search(ctx, Query{Text: "rust", Page: 1, PageSize: 5})
	require.NoError(t, err)
	require.Equal(t, 2, repo.count())
}

// manualClock only moves when advanced.
type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestSearchCacheServesStaleUntilTTLExpires(t *testing.T) {
	t.Parallel()

	clock := &manualClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	repo := &fakeRepo{pages: manyPages(1)}
	e := NewEngine(repo, cachememory.New(clock), Config{CacheTTL: time.Minute}, nil)
	ctx := context.Background()
	q := Query{Text: "rust", Page: 1, PageSize: 10}

	first, err := e.Search(ctx, q)
	require.NoError(t, err)
	require.Len(t, first.Results, 1)

	repo.mu.Lock()
	repo.pages = manyPages(3)
	repo.mu.Unlock()

	clock.advance(30 * time.Second)
	cached, err := e.Search(ctx, q)
	require.NoError(t, err)
	require.Equal(t, first, cached)
	require.Equal(t, 1, repo.count())

	clock.advance(31 * time.Second)
	fresh, err := e.Search(ctx, q)
	require.NoError(t, err)
	require.Len(t, fresh.Results, 3)
	require.Equal(t, 2, repo.count())
}

func TestSearchMatchesQueryVerbatim(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{pages: []crawler.Page{
		{ID: 1, Title: "concat", Content: "x"},
		{ID: 2, Title: "a cat here", Content: "x"},
	}}
	cache := &mapCache{m: map[crawler.CacheKey]crawler.SearchResult{}}
	e := NewEngine(repo, cache, Config{}, nil)
	ctx := context.Background()

	bare, err := e.Search(ctx, Query{Text: "cat", Page: 1, PageSize: 10})
	require.NoError(t, err)
	require.Len(t, bare.Results, 2)

	padded, err := e.Search(ctx, Query{Text: " cat ", Page: 1, PageSize: 10})
	require.NoError(t, err)
	require.Len(t, padded.Results, 1)
	require.Equal(t, int64(2), padded.Results[0].ID)
	require.Equal(t, 2, repo.count())
}

func TestSearchStoreFailure(t *testing.T) {
	t.Parallel()

	repo := &fakeRepo{err: errors.New("connection refused")}
	cache := &mapCache{m: map[crawler.CacheKey]crawler.SearchResult{}}
	e := NewEngine(repo, cache, Config{}, nil)

	_, err := e.Search(context.Background(), Query{Text: "rust", Page: 1, PageSize: 10})
	require.ErrorIs(t, err, crawler.ErrStore)
	require.Empty(t, cache.m)
}

func TestViewNeverReturnsNilImages(t *testing.T) {
	t.Parallel()

	v := View(crawler.Page{ID: 7, Title: "t", Description: "d"})
	require.NotNil(t, v.ImageURLs)
	require.Equal(t, "d", v.Description)
}
