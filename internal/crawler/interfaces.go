package crawler

import (
	"context"
	"io"
	"time"
)

// PageRepository persists pages and their derived image rows.
type PageRepository interface {
	// PageByID returns ErrNotFound when no page has the id.
	PageByID(ctx context.Context, id int64) (Page, error)
	// PageByURL returns ErrNotFound when no page has the URL.
	PageByURL(ctx context.Context, url string) (Page, error)
	// PageByHash returns ErrNotFound when no page has the content hash.
	PageByHash(ctx context.Context, hash string) (Page, error)
	// InsertPage assigns ID and CreatedAt. Unique violations surface as
	// ErrDuplicateURL or ErrDuplicateContent.
	InsertPage(ctx context.Context, page Page) (Page, error)
	// UpdatePage rewrites every mutable column of the page with page.ID.
	UpdatePage(ctx context.Context, page Page) (Page, error)
	// ReplaceImages makes the image rows of pageID equal to urls.
	ReplaceImages(ctx context.Context, pageID int64, urls []string) error
	ListImages(ctx context.Context, pageID int64) ([]Image, error)
	// SearchPages returns one ranked window of matches.
	SearchPages(ctx context.Context, query SearchQuery) (SearchPage, error)
	CountPages(ctx context.Context) (int64, error)
}

// Frontier owns the queue of discovered URLs.
type Frontier interface {
	// EnqueueMany inserts URLs that are not yet known and reports how many were new.
	EnqueueMany(ctx context.Context, urls []string) (int, error)
	// NextPending returns up to limit unindexed URLs, oldest first.
	NextPending(ctx context.Context, limit int) ([]string, error)
	// MarkIndexed flags url as crawled. It is idempotent.
	MarkIndexed(ctx context.Context, url string) error
	Stats(ctx context.Context) (FrontierStats, error)
}

// Store bundles both tables; every storage backend implements it.
type Store interface {
	PageRepository
	Frontier
	Close() error
}

// Renderer loads a URL in a browser and returns DOM-derived fields.
type Renderer interface {
	Render(ctx context.Context, url string) (RenderedPage, error)
}

// ResultCache is a short-lived cache of search results.
type ResultCache interface {
	Get(ctx context.Context, key CacheKey) (SearchResult, bool)
	Set(ctx context.Context, key CacheKey, value SearchResult, ttl time.Duration)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes index events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for manual index tasks.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces task IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// QueueItem wraps a task ready to run.
type QueueItem struct {
	Task *Task
}
