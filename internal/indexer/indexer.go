// Package indexer runs the per-URL pipeline: render, extract, deduplicate, archive, publish
// and feed discovered links back into the frontier.
package indexer

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlsearch/internal/crawler"
	"github.com/JakeFAU/crawlsearch/internal/dedup"
	"github.com/JakeFAU/crawlsearch/internal/extract"
	"github.com/JakeFAU/crawlsearch/internal/metrics"
)

// Config controls the optional side effects of indexing.
type Config struct {
	// SnapshotPrefix is the blob path prefix for archived HTML. Snapshots are written only
	// when a BlobStore is configured.
	SnapshotPrefix string
	ContentType    string
	// Topic receives index events. Events are published only when Topic and a Publisher are set.
	Topic string
}

// Deps groups the collaborators of an Indexer. BlobStore and Publisher are optional.
type Deps struct {
	Renderer  crawler.Renderer
	Extractor *extract.Extractor
	Dedup     *dedup.Store
	Frontier  crawler.Frontier
	BlobStore crawler.BlobStore
	Publisher crawler.Publisher
	Clock     crawler.Clock
}

// Result summarizes one Index call.
type Result struct {
	Outcome  crawler.Outcome
	Page     crawler.Page
	Enqueued int
}

// Event is the payload published after a page is inserted or updated.
type Event struct {
	PageID      int64     `json:"page_id"`
	URL         string    `json:"url"`
	ContentHash string    `json:"content_hash"`
	Outcome     string    `json:"outcome"`
	IndexedAt   time.Time `json:"indexed_at"`
}

// Indexer indexes single URLs. It is safe for concurrent use.
type Indexer struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New constructs an Indexer.
func New(deps Deps, cfg Config, logger *zap.Logger) *Indexer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	return &Indexer{deps: deps, cfg: cfg, logger: logger.Named("indexer")}
}

var tracer = otel.Tracer("github.com/JakeFAU/crawlsearch/internal/indexer")

// Index renders url and stores its content. Links are enqueued only when the page was
// inserted or updated. Failures to archive or publish are logged and do not fail the call.
func (ix *Indexer) Index(ctx context.Context, url string) (Result, error) {
	ctx, span := tracer.Start(ctx, "indexer.Index", trace.WithAttributes(attribute.String("url", url)))
	defer span.End()

	result, err := ix.index(ctx, url)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "index failed")
		return result, err
	}
	span.SetAttributes(
		attribute.String("outcome", string(result.Outcome)),
		attribute.Int64("page_id", result.Page.ID),
	)
	return result, nil
}

func (ix *Indexer) index(ctx context.Context, url string) (Result, error) {
	rendered, err := ix.deps.Renderer.Render(ctx, url)
	if err != nil {
		metrics.ObserveFetchFailure(url)
		return Result{}, fmt.Errorf("render %s: %w", url, err)
	}

	page := ix.deps.Extractor.Extract(rendered)
	inserted, err := ix.deps.Dedup.TryInsert(ctx, page)
	if err != nil {
		return Result{}, fmt.Errorf("store %s: %w", url, err)
	}
	metrics.ObservePageIndexed(string(inserted.Outcome))

	result := Result{Outcome: inserted.Outcome, Page: inserted.Page}
	if inserted.Outcome == crawler.OutcomeDuplicateContent {
		ix.logger.Info("skipped duplicate content",
			zap.String("url", url),
			zap.Int64("existing_page_id", inserted.Page.ID))
		return result, nil
	}

	ix.archive(ctx, inserted.Page, rendered.HTML)
	ix.publish(ctx, inserted)

	added, err := ix.deps.Frontier.EnqueueMany(ctx, inserted.Links)
	if err != nil {
		return result, fmt.Errorf("enqueue links of %s: %w", url, err)
	}
	metrics.ObserveEnqueued(added)
	result.Enqueued = added

	ix.logger.Info("page indexed",
		zap.String("url", url),
		zap.Int64("page_id", inserted.Page.ID),
		zap.String("outcome", string(inserted.Outcome)),
		zap.Int("links_enqueued", added))
	return result, nil
}

// SnapshotPath returns the blob path for a page's archived HTML.
func (ix *Indexer) SnapshotPath(hash string) string {
	prefix := strings.Trim(ix.cfg.SnapshotPrefix, "/")
	if prefix == "" {
		return hash + ".html"
	}
	return fmt.Sprintf("%s/%s.html", prefix, hash)
}

func (ix *Indexer) archive(ctx context.Context, page crawler.Page, html []byte) {
	if ix.deps.BlobStore == nil || len(html) == 0 {
		return
	}
	uri, err := ix.deps.BlobStore.PutObject(ctx, ix.SnapshotPath(page.ContentHash), ix.cfg.ContentType, bytes.NewReader(html))
	if err != nil {
		ix.logger.Warn("snapshot archive failed", zap.String("url", page.URL), zap.Error(err))
		return
	}
	ix.logger.Debug("snapshot archived", zap.String("url", page.URL), zap.String("blob_uri", uri))
}

func (ix *Indexer) publish(ctx context.Context, inserted dedup.InsertResult) {
	if ix.cfg.Topic == "" || ix.deps.Publisher == nil {
		return
	}
	event := Event{
		PageID:      inserted.Page.ID,
		URL:         inserted.Page.URL,
		ContentHash: inserted.Page.ContentHash,
		Outcome:     string(inserted.Outcome),
		IndexedAt:   ix.now(),
	}
	if _, err := ix.deps.Publisher.Publish(ctx, ix.cfg.Topic, event); err != nil {
		ix.logger.Warn("index event publish failed", zap.String("url", event.URL), zap.Error(err))
	}
}

func (ix *Indexer) now() time.Time {
	if ix.deps.Clock == nil {
		return time.Now().UTC()
	}
	return ix.deps.Clock.Now()
}
