// Package postgres implements the page, image and frontier tables on Postgres via pgx.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/crawlsearch/internal/crawler"
	"github.com/JakeFAU/crawlsearch/internal/search"
)

//go:embed schema.sql
var schemaSQL string

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	// Migrate applies the embedded schema on startup.
	Migrate bool
}

// pool is the subset of *pgxpool.Pool the store uses; pgxmock satisfies it in tests.
type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// Store implements crawler.Store on Postgres.
type Store struct {
	pool pool
}

// Open connects to Postgres and optionally applies the schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &Store{pool: p}
	if cfg.Migrate {
		if err := s.Migrate(ctx); err != nil {
			p.Close()
			return nil, err
		}
	}
	return s, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{pool: p}, nil
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w: %w", crawler.ErrStore, err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() error {
	if s == nil || s.pool == nil {
		return nil
	}
	s.pool.Close()
	return nil
}

const pageColumns = `id, url, title, content, image_urls, metadata, content_hash, created_at`

// PageByID fetches a page by ID.
func (s *Store) PageByID(ctx context.Context, id int64) (crawler.Page, error) {
	return s.pageWhere(ctx, "id = $1", id)
}

// PageByURL fetches a page by URL.
func (s *Store) PageByURL(ctx context.Context, url string) (crawler.Page, error) {
	return s.pageWhere(ctx, "url = $1", url)
}

// PageByHash fetches a page by content hash.
func (s *Store) PageByHash(ctx context.Context, hash string) (crawler.Page, error) {
	return s.pageWhere(ctx, "content_hash = $1", hash)
}

func (s *Store) pageWhere(ctx context.Context, cond string, arg any) (crawler.Page, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+pageColumns+" FROM pages WHERE "+cond, arg)
	page, err := scanPage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return crawler.Page{}, fmt.Errorf("page %v: %w", arg, crawler.ErrNotFound)
	}
	if err != nil {
		return crawler.Page{}, fmt.Errorf("select page: %w: %w", crawler.ErrStore, err)
	}
	return page, nil
}

// InsertPage inserts a page and returns it with its ID and creation time.
func (s *Store) InsertPage(ctx context.Context, page crawler.Page) (crawler.Page, error) {
	row := s.pool.QueryRow(ctx, `
INSERT INTO pages (url, title, content, image_urls, metadata, content_hash)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING id, created_at`,
		page.URL,
		page.Title,
		page.Content,
		crawler.JoinImageURLs(page.ImageURLs),
		page.Description,
		page.ContentHash,
	)
	if err := row.Scan(&page.ID, &page.CreatedAt); err != nil {
		return crawler.Page{}, fmt.Errorf("insert page: %w", classify(err))
	}
	return page, nil
}

// UpdatePage rewrites the mutable columns of page.ID, keeping created_at.
func (s *Store) UpdatePage(ctx context.Context, page crawler.Page) (crawler.Page, error) {
	row := s.pool.QueryRow(ctx, `
UPDATE pages
SET url = $2, title = $3, content = $4, image_urls = $5, metadata = $6, content_hash = $7
WHERE id = $1
RETURNING created_at`,
		page.ID,
		page.URL,
		page.Title,
		page.Content,
		crawler.JoinImageURLs(page.ImageURLs),
		page.Description,
		page.ContentHash,
	)
	if err := row.Scan(&page.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.Page{}, fmt.Errorf("update page %d: %w", page.ID, crawler.ErrNotFound)
		}
		return crawler.Page{}, fmt.Errorf("update page %d: %w", page.ID, classify(err))
	}
	return page, nil
}

// ReplaceImages deletes image rows not in urls and inserts the missing ones in one
// transaction. Existing rows keep their IDs.
func (s *Store) ReplaceImages(ctx context.Context, pageID int64, urls []string) (err error) {
	if urls == nil {
		urls = []string{}
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w: %w", crawler.ErrStore, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx,
		`DELETE FROM images WHERE page_id = $1 AND NOT (image_url = ANY($2))`,
		pageID, urls,
	); err != nil {
		return fmt.Errorf("delete stale images: %w", classify(err))
	}
	if _, err = tx.Exec(ctx, `
INSERT INTO images (page_id, image_url)
SELECT $1, u FROM unnest($2::text[]) WITH ORDINALITY AS t(u, ord) ORDER BY ord
ON CONFLICT (page_id, image_url) DO NOTHING`,
		pageID, urls,
	); err != nil {
		return fmt.Errorf("insert images: %w", classify(err))
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit images: %w: %w", crawler.ErrStore, err)
	}
	return nil
}

// ListImages returns the image rows of a page in insertion order.
func (s *Store) ListImages(ctx context.Context, pageID int64) ([]crawler.Image, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, page_id, image_url FROM images WHERE page_id = $1 ORDER BY id`, pageID)
	if err != nil {
		return nil, fmt.Errorf("list images: %w: %w", crawler.ErrStore, err)
	}
	images, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (crawler.Image, error) {
		var img crawler.Image
		err := row.Scan(&img.ID, &img.PageID, &img.ImageURL)
		return img, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan images: %w: %w", crawler.ErrStore, err)
	}
	if images == nil {
		images = []crawler.Image{}
	}
	return images, nil
}

const matchClause = `lower(title) LIKE $1 ESCAPE '\' OR lower(content) LIKE $1 ESCAPE '\'`

const searchSQL = `
SELECT ` + pageColumns + `
FROM pages
WHERE ` + matchClause + `
ORDER BY
    (CASE WHEN lower(title) LIKE $1 ESCAPE '\' THEN 2 ELSE 0 END
     + CASE WHEN lower(content) LIKE $1 ESCAPE '\' THEN 1 ELSE 0 END) DESC,
    (char_length(title) / 100.0 + char_length(content) / 1000.0) DESC,
    created_at DESC,
    id DESC
LIMIT $2 OFFSET $3`

// SearchPages ranks matching pages in SQL and returns one window plus the total count.
func (s *Store) SearchPages(ctx context.Context, q crawler.SearchQuery) (crawler.SearchPage, error) {
	pattern := search.LikePattern(q.Text)

	var total int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM pages WHERE `+matchClause, pattern).Scan(&total); err != nil {
		return crawler.SearchPage{}, fmt.Errorf("count matches: %w: %w", crawler.ErrStore, err)
	}
	result := crawler.SearchPage{Total: total, Pages: []crawler.Page{}}
	if total == 0 || int64(q.Offset) >= total {
		return result, nil
	}

	rows, err := s.pool.Query(ctx, searchSQL, pattern, q.Limit, q.Offset)
	if err != nil {
		return crawler.SearchPage{}, fmt.Errorf("search pages: %w: %w", crawler.ErrStore, err)
	}
	pages, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (crawler.Page, error) {
		return scanPage(row)
	})
	if err != nil {
		return crawler.SearchPage{}, fmt.Errorf("scan pages: %w: %w", crawler.ErrStore, err)
	}
	if pages != nil {
		result.Pages = pages
	}
	return result, nil
}

// CountPages returns the number of stored pages.
func (s *Store) CountPages(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM pages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pages: %w: %w", crawler.ErrStore, err)
	}
	return n, nil
}

// EnqueueMany inserts unknown URLs, ignoring those already in the frontier.
func (s *Store) EnqueueMany(ctx context.Context, urls []string) (int, error) {
	urls = uniqueNonEmpty(urls)
	if len(urls) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `
INSERT INTO frontier (url)
SELECT u FROM unnest($1::text[]) WITH ORDINALITY AS t(u, ord) ORDER BY ord
ON CONFLICT (url) DO NOTHING`, urls)
	if err != nil {
		return 0, fmt.Errorf("enqueue urls: %w: %w", crawler.ErrStore, err)
	}
	return int(tag.RowsAffected()), nil
}

// NextPending returns up to limit unindexed URLs, oldest first.
func (s *Store) NextPending(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT url FROM frontier WHERE NOT indexed ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("next pending: %w: %w", crawler.ErrStore, err)
	}
	urls, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan pending: %w: %w", crawler.ErrStore, err)
	}
	if urls == nil {
		urls = []string{}
	}
	return urls, nil
}

// MarkIndexed flags url as crawled, inserting it if it was never enqueued.
func (s *Store) MarkIndexed(ctx context.Context, url string) error {
	if _, err := s.pool.Exec(ctx, `
INSERT INTO frontier (url, indexed) VALUES ($1, true)
ON CONFLICT (url) DO UPDATE SET indexed = true`, url); err != nil {
		return fmt.Errorf("mark indexed: %w: %w", crawler.ErrStore, err)
	}
	return nil
}

// Stats counts pending and indexed frontier entries.
func (s *Store) Stats(ctx context.Context) (crawler.FrontierStats, error) {
	var stats crawler.FrontierStats
	err := s.pool.QueryRow(ctx, `
SELECT count(*) FILTER (WHERE NOT indexed), count(*) FILTER (WHERE indexed)
FROM frontier`).Scan(&stats.Pending, &stats.Indexed)
	if err != nil {
		return crawler.FrontierStats{}, fmt.Errorf("frontier stats: %w: %w", crawler.ErrStore, err)
	}
	return stats, nil
}

func scanPage(row pgx.Row) (crawler.Page, error) {
	var (
		page   crawler.Page
		images string
	)
	if err := row.Scan(
		&page.ID,
		&page.URL,
		&page.Title,
		&page.Content,
		&images,
		&page.Description,
		&page.ContentHash,
		&page.CreatedAt,
	); err != nil {
		return crawler.Page{}, err
	}
	page.ImageURLs = crawler.SplitImageURLs(images)
	return page, nil
}

// classify maps constraint violations onto the crawler sentinels.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return fmt.Errorf("%w: %w", crawler.ErrStore, err)
	}
	switch {
	case pgErr.Code == uniqueViolation && strings.Contains(pgErr.ConstraintName, "content_hash"):
		return fmt.Errorf("%w: %w", crawler.ErrDuplicateContent, err)
	case pgErr.Code == uniqueViolation && strings.Contains(pgErr.ConstraintName, "url"):
		return fmt.Errorf("%w: %w", crawler.ErrDuplicateURL, err)
	case pgErr.Code == foreignKeyViolation:
		return fmt.Errorf("%w: %w", crawler.ErrNotFound, err)
	default:
		return fmt.Errorf("%w: %w", crawler.ErrStore, err)
	}
}

func uniqueNonEmpty(urls []string) []string {
	out := make([]string, 0, len(urls))
	seen := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}
