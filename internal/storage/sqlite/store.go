// Package sqlite implements crawler.Store on an embedded SQLite database for single-node
// deployments. It uses the pure-Go modernc.org/sqlite driver, so no cgo is required.
//
// SQLite's built-in lower() only folds ASCII, so search matches through ulower, a
// Unicode-aware scalar function registered with the driver.
package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	sqlitedrv "modernc.org/sqlite"

	"github.com/JakeFAU/crawlsearch/internal/crawler"
	"github.com/JakeFAU/crawlsearch/internal/search"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// timeLayout is fixed width so lexical order equals chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const schema = `
CREATE TABLE IF NOT EXISTS pages (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	url          TEXT NOT NULL UNIQUE,
	title        TEXT NOT NULL DEFAULT '',
	content      TEXT NOT NULL DEFAULT '',
	image_urls   TEXT NOT NULL DEFAULT '',
	metadata     TEXT NOT NULL DEFAULT '',
	content_hash TEXT NOT NULL UNIQUE,
	created_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS images (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	page_id   INTEGER NOT NULL REFERENCES pages (id) ON DELETE CASCADE,
	image_url TEXT NOT NULL,
	UNIQUE (page_id, image_url)
);

CREATE TABLE IF NOT EXISTS frontier (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	url        TEXT NOT NULL UNIQUE,
	indexed    INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_frontier_pending ON frontier (id) WHERE indexed = 0;
`

var (
	registerOnce sync.Once
	registerErr  error
)

// registerFunctions installs ulower for every connection opened afterwards.
func registerFunctions() error {
	registerOnce.Do(func() {
		registerErr = sqlitedrv.RegisterDeterministicScalarFunction("ulower", 1, ulower)
	})
	return registerErr
}

func ulower(_ *sqlitedrv.FunctionContext, args []driver.Value) (driver.Value, error) {
	switch v := args[0].(type) {
	case nil:
		return nil, nil
	case string:
		return strings.ToLower(v), nil
	case []byte:
		return strings.ToLower(string(v)), nil
	default:
		return v, nil
	}
}

// Store implements crawler.Store on SQLite.
type Store struct {
	db    *sql.DB
	clock crawler.Clock
}

// Open opens or creates the database at path and applies the schema. Use MemoryPath for a
// throwaway database.
func Open(ctx context.Context, path string, clock crawler.Clock) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if err := registerFunctions(); err != nil {
		return nil, fmt.Errorf("register sqlite functions: %w", err)
	}
	memory := path == MemoryPath
	if !memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection: SQLite has a single writer and each :memory: connection is its own database.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if !memory {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
	}
	s := NewWithDB(db, clock)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps an already opened database without touching its schema.
func NewWithDB(db *sql.DB, clock crawler.Clock) *Store {
	return &Store{db: db, clock: clock}
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w: %w", crawler.ErrStore, err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) now() string {
	t := time.Now()
	if s.clock != nil {
		t = s.clock.Now()
	}
	return t.UTC().Format(timeLayout)
}

const pageColumns = `id, url, title, content, image_urls, metadata, content_hash, created_at`

// PageByID fetches a page by ID.
func (s *Store) PageByID(ctx context.Context, id int64) (crawler.Page, error) {
	return s.pageWhere(ctx, "id = ?", id)
}

// PageByURL fetches a page by URL.
func (s *Store) PageByURL(ctx context.Context, url string) (crawler.Page, error) {
	return s.pageWhere(ctx, "url = ?", url)
}

// PageByHash fetches a page by content hash.
func (s *Store) PageByHash(ctx context.Context, hash string) (crawler.Page, error) {
	return s.pageWhere(ctx, "content_hash = ?", hash)
}

func (s *Store) pageWhere(ctx context.Context, cond string, arg any) (crawler.Page, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+pageColumns+" FROM pages WHERE "+cond, arg)
	page, err := scanPage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return crawler.Page{}, fmt.Errorf("page %v: %w", arg, crawler.ErrNotFound)
	}
	if err != nil {
		return crawler.Page{}, fmt.Errorf("select page: %w: %w", crawler.ErrStore, err)
	}
	return page, nil
}

// InsertPage inserts a page, stamping its ID and creation time.
func (s *Store) InsertPage(ctx context.Context, page crawler.Page) (crawler.Page, error) {
	created := s.now()
	res, err := s.db.ExecContext(ctx, `
INSERT INTO pages (url, title, content, image_urls, metadata, content_hash, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		page.URL,
		page.Title,
		page.Content,
		crawler.JoinImageURLs(page.ImageURLs),
		page.Description,
		page.ContentHash,
		created,
	)
	if err != nil {
		return crawler.Page{}, fmt.Errorf("insert page: %w", classify(err))
	}
	id, err := res.LastInsertId()
	if err != nil {
		return crawler.Page{}, fmt.Errorf("insert page id: %w: %w", crawler.ErrStore, err)
	}
	page.ID = id
	page.CreatedAt, _ = time.Parse(timeLayout, created)
	return page, nil
}

// UpdatePage rewrites the mutable columns of page.ID, keeping created_at.
func (s *Store) UpdatePage(ctx context.Context, page crawler.Page) (crawler.Page, error) {
	var created string
	err := s.db.QueryRowContext(ctx, `
UPDATE pages
SET url = ?, title = ?, content = ?, image_urls = ?, metadata = ?, content_hash = ?
WHERE id = ?
RETURNING created_at`,
		page.URL,
		page.Title,
		page.Content,
		crawler.JoinImageURLs(page.ImageURLs),
		page.Description,
		page.ContentHash,
		page.ID,
	).Scan(&created)
	if errors.Is(err, sql.ErrNoRows) {
		return crawler.Page{}, fmt.Errorf("update page %d: %w", page.ID, crawler.ErrNotFound)
	}
	if err != nil {
		return crawler.Page{}, fmt.Errorf("update page %d: %w", page.ID, classify(err))
	}
	if page.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return crawler.Page{}, fmt.Errorf("parse created_at: %w: %w", crawler.ErrStore, err)
	}
	return page, nil
}

// ReplaceImages makes the image rows of pageID equal to urls in one transaction. Rows
// that stay keep their IDs.
func (s *Store) ReplaceImages(ctx context.Context, pageID int64, urls []string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w: %w", crawler.ErrStore, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var exists int
	if err = tx.QueryRowContext(ctx, `SELECT 1 FROM pages WHERE id = ?`, pageID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("page %d: %w", pageID, crawler.ErrNotFound)
		}
		return fmt.Errorf("lookup page: %w: %w", crawler.ErrStore, err)
	}

	current, err := imageSet(ctx, tx, pageID)
	if err != nil {
		return err
	}
	want := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		want[u] = struct{}{}
	}
	for u := range current {
		if _, ok := want[u]; ok {
			continue
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM images WHERE page_id = ? AND image_url = ?`, pageID, u); err != nil {
			return fmt.Errorf("delete image: %w", classify(err))
		}
	}
	for _, u := range urls {
		if _, ok := current[u]; ok {
			continue
		}
		if _, err = tx.ExecContext(ctx, `INSERT OR IGNORE INTO images (page_id, image_url) VALUES (?, ?)`, pageID, u); err != nil {
			return fmt.Errorf("insert image: %w", classify(err))
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit images: %w: %w", crawler.ErrStore, err)
	}
	return nil
}

func imageSet(ctx context.Context, tx *sql.Tx, pageID int64) (map[string]struct{}, error) {
	rows, err := tx.QueryContext(ctx, `SELECT image_url FROM images WHERE page_id = ?`, pageID)
	if err != nil {
		return nil, fmt.Errorf("select images: %w: %w", crawler.ErrStore, err)
	}
	defer rows.Close()
	set := make(map[string]struct{})
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan image: %w: %w", crawler.ErrStore, err)
		}
		set[u] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate images: %w: %w", crawler.ErrStore, err)
	}
	return set, nil
}

// ListImages returns the image rows of a page in insertion order.
func (s *Store) ListImages(ctx context.Context, pageID int64) ([]crawler.Image, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, page_id, image_url FROM images WHERE page_id = ? ORDER BY id`, pageID)
	if err != nil {
		return nil, fmt.Errorf("list images: %w: %w", crawler.ErrStore, err)
	}
	defer rows.Close()
	images := []crawler.Image{}
	for rows.Next() {
		var img crawler.Image
		if err := rows.Scan(&img.ID, &img.PageID, &img.ImageURL); err != nil {
			return nil, fmt.Errorf("scan image: %w: %w", crawler.ErrStore, err)
		}
		images = append(images, img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate images: %w: %w", crawler.ErrStore, err)
	}
	return images, nil
}

const matchClause = `ulower(title) LIKE ?1 ESCAPE '\' OR ulower(content) LIKE ?1 ESCAPE '\'`

const searchSQL = `
SELECT ` + pageColumns + `
FROM pages
WHERE ` + matchClause + `
ORDER BY
	(CASE WHEN ulower(title) LIKE ?1 ESCAPE '\' THEN 2 ELSE 0 END
	 + CASE WHEN ulower(content) LIKE ?1 ESCAPE '\' THEN 1 ELSE 0 END) DESC,
	(length(title) / 100.0 + length(content) / 1000.0) DESC,
	created_at DESC,
	id DESC
LIMIT ?2 OFFSET ?3`

// SearchPages ranks matches in SQL and returns one window plus the total count.
func (s *Store) SearchPages(ctx context.Context, q crawler.SearchQuery) (crawler.SearchPage, error) {
	pattern := search.LikePattern(q.Text)

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM pages WHERE `+matchClause, pattern).Scan(&total); err != nil {
		return crawler.SearchPage{}, fmt.Errorf("count matches: %w: %w", crawler.ErrStore, err)
	}
	result := crawler.SearchPage{Total: total, Pages: []crawler.Page{}}
	if total == 0 || int64(q.Offset) >= total {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, searchSQL, pattern, q.Limit, q.Offset)
	if err != nil {
		return crawler.SearchPage{}, fmt.Errorf("search pages: %w: %w", crawler.ErrStore, err)
	}
	defer rows.Close()
	for rows.Next() {
		page, err := scanPage(rows)
		if err != nil {
			return crawler.SearchPage{}, fmt.Errorf("scan page: %w: %w", crawler.ErrStore, err)
		}
		result.Pages = append(result.Pages, page)
	}
	if err := rows.Err(); err != nil {
		return crawler.SearchPage{}, fmt.Errorf("iterate pages: %w: %w", crawler.ErrStore, err)
	}
	return result, nil
}

// CountPages returns the number of stored pages.
func (s *Store) CountPages(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM pages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pages: %w: %w", crawler.ErrStore, err)
	}
	return n, nil
}

// EnqueueMany inserts unknown URLs, ignoring those already in the frontier.
func (s *Store) EnqueueMany(ctx context.Context, urls []string) (n int, err error) {
	if len(urls) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w: %w", crawler.ErrStore, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	created := s.now()
	for _, u := range urls {
		if u == "" {
			continue
		}
		res, execErr := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO frontier (url, indexed, created_at) VALUES (?, 0, ?)`, u, created)
		if execErr != nil {
			return 0, fmt.Errorf("enqueue url: %w: %w", crawler.ErrStore, execErr)
		}
		affected, _ := res.RowsAffected()
		n += int(affected)
	}
	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit frontier: %w: %w", crawler.ErrStore, err)
	}
	return n, nil
}

// NextPending returns up to limit unindexed URLs, oldest first.
func (s *Store) NextPending(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT url FROM frontier WHERE indexed = 0 ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("next pending: %w: %w", crawler.ErrStore, err)
	}
	defer rows.Close()
	urls := []string{}
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan pending: %w: %w", crawler.ErrStore, err)
		}
		urls = append(urls, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending: %w: %w", crawler.ErrStore, err)
	}
	return urls, nil
}

// MarkIndexed flags url as crawled, inserting it if it was never enqueued.
func (s *Store) MarkIndexed(ctx context.Context, url string) error {
	if _, err := s.db.ExecContext(ctx, `
INSERT INTO frontier (url, indexed, created_at) VALUES (?, 1, ?)
ON CONFLICT (url) DO UPDATE SET indexed = 1`, url, s.now()); err != nil {
		return fmt.Errorf("mark indexed: %w: %w", crawler.ErrStore, err)
	}
	return nil
}

// Stats counts pending and indexed frontier entries.
func (s *Store) Stats(ctx context.Context) (crawler.FrontierStats, error) {
	var stats crawler.FrontierStats
	err := s.db.QueryRowContext(ctx, `
SELECT coalesce(sum(CASE WHEN indexed = 0 THEN 1 ELSE 0 END), 0),
       coalesce(sum(CASE WHEN indexed = 1 THEN 1 ELSE 0 END), 0)
FROM frontier`).Scan(&stats.Pending, &stats.Indexed)
	if err != nil {
		return crawler.FrontierStats{}, fmt.Errorf("frontier stats: %w: %w", crawler.ErrStore, err)
	}
	return stats, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPage(row scanner) (crawler.Page, error) {
	var (
		page    crawler.Page
		images  string
		created string
	)
	if err := row.Scan(
		&page.ID,
		&page.URL,
		&page.Title,
		&page.Content,
		&images,
		&page.Description,
		&page.ContentHash,
		&created,
	); err != nil {
		return crawler.Page{}, err
	}
	t, err := time.Parse(timeLayout, created)
	if err != nil {
		return crawler.Page{}, fmt.Errorf("parse created_at %q: %w", created, err)
	}
	page.CreatedAt = t
	page.ImageURLs = crawler.SplitImageURLs(images)
	return page, nil
}

// classify maps SQLite constraint messages onto the crawler sentinels.
func classify(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed: pages.content_hash"):
		return fmt.Errorf("%w: %w", crawler.ErrDuplicateContent, err)
	case strings.Contains(msg, "UNIQUE constraint failed: pages.url"):
		return fmt.Errorf("%w: %w", crawler.ErrDuplicateURL, err)
	case strings.Contains(msg, "FOREIGN KEY constraint failed"):
		return fmt.Errorf("%w: %w", crawler.ErrNotFound, err)
	default:
		return fmt.Errorf("%w: %w", crawler.ErrStore, err)
	}
}
