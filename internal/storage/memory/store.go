package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/crawlsearch/internal/crawler"
	"github.com/JakeFAU/crawlsearch/internal/search"
)

// Store is an in-memory crawler.Store for development and tests. Uniqueness of page URL,
// page content hash, (page, image URL) and frontier URL is enforced under one lock.
type Store struct {
	clock crawler.Clock

	mu             sync.RWMutex
	nextPageID     int64
	nextImageID    int64
	nextFrontierID int64
	pages          map[int64]crawler.Page
	byURL          map[string]int64
	byHash         map[string]int64
	images         map[int64][]crawler.Image
	frontier       []*crawler.FrontierEntry
	frontierByURL  map[string]*crawler.FrontierEntry
}

// NewStore constructs an empty Store. A nil clock uses the wall clock.
func NewStore(clock crawler.Clock) *Store {
	return &Store{
		clock:         clock,
		pages:         make(map[int64]crawler.Page),
		byURL:         make(map[string]int64),
		byHash:        make(map[string]int64),
		images:        make(map[int64][]crawler.Image),
		frontierByURL: make(map[string]*crawler.FrontierEntry),
	}
}

// Close is a no-op.
func (s *Store) Close() error { return nil }

func (s *Store) now() time.Time {
	if s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock.Now()
}

// PageByID fetches a page by ID.
func (s *Store) PageByID(_ context.Context, id int64) (crawler.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	page, ok := s.pages[id]
	if !ok {
		return crawler.Page{}, fmt.Errorf("page %d: %w", id, crawler.ErrNotFound)
	}
	return clonePage(page), nil
}

// PageByURL fetches a page by URL.
func (s *Store) PageByURL(_ context.Context, url string) (crawler.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byURL[url]
	if !ok {
		return crawler.Page{}, fmt.Errorf("page %q: %w", url, crawler.ErrNotFound)
	}
	return clonePage(s.pages[id]), nil
}

// PageByHash fetches a page by content hash.
func (s *Store) PageByHash(_ context.Context, hash string) (crawler.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byHash[hash]
	if !ok {
		return crawler.Page{}, fmt.Errorf("page hash %s: %w", hash, crawler.ErrNotFound)
	}
	return clonePage(s.pages[id]), nil
}

// InsertPage stores a new page, rejecting URL and hash conflicts.
func (s *Store) InsertPage(_ context.Context, page crawler.Page) (crawler.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byURL[page.URL]; ok {
		return crawler.Page{}, fmt.Errorf("insert page %q: %w", page.URL, crawler.ErrDuplicateURL)
	}
	if _, ok := s.byHash[page.ContentHash]; ok {
		return crawler.Page{}, fmt.Errorf("insert page %q: %w", page.URL, crawler.ErrDuplicateContent)
	}
	s.nextPageID++
	page.ID = s.nextPageID
	if page.CreatedAt.IsZero() {
		page.CreatedAt = s.now()
	}
	page = clonePage(page)
	s.pages[page.ID] = page
	s.byURL[page.URL] = page.ID
	s.byHash[page.ContentHash] = page.ID
	return clonePage(page), nil
}

// UpdatePage replaces the mutable columns of an existing page.
func (s *Store) UpdatePage(_ context.Context, page crawler.Page) (crawler.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.pages[page.ID]
	if !ok {
		return crawler.Page{}, fmt.Errorf("update page %d: %w", page.ID, crawler.ErrNotFound)
	}
	if id, ok := s.byHash[page.ContentHash]; ok && id != page.ID {
		return crawler.Page{}, fmt.Errorf("update page %d: %w", page.ID, crawler.ErrDuplicateContent)
	}
	if id, ok := s.byURL[page.URL]; ok && id != page.ID {
		return crawler.Page{}, fmt.Errorf("update page %d: %w", page.ID, crawler.ErrDuplicateURL)
	}
	delete(s.byHash, existing.ContentHash)
	delete(s.byURL, existing.URL)
	page.CreatedAt = existing.CreatedAt
	page = clonePage(page)
	s.pages[page.ID] = page
	s.byURL[page.URL] = page.ID
	s.byHash[page.ContentHash] = page.ID
	return clonePage(page), nil
}

// ReplaceImages makes the page's image rows equal to urls, keeping existing rows.
func (s *Store) ReplaceImages(_ context.Context, pageID int64, urls []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pages[pageID]; !ok {
		return fmt.Errorf("replace images for page %d: %w", pageID, crawler.ErrNotFound)
	}
	existing := make(map[string]crawler.Image, len(s.images[pageID]))
	for _, img := range s.images[pageID] {
		existing[img.ImageURL] = img
	}
	rows := make([]crawler.Image, 0, len(urls))
	seen := make(map[string]struct{}, len(urls))
	for _, u := range urls {
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		if img, ok := existing[u]; ok {
			rows = append(rows, img)
			continue
		}
		s.nextImageID++
		rows = append(rows, crawler.Image{ID: s.nextImageID, PageID: pageID, ImageURL: u})
	}
	s.images[pageID] = rows
	return nil
}

// ListImages returns the image rows of a page in insertion order.
func (s *Store) ListImages(_ context.Context, pageID int64) ([]crawler.Image, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crawler.Image, len(s.images[pageID]))
	copy(out, s.images[pageID])
	return out, nil
}

// SearchPages ranks every page in memory and returns the requested window.
func (s *Store) SearchPages(_ context.Context, query crawler.SearchQuery) (crawler.SearchPage, error) {
	s.mu.RLock()
	all := make([]crawler.Page, 0, len(s.pages))
	for _, p := range s.pages {
		all = append(all, clonePage(p))
	}
	s.mu.RUnlock()

	ranked := search.Rank(all, query.Text)
	result := crawler.SearchPage{Total: int64(len(ranked)), Pages: []crawler.Page{}}
	if query.Offset >= len(ranked) {
		return result, nil
	}
	end := len(ranked)
	if query.Limit > 0 && query.Offset+query.Limit < end {
		end = query.Offset + query.Limit
	}
	result.Pages = ranked[query.Offset:end]
	return result, nil
}

// CountPages returns the number of stored pages.
func (s *Store) CountPages(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.pages)), nil
}

// EnqueueMany adds unknown URLs to the frontier.
func (s *Store) EnqueueMany(_ context.Context, urls []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	added := 0
	for _, u := range urls {
		if u == "" {
			continue
		}
		if _, ok := s.frontierByURL[u]; ok {
			continue
		}
		s.addFrontierLocked(u, false)
		added++
	}
	return added, nil
}

// NextPending returns up to limit unindexed URLs in insertion order.
func (s *Store) NextPending(_ context.Context, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, limit)
	for _, entry := range s.frontier {
		if len(out) >= limit {
			break
		}
		if !entry.Indexed {
			out = append(out, entry.URL)
		}
	}
	return out, nil
}

// MarkIndexed flags url as crawled, recording it if it was never queued.
func (s *Store) MarkIndexed(_ context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.frontierByURL[url]; ok {
		entry.Indexed = true
		return nil
	}
	s.addFrontierLocked(url, true)
	return nil
}

// Stats counts pending and indexed frontier entries.
func (s *Store) Stats(_ context.Context) (crawler.FrontierStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var stats crawler.FrontierStats
	for _, entry := range s.frontier {
		if entry.Indexed {
			stats.Indexed++
		} else {
			stats.Pending++
		}
	}
	return stats, nil
}

// Entry returns a copy of the frontier entry for url.
func (s *Store) Entry(url string) (crawler.FrontierEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.frontierByURL[url]
	if !ok {
		return crawler.FrontierEntry{}, false
	}
	return *entry, true
}

func (s *Store) addFrontierLocked(url string, indexed bool) {
	s.nextFrontierID++
	entry := &crawler.FrontierEntry{
		ID:        s.nextFrontierID,
		URL:       url,
		Indexed:   indexed,
		CreatedAt: s.now(),
	}
	s.frontier = append(s.frontier, entry)
	s.frontierByURL[url] = entry
}

func clonePage(p crawler.Page) crawler.Page {
	cp := p
	cp.ImageURLs = append([]string{}, p.ImageURLs...)
	return cp
}
