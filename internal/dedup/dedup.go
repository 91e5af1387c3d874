// Package dedup decides whether an extracted page is new, changed, or a copy of content
// already in the index, and persists it accordingly.
package dedup

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawlsearch/internal/crawler"
	"github.com/JakeFAU/crawlsearch/internal/hash/sha256"
)

// InsertResult reports what TryInsert did.
type InsertResult struct {
	Outcome crawler.Outcome
	// Page is the stored row. For OutcomeDuplicateContent it is the page that already owns
	// the content hash.
	Page crawler.Page
	// Links are the outbound links of the extracted page, passed through for the frontier.
	Links []string
}

// Store writes extracted pages through a crawler.PageRepository, keeping content hashes and
// URLs unique.
type Store struct {
	repo   crawler.PageRepository
	logger *zap.Logger
}

// New builds a Store.
func New(repo crawler.PageRepository, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{repo: repo, logger: logger.Named("dedup")}
}

// TryInsert stores page unless its content is already indexed. A known URL with new content
// is updated in place so its id and creation time survive.
func (s *Store) TryInsert(ctx context.Context, page crawler.ExtractedPage) (InsertResult, error) {
	hash := sha256.Fingerprint(page.Content)
	result := InsertResult{Links: page.Links}

	existing, err := s.repo.PageByHash(ctx, hash)
	switch {
	case err == nil:
		s.logger.Debug("duplicate content",
			zap.String("url", page.URL),
			zap.Int64("existing_page_id", existing.ID))
		result.Outcome = crawler.OutcomeDuplicateContent
		result.Page = existing
		return result, nil
	case !errors.Is(err, crawler.ErrNotFound):
		return InsertResult{}, fmt.Errorf("lookup content hash: %w", err)
	}

	row := toPage(page, hash)
	stored, outcome, err := s.write(ctx, row)
	if err != nil {
		if errors.Is(err, crawler.ErrDuplicateContent) {
			// Another writer stored the same content between the lookup and the write.
			winner, lookupErr := s.repo.PageByHash(ctx, hash)
			if lookupErr != nil {
				return InsertResult{}, fmt.Errorf("lookup content hash after conflict: %w", lookupErr)
			}
			result.Outcome = crawler.OutcomeDuplicateContent
			result.Page = winner
			return result, nil
		}
		return InsertResult{}, err
	}

	if err := s.repo.ReplaceImages(ctx, stored.ID, stored.ImageURLs); err != nil {
		return InsertResult{}, fmt.Errorf("write image rows: %w", err)
	}
	result.Outcome = outcome
	result.Page = stored
	return result, nil
}

// write inserts or updates row depending on whether its URL is known. A URL conflict on
// insert means another writer got there first; that case is retried once as an update.
func (s *Store) write(ctx context.Context, row crawler.Page) (crawler.Page, crawler.Outcome, error) {
	current, err := s.repo.PageByURL(ctx, row.URL)
	switch {
	case err == nil:
		return s.update(ctx, current, row)
	case !errors.Is(err, crawler.ErrNotFound):
		return crawler.Page{}, "", fmt.Errorf("lookup url: %w", err)
	}

	stored, err := s.repo.InsertPage(ctx, row)
	if err == nil {
		return stored, crawler.OutcomeInserted, nil
	}
	if !errors.Is(err, crawler.ErrDuplicateURL) {
		return crawler.Page{}, "", fmt.Errorf("insert page: %w", err)
	}

	current, err = s.repo.PageByURL(ctx, row.URL)
	if err != nil {
		return crawler.Page{}, "", fmt.Errorf("lookup url after conflict: %w", err)
	}
	return s.update(ctx, current, row)
}

func (s *Store) update(ctx context.Context, current, row crawler.Page) (crawler.Page, crawler.Outcome, error) {
	row.ID = current.ID
	row.CreatedAt = current.CreatedAt
	stored, err := s.repo.UpdatePage(ctx, row)
	if err != nil {
		return crawler.Page{}, "", fmt.Errorf("update page %d: %w", current.ID, err)
	}
	s.logger.Debug("page content changed",
		zap.String("url", row.URL),
		zap.Int64("page_id", stored.ID))
	return stored, crawler.OutcomeUpdated, nil
}

func toPage(page crawler.ExtractedPage, hash string) crawler.Page {
	images := page.ImageURLs
	if images == nil {
		images = []string{}
	}
	description := page.Description
	if description == "" {
		description = crawler.NoDescription
	}
	return crawler.Page{
		URL:         page.URL,
		Title:       page.Title,
		Content:     page.Content,
		ImageURLs:   images,
		Description: description,
		ContentHash: hash,
	}
}
