package crawler

import (
	"fmt"
	"strings"
	"time"
)

// NoDescription is stored when a page exposes neither a meta description nor a usable
// structured-data description.
const NoDescription = "No description available"

// imageURLSeparator delimits image URLs in the persisted image_urls column.
const imageURLSeparator = ","

// Page is one stored, deduplicated document.
type Page struct {
	ID          int64     `json:"id"`
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	ImageURLs   []string  `json:"imageUrls"`
	Description string    `json:"metadata"`
	ContentHash string    `json:"contentHash"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Image is a derived row linking an image URL to its owning page.
type Image struct {
	ID       int64  `json:"id"`
	PageID   int64  `json:"pageId"`
	ImageURL string `json:"imageUrl"`
}

// FrontierEntry is a discovered URL awaiting (or done with) a crawl.
type FrontierEntry struct {
	ID        int64     `json:"id"`
	URL       string    `json:"url"`
	Indexed   bool      `json:"indexed"`
	CreatedAt time.Time `json:"createdAt"`
}

// FrontierStats summarizes the frontier table.
type FrontierStats struct {
	Pending int64 `json:"pending"`
	Indexed int64 `json:"indexed"`
}

// RenderedPage holds the DOM-derived fields returned by the render capability.
type RenderedPage struct {
	URL             string
	FinalURL        string
	HTML            []byte
	Title           string
	BodyText        string
	ImageSources    []string
	Links           []string
	MetaDescription string
	// StructuredData holds the raw bodies of application/ld+json script blocks.
	StructuredData []string
}

// BaseURL returns the URL relative references should be resolved against.
func (p RenderedPage) BaseURL() string {
	if p.FinalURL != "" {
		return p.FinalURL
	}
	return p.URL
}

// ExtractedPage is the normalized record produced by the content extractor.
type ExtractedPage struct {
	URL         string
	Title       string
	Content     string
	ImageURLs   []string
	Description string
	Links       []string
}

// Outcome describes what the dedup store did with an extracted page.
type Outcome string

// Dedup outcomes.
const (
	OutcomeInserted         Outcome = "inserted"
	OutcomeUpdated          Outcome = "updated"
	OutcomeDuplicateContent Outcome = "duplicate_content"
)

// JoinImageURLs encodes image URLs for the image_urls column.
func JoinImageURLs(urls []string) string {
	return strings.Join(urls, imageURLSeparator)
}

// SplitImageURLs decodes the image_urls column. An empty column yields an empty slice.
func SplitImageURLs(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, imageURLSeparator)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// SearchQuery is a validated, store-level search request.
type SearchQuery struct {
	Text   string
	Offset int
	Limit  int
}

// SearchPage is one window of ranked matches plus the total match count.
type SearchPage struct {
	Pages []Page
	Total int64
}

// ResultView is the subset of a Page returned to search clients.
type ResultView struct {
	ID          int64    `json:"id"`
	URL         string   `json:"url"`
	Title       string   `json:"title"`
	ImageURLs   []string `json:"imageUrls"`
	Description string   `json:"metadata"`
}

// SearchResult is the paginated response body for a search.
type SearchResult struct {
	Results     []ResultView `json:"results"`
	TotalPages  int          `json:"totalPages"`
	CurrentPage int          `json:"currentPage"`
}

// CacheKey identifies a cached search result.
type CacheKey struct {
	Query    string
	Page     int
	PageSize int
}

// String renders the key in the form used by external caches.
func (k CacheKey) String() string {
	return fmt.Sprintf("search:%s:%d:%d", k.Query, k.Page, k.PageSize)
}
