package search

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/JakeFAU/crawlsearch/internal/crawler"
)

// Score holds the ranking signals of one page for one query.
type Score struct {
	// Relevance is 2 for a title match plus 1 for a content match.
	Relevance int
	// Length favors longer pages: title chars/100 + content chars/1000.
	Length float64
}

// Matches reports whether the title or content contains query, ignoring case.
func Matches(page crawler.Page, query string) bool {
	s := ScorePage(page, query)
	return s.Relevance > 0
}

// ScorePage computes the ranking signals for page.
func ScorePage(page crawler.Page, query string) Score {
	q := strings.ToLower(query)
	var s Score
	if strings.Contains(strings.ToLower(page.Title), q) {
		s.Relevance += 2
	}
	if strings.Contains(strings.ToLower(page.Content), q) {
		s.Relevance++
	}
	s.Length = float64(utf8.RuneCountInString(page.Title))/100 +
		float64(utf8.RuneCountInString(page.Content))/1000
	return s
}

// Rank filters pages to those matching query and orders them by relevance desc, length
// desc, creation time desc, then id desc.
func Rank(pages []crawler.Page, query string) []crawler.Page {
	type scored struct {
		page  crawler.Page
		score Score
	}
	matches := make([]scored, 0, len(pages))
	for _, p := range pages {
		s := ScorePage(p, query)
		if s.Relevance == 0 {
			continue
		}
		matches = append(matches, scored{page: p, score: s})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.score.Relevance != b.score.Relevance {
			return a.score.Relevance > b.score.Relevance
		}
		if a.score.Length != b.score.Length {
			return a.score.Length > b.score.Length
		}
		if !a.page.CreatedAt.Equal(b.page.CreatedAt) {
			return a.page.CreatedAt.After(b.page.CreatedAt)
		}
		return a.page.ID > b.page.ID
	})
	out := make([]crawler.Page, len(matches))
	for i, m := range matches {
		out[i] = m.page
	}
	return out
}

// TotalPages returns ceil(total/pageSize).
func TotalPages(total int64, pageSize int) int {
	if pageSize <= 0 || total <= 0 {
		return 0
	}
	return int((total + int64(pageSize) - 1) / int64(pageSize))
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// LikePattern builds a lowercase SQL LIKE pattern matching query as a literal substring.
// It is meant for use with ESCAPE '\'.
func LikePattern(query string) string {
	return "%" + likeEscaper.Replace(strings.ToLower(query)) + "%"
}
