// Package extract turns rendered pages into normalized index records.
package extract

import (
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/crawlsearch/internal/crawler"
	"github.com/JakeFAU/crawlsearch/internal/links"
)

// Extractor is a pure transform from rendered-page fields to an ExtractedPage.
type Extractor struct {
	links  *links.Normalizer
	logger *zap.Logger
}

// New constructs an Extractor.
func New(normalizer *links.Normalizer, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if normalizer == nil {
		normalizer = links.New(logger)
	}
	return &Extractor{links: normalizer, logger: logger}
}

// Extract produces the record stored by the dedup store. Links are resolved and filtered
// for navigation; images are resolved and filtered for display.
func (e *Extractor) Extract(page crawler.RenderedPage) crawler.ExtractedPage {
	out := crawler.ExtractedPage{
		URL:         page.URL,
		Title:       strings.TrimSpace(page.Title),
		Content:     page.BodyText,
		Description: e.describe(page),
		ImageURLs:   []string{},
		Links:       []string{},
	}
	base, ok := links.ParseBase(page.BaseURL())
	if !ok {
		e.logger.Warn("unusable base url, dropping links and images", zap.String("url", page.URL))
		return out
	}
	out.ImageURLs = e.links.FilterImageable(base, page.ImageSources)
	out.Links = e.links.FilterNavigable(base, page.Links)
	return out
}

func (e *Extractor) describe(page crawler.RenderedPage) string {
	if desc := strings.TrimSpace(page.MetaDescription); desc != "" {
		return desc
	}
	for _, block := range page.StructuredData {
		desc, err := describeStructuredData(block)
		if err != nil {
			e.logger.Debug("skipping malformed structured data", zap.String("url", page.URL), zap.Error(err))
			continue
		}
		if desc != "" {
			return desc
		}
	}
	return crawler.NoDescription
}

// describeStructuredData returns the description implied by one JSON-LD block: a
// BreadcrumbList's item names joined by " > ", or a WebPage's description.
func describeStructuredData(block string) (string, error) {
	var raw any
	if err := json.Unmarshal([]byte(block), &raw); err != nil {
		return "", err
	}
	for _, node := range flattenNodes(raw) {
		switch {
		case hasType(node, "BreadcrumbList"):
			if desc := breadcrumbTrail(node); desc != "" {
				return desc, nil
			}
		case hasType(node, "WebPage"):
			if desc, ok := node["description"].(string); ok && strings.TrimSpace(desc) != "" {
				return strings.TrimSpace(desc), nil
			}
		}
	}
	return "", nil
}

// flattenNodes accepts a single object, an array of objects, or an object carrying @graph.
func flattenNodes(raw any) []map[string]any {
	var out []map[string]any
	switch v := raw.(type) {
	case map[string]any:
		out = append(out, v)
		if graph, ok := v["@graph"]; ok {
			out = append(out, flattenNodes(graph)...)
		}
	case []any:
		for _, item := range v {
			out = append(out, flattenNodes(item)...)
		}
	}
	return out
}

func hasType(node map[string]any, want string) bool {
	switch t := node["@type"].(type) {
	case string:
		return t == want
	case []any:
		for _, v := range t {
			if s, ok := v.(string); ok && s == want {
				return true
			}
		}
	}
	return false
}

func breadcrumbTrail(node map[string]any) string {
	items, ok := node["itemListElement"].([]any)
	if !ok {
		return ""
	}
	names := make([]string, 0, len(items))
	for _, raw := range items {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if name := itemName(item); name != "" {
			names = append(names, name)
		}
	}
	return strings.Join(names, " > ")
}

func itemName(item map[string]any) string {
	if inner, ok := item["item"].(map[string]any); ok {
		if name, ok := inner["name"].(string); ok && strings.TrimSpace(name) != "" {
			return strings.TrimSpace(name)
		}
	}
	if name, ok := item["name"].(string); ok {
		return strings.TrimSpace(name)
	}
	return ""
}

func resolveBase(current, href string) string {
	base, ok := links.ParseBase(current)
	if !ok {
		return current
	}
	resolved, ok := links.Normalize(base, href)
	if !ok {
		return current
	}
	return resolved.String()
}
