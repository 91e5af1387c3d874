package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/crawlsearch/internal/crawler"
)

// nonTextSelectors are removed before the body text is read.
const nonTextSelectors = "script, style, noscript, template"

// ParseDocument derives the rendered-page fields from a DOM snapshot.
// Hrefs and srcs are returned raw; a <base href> is folded into FinalURL so that later
// resolution matches what the browser would do.
func ParseDocument(pageURL, finalURL string, html []byte) (crawler.RenderedPage, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return crawler.RenderedPage{}, fmt.Errorf("parse html: %w", err)
	}

	page := crawler.RenderedPage{
		URL:      pageURL,
		FinalURL: finalURL,
		HTML:     html,
		Title:    strings.TrimSpace(doc.Find("title").First().Text()),
	}
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok && strings.TrimSpace(href) != "" {
		page.FinalURL = resolveBase(page.BaseURL(), href)
	}
	if desc, ok := doc.Find(`meta[name="description"]`).First().Attr("content"); ok {
		page.MetaDescription = strings.TrimSpace(desc)
	}
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		if body := strings.TrimSpace(s.Text()); body != "" {
			page.StructuredData = append(page.StructuredData, body)
		}
	})
	doc.Find("img").Each(func(_ int, s *goquery.Selection) {
		if src, ok := s.Attr("src"); ok {
			page.ImageSources = append(page.ImageSources, src)
		}
	})
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		page.Links = append(page.Links, href)
	})

	body := doc.Find("body").First()
	body.Find(nonTextSelectors).Remove()
	page.BodyText = body.Text()
	return page, nil
}
