package extract

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlsearch/internal/crawler"
)

const samplePage = `<!doctype html>
<html>
<head>
  <title> Cat Facts </title>
  <script type="application/ld+json">{"@type":"WebPage","description":"structured"}</script>
  <style>.x{color:red}</style>
</head>
<body>
  <h1>All about cats</h1>
  <script>var tracking = 1;</script>
  <img src="/img/cat.png"><img alt="no src">
  <a href="/breeds">Breeds</a>
  <a href="https://other.org/guide.pdf">Guide</a>
  <a href="javascript:void(0)">Noop</a>
</body>
</html>`

func TestParseDocumentCollectsDOMFields(t *testing.T) {
	t.Parallel()

	page, err := ParseDocument("https://cats.example/", "https://cats.example/", []byte(samplePage))
	require.NoError(t, err)

	require.Equal(t, "Cat Facts", page.Title)
	require.Contains(t, page.BodyText, "All about cats")
	require.NotContains(t, page.BodyText, "tracking")
	require.Equal(t, []string{"/img/cat.png"}, page.ImageSources)
	require.Equal(t, []string{"/breeds", "https://other.org/guide.pdf", "javascript:void(0)"}, page.Links)
	require.Equal(t, []string{`{"@type":"WebPage","description":"structured"}`}, page.StructuredData)
	require.Empty(t, page.MetaDescription)
}

func TestParseDocumentHonoursBaseHref(t *testing.T) {
	t.Parallel()

	html := `<html><head><base href="/docs/"></head><body><a href="intro">x</a></body></html>`
	page, err := ParseDocument("https://site.com/index", "", []byte(html))
	require.NoError(t, err)
	require.Equal(t, "https://site.com/docs/", page.FinalURL)

	out := New(nil, zap.NewNop()).Extract(page)
	require.Equal(t, []string{"https://site.com/docs/intro"}, out.Links)
}

func TestExtractResolvesLinksAndImages(t *testing.T) {
	t.Parallel()

	page, err := ParseDocument("https://cats.example/", "https://cats.example/", []byte(samplePage))
	require.NoError(t, err)

	out := New(nil, zap.NewNop()).Extract(page)
	require.Equal(t, "https://cats.example/", out.URL)
	require.Equal(t, []string{"https://cats.example/img/cat.png"}, out.ImageURLs)
	require.Equal(t, []string{"https://cats.example/breeds"}, out.Links)
	require.Equal(t, "structured", out.Description)
}

func TestExtractDescriptionOrder(t *testing.T) {
	t.Parallel()

	breadcrumb := `{"@type":"BreadcrumbList","itemListElement":[
		{"@type":"ListItem","position":1,"item":{"name":"Home"}},
		{"@type":"ListItem","position":2,"name":"Cats"}
	]}`
	tests := []struct {
		name string
		page crawler.RenderedPage
		want string
	}{
		{
			name: "meta wins",
			page: crawler.RenderedPage{MetaDescription: " meta ", StructuredData: []string{breadcrumb}},
			want: "meta",
		},
		{
			name: "breadcrumb",
			page: crawler.RenderedPage{StructuredData: []string{breadcrumb}},
			want: "Home > Cats",
		},
		{
			name: "malformed block skipped",
			page: crawler.RenderedPage{StructuredData: []string{"{not json", `{"@type":"WebPage","description":"ok"}`}},
			want: "ok",
		},
		{
			name: "graph form",
			page: crawler.RenderedPage{StructuredData: []string{
				`{"@context":"https://schema.org","@graph":[{"@type":"Organization"},{"@type":["WebPage"],"description":"graph"}]}`,
			}},
			want: "graph",
		},
		{
			name: "unrelated types fall back",
			page: crawler.RenderedPage{StructuredData: []string{`[{"@type":"Product","description":"nope"}]`}},
			want: crawler.NoDescription,
		},
		{
			name: "nothing",
			page: crawler.RenderedPage{},
			want: crawler.NoDescription,
		},
	}

	ex := New(nil, zap.NewNop())
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			tc.page.URL = "https://site.com/"
			require.Equal(t, tc.want, ex.Extract(tc.page).Description)
		})
	}
}

func TestExtractWithBadBaseKeepsTextOnly(t *testing.T) {
	t.Parallel()

	out := New(nil, nil).Extract(crawler.RenderedPage{
		URL:          "not a url",
		Title:        "t",
		BodyText:     "body",
		Links:        []string{"/a"},
		ImageSources: []string{"/b.png"},
	})
	require.Equal(t, "body", out.Content)
	require.Empty(t, out.Links)
	require.Empty(t, out.ImageURLs)
}
