package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlsearch/internal/crawler"
	"github.com/JakeFAU/crawlsearch/internal/dispatcher"
	queueMemory "github.com/JakeFAU/crawlsearch/internal/queue/memory"
	"github.com/JakeFAU/crawlsearch/internal/search"
	storeMemory "github.com/JakeFAU/crawlsearch/internal/storage/memory"
)

func TestIndexQueuesTask(t *testing.T) {
	t.Parallel()

	q := queueMemory.NewQueue(10)
	srv := newTestServer(t, dispatcher.New(q, nil, &fakeIDGen{id: "task-1"}, fixedClock{}, zap.NewNop()), storeMemory.NewStore(nil))

	rec := do(srv, http.MethodPost, "/api/index", `{"url":"https://example.com/a"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	var body indexResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "Indexing started", body.Message)
	require.Equal(t, "task-1", body.TaskID)

	item, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, "https://example.com/a", item.Task.URL)
}

func TestIndexRejectsBadInput(t *testing.T) {
	t.Parallel()

	q := queueMemory.NewQueue(10)
	srv := newTestServer(t, dispatcher.New(q, nil, &fakeIDGen{id: "t"}, fixedClock{}, nil), storeMemory.NewStore(nil))

	tests := []struct {
		name string
		body string
		want string
	}{
		{"invalid json", "{invalid", "invalid JSON"},
		{"missing url", `{}`, "url is required"},
		{"blank url", `{"url":"   "}`, "url is required"},
		{"relative url", `{"url":"/about"}`, "absolute http(s) URL"},
		{"ftp url", `{"url":"ftp://example.com/file"}`, "absolute http(s) URL"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			rec := do(srv, http.MethodPost, "/api/index", tc.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Contains(t, errorBody(t, rec), tc.want)
			require.Zero(t, q.Len())
		})
	}
}

func TestIndexQueueFullIsServiceUnavailable(t *testing.T) {
	t.Parallel()

	q := queueMemory.NewQueue(1)
	srv := newTestServer(t, dispatcher.New(q, nil, &fakeIDGen{id: "t"}, fixedClock{}, nil), storeMemory.NewStore(nil))

	require.Equal(t, http.StatusOK, do(srv, http.MethodPost, "/api/index", `{"url":"https://a.test/"}`).Code)
	rec := do(srv, http.MethodPost, "/api/index", `{"url":"https://b.test/"}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestIndexUnexpectedErrorIsInternal(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, failingSubmitter{err: errors.New("boom")}, storeMemory.NewStore(nil))
	rec := do(srv, http.MethodPost, "/api/index", `{"url":"https://a.test/"}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotEmpty(t, errorBody(t, rec))
}

func TestSearchPaginates(t *testing.T) {
	t.Parallel()

	store := storeMemory.NewStore(nil)
	for i := 0; i < 25; i++ {
		_, err := store.InsertPage(context.Background(), crawler.Page{
			URL:         fmt.Sprintf("https://a.test/%d", i),
			Title:       "cat " + strconv.Itoa(i),
			Content:     "about cats",
			ImageURLs:   []string{},
			Description: crawler.NoDescription,
			ContentHash: fmt.Sprintf("h%d", i),
		})
		require.NoError(t, err)
	}
	srv := newTestServer(t, failingSubmitter{}, store)

	rec := do(srv, http.MethodGet, "/api/search?query=cat", "")
	require.Equal(t, http.StatusOK, rec.Code)
	first := decodeResult(t, rec)
	require.Len(t, first.Results, 10)
	require.Equal(t, 3, first.TotalPages)
	require.Equal(t, 1, first.CurrentPage)

	third := decodeResult(t, do(srv, http.MethodGet, "/api/search?query=cat&page=3&limit=10", ""))
	require.Len(t, third.Results, 5)

	rec = do(srv, http.MethodGet, "/api/search?query=cat&page=4", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"results":[]`)
}

func TestSearchValidation(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, failingSubmitter{}, storeMemory.NewStore(nil))

	for _, target := range []string{
		"/api/search",
		"/api/search?query=%20%20",
		"/api/search?query=cat&page=abc",
		"/api/search?query=cat&limit=x",
		"/api/search?query=cat&page=0",
		"/api/search?query=cat&limit=101",
	} {
		rec := do(srv, http.MethodGet, target, "")
		require.Equal(t, http.StatusBadRequest, rec.Code, target)
		require.NotEmpty(t, errorBody(t, rec), target)
	}
}

func TestSearchStoreFailureIsInternal(t *testing.T) {
	t.Parallel()

	srv := NewServer(failingSubmitter{}, failingSearcher{}, storeMemory.NewStore(nil), storeMemory.NewStore(nil), Config{}, zap.NewNop())
	rec := do(srv, http.MethodGet, "/api/search?query=cat", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, "search failed", errorBody(t, rec))
}

func TestGetPage(t *testing.T) {
	t.Parallel()

	store := storeMemory.NewStore(nil)
	page, err := store.InsertPage(context.Background(), crawler.Page{
		URL:         "https://a.test/",
		Title:       "Cats",
		Content:     "all about cats",
		ImageURLs:   []string{"https://a.test/c.png"},
		Description: "Home > Cats",
		ContentHash: "abc",
	})
	require.NoError(t, err)
	srv := newTestServer(t, failingSubmitter{}, store)

	rec := do(srv, http.MethodGet, "/api/pages/"+strconv.FormatInt(page.ID, 10), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, "https://a.test/", got["url"])
	require.Equal(t, "Home > Cats", got["metadata"])
	require.Equal(t, "abc", got["contentHash"])
	require.Equal(t, []any{"https://a.test/c.png"}, got["imageUrls"])

	require.Equal(t, http.StatusNotFound, do(srv, http.MethodGet, "/api/pages/999", "").Code)
	require.Equal(t, http.StatusBadRequest, do(srv, http.MethodGet, "/api/pages/abc", "").Code)
}

func TestProbesAndMetrics(t *testing.T) {
	t.Parallel()

	store := storeMemory.NewStore(nil)
	_, err := store.EnqueueMany(context.Background(), []string{"https://a.test/1", "https://a.test/2"})
	require.NoError(t, err)
	srv := newTestServer(t, failingSubmitter{}, store)

	require.Equal(t, http.StatusOK, do(srv, http.MethodGet, "/healthz", "").Code)

	rec := do(srv, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"pending":2`)

	rec = do(srv, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "http_requests_total")
}

func TestReadyzReportsStoreFailure(t *testing.T) {
	t.Parallel()

	srv := NewServer(failingSubmitter{}, failingSearcher{}, storeMemory.NewStore(nil), brokenFrontier{}, Config{}, nil)
	require.Equal(t, http.StatusServiceUnavailable, do(srv, http.MethodGet, "/readyz", "").Code)
}

func TestCORSHeadersAndPreflight(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, failingSubmitter{}, storeMemory.NewStore(nil))

	rec := do(srv, http.MethodOptions, "/api/index", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")

	rec = do(srv, http.MethodGet, "/healthz", "")
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t, failingSubmitter{}, storeMemory.NewStore(nil))
	require.NotEmpty(t, do(srv, http.MethodGet, "/healthz", "").Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	require.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddlewareWritesJSON(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, "internal server error", errorBody(t, rec))
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	_, _, err := rw.Hijack()
	require.EqualError(t, err, "hijacker not supported")

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	require.NoError(t, err)
	require.NotNil(t, buf)
	require.NoError(t, conn.Close())
	require.NoError(t, h.client.Close())
}

// --- helpers/fakes ---

func newTestServer(t *testing.T, submitter Submitter, store *storeMemory.Store) *Server {
	t.Helper()
	engine := search.NewEngine(store, nil, search.Config{MaxPageSize: 100, CacheTTL: time.Minute}, zap.NewNop())
	return NewServer(submitter, engine, store, store, Config{DefaultPageSize: 10}, zap.NewNop())
}

func do(srv *Server, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader([]byte(body)))
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func errorBody(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body["error"]
}

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder) crawler.SearchResult {
	t.Helper()
	var result crawler.SearchResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	return result
}

type fakeIDGen struct {
	id string
}

func (f *fakeIDGen) NewID() (string, error) {
	return f.id, nil
}

type fixedClock struct{}

func (fixedClock) Now() time.Time {
	return time.Unix(1700000000, 0).UTC()
}

type failingSubmitter struct {
	err error
}

func (f failingSubmitter) Submit(context.Context, string) (*crawler.Task, error) {
	if f.err == nil {
		return nil, errors.New("not expected")
	}
	return nil, f.err
}

type failingSearcher struct{}

func (failingSearcher) Search(context.Context, search.Query) (crawler.SearchResult, error) {
	return crawler.SearchResult{}, fmt.Errorf("search pages: %w", crawler.ErrStore)
}

type brokenFrontier struct {
	crawler.Frontier
}

func (brokenFrontier) Stats(context.Context) (crawler.FrontierStats, error) {
	return crawler.FrontierStats{}, crawler.ErrStore
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}
