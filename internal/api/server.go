// Package api exposes the HTTP interface for the crawl and search service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlsearch/internal/crawler"
	"github.com/JakeFAU/crawlsearch/internal/metrics"
	"github.com/JakeFAU/crawlsearch/internal/search"
)

// Submitter queues manual index requests.
type Submitter interface {
	Submit(ctx context.Context, rawURL string) (*crawler.Task, error)
}

// Searcher answers paginated search queries.
type Searcher interface {
	Search(ctx context.Context, q search.Query) (crawler.SearchResult, error)
}

// Config holds HTTP-facing defaults.
type Config struct {
	DefaultPageSize int
	CORSOrigin      string
	RequestTimeout  time.Duration
}

// Server wires HTTP handlers to the dispatcher, search engine and stores.
type Server struct {
	router    chi.Router
	submitter Submitter
	searcher  Searcher
	pages     crawler.PageRepository
	frontier  crawler.Frontier
	cfg       Config
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	submitter Submitter,
	searcher Searcher,
	pages crawler.PageRepository,
	frontier crawler.Frontier,
	cfg Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultPageSize <= 0 {
		cfg.DefaultPageSize = 10
	}
	if cfg.CORSOrigin == "" {
		cfg.CORSOrigin = "*"
	}
	s := &Server{
		submitter: submitter,
		searcher:  searcher,
		pages:     pages,
		frontier:  frontier,
		cfg:       cfg,
		logger:    logger.Named("api"),
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(corsMiddleware(cfg.CORSOrigin))
	r.Use(metrics.Middleware)
	if cfg.RequestTimeout > 0 {
		r.Use(timeoutMiddleware(cfg.RequestTimeout))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/index", s.index)
		r.Get("/search", s.search)
		r.Get("/pages/{id}", s.page)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	stats, err := s.frontier.Stats(r.Context())
	if err != nil {
		s.logger.Warn("readiness check failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "frontier": stats})
}

type indexRequest struct {
	URL string `json:"url"`
}

type indexResponse struct {
	Message string `json:"message"`
	TaskID  string `json:"task_id"`
}

// index queues the URL and answers before the crawl runs.
func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	var req indexRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, "url is required")
		return
	}
	task, err := s.submitter.Submit(r.Context(), req.URL)
	switch {
	case err == nil:
	case errors.Is(err, crawler.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, crawler.ErrQueueFull):
		writeError(w, http.StatusServiceUnavailable, "index queue is full, retry later")
		return
	default:
		s.logger.Error("submit index task failed", zap.String("url", req.URL), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to start indexing")
		return
	}
	writeJSON(w, http.StatusOK, indexResponse{Message: "Indexing started", TaskID: task.ID})
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	text := params.Get("query")
	if strings.TrimSpace(text) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	page, err := intParam(params.Get("page"), 1)
	if err != nil {
		writeError(w, http.StatusBadRequest, "page must be an integer")
		return
	}
	limit, err := intParam(params.Get("limit"), s.cfg.DefaultPageSize)
	if err != nil {
		writeError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}

	result, err := s.searcher.Search(r.Context(), search.Query{Text: text, Page: page, PageSize: limit})
	if err != nil {
		if errors.Is(err, crawler.ErrInvalidInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("search failed", zap.String("query", text), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) page(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "id must be an integer")
		return
	}
	page, err := s.pages.PageByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, crawler.ErrNotFound) {
			writeError(w, http.StatusNotFound, "page not found")
			return
		}
		s.logger.Error("load page failed", zap.Int64("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load page")
		return
	}
	if page.ImageURLs == nil {
		page.ImageURLs = []string{}
	}
	writeJSON(w, http.StatusOK, page)
}

func intParam(raw string, def int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
