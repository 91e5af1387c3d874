// Package metrics exposes Prometheus collectors for the crawl and search service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pagesIndexedTotal          *prometheus.CounterVec
	fetchFailuresTotal         *prometheus.CounterVec
	frontierEnqueuedTotal      prometheus.Counter
	tickDurationSeconds        prometheus.Histogram
	tickURLsTotal              *prometheus.CounterVec
	indexTasksTotal            *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	searchRequestsTotal        *prometheus.CounterVec
	cacheRequestsTotal         *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		pagesIndexedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawlsearch_pages_indexed_total",
				Help: "Pages processed by the dedup store, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		fetchFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawlsearch_fetch_failures_total",
				Help: "Render failures, labeled by site.",
			},
			[]string{"site"},
		)

		frontierEnqueuedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawlsearch_frontier_enqueued_total",
				Help: "URLs newly added to the frontier.",
			},
		)

		tickDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "crawlsearch_tick_duration_seconds",
				Help:    "Histogram of scheduler tick durations.",
				Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120, 300},
			},
		)

		tickURLsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawlsearch_tick_urls_total",
				Help: "URLs processed by scheduler ticks, labeled by status.",
			},
			[]string{"status"},
		)

		indexTasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawlsearch_index_tasks_total",
				Help: "Manually submitted index tasks, labeled by status.",
			},
			[]string{"status"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawlsearch_active_workers",
				Help: "Number of workers currently running an index task.",
			},
		)

		searchRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawlsearch_search_requests_total",
				Help: "Search requests, labeled by status.",
			},
			[]string{"status"},
		)

		cacheRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawlsearch_cache_requests_total",
				Help: "Result cache lookups, labeled by result (hit or miss).",
			},
			[]string{"result"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite extracts a lowercase hostname from a URL.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePageIndexed counts one dedup outcome.
func ObservePageIndexed(outcome string) {
	Init()
	pagesIndexedTotal.WithLabelValues(outcome).Inc()
}

// ObserveFetchFailure counts a failed render for the URL's site.
func ObserveFetchFailure(rawURL string) {
	Init()
	fetchFailuresTotal.WithLabelValues(SanitizeSite(rawURL)).Inc()
}

// ObserveEnqueued adds newly discovered frontier URLs.
func ObserveEnqueued(n int) {
	Init()
	if n > 0 {
		frontierEnqueuedTotal.Add(float64(n))
	}
}

// ObserveTick records one scheduler tick.
func ObserveTick(duration time.Duration, succeeded, failed int) {
	Init()
	tickDurationSeconds.Observe(duration.Seconds())
	tickURLsTotal.WithLabelValues("succeeded").Add(float64(succeeded))
	tickURLsTotal.WithLabelValues("failed").Add(float64(failed))
}

// ObserveIndexTask counts a finished manual index task.
func ObserveIndexTask(status string) {
	Init()
	indexTasksTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveSearch counts a search request by status ("ok", "invalid", "error").
func ObserveSearch(status string) {
	Init()
	searchRequestsTotal.WithLabelValues(status).Inc()
}

// ObserveCache counts a result cache lookup.
func ObserveCache(hit bool) {
	Init()
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheRequestsTotal.WithLabelValues(result).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
