// Package api hosts the HTTP server, middleware, and JSON handlers. Routes:
//   - POST /api/index queues a URL for crawling and returns immediately.
//   - GET /api/search?query=&page=&limit= returns ranked, paginated results.
//   - GET /api/pages/{id} returns one stored page.
//   - GET /healthz and /readyz for probes, GET /metrics for Prometheus scraping.
package api
