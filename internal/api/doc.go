// Package api hosts the status server that runs alongside a crawl.
// Routes:
//   - GET /healthz for liveness checks.
//   - GET /metrics for Prometheus scraping.
//   - GET /progress for the current run counters as JSON.
package api
