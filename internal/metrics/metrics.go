// Package metrics exposes Prometheus collectors for the archiver.
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
	archiverPagesTotal            *prometheus.CounterVec
	archiverBytesTotal            *prometheus.CounterVec
	archiverRetriesTotal          prometheus.Counter
	archiverItemsTotal            prometheus.Counter
	archiverUnitsTotal            *prometheus.CounterVec
	archiverRateLimitDelaySeconds prometheus.Histogram
	archiverFlattenRecordsTotal   prometheus.Counter
	archiverFlattenChunksTotal    prometheus.Counter
	statusRequestsTotal           *prometheus.CounterVec
	statusRequestDurationSeconds  *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		archiverPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_pages_total",
				Help: "Total number of listing pages fetched, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		archiverBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		archiverRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "archiver_fetch_retries_total",
				Help: "Total number of page fetch retries.",
			},
		)

		archiverItemsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "archiver_items_total",
				Help: "Total number of cards extracted from listing pages.",
			},
		)

		archiverUnitsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_units_total",
				Help: "Total number of checkpoint units processed, labeled by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		)

		archiverRateLimitDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "archiver_rate_limit_delay_seconds",
				Help:    "Histogram of politeness gate wait durations.",
				Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5},
			},
		)

		archiverFlattenRecordsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "archiver_flatten_records_total",
				Help: "Total number of records written by the flattener.",
			},
		)

		archiverFlattenChunksTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "archiver_flatten_chunks_total",
				Help: "Total number of chunk objects written by the flattener.",
			},
		)

		statusRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_status_requests_total",
				Help: "Requests served by the status server, labeled by route pattern and code.",
			},
			[]string{"route", "code"},
		)

		statusRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "archiver_status_request_duration_seconds",
				Help:    "Status server latency by route pattern.",
				Buckets: []float64{0.001, 0.005, 0.025, 0.1, 0.5, 2},
			},
			[]string{"route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
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
	Init()
	return promhttp.Handler()
}

// ObservePage increments the page counters.
func ObservePage(site, status string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	archiverPagesTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		archiverBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveRetry counts one page fetch retry.
func ObserveRetry() {
	Init()
	archiverRetriesTotal.Inc()
}

// ObserveItems counts cards extracted from a page.
func ObserveItems(n int) {
	Init()
	if n > 0 {
		archiverItemsTotal.Add(float64(n))
	}
}

// ObserveUnit records how a checkpoint unit ended.
func ObserveUnit(kind, outcome string) {
	Init()
	archiverUnitsTotal.WithLabelValues(kind, outcome).Inc()
}

// ObserveRateLimitDelay records the duration of a politeness gate wait.
func ObserveRateLimitDelay(duration time.Duration) {
	Init()
	archiverRateLimitDelaySeconds.Observe(duration.Seconds())
}

// ObserveFlatten records the size of a flatten pass.
func ObserveFlatten(records, chunks int) {
	Init()
	archiverFlattenRecordsTotal.Add(float64(records))
	archiverFlattenChunksTotal.Add(float64(chunks))
}

// ObserveStatusRequest records one status server response.
func ObserveStatusRequest(route string, code int, duration time.Duration) {
	Init()
	statusRequestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
	statusRequestDurationSeconds.WithLabelValues(route).Observe(duration.Seconds())
}
