// Package metrics exposes Prometheus collectors for the ingestion pipeline.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fetchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regdocs_fetch_total",
			Help: "Network client attempts, labeled by fetch path (direct, fallback) and outcome.",
		},
		[]string{"path", "outcome"},
	)

	listingPagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regdocs_listing_pages_total",
			Help: "Listing pages processed, labeled by the parser that produced entries.",
		},
		[]string{"parser"},
	)

	documentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regdocs_documents_total",
			Help: "Documents seen by crawls, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	jobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regdocs_jobs_total",
			Help: "Extraction jobs settled, labeled by execution mode and status.",
		},
		[]string{"mode", "status"},
	)

	jobDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "regdocs_job_duration_seconds",
			Help:    "Extraction job run time, labeled by execution mode and status.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"mode", "status"},
	)

	jobsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "regdocs_jobs_active",
			Help: "Extraction jobs currently running.",
		},
	)

	labelReloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regdocs_label_reloads_total",
			Help: "Label dictionary reloads, labeled by outcome.",
		},
		[]string{"outcome"},
	)

	rateLimitDelaySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "regdocs_rate_limit_delay_seconds",
			Help:    "Time spent waiting for the per-host rate limiter.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"host"},
	)

	headlessPromotionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regdocs_headless_promotions_total",
			Help: "Pages re-fetched through the headless renderer, labeled by reason.",
		},
		[]string{"reason"},
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
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// IncFetch counts one network client attempt.
func IncFetch(path, outcome string) {
	fetchTotal.WithLabelValues(path, outcome).Inc()
}

// IncListingPage counts a processed listing page by parser (html, markdown, empty).
func IncListingPage(parser string) {
	listingPagesTotal.WithLabelValues(parser).Inc()
}

// IncDocument counts a crawled document by outcome.
func IncDocument(outcome string) {
	documentsTotal.WithLabelValues(outcome).Inc()
}

// ObserveJob records a settled job and its duration.
func ObserveJob(mode, status string, duration time.Duration) {
	jobsTotal.WithLabelValues(mode, status).Inc()
	jobDurationSeconds.WithLabelValues(mode, status).Observe(duration.Seconds())
}

// IncActiveJobs increments the running jobs gauge.
func IncActiveJobs() {
	jobsActive.Inc()
}

// DecActiveJobs decrements the running jobs gauge.
func DecActiveJobs() {
	jobsActive.Dec()
}

// IncLabelReload counts a label dictionary reload.
func IncLabelReload(outcome string) {
	labelReloadsTotal.WithLabelValues(outcome).Inc()
}

// ObserveRateLimitDelay records a rate limiter wait.
func ObserveRateLimitDelay(host string, waited time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(host).Observe(waited.Seconds())
}

// IncHeadlessPromotion counts a page promoted to the headless renderer.
func IncHeadlessPromotion(reason string) {
	headlessPromotionsTotal.WithLabelValues(reason).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
