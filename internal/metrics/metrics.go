// Package metrics exposes Prometheus collectors for the discovery pipeline.
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
	fetchesTotal               *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	fetchDurationSeconds       *prometheus.HistogramVec
	listingPagesTotal          *prometheus.CounterVec
	candidatesTotal            *prometheus.CounterVec
	reviewEntriesTotal         *prometheus.CounterVec
	extractionsTotal           *prometheus.CounterVec
	extractionDurationSeconds  prometheus.Histogram
	sourceRunsTotal            *prometheus.CounterVec
	rateLimitWaitSeconds       *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edital_fetches_total",
				Help: "Total number of fetches, labeled by site, render mode and outcome.",
			},
			[]string{"site", "mode", "outcome"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edital_fetch_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "edital_fetch_duration_seconds",
				Help:    "Histogram of fetch latencies, labeled by render mode.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"mode"},
		)

		listingPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edital_listing_pages_total",
				Help: "Listing pages fetched during pagination discovery, labeled by source.",
			},
			[]string{"source"},
		)

		candidatesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edital_candidates_total",
				Help: "Candidates processed, labeled by source and outcome.",
			},
			[]string{"source", "outcome"},
		)

		reviewEntriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edital_review_entries_total",
				Help: "Failures routed to the review queue, labeled by stage.",
			},
			[]string{"stage"},
		)

		extractionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edital_extractions_total",
				Help: "Hierarchy extractions, labeled by confidence.",
			},
			[]string{"confidence"},
		)

		extractionDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "edital_extraction_duration_seconds",
				Help:    "Histogram of structured-extraction service latencies.",
				Buckets: []float64{1, 2, 5, 10, 20, 40, 80, 160},
			},
		)

		sourceRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "edital_source_runs_total",
				Help: "Source discoveries, labeled by source and status.",
			},
			[]string{"source", "status"},
		)

		rateLimitWaitSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "edital_rate_limit_wait_seconds",
				Help:    "Time spent waiting on the per-host limiter before a static request.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"site"},
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
	return promhttp.Handler()
}

// ObserveFetch records one fetch attempt.
func ObserveFetch(rawURL, mode, outcome string, bytesFetched int, duration time.Duration) {
	Init()
	site := SanitizeSite(rawURL)
	fetchesTotal.WithLabelValues(site, mode, outcome).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(site).Add(float64(bytesFetched))
	}
	fetchDurationSeconds.WithLabelValues(mode).Observe(duration.Seconds())
}

// ObserveListingPage counts one fetched listing page.
func ObserveListingPage(source string) {
	Init()
	listingPagesTotal.WithLabelValues(source).Inc()
}

// ObserveCandidate counts a candidate outcome (rejected, saved, failed, skipped).
func ObserveCandidate(source, outcome string) {
	Init()
	candidatesTotal.WithLabelValues(source, outcome).Inc()
}

// ObserveReview counts a review queue entry.
func ObserveReview(stage string) {
	Init()
	reviewEntriesTotal.WithLabelValues(stage).Inc()
}

// ObserveExtraction records a successful extraction call.
func ObserveExtraction(confidence string, duration time.Duration) {
	Init()
	extractionsTotal.WithLabelValues(confidence).Inc()
	extractionDurationSeconds.Observe(duration.Seconds())
}

// ObserveSourceRun counts a finished source discovery.
func ObserveSourceRun(source, status string) {
	Init()
	sourceRunsTotal.WithLabelValues(source, status).Inc()
}

// ObserveRateLimitWait records how long a request waited for its host's limiter.
func ObserveRateLimitWait(site string, duration time.Duration) {
	Init()
	rateLimitWaitSeconds.WithLabelValues(site).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
