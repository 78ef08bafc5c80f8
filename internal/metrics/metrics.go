// Package metrics exposes Prometheus collectors for the botmd service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	botmdRequestsTotal         *prometheus.CounterVec
	botmdCacheLookupsTotal     *prometheus.CounterVec
	botmdFetchAttemptsTotal    *prometheus.CounterVec
	botmdFetchBytesTotal       prometheus.Counter
	botmdConversionSeconds     *prometheus.HistogramVec
	botmdRateLimitDelaySeconds prometheus.Histogram
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		botmdRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botmd_requests_total",
				Help: "Requests evaluated by botmd, labeled by pipeline outcome.",
			},
			[]string{"outcome"},
		)

		botmdCacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botmd_cache_lookups_total",
				Help: "Markdown cache lookups, labeled by hit or miss.",
			},
			[]string{"result"},
		)

		botmdFetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "botmd_fetch_attempts_total",
				Help: "Upstream fetch attempts, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		botmdFetchBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "botmd_fetch_bytes_total",
				Help: "Total HTML bytes fetched from upstream.",
			},
		)

		botmdConversionSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "botmd_conversion_duration_seconds",
				Help:    "Histogram of HTML to Markdown conversion latencies, labeled by engine.",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"engine"},
		)

		botmdRateLimitDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "botmd_fetch_ratelimit_delay_seconds",
				Help:    "Time upstream fetches spent waiting on the per-host rate limiter.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
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

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRequest counts one pass through the botmd pipeline.
func ObserveRequest(outcome string) {
	Init()
	botmdRequestsTotal.WithLabelValues(outcome).Inc()
}

// ObserveCacheLookup counts a cache hit or miss.
func ObserveCacheLookup(hit bool) {
	Init()
	result := "miss"
	if hit {
		result = "hit"
	}
	botmdCacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveFetchAttempt counts a single upstream attempt.
func ObserveFetchAttempt(outcome string) {
	Init()
	botmdFetchAttemptsTotal.WithLabelValues(outcome).Inc()
}

// ObserveFetchBytes adds fetched body bytes.
func ObserveFetchBytes(n int) {
	Init()
	if n > 0 {
		botmdFetchBytesTotal.Add(float64(n))
	}
}

// ObserveConversion records how long a conversion took.
func ObserveConversion(engine string, duration time.Duration) {
	Init()
	botmdConversionSeconds.WithLabelValues(engine).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records a rate limiter wait.
func ObserveRateLimitDelay(d time.Duration) {
	Init()
	botmdRateLimitDelaySeconds.Observe(d.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
