// Package metrics exposes Prometheus collectors for the crawl engine.
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
	crawlerPagesTotal             *prometheus.CounterVec
	crawlerRetriesTotal           *prometheus.CounterVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec
	crawlerRateLimitDelaysSeconds *prometheus.HistogramVec
	crawlerActiveWorkers          prometheus.Gauge
	recoveryAlertsTotal           *prometheus.CounterVec
	recoveryAlertsDroppedTotal    prometheus.Counter
	reconcileItemsTotal           *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_pages_total",
				Help: "Total number of pages fetched, labeled by target and outcome.",
			},
			[]string{"target", "outcome"},
		)

		crawlerRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_retries_total",
				Help: "Total number of crawl retries, labeled by target.",
			},
			[]string{"target"},
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

		crawlerRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit admission waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"target"},
		)

		crawlerActiveWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_active_workers",
				Help: "Number of dispatcher workers currently executing a crawl.",
			},
		)

		recoveryAlertsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_recovery_alerts_total",
				Help: "Error threshold alerts raised, labeled by target.",
			},
			[]string{"target"},
		)

		recoveryAlertsDroppedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_recovery_alerts_dropped_total",
				Help: "Error threshold alerts dropped because no consumer kept up.",
			},
		)

		reconcileItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "catalog_reconcile_items_total",
				Help: "Extracted items reconciled into the catalog, labeled by outcome.",
			},
			[]string{"outcome"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage counts one page fetch for a target.
func ObservePage(targetID string, outcome string) {
	if crawlerPagesTotal == nil {
		return
	}
	crawlerPagesTotal.WithLabelValues(targetID, outcome).Inc()
}

// ObserveRetry counts one crawl retry for a target.
func ObserveRetry(targetID string) {
	if crawlerRetriesTotal == nil {
		return
	}
	crawlerRetriesTotal.WithLabelValues(targetID).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(targetID string, duration time.Duration) {
	if crawlerRateLimitDelaysSeconds == nil {
		return
	}
	crawlerRateLimitDelaysSeconds.WithLabelValues(targetID).Observe(duration.Seconds())
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	if crawlerActiveWorkers != nil {
		crawlerActiveWorkers.Inc()
	}
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	if crawlerActiveWorkers != nil {
		crawlerActiveWorkers.Dec()
	}
}

// ObserveAlert counts a raised error threshold alert.
func ObserveAlert(targetID string) {
	if recoveryAlertsTotal != nil {
		recoveryAlertsTotal.WithLabelValues(targetID).Inc()
	}
}

// ObserveAlertDropped counts an alert that could not be delivered.
func ObserveAlertDropped() {
	if recoveryAlertsDroppedTotal != nil {
		recoveryAlertsDroppedTotal.Inc()
	}
}

// ObserveReconcile counts reconciled items by outcome (created, updated, failed).
func ObserveReconcile(outcome string, n int) {
	if reconcileItemsTotal == nil || n <= 0 {
		return
	}
	reconcileItemsTotal.WithLabelValues(outcome).Add(float64(n))
}
