// Package telemetry registers the Prometheus metrics exported at /metrics.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "lead_scanner"

var (
	creditOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credit_operations_total",
			Help:      "Ledger operations by type and outcome",
		},
		[]string{"type", "outcome"},
	)

	creditsMoved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credits_moved_total",
			Help:      "Credits debited or credited, by operation type",
		},
		[]string{"type"},
	)

	cacheChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_checks_total",
			Help:      "Cache freshness resolutions by status",
		},
		[]string{"status"},
	)

	duplicateBlocks = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "duplicate_searches_blocked_total",
			Help:      "Searches refused by the duplicate guard",
		},
	)

	jobsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Scrape jobs reaching a terminal state",
		},
		[]string{"status"},
	)

	jobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Time from job start to terminal state",
			Buckets:   []float64{.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	jobsRequeued = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_requeued_total",
			Help:      "Stuck pending jobs re-enqueued by the sweeper",
		},
	)

	providerCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_calls_total",
			Help:      "Listings provider calls by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	zoneTiles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "zone_tiles_total",
			Help:      "Zone tiles fetched by outcome",
		},
		[]string{"outcome"},
	)

	httpRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "route"},
	)
)

// RecordCreditOperation counts one ledger attempt. amount is only added on success.
func RecordCreditOperation(opType string, outcome string, amount int) {
	creditOperations.WithLabelValues(opType, outcome).Inc()
	if outcome == "success" && amount > 0 {
		creditsMoved.WithLabelValues(opType).Add(float64(amount))
	}
}

// RecordCacheCheck counts a resolver result
func RecordCacheCheck(status string) {
	cacheChecks.WithLabelValues(status).Inc()
}

// RecordDuplicateBlocked counts a guard refusal
func RecordDuplicateBlocked() {
	duplicateBlocks.Inc()
}

// RecordJobFinished counts a terminal job and observes its run time
func RecordJobFinished(status string, elapsed time.Duration) {
	jobsFinished.WithLabelValues(status).Inc()
	if elapsed > 0 {
		jobDuration.Observe(elapsed.Seconds())
	}
}

// RecordJobRequeued counts a sweeper re-enqueue
func RecordJobRequeued() {
	jobsRequeued.Inc()
}

// RecordProviderCall counts a provider call outcome
func RecordProviderCall(provider, outcome string) {
	providerCalls.WithLabelValues(provider, outcome).Inc()
}

// RecordZoneTile counts a tile outcome (ok, failed, slow)
func RecordZoneTile(outcome string) {
	zoneTiles.WithLabelValues(outcome).Inc()
}

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Middleware records request count and latency labelled by route template
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := "unmatched"
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		if route == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
