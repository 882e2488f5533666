// Package metrics defines the Prometheus collectors exported by the service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestCounter counts HTTP requests by method, route pattern, and status.
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// RequestDuration records request latency in seconds.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	ReconcilePasses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invoice_reconcile_passes_total",
			Help: "Status synchronizer passes by outcome (ran, skipped, failed)",
		},
		[]string{"outcome"},
	)

	InvoicesRewritten = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "invoice_reconcile_rewrites_total",
			Help: "Invoices whose payment fields were rewritten by the synchronizer",
		},
	)

	OutboxOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_records_total",
			Help: "Outbox record processing outcomes by kind",
		},
		[]string{"kind", "outcome"},
	)

	RateFetchFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "exchange_rate_fetch_failures_total",
			Help: "Failed exchange-rate API fetches",
		},
	)
)

var registerOnce sync.Once

// Register adds every collector to reg. Subsequent calls are no-ops.
func Register(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		reg.MustRegister(
			RequestCounter,
			RequestDuration,
			ReconcilePasses,
			InvoicesRewritten,
			OutboxOutcomes,
			RateFetchFailures,
		)
	})
}

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Middleware records request count and duration labelled by the chi route pattern, so
// path parameters do not explode label cardinality.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				path = p
			}
		}
		status := strconv.Itoa(sw.status)
		RequestCounter.WithLabelValues(r.Method, path, status).Inc()
		RequestDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
	})
}
