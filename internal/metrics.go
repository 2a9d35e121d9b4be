package internal

import (
	"net/http"
	"time"

	"fieldsales-api/internal/geo"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics collection for HTTP requests and the
// reconciliation paths.
type Metrics struct {
	reqTotal    *prometheus.CounterVec
	reqLatency  *prometheus.HistogramVec
	visits      *prometheus.CounterVec
	lineUpdates *prometheus.CounterVec
	registry    *prometheus.Registry
}

// NewMetrics creates a new Metrics instance with a private Prometheus registry
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	reqTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	reqLatency := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	visits := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visits_reconciled_total",
			Help: "Visit logs by geofence outcome",
		},
		[]string{"status"},
	)

	lineUpdates := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "line_items_updated_total",
			Help: "Line items written by diff-based updates",
		},
		[]string{"kind"},
	)

	registry.MustRegister(reqTotal, reqLatency, visits, lineUpdates)

	return &Metrics{
		reqTotal:    reqTotal,
		reqLatency:  reqLatency,
		visits:      visits,
		lineUpdates: lineUpdates,
		registry:    registry,
	}
}

// ObserveVisit counts one reconciled visit.
func (m *Metrics) ObserveVisit(status geo.Status) {
	if m == nil {
		return
	}
	m.visits.WithLabelValues(string(status)).Inc()
}

// ObserveLineUpdates counts rows written by a diff-based update.
func (m *Metrics) ObserveLineUpdates(kind string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.lineUpdates.WithLabelValues(kind).Add(float64(n))
}

// Middleware returns a Chi middleware that collects metrics
func (m *Metrics) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &statusRecorder{ResponseWriter: w, code: http.StatusOK}

			next.ServeHTTP(rw, r)

			// Label by route pattern so /retailers/1 and /retailers/2 share a series
			path := r.URL.Path
			if chiCtx := chi.RouteContext(r.Context()); chiCtx != nil {
				if p := chiCtx.RoutePattern(); p != "" {
					path = p
				}
			}

			status := http.StatusText(rw.code)
			m.reqTotal.WithLabelValues(r.Method, path, status).Inc()
			m.reqLatency.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
		})
	}
}

// Handler returns an http.Handler that serves Prometheus metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// statusRecorder captures the HTTP status code for metrics
type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.code = code
	sr.ResponseWriter.WriteHeader(code)
}
