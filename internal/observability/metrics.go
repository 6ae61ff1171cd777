package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/techmist/catalog-sync/internal/catalog"
)

// Metrics collects Prometheus metrics for the HTTP surface and feed syncs.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	feedFetches     *prometheus.CounterVec
	syncs           *prometheus.CounterVec
	rowChanges      *prometheus.CounterVec
	lastSync        prometheus.Gauge
}

// NewMetrics initialises the registry and its collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_http_requests_total",
		Help: "HTTP requests by route and status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "catalog_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	fetches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_feed_fetch_total",
		Help: "Feed retrievals by source (primary or fallback) and outcome.",
	}, []string{"source", "outcome"})
	syncs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_sync_total",
		Help: "Reconciliation runs by status.",
	}, []string{"status"})
	rows := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "catalog_sync_rows_total",
		Help: "Rows touched by reconciliation, by entity and change.",
	}, []string{"entity", "change"})
	lastSync := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "catalog_last_sync_success_timestamp_seconds",
		Help: "Unix time of the last successful reconciliation.",
	})
	registry.MustRegister(requests, duration, fetches, syncs, rows, lastSync)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		feedFetches:     fetches,
		syncs:           syncs,
		rowChanges:      rows,
		lastSync:        lastSync,
	}
}

// Handler returns the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records count and latency for every request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// ObserveFetch counts one feed retrieval.
func (m *Metrics) ObserveFetch(source, outcome string) {
	if m == nil {
		return
	}
	m.feedFetches.WithLabelValues(source, outcome).Inc()
}

// ObserveSync records the result of a reconciliation.
func (m *Metrics) ObserveSync(stats catalog.ReconcileStats, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.syncs.WithLabelValues("failure").Inc()
		return
	}
	m.syncs.WithLabelValues("success").Inc()
	m.rowChanges.WithLabelValues("product", "created").Add(float64(stats.ProductsCreated))
	m.rowChanges.WithLabelValues("product", "updated").Add(float64(stats.ProductsUpdated))
	m.rowChanges.WithLabelValues("variant", "created").Add(float64(stats.VariantsCreated))
	m.rowChanges.WithLabelValues("variant", "updated").Add(float64(stats.VariantsUpdated))
	m.rowChanges.WithLabelValues("variant", "moved").Add(float64(stats.VariantsMoved))
	m.lastSync.SetToCurrentTime()
}

// Registerer exposes the registry for custom collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
