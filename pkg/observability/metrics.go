package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Ingestion metrics
	EventsRecordedTotal *prometheus.CounterVec

	// Aggregation metrics
	AggregationDuration    *prometheus.HistogramVec
	AggregationInputEvents *prometheus.HistogramVec
	AggregationErrorsTotal *prometheus.CounterVec

	// Storage metrics
	StorageOperationsTotal   *prometheus.CounterVec
	StorageOperationDuration *prometheus.HistogramVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec
	CacheErrorsTotal *prometheus.CounterVec

	// Rate limiting
	RateLimitedTotal *prometheus.CounterVec

	// Sweep metrics
	SweepRunsTotal *prometheus.CounterVec
	UnusedModules  *prometheus.GaugeVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "heatmap_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "heatmap_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "heatmap_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "route"},
		),

		EventsRecordedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "heatmap_events_recorded_total",
				Help: "Access events accepted or rejected by the tracker",
			},
			[]string{"access_type", "status"},
		),

		AggregationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "heatmap_aggregation_duration_seconds",
				Help:    "Time spent fetching and aggregating events",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"operation"},
		),
		AggregationInputEvents: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "heatmap_aggregation_input_events",
				Help:    "Number of raw events fed into an aggregation",
				Buckets: prometheus.ExponentialBuckets(1, 10, 8),
			},
			[]string{"operation"},
		),
		AggregationErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "heatmap_aggregation_errors_total",
				Help: "Aggregations that failed because data could not be retrieved",
			},
			[]string{"operation"},
		),

		StorageOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "heatmap_storage_operations_total",
				Help: "Total number of storage operations",
			},
			[]string{"operation", "backend", "status"},
		),
		StorageOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "heatmap_storage_operation_duration_seconds",
				Help:    "Storage operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "backend"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "heatmap_cache_hits_total",
				Help: "Total number of descriptor cache hits",
			},
			[]string{"tier"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "heatmap_cache_misses_total",
				Help: "Total number of descriptor cache misses",
			},
			[]string{"tier"},
		),
		CacheErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "heatmap_cache_errors_total",
				Help: "Total number of descriptor cache backend errors",
			},
			[]string{"tier", "operation"},
		),

		RateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "heatmap_rate_limited_total",
				Help: "Requests rejected by the rate limiter",
			},
			[]string{"limiter"},
		),

		SweepRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "heatmap_sweep_runs_total",
				Help: "Unused-module sweep runs",
			},
			[]string{"status"},
		),
		UnusedModules: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "heatmap_unused_modules",
				Help: "Unused modules per application found by the last sweep",
			},
			[]string{"application_id"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPResponseSize,
		m.EventsRecordedTotal,
		m.AggregationDuration,
		m.AggregationInputEvents,
		m.AggregationErrorsTotal,
		m.StorageOperationsTotal,
		m.StorageOperationDuration,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheErrorsTotal,
		m.RateLimitedTotal,
		m.SweepRunsTotal,
		m.UnusedModules,
	)

	return m
}

// The helpers below are nil-safe so components can run without metrics.

// ObserveAggregation records the duration and input size of an aggregation.
func (m *Metrics) ObserveAggregation(operation string, started time.Time, events int, err error) {
	if m == nil {
		return
	}
	m.AggregationDuration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
	if err != nil {
		m.AggregationErrorsTotal.WithLabelValues(operation).Inc()
		return
	}
	m.AggregationInputEvents.WithLabelValues(operation).Observe(float64(events))
}

// ObserveStorage records a storage operation.
func (m *Metrics) ObserveStorage(operation, backend string, started time.Time, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.StorageOperationsTotal.WithLabelValues(operation, backend, status).Inc()
	m.StorageOperationDuration.WithLabelValues(operation, backend).Observe(time.Since(started).Seconds())
}

// RecordEvent counts an event accepted or rejected by the tracker.
func (m *Metrics) RecordEvent(accessType, status string) {
	if m == nil {
		return
	}
	m.EventsRecordedTotal.WithLabelValues(accessType, status).Inc()
}

// CacheHit counts a hit in the given tier.
func (m *Metrics) CacheHit(tier string) {
	if m == nil {
		return
	}
	m.CacheHitsTotal.WithLabelValues(tier).Inc()
}

// CacheMiss counts a miss in the given tier.
func (m *Metrics) CacheMiss(tier string) {
	if m == nil {
		return
	}
	m.CacheMissesTotal.WithLabelValues(tier).Inc()
}

// CacheError counts a backend failure in the given tier.
func (m *Metrics) CacheError(tier, operation string) {
	if m == nil {
		return
	}
	m.CacheErrorsTotal.WithLabelValues(tier, operation).Inc()
}

// RateLimited counts a rejected request.
func (m *Metrics) RateLimited(limiter string) {
	if m == nil {
		return
	}
	m.RateLimitedTotal.WithLabelValues(limiter).Inc()
}

// SweepCompleted records a sweep run and the per-application unused counts.
func (m *Metrics) SweepCompleted(unused map[string]int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.SweepRunsTotal.WithLabelValues("error").Inc()
		return
	}
	m.SweepRunsTotal.WithLabelValues("success").Inc()
	for app, n := range unused {
		m.UnusedModules.WithLabelValues(app).Set(float64(n))
	}
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// routeLabel uses the mux route template so path parameters do not explode
// label cardinality.
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// It must run inside the router (r.Use) so the matched route is known.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
			metrics.HTTPResponseSize.WithLabelValues(r.Method, route).Observe(float64(rw.bytesWritten))
		})
	}
}

// RegisterMetricsEndpoint registers GET /metrics on router.
func RegisterMetricsEndpoint(router *mux.Router, registry *prometheus.Registry) {
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
}
