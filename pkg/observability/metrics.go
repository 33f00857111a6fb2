package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Permission metrics
	PermissionResolutionsTotal   *prometheus.CounterVec
	PermissionResolutionDuration *prometheus.HistogramVec
	RoleMutationsTotal           *prometheus.CounterVec
	HierarchyViolations          prometheus.Gauge

	// Registry metrics
	RegistryQueriesTotal   *prometheus.CounterVec
	RegistryQueryDuration  *prometheus.HistogramVec
	RenderCacheLookupTotal *prometheus.CounterVec

	// Storage metrics
	StoreErrorsTotal *prometheus.CounterVec

	// Auth metrics
	LoginAttemptsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "padron_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "padron_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		PermissionResolutionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "padron_permission_resolutions_total",
				Help: "Total number of effective permission resolutions",
			},
			[]string{"outcome"},
		),
		PermissionResolutionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "padron_permission_resolution_duration_seconds",
				Help:    "Effective permission resolution duration in seconds",
				Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25},
			},
			[]string{"outcome"},
		),
		RoleMutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "padron_role_mutations_total",
				Help: "Total number of role and user mutations",
			},
			[]string{"operation", "outcome"},
		),
		HierarchyViolations: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "padron_hierarchy_violations",
				Help: "Role hierarchy violations found by the last integrity check",
			},
		),

		RegistryQueriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "padron_registry_queries_total",
				Help: "Total number of inhabitant registry queries",
			},
			[]string{"outcome"},
		),
		RegistryQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "padron_registry_query_duration_seconds",
				Help:    "Inhabitant registry query duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		RenderCacheLookupTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "padron_render_cache_lookups_total",
				Help: "Lookup table cache hits and misses while rendering records",
			},
			[]string{"table", "result"},
		),

		StoreErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "padron_store_errors_total",
				Help: "Total number of storage errors",
			},
			[]string{"store", "operation"},
		),

		LoginAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "padron_login_attempts_total",
				Help: "Total number of login attempts",
			},
			[]string{"outcome"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.PermissionResolutionsTotal,
		m.PermissionResolutionDuration,
		m.RoleMutationsTotal,
		m.HierarchyViolations,
		m.RegistryQueriesTotal,
		m.RegistryQueryDuration,
		m.RenderCacheLookupTotal,
		m.StoreErrorsTotal,
		m.LoginAttemptsTotal,
	)

	return m
}

// RecordResolution counts one effective permission resolution
func (m *Metrics) RecordResolution(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.PermissionResolutionsTotal.WithLabelValues(outcome).Inc()
	m.PermissionResolutionDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// RecordRoleMutation counts one role store mutation
func (m *Metrics) RecordRoleMutation(operation, outcome string) {
	if m == nil {
		return
	}
	m.RoleMutationsTotal.WithLabelValues(operation, outcome).Inc()
}

// SetHierarchyViolations publishes the result of an integrity check
func (m *Metrics) SetHierarchyViolations(n int) {
	if m == nil {
		return
	}
	m.HierarchyViolations.Set(float64(n))
}

// RecordRegistryQuery counts one inhabitant lookup
func (m *Metrics) RecordRegistryQuery(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.RegistryQueriesTotal.WithLabelValues(outcome).Inc()
	m.RegistryQueryDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// RecordCacheLookup counts a lookup table cache hit or miss
func (m *Metrics) RecordCacheLookup(table string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.RenderCacheLookupTotal.WithLabelValues(table, result).Inc()
}

// RecordStoreError counts a storage failure
func (m *Metrics) RecordStoreError(store, operation string) {
	if m == nil {
		return
	}
	m.StoreErrorsTotal.WithLabelValues(store, operation).Inc()
}

// RecordLoginAttempt counts a login by outcome
func (m *Metrics) RecordLoginAttempt(outcome string) {
	if m == nil {
		return
	}
	m.LoginAttemptsTotal.WithLabelValues(outcome).Inc()
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// routeLabel returns the mux route template so ids do not explode label
// cardinality
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if metrics == nil {
			return next
		}
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
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(router *mux.Router, registry *prometheus.Registry) {
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods("GET")
}
