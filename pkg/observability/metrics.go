package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authentication metrics
	AuthAttemptsTotal *prometheus.CounterVec

	// Authorization metrics
	ACLDecisionsTotal *prometheus.CounterVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mqttgate_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mqttgate_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		AuthAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mqttgate_auth_attempts_total",
				Help: "Total number of bus login attempts",
			},
			[]string{"result"},
		),
		ACLDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mqttgate_acl_decisions_total",
				Help: "Total number of topic authorization decisions",
			},
			[]string{"action", "kind", "result"},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mqttgate_cache_hits_total",
				Help: "Total number of grant cache hits",
			},
			[]string{"layer"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mqttgate_cache_misses_total",
				Help: "Total number of grant cache misses",
			},
			[]string{"layer"},
		),
		DBConnectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mqttgate_db_connections_active",
			Help: "Number of active database connections",
		}),
		DBConnectionsIdle: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mqttgate_db_connections_idle",
			Help: "Number of idle database connections",
		}),
		registry: registry,
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AuthAttemptsTotal,
		m.ACLDecisionsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// ObserveDecision records one authorization decision.
func (m *Metrics) ObserveDecision(action, kind string, allowed bool) {
	m.ACLDecisionsTotal.WithLabelValues(action, kind, resultLabel(allowed)).Inc()
}

// ObserveAuthAttempt records one bus login attempt.
func (m *Metrics) ObserveAuthAttempt(allowed bool) {
	m.AuthAttemptsTotal.WithLabelValues(resultLabel(allowed)).Inc()
}

// ObserveCache records a cache probe against the named layer.
func (m *Metrics) ObserveCache(layer string, hit bool) {
	if hit {
		m.CacheHitsTotal.WithLabelValues(layer).Inc()
		return
	}
	m.CacheMissesTotal.WithLabelValues(layer).Inc()
}

func resultLabel(allowed bool) string {
	if allowed {
		return "allow"
	}
	return "deny"
}

// Handler returns the /metrics endpoint handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// statusRecorder captures the response status for the metrics middleware.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Middleware instruments an HTTP handler with request counters and latency.
// path should be the route template, not the raw URL, to bound cardinality.
func (m *Metrics) Middleware(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}
