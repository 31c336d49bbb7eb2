package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsRegistry holds all Prometheus metrics for the platform
type MetricsRegistry struct {
	// HTTP Metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight *prometheus.GaugeVec

	// Role cache Metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec
	CacheErrorsTotal *prometheus.CounterVec

	// Role switching
	RoleSwitchesTotal  *prometheus.CounterVec
	RoleDetectDuration *prometheus.HistogramVec

	// Call signaling
	CallEventsTotal *prometheus.CounterVec

	// Background tasks
	TasksTotal *prometheus.CounterVec
}

// NewMetricsRegistry initializes and returns a new MetricsRegistry registered on reg.
// A nil reg registers on the default Prometheus registry.
func NewMetricsRegistry(reg prometheus.Registerer) *MetricsRegistry {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &MetricsRegistry{
		// HTTP Metrics
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cryptorafts_http_requests_total",
				Help: "Total HTTP requests processed by endpoint, method, and status code",
			},
			[]string{"endpoint", "method", "status_code"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cryptorafts_http_request_duration_seconds",
				Help:    "HTTP request latency distribution in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"endpoint", "method"},
		),
		HTTPRequestsInFlight: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "cryptorafts_http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed by method",
			},
			[]string{"method"},
		),

		CacheHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cryptorafts_role_cache_hits_total",
				Help: "Total role cache hits by tier",
			},
			[]string{"tier"},
		),
		CacheMissesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cryptorafts_role_cache_misses_total",
				Help: "Total role cache misses by tier (expired entries included)",
			},
			[]string{"tier"},
		),
		CacheErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cryptorafts_role_cache_errors_total",
				Help: "Total role cache tier failures by tier and operation",
			},
			[]string{"tier", "op"},
		),

		RoleSwitchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cryptorafts_role_switches_total",
				Help: "Role switch attempts by outcome",
			},
			[]string{"outcome"},
		),
		RoleDetectDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cryptorafts_role_detect_duration_seconds",
				Help:    "Role detection latency in seconds",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
			[]string{"source"},
		),

		CallEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cryptorafts_call_events_total",
				Help: "Call lifecycle events by type",
			},
			[]string{"event"},
		),

		TasksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cryptorafts_background_tasks_total",
				Help: "Background tasks by name and outcome",
			},
			[]string{"task", "outcome"},
		),
	}
}
