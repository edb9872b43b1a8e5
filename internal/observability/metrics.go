package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	requests          *prometheus.CounterVec
	requestDuration   *prometheus.HistogramVec
	errors            *prometheus.CounterVec
	transitions       *prometheus.CounterVec
	sweepCompletions  *prometheus.CounterVec
	notificationFails *prometheus.CounterVec
	liveSubscriptions *prometheus.GaugeVec
}

// NewMetrics registers collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "api_requests_total",
				Help: "Total number of API requests",
			},
			[]string{"method", "endpoint", "status"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "api_request_duration_seconds",
				Help:    "API request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "api_errors_total",
				Help: "Total number of API errors by error code",
			},
			[]string{"method", "endpoint", "code"},
		),
		transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflow_transitions_total",
				Help: "Workflow state transitions applied",
			},
			[]string{"entity", "transition"},
		),
		sweepCompletions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "closure_sweep_results_total",
				Help: "Closure requests handled by the sweep, by outcome",
			},
			[]string{"outcome"},
		),
		notificationFails: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notification_failures_total",
				Help: "Notification intents that could not be delivered",
			},
			[]string{"kind"},
		),
		liveSubscriptions: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "live_subscriptions",
				Help: "Currently open live query subscriptions",
			},
			[]string{"query"},
		),
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(method, path, code).Inc()
}

// RecordTransition counts a workflow transition such as closure/approve.
func (m *Metrics) RecordTransition(entity, transition string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(entity, transition).Inc()
}

// RecordSweep counts sweep outcomes: completed or failed.
func (m *Metrics) RecordSweep(outcome string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.sweepCompletions.WithLabelValues(outcome).Add(float64(n))
}

// RecordNotificationFailure counts an undelivered intent.
func (m *Metrics) RecordNotificationFailure(kind string) {
	if m == nil {
		return
	}
	m.notificationFails.WithLabelValues(kind).Inc()
}

// LiveSubscriptionOpened and LiveSubscriptionClosed track open subscriptions per query.
func (m *Metrics) LiveSubscriptionOpened(query string) {
	if m == nil {
		return
	}
	m.liveSubscriptions.WithLabelValues(query).Inc()
}

func (m *Metrics) LiveSubscriptionClosed(query string) {
	if m == nil {
		return
	}
	m.liveSubscriptions.WithLabelValues(query).Dec()
}
