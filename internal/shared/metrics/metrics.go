package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the server.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	RoutingDecisionsTotal  *prometheus.CounterVec
	SessionOutcomesTotal   *prometheus.CounterVec
	ProviderCircuitState   *prometheus.GaugeVec
	InstantFallbacksTotal  prometheus.Counter
	IdempotentReplaysTotal prometheus.Counter
}

// New creates the metric set and registers it on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "routepay_http_requests_total",
			Help: "Total HTTP requests by method, path, and status.",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "routepay_http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		HTTPRequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "routepay_http_requests_in_flight",
			Help: "In-flight HTTP requests.",
		}),
		RoutingDecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "routepay_routing_decisions_total",
			Help: "Routing decisions by chosen provider and reason code.",
		}, []string{"provider", "reason"}),
		SessionOutcomesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "routepay_session_outcomes_total",
			Help: "Checkout session creation outcomes by provider and error kind.",
		}, []string{"provider", "outcome", "error_kind"}),
		ProviderCircuitState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "routepay_provider_circuit_state",
			Help: "Circuit state per provider (0=closed, 1=half-open, 2=open).",
		}, []string{"provider"}),
		InstantFallbacksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "routepay_instant_fallbacks_total",
			Help: "Same-request fallback attempts triggered by transient provider failures.",
		}),
		IdempotentReplaysTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "routepay_idempotent_replays_total",
			Help: "Create requests answered from an idempotency record.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.RoutingDecisionsTotal,
		m.SessionOutcomesTotal,
		m.ProviderCircuitState,
		m.InstantFallbacksTotal,
		m.IdempotentReplaysTotal,
	)
	return m
}

// RecordHTTPRequest records one completed HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
