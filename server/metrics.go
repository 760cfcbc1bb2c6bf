package server

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics aggregates the prometheus instruments of a server. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	activeSessions prometheus.Gauge
	requestsTotal  *prometheus.CounterVec
	requestSeconds *prometheus.HistogramVec
	streamEvents   prometheus.Counter
	roundTrips     *prometheus.CounterVec
}

// NewMetrics registers the server instruments with the supplied registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "mcp",
			Name:      "active_sessions",
			Help:      "Number of sessions currently live on this node.",
		}),
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcp",
			Name:      "requests_total",
			Help:      "Inbound JSON-RPC requests by method and outcome.",
		}, []string{"method", "outcome"}),
		requestSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mcp",
			Name:      "request_duration_seconds",
			Help:      "Inbound request handling latency by method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		streamEvents: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "mcp",
			Name:      "stream_events_published_total",
			Help:      "Server-to-client messages published to session streams.",
		}),
		roundTrips: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcp",
			Name:      "outbound_round_trips_total",
			Help:      "Server-to-client requests by method and outcome.",
		}, []string{"method", "outcome"}),
	}
}

func (m *Metrics) sessionOpened() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

func (m *Metrics) sessionClosed() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

func (m *Metrics) request(method, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(method, outcome).Inc()
	m.requestSeconds.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (m *Metrics) streamPublished() {
	if m == nil {
		return
	}
	m.streamEvents.Inc()
}

func (m *Metrics) roundTrip(method, outcome string) {
	if m == nil {
		return
	}
	m.roundTrips.WithLabelValues(method, outcome).Inc()
}
