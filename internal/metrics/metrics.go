package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "orderwatch"

// SessionMetrics instruments the reconciliation session.
// A nil *SessionMetrics records nothing.
type SessionMetrics struct {
	EventsApplied    *prometheus.CounterVec
	Snapshots        *prometheus.CounterVec
	Mutations        *prometheus.CounterVec
	PendingMutations prometheus.Gauge
	Connected        prometheus.Gauge
	Orders           prometheus.Gauge
}

// NewSessionMetrics creates and registers session metrics on reg
func NewSessionMetrics(reg prometheus.Registerer) *SessionMetrics {
	m := &SessionMetrics{
		EventsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "events_applied_total",
			Help:      "Push events merged into the order registry.",
		}, []string{"event_type"}),
		Snapshots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "snapshot_fetches_total",
			Help:      "Order snapshot fetches by result.",
		}, []string{"result"}),
		Mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "mutations_total",
			Help:      "User-initiated order requests by operation and result.",
		}, []string{"op", "result"}),
		PendingMutations: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "pending_mutations",
			Help:      "Status changes currently awaiting a server response.",
		}),
		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "push_connected",
			Help:      "1 while the push channel is connected.",
		}),
		Orders: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "orders",
			Help:      "Orders held in the registry.",
		}),
	}

	reg.MustRegister(m.EventsApplied, m.Snapshots, m.Mutations, m.PendingMutations, m.Connected, m.Orders)
	return m
}

// EventApplied counts one merged push event
func (m *SessionMetrics) EventApplied(eventType string, orders int) {
	if m == nil {
		return
	}
	m.EventsApplied.WithLabelValues(eventType).Inc()
	m.Orders.Set(float64(orders))
}

// SnapshotFetched counts one snapshot fetch
func (m *SessionMetrics) SnapshotFetched(ok bool, orders int) {
	if m == nil {
		return
	}
	if !ok {
		m.Snapshots.WithLabelValues("error").Inc()
		return
	}
	m.Snapshots.WithLabelValues("ok").Inc()
	m.Orders.Set(float64(orders))
}

// MutationSettled counts one settled request
func (m *SessionMetrics) MutationSettled(op string, ok bool, pending int) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.Mutations.WithLabelValues(op, result).Inc()
	m.PendingMutations.Set(float64(pending))
}

// MutationStarted updates the pending gauge
func (m *SessionMetrics) MutationStarted(pending int) {
	if m == nil {
		return
	}
	m.PendingMutations.Set(float64(pending))
}

// SetConnected records the push link state
func (m *SessionMetrics) SetConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.Connected.Set(1)
	} else {
		m.Connected.Set(0)
	}
}

// ServerMetrics instruments the local HTTP surface
type ServerMetrics struct {
	Requests  *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec
}

// NewServerMetrics creates and registers HTTP metrics on reg
func NewServerMetrics(reg prometheus.Registerer) *ServerMetrics {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"handler", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"handler"})

	reg.MustRegister(requests, latency)
	return &ServerMetrics{Requests: requests, LatencyMS: latency}
}

// Handler exposes the metrics gathered by g
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
