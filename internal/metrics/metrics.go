// Package metrics holds the Prometheus collectors of the chat server.
// A nil *Metrics is valid and records nothing, so tests can pass nil.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "circles"

type Metrics struct {
	Connections       prometheus.Gauge
	OnlineUsers       prometheus.Gauge
	MessagesSent      prometheus.Counter
	StatusTransitions *prometheus.CounterVec
	DroppedEvents     *prometheus.CounterVec
	EventErrors       *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_connections",
			Help:      "Live WebSocket connections.",
		}),
		OnlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_users",
			Help:      "Users with at least one live connection.",
		}),
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Messages persisted and fanned out.",
		}),
		StatusTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "message_status_transitions_total",
			Help:      "Applied message status transitions.",
		}, []string{"status"}),
		DroppedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dropped_events_total",
			Help:      "Events not delivered to a connection.",
		}, []string{"event", "reason"}),
		EventErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_errors_total",
			Help:      "Inbound events that ended in an error.",
		}, []string{"event", "kind"}),
	}
	if reg != nil {
		reg.MustRegister(m.Connections, m.OnlineUsers, m.MessagesSent, m.StatusTransitions, m.DroppedEvents, m.EventErrors)
	}
	return m
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.Connections.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.Connections.Dec()
	}
}

func (m *Metrics) SetOnlineUsers(n int) {
	if m != nil {
		m.OnlineUsers.Set(float64(n))
	}
}

func (m *Metrics) MessageSent() {
	if m != nil {
		m.MessagesSent.Inc()
	}
}

func (m *Metrics) StatusTransition(status string) {
	if m != nil {
		m.StatusTransitions.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) EventDropped(event, reason string) {
	if m != nil {
		m.DroppedEvents.WithLabelValues(event, reason).Inc()
	}
}

func (m *Metrics) EventError(event, kind string) {
	if m != nil {
		m.EventErrors.WithLabelValues(event, kind).Inc()
	}
}
