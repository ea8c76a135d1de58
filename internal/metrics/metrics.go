// Package metrics holds the service's Prometheus collectors. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	envelopes   *prometheus.CounterVec
	sideEffects *prometheus.CounterVec
	alerts      *prometheus.CounterVec
	tasks       *prometheus.CounterVec
	events      *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		envelopes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "contracts",
			Name:      "envelopes_total",
			Help:      "Change envelopes handled, by entity and outcome.",
		}, []string{"entity", "outcome"}),
		sideEffects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "contracts",
			Name:      "side_effect_attempts_total",
			Help:      "External port call attempts, by port, operation and result.",
		}, []string{"port", "operation", "result"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "contracts",
			Name:      "operational_alerts_total",
			Help:      "Operational alerts raised, by kind.",
		}, []string{"kind"}),
		tasks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "contracts",
			Name:      "scheduled_task_fires_total",
			Help:      "Scheduled task callback attempts, by purpose and status.",
		}, []string{"purpose", "status"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "contracts",
			Name:      "domain_events_published_total",
			Help:      "Domain events published, by type.",
		}, []string{"type"}),
	}
	reg.MustRegister(m.envelopes, m.sideEffects, m.alerts, m.tasks, m.events)
	return m
}

func (m *Metrics) Envelope(entity, outcome string) {
	if m == nil {
		return
	}
	m.envelopes.WithLabelValues(entity, outcome).Inc()
}

func (m *Metrics) SideEffect(port, operation, result string) {
	if m == nil {
		return
	}
	m.sideEffects.WithLabelValues(port, operation, result).Inc()
}

func (m *Metrics) Alert(kind string) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(kind).Inc()
}

func (m *Metrics) TaskFired(purpose, status string) {
	if m == nil {
		return
	}
	m.tasks.WithLabelValues(purpose, status).Inc()
}

func (m *Metrics) EventPublished(eventType string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(eventType).Inc()
}
