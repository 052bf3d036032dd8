// Package metrics exposes prometheus instruments of the task service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all service metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	EventsTotal      *prometheus.CounterVec
	SchedulerPasses  prometheus.Counter
	AdmittedTasks    *prometheus.GaugeVec
	EvictionsTotal   *prometheus.CounterVec
	TransitionsTotal *prometheus.CounterVec
	TransfersTotal   *prometheus.CounterVec
	PurgedTotal      prometheus.Counter
}

// New creates the metrics and registers them with reg. A nil reg uses the
// default registerer.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "transferq"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "manager",
				Name:      "events_total",
				Help:      "Total number of events processed by the task manager",
			},
			[]string{"kind"},
		),
		SchedulerPasses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "passes_total",
				Help:      "Total number of scheduling passes",
			},
		),
		AdmittedTasks: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "admitted_tasks",
				Help:      "Number of admitted tasks per speed tier",
			},
			[]string{"level"},
		),
		EvictionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "scheduler",
				Name:      "evictions_total",
				Help:      "Total number of evictions by reason",
			},
			[]string{"reason"},
		),
		TransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "manager",
				Name:      "transitions_total",
				Help:      "Total number of persisted state transitions by target state",
			},
			[]string{"state"},
		),
		TransfersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "worker",
				Name:      "transfers_total",
				Help:      "Total number of finished transfer runs by outcome",
			},
			[]string{"outcome"},
		),
		PurgedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "store",
				Name:      "purged_total",
				Help:      "Total number of records removed by the retention sweep",
			},
		),
	}
	reg.MustRegister(
		m.EventsTotal, m.SchedulerPasses, m.AdmittedTasks, m.EvictionsTotal,
		m.TransitionsTotal, m.TransfersTotal, m.PurgedTotal,
	)
	return m
}

// Event records one processed event.
func (m *Metrics) Event(kind string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(kind).Inc()
}

// Pass records one scheduling pass and the resulting tier occupancy.
func (m *Metrics) Pass(admitted map[string]int) {
	if m == nil {
		return
	}
	m.SchedulerPasses.Inc()
	for lvl, n := range admitted {
		m.AdmittedTasks.WithLabelValues(lvl).Set(float64(n))
	}
}

// Evicted records one eviction.
func (m *Metrics) Evicted(reason string) {
	if m == nil {
		return
	}
	m.EvictionsTotal.WithLabelValues(reason).Inc()
}

// Transition records one persisted state change.
func (m *Metrics) Transition(state string) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(state).Inc()
}

// Transfer records the outcome of one transfer run.
func (m *Metrics) Transfer(outcome string) {
	if m == nil {
		return
	}
	m.TransfersTotal.WithLabelValues(outcome).Inc()
}

// Purged records records removed by the sweep.
func (m *Metrics) Purged(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.PurgedTotal.Add(float64(n))
}
