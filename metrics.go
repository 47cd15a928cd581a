package goxa

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	completed   *prometheus.CounterVec
	active      *prometheus.GaugeVec
	heuristics  prometheus.Counter
	reaped      prometheus.Counter
	recovered   prometheus.Counter
	droppedLogs prometheus.Counter
}

func newMetrics(registerer prometheus.Registerer) *metrics {
	m := &metrics{
		completed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "goxa",
			Name:      "transactions_completed_total",
			Help:      "Completed transactions by scope and outcome.",
		}, []string{"scope", "outcome"}),
		active: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "goxa",
			Name:      "transactions_active",
			Help:      "Live transactions by scope.",
		}, []string{"scope"}),
		heuristics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "goxa",
			Name:      "heuristic_outcomes_total",
			Help:      "Global transactions whose phase two fan-out partially failed.",
		}),
		reaped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "goxa",
			Name:      "transactions_timed_out_total",
			Help:      "Global transactions rolled back by the timeout reaper.",
		}),
		recovered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "goxa",
			Name:      "recovered_xids_total",
			Help:      "In-doubt xids resolved by recovery.",
		}),
		droppedLogs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "goxa",
			Name:      "txlog_dropped_total",
			Help:      "Transaction log entries dropped because the queue was full.",
		}),
	}

	if registerer != nil {
		registerer.MustRegister(m.completed, m.active, m.heuristics, m.reaped, m.recovered, m.droppedLogs)
	}
	return m
}

func (m *metrics) begin(scope Scope) {
	m.active.WithLabelValues(scope.String()).Inc()
}

func (m *metrics) end(scope Scope, outcome Outcome) {
	m.active.WithLabelValues(scope.String()).Dec()
	m.completed.WithLabelValues(scope.String(), outcome.String()).Inc()
}
