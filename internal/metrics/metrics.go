// Package metrics holds the Prometheus collectors for the bot. Collectors
// register on the default registry; /metrics on the ops server exposes them.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mycelium"

var (
	TasksArmed = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "armed_timers",
		Help:      "Deferred tasks with a live in-memory timer.",
	})

	TaskFires = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "fires_total",
		Help:      "Deferred task fires by action kind and result.",
	}, []string{"kind", "result"})

	TaskFireLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "scheduler",
		Name:      "fire_lateness_seconds",
		Help:      "Seconds between a task's due time and its fire.",
		Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 30, 60, 300, 3600},
	}, []string{"kind"})

	LedgerOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ledger",
		Name:      "operations_total",
		Help:      "Ledger operations by name and result.",
	}, []string{"op", "result"})

	RecoveryTasks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "recovery",
		Name:      "tasks_total",
		Help:      "Tasks handled by startup recovery by outcome.",
	}, []string{"outcome"})

	EngineRuns = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "run_duration_seconds",
		Help:      "Task engine run duration including retries.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"name", "result"})

	EngineQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "engine",
		Name:      "queue_depth",
		Help:      "Tasks waiting in the engine queue.",
	})

	Commands = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "commands",
		Name:      "handled_total",
		Help:      "Chat commands by route and result.",
	}, []string{"command", "result"})

	AuditEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "audit",
		Name:      "entries_total",
		Help:      "Audit log entries appended by action.",
	}, []string{"action"})
)

// Result maps an error to a label value.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
