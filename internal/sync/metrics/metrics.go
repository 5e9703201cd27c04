package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StatusTransitions tracks recovery state machine transitions
	StatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncd_status_transitions_total",
			Help: "Total number of recovery status transitions",
		},
		[]string{"from", "to"},
	)

	// ProbeDuration tracks health probe latency per result
	ProbeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "syncd_probe_duration_seconds",
			Help:    "Health probe duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"result"},
	)

	// QueueDepth tracks the number of pending queued mutations
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "syncd_queue_depth",
			Help: "Number of mutations waiting in the queue",
		},
	)

	// MutationsTotal tracks mutation outcomes per disposition
	MutationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncd_mutations_total",
			Help: "Total number of mutations by disposition and result",
		},
		[]string{"disposition", "result"},
	)

	// ReconcileEvents tracks pushed change events per type and action taken
	ReconcileEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncd_reconcile_events_total",
			Help: "Total number of reconciled push events",
		},
		[]string{"type", "action"},
	)
)
