package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ─── Dispatch API ────────────────────────────────────────────────────────────

	APITasksCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "campusrun",
		Subsystem: "api",
		Name:      "tasks_created_total",
		Help:      "Total tasks created through the dispatch API.",
	}, []string{"kind"})

	APIRateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "campusrun",
		Subsystem: "api",
		Name:      "rate_limited_total",
		Help:      "Total task creations rejected by the per-requester rate limiter.",
	})

	// ─── Assignment engine ───────────────────────────────────────────────────────

	AssignmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "campusrun",
		Subsystem: "assign",
		Name:      "assignments_total",
		Help:      "Total assignment attempts, labelled by kind and outcome.",
	}, []string{"kind", "outcome"})

	QueueSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "campusrun",
		Subsystem: "assign",
		Name:      "queue_size",
		Help:      "Length of the ranked candidate queue persisted per assignment.",
		Buckets:   []float64{1, 2, 3, 5, 8, 13, 21, 34},
	}, []string{"kind"})

	BroadcastFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "campusrun",
		Subsystem: "assign",
		Name:      "broadcast_failures_total",
		Help:      "Total failed notification broadcasts (non-fatal; the sweep is the safety net).",
	})

	// ─── Reassignment sweep ──────────────────────────────────────────────────────

	SweepTasksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "campusrun",
		Subsystem: "sweep",
		Name:      "tasks_processed_total",
		Help:      "Total expired offers handled per sweep, labelled by result.",
	}, []string{"result"})

	SweepDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "campusrun",
		Subsystem: "sweep",
		Name:      "duration_seconds",
		Help:      "Wall time of one reassignment sweep.",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	})

	// ─── Notifier ────────────────────────────────────────────────────────────────

	NotifierEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "campusrun",
		Subsystem: "notifier",
		Name:      "events_total",
		Help:      "Total lifecycle events consumed, labelled by type and whether the row was new.",
	}, []string{"type", "result"})
)
