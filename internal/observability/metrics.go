package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueueOps counts matchmaking queue operations by op and result
	// (ok, already_queued, not_queued, storage_unavailable, error).
	QueueOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spark_queue_operations_total",
		Help: "Matchmaking queue operations by operation and result.",
	}, []string{"op", "result"})

	// SessionTransitions counts applied session lifecycle transitions
	// (created, joined, closed, abandoned, guest_left).
	SessionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spark_session_transitions_total",
		Help: "Applied session state transitions.",
	}, []string{"transition"})

	// SessionRejections counts session operations rejected by a guard.
	SessionRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spark_session_rejections_total",
		Help: "Session operations rejected by a guard, by operation and reason.",
	}, []string{"op", "reason"})

	// JoinClaimConflicts counts guest-slot claims lost to a concurrent joiner.
	JoinClaimConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spark_join_claim_conflicts_total",
		Help: "Guest slot compare-and-swap attempts that affected no row.",
	})

	// QueueDepth reports queue rows by state (live, expired) as of the last sweep.
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "spark_queue_depth",
		Help: "Queue rows by state as observed by the sweeper.",
	}, []string{"state"})

	// SessionsByStatus reports session rows by status as of the last sweep.
	SessionsByStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "spark_sessions",
		Help: "Session rows by status as observed by the sweeper.",
	}, []string{"status"})

	// SweepReclaimed counts queue entries removed by the expiry sweeper.
	SweepReclaimed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spark_sweep_reclaimed_total",
		Help: "Expired queue entries physically removed by the sweeper.",
	})

	// EventPublishFailures counts events that could not be delivered.
	EventPublishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spark_event_publish_failures_total",
		Help: "Lifecycle events that failed to publish, by event type.",
	}, []string{"type"})
)
