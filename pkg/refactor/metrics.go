package refactor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mamaar/vbarefactor/pkg/types"
)

// tracerName is the OTel tracer used for refactoring attempts.
const tracerName = "vbarefactor.refactor"

// Outcome labels of refactoringAttemptsTotal.
const (
	outcomeCompleted = "completed"
	outcomeUnmatched = "unmatched"
	outcomeAborted   = "aborted"
	outcomeRejected  = "rejected"
	outcomeTimeout   = "timeout"
)

// Package-level Prometheus metrics, registered via promauto.
var (
	// refactoringAttemptsTotal counts finished attempts.
	//
	// Labels:
	//   - outcome: "completed", "unmatched", "aborted", "rejected", "timeout"
	refactoringAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vbarefactor",
			Subsystem: "move_closer",
			Name:      "attempts_total",
			Help:      "Total Move Closer To Usage attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// preconditionFailuresTotal counts attempts refused before any edit.
	//
	// Labels:
	//   - reason: the RefactorError type
	preconditionFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "vbarefactor",
			Subsystem: "move_closer",
			Name:      "precondition_failures_total",
			Help:      "Attempts refused before any edit, by reason.",
		},
		[]string{"reason"},
	)

	// phaseDuration measures both phases of an attempt.
	//
	// Labels:
	//   - phase: "insert" or "cleanup"
	phaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "vbarefactor",
			Subsystem: "move_closer",
			Name:      "phase_duration_seconds",
			Help:      "Duration of the local insertion and the post-reparse cleanup.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
		[]string{"phase"},
	)

	// qualifiersRemovedTotal counts member-access expressions reduced to a
	// bare identifier.
	qualifiersRemovedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "vbarefactor",
			Subsystem: "move_closer",
			Name:      "qualifiers_removed_total",
			Help:      "Qualified references rewritten to the bare identifier.",
		},
	)
)

func recordPrecondition(err error) {
	reason := "unknown"
	if t, ok := types.ErrorTypeOf(err); ok {
		reason = t.String()
	}
	preconditionFailuresTotal.WithLabelValues(reason).Inc()
	refactoringAttemptsTotal.WithLabelValues(outcomeRejected).Inc()
}

func recordPhase(phase string, start time.Time) {
	phaseDuration.WithLabelValues(phase).Observe(time.Since(start).Seconds())
}
