// Package metrics holds the Prometheus collectors for the experiment engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Assignments counts variant assignments by allocation strategy and
	// whether an existing binding was reused ("sticky") or created ("new").
	Assignments = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fgoat",
		Name:      "assignments_total",
		Help:      "Variant assignments by allocation strategy and outcome.",
	}, []string{"allocation", "outcome"})

	Events = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fgoat",
		Name:      "events_total",
		Help:      "Tracked events by type.",
	}, []string{"event_type"})

	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fgoat",
		Name:      "lifecycle_transitions_total",
		Help:      "Applied test status transitions by target status.",
	}, []string{"status"})

	SweepTests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fgoat",
		Name:      "sweep_tests_total",
		Help:      "Tests visited by the auto-completion sweep, by outcome.",
	}, []string{"outcome"})

	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "fgoat",
		Name:      "sweep_duration_seconds",
		Help:      "Wall time of one auto-completion sweep.",
		Buckets:   prometheus.DefBuckets,
	})
)

// Sweep outcomes.
const (
	OutcomeCompleted     = "completed"
	OutcomeBelowMinimum  = "below_minimum"
	OutcomeNoWinner      = "no_winner"
	OutcomeError         = "error"
	OutcomeSticky        = "sticky"
	OutcomeNewAssignment = "new"
)
