package sct

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// runsTotal counts scheduling windows by driver
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interleave_runs_total",
		Help: "Scheduling windows started, by driver",
	}, []string{"driver"})

	// decisionsTotal counts control-loop decisions that resumed at least one thread
	decisionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "interleave_decisions_total",
		Help: "Scheduling decisions taken by the control loop",
	})

	// decisionOptions tracks how many threads were eligible per decision
	decisionOptions = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "interleave_decision_options",
		Help:    "Frozen threads eligible at each decision",
		Buckets: []float64{1, 2, 3, 4, 6, 8, 16, 32},
	})

	// preemptionsTotal counts freezes by stop-point tier
	preemptionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interleave_preemptions_total",
		Help: "Threads frozen at hooks, by reason",
	}, []string{"reason"})

	// budgetOverflowTotal counts matches ignored because the preemption budget was spent
	budgetOverflowTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "interleave_budget_overflow_total",
		Help: "Stop-point matches after the preemption budget was spent",
	})

	// frozenThreads is the frozen set size seen at the last decision
	frozenThreads = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "interleave_frozen_threads",
		Help: "Frozen threads at the last decision",
	})

	// tracesPersistedTotal counts traces appended to the data file, by result
	tracesPersistedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interleave_traces_persisted_total",
		Help: "Run traces appended to the data file, by result",
	}, []string{"result"})
)
