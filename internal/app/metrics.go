package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var disbursementTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "disbursement_transitions_total",
	Help: "Disbursement state transitions by target state.",
}, []string{"to"})

var disbursementApprovals = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "disbursement_approvals_total",
	Help: "Approval attempts by result (recorded, quorum, duplicate, refused).",
}, []string{"result"})

var settlementAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "settlement_attempts_total",
	Help: "Ledger settlement attempts by outcome.",
}, []string{"outcome"})

var settlementDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "settlement_duration_seconds",
	Help:    "Time from processing to a settlement outcome.",
	Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
})

var invariantViolations = promauto.NewCounter(prometheus.CounterOpts{
	Name: "ledger_invariant_violations_total",
	Help: "Campaigns frozen because their recorded balance disagreed with their records.",
})

var donationsRecorded = promauto.NewCounter(prometheus.CounterOpts{
	Name: "donations_recorded_total",
	Help: "Donations credited to campaigns.",
})
