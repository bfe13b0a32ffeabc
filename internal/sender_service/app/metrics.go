package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	dispatchClaimsCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sender",
			Name:      "dispatch_claims_total",
			Help:      "Total dispatch entries claimed by sender workers.",
		},
	)

	dispatchOutcomesCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sender",
			Name:      "dispatch_outcomes_total",
			Help:      "Total resolved dispatch entries.",
		},
		[]string{"outcome"}, // succeeded, simulated, suppressed, retry, failed, lease_lost
	)

	dispatchProcessingDurationHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sender",
			Name:      "dispatch_processing_duration_seconds",
			Help:      "Duration from claim to resolution of a dispatch entry.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	staleLocksReleasedCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "sender",
			Name:      "stale_locks_released_total",
			Help:      "Total Running entries returned to Queued after their lease expired.",
		},
	)

	workerErrorsCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sender",
			Name:      "worker_errors_total",
			Help:      "Errors seen by sender worker loops.",
		},
		[]string{"kind"}, // store, panic, publish
	)
)
