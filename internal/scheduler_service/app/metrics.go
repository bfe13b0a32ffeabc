package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	schedulerTicksCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scheduler",
			Name:      "ticks_total",
			Help:      "Total scheduler ticks by outcome.",
		},
		[]string{"result"}, // ok, error
	)

	schedulerTickDurationHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "scheduler",
			Name:      "tick_duration_seconds",
			Help:      "Duration of a scheduler pass.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	dispatchesEnqueuedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scheduler",
			Name:      "dispatches_enqueued_total",
			Help:      "Dispatch entries inserted (duplicates excluded).",
		},
		[]string{"mode", "message_no"},
	)

	orderEventsProcessedCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "scheduler",
			Name:      "order_events_processed_total",
			Help:      "Order events inspected and marked processed.",
		},
	)

	orderEventsIngestedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scheduler",
			Name:      "order_events_ingested_total",
			Help:      "Order events received for ingestion.",
		},
		[]string{"source", "result"}, // source: nats, http; result: stored, duplicate, invalid, error
	)
)
