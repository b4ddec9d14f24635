// Package metrics holds the prometheus collectors for the raffle pipeline.
package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	settlementTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raffle_settlements_total",
			Help: "Settlement attempts by terminal outcome and reason",
		},
		[]string{"outcome", "reason"},
	)

	settlementDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "raffle_settlement_duration_ms",
			Help:    "Settlement attempt duration in milliseconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
		[]string{"outcome"},
	)

	batchItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raffle_batch_items_total",
			Help: "Settled and failed items across completed batches",
		},
		[]string{"result"},
	)

	batchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "raffle_batch_duration_ms",
			Help:    "Time from batch dispatch to the last item reaching a terminal state",
			Buckets: prometheus.ExponentialBuckets(5, 2, 12),
		},
	)

	selectionTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raffle_winner_selections_total",
			Help: "Winner selections by outcome",
		},
		[]string{"outcome"},
	)

	entryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raffle_entries_total",
			Help: "Entry requests by result",
		},
		[]string{"result"},
	)

	outboxTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "raffle_outbox_deliveries_total",
			Help: "Outbox delivery attempts by event type and result",
		},
		[]string{"type", "result"},
	)
)

// RecordSettlement records one settlement attempt.
// outcome: "settled" | "failed"
func RecordSettlement(outcome, reason string, started time.Time) {
	oc := label(outcome)
	settlementTotal.WithLabelValues(oc, label(reason)).Inc()
	settlementDuration.WithLabelValues(oc).Observe(float64(time.Since(started).Milliseconds()))
}

// RecordBatch records a completed batch.
func RecordBatch(settled, failed int, started time.Time) {
	batchItems.WithLabelValues("settled").Add(float64(settled))
	batchItems.WithLabelValues("failed").Add(float64(failed))
	batchDuration.Observe(float64(time.Since(started).Milliseconds()))
}

// RecordSelection records a winner selection outcome.
func RecordSelection(outcome string) {
	selectionTotal.WithLabelValues(label(outcome)).Inc()
}

// RecordEntry records an entry request.
// result: "created" | "existing" | "cancelled" | "failed"
func RecordEntry(result string) {
	entryTotal.WithLabelValues(label(result)).Inc()
}

// RecordOutbox records one delivery attempt.
// result: "sent" | "retry" | "dead"
func RecordOutbox(eventType, result string) {
	outboxTotal.WithLabelValues(label(eventType), label(result)).Inc()
}

func label(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return "unknown"
	}
	return v
}
