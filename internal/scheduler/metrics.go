package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters are only incremented after the operation's unit of work commits.
var (
	reviewsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "knolsched",
			Name:      "reviews_total",
			Help:      "Reviews committed, by rating.",
		},
		[]string{"rating"},
	)

	forgetsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "knolsched",
			Name:      "forgets_total",
			Help:      "Cards reset to the New state.",
		},
	)

	undosTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "knolsched",
			Name:      "undos_total",
			Help:      "Review log entries rolled back.",
		},
	)

	suspensionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "knolsched",
			Name:      "suspensions_total",
			Help:      "Cards suspended, by reason (auto or manual).",
		},
		[]string{"reason"},
	)

	rescheduledCardsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "knolsched",
			Name:      "rescheduled_cards_total",
			Help:      "Cards processed by reschedule, by outcome (updated, skipped, failed).",
		},
		[]string{"outcome"},
	)
)

const (
	reasonAuto   = "auto"
	reasonManual = "manual"

	outcomeUpdated = "updated"
	outcomeSkipped = "skipped"
	outcomeFailed  = "failed"
)
