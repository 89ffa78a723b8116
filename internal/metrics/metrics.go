// Package metrics holds the prometheus collectors for negotiation activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/zulandar/tradepost/internal/apperr"
)

var (
	// Transitions counts operations by state machine, action and outcome.
	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tradepost",
		Name:      "transitions_total",
		Help:      "Negotiation operations by machine, action and outcome.",
	}, []string{"machine", "action", "outcome"})

	// LockWait observes how long callers waited for a pair lock.
	LockWait = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tradepost",
		Name:      "pair_lock_wait_seconds",
		Help:      "Time spent waiting for a participant-pair lock.",
		Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 2.5, 5},
	}, []string{"result"})

	// AutoFinalized counts confirm requests finalized on read after expiry.
	AutoFinalized = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tradepost",
		Name:      "confirm_auto_finalized_total",
		Help:      "Expired confirm requests auto-accepted on access.",
	})

	// EventsDropped counts post-commit events the publisher rejected.
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tradepost",
		Name:      "events_dropped_total",
		Help:      "Events that failed to publish after commit.",
	})
)

// ObserveTransition records one operation outcome: "ok" or the error kind.
func ObserveTransition(machine, action string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = string(apperr.KindOf(err))
	}
	Transitions.WithLabelValues(machine, action, outcome).Inc()
}
