// Package metrics holds the Prometheus collectors for the account security subsystem.
// A Collector is created once by the hosting process and passed to each component.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ticketguard"

type Collector struct {
	// BreakerState is the current state per operation (0 closed, 1 open, 2 half-open).
	BreakerState *prometheus.GaugeVec
	// BreakerTransitionsTotal counts state changes per operation.
	BreakerTransitionsTotal *prometheus.CounterVec
	// BreakerRejectedTotal counts calls failed fast while open.
	BreakerRejectedTotal *prometheus.CounterVec

	// LockoutOperationsTotal counts lockout tracker calls by operation and outcome.
	LockoutOperationsTotal *prometheus.CounterVec
	// LockoutsTotal counts accounts locked, by which store observed the threshold.
	LockoutsTotal *prometheus.CounterVec
	// LockoutFallbacksTotal counts reads and writes served by the durable store.
	LockoutFallbacksTotal *prometheus.CounterVec

	// RateLimitDecisionsTotal counts allow/deny/fail_open decisions.
	RateLimitDecisionsTotal *prometheus.CounterVec

	// SessionsEvictedTotal counts sessions deactivated by the session cap.
	SessionsEvictedTotal prometheus.Counter
	// SessionTxRetriesTotal counts serializable transaction retries.
	SessionTxRetriesTotal prometheus.Counter
}

// NewCollector registers all collectors on reg. Tests pass prometheus.NewRegistry().
func NewCollector(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)

	return &Collector{
		BreakerState: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "breaker_state",
				Help:      "Circuit breaker state per operation (0 closed, 1 open, 2 half-open).",
			},
			[]string{"operation"},
		),
		BreakerTransitionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "breaker_transitions_total",
				Help:      "Circuit breaker state transitions.",
			},
			[]string{"operation", "from", "to"},
		),
		BreakerRejectedTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "breaker_rejected_total",
				Help:      "Calls rejected without invoking the dependency.",
			},
			[]string{"operation"},
		),
		LockoutOperationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lockout_operations_total",
				Help:      "Lockout tracker operations by outcome.",
			},
			[]string{"operation", "outcome"},
		),
		LockoutsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lockouts_total",
				Help:      "Accounts locked after reaching the failed-attempt threshold.",
			},
			[]string{"source"},
		),
		LockoutFallbacksTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lockout_fallbacks_total",
				Help:      "Lockout operations served by the durable store because the cache was unavailable.",
			},
			[]string{"operation"},
		),
		RateLimitDecisionsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_decisions_total",
				Help:      "Rate limiter decisions.",
			},
			[]string{"decision"},
		),
		SessionsEvictedTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_evicted_total",
				Help:      "Sessions deactivated to respect the concurrent session cap.",
			},
		),
		SessionTxRetriesTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_tx_retries_total",
				Help:      "Serializable session transactions retried after a conflict.",
			},
		),
	}
}

// NewNopCollector returns a collector registered on a private registry.
func NewNopCollector() *Collector {
	return NewCollector(prometheus.NewRegistry())
}
