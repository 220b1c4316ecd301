package services

import (
	"log/slog"
	"sync"

	"github.com/BradenHooton/ticketguard/internal/metrics"
)

const (
	lockoutAlertFailureRate = 0.20
	lockoutAlertMinSamples  = 50
)

// LockoutMetricsSnapshot is a point-in-time copy of the lockout tallies.
type LockoutMetricsSnapshot struct {
	Successes   int64
	Failures    int64
	FailureRate float64
}

// LockoutMetrics tallies cache outcomes of the lockout tracker. One instance is
// created by the hosting process and shared; Reset is for tests.
type LockoutMetrics struct {
	logEvery  int
	collector *metrics.Collector
	logger    *slog.Logger

	mu        sync.Mutex
	successes int64
	failures  int64
	alerting  bool
}

func NewLockoutMetrics(logEvery int, collector *metrics.Collector, logger *slog.Logger) *LockoutMetrics {
	if logEvery < 1 {
		logEvery = 1
	}
	return &LockoutMetrics{logEvery: logEvery, collector: collector, logger: logger}
}

func (m *LockoutMetrics) RecordSuccess(operation string) {
	m.collector.LockoutOperationsTotal.WithLabelValues(operation, "success").Inc()

	m.mu.Lock()
	m.successes++
	snap := m.snapshotLocked()
	recovered := m.alerting && !m.overThreshold(snap)
	if recovered {
		m.alerting = false
	}
	m.mu.Unlock()

	if recovered {
		m.logger.Info("lockout cache failure rate recovered",
			slog.Float64("failure_rate", snap.FailureRate),
			slog.Int64("samples", snap.Successes+snap.Failures))
	}
}

func (m *LockoutMetrics) RecordFailure(operation string, err error) {
	m.collector.LockoutOperationsTotal.WithLabelValues(operation, "failure").Inc()

	m.mu.Lock()
	m.failures++
	snap := m.snapshotLocked()
	periodic := snap.Failures%int64(m.logEvery) == 0
	alert := !m.alerting && m.overThreshold(snap)
	if alert {
		m.alerting = true
	}
	m.mu.Unlock()

	if periodic {
		m.logger.Info("lockout cache failures",
			slog.String("operation", operation),
			slog.Int64("failures", snap.Failures),
			slog.Int64("successes", snap.Successes),
			slog.Float64("failure_rate", snap.FailureRate),
			slog.Any("last_error", err))
	}
	if alert {
		m.logger.Error("ALERT: lockout cache failure rate above threshold",
			slog.Float64("failure_rate", snap.FailureRate),
			slog.Float64("threshold", lockoutAlertFailureRate),
			slog.Int64("samples", snap.Successes+snap.Failures))
	}
}

func (m *LockoutMetrics) Snapshot() LockoutMetricsSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *LockoutMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.successes, m.failures, m.alerting = 0, 0, false
}

func (m *LockoutMetrics) snapshotLocked() LockoutMetricsSnapshot {
	snap := LockoutMetricsSnapshot{Successes: m.successes, Failures: m.failures}
	if total := m.successes + m.failures; total > 0 {
		snap.FailureRate = float64(m.failures) / float64(total)
	}
	return snap
}

func (m *LockoutMetrics) overThreshold(snap LockoutMetricsSnapshot) bool {
	return snap.Successes+snap.Failures >= lockoutAlertMinSamples && snap.FailureRate > lockoutAlertFailureRate
}
