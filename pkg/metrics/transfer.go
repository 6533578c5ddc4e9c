package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// TransferMetrics records attempt-level metadata for archival transfers.
type TransferMetrics struct {
	attempts *prometheus.CounterVec
	outcomes *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewTransferMetrics registers the transfer metrics on the provided registerer.
func NewTransferMetrics(reg prometheus.Registerer) *TransferMetrics {
	if reg == nil {
		return &TransferMetrics{}
	}
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "transfer_attempts_total",
		Help: "Transfer attempts, including retries.",
	}, []string{"target"})
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "transfer_outcomes_total",
		Help: "Terminal transfer outcomes by result.",
	}, []string{"target", "result"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "transfer_duration_seconds",
		Help:    "Wall-clock duration of a transfer including retries.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	}, []string{"target"})
	reg.MustRegister(attempts, outcomes, duration)
	return &TransferMetrics{
		attempts: attempts,
		outcomes: outcomes,
		duration: duration,
	}
}

// IncAttempt increments the attempt counter for the named target.
func (m *TransferMetrics) IncAttempt(target string) {
	if m == nil || m.attempts == nil {
		return
	}
	m.attempts.WithLabelValues(normalizeLabel(target)).Inc()
}

// IncOutcome records a terminal result (completed, error, cancelled).
func (m *TransferMetrics) IncOutcome(target, result string) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(normalizeLabel(target), normalizeLabel(result)).Inc()
}

// ObserveDuration records the total duration for a transfer on target.
func (m *TransferMetrics) ObserveDuration(target string, duration time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(target)).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
