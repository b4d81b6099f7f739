package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// LedgerMetrics records outcomes and latency for ledger operations.
type LedgerMetrics struct {
	duration   *prometheus.HistogramVec
	operations *prometheus.CounterVec
	duplicates *prometheus.CounterVec
}

// NewLedgerMetrics registers the ledger metrics on the provided registerer.
func NewLedgerMetrics(reg prometheus.Registerer) *LedgerMetrics {
	if reg == nil {
		return &LedgerMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_operation_duration_seconds",
		Help:    "Duration of ledger operations in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})
	operations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_operations_total",
		Help: "Ledger operations by outcome.",
	}, []string{"operation", "outcome"})
	duplicates := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_duplicate_replays_total",
		Help: "Requests answered from an existing entry via idempotency key.",
	}, []string{"operation"})
	reg.MustRegister(duration, operations, duplicates)
	return &LedgerMetrics{
		duration:   duration,
		operations: operations,
		duplicates: duplicates,
	}
}

// ObserveDuration records the duration for the named operation.
func (m *LedgerMetrics) ObserveDuration(operation string, duration time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(operation)).Observe(duration.Seconds())
}

// IncOperation counts one finished operation with its outcome label.
func (m *LedgerMetrics) IncOperation(operation, outcome string) {
	if m == nil || m.operations == nil {
		return
	}
	m.operations.WithLabelValues(normalizeLabel(operation), normalizeLabel(outcome)).Inc()
}

// IncDuplicate counts a request replayed from a prior entry.
func (m *LedgerMetrics) IncDuplicate(operation string) {
	if m == nil || m.duplicates == nil {
		return
	}
	m.duplicates.WithLabelValues(normalizeLabel(operation)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
