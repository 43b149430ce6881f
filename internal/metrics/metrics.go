// Package metrics exposes the Prometheus collectors for the ledger engine.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "merchant_ledger"

type Metrics struct {
	LedgerOperations  *prometheus.CounterVec
	LedgerEntries     prometheus.Counter
	LockWait          prometheus.Histogram
	WithdrawalsByCode *prometheus.CounterVec
	PaymentsRecorded  *prometheus.CounterVec
	EventPublishFails *prometheus.CounterVec
	Reconciliation    *prometheus.CounterVec
}

// New registers all collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		LedgerOperations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_operations_total",
			Help:      "Ledger transactions by outcome.",
		}, []string{"outcome"}),
		LedgerEntries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_entries_total",
			Help:      "Ledger entries appended.",
		}),
		LockWait: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "account_lock_wait_seconds",
			Help:      "Time spent waiting for the per-account lock.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
		WithdrawalsByCode: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "withdrawal_decisions_total",
			Help:      "Withdrawal policy decisions by result and reason.",
		}, []string{"result", "reason"}),
		PaymentsRecorded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_recorded_total",
			Help:      "Inbound payments credited, by method.",
		}, []string{"method"}),
		EventPublishFails: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_publish_failures_total",
			Help:      "Events that could not be delivered, by topic.",
		}, []string{"topic"}),
		Reconciliation: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconciliation_pairs_total",
			Help:      "Reconciliation pairs by status.",
		}, []string{"status"}),
	}
}

func (m *Metrics) LedgerOperation(outcome string, entries int) {
	if m == nil {
		return
	}

	m.LedgerOperations.WithLabelValues(outcome).Inc()
	m.LedgerEntries.Add(float64(entries))
}

func (m *Metrics) ObserveLockWait(seconds float64) {
	if m == nil {
		return
	}

	m.LockWait.Observe(seconds)
}

func (m *Metrics) WithdrawalDecision(result, reason string) {
	if m == nil {
		return
	}

	m.WithdrawalsByCode.WithLabelValues(result, reason).Inc()
}

func (m *Metrics) PaymentRecorded(method string) {
	if m == nil {
		return
	}

	m.PaymentsRecorded.WithLabelValues(method).Inc()
}

func (m *Metrics) PublishFailed(topic string) {
	if m == nil {
		return
	}

	m.EventPublishFails.WithLabelValues(topic).Inc()
}

func (m *Metrics) ReconciliationPair(status string) {
	if m == nil {
		return
	}

	m.Reconciliation.WithLabelValues(status).Inc()
}
