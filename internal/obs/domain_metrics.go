package obs

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	domainOnce sync.Once

	// SalesCommittedTotal counts commit outcomes by payment method.
	SalesCommittedTotal *prometheus.CounterVec
	// CommitDuration records commit latency in milliseconds.
	CommitDuration *prometheus.HistogramVec
	// InventoryRejectionsTotal counts reservations refused for lack of stock.
	InventoryRejectionsTotal prometheus.Counter
	// IdempotentReplaysTotal counts commits answered from an earlier result.
	IdempotentReplaysTotal prometheus.Counter
	// DebtPaymentsTotal counts payment attempts against debts by outcome.
	DebtPaymentsTotal *prometheus.CounterVec
	// DebtStatusTransitionsTotal counts debt status changes by target status.
	DebtStatusTransitionsTotal *prometheus.CounterVec
	// ReceiptsPrintedTotal counts receipt print attempts by outcome.
	ReceiptsPrintedTotal *prometheus.CounterVec
)

// MustRegisterDomainMetrics initialises and registers domain-specific Prometheus collectors.
func MustRegisterDomainMetrics(namespace string, reg prometheus.Registerer) {
	domainOnce.Do(func() {
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
		SalesCommittedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sales_committed_total",
			Help:      "Count of sale commit outcomes.",
		}, []string{"method", "result"})
		CommitDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "commit_duration_ms",
			Help:      "Latency of the sale commit pipeline in milliseconds.",
			Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		}, []string{"result"})
		InventoryRejectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inventory_rejections_total",
			Help:      "Number of stock reservations rejected for insufficient stock.",
		})
		IdempotentReplaysTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "idempotent_replays_total",
			Help:      "Number of commits resolved to an already persisted sale.",
		})
		DebtPaymentsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "debt_payments_total",
			Help:      "Count of debt payment outcomes.",
		}, []string{"result"})
		DebtStatusTransitionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "debt_status_transitions_total",
			Help:      "Count of debt status transitions by target status.",
		}, []string{"to"})
		ReceiptsPrintedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receipts_printed_total",
			Help:      "Count of receipt print outcomes.",
		}, []string{"result"})

		mustRegisterCollector(reg, SalesCommittedTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				SalesCommittedTotal = v
			}
		})
		mustRegisterCollector(reg, CommitDuration, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.HistogramVec); ok {
				CommitDuration = v
			}
		})
		mustRegisterCollector(reg, InventoryRejectionsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				InventoryRejectionsTotal = v
			}
		})
		mustRegisterCollector(reg, IdempotentReplaysTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(prometheus.Counter); ok {
				IdempotentReplaysTotal = v
			}
		})
		mustRegisterCollector(reg, DebtPaymentsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				DebtPaymentsTotal = v
			}
		})
		mustRegisterCollector(reg, DebtStatusTransitionsTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				DebtStatusTransitionsTotal = v
			}
		})
		mustRegisterCollector(reg, ReceiptsPrintedTotal, func(existing prometheus.Collector) {
			if v, ok := existing.(*prometheus.CounterVec); ok {
				ReceiptsPrintedTotal = v
			}
		})
	})
}

// CountSale records a commit outcome and its latency.
func CountSale(method, result string, millis float64) {
	if SalesCommittedTotal != nil {
		SalesCommittedTotal.WithLabelValues(method, result).Inc()
	}
	if CommitDuration != nil {
		CommitDuration.WithLabelValues(result).Observe(millis)
	}
}

// CountInventoryRejection records a refused reservation.
func CountInventoryRejection() {
	if InventoryRejectionsTotal != nil {
		InventoryRejectionsTotal.Inc()
	}
}

// CountReplay records a commit served from an earlier result.
func CountReplay() {
	if IdempotentReplaysTotal != nil {
		IdempotentReplaysTotal.Inc()
	}
}

// CountDebtPayment records a payment attempt outcome.
func CountDebtPayment(result string) {
	if DebtPaymentsTotal != nil {
		DebtPaymentsTotal.WithLabelValues(result).Inc()
	}
}

// CountDebtTransition records a debt moving into status.
func CountDebtTransition(status string) {
	if DebtStatusTransitionsTotal != nil {
		DebtStatusTransitionsTotal.WithLabelValues(status).Inc()
	}
}

// CountReceipt records a receipt print outcome.
func CountReceipt(result string) {
	if ReceiptsPrintedTotal != nil {
		ReceiptsPrintedTotal.WithLabelValues(result).Inc()
	}
}

func mustRegisterCollector(reg prometheus.Registerer, collector prometheus.Collector, reuse func(prometheus.Collector)) {
	if err := reg.Register(collector); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if reuse != nil {
				reuse(are.ExistingCollector)
			}
			return
		}
		panic(fmt.Errorf("register domain metric: %w", err))
	}
}
