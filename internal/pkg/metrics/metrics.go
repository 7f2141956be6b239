// internal/pkg/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 扣减结果的 label 取值。
const (
	ResultDeducted     = "deducted"
	ResultInsufficient = "insufficient_stock"
	ResultLimited      = "purchase_limit"
	ResultBusy         = "busy"
	ResultError        = "error"
)

var (
	DeductionAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flashmart_deduction_attempts_total",
		Help: "Outcome of atomic stock deduction attempts.",
	}, []string{"result"})

	DeductionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "flashmart_deduction_duration_seconds",
		Help:    "Latency of the purchase hot path, lock acquisition included.",
		Buckets: prometheus.DefBuckets,
	})

	OrdersMaterialized = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flashmart_orders_materialized_total",
		Help: "Orders persisted from deduction events.",
	})

	DuplicateEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flashmart_duplicate_events_total",
		Help: "Deduction events acknowledged as duplicates.",
	})

	CompensatedDeductions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flashmart_compensated_deductions_total",
		Help: "Deductions restocked after dead-lettered materialization.",
	})

	SweptOrders = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flashmart_swept_orders_total",
		Help: "Pending orders expired by the sweep.",
	})

	RestockFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flashmart_restock_failures_total",
		Help: "Cache restock attempts that exhausted their retries.",
	})

	LowStockAlerts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flashmart_low_stock_alerts_total",
		Help: "Low stock alerts emitted after debounce.",
	})
)
