package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Reconciliation outcomes.
const (
	OutcomeApplied  = "applied"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// Metrics holds the Prometheus collectors for the ledger and the
// reconciliation engine.
type Metrics struct {
	ReconciliationsTotal   *prometheus.CounterVec
	ReconciliationDuration *prometheus.HistogramVec
	StockAdjustmentsTotal  *prometheus.CounterVec
	StockUnitsMovedTotal   *prometheus.CounterVec
	RestockSkippedTotal    prometheus.Counter
	CacheHitsTotal         prometheus.Counter
	CacheMissesTotal       prometheus.Counter
}

// NewMetrics registers all collectors on reg. Tests pass a fresh
// prometheus.NewRegistry() so repeated construction does not collide.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ReconciliationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "garage",
			Subsystem: "reconcile",
			Name:      "runs_total",
			Help:      "Work-item set reconciliations by operation and outcome",
		}, []string{"operation", "outcome"}),
		ReconciliationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "garage",
			Subsystem: "reconcile",
			Name:      "duration_seconds",
			Help:      "Wall time of a reconciliation including the enclosing transaction",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		StockAdjustmentsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "garage",
			Subsystem: "ledger",
			Name:      "adjustments_total",
			Help:      "Ledger adjustments by direction",
		}, []string{"direction"}),
		StockUnitsMovedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "garage",
			Subsystem: "ledger",
			Name:      "units_moved_total",
			Help:      "Absolute stock units moved by direction",
		}, []string{"direction"}),
		RestockSkippedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "garage",
			Subsystem: "reconcile",
			Name:      "restock_skipped_total",
			Help:      "Restocks skipped because the stock record no longer exists",
		}),
		CacheHitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "garage",
			Subsystem: "stock_cache",
			Name:      "hits_total",
			Help:      "Stock list cache hits",
		}),
		CacheMissesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "garage",
			Subsystem: "stock_cache",
			Name:      "misses_total",
			Help:      "Stock list cache misses",
		}),
	}
}

// ObserveAdjustment records one applied ledger delta.
func (m *Metrics) ObserveAdjustment(delta int32) {
	if m == nil || delta == 0 {
		return
	}
	direction := "restock"
	units := delta
	if delta < 0 {
		direction = "consume"
		units = -delta
	}
	m.StockAdjustmentsTotal.WithLabelValues(direction).Inc()
	m.StockUnitsMovedTotal.WithLabelValues(direction).Add(float64(units))
}
