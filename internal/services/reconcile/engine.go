package reconcile

import (
	"context"
	"math"
	"sort"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"bbsm-garage/internal/database/models"
	gerrors "bbsm-garage/internal/errors"
	"bbsm-garage/internal/metrics"
	stockhandler "bbsm-garage/internal/services/stock/handler"
)

// Operations, used as the metrics label and in log lines.
const (
	OpCreate  = "create"
	OpReplace = "replace"
	OpDelete  = "delete"
)

// StockLedger is the part of the stock ledger the engine drives.
type StockLedger interface {
	Lock(ctx context.Context, tx *gorm.DB, tenantID int64, stockIDs ...int64) (map[int64]models.StockRecord, error)
	Adjust(ctx context.Context, tx *gorm.DB, stockID, tenantID int64, delta int32, ref stockhandler.MovementRef) (*models.StockRecord, error)
}

// Adjustment is one planned change to a stock quantity. Delta is what gets
// added to the stock record, so consumption is negative.
type Adjustment struct {
	StockRecordID int64 `json:"stock_record_id"`
	Delta         int32 `json:"delta"`
	Skipped       bool  `json:"skipped,omitempty"`
}

type Request struct {
	Operation string
	TenantID  int64
	RecordID  int64
	ActorID   int64
	Old       []models.WorkItem
	// New is resolved in place: items whose stock record vanished since they
	// were last saved are turned into manual items, and stock-sourced items
	// with no part name take the stock record's name.
	New []models.WorkItem
}

type Result struct {
	Adjustments []Adjustment
}

type Engine struct {
	ledger  StockLedger
	metrics *metrics.Metrics
}

func NewEngine(ledger StockLedger, m *metrics.Metrics) *Engine {
	return &Engine{ledger: ledger, metrics: m}
}

// Usage sums unit counts of stock-sourced items per stock record. Sums are
// int64 so many large lines on one record cannot wrap.
func Usage(items []models.WorkItem) map[int64]int64 {
	usage := make(map[int64]int64)
	for _, item := range items {
		if !item.SourcedFromStock || item.StockRecordID == nil {
			continue
		}
		usage[*item.StockRecordID] += int64(item.UnitCount)
	}
	return usage
}

// CheckUsage rejects a set whose total units for one stock record do not fit
// a stock quantity.
func CheckUsage(items []models.WorkItem) error {
	for stockID, units := range Usage(items) {
		if units > math.MaxInt32 {
			return gerrors.InvariantViolation("work items use %d units of stock record %d, more than %d", units, stockID, int64(math.MaxInt32))
		}
	}
	return nil
}

// Plan returns the non-zero stock adjustments that turn the usage of oldItems
// into the usage of newItems, ordered by stock record id. Both sets must pass
// CheckUsage.
func Plan(oldItems, newItems []models.WorkItem) []Adjustment {
	oldUsage := Usage(oldItems)
	newUsage := Usage(newItems)

	var plan []Adjustment
	for stockID, units := range newUsage {
		if delta := units - oldUsage[stockID]; delta != 0 {
			plan = append(plan, Adjustment{StockRecordID: stockID, Delta: int32(-delta)})
		}
	}
	for stockID, units := range oldUsage {
		if _, ok := newUsage[stockID]; ok {
			continue
		}
		if units != 0 {
			plan = append(plan, Adjustment{StockRecordID: stockID, Delta: int32(units)})
		}
	}

	sort.Slice(plan, func(i, j int) bool { return plan[i].StockRecordID < plan[j].StockRecordID })
	return plan
}

// Reconcile moves stock from the old work-item set to the new one inside tx.
// Every consumption is checked against the locked quantities before the first
// adjustment is written, so a rejected change leaves all stock untouched.
func (e *Engine) Reconcile(ctx context.Context, tx *gorm.DB, req Request) (*Result, error) {
	if err := CheckUsage(req.Old); err != nil {
		return nil, err
	}
	if err := CheckUsage(req.New); err != nil {
		return nil, err
	}

	stocks, err := e.ledger.Lock(ctx, tx, req.TenantID, referencedStock(req.Old, req.New)...)
	if err != nil {
		return nil, err
	}

	if err := e.resolve(req, stocks); err != nil {
		return nil, err
	}

	plan := Plan(req.Old, req.New)

	for _, adj := range plan {
		if adj.Delta >= 0 {
			continue
		}
		stock, ok := stocks[adj.StockRecordID]
		if !ok {
			return nil, gerrors.NotFound("stock record", adj.StockRecordID)
		}
		if requested := -adj.Delta; stock.Quantity < requested {
			return nil, gerrors.InsufficientStock(stock.ID, stock.Name, stock.Quantity, requested)
		}
	}

	recordID := req.RecordID
	ref := stockhandler.MovementRef{
		ReferenceType: models.ReferenceTypeServiceRecord,
		ReferenceID:   &recordID,
		CreatedBy:     req.ActorID,
	}

	result := &Result{Adjustments: make([]Adjustment, 0, len(plan))}
	for _, adj := range plan {
		if _, ok := stocks[adj.StockRecordID]; !ok {
			// Only restocks reach here: consumption of a missing record was
			// rejected above.
			log.Warn().
				Int64("tenant_id", req.TenantID).
				Int64("service_record_id", req.RecordID).
				Int64("stock_record_id", adj.StockRecordID).
				Int32("units", adj.Delta).
				Str("operation", req.Operation).
				Msg("stock record no longer exists, skipping restock")
			if e.metrics != nil {
				e.metrics.RestockSkippedTotal.Inc()
			}
			adj.Skipped = true
			result.Adjustments = append(result.Adjustments, adj)
			continue
		}

		if _, err := e.ledger.Adjust(ctx, tx, adj.StockRecordID, req.TenantID, adj.Delta, ref); err != nil {
			return nil, err
		}
		result.Adjustments = append(result.Adjustments, adj)
	}

	return result, nil
}

// resolve applies the weak-reference rule to the new items: a reference to a
// stock record that is gone is tolerated only if the old set already held
// it, in which case the item becomes manual.
func (e *Engine) resolve(req Request, stocks map[int64]models.StockRecord) error {
	oldUsage := Usage(req.Old)

	for i := range req.New {
		item := &req.New[i]
		if !item.SourcedFromStock || item.StockRecordID == nil {
			continue
		}

		stock, ok := stocks[*item.StockRecordID]
		if !ok {
			if _, held := oldUsage[*item.StockRecordID]; !held {
				return gerrors.NotFound("stock record", *item.StockRecordID)
			}
			log.Info().
				Int64("tenant_id", req.TenantID).
				Int64("service_record_id", req.RecordID).
				Int64("stock_record_id", *item.StockRecordID).
				Msg("work item references a deleted stock record, keeping it as a manual item")
			if item.PartName == "" {
				item.PartName = oldPartName(req.Old, *item.StockRecordID)
			}
			item.StockRecordID = nil
			item.SourcedFromStock = false
			continue
		}

		if item.PartName == "" {
			item.PartName = stock.Name
		}
	}
	return nil
}

func oldPartName(items []models.WorkItem, stockID int64) string {
	for _, item := range items {
		if item.StockRecordID != nil && *item.StockRecordID == stockID && item.PartName != "" {
			return item.PartName
		}
	}
	return ""
}

func referencedStock(sets ...[]models.WorkItem) []int64 {
	var ids []int64
	for _, items := range sets {
		for _, item := range items {
			if item.SourcedFromStock && item.StockRecordID != nil {
				ids = append(ids, *item.StockRecordID)
			}
		}
	}
	return ids
}
