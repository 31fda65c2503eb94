package handler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bbsm-garage/internal/database/models"
	gerrors "bbsm-garage/internal/errors"
	"bbsm-garage/internal/metrics"
)

// MovementRef describes why the ledger moved stock; it ends up on the
// StockMovement audit row.
type MovementRef struct {
	ReferenceType int32
	ReferenceID   *int64
	Notes         *string
	CreatedBy     int64
}

// Ledger owns stock quantities. It only ever applies relative adjustments,
// so concurrent reconciliations compose.
type Ledger struct {
	metrics *metrics.Metrics
}

func NewLedger(m *metrics.Metrics) *Ledger {
	return &Ledger{metrics: m}
}

// Peek reads the current quantity without locking. The value may be stale
// by the time it is used; reconciliation validates against the rows returned
// by Lock instead.
func (l *Ledger) Peek(ctx context.Context, db *gorm.DB, stockID, tenantID int64) (int32, error) {
	var stock models.StockRecord
	err := db.WithContext(ctx).
		Select("id", "quantity").
		Where("id = ? AND tenant_id = ?", stockID, tenantID).
		First(&stock).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, gerrors.NotFound("stock record", stockID)
		}
		return 0, fmt.Errorf("peek stock %d: %w", stockID, err)
	}
	return stock.Quantity, nil
}

// Lock takes row locks on the given stock records in ascending id order and
// returns the rows found for the tenant. Ids that do not exist for this
// tenant are simply absent from the result. Must run inside a transaction;
// the locks are held until it ends.
func (l *Ledger) Lock(ctx context.Context, tx *gorm.DB, tenantID int64, stockIDs ...int64) (map[int64]models.StockRecord, error) {
	ids := uniqueSorted(stockIDs)
	found := make(map[int64]models.StockRecord, len(ids))
	if len(ids) == 0 {
		return found, nil
	}

	var rows []models.StockRecord
	if err := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("tenant_id = ? AND id IN ?", tenantID, ids).
		Order("id").
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("lock stock records: %w", err)
	}

	for _, row := range rows {
		found[row.ID] = row
	}
	return found, nil
}

// Adjust applies quantity += delta to one stock record of one tenant. The
// update is conditional on the result staying non-negative, so it is a
// compare-and-set even where the store ignores row locks. On failure the row
// is unchanged.
func (l *Ledger) Adjust(ctx context.Context, tx *gorm.DB, stockID, tenantID int64, delta int32, ref MovementRef) (*models.StockRecord, error) {
	now := time.Now()

	if delta != 0 {
		res := tx.WithContext(ctx).
			Model(&models.StockRecord{}).
			Where("id = ? AND tenant_id = ? AND quantity + ? >= 0", stockID, tenantID, delta).
			Updates(map[string]interface{}{
				"quantity":   gorm.Expr("quantity + ?", delta),
				"updated_at": now,
			})
		if res.Error != nil {
			return nil, fmt.Errorf("adjust stock %d: %w", stockID, res.Error)
		}

		if res.RowsAffected == 0 {
			return nil, l.explainRejected(ctx, tx, stockID, tenantID, delta)
		}
	}

	var stock models.StockRecord
	if err := tx.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", stockID, tenantID).
		First(&stock).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, gerrors.NotFound("stock record", stockID)
		}
		return nil, fmt.Errorf("reload stock %d: %w", stockID, err)
	}

	if delta == 0 {
		return &stock, nil
	}

	movement := models.StockMovement{
		TenantID:      tenantID,
		StockRecordID: stockID,
		Quantity:      delta,
		ReferenceType: ref.ReferenceType,
		ReferenceID:   ref.ReferenceID,
		Notes:         ref.Notes,
		CreatedBy:     ref.CreatedBy,
		CreatedAt:     now,
	}
	if err := tx.WithContext(ctx).Create(&movement).Error; err != nil {
		return nil, fmt.Errorf("record stock movement: %w", err)
	}

	l.metrics.ObserveAdjustment(delta)
	return &stock, nil
}

func (l *Ledger) explainRejected(ctx context.Context, tx *gorm.DB, stockID, tenantID int64, delta int32) error {
	var stock models.StockRecord
	err := tx.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", stockID, tenantID).
		First(&stock).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return gerrors.NotFound("stock record", stockID)
		}
		return fmt.Errorf("adjust stock %d: %w", stockID, err)
	}
	return gerrors.InsufficientStock(stock.ID, stock.Name, stock.Quantity, -delta)
}

func uniqueSorted(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
