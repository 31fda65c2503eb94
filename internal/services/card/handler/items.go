package handler

import (
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"bbsm-garage/internal/database/models"
	gerrors "bbsm-garage/internal/errors"
	"bbsm-garage/internal/services/reconcile"
)

const maxPartNameLength = 255

// maxAmount is the first value a decimal(18,2) column cannot hold.
var maxAmount = decimal.New(1, 16)

// WorkItemInput is one proposed line. SourcedFromStock may be omitted, in
// which case a present StockRecordID means the item is drawn from stock.
type WorkItemInput struct {
	UnitCount        int32           `json:"unit_count"`
	PartName         string          `json:"part_name"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	StockRecordID    *int64          `json:"stock_record_id"`
	SourcedFromStock *bool           `json:"sourced_from_stock"`
}

// buildWorkItems validates the inputs and turns them into rows for one
// record. Prices are kept to two decimals and every line total is
// recomputed here. Line totals, the record total and the units drawn from
// each stock record must fit their columns.
func buildWorkItems(tenantID, recordID int64, inputs []WorkItemInput) ([]models.WorkItem, error) {
	items := make([]models.WorkItem, 0, len(inputs))

	for i, in := range inputs {
		line := i + 1
		if in.UnitCount <= 0 {
			return nil, gerrors.InvariantViolation("work item %d: unit count must be positive, got %d", line, in.UnitCount)
		}
		if in.UnitPrice.IsNegative() {
			return nil, gerrors.InvariantViolation("work item %d: unit price must not be negative", line)
		}

		sourced := in.StockRecordID != nil
		if in.SourcedFromStock != nil {
			switch {
			case *in.SourcedFromStock && in.StockRecordID == nil:
				return nil, gerrors.InvariantViolation("work item %d: sourced from stock but no stock record id given", line)
			case !*in.SourcedFromStock && in.StockRecordID != nil:
				return nil, gerrors.InvariantViolation("work item %d: stock record id given on a manual item", line)
			}
			sourced = *in.SourcedFromStock
		}

		partName := strings.TrimSpace(in.PartName)
		if !sourced && partName == "" {
			return nil, gerrors.InvariantViolation("work item %d: part name is required for manual items", line)
		}
		if utf8.RuneCountInString(partName) > maxPartNameLength {
			return nil, gerrors.InvariantViolation("work item %d: part name is longer than %d characters", line, maxPartNameLength)
		}

		price := in.UnitPrice.Round(2)
		lineTotal := price.Mul(decimal.NewFromInt32(in.UnitCount))
		if lineTotal.GreaterThanOrEqual(maxAmount) {
			return nil, gerrors.InvariantViolation("work item %d: line total %s is too large", line, lineTotal.StringFixed(2))
		}
		item := models.WorkItem{
			TenantID:         tenantID,
			ServiceRecordID:  recordID,
			Position:         int32(line),
			UnitCount:        in.UnitCount,
			PartName:         partName,
			UnitPrice:        price,
			LineTotal:        lineTotal,
			SourcedFromStock: sourced,
		}
		if sourced {
			id := *in.StockRecordID
			item.StockRecordID = &id
		}
		items = append(items, item)
	}

	if total := totalOf(items); total.GreaterThanOrEqual(maxAmount) {
		return nil, gerrors.InvariantViolation("record total %s is too large", total.StringFixed(2))
	}
	if err := reconcile.CheckUsage(items); err != nil {
		return nil, err
	}
	return items, nil
}

func totalOf(items []models.WorkItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.LineTotal)
	}
	return total
}
