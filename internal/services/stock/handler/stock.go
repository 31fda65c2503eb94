package handler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"bbsm-garage/internal/database"
	"bbsm-garage/internal/database/models"
	gerrors "bbsm-garage/internal/errors"
	"bbsm-garage/internal/utils"
)

type CreateStockRequest struct {
	Name     string  `json:"name"`
	Quantity int32   `json:"quantity"`
	Info     *string `json:"info"`
}

type UpdateStockRequest struct {
	Name *string `json:"name"`
	Info *string `json:"info"`
}

// AdjustStockRequest is a manual restock (positive) or write-off (negative).
type AdjustStockRequest struct {
	Delta int32   `json:"delta"`
	Notes *string `json:"notes"`
}

type ListStockRequest struct {
	Search string `form:"search"`
	// Below keeps only records with quantity strictly under this value.
	Below *int32 `form:"below"`
	utils.Pagination
}

type ListStockResponse struct {
	Stocks     []models.StockRecord `json:"stocks"`
	Pagination utils.PageInfo       `json:"pagination"`
}

type ListMovementsResponse struct {
	Movements  []models.StockMovement `json:"movements"`
	Pagination utils.PageInfo         `json:"pagination"`
}

// StockHandler is inventory management for one tenant at a time. Every
// quantity change goes through the Ledger.
type StockHandler struct {
	db          *gorm.DB
	ledger      *Ledger
	cache       *StockCache
	maxAttempts int
}

func NewStockHandler(db *gorm.DB, ledger *Ledger, cache *StockCache, maxAttempts int) *StockHandler {
	return &StockHandler{
		db:          db,
		ledger:      ledger,
		cache:       cache,
		maxAttempts: maxAttempts,
	}
}

// CreateStock inserts the record at zero and books the opening quantity as a
// manual movement.
func (s *StockHandler) CreateStock(ctx context.Context, tenantID, actorID int64, req CreateStockRequest) (*models.StockRecord, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, gerrors.InvariantViolation("stock name is required")
	}
	if req.Quantity < 0 {
		return nil, gerrors.InvariantViolation("opening quantity must not be negative, got %d", req.Quantity)
	}

	var created *models.StockRecord
	err := database.Transact(ctx, s.db, s.maxAttempts, func(tx *gorm.DB) error {
		stock := models.StockRecord{
			TenantID: tenantID,
			Name:     name,
			Info:     req.Info,
		}
		if err := tx.Create(&stock).Error; err != nil {
			return fmt.Errorf("create stock record: %w", err)
		}
		created = &stock

		if req.Quantity == 0 {
			return nil
		}

		notes := "opening balance"
		updated, err := s.ledger.Adjust(ctx, tx, stock.ID, tenantID, req.Quantity, MovementRef{
			ReferenceType: models.ReferenceTypeManual,
			Notes:         &notes,
			CreatedBy:     actorID,
		})
		if err != nil {
			return err
		}
		created = updated
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(ctx, tenantID)
	log.Info().Int64("tenant_id", tenantID).Int64("stock_record_id", created.ID).Msg("stock record created")
	return created, nil
}

func (s *StockHandler) GetStock(ctx context.Context, tenantID, stockID int64) (*models.StockRecord, error) {
	var stock models.StockRecord
	if err := s.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", stockID, tenantID).
		First(&stock).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, gerrors.NotFound("stock record", stockID)
		}
		return nil, fmt.Errorf("get stock record: %w", err)
	}
	return &stock, nil
}

// GetQuantity is the ledger's unlocked read of one record's quantity.
func (s *StockHandler) GetQuantity(ctx context.Context, tenantID, stockID int64) (int32, error) {
	return s.ledger.Peek(ctx, s.db, stockID, tenantID)
}

// ListStock serves unfiltered listings from the tenant's cached stock list
// and goes to the database when a search or threshold is given.
func (s *StockHandler) ListStock(ctx context.Context, tenantID int64, req ListStockRequest) (*ListStockResponse, error) {
	offset, limit, page := req.Window(utils.DefaultPageSize)

	if req.Search == "" && req.Below == nil {
		all, err := s.cache.List(ctx, tenantID, func(ctx context.Context) ([]models.StockRecord, error) {
			return s.loadAll(ctx, tenantID)
		})
		if err != nil {
			return nil, err
		}

		total := int64(len(all))
		end := offset + limit
		if offset > len(all) {
			offset = len(all)
		}
		if end > len(all) {
			end = len(all)
		}
		return &ListStockResponse{
			Stocks:     all[offset:end],
			Pagination: utils.NextPage(page, limit, total),
		}, nil
	}

	query := s.db.WithContext(ctx).Model(&models.StockRecord{}).Where("tenant_id = ?", tenantID)
	if req.Search != "" {
		query = query.Where("LOWER(name) LIKE ?", "%"+strings.ToLower(req.Search)+"%")
	}
	if req.Below != nil {
		query = query.Where("quantity < ?", *req.Below)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("count stock records: %w", err)
	}

	var stocks []models.StockRecord
	if err := query.Order("name, id").Offset(offset).Limit(limit).Find(&stocks).Error; err != nil {
		return nil, fmt.Errorf("list stock records: %w", err)
	}

	return &ListStockResponse{
		Stocks:     stocks,
		Pagination: utils.NextPage(page, limit, total),
	}, nil
}

func (s *StockHandler) loadAll(ctx context.Context, tenantID int64) ([]models.StockRecord, error) {
	var stocks []models.StockRecord
	if err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Find(&stocks).Error; err != nil {
		return nil, fmt.Errorf("load stock records: %w", err)
	}
	sort.SliceStable(stocks, func(i, j int) bool {
		if stocks[i].Name == stocks[j].Name {
			return stocks[i].ID < stocks[j].ID
		}
		return stocks[i].Name < stocks[j].Name
	})
	return stocks, nil
}

// UpdateStockDetails changes name and info. Quantity is not editable here.
func (s *StockHandler) UpdateStockDetails(ctx context.Context, tenantID, stockID int64, req UpdateStockRequest) (*models.StockRecord, error) {
	updates := map[string]interface{}{}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, gerrors.InvariantViolation("stock name must not be empty")
		}
		updates["name"] = name
	}
	if req.Info != nil {
		updates["info"] = *req.Info
	}

	if len(updates) > 0 {
		res := s.db.WithContext(ctx).
			Model(&models.StockRecord{}).
			Where("id = ? AND tenant_id = ?", stockID, tenantID).
			Updates(updates)
		if res.Error != nil {
			return nil, fmt.Errorf("update stock record: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil, gerrors.NotFound("stock record", stockID)
		}
		s.cache.Invalidate(ctx, tenantID)
	}

	return s.GetStock(ctx, tenantID, stockID)
}

// DeleteStock removes the record. Work items that point at it keep their
// reference until their next edit.
func (s *StockHandler) DeleteStock(ctx context.Context, tenantID, stockID int64) error {
	res := s.db.WithContext(ctx).
		Where("id = ? AND tenant_id = ?", stockID, tenantID).
		Delete(&models.StockRecord{})
	if res.Error != nil {
		return fmt.Errorf("delete stock record: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return gerrors.NotFound("stock record", stockID)
	}

	s.cache.Invalidate(ctx, tenantID)
	log.Info().Int64("tenant_id", tenantID).Int64("stock_record_id", stockID).Msg("stock record deleted")
	return nil
}

func (s *StockHandler) AdjustStock(ctx context.Context, tenantID, stockID, actorID int64, req AdjustStockRequest) (*models.StockRecord, error) {
	if req.Delta == 0 {
		return nil, gerrors.InvariantViolation("delta must not be zero")
	}

	var stock *models.StockRecord
	err := database.Transact(ctx, s.db, s.maxAttempts, func(tx *gorm.DB) error {
		locked, err := s.ledger.Lock(ctx, tx, tenantID, stockID)
		if err != nil {
			return err
		}
		if _, ok := locked[stockID]; !ok {
			return gerrors.NotFound("stock record", stockID)
		}

		stock, err = s.ledger.Adjust(ctx, tx, stockID, tenantID, req.Delta, MovementRef{
			ReferenceType: models.ReferenceTypeManual,
			Notes:         req.Notes,
			CreatedBy:     actorID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(ctx, tenantID)
	return stock, nil
}

func (s *StockHandler) ListMovements(ctx context.Context, tenantID, stockID int64, p utils.Pagination) (*ListMovementsResponse, error) {
	if _, err := s.GetStock(ctx, tenantID, stockID); err != nil {
		return nil, err
	}

	query := s.db.WithContext(ctx).
		Model(&models.StockMovement{}).
		Where("tenant_id = ? AND stock_record_id = ?", tenantID, stockID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("count stock movements: %w", err)
	}

	offset, limit, page := p.Window(50)

	var movements []models.StockMovement
	if err := query.Order("created_at DESC, id DESC").Offset(offset).Limit(limit).Find(&movements).Error; err != nil {
		return nil, fmt.Errorf("list stock movements: %w", err)
	}

	return &ListMovementsResponse{
		Movements:  movements,
		Pagination: utils.NextPage(page, limit, total),
	}, nil
}
