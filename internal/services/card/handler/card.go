package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"bbsm-garage/internal/database"
	"bbsm-garage/internal/database/models"
	gerrors "bbsm-garage/internal/errors"
	"bbsm-garage/internal/metrics"
	"bbsm-garage/internal/services/reconcile"
	stockhandler "bbsm-garage/internal/services/stock/handler"
	"bbsm-garage/internal/utils"
)

// RecordDetails is the customer and vehicle metadata of a service record.
type RecordDetails struct {
	CustomerName string  `json:"customer_name"`
	Phone        *string `json:"phone"`
	PlateNumber  string  `json:"plate_number"`
	VehicleBrand *string `json:"vehicle_brand"`
	VehicleModel *string `json:"vehicle_model"`
	Mileage      *int64  `json:"mileage"`
	Complaint    *string `json:"complaint"`
}

type CreateRecordRequest struct {
	RecordDetails
	WorkItems []WorkItemInput `json:"work_items"`
}

// UpdateRecordRequest patches metadata only; nil fields are left alone.
type UpdateRecordRequest struct {
	CustomerName *string `json:"customer_name"`
	Phone        *string `json:"phone"`
	PlateNumber  *string `json:"plate_number"`
	VehicleBrand *string `json:"vehicle_brand"`
	VehicleModel *string `json:"vehicle_model"`
	Mileage      *int64  `json:"mileage"`
	Complaint    *string `json:"complaint"`
}

type ListRecordsRequest struct {
	// Search matches customer name or plate number.
	Search string `form:"search"`
	utils.Pagination
}

type ListRecordsResponse struct {
	Records    []models.ServiceRecord `json:"records"`
	Pagination utils.PageInfo         `json:"pagination"`
}

// CardHandler is the service record store for cards and quotes. All stock
// side effects go through the reconciliation engine inside the same
// transaction that persists the work items.
type CardHandler struct {
	db          *gorm.DB
	engine      *reconcile.Engine
	stockCache  *stockhandler.StockCache
	redis       *redis.Client
	metrics     *metrics.Metrics
	maxAttempts int
}

func NewCardHandler(db *gorm.DB, engine *reconcile.Engine, stockCache *stockhandler.StockCache, redisClient *redis.Client, m *metrics.Metrics, maxAttempts int) *CardHandler {
	return &CardHandler{
		db:          db,
		engine:      engine,
		stockCache:  stockCache,
		redis:       redisClient,
		metrics:     m,
		maxAttempts: maxAttempts,
	}
}

func validKind(kind string) bool {
	return kind == models.KindCard || kind == models.KindQuote
}

func (s *CardHandler) CreateRecord(ctx context.Context, tenantID, actorID int64, kind string, req CreateRecordRequest) (*models.ServiceRecord, error) {
	if !validKind(kind) {
		return nil, gerrors.InvariantViolation("unknown service record kind %q", kind)
	}
	customer := strings.TrimSpace(req.CustomerName)
	if customer == "" {
		return nil, gerrors.InvariantViolation("customer name is required")
	}
	if _, err := buildWorkItems(tenantID, 0, req.WorkItems); err != nil {
		return nil, err
	}

	start := time.Now()
	var (
		record models.ServiceRecord
		result *reconcile.Result
	)
	err := database.Transact(ctx, s.db, s.maxAttempts, func(tx *gorm.DB) error {
		record = models.ServiceRecord{
			TenantID:     tenantID,
			Kind:         kind,
			CustomerName: customer,
			Phone:        req.Phone,
			PlateNumber:  strings.TrimSpace(req.PlateNumber),
			VehicleBrand: req.VehicleBrand,
			VehicleModel: req.VehicleModel,
			Mileage:      req.Mileage,
			Complaint:    req.Complaint,
		}
		if err := tx.Omit(clause.Associations).Create(&record).Error; err != nil {
			return fmt.Errorf("create service record: %w", err)
		}

		items, err := buildWorkItems(tenantID, record.ID, req.WorkItems)
		if err != nil {
			return err
		}

		result, err = s.engine.Reconcile(ctx, tx, reconcile.Request{
			Operation: reconcile.OpCreate,
			TenantID:  tenantID,
			RecordID:  record.ID,
			ActorID:   actorID,
			New:       items,
		})
		if err != nil {
			return err
		}

		return s.persistItems(tx, &record, items)
	})
	s.observe(reconcile.OpCreate, start, err)
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, EventRecordCreated, &record, result)
	return s.GetRecord(ctx, tenantID, record.ID, kind)
}

// ReplaceWorkItems swaps the record's whole work-item set for items.
func (s *CardHandler) ReplaceWorkItems(ctx context.Context, tenantID, recordID, actorID int64, kind string, inputs []WorkItemInput) (*models.ServiceRecord, error) {
	if _, err := buildWorkItems(tenantID, recordID, inputs); err != nil {
		return nil, err
	}

	start := time.Now()
	var (
		record *models.ServiceRecord
		result *reconcile.Result
	)
	err := database.Transact(ctx, s.db, s.maxAttempts, func(tx *gorm.DB) error {
		var err error
		record, err = s.lockRecord(ctx, tx, tenantID, recordID, kind)
		if err != nil {
			return err
		}

		old, err := s.loadItems(ctx, tx, tenantID, recordID)
		if err != nil {
			return err
		}

		items, err := buildWorkItems(tenantID, recordID, inputs)
		if err != nil {
			return err
		}

		result, err = s.engine.Reconcile(ctx, tx, reconcile.Request{
			Operation: reconcile.OpReplace,
			TenantID:  tenantID,
			RecordID:  recordID,
			ActorID:   actorID,
			Old:       old,
			New:       items,
		})
		if err != nil {
			return err
		}

		if err := s.deleteItems(ctx, tx, tenantID, recordID); err != nil {
			return err
		}
		return s.persistItems(tx, record, items)
	})
	s.observe(reconcile.OpReplace, start, err)
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, EventWorkItemsUpdated, record, result)
	return s.GetRecord(ctx, tenantID, recordID, kind)
}

// DeleteRecord removes the record and its work items, restocking everything
// they consumed. Restocks of stock records that no longer exist are skipped.
func (s *CardHandler) DeleteRecord(ctx context.Context, tenantID, recordID, actorID int64, kind string) error {
	start := time.Now()
	var (
		record *models.ServiceRecord
		result *reconcile.Result
	)
	err := database.Transact(ctx, s.db, s.maxAttempts, func(tx *gorm.DB) error {
		var err error
		record, err = s.lockRecord(ctx, tx, tenantID, recordID, kind)
		if err != nil {
			return err
		}

		old, err := s.loadItems(ctx, tx, tenantID, recordID)
		if err != nil {
			return err
		}

		result, err = s.engine.Reconcile(ctx, tx, reconcile.Request{
			Operation: reconcile.OpDelete,
			TenantID:  tenantID,
			RecordID:  recordID,
			ActorID:   actorID,
			Old:       old,
		})
		if err != nil {
			return err
		}

		if err := s.deleteItems(ctx, tx, tenantID, recordID); err != nil {
			return err
		}
		if err := tx.Where("id = ? AND tenant_id = ?", recordID, tenantID).Delete(&models.ServiceRecord{}).Error; err != nil {
			return fmt.Errorf("delete service record: %w", err)
		}
		return nil
	})
	s.observe(reconcile.OpDelete, start, err)
	if err != nil {
		return err
	}

	s.afterCommit(ctx, EventRecordDeleted, record, result)
	return nil
}

// GetRecord loads a record with its work items in order. An empty kind
// matches both cards and quotes.
func (s *CardHandler) GetRecord(ctx context.Context, tenantID, recordID int64, kind string) (*models.ServiceRecord, error) {
	query := s.db.WithContext(ctx).
		Preload("WorkItems", func(db *gorm.DB) *gorm.DB {
			return db.Order("position")
		}).
		Where("id = ? AND tenant_id = ?", recordID, tenantID)
	if kind != "" {
		query = query.Where("kind = ?", kind)
	}

	var record models.ServiceRecord
	if err := query.First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, gerrors.NotFound("service record", recordID)
		}
		return nil, fmt.Errorf("get service record: %w", err)
	}
	return &record, nil
}

func (s *CardHandler) ListRecords(ctx context.Context, tenantID int64, kind string, req ListRecordsRequest) (*ListRecordsResponse, error) {
	query := s.db.WithContext(ctx).Model(&models.ServiceRecord{}).Where("tenant_id = ?", tenantID)
	if kind != "" {
		query = query.Where("kind = ?", kind)
	}
	if req.Search != "" {
		term := "%" + strings.ToLower(req.Search) + "%"
		query = query.Where("LOWER(customer_name) LIKE ? OR LOWER(plate_number) LIKE ?", term, term)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("count service records: %w", err)
	}

	offset, limit, page := req.Window(utils.DefaultPageSize)

	var records []models.ServiceRecord
	if err := query.
		Preload("WorkItems", func(db *gorm.DB) *gorm.DB {
			return db.Order("position")
		}).
		Order("created_at DESC, id DESC").
		Offset(offset).Limit(limit).
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list service records: %w", err)
	}

	return &ListRecordsResponse{
		Records:    records,
		Pagination: utils.NextPage(page, limit, total),
	}, nil
}

// UpdateRecordDetails changes customer and vehicle metadata. Work items and
// stock are not touched.
func (s *CardHandler) UpdateRecordDetails(ctx context.Context, tenantID, recordID int64, kind string, req UpdateRecordRequest) (*models.ServiceRecord, error) {
	updates := map[string]interface{}{}
	if req.CustomerName != nil {
		name := strings.TrimSpace(*req.CustomerName)
		if name == "" {
			return nil, gerrors.InvariantViolation("customer name must not be empty")
		}
		updates["customer_name"] = name
	}
	if req.Phone != nil {
		updates["phone"] = *req.Phone
	}
	if req.PlateNumber != nil {
		updates["plate_number"] = strings.TrimSpace(*req.PlateNumber)
	}
	if req.VehicleBrand != nil {
		updates["vehicle_brand"] = *req.VehicleBrand
	}
	if req.VehicleModel != nil {
		updates["vehicle_model"] = *req.VehicleModel
	}
	if req.Mileage != nil {
		if *req.Mileage < 0 {
			return nil, gerrors.InvariantViolation("mileage must not be negative")
		}
		updates["mileage"] = *req.Mileage
	}
	if req.Complaint != nil {
		updates["complaint"] = *req.Complaint
	}

	if len(updates) > 0 {
		updates["updated_at"] = time.Now()
		res := s.db.WithContext(ctx).
			Model(&models.ServiceRecord{}).
			Where("id = ? AND tenant_id = ? AND kind = ?", recordID, tenantID, kind).
			Updates(updates)
		if res.Error != nil {
			return nil, fmt.Errorf("update service record: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil, gerrors.NotFound("service record", recordID)
		}
	}

	return s.GetRecord(ctx, tenantID, recordID, kind)
}

// ConvertQuoteToCard turns an accepted quote into a card. Its work items,
// and the stock they hold, carry over unchanged.
func (s *CardHandler) ConvertQuoteToCard(ctx context.Context, tenantID, recordID int64) (*models.ServiceRecord, error) {
	res := s.db.WithContext(ctx).
		Model(&models.ServiceRecord{}).
		Where("id = ? AND tenant_id = ? AND kind = ?", recordID, tenantID, models.KindQuote).
		Updates(map[string]interface{}{
			"kind":       models.KindCard,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return nil, fmt.Errorf("convert quote: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, gerrors.NotFound("quote", recordID)
	}

	record, err := s.GetRecord(ctx, tenantID, recordID, models.KindCard)
	if err != nil {
		return nil, err
	}
	s.afterCommit(ctx, EventQuoteConverted, record, nil)
	return record, nil
}

func (s *CardHandler) lockRecord(ctx context.Context, tx *gorm.DB, tenantID, recordID int64, kind string) (*models.ServiceRecord, error) {
	query := tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ? AND tenant_id = ?", recordID, tenantID)
	if kind != "" {
		query = query.Where("kind = ?", kind)
	}

	var record models.ServiceRecord
	if err := query.First(&record).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, gerrors.NotFound("service record", recordID)
		}
		return nil, fmt.Errorf("lock service record: %w", err)
	}
	return &record, nil
}

func (s *CardHandler) loadItems(ctx context.Context, tx *gorm.DB, tenantID, recordID int64) ([]models.WorkItem, error) {
	var items []models.WorkItem
	if err := tx.WithContext(ctx).
		Where("service_record_id = ? AND tenant_id = ?", recordID, tenantID).
		Order("position").
		Find(&items).Error; err != nil {
		return nil, fmt.Errorf("load work items: %w", err)
	}
	return items, nil
}

func (s *CardHandler) deleteItems(ctx context.Context, tx *gorm.DB, tenantID, recordID int64) error {
	if err := tx.WithContext(ctx).
		Where("service_record_id = ? AND tenant_id = ?", recordID, tenantID).
		Delete(&models.WorkItem{}).Error; err != nil {
		return fmt.Errorf("delete work items: %w", err)
	}
	return nil
}

// persistItems writes the resolved items and the recomputed total.
func (s *CardHandler) persistItems(tx *gorm.DB, record *models.ServiceRecord, items []models.WorkItem) error {
	if len(items) > 0 {
		if err := tx.Create(&items).Error; err != nil {
			return fmt.Errorf("create work items: %w", err)
		}
	}

	record.TotalAmount = totalOf(items)
	if err := tx.Model(&models.ServiceRecord{}).
		Where("id = ? AND tenant_id = ?", record.ID, record.TenantID).
		Updates(map[string]interface{}{
			"total_amount": record.TotalAmount,
			"updated_at":   time.Now(),
		}).Error; err != nil {
		return fmt.Errorf("update service record total: %w", err)
	}
	return nil
}

func (s *CardHandler) afterCommit(ctx context.Context, eventType string, record *models.ServiceRecord, result *reconcile.Result) {
	var adjustments []reconcile.Adjustment
	if result != nil {
		adjustments = result.Adjustments
	}
	if len(adjustments) > 0 {
		s.stockCache.Invalidate(ctx, record.TenantID)
	}

	log.Info().
		Str("event", eventType).
		Int64("tenant_id", record.TenantID).
		Int64("service_record_id", record.ID).
		Str("kind", record.Kind).
		Int("adjustments", len(adjustments)).
		Msg("service record changed")

	if err := s.publishRecordEvent(ctx, RecordEvent{
		EventType:   eventType,
		TenantID:    record.TenantID,
		RecordID:    record.ID,
		Kind:        record.Kind,
		TotalAmount: record.TotalAmount.StringFixed(2),
		Adjustments: adjustments,
		Timestamp:   time.Now(),
	}); err != nil {
		log.Warn().Err(err).Str("event", eventType).Msg("failed to publish record event")
	}
}

func (s *CardHandler) observe(operation string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}

	outcome := metrics.OutcomeApplied
	if err != nil {
		switch gerrors.CodeOf(err) {
		case gerrors.ErrCodeInternal:
			outcome = metrics.OutcomeError
		default:
			outcome = metrics.OutcomeRejected
		}
	}

	s.metrics.ReconciliationsTotal.WithLabelValues(operation, outcome).Inc()
	s.metrics.ReconciliationDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
