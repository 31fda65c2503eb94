package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Service record kinds.
const (
	KindCard  = "card"
	KindQuote = "quote"
)

// ServiceRecord is a customer/vehicle job ("card") or a draft quote. The
// (id, tenant_id) unique index backs the composite foreign key from work_items.
type ServiceRecord struct {
	ID           int64           `gorm:"primaryKey;autoIncrement;uniqueIndex:idx_service_records_id_tenant,priority:1" json:"id"`
	TenantID     int64           `gorm:"not null;index;uniqueIndex:idx_service_records_id_tenant,priority:2" json:"tenant_id"`
	Kind         string          `gorm:"size:16;not null;index" json:"kind"`
	CustomerName string          `gorm:"size:255;not null" json:"customer_name"`
	Phone        *string         `gorm:"size:50" json:"phone,omitempty"`
	PlateNumber  string          `gorm:"size:32;index" json:"plate_number"`
	VehicleBrand *string         `gorm:"size:100" json:"vehicle_brand,omitempty"`
	VehicleModel *string         `gorm:"size:100" json:"vehicle_model,omitempty"`
	Mileage      *int64          `json:"mileage,omitempty"`
	Complaint    *string         `gorm:"type:text" json:"complaint,omitempty"`
	TotalAmount  decimal.Decimal `gorm:"type:decimal(18,2);not null;default:0" json:"total_amount"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`

	WorkItems []WorkItem `gorm:"foreignKey:ServiceRecordID;constraint:OnDelete:CASCADE" json:"work_items"`
}

type WorkItem struct {
	ID               int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	TenantID         int64           `gorm:"not null;index" json:"tenant_id"`
	ServiceRecordID  int64           `gorm:"not null;index" json:"service_record_id"`
	Position         int32           `gorm:"not null" json:"position"`
	UnitCount        int32           `gorm:"not null;check:chk_work_items_unit_count,unit_count > 0" json:"unit_count"`
	PartName         string          `gorm:"size:255;not null" json:"part_name"`
	UnitPrice        decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"unit_price"`
	LineTotal        decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"line_total"`
	StockRecordID    *int64          `gorm:"index" json:"stock_record_id,omitempty"`
	SourcedFromStock bool            `gorm:"not null;default:false" json:"sourced_from_stock"`
	CreatedAt        time.Time       `json:"created_at"`
}
