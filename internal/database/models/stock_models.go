package models

import "time"

type StockRecord struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	TenantID  int64     `gorm:"not null;index" json:"tenant_id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	Quantity  int32     `gorm:"not null;default:0;check:chk_stock_records_quantity,quantity >= 0" json:"quantity"`
	Info      *string   `gorm:"type:text" json:"info,omitempty"`
	AddedAt   time.Time `gorm:"autoCreateTime" json:"added_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Movement reference types.
const (
	ReferenceTypeManual        int32 = 1
	ReferenceTypeServiceRecord int32 = 2
)

// StockMovement is the audit trail of every ledger adjustment. Quantity is
// signed: negative for consumption, positive for restock.
type StockMovement struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	TenantID      int64     `gorm:"not null;index" json:"tenant_id"`
	StockRecordID int64     `gorm:"not null;index" json:"stock_record_id"`
	Quantity      int32     `gorm:"not null" json:"quantity"`
	ReferenceType int32     `gorm:"not null" json:"reference_type"`
	ReferenceID   *int64    `json:"reference_id,omitempty"`
	Notes         *string   `gorm:"size:255" json:"notes,omitempty"`
	CreatedBy     int64     `json:"created_by"`
	CreatedAt     time.Time `json:"created_at"`
}
