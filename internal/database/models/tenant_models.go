package models

import "time"

// Tenant is one registered company. Every other row carries its id.
type Tenant struct {
	ID          int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	CompanyName string     `gorm:"size:255;uniqueIndex;not null" json:"company_name"`
	IsActive    bool       `gorm:"default:true" json:"is_active"`
	CreatedAt   *time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   *time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type User struct {
	ID        int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	TenantID  int64      `gorm:"not null;index" json:"tenant_id"`
	Username  string     `gorm:"uniqueIndex;not null" json:"username"`
	Email     string     `gorm:"uniqueIndex;not null" json:"email"`
	Password  string     `gorm:"not null" json:"-"`
	IsActive  bool       `gorm:"default:false" json:"is_active"`
	LastLogin *time.Time `json:"last_login,omitempty"`
	CreatedAt *time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt *time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Tenant *Tenant `gorm:"foreignKey:TenantID" json:"tenant,omitempty"`
}
