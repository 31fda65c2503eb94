// Package dbtest opens throwaway garage databases for tests.
package dbtest

import (
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"bbsm-garage/internal/database"
	"bbsm-garage/internal/database/models"
)

// New returns a migrated in-memory SQLite database. It is pinned to a single
// connection, so concurrent transactions run one after another.
func New(t testing.TB) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	if err := database.MigrateGarageDB(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// NewConcurrent returns a migrated SQLite database in a temporary file with
// WAL and a busy timeout, pooled over several connections so transactions
// from different goroutines really overlap. SQLite aborts the loser of a
// write race with "database is locked", which database.Transact retries.
func NewConcurrent(t testing.TB, conns int) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), "garage.db") +
		"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(conns)
	sqlDB.SetMaxIdleConns(conns)
	t.Cleanup(func() { sqlDB.Close() })

	if err := db.Exec("PRAGMA journal_mode=WAL").Error; err != nil {
		t.Fatalf("enable WAL: %v", err)
	}

	if err := database.MigrateGarageDB(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// SeedTenant inserts a tenant and returns its id.
func SeedTenant(t testing.TB, db *gorm.DB, name string) int64 {
	t.Helper()

	tenant := models.Tenant{CompanyName: name, IsActive: true}
	if err := db.Create(&tenant).Error; err != nil {
		t.Fatalf("seed tenant: %v", err)
	}
	return tenant.ID
}

// SeedStock inserts a stock record directly, bypassing the ledger.
func SeedStock(t testing.TB, db *gorm.DB, tenantID int64, name string, quantity int32) int64 {
	t.Helper()

	stock := models.StockRecord{TenantID: tenantID, Name: name, Quantity: quantity}
	if err := db.Create(&stock).Error; err != nil {
		t.Fatalf("seed stock: %v", err)
	}
	return stock.ID
}

// Quantity reads a stock quantity regardless of tenant.
func Quantity(t testing.TB, db *gorm.DB, stockID int64) int32 {
	t.Helper()

	var stock models.StockRecord
	if err := db.First(&stock, stockID).Error; err != nil {
		t.Fatalf("load stock %d: %v", stockID, err)
	}
	return stock.Quantity
}

// MovementCount counts ledger audit rows for a stock record.
func MovementCount(t testing.TB, db *gorm.DB, stockID int64) int64 {
	t.Helper()

	var n int64
	if err := db.Model(&models.StockMovement{}).Where("stock_record_id = ?", stockID).Count(&n).Error; err != nil {
		t.Fatalf("count movements: %v", err)
	}
	return n
}
