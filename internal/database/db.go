package database

import (
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"bbsm-garage/config"
	"bbsm-garage/internal/database/models"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

func NewConnection(cfg config.DBConfig) (*gorm.DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("DSN is required")
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case DriverPostgres, "":
		dialector = postgres.Open(cfg.DSN)
	case DriverSQLite:
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported DB driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: newGormLogger(cfg.LogSQL)})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping DB: %w", err)
	}

	return db, nil
}

func newGormLogger(logSQL bool) logger.Interface {
	level := logger.Warn
	if logSQL {
		level = logger.Info
	}
	gormLog := log.With().Str("component", "gorm").Logger()
	return logger.New(&gormLog, logger.Config{
		SlowThreshold:             time.Second,
		LogLevel:                  level,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}

func MigrateGarageDB(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Tenant{},
		&models.User{},
		&models.StockRecord{},
		&models.StockMovement{},
		&models.ServiceRecord{},
		&models.WorkItem{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	if db.Dialector.Name() != DriverPostgres {
		return nil
	}

	// work_items rows must belong to a service record of the same tenant.
	return db.Exec(`
DO $$
BEGIN
	IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'fk_work_items_record_tenant') THEN
		ALTER TABLE work_items
			ADD CONSTRAINT fk_work_items_record_tenant
			FOREIGN KEY (service_record_id, tenant_id)
			REFERENCES service_records (id, tenant_id)
			ON DELETE CASCADE;
	END IF;
END $$;`).Error
}
