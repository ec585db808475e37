// Package db wraps Postgres connectivity for engine/store/postgres and the
// sample app's catalog repository. Keep transaction helpers here to support
// outbox + state consistency.
package db

import (
	"fmt"
	"log/slog"

	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	enginepostgres "corework/engine/store/postgres"
)

// Postgres wraps the gorm.DB connection pool the engine's store and the
// sample app's Postgres adapter both build on.
type Postgres struct {
	DB *gorm.DB
}

// Connect opens a connection pool against dsn and migrates the engine's
// tables. debugMode routes gorm's own SQL logging through logger at Info
// level instead of the default Silent, matching §6's "debugMode attaches
// extra telemetry" configuration knob.
func Connect(dsn string, logger *slog.Logger, debugMode bool, extraModels ...any) (*Postgres, error) {
	level := gormlogger.Silent
	if debugMode {
		level = gormlogger.Info
	}
	gdb, err := gorm.Open(gormpostgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(level),
	})
	if err != nil {
		return nil, fmt.Errorf("db: open: %w", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("db: underlying *sql.DB: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("db: ping: %w", err)
	}
	models := append(enginepostgres.AllModels(), extraModels...)
	if err := gdb.AutoMigrate(models...); err != nil {
		return nil, fmt.Errorf("db: auto-migrate: %w", err)
	}
	return &Postgres{DB: gdb}, nil
}

// Close releases the underlying connection pool.
func (p *Postgres) Close() error {
	sqlDB, err := p.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
