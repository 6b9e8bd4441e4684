package db

import (
	"context"
	"fmt"
	"time"

	"github.com/stockdata-project/collector/internal/config"
	"github.com/stockdata-project/collector/internal/logger"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

const pingTimeout = 5 * time.Second

// ConnectPostgres opens the pool and checks the server answers before any run
// takes the ingest lock.
func ConnectPostgres(cfg *config.Config) (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.New(postgres.Config{
		DSN:                  cfg.DB.DSN(),
		PreferSimpleProtocol: true, // pgbouncer in transaction mode rejects named prepared statements
	}), &gorm.Config{
		Logger: gormLogger.Default.LogMode(sqlLogLevel(cfg.Server.Env)),
	})
	if err != nil {
		return nil, err
	}

	if err := configurePool(gdb, cfg.DB); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	sqlDB, _ := gdb.DB()
	if err := sqlDB.PingContext(ctx); err != nil {
		Close(gdb)
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	logger.Info("✅ Connected to PostgreSQL (pool %d-%d)", cfg.DB.MinConns, cfg.DB.MaxConns)
	return gdb, nil
}

// configurePool sizes the pool for one batch job plus the admin API.
func configurePool(gdb *gorm.DB, c config.DBConfig) error {
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxOpenConns(c.MaxConns)
	sqlDB.SetMaxIdleConns(c.MinConns)
	if c.ConnLifetime > 0 {
		sqlDB.SetConnMaxLifetime(c.ConnLifetime)
		sqlDB.SetConnMaxIdleTime(c.ConnLifetime / 2)
	}
	return nil
}

// sqlLogLevel echoes statements only in development.
func sqlLogLevel(env string) gormLogger.LogLevel {
	switch env {
	case "development":
		return gormLogger.Info
	case "test":
		return gormLogger.Silent
	case "staging":
		return gormLogger.Warn
	default:
		return gormLogger.Error
	}
}
