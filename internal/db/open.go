package db

import (
	"strings"

	"github.com/stockdata-project/collector/internal/config"
	"github.com/stockdata-project/collector/internal/logger"
	"gorm.io/gorm"
)

const sqlitePrefix = "sqlite:"

// Open connects to the configured database. A DATABASE_URL of the form
// sqlite:<path> opens a local SQLite file instead of PostgreSQL.
func Open(cfg *config.Config) (*gorm.DB, error) {
	if path, ok := strings.CutPrefix(cfg.DB.URL, sqlitePrefix); ok {
		logger.Warn("using local sqlite database %s", path)
		return OpenSQLite(path)
	}
	return ConnectPostgres(cfg)
}

// Close releases the connection pool.
func Close(gdb *gorm.DB) {
	if gdb == nil {
		return
	}
	if sqlDB, err := gdb.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
