package db

import (
	"testing"
	"time"

	"github.com/stockdata-project/collector/internal/config"
	gormLogger "gorm.io/gorm/logger"
)

func TestConfigurePool(t *testing.T) {
	gdb, err := OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	defer Close(gdb)

	err = configurePool(gdb, config.DBConfig{MinConns: 2, MaxConns: 4, ConnLifetime: time.Minute})
	if err != nil {
		t.Fatalf("configurePool: %v", err)
	}
	sqlDB, _ := gdb.DB()
	if got := sqlDB.Stats().MaxOpenConnections; got != 4 {
		t.Fatalf("expected max open 4, got %d", got)
	}
}

func TestSQLLogLevel(t *testing.T) {
	cases := map[string]gormLogger.LogLevel{
		"development": gormLogger.Info,
		"staging":     gormLogger.Warn,
		"test":        gormLogger.Silent,
		"production":  gormLogger.Error,
		"":            gormLogger.Error,
	}
	for env, want := range cases {
		if got := sqlLogLevel(env); got != want {
			t.Fatalf("%q: expected %v, got %v", env, want, got)
		}
	}
}
