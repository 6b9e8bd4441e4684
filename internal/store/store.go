/**
 * @description
 * Upsert Writer and read model over PostgreSQL.
 * Every write is one transaction per batch with ON CONFLICT on the natural key,
 * retried with bounded exponential backoff on transient database errors.
 *
 * @dependencies
 * - gorm.io/gorm: ORM and ON CONFLICT clauses
 * - github.com/jackc/pgx/v5/pgconn: SQLSTATE classification
 */

package store

import (
	"context"
	"database/sql/driver"
	"errors"
	"math/rand"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stockdata-project/collector/internal/config"
	"github.com/stockdata-project/collector/internal/logger"
	"github.com/stockdata-project/collector/internal/models"
	"github.com/stockdata-project/collector/internal/pipeline"
	"gorm.io/gorm"
)

// RetryPolicy bounds the writer's retries. Attempts includes the first try.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetry is three attempts starting at 200ms.
var DefaultRetry = RetryPolicy{MaxAttempts: 3, BaseDelay: 200 * time.Millisecond, MaxDelay: 5 * time.Second}

// Backoff returns the wait before attempt+1: base * 2^(attempt-1) plus up to
// 50% jitter, capped at MaxDelay.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	d := p.BaseDelay << uint(attempt-1)
	if d <= 0 || (p.MaxDelay > 0 && d > p.MaxDelay) {
		d = p.MaxDelay
	}
	if half := int64(d / 2); half > 0 {
		d += time.Duration(rand.Int63n(half))
	}
	return d
}

// Store implements pipeline.Writer and the read queries used by the services.
type Store struct {
	DB        *gorm.DB
	Retry     RetryPolicy
	BatchSize int

	// sleep waits between attempts; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a store. A zero RetryPolicy means DefaultRetry.
func New(db *gorm.DB, retry RetryPolicy, batchSize int) *Store {
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetry
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Store{DB: db, Retry: retry, BatchSize: batchSize, sleep: pipeline.SleepContext}
}

// FromConfig builds a store with the configured retry budget and batch size.
func FromConfig(db *gorm.DB, cfg *config.Config) *Store {
	return New(db, RetryPolicy{
		MaxAttempts: cfg.Ingest.MaxWriteRetries,
		BaseDelay:   cfg.Ingest.RetryBaseDelay,
		MaxDelay:    DefaultRetry.MaxDelay,
	}, cfg.Ingest.BatchSize)
}

// Migrate creates or updates the tables.
func (s *Store) Migrate(ctx context.Context) error {
	return s.DB.WithContext(ctx).AutoMigrate(
		&models.Instrument{},
		&models.DailyPrice{},
		&models.InstrumentOverride{},
		&models.IngestRun{},
	)
}

// IsRetryable reports whether err is a transient database condition:
// serialization failure, deadlock, lock timeout, admin shutdown, too many
// connections, connection exceptions and dropped connections.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) || pgconn.SafeToRetry(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "55P03", "57P01", "53300":
			return true
		}
		return strings.HasPrefix(pgErr.Code, "08")
	}
	return false
}

// withRetry runs fn in a transaction until it succeeds, fails permanently or
// the retry budget is spent. The whole batch commits or none of it does.
func (s *Store) withRetry(ctx context.Context, table string, fn func(tx *gorm.DB) (int64, error)) (int64, error) {
	maxAttempts := s.Retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	sleep := s.sleep
	if sleep == nil {
		sleep = pipeline.SleepContext
	}

	for attempt := 1; ; attempt++ {
		var affected int64
		err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			n, err := fn(tx)
			affected = n
			return err
		})
		if err == nil {
			return affected, nil
		}

		if !IsRetryable(err) || attempt >= maxAttempts {
			return 0, &pipeline.PersistenceError{Table: table, Attempts: attempt, Err: err}
		}

		wait := s.Retry.Backoff(attempt)
		logger.With(logger.Fields{"table": table, "attempt": attempt, "backoff": wait.String()}).
			Warn("transient write error, retrying: %v", err)
		if serr := sleep(ctx, wait); serr != nil {
			return 0, &pipeline.PersistenceError{Table: table, Attempts: attempt, Err: serr}
		}
	}
}
