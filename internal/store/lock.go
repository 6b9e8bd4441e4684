package store

import (
	"context"
	"errors"
	"hash/fnv"
	"math/rand"
	"time"

	"github.com/stockdata-project/collector/internal/logger"
)

// ErrLockBusy is returned when another process holds the run lock.
var ErrLockBusy = errors.New("ingest lock held by another process")

// LockKey derives a stable advisory lock key from a name.
func LockKey(name string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("ingest:" + name))
	return int64(h.Sum64() >> 1)
}

// AcquireRunLock takes a session advisory lock so two drivers never ingest the
// same source concurrently. It polls up to maxAttempts times. On databases
// without advisory locks it returns a no-op release.
func (s *Store) AcquireRunLock(ctx context.Context, name string, maxAttempts int) (func(), error) {
	if s.DB.Dialector.Name() != "postgres" {
		return func() {}, nil
	}
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	// Advisory locks belong to a session, so lock and unlock must share one connection.
	sqlDB, err := s.DB.DB()
	if err != nil {
		return nil, err
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return nil, err
	}

	key := LockKey(name)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		var locked bool
		if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&locked); err != nil {
			_ = conn.Close()
			return nil, err
		}
		if locked {
			return func() {
				if _, err := conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", key); err != nil {
					logger.Warn("failed to release ingest lock %s: %v", name, err)
				}
				_ = conn.Close()
			}, nil
		}

		if attempt == maxAttempts {
			break
		}
		backoff := time.Duration(100+rand.Intn(150)) * time.Millisecond
		select {
		case <-ctx.Done():
			_ = conn.Close()
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	_ = conn.Close()
	return nil, ErrLockBusy
}
