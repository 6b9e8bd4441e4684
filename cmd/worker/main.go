/**
 * @description
 * Worker Service Entry Point.
 * Keeps the date-driven sources current without an external scheduler:
 * every interval it re-collects the last few days of each source. Writes are
 * idempotent, so the overlap only refreshes corrections.
 *
 * @dependencies
 * - internal/config
 * - internal/db
 * - internal/services
 */

package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/stockdata-project/collector/internal/config"
	"github.com/stockdata-project/collector/internal/db"
	"github.com/stockdata-project/collector/internal/logger"
	"github.com/stockdata-project/collector/internal/services"
	"github.com/stockdata-project/collector/internal/store"
)

func main() {
	sources := flag.String("sources", "stocks,etf", "comma separated sources to keep current")
	interval := flag.Duration("interval", 6*time.Hour, "time between collection rounds")
	days := flag.Int("days", 3, "calendar days re-collected each round")
	flag.Parse()

	logger.Info("🔥 Starting collector worker...")

	// 1. Load Config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config: %v", err)
	}
	universe, err := config.LoadUniverse(cfg.Ingest.UniversePath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Fatal("Failed to load universe: %v", err)
	}

	// 2. Connect DBs
	pgDB, err := db.Open(cfg)
	if err != nil {
		logger.Fatal("Database connection failed: %v", err)
	}
	defer db.Close(pgDB)

	redisClient, closeRedis, err := db.ConnectRedisOrLocal(cfg)
	if err != nil {
		logger.Fatal("Redis connection failed: %v", err)
	}
	defer closeRedis()

	// 3. Initialize Services
	svc := services.NewIngestService(store.FromConfig(pgDB, cfg), redisClient, cfg, universe)
	svc.Observers = append(svc.Observers, services.NewProgressPublisher(redisClient))

	kinds := strings.Split(*sources, ",")
	for _, kind := range kinds {
		// fail fast on missing credentials rather than every round
		if _, err := svc.BuildSource(strings.TrimSpace(kind)); err != nil {
			logger.Fatal("%v", err)
		}
	}

	// 4. Context with Cancellation
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 5. Collection Loop
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	collectRound(ctx, svc, kinds, *days)
	for {
		select {
		case <-ctx.Done():
			logger.Info("Worker exited.")
			return
		case <-ticker.C:
			collectRound(ctx, svc, kinds, *days)
		}
	}
}

// collectRound runs each source once over the trailing window
func collectRound(ctx context.Context, svc *services.IngestService, kinds []string, days int) {
	logger.Info("🔄 Collecting the last %d day(s)...", days)

	for _, kind := range kinds {
		if ctx.Err() != nil {
			return
		}
		kind = strings.TrimSpace(kind)

		src, err := svc.BuildSource(kind)
		if err != nil {
			logger.Error("Failed to build %s source: %v", kind, err)
			continue
		}
		units, err := svc.Units(kind, services.UnitParams{Days: days, Now: time.Now()})
		if err != nil {
			logger.Error("Failed to plan %s units: %v", kind, err)
			continue
		}

		sum, err := svc.Run(ctx, src, units)
		if errors.Is(err, store.ErrLockBusy) {
			logger.Warn("%s run already in progress elsewhere, skipping this round", kind)
			continue
		}
		if err != nil {
			logger.Error("%s run stopped: %v", kind, err)
			continue
		}
		if sum.Failed > 0 {
			logger.Warn("%s round finished with %d failed unit(s)", kind, sum.Failed)
		}
	}
}
