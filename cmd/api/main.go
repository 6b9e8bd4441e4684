/**
 * @description
 * Main entry point for the collector admin API.
 * Serves data-health stats, run summaries, live run progress and the
 * classification override endpoints.
 *
 * @dependencies
 * - github.com/gofiber/fiber/v2: Web framework
 * - internal/config: Config loader
 * - internal/db: Database connections
 *
 * @notes
 * - Needs a shared Redis (REDIS_URL) to see progress from collector processes.
 * - Shuts down gracefully on SIGINT/SIGTERM.
 */

package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/stockdata-project/collector/internal/api"
	"github.com/stockdata-project/collector/internal/api/middleware"
	"github.com/stockdata-project/collector/internal/classify"
	"github.com/stockdata-project/collector/internal/config"
	"github.com/stockdata-project/collector/internal/db"
	"github.com/stockdata-project/collector/internal/logger"
	"github.com/stockdata-project/collector/internal/services"
	"github.com/stockdata-project/collector/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config: %v", err)
	}

	universe, err := config.LoadUniverse(cfg.Ingest.UniversePath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			logger.Fatal("Failed to load universe: %v", err)
		}
		universe = nil
	}

	// 2. Initialize Database Connections
	pgDB, err := db.Open(cfg)
	if err != nil {
		logger.Fatal("Failed to connect to database: %v", err)
	}
	defer db.Close(pgDB)

	redisClient, closeRedis, err := db.ConnectRedisOrLocal(cfg)
	if err != nil {
		logger.Fatal("Failed to connect to Redis: %v", err)
	}
	defer closeRedis()

	if err := middleware.InitAuthMiddleware(cfg); err != nil {
		logger.Fatal("Failed to init auth middleware: %v", err)
	}
	defer middleware.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 3. Initialize Services
	st := store.FromConfig(pgDB, cfg)
	ingest := services.NewIngestService(st, redisClient, cfg, universe)
	svc := api.Services{
		Ingest:         ingest,
		Stats:          services.NewStatsService(st, redisClient),
		Classification: services.NewClassificationService(st, redisClient, classify.NewReconciler(ingest.Reconciler.Keywords(), nil)),
		Progress:       services.NewProgressHub(ctx, redisClient),
	}

	// 4. Initialize Fiber App
	app := fiber.New(fiber.Config{
		AppName:       "KRX Collector Admin",
		StrictRouting: true,
		CaseSensitive: true,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))

	// 5. Routes
	api.SetupRoutes(app, svc)

	// 6. Start Server
	go func() {
		<-ctx.Done()
		logger.Info("Shutting down admin API")
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			logger.Error("Shutdown failed: %v", err)
		}
	}()

	logger.Info("🚀 Starting admin API on port %s", cfg.Server.Port)
	if err := app.Listen(":" + cfg.Server.Port); err != nil {
		logger.Error("Server stopped: %v", err)
	}
}
