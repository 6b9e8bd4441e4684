/**
 * @description
 * API Route definitions.
 * Sets up the router groups and assigns handlers.
 *
 * @dependencies
 * - github.com/gofiber/fiber/v2
 * - internal/api/handlers
 * - internal/api/middleware
 * - internal/services
 */

package api

import (
	"github.com/gofiber/fiber/v2"
	"github.com/stockdata-project/collector/internal/api/handlers"
	"github.com/stockdata-project/collector/internal/api/middleware"
	"github.com/stockdata-project/collector/internal/services"
)

// Services bundles what the admin routes serve
type Services struct {
	Ingest         *services.IngestService
	Stats          *services.StatsService
	Classification *services.ClassificationService
	Progress       *services.ProgressHub
}

// SetupRoutes configures all API routes. Auth must be initialised first with
// middleware.InitAuthMiddleware.
func SetupRoutes(app *fiber.App, svc Services) {
	statsHandler := handlers.NewStatsHandler(svc.Stats)
	runHandler := handlers.NewRunHandler(svc.Ingest, svc.Progress)
	classificationHandler := handlers.NewClassificationHandler(svc.Classification)

	api := app.Group("/api")
	v1 := api.Group("/v1")

	// Public Routes
	v1.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	stats := v1.Group("/stats")
	stats.Get("/markets", statsHandler.GetMarketCounts)
	stats.Get("/data-range", statsHandler.GetDataRange)
	stats.Get("/missing-data", statsHandler.GetMissingData)

	runs := v1.Group("/runs")
	runs.Get("/last/:source", runHandler.GetLastRun)
	runs.Get("/stream", runHandler.StreamProgress)

	// Admin Routes (Protected)
	protected := middleware.Protected()
	v1.Put("/instruments/:code/override", protected, classificationHandler.PutOverride)
	v1.Delete("/instruments/:code/override", protected, classificationHandler.DeleteOverride)
	v1.Post("/classification/reclassify", protected, classificationHandler.Reclassify)
	v1.Delete("/cache", protected, statsHandler.ClearCache)
}
