/**
 * @description
 * Stats API Handlers.
 * Exposes data-health views over the collected tables.
 *
 * @dependencies
 * - github.com/gofiber/fiber/v2
 * - internal/services
 */

package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/stockdata-project/collector/internal/logger"
	"github.com/stockdata-project/collector/internal/pipeline"
	"github.com/stockdata-project/collector/internal/services"
)

type StatsHandler struct {
	Service *services.StatsService
}

func NewStatsHandler(service *services.StatsService) *StatsHandler {
	return &StatsHandler{Service: service}
}

// GetMarketCounts returns instrument counts per market type
// GET /api/v1/stats/markets
func (h *StatsHandler) GetMarketCounts(c *fiber.Ctx) error {
	counts, err := h.Service.MarketCounts(c.Context())
	if err != nil {
		logger.Error("StatsHandler: market counts failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch market counts",
		})
	}
	return c.JSON(counts)
}

// GetDataRange returns the stored price history range
// GET /api/v1/stats/data-range
func (h *StatsHandler) GetDataRange(c *fiber.Ctx) error {
	dr, err := h.Service.DataRange(c.Context())
	if err != nil {
		logger.Error("StatsHandler: data range failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch data range",
		})
	}
	return c.JSON(dr)
}

// GetMissingData lists weekdays without prices
// GET /api/v1/stats/missing-data?days=30
func (h *StatsHandler) GetMissingData(c *fiber.Ctx) error {
	report, err := h.Service.MissingData(c.Context(), c.QueryInt("days", 30))
	var cfgErr *pipeline.ConfigurationError
	if errors.As(err, &cfgErr) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": cfgErr.Error()})
	}
	if err != nil {
		logger.Error("StatsHandler: missing data failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to check missing data",
		})
	}
	return c.JSON(report)
}

// ClearCache drops cached stats
// DELETE /api/v1/cache
func (h *StatsHandler) ClearCache(c *fiber.Ctx) error {
	removed, err := h.Service.ClearCache(c.Context())
	if err != nil {
		logger.Error("StatsHandler: clear cache failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to clear cache",
		})
	}
	return c.JSON(fiber.Map{"success": true, "removed": removed})
}
