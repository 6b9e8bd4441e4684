package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/stockdata-project/collector/internal/api/middleware"
	"github.com/stockdata-project/collector/internal/logger"
	"github.com/stockdata-project/collector/internal/models"
	"github.com/stockdata-project/collector/internal/pipeline"
	"github.com/stockdata-project/collector/internal/services"
	"github.com/stockdata-project/collector/internal/store"
)

type ClassificationHandler struct {
	Service *services.ClassificationService
}

func NewClassificationHandler(service *services.ClassificationService) *ClassificationHandler {
	return &ClassificationHandler{Service: service}
}

// OverrideRequest is the body of PUT /instruments/:code/override
type OverrideRequest struct {
	MarketType string `json:"market_type"`
	AssetType  string `json:"asset_type"`
	Note       string `json:"note"`
}

// PutOverride pins a manual classification
// PUT /api/v1/instruments/:code/override
func (h *ClassificationHandler) PutOverride(c *fiber.Ctx) error {
	var req OverrideRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	o, err := h.Service.SetOverride(c.Context(), models.InstrumentOverride{
		StockCode:  c.Params("code"),
		MarketType: req.MarketType,
		AssetType:  req.AssetType,
		Note:       req.Note,
	})
	var cfgErr *pipeline.ConfigurationError
	if errors.As(err, &cfgErr) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": cfgErr.Error()})
	}
	if err != nil {
		logger.Error("ClassificationHandler: set override failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to save override",
		})
	}

	admin, _ := middleware.GetAdminID(c)
	logger.Info("override %s -> %s/%s set by %s", o.StockCode, o.MarketType, o.AssetType, admin)
	return c.JSON(o)
}

// DeleteOverride removes a manual classification
// DELETE /api/v1/instruments/:code/override
func (h *ClassificationHandler) DeleteOverride(c *fiber.Ctx) error {
	row, err := h.Service.ClearOverride(c.Context(), c.Params("code"))
	if errors.Is(err, store.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Override not found"})
	}
	if err != nil {
		logger.Error("ClassificationHandler: clear override failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to remove override",
		})
	}
	return c.JSON(fiber.Map{"success": true, "instrument": row})
}

// Reclassify re-applies the fund heuristic to stored instruments
// POST /api/v1/classification/reclassify?dry_run=true
func (h *ClassificationHandler) Reclassify(c *fiber.Ctx) error {
	report, err := h.Service.Reclassify(c.Context(), c.QueryBool("dry_run", false))
	if err != nil {
		logger.Error("ClassificationHandler: reclassify failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Reclassification failed",
		})
	}
	return c.JSON(report)
}
