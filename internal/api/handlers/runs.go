package handlers

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stockdata-project/collector/internal/logger"
	"github.com/stockdata-project/collector/internal/pipeline"
	"github.com/stockdata-project/collector/internal/services"
	"github.com/stockdata-project/collector/internal/store"
)

const keepAliveInterval = 15 * time.Second

type RunHandler struct {
	Ingest *services.IngestService
	Hub    *services.ProgressHub
}

func NewRunHandler(ingest *services.IngestService, hub *services.ProgressHub) *RunHandler {
	return &RunHandler{Ingest: ingest, Hub: hub}
}

// GetLastRun returns the latest run summary for a source
// GET /api/v1/runs/last/:source
func (h *RunHandler) GetLastRun(c *fiber.Ctx) error {
	source := c.Params("source")
	run, err := h.Ingest.LastRun(c.Context(), source)
	if errors.Is(err, store.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": fmt.Sprintf("No runs recorded for %s", source),
		})
	}
	if err != nil {
		logger.Error("RunHandler: last run failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch last run",
		})
	}
	return c.JSON(run)
}

// StreamProgress streams unit events of running collectors over SSE.
// Optional ?source= and ?run_id= narrow the stream. Runs already in flight are
// replayed first as their latest event.
// GET /api/v1/runs/stream
func (h *RunHandler) StreamProgress(c *fiber.Ctx) error {
	filter := services.ProgressFilter{Source: c.Query("source")}
	if raw := c.Query("run_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "run_id must be a UUID",
			})
		}
		filter.RunID = id
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")

	requestCtx := c.Context()
	sub, unsubscribe := h.Hub.Subscribe(filter)
	snapshot := h.Hub.ActiveRuns(filter)

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer unsubscribe()

		keepAlive := time.NewTicker(keepAliveInterval)
		defer keepAlive.Stop()

		fmt.Fprint(w, ": connected\n\n")
		for _, ev := range snapshot {
			writeUnitEvent(w, ev)
		}
		if err := w.Flush(); err != nil {
			return
		}

		for {
			select {
			case <-requestCtx.Done():
				return
			case <-keepAlive.C:
				if n := sub.Dropped(); n > 0 {
					fmt.Fprintf(w, ": %d event(s) dropped\n\n", n)
				} else {
					fmt.Fprint(w, ": ping\n\n")
				}
			case ev, ok := <-sub.Events:
				if !ok {
					return
				}
				writeUnitEvent(w, ev)
			}
			if err := w.Flush(); err != nil {
				return
			}
		}
	})

	return nil
}

func writeUnitEvent(w *bufio.Writer, ev pipeline.UnitEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "id: %s/%d\nevent: unit\ndata: %s\n\n", ev.RunID, ev.Index, data)
}
