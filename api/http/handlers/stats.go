package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noteflow/backend/api/http/presenter"
	"github.com/noteflow/backend/pkg/orchestrator"
)

// StatsHandler exposes pipeline engine counters for monitoring.
type StatsHandler struct{ engine *orchestrator.Engine }

func NewStatsHandler(engine *orchestrator.Engine) *StatsHandler {
	return &StatsHandler{engine: engine}
}

func (h *StatsHandler) Stats(c *fiber.Ctx) error {
	return presenter.JSON(c, fiber.StatusOK, h.engine.Stats())
}
