package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noteflow/backend/api/http/handlers"
)

// Register wires the ops routes onto given Fiber app.
func Register(app *fiber.App, health *handlers.HealthHandler, stats *handlers.StatsHandler) {
	ops := app.Group("/ops")

	// Health and readiness endpoints for probes/monitoring
	ops.Get("/health", health.Health)
	ops.Get("/ready", health.Ready)
	ops.Get("/stats", stats.Stats)
}
