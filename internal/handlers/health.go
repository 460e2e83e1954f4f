package handlers

import (
	"time"

	"engram/internal/health"

	"github.com/gofiber/fiber/v2"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	health  *health.Service
	version string
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(healthService *health.Service, version string) *HealthHandler {
	return &HealthHandler{health: healthService, version: version}
}

// Handle responds with basic liveness; always 200 while the process runs
// GET /health
func (h *HealthHandler) Handle(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "healthy",
		"version":   h.version,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// Ready reports readiness from the dependency health registry.
// Returns 503 when a critical dependency is down so load balancers stop routing.
// GET /health/ready
func (h *HealthHandler) Ready(c *fiber.Ctx) error {
	overall := h.health.Overall()

	status := fiber.StatusOK
	if overall == health.StatusUnhealthy {
		status = fiber.StatusServiceUnavailable
	}

	return c.Status(status).JSON(fiber.Map{
		"status":       overall,
		"dependencies": h.health.Snapshot(),
		"timestamp":    time.Now().Format(time.RFC3339),
	})
}
