package handlers

import (
	"context"
	"log"
	"strconv"
	"time"

	"engram/internal/models"
	"engram/internal/services"

	"github.com/gofiber/fiber/v2"
)

// EntityHandler exposes the entity registry
type EntityHandler struct {
	entities *services.EntityService
}

// NewEntityHandler creates a new entity handler
func NewEntityHandler(entities *services.EntityService) *EntityHandler {
	return &EntityHandler{entities: entities}
}

// ListEntities returns the owner's known entities, optionally filtered by type
// GET /api/v1/entities?type=person&limit=100
func (h *EntityHandler) ListEntities(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}

	entityType := c.Query("type", "")
	if entityType != "" && !models.ValidEntityTypes[entityType] {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid entity type. Must be one of: person, place, organization, concept, date, preference",
		})
	}

	limit, _ := strconv.Atoi(c.Query("limit", "100"))
	if limit < 1 || limit > 500 {
		limit = 100
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	entities, err := h.entities.ListEntities(ctx, userID, entityType, limit)
	if err != nil {
		log.Printf("❌ [ENTITY-API] Failed to list entities: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to retrieve entities",
		})
	}

	return c.JSON(fiber.Map{
		"entities": entities,
		"count":    len(entities),
	})
}
