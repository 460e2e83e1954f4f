package handlers

import (
	"context"
	"log"
	"time"

	"engram/internal/models"
	"engram/internal/services"

	"github.com/gofiber/fiber/v2"
)

// SettingsHandler handles owner settings endpoints
type SettingsHandler struct {
	settings *services.SettingsService
}

// NewSettingsHandler creates a new settings handler
func NewSettingsHandler(settings *services.SettingsService) *SettingsHandler {
	return &SettingsHandler{settings: settings}
}

// GetSettings returns the owner's settings, defaults if never customized
// GET /api/v1/settings
func (h *SettingsHandler) GetSettings(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	settings, err := h.settings.Get(ctx, userID)
	if err != nil {
		log.Printf("❌ [SETTINGS-API] Failed to get settings: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to retrieve settings",
		})
	}

	return c.JSON(settings)
}

// UpdateSettings applies a partial settings update
// PUT /api/v1/settings
func (h *SettingsHandler) UpdateSettings(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}

	var req models.UpdateOwnerSettingsRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	settings, err := h.settings.Update(ctx, userID, &req)
	if err != nil {
		log.Printf("❌ [SETTINGS-API] Failed to update settings: %v", err)
		return errorJSON(c, err)
	}

	log.Printf("✅ [SETTINGS-API] Updated settings for user %s", userID)
	return c.JSON(settings)
}
