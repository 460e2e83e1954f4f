package handlers

import (
	"context"
	"log"
	"time"

	"engram/internal/models"
	"engram/internal/services"

	"github.com/gofiber/fiber/v2"
)

// APIKeyHandler handles API key management endpoints
type APIKeyHandler struct {
	apiKeyService *services.APIKeyService
}

// NewAPIKeyHandler creates a new API key handler
func NewAPIKeyHandler(apiKeyService *services.APIKeyService) *APIKeyHandler {
	return &APIKeyHandler{
		apiKeyService: apiKeyService,
	}
}

// Create creates a new API key. The full key is only returned here, once.
// POST /api/v1/keys
func (h *APIKeyHandler) Create(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}

	var req models.CreateAPIKeyRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := h.apiKeyService.Create(ctx, userID, &req)
	if err != nil {
		log.Printf("❌ [APIKEY-API] Failed to create API key: %v", err)
		return errorJSON(c, err)
	}

	log.Printf("🔑 [APIKEY-API] Created key %s (%s) for user %s", result.KeyPrefix, result.Name, userID)
	return c.Status(fiber.StatusCreated).JSON(result)
}

// List lists all API keys for the user (prefixes only, never full keys)
// GET /api/v1/keys
func (h *APIKeyHandler) List(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	keys, err := h.apiKeyService.ListByUser(ctx, userID)
	if err != nil {
		log.Printf("❌ [APIKEY-API] Failed to list API keys: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list API keys",
		})
	}

	if keys == nil {
		keys = []*models.APIKey{}
	}

	return c.JSON(fiber.Map{
		"keys": keys,
	})
}

// Get retrieves a specific API key
// GET /api/v1/keys/:id
func (h *APIKeyHandler) Get(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}
	keyID := c.Params("id")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	key, err := h.apiKeyService.GetByIDAndUser(ctx, keyID, userID)
	if err != nil {
		return errorJSON(c, err)
	}

	return c.JSON(key)
}

// Revoke revokes an API key (soft delete; the record stays visible)
// POST /api/v1/keys/:id/revoke
func (h *APIKeyHandler) Revoke(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}
	keyID := c.Params("id")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := h.apiKeyService.Revoke(ctx, keyID, userID); err != nil {
		log.Printf("❌ [APIKEY-API] Failed to revoke API key: %v", err)
		return errorJSON(c, err)
	}

	return c.JSON(fiber.Map{
		"message": "API key revoked successfully",
	})
}

// Delete permanently deletes an API key
// DELETE /api/v1/keys/:id
func (h *APIKeyHandler) Delete(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}
	keyID := c.Params("id")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := h.apiKeyService.Delete(ctx, keyID, userID); err != nil {
		log.Printf("❌ [APIKEY-API] Failed to delete API key: %v", err)
		return errorJSON(c, err)
	}

	return c.JSON(fiber.Map{
		"message": "API key deleted successfully",
	})
}
