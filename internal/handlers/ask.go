package handlers

import (
	"context"
	"log"
	"strings"
	"time"

	"engram/internal/services"

	"github.com/gofiber/fiber/v2"
)

// AskHandler handles grounded question answering over the memory graph
type AskHandler struct {
	qa *services.QAService
}

// NewAskHandler creates a new ask handler
func NewAskHandler(qa *services.QAService) *AskHandler {
	return &AskHandler{qa: qa}
}

// AskRequest is the request body for a grounded question
type AskRequest struct {
	Question string `json:"question"`
}

// Ask answers a natural-language question from the owner's memories only
// POST /api/v1/ask
func (h *AskHandler) Ask(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}

	var req AskRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	question := strings.TrimSpace(req.Question)
	if question == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Question is required",
		})
	}
	if len(question) > 2000 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Question exceeds maximum length of 2000 characters",
		})
	}

	// Retrieval plus answer generation; generation dominates the budget
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	result, err := h.qa.Answer(ctx, userID, question)
	if err != nil {
		log.Printf("❌ [ASK-API] Failed to answer question: %v", err)
		return errorJSON(c, err)
	}

	return c.JSON(result)
}
