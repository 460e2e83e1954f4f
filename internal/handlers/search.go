package handlers

import (
	"context"
	"log"
	"strconv"
	"strings"
	"time"

	"engram/internal/services"

	"github.com/gofiber/fiber/v2"
)

// SearchHandler handles retrieval API endpoints
type SearchHandler struct {
	retrieval *services.RetrievalService
}

// NewSearchHandler creates a new search handler
func NewSearchHandler(retrieval *services.RetrievalService) *SearchHandler {
	return &SearchHandler{retrieval: retrieval}
}

// Search runs hybrid retrieval over the owner's active memories
// GET /api/v1/search?q=where+do+I+work&limit=10&enrich=true
func (h *SearchHandler) Search(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}

	query := strings.TrimSpace(c.Query("q", ""))
	if query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Query parameter 'q' is required",
		})
	}

	limit, _ := strconv.Atoi(c.Query("limit", "10"))
	if limit < 1 || limit > 50 {
		limit = 10
	}
	enrich := c.Query("enrich", "true") != "false"

	// Embedding the query plus scoring can hit the oracle
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if !enrich {
		results, err := h.retrieval.Search(ctx, userID, query, limit)
		if err != nil {
			log.Printf("❌ [SEARCH-API] Search failed: %v", err)
			return errorJSON(c, err)
		}
		return c.JSON(fiber.Map{
			"query":   query,
			"results": results,
			"count":   len(results),
		})
	}

	enriched, summary, err := h.retrieval.SearchEnriched(ctx, userID, query, limit)
	if err != nil {
		log.Printf("❌ [SEARCH-API] Enriched search failed: %v", err)
		return errorJSON(c, err)
	}

	return c.JSON(fiber.Map{
		"query":   query,
		"results": enriched,
		"count":   len(enriched),
		"summary": summary,
	})
}
