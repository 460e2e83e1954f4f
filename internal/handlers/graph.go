package handlers

import (
	"context"
	"log"
	"strconv"
	"time"

	"engram/internal/services"

	"github.com/gofiber/fiber/v2"
)

// GraphHandler exposes the relationship layer of the memory graph
type GraphHandler struct {
	storage   *services.MemoryStorageService
	relations *services.RelationshipService
}

// NewGraphHandler creates a new graph handler
func NewGraphHandler(storage *services.MemoryStorageService, relations *services.RelationshipService) *GraphHandler {
	return &GraphHandler{storage: storage, relations: relations}
}

// GetGraph returns the owner's active graph: nodes plus the edges between them
// GET /api/v1/graph
func (h *GraphHandler) GetGraph(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	memories, err := h.storage.GetActiveMemories(ctx, userID)
	if err != nil {
		log.Printf("❌ [GRAPH-API] Failed to load active memories: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to retrieve graph",
		})
	}

	ids := make([]string, len(memories))
	for i, m := range memories {
		ids[i] = m.ID
	}

	edges, err := h.relations.GetRelationshipsFor(ctx, userID, ids)
	if err != nil {
		log.Printf("❌ [GRAPH-API] Failed to load edges: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to retrieve graph",
		})
	}

	return c.JSON(fiber.Map{
		"nodes": memories,
		"edges": edges,
	})
}

// ListRelationships returns the most recent edges in the owner's graph
// GET /api/v1/graph/relationships?limit=50
func (h *GraphHandler) ListRelationships(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}

	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	if limit < 1 || limit > 200 {
		limit = 50
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	relationships, err := h.relations.ListRelationships(ctx, userID, limit)
	if err != nil {
		log.Printf("❌ [GRAPH-API] Failed to list relationships: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to retrieve relationships",
		})
	}

	return c.JSON(fiber.Map{
		"relationships": relationships,
		"count":         len(relationships),
	})
}

// ListContradictions returns contradiction edges detected since a given time
// GET /api/v1/graph/contradictions?since=2025-01-01T00:00:00Z&limit=50
func (h *GraphHandler) ListContradictions(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}

	// Default window is the last 7 days
	since := time.Now().UTC().Add(-7 * 24 * time.Hour)
	if raw := c.Query("since", ""); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid 'since' parameter, expected RFC3339 timestamp",
			})
		}
		since = parsed
	}

	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	if limit < 1 || limit > 200 {
		limit = 50
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	contradictions, err := h.relations.ContradictionsSince(ctx, userID, since, limit)
	if err != nil {
		log.Printf("❌ [GRAPH-API] Failed to list contradictions: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to retrieve contradictions",
		})
	}

	return c.JSON(fiber.Map{
		"contradictions": contradictions,
		"since":          since.Format(time.RFC3339),
		"count":          len(contradictions),
	})
}
