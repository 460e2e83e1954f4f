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

// MemoryHandler handles memory CRUD and lifecycle API endpoints
type MemoryHandler struct {
	ingestion *services.IngestionService
	storage   *services.MemoryStorageService
	lifecycle *services.LifecycleService
	relations *services.RelationshipService
	entities  *services.EntityService
}

// NewMemoryHandler creates a new memory handler
func NewMemoryHandler(
	ingestion *services.IngestionService,
	storage *services.MemoryStorageService,
	lifecycle *services.LifecycleService,
	relations *services.RelationshipService,
	entities *services.EntityService,
) *MemoryHandler {
	return &MemoryHandler{
		ingestion: ingestion,
		storage:   storage,
		lifecycle: lifecycle,
		relations: relations,
		entities:  entities,
	}
}

// IngestMemoryRequest is the request body for creating a memory
type IngestMemoryRequest struct {
	Content       string                 `json:"content"`
	SourceURL     string                 `json:"source_url,omitempty"`
	Category      string                 `json:"category,omitempty"`       // Explicit override; otherwise the oracle decides
	RetentionDays int                    `json:"retention_days,omitempty"` // 0 uses the owner's default
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// IngestMemory runs the full write path for a new memory
// POST /api/v1/memories
func (h *MemoryHandler) IngestMemory(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}

	var req IngestMemoryRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	// Ingestion can take several oracle round-trips
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	memory, err := h.ingestion.Ingest(ctx, userID, &services.IngestRequest{
		Content:       req.Content,
		SourceURL:     req.SourceURL,
		Category:      req.Category,
		RetentionDays: req.RetentionDays,
		Metadata:      req.Metadata,
	})
	if err != nil {
		log.Printf("❌ [MEMORY-API] Failed to ingest memory: %v", err)
		return errorJSON(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(memory)
}

// ListMemories returns a paginated list of memories with optional filters
// GET /api/v1/memories?category=preference&includeArchived=false&page=1&pageSize=20
func (h *MemoryHandler) ListMemories(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}

	category := c.Query("category", "")
	includeArchived := c.Query("includeArchived", "false") == "true"
	page, _ := strconv.Atoi(c.Query("page", "1"))
	pageSize, _ := strconv.Atoi(c.Query("pageSize", "20"))

	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	if category != "" && !models.ValidCategories[category] {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid category. Must be one of: fact, event, preference, concept, entity",
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	memories, total, err := h.storage.ListMemories(ctx, userID, category, includeArchived, page, pageSize)
	if err != nil {
		log.Printf("❌ [MEMORY-API] Failed to list memories: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to retrieve memories",
		})
	}

	return c.JSON(fiber.Map{
		"memories": memories,
		"pagination": fiber.Map{
			"page":        page,
			"page_size":   pageSize,
			"total":       total,
			"total_pages": (total + int64(pageSize) - 1) / int64(pageSize),
		},
	})
}

// GetMemory returns a single memory by ID
// GET /api/v1/memories/:id
func (h *MemoryHandler) GetMemory(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}
	memoryID := c.Params("id")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	memory, err := h.storage.GetMemory(ctx, userID, memoryID)
	if err != nil {
		return errorJSON(c, err)
	}

	return c.JSON(memory)
}

// GetRelated returns a memory's 1-hop graph neighborhood
// GET /api/v1/memories/:id/related
func (h *MemoryHandler) GetRelated(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}
	memoryID := c.Params("id")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Owner check first so a foreign ID reads as not-found, not an empty list
	if _, err := h.storage.GetMemory(ctx, userID, memoryID); err != nil {
		return errorJSON(c, err)
	}

	connected, err := h.relations.Neighborhood(ctx, userID, memoryID)
	if err != nil {
		log.Printf("❌ [MEMORY-API] Failed to load neighborhood: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to retrieve related memories",
		})
	}

	return c.JSON(fiber.Map{
		"memory_id": memoryID,
		"connected": connected,
	})
}

// GetMentions returns the entities mentioned in a memory
// GET /api/v1/memories/:id/mentions
func (h *MemoryHandler) GetMentions(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}
	memoryID := c.Params("id")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	mentions, err := h.entities.GetMentions(ctx, userID, memoryID)
	if err != nil {
		log.Printf("❌ [MEMORY-API] Failed to get mentions: %v", err)
		return errorJSON(c, err)
	}

	return c.JSON(fiber.Map{
		"memory_id": memoryID,
		"mentions":  mentions,
	})
}

// DeleteMemory permanently deletes a memory and its edges, vectors and mentions
// DELETE /api/v1/memories/:id
func (h *MemoryHandler) DeleteMemory(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}
	memoryID := c.Params("id")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := h.storage.DeleteMemory(ctx, userID, memoryID); err != nil {
		log.Printf("❌ [MEMORY-API] Failed to delete memory: %v", err)
		return errorJSON(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Memory deleted successfully",
	})
}

// ArchiveMemory archives a memory. Archival is terminal: the row stays
// readable by id but never returns to search or the active graph.
// POST /api/v1/memories/:id/archive
func (h *MemoryHandler) ArchiveMemory(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}
	memoryID := c.Params("id")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := h.lifecycle.Archive(ctx, userID, memoryID, models.ArchiveReasonUserArchived, nil); err != nil {
		log.Printf("❌ [MEMORY-API] Failed to archive memory: %v", err)
		return errorJSON(c, err)
	}

	return c.JSON(fiber.Map{
		"success": true,
		"message": "Memory archived successfully",
	})
}

// SetImportanceRequest is the request body for an importance update
type SetImportanceRequest struct {
	Importance float64 `json:"importance"`
}

// SetImportance overrides the oracle-assigned importance of a memory
// PUT /api/v1/memories/:id/importance
func (h *MemoryHandler) SetImportance(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}
	memoryID := c.Params("id")

	var req SetImportanceRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := h.storage.SetImportance(ctx, userID, memoryID, req.Importance); err != nil {
		log.Printf("❌ [MEMORY-API] Failed to set importance: %v", err)
		return errorJSON(c, err)
	}

	return c.JSON(fiber.Map{
		"success":    true,
		"importance": req.Importance,
	})
}

// GetMemoryStats returns statistics about the owner's graph
// GET /api/v1/memories/stats
func (h *MemoryHandler) GetMemoryStats(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stats, err := h.storage.GetMemoryStats(ctx, userID)
	if err != nil {
		log.Printf("❌ [MEMORY-API] Failed to get memory stats: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to retrieve memory statistics",
		})
	}

	return c.JSON(stats)
}
