package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"time"

	"engram/internal/capture"
	"engram/internal/middleware"
	"engram/internal/services"
	"engram/internal/utils"

	"github.com/gofiber/fiber/v2"
)

const maxUploadSize = 20 * 1024 * 1024 // 20MB raw upload cap; extraction trims further

// CaptureHandler turns external sources (URLs, uploaded documents) into memories
type CaptureHandler struct {
	capture   *capture.Service
	ingestion *services.IngestionService
	limiter   *middleware.CaptureLimiter
}

// NewCaptureHandler creates a new capture handler
func NewCaptureHandler(captureService *capture.Service, ingestion *services.IngestionService, limiter *middleware.CaptureLimiter) *CaptureHandler {
	return &CaptureHandler{
		capture:   captureService,
		ingestion: ingestion,
		limiter:   limiter,
	}
}

// CaptureURLRequest is the request body for a URL capture
type CaptureURLRequest struct {
	URL           string `json:"url"`
	Category      string `json:"category,omitempty"`
	RetentionDays int    `json:"retention_days,omitempty"`
}

// CaptureURL fetches a web page, extracts its main content and ingests it
// POST /api/v1/capture/url
func (h *CaptureHandler) CaptureURL(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}

	var req CaptureURLRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if strings.TrimSpace(req.URL) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "URL is required",
		})
	}

	// One capture at a time per owner; the fetch alone can take tens of seconds
	if !h.limiter.AcquireCapture(userID) {
		log.Printf("⚠️  [CAPTURE-API] Concurrent capture limit hit for user %s", userID)
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error": "A capture is already in progress. Wait for it to finish.",
		})
	}
	defer h.limiter.ReleaseCapture(userID)

	// Fetch (robots.txt, rate tiers) plus extraction plus ingestion
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	page, err := h.capture.FetchPage(ctx, userID, req.URL)
	if err != nil {
		return h.captureError(c, req.URL, err)
	}

	content := page.Content
	if page.Title != "" {
		content = page.Title + "\n\n" + page.Content
	}

	metadata := map[string]interface{}{
		"capture_type": "url",
		"title":        page.Title,
		"truncated":    page.Truncated,
	}
	if page.Author != "" {
		metadata["author"] = page.Author
	}
	if !page.Published.IsZero() {
		metadata["published"] = page.Published.Format(time.RFC3339)
	}

	memory, err := h.ingestion.Ingest(ctx, userID, &services.IngestRequest{
		Content:       content,
		SourceURL:     page.URL,
		Category:      req.Category,
		RetentionDays: req.RetentionDays,
		Metadata:      metadata,
	})
	if err != nil {
		log.Printf("❌ [CAPTURE-API] Failed to ingest captured page %s: %v", page.URL, err)
		return errorJSON(c, err)
	}

	if err := h.limiter.IncrementCount(userID); err != nil {
		log.Printf("⚠️  [CAPTURE-API] Failed to increment capture count for user %s: %v", userID, err)
	}

	log.Printf("✅ [CAPTURE-API] Captured %s into memory %s for user %s", page.URL, memory.ID, userID)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"memory":    memory,
		"title":     page.Title,
		"truncated": page.Truncated,
	})
}

// CaptureDocument extracts text from an uploaded file and ingests it
// POST /api/v1/capture/document (multipart: file, category?, retention_days?)
func (h *CaptureHandler) CaptureDocument(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		log.Printf("❌ [CAPTURE-API] Failed to parse file: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "No file provided or invalid file",
		})
	}

	if fileHeader.Size > maxUploadSize {
		log.Printf("⚠️  [CAPTURE-API] File too large: %d bytes (max %d)", fileHeader.Size, maxUploadSize)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": fmt.Sprintf("File too large. Maximum size is %d MB", maxUploadSize/(1024*1024)),
		})
	}

	file, err := fileHeader.Open()
	if err != nil {
		log.Printf("❌ [CAPTURE-API] Failed to open file: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to process file",
		})
	}
	defer file.Close()

	fileData, err := io.ReadAll(file)
	if err != nil {
		log.Printf("❌ [CAPTURE-API] Failed to read file: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to read file",
		})
	}

	doc, err := utils.ExtractDocument(fileHeader.Filename, fileData)
	if err != nil {
		log.Printf("⚠️  [CAPTURE-API] Extraction failed for %s: %v", fileHeader.Filename, err)
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": fmt.Sprintf("Could not extract text: %v", err),
		})
	}

	if !h.limiter.AcquireCapture(userID) {
		log.Printf("⚠️  [CAPTURE-API] Concurrent capture limit hit for user %s", userID)
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error": "A capture is already in progress. Wait for it to finish.",
		})
	}
	defer h.limiter.ReleaseCapture(userID)

	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	retentionDays, _ := strconv.Atoi(c.FormValue("retention_days", "0"))

	memory, err := h.ingestion.Ingest(ctx, userID, &services.IngestRequest{
		Content:       doc.Text,
		Category:      c.FormValue("category"),
		RetentionDays: retentionDays,
		Metadata: map[string]interface{}{
			"capture_type": "document",
			"filename":     fileHeader.Filename,
			"format":       doc.Format,
			"word_count":   doc.WordCount,
			"page_count":   doc.PageCount,
		},
	})
	if err != nil {
		log.Printf("❌ [CAPTURE-API] Failed to ingest document %s: %v", fileHeader.Filename, err)
		return errorJSON(c, err)
	}

	if err := h.limiter.IncrementCount(userID); err != nil {
		log.Printf("⚠️  [CAPTURE-API] Failed to increment capture count for user %s: %v", userID, err)
	}

	log.Printf("✅ [CAPTURE-API] Captured document %s (%s, %d words) into memory %s",
		fileHeader.Filename, doc.Format, doc.WordCount, memory.ID)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"memory":     memory,
		"format":     doc.Format,
		"word_count": doc.WordCount,
		"page_count": doc.PageCount,
	})
}

// RemainingCaptures reports today's remaining capture quota
// GET /api/v1/capture/quota
func (h *CaptureHandler) RemainingCaptures(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}

	remaining, err := h.limiter.RemainingCaptures(userID)
	if err != nil {
		log.Printf("⚠️  [CAPTURE-API] Failed to read capture quota for user %s: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to read capture quota",
		})
	}

	return c.JSON(fiber.Map{
		"remaining": remaining,
	})
}

// captureError maps capture sentinel errors to client-facing statuses
func (h *CaptureHandler) captureError(c *fiber.Ctx, url string, err error) error {
	switch {
	case errors.Is(err, capture.ErrInvalidURL):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid or unsupported URL",
		})
	case errors.Is(err, capture.ErrRobotsDisallowed):
		log.Printf("⚠️  [CAPTURE-API] Robots.txt disallows %s", url)
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": "The site's robots.txt disallows capturing this page",
		})
	case errors.Is(err, capture.ErrUnsupportedContent):
		return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
			"error": "The URL does not point to a capturable page",
		})
	case errors.Is(err, capture.ErrNoContent):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": "No readable content could be extracted from the page",
		})
	default:
		log.Printf("❌ [CAPTURE-API] Fetch failed for %s: %v", url, err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": "Failed to fetch the page",
		})
	}
}
