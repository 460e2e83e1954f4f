package handlers

import (
	"context"
	"fmt"
	"log"
	"time"

	"engram/internal/export"

	"github.com/gofiber/fiber/v2"
)

// ExportHandler serves full-graph exports in several formats
type ExportHandler struct {
	export *export.Service
}

// NewExportHandler creates a new export handler
func NewExportHandler(exportService *export.Service) *ExportHandler {
	return &ExportHandler{export: exportService}
}

// ExportJSON returns the owner's complete graph as JSON
// GET /api/v1/export/json?includeArchived=true
func (h *ExportHandler) ExportJSON(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	graph, err := h.export.BuildExport(ctx, userID, c.Query("includeArchived", "true") == "true")
	if err != nil {
		log.Printf("❌ [EXPORT-API] JSON export failed for user %s: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to build export",
		})
	}

	c.Set("Content-Disposition", exportFilename("json"))
	return c.JSON(graph)
}

// ExportMarkdown returns the owner's graph as a readable markdown report
// GET /api/v1/export/markdown?includeArchived=false
func (h *ExportHandler) ExportMarkdown(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	graph, err := h.export.BuildExport(ctx, userID, c.Query("includeArchived", "false") == "true")
	if err != nil {
		log.Printf("❌ [EXPORT-API] Markdown export failed for user %s: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to build export",
		})
	}

	c.Set("Content-Type", "text/markdown; charset=utf-8")
	c.Set("Content-Disposition", exportFilename("md"))
	return c.SendString(h.export.RenderMarkdown(graph))
}

// ExportPDF renders the markdown report to PDF via headless Chrome
// GET /api/v1/export/pdf
func (h *ExportHandler) ExportPDF(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Authentication required",
		})
	}

	if !h.export.PDFEnabled() {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "PDF export is not available on this server",
		})
	}

	// Headless Chrome startup plus render on top of the graph walk
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	graph, err := h.export.BuildExport(ctx, userID, c.Query("includeArchived", "false") == "true")
	if err != nil {
		log.Printf("❌ [EXPORT-API] PDF export failed for user %s: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to build export",
		})
	}

	pdfData, err := h.export.RenderPDF(ctx, graph)
	if err != nil {
		log.Printf("❌ [EXPORT-API] PDF render failed for user %s: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to render PDF",
		})
	}

	log.Printf("📄 [EXPORT-API] Rendered PDF export for user %s (%d bytes)", userID, len(pdfData))
	c.Set("Content-Type", "application/pdf")
	c.Set("Content-Disposition", exportFilename("pdf"))
	return c.Send(pdfData)
}

// exportFilename builds a dated attachment disposition
func exportFilename(ext string) string {
	return fmt.Sprintf(`attachment; filename="memory-graph-%s.%s"`, time.Now().UTC().Format("2006-01-02"), ext)
}
