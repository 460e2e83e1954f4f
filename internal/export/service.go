package export

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"engram/internal/models"
	"engram/internal/services"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

const (
	// Exports walk the whole graph; cap pathological owners rather than OOM
	maxExportMemories = 10000
	maxExportEdges    = 10000
	maxExportEntities = 5000

	pdfRenderTimeout = 30 * time.Second
)

// Service renders an owner's full memory graph as JSON, markdown or PDF
type Service struct {
	storage   *services.MemoryStorageService
	relations *services.RelationshipService
	entities  *services.EntityService

	chromePath string // Headless Chrome binary; empty disables PDF export
}

// NewService creates a new export service
func NewService(storage *services.MemoryStorageService, relations *services.RelationshipService, entities *services.EntityService, chromePath string) *Service {
	return &Service{
		storage:    storage,
		relations:  relations,
		entities:   entities,
		chromePath: chromePath,
	}
}

// PDFEnabled reports whether a Chrome binary was configured
func (s *Service) PDFEnabled() bool {
	return s.chromePath != ""
}

// GraphExport is the complete serializable view of one owner's graph
type GraphExport struct {
	UserID        string                 `json:"user_id"`
	GeneratedAt   time.Time              `json:"generated_at"`
	Stats         *models.MemoryStats    `json:"stats"`
	Memories      []*models.Memory       `json:"memories"`
	Relationships []*models.Relationship `json:"relationships"`
	Entities      []*models.Entity       `json:"entities"`
}

// BuildExport assembles everything the owner's graph contains
func (s *Service) BuildExport(ctx context.Context, userID string, includeArchived bool) (*GraphExport, error) {
	stats, err := s.storage.GetMemoryStats(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load stats: %w", err)
	}

	memories, err := s.collectMemories(ctx, userID, includeArchived)
	if err != nil {
		return nil, err
	}

	relationships, err := s.relations.ListRelationships(ctx, userID, maxExportEdges)
	if err != nil {
		return nil, fmt.Errorf("failed to load relationships: %w", err)
	}

	entities, err := s.entities.ListEntities(ctx, userID, "", maxExportEntities)
	if err != nil {
		return nil, fmt.Errorf("failed to load entities: %w", err)
	}

	return &GraphExport{
		UserID:        userID,
		GeneratedAt:   time.Now().UTC(),
		Stats:         stats,
		Memories:      memories,
		Relationships: relationships,
		Entities:      entities,
	}, nil
}

// collectMemories pages through the store until exhausted or capped
func (s *Service) collectMemories(ctx context.Context, userID string, includeArchived bool) ([]*models.Memory, error) {
	const pageSize = 500
	var all []*models.Memory

	for p := 1; len(all) < maxExportMemories; p++ {
		batch, total, err := s.storage.ListMemories(ctx, userID, "", includeArchived, p, pageSize)
		if err != nil {
			return nil, fmt.Errorf("failed to load memories (page %d): %w", p, err)
		}
		all = append(all, batch...)
		if int64(len(all)) >= total || len(batch) == 0 {
			break
		}
	}
	if len(all) > maxExportMemories {
		all = all[:maxExportMemories]
	}
	return all, nil
}

// RenderMarkdown formats the export as a readable graph report
func (s *Service) RenderMarkdown(export *GraphExport) string {
	var b strings.Builder

	b.WriteString("# Memory Graph Export\n\n")
	fmt.Fprintf(&b, "Generated %s\n\n", export.GeneratedAt.Format("2006-01-02 15:04 UTC"))

	// Overview
	b.WriteString("## Overview\n\n")
	fmt.Fprintf(&b, "| | |\n|---|---|\n")
	fmt.Fprintf(&b, "| Total memories | %d |\n", export.Stats.TotalMemories)
	fmt.Fprintf(&b, "| Active | %d |\n", export.Stats.ActiveMemories)
	fmt.Fprintf(&b, "| Archived | %d |\n", export.Stats.ArchivedMemories)
	fmt.Fprintf(&b, "| Relationships | %d |\n", export.Stats.RelationshipCount)
	fmt.Fprintf(&b, "| Entities | %d |\n", export.Stats.EntityCount)
	b.WriteString("\n")

	// Memories grouped by category, newest first within each
	byCategory := make(map[string][]*models.Memory)
	for _, m := range export.Memories {
		byCategory[m.Category] = append(byCategory[m.Category], m)
	}
	categories := make([]string, 0, len(byCategory))
	for cat := range byCategory {
		categories = append(categories, cat)
	}
	sort.Strings(categories)

	b.WriteString("## Memories\n\n")
	for _, cat := range categories {
		group := byCategory[cat]
		sort.Slice(group, func(i, j int) bool {
			return group[i].CreatedAt.After(group[j].CreatedAt)
		})

		fmt.Fprintf(&b, "### %s (%d)\n\n", titleCase(cat), len(group))
		for _, m := range group {
			marker := ""
			if m.IsArchived {
				marker = " _(archived"
				if reason := m.ArchiveReason(); reason != "" {
					marker += ": " + reason
				}
				marker += ")_"
			}
			fmt.Fprintf(&b, "- **%s**%s — %s\n", m.CreatedAt.Format("2006-01-02"), marker, escapeMarkdown(m.Content))
			if m.SourceURL != "" {
				fmt.Fprintf(&b, "  - source: %s\n", m.SourceURL)
			}
			if len(m.Tags) > 0 {
				fmt.Fprintf(&b, "  - tags: %s\n", strings.Join(m.Tags, ", "))
			}
		}
		b.WriteString("\n")
	}

	// Relationship edges, contradictions called out
	if len(export.Relationships) > 0 {
		b.WriteString("## Relationships\n\n")
		contentByID := make(map[string]string, len(export.Memories))
		for _, m := range export.Memories {
			contentByID[m.ID] = m.Content
		}
		for _, rel := range export.Relationships {
			src := previewOrID(contentByID, rel.SourceID)
			dst := previewOrID(contentByID, rel.TargetID)
			fmt.Fprintf(&b, "- \"%s\" **%s** \"%s\" (%.2f)\n", src, rel.Type, dst, rel.Strength)
		}
		b.WriteString("\n")
	}

	// Entity registry
	if len(export.Entities) > 0 {
		b.WriteString("## Entities\n\n")
		b.WriteString("| Entity | Type | Mentions | First seen |\n|---|---|---|---|\n")
		for _, e := range export.Entities {
			fmt.Fprintf(&b, "| %s | %s | %d | %s |\n",
				escapeMarkdown(e.Value), e.Type, e.MentionCount, e.FirstSeen.Format("2006-01-02"))
		}
		b.WriteString("\n")
	}

	return b.String()
}

// RenderPDF converts the markdown report to a PDF via headless Chrome
func (s *Service) RenderPDF(ctx context.Context, export *GraphExport) ([]byte, error) {
	if s.chromePath == "" {
		return nil, fmt.Errorf("PDF export disabled: no Chrome binary configured")
	}

	markdown := s.RenderMarkdown(export)

	var htmlBuf bytes.Buffer
	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
		),
	)
	if err := md.Convert([]byte(markdown), &htmlBuf); err != nil {
		return nil, fmt.Errorf("failed to convert markdown: %w", err)
	}

	fullHTML := fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Memory Graph Export</title>
    <style>
        body {
            font-family: 'Segoe UI', Arial, sans-serif;
            line-height: 1.6;
            max-width: 800px;
            margin: 0 auto;
            padding: 40px 20px;
            color: #333;
        }
        h1, h2, h3 { color: #2c3e50; }
        code { background-color: #f4f4f4; padding: 2px 6px; border-radius: 3px; }
        table { border-collapse: collapse; width: 100%%; margin: 20px 0; }
        th, td { border: 1px solid #ddd; padding: 8px; text-align: left; }
        th { background-color: #3498db; color: white; }
        li { margin-bottom: 4px; }
    </style>
</head>
<body>
    %s
</body>
</html>`, htmlBuf.String())

	return s.printPDF(ctx, fullHTML)
}

// printPDF drives headless Chrome to render the HTML to A4 PDF bytes
func (s *Service) printPDF(ctx context.Context, htmlContent string) ([]byte, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(s.chromePath),
		chromedp.NoSandbox,
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	defer allocCancel()

	chromeCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	chromeCtx, cancel = context.WithTimeout(chromeCtx, pdfRenderTimeout)
	defer cancel()

	var pdfBuffer []byte
	if err := chromedp.Run(chromeCtx,
		chromedp.Navigate("about:blank"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			frameTree, err := page.GetFrameTree().Do(ctx)
			if err != nil {
				return err
			}
			return page.SetDocumentContent(frameTree.Frame.ID, htmlContent).Do(ctx)
		}),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			pdfBuffer, _, err = page.PrintToPDF().
				WithPrintBackground(true).
				WithDisplayHeaderFooter(false).
				WithMarginTop(0.4).
				WithMarginBottom(0.4).
				WithMarginLeft(0.4).
				WithMarginRight(0.4).
				WithPaperWidth(8.27).   // A4 width in inches
				WithPaperHeight(11.69). // A4 height in inches
				WithScale(1.0).
				Do(ctx)
			return err
		}),
	); err != nil {
		return nil, fmt.Errorf("chrome render failed: %w", err)
	}

	return pdfBuffer, nil
}

// previewOrID shortens memory content for edge listings, falling back to the ID
func previewOrID(contentByID map[string]string, id string) string {
	content, ok := contentByID[id]
	if !ok || content == "" {
		return id
	}
	runes := []rune(content)
	if len(runes) > 60 {
		return string(runes[:57]) + "..."
	}
	return content
}

// escapeMarkdown neutralizes characters that would break table/list rendering
func escapeMarkdown(text string) string {
	text = strings.ReplaceAll(text, "|", "\\|")
	text = strings.ReplaceAll(text, "\n", " ")
	return text
}

// titleCase uppercases the first letter of a string (replaces deprecated strings.Title).
func titleCase(s string) string {
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[size:]
}
