package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/leonid-shevtsov/telegold"
	"github.com/yuin/goldmark"

	"engram/internal/database"
	"engram/internal/models"
	"engram/internal/utils"
)

const (
	// DigestWindow is how far back each digest looks
	DigestWindow = 24 * time.Hour

	// DigestSectionCap bounds each digest section so a busy day does not
	// produce an unreadable wall of text
	DigestSectionCap = 10

	// telegramChunkSize leaves margin under Telegram's 4096-char message limit
	telegramChunkSize = 4000

	digestPreviewChars = 120
)

// DigestService builds and delivers the daily memory digest: what an owner's
// graph gained, what got contradicted and what was archived over the last
// day, posted to their Telegram chat. Owners opt in via settings; delivery
// needs a bot token configured at the process level.
type DigestService struct {
	db            *database.DB
	storage       *MemoryStorageService
	relationships *RelationshipService
	settings      *SettingsService
	botToken      string
	apiBase       string
	httpClient    *http.Client
}

// NewDigestService creates the digest service. An empty botToken disables
// delivery without disabling digest building.
func NewDigestService(db *database.DB, storage *MemoryStorageService, relationships *RelationshipService, settings *SettingsService, botToken string) *DigestService {
	return &DigestService{
		db:            db,
		storage:       storage,
		relationships: relationships,
		settings:      settings,
		botToken:      botToken,
		apiBase:       "https://api.telegram.org",
		httpClient:    &http.Client{Timeout: 30 * time.Second},
	}
}

// DigestReport is one owner's digest for one window
type DigestReport struct {
	UserID         string
	Since          time.Time
	NewMemories    []*models.Memory
	Contradictions []ContradictionPair
	Archived       []*models.Memory
}

// ContradictionPair is a contradicts edge resolved to both memories. Newer
// is the memory that triggered the flag, Older the one flagged as outdated.
type ContradictionPair struct {
	Newer *models.Memory
	Older *models.Memory
}

// Empty reports whether the window produced nothing worth sending
func (r *DigestReport) Empty() bool {
	return len(r.NewMemories) == 0 && len(r.Contradictions) == 0 && len(r.Archived) == 0
}

// RunDailyDigest is the scheduled job entrypoint: build and deliver a digest
// to every opted-in owner. Per-owner failures are logged and skipped so one
// bad chat id never blocks the rest.
func (s *DigestService) RunDailyDigest(ctx context.Context) error {
	if s.botToken == "" {
		log.Println("⏭️ [DIGEST] No Telegram bot token configured, skipping delivery")
		return nil
	}

	recipients, err := s.settings.DigestRecipients(ctx)
	if err != nil {
		return fmt.Errorf("failed to load digest recipients: %w", err)
	}
	if len(recipients) == 0 {
		log.Println("⏭️ [DIGEST] No owners opted in")
		return nil
	}

	since := time.Now().UTC().Add(-DigestWindow)
	sent, empty, failed := 0, 0, 0

	for _, recipient := range recipients {
		report, err := s.BuildDigest(ctx, recipient.UserID, since)
		if err != nil {
			log.Printf("⚠️ [DIGEST] Failed to build digest for user %s: %v", recipient.UserID, err)
			failed++
			continue
		}
		if report.Empty() {
			empty++
			continue
		}

		if err := s.sendChunked(ctx, recipient.DigestChatID, report.Render()); err != nil {
			log.Printf("⚠️ [DIGEST] Failed to deliver digest for user %s: %v", recipient.UserID, err)
			failed++
			continue
		}
		sent++
	}

	log.Printf("📨 [DIGEST] Delivered %d digests (%d quiet, %d failed) to %d recipients", sent, empty, failed, len(recipients))
	return nil
}

// BuildDigest assembles one owner's report for everything since the cutoff
func (s *DigestService) BuildDigest(ctx context.Context, userID string, since time.Time) (*DigestReport, error) {
	report := &DigestReport{UserID: userID, Since: since}

	newMemories, err := s.storage.GetCreatedSince(ctx, userID, since, DigestSectionCap)
	if err != nil {
		return nil, err
	}
	report.NewMemories = newMemories

	pairs, err := s.contradictionPairs(ctx, userID, since)
	if err != nil {
		return nil, err
	}
	report.Contradictions = pairs

	archived, err := s.storage.GetArchivedSince(ctx, userID, since, DigestSectionCap)
	if err != nil {
		return nil, err
	}
	report.Archived = archived

	return report, nil
}

// contradictionPairs resolves recent contradicts edges to their memories on
// both ends. Edges whose memories vanished in the meantime are dropped.
func (s *DigestService) contradictionPairs(ctx context.Context, userID string, since time.Time) ([]ContradictionPair, error) {
	edges, err := s.relationships.ContradictionsSince(ctx, userID, since, DigestSectionCap)
	if err != nil {
		return nil, err
	}
	if len(edges) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(edges)*2)
	for _, edge := range edges {
		ids = append(ids, edge.SourceID, edge.TargetID)
	}
	// The contradicted side is often already archived; include it anyway
	memories, err := s.storage.GetByIDs(ctx, s.db, userID, ids, true)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*models.Memory, len(memories))
	for _, m := range memories {
		byID[m.ID] = m
	}

	pairs := make([]ContradictionPair, 0, len(edges))
	for _, edge := range edges {
		newer, ok := byID[edge.SourceID]
		if !ok {
			continue
		}
		older, ok := byID[edge.TargetID]
		if !ok {
			continue
		}
		pairs = append(pairs, ContradictionPair{Newer: newer, Older: older})
	}
	return pairs, nil
}

// Render produces the digest as Markdown, ready for Telegram conversion
func (r *DigestReport) Render() string {
	var b strings.Builder

	fmt.Fprintf(&b, "## 🧠 Memory digest — %s\n\n", time.Now().UTC().Format("Jan 2, 2006"))

	if len(r.NewMemories) > 0 {
		fmt.Fprintf(&b, "**New memories (%d)**\n", len(r.NewMemories))
		for _, m := range r.NewMemories {
			fmt.Fprintf(&b, "- %s _(%s)_\n", digestPreview(m.Content), m.Category)
		}
		b.WriteString("\n")
	}

	if len(r.Contradictions) > 0 {
		fmt.Fprintf(&b, "**Contradictions flagged (%d)**\n", len(r.Contradictions))
		for _, pair := range r.Contradictions {
			fmt.Fprintf(&b, "- \"%s\" contradicts \"%s\"\n", digestPreview(pair.Newer.Content), digestPreview(pair.Older.Content))
		}
		b.WriteString("\n")
	}

	if len(r.Archived) > 0 {
		fmt.Fprintf(&b, "**Archived (%d)**\n", len(r.Archived))
		for _, m := range r.Archived {
			reason := m.ArchiveReason()
			if reason == "" {
				reason = "archived"
			}
			fmt.Fprintf(&b, "- %s _(%s)_\n", digestPreview(m.Content), reason)
		}
		b.WriteString("\n")
	}

	return strings.TrimRight(b.String(), "\n") + "\n"
}

func digestPreview(content string) string {
	// Keep each digest line on one line
	flat := strings.Join(strings.Fields(content), " ")
	return utils.GetTextPreview(flat, digestPreviewChars)
}

// ============================================================================
// Telegram delivery
// ============================================================================

// Markdown converter using telegold (goldmark with a Telegram HTML renderer)
var digestMarkdownConverter = goldmark.New(goldmark.WithRenderer(telegold.NewRenderer()))

// renderTelegramHTML converts standard Markdown to Telegram-compatible HTML.
// Conversion failures fall back to the original text.
func renderTelegramHTML(text string) string {
	var buf bytes.Buffer
	if err := digestMarkdownConverter.Convert([]byte(text), &buf); err != nil {
		log.Printf("⚠️ [DIGEST] Markdown conversion failed: %v", err)
		return text
	}
	return buf.String()
}

// sendMessage posts one message via the Telegram Bot API. HTML parse mode is
// more reliable than MarkdownV2; when Telegram still rejects the entities it
// retries as plain text.
func (s *DigestService) sendMessage(ctx context.Context, chatID, text string) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", s.apiBase, s.botToken)

	payload := map[string]interface{}{
		"chat_id":    chatID,
		"text":       renderTelegramHTML(text),
		"parse_mode": "HTML",
	}
	body, _ := json.Marshal(payload)

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to build Telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send Telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == 200 {
		return nil
	}

	bodyBytes, _ := io.ReadAll(resp.Body)
	errStr := string(bodyBytes)

	if strings.Contains(errStr, "can't parse entities") {
		log.Printf("⚠️ [DIGEST] HTML parsing failed, retrying without parse_mode")

		payload = map[string]interface{}{
			"chat_id": chatID,
			"text":    flattenMarkdown(text),
		}
		body, _ = json.Marshal(payload)

		req, err = http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(body))
		if err != nil {
			return fmt.Errorf("failed to build Telegram request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp2, err := s.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("failed to send Telegram message (plain): %w", err)
		}
		defer resp2.Body.Close()

		if resp2.StatusCode != 200 {
			bodyBytes2, _ := io.ReadAll(resp2.Body)
			return fmt.Errorf("telegram API error (plain): %s", string(bodyBytes2))
		}
		return nil
	}

	return fmt.Errorf("telegram API error: %s", errStr)
}

var (
	digestCodeBlockPattern = regexp.MustCompile("```[a-zA-Z]*\\n([\\s\\S]*?)```")
	digestHeaderPattern    = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	digestLinkPattern      = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
)

// flattenMarkdown strips Markdown formatting for the plain text fallback
func flattenMarkdown(text string) string {
	text = strings.ReplaceAll(text, "**", "")
	text = strings.ReplaceAll(text, "__", "")
	text = digestCodeBlockPattern.ReplaceAllString(text, "$1")
	text = strings.ReplaceAll(text, "`", "")
	text = strings.ReplaceAll(text, "~~", "")
	text = digestHeaderPattern.ReplaceAllString(text, "")
	text = digestLinkPattern.ReplaceAllString(text, "$1 ($2)")
	return text
}

// sendChunked splits a long digest across messages; Telegram caps each at
// 4096 characters
func (s *DigestService) sendChunked(ctx context.Context, chatID, text string) error {
	if len(text) <= telegramChunkSize {
		return s.sendMessage(ctx, chatID, text)
	}

	chunks := splitForTelegram(text, telegramChunkSize)
	totalChunks := len(chunks)

	log.Printf("📨 [DIGEST] Splitting digest (%d chars) into %d chunks", len(text), totalChunks)

	for i, chunk := range chunks {
		if totalChunks > 1 {
			chunk = fmt.Sprintf("**[Part %d/%d]**\n\n%s", i+1, totalChunks, chunk)
		}

		if err := s.sendMessage(ctx, chatID, chunk); err != nil {
			return fmt.Errorf("failed to send chunk %d/%d: %w", i+1, totalChunks, err)
		}

		// Pace multi-part sends to stay under Telegram's rate limit
		if i < totalChunks-1 {
			time.Sleep(300 * time.Millisecond)
		}
	}

	return nil
}

// splitForTelegram splits text into chunks, preferring paragraph, line,
// sentence and word boundaries over hard cuts
func splitForTelegram(text string, maxSize int) []string {
	if len(text) <= maxSize {
		return []string{text}
	}

	var chunks []string
	remaining := text

	for len(remaining) > 0 {
		if len(remaining) <= maxSize {
			chunks = append(chunks, remaining)
			break
		}

		chunk := remaining[:maxSize]
		breakPoint := maxSize

		if idx := strings.LastIndex(chunk, "\n\n"); idx > maxSize/2 {
			breakPoint = idx + 2
		} else if idx := strings.LastIndex(chunk, "\n"); idx > maxSize/2 {
			breakPoint = idx + 1
		} else if idx := strings.LastIndex(chunk, ". "); idx > maxSize/2 {
			breakPoint = idx + 2
		} else if idx := strings.LastIndex(chunk, " "); idx > maxSize/2 {
			breakPoint = idx + 1
		}

		chunks = append(chunks, strings.TrimSpace(remaining[:breakPoint]))
		remaining = strings.TrimSpace(remaining[breakPoint:])
	}

	return chunks
}
