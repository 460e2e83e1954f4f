package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"engram/internal/database"
	"engram/internal/models"
)

// insertDigestMemory seeds one memory row with a controlled creation time
func insertDigestMemory(t *testing.T, storage *MemoryStorageService, db *database.DB, userID, content string, createdAt time.Time) *models.Memory {
	t.Helper()

	m := &models.Memory{
		ID:         uuid.NewString(),
		UserID:     userID,
		Content:    content,
		Category:   models.CategoryFact,
		Importance: 0.5,
		ExpiresAt:  createdAt.Add(90 * 24 * time.Hour),
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}
	if err := storage.Insert(context.Background(), db, m); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	return m
}

// insertContradictsEdge seeds one contradicts relationship between two memories
func insertContradictsEdge(t *testing.T, db *database.DB, sourceID, targetID string) {
	t.Helper()

	_, err := db.ExecContext(context.Background(), `
		INSERT INTO relationships (id, source_id, target_id, type, strength, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), sourceID, targetID, models.RelationContradicts, 0.9, database.FormatTime(time.Now()))
	if err != nil {
		t.Fatalf("failed to seed relationship: %v", err)
	}
}

func newTestDigestService(t *testing.T, botToken string) (*DigestService, *MemoryStorageService, *database.DB) {
	t.Helper()

	db := newTestDB(t)
	storage := NewMemoryStorageService(db, nil)
	relationships := &RelationshipService{db: db, storage: storage}
	settings := NewSettingsService(db)
	return NewDigestService(db, storage, relationships, settings, botToken), storage, db
}

// TestDigestService_BuildDigest verifies the report covers exactly the
// window: recent memories and archivals in, older activity out, and
// contradicts edges resolved to both memories.
func TestDigestService_BuildDigest(t *testing.T) {
	svc, storage, db := newTestDigestService(t, "")
	ctx := context.Background()
	now := time.Now().UTC()

	fresh := insertDigestMemory(t, storage, db, "alice", "The team switched to trunk-based development", now.Add(-2*time.Hour))
	older := insertDigestMemory(t, storage, db, "alice", "The team uses long-lived feature branches", now.Add(-48*time.Hour))
	insertContradictsEdge(t, db, fresh.ID, older.ID)

	archived := insertDigestMemory(t, storage, db, "alice", "Release cadence is monthly", now.Add(-30*time.Hour))
	if err := storage.ArchiveMemory(ctx, db, "alice", archived.ID, models.ArchiveReasonUserArchived, nil); err != nil {
		t.Fatalf("ArchiveMemory() error = %v", err)
	}

	report, err := svc.BuildDigest(ctx, "alice", now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("BuildDigest() error = %v", err)
	}

	if len(report.NewMemories) != 1 {
		t.Fatalf("NewMemories = %d, want 1 (window should exclude the 48h-old memory)", len(report.NewMemories))
	}
	if report.NewMemories[0].ID != fresh.ID {
		t.Errorf("NewMemories[0].ID = %s, want %s", report.NewMemories[0].ID, fresh.ID)
	}

	if len(report.Contradictions) != 1 {
		t.Fatalf("Contradictions = %d, want 1", len(report.Contradictions))
	}
	pair := report.Contradictions[0]
	if pair.Newer.ID != fresh.ID || pair.Older.ID != older.ID {
		t.Errorf("contradiction pair = (%s, %s), want (%s, %s)", pair.Newer.ID, pair.Older.ID, fresh.ID, older.ID)
	}

	if len(report.Archived) != 1 {
		t.Fatalf("Archived = %d, want 1", len(report.Archived))
	}
	if report.Archived[0].ID != archived.ID {
		t.Errorf("Archived[0].ID = %s, want %s", report.Archived[0].ID, archived.ID)
	}
	if report.Empty() {
		t.Error("Empty() = true for a populated report")
	}
}

// TestDigestService_BuildDigestIsolation verifies one owner's digest never
// picks up another owner's activity
func TestDigestService_BuildDigestIsolation(t *testing.T) {
	svc, storage, db := newTestDigestService(t, "")
	now := time.Now().UTC()

	insertDigestMemory(t, storage, db, "alice", "Alice prefers dark roast coffee", now.Add(-time.Hour))

	report, err := svc.BuildDigest(context.Background(), "bob", now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("BuildDigest() error = %v", err)
	}
	if !report.Empty() {
		t.Errorf("bob's digest picked up alice's activity: %+v", report)
	}
}

// TestDigestReport_Render checks the Markdown layout: section headers with
// counts and one line per item
func TestDigestReport_Render(t *testing.T) {
	report := &DigestReport{
		UserID: "alice",
		NewMemories: []*models.Memory{
			{Content: "Standup moved to 9:30", Category: models.CategoryEvent},
		},
		Contradictions: []ContradictionPair{
			{
				Newer: &models.Memory{Content: "Deploys happen on Tuesdays"},
				Older: &models.Memory{Content: "Deploys happen on Fridays"},
			},
		},
		Archived: []*models.Memory{
			{Content: "Old office address"},
		},
	}

	text := report.Render()

	for _, want := range []string{
		"Memory digest",
		"**New memories (1)**",
		"Standup moved to 9:30",
		"**Contradictions flagged (1)**",
		"\"Deploys happen on Tuesdays\" contradicts \"Deploys happen on Fridays\"",
		"**Archived (1)**",
		"Old office address",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("Render() missing %q in:\n%s", want, text)
		}
	}

	empty := &DigestReport{UserID: "alice"}
	if !empty.Empty() {
		t.Error("Empty() = false for a report with no activity")
	}
}

type telegramCall struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// TestDigestService_RunDailyDigest delivers to opted-in owners with activity
// and stays quiet for the rest
func TestDigestService_RunDailyDigest(t *testing.T) {
	var mu sync.Mutex
	var calls []telegramCall

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var call telegramCall
		if err := json.NewDecoder(r.Body).Decode(&call); err != nil {
			t.Errorf("failed to decode Telegram payload: %v", err)
		}
		mu.Lock()
		calls = append(calls, call)
		mu.Unlock()
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	svc, storage, db := newTestDigestService(t, "test-token")
	svc.apiBase = server.URL
	ctx := context.Background()

	// alice has activity, bob opted in but had a quiet day
	enabled := true
	aliceChat := "12345"
	bobChat := "67890"
	if _, err := svc.settings.Update(ctx, "alice", &models.UpdateOwnerSettingsRequest{DigestEnabled: &enabled, DigestChatID: &aliceChat}); err != nil {
		t.Fatalf("Update(alice) error = %v", err)
	}
	if _, err := svc.settings.Update(ctx, "bob", &models.UpdateOwnerSettingsRequest{DigestEnabled: &enabled, DigestChatID: &bobChat}); err != nil {
		t.Fatalf("Update(bob) error = %v", err)
	}
	insertDigestMemory(t, storage, db, "alice", "Sprint review moved to Thursday", time.Now().UTC().Add(-time.Hour))

	if err := svc.RunDailyDigest(ctx); err != nil {
		t.Fatalf("RunDailyDigest() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 1 {
		t.Fatalf("Telegram calls = %d, want 1 (quiet digests must not send)", len(calls))
	}
	if calls[0].ChatID != "12345" {
		t.Errorf("chat_id = %s, want 12345", calls[0].ChatID)
	}
	if calls[0].ParseMode != "HTML" {
		t.Errorf("parse_mode = %s, want HTML", calls[0].ParseMode)
	}
	if !strings.Contains(calls[0].Text, "Memory digest") {
		t.Errorf("digest text missing header: %q", calls[0].Text)
	}
}

// TestDigestService_RunDailyDigestNoToken verifies the job is a no-op
// without a bot token instead of failing
func TestDigestService_RunDailyDigestNoToken(t *testing.T) {
	svc, _, _ := newTestDigestService(t, "")
	if err := svc.RunDailyDigest(context.Background()); err != nil {
		t.Fatalf("RunDailyDigest() error = %v, want nil skip", err)
	}
}

// TestDigestService_SendPlainTextFallback simulates Telegram rejecting the
// HTML entities and expects a plain text retry
func TestDigestService_SendPlainTextFallback(t *testing.T) {
	var mu sync.Mutex
	var calls []telegramCall

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var call telegramCall
		json.NewDecoder(r.Body).Decode(&call)
		mu.Lock()
		calls = append(calls, call)
		n := len(calls)
		mu.Unlock()

		if n == 1 {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"ok":false,"description":"Bad Request: can't parse entities"}`))
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	svc, _, _ := newTestDigestService(t, "test-token")
	svc.apiBase = server.URL

	if err := svc.sendMessage(context.Background(), "12345", "**bold** digest with a [link](https://example.com)"); err != nil {
		t.Fatalf("sendMessage() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(calls) != 2 {
		t.Fatalf("Telegram calls = %d, want 2 (HTML then plain retry)", len(calls))
	}
	if calls[1].ParseMode != "" {
		t.Errorf("retry parse_mode = %q, want empty", calls[1].ParseMode)
	}
	if strings.Contains(calls[1].Text, "**") {
		t.Errorf("retry text still carries Markdown: %q", calls[1].Text)
	}
	if !strings.Contains(calls[1].Text, "link (https://example.com)") {
		t.Errorf("retry text lost the link target: %q", calls[1].Text)
	}
}

// TestSplitForTelegram checks chunking honors the size cap and prefers
// paragraph boundaries
func TestSplitForTelegram(t *testing.T) {
	t.Run("short text passes through", func(t *testing.T) {
		chunks := splitForTelegram("hello", 100)
		if len(chunks) != 1 || chunks[0] != "hello" {
			t.Errorf("splitForTelegram() = %v, want [hello]", chunks)
		}
	})

	t.Run("long text splits under the cap", func(t *testing.T) {
		para := strings.Repeat("word ", 30)
		text := para + "\n\n" + para + "\n\n" + para
		chunks := splitForTelegram(text, 200)

		if len(chunks) < 2 {
			t.Fatalf("splitForTelegram() produced %d chunks, want at least 2", len(chunks))
		}
		total := 0
		for i, chunk := range chunks {
			if len(chunk) > 200 {
				t.Errorf("chunk %d is %d chars, over the 200 cap", i, len(chunk))
			}
			total += len(chunk)
		}
		// Boundary trimming may drop whitespace but never content
		if total < len(text)-len(chunks)*2 {
			t.Errorf("chunks total %d chars, lost content from %d", total, len(text))
		}
	})
}

// TestFlattenMarkdown covers the plain text fallback conversions
func TestFlattenMarkdown(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"bold", "**important** note", "important note"},
		{"header", "## Digest\nbody", "Digest\nbody"},
		{"link", "see [docs](https://example.com)", "see docs (https://example.com)"},
		{"inline code", "run `make test` first", "run make test first"},
		{"strikethrough", "~~old~~ new", "old new"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := flattenMarkdown(tt.input); got != tt.want {
				t.Errorf("flattenMarkdown(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
