package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"engram/internal/crypto"
	"engram/internal/database"
	"engram/internal/models"
)

// mustInsertMemory seeds one memory row, failing the test on error
func mustInsertMemory(t *testing.T, storage *MemoryStorageService, db *database.DB, m *models.Memory) *models.Memory {
	t.Helper()

	now := time.Now().UTC()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Category == "" {
		m.Category = models.CategoryFact
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.UpdatedAt.IsZero() {
		m.UpdatedAt = m.CreatedAt
	}
	if m.ExpiresAt.IsZero() {
		m.ExpiresAt = m.CreatedAt.Add(90 * 24 * time.Hour)
	}
	if err := storage.Insert(context.Background(), db, m); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	return m
}

// TestNormalizeContent checks that trivial rephrasings flatten to the same
// normalized form
func TestNormalizeContent(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "Basic normalization",
			input:    "User prefers dark mode",
			expected: "user prefers dark mode",
		},
		{
			name:     "Remove punctuation",
			input:    "User's name is John, and he likes coffee!",
			expected: "users name is john and he likes coffee",
		},
		{
			name:     "Collapse whitespace",
			input:    "User   likes    lots   of   spaces",
			expected: "user likes lots of spaces",
		},
		{
			name:     "Separators become word breaks",
			input:    "User PREFERS Dark-Mode!!!",
			expected: "user prefers dark mode",
		},
		{
			name:     "Newlines and tabs",
			input:    "line one\nline\ttwo",
			expected: "line one line two",
		},
		{
			name:     "Trim whitespace",
			input:    "  user prefers dark mode  ",
			expected: "user prefers dark mode",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := normalizeContent(tt.input); got != tt.expected {
				t.Errorf("normalizeContent(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

// TestHashContent verifies rephrasings hash identically and distinct
// statements do not
func TestHashContent(t *testing.T) {
	storage := &MemoryStorageService{}

	a := storage.HashContent("User prefers dark mode")
	b := storage.HashContent("  user PREFERS dark-mode!  ")
	c := storage.HashContent("User prefers light mode")

	if a != b {
		t.Errorf("rephrased content hashed differently: %s vs %s", a, b)
	}
	if a == c {
		t.Error("distinct content produced the same hash")
	}
	if len(a) != 64 {
		t.Errorf("hash length = %d, want 64 hex chars", len(a))
	}
}

// TestMemoryStorage_InsertAndGet round-trips a memory through insert and
// single-row read
func TestMemoryStorage_InsertAndGet(t *testing.T) {
	db := newTestDB(t)
	storage := NewMemoryStorageService(db, nil)
	ctx := context.Background()

	inserted := mustInsertMemory(t, storage, db, &models.Memory{
		UserID:     "alice",
		Content:    "Alice works on the billing team",
		Category:   models.CategoryFact,
		Importance: 0.8,
		Tags:       []string{"work", "team"},
		SourceURL:  "https://wiki.example.com/teams",
	})

	got, err := storage.GetMemory(ctx, "alice", inserted.ID)
	if err != nil {
		t.Fatalf("GetMemory() error = %v", err)
	}
	if got.Content != inserted.Content {
		t.Errorf("Content = %q, want %q", got.Content, inserted.Content)
	}
	if got.ContentHash == "" {
		t.Error("ContentHash not set on insert")
	}
	if got.Importance != 0.8 {
		t.Errorf("Importance = %v, want 0.8", got.Importance)
	}
	if len(got.Tags) != 2 || got.Tags[0] != "work" {
		t.Errorf("Tags = %v, want [work team]", got.Tags)
	}
	if got.SourceURL != "https://wiki.example.com/teams" {
		t.Errorf("SourceURL = %q", got.SourceURL)
	}
	if got.IsArchived {
		t.Error("fresh memory reported as archived")
	}

	// Owner scoping: the same id under another owner is a miss
	if _, err := storage.GetMemory(ctx, "bob", inserted.ID); err == nil {
		t.Fatal("GetMemory() under wrong owner succeeded")
	} else {
		var nfErr *models.NotFoundError
		if !errors.As(err, &nfErr) {
			t.Errorf("GetMemory() wrong-owner error = %v, want NotFoundError", err)
		}
	}
}

// TestMemoryStorage_InsertValidation rejects memories missing owner or content
func TestMemoryStorage_InsertValidation(t *testing.T) {
	db := newTestDB(t)
	storage := NewMemoryStorageService(db, nil)
	ctx := context.Background()

	tests := []struct {
		name   string
		memory *models.Memory
	}{
		{"missing user", &models.Memory{ID: uuid.NewString(), Content: "orphan"}},
		{"missing content", &models.Memory{ID: uuid.NewString(), UserID: "alice"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := storage.Insert(ctx, db, tt.memory)
			var vErr *models.ValidationError
			if !errors.As(err, &vErr) {
				t.Errorf("Insert() error = %v, want ValidationError", err)
			}
		})
	}
}

// TestMemoryStorage_CheckDuplicate finds active memories by normalized
// content and ignores archived ones and other owners
func TestMemoryStorage_CheckDuplicate(t *testing.T) {
	db := newTestDB(t)
	storage := NewMemoryStorageService(db, nil)
	ctx := context.Background()

	original := mustInsertMemory(t, storage, db, &models.Memory{
		UserID:  "alice",
		Content: "Alice prefers dark mode",
	})

	dup, err := storage.CheckDuplicate(ctx, "alice", "  alice PREFERS dark-mode!  ")
	if err != nil {
		t.Fatalf("CheckDuplicate() error = %v", err)
	}
	if dup == nil || dup.ID != original.ID {
		t.Fatalf("CheckDuplicate() = %v, want memory %s", dup, original.ID)
	}

	// Another owner's identical statement is not a duplicate
	if dup, _ := storage.CheckDuplicate(ctx, "bob", "Alice prefers dark mode"); dup != nil {
		t.Error("CheckDuplicate() crossed owner boundary")
	}

	// Archived memories no longer block re-ingestion
	if err := storage.ArchiveMemory(ctx, db, "alice", original.ID, models.ArchiveReasonUserArchived, nil); err != nil {
		t.Fatalf("ArchiveMemory() error = %v", err)
	}
	if dup, _ := storage.CheckDuplicate(ctx, "alice", "Alice prefers dark mode"); dup != nil {
		t.Error("CheckDuplicate() matched an archived memory")
	}
}

// TestMemoryStorage_Archive covers the archival lifecycle: reason and
// supersession recorded, re-archive is a no-op, cross-owner attempts blocked,
// and the archived row stays readable by id
func TestMemoryStorage_Archive(t *testing.T) {
	db := newTestDB(t)
	storage := NewMemoryStorageService(db, nil)
	ctx := context.Background()

	m := mustInsertMemory(t, storage, db, &models.Memory{
		UserID:  "alice",
		Content: "Coffee machine is on floor 2",
	})
	successor := mustInsertMemory(t, storage, db, &models.Memory{
		UserID:  "alice",
		Content: "Coffee machine moved to floor 3",
	})

	if err := storage.ArchiveMemory(ctx, db, "alice", m.ID, models.ArchiveReasonSuperseded, &successor.ID); err != nil {
		t.Fatalf("ArchiveMemory() error = %v", err)
	}

	got, err := storage.GetMemory(ctx, "alice", m.ID)
	if err != nil {
		t.Fatalf("GetMemory() error = %v", err)
	}
	if !got.IsArchived || got.ArchivedAt == nil {
		t.Error("archive did not set is_archived/archived_at")
	}
	if got.ArchiveReason() != models.ArchiveReasonSuperseded {
		t.Errorf("ArchiveReason() = %q, want %q", got.ArchiveReason(), models.ArchiveReasonSuperseded)
	}
	if got.SupersededBy == nil || *got.SupersededBy != successor.ID {
		t.Errorf("SupersededBy = %v, want %s", got.SupersededBy, successor.ID)
	}

	// Re-archiving keeps the original reason
	if err := storage.ArchiveMemory(ctx, db, "alice", m.ID, models.ArchiveReasonExpired, nil); err != nil {
		t.Fatalf("re-archive error = %v", err)
	}
	got, _ = storage.GetMemory(ctx, "alice", m.ID)
	if got.ArchiveReason() != models.ArchiveReasonSuperseded {
		t.Errorf("re-archive overwrote reason: %q", got.ArchiveReason())
	}

	// Cross-owner archive is an authorization failure, not a miss
	err = storage.ArchiveMemory(ctx, db, "bob", successor.ID, models.ArchiveReasonUserArchived, nil)
	var authErr *models.AuthorizationError
	if !errors.As(err, &authErr) {
		t.Errorf("cross-owner archive error = %v, want AuthorizationError", err)
	}

	// The archived row is still reachable by direct id lookup
	got, err = storage.GetMemory(ctx, "alice", m.ID)
	if err != nil {
		t.Fatalf("GetMemory() on archived row error = %v", err)
	}
	if got.Content != "Coffee machine is on floor 2" {
		t.Errorf("archived row content = %q", got.Content)
	}
}

// TestMemoryStorage_GetByIDs preserves input order, drops unknown ids and
// filters archived rows unless asked for them
func TestMemoryStorage_GetByIDs(t *testing.T) {
	db := newTestDB(t)
	storage := NewMemoryStorageService(db, nil)
	ctx := context.Background()

	first := mustInsertMemory(t, storage, db, &models.Memory{UserID: "alice", Content: "first note"})
	second := mustInsertMemory(t, storage, db, &models.Memory{UserID: "alice", Content: "second note"})
	archived := mustInsertMemory(t, storage, db, &models.Memory{UserID: "alice", Content: "third note"})
	if err := storage.ArchiveMemory(ctx, db, "alice", archived.ID, models.ArchiveReasonUserArchived, nil); err != nil {
		t.Fatalf("ArchiveMemory() error = %v", err)
	}

	ids := []string{second.ID, "no-such-id", archived.ID, first.ID}

	active, err := storage.GetByIDs(ctx, db, "alice", ids, false)
	if err != nil {
		t.Fatalf("GetByIDs() error = %v", err)
	}
	if len(active) != 2 || active[0].ID != second.ID || active[1].ID != first.ID {
		t.Errorf("GetByIDs(active) order wrong: %v", memoryIDs(active))
	}

	all, err := storage.GetByIDs(ctx, db, "alice", ids, true)
	if err != nil {
		t.Fatalf("GetByIDs() error = %v", err)
	}
	if len(all) != 3 {
		t.Errorf("GetByIDs(all) = %d rows, want 3", len(all))
	}

	// Owner scoping
	foreign, err := storage.GetByIDs(ctx, db, "bob", ids, true)
	if err != nil {
		t.Fatalf("GetByIDs() error = %v", err)
	}
	if len(foreign) != 0 {
		t.Errorf("GetByIDs() leaked %d foreign rows", len(foreign))
	}
}

func memoryIDs(memories []*models.Memory) []string {
	ids := make([]string, len(memories))
	for i, m := range memories {
		ids[i] = m.ID
	}
	return ids
}

// TestMemoryStorage_ListMemories covers pagination, category filtering and
// the archived-rows toggle
func TestMemoryStorage_ListMemories(t *testing.T) {
	db := newTestDB(t)
	storage := NewMemoryStorageService(db, nil)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	for i := 0; i < 5; i++ {
		category := models.CategoryFact
		if i%2 == 1 {
			category = models.CategoryPreference
		}
		mustInsertMemory(t, storage, db, &models.Memory{
			UserID:    "alice",
			Content:   "note number " + uuid.NewString(),
			Category:  category,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}

	page1, total, err := storage.ListMemories(ctx, "alice", "", false, 1, 2)
	if err != nil {
		t.Fatalf("ListMemories() error = %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(page1) != 2 {
		t.Fatalf("page size = %d, want 2", len(page1))
	}
	// Newest first
	if !page1[0].CreatedAt.After(page1[1].CreatedAt) {
		t.Error("ListMemories() not sorted newest first")
	}

	prefs, total, err := storage.ListMemories(ctx, "alice", models.CategoryPreference, false, 1, 10)
	if err != nil {
		t.Fatalf("ListMemories(category) error = %v", err)
	}
	if total != 2 || len(prefs) != 2 {
		t.Errorf("preference filter: total=%d len=%d, want 2/2", total, len(prefs))
	}

	// Archive one and confirm the default listing shrinks
	if err := storage.ArchiveMemory(ctx, db, "alice", page1[0].ID, models.ArchiveReasonUserArchived, nil); err != nil {
		t.Fatalf("ArchiveMemory() error = %v", err)
	}
	_, total, _ = storage.ListMemories(ctx, "alice", "", false, 1, 10)
	if total != 4 {
		t.Errorf("active total after archive = %d, want 4", total)
	}
	_, total, _ = storage.ListMemories(ctx, "alice", "", true, 1, 10)
	if total != 5 {
		t.Errorf("total with archived = %d, want 5", total)
	}
}

// TestMemoryStorage_Delete removes the memory and everything hanging off it
func TestMemoryStorage_Delete(t *testing.T) {
	db := newTestDB(t)
	storage := NewMemoryStorageService(db, nil)
	ctx := context.Background()

	m := mustInsertMemory(t, storage, db, &models.Memory{UserID: "alice", Content: "doomed memory"})
	peer := mustInsertMemory(t, storage, db, &models.Memory{UserID: "alice", Content: "surviving peer"})
	insertContradictsEdge(t, db, m.ID, peer.ID)

	// Cross-owner delete is blocked before anything is touched
	err := storage.DeleteMemory(ctx, "bob", m.ID)
	var authErr *models.AuthorizationError
	if !errors.As(err, &authErr) {
		t.Errorf("cross-owner delete error = %v, want AuthorizationError", err)
	}

	if err := storage.DeleteMemory(ctx, "alice", m.ID); err != nil {
		t.Fatalf("DeleteMemory() error = %v", err)
	}

	if _, err := storage.GetMemory(ctx, "alice", m.ID); err == nil {
		t.Error("deleted memory still readable")
	}

	var edges int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM relationships WHERE source_id = ? OR target_id = ?`, m.ID, m.ID,
	).Scan(&edges); err != nil {
		t.Fatalf("edge count query error = %v", err)
	}
	if edges != 0 {
		t.Errorf("delete left %d edges behind", edges)
	}

	// Deleting the unknown id again reports not found
	err = storage.DeleteMemory(ctx, "alice", m.ID)
	var nfErr *models.NotFoundError
	if !errors.As(err, &nfErr) {
		t.Errorf("second delete error = %v, want NotFoundError", err)
	}
}

// TestMemoryStorage_AccessAndImportance exercises the usage counters and
// the importance override bounds
func TestMemoryStorage_AccessAndImportance(t *testing.T) {
	db := newTestDB(t)
	storage := NewMemoryStorageService(db, nil)
	ctx := context.Background()

	m := mustInsertMemory(t, storage, db, &models.Memory{UserID: "alice", Content: "often used fact"})

	if err := storage.UpdateMemoryAccess(ctx, "alice", []string{m.ID}); err != nil {
		t.Fatalf("UpdateMemoryAccess() error = %v", err)
	}
	if err := storage.UpdateMemoryAccess(ctx, "alice", []string{m.ID}); err != nil {
		t.Fatalf("UpdateMemoryAccess() error = %v", err)
	}

	got, _ := storage.GetMemory(ctx, "alice", m.ID)
	if got.AccessCount != 2 {
		t.Errorf("AccessCount = %d, want 2", got.AccessCount)
	}
	if got.LastAccessed == nil {
		t.Error("LastAccessed not stamped")
	}

	if err := storage.SetImportance(ctx, "alice", m.ID, 0.95); err != nil {
		t.Fatalf("SetImportance() error = %v", err)
	}
	got, _ = storage.GetMemory(ctx, "alice", m.ID)
	if got.Importance != 0.95 {
		t.Errorf("Importance = %v, want 0.95", got.Importance)
	}

	err := storage.SetImportance(ctx, "alice", m.ID, 1.5)
	var vErr *models.ValidationError
	if !errors.As(err, &vErr) {
		t.Errorf("SetImportance(1.5) error = %v, want ValidationError", err)
	}
}

// TestMemoryStorage_MarkOutdated flags without archiving, idempotently
func TestMemoryStorage_MarkOutdated(t *testing.T) {
	db := newTestDB(t)
	storage := NewMemoryStorageService(db, nil)
	ctx := context.Background()

	m := mustInsertMemory(t, storage, db, &models.Memory{UserID: "alice", Content: "possibly stale fact"})

	if err := storage.MarkOutdated(ctx, db, "alice", m.ID); err != nil {
		t.Fatalf("MarkOutdated() error = %v", err)
	}
	if err := storage.MarkOutdated(ctx, db, "alice", m.ID); err != nil {
		t.Fatalf("second MarkOutdated() error = %v", err)
	}

	got, _ := storage.GetMemory(ctx, "alice", m.ID)
	if !got.IsOutdated() {
		t.Error("IsOutdated() = false after MarkOutdated")
	}
	if got.IsArchived {
		t.Error("MarkOutdated archived the memory")
	}
}

// TestMemoryStorage_GetExpiredActive returns only expired active rows,
// oldest expiry first
func TestMemoryStorage_GetExpiredActive(t *testing.T) {
	db := newTestDB(t)
	storage := NewMemoryStorageService(db, nil)
	ctx := context.Background()
	now := time.Now().UTC()

	oldExpired := mustInsertMemory(t, storage, db, &models.Memory{
		UserID: "alice", Content: "expired long ago", ExpiresAt: now.Add(-48 * time.Hour),
	})
	newExpired := mustInsertMemory(t, storage, db, &models.Memory{
		UserID: "alice", Content: "expired recently", ExpiresAt: now.Add(-time.Hour),
	})
	mustInsertMemory(t, storage, db, &models.Memory{
		UserID: "alice", Content: "still fresh", ExpiresAt: now.Add(24 * time.Hour),
	})
	archivedExpired := mustInsertMemory(t, storage, db, &models.Memory{
		UserID: "alice", Content: "expired and archived", ExpiresAt: now.Add(-time.Hour),
	})
	if err := storage.ArchiveMemory(ctx, db, "alice", archivedExpired.ID, models.ArchiveReasonUserArchived, nil); err != nil {
		t.Fatalf("ArchiveMemory() error = %v", err)
	}

	expired, err := storage.GetExpiredActive(ctx, 10)
	if err != nil {
		t.Fatalf("GetExpiredActive() error = %v", err)
	}
	if len(expired) != 2 {
		t.Fatalf("GetExpiredActive() = %d rows, want 2", len(expired))
	}
	if expired[0].ID != oldExpired.ID || expired[1].ID != newExpired.ID {
		t.Errorf("expiry order wrong: %v", memoryIDs(expired))
	}
}

// TestMemoryStorage_Stats aggregates counts across tables
func TestMemoryStorage_Stats(t *testing.T) {
	db := newTestDB(t)
	storage := NewMemoryStorageService(db, nil)
	ctx := context.Background()

	fact := mustInsertMemory(t, storage, db, &models.Memory{UserID: "alice", Content: "a fact", Category: models.CategoryFact})
	mustInsertMemory(t, storage, db, &models.Memory{UserID: "alice", Content: "a preference", Category: models.CategoryPreference})
	archived := mustInsertMemory(t, storage, db, &models.Memory{UserID: "alice", Content: "an old fact", Category: models.CategoryFact})
	if err := storage.ArchiveMemory(ctx, db, "alice", archived.ID, models.ArchiveReasonUserArchived, nil); err != nil {
		t.Fatalf("ArchiveMemory() error = %v", err)
	}
	insertContradictsEdge(t, db, fact.ID, archived.ID)
	mustInsertMemory(t, storage, db, &models.Memory{UserID: "bob", Content: "bob's own fact"})

	stats, err := storage.GetMemoryStats(ctx, "alice")
	if err != nil {
		t.Fatalf("GetMemoryStats() error = %v", err)
	}
	if stats.TotalMemories != 3 || stats.ActiveMemories != 2 || stats.ArchivedMemories != 1 {
		t.Errorf("counts = %d/%d/%d, want 3/2/1", stats.TotalMemories, stats.ActiveMemories, stats.ArchivedMemories)
	}
	if stats.ByCategory[models.CategoryFact] != 1 || stats.ByCategory[models.CategoryPreference] != 1 {
		t.Errorf("ByCategory = %v", stats.ByCategory)
	}
	if stats.RelationshipCount != 1 {
		t.Errorf("RelationshipCount = %d, want 1", stats.RelationshipCount)
	}
	if stats.OldestMemory == nil || stats.NewestMemory == nil {
		t.Error("age range not populated")
	}
}

// TestMemoryStorage_EncryptionRoundTrip stores ciphertext at rest and
// decrypts transparently on every read path
func TestMemoryStorage_EncryptionRoundTrip(t *testing.T) {
	key, err := crypto.GenerateMasterKey()
	if err != nil {
		t.Fatalf("GenerateMasterKey() error = %v", err)
	}
	encryption, err := crypto.NewEncryptionService(key)
	if err != nil {
		t.Fatalf("NewEncryptionService() error = %v", err)
	}

	db := newTestDB(t)
	storage := NewMemoryStorageService(db, encryption)
	ctx := context.Background()

	const secret = "Alice's badge code is 4921"
	m := mustInsertMemory(t, storage, db, &models.Memory{UserID: "alice", Content: secret})

	var stored string
	if err := db.QueryRowContext(ctx, `SELECT content FROM memories WHERE id = ?`, m.ID).Scan(&stored); err != nil {
		t.Fatalf("raw content query error = %v", err)
	}
	if stored == secret {
		t.Fatal("content stored in plaintext despite encryption")
	}

	got, err := storage.GetMemory(ctx, "alice", m.ID)
	if err != nil {
		t.Fatalf("GetMemory() error = %v", err)
	}
	if got.Content != secret {
		t.Errorf("decrypted content = %q, want %q", got.Content, secret)
	}

	// Dedup still works: the hash is computed before encryption
	dup, err := storage.CheckDuplicate(ctx, "alice", secret)
	if err != nil {
		t.Fatalf("CheckDuplicate() error = %v", err)
	}
	if dup == nil || dup.ID != m.ID {
		t.Error("CheckDuplicate() missed the encrypted original")
	}
}
