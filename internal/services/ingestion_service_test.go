package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"engram/internal/config"
	"engram/internal/database"
	"engram/internal/models"
	"engram/internal/oracle"
	"engram/internal/vector"
)

// engineFixture wires the full write path against an in-memory database and
// a scripted oracle
type engineFixture struct {
	db            *database.DB
	storage       *MemoryStorageService
	entities      *EntityService
	relationships *RelationshipService
	settings      *SettingsService
	lifecycle     *LifecycleService
	retrieval     *RetrievalService
	ingestion     *IngestionService
	events        *EventBusService
	oracle        *oracle.MockOracle
	fallback      *oracle.MockOracle
	index         vector.Index
	cfg           *config.Config
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	db := newTestDB(t)
	cfg := &config.Config{
		SupersedeConfidence:  0.7,
		FlagConfidence:       0.6,
		ContradictionFloor:   0.4,
		RelationFloor:        0.5,
		ExtendsThreshold:     0.85,
		CandidateCap:         10,
		InferredEdgeStrength: 0.6,
	}

	mock := oracle.NewMockOracle(8)
	fallback := oracle.NewMockOracle(8)
	storage := NewMemoryStorageService(db, nil)
	entities := NewEntityService(db)
	events := NewEventBusService()
	index := vector.NewStoreIndex(db)
	relationships := NewRelationshipService(db, storage, entities, index, mock, events, cfg)
	settings := NewSettingsService(db)
	locks := NewOwnerLockService(nil)
	lifecycle := NewLifecycleService(db, storage, events, cfg)
	retrieval := NewRetrievalService(storage, relationships, lifecycle, mock, index, cfg)
	ingestion := NewIngestionService(db, storage, entities, relationships, settings, locks, events, mock, fallback, index, cfg)

	return &engineFixture{
		db:            db,
		storage:       storage,
		entities:      entities,
		relationships: relationships,
		settings:      settings,
		lifecycle:     lifecycle,
		retrieval:     retrieval,
		ingestion:     ingestion,
		events:        events,
		oracle:        mock,
		fallback:      fallback,
		index:         index,
		cfg:           cfg,
	}
}

// scriptEmbedding pins the embedding for one content string
func (f *engineFixture) scriptEmbedding(content string, vec []float32) {
	f.oracle.EmbedVectors[content] = vec
}

// scriptVerdict pins the conflict verdict for an (existing, incoming) pair
func (f *engineFixture) scriptVerdict(existing, incoming string, contradicts bool, confidence float64) {
	f.oracle.Verdicts[existing+"||"+incoming] = &models.ContradictionVerdict{
		Contradicts: contradicts,
		Confidence:  confidence,
		Reason:      "scripted",
	}
}

// Unit vectors for similarity scripting: base and a 0.95-similar neighbor,
// plus one at 0.6 similarity to base
var (
	vecBase = []float32{1, 0, 0, 0, 0, 0, 0, 0}
	vecNear = []float32{0.95, 0.3122, 0, 0, 0, 0, 0, 0}
	vecMid  = []float32{0.6, 0, 0.8, 0, 0, 0, 0, 0}
)

// TestIngest_StoresAndClassifies covers the plain write path: content
// stored, oracle category applied, retention window derived
func TestIngest_StoresAndClassifies(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	const content = "Alice moved to Lisbon in March"
	f.scriptEmbedding(content, vecBase)
	f.oracle.Categories[content] = &models.CategorizationResult{
		Category:   models.CategoryEvent,
		Importance: 0.7,
		Tags:       []string{"move", "lisbon"},
	}

	before := time.Now().UTC()
	m, err := f.ingestion.Ingest(ctx, "alice", &IngestRequest{Content: content})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	if m.Category != models.CategoryEvent {
		t.Errorf("Category = %s, want event", m.Category)
	}
	if m.Importance != 0.7 {
		t.Errorf("Importance = %v, want 0.7", m.Importance)
	}
	if len(m.Tags) != 2 {
		t.Errorf("Tags = %v", m.Tags)
	}

	// Default retention window
	wantExpiry := before.Add(models.DefaultRetentionDays * 24 * time.Hour)
	if m.ExpiresAt.Before(wantExpiry.Add(-time.Minute)) || m.ExpiresAt.After(wantExpiry.Add(time.Minute)) {
		t.Errorf("ExpiresAt = %v, want ≈ %v", m.ExpiresAt, wantExpiry)
	}

	stored, err := f.storage.GetMemory(ctx, "alice", m.ID)
	if err != nil {
		t.Fatalf("GetMemory() error = %v", err)
	}
	if stored.Content != content {
		t.Errorf("stored content = %q", stored.Content)
	}

	// The embedding landed in the index
	matches, err := f.index.TopK(ctx, "alice", vecBase, 5, -1)
	if err != nil {
		t.Fatalf("TopK() error = %v", err)
	}
	if len(matches) != 1 || matches[0].MemoryID != m.ID {
		t.Errorf("index matches = %v, want the new memory", matches)
	}
}

// TestIngest_Validation rejects bad input before any oracle call
func TestIngest_Validation(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		userID string
		req    *IngestRequest
	}{
		{"empty user", "", &IngestRequest{Content: "something"}},
		{"empty content", "alice", &IngestRequest{Content: "   "}},
		{"oversized content", "alice", &IngestRequest{Content: strings.Repeat("x", models.MaxMemoryContentLength+1)}},
		{"unknown category", "alice", &IngestRequest{Content: "fine", Category: "gossip"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ingestion.Ingest(ctx, tt.userID, tt.req)
			var vErr *models.ValidationError
			if !errors.As(err, &vErr) {
				t.Errorf("Ingest() error = %v, want ValidationError", err)
			}
		})
	}

	if n := f.oracle.CallCount("Embed"); n != 0 {
		t.Errorf("validation failures reached the oracle %d times", n)
	}
}

// TestIngest_DuplicateReturnsExisting short-circuits exact re-statements to
// the original row without another oracle round trip
func TestIngest_DuplicateReturnsExisting(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	first, err := f.ingestion.Ingest(ctx, "alice", &IngestRequest{Content: "Alice prefers window seats"})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}

	second, err := f.ingestion.Ingest(ctx, "alice", &IngestRequest{Content: "  alice PREFERS window-seats! "})
	if err != nil {
		t.Fatalf("duplicate Ingest() error = %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("duplicate created a new memory: %s vs %s", second.ID, first.ID)
	}
	if n := f.oracle.CallCount("Embed"); n != 1 {
		t.Errorf("Embed called %d times, want 1 (dedup short-circuits)", n)
	}

	_, total, _ := f.storage.ListMemories(ctx, "alice", "", true, 1, 10)
	if total != 1 {
		t.Errorf("memory count = %d, want 1", total)
	}
}

// TestIngest_CategoryOverride lets an explicit category win over the oracle
func TestIngest_CategoryOverride(t *testing.T) {
	f := newEngineFixture(t)

	const content = "Dark roast over light roast, always"
	f.oracle.Categories[content] = &models.CategorizationResult{Category: models.CategoryFact, Importance: 0.4}

	m, err := f.ingestion.Ingest(context.Background(), "alice", &IngestRequest{
		Content:  content,
		Category: models.CategoryPreference,
	})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if m.Category != models.CategoryPreference {
		t.Errorf("Category = %s, want preference override", m.Category)
	}
}

// TestIngest_RetentionOverrides resolves expiry from the request first, then
// the owner default
func TestIngest_RetentionOverrides(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	days := 10
	if _, err := f.settings.Update(ctx, "alice", &models.UpdateOwnerSettingsRequest{RetentionDays: &days}); err != nil {
		t.Fatalf("settings Update() error = %v", err)
	}

	ownerDefault, err := f.ingestion.Ingest(ctx, "alice", &IngestRequest{Content: "uses the owner default window"})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if got := ownerDefault.ExpiresAt.Sub(ownerDefault.CreatedAt); got != 10*24*time.Hour {
		t.Errorf("owner-default window = %v, want 240h", got)
	}

	requested, err := f.ingestion.Ingest(ctx, "alice", &IngestRequest{Content: "uses the requested window", RetentionDays: 7})
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if got := requested.ExpiresAt.Sub(requested.CreatedAt); got != 7*24*time.Hour {
		t.Errorf("requested window = %v, want 168h", got)
	}
}

// TestIngest_SupersessionArchivesContradicted is the core lifecycle rule: a
// confident contradiction archives the old memory and the new one records
// what it replaced, atomically
func TestIngest_SupersessionArchivesContradicted(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	const oldContent = "Favorite drink is Coca-Cola"
	const newContent = "Favorite drink is cold brew"
	f.scriptEmbedding(oldContent, vecBase)
	f.scriptEmbedding(newContent, vecNear)
	f.scriptVerdict(oldContent, newContent, true, 0.9)

	oldMem, err := f.ingestion.Ingest(ctx, "alice", &IngestRequest{Content: oldContent})
	if err != nil {
		t.Fatalf("Ingest(old) error = %v", err)
	}
	newMem, err := f.ingestion.Ingest(ctx, "alice", &IngestRequest{Content: newContent})
	if err != nil {
		t.Fatalf("Ingest(new) error = %v", err)
	}

	archived, err := f.storage.GetMemory(ctx, "alice", oldMem.ID)
	if err != nil {
		t.Fatalf("GetMemory(old) error = %v", err)
	}
	if !archived.IsArchived {
		t.Fatal("contradicted memory not archived")
	}
	if archived.ArchiveReason() != models.ArchiveReasonSuperseded {
		t.Errorf("archive reason = %q, want superseded", archived.ArchiveReason())
	}
	if archived.SupersededBy == nil || *archived.SupersededBy != newMem.ID {
		t.Errorf("SupersededBy = %v, want %s", archived.SupersededBy, newMem.ID)
	}

	// The replacement stays active
	replacement, _ := f.storage.GetMemory(ctx, "alice", newMem.ID)
	if replacement.IsArchived {
		t.Error("superseding memory was archived")
	}

	// Both events buffered: ingested (with supersession marker) and archived
	events := f.events.DrainPending("alice")
	var sawSupersededIngest, sawArchive bool
	for _, e := range events {
		if e.Type == models.EventMemoryIngested && e.SupersededID == oldMem.ID {
			sawSupersededIngest = true
		}
		if e.Type == models.EventMemoryArchived && e.MemoryID == oldMem.ID && e.Reason == models.ArchiveReasonSuperseded {
			sawArchive = true
		}
	}
	if !sawSupersededIngest || !sawArchive {
		t.Errorf("events missing supersession markers: %+v", events)
	}
}

// TestIngest_LowConfidenceContradictionFlagsOnly verifies the two-threshold
// design: confidence in the flag band records a contradicts edge and marks
// the old memory outdated, but archives nothing
func TestIngest_LowConfidenceContradictionFlagsOnly(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	const oldContent = "Standup is at 9am"
	const newContent = "Standup is at 10am"
	f.scriptEmbedding(oldContent, vecBase)
	f.scriptEmbedding(newContent, vecNear)
	f.scriptVerdict(oldContent, newContent, true, 0.65)

	oldMem, err := f.ingestion.Ingest(ctx, "alice", &IngestRequest{Content: oldContent})
	if err != nil {
		t.Fatalf("Ingest(old) error = %v", err)
	}
	newMem, err := f.ingestion.Ingest(ctx, "alice", &IngestRequest{Content: newContent})
	if err != nil {
		t.Fatalf("Ingest(new) error = %v", err)
	}

	got, _ := f.storage.GetMemory(ctx, "alice", oldMem.ID)
	if got.IsArchived {
		t.Error("flag-band contradiction archived the memory")
	}
	if !got.IsOutdated() {
		t.Error("contradicted memory not flagged outdated")
	}

	edges, err := f.relationships.ListRelationships(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("ListRelationships() error = %v", err)
	}
	if len(edges) != 1 {
		t.Fatalf("edges = %d, want 1", len(edges))
	}
	e := edges[0]
	if e.Type != models.RelationContradicts || e.SourceID != newMem.ID || e.TargetID != oldMem.ID {
		t.Errorf("edge = %s %s→%s, want contradicts %s→%s", e.Type, e.SourceID, e.TargetID, newMem.ID, oldMem.ID)
	}
}

// TestIngest_SimilarityEdges types non-contradicting edges by similarity:
// extends above the threshold, related_to below it
func TestIngest_SimilarityEdges(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	const a = "Alice plays tennis on Saturdays"
	const b = "Alice entered the club tennis tournament"
	const c = "Alice bought new running shoes"
	f.scriptEmbedding(a, vecBase)
	f.scriptEmbedding(b, vecNear) // 0.95 vs a → extends
	f.scriptEmbedding(c, vecMid)  // 0.60 vs a → related_to

	memA, err := f.ingestion.Ingest(ctx, "alice", &IngestRequest{Content: a})
	if err != nil {
		t.Fatalf("Ingest(a) error = %v", err)
	}
	memB, err := f.ingestion.Ingest(ctx, "alice", &IngestRequest{Content: b})
	if err != nil {
		t.Fatalf("Ingest(b) error = %v", err)
	}
	if _, err := f.ingestion.Ingest(ctx, "alice", &IngestRequest{Content: c}); err != nil {
		t.Fatalf("Ingest(c) error = %v", err)
	}

	edges, err := f.relationships.ListRelationships(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("ListRelationships() error = %v", err)
	}

	var extends, related int
	for _, e := range edges {
		switch e.Type {
		case models.RelationExtends:
			extends++
			if e.SourceID != memB.ID || e.TargetID != memA.ID {
				t.Errorf("extends edge %s→%s, want %s→%s", e.SourceID, e.TargetID, memB.ID, memA.ID)
			}
		case models.RelationRelatedTo:
			related++
		case models.RelationContradicts:
			t.Error("unexpected contradicts edge")
		}
	}
	if extends != 1 {
		t.Errorf("extends edges = %d, want 1", extends)
	}
	// c links to both a (0.60) and b (≈0.57)
	if related != 2 {
		t.Errorf("related_to edges = %d, want 2", related)
	}

	// No archives anywhere
	_, total, _ := f.storage.ListMemories(ctx, "alice", "", false, 1, 10)
	if total != 3 {
		t.Errorf("active memories = %d, want 3", total)
	}
}

// TestIngest_ConflictFallback switches to the fallback classifier when the
// primary conflict oracle fails, and proceeds unsuperseded when both fail
func TestIngest_ConflictFallback(t *testing.T) {
	ctx := context.Background()

	const oldContent = "Team lunch is on Monday"
	const newContent = "Team lunch is on Wednesday"

	t.Run("fallback supersedes", func(t *testing.T) {
		f := newEngineFixture(t)
		f.scriptEmbedding(oldContent, vecBase)
		f.scriptEmbedding(newContent, vecNear)

		oldMem, err := f.ingestion.Ingest(ctx, "alice", &IngestRequest{Content: oldContent})
		if err != nil {
			t.Fatalf("Ingest(old) error = %v", err)
		}

		f.oracle.ConflictErr = errors.New("oracle unavailable")
		f.fallback.Verdicts[oldContent+"||"+newContent] = &models.ContradictionVerdict{
			Contradicts: true, Confidence: 0.8, Reason: "fallback verdict",
		}

		if _, err := f.ingestion.Ingest(ctx, "alice", &IngestRequest{Content: newContent}); err != nil {
			t.Fatalf("Ingest(new) error = %v", err)
		}

		got, _ := f.storage.GetMemory(ctx, "alice", oldMem.ID)
		if !got.IsArchived {
			t.Error("fallback verdict did not supersede")
		}
		if f.fallback.CallCount("ClassifyConflict") == 0 {
			t.Error("fallback classifier never consulted")
		}
	})

	t.Run("both classifiers down", func(t *testing.T) {
		f := newEngineFixture(t)
		f.scriptEmbedding(oldContent, vecBase)
		f.scriptEmbedding(newContent, vecNear)

		oldMem, err := f.ingestion.Ingest(ctx, "alice", &IngestRequest{Content: oldContent})
		if err != nil {
			t.Fatalf("Ingest(old) error = %v", err)
		}

		f.oracle.ConflictErr = errors.New("oracle unavailable")
		f.fallback.ConflictErr = errors.New("fallback unavailable")

		newMem, err := f.ingestion.Ingest(ctx, "alice", &IngestRequest{Content: newContent})
		if err != nil {
			t.Fatalf("Ingest(new) must survive classifier outage, got %v", err)
		}

		oldGot, _ := f.storage.GetMemory(ctx, "alice", oldMem.ID)
		newGot, _ := f.storage.GetMemory(ctx, "alice", newMem.ID)
		if oldGot.IsArchived || newGot.IsArchived {
			t.Error("classifier outage must not archive anything")
		}
	})
}

// TestIngest_OracleFailureAborts verifies a failed embedding stores nothing
func TestIngest_OracleFailureAborts(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	f.oracle.EmbedErr = errors.New("embedding endpoint down")

	_, err := f.ingestion.Ingest(ctx, "alice", &IngestRequest{Content: "never stored"})
	if err == nil {
		t.Fatal("Ingest() succeeded despite embed failure")
	}

	_, total, _ := f.storage.ListMemories(ctx, "alice", "", true, 1, 10)
	if total != 0 {
		t.Errorf("memory count = %d after failed ingest, want 0", total)
	}
}

// TestIngest_EntityMentionsAndInferredEdges records extracted entities and
// links memories sharing them
func TestIngest_EntityMentionsAndInferredEdges(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	const a = "Met Priya at the coffee shop"
	const b = "Priya recommended a sci-fi novel"
	// Orthogonal embeddings keep the similarity pass quiet; only the shared
	// entity can link these two
	f.scriptEmbedding(a, []float32{1, 0, 0, 0, 0, 0, 0, 0})
	f.scriptEmbedding(b, []float32{0, 1, 0, 0, 0, 0, 0, 0})
	f.oracle.Entities[a] = []models.ExtractedEntity{
		{Type: "person", Value: "Priya", Context: "met Priya"},
		{Type: "place", Value: "coffee shop", Context: "at the coffee shop"},
	}
	f.oracle.Entities[b] = []models.ExtractedEntity{
		{Type: "person", Value: "priya", Context: "Priya recommended"},
	}

	memA, err := f.ingestion.Ingest(ctx, "alice", &IngestRequest{Content: a})
	if err != nil {
		t.Fatalf("Ingest(a) error = %v", err)
	}
	memB, err := f.ingestion.Ingest(ctx, "alice", &IngestRequest{Content: b})
	if err != nil {
		t.Fatalf("Ingest(b) error = %v", err)
	}

	entities, err := f.entities.ListEntities(ctx, "alice", "", 10)
	if err != nil {
		t.Fatalf("ListEntities() error = %v", err)
	}
	if len(entities) != 2 {
		t.Fatalf("entities = %d, want 2 (priya normalized across casings)", len(entities))
	}
	if entities[0].Value != "priya" || entities[0].MentionCount != 2 {
		t.Errorf("top entity = %s ×%d, want priya ×2", entities[0].Value, entities[0].MentionCount)
	}

	// Shared entity produced an inferred edge between unrelated embeddings
	edges, err := f.relationships.ListRelationships(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("ListRelationships() error = %v", err)
	}
	if len(edges) != 1 {
		t.Fatalf("edges = %d, want exactly the inferred one", len(edges))
	}
	inferred := edges[0]
	if inferred.Type != models.RelationInferred {
		t.Fatalf("edge type = %s, want inferred", inferred.Type)
	}
	if inferred.SourceID != memB.ID || inferred.TargetID != memA.ID {
		t.Errorf("inferred edge %s→%s, want %s→%s", inferred.SourceID, inferred.TargetID, memB.ID, memA.ID)
	}
	if inferred.Strength != f.cfg.InferredEdgeStrength {
		t.Errorf("inferred strength = %v, want %v", inferred.Strength, f.cfg.InferredEdgeStrength)
	}
}

// TestIngest_OwnerIsolation keeps two owners' identical statements apart:
// no dedup, no candidates, no edges across the boundary
func TestIngest_OwnerIsolation(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	const content = "The wifi password is hunter2"
	f.scriptEmbedding(content, vecBase)

	aliceMem, err := f.ingestion.Ingest(ctx, "alice", &IngestRequest{Content: content})
	if err != nil {
		t.Fatalf("Ingest(alice) error = %v", err)
	}
	bobMem, err := f.ingestion.Ingest(ctx, "bob", &IngestRequest{Content: content})
	if err != nil {
		t.Fatalf("Ingest(bob) error = %v", err)
	}

	if aliceMem.ID == bobMem.ID {
		t.Fatal("identical content deduplicated across owners")
	}

	aliceEdges, _ := f.relationships.ListRelationships(ctx, "alice", 10)
	bobEdges, _ := f.relationships.ListRelationships(ctx, "bob", 10)
	if len(aliceEdges) != 0 || len(bobEdges) != 0 {
		t.Errorf("cross-owner edges created: alice=%d bob=%d", len(aliceEdges), len(bobEdges))
	}

	if _, err := f.storage.GetMemory(ctx, "bob", aliceMem.ID); err == nil {
		t.Error("bob can read alice's memory")
	}
}
