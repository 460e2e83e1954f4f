package services

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"engram/internal/models"
)

// seedIndexed inserts an active memory and registers its embedding
func seedIndexed(t *testing.T, f *engineFixture, userID, content string, vec []float32) *models.Memory {
	t.Helper()
	m := mustInsertMemory(t, f.storage, f.db, &models.Memory{UserID: userID, Content: content})
	if err := f.index.Upsert(context.Background(), userID, m.ID, vec); err != nil {
		t.Fatalf("index Upsert() error = %v", err)
	}
	return m
}

// TestRetrieval_Search ranks the owner's memories by query similarity, best
// first, with no similarity floor
func TestRetrieval_Search(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	tennis := seedIndexed(t, f, "alice", "Plays tennis on Saturdays", vecBase)
	tournament := seedIndexed(t, f, "alice", "Entered the club tournament", vecNear)
	shoes := seedIndexed(t, f, "alice", "Bought new running shoes", vecMid)

	const query = "what sports does alice play"
	f.scriptEmbedding(query, vecBase)

	hits, err := f.retrieval.Search(ctx, "alice", query, 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 3 {
		t.Fatalf("hits = %d, want 3", len(hits))
	}

	wantOrder := []string{tennis.ID, tournament.ID, shoes.ID}
	for i, want := range wantOrder {
		if hits[i].Memory.ID != want {
			t.Errorf("hits[%d] = %s, want %s", i, hits[i].Memory.ID, want)
		}
	}
	if math.Abs(hits[0].Similarity-1.0) > 0.01 || math.Abs(hits[2].Similarity-0.6) > 0.01 {
		t.Errorf("similarities = %.2f..%.2f, want 1.00..0.60", hits[0].Similarity, hits[2].Similarity)
	}

	// Weak matches rank low instead of disappearing
	if hits[2].Memory.ID != shoes.ID {
		t.Error("low-similarity hit dropped")
	}
}

// TestRetrieval_SearchValidation rejects blank queries and isolates owners
func TestRetrieval_SearchValidation(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	seedIndexed(t, f, "alice", "Something searchable", vecBase)
	f.scriptEmbedding("anything", vecBase)

	_, err := f.retrieval.Search(ctx, "alice", "   ", 10)
	var vErr *models.ValidationError
	if !errors.As(err, &vErr) {
		t.Errorf("blank query error = %v, want ValidationError", err)
	}

	hits, err := f.retrieval.Search(ctx, "bob", "anything", 10)
	if err != nil {
		t.Fatalf("Search(bob) error = %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("bob sees %d of alice's memories", len(hits))
	}
}

// TestRetrieval_SearchExcludesArchived drops archived rows at hydration even
// though their vectors stay indexed
func TestRetrieval_SearchExcludesArchived(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	active := seedIndexed(t, f, "alice", "Still current", vecBase)
	archived := seedIndexed(t, f, "alice", "Replaced long ago", vecNear)
	if err := f.storage.ArchiveMemory(ctx, f.db, "alice", archived.ID, models.ArchiveReasonSuperseded, nil); err != nil {
		t.Fatalf("ArchiveMemory() error = %v", err)
	}

	const query = "current state"
	f.scriptEmbedding(query, vecBase)

	hits, err := f.retrieval.Search(ctx, "alice", query, 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 1 || hits[0].Memory.ID != active.ID {
		t.Errorf("hits = %+v, want only the active memory", hits)
	}
}

// TestRetrieval_SearchLimit caps results at the requested size
func TestRetrieval_SearchLimit(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	best := seedIndexed(t, f, "alice", "Closest match", vecBase)
	seedIndexed(t, f, "alice", "Near match", vecNear)
	seedIndexed(t, f, "alice", "Far match", vecMid)

	const query = "closest"
	f.scriptEmbedding(query, vecBase)

	hits, err := f.retrieval.Search(ctx, "alice", query, 1)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 1 || hits[0].Memory.ID != best.ID {
		t.Errorf("hits = %+v, want just the best match", hits)
	}

	// Out-of-range limits fall back to the default instead of erroring
	if _, err := f.retrieval.Search(ctx, "alice", query, 500); err != nil {
		t.Errorf("Search(limit=500) error = %v", err)
	}
}

// TestRetrieval_Enrich expands hits with neighbors and aggregates the graph
// summary
func TestRetrieval_Enrich(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	hub := mustInsertMemory(t, f.storage, f.db, &models.Memory{UserID: "alice", Content: "Hub statement"})
	rebuttal := mustInsertMemory(t, f.storage, f.db, &models.Memory{UserID: "alice", Content: "Newer rebuttal"})
	if _, err := f.relationships.insertEdge(ctx, f.db, rebuttal.ID, hub.ID, models.RelationContradicts, 0.8, time.Now()); err != nil {
		t.Fatal(err)
	}

	enriched, summary, err := f.retrieval.Enrich(ctx, "alice", []models.ScoredMemory{{Memory: hub, Similarity: 0.92}})
	if err != nil {
		t.Fatalf("Enrich() error = %v", err)
	}
	if len(enriched) != 1 {
		t.Fatalf("enriched = %d, want 1", len(enriched))
	}

	e := enriched[0]
	if e.Similarity != 0.92 {
		t.Errorf("Similarity = %v, want 0.92", e.Similarity)
	}
	if len(e.Connected) != 1 || e.Connected[0].Peer.ID != rebuttal.ID {
		t.Fatalf("Connected = %+v, want the rebuttal", e.Connected)
	}
	if e.Connected[0].Outbound {
		t.Error("inbound contradiction flagged outbound")
	}
	if !strings.Contains(e.Annotation, "1 linked memory (1 contradiction)") {
		t.Errorf("Annotation = %q, want linked-memory note", e.Annotation)
	}
	if !strings.Contains(e.Annotation, "recorded today") {
		t.Errorf("Annotation = %q, want recency note", e.Annotation)
	}

	if summary.MemoryCount != 1 || summary.RelationshipCount != 1 || summary.ContradictionCount != 1 {
		t.Errorf("summary = %+v, want 1 memory, 1 edge, 1 contradiction", summary)
	}
}

// TestSummarizeGraph_SharedEdgeCountsOnce dedupes an edge retrieved from
// both endpoints
func TestSummarizeGraph_SharedEdgeCountsOnce(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()

	a, b := seedPair(t, f, "alice")
	if _, err := f.relationships.insertEdge(ctx, f.db, a.ID, b.ID, models.RelationExtends, 0.9, time.Now()); err != nil {
		t.Fatal(err)
	}

	_, summary, err := f.retrieval.Enrich(ctx, "alice", []models.ScoredMemory{
		{Memory: a, Similarity: 0.9},
		{Memory: b, Similarity: 0.8},
	})
	if err != nil {
		t.Fatalf("Enrich() error = %v", err)
	}

	if summary.MemoryCount != 2 {
		t.Errorf("MemoryCount = %d, want 2", summary.MemoryCount)
	}
	if summary.RelationshipCount != 1 {
		t.Errorf("RelationshipCount = %d, want 1 (shared edge counted once)", summary.RelationshipCount)
	}
	if summary.ExtensionCount != 1 {
		t.Errorf("ExtensionCount = %d, want 1", summary.ExtensionCount)
	}
}

// TestRetrieval_Annotate renders temporal and lifecycle context for a hit
func TestRetrieval_Annotate(t *testing.T) {
	f := newEngineFixture(t)
	now := time.Now().UTC()
	successor := "successor-id"

	tests := []struct {
		name     string
		memory   *models.Memory
		contains []string
	}{
		{
			name: "fresh memory",
			memory: &models.Memory{
				CreatedAt: now.Add(-time.Hour),
				ExpiresAt: now.Add(30 * 24 * time.Hour),
			},
			contains: []string{"recorded today", "freshness"},
		},
		{
			name: "past retention",
			memory: &models.Memory{
				CreatedAt: now.Add(-60 * 24 * time.Hour),
				ExpiresAt: now.Add(-30 * 24 * time.Hour),
			},
			contains: []string{"60 days ago", "freshness 0%", "past retention"},
		},
		{
			name: "superseded",
			memory: &models.Memory{
				CreatedAt:    now.Add(-24 * time.Hour),
				ExpiresAt:    now.Add(30 * 24 * time.Hour),
				SupersededBy: &successor,
			},
			contains: []string{"yesterday", "superseded by newer information"},
		},
		{
			name: "flagged outdated",
			memory: &models.Memory{
				CreatedAt: now.Add(-3 * 24 * time.Hour),
				ExpiresAt: now.Add(30 * 24 * time.Hour),
				Metadata:  map[string]interface{}{"outdated": true},
			},
			contains: []string{"3 days ago", "flagged outdated"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := f.retrieval.annotate(tt.memory, nil, now)
			for _, want := range tt.contains {
				if !strings.Contains(got, want) {
					t.Errorf("annotate() = %q, missing %q", got, want)
				}
			}
		})
	}
}

// TestHumanAge renders relative ages the way the annotations expect
func TestHumanAge(t *testing.T) {
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		t    time.Time
		want string
	}{
		{"same day", now.Add(-2 * time.Hour), "today"},
		{"one day", now.Add(-30 * time.Hour), "yesterday"},
		{"many days", now.Add(-10 * 24 * time.Hour), "10 days ago"},
		{"future timestamp", now.Add(time.Hour), "today"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := humanAge(now, tt.t); got != tt.want {
				t.Errorf("humanAge() = %q, want %q", got, tt.want)
			}
		})
	}
}
