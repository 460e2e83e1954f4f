package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"engram/internal/config"
	"engram/internal/logging"
	"engram/internal/models"
	"engram/internal/oracle"
	"engram/internal/vector"
)

// searchOverfetch widens index queries so archived rows filtered at
// hydration don't shrink the result set below the caller's cap
func searchOverfetch(k int) int {
	n := k * 3
	if n < 20 {
		n = 20
	}
	if n > 50 {
		n = 50
	}
	return n
}

// searchSimilar is the one path from an embedding to scored, hydrated,
// active memories. The index may return archived or foreign IDs after a
// drift; hydration drops anything the owner filter or archived filter
// rejects, then the cap applies.
func searchSimilar(ctx context.Context, storage *MemoryStorageService, index vector.Index, userID string, embedding []float32, k int, floor float64, excludeID string) ([]models.ScoredMemory, error) {
	if k <= 0 {
		return nil, nil
	}

	matches, err := index.TopK(ctx, userID, embedding, searchOverfetch(k), floor)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	ids := make([]string, 0, len(matches))
	similarity := make(map[string]float64, len(matches))
	for _, m := range matches {
		if m.MemoryID == excludeID {
			continue
		}
		ids = append(ids, m.MemoryID)
		similarity[m.MemoryID] = m.Similarity
	}

	memories, err := storage.GetByIDs(ctx, storage.DB(), userID, ids, false)
	if err != nil {
		return nil, err
	}

	hits := make([]models.ScoredMemory, 0, len(memories))
	for _, m := range memories {
		hits = append(hits, models.ScoredMemory{Memory: m, Similarity: similarity[m.ID]})
		if len(hits) >= k {
			break
		}
	}
	return hits, nil
}

// RetrievalService answers similarity queries over an owner's active graph
// and enriches hits with their neighborhood and temporal context
type RetrievalService struct {
	storage       *MemoryStorageService
	relationships *RelationshipService
	lifecycle     *LifecycleService
	embedder      oracle.Embedder
	index         vector.Index
	cfg           *config.Config
}

// NewRetrievalService creates a new retrieval service
func NewRetrievalService(storage *MemoryStorageService, relationships *RelationshipService, lifecycle *LifecycleService, embedder oracle.Embedder, index vector.Index, cfg *config.Config) *RetrievalService {
	return &RetrievalService{
		storage:       storage,
		relationships: relationships,
		lifecycle:     lifecycle,
		embedder:      embedder,
		index:         index,
		cfg:           cfg,
	}
}

// Search returns the owner's active memories most similar to the query,
// best first. There is no similarity floor; weak results rank low instead
// of disappearing.
func (s *RetrievalService) Search(ctx context.Context, userID, query string, limit int) ([]models.ScoredMemory, error) {
	if strings.TrimSpace(query) == "" {
		return nil, &models.ValidationError{Field: "query", Message: "query must not be empty"}
	}
	if limit < 1 || limit > 50 {
		limit = 10
	}

	embedding, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	hits, err := searchSimilar(ctx, s.storage, s.index, userID, embedding, limit, -1, "")
	if err != nil {
		return nil, err
	}

	logging.WithOwner(userID).Debug("search complete", "query_length", len(query), "hits", len(hits))
	return hits, nil
}

// Enrich expands search hits with 1-hop neighbors, temporal annotations and
// an aggregate graph summary
func (s *RetrievalService) Enrich(ctx context.Context, userID string, hits []models.ScoredMemory) ([]*models.EnrichedMemory, models.GraphSummary, error) {
	now := time.Now()

	enriched := make([]*models.EnrichedMemory, 0, len(hits))
	for _, hit := range hits {
		connected, err := s.relationships.Neighborhood(ctx, userID, hit.Memory.ID)
		if err != nil {
			return nil, models.GraphSummary{}, err
		}

		enriched = append(enriched, &models.EnrichedMemory{
			Memory:     hit.Memory,
			Similarity: hit.Similarity,
			Connected:  connected,
			Annotation: s.annotate(hit.Memory, connected, now),
		})
	}

	return enriched, summarizeGraph(enriched), nil
}

// summarizeGraph aggregates edge statistics over an enriched set. Edges
// touching two retrieved memories count once.
func summarizeGraph(memories []*models.EnrichedMemory) models.GraphSummary {
	summary := models.GraphSummary{MemoryCount: len(memories)}
	seenEdges := make(map[string]bool)

	for _, m := range memories {
		for _, c := range m.Connected {
			if seenEdges[c.Relationship.ID] {
				continue
			}
			seenEdges[c.Relationship.ID] = true
			summary.RelationshipCount++
			switch c.Relationship.Type {
			case models.RelationContradicts:
				summary.ContradictionCount++
			case models.RelationExtends:
				summary.ExtensionCount++
			}
		}
	}
	return summary
}

// SearchEnriched is Search followed by Enrich
func (s *RetrievalService) SearchEnriched(ctx context.Context, userID, query string, limit int) ([]*models.EnrichedMemory, models.GraphSummary, error) {
	hits, err := s.Search(ctx, userID, query, limit)
	if err != nil {
		return nil, models.GraphSummary{}, err
	}
	return s.Enrich(ctx, userID, hits)
}

// annotate renders the temporal and graph context of one hit as a short
// human-readable line
func (s *RetrievalService) annotate(m *models.Memory, connected []models.ConnectedMemory, now time.Time) string {
	parts := []string{"recorded " + humanAge(now, m.CreatedAt)}

	freshness := FreshnessAt(m, now)
	parts = append(parts, fmt.Sprintf("freshness %d%%", int(freshness*100)))
	if freshness == 0 {
		parts = append(parts, "past retention")
	}

	if m.SupersededBy != nil {
		parts = append(parts, "superseded by newer information")
	} else if m.IsOutdated() {
		parts = append(parts, "flagged outdated")
	}

	if n := len(connected); n > 0 {
		contradictions := 0
		for _, c := range connected {
			if c.Relationship.Type == models.RelationContradicts {
				contradictions++
			}
		}
		link := fmt.Sprintf("%d linked memories", n)
		if n == 1 {
			link = "1 linked memory"
		}
		switch {
		case contradictions == 1:
			link += " (1 contradiction)"
		case contradictions > 1:
			link += fmt.Sprintf(" (%d contradictions)", contradictions)
		}
		parts = append(parts, link)
	}

	return strings.Join(parts, "; ")
}

// humanAge renders an age as "today", "yesterday" or "N days ago"
func humanAge(now, t time.Time) string {
	days := int(now.Sub(t).Hours() / 24)
	switch {
	case days <= 0:
		return "today"
	case days == 1:
		return "yesterday"
	default:
		return fmt.Sprintf("%d days ago", days)
	}
}
