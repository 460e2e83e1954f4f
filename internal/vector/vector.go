package vector

import (
	"context"
	"fmt"
	"math"

	"engram/internal/config"
	"engram/internal/database"
)

// Match is one similarity hit from the index
type Match struct {
	MemoryID   string
	Similarity float64
}

// Index stores one embedding per memory, namespaced per owner. Entries live
// until the memory is hard-deleted; archived memories keep their vectors, and
// callers filter archived rows out when they hydrate TopK results from the
// store.
type Index interface {
	Upsert(ctx context.Context, userID, memoryID string, embedding []float32) error
	TopK(ctx context.Context, userID string, embedding []float32, k int, minSimilarity float64) ([]Match, error)
	Delete(ctx context.Context, userID, memoryID string) error
	Close() error
}

// New builds the configured index backend. "chromem" keeps vectors in an
// embedded chromem-go database (persistent when VECTOR_DIR is set); "store"
// keeps them in the relational database next to everything else.
func New(cfg *config.Config, db *database.DB) (Index, error) {
	switch cfg.VectorBackend {
	case "chromem", "":
		return NewChromemIndex(cfg.VectorDir)
	case "store":
		return NewStoreIndex(db), nil
	default:
		return nil, fmt.Errorf("unknown vector backend: %q", cfg.VectorBackend)
	}
}

// CosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched lengths or zero vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
