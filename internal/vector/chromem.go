package vector

import (
	"context"
	"fmt"
	"log"
	"sync"

	chromem "github.com/philippgille/chromem-go"
)

// ChromemIndex backs the vector index with chromem-go, an embedded pure-Go
// vector database. Each owner gets their own collection so a query can never
// cross owner boundaries. Only the embedding travels into the index; memory
// content stays in the relational store.
type ChromemIndex struct {
	db          *chromem.DB
	collections map[string]*chromem.Collection
	mu          sync.RWMutex
}

// NewChromemIndex opens the index. With a persistence dir the collections
// survive restarts; with "" everything lives in memory (tests, dev mode).
func NewChromemIndex(dir string) (*ChromemIndex, error) {
	var db *chromem.DB
	var err error
	if dir == "" {
		db = chromem.NewDB()
		log.Printf("✅ [VECTOR] chromem index initialized (in-memory)")
	} else {
		db, err = chromem.NewPersistentDB(dir, false)
		if err != nil {
			return nil, fmt.Errorf("failed to open chromem index at %s: %w", dir, err)
		}
		log.Printf("✅ [VECTOR] chromem index initialized (dir: %s)", dir)
	}

	return &ChromemIndex{
		db:          db,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

// collection returns the owner's collection, creating it on first use
func (c *ChromemIndex) collection(userID string) (*chromem.Collection, error) {
	c.mu.RLock()
	col, exists := c.collections[userID]
	c.mu.RUnlock()
	if exists {
		return col, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Double-check after acquiring the write lock
	if col, exists := c.collections[userID]; exists {
		return col, nil
	}

	col, err := c.db.GetOrCreateCollection(fmt.Sprintf("user_%s", userID), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open collection for owner: %w", err)
	}
	c.collections[userID] = col
	return col, nil
}

// Upsert stores or replaces a memory's embedding
func (c *ChromemIndex) Upsert(ctx context.Context, userID, memoryID string, embedding []float32) error {
	col, err := c.collection(userID)
	if err != nil {
		return err
	}

	// Content is required to be non-empty by chromem; the ID is a neutral
	// stand-in so no memory text leaks into index files.
	doc := chromem.Document{
		ID:        memoryID,
		Content:   memoryID,
		Embedding: embedding,
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("failed to index embedding: %w", err)
	}
	return nil
}

// TopK returns up to k matches at or above minSimilarity, most similar first
func (c *ChromemIndex) TopK(ctx context.Context, userID string, embedding []float32, k int, minSimilarity float64) ([]Match, error) {
	col, err := c.collection(userID)
	if err != nil {
		return nil, err
	}

	// chromem rejects nResults larger than the collection
	if count := col.Count(); count < k {
		k = count
	}
	if k <= 0 {
		return nil, nil
	}

	results, err := col.QueryEmbedding(ctx, embedding, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vector query failed: %w", err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		sim := float64(r.Similarity)
		if sim < minSimilarity {
			continue
		}
		matches = append(matches, Match{MemoryID: r.ID, Similarity: sim})
	}
	return matches, nil
}

// Delete removes a memory's embedding from the owner's collection
func (c *ChromemIndex) Delete(ctx context.Context, userID, memoryID string) error {
	col, err := c.collection(userID)
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, nil, nil, memoryID); err != nil {
		return fmt.Errorf("failed to remove embedding from index: %w", err)
	}
	return nil
}

// Close is a no-op; chromem flushes on every write
func (c *ChromemIndex) Close() error {
	return nil
}
