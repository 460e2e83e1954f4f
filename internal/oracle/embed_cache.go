package oracle

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"

	"github.com/dgraph-io/ristretto"
)

// CachedEmbedder wraps an Embedder with an in-process ristretto cache.
// Re-ingesting identical text (retries, capture re-runs, the backfill
// script) then costs one hash instead of one upstream call.
type CachedEmbedder struct {
	inner Embedder
	cache *ristretto.Cache
}

// NewCachedEmbedder builds the caching wrapper. maxBytes bounds the total
// vector payload held in memory.
func NewCachedEmbedder(inner Embedder, maxBytes int64) (*CachedEmbedder, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 100_000,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}

	log.Printf("✅ [ORACLE] Embedding cache enabled (budget: %d MB)", maxBytes/(1024*1024))
	return &CachedEmbedder{inner: inner, cache: cache}, nil
}

// Embed returns the cached vector when the exact text was embedded before,
// otherwise delegates and caches the result
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := embedCacheKey(text)
	if hit, ok := c.cache.Get(key); ok {
		if vec, ok := hit.([]float32); ok {
			return vec, nil
		}
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	// Cost is the vector payload size; admission may still reject it
	c.cache.Set(key, vec, int64(len(vec)*4))
	return vec, nil
}

// Dimensions reports the wrapped embedder's vector length
func (c *CachedEmbedder) Dimensions() int {
	return c.inner.Dimensions()
}

// Close releases the cache's internal goroutines
func (c *CachedEmbedder) Close() {
	c.cache.Close()
}

func embedCacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
