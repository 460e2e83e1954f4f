package vector

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"time"

	"engram/internal/database"
)

// StoreIndex keeps embeddings in the relational database as little-endian
// float32 blobs and scans them on query. No extra process, no extra files;
// fine for per-owner collections in the thousands.
type StoreIndex struct {
	db *database.DB
}

// NewStoreIndex builds the store-backed index on an initialized database
func NewStoreIndex(db *database.DB) *StoreIndex {
	return &StoreIndex{db: db}
}

// Upsert stores or replaces a memory's embedding blob
func (s *StoreIndex) Upsert(ctx context.Context, userID, memoryID string, embedding []float32) error {
	if len(embedding) == 0 {
		return fmt.Errorf("refusing to index an empty embedding")
	}

	blob := encodeVector(embedding)
	now := time.Now().UTC().Format(time.RFC3339)

	var query string
	if s.db.Driver == "mysql" {
		query = `INSERT INTO memory_vectors (memory_id, user_id, embedding, dims, created_at)
		         VALUES (?, ?, ?, ?, ?)
		         ON DUPLICATE KEY UPDATE embedding = VALUES(embedding), dims = VALUES(dims)`
	} else {
		query = `INSERT INTO memory_vectors (memory_id, user_id, embedding, dims, created_at)
		         VALUES (?, ?, ?, ?, ?)
		         ON CONFLICT(memory_id) DO UPDATE SET embedding = excluded.embedding, dims = excluded.dims`
	}

	if _, err := s.db.ExecContext(ctx, query, memoryID, userID, blob, len(embedding), now); err != nil {
		return fmt.Errorf("failed to store embedding: %w", err)
	}
	return nil
}

// TopK scans the owner's vectors and returns up to k matches at or above
// minSimilarity, most similar first
func (s *StoreIndex) TopK(ctx context.Context, userID string, embedding []float32, k int, minSimilarity float64) ([]Match, error) {
	if k <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT memory_id, embedding FROM memory_vectors WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load embeddings: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var memoryID string
		var blob []byte
		if err := rows.Scan(&memoryID, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan embedding row: %w", err)
		}
		candidate, err := decodeVector(blob)
		if err != nil {
			// Skip corrupt rows rather than failing the whole query
			continue
		}
		sim := CosineSimilarity(embedding, candidate)
		if sim < minSimilarity {
			continue
		}
		matches = append(matches, Match{MemoryID: memoryID, Similarity: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("embedding scan failed: %w", err)
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Delete removes a memory's embedding row
func (s *StoreIndex) Delete(ctx context.Context, userID, memoryID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM memory_vectors WHERE memory_id = ? AND user_id = ?`, memoryID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete embedding: %w", err)
	}
	return nil
}

// Close is a no-op; the database connection is owned by the caller
func (s *StoreIndex) Close() error {
	return nil
}

// encodeVector packs float32 values little-endian
func encodeVector(vec []float32) []byte {
	blob := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// decodeVector unpacks a little-endian float32 blob
func decodeVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(blob))
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec, nil
}
