package vector

import (
	"context"
	"math"
	"testing"

	"engram/internal/database"
)

func testBackends(t *testing.T) map[string]Index {
	t.Helper()

	chromemIdx, err := NewChromemIndex("")
	if err != nil {
		t.Fatalf("failed to create chromem index: %v", err)
	}

	db, err := database.New("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Initialize(); err != nil {
		t.Fatalf("failed to initialize schema: %v", err)
	}

	return map[string]Index{
		"chromem": chromemIdx,
		"store":   NewStoreIndex(db),
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     []float32
		expected float64
	}{
		{"identical", []float32{1, 0, 0}, []float32{1, 0, 0}, 1.0},
		{"orthogonal", []float32{1, 0, 0}, []float32{0, 1, 0}, 0.0},
		{"opposite", []float32{1, 0, 0}, []float32{-1, 0, 0}, -1.0},
		{"scaled", []float32{2, 0, 0}, []float32{5, 0, 0}, 1.0},
		{"mismatched lengths", []float32{1, 0}, []float32{1, 0, 0}, 0.0},
		{"zero vector", []float32{0, 0, 0}, []float32{1, 0, 0}, 0.0},
		{"empty", nil, nil, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.expected) > 1e-6 {
				t.Errorf("CosineSimilarity() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestIndexTopK(t *testing.T) {
	ctx := context.Background()

	for name, idx := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			seed := map[string][]float32{
				"mem-exact":   {1, 0, 0, 0},
				"mem-close":   {0.9, 0.1, 0, 0},
				"mem-partial": {0.7, 0.7, 0, 0},
				"mem-far":     {0, 1, 0, 0},
			}
			for id, vec := range seed {
				if err := idx.Upsert(ctx, "user-1", id, vec); err != nil {
					t.Fatalf("Upsert(%s) error: %v", id, err)
				}
			}

			matches, err := idx.TopK(ctx, "user-1", []float32{1, 0, 0, 0}, 10, 0.5)
			if err != nil {
				t.Fatalf("TopK() error: %v", err)
			}
			if len(matches) != 3 {
				t.Fatalf("expected 3 matches above the floor, got %d: %+v", len(matches), matches)
			}
			if matches[0].MemoryID != "mem-exact" || matches[1].MemoryID != "mem-close" || matches[2].MemoryID != "mem-partial" {
				t.Errorf("wrong ordering: %+v", matches)
			}
			for i := 1; i < len(matches); i++ {
				if matches[i].Similarity > matches[i-1].Similarity {
					t.Errorf("matches not sorted by similarity desc: %+v", matches)
				}
			}

			// k caps the result set
			capped, err := idx.TopK(ctx, "user-1", []float32{1, 0, 0, 0}, 2, 0)
			if err != nil {
				t.Fatalf("TopK() error: %v", err)
			}
			if len(capped) != 2 {
				t.Errorf("expected cap at 2, got %d", len(capped))
			}
		})
	}
}

func TestIndexOwnerIsolation(t *testing.T) {
	ctx := context.Background()

	for name, idx := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			if err := idx.Upsert(ctx, "alice", "alice-mem", []float32{1, 0, 0, 0}); err != nil {
				t.Fatal(err)
			}
			if err := idx.Upsert(ctx, "bob", "bob-mem", []float32{1, 0, 0, 0}); err != nil {
				t.Fatal(err)
			}

			matches, err := idx.TopK(ctx, "alice", []float32{1, 0, 0, 0}, 10, 0)
			if err != nil {
				t.Fatalf("TopK() error: %v", err)
			}
			for _, m := range matches {
				if m.MemoryID == "bob-mem" {
					t.Fatal("query for alice returned bob's memory")
				}
			}
			if len(matches) != 1 || matches[0].MemoryID != "alice-mem" {
				t.Errorf("unexpected matches for alice: %+v", matches)
			}
		})
	}
}

func TestIndexDelete(t *testing.T) {
	ctx := context.Background()

	for name, idx := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			if err := idx.Upsert(ctx, "user-1", "mem-a", []float32{1, 0, 0, 0}); err != nil {
				t.Fatal(err)
			}
			if err := idx.Delete(ctx, "user-1", "mem-a"); err != nil {
				t.Fatalf("Delete() error: %v", err)
			}

			matches, err := idx.TopK(ctx, "user-1", []float32{1, 0, 0, 0}, 10, 0)
			if err != nil {
				t.Fatalf("TopK() error: %v", err)
			}
			for _, m := range matches {
				if m.MemoryID == "mem-a" {
					t.Fatal("deleted memory still in index")
				}
			}
		})
	}
}

func TestIndexUpsertReplaces(t *testing.T) {
	ctx := context.Background()

	for name, idx := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			if err := idx.Upsert(ctx, "user-1", "mem-a", []float32{1, 0, 0, 0}); err != nil {
				t.Fatal(err)
			}
			// Replace with an orthogonal vector
			if err := idx.Upsert(ctx, "user-1", "mem-a", []float32{0, 1, 0, 0}); err != nil {
				t.Fatal(err)
			}

			matches, err := idx.TopK(ctx, "user-1", []float32{1, 0, 0, 0}, 10, 0.5)
			if err != nil {
				t.Fatalf("TopK() error: %v", err)
			}
			if len(matches) != 0 {
				t.Errorf("stale vector still matches after replace: %+v", matches)
			}
		})
	}
}

func TestEmptyIndexQuery(t *testing.T) {
	ctx := context.Background()

	for name, idx := range testBackends(t) {
		t.Run(name, func(t *testing.T) {
			matches, err := idx.TopK(ctx, "nobody", []float32{1, 0, 0, 0}, 10, 0)
			if err != nil {
				t.Fatalf("TopK() on empty index: %v", err)
			}
			if len(matches) != 0 {
				t.Errorf("expected no matches, got %+v", matches)
			}
		})
	}
}

func TestVectorEncoding(t *testing.T) {
	original := []float32{0.25, -1.5, 0, 3.75, -0.001}
	decoded, err := decodeVector(encodeVector(original))
	if err != nil {
		t.Fatalf("decodeVector() error: %v", err)
	}
	if len(decoded) != len(original) {
		t.Fatalf("length mismatch: %d != %d", len(decoded), len(original))
	}
	for i := range original {
		if decoded[i] != original[i] {
			t.Errorf("round trip mismatch at %d: %v != %v", i, decoded[i], original[i])
		}
	}

	if _, err := decodeVector([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated blob")
	}
}
