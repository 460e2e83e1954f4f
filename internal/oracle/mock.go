package oracle

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"
	"sync"

	"engram/internal/models"
)

// MockOracle is a scripted implementation of all five oracle roles for tests
// and offline development. Unscripted inputs fall back to deterministic
// defaults: hash-derived embeddings, the "fact" category, no entities, no
// contradiction.
type MockOracle struct {
	mu sync.Mutex

	Dims int

	// Scripted responses, keyed by input text (ClassifyConflict uses
	// existing + "||" + incoming)
	EmbedVectors map[string][]float32
	Categories   map[string]*models.CategorizationResult
	Entities     map[string][]models.ExtractedEntity
	Verdicts     map[string]*models.ContradictionVerdict
	Answer       string

	// Forced failures, returned before any scripted response
	EmbedErr    error
	ClassifyErr error
	ConflictErr error
	GenerateErr error

	// Calls records every invocation in order
	Calls []MockCall
}

// MockCall is one recorded oracle invocation
type MockCall struct {
	Method string
	Input  string
}

// NewMockOracle returns a mock with the given embedding dimensionality
func NewMockOracle(dims int) *MockOracle {
	return &MockOracle{
		Dims:         dims,
		EmbedVectors: make(map[string][]float32),
		Categories:   make(map[string]*models.CategorizationResult),
		Entities:     make(map[string][]models.ExtractedEntity),
		Verdicts:     make(map[string]*models.ContradictionVerdict),
	}
}

func (m *MockOracle) record(method, input string) {
	m.Calls = append(m.Calls, MockCall{Method: method, Input: input})
}

// CallCount returns how many times a method was invoked
func (m *MockOracle) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.Calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Embed returns the scripted vector for the text, or a deterministic
// hash-derived one
func (m *MockOracle) Embed(_ context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Embed", text)
	if m.EmbedErr != nil {
		return nil, m.EmbedErr
	}
	if vec, ok := m.EmbedVectors[text]; ok {
		return vec, nil
	}
	return hashVector(text, m.Dims), nil
}

// Dimensions returns the configured vector length
func (m *MockOracle) Dimensions() int {
	return m.Dims
}

// Categorize returns the scripted result for the text, or fact/0.5
func (m *MockOracle) Categorize(_ context.Context, text string) (*models.CategorizationResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Categorize", text)
	if m.ClassifyErr != nil {
		return nil, m.ClassifyErr
	}
	if r, ok := m.Categories[text]; ok {
		return r, nil
	}
	return &models.CategorizationResult{Category: models.CategoryFact, Importance: 0.5}, nil
}

// ExtractEntities returns the scripted entities for the text, or none
func (m *MockOracle) ExtractEntities(_ context.Context, text string) ([]models.ExtractedEntity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("ExtractEntities", text)
	if m.ClassifyErr != nil {
		return nil, m.ClassifyErr
	}
	return m.Entities[text], nil
}

// ClassifyConflict returns the scripted verdict for the pair, or no
// contradiction
func (m *MockOracle) ClassifyConflict(_ context.Context, a, b string) (*models.ContradictionVerdict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("ClassifyConflict", a+"||"+b)
	if m.ConflictErr != nil {
		return nil, m.ConflictErr
	}
	if v, ok := m.Verdicts[a+"||"+b]; ok {
		return v, nil
	}
	return &models.ContradictionVerdict{Contradicts: false, Confidence: 0.1, Reason: "scripted default"}, nil
}

// Generate returns the scripted answer, or echoes the prompt's last line
func (m *MockOracle) Generate(_ context.Context, _, prompt string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Generate", prompt)
	if m.GenerateErr != nil {
		return "", m.GenerateErr
	}
	if m.Answer != "" {
		return m.Answer, nil
	}
	lines := strings.Split(strings.TrimSpace(prompt), "\n")
	return "mock answer: " + lines[len(lines)-1], nil
}

// mockTransport backs the "mock" provider: valid JSON for each classifier
// prompt, a fixed answer for generation. Lets the whole stack run with no
// upstream configured.
type mockTransport struct {
	dims int
}

func (m *mockTransport) complete(_ context.Context, _, system, _ string) (string, error) {
	switch {
	case strings.Contains(system, "classification"):
		return `{"category": "fact", "importance": 0.5, "tags": []}`, nil
	case strings.Contains(system, "entity extraction"):
		return `{"entities": []}`, nil
	case strings.Contains(system, "contradiction"):
		return `{"contradicts": false, "confidence": 0.1, "reason": "mock provider"}`, nil
	default:
		return "This is a mock answer; configure a real oracle provider for grounded answers.", nil
	}
}

func (m *mockTransport) embed(_ context.Context, _, text string) ([]float32, error) {
	return hashVector(text, m.dims), nil
}

// hashVector derives a unit-length pseudo-embedding from the text's SHA-256.
// Identical texts map to identical vectors; unrelated texts land near
// orthogonal, which is enough for similarity plumbing in tests.
func hashVector(text string, dims int) []float32 {
	if dims <= 0 {
		dims = 8
	}
	vec := make([]float32, dims)
	seed := sha256.Sum256([]byte(text))
	block := seed[:]
	for i := 0; i < dims; i++ {
		if i%8 == 0 && i > 0 {
			next := sha256.Sum256(block)
			block = next[:]
		}
		bits := binary.LittleEndian.Uint32(block[(i%8)*4 : (i%8)*4+4])
		vec[i] = float32(bits%2000)/1000.0 - 1.0
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}
