package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"engram/internal/config"
	"engram/internal/models"
)

// Embedder turns text into a fixed-length vector
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// Categorizer classifies a memory into {category, importance, tags}
type Categorizer interface {
	Categorize(ctx context.Context, text string) (*models.CategorizationResult, error)
}

// EntityExtractor pulls typed entities out of a memory
type EntityExtractor interface {
	ExtractEntities(ctx context.Context, text string) ([]models.ExtractedEntity, error)
}

// ConflictClassifier decides whether statement b contradicts statement a
type ConflictClassifier interface {
	ClassifyConflict(ctx context.Context, a, b string) (*models.ContradictionVerdict, error)
}

// Generator produces the final grounded answer for the QA flow
type Generator interface {
	Generate(ctx context.Context, systemDirective, prompt string) (string, error)
}

// completionClient is the transport for text completion oracles
type completionClient interface {
	complete(ctx context.Context, model, system, user string) (string, error)
}

// embeddingClient is the transport for the embedding oracle
type embeddingClient interface {
	embed(ctx context.Context, model, text string) ([]float32, error)
}

// Service binds the oracle transports to the five roles the engine needs.
// All calls carry bounded timeouts; budget exhaustion surfaces as
// UpstreamTimeout, transport or parse failures as UpstreamError.
type Service struct {
	completions completionClient
	embeddings  embeddingClient

	prompts *PromptSet

	embeddingModel  string
	classifierModel string
	generationModel string
	fallbackModel   string

	embedTimeout    time.Duration
	generateTimeout time.Duration

	dims int
}

// NewService builds the oracle service for the configured provider.
// "openai" talks to any OpenAI-compatible endpoint; "ollama" to a local
// Ollama daemon; "anthropic" uses the official SDK for completions and an
// OpenAI-compatible endpoint for embeddings (Anthropic has none).
func NewService(cfg config.OracleConfig, dims int) (*Service, error) {
	s := &Service{
		prompts:         DefaultPrompts(),
		embeddingModel:  cfg.EmbeddingModel,
		classifierModel: cfg.ClassifierModel,
		generationModel: cfg.GenerationModel,
		fallbackModel:   cfg.FallbackModel,
		embedTimeout:    cfg.EmbedTimeout,
		generateTimeout: cfg.GenerateTimeout,
		dims:            dims,
	}

	switch cfg.Provider {
	case "openai", "":
		client := newOpenAICompatClient(cfg.BaseURL, cfg.APIKey)
		s.completions = client
		s.embeddings = client

	case "ollama":
		client := newOllamaClient(cfg.BaseURL)
		s.completions = client
		s.embeddings = client

	case "mock":
		// Offline development mode: deterministic canned responses
		client := &mockTransport{dims: dims}
		s.completions = client
		s.embeddings = client

	case "anthropic":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic provider requires ORACLE_API_KEY")
		}
		embedBase := cfg.EmbeddingBaseURL
		if embedBase == "" {
			return nil, fmt.Errorf("anthropic provider requires ORACLE_EMBEDDING_BASE_URL (Anthropic exposes no embeddings endpoint)")
		}
		s.completions = newAnthropicClient(cfg.APIKey)
		s.embeddings = newOpenAICompatClient(embedBase, cfg.EmbeddingAPIKey)

	default:
		return nil, fmt.Errorf("unknown oracle provider: %q", cfg.Provider)
	}

	log.Printf("✅ [ORACLE] Service initialized: provider=%s classifier=%s generator=%s", cfg.Provider, cfg.ClassifierModel, cfg.GenerationModel)
	return s, nil
}

// Prompts exposes the live prompt set for the hot-reload watcher
func (s *Service) Prompts() *PromptSet {
	return s.prompts
}

// Dimensions returns the configured embedding vector length
func (s *Service) Dimensions() int {
	return s.dims
}

// Embed returns the embedding vector for a text
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &UpstreamError{Oracle: "embedding", Err: ErrEmptyInput}
	}

	ctx, cancel := context.WithTimeout(ctx, s.embedTimeout)
	defer cancel()

	vec, err := s.embeddings.embed(ctx, s.embeddingModel, text)
	if err != nil {
		return nil, wrapErr("embedding", s.embedTimeout, err)
	}
	if len(vec) == 0 {
		return nil, &UpstreamError{Oracle: "embedding", Err: fmt.Errorf("provider returned an empty vector")}
	}
	return vec, nil
}

// Categorize classifies a memory into category, importance and tags
func (s *Service) Categorize(ctx context.Context, text string) (*models.CategorizationResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.embedTimeout)
	defer cancel()

	raw, err := s.completions.complete(ctx, s.classifierModel, s.prompts.CategorizeSystem(), s.prompts.CategorizeUser(text))
	if err != nil {
		return nil, wrapErr("categorization", s.embedTimeout, err)
	}

	var result models.CategorizationResult
	if err := json.Unmarshal([]byte(extractJSON(raw)), &result); err != nil {
		log.Printf("⚠️ [ORACLE] Failed to parse categorization (response length: %d bytes): %v", len(raw), err)
		return nil, &UpstreamError{Oracle: "categorization", Err: fmt.Errorf("malformed output: %w", err)}
	}

	result.Category = strings.ToLower(strings.TrimSpace(result.Category))
	if !models.ValidCategories[result.Category] {
		return nil, &UpstreamError{Oracle: "categorization", Err: fmt.Errorf("unknown category %q", result.Category)}
	}
	result.Importance = clamp01(result.Importance)
	result.Tags = sanitizeTags(result.Tags)

	return &result, nil
}

// ExtractEntities pulls typed entities out of a memory. Entries with an
// unrecognized type or empty value are skipped, not errors.
func (s *Service) ExtractEntities(ctx context.Context, text string) ([]models.ExtractedEntity, error) {
	ctx, cancel := context.WithTimeout(ctx, s.embedTimeout)
	defer cancel()

	raw, err := s.completions.complete(ctx, s.classifierModel, s.prompts.EntitiesSystem(), s.prompts.EntitiesUser(text))
	if err != nil {
		return nil, wrapErr("entity_extraction", s.embedTimeout, err)
	}

	var parsed struct {
		Entities []models.ExtractedEntity `json:"entities"`
	}
	if err := json.Unmarshal([]byte(extractJSON(raw)), &parsed); err != nil {
		log.Printf("⚠️ [ORACLE] Failed to parse entities (response length: %d bytes): %v", len(raw), err)
		return nil, &UpstreamError{Oracle: "entity_extraction", Err: fmt.Errorf("malformed output: %w", err)}
	}

	entities := make([]models.ExtractedEntity, 0, len(parsed.Entities))
	skipped := 0
	for _, e := range parsed.Entities {
		e.Type = strings.ToLower(strings.TrimSpace(e.Type))
		e.Value = strings.TrimSpace(e.Value)
		if e.Value == "" || !models.ValidEntityTypes[e.Type] {
			skipped++
			continue
		}
		entities = append(entities, e)
		if len(entities) >= maxEntitiesPerMemory {
			break
		}
	}
	if skipped > 0 {
		log.Printf("⚠️ [ORACLE] Skipped %d malformed entities", skipped)
	}

	return entities, nil
}

// ClassifyConflict asks the reasoning oracle whether statement b contradicts
// statement a. Both statements pass through sanitize-and-delimit so stored
// text cannot smuggle instructions into the prompt.
func (s *Service) ClassifyConflict(ctx context.Context, a, b string) (*models.ContradictionVerdict, error) {
	return s.classifyConflictWith(ctx, s.classifierModel, "contradiction", a, b)
}

// FallbackClassifier returns the secondary conflict classifier used for the
// single documented retry: the fallback model when one is configured,
// otherwise the lexical classifier.
func (s *Service) FallbackClassifier() ConflictClassifier {
	if s.fallbackModel != "" {
		return &fallbackLLMClassifier{svc: s}
	}
	return NewLexicalClassifier()
}

type fallbackLLMClassifier struct {
	svc *Service
}

func (f *fallbackLLMClassifier) ClassifyConflict(ctx context.Context, a, b string) (*models.ContradictionVerdict, error) {
	return f.svc.classifyConflictWith(ctx, f.svc.fallbackModel, "contradiction_fallback", a, b)
}

func (s *Service) classifyConflictWith(ctx context.Context, model, oracleName, a, b string) (*models.ContradictionVerdict, error) {
	ctx, cancel := context.WithTimeout(ctx, s.embedTimeout)
	defer cancel()

	prompt := s.prompts.ConflictUser(SanitizeStatement(a), SanitizeStatement(b))
	raw, err := s.completions.complete(ctx, model, s.prompts.ConflictSystem(), prompt)
	if err != nil {
		return nil, wrapErr(oracleName, s.embedTimeout, err)
	}

	var verdict models.ContradictionVerdict
	if err := json.Unmarshal([]byte(extractJSON(raw)), &verdict); err != nil {
		log.Printf("⚠️ [ORACLE] Failed to parse conflict verdict (response length: %d bytes): %v", len(raw), err)
		return nil, &UpstreamError{Oracle: oracleName, Err: fmt.Errorf("malformed output: %w", err)}
	}
	verdict.Confidence = clamp01(verdict.Confidence)

	return &verdict, nil
}

// Generate produces the final answer text for the QA flow
func (s *Service) Generate(ctx context.Context, systemDirective, prompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.generateTimeout)
	defer cancel()

	answer, err := s.completions.complete(ctx, s.generationModel, systemDirective, prompt)
	if err != nil {
		return "", wrapErr("generation", s.generateTimeout, err)
	}
	return strings.TrimSpace(answer), nil
}

const maxEntitiesPerMemory = 20

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func sanitizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || len(t) > 50 {
			continue
		}
		out = append(out, t)
		if len(out) >= 10 {
			break
		}
	}
	return out
}
