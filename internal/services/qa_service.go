package services

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"engram/internal/models"
	"engram/internal/oracle"
)

const (
	qaSearchLimit     = 5
	qaPreferenceLimit = 2
	qaMaxExcerpts     = 3
	qaExcerptRunes    = 120
)

// preferenceKeywords mark questions about likes and dislikes. Those answers
// favor the most recent statements over the most similar ones, because a
// preference stated yesterday beats one stated last year.
var preferenceKeywords = []string{
	"favorite", "like", "prefer", "love", "hate", "dislike", "enjoy", "want",
}

// QAService turns an owner's graph into grounded natural-language answers
type QAService struct {
	retrieval *RetrievalService
	storage   *MemoryStorageService
	generator oracle.Generator
	prompts   *oracle.PromptSet
}

// NewQAService creates the question answering orchestrator
func NewQAService(retrieval *RetrievalService, storage *MemoryStorageService, generator oracle.Generator, prompts *oracle.PromptSet) *QAService {
	return &QAService{
		retrieval: retrieval,
		storage:   storage,
		generator: generator,
		prompts:   prompts,
	}
}

// Answer retrieves the memories most relevant to the question, renders them
// into a context block and asks the generation oracle for a grounded answer.
// An empty retrieval short-circuits to the fixed no-information answer
// without an oracle call.
func (s *QAService) Answer(ctx context.Context, userID, question string) (*models.AnswerResult, error) {
	start := time.Now()

	question = strings.TrimSpace(question)
	if question == "" {
		return nil, &models.ValidationError{Field: "question", Message: "question is required"}
	}

	memories, summary, err := s.retrieval.SearchEnriched(ctx, userID, question, qaSearchLimit)
	if err != nil {
		return nil, err
	}

	if len(memories) == 0 {
		return &models.AnswerResult{
			Answer:       oracle.NoInformationAnswer,
			MemoriesUsed: []*models.EnrichedMemory{},
			GraphSummary: summary,
		}, nil
	}

	if isPreferenceQuestion(question) {
		memories = mostRecent(memories, qaPreferenceLimit)
		summary = summarizeGraph(memories)
	}

	prompt := buildAnswerPrompt(question, memories, summary)

	genStart := time.Now()
	answer, err := s.generator.Generate(ctx, s.prompts.AnswerSystem(), prompt)
	observeOracle("generation", genStart, err)
	if err != nil {
		return nil, fmt.Errorf("answer generation failed: %w", err)
	}

	ids := make([]string, 0, len(memories))
	for _, m := range memories {
		ids = append(ids, m.Memory.ID)
	}
	if err := s.storage.UpdateMemoryAccess(ctx, userID, ids); err != nil {
		log.Printf("⚠️ [QA] Failed to update access counts for user %s: %v", userID, err)
	}

	GetMetrics().RecordAnswer(time.Since(start).Seconds())
	log.Printf("✅ [QA] Answered question for user %s using %d memories", userID, len(memories))

	return &models.AnswerResult{
		Answer:       strings.TrimSpace(answer),
		MemoriesUsed: memories,
		GraphSummary: summary,
	}, nil
}

// isPreferenceQuestion reports whether the question asks about likes,
// dislikes or wants
func isPreferenceQuestion(question string) bool {
	lower := strings.ToLower(question)
	for _, keyword := range preferenceKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

// mostRecent re-sorts by creation time, newest first, and truncates
func mostRecent(memories []*models.EnrichedMemory, limit int) []*models.EnrichedMemory {
	recent := make([]*models.EnrichedMemory, len(memories))
	copy(recent, memories)
	sort.SliceStable(recent, func(i, j int) bool {
		return recent[i].Memory.CreatedAt.After(recent[j].Memory.CreatedAt)
	})
	if len(recent) > limit {
		recent = recent[:limit]
	}
	return recent
}

// buildAnswerPrompt renders the retrieved set into the context block the
// generation oracle sees: a graph summary line, then one block per memory
// with its relevance, content, temporal annotation and up to three
// connected excerpts.
func buildAnswerPrompt(question string, memories []*models.EnrichedMemory, summary models.GraphSummary) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Graph summary: %d memories, %d relationships, %d contradictions, %d extensions.\n",
		summary.MemoryCount, summary.RelationshipCount, summary.ContradictionCount, summary.ExtensionCount)

	for i, m := range memories {
		fmt.Fprintf(&b, "\n[Memory %d] (relevance %.2f)\n%s\n(%s)\n", i+1, m.Similarity, m.Memory.Content, m.Annotation)

		for j, c := range m.Connected {
			if j >= qaMaxExcerpts {
				break
			}
			fmt.Fprintf(&b, "  - %s: %s\n", c.Relationship.Type, excerpt(c.Peer.Content))
		}
	}

	fmt.Fprintf(&b, "\nQuestion: %s\n", question)
	return b.String()
}

// excerpt shortens connected-memory content for the context block
func excerpt(content string) string {
	runes := []rune(content)
	if len(runes) <= qaExcerptRunes {
		return content
	}
	return string(runes[:qaExcerptRunes]) + "..."
}
