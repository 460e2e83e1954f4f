package services

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"engram/internal/config"
	"engram/internal/database"
	"engram/internal/logging"
	"engram/internal/models"
	"engram/internal/oracle"
	"engram/internal/vector"
)

// IngestionOracle bundles the text-understanding roles the write path needs
type IngestionOracle interface {
	oracle.Embedder
	oracle.Categorizer
	oracle.EntityExtractor
	oracle.ConflictClassifier
}

// IngestRequest carries everything a caller can say about a new memory.
// Category, RetentionDays and Metadata are optional.
type IngestRequest struct {
	Content       string
	SourceURL     string
	Category      string // Explicit override; skips nothing, just wins over the oracle
	RetentionDays int    // 0 uses the owner's default
	Metadata      map[string]interface{}
}

// IngestionService runs the write path: validation, oracle understanding,
// contradiction-driven supersession, the atomic store write and the
// post-commit relationship pass.
type IngestionService struct {
	db            *database.DB
	storage       *MemoryStorageService
	entities      *EntityService
	relationships *RelationshipService
	settings      *SettingsService
	locks         *OwnerLockService
	events        *EventBusService
	oracle        IngestionOracle
	fallback      oracle.ConflictClassifier // nil disables the conflict retry
	index         vector.Index
	cfg           *config.Config
}

// NewIngestionService creates the ingestion pipeline
func NewIngestionService(
	db *database.DB,
	storage *MemoryStorageService,
	entities *EntityService,
	relationships *RelationshipService,
	settings *SettingsService,
	locks *OwnerLockService,
	events *EventBusService,
	ingestionOracle IngestionOracle,
	fallback oracle.ConflictClassifier,
	index vector.Index,
	cfg *config.Config,
) *IngestionService {
	return &IngestionService{
		db:            db,
		storage:       storage,
		entities:      entities,
		relationships: relationships,
		settings:      settings,
		locks:         locks,
		events:        events,
		oracle:        ingestionOracle,
		fallback:      fallback,
		index:         index,
		cfg:           cfg,
	}
}

// Ingest stores one new memory for the owner and wires it into their graph.
//
// The understanding calls (embedding, categorization, entity extraction) run
// before the owner lock and abort the ingestion on failure. The contradiction
// check, the insert, the supersession archive and the entity upserts run
// under the owner lock, with all writes in one transaction. The relationship
// pass runs after commit and never fails the ingestion.
func (s *IngestionService) Ingest(ctx context.Context, userID string, req *IngestRequest) (*models.Memory, error) {
	start := time.Now()

	content := strings.TrimSpace(req.Content)
	if userID == "" {
		return nil, &models.ValidationError{Field: "user_id", Message: "user ID is required"}
	}
	if content == "" {
		GetMetrics().RecordIngestError("validation")
		return nil, &models.ValidationError{Field: "content", Message: "content is required"}
	}
	if utf8.RuneCountInString(content) > models.MaxMemoryContentLength {
		GetMetrics().RecordIngestError("validation")
		return nil, &models.ValidationError{
			Field:   "content",
			Message: fmt.Sprintf("content exceeds %d characters", models.MaxMemoryContentLength),
		}
	}
	if req.Category != "" && !models.ValidCategories[req.Category] {
		GetMetrics().RecordIngestError("validation")
		return nil, &models.ValidationError{Field: "category", Message: "unknown category: " + req.Category}
	}

	// Exact re-statements return the original row instead of growing the graph
	if existing, err := s.storage.CheckDuplicate(ctx, userID, content); err != nil {
		return nil, err
	} else if existing != nil {
		log.Printf("🔄 [INGEST] Duplicate content for user %s, returning existing memory %s", userID, existing.ID)
		return existing, nil
	}

	embedStart := time.Now()
	embedding, err := s.oracle.Embed(ctx, content)
	observeOracle("embedding", embedStart, err)
	if err != nil {
		GetMetrics().RecordIngestError("oracle")
		return nil, fmt.Errorf("embedding failed: %w", err)
	}

	classifyStart := time.Now()
	classification, err := s.oracle.Categorize(ctx, content)
	observeOracle("categorization", classifyStart, err)
	if err != nil {
		GetMetrics().RecordIngestError("oracle")
		return nil, fmt.Errorf("categorization failed: %w", err)
	}
	category := classification.Category
	if req.Category != "" {
		category = req.Category
	}

	extractStart := time.Now()
	extracted, err := s.oracle.ExtractEntities(ctx, content)
	observeOracle("entities", extractStart, err)
	if err != nil {
		GetMetrics().RecordIngestError("oracle")
		return nil, fmt.Errorf("entity extraction failed: %w", err)
	}

	now := time.Now().UTC()
	ownerDays := s.settings.RetentionDays(ctx, userID)

	memory := &models.Memory{
		ID:         uuid.New().String(),
		UserID:     userID,
		Content:    content,
		SourceURL:  req.SourceURL,
		Category:   category,
		Importance: classification.Importance,
		Tags:       classification.Tags,
		ExpiresAt:  RetentionWindow(now, req.RetentionDays, ownerDays),
		Metadata:   req.Metadata,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	release, err := s.locks.Lock(ctx, userID)
	if err != nil {
		GetMetrics().RecordIngestError("lock")
		return nil, fmt.Errorf("failed to acquire owner lock: %w", err)
	}
	defer release()

	// Candidate search runs on the pool before the transaction opens; the
	// owner lock keeps the candidate set stable until commit
	candidates, err := searchSimilar(ctx, s.storage, s.index, userID, embedding, s.cfg.CandidateCap, s.cfg.ContradictionFloor, "")
	if err != nil {
		log.Printf("⚠️ [INGEST] Contradiction candidate search failed for user %s: %v — proceeding without supersession", userID, err)
		candidates = nil
	}

	superseded, verdict := s.findSuperseded(ctx, userID, content, candidates)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		GetMetrics().RecordIngestError("storage")
		return nil, fmt.Errorf("failed to begin ingestion transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.storage.Insert(ctx, tx, memory); err != nil {
		GetMetrics().RecordIngestError("storage")
		return nil, err
	}

	if superseded != nil {
		// A failed archive rolls back the insert; the two land together or
		// not at all
		if err := s.storage.ArchiveMemory(ctx, tx, userID, superseded.ID, models.ArchiveReasonSuperseded, &memory.ID); err != nil {
			GetMetrics().RecordIngestError("storage")
			return nil, fmt.Errorf("failed to archive superseded memory: %w", err)
		}
	}

	entityIDs, err := s.entities.UpsertMentions(ctx, tx, userID, memory.ID, extracted, now)
	if err != nil {
		GetMetrics().RecordIngestError("storage")
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		GetMetrics().RecordIngestError("storage")
		return nil, fmt.Errorf("failed to commit ingestion: %w", err)
	}

	// Index before unlock so the next serialized ingest sees this vector.
	// The store is the source of truth; a missed upsert only costs recall
	// until the backfill script repairs it.
	if err := s.index.Upsert(ctx, userID, memory.ID, embedding); err != nil {
		log.Printf("⚠️ [INGEST] Vector index update failed for memory %s: %v", memory.ID, err)
	}

	release()

	event := models.MemoryEvent{
		Type:      models.EventMemoryIngested,
		UserID:    userID,
		MemoryID:  memory.ID,
		Preview:   logging.TruncateContent(content),
		Category:  category,
		Timestamp: now,
	}
	if superseded != nil {
		event.SupersededID = superseded.ID
	}
	s.events.Publish(userID, event)

	if superseded != nil {
		s.events.Publish(userID, models.MemoryEvent{
			Type:      models.EventMemoryArchived,
			UserID:    userID,
			MemoryID:  superseded.ID,
			Reason:    models.ArchiveReasonSuperseded,
			Timestamp: now,
		})
		GetMetrics().RecordContradiction(true)
		GetMetrics().RecordArchive(models.ArchiveReasonSuperseded)
		log.Printf("📦 [INGEST] Memory %s superseded %s (confidence %.2f: %s)",
			memory.ID, superseded.ID, verdict.Confidence, verdict.Reason)
	}

	if err := s.relationships.Link(ctx, memory, embedding, entityIDs); err != nil {
		log.Printf("⚠️ [INGEST] Relationship pass failed for memory %s: %v", memory.ID, err)
	}

	GetMetrics().RecordIngest(time.Since(start).Seconds())
	log.Printf("✅ [INGEST] Memory %s ingested for user %s (category=%s, entities=%d, candidates=%d)",
		memory.ID, userID, category, len(entityIDs), len(candidates))
	return memory, nil
}

// findSuperseded walks contradiction candidates in similarity order and
// returns the first one the conflict oracle marks contradicted at or above
// the supersession threshold. A primary oracle failure switches to the
// fallback classifier for the rest of the walk; if that fails too, the
// check is abandoned and ingestion proceeds without supersession.
func (s *IngestionService) findSuperseded(ctx context.Context, userID, content string, candidates []models.ScoredMemory) (*models.Memory, *models.ContradictionVerdict) {
	classifier := oracle.ConflictClassifier(s.oracle)
	role := "conflict"
	usingFallback := false

	for _, candidate := range candidates {
		callStart := time.Now()
		verdict, err := classifier.ClassifyConflict(ctx, candidate.Memory.Content, content)
		observeOracle(role, callStart, err)

		if err != nil && !usingFallback && s.fallback != nil {
			log.Printf("⚠️ [INGEST] Conflict oracle failed for user %s, switching to fallback classifier: %v", userID, err)
			classifier = s.fallback
			role = "conflict_fallback"
			usingFallback = true

			callStart = time.Now()
			verdict, err = classifier.ClassifyConflict(ctx, candidate.Memory.Content, content)
			observeOracle(role, callStart, err)
		}
		if err != nil {
			log.Printf("❌ [INGEST] Contradiction check failed for user %s candidate %s (%q vs %q): %v — proceeding without supersession",
				userID, candidate.Memory.ID,
				logging.TruncateContent(candidate.Memory.Content), logging.TruncateContent(content), err)
			return nil, nil
		}

		if verdict.Contradicts && verdict.Confidence >= s.cfg.SupersedeConfidence {
			return candidate.Memory, verdict
		}
	}
	return nil, nil
}

// observeOracle records latency and failure for one oracle round trip
func observeOracle(role string, start time.Time, err error) {
	m := GetMetrics()
	m.RecordOracleCall(role, time.Since(start).Seconds())
	if err != nil {
		m.RecordOracleError(role)
	}
}
