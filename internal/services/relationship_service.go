package services

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"engram/internal/config"
	"engram/internal/database"
	"engram/internal/logging"
	"engram/internal/models"
	"engram/internal/oracle"
	"engram/internal/vector"
)

// RelationshipService builds the edges of the memory graph. After a memory
// is ingested it gets three kinds of links:
//
//   - a conflict pass over similar memories that flags contradicted ones as
//     outdated (without archiving them) and records a contradicts edge
//   - extends / related_to edges by embedding similarity
//   - inferred edges to memories sharing the same entities
//
// Edge inserts are idempotent: one edge per (source, target, type), re-runs
// change nothing. The engine never links a memory to itself.
type RelationshipService struct {
	db         *database.DB
	storage    *MemoryStorageService
	entities   *EntityService
	index      vector.Index
	classifier oracle.ConflictClassifier
	events     *EventBusService
	cfg        *config.Config
}

// NewRelationshipService creates a new relationship service. The classifier
// is the conflict pass used here, independent from the ingestion-time
// supersession check (lexical by default, the oracle when configured).
func NewRelationshipService(db *database.DB, storage *MemoryStorageService, entities *EntityService, index vector.Index, classifier oracle.ConflictClassifier, events *EventBusService, cfg *config.Config) *RelationshipService {
	return &RelationshipService{
		db:         db,
		storage:    storage,
		entities:   entities,
		index:      index,
		classifier: classifier,
		events:     events,
		cfg:        cfg,
	}
}

// Link runs the full relationship pass for a freshly ingested memory.
// Classifier trouble degrades to similarity-only edges; only storage
// failures surface as errors. Runs after the ingestion transaction commits,
// so a crash here never loses the memory itself.
func (s *RelationshipService) Link(ctx context.Context, memory *models.Memory, embedding []float32, entityIDs []string) error {
	logger := logging.WithIngestion(memory.UserID, memory.ID)

	candidates, err := searchSimilar(ctx, s.storage, s.index, memory.UserID, embedding, s.cfg.CandidateCap, s.cfg.RelationFloor, memory.ID)
	if err != nil {
		return fmt.Errorf("relationship candidate search failed: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin relationship transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	linked := 0
	for _, candidate := range candidates {
		relType, strength := s.classifyEdge(ctx, memory, candidate, logger)

		if relType == models.RelationContradicts {
			if err := s.storage.MarkOutdated(ctx, tx, memory.UserID, candidate.Memory.ID); err != nil {
				return fmt.Errorf("failed to flag outdated memory: %w", err)
			}
		}

		created, err := s.insertEdge(ctx, tx, memory.ID, candidate.Memory.ID, relType, strength, now)
		if err != nil {
			return err
		}
		if created {
			linked++
			s.publishLinked(memory, candidate.Memory.ID, relType)
		}
	}

	inferred, err := s.linkCoOccurrences(ctx, tx, memory, entityIDs, now)
	if err != nil {
		return err
	}
	linked += inferred

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit relationship pass: %w", err)
	}

	if linked > 0 {
		logger.Info("relationship pass complete", "edges", linked, "candidates", len(candidates))
	}
	return nil
}

// classifyEdge decides the edge type for one candidate pair
func (s *RelationshipService) classifyEdge(ctx context.Context, memory *models.Memory, candidate models.ScoredMemory, logger *slog.Logger) (string, float64) {
	verdict, err := s.classifier.ClassifyConflict(ctx, candidate.Memory.Content, memory.Content)
	if err != nil {
		// Degrade to similarity-only typing; the supersession check at
		// ingestion already had its chance to archive
		logger.Warn("conflict pass degraded to similarity typing", "error", err)
		verdict = nil
	}

	if verdict != nil && verdict.Contradicts && verdict.Confidence >= s.cfg.FlagConfidence {
		return models.RelationContradicts, verdict.Confidence
	}
	if candidate.Similarity > s.cfg.ExtendsThreshold {
		return models.RelationExtends, candidate.Similarity
	}
	return models.RelationRelatedTo, candidate.Similarity
}

// linkCoOccurrences adds inferred edges to active memories sharing entities
// with the new one, at a fixed strength
func (s *RelationshipService) linkCoOccurrences(ctx context.Context, tx *sql.Tx, memory *models.Memory, entityIDs []string, now time.Time) (int, error) {
	peers, err := s.entities.CoOccurringMemories(ctx, tx, memory.UserID, memory.ID, entityIDs, s.cfg.CandidateCap)
	if err != nil {
		return 0, fmt.Errorf("co-occurrence lookup failed: %w", err)
	}

	created := 0
	for _, peerID := range peers {
		ok, err := s.insertEdge(ctx, tx, memory.ID, peerID, models.RelationInferred, s.cfg.InferredEdgeStrength, now)
		if err != nil {
			return created, err
		}
		if ok {
			created++
			s.publishLinked(memory, peerID, models.RelationInferred)
		}
	}
	return created, nil
}

// insertEdge writes one edge if the (source, target, type) triple is new.
// Self-loops are rejected here so no caller can create one.
func (s *RelationshipService) insertEdge(ctx context.Context, q dbtx, sourceID, targetID, relType string, strength float64, now time.Time) (bool, error) {
	if sourceID == targetID {
		return false, nil
	}

	var existing string
	err := q.QueryRowContext(ctx,
		`SELECT id FROM relationships WHERE source_id = ? AND target_id = ? AND type = ?`,
		sourceID, targetID, relType).Scan(&existing)
	if err == nil {
		return false, nil
	}
	if err != sql.ErrNoRows {
		return false, fmt.Errorf("failed to look up edge: %w", err)
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO relationships (id, source_id, target_id, type, strength, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), sourceID, targetID, relType, strength, database.FormatTime(now))
	if err != nil {
		return false, fmt.Errorf("failed to insert edge: %w", err)
	}
	return true, nil
}

func (s *RelationshipService) publishLinked(memory *models.Memory, targetID, relType string) {
	if s.events == nil {
		return
	}
	s.events.Publish(memory.UserID, models.MemoryEvent{
		Type:         models.EventMemoryLinked,
		UserID:       memory.UserID,
		MemoryID:     memory.ID,
		TargetID:     targetID,
		RelationType: relType,
		Timestamp:    time.Now().UTC(),
	})
}

// GetRelationshipsFor returns every edge touching any of the owner's given
// memories, in either direction
func (s *RelationshipService) GetRelationshipsFor(ctx context.Context, userID string, memoryIDs []string) ([]*models.Relationship, error) {
	if len(memoryIDs) == 0 {
		return nil, nil
	}

	ph := placeholders(len(memoryIDs))
	query := `
		SELECT DISTINCT r.id, r.source_id, r.target_id, r.type, r.strength, r.created_at
		FROM relationships r
		JOIN memories ms ON r.source_id = ms.id
		WHERE ms.user_id = ? AND (r.source_id IN (` + ph + `) OR r.target_id IN (` + ph + `))`

	args := make([]interface{}, 0, len(memoryIDs)*2+1)
	args = append(args, userID)
	for i := 0; i < 2; i++ {
		for _, id := range memoryIDs {
			args = append(args, id)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load relationships: %w", err)
	}
	defer rows.Close()

	return collectRelationships(rows)
}

// ListRelationships returns the owner's newest edges for the graph view
func (s *RelationshipService) ListRelationships(ctx context.Context, userID string, limit int) ([]*models.Relationship, error) {
	if limit < 1 || limit > 2000 {
		limit = 500
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.source_id, r.target_id, r.type, r.strength, r.created_at
		FROM relationships r
		JOIN memories ms ON r.source_id = ms.id
		WHERE ms.user_id = ?
		ORDER BY r.created_at DESC
		LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list relationships: %w", err)
	}
	defer rows.Close()

	return collectRelationships(rows)
}

// ContradictionsSince returns the owner's contradicts edges created at or
// after the cutoff, newest first. Used by the daily digest.
func (s *RelationshipService) ContradictionsSince(ctx context.Context, userID string, since time.Time, limit int) ([]*models.Relationship, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.source_id, r.target_id, r.type, r.strength, r.created_at
		FROM relationships r
		JOIN memories ms ON r.source_id = ms.id
		WHERE ms.user_id = ? AND r.type = ? AND r.created_at >= ?
		ORDER BY r.created_at DESC
		LIMIT ?`, userID, models.RelationContradicts, database.FormatTime(since), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list contradictions: %w", err)
	}
	defer rows.Close()

	return collectRelationships(rows)
}

// Neighborhood resolves the 1-hop neighbors of one memory: each edge plus
// the decrypted peer on its far end. Archived peers are included; the
// caller decides how to present them.
func (s *RelationshipService) Neighborhood(ctx context.Context, userID, memoryID string) ([]models.ConnectedMemory, error) {
	edges, err := s.GetRelationshipsFor(ctx, userID, []string{memoryID})
	if err != nil {
		return nil, err
	}
	if len(edges) == 0 {
		return nil, nil
	}

	peerIDs := make([]string, 0, len(edges))
	for _, e := range edges {
		if e.SourceID == memoryID {
			peerIDs = append(peerIDs, e.TargetID)
		} else {
			peerIDs = append(peerIDs, e.SourceID)
		}
	}

	peers, err := s.storage.GetByIDs(ctx, s.db, userID, peerIDs, true)
	if err != nil {
		return nil, err
	}
	peerByID := make(map[string]*models.Memory, len(peers))
	for _, p := range peers {
		peerByID[p.ID] = p
	}

	connected := make([]models.ConnectedMemory, 0, len(edges))
	for _, e := range edges {
		outbound := e.SourceID == memoryID
		peerID := e.TargetID
		if !outbound {
			peerID = e.SourceID
		}
		peer, ok := peerByID[peerID]
		if !ok {
			continue
		}
		connected = append(connected, models.ConnectedMemory{
			Relationship: e,
			Peer:         peer,
			Outbound:     outbound,
		})
	}
	return connected, nil
}

func collectRelationships(rows *sql.Rows) ([]*models.Relationship, error) {
	var edges []*models.Relationship
	for rows.Next() {
		var r models.Relationship
		var createdAt string
		if err := rows.Scan(&r.ID, &r.SourceID, &r.TargetID, &r.Type, &r.Strength, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan relationship: %w", err)
		}
		r.CreatedAt = database.ParseTime(createdAt)
		edges = append(edges, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("relationship scan failed: %w", err)
	}
	return edges, nil
}
