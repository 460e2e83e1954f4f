package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"engram/internal/database"
	"engram/internal/models"
)

// EntityService maintains the normalized entity table and the mention links
// between entities and memories. All writes happen inside the ingestion
// transaction under the owner lock, so the check-then-write upserts here are
// race-free on both backends.
type EntityService struct {
	db *database.DB
}

// NewEntityService creates a new entity service
func NewEntityService(db *database.DB) *EntityService {
	return &EntityService{db: db}
}

// UpsertMentions records the extracted entities of one memory: new entities
// are created, known ones get their mention count and last_seen bumped, and
// each gets a mention row linking it to the memory. Returns the entity IDs
// touched, for the co-occurrence pass.
func (s *EntityService) UpsertMentions(ctx context.Context, q dbtx, userID, memoryID string, extracted []models.ExtractedEntity, now time.Time) ([]string, error) {
	if len(extracted) == 0 {
		return nil, nil
	}

	// The oracle may repeat an entity within one statement; collapse first so
	// one memory contributes at most one mention per entity
	seen := make(map[string]bool, len(extracted))
	entityIDs := make([]string, 0, len(extracted))

	for _, e := range extracted {
		value := normalizeEntityValue(e.Value)
		if value == "" {
			continue
		}
		key := e.Type + "\x00" + value
		if seen[key] {
			continue
		}
		seen[key] = true

		entityID, created, err := s.upsertEntity(ctx, q, userID, e.Type, value, now)
		if err != nil {
			return nil, err
		}

		inserted, err := s.insertMention(ctx, q, entityID, memoryID, e.Context, now)
		if err != nil {
			return nil, err
		}
		// A pre-existing mention means this memory already counted; undo the
		// bump so mention_count stays equal to the number of mention rows
		if !inserted && !created {
			if _, err := q.ExecContext(ctx,
				`UPDATE entities SET mention_count = mention_count - 1 WHERE id = ?`, entityID); err != nil {
				return nil, fmt.Errorf("failed to correct mention count: %w", err)
			}
		}

		entityIDs = append(entityIDs, entityID)
	}

	if len(entityIDs) > 0 {
		log.Printf("🔗 [ENTITY] Linked %d entities to memory %s", len(entityIDs), memoryID)
	}
	return entityIDs, nil
}

// upsertEntity returns the entity's ID, creating the row on first sighting
func (s *EntityService) upsertEntity(ctx context.Context, q dbtx, userID, entityType, value string, now time.Time) (string, bool, error) {
	var id string
	err := q.QueryRowContext(ctx,
		`SELECT id FROM entities WHERE user_id = ? AND type = ? AND value = ?`,
		userID, entityType, value).Scan(&id)

	switch {
	case err == sql.ErrNoRows:
		id = uuid.NewString()
		_, err = q.ExecContext(ctx, `
			INSERT INTO entities (id, user_id, type, value, mention_count, first_seen, last_seen)
			VALUES (?, ?, ?, ?, 1, ?, ?)`,
			id, userID, entityType, value, database.FormatTime(now), database.FormatTime(now))
		if err != nil {
			return "", false, fmt.Errorf("failed to create entity: %w", err)
		}
		return id, true, nil

	case err != nil:
		return "", false, fmt.Errorf("failed to look up entity: %w", err)

	default:
		_, err = q.ExecContext(ctx, `
			UPDATE entities SET mention_count = mention_count + 1, last_seen = ? WHERE id = ?`,
			database.FormatTime(now), id)
		if err != nil {
			return "", false, fmt.Errorf("failed to update entity: %w", err)
		}
		return id, false, nil
	}
}

// insertMention links an entity to a memory once. Reports whether a new row
// was written.
func (s *EntityService) insertMention(ctx context.Context, q dbtx, entityID, memoryID, snippet string, now time.Time) (bool, error) {
	var existing string
	err := q.QueryRowContext(ctx,
		`SELECT id FROM entity_mentions WHERE entity_id = ? AND memory_id = ?`,
		entityID, memoryID).Scan(&existing)
	if err == nil {
		return false, nil
	}
	if err != sql.ErrNoRows {
		return false, fmt.Errorf("failed to look up mention: %w", err)
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO entity_mentions (id, entity_id, memory_id, context, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), entityID, memoryID, nullString(snippet), database.FormatTime(now))
	if err != nil {
		return false, fmt.Errorf("failed to create mention: %w", err)
	}
	return true, nil
}

// CoOccurringMemories finds the owner's other active memories that mention
// any of the given entities, newest first, capped at limit
func (s *EntityService) CoOccurringMemories(ctx context.Context, q dbtx, userID, memoryID string, entityIDs []string, limit int) ([]string, error) {
	if len(entityIDs) == 0 || limit <= 0 {
		return nil, nil
	}

	query := `
		SELECT DISTINCT em.memory_id, m.created_at
		FROM entity_mentions em
		JOIN memories m ON em.memory_id = m.id
		WHERE em.entity_id IN (` + placeholders(len(entityIDs)) + `)
		  AND em.memory_id != ?
		  AND m.user_id = ?
		  AND m.is_archived = 0
		ORDER BY m.created_at DESC
		LIMIT ?`

	args := make([]interface{}, 0, len(entityIDs)+3)
	for _, id := range entityIDs {
		args = append(args, id)
	}
	args = append(args, memoryID, userID, limit)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find co-occurring memories: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id, createdAt string
		if err := rows.Scan(&id, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan co-occurrence: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("co-occurrence scan failed: %w", err)
	}
	return ids, nil
}

// ListEntities returns the owner's entities, most mentioned first
func (s *EntityService) ListEntities(ctx context.Context, userID, entityType string, limit int) ([]*models.Entity, error) {
	if limit < 1 || limit > 500 {
		limit = 100
	}

	query := `SELECT id, user_id, type, value, mention_count, first_seen, last_seen FROM entities WHERE user_id = ?`
	args := []interface{}{userID}
	if entityType != "" {
		query += ` AND type = ?`
		args = append(args, entityType)
	}
	query += ` ORDER BY mention_count DESC, last_seen DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list entities: %w", err)
	}
	defer rows.Close()

	var entities []*models.Entity
	for rows.Next() {
		var e models.Entity
		var firstSeen, lastSeen string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Type, &e.Value, &e.MentionCount, &firstSeen, &lastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		e.FirstSeen = database.ParseTime(firstSeen)
		e.LastSeen = database.ParseTime(lastSeen)
		entities = append(entities, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("entity scan failed: %w", err)
	}
	return entities, nil
}

// GetMentions returns the mention rows for one of the owner's memories
func (s *EntityService) GetMentions(ctx context.Context, userID, memoryID string) ([]*models.EntityMention, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT em.id, em.entity_id, em.memory_id, em.context, em.created_at
		FROM entity_mentions em
		JOIN memories m ON em.memory_id = m.id
		WHERE em.memory_id = ? AND m.user_id = ?`, memoryID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load mentions: %w", err)
	}
	defer rows.Close()

	var mentions []*models.EntityMention
	for rows.Next() {
		var m models.EntityMention
		var mentionContext sql.NullString
		var createdAt string
		if err := rows.Scan(&m.ID, &m.EntityID, &m.MemoryID, &mentionContext, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan mention: %w", err)
		}
		m.Context = mentionContext.String
		m.CreatedAt = database.ParseTime(createdAt)
		mentions = append(mentions, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("mention scan failed: %w", err)
	}
	return mentions, nil
}

// PruneOrphans removes entities whose every mention has been deleted along
// with its memory. Returns the number removed. Runs from the maintenance job.
func (s *EntityService) PruneOrphans(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM entities
		WHERE id NOT IN (SELECT DISTINCT entity_id FROM entity_mentions)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prune orphan entities: %w", err)
	}

	n, _ := result.RowsAffected()
	if n > 0 {
		log.Printf("🧹 [ENTITY] Pruned %d orphan entities", n)
	}
	return n, nil
}

// normalizeEntityValue lowercases and collapses whitespace so "Coffee " and
// "coffee" land on the same entity row
func normalizeEntityValue(value string) string {
	return strings.Join(strings.Fields(strings.ToLower(value)), " ")
}
