package services

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"engram/internal/crypto"
	"engram/internal/database"
	"engram/internal/models"
)

// dbtx is satisfied by *sql.DB and *sql.Tx so storage methods can run either
// standalone or inside a caller's transaction
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type scanner interface {
	Scan(dest ...interface{}) error
}

// memoryColumns is the canonical column list; every memory query selects
// exactly these, in this order, so scanMemory is the single read path
const memoryColumns = `id, user_id, content, content_hash, source_url, category, importance, tags,
	access_count, last_accessed, expires_at, is_archived, archived_at, superseded_by, metadata,
	created_at, updated_at`

// MemoryStorageService handles CRUD for memories with optional encryption at
// rest and content-hash deduplication
type MemoryStorageService struct {
	db         *database.DB
	encryption *crypto.EncryptionService // nil = plaintext storage
}

// NewMemoryStorageService creates a new memory storage service
func NewMemoryStorageService(db *database.DB, encryption *crypto.EncryptionService) *MemoryStorageService {
	if encryption != nil {
		log.Printf("🔐 [MEMORY-STORAGE] Content encryption at rest enabled")
	}
	return &MemoryStorageService{db: db, encryption: encryption}
}

// DB exposes the underlying handle for callers that open transactions
func (s *MemoryStorageService) DB() *database.DB {
	return s.db
}

// Insert writes a fully-populated memory. The caller owns ID, timestamps and
// expiry; this method owns hashing, encryption and serialization.
func (s *MemoryStorageService) Insert(ctx context.Context, q dbtx, m *models.Memory) error {
	if m.UserID == "" {
		return &models.ValidationError{Field: "user_id", Message: "user ID is required"}
	}
	if m.Content == "" {
		return &models.ValidationError{Field: "content", Message: "memory content is required"}
	}

	m.ContentHash = s.HashContent(m.Content)

	stored, err := s.storeContent(m.UserID, m.Content)
	if err != nil {
		return fmt.Errorf("failed to encrypt memory content: %w", err)
	}

	tagsJSON, err := marshalJSONField(m.Tags)
	if err != nil {
		return fmt.Errorf("failed to serialize tags: %w", err)
	}
	metadataJSON, err := marshalJSONField(m.Metadata)
	if err != nil {
		return fmt.Errorf("failed to serialize metadata: %w", err)
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO memories (`+memoryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.UserID, stored, m.ContentHash, nullString(m.SourceURL), m.Category, m.Importance, tagsJSON,
		m.AccessCount, database.FormatNullableTime(m.LastAccessed), database.FormatTime(m.ExpiresAt),
		boolToInt(m.IsArchived), database.FormatNullableTime(m.ArchivedAt), nullStringPtr(m.SupersededBy),
		metadataJSON, database.FormatTime(m.CreatedAt), database.FormatTime(m.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert memory: %w", err)
	}

	log.Printf("✅ [MEMORY-STORAGE] Created memory (ID: %s, Category: %s, Importance: %.2f)", m.ID, m.Category, m.Importance)
	return nil
}

// GetMemory retrieves a single memory. The owner filter is part of the query;
// a miss and a foreign row are indistinguishable to the caller.
func (s *MemoryStorageService) GetMemory(ctx context.Context, userID, memoryID string) (*models.Memory, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+memoryColumns+` FROM memories WHERE id = ? AND user_id = ?`, memoryID, userID)

	m, err := s.scanMemory(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &models.NotFoundError{Resource: "memory"}
		}
		return nil, fmt.Errorf("failed to get memory: %w", err)
	}
	return m, nil
}

// GetByIDs loads a batch of the owner's memories. Missing IDs are silently
// absent from the result; order follows the input order.
func (s *MemoryStorageService) GetByIDs(ctx context.Context, q dbtx, userID string, ids []string, includeArchived bool) ([]*models.Memory, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `SELECT ` + memoryColumns + ` FROM memories WHERE user_id = ? AND id IN (` + placeholders(len(ids)) + `)`
	if !includeArchived {
		query += ` AND is_archived = 0`
	}

	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, userID)
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load memories: %w", err)
	}
	defer rows.Close()

	byID := make(map[string]*models.Memory, len(ids))
	for rows.Next() {
		m, err := s.scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}
		byID[m.ID] = m
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("memory batch scan failed: %w", err)
	}

	out := make([]*models.Memory, 0, len(byID))
	for _, id := range ids {
		if m, ok := byID[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

// ListMemories retrieves memories with optional filters and pagination,
// newest first
func (s *MemoryStorageService) ListMemories(ctx context.Context, userID, category string, includeArchived bool, page, pageSize int) ([]*models.Memory, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}

	where := `WHERE user_id = ?`
	args := []interface{}{userID}
	if !includeArchived {
		where += ` AND is_archived = 0`
	}
	if category != "" {
		where += ` AND category = ?`
		args = append(args, category)
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count memories: %w", err)
	}

	query := `SELECT ` + memoryColumns + ` FROM memories ` + where + ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, pageSize, (page-1)*pageSize)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list memories: %w", err)
	}
	defer rows.Close()

	memories, err := s.collectMemories(rows)
	if err != nil {
		return nil, 0, err
	}
	return memories, total, nil
}

// GetActiveMemories retrieves all active memories for an owner, oldest first
func (s *MemoryStorageService) GetActiveMemories(ctx context.Context, userID string) ([]*models.Memory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memoryColumns+` FROM memories
		WHERE user_id = ? AND is_archived = 0
		ORDER BY created_at ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find active memories: %w", err)
	}
	defer rows.Close()

	memories, err := s.collectMemories(rows)
	if err != nil {
		return nil, err
	}

	log.Printf("📚 [MEMORY-STORAGE] Retrieved %d active memories for user %s", len(memories), userID)
	return memories, nil
}

// CheckDuplicate looks for an active memory with the same normalized content.
// Returns nil when there is none.
func (s *MemoryStorageService) CheckDuplicate(ctx context.Context, userID, content string) (*models.Memory, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+memoryColumns+` FROM memories
		WHERE user_id = ? AND content_hash = ? AND is_archived = 0
		LIMIT 1`, userID, s.HashContent(content))

	m, err := s.scanMemory(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to check duplicate: %w", err)
	}
	return m, nil
}

// ArchiveMemory marks a memory as archived with a recorded reason.
// SECURITY: the owner check is explicit and mandatory; archiving another
// owner's memory is an authorization failure, not a not-found.
// Re-archiving an already archived memory is a no-op that keeps the original
// reason and timestamp.
func (s *MemoryStorageService) ArchiveMemory(ctx context.Context, q dbtx, userID, memoryID, reason string, supersededBy *string) error {
	var rowOwner string
	var archived int
	var metadataJSON sql.NullString
	err := q.QueryRowContext(ctx, `
		SELECT user_id, is_archived, metadata FROM memories WHERE id = ?`, memoryID).
		Scan(&rowOwner, &archived, &metadataJSON)
	if err != nil {
		if err == sql.ErrNoRows {
			return &models.NotFoundError{Resource: "memory"}
		}
		return fmt.Errorf("failed to load memory for archival: %w", err)
	}
	if rowOwner != userID {
		log.Printf("🚨 [MEMORY-STORAGE] Blocked cross-owner archive attempt (memory: %s, caller: %s)", memoryID, userID)
		return &models.AuthorizationError{Resource: "memory"}
	}
	if archived != 0 {
		return nil
	}

	metadata := unmarshalMetadata(metadataJSON)
	metadata["archive_reason"] = reason
	updatedJSON, err := marshalJSONField(metadata)
	if err != nil {
		return fmt.Errorf("failed to serialize metadata: %w", err)
	}

	now := database.FormatTime(time.Now())
	_, err = q.ExecContext(ctx, `
		UPDATE memories
		SET is_archived = 1, archived_at = ?, superseded_by = ?, metadata = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`,
		now, nullStringPtr(supersededBy), updatedJSON, now, memoryID, userID)
	if err != nil {
		return fmt.Errorf("failed to archive memory: %w", err)
	}

	log.Printf("📦 [MEMORY-STORAGE] Archived memory %s (reason: %s)", memoryID, reason)
	return nil
}

// DeleteMemory permanently removes a memory and everything hanging off it:
// mentions, edges in both directions and the stored embedding
func (s *MemoryStorageService) DeleteMemory(ctx context.Context, userID, memoryID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var rowOwner string
	err = tx.QueryRowContext(ctx, `SELECT user_id FROM memories WHERE id = ?`, memoryID).Scan(&rowOwner)
	if err != nil {
		if err == sql.ErrNoRows {
			return &models.NotFoundError{Resource: "memory"}
		}
		return fmt.Errorf("failed to load memory for deletion: %w", err)
	}
	if rowOwner != userID {
		log.Printf("🚨 [MEMORY-STORAGE] Blocked cross-owner delete attempt (memory: %s, caller: %s)", memoryID, userID)
		return &models.AuthorizationError{Resource: "memory"}
	}

	steps := []struct {
		query string
		args  []interface{}
	}{
		{`DELETE FROM entity_mentions WHERE memory_id = ?`, []interface{}{memoryID}},
		{`DELETE FROM relationships WHERE source_id = ? OR target_id = ?`, []interface{}{memoryID, memoryID}},
		{`DELETE FROM memory_vectors WHERE memory_id = ?`, []interface{}{memoryID}},
		{`DELETE FROM memories WHERE id = ? AND user_id = ?`, []interface{}{memoryID, userID}},
	}
	for _, step := range steps {
		if _, err := tx.ExecContext(ctx, step.query, step.args...); err != nil {
			return fmt.Errorf("failed to delete memory: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit deletion: %w", err)
	}

	log.Printf("🗑️ [MEMORY-STORAGE] Deleted memory %s", memoryID)
	return nil
}

// UpdateMemoryAccess increments access counts and stamps last_accessed
func (s *MemoryStorageService) UpdateMemoryAccess(ctx context.Context, userID string, memoryIDs []string) error {
	if len(memoryIDs) == 0 {
		return nil
	}

	args := make([]interface{}, 0, len(memoryIDs)+2)
	args = append(args, database.FormatTime(time.Now()), userID)
	for _, id := range memoryIDs {
		args = append(args, id)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE memories SET access_count = access_count + 1, last_accessed = ?
		WHERE user_id = ? AND id IN (`+placeholders(len(memoryIDs))+`)`, args...)
	if err != nil {
		return fmt.Errorf("failed to update memory access: %w", err)
	}

	if n, _ := result.RowsAffected(); n > 0 {
		log.Printf("📊 [MEMORY-STORAGE] Updated access for %d memories", n)
	}
	return nil
}

// SetImportance overrides the oracle-assigned importance for one memory
func (s *MemoryStorageService) SetImportance(ctx context.Context, userID, memoryID string, importance float64) error {
	if importance < 0 || importance > 1 {
		return &models.ValidationError{Field: "importance", Message: "must be between 0.0 and 1.0"}
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE memories SET importance = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`,
		importance, database.FormatTime(time.Now()), memoryID, userID)
	if err != nil {
		return fmt.Errorf("failed to update importance: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return &models.NotFoundError{Resource: "memory"}
	}
	return nil
}

// MarkOutdated flags a memory as contradicted without archiving it
func (s *MemoryStorageService) MarkOutdated(ctx context.Context, q dbtx, userID, memoryID string) error {
	var metadataJSON sql.NullString
	err := q.QueryRowContext(ctx, `
		SELECT metadata FROM memories WHERE id = ? AND user_id = ?`, memoryID, userID).Scan(&metadataJSON)
	if err != nil {
		if err == sql.ErrNoRows {
			return &models.NotFoundError{Resource: "memory"}
		}
		return fmt.Errorf("failed to load memory metadata: %w", err)
	}

	metadata := unmarshalMetadata(metadataJSON)
	if outdated, ok := metadata["outdated"].(bool); ok && outdated {
		return nil
	}
	metadata["outdated"] = true
	updatedJSON, err := marshalJSONField(metadata)
	if err != nil {
		return fmt.Errorf("failed to serialize metadata: %w", err)
	}

	_, err = q.ExecContext(ctx, `
		UPDATE memories SET metadata = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
		updatedJSON, database.FormatTime(time.Now()), memoryID, userID)
	if err != nil {
		return fmt.Errorf("failed to mark memory outdated: %w", err)
	}

	log.Printf("👁️ [MEMORY-STORAGE] Marked memory %s as outdated", memoryID)
	return nil
}

// GetExpiredActive returns active memories past their expiry across all
// owners, oldest expiry first. Used by the expiry archival job.
func (s *MemoryStorageService) GetExpiredActive(ctx context.Context, limit int) ([]*models.Memory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memoryColumns+` FROM memories
		WHERE is_archived = 0 AND expires_at < ?
		ORDER BY expires_at ASC
		LIMIT ?`, database.FormatTime(time.Now()), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find expired memories: %w", err)
	}
	defer rows.Close()

	return s.collectMemories(rows)
}

// GetCreatedSince returns one owner's memories created at or after the cutoff,
// newest first. Used by the daily digest.
func (s *MemoryStorageService) GetCreatedSince(ctx context.Context, userID string, since time.Time, limit int) ([]*models.Memory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memoryColumns+` FROM memories
		WHERE user_id = ? AND created_at >= ?
		ORDER BY created_at DESC
		LIMIT ?`, userID, database.FormatTime(since), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find recent memories: %w", err)
	}
	defer rows.Close()

	return s.collectMemories(rows)
}

// GetArchivedSince returns one owner's memories archived at or after the
// cutoff, newest first
func (s *MemoryStorageService) GetArchivedSince(ctx context.Context, userID string, since time.Time, limit int) ([]*models.Memory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memoryColumns+` FROM memories
		WHERE user_id = ? AND is_archived = 1 AND archived_at >= ?
		ORDER BY archived_at DESC
		LIMIT ?`, userID, database.FormatTime(since), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find recently archived memories: %w", err)
	}
	defer rows.Close()

	return s.collectMemories(rows)
}

// GetMemoryStats returns aggregate statistics about one owner's graph
func (s *MemoryStorageService) GetMemoryStats(ctx context.Context, userID string) (*models.MemoryStats, error) {
	stats := &models.MemoryStats{ByCategory: make(map[string]int64)}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN is_archived = 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN is_archived = 1 THEN 1 ELSE 0 END), 0)
		FROM memories WHERE user_id = ?`, userID).
		Scan(&stats.TotalMemories, &stats.ActiveMemories, &stats.ArchivedMemories)
	if err != nil {
		return nil, fmt.Errorf("failed to count memories: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT category, COUNT(*) FROM memories
		WHERE user_id = ? AND is_archived = 0
		GROUP BY category`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count categories: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var category string
		var count int64
		if err := rows.Scan(&category, &count); err != nil {
			return nil, fmt.Errorf("failed to scan category count: %w", err)
		}
		stats.ByCategory[category] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("category scan failed: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM relationships r
		JOIN memories m ON r.source_id = m.id
		WHERE m.user_id = ?`, userID).Scan(&stats.RelationshipCount)
	if err != nil {
		return nil, fmt.Errorf("failed to count relationships: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM entities WHERE user_id = ?`, userID).Scan(&stats.EntityCount)
	if err != nil {
		return nil, fmt.Errorf("failed to count entities: %w", err)
	}

	var oldest, newest sql.NullString
	err = s.db.QueryRowContext(ctx, `
		SELECT MIN(created_at), MAX(created_at) FROM memories
		WHERE user_id = ? AND is_archived = 0`, userID).Scan(&oldest, &newest)
	if err != nil {
		return nil, fmt.Errorf("failed to find memory age range: %w", err)
	}
	stats.OldestMemory = database.ParseNullableTime(oldest)
	stats.NewestMemory = database.ParseNullableTime(newest)

	return stats, nil
}

// HashContent hashes normalized content for deduplication
func (s *MemoryStorageService) HashContent(content string) string {
	sum := sha256.Sum256([]byte(normalizeContent(content)))
	return hex.EncodeToString(sum[:])
}

// normalizeContent flattens case, punctuation and whitespace so trivial
// rephrasings of the same statement hash identically
func normalizeContent(content string) string {
	normalized := strings.ToLower(content)

	// Word separators become spaces before punctuation is stripped so words
	// never merge
	for _, sep := range []string{"\n", "\t", "\r", "-", "_"} {
		normalized = strings.ReplaceAll(normalized, sep, " ")
	}

	normalized = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == ' ' {
			return r
		}
		return -1
	}, normalized)

	return strings.Join(strings.Fields(normalized), " ")
}

// storeContent encrypts content when encryption is configured
func (s *MemoryStorageService) storeContent(userID, content string) (string, error) {
	if s.encryption == nil {
		return content, nil
	}
	return s.encryption.EncryptString(userID, content)
}

// loadContent decrypts stored content when encryption is configured. Rows
// written before encryption was enabled stay readable as plaintext.
func (s *MemoryStorageService) loadContent(userID, stored string) (string, error) {
	if s.encryption == nil {
		return stored, nil
	}
	plain, err := s.encryption.DecryptString(userID, stored)
	if err != nil {
		if !crypto.LooksEncrypted(stored) {
			return stored, nil
		}
		return "", err
	}
	return plain, nil
}

// scanMemory reads one row in memoryColumns order
func (s *MemoryStorageService) scanMemory(row scanner) (*models.Memory, error) {
	var m models.Memory
	var stored string
	var sourceURL, lastAccessed, archivedAt, supersededBy, tagsJSON, metadataJSON sql.NullString
	var expiresAt, createdAt, updatedAt string
	var isArchived int

	err := row.Scan(
		&m.ID, &m.UserID, &stored, &m.ContentHash, &sourceURL, &m.Category, &m.Importance, &tagsJSON,
		&m.AccessCount, &lastAccessed, &expiresAt, &isArchived, &archivedAt, &supersededBy, &metadataJSON,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	content, err := s.loadContent(m.UserID, stored)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt memory %s: %w", m.ID, err)
	}
	m.Content = content

	m.SourceURL = sourceURL.String
	m.LastAccessed = database.ParseNullableTime(lastAccessed)
	m.ExpiresAt = database.ParseTime(expiresAt)
	m.IsArchived = isArchived != 0
	m.ArchivedAt = database.ParseNullableTime(archivedAt)
	if supersededBy.Valid && supersededBy.String != "" {
		v := supersededBy.String
		m.SupersededBy = &v
	}
	if tagsJSON.Valid && tagsJSON.String != "" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &m.Tags); err != nil {
			log.Printf("⚠️ [MEMORY-STORAGE] Corrupt tags on memory %s: %v", m.ID, err)
		}
	}
	m.Metadata = unmarshalMetadata(metadataJSON)
	if len(m.Metadata) == 0 {
		m.Metadata = nil
	}
	m.CreatedAt = database.ParseTime(createdAt)
	m.UpdatedAt = database.ParseTime(updatedAt)

	return &m, nil
}

func (s *MemoryStorageService) collectMemories(rows *sql.Rows) ([]*models.Memory, error) {
	var memories []*models.Memory
	for rows.Next() {
		m, err := s.scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan memory: %w", err)
		}
		memories = append(memories, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("memory scan failed: %w", err)
	}
	return memories, nil
}

// unmarshalMetadata tolerates NULL and corrupt JSON, returning a usable map
func unmarshalMetadata(ns sql.NullString) map[string]interface{} {
	metadata := make(map[string]interface{})
	if ns.Valid && ns.String != "" {
		if err := json.Unmarshal([]byte(ns.String), &metadata); err != nil {
			log.Printf("⚠️ [MEMORY-STORAGE] Corrupt metadata, starting fresh: %v", err)
		}
	}
	return metadata
}

func marshalJSONField(v interface{}) (sql.NullString, error) {
	switch val := v.(type) {
	case []string:
		if len(val) == 0 {
			return sql.NullString{}, nil
		}
	case map[string]interface{}:
		if len(val) == 0 {
			return sql.NullString{}, nil
		}
	case nil:
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullStringPtr(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// placeholders renders "?, ?, ?" for IN clauses
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}
