package services

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"engram/internal/database"
	"engram/internal/models"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	// APIKeyPrefix is the prefix for all API keys
	APIKeyPrefix = "eng_"
	// APIKeyLength is the length of the random part of the key (32 bytes = 64 hex chars)
	APIKeyLength = 32
	// APIKeyPrefixLength is how many chars to store for display and lookup (including "eng_")
	APIKeyPrefixLength = 12
	// MaxAPIKeysPerOwner caps active keys per owner
	MaxAPIKeysPerOwner = 25
)

// apiKeyColumns is the canonical column list; every api_keys query selects
// exactly these, in this order, so scanAPIKey is the single read path
const apiKeyColumns = `id, user_id, key_prefix, key_hash, name, description, scopes, rate_limit,
	last_used_at, revoked_at, expires_at, created_at, updated_at`

// APIKeyService manages API keys for programmatic access to an owner's graph
type APIKeyService struct {
	db *database.DB
}

// NewAPIKeyService creates a new API key service
func NewAPIKeyService(db *database.DB) *APIKeyService {
	return &APIKeyService{db: db}
}

// GenerateKey generates a new API key
func (s *APIKeyService) GenerateKey() (string, error) {
	bytes := make([]byte, APIKeyLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return APIKeyPrefix + hex.EncodeToString(bytes), nil
}

// HashKey hashes an API key for storage
func (s *APIKeyService) HashKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash key: %w", err)
	}
	return string(hash), nil
}

// VerifyKey verifies an API key against a hash
func (s *APIKeyService) VerifyKey(key, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key))
	return err == nil
}

// Create creates a new API key. The full key appears in the response and is
// never recoverable afterwards; only the bcrypt hash is stored.
func (s *APIKeyService) Create(ctx context.Context, userID string, req *models.CreateAPIKeyRequest) (*models.CreateAPIKeyResponse, error) {
	if userID == "" {
		return nil, &models.ValidationError{Field: "user_id", Message: "user ID is required"}
	}
	if req.Name == "" {
		return nil, &models.ValidationError{Field: "name", Message: "key name is required"}
	}
	if len(req.Scopes) == 0 {
		return nil, &models.ValidationError{Field: "scopes", Message: "at least one scope is required"}
	}
	for _, scope := range req.Scopes {
		if !models.IsValidScope(scope) {
			return nil, &models.ValidationError{Field: "scopes", Message: fmt.Sprintf("invalid scope: %s", scope)}
		}
	}
	if req.RateLimit != nil && (req.RateLimit.RequestsPerMinute < 0 || req.RateLimit.RequestsPerHour < 0) {
		return nil, &models.ValidationError{Field: "rate_limit", Message: "rate limits must be non-negative"}
	}

	count, err := s.CountByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if count >= MaxAPIKeysPerOwner {
		return nil, &models.ValidationError{Field: "name", Message: fmt.Sprintf("API key limit reached (%d/%d)", count, MaxAPIKeysPerOwner)}
	}

	key, err := s.GenerateKey()
	if err != nil {
		return nil, err
	}

	hash, err := s.HashKey(key)
	if err != nil {
		return nil, err
	}

	var expiresAt *time.Time
	if req.ExpiresIn > 0 {
		exp := time.Now().UTC().Add(time.Duration(req.ExpiresIn) * 24 * time.Hour)
		expiresAt = &exp
	}

	scopesJSON, err := json.Marshal(req.Scopes)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize scopes: %w", err)
	}
	var rateLimitJSON sql.NullString
	if req.RateLimit != nil {
		data, err := json.Marshal(req.RateLimit)
		if err != nil {
			return nil, fmt.Errorf("failed to serialize rate limit: %w", err)
		}
		rateLimitJSON = sql.NullString{String: string(data), Valid: true}
	}

	now := time.Now().UTC()
	apiKey := &models.APIKey{
		ID:          uuid.New().String(),
		UserID:      userID,
		KeyPrefix:   key[:APIKeyPrefixLength],
		KeyHash:     hash,
		Name:        req.Name,
		Description: req.Description,
		Scopes:      req.Scopes,
		RateLimit:   req.RateLimit,
		ExpiresAt:   expiresAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var description sql.NullString
	if apiKey.Description != "" {
		description = sql.NullString{String: apiKey.Description, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO api_keys (`+apiKeyColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		apiKey.ID, apiKey.UserID, apiKey.KeyPrefix, apiKey.KeyHash, apiKey.Name,
		description, string(scopesJSON), rateLimitJSON,
		sql.NullString{}, sql.NullString{}, database.FormatNullableTime(expiresAt),
		database.FormatTime(now), database.FormatTime(now),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create API key: %w", err)
	}

	log.Printf("🔑 [APIKEY] Created API key %s for user %s (prefix: %s)",
		apiKey.ID, userID, apiKey.KeyPrefix)

	return &models.CreateAPIKeyResponse{
		ID:        apiKey.ID,
		Key:       key, // Full key - only returned once!
		KeyPrefix: apiKey.KeyPrefix,
		Name:      apiKey.Name,
		Scopes:    apiKey.Scopes,
		ExpiresAt: expiresAt,
		CreatedAt: now,
	}, nil
}

// ValidateKey validates a raw API key and returns the key record
func (s *APIKeyService) ValidateKey(ctx context.Context, key string) (*models.APIKey, error) {
	if len(key) < APIKeyPrefixLength {
		return nil, fmt.Errorf("invalid API key format")
	}

	// Prefix narrows the scan; the bcrypt comparison decides. Two keys sharing
	// a prefix is unlikely but handled.
	prefix := key[:APIKeyPrefixLength]

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+apiKeyColumns+` FROM api_keys
		WHERE key_prefix = ? AND revoked_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to lookup API key: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		apiKey, err := scanAPIKey(rows)
		if err != nil {
			continue
		}

		if s.VerifyKey(key, apiKey.KeyHash) {
			if apiKey.IsExpired() {
				return nil, fmt.Errorf("API key has expired")
			}

			go s.updateLastUsed(context.Background(), apiKey.ID)

			return apiKey, nil
		}
	}

	return nil, fmt.Errorf("invalid API key")
}

// updateLastUsed updates the last used timestamp
func (s *APIKeyService) updateLastUsed(ctx context.Context, keyID string) {
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = ? WHERE id = ?`,
		database.FormatTime(time.Now()), keyID)
	if err != nil {
		log.Printf("⚠️ [APIKEY] Failed to update last used: %v", err)
	}
}

// ListByUser returns all API keys for a user, newest first. Hashes stay
// internal; the model hides them from JSON.
func (s *APIKeyService) ListByUser(ctx context.Context, userID string) ([]*models.APIKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+apiKeyColumns+` FROM api_keys
		WHERE user_id = ?
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list API keys: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan API key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("API key scan failed: %w", err)
	}

	return keys, nil
}

// GetByIDAndUser retrieves an API key by ID ensuring user ownership
func (s *APIKeyService) GetByIDAndUser(ctx context.Context, keyID, userID string) (*models.APIKey, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+apiKeyColumns+` FROM api_keys
		WHERE id = ? AND user_id = ?`, keyID, userID)

	key, err := scanAPIKey(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, &models.NotFoundError{Resource: "API key"}
		}
		return nil, fmt.Errorf("failed to get API key: %w", err)
	}
	return key, nil
}

// Revoke revokes an API key (soft delete)
func (s *APIKeyService) Revoke(ctx context.Context, keyID, userID string) error {
	now := database.FormatTime(time.Now())
	result, err := s.db.ExecContext(ctx, `
		UPDATE api_keys SET revoked_at = ?, updated_at = ?
		WHERE id = ? AND user_id = ? AND revoked_at IS NULL`,
		now, now, keyID, userID)
	if err != nil {
		return fmt.Errorf("failed to revoke API key: %w", err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return &models.NotFoundError{Resource: "API key"}
	}

	log.Printf("🔒 [APIKEY] Revoked API key %s for user %s", keyID, userID)
	return nil
}

// Delete permanently deletes an API key
func (s *APIKeyService) Delete(ctx context.Context, keyID, userID string) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM api_keys WHERE id = ? AND user_id = ?`, keyID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete API key: %w", err)
	}

	affected, _ := result.RowsAffected()
	if affected == 0 {
		return &models.NotFoundError{Resource: "API key"}
	}

	log.Printf("🗑️ [APIKEY] Deleted API key %s for user %s", keyID, userID)
	return nil
}

// DeleteAllByUser deletes all API keys for a user (GDPR compliance)
func (s *APIKeyService) DeleteAllByUser(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, fmt.Errorf("user ID is required")
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM api_keys WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete user API keys: %w", err)
	}

	deleted, _ := result.RowsAffected()
	log.Printf("🗑️ [GDPR] Deleted %d API keys for user %s", deleted, userID)
	return deleted, nil
}

// CountByUser counts non-revoked API keys for a user
func (s *APIKeyService) CountByUser(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM api_keys WHERE user_id = ? AND revoked_at IS NULL`,
		userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count API keys: %w", err)
	}
	return count, nil
}

// scanAPIKey reads one row in apiKeyColumns order
func scanAPIKey(row scanner) (*models.APIKey, error) {
	var k models.APIKey
	var description, scopesJSON, rateLimitJSON, lastUsedAt, revokedAt, expiresAt sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&k.ID, &k.UserID, &k.KeyPrefix, &k.KeyHash, &k.Name, &description, &scopesJSON, &rateLimitJSON,
		&lastUsedAt, &revokedAt, &expiresAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	k.Description = description.String
	if scopesJSON.Valid && scopesJSON.String != "" {
		if err := json.Unmarshal([]byte(scopesJSON.String), &k.Scopes); err != nil {
			log.Printf("⚠️ [APIKEY] Corrupt scopes on key %s: %v", k.ID, err)
		}
	}
	if rateLimitJSON.Valid && rateLimitJSON.String != "" {
		var rl models.APIKeyRateLimit
		if err := json.Unmarshal([]byte(rateLimitJSON.String), &rl); err != nil {
			log.Printf("⚠️ [APIKEY] Corrupt rate limit on key %s: %v", k.ID, err)
		} else {
			k.RateLimit = &rl
		}
	}
	k.LastUsedAt = database.ParseNullableTime(lastUsedAt)
	k.RevokedAt = database.ParseNullableTime(revokedAt)
	k.ExpiresAt = database.ParseNullableTime(expiresAt)
	k.CreatedAt = database.ParseTime(createdAt)
	k.UpdatedAt = database.ParseTime(updatedAt)

	return &k, nil
}
