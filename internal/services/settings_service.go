package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	cache "github.com/patrickmn/go-cache"

	"engram/internal/database"
	"engram/internal/models"
)

// SettingsService manages per-owner preferences (retention window, digest
// delivery). Reads are cached; the ingestion path hits this on every call.
type SettingsService struct {
	db    *database.DB
	cache *cache.Cache
}

// NewSettingsService creates the settings service
func NewSettingsService(db *database.DB) *SettingsService {
	return &SettingsService{
		db:    db,
		cache: cache.New(5*time.Minute, 10*time.Minute),
	}
}

// Get returns the owner's settings, falling back to defaults for owners who
// never saved any
func (s *SettingsService) Get(ctx context.Context, userID string) (*models.OwnerSettings, error) {
	if cached, found := s.cache.Get(userID); found {
		if settings, ok := cached.(*models.OwnerSettings); ok {
			return settings, nil
		}
	}

	settings := &models.OwnerSettings{UserID: userID}
	var digestEnabled int
	var digestChatID sql.NullString
	var updatedAt string

	err := s.db.QueryRowContext(ctx,
		`SELECT retention_days, digest_enabled, digest_chat_id, updated_at
		 FROM owner_settings WHERE user_id = ?`, userID,
	).Scan(&settings.RetentionDays, &digestEnabled, &digestChatID, &updatedAt)
	if err == sql.ErrNoRows {
		return models.DefaultOwnerSettings(userID), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	settings.DigestEnabled = digestEnabled != 0
	settings.DigestChatID = digestChatID.String
	settings.UpdatedAt = database.ParseTime(updatedAt)

	s.cache.Set(userID, settings, cache.DefaultExpiration)
	return settings, nil
}

// Update applies a partial settings update and returns the merged result
func (s *SettingsService) Update(ctx context.Context, userID string, req *models.UpdateOwnerSettingsRequest) (*models.OwnerSettings, error) {
	if req.RetentionDays != nil {
		if *req.RetentionDays < models.MinRetentionDays || *req.RetentionDays > models.MaxRetentionDays {
			return nil, &models.ValidationError{
				Field:   "retention_days",
				Message: fmt.Sprintf("must be between %d and %d", models.MinRetentionDays, models.MaxRetentionDays),
			}
		}
	}

	current, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	merged := *current
	if req.RetentionDays != nil {
		merged.RetentionDays = *req.RetentionDays
	}
	if req.DigestEnabled != nil {
		merged.DigestEnabled = *req.DigestEnabled
	}
	if req.DigestChatID != nil {
		merged.DigestChatID = *req.DigestChatID
	}
	merged.UpdatedAt = time.Now().UTC()

	var exists int
	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM owner_settings WHERE user_id = ?", userID,
	).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to check settings: %w", err)
	}

	if exists > 0 {
		_, err = s.db.ExecContext(ctx,
			`UPDATE owner_settings
			 SET retention_days = ?, digest_enabled = ?, digest_chat_id = ?, updated_at = ?
			 WHERE user_id = ?`,
			merged.RetentionDays, boolToInt(merged.DigestEnabled),
			nullString(merged.DigestChatID), database.FormatTime(merged.UpdatedAt), userID,
		)
	} else {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO owner_settings (user_id, retention_days, digest_enabled, digest_chat_id, updated_at)
			 VALUES (?, ?, ?, ?, ?)`,
			userID, merged.RetentionDays, boolToInt(merged.DigestEnabled),
			nullString(merged.DigestChatID), database.FormatTime(merged.UpdatedAt),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to save settings: %w", err)
	}

	s.cache.Set(userID, &merged, cache.DefaultExpiration)
	log.Printf("✅ [SETTINGS] Updated settings for user %s (retention=%dd)", userID, merged.RetentionDays)
	return &merged, nil
}

// RetentionDays returns the owner's default retention window in days.
// Lookup failures fall back to the system default rather than blocking
// ingestion.
func (s *SettingsService) RetentionDays(ctx context.Context, userID string) int {
	settings, err := s.Get(ctx, userID)
	if err != nil {
		log.Printf("⚠️ [SETTINGS] Falling back to default retention for user %s: %v", userID, err)
		return models.DefaultRetentionDays
	}
	if settings.RetentionDays <= 0 {
		return models.DefaultRetentionDays
	}
	return settings.RetentionDays
}

// DigestRecipients returns owners with digest delivery enabled and a chat
// configured
func (s *SettingsService) DigestRecipients(ctx context.Context) ([]*models.OwnerSettings, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, retention_days, digest_enabled, digest_chat_id, updated_at
		 FROM owner_settings
		 WHERE digest_enabled = 1 AND digest_chat_id IS NOT NULL AND digest_chat_id != ''`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list digest recipients: %w", err)
	}
	defer rows.Close()

	var recipients []*models.OwnerSettings
	for rows.Next() {
		settings := &models.OwnerSettings{}
		var digestEnabled int
		var digestChatID sql.NullString
		var updatedAt string
		if err := rows.Scan(&settings.UserID, &settings.RetentionDays, &digestEnabled, &digestChatID, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan settings row: %w", err)
		}
		settings.DigestEnabled = digestEnabled != 0
		settings.DigestChatID = digestChatID.String
		settings.UpdatedAt = database.ParseTime(updatedAt)
		recipients = append(recipients, settings)
	}
	return recipients, rows.Err()
}
