package models

import "time"

// OwnerSettings holds per-owner lifecycle and delivery preferences
type OwnerSettings struct {
	UserID        string    `json:"user_id"`
	RetentionDays int       `json:"retention_days"` // Default retention window for new memories
	DigestEnabled bool      `json:"digest_enabled"`
	DigestChatID  string    `json:"digest_chat_id,omitempty"` // Telegram chat for digest delivery
	UpdatedAt     time.Time `json:"updated_at"`
}

// DefaultOwnerSettings returns the settings applied to owners who never
// customized anything
func DefaultOwnerSettings(userID string) *OwnerSettings {
	return &OwnerSettings{
		UserID:        userID,
		RetentionDays: DefaultRetentionDays,
	}
}

// UpdateOwnerSettingsRequest carries a partial settings update; nil fields
// are left unchanged
type UpdateOwnerSettingsRequest struct {
	RetentionDays *int    `json:"retention_days,omitempty"`
	DigestEnabled *bool   `json:"digest_enabled,omitempty"`
	DigestChatID  *string `json:"digest_chat_id,omitempty"`
}
