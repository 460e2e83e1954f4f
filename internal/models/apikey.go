package models

import (
	"time"
)

// APIKey represents an API key for programmatic access to one owner's graph
type APIKey struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`

	// Key info (hash stored, never plain text)
	KeyPrefix string `json:"key_prefix"` // First chars for display (e.g., "eng_a1b2")
	KeyHash   string `json:"-"`          // bcrypt hash, never exposed in JSON

	// Metadata
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// Permissions
	Scopes []string `json:"scopes"` // e.g., ["memories:write"], ["qa:ask", "memories:read"]

	// Rate limits (defaults can be overridden per key)
	RateLimit *APIKeyRateLimit `json:"rate_limit,omitempty"`

	// Status
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"` // Soft delete
	ExpiresAt  *time.Time `json:"expires_at,omitempty"` // Optional expiration

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// APIKeyRateLimit defines custom rate limits for an API key
type APIKeyRateLimit struct {
	RequestsPerMinute int64 `json:"requests_per_minute"`
	RequestsPerHour   int64 `json:"requests_per_hour"`
}

// API key scopes
const (
	ScopeMemoriesRead  = "memories:read"
	ScopeMemoriesWrite = "memories:write"
	ScopeQAAsk         = "qa:ask"
	ScopeCaptureWrite  = "capture:write"
	ScopeExportRead    = "export:read"
	ScopeAdmin         = "admin"
)

var validScopes = map[string]bool{
	ScopeMemoriesRead:  true,
	ScopeMemoriesWrite: true,
	ScopeQAAsk:         true,
	ScopeCaptureWrite:  true,
	ScopeExportRead:    true,
	ScopeAdmin:         true,
	"*":                true,
}

// IsValidScope reports whether a scope string is recognized
func IsValidScope(scope string) bool {
	if validScopes[scope] {
		return true
	}
	// Wildcard family scopes like "memories:*"
	return len(scope) > 2 && scope[len(scope)-2:] == ":*"
}

// IsRevoked returns true if the API key has been revoked
func (k *APIKey) IsRevoked() bool {
	return k.RevokedAt != nil
}

// IsExpired returns true if the API key has expired
func (k *APIKey) IsExpired() bool {
	if k.ExpiresAt == nil {
		return false
	}
	return time.Now().After(*k.ExpiresAt)
}

// IsValid returns true if the API key is not revoked and not expired
func (k *APIKey) IsValid() bool {
	return !k.IsRevoked() && !k.IsExpired()
}

// HasScope checks if the API key has a specific scope
func (k *APIKey) HasScope(scope string) bool {
	for _, s := range k.Scopes {
		if s == scope || s == "*" || s == ScopeAdmin {
			return true
		}
		if matchWildcardScope(s, scope) {
			return true
		}
	}
	return false
}

// matchWildcardScope checks if a wildcard scope matches a target scope
// e.g., "memories:*" matches "memories:write"
func matchWildcardScope(pattern, target string) bool {
	if len(pattern) < 2 || pattern[len(pattern)-1] != '*' {
		return false
	}
	prefix := pattern[:len(pattern)-1] // Remove the '*'
	return len(target) >= len(prefix) && target[:len(prefix)] == prefix
}

// CreateAPIKeyRequest is the request body for creating an API key
type CreateAPIKeyRequest struct {
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Scopes      []string         `json:"scopes"`               // Required: what the key can do
	RateLimit   *APIKeyRateLimit `json:"rate_limit,omitempty"` // Optional: custom rate limits
	ExpiresIn   int              `json:"expires_in,omitempty"` // Optional: expiration in days
}

// CreateAPIKeyResponse is returned after creating an API key.
// This is the ONLY time the full key is returned.
type CreateAPIKeyResponse struct {
	ID        string     `json:"id"`
	Key       string     `json:"key"`        // Full API key (ONLY shown once)
	KeyPrefix string     `json:"key_prefix"` // Display prefix
	Name      string     `json:"name"`
	Scopes    []string   `json:"scopes"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
