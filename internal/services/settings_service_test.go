package services

import (
	"context"
	"errors"
	"testing"

	"engram/internal/models"
)

// TestSettings_DefaultsForNewOwner serves system defaults to owners who never
// saved settings
func TestSettings_DefaultsForNewOwner(t *testing.T) {
	settings := NewSettingsService(newTestDB(t))

	got, err := settings.Get(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.UserID != "alice" {
		t.Errorf("UserID = %q", got.UserID)
	}
	if got.RetentionDays != models.DefaultRetentionDays {
		t.Errorf("RetentionDays = %d, want %d", got.RetentionDays, models.DefaultRetentionDays)
	}
	if got.DigestEnabled || got.DigestChatID != "" {
		t.Errorf("digest defaults = %v/%q, want off/empty", got.DigestEnabled, got.DigestChatID)
	}
}

// TestSettings_PartialUpdate merges only the provided fields and keeps the
// rest
func TestSettings_PartialUpdate(t *testing.T) {
	settings := NewSettingsService(newTestDB(t))
	ctx := context.Background()

	days := 14
	first, err := settings.Update(ctx, "alice", &models.UpdateOwnerSettingsRequest{RetentionDays: &days})
	if err != nil {
		t.Fatalf("Update(retention) error = %v", err)
	}
	if first.RetentionDays != 14 || first.DigestEnabled {
		t.Errorf("after first update = %+v", first)
	}

	enabled := true
	chatID := "12345"
	second, err := settings.Update(ctx, "alice", &models.UpdateOwnerSettingsRequest{
		DigestEnabled: &enabled,
		DigestChatID:  &chatID,
	})
	if err != nil {
		t.Fatalf("Update(digest) error = %v", err)
	}
	if second.RetentionDays != 14 {
		t.Errorf("RetentionDays = %d, digest update clobbered it", second.RetentionDays)
	}
	if !second.DigestEnabled || second.DigestChatID != "12345" {
		t.Errorf("digest settings = %v/%q", second.DigestEnabled, second.DigestChatID)
	}

	// The merged state survives a reload
	got, err := settings.Get(ctx, "alice")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.RetentionDays != 14 || !got.DigestEnabled || got.DigestChatID != "12345" {
		t.Errorf("reloaded settings = %+v", got)
	}
}

// TestSettings_UpdateValidation bounds the retention window
func TestSettings_UpdateValidation(t *testing.T) {
	settings := NewSettingsService(newTestDB(t))
	ctx := context.Background()

	for _, days := range []int{0, -7, models.MaxRetentionDays + 1} {
		d := days
		_, err := settings.Update(ctx, "alice", &models.UpdateOwnerSettingsRequest{RetentionDays: &d})
		var vErr *models.ValidationError
		if !errors.As(err, &vErr) {
			t.Errorf("Update(retention=%d) error = %v, want ValidationError", days, err)
		}
	}

	// Boundary values pass
	for _, days := range []int{models.MinRetentionDays, models.MaxRetentionDays} {
		d := days
		if _, err := settings.Update(ctx, "alice", &models.UpdateOwnerSettingsRequest{RetentionDays: &d}); err != nil {
			t.Errorf("Update(retention=%d) error = %v", days, err)
		}
	}
}

// TestSettings_RetentionDays falls back to the system default instead of
// blocking ingestion
func TestSettings_RetentionDays(t *testing.T) {
	settings := NewSettingsService(newTestDB(t))
	ctx := context.Background()

	if got := settings.RetentionDays(ctx, "nobody"); got != models.DefaultRetentionDays {
		t.Errorf("RetentionDays(unknown) = %d, want %d", got, models.DefaultRetentionDays)
	}

	days := 90
	if _, err := settings.Update(ctx, "alice", &models.UpdateOwnerSettingsRequest{RetentionDays: &days}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got := settings.RetentionDays(ctx, "alice"); got != 90 {
		t.Errorf("RetentionDays(alice) = %d, want 90", got)
	}
}

// TestSettings_DigestRecipients returns only owners with digest on and a
// chat configured
func TestSettings_DigestRecipients(t *testing.T) {
	settings := NewSettingsService(newTestDB(t))
	ctx := context.Background()

	enabled := true
	disabled := false
	chat := "777"
	empty := ""

	// Opted in with a destination
	if _, err := settings.Update(ctx, "ready", &models.UpdateOwnerSettingsRequest{
		DigestEnabled: &enabled, DigestChatID: &chat,
	}); err != nil {
		t.Fatal(err)
	}
	// Opted in but nowhere to send
	if _, err := settings.Update(ctx, "no-chat", &models.UpdateOwnerSettingsRequest{
		DigestEnabled: &enabled, DigestChatID: &empty,
	}); err != nil {
		t.Fatal(err)
	}
	// Has a chat but opted out
	if _, err := settings.Update(ctx, "opted-out", &models.UpdateOwnerSettingsRequest{
		DigestEnabled: &disabled, DigestChatID: &chat,
	}); err != nil {
		t.Fatal(err)
	}

	recipients, err := settings.DigestRecipients(ctx)
	if err != nil {
		t.Fatalf("DigestRecipients() error = %v", err)
	}
	if len(recipients) != 1 {
		t.Fatalf("recipients = %d, want 1", len(recipients))
	}
	if recipients[0].UserID != "ready" || recipients[0].DigestChatID != "777" {
		t.Errorf("recipient = %+v", recipients[0])
	}
}
