package services

import (
	"context"
	"fmt"
	"log"
	"time"

	"engram/internal/config"
	"engram/internal/database"
	"engram/internal/models"
)

// LifecycleService owns aging and archival. Freshness is always derived at
// read time, never stored: a memory's score decays linearly from 1 at
// creation to 0 at its expiry, and expiry alone never archives anything.
// Archival only happens through an explicit call (supersession, user action,
// or the expiry job when that policy is switched on).
type LifecycleService struct {
	db      *database.DB
	storage *MemoryStorageService
	events  *EventBusService
	cfg     *config.Config
}

// NewLifecycleService creates a new lifecycle service
func NewLifecycleService(db *database.DB, storage *MemoryStorageService, events *EventBusService, cfg *config.Config) *LifecycleService {
	return &LifecycleService{db: db, storage: storage, events: events, cfg: cfg}
}

// FreshnessAt computes a memory's freshness at a point in time:
// 1 - age/retention, clamped to [0, 1]. The retention window is the span the
// memory was created with, so per-owner settings changes never reinterpret
// old rows.
func FreshnessAt(m *models.Memory, now time.Time) float64 {
	window := m.ExpiresAt.Sub(m.CreatedAt)
	if window <= 0 {
		return 0
	}
	age := now.Sub(m.CreatedAt)
	if age <= 0 {
		return 1
	}
	f := 1 - age.Seconds()/window.Seconds()
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

// Freshness computes a memory's freshness now
func (s *LifecycleService) Freshness(m *models.Memory) float64 {
	return FreshnessAt(m, time.Now())
}

// Archive archives one memory on the owner's behalf and publishes the event.
// The storage layer enforces the owner check; reason lands in metadata.
func (s *LifecycleService) Archive(ctx context.Context, userID, memoryID, reason string, supersededBy *string) error {
	if reason == "" {
		reason = models.ArchiveReasonUserArchived
	}

	if err := s.storage.ArchiveMemory(ctx, s.db, userID, memoryID, reason, supersededBy); err != nil {
		return err
	}
	GetMetrics().RecordArchive(reason)

	if s.events != nil {
		event := models.MemoryEvent{
			Type:      models.EventMemoryArchived,
			UserID:    userID,
			MemoryID:  memoryID,
			Reason:    reason,
			Timestamp: time.Now().UTC(),
		}
		if supersededBy != nil {
			event.SupersededID = *supersededBy
		}
		s.events.Publish(userID, event)
	}
	return nil
}

// ArchiveExpired archives up to batch active memories past their expiry,
// reason "expired". Only the scheduler calls this, and only when the expiry
// archival policy is enabled.
func (s *LifecycleService) ArchiveExpired(ctx context.Context, batch int) (int, error) {
	if batch <= 0 {
		batch = 200
	}

	expired, err := s.storage.GetExpiredActive(ctx, batch)
	if err != nil {
		return 0, err
	}

	archived := 0
	for _, m := range expired {
		if err := s.storage.ArchiveMemory(ctx, s.db, m.UserID, m.ID, models.ArchiveReasonExpired, nil); err != nil {
			log.Printf("⚠️ [LIFECYCLE] Failed to archive expired memory %s: %v", m.ID, err)
			continue
		}
		archived++
		GetMetrics().RecordArchive(models.ArchiveReasonExpired)
		if s.events != nil {
			s.events.Publish(m.UserID, models.MemoryEvent{
				Type:      models.EventMemoryArchived,
				UserID:    m.UserID,
				MemoryID:  m.ID,
				Reason:    models.ArchiveReasonExpired,
				Timestamp: time.Now().UTC(),
			})
		}
	}

	if archived > 0 {
		log.Printf("📦 [LIFECYCLE] Expiry sweep archived %d memories", archived)
	}
	return archived, nil
}

// FreshnessBuckets counts active memories by decay band across all owners.
// Cheap: it reads timestamps only, never content.
type FreshnessBuckets struct {
	Fresh   int64 // freshness > 0.66
	Aging   int64 // 0.33 .. 0.66
	Stale   int64 // 0 < f <= 0.33
	Expired int64 // freshness 0
}

// SurveyFreshness walks active memories and buckets them by current
// freshness, for the decay sweep's gauges
func (s *LifecycleService) SurveyFreshness(ctx context.Context) (*FreshnessBuckets, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT created_at, expires_at FROM memories WHERE is_archived = 0`)
	if err != nil {
		return nil, fmt.Errorf("failed to survey freshness: %w", err)
	}
	defer rows.Close()

	now := time.Now()
	buckets := &FreshnessBuckets{}
	for rows.Next() {
		var createdAt, expiresAt string
		if err := rows.Scan(&createdAt, &expiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan freshness row: %w", err)
		}
		m := models.Memory{
			CreatedAt: database.ParseTime(createdAt),
			ExpiresAt: database.ParseTime(expiresAt),
		}
		switch f := FreshnessAt(&m, now); {
		case f > 0.66:
			buckets.Fresh++
		case f > 0.33:
			buckets.Aging++
		case f > 0:
			buckets.Stale++
		default:
			buckets.Expired++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("freshness survey failed: %w", err)
	}
	return buckets, nil
}

// RunDecaySweep is the periodic lifecycle job: survey freshness bands for
// the gauges, then archive expired rows when that policy is on.
// Expiry archival stays off by default; the sweep is observation-only then.
func (s *LifecycleService) RunDecaySweep(ctx context.Context) error {
	log.Printf("🔄 [LIFECYCLE] Starting decay sweep")

	buckets, err := s.SurveyFreshness(ctx)
	if err != nil {
		return fmt.Errorf("decay sweep failed: %w", err)
	}
	GetMetrics().SetFreshnessBands(buckets)

	archived := 0
	if s.cfg.ExpiryArchival {
		archived, err = s.ArchiveExpired(ctx, 0)
		if err != nil {
			return fmt.Errorf("expiry archival failed: %w", err)
		}
	}

	log.Printf("✅ [LIFECYCLE] Decay sweep completed: %d fresh, %d aging, %d stale, %d expired, %d archived",
		buckets.Fresh, buckets.Aging, buckets.Stale, buckets.Expired, archived)
	return nil
}

// RetentionWindow resolves the expiry timestamp for a new memory: the
// requested retention days (0 = owner default), clamped to the allowed range
func RetentionWindow(createdAt time.Time, requestedDays, ownerDefaultDays int) time.Time {
	days := requestedDays
	if days == 0 {
		days = ownerDefaultDays
	}
	if days == 0 {
		days = models.DefaultRetentionDays
	}
	if days < models.MinRetentionDays {
		days = models.MinRetentionDays
	}
	if days > models.MaxRetentionDays {
		days = models.MaxRetentionDays
	}
	return createdAt.Add(time.Duration(days) * 24 * time.Hour)
}
