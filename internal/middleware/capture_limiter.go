package middleware

import (
	"context"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"engram/internal/services"

	"github.com/gofiber/fiber/v2"
)

// DefaultMaxConcurrentCaptures is the default cap on simultaneous capture
// jobs per owner. A capture holds a remote fetch, document extraction and a
// full ingestion pass, so a single owner must not saturate the worker pool.
const DefaultMaxConcurrentCaptures = 2

// DefaultDailyCaptureQuota is the default number of captures an owner may
// start per UTC day. Tracked in Redis; unlimited when Redis is unavailable.
const DefaultDailyCaptureQuota int64 = 200

// captureSlot tracks a single owner's concurrent captures with acquire time.
type captureSlot struct {
	count       atomic.Int32
	lastAcquire atomic.Int64 // unix timestamp of last AcquireCapture
}

// CaptureLimiter caps concurrent and daily capture jobs per owner
type CaptureLimiter struct {
	redis              *services.RedisService // nil disables the daily quota
	concurrentCaptures sync.Map               // userID → *captureSlot
	maxConcurrent      int
	maxSlotAge         time.Duration // auto-release slots older than this
	dailyQuota         int64
}

// NewCaptureLimiter creates a new capture limiter middleware
func NewCaptureLimiter(redisService *services.RedisService) *CaptureLimiter {
	return &CaptureLimiter{
		redis:         redisService,
		maxConcurrent: DefaultMaxConcurrentCaptures,
		maxSlotAge:    10 * time.Minute, // captures are bounded by the fetch timeout
		dailyQuota:    DefaultDailyCaptureQuota,
	}
}

// CheckLimit verifies the owner has daily quota left for another capture
func (cl *CaptureLimiter) CheckLimit(c *fiber.Ctx) error {
	userID, ok := c.Locals("user_id").(string)
	if !ok || userID == "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Unauthorized",
		})
	}

	// No Redis means no shared counter; the concurrent cap still applies
	if cl.redis == nil {
		return c.Next()
	}

	ctx := context.Background()
	key := cl.dailyKey(userID)

	count, err := cl.redis.GetInt64(ctx, key)
	if err != nil {
		log.Printf("⚠️  [CAPTURE-LIMIT] Failed to read capture count: %v", err)
		// On Redis error, allow capture but log warning
		return c.Next()
	}

	if count >= cl.dailyQuota {
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error":    "Daily capture limit exceeded",
			"limit":    cl.dailyQuota,
			"used":     count,
			"reset_at": nextMidnightUTC(),
		})
	}

	return c.Next()
}

// IncrementCount increments the daily capture counter after a capture starts
func (cl *CaptureLimiter) IncrementCount(userID string) error {
	if cl.redis == nil {
		return nil
	}

	ctx := context.Background()
	key := cl.dailyKey(userID)

	count, err := cl.redis.Incr(ctx, key)
	if err != nil {
		log.Printf("⚠️  [CAPTURE-LIMIT] Failed to increment capture count: %v", err)
		return err
	}
	if count == 1 {
		// Keep the counter one extra day for usage reporting
		expiry := time.Until(nextMidnightUTC()) + 24*time.Hour
		cl.redis.Expire(ctx, key, expiry)
	}

	return nil
}

// RemainingCaptures returns how many captures the owner has left today.
// Returns -1 when unlimited (Redis unavailable).
func (cl *CaptureLimiter) RemainingCaptures(userID string) (int64, error) {
	if cl.redis == nil {
		return -1, nil
	}

	count, err := cl.redis.GetInt64(context.Background(), cl.dailyKey(userID))
	if err != nil {
		return -1, err
	}

	remaining := cl.dailyQuota - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// AcquireCapture increments the concurrent counter for an owner.
// Returns false if the limit is exceeded (caller should not proceed).
func (cl *CaptureLimiter) AcquireCapture(userID string) bool {
	slot := cl.getOrCreateSlot(userID)
	// Auto-release stale slots before checking (prevents permanent lockout)
	cl.autoReleaseIfStale(userID, slot)
	current := slot.count.Add(1)
	if int(current) > cl.maxConcurrent {
		slot.count.Add(-1)
		log.Printf("⚠️ [CAPTURE-LIMIT] User %s rejected: %d/%d concurrent captures",
			userID, int(current)-1, cl.maxConcurrent)
		return false
	}
	slot.lastAcquire.Store(time.Now().Unix())
	log.Printf("📊 [CAPTURE-LIMIT] User %s: %d/%d concurrent captures",
		userID, int(current), cl.maxConcurrent)
	return true
}

// ReleaseCapture decrements the concurrent counter for an owner.
// Must be called when a capture finishes (success or failure).
func (cl *CaptureLimiter) ReleaseCapture(userID string) {
	slot := cl.getOrCreateSlot(userID)
	val := slot.count.Add(-1)
	if val < 0 {
		slot.count.Store(0) // safety: never go negative
	}
}

// autoReleaseIfStale resets the counter to 0 if the slot has been held longer
// than maxSlotAge. This prevents permanent lockout from leaked slots.
func (cl *CaptureLimiter) autoReleaseIfStale(userID string, slot *captureSlot) {
	current := slot.count.Load()
	if current <= 0 {
		return
	}
	acquired := slot.lastAcquire.Load()
	if acquired == 0 {
		return
	}
	age := time.Since(time.Unix(acquired, 0))
	if age > cl.maxSlotAge {
		slot.count.Store(0)
		log.Printf("🔓 [CAPTURE-LIMIT] Auto-released stale slots for user %s (held for %s, count was %d)",
			userID, age.Round(time.Second), current)
	}
}

func (cl *CaptureLimiter) getOrCreateSlot(userID string) *captureSlot {
	if v, ok := cl.concurrentCaptures.Load(userID); ok {
		return v.(*captureSlot)
	}
	slot := &captureSlot{}
	actual, _ := cl.concurrentCaptures.LoadOrStore(userID, slot)
	return actual.(*captureSlot)
}

func (cl *CaptureLimiter) dailyKey(userID string) string {
	return fmt.Sprintf("captures:%s:%s", userID, time.Now().UTC().Format("2006-01-02"))
}

// nextMidnightUTC returns the next midnight UTC
func nextMidnightUTC() time.Time {
	now := time.Now().UTC()
	return time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
}
