package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ownerLockTTL bounds how long a crashed instance can hold the distributed
// fence before Redis expires it
const ownerLockTTL = 30 * time.Second

// ownerLockRetry is the polling interval while waiting for another
// instance's fence
const ownerLockRetry = 50 * time.Millisecond

// OwnerLockService serializes graph mutations per owner. Two ingestions for
// the same owner never interleave between candidate search and insertion, so
// they cannot both miss each other's contradiction. Different owners proceed
// in parallel.
//
// Locally this is a keyed semaphore. With Redis configured it additionally
// takes a SetNX fence so multiple instances sharing one database serialize
// too.
type OwnerLockService struct {
	mu    sync.Mutex
	locks map[string]*ownerLock

	redis *RedisService // nil = single-instance mode
}

type ownerLock struct {
	sem  chan struct{}
	refs int
}

// NewOwnerLockService creates the lock service. redis may be nil.
func NewOwnerLockService(redis *RedisService) *OwnerLockService {
	if redis != nil {
		log.Printf("✅ [OWNER-LOCK] Distributed locking enabled (Redis fence)")
	}
	return &OwnerLockService{
		locks: make(map[string]*ownerLock),
		redis: redis,
	}
}

// Lock acquires the owner's exclusive lock, blocking until it is available or
// ctx is done. The returned release function must be called exactly once.
func (s *OwnerLockService) Lock(ctx context.Context, userID string) (func(), error) {
	if userID == "" {
		return nil, fmt.Errorf("owner lock requires a user ID")
	}

	lock := s.acquireEntry(userID)

	select {
	case lock.sem <- struct{}{}:
	case <-ctx.Done():
		s.releaseEntry(userID)
		return nil, fmt.Errorf("timed out waiting for owner lock: %w", ctx.Err())
	}

	// Local semaphore held; now take the cross-instance fence
	token, err := s.acquireFence(ctx, userID)
	if err != nil {
		<-lock.sem
		s.releaseEntry(userID)
		return nil, err
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			s.releaseFence(userID, token)
			<-lock.sem
			s.releaseEntry(userID)
		})
	}
	return release, nil
}

func (s *OwnerLockService) acquireEntry(userID string) *ownerLock {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[userID]
	if !ok {
		lock = &ownerLock{sem: make(chan struct{}, 1)}
		s.locks[userID] = lock
	}
	lock.refs++
	return lock
}

func (s *OwnerLockService) releaseEntry(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[userID]
	if !ok {
		return
	}
	lock.refs--
	if lock.refs <= 0 {
		delete(s.locks, userID)
	}
}

// acquireFence polls SetNX until the fence is ours or ctx expires. Returns
// the fence token, or "" when Redis is not configured.
func (s *OwnerLockService) acquireFence(ctx context.Context, userID string) (string, error) {
	if s.redis == nil {
		return "", nil
	}

	key := "engram:owner_lock:" + userID
	token := uuid.NewString()

	for {
		acquired, err := s.redis.AcquireLock(ctx, key, token, ownerLockTTL)
		if err != nil {
			// Redis being down must not wedge ingestion; the local
			// semaphore still serializes within this instance
			log.Printf("⚠️ [OWNER-LOCK] Redis fence unavailable, continuing with local lock only: %v", err)
			return "", nil
		}
		if acquired {
			return token, nil
		}

		select {
		case <-time.After(ownerLockRetry):
		case <-ctx.Done():
			return "", fmt.Errorf("timed out waiting for owner fence: %w", ctx.Err())
		}
	}
}

func (s *OwnerLockService) releaseFence(userID, token string) {
	if s.redis == nil || token == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	released, err := s.redis.ReleaseLock(ctx, "engram:owner_lock:"+userID, token)
	if err != nil {
		log.Printf("⚠️ [OWNER-LOCK] Failed to release fence for user %s: %v", userID, err)
		return
	}
	if !released {
		// TTL already reclaimed it; nothing to do
		log.Printf("⚠️ [OWNER-LOCK] Fence for user %s expired before release", userID)
	}
}

// Held reports whether an owner's lock is currently taken (test hook)
func (s *OwnerLockService) Held(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[userID]
	return ok && len(lock.sem) > 0
}
