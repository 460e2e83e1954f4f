package services

import (
	"context"
	"testing"
	"time"
)

// TestOwnerLock_SerializesSameOwner blocks a second acquisition until the
// first holder releases
func TestOwnerLock_SerializesSameOwner(t *testing.T) {
	locks := NewOwnerLockService(nil)
	ctx := context.Background()

	release, err := locks.Lock(ctx, "alice")
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	if !locks.Held("alice") {
		t.Fatal("Held() = false while locked")
	}

	acquired := make(chan struct{})
	go func() {
		second, err := locks.Lock(ctx, "alice")
		if err != nil {
			t.Errorf("second Lock() error = %v", err)
			close(acquired)
			return
		}
		close(acquired)
		second()
	}()

	select {
	case <-acquired:
		t.Fatal("second Lock() acquired while the first was held")
	case <-time.After(50 * time.Millisecond):
	}

	release()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second Lock() never acquired after release")
	}
}

// TestOwnerLock_OwnersProceedInParallel never blocks one owner on another's
// lock
func TestOwnerLock_OwnersProceedInParallel(t *testing.T) {
	locks := NewOwnerLockService(nil)
	ctx := context.Background()

	releaseAlice, err := locks.Lock(ctx, "alice")
	if err != nil {
		t.Fatalf("Lock(alice) error = %v", err)
	}
	defer releaseAlice()

	bobCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	releaseBob, err := locks.Lock(bobCtx, "bob")
	if err != nil {
		t.Fatalf("Lock(bob) blocked on alice's lock: %v", err)
	}
	releaseBob()
}

// TestOwnerLock_ContextTimeout gives up waiting when the context expires
func TestOwnerLock_ContextTimeout(t *testing.T) {
	locks := NewOwnerLockService(nil)

	release, err := locks.Lock(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := locks.Lock(ctx, "alice"); err == nil {
		t.Fatal("Lock() succeeded despite the held lock and expired context")
	}
}

// TestOwnerLock_ReleaseIdempotent tolerates a double release without
// corrupting the semaphore
func TestOwnerLock_ReleaseIdempotent(t *testing.T) {
	locks := NewOwnerLockService(nil)
	ctx := context.Background()

	release, err := locks.Lock(ctx, "alice")
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	release()
	release()

	if locks.Held("alice") {
		t.Error("Held() = true after release")
	}

	// Still acquirable afterwards
	again, err := locks.Lock(ctx, "alice")
	if err != nil {
		t.Fatalf("re-Lock() error = %v", err)
	}
	again()
}

// TestOwnerLock_EntryCleanup frees the per-owner entry once nobody holds or
// waits on it
func TestOwnerLock_EntryCleanup(t *testing.T) {
	locks := NewOwnerLockService(nil)

	release, err := locks.Lock(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	release()

	locks.mu.Lock()
	remaining := len(locks.locks)
	locks.mu.Unlock()
	if remaining != 0 {
		t.Errorf("lock table has %d stale entries", remaining)
	}
}

// TestOwnerLock_RequiresUserID rejects the empty owner
func TestOwnerLock_RequiresUserID(t *testing.T) {
	locks := NewOwnerLockService(nil)
	if _, err := locks.Lock(context.Background(), ""); err == nil {
		t.Fatal("Lock(\"\") succeeded")
	}
}
