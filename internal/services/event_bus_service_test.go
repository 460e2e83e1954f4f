package services

import (
	"fmt"
	"testing"
	"time"

	"engram/internal/models"
)

func ingestedEvent(userID, memoryID string) models.MemoryEvent {
	return models.MemoryEvent{
		Type:      models.EventMemoryIngested,
		UserID:    userID,
		MemoryID:  memoryID,
		Timestamp: time.Now().UTC(),
	}
}

// TestEventBus_DeliverToSubscriber routes a published event to the owner's
// live channel
func TestEventBus_DeliverToSubscriber(t *testing.T) {
	bus := NewEventBusService()

	ch := bus.Subscribe("alice", "conn-1", 8)
	if bus.SubscriberCount("alice") != 1 {
		t.Fatalf("SubscriberCount = %d, want 1", bus.SubscriberCount("alice"))
	}

	bus.Publish("alice", ingestedEvent("alice", "m1"))

	select {
	case got := <-ch:
		if got.MemoryID != "m1" || got.Type != models.EventMemoryIngested {
			t.Errorf("received = %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("event never delivered")
	}

	// Delivered events are not buffered too
	if n := bus.PendingCount("alice"); n != 0 {
		t.Errorf("PendingCount = %d after live delivery, want 0", n)
	}
}

// TestEventBus_BuffersImportantEventsOffline holds ingest/archive/delete
// events for a disconnected owner and drops the chatty ones
func TestEventBus_BuffersImportantEventsOffline(t *testing.T) {
	bus := NewEventBusService()

	bus.Publish("alice", ingestedEvent("alice", "m1"))
	bus.Publish("alice", models.MemoryEvent{Type: models.EventMemoryArchived, UserID: "alice", MemoryID: "m2"})
	bus.Publish("alice", models.MemoryEvent{Type: models.EventMemoryLinked, UserID: "alice", MemoryID: "m3"})

	if n := bus.PendingCount("alice"); n != 2 {
		t.Fatalf("PendingCount = %d, want 2 (linked events not buffered)", n)
	}

	drained := bus.DrainPending("alice")
	if len(drained) != 2 {
		t.Fatalf("drained = %d, want 2", len(drained))
	}
	if drained[0].MemoryID != "m1" || drained[1].MemoryID != "m2" {
		t.Errorf("drained order = %s, %s", drained[0].MemoryID, drained[1].MemoryID)
	}

	// Draining clears the buffer
	if n := bus.PendingCount("alice"); n != 0 {
		t.Errorf("PendingCount = %d after drain, want 0", n)
	}
	if again := bus.DrainPending("alice"); len(again) != 0 {
		t.Errorf("second drain returned %d events", len(again))
	}
}

// TestEventBus_BufferCapKeepsNewest bounds the offline buffer and discards
// the oldest overflow
func TestEventBus_BufferCapKeepsNewest(t *testing.T) {
	bus := NewEventBusService()

	total := maxPendingEvents + 10
	for i := 0; i < total; i++ {
		bus.Publish("alice", ingestedEvent("alice", fmt.Sprintf("m%d", i)))
	}

	if n := bus.PendingCount("alice"); n != maxPendingEvents {
		t.Fatalf("PendingCount = %d, want %d", n, maxPendingEvents)
	}

	drained := bus.DrainPending("alice")
	if drained[0].MemoryID != "m10" {
		t.Errorf("oldest kept = %s, want m10 (first ten dropped)", drained[0].MemoryID)
	}
	if last := drained[len(drained)-1]; last.MemoryID != fmt.Sprintf("m%d", total-1) {
		t.Errorf("newest kept = %s, want m%d", last.MemoryID, total-1)
	}
}

// TestEventBus_FullSubscriberFallsBackToBuffer never blocks a publisher on a
// slow client; undeliverable important events land in the buffer
func TestEventBus_FullSubscriberFallsBackToBuffer(t *testing.T) {
	bus := NewEventBusService()

	// Unbuffered channel with no reader: every send would block
	bus.Subscribe("alice", "stalled", 0)

	done := make(chan struct{})
	go func() {
		bus.Publish("alice", ingestedEvent("alice", "m1"))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a stalled subscriber")
	}

	if n := bus.PendingCount("alice"); n != 1 {
		t.Errorf("PendingCount = %d, want 1 (undeliverable event buffered)", n)
	}
}

// TestEventBus_Unsubscribe detaches a connection and resumes buffering
func TestEventBus_Unsubscribe(t *testing.T) {
	bus := NewEventBusService()

	bus.Subscribe("alice", "conn-1", 8)
	bus.Unsubscribe("alice", "conn-1")
	if n := bus.SubscriberCount("alice"); n != 0 {
		t.Fatalf("SubscriberCount = %d after unsubscribe, want 0", n)
	}

	bus.Publish("alice", ingestedEvent("alice", "m1"))
	if n := bus.PendingCount("alice"); n != 1 {
		t.Errorf("PendingCount = %d, want 1 after subscriber left", n)
	}
}

// TestEventBus_PerUserIsolation keeps events inside their owner's scope
func TestEventBus_PerUserIsolation(t *testing.T) {
	bus := NewEventBusService()

	aliceCh := bus.Subscribe("alice", "conn-1", 8)
	bus.Publish("bob", ingestedEvent("bob", "m1"))

	select {
	case got := <-aliceCh:
		t.Errorf("alice received bob's event: %+v", got)
	case <-time.After(50 * time.Millisecond):
	}

	if n := bus.PendingCount("alice"); n != 0 {
		t.Errorf("alice's PendingCount = %d", n)
	}
	if n := bus.PendingCount("bob"); n != 1 {
		t.Errorf("bob's PendingCount = %d, want 1", n)
	}

	if total := bus.TotalSubscribers(); total != 1 {
		t.Errorf("TotalSubscribers = %d, want 1", total)
	}
}

// TestEventBus_BroadcastHook hands every locally published event to the
// cross-instance hook, while PublishLocal skips it
func TestEventBus_BroadcastHook(t *testing.T) {
	bus := NewEventBusService()

	var forwarded []models.MemoryEvent
	bus.SetBroadcast(func(e models.MemoryEvent) {
		forwarded = append(forwarded, e)
	})

	bus.Publish("alice", ingestedEvent("alice", "m1"))
	if len(forwarded) != 1 || forwarded[0].MemoryID != "m1" {
		t.Errorf("forwarded = %+v, want the published event", forwarded)
	}

	// Events arriving from another instance must not echo back out
	bus.PublishLocal("alice", ingestedEvent("alice", "m2"))
	if len(forwarded) != 1 {
		t.Errorf("PublishLocal leaked to the broadcast hook: %d events", len(forwarded))
	}
}
