package services

import (
	"log"
	"sync"

	"engram/internal/models"
)

// maxPendingEvents caps the per-user buffer of important events held while
// the user has no live subscriber (between disconnect and reconnect)
const maxPendingEvents = 50

// importantEventTypes are worth buffering for offline users. High-volume
// edge events are not; a reconnecting client reloads the graph anyway.
var importantEventTypes = map[string]bool{
	models.EventMemoryIngested: true,
	models.EventMemoryArchived: true,
	models.EventMemoryDeleted:  true,
}

// EventBusService is an in-memory pub/sub for memory lifecycle events,
// scoped per user. Ingestion and lifecycle publish here; any connected
// WebSocket client subscribes. Important events are buffered per-user while
// nobody is connected and drained on reconnect.
type EventBusService struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan models.MemoryEvent // userID → subID → chan
	pending     map[string][]models.MemoryEvent

	// Optional cross-instance fan-out, wired by the pub/sub bridge
	broadcast func(models.MemoryEvent)
}

// NewEventBusService creates a new event bus
func NewEventBusService() *EventBusService {
	return &EventBusService{
		subscribers: make(map[string]map[string]chan models.MemoryEvent),
		pending:     make(map[string][]models.MemoryEvent),
	}
}

// Subscribe creates a new event channel for a user. Pending events are NOT
// auto-drained; call DrainPending separately so the WebSocket handler can
// frame them as a catch-up message.
func (b *EventBusService) Subscribe(userID, subID string, bufSize int) <-chan models.MemoryEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan models.MemoryEvent, bufSize)
	if _, ok := b.subscribers[userID]; !ok {
		b.subscribers[userID] = make(map[string]chan models.MemoryEvent)
	}
	b.subscribers[userID][subID] = ch

	log.Printf("[EVENT-BUS] Subscribe: user=%s sub=%s (total=%d)", userID, subID, len(b.subscribers[userID]))
	return ch
}

// Unsubscribe removes a subscription. The channel is not closed; the
// subscriber's goroutine exits via its own done signal.
func (b *EventBusService) Unsubscribe(userID, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if conns, ok := b.subscribers[userID]; ok {
		delete(conns, subID)
		if len(conns) == 0 {
			delete(b.subscribers, userID)
		}
		log.Printf("[EVENT-BUS] Unsubscribe: user=%s sub=%s (remaining=%d)", userID, subID, len(conns))
	}
}

// DrainPending returns and clears the buffered events for a user
func (b *EventBusService) DrainPending(userID string) []models.MemoryEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	events := b.pending[userID]
	delete(b.pending, userID)

	if len(events) > 0 {
		log.Printf("[EVENT-BUS] Drained %d pending events for user %s", len(events), userID)
	}
	return events
}

// SetBroadcast wires cross-instance fan-out. Every locally published event
// is also handed to the hook; events arriving FROM other instances go
// through PublishLocal instead, which skips it.
func (b *EventBusService) SetBroadcast(fn func(models.MemoryEvent)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.broadcast = fn
}

// Publish delivers an event locally and offers it to the cross-instance
// broadcast hook when one is wired
func (b *EventBusService) Publish(userID string, event models.MemoryEvent) {
	b.PublishLocal(userID, event)

	b.mu.RLock()
	broadcast := b.broadcast
	b.mu.RUnlock()
	if broadcast != nil {
		broadcast(event)
	}
}

// PublishLocal sends an event to all of a user's subscribers without
// blocking; a full subscriber is skipped. With no subscribers connected,
// important events are buffered for reconnect.
func (b *EventBusService) PublishLocal(userID string, event models.MemoryEvent) {
	b.mu.RLock()
	conns, hasSubscribers := b.subscribers[userID]

	if hasSubscribers && len(conns) > 0 {
		delivered := false
		for _, ch := range conns {
			select {
			case ch <- event:
				delivered = true
			default:
			}
		}
		b.mu.RUnlock()

		if !delivered && importantEventTypes[event.Type] {
			b.bufferEvent(userID, event)
		}
		return
	}
	b.mu.RUnlock()

	if importantEventTypes[event.Type] {
		b.bufferEvent(userID, event)
	}
}

func (b *EventBusService) bufferEvent(userID string, event models.MemoryEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending[userID] = append(b.pending[userID], event)
	if len(b.pending[userID]) > maxPendingEvents {
		b.pending[userID] = b.pending[userID][len(b.pending[userID])-maxPendingEvents:]
	}
}

// SubscriberCount returns the number of active subscribers for a user
func (b *EventBusService) SubscriberCount(userID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.subscribers[userID])
}

// PendingCount returns the number of buffered events for a user
func (b *EventBusService) PendingCount(userID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.pending[userID])
}

// TotalSubscribers returns the number of active subscribers across all users
func (b *EventBusService) TotalSubscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := 0
	for _, subs := range b.subscribers {
		total += len(subs)
	}
	return total
}
