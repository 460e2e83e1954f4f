package models

import (
	"time"
)

// Memory event types published on the event bus
const (
	EventMemoryIngested = "memory.ingested"
	EventMemoryArchived = "memory.archived"
	EventMemoryDeleted  = "memory.deleted"
	EventMemoryLinked   = "memory.linked"
)

// MemoryEvent is a graph mutation notification delivered to websocket
// subscribers and the Redis fan-out channel
type MemoryEvent struct {
	Type     string `json:"type"`
	UserID   string `json:"user_id"`
	MemoryID string `json:"memory_id"`

	// Short, already-truncated content preview (never the full text)
	Preview string `json:"preview,omitempty"`

	// Populated per event type
	Category     string `json:"category,omitempty"`      // memory.ingested
	SupersededID string `json:"superseded_id,omitempty"` // memory.ingested when supersession happened
	Reason       string `json:"reason,omitempty"`        // memory.archived
	RelationType string `json:"relation_type,omitempty"` // memory.linked
	TargetID     string `json:"target_id,omitempty"`     // memory.linked

	Timestamp time.Time `json:"timestamp"`
}
