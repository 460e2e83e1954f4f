package models

import (
	"time"
)

// Memory represents a single node in a user's knowledge graph
type Memory struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`

	// Memory Content
	Content     string `json:"content"`              // Memory text (decrypted form when encryption is enabled)
	ContentHash string `json:"content_hash"`         // SHA-256 hash for deduplication
	SourceURL   string `json:"source_url,omitempty"` // Where this memory was captured from (optional)

	// Classification (plaintext for querying)
	Category   string   `json:"category"`       // "fact", "event", "preference", "concept", "entity"
	Importance float64  `json:"importance"`     // Oracle-assigned importance (0.0-1.0)
	Tags       []string `json:"tags,omitempty"` // Searchable tags (e.g., "food", "music", "work")

	// Access Tracking
	AccessCount  int64      `json:"access_count"` // How many times memory was retrieved/used
	LastAccessed *time.Time `json:"last_accessed,omitempty"`

	// Lifecycle & Archival
	ExpiresAt    time.Time  `json:"expires_at"` // created_at + owner's retention window
	IsArchived   bool       `json:"is_archived"`
	ArchivedAt   *time.Time `json:"archived_at,omitempty"`
	SupersededBy *string    `json:"superseded_by,omitempty"` // Memory that contradicted and replaced this one

	// Open metadata bag (carries "outdated", "archive_reason", capture details)
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// Timestamps
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsOutdated reports whether the relationship pass flagged this memory as
// contradicted by newer information (distinct from actual archival).
func (m *Memory) IsOutdated() bool {
	if m.Metadata == nil {
		return false
	}
	v, ok := m.Metadata["outdated"].(bool)
	return ok && v
}

// ArchiveReason returns the recorded reason for archival, if any.
func (m *Memory) ArchiveReason() string {
	if m.Metadata == nil {
		return ""
	}
	s, _ := m.Metadata["archive_reason"].(string)
	return s
}

// Relationship represents a typed, directed, weighted edge between two memories
type Relationship struct {
	ID       string `json:"id"`
	SourceID string `json:"source_id"`
	TargetID string `json:"target_id"`

	Type     string  `json:"type"`     // "extends", "contradicts", "related_to", "inferred", "temporal", "causal"
	Strength float64 `json:"strength"` // Edge weight (0.0-1.0)

	CreatedAt time.Time `json:"created_at"`
}

// Entity represents a normalized named thing mentioned across a user's memories
type Entity struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`

	Type  string `json:"type"`  // "person", "place", "organization", "concept", "date", "preference"
	Value string `json:"value"` // Normalized (lowercased, trimmed) surface form

	MentionCount int64     `json:"mention_count"` // Monotonically increasing
	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
}

// EntityMention links one Entity to one Memory with the snippet it appeared in.
// Created alongside memory ingestion, never mutated.
type EntityMention struct {
	ID       string `json:"id"`
	EntityID string `json:"entity_id"`
	MemoryID string `json:"memory_id"`

	Context string `json:"context,omitempty"` // Snippet around the mention

	CreatedAt time.Time `json:"created_at"`
}

// Memory category constants
const (
	CategoryFact       = "fact"
	CategoryEvent      = "event"
	CategoryPreference = "preference"
	CategoryConcept    = "concept"
	CategoryEntity     = "entity"
)

// ValidCategories is the closed set a categorization result is checked against.
var ValidCategories = map[string]bool{
	CategoryFact:       true,
	CategoryEvent:      true,
	CategoryPreference: true,
	CategoryConcept:    true,
	CategoryEntity:     true,
}

// Relationship type constants
const (
	RelationExtends     = "extends"
	RelationContradicts = "contradicts"
	RelationRelatedTo   = "related_to"
	RelationInferred    = "inferred"
	RelationTemporal    = "temporal"
	RelationCausal      = "causal"
)

// Entity type constants
const (
	EntityPerson       = "person"
	EntityPlace        = "place"
	EntityOrganization = "organization"
	EntityConcept      = "concept"
	EntityDate         = "date"
	EntityPreference   = "preference"
)

// ValidEntityTypes is the closed set an entity-extraction result is checked against.
var ValidEntityTypes = map[string]bool{
	EntityPerson:       true,
	EntityPlace:        true,
	EntityOrganization: true,
	EntityConcept:      true,
	EntityDate:         true,
	EntityPreference:   true,
}

// Content and retention bounds
const (
	MaxMemoryContentLength = 50000 // Characters, rejected before any I/O
	DefaultRetentionDays   = 30
	MinRetentionDays       = 1
	MaxRetentionDays       = 3650
)

// Archive reason constants
const (
	ArchiveReasonSuperseded   = "superseded"
	ArchiveReasonExpired      = "expired"
	ArchiveReasonUserArchived = "user_archived"
)

// ScoredMemory pairs a memory with its query similarity for search results
type ScoredMemory struct {
	Memory     *Memory `json:"memory"`
	Similarity float64 `json:"similarity"`
}

// ConnectedMemory is a 1-hop neighbor resolved during enrichment
type ConnectedMemory struct {
	Relationship *Relationship `json:"relationship"`
	Peer         *Memory       `json:"peer"`     // The other endpoint
	Outbound     bool          `json:"outbound"` // True when the enriched memory is the edge source
}

// EnrichedMemory is a search hit expanded with its graph neighborhood
type EnrichedMemory struct {
	Memory     *Memory           `json:"memory"`
	Similarity float64           `json:"similarity"`
	Connected  []ConnectedMemory `json:"connected,omitempty"`
	Annotation string            `json:"annotation"` // Human-readable temporal/graph summary
}

// GraphSummary aggregates edge statistics over a retrieved set
type GraphSummary struct {
	MemoryCount        int `json:"memory_count"`
	RelationshipCount  int `json:"relationship_count"`
	ContradictionCount int `json:"contradiction_count"`
	ExtensionCount     int `json:"extension_count"`
}

// AnswerResult is what the QA orchestrator returns to callers
type AnswerResult struct {
	Answer       string            `json:"answer"`
	MemoriesUsed []*EnrichedMemory `json:"memories_used"`
	GraphSummary GraphSummary      `json:"graph_summary"`
}

// MemoryStats summarizes one owner's graph for the stats endpoint
type MemoryStats struct {
	TotalMemories     int64            `json:"total_memories"`
	ActiveMemories    int64            `json:"active_memories"`
	ArchivedMemories  int64            `json:"archived_memories"`
	ByCategory        map[string]int64 `json:"by_category"`
	RelationshipCount int64            `json:"relationship_count"`
	EntityCount       int64            `json:"entity_count"`
	OldestMemory      *time.Time       `json:"oldest_memory,omitempty"`
	NewestMemory      *time.Time       `json:"newest_memory,omitempty"`
}

// CategorizationResult is the structured output of the categorization oracle
type CategorizationResult struct {
	Category   string   `json:"category"`
	Importance float64  `json:"importance"`
	Tags       []string `json:"tags"`
}

// ExtractedEntity is one item of the entity-extraction oracle's structured output
type ExtractedEntity struct {
	Type    string `json:"type"`
	Value   string `json:"value"`
	Context string `json:"context"`
}

// ContradictionVerdict is the structured output of a conflict classification
type ContradictionVerdict struct {
	Contradicts bool    `json:"contradicts"`
	Confidence  float64 `json:"confidence"`
	Reason      string  `json:"reason"`
}
