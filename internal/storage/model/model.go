// Package model defines explicit row DTOs for every table in §3 of the data
// model, replacing the duck-typed row shapes the Design Notes flag: each
// table gets one Go struct, and storage.Repo and the queue decode rows into
// these. The generic dataplane.Driver surface, RPC wire included, still
// carries rows as maps.
package model

import (
	"time"

	"github.com/memorall/core/internal/idgen"
)

// SourceType enumerates where a capture came from.
type SourceType string

const (
	SourceWebpage   SourceType = "webpage"
	SourceSelection SourceType = "selection"
	SourceUserInput SourceType = "user_input"
	SourceRawText   SourceType = "raw_text"
	SourceFileUpload SourceType = "file_upload"
)

// SourceStatus enumerates the lifecycle of an ingestion record.
type SourceStatus string

const (
	SourcePending    SourceStatus = "pending"
	SourceProcessing SourceStatus = "processing"
	SourceCompleted  SourceStatus = "completed"
	SourceFailed     SourceStatus = "failed"
)

// RememberedContent is a capture: a webpage, selection, upload, or free text.
type RememberedContent struct {
	ID                 idgen.ID
	SourceType         SourceType
	SourceURL          *string
	OriginalURL        *string
	Title              string
	RawContent         string
	CleanContent       string
	TextContent        string
	SourceMetadata     map[string]any
	ExtractionMetadata map[string]any
	TopicID            *idgen.ID
	Embedding          []float32
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Topic groups captures and scopes retrieval.
type Topic struct {
	ID          idgen.ID
	Name        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Source links a capture to the graph rows its ingestion produced.
type Source struct {
	ID              idgen.ID
	TargetType      string
	TargetID        idgen.ID
	Status          SourceStatus
	StatusValidFrom time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Node is a graph entity: person, organization, concept, location, event...
type Node struct {
	ID            idgen.ID
	Graph         string
	NodeType      string
	Name          string
	Summary       *string
	Attributes    map[string]any
	NameEmbedding []float32
	CreatedAt     time.Time
	UpdatedAt     time.Time

	// SimilarityScore is populated only by retrieval results (§4.7's
	// attributes.__score); it is never a persisted column.
	SimilarityScore float64 `json:"-"`
}

// Edge is a graph fact: a typed, temporally-scoped relationship between two
// nodes.
type Edge struct {
	ID                    idgen.ID
	Graph                 string
	SourceID              idgen.ID
	DestinationID         idgen.ID
	EdgeType              string
	FactText              *string
	ValidAt               *time.Time
	InvalidAt             *time.Time
	RecordedAt            time.Time
	IsCurrent             bool
	Attributes            map[string]any
	FactEmbedding         []float32
	TypeEmbedding         []float32
	ProvenanceWeightCache float64
	ProvenanceCountCache  int
	CreatedAt             time.Time
	UpdatedAt             time.Time

	SimilarityScore float64 `json:"-"`
}

// SourceNode is a provenance join row linking a source to a node it produced
// or re-asserted.
type SourceNode struct {
	ID        idgen.ID
	SourceID  idgen.ID
	NodeID    idgen.ID
	CreatedAt time.Time
}

// SourceEdge is a provenance join row linking a source to an edge it
// produced or re-asserted.
type SourceEdge struct {
	ID        idgen.ID
	SourceID  idgen.ID
	EdgeID    idgen.ID
	CreatedAt time.Time
}

// Configuration is a plain JSON blob keyed by a string (model server base
// URLs, feature flags).
type Configuration struct {
	Key       string
	Value     map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Encryption is a ciphertext blob keyed by a string (API keys).
type Encryption struct {
	Key         string
	Ciphertext  string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// MessageType enumerates chat message kinds.
type MessageType string

const (
	MessageText      MessageType = "text"
	MessageSeparator MessageType = "separator"
)

// MessageRole enumerates the speaker of a chat message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// Conversation is a chat history container.
type Conversation struct {
	ID        idgen.ID
	Title     string
	TopicID   *idgen.ID
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is one turn in a Conversation.
type Message struct {
	ID             idgen.ID
	ConversationID idgen.ID
	Type           MessageType
	Role           MessageRole
	Content        string
	TopicID        *idgen.ID
	Embedding      []float32
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// JobStatus enumerates the job queue state machine in §4.5.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobClaimed    JobStatus = "claimed"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobAborted    JobStatus = "aborted"
)

// Job is a persisted unit of background work.
type Job struct {
	ID                 idgen.ID
	JobType            string
	Payload            map[string]any
	Status             JobStatus
	Progress           int
	Result             map[string]any
	Error              string
	CreatedAt          time.Time
	UpdatedAt          time.Time
	VisibilityDeadline *time.Time
	AbortRequested     bool
}
