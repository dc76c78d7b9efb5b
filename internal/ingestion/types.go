package ingestion

import (
	"time"

	"github.com/memorall/core/internal/idgen"
	"github.com/memorall/core/internal/storage/model"
)

// Input is the pipeline's entry state (§4.8).
type Input struct {
	Content            string
	Title              string
	URL                string
	PageID             idgen.ID
	TopicID            *idgen.ID
	ReferenceTimestamp time.Time
	SourceType         string
	Graph              string
}

// extractedEntity is one LLM-proposed entity before resolution (step 2).
type extractedEntity struct {
	Name     string
	NodeType string
	Summary  string
}

// resolvedEntity is an extractedEntity after step 3: either bound to an
// existing node id or minted a fresh one (creation deferred to commit).
type resolvedEntity struct {
	extractedEntity
	ID    idgen.ID
	IsNew bool
}

// extractedFact is one LLM-proposed relation before resolution (step 4).
type extractedFact struct {
	Subject  string
	Object   string
	EdgeType string
	FactText string
}

// resolvedFact is an extractedFact after steps 5-7: bound to resolved
// entity ids, with temporal bounds assigned and a note of whether it
// replaces a prior current edge (contradiction, step 6).
type resolvedFact struct {
	extractedFact
	SourceID      idgen.ID
	DestinationID idgen.ID
	ValidAt       time.Time
	InvalidAt     *time.Time
	IsNew         bool
	IsReassertion bool
	ReplacesID    *idgen.ID
	FactEmbedding []float32
	TypeEmbedding []float32
}

// State is the dictionary the pipeline streams to callers after every stage
// (§4.8's "streams partial states... enabling progress reporting").
type State struct {
	Input

	ExtractedEntities []extractedEntity
	ResolvedEntities  []resolvedEntity
	ExtractedFacts    []extractedFact
	ResolvedFacts     []resolvedFact
	Temporalized      []resolvedFact

	EntitiesCreated  int
	RelationsCreated int

	// candidateEdges is stage 5's output, consumed by stage 6; not part of
	// the streamed state, just pipeline working memory.
	candidateEdges []model.Edge
}

// Stats is the job `result` for a convert-to-kg job (§6).
type Stats struct {
	EntitiesCreated  int `json:"entitiesCreated"`
	RelationsCreated int `json:"relationsCreated"`
}
