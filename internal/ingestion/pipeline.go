// Package ingestion implements the knowledge-graph ingestion pipeline (§4.8)
// and the queue handlers that drive it, the generalization of the teacher's
// ai/services extraction/synthesis collaborators into a staged, resumable
// pipeline over a relational graph instead of a single LLM round trip.
package ingestion

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/memorall/core/internal/embedding"
	"github.com/memorall/core/internal/errkind"
	"github.com/memorall/core/internal/idgen"
	"github.com/memorall/core/internal/llm"
	"github.com/memorall/core/internal/retrieval"
	"github.com/memorall/core/internal/storage"
	"github.com/memorall/core/internal/storage/model"
)

// candidateLimit bounds step 1's candidate search (§4.8 "up to K
// candidate nodes").
const candidateLimit = 25

// ProgressFunc reports a stage's name and the pipeline's 0..100 completion
// after it (§4.5's progress contract).
type ProgressFunc func(ctx context.Context, step string, percent int, state *State) error

// CancelledFunc reports whether the caller requested cancellation. Run checks
// it before each stage; inside a stage only ctx is checked (§4.8).
type CancelledFunc func() bool

// Pipeline runs the eight-stage knowledge-graph ingestion over one capture.
type Pipeline struct {
	repo      *storage.Repo
	emb       embedding.Service
	llm       llm.Service
	retrieval *retrieval.Engine
	logger    *zap.Logger

	chunkSize      int
	maxConcurrency int
}

// NewPipeline builds a Pipeline with the spec's default chunking parameters.
func NewPipeline(repo *storage.Repo, emb embedding.Service, llmSvc llm.Service, retrievalEngine *retrieval.Engine, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		repo:           repo,
		emb:            emb,
		llm:            llmSvc,
		retrieval:      retrievalEngine,
		logger:         logger,
		chunkSize:      defaultChunkSize,
		maxConcurrency: defaultMaxConcurrency,
	}
}

var stageOrder = []string{
	"load_existing_entities",
	"extract_entities",
	"resolve_entities",
	"extract_facts",
	"load_existing_facts",
	"resolve_facts",
	"extract_temporal",
	"commit",
}

// Run drives all eight stages in order, streaming progress after each one,
// and returns the commit stats (entities and relations created); the final
// State is not returned.
func (p *Pipeline) Run(ctx context.Context, in Input, cancelled CancelledFunc, progress ProgressFunc) (*Stats, error) {
	if in.Graph == "" {
		in.Graph = "default"
	}
	if in.ReferenceTimestamp.IsZero() {
		in.ReferenceTimestamp = time.Now().UTC()
	}
	state := &State{Input: in}

	stages := []func(context.Context, *State) error{
		p.loadExistingEntities,
		p.extractEntities,
		p.resolveEntities,
		p.extractFacts,
		p.loadExistingFacts,
		p.resolveFacts,
		p.extractTemporal,
		p.commit,
	}

	for i, stage := range stages {
		if cancelled != nil && cancelled() {
			return nil, errkind.New(errkind.Cancelled, "ingestion cancelled at "+stageOrder[i])
		}
		if ctx.Err() != nil {
			return nil, errkind.Wrap(errkind.Cancelled, "ingestion cancelled at "+stageOrder[i], ctx.Err())
		}
		if err := stage(ctx, state); err != nil {
			return nil, err
		}
		pct := int(math.Round(float64(i+1) / float64(len(stages)) * 100))
		if progress != nil {
			if err := progress(ctx, stageOrder[i], pct, state); err != nil {
				return nil, err
			}
		}
	}

	return &Stats{EntitiesCreated: state.EntitiesCreated, RelationsCreated: state.RelationsCreated}, nil
}

// loadExistingEntities is stage 1: search up to candidateLimit nodes likely
// relevant to this capture via the retrieval engine, scoped to the graph
// only. The topic is not used: node rows have no topic column and the
// search terms are the title and the head of the content.
func (p *Pipeline) loadExistingEntities(ctx context.Context, state *State) error {
	terms := searchTerms(state.Title, headOf(state.Content, 500))
	if len(terms) == 0 {
		return nil
	}
	_, err := p.retrieval.SearchNodes(ctx, retrieval.Query{
		Terms:   terms,
		Limit:   candidateLimit,
		Weights: retrieval.Weights{SQL: 0.5, Vector: 0.3, Trigram: 0.2},
		Graph:   &state.Graph,
	})
	if err != nil {
		return err
	}
	// The result is discarded and nothing is written to State:
	// resolveEntities runs its own name-scoped search per entity instead of
	// drawing on candidates found here.
	return nil
}

// commit is stage 8: insert everything resolved above in one transaction.
func (p *Pipeline) commit(ctx context.Context, state *State) error {
	tx, err := p.repo.BeginTx(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	source, err := p.repo.GetSourceByTarget(ctx, "remembered_content", state.PageID)
	if err != nil {
		return errkind.Wrap(errkind.CommitFailed, "load source row", err)
	}

	idsByName := make(map[string]idgen.ID, len(state.ResolvedEntities))
	for i := range state.ResolvedEntities {
		re := &state.ResolvedEntities[i]
		idsByName[foldKey(re.Name, re.NodeType)] = re.ID

		if !re.IsNew {
			continue
		}
		var nameEmb []float32
		if p.emb != nil {
			if v, err := p.emb.TextToVector(ctx, re.Name); err == nil {
				nameEmb = v
			}
		}
		var summary *string
		if re.Summary != "" {
			s := re.Summary
			summary = &s
		}
		id, err := p.repo.InsertNode(ctx, tx, &model.Node{
			Graph:         state.Graph,
			NodeType:      re.NodeType,
			Name:          re.Name,
			Summary:       summary,
			Attributes:    map[string]any{},
			NameEmbedding: nameEmb,
		})
		if err != nil {
			return errkind.Wrap(errkind.CommitFailed, "insert node", err)
		}
		re.ID = id
		idsByName[foldKey(re.Name, re.NodeType)] = id
		state.EntitiesCreated++

		if err := p.repo.InsertSourceNode(ctx, tx, source.ID, id); err != nil {
			return errkind.Wrap(errkind.CommitFailed, "insert source_node", err)
		}
	}

	for i := range state.Temporalized {
		rf := &state.Temporalized[i]

		if rf.IsReassertion {
			if rf.ReplacesID != nil {
				if err := p.repo.BumpProvenance(ctx, tx, *rf.ReplacesID); err != nil {
					return errkind.Wrap(errkind.CommitFailed, "bump provenance", err)
				}
				if err := p.repo.InsertSourceEdge(ctx, tx, source.ID, *rf.ReplacesID); err != nil {
					return errkind.Wrap(errkind.CommitFailed, "insert source_edge", err)
				}
			}
			continue
		}

		if rf.ReplacesID != nil {
			if err := p.repo.InvalidateEdge(ctx, tx, *rf.ReplacesID, state.ReferenceTimestamp); err != nil {
				return errkind.Wrap(errkind.CommitFailed, "invalidate edge", err)
			}
		}

		factText := rf.FactText
		edgeID, err := p.repo.InsertEdge(ctx, tx, &model.Edge{
			Graph:                 state.Graph,
			SourceID:              rf.SourceID,
			DestinationID:         rf.DestinationID,
			EdgeType:              rf.EdgeType,
			FactText:              &factText,
			ValidAt:               &rf.ValidAt,
			InvalidAt:             rf.InvalidAt,
			IsCurrent:             true,
			Attributes:            map[string]any{},
			FactEmbedding:         rf.FactEmbedding,
			TypeEmbedding:         rf.TypeEmbedding,
			ProvenanceWeightCache: provenanceWeight(1),
			ProvenanceCountCache:  1,
		})
		if err != nil {
			return errkind.Wrap(errkind.CommitFailed, "insert edge", err)
		}
		state.RelationsCreated++

		if err := p.repo.InsertSourceEdge(ctx, tx, source.ID, edgeID); err != nil {
			return errkind.Wrap(errkind.CommitFailed, "insert source_edge", err)
		}
	}

	if err := p.repo.SetSourceStatusTx(ctx, tx, source.ID, model.SourceCompleted); err != nil {
		return errkind.Wrap(errkind.CommitFailed, "set source completed", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return errkind.Wrap(errkind.CommitFailed, "commit transaction", err)
	}
	return nil
}

func foldKey(name, nodeType string) string {
	return fmt.Sprintf("%s\x00%s", caseFold(name), caseFold(nodeType))
}
