// Package retrieval implements the hybrid SQL/vector/trigram fusion engine
// (§4.7), the generalization of the teacher's graph.QueryBuilder exact/ANN
// lookups into a single weighted, redistributing fusion over three sources.
package retrieval

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/memorall/core/internal/embedding"
	"github.com/memorall/core/internal/idgen"
	"github.com/memorall/core/internal/storage"
	"github.com/memorall/core/internal/storage/model"
)

// DefaultTrigramThreshold matches the literal the source scatters across its
// trigram call sites (§9 Open Questions).
const DefaultTrigramThreshold = 0.1

// Weights are the per-source shares of a fused search, normalized to sum 1
// before use.
type Weights struct {
	SQL     float64
	Vector  float64
	Trigram float64
}

func (w Weights) normalize() Weights {
	sum := w.SQL + w.Vector + w.Trigram
	if sum <= 0 {
		return Weights{SQL: 1.0 / 3, Vector: 1.0 / 3, Trigram: 1.0 / 3}
	}
	return Weights{SQL: w.SQL / sum, Vector: w.Vector / sum, Trigram: w.Trigram / sum}
}

// Query parameterizes searchNodes/searchEdges (§4.7).
type Query struct {
	Terms     []string
	Limit     int
	Weights   Weights
	Graph     *string
	Threshold float64
}

// Engine is the fusion collaborator handed to the ingestion pipeline and to
// any RPC-facing search surface.
type Engine struct {
	repo   *storage.Repo
	emb    embedding.Service
	logger *zap.Logger
}

// NewEngine builds an Engine.
func NewEngine(repo *storage.Repo, emb embedding.Service, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{repo: repo, emb: emb, logger: logger}
}

// source is one ranked pool contributing to the fused result, in the
// priority order §4.7 names: SQL, vector, trigram.
type source struct {
	name string
	ids  []idgen.ID
}

// SearchNodes implements §4.7's fusion algorithm for nodes.
func (e *Engine) SearchNodes(ctx context.Context, q Query) ([]model.Node, error) {
	if len(q.Terms) == 0 || q.Limit <= 0 {
		return nil, nil
	}

	byID := map[idgen.ID]model.Node{}

	sqlRows, err := e.repo.SQLContainsNodes(ctx, q.Terms, q.Graph, q.Limit)
	if err != nil {
		return nil, err
	}
	for _, n := range sqlRows {
		byID[n.ID] = n
	}
	sqlIDs := idsOf(sqlRows, func(n model.Node) idgen.ID { return n.ID })

	joined := strings.Join(q.Terms, " ")
	var vecIDs []idgen.ID
	if e.emb != nil {
		vec, err := e.emb.TextToVector(ctx, joined)
		if err != nil {
			return nil, err
		}
		if vec != nil {
			vecRows, err := e.repo.VectorSearchNodes(ctx, vec, q.Graph, q.Limit, q.Threshold)
			if err != nil {
				return nil, err
			}
			for _, n := range vecRows {
				if existing, ok := byID[n.ID]; !ok || n.SimilarityScore > existing.SimilarityScore {
					byID[n.ID] = n
				}
			}
			vecIDs = idsOf(vecRows, func(n model.Node) idgen.ID { return n.ID })
		}
	}

	trigramThreshold := q.Threshold
	if trigramThreshold <= 0 {
		trigramThreshold = DefaultTrigramThreshold
	}
	trigramRows, err := e.repo.TrigramSearchNodes(ctx, joined, trigramThreshold, q.Limit)
	if err != nil {
		return nil, err
	}
	for _, n := range trigramRows {
		if existing, ok := byID[n.ID]; !ok || n.SimilarityScore > existing.SimilarityScore {
			byID[n.ID] = n
		}
	}
	trigramIDs := idsOf(trigramRows, func(n model.Node) idgen.ID { return n.ID })

	sources := []source{
		{name: "sql", ids: sqlIDs},
		{name: "vector", ids: vecIDs},
		{name: "trigram", ids: trigramIDs},
	}
	fused := fuse(sources, q.Weights, q.Limit)

	out := make([]model.Node, 0, len(fused))
	for _, id := range fused {
		n := byID[id]
		if n.Attributes == nil {
			n.Attributes = map[string]any{}
		}
		n.Attributes["__score"] = n.SimilarityScore
		out = append(out, n)
	}
	return out, nil
}

// SearchEdges implements §4.7's fusion algorithm for edges.
func (e *Engine) SearchEdges(ctx context.Context, q Query) ([]model.Edge, error) {
	if len(q.Terms) == 0 || q.Limit <= 0 {
		return nil, nil
	}

	byID := map[idgen.ID]model.Edge{}

	sqlRows, err := e.repo.SQLContainsEdges(ctx, q.Terms, q.Graph, q.Limit)
	if err != nil {
		return nil, err
	}
	for _, ed := range sqlRows {
		byID[ed.ID] = ed
	}
	sqlIDs := idsOf(sqlRows, func(ed model.Edge) idgen.ID { return ed.ID })

	joined := strings.Join(q.Terms, " ")
	var vecIDs []idgen.ID
	if e.emb != nil {
		vec, err := e.emb.TextToVector(ctx, joined)
		if err != nil {
			return nil, err
		}
		if vec != nil {
			vecRows, err := e.repo.VectorSearchEdges(ctx, vec, q.Graph, q.Limit, q.Threshold)
			if err != nil {
				return nil, err
			}
			for _, ed := range vecRows {
				if existing, ok := byID[ed.ID]; !ok || ed.SimilarityScore > existing.SimilarityScore {
					byID[ed.ID] = ed
				}
			}
			vecIDs = idsOf(vecRows, func(ed model.Edge) idgen.ID { return ed.ID })
		}
	}

	trigramThreshold := q.Threshold
	if trigramThreshold <= 0 {
		trigramThreshold = DefaultTrigramThreshold
	}
	trigramRows, err := e.repo.TrigramSearchEdges(ctx, joined, trigramThreshold, q.Limit)
	if err != nil {
		return nil, err
	}
	for _, ed := range trigramRows {
		if existing, ok := byID[ed.ID]; !ok || ed.SimilarityScore > existing.SimilarityScore {
			byID[ed.ID] = ed
		}
	}
	trigramIDs := idsOf(trigramRows, func(ed model.Edge) idgen.ID { return ed.ID })

	sources := []source{
		{name: "sql", ids: sqlIDs},
		{name: "vector", ids: vecIDs},
		{name: "trigram", ids: trigramIDs},
	}
	fused := fuse(sources, q.Weights, q.Limit)

	out := make([]model.Edge, 0, len(fused))
	for _, id := range fused {
		ed := byID[id]
		if ed.Attributes == nil {
			ed.Attributes = map[string]any{}
		}
		ed.Attributes["__score"] = ed.SimilarityScore
		out = append(out, ed)
	}
	return out, nil
}

// fuse implements §4.7's fusion rule: normalize weights, redistribute the
// share of empty sources among non-empty ones, take floor(limit*w) from each
// source in priority order, dedup by id preserving first occurrence, then
// top up from any non-empty source in the same priority order until limit
// is reached or all pools are exhausted.
func fuse(sources []source, weights Weights, limit int) []idgen.ID {
	w := weights.normalize()
	shares := map[string]float64{"sql": w.SQL, "vector": w.Vector, "trigram": w.Trigram}

	nonEmpty := 0
	emptyShare := 0.0
	for _, s := range sources {
		if len(s.ids) == 0 {
			emptyShare += shares[s.name]
			shares[s.name] = 0
		} else {
			nonEmpty++
		}
	}
	if nonEmpty == 0 {
		return nil
	}
	if emptyShare > 0 {
		add := emptyShare / float64(nonEmpty)
		for _, s := range sources {
			if len(s.ids) > 0 {
				shares[s.name] += add
			}
		}
	}

	seen := map[idgen.ID]bool{}
	out := make([]idgen.ID, 0, limit)

	take := make(map[string]int, len(sources))
	for _, s := range sources {
		take[s.name] = int(float64(limit) * shares[s.name])
	}

	for _, s := range sources {
		n := take[s.name]
		for i := 0; i < n && i < len(s.ids); i++ {
			id := s.ids[i]
			if seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
		}
	}

	if len(out) < limit {
		for _, s := range sources {
			for _, id := range s.ids {
				if len(out) >= limit {
					break
				}
				if seen[id] {
					continue
				}
				seen[id] = true
				out = append(out, id)
			}
		}
	}

	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

func idsOf[T any](rows []T, id func(T) idgen.ID) []idgen.ID {
	out := make([]idgen.ID, len(rows))
	for i, r := range rows {
		out[i] = id(r)
	}
	return out
}
