package ingestion

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/memorall/core/internal/embedding"
	"github.com/memorall/core/internal/idgen"
	"github.com/memorall/core/internal/llm"
	"github.com/memorall/core/internal/storage/model"
)

// factResolveThreshold is step 6's semantic-equivalence bound (§9).
const factResolveThreshold = 0.90

// extractFacts is stage 4: chunk the content again and ask the LLM for
// subject/object/edgeType/factText tuples, rejecting any that reference an
// entity not present in the resolved entity list.
func (p *Pipeline) extractFacts(ctx context.Context, state *State) error {
	if len(state.ResolvedEntities) == 0 {
		return nil
	}
	nameIndex := map[string]resolvedEntity{}
	var names []string
	for _, re := range state.ResolvedEntities {
		nameIndex[caseFold(re.Name)] = re
		names = append(names, re.Name)
	}

	chunks := chunkContent(state.Content, p.chunkSize)
	results := mapChunks(chunks, p.maxConcurrency, func(_ int, chunk string) ([]extractedFact, error) {
		if isChitchat(chunk) {
			return nil, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		resp, err := p.llm.ChatCompletions(ctx, llm.ChatRequest{
			Messages:    []llm.Message{{Role: "user", Content: buildFactPrompt(chunk, names)}},
			Temperature: 0,
		})
		if err != nil {
			p.logger.Warn("fact extraction call failed, chunk contributes nothing", zap.Error(err))
			return nil, nil
		}
		return parseFacts(resp, nameIndex), nil
	})

	for _, items := range results {
		state.ExtractedFacts = append(state.ExtractedFacts, items...)
	}
	return nil
}

// loadExistingFacts is stage 5: candidate edges between any pair of the
// resolved entities, to support resolution in stage 6.
func (p *Pipeline) loadExistingFacts(ctx context.Context, state *State) error {
	if len(state.ExtractedFacts) == 0 {
		return nil
	}
	ids := make([]idgen.ID, 0, len(state.ResolvedEntities))
	for _, re := range state.ResolvedEntities {
		if !re.IsNew {
			ids = append(ids, re.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	edges, err := p.repo.CandidateEdgesBetween(ctx, state.Graph, ids)
	if err != nil {
		return err
	}
	state.candidateEdges = edges
	return nil
}

// resolveFacts is stage 6: find an existing edge for each extracted fact by
// exact (source, destination, edge_type) or by semantic similarity; detect
// and resolve contradictions.
func (p *Pipeline) resolveFacts(ctx context.Context, state *State) error {
	nameIndex := map[string]resolvedEntity{}
	for _, re := range state.ResolvedEntities {
		nameIndex[caseFold(re.Name)] = re
	}

	for _, f := range state.ExtractedFacts {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		subj, ok := nameIndex[caseFold(f.Subject)]
		if !ok {
			continue
		}
		obj, ok := nameIndex[caseFold(f.Object)]
		if !ok {
			continue
		}

		rf := resolvedFact{
			extractedFact: f,
			SourceID:      subj.ID,
			DestinationID: obj.ID,
		}

		if !subj.IsNew && !obj.IsNew {
			existing, err := p.repo.FindCurrentEdge(ctx, state.Graph, subj.ID, obj.ID, f.EdgeType)
			if err != nil {
				return err
			}
			if existing != nil {
				rf.IsReassertion = true
				id := existing.ID
				rf.ReplacesID = &id
				state.ResolvedFacts = append(state.ResolvedFacts, rf)
				continue
			}
		}

		if p.emb != nil {
			if vec, err := p.emb.TextToVector(ctx, f.FactText); err == nil && vec != nil {
				rf.FactEmbedding = vec
				if match, opposing := semanticMatch(vec, f.EdgeType, subj.ID, obj.ID, state.candidateEdges); match != nil {
					id := match.ID
					rf.ReplacesID = &id
					if !opposing {
						rf.IsReassertion = true
						state.ResolvedFacts = append(state.ResolvedFacts, rf)
						continue
					}
				}
			}
			if vec, err := p.emb.TextToVector(ctx, f.EdgeType); err == nil {
				rf.TypeEmbedding = vec
			}
		}

		state.ResolvedFacts = append(state.ResolvedFacts, rf)
	}
	return nil
}

// semanticMatch looks for a candidate edge between the same pair of nodes
// (either direction) whose fact_embedding cosine similarity to vec clears
// factResolveThreshold. The LLM-judged contradiction the spec describes
// (step 6) is approximated by edge_type divergence between semantically
// close facts: a candidate with a different edge_type than the new fact is
// treated as opposing and gets invalidated rather than silently duplicated;
// a candidate with the same edge_type is a re-assertion.
func semanticMatch(vec []float32, edgeType string, sourceID, destID idgen.ID, candidates []model.Edge) (*model.Edge, bool) {
	var best *model.Edge
	bestScore := 0.0
	for i := range candidates {
		c := &candidates[i]
		if !c.IsCurrent {
			continue
		}
		samePair := (c.SourceID == sourceID && c.DestinationID == destID) ||
			(c.SourceID == destID && c.DestinationID == sourceID)
		if !samePair || c.FactEmbedding == nil {
			continue
		}
		score := embedding.CosineSimilarity(vec, c.FactEmbedding)
		if score >= factResolveThreshold && score > bestScore {
			bestScore = score
			best = c
		}
	}
	if best == nil {
		return nil, false
	}
	return best, !strings.EqualFold(best.EdgeType, edgeType)
}

func buildFactPrompt(chunk string, entityNames []string) string {
	return "Given the known entities [" + strings.Join(entityNames, ", ") + "], extract factual relationships from the " +
		"text below that only reference those entities. Respond with a JSON array only, each item shaped " +
		"{\"subject\":string,\"object\":string,\"edgeType\":string,\"factText\":string}.\n\nText:\n\"\"\"\n" +
		sanitizePromptInput(chunk) + "\n\"\"\""
}

func parseFacts(resp string, known map[string]resolvedEntity) []extractedFact {
	v, err := llm.ParseJSONFromResponse(resp)
	if err != nil || v == nil {
		return nil
	}
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []extractedFact
	for _, item := range arr {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		subj := jsonString(m, "subject")
		obj := jsonString(m, "object")
		edgeType := jsonString(m, "edgeType")
		if subj == "" || obj == "" || edgeType == "" {
			continue
		}
		if _, ok := known[caseFold(subj)]; !ok {
			continue
		}
		if _, ok := known[caseFold(obj)]; !ok {
			continue
		}
		out = append(out, extractedFact{
			Subject:  subj,
			Object:   obj,
			EdgeType: edgeType,
			FactText: jsonString(m, "factText"),
		})
	}
	return out
}

// extractTemporal is stage 7: assign valid_at from a textual cue, defaulting
// to the capture's reference timestamp. It does not set invalid_at; the only
// invalid_at written is the one commit sets on an edge a new fact replaces.
func (p *Pipeline) extractTemporal(ctx context.Context, state *State) error {
	for _, rf := range state.ResolvedFacts {
		if rf.IsReassertion {
			state.Temporalized = append(state.Temporalized, rf)
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rf.ValidAt = state.ReferenceTimestamp
		if cue := extractTemporalCue(ctx, p.llm, rf.FactText, state.ReferenceTimestamp); cue != nil {
			rf.ValidAt = *cue
		}
		state.Temporalized = append(state.Temporalized, rf)
	}
	return nil
}

// extractTemporalCue asks the LLM for an explicit date cue ("since 2019")
// relative to reference; a parse failure or "no cue" response leaves the
// default valid_at untouched.
func extractTemporalCue(ctx context.Context, svc llm.Service, factText string, reference time.Time) *time.Time {
	resp, err := svc.ChatCompletions(ctx, llm.ChatRequest{
		Messages: []llm.Message{{Role: "user", Content: buildTemporalPrompt(factText, reference)}},
		Temperature: 0,
	})
	if err != nil {
		return nil
	}
	v, err := llm.ParseJSONFromResponse(resp)
	if err != nil || v == nil {
		return nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	s := jsonString(m, "validAt")
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil
	}
	return &t
}

func buildTemporalPrompt(factText string, reference time.Time) string {
	return "Reference time: " + reference.Format(time.RFC3339) + ". If the fact below contains an explicit or relative " +
		"time cue (e.g. \"since 2019\", \"until last month\"), respond with JSON {\"validAt\":RFC3339 string}. " +
		"If there is no cue, respond with {}.\n\nFact: \"\"\"" + sanitizePromptInput(factText) + "\"\"\""
}
