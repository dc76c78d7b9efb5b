package ingestion

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/memorall/core/internal/errkind"
	"github.com/memorall/core/internal/idgen"
	"github.com/memorall/core/internal/llm"
	"github.com/memorall/core/internal/retrieval"
)

// entityResolveThreshold is the combined-score acceptance bound for step 3
// (§9: reproduced from the source, may need tuning per corpus).
const entityResolveThreshold = 0.85

// extractEntities is stage 2: chunk the content, ask the LLM for entities
// per chunk, and merge by case-folded name.
func (p *Pipeline) extractEntities(ctx context.Context, state *State) error {
	chunks := chunkContent(state.Content, p.chunkSize)
	if len(chunks) == 0 {
		return nil
	}

	results := mapChunks(chunks, p.maxConcurrency, func(_ int, chunk string) ([]extractedEntity, error) {
		if isChitchat(chunk) {
			return nil, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		resp, err := p.llm.ChatCompletions(ctx, llm.ChatRequest{
			Messages:    []llm.Message{{Role: "user", Content: buildEntityPrompt(chunk)}},
			Temperature: 0,
		})
		if err != nil {
			p.logger.Warn("entity extraction call failed, chunk contributes nothing", zap.Error(err))
			return nil, nil
		}
		return parseEntities(resp), nil
	})

	merged := map[string]extractedEntity{}
	var order []string
	for _, items := range results {
		for _, e := range items {
			key := caseFold(e.Name)
			if _, ok := merged[key]; !ok {
				order = append(order, key)
			}
			merged[key] = e
		}
	}
	for _, key := range order {
		state.ExtractedEntities = append(state.ExtractedEntities, merged[key])
	}

	if len(state.ExtractedEntities) == 0 && strings.TrimSpace(state.Content) != "" && !isChitchat(state.Content) {
		return errkind.New(errkind.EmptyExtraction, "no entities survived extraction for non-empty content")
	}
	return nil
}

// resolveEntities is stage 3: match each extracted entity by an exact
// (graph, case-insensitive name, node_type) lookup, then by a fresh
// SQL+vector+trigram search scoped to the graph. Stage 1 keeps no candidate
// pool, so none is consulted here.
func (p *Pipeline) resolveEntities(ctx context.Context, state *State) error {
	for _, e := range state.ExtractedEntities {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if existing, err := p.repo.FindNodeByNameType(ctx, state.Graph, e.Name, e.NodeType); err != nil {
			return err
		} else if existing != nil {
			state.ResolvedEntities = append(state.ResolvedEntities, resolvedEntity{extractedEntity: e, ID: existing.ID})
			continue
		}

		candidates, err := p.retrieval.SearchNodes(ctx, retrieval.Query{
			Terms:   searchTerms(e.Name),
			Limit:   5,
			Weights: retrieval.Weights{SQL: 0.5, Vector: 0.3, Trigram: 0.2},
			Graph:   &state.Graph,
		})
		if err != nil {
			return err
		}

		var bestID idgen.ID
		bestScore := -1.0
		found := false
		for _, c := range candidates {
			if c.NodeType != e.NodeType {
				continue
			}
			if c.SimilarityScore > bestScore {
				bestScore = c.SimilarityScore
				bestID = c.ID
				found = true
			}
		}

		if found && bestScore >= entityResolveThreshold {
			state.ResolvedEntities = append(state.ResolvedEntities, resolvedEntity{extractedEntity: e, ID: bestID})
			continue
		}

		state.ResolvedEntities = append(state.ResolvedEntities, resolvedEntity{
			extractedEntity: e,
			ID:              idgen.New(),
			IsNew:           true,
		})
	}
	return nil
}

func buildEntityPrompt(chunk string) string {
	return "Extract named entities (people, organizations, locations, concepts, events) from the text below. " +
		"Respond with a JSON array only, each item shaped {\"name\":string,\"nodeType\":string,\"summary\":string}.\n\n" +
		"Text:\n\"\"\"\n" + sanitizePromptInput(chunk) + "\n\"\"\""
}

func parseEntities(resp string) []extractedEntity {
	v, err := llm.ParseJSONFromResponse(resp)
	if err != nil || v == nil {
		return nil
	}
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []extractedEntity
	for _, item := range arr {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		name := jsonString(m, "name")
		if name == "" {
			continue
		}
		out = append(out, extractedEntity{
			Name:     name,
			NodeType: defaultString(jsonString(m, "nodeType"), "concept"),
			Summary:  jsonString(m, "summary"),
		})
	}
	return out
}

func jsonString(m map[string]any, key string) string {
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func defaultString(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
