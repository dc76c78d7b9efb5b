package ingestion

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/memorall/core/internal/crypto"
	"github.com/memorall/core/internal/errkind"
	"github.com/memorall/core/internal/idgen"
	"github.com/memorall/core/internal/llm"
	"github.com/memorall/core/internal/queue"
	"github.com/memorall/core/internal/retrieval"
	"github.com/memorall/core/internal/storage"
	"github.com/memorall/core/internal/storage/model"
)

// secretLLMRunnerKey is the encryption table key an operator uses to store
// an LLM runner API key out of band (§4.1's MEMORALL_LLM_RUNNER_URL
// collaborator boundary never sees it directly).
const secretLLMRunnerKey = "llm_runner_api_key"

// Job type names are the stable identifiers §6 fixes as the observable
// contract; callers across transports depend on these exact strings.
const (
	JobRememberSave         = "remember-save"
	JobConvertToKG          = "convert-to-kg"
	JobChat                 = "chat"
	JobRestoreLocalServices = "restore-local-services"
)

// RegisterHandlers wires the job-type registry (§6) onto q, closing each
// handler over the collaborators it needs — keeping queue itself free of any
// dependency on storage/embedding/llm/ingestion.
func RegisterHandlers(q *queue.Queue, store *storage.Store, repo *storage.Repo, pipeline *Pipeline, secrets *crypto.Box, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}

	q.RegisterHandler(JobRememberSave, rememberSaveHandler(repo))
	q.RegisterHandler(JobConvertToKG, convertToKGHandler(repo, pipeline, logger))
	q.RegisterHandler(JobChat, chatHandler(pipeline, logger))
	q.RegisterHandler(JobRestoreLocalServices, restoreLocalServicesHandler(repo, pipeline, secrets, logger))
}

func rememberSaveHandler(repo *storage.Repo) queue.HandlerFunc {
	return func(ctx context.Context, job *model.Job, deps queue.Deps) (map[string]any, error) {
		p := job.Payload

		var topicID *idgen.ID
		if s := jsonString(p, "topicId"); s != "" {
			if id, err := idgen.Parse(s); err == nil {
				topicID = &id
			}
		}
		var sourceURL, originalURL *string
		if s := jsonString(p, "sourceUrl"); s != "" {
			sourceURL = &s
			originalURL = &s
		}

		content := &model.RememberedContent{
			SourceType:         model.SourceType(defaultString(jsonString(p, "sourceType"), string(model.SourceRawText))),
			SourceURL:          sourceURL,
			OriginalURL:        originalURL,
			Title:              jsonString(p, "title"),
			RawContent:         jsonString(p, "rawContent"),
			CleanContent:       jsonString(p, "cleanContent"),
			TextContent:        jsonString(p, "textContent"),
			SourceMetadata:     jsonObject(p, "sourceMetadata"),
			ExtractionMetadata: jsonObject(p, "extractionMetadata"),
			TopicID:            topicID,
		}

		id, err := repo.InsertRememberedContent(ctx, content)
		if err != nil {
			return nil, err
		}
		if _, err := repo.InsertSource(ctx, "remembered_content", id); err != nil {
			return nil, err
		}
		if err := deps.Progress(ctx, 100, map[string]any{"contentId": id.String()}); err != nil {
			return nil, err
		}
		return map[string]any{"contentId": id.String()}, nil
	}
}

func convertToKGHandler(repo *storage.Repo, pipeline *Pipeline, logger *zap.Logger) queue.HandlerFunc {
	return func(ctx context.Context, job *model.Job, deps queue.Deps) (map[string]any, error) {
		contentIDStr := jsonString(job.Payload, "contentId")
		contentID, err := idgen.Parse(contentIDStr)
		if err != nil {
			return nil, errkind.Wrap(errkind.QueryError, "invalid contentId", err)
		}

		content, err := repo.GetRememberedContent(ctx, contentID)
		if err != nil {
			return nil, err
		}
		source, err := repo.GetSourceByTarget(ctx, "remembered_content", contentID)
		if err != nil {
			return nil, err
		}
		if err := repo.SetSourceStatus(ctx, source.ID, model.SourceProcessing); err != nil {
			return nil, err
		}

		graph := "default"
		in := Input{
			Content:            content.TextContent,
			Title:              content.Title,
			PageID:             contentID,
			TopicID:            content.TopicID,
			ReferenceTimestamp: time.Now().UTC(),
			SourceType:         string(content.SourceType),
			Graph:              graph,
		}
		if content.SourceURL != nil {
			in.URL = *content.SourceURL
		}

		stats, err := pipeline.Run(ctx, in, deps.Cancelled, func(ctx context.Context, step string, pct int, state *State) error {
			return deps.Progress(ctx, pct, map[string]any{"step": step})
		})
		if err != nil {
			if setErr := repo.SetSourceStatus(ctx, source.ID, model.SourceFailed); setErr != nil {
				logger.Warn("failed to mark source failed after pipeline error", zap.Error(setErr))
			}
			return nil, err
		}

		return map[string]any{
			"entitiesCreated":  stats.EntitiesCreated,
			"relationsCreated": stats.RelationsCreated,
		}, nil
	}
}

func chatHandler(pipeline *Pipeline, logger *zap.Logger) queue.HandlerFunc {
	return func(ctx context.Context, job *model.Job, deps queue.Deps) (map[string]any, error) {
		if pipeline.llm == nil {
			return nil, errkind.New(errkind.ModelUnavailable, "no llm service configured")
		}

		messages := chatMessages(job.Payload)
		mode := defaultString(jsonString(job.Payload, "mode"), "normal")

		if mode == "knowledge" {
			if q := jsonString(job.Payload, "query"); q != "" && pipeline.retrieval != nil {
				graph := "default"
				nodes, err := pipeline.retrieval.SearchNodes(ctx, retrieval.Query{
					Terms:   searchTerms(q),
					Limit:   8,
					Weights: retrieval.Weights{SQL: 0.5, Vector: 0.3, Trigram: 0.2},
					Graph:   &graph,
				})
				if err == nil && len(nodes) > 0 {
					var b strings.Builder
					b.WriteString("Known context:\n")
					for _, n := range nodes {
						b.WriteString("- " + n.Name + " (" + n.NodeType + ")\n")
					}
					messages = append([]llm.Message{{Role: "system", Content: b.String()}}, messages...)
				}
			}
		}

		modelName := jsonString(job.Payload, "model")
		chunks, err := pipeline.llm.StreamChatCompletions(ctx, llm.ChatRequest{Model: modelName, Messages: messages, Temperature: 0.7})
		if err != nil {
			return nil, err
		}

		var full strings.Builder
		pct := 0
		for chunk := range chunks {
			if deps.Cancelled() {
				return nil, errkind.New(errkind.Cancelled, "chat cancelled")
			}
			if chunk.Done {
				break
			}
			full.WriteString(chunk.Content)
			if pct < 90 {
				pct += 5
			}
			if err := deps.Progress(ctx, pct, map[string]any{"type": "chunk", "content": chunk.Content}); err != nil {
				return nil, err
			}
		}

		result := map[string]any{"type": "final", "content": full.String()}
		if err := deps.Progress(ctx, 100, result); err != nil {
			return nil, err
		}
		return result, nil
	}
}

func restoreLocalServicesHandler(repo *storage.Repo, pipeline *Pipeline, secrets *crypto.Box, logger *zap.Logger) queue.HandlerFunc {
	return func(ctx context.Context, job *model.Job, deps queue.Deps) (map[string]any, error) {
		configs := map[string]any{}
		if pipeline.llm != nil {
			if models, err := pipeline.llm.Models(ctx); err == nil {
				configs["llmModels"] = models
			} else {
				logger.Warn("restore-local-services: llm.Models failed", zap.Error(err))
			}
		}
		if pipeline.emb != nil {
			configs["embeddingReady"] = pipeline.emb.IsReady()
		}
		if secrets != nil {
			key, err := repo.GetSecret(ctx, secrets, secretLLMRunnerKey)
			if err != nil {
				logger.Warn("restore-local-services: get secret failed", zap.Error(err))
			} else {
				configs["llmRunnerKeyConfigured"] = key != ""
			}
		}
		result := map[string]any{"serviceConfigs": configs}
		if err := deps.Progress(ctx, 100, result); err != nil {
			return nil, err
		}
		return result, nil
	}
}

func chatMessages(payload map[string]any) []llm.Message {
	raw, ok := payload["messages"].([]any)
	if !ok {
		return nil
	}
	out := make([]llm.Message, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, llm.Message{Role: jsonString(m, "role"), Content: jsonString(m, "content")})
	}
	return out
}

func jsonObject(m map[string]any, key string) map[string]any {
	if v, ok := m[key]; ok {
		if o, ok := v.(map[string]any); ok {
			return o
		}
	}
	return map[string]any{}
}
