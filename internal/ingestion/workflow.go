package ingestion

import (
	"context"
	"fmt"
	"net/http"

	"github.com/inngest/inngestgo"
	"github.com/inngest/inngestgo/step"
	"go.uber.org/zap"
)

// WorkflowConfig configures the durable outer driver wrapping Pipeline.Run.
// This is orthogonal to the pipeline's own correctness (single commit
// transaction, rollback-on-error): Inngest's job is crash recovery of the
// *trigger* — if the host process dies mid-run, Inngest redelivers the
// event and Pipeline.Run starts over from a clean, uncommitted state rather
// than resuming a half-applied graph.
type WorkflowConfig struct {
	AppID  string
	Logger *zap.Logger
}

// IngestionEvent is the Inngest event payload for a durable conversion run.
type IngestionEvent struct {
	ContentID string `json:"contentId"`
}

// IngestionResult is the function's durable output.
type IngestionResult struct {
	Success          bool   `json:"success"`
	EntitiesCreated  int    `json:"entitiesCreated,omitempty"`
	RelationsCreated int    `json:"relationsCreated,omitempty"`
	ErrorMessage     string `json:"error,omitempty"`
}

// WorkflowService registers the durable ingestion function with Inngest and
// serves its invocation endpoint.
type WorkflowService struct {
	client inngestgo.Client
	logger *zap.Logger
	server *http.Server
}

// durableRunFunc resolves an IngestionEvent into the Input Pipeline.Run
// needs; the caller supplies it because loading the capture and its source
// row is storage.Repo's job, not this package's event-plumbing concern.
type durableRunFunc func(ctx context.Context, contentID string) (Input, error)

// NewWorkflowService builds the Inngest client and registers the
// convert-to-kg durable function, run(contentId) calling Pipeline.Run after
// resolve loads its Input.
func NewWorkflowService(cfg WorkflowConfig, pipeline *Pipeline, resolve durableRunFunc) (*WorkflowService, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	client, err := inngestgo.NewClient(inngestgo.ClientOpts{AppID: cfg.AppID})
	if err != nil {
		return nil, fmt.Errorf("create inngest client: %w", err)
	}

	ws := &WorkflowService{client: client, logger: cfg.Logger}

	fn := durableIngestionFunction(cfg, pipeline, resolve)
	_, err = inngestgo.CreateFunction(
		client,
		inngestgo.FunctionOpts{ID: "convert-to-kg-durable", Name: "Durable knowledge-graph ingestion"},
		inngestgo.EventTrigger("ingestion.requested", nil),
		fn,
	)
	if err != nil {
		return nil, fmt.Errorf("register durable ingestion function: %w", err)
	}
	return ws, nil
}

func durableIngestionFunction(cfg WorkflowConfig, pipeline *Pipeline, resolve durableRunFunc) func(ctx context.Context, input inngestgo.Input[IngestionEvent]) (any, error) {
	return func(ctx context.Context, input inngestgo.Input[IngestionEvent]) (any, error) {
		logger := cfg.Logger.With(zap.String("contentId", input.Event.Data.ContentID))

		in, resolveErr := step.Run(ctx, "resolve-input", func(ctx context.Context) (Input, error) {
			return resolve(ctx, input.Event.Data.ContentID)
		})
		if resolveErr != nil {
			return IngestionResult{Success: false, ErrorMessage: resolveErr.Error()}, resolveErr
		}

		stats, runErr := step.Run(ctx, "run-pipeline", func(ctx context.Context) (Stats, error) {
			s, err := pipeline.Run(ctx, in, func() bool { return false }, nil)
			if err != nil {
				return Stats{}, err
			}
			return *s, nil
		})
		if runErr != nil {
			logger.Error("durable ingestion run failed", zap.Error(runErr))
			return IngestionResult{Success: false, ErrorMessage: runErr.Error()}, runErr
		}

		logger.Info("durable ingestion run completed",
			zap.Int("entitiesCreated", stats.EntitiesCreated),
			zap.Int("relationsCreated", stats.RelationsCreated))

		return IngestionResult{
			Success:          true,
			EntitiesCreated:  stats.EntitiesCreated,
			RelationsCreated: stats.RelationsCreated,
		}, nil
	}
}

// Handler returns the HTTP handler Inngest's dev server / cloud relay calls
// to invoke registered functions.
func (ws *WorkflowService) Handler() http.Handler {
	return ws.client.Serve()
}

// Shutdown gracefully stops ws.server when it is set and returns nil
// otherwise. Nothing in this package sets it: Handler only returns an
// http.Handler for the caller to mount on a server of its own.
func (ws *WorkflowService) Shutdown(ctx context.Context) error {
	if ws.server != nil {
		return ws.server.Shutdown(ctx)
	}
	return nil
}
