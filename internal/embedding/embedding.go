// Package embedding generalizes the teacher's embedding.Service to the spec's
// Service interface (§4.6 stage 2/8, §4.7): the HTTP implementation keeps the
// teacher's request shape and "unavailable means skip, don't fail" policy,
// but swaps its hand-rolled map cache for a ristretto/v2 bounded cache.
package embedding

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	"go.uber.org/zap"

	"github.com/memorall/core/internal/errkind"
	"github.com/memorall/core/internal/jsonx"
)

// EmbeddingDimension matches the teacher's kernel.vector_index constant and
// the migration's vector(768) columns.
const EmbeddingDimension = 768

// Service is the embedding collaborator every pipeline stage and the
// retrieval engine depend on.
type Service interface {
	TextToVector(ctx context.Context, text string) ([]float32, error)
	TextsToVectors(ctx context.Context, texts []string) ([][]float32, error)
	Initialize(ctx context.Context) error
	IsReady() bool
}

// Config configures the HTTP embedding service.
type Config struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// HTTPService calls an external embedding server over HTTP, the same
// collaborator shape as the teacher's embedding.Service but caching via
// ristretto/v2 instead of a hand-rolled map+mutex.
type HTTPService struct {
	cfg    Config
	client *http.Client
	cache  *ristretto.Cache[string, []float32]
	logger *zap.Logger
	ready  bool
}

// NewHTTPService builds an HTTPService. The cache is bounded at 1 MiB of
// vector data, about 340 distinct 768-dimension embeddings at 4 bytes a value.
func NewHTTPService(cfg Config, logger *zap.Logger) *HTTPService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, []float32]{
		NumCounters: 10_000,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		logger.Warn("embedding cache init failed, running uncached", zap.Error(err))
	}
	return &HTTPService{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		cache:  cache,
		logger: logger,
	}
}

// Initialize performs a warm-up health check against the embedding server.
func (s *HTTPService) Initialize(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.BaseURL+"/health", nil)
	if err != nil {
		return errkind.Wrap(errkind.ModelUnavailable, "build health request", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("embedding service unavailable at startup", zap.Error(err))
		s.ready = false
		return nil
	}
	defer resp.Body.Close()
	s.ready = resp.StatusCode == http.StatusOK
	return nil
}

func (s *HTTPService) IsReady() bool { return s.ready }

type embedRequest struct {
	Text  string `json:"text"`
	Model string `json:"model,omitempty"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// TextToVector embeds one string, checking the ristretto cache first.
func (s *HTTPService) TextToVector(ctx context.Context, text string) ([]float32, error) {
	if s.cache != nil {
		if v, ok := s.cache.Get(text); ok {
			return v, nil
		}
	}

	body, err := jsonx.Marshal(embedRequest{Text: text, Model: s.cfg.Model})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		// Matches the teacher's policy: an unavailable embedding service
		// skips embedding rather than failing the caller outright; callers
		// treat a nil vector as "no embedding" (retrieval skips its vector
		// source, the pipeline stores rows without one) and none of them
		// turns it into ModelUnavailable.
		s.logger.Warn("embedding service unavailable, returning nil vector", zap.Error(err))
		return nil, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errkind.New(errkind.ModelUnavailable, fmt.Sprintf("embedding service returned %d", resp.StatusCode))
	}

	var result embedResponse
	if err := jsonx.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errkind.Wrap(errkind.ModelUnavailable, "decode embedding response", err)
	}

	if s.cache != nil {
		s.cache.Set(text, result.Embedding, int64(len(result.Embedding)*4))
	}
	return result.Embedding, nil
}

// TextsToVectors embeds a batch sequentially; the HTTP collaborator is
// single-model, so batching buys nothing beyond what the cache already does.
func (s *HTTPService) TextsToVectors(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := s.TextToVector(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// CosineSimilarity is used by in-process comparisons (resolve_facts'
// semantic match against candidate edges) where a round trip to Postgres
// isn't warranted.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (sqrtf(normA) * sqrtf(normB))
}

func sqrtf(x float64) float64 {
	if x <= 0 {
		return 0
	}
	z := x / 2
	for i := 0; i < 20; i++ {
		z = (z + x/z) / 2
	}
	return z
}
