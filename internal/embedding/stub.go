package embedding

import (
	"context"
	"hash/fnv"
)

// Stub is a deterministic, pure-Go Service for tests, the generalization of
// the teacher's local.Embedder CGO-less stub (which returned a fixed zero
// vector) to a vector that is at least distinguishable across inputs, so
// resolve_entities and the retrieval fusion tests can assert on distances.
type Stub struct{}

// NewStub builds a Stub embedding service.
func NewStub() *Stub { return &Stub{} }

func (s *Stub) Initialize(ctx context.Context) error { return nil }
func (s *Stub) IsReady() bool                        { return true }

// TextToVector hashes text into a seed and fills a deterministic
// EmbeddingDimension-length vector from it, so equal strings produce equal
// vectors and different strings produce (almost certainly) different ones.
func (s *Stub) TextToVector(ctx context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, EmbeddingDimension)
	state := seed
	for i := range vec {
		state = state*6364136223846793005 + 1442695040888963407
		vec[i] = float32(int32(state>>32)) / float32(1<<31)
	}
	return vec, nil
}

func (s *Stub) TextsToVectors(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, _ := s.TextToVector(ctx, t)
		out[i] = v
	}
	return out, nil
}
