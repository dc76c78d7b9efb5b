package ingestion

import (
	"strings"

	"golang.org/x/sync/errgroup"
)

// defaultChunkSize and defaultMaxConcurrency are step 2/4's literals (§4.8).
const (
	defaultChunkSize      = 5
	defaultMaxConcurrency = 2
)

// chunkContent splits content into groups of up to chunkSize paragraphs,
// the generalization of the teacher's chunking.ChunkByParagraphs to the
// fixed-count grouping the pipeline's extraction stages require, rather than
// a byte-budget split.
func chunkContent(content string, chunkSize int) []string {
	paragraphs := splitParagraphs(content)
	if len(paragraphs) == 0 {
		return nil
	}
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}

	chunks := make([]string, 0, (len(paragraphs)+chunkSize-1)/chunkSize)
	for i := 0; i < len(paragraphs); i += chunkSize {
		end := i + chunkSize
		if end > len(paragraphs) {
			end = len(paragraphs)
		}
		chunks = append(chunks, strings.Join(paragraphs[i:end], "\n\n"))
	}
	return chunks
}

func splitParagraphs(text string) []string {
	raw := strings.Split(text, "\n\n")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// mapChunks runs fn over chunks with at most maxConcurrency in flight and
// returns one result slice per chunk, preserving chunk order; a chunk whose
// fn returns an error contributes no items rather than failing the whole
// pass, matching §4.8's "a chunk's parse failure doesn't fail the job"
// policy for extraction stages.
func mapChunks[T any](chunks []string, maxConcurrency int, fn func(chunkIndex int, chunk string) ([]T, error)) [][]T {
	if maxConcurrency <= 0 {
		maxConcurrency = defaultMaxConcurrency
	}
	results := make([][]T, len(chunks))

	g := new(errgroup.Group)
	g.SetLimit(maxConcurrency)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			items, err := fn(i, chunk)
			if err != nil {
				return nil // chunk contributes nothing; never fails the group
			}
			results[i] = items
			return nil
		})
	}
	_ = g.Wait()
	return results
}
