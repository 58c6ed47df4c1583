// Package retrieval ranks chunks against a free-text query.
package retrieval

import (
	"context"
	"math"
	"sort"

	"go.uber.org/zap"

	"csvrag/internal/domain"
	"csvrag/internal/index"
)

// Engine answers top-K queries over an embedding index.
type Engine struct {
	embedder domain.Embedder
	index    *index.Index
	logger   *zap.Logger
}

// NewEngine creates a retrieval engine. A nil logger discards output.
func NewEngine(embedder domain.Embedder, idx *index.Index, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{embedder: embedder, index: idx, logger: logger}
}

// Query returns at most topK chunks ranked by cosine similarity to text.
// When the index is not ready for chunks, or the query cannot be embedded,
// it returns the first topK chunks in original order with zero scores.
func (e *Engine) Query(ctx context.Context, chunks []domain.Chunk, text, model string, topK int) []domain.SearchResult {
	if topK <= 0 || len(chunks) == 0 {
		return []domain.SearchResult{}
	}
	if !e.index.Ready() || e.index.Len() != len(chunks) {
		return leading(chunks, topK)
	}

	vec, err := e.embedder.Embed(ctx, model, text)
	if err != nil {
		e.logger.Warn("query embedding failed, returning leading chunks",
			zap.String("model", model),
			zap.Error(err))
		return leading(chunks, topK)
	}

	results := Rank(vec, chunks, e.index.Vectors())
	if topK < len(results) {
		results = results[:topK]
	}
	return results
}

// Rank scores every chunk against query and orders them by descending
// similarity, breaking ties by ascending chunk position.
func Rank(query []float64, chunks []domain.Chunk, vectors [][]float64) []domain.SearchResult {
	results := make([]domain.SearchResult, len(chunks))
	for i := range chunks {
		var v []float64
		if i < len(vectors) {
			v = vectors[i]
		}
		results[i] = domain.SearchResult{Chunk: chunks[i], Score: CosineSimilarity(query, v)}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results
}

// CosineSimilarity computes dot(a,b) / (|a|*|b|). It is 0 when either norm
// is zero, when the lengths differ, or when the result is not a number.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if math.IsNaN(sim) {
		return 0
	}
	return sim
}

func leading(chunks []domain.Chunk, topK int) []domain.SearchResult {
	n := min(topK, len(chunks))
	out := make([]domain.SearchResult, n)
	for i := 0; i < n; i++ {
		out[i] = domain.SearchResult{Chunk: chunks[i]}
	}
	return out
}
