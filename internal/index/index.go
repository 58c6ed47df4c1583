// Package index holds one embedding vector per chunk, aligned by position.
package index

import (
	"context"

	"go.uber.org/zap"

	"csvrag/internal/domain"
)

// DefaultDimensions sizes the zero vector stored for a failed chunk.
const DefaultDimensions = 768

// ProgressFunc receives (processed, total) after each chunk.
type ProgressFunc func(current, total int)

// Index is an in-memory embedding index. vectors[i] always belongs to
// chunk i of the last Generate call.
type Index struct {
	embedder   domain.Embedder
	cache      domain.EmbeddingCache
	logger     *zap.Logger
	dimensions int
	progress   ProgressFunc

	vectors  [][]float64
	failures int
	ready    bool
}

// Option configures an Index.
type Option func(*Index)

// WithCache consults cache before calling the embedder.
func WithCache(cache domain.EmbeddingCache) Option {
	return func(idx *Index) { idx.cache = cache }
}

// WithLogger sets the logger used to report per-chunk failures.
func WithLogger(logger *zap.Logger) Option {
	return func(idx *Index) {
		if logger != nil {
			idx.logger = logger
		}
	}
}

// WithDimensions sets the size of the fallback zero vector.
func WithDimensions(dims int) Option {
	return func(idx *Index) {
		if dims > 0 {
			idx.dimensions = dims
		}
	}
}

// WithProgress registers a progress callback for Generate.
func WithProgress(fn ProgressFunc) Option {
	return func(idx *Index) { idx.progress = fn }
}

// New creates an empty, not-ready index.
func New(embedder domain.Embedder, opts ...Option) *Index {
	idx := &Index{
		embedder:   embedder,
		logger:     zap.NewNop(),
		dimensions: DefaultDimensions,
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// Generate embeds every chunk in order, one request per chunk. A failed
// request stores a zero vector at that position and the pass continues, so
// afterwards Len() == len(chunks) and the index is ready. It returns the
// number of chunks processed.
func (idx *Index) Generate(ctx context.Context, chunks []domain.Chunk, model string) int {
	idx.ready = false
	idx.failures = 0
	vectors := make([][]float64, len(chunks))

	for i, ch := range chunks {
		vec, err := idx.embed(ctx, model, ch.Text)
		if err != nil {
			idx.logger.Warn("embedding failed, storing zero vector",
				zap.Int("chunk", i),
				zap.String("model", model),
				zap.Error(err))
			vec = make([]float64, idx.dimensions)
			idx.failures++
		}
		vectors[i] = vec
		if idx.progress != nil {
			idx.progress(i+1, len(chunks))
		}
	}

	idx.vectors = vectors
	idx.ready = true
	idx.logger.Info("embedding pass complete",
		zap.Int("chunks", len(chunks)),
		zap.Int("failures", idx.failures),
		zap.String("model", model))
	return len(vectors)
}

func (idx *Index) embed(ctx context.Context, model, text string) ([]float64, error) {
	if idx.cache != nil {
		vec, ok, err := idx.cache.Get(ctx, model, text)
		if err != nil {
			idx.logger.Debug("embedding cache lookup failed", zap.Error(err))
		} else if ok {
			return vec, nil
		}
	}
	vec, err := idx.embedder.Embed(ctx, model, text)
	if err != nil {
		return nil, err
	}
	if idx.cache != nil {
		if err := idx.cache.Put(ctx, model, text, vec); err != nil {
			idx.logger.Debug("embedding cache write failed", zap.Error(err))
		}
	}
	return vec, nil
}

// Invalidate drops all vectors and clears the ready flag. Callers must
// invoke it whenever the chunk sequence is rebuilt.
func (idx *Index) Invalidate() {
	idx.vectors = nil
	idx.failures = 0
	idx.ready = false
}

// Ready reports whether a generation pass completed over the current chunks.
func (idx *Index) Ready() bool { return idx.ready }

// Len returns the number of stored vectors.
func (idx *Index) Len() int { return len(idx.vectors) }

// Failures returns how many chunks fell back to the zero vector in the
// last pass.
func (idx *Index) Failures() int { return idx.failures }

// Dimensions returns the fallback vector size.
func (idx *Index) Dimensions() int { return idx.dimensions }

// Vectors returns the stored vectors in chunk order.
func (idx *Index) Vectors() [][]float64 { return idx.vectors }
