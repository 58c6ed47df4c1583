// Package service wires dataset loading, chunking, embedding, retrieval and
// completion into one pipeline per loaded file.
package service

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"csvrag/internal/chunker"
	"csvrag/internal/dataset"
	"csvrag/internal/domain"
	"csvrag/internal/index"
	"csvrag/internal/retrieval"
	"csvrag/internal/summarizer"
)

var (
	// ErrNoDataset is returned by operations that need a loaded file.
	ErrNoDataset = errors.New("no dataset loaded")

	// ErrBusy is returned while another operation holds the pipeline,
	// typically an embedding pass.
	ErrBusy = errors.New("pipeline is busy")
)

const (
	// SummaryQuery retrieves context for Summarize.
	SummaryQuery = "summary statistics overview"

	askSampleRows       = 5
	summarizeSampleRows = 10

	sampleInfo = "Using sample data (generate embeddings for full access)"
)

// Config tunes the pipeline.
type Config struct {
	BatchSize      int
	TopK           int
	SummaryTopK    int
	EmbeddingModel string
	Dataset        dataset.Options
}

// Pipeline owns one dataset with its chunks and embedding index. Every
// operation runs to completion before returning; an operation that finds
// another one in flight fails with ErrBusy instead of waiting.
type Pipeline struct {
	mu sync.Mutex

	completer  domain.Completer
	index      *index.Index
	engine     *retrieval.Engine
	summarizer *summarizer.StatsSummarizer
	logger     *zap.Logger
	cfg        Config

	name    string
	data    *dataset.Dataset
	summary string
	chunker *chunker.RowChunker
	chunks  []domain.Chunk
}

// NewPipeline creates an empty pipeline. indexOpts are passed to the
// embedding index, e.g. a cache or a progress callback.
func NewPipeline(embedder domain.Embedder, completer domain.Completer, cfg Config, logger *zap.Logger, indexOpts ...index.Option) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 3
	}
	if cfg.SummaryTopK <= 0 {
		cfg.SummaryTopK = 5
	}
	opts := append([]index.Option{index.WithLogger(logger)}, indexOpts...)
	idx := index.New(embedder, opts...)
	return &Pipeline{
		completer:  completer,
		index:      idx,
		engine:     retrieval.NewEngine(embedder, idx, logger),
		summarizer: summarizer.NewStatsSummarizer(summarizer.DefaultMaxColumns),
		logger:     logger,
		cfg:        cfg,
		chunker:    chunker.NewRowChunker(cfg.BatchSize),
	}
}

func (p *Pipeline) acquire() error {
	if !p.mu.TryLock() {
		return ErrBusy
	}
	return nil
}

// Load reads the file at path, replacing any previous dataset. The chunk
// sequence is rebuilt with the configured batch size and the index is
// invalidated.
func (p *Pipeline) Load(path string) error {
	if err := p.acquire(); err != nil {
		return err
	}
	defer p.mu.Unlock()

	ds, err := dataset.Load(path, p.cfg.Dataset)
	if err != nil {
		return err
	}
	p.name = filepath.Base(path)
	p.data = ds
	p.summary = p.summarizer.Summarize(p.name, ds)
	p.rebuild(p.chunker)
	p.logger.Info("dataset loaded",
		zap.String("file", p.name),
		zap.Int("rows", ds.RowCount()),
		zap.Int("columns", len(ds.Headers)),
		zap.Int("chunks", len(p.chunks)))
	return nil
}

func (p *Pipeline) rebuild(c *chunker.RowChunker) {
	p.chunker = c
	p.chunks = c.Chunk(p.data)
	p.index.Invalidate()
}

// BuildChunks replaces the chunk sequence using batchSize rows per chunk
// and invalidates the index. It returns the number of chunks.
func (p *Pipeline) BuildChunks(batchSize int) (int, error) {
	if err := p.acquire(); err != nil {
		return 0, err
	}
	defer p.mu.Unlock()
	if p.data == nil {
		return 0, ErrNoDataset
	}
	p.rebuild(chunker.NewRowChunker(batchSize))
	return len(p.chunks), nil
}

// GenerateEmbeddings embeds the current chunks with model and returns the
// number processed. Failed chunks hold the zero fallback vector.
func (p *Pipeline) GenerateEmbeddings(ctx context.Context, model string) (int, error) {
	if err := p.acquire(); err != nil {
		return 0, err
	}
	defer p.mu.Unlock()
	if p.data == nil {
		return 0, ErrNoDataset
	}
	return p.index.Generate(ctx, p.chunks, p.embeddingModel(model)), nil
}

// Embed rebuilds the chunks with the configured batch size and embeds them,
// returning the chunk count and the number of chunks processed.
func (p *Pipeline) Embed(ctx context.Context, model string) (int, int, error) {
	if err := p.acquire(); err != nil {
		return 0, 0, err
	}
	defer p.mu.Unlock()
	if p.data == nil {
		return 0, 0, ErrNoDataset
	}
	p.rebuild(chunker.NewRowChunker(p.cfg.BatchSize))
	n := p.index.Generate(ctx, p.chunks, p.embeddingModel(model))
	return len(p.chunks), n, nil
}

// Query returns at most topK chunks ranked against text.
func (p *Pipeline) Query(ctx context.Context, text, model string, topK int) ([]domain.SearchResult, error) {
	if err := p.acquire(); err != nil {
		return nil, err
	}
	defer p.mu.Unlock()
	if p.data == nil {
		return nil, ErrNoDataset
	}
	return p.engine.Query(ctx, p.chunks, text, p.embeddingModel(model), topK), nil
}

// Ask answers question against the dataset. The returned session holds the
// prompt and the reply appended to the history of sess; on error sess is
// returned unchanged.
func (p *Pipeline) Ask(ctx context.Context, sess domain.Session, question string) (domain.Session, string, error) {
	if err := p.acquire(); err != nil {
		return sess, "", err
	}
	defer p.mu.Unlock()
	if p.data == nil {
		return sess, "", ErrNoDataset
	}

	var data, info string
	if p.index.Ready() {
		results := p.engine.Query(ctx, p.chunks, question, p.embeddingModel(sess.EmbeddingModel), p.cfg.TopK)
		data = strings.Join(domain.Texts(results), "\n\n")
		info = fmt.Sprintf("Retrieved %d relevant data chunks", len(results))
	} else {
		sample, err := summarizer.SampleContext(p.data, askSampleRows)
		if err != nil {
			return sess, "", err
		}
		data, info = sample, sampleInfo
	}

	prompt := summarizer.QuestionPrompt(p.promptInput(data), question, info)
	next := sess.Append(domain.Message{Role: domain.RoleUser, Content: prompt})
	answer, err := p.completer.Complete(ctx, sess.ChatModel, next.History)
	if err != nil {
		return sess, "", fmt.Errorf("answering question: %w", err)
	}
	return next.Append(domain.Message{Role: domain.RoleAssistant, Content: answer}), answer, nil
}

// Summarize asks the chat model of sess for an analysis of the dataset.
// The session history is neither sent nor changed.
func (p *Pipeline) Summarize(ctx context.Context, sess domain.Session) (string, error) {
	if err := p.acquire(); err != nil {
		return "", err
	}
	defer p.mu.Unlock()
	if p.data == nil {
		return "", ErrNoDataset
	}

	var data string
	if p.index.Ready() {
		results := p.engine.Query(ctx, p.chunks, SummaryQuery, p.embeddingModel(sess.EmbeddingModel), p.cfg.SummaryTopK)
		data = strings.Join(domain.Texts(results), "\n\n")
	} else {
		sample, err := summarizer.SampleContext(p.data, summarizeSampleRows)
		if err != nil {
			return "", err
		}
		data = sample
	}

	prompt := summarizer.AnalysisPrompt(p.promptInput(data))
	answer, err := p.completer.Complete(ctx, sess.ChatModel, []domain.Message{{Role: domain.RoleUser, Content: prompt}})
	if err != nil {
		return "", fmt.Errorf("summarizing dataset: %w", err)
	}
	return answer, nil
}

func (p *Pipeline) promptInput(data string) summarizer.PromptInput {
	return summarizer.PromptInput{
		File:    p.name,
		Rows:    p.data.RowCount(),
		Headers: p.data.Headers,
		Context: data,
		Summary: p.summary,
	}
}

func (p *Pipeline) embeddingModel(model string) string {
	if model != "" {
		return model
	}
	return p.cfg.EmbeddingModel
}

// Info describes the loaded dataset and index state.
type Info struct {
	File      string
	Rows      int
	Columns   int
	Chunks    int
	BatchSize int
	Ready     bool
	Failures  int
}

// Info returns the current state.
func (p *Pipeline) Info() (Info, error) {
	if err := p.acquire(); err != nil {
		return Info{}, err
	}
	defer p.mu.Unlock()
	if p.data == nil {
		return Info{}, ErrNoDataset
	}
	return Info{
		File:      p.name,
		Rows:      p.data.RowCount(),
		Columns:   len(p.data.Headers),
		Chunks:    len(p.chunks),
		BatchSize: p.chunker.BatchSize(),
		Ready:     p.index.Ready(),
		Failures:  p.index.Failures(),
	}, nil
}

// Summary returns the statistical summary of the loaded dataset.
func (p *Pipeline) Summary() (string, error) {
	if err := p.acquire(); err != nil {
		return "", err
	}
	defer p.mu.Unlock()
	if p.data == nil {
		return "", ErrNoDataset
	}
	return p.summary, nil
}

// Preview renders the first n rows as a table.
func (p *Pipeline) Preview(n int) (string, error) {
	if err := p.acquire(); err != nil {
		return "", err
	}
	defer p.mu.Unlock()
	if p.data == nil {
		return "", ErrNoDataset
	}
	return p.data.Preview(n), nil
}

// ColumnStats pairs a numeric column with its profile.
type ColumnStats struct {
	Column  string
	Profile dataset.ColumnProfile
}

// Stats returns profiles for every numeric column in header order.
func (p *Pipeline) Stats() ([]ColumnStats, error) {
	if err := p.acquire(); err != nil {
		return nil, err
	}
	defer p.mu.Unlock()
	if p.data == nil {
		return nil, ErrNoDataset
	}
	var out []ColumnStats
	for _, col := range p.data.NumericColumns() {
		if st := p.data.Stats(col); st != nil {
			out = append(out, ColumnStats{Column: col, Profile: *st})
		}
	}
	return out, nil
}

// Chunks returns a copy of the current chunk sequence.
func (p *Pipeline) Chunks() ([]domain.Chunk, error) {
	if err := p.acquire(); err != nil {
		return nil, err
	}
	defer p.mu.Unlock()
	if p.data == nil {
		return nil, ErrNoDataset
	}
	return append([]domain.Chunk(nil), p.chunks...), nil
}
