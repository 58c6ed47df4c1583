package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"csvrag/internal/domain"
)

type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	fail  func(text string) bool
	gate  chan struct{}
	enter chan struct{}
}

func (f *fakeEmbedder) Embed(_ context.Context, _, text string) ([]float64, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.enter != nil {
		f.enter <- struct{}{}
		<-f.gate
	}
	if f.fail != nil && f.fail(text) {
		return nil, errors.New("embedding service unavailable")
	}
	return []float64{float64(strings.Count(text, "Score")), float64(len(text) % 7), 1}, nil
}

func (f *fakeEmbedder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeCompleter struct {
	reply    string
	err      error
	model    string
	messages []domain.Message
}

func (f *fakeCompleter) Complete(_ context.Context, model string, messages []domain.Message) (string, error) {
	f.model = model
	f.messages = messages
	return f.reply, f.err
}

func scoresCSV(t *testing.T, rows int) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("Name,Score\n")
	for i := 1; i <= rows; i++ {
		fmt.Fprintf(&b, "p%d,%d\n", i, i*10)
	}
	path := filepath.Join(t.TempDir(), "scores.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func newPipeline(t *testing.T, emb *fakeEmbedder, comp *fakeCompleter) *Pipeline {
	t.Helper()
	p := NewPipeline(emb, comp, Config{BatchSize: 10, EmbeddingModel: "nomic-embed-text"}, zaptest.NewLogger(t))
	require.NoError(t, p.Load(scoresCSV(t, 25)))
	return p
}

func chunkIndices(results []domain.SearchResult) []int {
	out := make([]int, len(results))
	for i, r := range results {
		out[i] = r.Chunk.Index
	}
	return out
}

func TestLoad(t *testing.T) {
	p := newPipeline(t, &fakeEmbedder{}, &fakeCompleter{})

	info, err := p.Info()
	require.NoError(t, err)
	assert.Equal(t, Info{File: "scores.csv", Rows: 25, Columns: 2, Chunks: 4, BatchSize: 10}, info)

	summary, err := p.Summary()
	require.NoError(t, err)
	assert.Contains(t, summary, "Total Records: 25")
	assert.Contains(t, summary, "  Score: mean=130.00, min=10.00, max=250.00")
}

func TestLoad_Missing(t *testing.T) {
	p := NewPipeline(&fakeEmbedder{}, &fakeCompleter{}, Config{}, nil)
	err := p.Load(filepath.Join(t.TempDir(), "missing.csv"))
	require.Error(t, err)

	_, err = p.Info()
	assert.ErrorIs(t, err, ErrNoDataset)
}

func TestNoDataset(t *testing.T) {
	p := NewPipeline(&fakeEmbedder{}, &fakeCompleter{}, Config{}, nil)
	ctx := context.Background()

	_, _, err := p.Embed(ctx, "")
	assert.ErrorIs(t, err, ErrNoDataset)
	_, err = p.Query(ctx, "q", "", 3)
	assert.ErrorIs(t, err, ErrNoDataset)
	_, _, err = p.Ask(ctx, domain.NewSession("m", "e"), "q")
	assert.ErrorIs(t, err, ErrNoDataset)
	_, err = p.Summarize(ctx, domain.NewSession("m", "e"))
	assert.ErrorIs(t, err, ErrNoDataset)
	_, err = p.BuildChunks(5)
	assert.ErrorIs(t, err, ErrNoDataset)
}

func TestEmbedAndQuery(t *testing.T) {
	emb := &fakeEmbedder{}
	p := newPipeline(t, emb, &fakeCompleter{})
	ctx := context.Background()

	chunks, processed, err := p.Embed(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 4, chunks)
	assert.Equal(t, 4, processed)
	assert.Equal(t, 4, p.index.Len())
	assert.True(t, p.index.Ready())

	results, err := p.Query(ctx, "average score", "", 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.GreaterOrEqual(t, results[0].Score, results[1].Score)

	again, err := p.Query(ctx, "average score", "", 2)
	require.NoError(t, err)
	assert.Equal(t, results, again)
}

func TestEmbed_AllChunkEmbeddingsFail(t *testing.T) {
	emb := &fakeEmbedder{fail: func(text string) bool { return text != "average score" }}
	p := newPipeline(t, emb, &fakeCompleter{})
	ctx := context.Background()

	_, processed, err := p.Embed(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 4, processed)
	assert.Equal(t, 4, p.index.Failures())
	for _, v := range p.index.Vectors() {
		assert.Len(t, v, 768)
		assert.Equal(t, make([]float64, 768), v)
	}

	results, err := p.Query(ctx, "average score", "", 10)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2, 3}, chunkIndices(results))
}

func TestBuildChunks_InvalidatesIndex(t *testing.T) {
	emb := &fakeEmbedder{}
	p := newPipeline(t, emb, &fakeCompleter{})
	ctx := context.Background()

	_, _, err := p.Embed(ctx, "")
	require.NoError(t, err)

	n, err := p.BuildChunks(5)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.False(t, p.index.Ready())

	before := emb.count()
	results, err := p.Query(ctx, "average score", "", 3)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, chunkIndices(results))
	assert.Equal(t, before, emb.count(), "stale vectors are never consulted")

	processed, err := p.GenerateEmbeddings(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, 6, processed)
	assert.True(t, p.index.Ready())
}

func TestAsk_WithoutEmbeddingsUsesSample(t *testing.T) {
	comp := &fakeCompleter{reply: "The top score is 250."}
	p := newPipeline(t, &fakeEmbedder{}, comp)
	sess := domain.NewSession("phi3", "nomic-embed-text")

	next, answer, err := p.Ask(context.Background(), sess, "What is the top score?")
	require.NoError(t, err)
	assert.Equal(t, "The top score is 250.", answer)
	assert.Equal(t, "phi3", comp.model)

	require.Len(t, comp.messages, 1)
	prompt := comp.messages[0].Content
	assert.Equal(t, domain.RoleUser, comp.messages[0].Role)
	assert.True(t, strings.HasPrefix(prompt, "CSV Dataset: scores.csv\nTotal Rows: 25\nColumns: Name, Score\n\nRelevant Data:\n["))
	assert.Contains(t, prompt, "\"Name\": \"p5\"")
	assert.NotContains(t, prompt, "\"Name\": \"p6\"")
	assert.Contains(t, prompt, "Question: What is the top score?")
	assert.True(t, strings.HasSuffix(prompt, "Answer based on the data above. "+sampleInfo+"."))

	assert.Empty(t, sess.History)
	require.Len(t, next.History, 2)
	assert.Equal(t, prompt, next.History[0].Content)
	assert.Equal(t, domain.Message{Role: domain.RoleAssistant, Content: answer}, next.History[1])
}

func TestAsk_WithEmbeddingsSendsHistory(t *testing.T) {
	comp := &fakeCompleter{reply: "ok"}
	p := newPipeline(t, &fakeEmbedder{}, comp)
	ctx := context.Background()
	_, _, err := p.Embed(ctx, "")
	require.NoError(t, err)

	sess := domain.NewSession("gemma3:1b", "").Append(
		domain.Message{Role: domain.RoleUser, Content: "earlier"},
		domain.Message{Role: domain.RoleAssistant, Content: "reply"},
	)
	next, _, err := p.Ask(ctx, sess, "average score?")
	require.NoError(t, err)

	require.Len(t, comp.messages, 3)
	assert.Equal(t, "earlier", comp.messages[0].Content)
	assert.Contains(t, comp.messages[2].Content, "Retrieved 3 relevant data chunks.")
	assert.Len(t, next.History, 4)
	assert.Len(t, sess.History, 2)
}

func TestAsk_CompletionFailureKeepsSession(t *testing.T) {
	boom := errors.New("model not found")
	p := newPipeline(t, &fakeEmbedder{}, &fakeCompleter{err: boom})
	sess := domain.NewSession("missing", "")

	next, answer, err := p.Ask(context.Background(), sess, "q")
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, answer)
	assert.Equal(t, sess, next)
}

func TestSummarize(t *testing.T) {
	comp := &fakeCompleter{reply: "overview"}
	p := newPipeline(t, &fakeEmbedder{}, comp)
	sess := domain.NewSession("gemma3:1b", "").Append(domain.Message{Role: domain.RoleUser, Content: "old"})

	out, err := p.Summarize(context.Background(), sess)
	require.NoError(t, err)
	assert.Equal(t, "overview", out)
	require.Len(t, comp.messages, 1)
	prompt := comp.messages[0].Content
	assert.True(t, strings.HasPrefix(prompt, "Analyze this CSV dataset:\n\nFilename: scores.csv\n"))
	assert.Contains(t, prompt, "\"Name\": \"p10\"")
	assert.NotContains(t, prompt, "\"Name\": \"p11\"")

	_, _, err = p.Embed(context.Background(), "")
	require.NoError(t, err)
	_, err = p.Summarize(context.Background(), sess)
	require.NoError(t, err)
	assert.Contains(t, comp.messages[0].Content, "CSV Metadata:")
}

func TestBusyWhileEmbedding(t *testing.T) {
	emb := &fakeEmbedder{}
	p := newPipeline(t, emb, &fakeCompleter{reply: "x"})
	emb.enter = make(chan struct{})
	emb.gate = make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, _, err := p.Embed(context.Background(), "")
		done <- err
	}()
	<-emb.enter

	_, _, err := p.Ask(context.Background(), domain.NewSession("m", ""), "q")
	assert.ErrorIs(t, err, ErrBusy)
	_, err = p.Query(context.Background(), "q", "", 2)
	assert.ErrorIs(t, err, ErrBusy)
	_, err = p.Summarize(context.Background(), domain.NewSession("m", ""))
	assert.ErrorIs(t, err, ErrBusy)

	close(emb.gate)
	for i := 0; i < 3; i++ {
		<-emb.enter
	}
	require.NoError(t, <-done)
	emb.enter = nil

	_, err = p.Query(context.Background(), "q", "", 2)
	assert.NoError(t, err)
}

func TestPreviewAndStats(t *testing.T) {
	p := newPipeline(t, &fakeEmbedder{}, &fakeCompleter{})

	preview, err := p.Preview(3)
	require.NoError(t, err)
	assert.Len(t, strings.Split(preview, "\n"), 5)

	stats, err := p.Stats()
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, "Score", stats[0].Column)
	assert.Equal(t, 25, stats[0].Profile.Count)
	assert.Equal(t, 130.0, stats[0].Profile.Median)
}
