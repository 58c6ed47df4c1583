package domain

import (
	"context"

	"github.com/google/uuid"
)

// Chunk is a bounded text fragment derived from a dataset. Index 0 is the
// metadata fragment; every other chunk covers the rows [StartRow, EndRow).
type Chunk struct {
	Index    int
	Text     string
	StartRow int
	EndRow   int
}

// IsMetadata reports whether the chunk is the dataset metadata fragment.
func (c Chunk) IsMetadata() bool { return c.Index == 0 }

// SearchResult represents a ranked chunk with its similarity score.
type SearchResult struct {
	Chunk Chunk
	Score float64
}

// Texts returns the chunk texts of results in rank order.
func Texts(results []SearchResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Chunk.Text
	}
	return out
}

// Message is one entry of a chat conversation.
type Message struct {
	Role    string
	Content string
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Embedder obtains a vector for a text from an embedding model.
type Embedder interface {
	Embed(ctx context.Context, model, text string) ([]float64, error)
}

// Completer turns an ordered message list into an assistant reply.
type Completer interface {
	Complete(ctx context.Context, model string, messages []Message) (string, error)
}

// EmbeddingCache stores successfully computed vectors keyed by model and text.
type EmbeddingCache interface {
	Get(ctx context.Context, model, text string) ([]float64, bool, error)
	Put(ctx context.Context, model, text string, vector []float64) error
}

// Session is the caller-owned conversation state. Operations that change it
// return a new value; the History slice of the receiver is never mutated.
type Session struct {
	ID             string
	ChatModel      string
	EmbeddingModel string
	History        []Message
}

// NewSession starts an empty conversation.
func NewSession(chatModel, embeddingModel string) Session {
	return Session{
		ID:             uuid.NewString(),
		ChatModel:      chatModel,
		EmbeddingModel: embeddingModel,
	}
}

// WithModel returns a copy of the session that uses a different chat model.
func (s Session) WithModel(model string) Session {
	s.History = cloneMessages(s.History)
	s.ChatModel = model
	return s
}

// Cleared returns a copy of the session with an empty history.
func (s Session) Cleared() Session {
	s.History = nil
	return s
}

// Append returns a copy of the session with msgs added to the history.
func (s Session) Append(msgs ...Message) Session {
	h := make([]Message, 0, len(s.History)+len(msgs))
	h = append(h, s.History...)
	s.History = append(h, msgs...)
	return s
}

func cloneMessages(in []Message) []Message {
	if in == nil {
		return nil
	}
	out := make([]Message, len(in))
	copy(out, in)
	return out
}
