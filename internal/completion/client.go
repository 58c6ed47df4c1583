// Package completion sends chat conversations to an OpenAI-compatible
// endpoint. Ollama serves one under /v1.
package completion

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"csvrag/internal/domain"
)

const (
	// DefaultModel is the chat model used when none is configured.
	DefaultModel = "gemma3:1b"

	// DefaultTimeout bounds one completion request.
	DefaultTimeout = 120 * time.Second
)

// ErrEmptyResponse is returned when the service answers without content.
var ErrEmptyResponse = errors.New("completion returned no content")

// Config holds connection settings for the completion service.
type Config struct {
	// BaseURL is the server root, e.g. http://localhost:11434. The /v1
	// suffix is appended when missing.
	BaseURL string
	// APIKey is sent as a bearer token. Ollama ignores it.
	APIKey  string
	Timeout time.Duration
}

// Client implements domain.Completer.
type Client struct {
	api *openai.Client
}

// NewClient creates a completion client.
func NewClient(cfg Config) *Client {
	key := cfg.APIKey
	if key == "" {
		key = "ollama"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	oc := openai.DefaultConfig(key)
	oc.BaseURL = apiBase(cfg.BaseURL)
	oc.HTTPClient = &http.Client{Timeout: timeout}
	return &Client{api: openai.NewClientWithConfig(oc)}
}

func apiBase(base string) string {
	base = strings.TrimRight(base, "/")
	if base == "" {
		base = "http://localhost:11434"
	}
	if !strings.HasSuffix(base, "/v1") {
		base += "/v1"
	}
	return base
}

// Complete sends messages in order and returns the assistant reply.
func (c *Client) Complete(ctx context.Context, model string, messages []domain.Message) (string, error) {
	if model == "" {
		model = DefaultModel
	}
	req := openai.ChatCompletionRequest{
		Model:    model,
		Messages: make([]openai.ChatCompletionMessage, len(messages)),
	}
	for i, m := range messages {
		req.Messages[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("chat completion with %s: %w", model, err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", ErrEmptyResponse
	}
	return resp.Choices[0].Message.Content, nil
}
