// Package embed converts text to dense vectors via the OpenAI embeddings API.
package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/pkoukk/tiktoken-go"
	openai "github.com/sashabaranov/go-openai"
)

const (
	DefaultModel = "text-embedding-3-large"
	// Dim must match the storage column type exactly.
	DefaultDim = 3072

	encodingName = "cl100k_base"
	maxTokens    = 8191
)

// Error is a failed embedding call.
type Error struct {
	Err       error
	Transient bool
}

func (e *Error) Error() string { return fmt.Sprintf("embed: %v", e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// IsTransient reports whether err is a provider failure worth retrying
// (rate limit, 5xx, timeout).
func IsTransient(err error) bool {
	var embErr *Error
	if errors.As(err, &embErr) {
		return embErr.Transient
	}
	return false
}

type client interface {
	CreateEmbeddings(ctx context.Context, req openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// Gateway wraps the OpenAI client with token-budget truncation and a
// per-call timeout.
type Gateway struct {
	client  client
	model   string
	dim     int
	timeout time.Duration
	enc     *tiktoken.Tiktoken
}

type Option func(*Gateway)

func WithModel(model string) Option {
	return func(g *Gateway) { g.model = model }
}

func WithDimension(dim int) Option {
	return func(g *Gateway) { g.dim = dim }
}

func WithTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.timeout = d }
}

// NewGateway builds a gateway for the given API key. baseURL may be empty
// for the default endpoint.
func NewGateway(apiKey, baseURL string, opts ...Option) (*Gateway, error) {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("embed: load encoding: %w", err)
	}

	g := &Gateway{
		client:  openai.NewClientWithConfig(cfg),
		model:   DefaultModel,
		dim:     DefaultDim,
		timeout: 30 * time.Second,
		enc:     enc,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Truncate cuts text to the model's input token budget. The second return
// reports whether any truncation happened.
func (g *Gateway) Truncate(text string) (string, bool) {
	tokens := g.enc.Encode(text, nil, nil)
	if len(tokens) <= maxTokens {
		return text, false
	}
	return g.enc.Decode(tokens[:maxTokens]), true
}

// Embed vectorizes a single text. Used by the search path: one call, no
// batching, errors surface immediately.
func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := g.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch vectorizes texts in one provider call, truncating any input
// over the token budget. The result is index-aligned with texts.
func (g *Gateway) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	inputs := make([]string, len(texts))
	for i, text := range texts {
		truncated, cut := g.Truncate(text)
		if cut {
			slog.WarnContext(ctx, "text truncated to embedding token budget", "max_tokens", maxTokens)
		}
		inputs[i] = truncated
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(g.model),
		Input: inputs,
	})
	if err != nil {
		return nil, classify(err)
	}

	if len(resp.Data) != len(inputs) {
		return nil, &Error{Err: fmt.Errorf("expected %d embeddings, got %d", len(inputs), len(resp.Data))}
	}

	vectors := make([][]float32, len(inputs))
	for _, data := range resp.Data {
		if data.Index < 0 || data.Index >= len(vectors) {
			return nil, &Error{Err: fmt.Errorf("embedding index %d out of range", data.Index)}
		}
		if len(data.Embedding) != g.dim {
			return nil, &Error{Err: fmt.Errorf("embedding dimension %d, want %d", len(data.Embedding), g.dim)}
		}
		vectors[data.Index] = data.Embedding
	}
	return vectors, nil
}

func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Err: err, Transient: true}
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		transient := apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
		return &Error{Err: err, Transient: transient}
	}
	// Network-level failure without an API error attached.
	return &Error{Err: err, Transient: !errors.Is(err, context.Canceled)}
}
