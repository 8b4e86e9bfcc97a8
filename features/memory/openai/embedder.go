// Package openai provides a memory.Embedder backed by the OpenAI embeddings
// API using github.com/sashabaranov/go-openai.
package openai

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultModel is the embedding model used when none is configured.
const DefaultModel = openai.SmallEmbedding3

// EmbeddingsClient captures the subset of the go-openai client used by the
// embedder. It is satisfied by *openai.Client.
type EmbeddingsClient interface {
	CreateEmbeddings(ctx context.Context, conv openai.EmbeddingRequestConverter) (
		openai.EmbeddingResponse, error)
}

// Options configures the embedder.
type Options struct {
	// Client issues the embeddings calls. Required.
	Client EmbeddingsClient

	// Model overrides the embedding model. Defaults to DefaultModel.
	Model openai.EmbeddingModel
}

// Embedder implements memory.Embedder via the OpenAI embeddings API.
type Embedder struct {
	client EmbeddingsClient
	model  openai.EmbeddingModel
}

// New builds an embedder from the provided options.
func New(opts Options) (*Embedder, error) {
	if opts.Client == nil {
		return nil, errors.New("openai client is required")
	}
	m := opts.Model
	if m == "" {
		m = DefaultModel
	}
	return &Embedder{client: opts.Client, model: m}, nil
}

// NewFromAPIKey constructs an embedder using the default go-openai HTTP
// client.
func NewFromAPIKey(apiKey string) (*Embedder, error) {
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	return New(Options{Client: openai.NewClient(apiKey)})
}

// Embed returns the embedding vector for text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: e.model,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, errors.New("openai embeddings: response contained no vectors")
	}
	return resp.Data[0].Embedding, nil
}
