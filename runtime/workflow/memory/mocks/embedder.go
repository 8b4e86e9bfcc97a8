// Package mocks provides a function-queue mock for the memory.Embedder
// interface.
package mocks

import (
	"context"
	"testing"

	"goa.design/clue/mock"
)

type (
	// Embedder mocks memory.Embedder.
	Embedder struct {
		m *mock.Mock
		t *testing.T
	}

	// EmbedderEmbed is the signature of the Embed method.
	EmbedderEmbed func(ctx context.Context, text string) ([]float32, error)
)

// NewEmbedder returns a mock embedder.
func NewEmbedder(t *testing.T) *Embedder {
	return &Embedder{mock.New(), t}
}

// AddEmbed enqueues an Embed behavior.
func (m *Embedder) AddEmbed(f EmbedderEmbed) {
	m.m.Add("Embed", f)
}

// SetEmbed sets a permanent Embed behavior used once the queue drains.
func (m *Embedder) SetEmbed(f EmbedderEmbed) {
	m.m.Set("Embed", f)
}

// Embed implements memory.Embedder.
func (m *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if f := m.m.Next("Embed"); f != nil {
		return f.(EmbedderEmbed)(ctx, text)
	}
	m.t.Helper()
	m.t.Error("unexpected Embed call")
	return nil, nil
}

// HasMore reports whether queued behaviors remain.
func (m *Embedder) HasMore() bool {
	return m.m.HasMore()
}
