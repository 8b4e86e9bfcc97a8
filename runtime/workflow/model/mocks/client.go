// Package mocks provides a function-queue mock for the model.Client
// interface. Tests enqueue behaviors with AddComplete and assert exhaustion
// with HasMore.
package mocks

import (
	"context"
	"testing"

	"goa.design/clue/mock"

	"github.com/braidflow/braid/runtime/workflow/model"
)

type (
	// Client mocks model.Client.
	Client struct {
		m *mock.Mock
		t *testing.T
	}

	// ClientComplete is the signature of the Complete method.
	ClientComplete func(ctx context.Context, req model.Request) (model.Response, error)
)

// NewClient returns a mock model client.
func NewClient(t *testing.T) *Client {
	return &Client{mock.New(), t}
}

// AddComplete enqueues a Complete behavior.
func (m *Client) AddComplete(f ClientComplete) {
	m.m.Add("Complete", f)
}

// SetComplete sets a permanent Complete behavior used once the queue drains.
func (m *Client) SetComplete(f ClientComplete) {
	m.m.Set("Complete", f)
}

// Complete implements model.Client.
func (m *Client) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	if f := m.m.Next("Complete"); f != nil {
		return f.(ClientComplete)(ctx, req)
	}
	m.t.Helper()
	m.t.Error("unexpected Complete call")
	return model.Response{}, nil
}

// HasMore reports whether queued behaviors remain.
func (m *Client) HasMore() bool {
	return m.m.HasMore()
}
