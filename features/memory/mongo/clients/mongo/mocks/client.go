// Package mocks provides a function-queue mock for the Mongo memory client
// interface. Tests enqueue behaviors with the Add methods and assert
// exhaustion with HasMore.
package mocks

import (
	"context"
	"testing"

	"goa.design/clue/mock"

	clientsmongo "github.com/braidflow/braid/features/memory/mongo/clients/mongo"
)

type (
	// Client mocks the Mongo memory client.
	Client struct {
		m *mock.Mock
		t *testing.T
	}

	// ClientName is the signature of the Name method.
	ClientName func() string
	// ClientPing is the signature of the Ping method.
	ClientPing func(ctx context.Context) error
	// ClientUpsertEntry is the signature of the UpsertEntry method.
	ClientUpsertEntry func(ctx context.Context, workflowID string, rec clientsmongo.Record) error
	// ClientListEntries is the signature of the ListEntries method.
	ClientListEntries func(ctx context.Context, workflowID string) ([]clientsmongo.Record, error)
)

var _ clientsmongo.Client = (*Client)(nil)

// NewClient returns a mock Mongo memory client.
func NewClient(t *testing.T) *Client {
	return &Client{mock.New(), t}
}

// AddName enqueues a Name behavior.
func (m *Client) AddName(f ClientName) {
	m.m.Add("Name", f)
}

// SetName sets a permanent Name behavior.
func (m *Client) SetName(f ClientName) {
	m.m.Set("Name", f)
}

// AddPing enqueues a Ping behavior.
func (m *Client) AddPing(f ClientPing) {
	m.m.Add("Ping", f)
}

// SetPing sets a permanent Ping behavior.
func (m *Client) SetPing(f ClientPing) {
	m.m.Set("Ping", f)
}

// AddUpsertEntry enqueues an UpsertEntry behavior.
func (m *Client) AddUpsertEntry(f ClientUpsertEntry) {
	m.m.Add("UpsertEntry", f)
}

// SetUpsertEntry sets a permanent UpsertEntry behavior.
func (m *Client) SetUpsertEntry(f ClientUpsertEntry) {
	m.m.Set("UpsertEntry", f)
}

// AddListEntries enqueues a ListEntries behavior.
func (m *Client) AddListEntries(f ClientListEntries) {
	m.m.Add("ListEntries", f)
}

// SetListEntries sets a permanent ListEntries behavior.
func (m *Client) SetListEntries(f ClientListEntries) {
	m.m.Set("ListEntries", f)
}

// Name implements the client interface.
func (m *Client) Name() string {
	if f := m.m.Next("Name"); f != nil {
		return f.(ClientName)()
	}
	m.t.Helper()
	m.t.Error("unexpected Name call")
	return ""
}

// Ping implements the client interface.
func (m *Client) Ping(ctx context.Context) error {
	if f := m.m.Next("Ping"); f != nil {
		return f.(ClientPing)(ctx)
	}
	m.t.Helper()
	m.t.Error("unexpected Ping call")
	return nil
}

// UpsertEntry implements the client interface.
func (m *Client) UpsertEntry(ctx context.Context, workflowID string, rec clientsmongo.Record) error {
	if f := m.m.Next("UpsertEntry"); f != nil {
		return f.(ClientUpsertEntry)(ctx, workflowID, rec)
	}
	m.t.Helper()
	m.t.Error("unexpected UpsertEntry call")
	return nil
}

// ListEntries implements the client interface.
func (m *Client) ListEntries(ctx context.Context, workflowID string) ([]clientsmongo.Record, error) {
	if f := m.m.Next("ListEntries"); f != nil {
		return f.(ClientListEntries)(ctx, workflowID)
	}
	m.t.Helper()
	m.t.Error("unexpected ListEntries call")
	return nil, nil
}

// HasMore reports whether queued behaviors remain.
func (m *Client) HasMore() bool {
	return m.m.HasMore()
}
