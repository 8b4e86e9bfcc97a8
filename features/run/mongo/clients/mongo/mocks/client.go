// Package mocks provides a function-queue mock for the Mongo run client
// interface. Tests enqueue behaviors with the Add methods and assert
// exhaustion with HasMore.
package mocks

import (
	"context"
	"testing"

	"goa.design/clue/mock"

	clientsmongo "github.com/braidflow/braid/features/run/mongo/clients/mongo"
	"github.com/braidflow/braid/runtime/workflow/run"
)

type (
	// Client mocks the Mongo run client.
	Client struct {
		m *mock.Mock
		t *testing.T
	}

	// ClientName is the signature of the Name method.
	ClientName func() string
	// ClientPing is the signature of the Ping method.
	ClientPing func(ctx context.Context) error
	// ClientInsertExecution is the signature of the InsertExecution method.
	ClientInsertExecution func(ctx context.Context, e *run.Execution) error
	// ClientReplaceExecution is the signature of the ReplaceExecution method.
	ClientReplaceExecution func(ctx context.Context, e *run.Execution) error
	// ClientFindExecution is the signature of the FindExecution method.
	ClientFindExecution func(ctx context.Context, id string) (*run.Execution, error)
	// ClientListExecutions is the signature of the ListExecutions method.
	ClientListExecutions func(ctx context.Context, limit int) ([]*run.Execution, error)
	// ClientUpsertStep is the signature of the UpsertStep method.
	ClientUpsertStep func(ctx context.Context, s *run.StepRecord) error
	// ClientListSteps is the signature of the ListSteps method.
	ClientListSteps func(ctx context.Context, runID string) ([]*run.StepRecord, error)
)

var _ clientsmongo.Client = (*Client)(nil)

// NewClient returns a mock Mongo run client.
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

// AddInsertExecution enqueues an InsertExecution behavior.
func (m *Client) AddInsertExecution(f ClientInsertExecution) {
	m.m.Add("InsertExecution", f)
}

// SetInsertExecution sets a permanent InsertExecution behavior.
func (m *Client) SetInsertExecution(f ClientInsertExecution) {
	m.m.Set("InsertExecution", f)
}

// AddReplaceExecution enqueues a ReplaceExecution behavior.
func (m *Client) AddReplaceExecution(f ClientReplaceExecution) {
	m.m.Add("ReplaceExecution", f)
}

// SetReplaceExecution sets a permanent ReplaceExecution behavior.
func (m *Client) SetReplaceExecution(f ClientReplaceExecution) {
	m.m.Set("ReplaceExecution", f)
}

// AddFindExecution enqueues a FindExecution behavior.
func (m *Client) AddFindExecution(f ClientFindExecution) {
	m.m.Add("FindExecution", f)
}

// SetFindExecution sets a permanent FindExecution behavior.
func (m *Client) SetFindExecution(f ClientFindExecution) {
	m.m.Set("FindExecution", f)
}

// AddListExecutions enqueues a ListExecutions behavior.
func (m *Client) AddListExecutions(f ClientListExecutions) {
	m.m.Add("ListExecutions", f)
}

// SetListExecutions sets a permanent ListExecutions behavior.
func (m *Client) SetListExecutions(f ClientListExecutions) {
	m.m.Set("ListExecutions", f)
}

// AddUpsertStep enqueues an UpsertStep behavior.
func (m *Client) AddUpsertStep(f ClientUpsertStep) {
	m.m.Add("UpsertStep", f)
}

// SetUpsertStep sets a permanent UpsertStep behavior.
func (m *Client) SetUpsertStep(f ClientUpsertStep) {
	m.m.Set("UpsertStep", f)
}

// AddListSteps enqueues a ListSteps behavior.
func (m *Client) AddListSteps(f ClientListSteps) {
	m.m.Add("ListSteps", f)
}

// SetListSteps sets a permanent ListSteps behavior.
func (m *Client) SetListSteps(f ClientListSteps) {
	m.m.Set("ListSteps", f)
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

// InsertExecution implements the client interface.
func (m *Client) InsertExecution(ctx context.Context, e *run.Execution) error {
	if f := m.m.Next("InsertExecution"); f != nil {
		return f.(ClientInsertExecution)(ctx, e)
	}
	m.t.Helper()
	m.t.Error("unexpected InsertExecution call")
	return nil
}

// ReplaceExecution implements the client interface.
func (m *Client) ReplaceExecution(ctx context.Context, e *run.Execution) error {
	if f := m.m.Next("ReplaceExecution"); f != nil {
		return f.(ClientReplaceExecution)(ctx, e)
	}
	m.t.Helper()
	m.t.Error("unexpected ReplaceExecution call")
	return nil
}

// FindExecution implements the client interface.
func (m *Client) FindExecution(ctx context.Context, id string) (*run.Execution, error) {
	if f := m.m.Next("FindExecution"); f != nil {
		return f.(ClientFindExecution)(ctx, id)
	}
	m.t.Helper()
	m.t.Error("unexpected FindExecution call")
	return nil, nil
}

// ListExecutions implements the client interface.
func (m *Client) ListExecutions(ctx context.Context, limit int) ([]*run.Execution, error) {
	if f := m.m.Next("ListExecutions"); f != nil {
		return f.(ClientListExecutions)(ctx, limit)
	}
	m.t.Helper()
	m.t.Error("unexpected ListExecutions call")
	return nil, nil
}

// UpsertStep implements the client interface.
func (m *Client) UpsertStep(ctx context.Context, s *run.StepRecord) error {
	if f := m.m.Next("UpsertStep"); f != nil {
		return f.(ClientUpsertStep)(ctx, s)
	}
	m.t.Helper()
	m.t.Error("unexpected UpsertStep call")
	return nil
}

// ListSteps implements the client interface.
func (m *Client) ListSteps(ctx context.Context, runID string) ([]*run.StepRecord, error) {
	if f := m.m.Next("ListSteps"); f != nil {
		return f.(ClientListSteps)(ctx, runID)
	}
	m.t.Helper()
	m.t.Error("unexpected ListSteps call")
	return nil, nil
}

// HasMore reports whether queued behaviors remain.
func (m *Client) HasMore() bool {
	return m.m.HasMore()
}
