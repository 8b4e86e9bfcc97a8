// Package mocks provides function-queue mocks for the Pulse client, stream
// and sink interfaces. Tests enqueue behaviors with the Add methods and
// assert exhaustion with HasMore.
package mocks

import (
	"context"
	"testing"

	"goa.design/clue/mock"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"

	clientspulse "github.com/braidflow/braid/features/stream/pulse/clients/pulse"
)

type (
	// Client mocks the Pulse client.
	Client struct {
		m *mock.Mock
		t *testing.T
	}

	// ClientName is the signature of the Name method.
	ClientName func() string
	// ClientPing is the signature of the Ping method.
	ClientPing func(ctx context.Context) error
	// ClientStream is the signature of the Stream method.
	ClientStream func(name string, opts ...streamopts.Stream) (clientspulse.Stream, error)
	// ClientClose is the signature of the Close method.
	ClientClose func(ctx context.Context) error

	// Stream mocks a Pulse stream handle.
	Stream struct {
		m *mock.Mock
		t *testing.T
	}

	// StreamAdd is the signature of the Add method.
	StreamAdd func(ctx context.Context, event string, payload []byte) (string, error)
	// StreamNewSink is the signature of the NewSink method.
	StreamNewSink func(ctx context.Context, name string, opts ...streamopts.Sink) (clientspulse.Sink, error)
	// StreamDestroy is the signature of the Destroy method.
	StreamDestroy func(ctx context.Context) error

	// Sink mocks a Pulse sink (consumer group).
	Sink struct {
		m *mock.Mock
		t *testing.T
	}

	// SinkSubscribe is the signature of the Subscribe method.
	SinkSubscribe func() <-chan *streaming.Event
	// SinkAck is the signature of the Ack method.
	SinkAck func(ctx context.Context, evt *streaming.Event) error
	// SinkClose is the signature of the Close method.
	SinkClose func(ctx context.Context)
)

var (
	_ clientspulse.Client = (*Client)(nil)
	_ clientspulse.Stream = (*Stream)(nil)
	_ clientspulse.Sink   = (*Sink)(nil)
)

// NewClient returns a mock Pulse client.
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

// AddStream enqueues a Stream behavior.
func (m *Client) AddStream(f ClientStream) {
	m.m.Add("Stream", f)
}

// SetStream sets a permanent Stream behavior.
func (m *Client) SetStream(f ClientStream) {
	m.m.Set("Stream", f)
}

// AddClose enqueues a Close behavior.
func (m *Client) AddClose(f ClientClose) {
	m.m.Add("Close", f)
}

// SetClose sets a permanent Close behavior.
func (m *Client) SetClose(f ClientClose) {
	m.m.Set("Close", f)
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

// Stream implements the client interface.
func (m *Client) Stream(name string, opts ...streamopts.Stream) (clientspulse.Stream, error) {
	if f := m.m.Next("Stream"); f != nil {
		return f.(ClientStream)(name, opts...)
	}
	m.t.Helper()
	m.t.Error("unexpected Stream call")
	return nil, nil
}

// Close implements the client interface.
func (m *Client) Close(ctx context.Context) error {
	if f := m.m.Next("Close"); f != nil {
		return f.(ClientClose)(ctx)
	}
	m.t.Helper()
	m.t.Error("unexpected Close call")
	return nil
}

// HasMore reports whether queued behaviors remain.
func (m *Client) HasMore() bool {
	return m.m.HasMore()
}

// NewStream returns a mock Pulse stream handle.
func NewStream(t *testing.T) *Stream {
	return &Stream{mock.New(), t}
}

// AddAdd enqueues an Add behavior.
func (m *Stream) AddAdd(f StreamAdd) {
	m.m.Add("Add", f)
}

// SetAdd sets a permanent Add behavior.
func (m *Stream) SetAdd(f StreamAdd) {
	m.m.Set("Add", f)
}

// AddNewSink enqueues a NewSink behavior.
func (m *Stream) AddNewSink(f StreamNewSink) {
	m.m.Add("NewSink", f)
}

// SetNewSink sets a permanent NewSink behavior.
func (m *Stream) SetNewSink(f StreamNewSink) {
	m.m.Set("NewSink", f)
}

// AddDestroy enqueues a Destroy behavior.
func (m *Stream) AddDestroy(f StreamDestroy) {
	m.m.Add("Destroy", f)
}

// SetDestroy sets a permanent Destroy behavior.
func (m *Stream) SetDestroy(f StreamDestroy) {
	m.m.Set("Destroy", f)
}

// Add implements the stream interface.
func (m *Stream) Add(ctx context.Context, event string, payload []byte) (string, error) {
	if f := m.m.Next("Add"); f != nil {
		return f.(StreamAdd)(ctx, event, payload)
	}
	m.t.Helper()
	m.t.Error("unexpected Add call")
	return "", nil
}

// NewSink implements the stream interface.
func (m *Stream) NewSink(ctx context.Context, name string, opts ...streamopts.Sink) (clientspulse.Sink, error) {
	if f := m.m.Next("NewSink"); f != nil {
		return f.(StreamNewSink)(ctx, name, opts...)
	}
	m.t.Helper()
	m.t.Error("unexpected NewSink call")
	return nil, nil
}

// Destroy implements the stream interface.
func (m *Stream) Destroy(ctx context.Context) error {
	if f := m.m.Next("Destroy"); f != nil {
		return f.(StreamDestroy)(ctx)
	}
	m.t.Helper()
	m.t.Error("unexpected Destroy call")
	return nil
}

// HasMore reports whether queued behaviors remain.
func (m *Stream) HasMore() bool {
	return m.m.HasMore()
}

// NewSink returns a mock Pulse sink.
func NewSink(t *testing.T) *Sink {
	return &Sink{mock.New(), t}
}

// AddSubscribe enqueues a Subscribe behavior.
func (m *Sink) AddSubscribe(f SinkSubscribe) {
	m.m.Add("Subscribe", f)
}

// SetSubscribe sets a permanent Subscribe behavior.
func (m *Sink) SetSubscribe(f SinkSubscribe) {
	m.m.Set("Subscribe", f)
}

// AddAck enqueues an Ack behavior.
func (m *Sink) AddAck(f SinkAck) {
	m.m.Add("Ack", f)
}

// SetAck sets a permanent Ack behavior.
func (m *Sink) SetAck(f SinkAck) {
	m.m.Set("Ack", f)
}

// AddClose enqueues a Close behavior.
func (m *Sink) AddClose(f SinkClose) {
	m.m.Add("Close", f)
}

// SetClose sets a permanent Close behavior.
func (m *Sink) SetClose(f SinkClose) {
	m.m.Set("Close", f)
}

// Subscribe implements the sink interface.
func (m *Sink) Subscribe() <-chan *streaming.Event {
	if f := m.m.Next("Subscribe"); f != nil {
		return f.(SinkSubscribe)()
	}
	m.t.Helper()
	m.t.Error("unexpected Subscribe call")
	return nil
}

// Ack implements the sink interface.
func (m *Sink) Ack(ctx context.Context, evt *streaming.Event) error {
	if f := m.m.Next("Ack"); f != nil {
		return f.(SinkAck)(ctx, evt)
	}
	m.t.Helper()
	m.t.Error("unexpected Ack call")
	return nil
}

// Close implements the sink interface.
func (m *Sink) Close(ctx context.Context) {
	if f := m.m.Next("Close"); f != nil {
		f.(SinkClose)(ctx)
		return
	}
	m.t.Helper()
	m.t.Error("unexpected Close call")
}

// HasMore reports whether queued behaviors remain.
func (m *Sink) HasMore() bool {
	return m.m.HasMore()
}
