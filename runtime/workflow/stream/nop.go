package stream

import "context"

type nopSink struct{}

// NewNopSink returns a sink that accepts and discards every event. It serves
// callers that do not consume run streams.
func NewNopSink() Sink {
	return nopSink{}
}

// Send implements Sink.
func (nopSink) Send(context.Context, Event) error { return nil }

// Close implements Sink.
func (nopSink) Close(context.Context) error { return nil }
