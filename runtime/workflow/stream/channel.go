package stream

import (
	"context"
	"errors"
	"sync"
)

// ErrSinkClosed is returned by Send after the sink has been closed.
var ErrSinkClosed = errors.New("stream: sink closed")

// ChannelSink is an in-process Sink backed by a buffered Go channel. It backs
// tests, the demo command, and any embedder that consumes run events without
// an external transport. A full buffer applies backpressure to Send, which
// combined with the Publisher timeout yields the drop policy.
type ChannelSink struct {
	mu     sync.Mutex
	ch     chan Event
	closed bool
}

// NewChannelSink builds a sink with the given buffer size. Zero means
// unbuffered: every Send waits for a receiver.
func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{ch: make(chan Event, buffer)}
}

// Events returns the receive side of the sink. The channel is closed by
// Close, after the terminal event when driven by an executor.
func (s *ChannelSink) Events() <-chan Event {
	return s.ch
}

// Send implements Sink. It blocks until the event is buffered, the context
// expires, or the sink closes.
func (s *ChannelSink) Send(ctx context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	select {
	case s.ch <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements Sink. It closes the event channel; pending Send calls
// complete first because Close waits on the same lock.
func (s *ChannelSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.ch)
	return nil
}
