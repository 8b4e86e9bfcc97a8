// Package pulse exposes a stream.Sink implementation that publishes run
// events to goa.design/pulse streams backed by Redis, and a Subscriber that
// reads them back as typed events. Each run gets its own stream named
// run/<RunID>; events travel as the standard JSON envelope with the Pulse
// entry keyed by event type so consumers can filter without decoding.
package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	clientspulse "github.com/braidflow/braid/features/stream/pulse/clients/pulse"
	"github.com/braidflow/braid/runtime/workflow/stream"
)

// runStreamPrefix namespaces per-run streams in Redis.
const runStreamPrefix = "run/"

// RunStreamID returns the Pulse stream name carrying events for the run.
func RunStreamID(runID string) string {
	return runStreamPrefix + runID
}

// RunIDFromStream extracts the run ID from a stream name produced by
// RunStreamID. Names without the prefix are returned unchanged so custom
// stream layouts still yield a usable run key.
func RunIDFromStream(streamID string) string {
	return strings.TrimPrefix(streamID, runStreamPrefix)
}

type (
	// Options configures the Pulse sink.
	Options struct {
		// Client is the Pulse client used to publish events. Required.
		Client clientspulse.Client
		// StreamID derives the target Pulse stream from an event. Defaults to
		// run/<RunID>.
		StreamID func(stream.Event) (string, error)
		// OnPublished is invoked after each successful publish with the entry ID
		// assigned by Redis. Errors returned by the hook propagate to Send.
		OnPublished func(ctx context.Context, ev PublishedEvent) error
	}

	// PublishedEvent describes one event successfully written to a stream.
	PublishedEvent struct {
		// Event is the run event that was published.
		Event stream.Event
		// StreamID is the Pulse stream the event was written to.
		StreamID string
		// EntryID is the Redis entry ID assigned to the event.
		EntryID string
	}

	// Sink publishes run events into Pulse streams. Safe for concurrent Send
	// calls; Send after Close returns stream.ErrSinkClosed.
	Sink struct {
		client      clientspulse.Client
		streamID    func(stream.Event) (string, error)
		onPublished func(ctx context.Context, ev PublishedEvent) error
		closed      atomic.Bool
	}
)

var _ stream.Sink = (*Sink)(nil)

// NewSink constructs a Pulse-backed stream sink. The Client field in opts is
// required; StreamID defaults to the run/<RunID> scheme.
func NewSink(opts Options) (*Sink, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	streamID := opts.StreamID
	if streamID == nil {
		streamID = defaultStreamID
	}
	return &Sink{
		client:      opts.Client,
		streamID:    streamID,
		onPublished: opts.OnPublished,
	}, nil
}

// Send implements stream.Sink. It derives the stream name, wraps the event in
// its JSON envelope and appends it to the stream under the event type.
func (s *Sink) Send(ctx context.Context, event stream.Event) error {
	if s.closed.Load() {
		return stream.ErrSinkClosed
	}
	streamID, err := s.streamID(event)
	if err != nil {
		return err
	}
	handle, err := s.client.Stream(streamID)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(stream.NewEnvelope(event))
	if err != nil {
		return fmt.Errorf("encode stream envelope: %w", err)
	}
	id, err := handle.Add(ctx, string(event.Type()), payload)
	if err != nil {
		return err
	}
	if s.onPublished != nil {
		return s.onPublished(ctx, PublishedEvent{Event: event, StreamID: streamID, EntryID: id})
	}
	return nil
}

// Close implements stream.Sink. The first call releases the underlying
// client; later calls are no-ops.
func (s *Sink) Close(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.client.Close(ctx)
}

// defaultStreamID derives the Pulse stream name from the event's run ID.
func defaultStreamID(event stream.Event) (string, error) {
	if event.RunID() == "" {
		return "", errors.New("stream event missing run id")
	}
	return RunStreamID(event.RunID()), nil
}
