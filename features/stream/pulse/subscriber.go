package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	streamopts "goa.design/pulse/streaming/options"

	clientspulse "github.com/braidflow/braid/features/stream/pulse/clients/pulse"
	"github.com/braidflow/braid/runtime/workflow/stream"
)

const (
	// DefaultSinkName identifies the subscriber's Pulse consumer group.
	DefaultSinkName = "braid_subscriber"

	// DefaultBuffer is the default event channel capacity.
	DefaultBuffer = 64
)

type (
	// EnvelopeDecoder converts raw payloads read from Pulse into run events.
	// runID names the run the subscribed stream belongs to; the wire envelope
	// does not repeat it per event.
	EnvelopeDecoder func(runID string, payload []byte) (stream.Event, error)

	// SubscriberOptions configures a Pulse-backed subscriber.
	SubscriberOptions struct {
		// Client is the Pulse client used to consume events. Required.
		Client clientspulse.Client
		// SinkName identifies the Pulse consumer group. Defaults to DefaultSinkName.
		SinkName string
		// Buffer specifies the event channel capacity. Defaults to DefaultBuffer.
		Buffer int
		// Decoder deserializes event payloads. Defaults to the built-in JSON
		// envelope decoder.
		Decoder EnvelopeDecoder
	}

	// Subscriber consumes Pulse run streams and emits typed run events. It
	// wraps a Pulse sink (consumer group) and decodes incoming envelopes into
	// stream.Event values.
	Subscriber struct {
		client clientspulse.Client
		buffer int
		name   string
		decode EnvelopeDecoder
	}

	// decodedEvent implements stream.Event for Pulse-decoded envelopes.
	decodedEvent struct {
		t   stream.EventType
		run string
		ts  time.Time
		p   json.RawMessage
	}
)

func (e decodedEvent) Type() stream.EventType { return e.t }
func (e decodedEvent) RunID() string          { return e.run }
func (e decodedEvent) Timestamp() time.Time   { return e.ts }
func (e decodedEvent) Payload() any           { return e.p }

// NewSubscriber constructs a Pulse-backed subscriber. The Client field in
// opts is required; SinkName, Buffer and Decoder default to the package
// defaults when zero.
func NewSubscriber(opts SubscriberOptions) (*Subscriber, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	name := opts.SinkName
	if name == "" {
		name = DefaultSinkName
	}
	buffer := opts.Buffer
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	decoder := opts.Decoder
	if decoder == nil {
		decoder = decodeEnvelope
	}
	return &Subscriber{
		client: opts.Client,
		buffer: buffer,
		name:   name,
		decode: decoder,
	}, nil
}

// Subscribe opens a Pulse sink on the given stream and returns channels for
// events and errors. A goroutine consumes from the sink, decodes envelopes
// and emits run events, acking each one after emission. Both channels close
// when the stream ends with its execution_completed event, when ctx is
// canceled, or when the returned cancel function is called.
//
// Usage:
//
//	events, errs, cancel, err := sub.Subscribe(ctx, pulse.RunStreamID(runID))
//	defer cancel()
//	for evt := range events {
//	    // process event
//	}
func (s *Subscriber) Subscribe(
	ctx context.Context,
	streamID string,
	opts ...streamopts.Sink,
) (<-chan stream.Event, <-chan error, context.CancelFunc, error) {
	str, err := s.client.Stream(streamID)
	if err != nil {
		return nil, nil, nil, err
	}
	sink, err := str.NewSink(ctx, s.name, opts...)
	if err != nil {
		return nil, nil, nil, err
	}
	events := make(chan stream.Event, s.buffer)
	errs := make(chan error, 1)
	runCtx, cancel := context.WithCancel(ctx)
	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			sink.Close(context.Background())
		})
	}
	go s.consume(runCtx, RunIDFromStream(streamID), sink, events, errs, stop)
	return events, errs, stop, nil
}

// consume reads events from the Pulse sink channel, decodes them and emits
// them on out. Decode and ack failures land on errs and end consumption. The
// execution_completed event ends every run stream, so consumption stops and
// the sink is released once it has been emitted and acked.
func (s *Subscriber) consume(
	ctx context.Context,
	runID string,
	sink clientspulse.Sink,
	out chan<- stream.Event,
	errs chan<- error,
	stop func(),
) {
	defer close(out)
	defer close(errs)
	ch := sink.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			decoded, err := s.decode(runID, evt.Payload)
			if err != nil {
				errs <- fmt.Errorf("pulse decode payload: %w", err)
				return
			}
			select {
			case out <- decoded:
			case <-ctx.Done():
				return
			}
			if ackErr := sink.Ack(ctx, evt); ackErr != nil {
				errs <- fmt.Errorf("pulse ack: %w", ackErr)
				return
			}
			if decoded.Type() == stream.EventExecutionCompleted {
				stop()
				return
			}
		}
	}
}

// decodeEnvelope deserializes the standard JSON envelope, stamping the run ID
// derived from the subscribed stream. Returns an error if the payload is
// malformed JSON; a malformed timestamp degrades to the zero time rather than
// dropping the event.
func decodeEnvelope(runID string, payload []byte) (stream.Event, error) {
	var env struct {
		Type      stream.EventType `json:"type"`
		Timestamp string           `json:"timestamp"`
		Payload   json.RawMessage  `json:"payload"`
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, err
	}
	ts, _ := time.Parse(stream.TimestampLayout, env.Timestamp)
	return decodedEvent{t: env.Type, run: runID, ts: ts, p: env.Payload}, nil
}
