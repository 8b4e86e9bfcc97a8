package stream

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/braidflow/braid/runtime/workflow/telemetry"
)

// DefaultSendTimeout bounds how long a non-terminal event may wait on a slow
// sink before being dropped.
const DefaultSendTimeout = 100 * time.Millisecond

type (
	// PublisherOptions configures a Publisher.
	PublisherOptions struct {
		// Sink receives the published events. Required.
		Sink Sink

		// Logger records dropped events. Defaults to a no-op logger.
		Logger telemetry.Logger

		// Metrics counts dropped events. Defaults to no-op metrics.
		Metrics telemetry.Metrics

		// SendTimeout bounds non-terminal sends. Defaults to
		// DefaultSendTimeout.
		SendTimeout time.Duration
	}

	// Publisher applies the run event delivery policy on top of a Sink: a
	// slow or failing transport never blocks execution. Non-terminal events
	// are dropped after SendTimeout and counted; terminal events are always
	// delivered or returned as an error. Safe for concurrent use.
	Publisher struct {
		sink    Sink
		logger  telemetry.Logger
		metrics telemetry.Metrics
		timeout time.Duration
		dropped atomic.Int64
	}
)

// NewPublisher validates opts and builds a Publisher.
func NewPublisher(opts PublisherOptions) (*Publisher, error) {
	if opts.Sink == nil {
		return nil, errors.New("sink is required")
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNoopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.NewNoopMetrics()
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}
	return &Publisher{
		sink:    opts.Sink,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		timeout: opts.SendTimeout,
	}, nil
}

// Publish delivers ev to the sink. Non-terminal events that cannot be sent
// within the timeout are dropped and counted; the drop is not an error.
// Failure to deliver a terminal event is returned to the caller.
func (p *Publisher) Publish(ctx context.Context, ev Event) error {
	if Terminal(ev.Type()) {
		return p.sink.Send(ctx, ev)
	}
	sendCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.sink.Send(sendCtx, ev); err != nil {
		p.dropped.Add(1)
		p.metrics.IncCounter("workflow_events_dropped", 1, "type", string(ev.Type()))
		p.logger.Warn(ctx, "run event dropped",
			"run_id", ev.RunID(),
			"type", string(ev.Type()),
			"err", err.Error(),
		)
	}
	return nil
}

// Dropped returns the number of events dropped so far.
func (p *Publisher) Dropped() int64 {
	return p.dropped.Load()
}

// Close closes the underlying sink.
func (p *Publisher) Close(ctx context.Context) error {
	return p.sink.Close(ctx)
}
