// Package backtrack recovers failed steps. A step attempt that fails with a
// retryable error is retried under exponential backoff; a step that fails
// terminally is replaced by its configured fallback, once and without
// retries; and when recovery is exhausted the package computes which
// downstream steps are doomed by the failure.
package backtrack

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/braidflow/braid/runtime/workflow/graph"
	"github.com/braidflow/braid/runtime/workflow/model"
	"github.com/braidflow/braid/runtime/workflow/pricing"
	"github.com/braidflow/braid/runtime/workflow/stream"
	"github.com/braidflow/braid/runtime/workflow/telemetry"
)

// Backoff defaults. Delay for attempt n is base times 2^n, capped at the
// maximum.
const (
	DefaultBaseDelay = time.Second
	DefaultMaxDelay  = 10 * time.Second
)

type (
	// Options configures a Policy.
	Options struct {
		// Client executes model requests. Required.
		Client model.Client

		// Publisher emits agent_failed, agent_retrying, agent_fallback and
		// fallback agent_started events. Required.
		Publisher *stream.Publisher

		// Pricing prices completed attempts. Defaults to the built-in table.
		Pricing *pricing.Table

		// Logger defaults to a no-op logger.
		Logger telemetry.Logger

		// Metrics defaults to no-op metrics.
		Metrics telemetry.Metrics

		// BaseDelay is the first retry delay. Defaults to DefaultBaseDelay.
		BaseDelay time.Duration

		// MaxDelay caps the backoff. Defaults to DefaultMaxDelay.
		MaxDelay time.Duration

		// JitterFraction adds up to this fraction of uniform random extra
		// delay to each backoff. Zero disables jitter.
		JitterFraction float64
	}

	// Policy drives the retry and fallback protocol for one run. Safe for
	// concurrent use by parallel steps.
	Policy struct {
		client  model.Client
		pub     *stream.Publisher
		pricing *pricing.Table
		logger  telemetry.Logger
		metrics telemetry.Metrics
		base    time.Duration
		max     time.Duration
		jitter  float64
	}

	// Step is the unit of work handed to Execute: a resolved node, the
	// prompt assembled from its dependencies, and the optional fallback.
	Step struct {
		RunID  string
		NodeID string
		Name   string
		Group  int
		Config graph.Config

		// Prompt is the assembled user message for the step.
		Prompt string

		// Fallback, when non-nil, is executed once if the step fails
		// terminally. It receives the same prompt. A fallback never has a
		// fallback of its own.
		Fallback *Step
	}
)

// New validates opts and builds a Policy.
func New(opts Options) (*Policy, error) {
	if opts.Client == nil {
		return nil, errors.New("client is required")
	}
	if opts.Publisher == nil {
		return nil, errors.New("publisher is required")
	}
	if opts.Pricing == nil {
		opts.Pricing = pricing.Default()
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NewNoopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.NewNoopMetrics()
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultBaseDelay
	}
	if opts.MaxDelay <= 0 {
		opts.MaxDelay = DefaultMaxDelay
	}
	return &Policy{
		client:  opts.Client,
		pub:     opts.Publisher,
		pricing: opts.Pricing,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		base:    opts.BaseDelay,
		max:     opts.MaxDelay,
		jitter:  opts.JitterFraction,
	}, nil
}

// Execute runs step to a terminal outcome: completed, completed through the
// fallback, failed, or cancelled. All recovery events are published in order
// from the calling goroutine.
func (p *Policy) Execute(ctx context.Context, step Step) Outcome {
	out := p.attemptLoop(ctx, step)
	if out.Completed || out.Cancelled {
		return out
	}
	p.metrics.IncCounter("workflow_step_failures", 1, "node", step.NodeID, "kind", string(out.Kind))
	if step.Fallback == nil {
		return out
	}
	fb := p.runFallback(ctx, step, out)
	out.Fallback = &fb
	return out
}

// attemptLoop retries the step until success, a terminal failure, or
// cancellation.
func (p *Policy) attemptLoop(ctx context.Context, step Step) Outcome {
	out := Outcome{NodeID: step.NodeID}
	maxRetries := step.Config.Retries()
	for attempt := 0; ; attempt++ {
		out.Attempts = attempt + 1
		resp, err := p.complete(ctx, step)
		if err == nil {
			out.Completed = true
			out.Text = resp.Text
			out.Model = resp.Model
			out.Usage = resp.Usage
			out.Cost = p.cost(step.Config, resp)
			out.LatencyMS = resp.LatencyMS
			return out
		}
		if ctx.Err() != nil {
			out.Cancelled = true
			out.Err = err.Error()
			return out
		}
		out.Kind = model.KindOf(err)
		out.Err = err.Error()
		willRetry := model.IsRetryable(err) && attempt < maxRetries
		// Invalid responses rarely fix themselves: one extra attempt, no more.
		if out.Kind == model.KindInvalidResponse && attempt >= 1 {
			willRetry = false
		}
		p.publish(ctx, stream.NewAgentFailed(step.RunID, stream.AgentFailedPayload{
			AgentID:          step.NodeID,
			AgentName:        step.Name,
			Error:            out.Err,
			WillRetry:        willRetry,
			RetriesRemaining: maxRetries - attempt,
		}))
		if !willRetry {
			p.logger.Error(ctx, "step failed terminally",
				"run_id", step.RunID,
				"node", step.NodeID,
				"attempts", out.Attempts,
				"kind", string(out.Kind),
				"err", out.Err,
			)
			return out
		}
		if err := p.sleep(ctx, p.backoff(attempt)); err != nil {
			out.Cancelled = true
			return out
		}
		p.publish(ctx, stream.NewAgentRetrying(step.RunID, stream.AgentRetryingPayload{
			AgentID:     step.NodeID,
			AgentName:   step.Name,
			RetryNumber: attempt + 1,
		}))
	}
}

// runFallback executes the fallback exactly once with the original prompt.
func (p *Policy) runFallback(ctx context.Context, step Step, failed Outcome) FallbackOutcome {
	fb := *step.Fallback
	p.publish(ctx, stream.NewAgentFallback(step.RunID, stream.AgentFallbackPayload{
		OriginalAgentID:   step.NodeID,
		FallbackAgentID:   fb.NodeID,
		FallbackAgentName: fb.Name,
		Reason:            failed.Err,
	}))
	p.publish(ctx, stream.NewAgentStarted(step.RunID, stream.AgentStartedPayload{
		AgentID:       fb.NodeID,
		AgentName:     fb.Name,
		ParallelGroup: step.Group,
	}))

	out := FallbackOutcome{NodeID: fb.NodeID, Name: fb.Name}
	resp, err := p.complete(ctx, fb)
	if err != nil {
		out.Err = err.Error()
		out.Kind = model.KindOf(err)
		if ctx.Err() == nil {
			p.publish(ctx, stream.NewAgentFailed(step.RunID, stream.AgentFailedPayload{
				AgentID:          fb.NodeID,
				AgentName:        fb.Name,
				Error:            out.Err,
				WillRetry:        false,
				RetriesRemaining: 0,
			}))
		}
		return out
	}
	out.Completed = true
	out.Text = resp.Text
	out.Model = resp.Model
	out.Usage = resp.Usage
	out.Cost = p.cost(fb.Config, resp)
	out.LatencyMS = resp.LatencyMS
	return out
}

// complete performs one model call with the step's timeout applied.
func (p *Policy) complete(ctx context.Context, step Step) (model.Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, step.Config.Timeout())
	defer cancel()
	return p.client.Complete(attemptCtx, model.Request{
		Provider:     step.Config.Provider,
		Model:        step.Config.Model,
		SystemPrompt: step.Config.SystemPrompt,
		UserMessage:  step.Prompt,
		Temperature:  step.Config.Temperature,
		MaxTokens:    step.Config.MaxTokens,
		Timeout:      step.Config.Timeout(),
	})
}

func (p *Policy) cost(cfg graph.Config, resp model.Response) float64 {
	if resp.Cost > 0 {
		return resp.Cost
	}
	return p.pricing.Cost(cfg.Provider, cfg.Model, resp.Usage.Prompt, resp.Usage.Completion)
}

// backoff returns the delay before retry number attempt+1.
func (p *Policy) backoff(attempt int) time.Duration {
	delay := p.base << uint(attempt)
	if delay > p.max || delay <= 0 {
		delay = p.max
	}
	if p.jitter > 0 {
		if extra := int64(float64(delay) * p.jitter); extra > 0 {
			delay += time.Duration(rand.Int63n(extra))
		}
	}
	return delay
}

func (p *Policy) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Policy) publish(ctx context.Context, ev stream.Event) {
	if err := p.pub.Publish(ctx, ev); err != nil {
		p.logger.Warn(ctx, "publish recovery event", "type", string(ev.Type()), "err", err.Error())
	}
}
