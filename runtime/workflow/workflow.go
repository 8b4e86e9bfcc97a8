// Package workflow is the orchestration entry point. It decodes workflow
// documents, plans them into parallel groups, prices the plan against the
// caller's budget, and executes admitted runs asynchronously with typed
// state events on a stream sink.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/braidflow/braid/runtime/workflow/budget"
	"github.com/braidflow/braid/runtime/workflow/executor"
	"github.com/braidflow/braid/runtime/workflow/graph"
	"github.com/braidflow/braid/runtime/workflow/memory"
	"github.com/braidflow/braid/runtime/workflow/model"
	"github.com/braidflow/braid/runtime/workflow/planner"
	"github.com/braidflow/braid/runtime/workflow/pricing"
	"github.com/braidflow/braid/runtime/workflow/run"
	runmem "github.com/braidflow/braid/runtime/workflow/run/inmem"
	"github.com/braidflow/braid/runtime/workflow/stream"
	"github.com/braidflow/braid/runtime/workflow/telemetry"
)

type (
	// Options configures an Orchestrator.
	Options struct {
		// Client executes model requests. Required.
		Client model.Client

		// Store persists executions and steps. Defaults to an in-memory
		// store.
		Store run.Store

		// Sink receives run events. Defaults to a discarding sink.
		Sink stream.Sink

		// Memory enables step recall and save. Optional.
		Memory memory.Store

		// Pricing prices estimates and usage. Defaults to the built-in
		// table.
		Pricing *pricing.Table

		// Tools maps tool types to runners.
		Tools map[string]executor.ToolFunc

		// Logger defaults to a no-op logger.
		Logger telemetry.Logger

		// Metrics defaults to no-op metrics.
		Metrics telemetry.Metrics

		// Tracer defaults to a no-op tracer.
		Tracer telemetry.Tracer

		// MaxNodes overrides the planner's node limit.
		MaxNodes int

		// RetryBaseDelay, RetryMaxDelay and JitterFraction tune retry
		// backoff.
		RetryBaseDelay time.Duration
		RetryMaxDelay  time.Duration
		JitterFraction float64

		// SendTimeout bounds non-terminal event delivery.
		SendTimeout time.Duration
	}

	// Orchestrator plans, gates and executes workflows.
	Orchestrator struct {
		exec     *executor.Executor
		store    run.Store
		pricing  *pricing.Table
		logger   telemetry.Logger
		maxNodes int

		mu     sync.Mutex
		active map[string]*Run
		closed bool
	}

	// SubmitRequest describes one workflow submission.
	SubmitRequest struct {
		// Definition is the workflow document JSON. Either Definition or
		// Graph is required.
		Definition []byte

		// Graph submits an already-decoded graph.
		Graph *graph.Graph

		// Name overrides the definition's display name.
		Name string

		// Input is the root user input handed to source steps.
		Input string

		// Limits bounds the run's token and cost consumption.
		Limits budget.Limits

		// Force admits a run whose estimate exceeds the limits. The runtime
		// enforcer still halts the run when consumption reaches a limit.
		Force bool
	}

	// Preview is the result of planning and pricing a document without
	// executing it.
	Preview struct {
		Definition *graph.Definition
		Plan       *planner.Plan
		Estimate   budget.Estimate

		// Suggestions ranks budget reductions, largest savings first.
		// Populated when the limits include a max cost.
		Suggestions []budget.Suggestion

		// WithinBudget reports whether the estimate fits the limits.
		WithinBudget bool
	}
)

// New validates opts and builds an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Client == nil {
		return nil, errors.New("client is required")
	}
	store := opts.Store
	if store == nil {
		store = runmem.New()
	}
	sink := opts.Sink
	if sink == nil {
		sink = stream.NewNopSink()
	}
	table := opts.Pricing
	if table == nil {
		table = pricing.Default()
	}
	logger := opts.Logger
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	exec, err := executor.New(executor.Options{
		Client:         opts.Client,
		Store:          store,
		Sink:           sink,
		Memory:         opts.Memory,
		Pricing:        table,
		Tools:          opts.Tools,
		Logger:         logger,
		Metrics:        opts.Metrics,
		Tracer:         opts.Tracer,
		RetryBaseDelay: opts.RetryBaseDelay,
		RetryMaxDelay:  opts.RetryMaxDelay,
		JitterFraction: opts.JitterFraction,
		SendTimeout:    opts.SendTimeout,
	})
	if err != nil {
		return nil, err
	}
	return &Orchestrator{
		exec:     exec,
		store:    store,
		pricing:  table,
		logger:   logger,
		maxNodes: opts.MaxNodes,
		active:   make(map[string]*Run),
	}, nil
}

// Preview plans and prices a workflow document without executing it.
func (o *Orchestrator) Preview(doc []byte, limits budget.Limits) (*Preview, error) {
	def, err := graph.DecodeDefinition(doc)
	if err != nil {
		return nil, err
	}
	plan, err := planner.Build(def.Graph, o.plannerOpts()...)
	if err != nil {
		return nil, err
	}
	est := budget.EstimatePlan(plan, def.Graph, o.pricing)
	p := &Preview{
		Definition:   def,
		Plan:         plan,
		Estimate:     est,
		WithinBudget: fits(est, limits),
	}
	if limits.MaxCost != nil {
		p.Suggestions = budget.Suggest(est, *limits.MaxCost, def.Graph, o.pricing)
	}
	return p, nil
}

// Submit admits and launches a run. The run executes on its own goroutine;
// the returned handle waits for or cancels it. Submissions whose estimate
// exceeds the limits are rejected with a *BudgetError carrying reduction
// suggestions, unless forced.
func (o *Orchestrator) Submit(ctx context.Context, req SubmitRequest) (*Run, error) {
	var (
		g    *graph.Graph
		name string
		raw  json.RawMessage
	)
	switch {
	case len(req.Definition) > 0:
		def, err := graph.DecodeDefinition(req.Definition)
		if err != nil {
			return nil, err
		}
		g, name, raw = def.Graph, def.Name, req.Definition
	case req.Graph != nil:
		g = req.Graph
	default:
		return nil, errors.New("definition or graph is required")
	}
	if req.Name != "" {
		name = req.Name
	}

	plan, err := planner.Build(g, o.plannerOpts()...)
	if err != nil {
		return nil, err
	}
	est := budget.EstimatePlan(plan, g, o.pricing)
	if !req.Force && !fits(est, req.Limits) {
		berr := &BudgetError{Estimate: est, Limits: req.Limits}
		if req.Limits.MaxCost != nil {
			berr.Suggestions = budget.Suggest(est, *req.Limits.MaxCost, g, o.pricing)
		}
		return nil, berr
	}

	runID := uuid.NewString()
	now := time.Now().UTC()
	estCost := est.TotalCost
	exec := &run.Execution{
		ID:            runID,
		WorkflowName:  name,
		Input:         req.Input,
		Definition:    raw,
		Plan:          plan,
		Limits:        req.Limits,
		EstimatedCost: &estCost,
		Status:        run.RunPending,
		CreatedAt:     now,
	}
	if err := o.store.CreateExecution(ctx, exec); err != nil {
		return nil, err
	}

	// The run outlives the submission context but keeps its values, so
	// trace propagation survives while request cancellation does not.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &Run{ID: runID, Estimate: est, cancel: cancel, done: make(chan struct{})}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		cancel()
		return nil, errors.New("orchestrator is closed")
	}
	o.active[runID] = r
	o.mu.Unlock()

	go func() {
		defer close(r.done)
		defer func() {
			o.mu.Lock()
			delete(o.active, runID)
			o.mu.Unlock()
			cancel()
		}()
		r.res, r.err = o.exec.Run(runCtx, executor.Request{
			RunID:         runID,
			WorkflowName:  name,
			Input:         req.Input,
			Graph:         g,
			Plan:          plan,
			Limits:        req.Limits,
			EstimatedCost: &estCost,
			Execution:     exec,
		})
	}()
	return r, nil
}

// Execute submits the workflow and waits for the terminal result. When ctx
// ends before the run finishes, the run is cancelled.
func (o *Orchestrator) Execute(ctx context.Context, req SubmitRequest) (*executor.Result, error) {
	r, err := o.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	res, err := r.Wait(ctx)
	if err != nil {
		r.Cancel()
		return nil, err
	}
	return res, nil
}

// RunHandle returns the handle for an active run.
func (o *Orchestrator) RunHandle(id string) (*Run, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	r, ok := o.active[id]
	return r, ok
}

// Cancel interrupts an active run. Returns false when no run with the ID is
// active.
func (o *Orchestrator) Cancel(id string) bool {
	r, ok := o.RunHandle(id)
	if ok {
		r.Cancel()
	}
	return ok
}

// Execution returns the stored record for a run.
func (o *Orchestrator) Execution(ctx context.Context, id string) (*run.Execution, error) {
	return o.store.Execution(ctx, id)
}

// Executions returns the most recent runs, newest first.
func (o *Orchestrator) Executions(ctx context.Context, limit int) ([]*run.Execution, error) {
	return o.store.ListExecutions(ctx, limit)
}

// Steps returns a run's step records in execution order.
func (o *Orchestrator) Steps(ctx context.Context, runID string) ([]*run.StepRecord, error) {
	return o.store.Steps(ctx, runID)
}

// Close rejects new submissions, cancels active runs and waits for them to
// settle or for ctx to end.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	runs := make([]*Run, 0, len(o.active))
	for _, r := range o.active {
		runs = append(runs, r)
	}
	o.mu.Unlock()

	for _, r := range runs {
		r.cancel()
	}
	for _, r := range runs {
		select {
		case <-r.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (o *Orchestrator) plannerOpts() []planner.Option {
	if o.maxNodes > 0 {
		return []planner.Option{planner.WithMaxNodes(o.maxNodes)}
	}
	return nil
}

func fits(est budget.Estimate, l budget.Limits) bool {
	if l.MaxCost != nil && est.TotalCost > *l.MaxCost {
		return false
	}
	if l.MaxTokens != nil && est.TotalTokens > *l.MaxTokens {
		return false
	}
	return true
}
