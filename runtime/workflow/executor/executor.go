// Package executor runs execution plans. Groups run in order; the steps of a
// group run concurrently, each through the retry and fallback protocol. The
// driver owns all run state: workers execute steps and publish their own
// lifecycle events, while state transitions, persistence, skip propagation
// and budget accounting happen on the driver goroutine between groups.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"

	"github.com/braidflow/braid/runtime/workflow/backtrack"
	"github.com/braidflow/braid/runtime/workflow/budget"
	"github.com/braidflow/braid/runtime/workflow/graph"
	"github.com/braidflow/braid/runtime/workflow/memory"
	"github.com/braidflow/braid/runtime/workflow/model"
	"github.com/braidflow/braid/runtime/workflow/planner"
	"github.com/braidflow/braid/runtime/workflow/pricing"
	"github.com/braidflow/braid/runtime/workflow/run"
	"github.com/braidflow/braid/runtime/workflow/stream"
	"github.com/braidflow/braid/runtime/workflow/telemetry"
)

type (
	// Options configures an Executor.
	Options struct {
		// Client executes model requests for agent steps. Required.
		Client model.Client

		// Store persists execution and step records. Required.
		Store run.Store

		// Sink receives run events. The executor wraps it in a per-run
		// publisher so drop counts are tracked per run. Required.
		Sink stream.Sink

		// Memory provides recall and save for steps that configure a
		// recall query or memory key. Optional.
		Memory memory.Store

		// Pricing prices step usage. Defaults to the built-in table.
		Pricing *pricing.Table

		// Tools maps tool types to runners for tool steps.
		Tools map[string]ToolFunc

		// Logger defaults to a no-op logger.
		Logger telemetry.Logger

		// Metrics defaults to no-op metrics.
		Metrics telemetry.Metrics

		// Tracer defaults to a no-op tracer.
		Tracer telemetry.Tracer

		// RetryBaseDelay, RetryMaxDelay and JitterFraction tune the retry
		// backoff. Zero values use the protocol defaults.
		RetryBaseDelay time.Duration
		RetryMaxDelay  time.Duration
		JitterFraction float64

		// SendTimeout bounds non-terminal event delivery before the event
		// is dropped. Zero uses the publisher default.
		SendTimeout time.Duration
	}

	// ToolFunc executes one tool step and returns its output text.
	ToolFunc func(ctx context.Context, call ToolCall) (string, error)

	// ToolCall is the input handed to a tool runner.
	ToolCall struct {
		// NodeID is the tool step being executed.
		NodeID string

		// Config is the node's free-form tool configuration.
		Config map[string]any

		// Input is the assembled step input.
		Input string
	}

	// Executor runs workflow plans. Safe for concurrent use; each Run gets
	// its own publisher, retry policy and budget enforcer.
	Executor struct {
		client  model.Client
		store   run.Store
		sink    stream.Sink
		memory  memory.Store
		pricing *pricing.Table
		tools   map[string]ToolFunc
		logger  telemetry.Logger
		metrics telemetry.Metrics
		tracer  telemetry.Tracer

		retryBase   time.Duration
		retryMax    time.Duration
		jitter      float64
		sendTimeout time.Duration
	}

	// Request describes one run.
	Request struct {
		// RunID identifies the run. Required.
		RunID string

		// WorkflowName is the definition's display name. It also scopes
		// memory recall and save.
		WorkflowName string

		// Input is the root user input handed to source steps.
		Input string

		// Graph is the validated workflow graph. Required.
		Graph *graph.Graph

		// Plan is the execution plan for Graph. Required.
		Plan *planner.Plan

		// Limits is the budget the run executes under.
		Limits budget.Limits

		// EstimatedCost is the pre-run estimate, echoed in the opening
		// event when set.
		EstimatedCost *float64

		// Execution is the pre-created run record. When nil the executor
		// creates one.
		Execution *run.Execution
	}

	// Result is the terminal outcome of a run.
	Result struct {
		RunID  string
		Status run.RunStatus
		Totals run.Totals

		// Outputs holds the final text per completed node, keyed by the
		// original node ID even when a fallback produced it.
		Outputs map[string]Output

		// Error is the terminal error message for failed runs.
		Error string

		// DroppedEvents counts events dropped under backpressure.
		DroppedEvents int64
	}

	// Output is one completed step output.
	Output struct {
		NodeID string
		Name   string
		Text   string

		// Fallback reports that the text came from the node's substitute.
		Fallback bool
	}
)

// New validates opts and builds an Executor.
func New(opts Options) (*Executor, error) {
	if opts.Client == nil {
		return nil, errors.New("client is required")
	}
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	if opts.Sink == nil {
		return nil, errors.New("sink is required")
	}
	e := &Executor{
		client:      opts.Client,
		store:       opts.Store,
		sink:        opts.Sink,
		memory:      opts.Memory,
		pricing:     opts.Pricing,
		tools:       make(map[string]ToolFunc, len(opts.Tools)),
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		tracer:      opts.Tracer,
		retryBase:   opts.RetryBaseDelay,
		retryMax:    opts.RetryMaxDelay,
		jitter:      opts.JitterFraction,
		sendTimeout: opts.SendTimeout,
	}
	for name, fn := range opts.Tools {
		e.tools[name] = fn
	}
	if e.pricing == nil {
		e.pricing = pricing.Default()
	}
	if e.logger == nil {
		e.logger = telemetry.NewNoopLogger()
	}
	if e.metrics == nil {
		e.metrics = telemetry.NewNoopMetrics()
	}
	if e.tracer == nil {
		e.tracer = telemetry.NewNoopTracer()
	}
	return e, nil
}

// runState is the driver-owned state of one run. Only the driver goroutine
// reads or writes it; workers receive their inputs by value.
type runState struct {
	req   Request
	exec  *run.Execution
	graph *graph.Graph
	plan  *planner.Plan

	// persistCtx survives caller cancellation so records and the terminal
	// event still land when a run is cancelled.
	persistCtx context.Context

	status   map[string]run.Status
	outputs  map[string]Output
	records  map[string]*run.StepRecord
	orderSeq int
	totals   run.Totals

	// internal is the first recovered panic message. Set only from the
	// driver after a group join; a non-empty value fails the run.
	internal string

	enforcer *budget.Enforcer
	pub      *stream.Publisher
	policy   *backtrack.Policy
	store    run.Store
	logger   telemetry.Logger
	metrics  telemetry.Metrics
}

// Run executes the plan and returns the terminal result. The returned error
// reports setup problems only; step failures, budget halts and cancellation
// are expressed in the Result status.
func (e *Executor) Run(ctx context.Context, req Request) (*Result, error) {
	if req.RunID == "" {
		return nil, errors.New("run ID is required")
	}
	if req.Graph == nil {
		return nil, errors.New("graph is required")
	}
	if req.Plan == nil {
		return nil, errors.New("plan is required")
	}

	pub, err := stream.NewPublisher(stream.PublisherOptions{
		Sink:        e.sink,
		Logger:      e.logger,
		Metrics:     e.metrics,
		SendTimeout: e.sendTimeout,
	})
	if err != nil {
		return nil, err
	}
	policy, err := backtrack.New(backtrack.Options{
		Client:         e.client,
		Publisher:      pub,
		Pricing:        e.pricing,
		Logger:         e.logger,
		Metrics:        e.metrics,
		BaseDelay:      e.retryBase,
		MaxDelay:       e.retryMax,
		JitterFraction: e.jitter,
	})
	if err != nil {
		return nil, err
	}

	ctx, span := e.tracer.Start(ctx, "workflow.run")
	defer span.End()

	start := time.Now().UTC()
	st := &runState{
		req:        req,
		graph:      req.Graph,
		plan:       req.Plan,
		persistCtx: context.WithoutCancel(ctx),
		status:     make(map[string]run.Status),
		outputs:    make(map[string]Output),
		records:    make(map[string]*run.StepRecord),
		enforcer:   budget.NewEnforcer(req.Limits),
		pub:        pub,
		policy:     policy,
		store:      e.store,
		logger:     e.logger,
		metrics:    e.metrics,
	}
	for _, grp := range req.Plan.Groups {
		for _, s := range grp.Steps {
			st.status[s.NodeID] = run.StatusPending
		}
	}

	st.exec = req.Execution
	if st.exec == nil {
		st.exec = &run.Execution{
			ID:            req.RunID,
			WorkflowName:  req.WorkflowName,
			Input:         req.Input,
			Plan:          req.Plan,
			Limits:        req.Limits,
			EstimatedCost: req.EstimatedCost,
			Status:        run.RunPending,
			CreatedAt:     start,
		}
		if err := e.store.CreateExecution(st.persistCtx, st.exec); err != nil {
			return nil, err
		}
	}
	st.exec.Status = run.RunRunning
	st.exec.StartedAt = &start
	st.persistExecution()

	st.publish(ctx, stream.NewExecutionStarted(req.RunID, stream.ExecutionStartedPayload{
		WorkflowName:    req.WorkflowName,
		TotalAgents:     req.Plan.TotalSteps,
		MaxParallelism:  req.Plan.MaxParallelism,
		EstimatedRounds: req.Plan.EstimatedRounds,
		EstimatedCost:   req.EstimatedCost,
	}))

	cancelled, halted := e.runGroups(ctx, st)

	status := run.RunCompleted
	switch {
	case cancelled:
		status = run.RunCancelled
	case halted:
		status = run.RunBudgetExceeded
	case st.internal != "":
		status = run.RunFailed
		st.exec.Error = "internal error: " + st.internal
	case st.totals.AgentsFailed > 0 && st.totals.AgentsCompleted == 0:
		status = run.RunFailed
		st.exec.Error = "all agents failed"
	}

	st.totals.Cost = pricing.Round(st.totals.Cost)
	st.totals.DurationMS = time.Since(start).Milliseconds()

	st.publish(st.persistCtx, stream.NewExecutionCompleted(req.RunID, stream.ExecutionCompletedPayload{
		Status:        string(status),
		Error:         st.exec.Error,
		Totals:        totalsPayload(st.totals),
		DroppedEvents: pub.Dropped(),
	}))

	end := time.Now().UTC()
	st.exec.Status = status
	st.exec.Totals = st.totals
	st.exec.DroppedEvents = pub.Dropped()
	st.exec.CompletedAt = &end
	st.persistExecution()

	if status == run.RunCompleted {
		span.SetStatus(codes.Ok, string(status))
	} else {
		span.SetStatus(codes.Error, string(status))
	}
	e.metrics.IncCounter("workflow_runs_total", 1, "status", string(status))
	e.metrics.RecordTimer("workflow_run_duration", time.Since(start))
	e.logger.Info(ctx, "run finished",
		"run_id", req.RunID,
		"status", status,
		"completed", st.totals.AgentsCompleted,
		"failed", st.totals.AgentsFailed,
		"skipped", st.totals.AgentsSkipped,
		"cost", st.totals.Cost,
	)

	return &Result{
		RunID:         req.RunID,
		Status:        status,
		Totals:        st.totals,
		Outputs:       st.outputs,
		Error:         st.exec.Error,
		DroppedEvents: pub.Dropped(),
	}, nil
}

// runGroups drives the plan group by group. Returns whether the run was
// cancelled and whether the budget halted it.
func (e *Executor) runGroups(ctx context.Context, st *runState) (cancelled, halted bool) {
	for _, grp := range st.plan.Groups {
		if ctx.Err() != nil {
			return true, false
		}

		// Re-check eligibility at dispatch: failures and branch decisions in
		// earlier groups may have settled steps since planning.
		var ready []planner.Step
		for _, s := range grp.Steps {
			if st.status[s.NodeID] != run.StatusPending {
				continue
			}
			if reason, skip := st.eligibility(s); skip {
				st.skip(ctx, s.NodeID, grp.Index, reason)
				st.propagate(ctx, s.NodeID)
				continue
			}
			ready = append(ready, s)
		}
		if len(ready) == 0 {
			continue
		}

		outcomes := make([]backtrack.Outcome, len(ready))
		inputs := make([]string, len(ready))
		panics := make([]string, len(ready))
		var wg sync.WaitGroup
		for i, s := range ready {
			input := st.stepInput(s)
			inputs[i] = input
			st.recordRunning(s, grp.Index, input)
			st.status[s.NodeID] = run.StatusRunning
			wg.Add(1)
			go func(i int, s planner.Step, input string) {
				defer wg.Done()
				defer func() {
					if r := recover(); r != nil {
						panics[i] = fmt.Sprint(r)
						outcomes[i] = backtrack.Outcome{NodeID: s.NodeID, Attempts: 1, Err: "internal error"}
					}
				}()
				outcomes[i] = e.runStep(ctx, st, s, grp.Index, input)
			}(i, s, input)
		}
		wg.Wait()

		for i, msg := range panics {
			if msg == "" {
				continue
			}
			// The panic detail goes to the log only. Subscribers see a
			// sanitized terminal event for the step.
			e.logger.Error(ctx, "step panicked",
				"run_id", st.req.RunID,
				"node", ready[i].NodeID,
				"panic", msg,
			)
			st.publish(ctx, stream.NewAgentFailed(st.req.RunID, stream.AgentFailedPayload{
				AgentID:   ready[i].NodeID,
				AgentName: ready[i].Config.Name,
				Error:     "internal error",
			}))
			if st.internal == "" {
				st.internal = msg
			}
		}

		var warning, breach *budget.Decision
		for i, s := range ready {
			out := outcomes[i]
			switch {
			case out.Cancelled:
				cancelled = true
				st.applyCancelled(s, out)
			case out.Succeeded():
				st.applySuccess(ctx, s, grp.Index, inputs[i], out)
				d := st.enforcer.Record(out.Usage.Total()+fallbackTokens(out), out.Cost+fallbackCost(out))
				if d.Verdict == budget.VerdictWarning && warning == nil {
					warning = &d
				}
				if d.Verdict == budget.VerdictExceeded && breach == nil {
					breach = &d
				}
			default:
				st.applyFailure(s, out)
				st.propagate(ctx, s.NodeID)
			}
		}
		if cancelled {
			return true, halted
		}
		if warning != nil {
			st.publish(ctx, stream.NewBudgetWarning(st.req.RunID, stream.BudgetWarningPayload{
				Consumed:   stream.ConsumedPayload{Tokens: warning.Tokens, Cost: warning.Cost},
				Budget:     limitsPayload(st.req.Limits),
				Percentage: warning.Percentage,
			}))
		}
		if breach != nil {
			st.enforcer.Halt()
			halted = true
			notRun := st.pendingIDs()
			for _, id := range notRun {
				st.markNotRun(id, st.plan.GroupOf(id))
			}
			tokens, cost := st.enforcer.Consumed()
			st.publish(st.persistCtx, stream.NewBudgetExceeded(st.req.RunID, stream.BudgetExceededPayload{
				Consumed:     stream.ConsumedPayload{Tokens: tokens, Cost: cost},
				Budget:       limitsPayload(st.req.Limits),
				AgentsNotRun: notRun,
			}))
			return false, true
		}
		if st.internal != "" {
			for _, id := range st.pendingIDs() {
				st.markNotRun(id, st.plan.GroupOf(id))
			}
			return false, false
		}
	}
	return false, false
}

// eligibility decides whether a pending step may dispatch. A step with
// dependencies runs as long as at least one produced output; conditional
// edges from completed sources must all match.
func (st *runState) eligibility(s planner.Step) (reason string, skip bool) {
	if len(s.Deps) > 0 {
		live := 0
		for _, dep := range s.Deps {
			if st.status[dep] == run.StatusCompleted {
				live++
			}
		}
		if live == 0 {
			return run.SkipDependencyFailed, true
		}
	}
	for _, edge := range st.graph.Incoming(s.NodeID) {
		if edge.Condition == "" {
			continue
		}
		out, ok := st.outputs[edge.Source]
		if !ok {
			continue
		}
		if !evalCondition(edge.Condition, out.Text) {
			return run.SkipConditionNotMet, true
		}
	}
	return "", false
}

// propagate skips every pending descendant of rootID that lost its last
// live dependency path.
func (st *runState) propagate(ctx context.Context, rootID string) {
	doomed := backtrack.Doomed(st.graph, rootID,
		func(id string) bool {
			s := st.status[id]
			return s == run.StatusFailed || s == run.StatusSkipped
		},
		func(id string) bool { return st.status[id] == run.StatusPending },
	)
	for _, id := range doomed {
		st.skip(ctx, id, st.plan.GroupOf(id), run.SkipDependencyFailed)
	}
}

// skip settles a pending step as skipped, records it, and announces it.
func (st *runState) skip(ctx context.Context, nodeID string, group int, reason string) {
	st.status[nodeID] = run.StatusSkipped
	st.totals.AgentsSkipped++
	name := st.stepName(nodeID)
	now := time.Now().UTC()
	rec := &run.StepRecord{
		ID:          uuid.NewString(),
		RunID:       st.req.RunID,
		NodeID:      nodeID,
		Name:        name,
		Group:       group,
		Order:       st.nextOrder(),
		Status:      run.StatusSkipped,
		SkipReason:  reason,
		CompletedAt: &now,
	}
	st.records[nodeID] = rec
	st.saveRecord(rec)
	st.publish(ctx, stream.NewAgentSkipped(st.req.RunID, stream.AgentSkippedPayload{
		AgentID:   nodeID,
		AgentName: name,
		Reason:    reason,
	}))
}

// markNotRun settles a step left undispatched by a halt. No per-step event
// is published: the run-level halt event carries the outcome.
func (st *runState) markNotRun(nodeID string, group int) {
	st.status[nodeID] = run.StatusNotRun
	now := time.Now().UTC()
	rec := &run.StepRecord{
		ID:          uuid.NewString(),
		RunID:       st.req.RunID,
		NodeID:      nodeID,
		Name:        st.stepName(nodeID),
		Group:       group,
		Order:       st.nextOrder(),
		Status:      run.StatusNotRun,
		CompletedAt: &now,
	}
	st.records[nodeID] = rec
	st.saveRecord(rec)
}

// recordRunning writes the step's running record before its worker starts.
func (st *runState) recordRunning(s planner.Step, group int, input string) {
	now := time.Now().UTC()
	rec := &run.StepRecord{
		ID:        uuid.NewString(),
		RunID:     st.req.RunID,
		NodeID:    s.NodeID,
		Name:      s.Config.Name,
		Group:     group,
		Order:     st.nextOrder(),
		Status:    run.StatusRunning,
		Input:     input,
		Provider:  s.Config.Provider,
		Model:     s.Config.Model,
		StartedAt: &now,
	}
	st.records[s.NodeID] = rec
	st.saveRecord(rec)
}

// applySuccess settles a step whose protocol run produced output, directly
// or through its fallback.
func (st *runState) applySuccess(ctx context.Context, s planner.Step, group int, input string, out backtrack.Outcome) {
	st.status[s.NodeID] = run.StatusCompleted
	st.totals.AgentsCompleted++
	now := time.Now().UTC()

	rec := st.records[s.NodeID]
	if out.Completed {
		rec.Status = run.StatusCompleted
		rec.Output = out.Text
		if out.Model != "" {
			rec.Model = out.Model
		}
		rec.TokensPrompt = out.Usage.Prompt
		rec.TokensCompletion = out.Usage.Completion
		rec.Cost = out.Cost
		rec.LatencyMS = out.LatencyMS
		rec.Retries = out.Retries()
		rec.CompletedAt = &now
		st.saveRecord(rec)
		st.addUsage(out.Usage, out.Cost)
		st.outputs[s.NodeID] = Output{NodeID: s.NodeID, Name: s.Config.Name, Text: out.Text}
	} else {
		// The fallback produced the output. The original keeps its failed
		// record; the substitute gets its own, keyed back to the original.
		fb := out.Fallback
		rec.Status = run.StatusFailed
		rec.Error = out.Err
		rec.Retries = out.Retries()
		rec.CompletedAt = &now
		st.saveRecord(rec)

		fbStart := now.Add(-time.Duration(fb.LatencyMS) * time.Millisecond)
		fbRec := &run.StepRecord{
			ID:               uuid.NewString(),
			RunID:            st.req.RunID,
			NodeID:           fb.NodeID,
			Name:             fb.Name,
			Group:            group,
			Order:            st.nextOrder(),
			Status:           run.StatusCompleted,
			Input:            input,
			Provider:         st.nodeProvider(fb.NodeID),
			Model:            fb.Model,
			TokensPrompt:     fb.Usage.Prompt,
			TokensCompletion: fb.Usage.Completion,
			Cost:             fb.Cost,
			LatencyMS:        fb.LatencyMS,
			IsFallback:       true,
			FallbackFor:      s.NodeID,
			StartedAt:        &fbStart,
			CompletedAt:      &now,
		}
		st.saveRecord(fbRec)
		st.addUsage(fb.Usage, fb.Cost)
		st.outputs[s.NodeID] = Output{NodeID: s.NodeID, Name: fb.Name, Text: fb.Text, Fallback: true}
	}

	if s.Kind == graph.KindConditional {
		st.settleBranches(ctx, s, st.outputs[s.NodeID].Text)
	}
}

// applyFailure settles a terminally failed step, including a fallback that
// also failed.
func (st *runState) applyFailure(s planner.Step, out backtrack.Outcome) {
	st.status[s.NodeID] = run.StatusFailed
	st.totals.AgentsFailed++
	now := time.Now().UTC()

	rec := st.records[s.NodeID]
	rec.Status = run.StatusFailed
	rec.Error = out.Err
	rec.Retries = out.Retries()
	rec.CompletedAt = &now
	st.saveRecord(rec)

	if fb := out.Fallback; fb != nil {
		fbRec := &run.StepRecord{
			ID:          uuid.NewString(),
			RunID:       st.req.RunID,
			NodeID:      fb.NodeID,
			Name:        fb.Name,
			Group:       rec.Group,
			Order:       st.nextOrder(),
			Status:      run.StatusFailed,
			Input:       rec.Input,
			Provider:    st.nodeProvider(fb.NodeID),
			Model:       fb.Model,
			Error:       fb.Err,
			IsFallback:  true,
			FallbackFor: s.NodeID,
			CompletedAt: &now,
		}
		st.saveRecord(fbRec)
	}
}

// applyCancelled settles a step interrupted by run cancellation.
func (st *runState) applyCancelled(s planner.Step, out backtrack.Outcome) {
	st.status[s.NodeID] = run.StatusFailed
	st.totals.AgentsFailed++
	now := time.Now().UTC()

	rec := st.records[s.NodeID]
	rec.Status = run.StatusFailed
	rec.Error = out.Err
	if rec.Error == "" {
		rec.Error = "run cancelled"
	}
	rec.CompletedAt = &now
	st.saveRecord(rec)
}

// addUsage accumulates token and cost totals.
func (st *runState) addUsage(usage model.TokenUsage, cost float64) {
	st.totals.TokensPrompt += usage.Prompt
	st.totals.TokensCompletion += usage.Completion
	st.totals.Cost += cost
}

// pendingIDs returns the still-pending node IDs, sorted.
func (st *runState) pendingIDs() []string {
	var ids []string
	for id, s := range st.status {
		if s == run.StatusPending {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// stepName resolves the display name for a planned node.
func (st *runState) stepName(nodeID string) string {
	if s, ok := st.plan.Step(nodeID); ok {
		return s.Config.Name
	}
	if n, ok := st.graph.Node(nodeID); ok {
		return n.Config.Resolved(nodeID).Name
	}
	return nodeID
}

// nodeProvider resolves the provider for a node outside the plan's step
// configs, such as a standby fallback.
func (st *runState) nodeProvider(nodeID string) string {
	if n, ok := st.graph.Node(nodeID); ok {
		return n.Config.Resolved(nodeID).Provider
	}
	return ""
}

func (st *runState) nextOrder() int {
	o := st.orderSeq
	st.orderSeq++
	return o
}

func (st *runState) persistExecution() {
	if err := st.store.UpdateExecution(st.persistCtx, st.exec); err != nil {
		st.logger.Error(st.persistCtx, "persist execution", "run_id", st.req.RunID, "err", err)
	}
}

func (st *runState) saveRecord(rec *run.StepRecord) {
	if err := st.store.SaveStep(st.persistCtx, rec); err != nil {
		st.logger.Error(st.persistCtx, "persist step", "run_id", st.req.RunID, "node_id", rec.NodeID, "err", err)
	}
}

func (st *runState) publish(ctx context.Context, ev stream.Event) {
	if err := st.pub.Publish(ctx, ev); err != nil {
		st.logger.Warn(ctx, "publish event", "run_id", st.req.RunID, "type", ev.Type(), "err", err)
	}
}

// fallbackTokens returns the substitute's token usage when it produced the
// output, zero otherwise.
func fallbackTokens(out backtrack.Outcome) int {
	if out.Fallback != nil && out.Fallback.Completed {
		return out.Fallback.Usage.Total()
	}
	return 0
}

// fallbackCost returns the substitute's cost when it produced the output,
// zero otherwise.
func fallbackCost(out backtrack.Outcome) float64 {
	if out.Fallback != nil && out.Fallback.Completed {
		return out.Fallback.Cost
	}
	return 0
}

func totalsPayload(t run.Totals) stream.TotalsPayload {
	return stream.TotalsPayload{
		TokensPrompt:     t.TokensPrompt,
		TokensCompletion: t.TokensCompletion,
		Cost:             t.Cost,
		DurationMS:       t.DurationMS,
		AgentsCompleted:  t.AgentsCompleted,
		AgentsFailed:     t.AgentsFailed,
		AgentsSkipped:    t.AgentsSkipped,
	}
}

func limitsPayload(l budget.Limits) stream.LimitsPayload {
	return stream.LimitsPayload{MaxTokens: l.MaxTokens, MaxCost: l.MaxCost}
}
