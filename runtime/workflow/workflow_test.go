package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/braidflow/braid/runtime/workflow/budget"
	"github.com/braidflow/braid/runtime/workflow/graph"
	"github.com/braidflow/braid/runtime/workflow/model"
	"github.com/braidflow/braid/runtime/workflow/model/mocks"
	"github.com/braidflow/braid/runtime/workflow/planner"
	"github.com/braidflow/braid/runtime/workflow/run"
	"github.com/braidflow/braid/runtime/workflow/stream"
)

const pipelineDoc = `{
	"name": "pipeline",
	"nodes": [
		{"id": "draft", "type": "agent", "data": {"model": "gpt-4o", "max_tokens": 1000, "system_prompt": "Write a first draft now."}},
		{"id": "polish", "data": {"model": "gpt-4o-mini", "max_tokens": 500}}
	],
	"edges": [{"source": "draft", "target": "polish"}]
}`

func newOrchestrator(t *testing.T, client *mocks.Client, mutate ...func(*Options)) (*Orchestrator, *stream.ChannelSink) {
	t.Helper()
	sink := stream.NewChannelSink(128)
	opts := Options{
		Client:         client,
		Sink:           sink,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  2 * time.Millisecond,
	}
	for _, m := range mutate {
		m(&opts)
	}
	o, err := New(opts)
	require.NoError(t, err)
	return o, sink
}

func okClient(t *testing.T) *mocks.Client {
	t.Helper()
	client := mocks.NewClient(t)
	client.SetComplete(func(_ context.Context, req model.Request) (model.Response, error) {
		return model.Response{
			Text:  "output of " + req.Model,
			Usage: model.TokenUsage{Prompt: 10, Completion: 5},
		}, nil
	})
	return client
}

func drainSink(t *testing.T, sink *stream.ChannelSink) []stream.Event {
	t.Helper()
	require.NoError(t, sink.Close(context.Background()))
	var out []stream.Event
	for ev := range sink.Events() {
		out = append(out, ev)
	}
	return out
}

func floatPtr(v float64) *float64 { return &v }

func TestSubmitAndWait(t *testing.T) {
	o, sink := newOrchestrator(t, okClient(t))

	r, err := o.Submit(context.Background(), SubmitRequest{
		Definition: []byte(pipelineDoc),
		Input:      "write about tides",
	})
	require.NoError(t, err)
	require.NotEmpty(t, r.ID)
	assert.Equal(t, 2357, r.Estimate.TotalTokens)
	assert.InDelta(t, 0.010913, r.Estimate.TotalCost, 1e-9)

	res, err := r.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, run.RunCompleted, res.Status)
	assert.Equal(t, 2, res.Totals.AgentsCompleted)

	exec, err := o.Execution(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, run.RunCompleted, exec.Status)
	assert.Equal(t, "pipeline", exec.WorkflowName)
	assert.JSONEq(t, pipelineDoc, string(exec.Definition))
	require.NotNil(t, exec.EstimatedCost)
	assert.InDelta(t, 0.010913, *exec.EstimatedCost, 1e-9)

	steps, err := o.Steps(context.Background(), r.ID)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, "draft", steps[0].NodeID)
	assert.Equal(t, "polish", steps[1].NodeID)

	events := drainSink(t, sink)
	require.NotEmpty(t, events)
	assert.Equal(t, stream.EventExecutionStarted, events[0].Type())
	assert.Equal(t, stream.EventExecutionCompleted, events[len(events)-1].Type())
	for _, ev := range events {
		assert.Equal(t, r.ID, ev.RunID())
	}
}

func TestSubmitRejectsOverBudget(t *testing.T) {
	o, _ := newOrchestrator(t, okClient(t))

	_, err := o.Submit(context.Background(), SubmitRequest{
		Definition: []byte(pipelineDoc),
		Limits:     budget.Limits{MaxCost: floatPtr(0.001)},
	})
	require.Error(t, err)

	var berr *BudgetError
	require.ErrorAs(t, err, &berr)
	assert.Contains(t, berr.Error(), "exceeds budget $0.001000")
	assert.InDelta(t, 0.010913, berr.Estimate.TotalCost, 1e-9)

	require.Len(t, berr.Suggestions, 2)
	first := berr.Suggestions[0]
	assert.Equal(t, budget.ActionDowngradeModel, first.Action)
	assert.Equal(t, "draft", first.NodeID)
	assert.Equal(t, "gpt-4o-mini", first.ToModel)
	assert.False(t, first.WouldFitBudget)
	second := berr.Suggestions[1]
	assert.Equal(t, budget.ActionSkipAgent, second.Action)
	assert.Equal(t, "polish", second.NodeID)
	assert.True(t, second.WouldFitBudget)
	assert.GreaterOrEqual(t, first.Saves, second.Saves)

	// Nothing was persisted or executed.
	execs, err := o.Executions(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, execs)
}

func TestSubmitTokenBudgetRejection(t *testing.T) {
	o, _ := newOrchestrator(t, okClient(t))

	_, err := o.Submit(context.Background(), SubmitRequest{
		Definition: []byte(pipelineDoc),
		Limits:     budget.Limits{MaxTokens: intPtr(100)},
	})
	var berr *BudgetError
	require.ErrorAs(t, err, &berr)
	assert.Contains(t, berr.Error(), "estimated 2357 tokens exceed budget 100")
	assert.Empty(t, berr.Suggestions)
}

func TestSubmitForceRunsUntilRuntimeHalt(t *testing.T) {
	o, sink := newOrchestrator(t, okClient(t))

	r, err := o.Submit(context.Background(), SubmitRequest{
		Definition: []byte(pipelineDoc),
		Limits:     budget.Limits{MaxCost: floatPtr(0.000001)},
		Force:      true,
	})
	require.NoError(t, err)

	res, err := r.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, run.RunBudgetExceeded, res.Status)

	events := drainSink(t, sink)
	var sawExceeded bool
	for _, ev := range events {
		if ev.Type() == stream.EventBudgetExceeded {
			sawExceeded = true
			assert.Equal(t, []string{"polish"}, ev.(stream.BudgetExceeded).Data.AgentsNotRun)
		}
	}
	assert.True(t, sawExceeded)
}

func TestPreview(t *testing.T) {
	o, _ := newOrchestrator(t, okClient(t))

	p, err := o.Preview([]byte(pipelineDoc), budget.Limits{MaxCost: floatPtr(0.02)})
	require.NoError(t, err)
	assert.True(t, p.WithinBudget)
	assert.Equal(t, "pipeline", p.Definition.Name)
	assert.Equal(t, 2, p.Plan.TotalSteps)
	assert.Equal(t, 2357, p.Estimate.TotalTokens)
	assert.NotEmpty(t, p.Suggestions)

	tight, err := o.Preview([]byte(pipelineDoc), budget.Limits{MaxCost: floatPtr(0.001)})
	require.NoError(t, err)
	assert.False(t, tight.WithinBudget)

	_, err = o.Preview([]byte(`{"nodes": [{"data": {}}], "edges": []}`), budget.Limits{})
	assert.Error(t, err)
}

func TestSubmitValidation(t *testing.T) {
	o, _ := newOrchestrator(t, okClient(t))

	_, err := o.Submit(context.Background(), SubmitRequest{})
	assert.EqualError(t, err, "definition or graph is required")

	_, err = o.Submit(context.Background(), SubmitRequest{Definition: []byte(`{"nodes": [], "edges": []}`)})
	var perr *planner.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, planner.CodeEmptyWorkflow, perr.Code)

	cycle := `{"nodes": [{"id": "a"}, {"id": "b"}], "edges": [
		{"source": "a", "target": "b"}, {"source": "b", "target": "a"}]}`
	_, err = o.Submit(context.Background(), SubmitRequest{Definition: []byte(cycle)})
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, planner.CodeCircularDependency, perr.Code)
	assert.Contains(t, perr.Error(), "circular dependency detected involving: a, b")
}

func TestSubmitGraphDirect(t *testing.T) {
	o, _ := newOrchestrator(t, okClient(t))

	g := &graph.Graph{Nodes: []graph.Node{{ID: "only"}}}
	res, err := o.Execute(context.Background(), SubmitRequest{Graph: g, Name: "direct", Input: "hi"})
	require.NoError(t, err)
	assert.Equal(t, run.RunCompleted, res.Status)

	execs, err := o.Executions(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, execs, 1)
	assert.Equal(t, "direct", execs[0].WorkflowName)
	assert.Empty(t, execs[0].Definition)
}

func TestCancelActiveRun(t *testing.T) {
	client := mocks.NewClient(t)
	client.SetComplete(func(ctx context.Context, _ model.Request) (model.Response, error) {
		<-ctx.Done()
		return model.Response{}, ctx.Err()
	})
	o, _ := newOrchestrator(t, client)

	r, err := o.Submit(context.Background(), SubmitRequest{
		Definition: []byte(pipelineDoc),
		Input:      "slow",
	})
	require.NoError(t, err)

	_, found := o.RunHandle(r.ID)
	assert.True(t, found)
	assert.True(t, o.Cancel(r.ID))

	res, err := r.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, run.RunCancelled, res.Status)

	_, found = o.RunHandle(r.ID)
	assert.False(t, found)
	assert.False(t, o.Cancel(r.ID))
}

func TestCloseCancelsActiveRuns(t *testing.T) {
	client := mocks.NewClient(t)
	client.SetComplete(func(ctx context.Context, _ model.Request) (model.Response, error) {
		<-ctx.Done()
		return model.Response{}, ctx.Err()
	})
	o, _ := newOrchestrator(t, client)

	r, err := o.Submit(context.Background(), SubmitRequest{Definition: []byte(pipelineDoc)})
	require.NoError(t, err)

	require.NoError(t, o.Close(context.Background()))

	res, err := r.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, run.RunCancelled, res.Status)

	_, err = o.Submit(context.Background(), SubmitRequest{Definition: []byte(pipelineDoc)})
	assert.EqualError(t, err, "orchestrator is closed")
}

func TestNewRequiresClient(t *testing.T) {
	_, err := New(Options{})
	assert.EqualError(t, err, "client is required")
}

func intPtr(v int) *int { return &v }
