package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/braidflow/braid/runtime/workflow/budget"
	"github.com/braidflow/braid/runtime/workflow/graph"
	"github.com/braidflow/braid/runtime/workflow/planner"
	"github.com/braidflow/braid/runtime/workflow/run"
)

func TestNewStoreRequiresDB(t *testing.T) {
	_, err := NewStore(nil)
	require.EqualError(t, err, "db is required")
}

func TestNewStoreFromDSNRequiresDSN(t *testing.T) {
	_, err := NewStoreFromDSN("")
	require.EqualError(t, err, "dsn is required")
}

func TestStoreValidatesArguments(t *testing.T) {
	store := &Store{}
	ctx := context.Background()

	require.EqualError(t, store.CreateExecution(ctx, nil), "execution id is required")
	require.EqualError(t, store.CreateExecution(ctx, &run.Execution{}), "execution id is required")
	require.EqualError(t, store.UpdateExecution(ctx, &run.Execution{}), "execution id is required")
	_, err := store.Execution(ctx, "")
	require.EqualError(t, err, "execution id is required")
	require.EqualError(t, store.SaveStep(ctx, &run.StepRecord{RunID: "run"}), "step id is required")
	require.EqualError(t, store.SaveStep(ctx, &run.StepRecord{ID: "step"}), "run id is required")
	_, err = store.Steps(ctx, "")
	require.EqualError(t, err, "run id is required")
}

func TestExecutionModelRoundTrip(t *testing.T) {
	maxTokens := 4000
	estimate := 0.0123
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	completed := created.Add(5 * time.Second)
	exec := &run.Execution{
		ID:           "run-1",
		WorkflowName: "pipeline",
		Input:        "summarize the report",
		Definition:   []byte(`{"nodes": [], "edges": []}`),
		Plan: &planner.Plan{
			Groups: []planner.Group{{
				Index: 0,
				Steps: []planner.Step{{
					NodeID: "draft",
					Kind:   graph.KindAgent,
					Config: graph.Config{Provider: "openai", Model: "gpt-4o"},
					Deps:   []string{"outline"},
				}},
			}},
			TotalSteps:      1,
			MaxParallelism:  1,
			EstimatedRounds: 1,
		},
		Limits:        budget.Limits{MaxTokens: &maxTokens},
		EstimatedCost: &estimate,
		Status:        run.RunCompleted,
		Totals:        run.Totals{TokensPrompt: 100, TokensCompletion: 40, Cost: 0.01, AgentsCompleted: 1},
		DroppedEvents: 3,
		CreatedAt:     created,
		StartedAt:     &created,
		CompletedAt:   &completed,
	}

	model, err := fromExecution(exec)
	require.NoError(t, err)
	back, err := model.toExecution()
	require.NoError(t, err)
	require.Equal(t, exec, back)
}

func TestExecutionModelRoundTripMinimal(t *testing.T) {
	exec := &run.Execution{
		ID:        "run-2",
		Status:    run.RunPending,
		CreatedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
	}
	model, err := fromExecution(exec)
	require.NoError(t, err)
	require.Nil(t, model.Plan)
	back, err := model.toExecution()
	require.NoError(t, err)
	require.Equal(t, exec, back)
}

func TestStepModelRoundTrip(t *testing.T) {
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rec := &run.StepRecord{
		ID:               "step-1",
		RunID:            "run-1",
		NodeID:           "draft",
		Name:             "Draft",
		Group:            1,
		Order:            2,
		Status:           run.StatusFailed,
		Input:            "write",
		Provider:         "anthropic",
		Model:            "claude-3.5-sonnet",
		TokensPrompt:     10,
		TokensCompletion: 0,
		Retries:          2,
		IsFallback:       true,
		FallbackFor:      "primary",
		Error:            "rate limited",
		StartedAt:        &started,
	}
	require.Equal(t, rec, fromStep(rec).toStep())
}
