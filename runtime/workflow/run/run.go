// Package run defines the persistent record of workflow executions: one
// Execution per run and one StepRecord per executed, failed, or skipped
// step. Stores persist these records; backends live under features/run.
package run

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/braidflow/braid/runtime/workflow/budget"
	"github.com/braidflow/braid/runtime/workflow/planner"
)

// ErrNotFound is returned by stores when no execution matches the given ID.
var ErrNotFound = errors.New("execution not found")

// Status is the lifecycle state of a single step.
type Status string

const (
	// StatusPending marks a step that has not been dispatched.
	StatusPending Status = "pending"

	// StatusRunning marks a dispatched step.
	StatusRunning Status = "running"

	// StatusCompleted marks a step that produced output.
	StatusCompleted Status = "completed"

	// StatusFailed marks a step whose recovery was exhausted.
	StatusFailed Status = "failed"

	// StatusSkipped marks a step that never ran, with the reason recorded.
	StatusSkipped Status = "skipped"

	// StatusNotRun marks a step left undispatched by a halt.
	StatusNotRun Status = "not_run"
)

// RunStatus is the lifecycle state of a whole execution.
type RunStatus string

const (
	// RunPending marks a created but not yet started execution.
	RunPending RunStatus = "pending"

	// RunRunning marks an execution in flight.
	RunRunning RunStatus = "running"

	// RunCompleted marks an execution that produced at least one output.
	// Runs with skipped or failed steps but surviving output complete; the
	// totals carry the counts.
	RunCompleted RunStatus = "completed"

	// RunFailed marks an execution with no completed steps at all.
	RunFailed RunStatus = "failed"

	// RunBudgetExceeded marks an execution halted by its budget.
	RunBudgetExceeded RunStatus = "budget_exceeded"

	// RunCancelled marks an execution ended by caller cancellation.
	RunCancelled RunStatus = "cancelled"
)

// Skip reasons recorded on skipped steps and published in events.
const (
	SkipDependencyFailed = "dependency_failed"
	SkipConditionNotMet  = "condition_not_met"
)

type (
	// Execution is the run-level record.
	Execution struct {
		// ID is the run identifier, a UUID assigned at submission.
		ID string `json:"id"`

		// WorkflowName is the definition's display name.
		WorkflowName string `json:"workflow_name,omitempty"`

		// Input is the root user input handed to source steps.
		Input string `json:"input,omitempty"`

		// Definition is the submitted workflow document, kept verbatim so a
		// run can be audited against the graph that produced it.
		Definition json.RawMessage `json:"definition,omitempty"`

		// Plan is the computed execution plan snapshot.
		Plan *planner.Plan `json:"plan,omitempty"`

		// Limits is the budget the run was submitted with.
		Limits budget.Limits `json:"-"`

		// EstimatedCost is the pre-run estimate, when one was computed.
		EstimatedCost *float64 `json:"estimated_cost,omitempty"`

		Status RunStatus `json:"status"`

		// Error is the terminal error message for failed runs.
		Error string `json:"error,omitempty"`

		// Totals aggregates the finished run.
		Totals Totals `json:"totals"`

		// DroppedEvents counts stream events dropped under backpressure.
		DroppedEvents int64 `json:"dropped_events,omitempty"`

		CreatedAt   time.Time  `json:"created_at"`
		StartedAt   *time.Time `json:"started_at,omitempty"`
		CompletedAt *time.Time `json:"completed_at,omitempty"`
	}

	// Totals aggregates consumption and step counts for a run.
	Totals struct {
		TokensPrompt     int     `json:"tokens_prompt"`
		TokensCompletion int     `json:"tokens_completion"`
		Cost             float64 `json:"cost"`
		DurationMS       int64   `json:"duration_ms"`
		AgentsCompleted  int     `json:"agents_completed"`
		AgentsFailed     int     `json:"agents_failed"`
		AgentsSkipped    int     `json:"agents_skipped"`
	}

	// StepRecord is the per-step record. Fallback executions get their own
	// record carrying FallbackFor; the failed original keeps its record too.
	StepRecord struct {
		// ID identifies the record, a UUID assigned at write time.
		ID string `json:"id"`

		// RunID is the owning execution.
		RunID string `json:"run_id"`

		// NodeID is the graph node this record describes.
		NodeID string `json:"node_id"`

		// Name is the resolved display name.
		Name string `json:"name"`

		// Group is the parallel group index the step was planned into.
		Group int `json:"parallel_group"`

		// Order is the dispatch sequence number within the run, starting at
		// zero. Skipped steps take the next number at skip time.
		Order int `json:"execution_order"`

		Status Status `json:"status"`

		// Input is the assembled prompt the step ran with.
		Input string `json:"input,omitempty"`

		// Output is the completion text for completed steps.
		Output string `json:"output,omitempty"`

		Provider string `json:"provider,omitempty"`
		Model    string `json:"model,omitempty"`

		TokensPrompt     int     `json:"tokens_prompt"`
		TokensCompletion int     `json:"tokens_completion"`
		Cost             float64 `json:"cost"`
		LatencyMS        int64   `json:"latency_ms"`

		// Retries counts retries past the first attempt.
		Retries int `json:"retries"`

		// IsFallback marks records written for fallback executions.
		IsFallback bool `json:"is_fallback,omitempty"`

		// FallbackFor names the failed step this fallback substituted.
		FallbackFor string `json:"fallback_for,omitempty"`

		// SkipReason is set on skipped steps.
		SkipReason string `json:"skip_reason,omitempty"`

		// Error is the terminal error message for failed steps.
		Error string `json:"error,omitempty"`

		StartedAt   *time.Time `json:"started_at,omitempty"`
		CompletedAt *time.Time `json:"completed_at,omitempty"`
	}

	// Store persists executions and their steps. Implementations must be
	// safe for concurrent use; the executor updates steps from parallel
	// goroutines through the driver.
	Store interface {
		// CreateExecution inserts a new execution record.
		CreateExecution(ctx context.Context, e *Execution) error

		// UpdateExecution replaces the stored record with e.
		UpdateExecution(ctx context.Context, e *Execution) error

		// Execution returns the record for id, or ErrNotFound.
		Execution(ctx context.Context, id string) (*Execution, error)

		// ListExecutions returns the most recent executions, newest first.
		// limit <= 0 means no limit.
		ListExecutions(ctx context.Context, limit int) ([]*Execution, error)

		// SaveStep inserts or replaces a step record by its ID.
		SaveStep(ctx context.Context, s *StepRecord) error

		// Steps returns the run's step records ordered by Order, then node
		// ID.
		Steps(ctx context.Context, runID string) ([]*StepRecord, error)
	}
)

// Terminal reports whether the run reached a final state.
func (s RunStatus) Terminal() bool {
	switch s {
	case RunCompleted, RunFailed, RunBudgetExceeded, RunCancelled:
		return true
	default:
		return false
	}
}
