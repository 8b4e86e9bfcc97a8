package workflow

import (
	"context"
	"fmt"

	"github.com/braidflow/braid/runtime/workflow/budget"
	"github.com/braidflow/braid/runtime/workflow/executor"
)

type (
	// Run is the handle for a submitted run. The run executes on its own
	// goroutine; Wait blocks for the terminal result.
	Run struct {
		// ID is the run identifier.
		ID string

		// Estimate is the pre-run estimate the run was admitted with.
		Estimate budget.Estimate

		cancel context.CancelFunc
		done   chan struct{}
		res    *executor.Result
		err    error
	}

	// BudgetError rejects a submission whose estimate exceeds the configured
	// limits. Suggestions rank the cheapest ways to bring the workflow under
	// budget, largest savings first.
	BudgetError struct {
		Estimate    budget.Estimate
		Limits      budget.Limits
		Suggestions []budget.Suggestion
	}
)

// Wait blocks until the run finishes or ctx ends. The run keeps executing
// when ctx ends first; use Cancel to stop it.
func (r *Run) Wait(ctx context.Context) (*executor.Result, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-r.done:
		return r.res, r.err
	}
}

// Done returns a channel closed when the run finishes.
func (r *Run) Done() <-chan struct{} { return r.done }

// Cancel interrupts the run. In-flight steps are cut short and the run ends
// with status cancelled.
func (r *Run) Cancel() { r.cancel() }

// Error implements error.
func (e *BudgetError) Error() string {
	if e.Limits.MaxCost != nil && e.Estimate.TotalCost > *e.Limits.MaxCost {
		return fmt.Sprintf("estimated cost $%.6f exceeds budget $%.6f", e.Estimate.TotalCost, *e.Limits.MaxCost)
	}
	if e.Limits.MaxTokens != nil && e.Estimate.TotalTokens > *e.Limits.MaxTokens {
		return fmt.Sprintf("estimated %d tokens exceed budget %d", e.Estimate.TotalTokens, *e.Limits.MaxTokens)
	}
	return "estimate exceeds budget"
}
