// Package stream defines the run event model: typed state-transition events
// published while a workflow executes, and the Sink abstraction that delivers
// them to clients over a transport (in-process channel, Pulse, SSE).
//
// All event types implement the Event interface and are immutable after
// construction. Sinks marshal events into their wire format; the shared
// Envelope type gives JSON transports a common shape.
package stream

import (
	"context"
	"time"
)

type (
	// Sink delivers run events to clients over a transport. Implementations
	// must be safe for concurrent Send calls: steps in the same parallel
	// group publish from separate goroutines.
	Sink interface {
		// Send publishes an event. It should return an error when delivery
		// fails (closed transport, serialization error) so the publisher can
		// apply its drop policy.
		Send(ctx context.Context, event Event) error

		// Close releases transport resources. Close is idempotent; Send after
		// Close returns an error. The context bounds graceful shutdown.
		Close(ctx context.Context) error
	}

	// Event is a single run state transition. Concrete types embed Base for
	// the standard metadata and add a typed Data payload. Consumers either
	// switch on Type or type-assert to the concrete event.
	Event interface {
		// Type returns the event type constant.
		Type() EventType

		// RunID returns the run that produced the event. Every event of a run
		// carries the same run ID, the subscription key for its channel.
		RunID() string

		// Timestamp returns the UTC creation time of the event.
		Timestamp() time.Time

		// Payload returns the event-specific data in JSON-serializable form.
		Payload() any
	}

	// ExecutionStarted opens a run's event stream with the plan summary.
	ExecutionStarted struct {
		Base
		Data ExecutionStartedPayload
	}

	// AgentStarted signals that a step began executing.
	AgentStarted struct {
		Base
		Data AgentStartedPayload
	}

	// AgentCompleted signals that a step finished with usage and cost.
	AgentCompleted struct {
		Base
		Data AgentCompletedPayload
	}

	// AgentFailed signals a failed attempt. WillRetry tells consumers whether
	// an AgentRetrying event follows.
	AgentFailed struct {
		Base
		Data AgentFailedPayload
	}

	// AgentRetrying signals that a step is being retried after backoff.
	AgentRetrying struct {
		Base
		Data AgentRetryingPayload
	}

	// AgentFallback signals that a terminally failed step is being replaced
	// by its configured fallback step.
	AgentFallback struct {
		Base
		Data AgentFallbackPayload
	}

	// AgentSkipped signals that a step will not run, either because its
	// dependencies failed or because a branch condition did not match.
	AgentSkipped struct {
		Base
		Data AgentSkippedPayload
	}

	// BudgetWarning signals that consumption crossed the warning threshold.
	// Emitted at most once per run.
	BudgetWarning struct {
		Base
		Data BudgetWarningPayload
	}

	// BudgetExceeded signals that a budget limit was reached and the run is
	// halting. Steps that will no longer be dispatched are listed.
	BudgetExceeded struct {
		Base
		Data BudgetExceededPayload
	}

	// ExecutionCompleted closes a run's event stream with the terminal status
	// and aggregate totals. No further events follow for the run.
	ExecutionCompleted struct {
		Base
		Data ExecutionCompletedPayload
	}

	// ExecutionStartedPayload summarizes the plan about to execute.
	ExecutionStartedPayload struct {
		// WorkflowName is the optional display name of the workflow.
		WorkflowName string `json:"workflow_name,omitempty"`
		// TotalAgents is the planned step count.
		TotalAgents int `json:"total_agents"`
		// MaxParallelism is the size of the largest parallel group.
		MaxParallelism int `json:"max_parallelism"`
		// EstimatedRounds is the number of sequential groups.
		EstimatedRounds int `json:"estimated_rounds"`
		// EstimatedCost is the pre-run cost estimate in USD when available.
		EstimatedCost *float64 `json:"estimated_cost,omitempty"`
	}

	// AgentStartedPayload identifies the step and its parallel group.
	AgentStartedPayload struct {
		AgentID       string `json:"agent_id"`
		AgentName     string `json:"agent_name"`
		ParallelGroup int    `json:"parallel_group"`
	}

	// AgentCompletedPayload carries the completion metrics for a step.
	AgentCompletedPayload struct {
		AgentID   string        `json:"agent_id"`
		AgentName string        `json:"agent_name"`
		Tokens    TokensPayload `json:"tokens"`
		Cost      float64       `json:"cost"`
		LatencyMS int64         `json:"latency_ms"`
	}

	// AgentFailedPayload describes a failed attempt and the retry outlook.
	AgentFailedPayload struct {
		AgentID          string `json:"agent_id"`
		AgentName        string `json:"agent_name"`
		Error            string `json:"error"`
		WillRetry        bool   `json:"will_retry"`
		RetriesRemaining int    `json:"retries_remaining"`
	}

	// AgentRetryingPayload carries the one-based retry counter.
	AgentRetryingPayload struct {
		AgentID     string `json:"agent_id"`
		AgentName   string `json:"agent_name"`
		RetryNumber int    `json:"retry_number"`
	}

	// AgentFallbackPayload links a failed step to its substitute.
	AgentFallbackPayload struct {
		OriginalAgentID   string `json:"original_agent_id"`
		FallbackAgentID   string `json:"fallback_agent_id"`
		FallbackAgentName string `json:"fallback_agent_name"`
		Reason            string `json:"reason"`
	}

	// AgentSkippedPayload names the step and the skip reason, one of
	// "dependency_failed" or "condition_not_met".
	AgentSkippedPayload struct {
		AgentID   string `json:"agent_id"`
		AgentName string `json:"agent_name"`
		Reason    string `json:"reason"`
	}

	// BudgetWarningPayload reports consumption against configured limits.
	BudgetWarningPayload struct {
		Consumed ConsumedPayload `json:"consumed"`
		Budget   LimitsPayload   `json:"budget"`
		// Percentage is the integer percentage of the limit consumed.
		Percentage int `json:"percentage"`
	}

	// BudgetExceededPayload reports the terminal budget breach.
	BudgetExceededPayload struct {
		Consumed ConsumedPayload `json:"consumed"`
		Budget   LimitsPayload   `json:"budget"`
		// AgentsNotRun lists the step IDs left undispatched by the halt,
		// sorted ascending.
		AgentsNotRun []string `json:"agents_not_run"`
	}

	// ExecutionCompletedPayload carries the terminal status and run totals.
	ExecutionCompletedPayload struct {
		// Status is the terminal run status: "completed", "failed",
		// "budget_exceeded" or "cancelled".
		Status string        `json:"status"`
		Totals TotalsPayload `json:"totals"`
		// Error is the run-level error message for failed runs. Step errors
		// stay on their agent_failed events.
		Error string `json:"error,omitempty"`
		// DroppedEvents counts events dropped under backpressure during the
		// run. Zero is omitted.
		DroppedEvents int64 `json:"dropped_events,omitempty"`
	}

	// TokensPayload splits token usage by direction.
	TokensPayload struct {
		Prompt     int `json:"prompt"`
		Completion int `json:"completion"`
	}

	// ConsumedPayload is the running total of tokens and cost.
	ConsumedPayload struct {
		Tokens int     `json:"tokens"`
		Cost   float64 `json:"cost"`
	}

	// LimitsPayload mirrors the configured budget. Nil means unbounded and
	// marshals to null.
	LimitsPayload struct {
		MaxTokens *int     `json:"max_tokens"`
		MaxCost   *float64 `json:"max_cost"`
	}

	// TotalsPayload aggregates a finished run.
	TotalsPayload struct {
		TokensPrompt     int     `json:"tokens_prompt"`
		TokensCompletion int     `json:"tokens_completion"`
		Cost             float64 `json:"cost"`
		DurationMS       int64   `json:"duration_ms"`
		AgentsCompleted  int     `json:"agents_completed"`
		AgentsFailed     int     `json:"agents_failed"`
		AgentsSkipped    int     `json:"agents_skipped"`
	}

	// Base provides the default Event implementation. Concrete event types
	// embed it to inherit Type(), RunID(), Timestamp() and Payload().
	//
	// Field names are abbreviated to keep event construction compact; the
	// fields are only read through the interface methods.
	Base struct {
		t  EventType
		r  string
		ts time.Time
		p  any
	}
)

// EventType enumerates run event flavors.
type EventType string

const (
	// EventExecutionStarted marks the start of a run. Always the first event
	// on a run channel.
	EventExecutionStarted EventType = "execution_started"

	// EventAgentStarted marks the start of a step attempt sequence.
	EventAgentStarted EventType = "agent_started"

	// EventAgentCompleted marks a successful step with usage and cost.
	EventAgentCompleted EventType = "agent_completed"

	// EventAgentFailed marks a failed attempt, terminal or not.
	EventAgentFailed EventType = "agent_failed"

	// EventAgentRetrying marks a retry after backoff.
	EventAgentRetrying EventType = "agent_retrying"

	// EventAgentFallback marks substitution by the configured fallback step.
	EventAgentFallback EventType = "agent_fallback"

	// EventAgentSkipped marks a step that will not run.
	EventAgentSkipped EventType = "agent_skipped"

	// EventBudgetWarning marks the one-shot budget warning threshold.
	EventBudgetWarning EventType = "budget_warning"

	// EventBudgetExceeded marks a budget halt.
	EventBudgetExceeded EventType = "budget_exceeded"

	// EventExecutionCompleted marks the end of a run. Always the last event
	// on a run channel.
	EventExecutionCompleted EventType = "execution_completed"
)

// Terminal reports whether t ends a run stream. Terminal events are never
// dropped under backpressure.
func Terminal(t EventType) bool {
	return t == EventExecutionCompleted || t == EventBudgetExceeded
}

// NewBase constructs a Base with the given type, run ID and payload. The
// timestamp is set to the current UTC time.
func NewBase(t EventType, runID string, payload any) Base {
	return Base{t: t, r: runID, ts: time.Now().UTC(), p: payload}
}

// Type implements Event.Type.
func (e Base) Type() EventType { return e.t }

// RunID implements Event.RunID.
func (e Base) RunID() string { return e.r }

// Timestamp implements Event.Timestamp.
func (e Base) Timestamp() time.Time { return e.ts }

// Payload implements Event.Payload.
func (e Base) Payload() any { return e.p }

// Event constructors. Each sets the typed Data field and mirrors it into the
// base payload so Payload() and Data always agree.

// NewExecutionStarted opens a run stream.
func NewExecutionStarted(runID string, p ExecutionStartedPayload) ExecutionStarted {
	return ExecutionStarted{Base: NewBase(EventExecutionStarted, runID, p), Data: p}
}

// NewAgentStarted reports a step beginning execution.
func NewAgentStarted(runID string, p AgentStartedPayload) AgentStarted {
	return AgentStarted{Base: NewBase(EventAgentStarted, runID, p), Data: p}
}

// NewAgentCompleted reports a step finishing with usage and cost.
func NewAgentCompleted(runID string, p AgentCompletedPayload) AgentCompleted {
	return AgentCompleted{Base: NewBase(EventAgentCompleted, runID, p), Data: p}
}

// NewAgentFailed reports a failed attempt.
func NewAgentFailed(runID string, p AgentFailedPayload) AgentFailed {
	return AgentFailed{Base: NewBase(EventAgentFailed, runID, p), Data: p}
}

// NewAgentRetrying reports a retry after backoff.
func NewAgentRetrying(runID string, p AgentRetryingPayload) AgentRetrying {
	return AgentRetrying{Base: NewBase(EventAgentRetrying, runID, p), Data: p}
}

// NewAgentFallback reports substitution of a failed step by its fallback.
func NewAgentFallback(runID string, p AgentFallbackPayload) AgentFallback {
	return AgentFallback{Base: NewBase(EventAgentFallback, runID, p), Data: p}
}

// NewAgentSkipped reports that a step will not run.
func NewAgentSkipped(runID string, p AgentSkippedPayload) AgentSkipped {
	return AgentSkipped{Base: NewBase(EventAgentSkipped, runID, p), Data: p}
}

// NewBudgetWarning reports crossing the warning threshold.
func NewBudgetWarning(runID string, p BudgetWarningPayload) BudgetWarning {
	return BudgetWarning{Base: NewBase(EventBudgetWarning, runID, p), Data: p}
}

// NewBudgetExceeded reports a terminal budget breach.
func NewBudgetExceeded(runID string, p BudgetExceededPayload) BudgetExceeded {
	return BudgetExceeded{Base: NewBase(EventBudgetExceeded, runID, p), Data: p}
}

// NewExecutionCompleted closes a run stream.
func NewExecutionCompleted(runID string, p ExecutionCompletedPayload) ExecutionCompleted {
	return ExecutionCompleted{Base: NewBase(EventExecutionCompleted, runID, p), Data: p}
}
