package backtrack

import "github.com/braidflow/braid/runtime/workflow/model"

type (
	// Outcome is the terminal result of executing a step through the
	// recovery protocol. Exactly one of these holds: Completed, Cancelled,
	// or a failure described by Kind and Err, possibly with a Fallback
	// result attached.
	Outcome struct {
		// NodeID is the original step, even when the fallback produced the
		// final output.
		NodeID string

		// Completed reports that the step itself succeeded.
		Completed bool

		// Cancelled reports that the run context ended during the step.
		Cancelled bool

		Text      string
		Model     string
		Usage     model.TokenUsage
		Cost      float64
		LatencyMS int64

		// Attempts counts model calls made for the step itself, the first
		// try included. Fallback calls are not counted.
		Attempts int

		// Kind classifies the terminal failure when Completed is false.
		Kind model.ErrorKind

		// Err is the terminal failure message.
		Err string

		// Fallback carries the substitute's result when one ran.
		Fallback *FallbackOutcome
	}

	// FallbackOutcome is the single-attempt result of the substitute step.
	FallbackOutcome struct {
		NodeID    string
		Name      string
		Completed bool
		Text      string
		Model     string
		Usage     model.TokenUsage
		Cost      float64
		LatencyMS int64
		Kind      model.ErrorKind
		Err       string
	}
)

// Succeeded reports whether the step produced an output, directly or through
// its fallback.
func (o Outcome) Succeeded() bool {
	return o.Completed || (o.Fallback != nil && o.Fallback.Completed)
}

// Retries counts retries past the first attempt.
func (o Outcome) Retries() int {
	if o.Attempts > 0 {
		return o.Attempts - 1
	}
	return 0
}

// FinalText returns the output to feed downstream: the step's own text, or
// the fallback's when the fallback produced it.
func (o Outcome) FinalText() string {
	if o.Completed {
		return o.Text
	}
	if o.Fallback != nil && o.Fallback.Completed {
		return o.Fallback.Text
	}
	return ""
}
