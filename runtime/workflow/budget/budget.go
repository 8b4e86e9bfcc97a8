// Package budget guards runs against token and cost overruns. It has two
// halves: a pre-run estimator that prices a plan before any model call and
// proposes cheaper shapes when the estimate does not fit, and a runtime
// enforcer that tracks actual consumption and decides when to warn and when
// to halt.
package budget

import (
	"sync"

	"github.com/braidflow/braid/runtime/workflow/pricing"
)

// WarningThreshold is the consumed fraction at which the one-shot warning
// fires.
const WarningThreshold = 0.8

type (
	// Limits is the configured budget for a run. Nil fields are unbounded; a
	// fully nil Limits disables enforcement while still tracking totals.
	Limits struct {
		MaxTokens *int
		MaxCost   *float64
	}

	// Verdict is the enforcer's answer at a checkpoint.
	Verdict string

	// Decision is a verdict with the consumption snapshot that produced it,
	// taken inside the same critical section so concurrent steps cannot
	// interleave between recording and deciding.
	Decision struct {
		Verdict Verdict

		// Tokens and Cost are the totals at decision time.
		Tokens int
		Cost   float64

		// Percentage is the consumed share of the binding limit, in whole
		// percent. Set on warning decisions.
		Percentage int
	}

	// Enforcer accumulates consumption for one run and applies the limits.
	// Safe for concurrent use by parallel steps.
	Enforcer struct {
		mu     sync.Mutex
		limits Limits
		tokens int
		cost   float64
		warned bool
		halted bool
	}
)

const (
	// VerdictOK means the run may continue.
	VerdictOK Verdict = "ok"

	// VerdictWarning means consumption crossed the warning threshold. Issued
	// at most once per run.
	VerdictWarning Verdict = "warning"

	// VerdictExceeded means a limit was reached and no further steps may be
	// dispatched.
	VerdictExceeded Verdict = "exceeded"
)

// Enforced reports whether any limit is set.
func (l Limits) Enforced() bool {
	return l.MaxTokens != nil || l.MaxCost != nil
}

// NewEnforcer builds an enforcer for the given limits.
func NewEnforcer(limits Limits) *Enforcer {
	return &Enforcer{limits: limits}
}

// Record adds a completed step's consumption and returns the resulting
// decision. Recording and deciding share one critical section.
func (e *Enforcer) Record(tokens int, cost float64) Decision {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tokens += tokens
	e.cost = pricing.Round(e.cost + cost)
	return e.decideLocked()
}

// Check returns the current decision without recording anything. Dispatch
// gates use it before launching a group.
func (e *Enforcer) Check() Decision {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.decideLocked()
}

// Halt marks the run as halted. The first call reports true so exactly one
// caller announces the halt; later calls and later decisions keep returning
// VerdictExceeded.
func (e *Enforcer) Halt() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.halted {
		return false
	}
	e.halted = true
	return true
}

// Halted reports whether the run has been halted.
func (e *Enforcer) Halted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.halted
}

// Consumed returns the accumulated totals. Tracked even when no limits are
// set.
func (e *Enforcer) Consumed() (tokens int, cost float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tokens, e.cost
}

// Limits returns the configured limits.
func (e *Enforcer) Limits() Limits {
	return e.limits
}

func (e *Enforcer) decideLocked() Decision {
	d := Decision{Verdict: VerdictOK, Tokens: e.tokens, Cost: e.cost}
	if !e.limits.Enforced() {
		return d
	}
	if e.halted {
		d.Verdict = VerdictExceeded
		return d
	}
	if e.limits.MaxCost != nil && e.cost >= *e.limits.MaxCost {
		d.Verdict = VerdictExceeded
		return d
	}
	if e.limits.MaxTokens != nil && e.tokens >= *e.limits.MaxTokens {
		d.Verdict = VerdictExceeded
		return d
	}
	if !e.warned {
		// Cost is the canonical axis when both limits are near.
		if e.limits.MaxCost != nil && *e.limits.MaxCost > 0 {
			if share := e.cost / *e.limits.MaxCost; share >= WarningThreshold {
				e.warned = true
				d.Verdict = VerdictWarning
				d.Percentage = int(share * 100)
				return d
			}
		}
		if e.limits.MaxTokens != nil && *e.limits.MaxTokens > 0 {
			if share := float64(e.tokens) / float64(*e.limits.MaxTokens); share >= WarningThreshold {
				e.warned = true
				d.Verdict = VerdictWarning
				d.Percentage = int(share * 100)
				return d
			}
		}
	}
	return d
}
