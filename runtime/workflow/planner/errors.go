package planner

import (
	"errors"
	"fmt"
	"strings"
)

// Code classifies why a graph could not be planned.
type Code string

const (
	// CodeEmptyWorkflow reports a graph with no nodes.
	CodeEmptyWorkflow Code = "EMPTY_WORKFLOW"

	// CodeTooLarge reports a graph over the node limit.
	CodeTooLarge Code = "TOO_LARGE"

	// CodeInvalidEdge reports an edge whose endpoint names no node.
	CodeInvalidEdge Code = "INVALID_EDGE"

	// CodeInvalidFallback reports a fallback reference to a missing node.
	CodeInvalidFallback Code = "INVALID_FALLBACK"

	// CodeCircularDependency reports a dependency cycle. Error.Nodes lists
	// the participating nodes.
	CodeCircularDependency Code = "CIRCULAR_DEPENDENCY"
)

// Error is a planning failure. Code is machine-readable; Nodes names the
// offending nodes when the failure is attributable to specific ones.
type Error struct {
	Code    Code
	Nodes   []string
	Message string
}

// Error implements error.
func (e *Error) Error() string { return e.Message }

// AsError returns the planner error wrapped in err, if any.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

func errEmptyWorkflow() *Error {
	return &Error{Code: CodeEmptyWorkflow, Message: "workflow has no nodes"}
}

func errTooLarge(got, limit int) *Error {
	return &Error{
		Code:    CodeTooLarge,
		Message: fmt.Sprintf("workflow has %d nodes, limit is %d", got, limit),
	}
}

func errInvalidEdge(source, target, missing string) *Error {
	return &Error{
		Code:    CodeInvalidEdge,
		Nodes:   []string{missing},
		Message: fmt.Sprintf("edge %s -> %s references unknown node %q", source, target, missing),
	}
}

func errInvalidFallback(node, missing string) *Error {
	return &Error{
		Code:    CodeInvalidFallback,
		Nodes:   []string{missing},
		Message: fmt.Sprintf("node %q falls back to unknown node %q", node, missing),
	}
}

func errCircularDependency(nodes []string) *Error {
	return &Error{
		Code:    CodeCircularDependency,
		Nodes:   nodes,
		Message: "circular dependency detected involving: " + strings.Join(nodes, ", "),
	}
}
