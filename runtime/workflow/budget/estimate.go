package budget

import (
	"math"

	"github.com/braidflow/braid/runtime/workflow/graph"
	"github.com/braidflow/braid/runtime/workflow/planner"
	"github.com/braidflow/braid/runtime/workflow/pricing"
)

// Estimation model: a dependency feeds its consumer on average
// avgOutputRatio of its token cap plus a formatting overhead per dependency;
// a dependency-free step reads a flat base of user input instead. Completion
// is budgeted at the step's full token cap.
const (
	avgOutputRatio        = 0.6
	baseInputEstimate     = 200
	formattingOverheadPer = 50
	charsPerToken         = 4
)

// Confidence grades how much to trust an estimate.
type Confidence string

const (
	// ConfidenceHigh marks small, unconditional workflows whose token use is
	// tightly bounded.
	ConfidenceHigh Confidence = "high"

	// ConfidenceMedium is the default grade.
	ConfidenceMedium Confidence = "medium"

	// ConfidenceLow marks workflows with branches that may not run or with
	// very large token caps.
	ConfidenceLow Confidence = "low"
)

// Confidence grading bounds.
const (
	highMaxTokens     = 1024
	highMaxPromptLen  = 512
	lowTokenThreshold = 4096
)

type (
	// StepEstimate prices a single planned step.
	StepEstimate struct {
		NodeID           string  `json:"node_id"`
		Provider         string  `json:"provider"`
		Model            string  `json:"model"`
		PromptTokens     int     `json:"input_tokens"`
		CompletionTokens int     `json:"output_tokens"`
		Cost             float64 `json:"cost"`
	}

	// Estimate prices a whole plan before execution.
	Estimate struct {
		Steps       []StepEstimate `json:"steps"`
		TotalTokens int            `json:"total_tokens"`
		TotalCost   float64        `json:"total_cost"`
		Confidence  Confidence     `json:"confidence"`
	}
)

// EstimatePlan prices every step of a plan without calling any model.
//
// Per step, the prompt estimate is the system prompt at four characters per
// token plus, for each dependency, the average share of that dependency's
// token cap and a formatting overhead; a step with no dependencies charges
// the flat user-input base instead. The completion estimate is the step's
// full token cap, an upper bound. Tool and conditional steps consume no
// model tokens and are priced at zero.
func EstimatePlan(plan *planner.Plan, g *graph.Graph, table *pricing.Table) Estimate {
	est := Estimate{Steps: make([]StepEstimate, 0, plan.TotalSteps)}
	caps := make(map[string]int, plan.TotalSteps)
	for _, group := range plan.Groups {
		for _, step := range group.Steps {
			caps[step.NodeID] = step.Config.MaxTokens
		}
	}
	for _, group := range plan.Groups {
		for _, step := range group.Steps {
			se := StepEstimate{
				NodeID:   step.NodeID,
				Provider: step.Config.Provider,
				Model:    step.Config.Model,
			}
			if step.Kind == graph.KindAgent {
				se.PromptTokens = promptTokens(step.Config.SystemPrompt)
				if len(step.Deps) == 0 {
					se.PromptTokens += baseInputEstimate
				}
				for _, dep := range step.Deps {
					capTokens, ok := caps[dep]
					if !ok || capTokens <= 0 {
						capTokens = graph.DefaultMaxTokens
					}
					se.PromptTokens += int(float64(capTokens)*avgOutputRatio) + formattingOverheadPer
				}
				se.CompletionTokens = step.Config.MaxTokens
				if se.CompletionTokens <= 0 {
					se.CompletionTokens = graph.DefaultMaxTokens
				}
				se.Cost = table.Cost(se.Provider, se.Model, se.PromptTokens, se.CompletionTokens)
			}
			est.Steps = append(est.Steps, se)
			est.TotalTokens += se.PromptTokens + se.CompletionTokens
			est.TotalCost += se.Cost
		}
	}
	est.TotalCost = pricing.Round(est.TotalCost)
	est.Confidence = gradeConfidence(plan, g)
	return est
}

// promptTokens approximates the token count of text. Never zero: even an
// empty prompt costs the model a token of framing.
func promptTokens(text string) int {
	n := int(math.Ceil(float64(len(text)) / charsPerToken))
	if n < 1 {
		n = 1
	}
	return n
}

// gradeConfidence grades an estimate. Conditional branching means whole
// subtrees may be skipped at run time, so any conditional drops the grade to
// low, as do token caps large enough to dwarf the average-output assumption.
// High requires every cap and prompt to be small and the graph unconditional.
func gradeConfidence(plan *planner.Plan, g *graph.Graph) Confidence {
	conditional := false
	for _, e := range g.Edges {
		if e.Condition != "" {
			conditional = true
			break
		}
	}
	small := true
	for _, group := range plan.Groups {
		for _, step := range group.Steps {
			if step.Kind == graph.KindConditional {
				conditional = true
			}
			if step.Config.MaxTokens > lowTokenThreshold {
				return ConfidenceLow
			}
			if step.Config.MaxTokens > highMaxTokens || len(step.Config.SystemPrompt) > highMaxPromptLen {
				small = false
			}
		}
	}
	if conditional {
		return ConfidenceLow
	}
	if small {
		return ConfidenceHigh
	}
	return ConfidenceMedium
}
