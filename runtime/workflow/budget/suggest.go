package budget

import (
	"fmt"
	"sort"

	"github.com/braidflow/braid/runtime/workflow/graph"
	"github.com/braidflow/braid/runtime/workflow/pricing"
)

// Suggestion actions.
const (
	ActionDowngradeModel = "downgrade_model"
	ActionSkipAgent      = "skip_agent"
)

// Suggestion is one way to cheapen a workflow that does not fit its budget.
// Suggestions are ordered by savings, largest first, and each carries the
// running total of savings so far and whether applying every suggestion up
// to and including this one brings the estimate under budget.
type Suggestion struct {
	Action    string  `json:"action"`
	NodeID    string  `json:"node_id"`
	FromModel string  `json:"from_model,omitempty"`
	ToModel   string  `json:"to_model,omitempty"`
	Saves     float64 `json:"saves"`
	Impact    string  `json:"impact"`

	CumulativeSavings float64 `json:"cumulative_savings"`
	WouldFitBudget    bool    `json:"would_fit_budget"`
}

// downgradePaths orders cheaper substitutes for each supported model.
var downgradePaths = map[string][]string{
	"gpt-4o":            {"gpt-4o-mini", "gpt-3.5-turbo"},
	"gpt-4o-mini":       {"gpt-3.5-turbo"},
	"claude-3.5-sonnet": {"claude-3-haiku"},
}

// modelProvider resolves the provider for ladder models so substitutes can
// be priced.
var modelProvider = map[string]string{
	"gpt-4o":            "openai",
	"gpt-4o-mini":       "openai",
	"gpt-3.5-turbo":     "openai",
	"claude-3.5-sonnet": "anthropic",
	"claude-3-haiku":    "anthropic",
}

// Suggest proposes budget reductions for an estimate that exceeds maxCost.
// Two kinds are produced: downgrading a step to the first cheaper model on
// its ladder, and skipping optional steps, meaning steps no other node
// depends on. Steps are considered in plan order so equal savings rank
// deterministically.
func Suggest(est Estimate, maxCost float64, g *graph.Graph, table *pricing.Table) []Suggestion {
	var out []Suggestion
	for _, step := range est.Steps {
		if cheaper, ok := downgrade(step, table); ok {
			out = append(out, cheaper)
		}
		if len(g.Dependents(step.NodeID)) == 0 && step.Cost > 0 {
			out = append(out, Suggestion{
				Action: ActionSkipAgent,
				NodeID: step.NodeID,
				Saves:  step.Cost,
				Impact: fmt.Sprintf("output of %s will not be produced", step.NodeID),
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Saves > out[j].Saves })

	cumulative := 0.0
	for i := range out {
		cumulative = pricing.Round(cumulative + out[i].Saves)
		out[i].CumulativeSavings = cumulative
		out[i].WouldFitBudget = pricing.Round(est.TotalCost-cumulative) <= maxCost
	}
	return out
}

// downgrade proposes the first ladder substitute that actually saves money
// at the step's estimated token counts.
func downgrade(step StepEstimate, table *pricing.Table) (Suggestion, bool) {
	for _, to := range downgradePaths[step.Model] {
		provider, ok := modelProvider[to]
		if !ok {
			continue
		}
		cost := table.Cost(provider, to, step.PromptTokens, step.CompletionTokens)
		saves := pricing.Round(step.Cost - cost)
		if saves <= 0 {
			continue
		}
		return Suggestion{
			Action:    ActionDowngradeModel,
			NodeID:    step.NodeID,
			FromModel: step.Model,
			ToModel:   to,
			Saves:     saves,
			Impact:    fmt.Sprintf("%s may produce shorter or less nuanced outputs", to),
		}, true
	}
	return Suggestion{}, false
}
