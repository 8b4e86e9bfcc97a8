// Package graph defines workflow graphs: nodes, directed edges, per-node
// configuration, and the adjacency queries the planner and executor build on.
// A graph is the static shape of a workflow; it carries no execution state.
//
// Fallback references are deliberately not edges: they name a substitute node
// for failure recovery and never participate in ordering or cycle detection.
package graph

import (
	"sort"
	"time"
)

// Kind tags the node variant. The engine dispatches on it exhaustively.
type Kind string

const (
	// KindAgent is an LLM step: the node's prompt is sent to a provider and
	// the completion becomes the node output.
	KindAgent Kind = "agent"

	// KindTool is a local computation step executed by a registered tool
	// runner. Tool steps consume no model tokens.
	KindTool Kind = "tool"

	// KindConditional is a routing step: it forwards its dependency output
	// and selects exactly one outgoing branch.
	KindConditional Kind = "conditional"
)

type (
	// Graph is a set of nodes and directed edges. Construct it directly or
	// decode it from a JSON definition with DecodeDefinition.
	Graph struct {
		Nodes []Node
		Edges []Edge
	}

	// Node is a single workflow step.
	Node struct {
		// ID uniquely identifies the node within the graph.
		ID string

		// Kind selects the node variant. Empty defaults to KindAgent.
		Kind Kind

		// Config carries the resolved step configuration.
		Config Config
	}

	// Edge is a directed dependency from Source to Target, optionally guarded
	// by a condition evaluated against the source output.
	Edge struct {
		Source string
		Target string

		// Condition guards the edge. Supported forms: "equals:<s>",
		// "contains:<s>", "expr:<program>", "default", and the bare-string
		// form which matches when the source output equals or contains the
		// string. Empty means unconditional.
		Condition string
	}

	// Config is the per-node configuration record. Agent fields apply to all
	// kinds; ToolType/ToolConfig apply to tool nodes and Condition/Branches to
	// conditional nodes.
	Config struct {
		// Name is the human-facing step name. Defaults to the node ID.
		Name string `json:"name,omitempty"`

		// Provider tags the model provider ("openai", "anthropic", "bedrock").
		Provider string `json:"provider,omitempty"`

		// Model is the provider-specific model identifier.
		Model string `json:"model,omitempty"`

		// SystemPrompt is the system instruction for agent steps.
		SystemPrompt string `json:"system_prompt,omitempty"`

		// Temperature is the sampling temperature, 0 to 2.
		Temperature float32 `json:"temperature,omitempty"`

		// MaxTokens caps completion tokens for the step.
		MaxTokens int `json:"max_tokens,omitempty"`

		// MaxRetries bounds retry attempts past the first. Values above the
		// policy cap are clamped at plan time.
		MaxRetries *int `json:"max_retries,omitempty"`

		// TimeoutSeconds bounds a single attempt.
		TimeoutSeconds int `json:"timeout_seconds,omitempty"`

		// FallbackID names the node executed as a substitute when this node
		// terminally fails. Metadata only: never an execution edge.
		FallbackID string `json:"fallback_agent_id,omitempty"`

		// MemoryKey, when set, stores the step output in the run memory under
		// this key after completion.
		MemoryKey string `json:"memory_key,omitempty"`

		// RecallQuery, when set, recalls related memory entries before the
		// step runs and prepends them to the step input.
		RecallQuery string `json:"recall_query,omitempty"`

		// ToolType selects the registered tool runner for tool nodes.
		ToolType string `json:"tool_type,omitempty"`

		// ToolConfig is the free-form tool configuration map.
		ToolConfig map[string]any `json:"tool_config,omitempty"`

		// Condition is the branch-selection expression for conditional nodes.
		Condition string `json:"condition,omitempty"`

		// Branches maps condition results to target node IDs for conditional
		// nodes. Empty means branch selection uses outgoing edge conditions.
		Branches map[string]string `json:"branches,omitempty"`
	}
)

// Configuration defaults applied by Resolved.
const (
	DefaultProvider       = "openai"
	DefaultModel          = "gpt-4o"
	DefaultTemperature    = 0.7
	DefaultMaxTokens      = 1000
	DefaultMaxRetries     = 2
	DefaultTimeoutSeconds = 60

	// MaxRetriesCap bounds per-node retry configuration.
	MaxRetriesCap = 5
)

// Resolved returns a copy of c with defaults applied and MaxRetries clamped
// to the policy cap. id supplies the default name.
func (c Config) Resolved(id string) Config {
	out := c
	if out.Name == "" {
		out.Name = id
	}
	if out.Provider == "" {
		out.Provider = DefaultProvider
	}
	if out.Model == "" {
		out.Model = DefaultModel
	}
	if out.Temperature == 0 {
		out.Temperature = DefaultTemperature
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = DefaultMaxTokens
	}
	if out.MaxRetries == nil {
		n := DefaultMaxRetries
		out.MaxRetries = &n
	} else if *out.MaxRetries > MaxRetriesCap {
		n := MaxRetriesCap
		out.MaxRetries = &n
	} else if *out.MaxRetries < 0 {
		n := 0
		out.MaxRetries = &n
	}
	if out.TimeoutSeconds <= 0 {
		out.TimeoutSeconds = DefaultTimeoutSeconds
	}
	return out
}

// Retries returns the resolved retry count.
func (c Config) Retries() int {
	if c.MaxRetries == nil {
		return DefaultMaxRetries
	}
	return *c.MaxRetries
}

// Timeout returns the resolved per-attempt timeout.
func (c Config) Timeout() time.Duration {
	secs := c.TimeoutSeconds
	if secs <= 0 {
		secs = DefaultTimeoutSeconds
	}
	return time.Duration(secs) * time.Second
}

// Node returns the node with the given ID, or false when absent.
func (g *Graph) Node(id string) (Node, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// Dependencies returns the IDs of the nodes id depends on, ascending.
func (g *Graph) Dependencies(id string) []string {
	var deps []string
	for _, e := range g.Edges {
		if e.Target == id {
			deps = append(deps, e.Source)
		}
	}
	sort.Strings(deps)
	return deps
}

// Dependents returns the IDs of the nodes that depend on id, ascending.
func (g *Graph) Dependents(id string) []string {
	var deps []string
	for _, e := range g.Edges {
		if e.Source == id {
			deps = append(deps, e.Target)
		}
	}
	sort.Strings(deps)
	return deps
}

// Outgoing returns the edges leaving id sorted by target ID ascending, the
// evaluation order for branch selection.
func (g *Graph) Outgoing(id string) []Edge {
	var edges []Edge
	for _, e := range g.Edges {
		if e.Source == id {
			edges = append(edges, e)
		}
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].Target < edges[j].Target })
	return edges
}

// Incoming returns the edges entering id sorted by source ID ascending.
func (g *Graph) Incoming(id string) []Edge {
	var edges []Edge
	for _, e := range g.Edges {
		if e.Target == id {
			edges = append(edges, e)
		}
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].Source < edges[j].Source })
	return edges
}

// Downstream returns every node reachable from id through outgoing edges,
// ascending. id itself is not included.
func (g *Graph) Downstream(id string) []string {
	adjacent := make(map[string][]string, len(g.Nodes))
	for _, e := range g.Edges {
		adjacent[e.Source] = append(adjacent[e.Source], e.Target)
	}
	seen := make(map[string]bool)
	stack := []string{id}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, target := range adjacent[current] {
			if !seen[target] {
				seen[target] = true
				stack = append(stack, target)
			}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// NodeKind returns the effective kind for n, defaulting to KindAgent.
func (n Node) NodeKind() Kind {
	if n.Kind == "" {
		return KindAgent
	}
	return n.Kind
}
