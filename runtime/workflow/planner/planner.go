// Package planner turns workflow graphs into execution plans. A plan is a
// sequence of parallel groups: every node lands in the earliest group that
// follows all of its dependencies, nodes inside a group are independent, and
// group contents are sorted by node ID so the same graph always yields the
// same plan, byte for byte.
package planner

import (
	"encoding/json"
	"sort"

	"github.com/braidflow/braid/runtime/workflow/graph"
)

// DefaultMaxNodes bounds plannable graphs.
const DefaultMaxNodes = 50

type (
	// Plan is the executable shape of a workflow. Groups run in order; steps
	// within a group may run concurrently.
	Plan struct {
		// Groups holds the parallel groups in execution order.
		Groups []Group `json:"groups"`

		// TotalSteps is the node count across all groups.
		TotalSteps int `json:"total_agents"`

		// MaxParallelism is the size of the largest group.
		MaxParallelism int `json:"max_parallelism"`

		// EstimatedRounds is the group count, the minimum number of
		// sequential rounds a run takes.
		EstimatedRounds int `json:"estimated_rounds"`
	}

	// Group is one parallel group. Steps are sorted by node ID.
	Group struct {
		Index int    `json:"group"`
		Steps []Step `json:"agents"`
	}

	// Step is one planned node with its resolved configuration and the IDs of
	// the nodes it consumes output from, sorted ascending.
	Step struct {
		NodeID string       `json:"node_id"`
		Kind   graph.Kind   `json:"kind"`
		Config graph.Config `json:"config"`
		Deps   []string     `json:"deps,omitempty"`
	}

	// Option adjusts planning.
	Option func(*options)

	options struct {
		maxNodes int
	}
)

// WithMaxNodes overrides the node limit. Zero or negative restores the
// default.
func WithMaxNodes(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxNodes = n
		}
	}
}

// Build validates g and computes its execution plan. Failures are reported as
// *Error with a classification code.
func Build(g *graph.Graph, opts ...Option) (*Plan, error) {
	o := options{maxNodes: DefaultMaxNodes}
	for _, opt := range opts {
		opt(&o)
	}

	nodes := make(map[string]graph.Node, len(g.Nodes))
	ids := make([]string, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		if _, seen := nodes[n.ID]; !seen {
			ids = append(ids, n.ID)
		}
		nodes[n.ID] = n
	}
	if len(nodes) == 0 {
		return nil, errEmptyWorkflow()
	}
	if len(nodes) > o.maxNodes {
		return nil, errTooLarge(len(nodes), o.maxNodes)
	}
	for _, e := range g.Edges {
		if _, ok := nodes[e.Source]; !ok {
			return nil, errInvalidEdge(e.Source, e.Target, e.Source)
		}
		if _, ok := nodes[e.Target]; !ok {
			return nil, errInvalidEdge(e.Source, e.Target, e.Target)
		}
	}
	sort.Strings(ids)
	fallbackTargets := make(map[string]bool)
	for _, id := range ids {
		if fb := nodes[id].Config.FallbackID; fb != "" {
			if _, ok := nodes[fb]; !ok {
				return nil, errInvalidFallback(id, fb)
			}
			fallbackTargets[fb] = true
		}
	}

	// Nodes that exist only to serve as fallbacks are standby capacity: they
	// run when substitution triggers, never on their own. A fallback wired
	// into the flow with edges still plans normally.
	wired := make(map[string]bool, len(nodes))
	for _, e := range g.Edges {
		wired[e.Source] = true
		wired[e.Target] = true
	}
	planned := make([]string, 0, len(ids))
	for _, id := range ids {
		if fallbackTargets[id] && !wired[id] {
			continue
		}
		planned = append(planned, id)
	}
	if len(planned) == 0 {
		return nil, errEmptyWorkflow()
	}

	deps := make(map[string][]string, len(planned))
	adjacent := make(map[string][]string, len(planned))
	inDegree := make(map[string]int, len(planned))
	for _, id := range planned {
		inDegree[id] = 0
	}
	for _, e := range g.Edges {
		deps[e.Target] = append(deps[e.Target], e.Source)
		adjacent[e.Source] = append(adjacent[e.Source], e.Target)
		inDegree[e.Target]++
	}

	order, ok := topoSort(planned, adjacent, inDegree)
	if !ok {
		var cycle []string
		for id, d := range inDegree {
			if d > 0 {
				cycle = append(cycle, id)
			}
		}
		sort.Strings(cycle)
		return nil, errCircularDependency(cycle)
	}

	// A node's group is one past its deepest dependency. Walking in
	// topological order guarantees dependency groups are already known.
	groupOf := make(map[string]int, len(order))
	maxGroup := 0
	for _, id := range order {
		gi := 0
		for _, dep := range deps[id] {
			if dg := groupOf[dep] + 1; dg > gi {
				gi = dg
			}
		}
		groupOf[id] = gi
		if gi > maxGroup {
			maxGroup = gi
		}
	}

	members := make([][]string, maxGroup+1)
	for _, id := range order {
		gi := groupOf[id]
		members[gi] = append(members[gi], id)
	}

	plan := &Plan{
		Groups:          make([]Group, 0, len(members)),
		TotalSteps:      len(planned),
		EstimatedRounds: len(members),
	}
	for gi, ids := range members {
		sort.Strings(ids)
		group := Group{Index: gi, Steps: make([]Step, 0, len(ids))}
		for _, id := range ids {
			n := nodes[id]
			stepDeps := append([]string(nil), deps[id]...)
			sort.Strings(stepDeps)
			group.Steps = append(group.Steps, Step{
				NodeID: id,
				Kind:   n.NodeKind(),
				Config: n.Config.Resolved(id),
				Deps:   stepDeps,
			})
		}
		plan.Groups = append(plan.Groups, group)
		if len(group.Steps) > plan.MaxParallelism {
			plan.MaxParallelism = len(group.Steps)
		}
	}
	return plan, nil
}

// topoSort runs Kahn's algorithm over ids. The ready queue is kept sorted so
// ties break by node ID and the order is deterministic. Returns false when a
// cycle prevents a complete ordering; inDegree then still holds positive
// counts for the cycle participants.
func topoSort(ids []string, adjacent map[string][]string, inDegree map[string]int) ([]string, bool) {
	var queue []string
	for _, id := range ids {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}
	order := make([]string, 0, len(ids))
	for len(queue) > 0 {
		sort.Strings(queue)
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)
		for _, next := range adjacent[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	return order, len(order) == len(ids)
}

// Step returns the planned step for a node ID, or false when the plan does
// not contain it.
func (p *Plan) Step(nodeID string) (Step, bool) {
	for _, g := range p.Groups {
		for _, s := range g.Steps {
			if s.NodeID == nodeID {
				return s, true
			}
		}
	}
	return Step{}, false
}

// GroupOf returns the group index for a node ID, or -1 when absent.
func (p *Plan) GroupOf(nodeID string) int {
	for _, g := range p.Groups {
		for _, s := range g.Steps {
			if s.NodeID == nodeID {
				return g.Index
			}
		}
	}
	return -1
}

// Marshal renders the plan as JSON. All slices are deterministically ordered
// and maps marshal with sorted keys, so equal plans produce identical bytes.
func (p *Plan) Marshal() ([]byte, error) {
	return json.Marshal(p)
}
