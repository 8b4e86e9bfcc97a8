package backtrack

import (
	"sort"

	"github.com/braidflow/braid/runtime/workflow/graph"
)

// Doomed computes which pending descendants of root can no longer run after
// root terminally failed or was skipped. A pending node is doomed once every
// one of its dependencies is unrunnable or itself doomed; a node with at
// least one live or completed dependency survives and may still run on
// partial input.
//
// unrunnable reports nodes that terminally failed or were skipped. pending
// reports nodes not yet dispatched. The result is sorted ascending and does
// not include root.
func Doomed(g *graph.Graph, root string, unrunnable, pending func(string) bool) []string {
	descendants := g.Downstream(root)
	bad := map[string]bool{root: true}
	doomed := make(map[string]bool)

	// Fixpoint: chained dooms can resolve in any order because Downstream is
	// sorted by ID, not topologically.
	for changed := true; changed; {
		changed = false
		for _, id := range descendants {
			if doomed[id] || !pending(id) {
				continue
			}
			deps := g.Dependencies(id)
			if len(deps) == 0 {
				continue
			}
			all := true
			for _, dep := range deps {
				if !bad[dep] && !doomed[dep] && !unrunnable(dep) {
					all = false
					break
				}
			}
			if all {
				doomed[id] = true
				changed = true
			}
		}
	}

	out := make([]string, 0, len(doomed))
	for id := range doomed {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
