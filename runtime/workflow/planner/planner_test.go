package planner

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/braidflow/braid/runtime/workflow/graph"
)

func TestBuildSingleNode(t *testing.T) {
	plan, err := Build(&graph.Graph{Nodes: []graph.Node{{ID: "solo"}}})
	require.NoError(t, err)

	require.Len(t, plan.Groups, 1)
	require.Len(t, plan.Groups[0].Steps, 1)
	step := plan.Groups[0].Steps[0]
	assert.Equal(t, "solo", step.NodeID)
	assert.Empty(t, step.Deps)
	assert.Equal(t, graph.KindAgent, step.Kind)
	assert.Equal(t, graph.DefaultModel, step.Config.Model)
	assert.Equal(t, 1, plan.TotalSteps)
	assert.Equal(t, 1, plan.MaxParallelism)
	assert.Equal(t, 1, plan.EstimatedRounds)
}

func TestBuildDiamond(t *testing.T) {
	g := &graph.Graph{
		Nodes: []graph.Node{{ID: "d"}, {ID: "b"}, {ID: "c"}, {ID: "a"}},
		Edges: []graph.Edge{
			{Source: "a", Target: "b"},
			{Source: "a", Target: "c"},
			{Source: "b", Target: "d"},
			{Source: "c", Target: "d"},
		},
	}
	plan, err := Build(g)
	require.NoError(t, err)

	require.Len(t, plan.Groups, 3)
	assert.Equal(t, []string{"a"}, stepIDs(plan.Groups[0]))
	assert.Equal(t, []string{"b", "c"}, stepIDs(plan.Groups[1]))
	assert.Equal(t, []string{"d"}, stepIDs(plan.Groups[2]))
	assert.Equal(t, 4, plan.TotalSteps)
	assert.Equal(t, 2, plan.MaxParallelism)
	assert.Equal(t, 3, plan.EstimatedRounds)

	d, ok := plan.Step("d")
	require.True(t, ok)
	assert.Equal(t, []string{"b", "c"}, d.Deps)
	assert.Equal(t, 2, plan.GroupOf("d"))
	assert.Equal(t, -1, plan.GroupOf("missing"))
}

func TestBuildEmptyWorkflow(t *testing.T) {
	_, err := Build(&graph.Graph{})
	pe, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeEmptyWorkflow, pe.Code)
	assert.Equal(t, "workflow has no nodes", pe.Error())
}

func TestBuildNodeLimit(t *testing.T) {
	build := func(n int) error {
		g := &graph.Graph{}
		for i := 0; i < n; i++ {
			g.Nodes = append(g.Nodes, graph.Node{ID: fmt.Sprintf("n%02d", i)})
		}
		_, err := Build(g)
		return err
	}

	require.NoError(t, build(DefaultMaxNodes))

	err := build(DefaultMaxNodes + 1)
	pe, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeTooLarge, pe.Code)

	// The limit is adjustable.
	g := &graph.Graph{Nodes: []graph.Node{{ID: "a"}, {ID: "b"}}}
	_, err = Build(g, WithMaxNodes(1))
	pe, ok = AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeTooLarge, pe.Code)
}

func TestBuildInvalidEdge(t *testing.T) {
	g := &graph.Graph{
		Nodes: []graph.Node{{ID: "a"}},
		Edges: []graph.Edge{{Source: "a", Target: "ghost"}},
	}
	_, err := Build(g)
	pe, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeInvalidEdge, pe.Code)
	assert.Equal(t, []string{"ghost"}, pe.Nodes)
	assert.Contains(t, pe.Error(), `unknown node "ghost"`)
}

func TestBuildInvalidFallback(t *testing.T) {
	g := &graph.Graph{
		Nodes: []graph.Node{{ID: "a", Config: graph.Config{FallbackID: "ghost"}}},
	}
	_, err := Build(g)
	pe, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeInvalidFallback, pe.Code)

	// A standby fallback counts toward the node limit but is left out of the
	// groups: it only runs when substitution triggers.
	g = &graph.Graph{
		Nodes: []graph.Node{
			{ID: "a", Config: graph.Config{FallbackID: "b"}},
			{ID: "b"},
		},
	}
	plan, err := Build(g)
	require.NoError(t, err)
	require.Len(t, plan.Groups, 1)
	require.Len(t, plan.Groups[0].Steps, 1)
	assert.Equal(t, "a", plan.Groups[0].Steps[0].NodeID)
	assert.Equal(t, 1, plan.TotalSteps)
	assert.Equal(t, -1, plan.GroupOf("b"))
}

func TestBuildFallbackWiredIntoFlow(t *testing.T) {
	// A fallback that also has edges of its own is a regular flow node.
	g := &graph.Graph{
		Nodes: []graph.Node{
			{ID: "a", Config: graph.Config{FallbackID: "b"}},
			{ID: "b"},
			{ID: "c"},
		},
		Edges: []graph.Edge{{Source: "b", Target: "c"}},
	}
	plan, err := Build(g)
	require.NoError(t, err)
	require.Len(t, plan.Groups, 2)
	assert.Equal(t, 3, plan.TotalSteps)
	assert.Equal(t, []string{"a", "b"}, stepIDs(plan.Groups[0]))
	assert.Equal(t, []string{"c"}, stepIDs(plan.Groups[1]))
}

func TestBuildCycle(t *testing.T) {
	g := &graph.Graph{
		Nodes: []graph.Node{{ID: "a"}, {ID: "b"}, {ID: "c"}},
		Edges: []graph.Edge{
			{Source: "a", Target: "b"},
			{Source: "b", Target: "c"},
			{Source: "c", Target: "a"},
		},
	}
	_, err := Build(g)
	pe, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeCircularDependency, pe.Code)
	assert.Equal(t, []string{"a", "b", "c"}, pe.Nodes)
	assert.Equal(t, "circular dependency detected involving: a, b, c", pe.Error())
}

func TestBuildSelfLoop(t *testing.T) {
	g := &graph.Graph{
		Nodes: []graph.Node{{ID: "a"}},
		Edges: []graph.Edge{{Source: "a", Target: "a"}},
	}
	_, err := Build(g)
	pe, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeCircularDependency, pe.Code)
	assert.Equal(t, []string{"a"}, pe.Nodes)
}

func TestBuildCycleBlocksDownstream(t *testing.T) {
	// Nodes stuck behind the cycle are reported with it.
	g := &graph.Graph{
		Nodes: []graph.Node{{ID: "a"}, {ID: "b"}, {ID: "tail"}},
		Edges: []graph.Edge{
			{Source: "a", Target: "b"},
			{Source: "b", Target: "a"},
			{Source: "b", Target: "tail"},
		},
	}
	_, err := Build(g)
	pe, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, CodeCircularDependency, pe.Code)
	assert.Equal(t, []string{"a", "b", "tail"}, pe.Nodes)
}

func TestBuildStableBytes(t *testing.T) {
	g := &graph.Graph{
		Nodes: []graph.Node{
			{ID: "fan1"}, {ID: "merge"}, {ID: "fan2"}, {ID: "root"},
		},
		Edges: []graph.Edge{
			{Source: "root", Target: "fan2"},
			{Source: "fan1", Target: "merge"},
			{Source: "root", Target: "fan1"},
			{Source: "fan2", Target: "merge"},
		},
	}
	first, err := Build(g)
	require.NoError(t, err)
	second, err := Build(g)
	require.NoError(t, err)

	b1, err := first.Marshal()
	require.NoError(t, err)
	b2, err := second.Marshal()
	require.NoError(t, err)
	assert.Equal(t, b1, b2)
}

func TestBuildProperties(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 100
	properties := gopter.NewProperties(params)

	properties.Property("dependencies always land in earlier groups", prop.ForAll(
		func(seed int64, n int) bool {
			g := randomDAG(seed, n)
			plan, err := Build(g)
			if err != nil {
				return false
			}
			for _, group := range plan.Groups {
				for _, step := range group.Steps {
					for _, dep := range step.Deps {
						if plan.GroupOf(dep) >= group.Index {
							return false
						}
					}
				}
			}
			return true
		},
		gen.Int64(),
		gen.IntRange(1, 20),
	))

	properties.Property("every node appears exactly once", prop.ForAll(
		func(seed int64, n int) bool {
			g := randomDAG(seed, n)
			plan, err := Build(g)
			if err != nil {
				return false
			}
			seen := make(map[string]int)
			for _, group := range plan.Groups {
				for _, step := range group.Steps {
					seen[step.NodeID]++
				}
			}
			if len(seen) != len(g.Nodes) || plan.TotalSteps != len(g.Nodes) {
				return false
			}
			for _, count := range seen {
				if count != 1 {
					return false
				}
			}
			return true
		},
		gen.Int64(),
		gen.IntRange(1, 20),
	))

	properties.Property("node and edge order never changes the plan bytes", prop.ForAll(
		func(seed int64, n int) bool {
			g := randomDAG(seed, n)
			canonical, err := Build(g)
			if err != nil {
				return false
			}
			want, err := canonical.Marshal()
			if err != nil {
				return false
			}
			rng := rand.New(rand.NewSource(seed ^ 0x5ca1ab1e))
			shuffled := &graph.Graph{
				Nodes: append([]graph.Node(nil), g.Nodes...),
				Edges: append([]graph.Edge(nil), g.Edges...),
			}
			rng.Shuffle(len(shuffled.Nodes), func(i, j int) {
				shuffled.Nodes[i], shuffled.Nodes[j] = shuffled.Nodes[j], shuffled.Nodes[i]
			})
			rng.Shuffle(len(shuffled.Edges), func(i, j int) {
				shuffled.Edges[i], shuffled.Edges[j] = shuffled.Edges[j], shuffled.Edges[i]
			})
			plan, err := Build(shuffled)
			if err != nil {
				return false
			}
			got, err := plan.Marshal()
			if err != nil {
				return false
			}
			return string(want) == string(got)
		},
		gen.Int64(),
		gen.IntRange(1, 20),
	))

	properties.Property("group sizes bound reported parallelism and rounds", prop.ForAll(
		func(seed int64, n int) bool {
			g := randomDAG(seed, n)
			plan, err := Build(g)
			if err != nil {
				return false
			}
			maxSize := 0
			for _, group := range plan.Groups {
				if len(group.Steps) == 0 {
					return false
				}
				if len(group.Steps) > maxSize {
					maxSize = len(group.Steps)
				}
			}
			return plan.MaxParallelism == maxSize && plan.EstimatedRounds == len(plan.Groups)
		},
		gen.Int64(),
		gen.IntRange(1, 20),
	))

	properties.TestingRun(t)
}

// randomDAG builds an acyclic graph by only drawing edges from lower to
// higher indices.
func randomDAG(seed int64, n int) *graph.Graph {
	rng := rand.New(rand.NewSource(seed))
	g := &graph.Graph{}
	for i := 0; i < n; i++ {
		g.Nodes = append(g.Nodes, graph.Node{ID: fmt.Sprintf("n%02d", i)})
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if rng.Float64() < 0.3 {
				g.Edges = append(g.Edges, graph.Edge{
					Source: fmt.Sprintf("n%02d", i),
					Target: fmt.Sprintf("n%02d", j),
				})
			}
		}
	}
	return g
}

func stepIDs(g Group) []string {
	ids := make([]string, 0, len(g.Steps))
	for _, s := range g.Steps {
		ids = append(ids, s.NodeID)
	}
	return ids
}
