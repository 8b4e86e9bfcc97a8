package executor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/expr-lang/expr"

	"github.com/braidflow/braid/runtime/workflow/backtrack"
	"github.com/braidflow/braid/runtime/workflow/graph"
	"github.com/braidflow/braid/runtime/workflow/memory"
	"github.com/braidflow/braid/runtime/workflow/model"
	"github.com/braidflow/braid/runtime/workflow/planner"
	"github.com/braidflow/braid/runtime/workflow/run"
	"github.com/braidflow/braid/runtime/workflow/stream"
)

// runStep executes one step on a worker goroutine. It publishes the step's
// own lifecycle events; the driver applies the returned outcome to run state
// after the whole group has finished.
func (e *Executor) runStep(ctx context.Context, st *runState, s planner.Step, group int, input string) backtrack.Outcome {
	ctx, span := e.tracer.Start(ctx, "workflow.step")
	defer span.End()

	if q := s.Config.RecallQuery; q != "" && e.memory != nil {
		recalled, err := e.memory.Recall(ctx, st.memoryScope(), q, memory.DefaultTopK)
		switch {
		case err != nil:
			e.logger.Warn(ctx, "memory recall", "node_id", s.NodeID, "err", err)
		case len(recalled) > 0:
			input = recallBlock(recalled) + "\n\n" + input
		}
	}

	st.publish(ctx, stream.NewAgentStarted(st.req.RunID, stream.AgentStartedPayload{
		AgentID:       s.NodeID,
		AgentName:     s.Config.Name,
		ParallelGroup: group,
	}))

	var out backtrack.Outcome
	switch s.Kind {
	case graph.KindTool:
		out = e.runTool(ctx, st, s, input)
	case graph.KindConditional:
		// Routing steps forward their input untouched and cost nothing.
		out = backtrack.Outcome{NodeID: s.NodeID, Completed: true, Text: input, Attempts: 1}
	default:
		out = st.policy.Execute(ctx, e.protocolStep(st, s, group, input))
	}

	if out.Succeeded() {
		p := stream.AgentCompletedPayload{
			AgentID:   s.NodeID,
			AgentName: s.Config.Name,
			Tokens:    stream.TokensPayload{Prompt: out.Usage.Prompt, Completion: out.Usage.Completion},
			Cost:      out.Cost,
			LatencyMS: out.LatencyMS,
		}
		if !out.Completed {
			fb := out.Fallback
			p = stream.AgentCompletedPayload{
				AgentID:   fb.NodeID,
				AgentName: fb.Name,
				Tokens:    stream.TokensPayload{Prompt: fb.Usage.Prompt, Completion: fb.Usage.Completion},
				Cost:      fb.Cost,
				LatencyMS: fb.LatencyMS,
			}
		}
		st.publish(ctx, stream.NewAgentCompleted(st.req.RunID, p))

		if key := s.Config.MemoryKey; key != "" && e.memory != nil {
			meta := map[string]any{"run_id": st.req.RunID, "node_id": s.NodeID}
			if err := e.memory.Save(ctx, st.memoryScope(), key, out.FinalText(), meta); err != nil {
				e.logger.Warn(ctx, "memory save", "node_id", s.NodeID, "err", err)
			}
		}
		e.metrics.IncCounter("workflow_steps_total", 1, "status", "completed")
		e.metrics.RecordTimer("workflow_step_duration", time.Duration(out.LatencyMS)*time.Millisecond)
	} else if !out.Cancelled {
		e.metrics.IncCounter("workflow_steps_total", 1, "status", "failed")
	}
	return out
}

// runTool executes a tool step through its registered runner. Tools get a
// single attempt; failures carry the runner's error.
func (e *Executor) runTool(ctx context.Context, st *runState, s planner.Step, input string) backtrack.Outcome {
	out := backtrack.Outcome{NodeID: s.NodeID, Attempts: 1}
	fn, ok := e.tools[s.Config.ToolType]
	if !ok {
		out.Kind = model.KindConfiguration
		out.Err = fmt.Sprintf("no tool runner registered for type %q", s.Config.ToolType)
		st.publish(ctx, stream.NewAgentFailed(st.req.RunID, stream.AgentFailedPayload{
			AgentID:   s.NodeID,
			AgentName: s.Config.Name,
			Error:     out.Err,
		}))
		return out
	}

	toolCtx, cancel := context.WithTimeout(ctx, s.Config.Timeout())
	defer cancel()
	startedAt := time.Now()
	text, err := fn(toolCtx, ToolCall{NodeID: s.NodeID, Config: s.Config.ToolConfig, Input: input})
	out.LatencyMS = time.Since(startedAt).Milliseconds()
	if err != nil {
		if ctx.Err() != nil {
			out.Cancelled = true
			out.Err = ctx.Err().Error()
			return out
		}
		out.Kind = model.KindOf(err)
		out.Err = err.Error()
		st.publish(ctx, stream.NewAgentFailed(st.req.RunID, stream.AgentFailedPayload{
			AgentID:   s.NodeID,
			AgentName: s.Config.Name,
			Error:     out.Err,
		}))
		return out
	}
	out.Completed = true
	out.Text = text
	return out
}

// protocolStep builds the retry protocol step for an agent node, resolving
// the fallback configuration when one is declared. The fallback receives the
// same assembled input.
func (e *Executor) protocolStep(st *runState, s planner.Step, group int, input string) backtrack.Step {
	step := backtrack.Step{
		RunID:  st.req.RunID,
		NodeID: s.NodeID,
		Name:   s.Config.Name,
		Group:  group,
		Config: s.Config,
		Prompt: input,
	}
	if fbID := s.Config.FallbackID; fbID != "" {
		if node, ok := st.graph.Node(fbID); ok {
			cfg := node.Config.Resolved(fbID)
			step.Fallback = &backtrack.Step{
				RunID:  st.req.RunID,
				NodeID: fbID,
				Name:   cfg.Name,
				Group:  group,
				Config: cfg,
				Prompt: input,
			}
		}
	}
	return step
}

// memoryScope is the recall and save scope. Memories are per run: a step
// recalls only what earlier steps of the same run saved.
func (st *runState) memoryScope() string {
	return st.req.RunID
}

// stepInput assembles the input text for a step from the run input and the
// completed dependency outputs.
func (st *runState) stepInput(s planner.Step) string {
	if s.Kind == graph.KindConditional {
		return st.routedText(s)
	}
	return st.assemblePrompt(s)
}

// routedText joins the completed dependency outputs without labels so that
// branch conditions see the raw upstream text. A source routing step
// forwards the run input.
func (st *runState) routedText(s planner.Step) string {
	if len(s.Deps) == 0 {
		return st.req.Input
	}
	var texts []string
	for _, dep := range s.Deps {
		if out, ok := st.outputs[dep]; ok {
			texts = append(texts, out.Text)
		}
	}
	return strings.Join(texts, "\n\n")
}

// assemblePrompt builds the step's user message: the run input for source
// steps, then the completed dependency outputs labeled by step name. Steps
// with nothing to consume get a fixed placeholder.
func (st *runState) assemblePrompt(s planner.Step) string {
	var parts []string
	if len(s.Deps) == 0 && st.req.Input != "" {
		parts = append(parts, "User input:\n"+st.req.Input)
	}
	var depParts []string
	for _, dep := range s.Deps {
		out, ok := st.outputs[dep]
		if !ok {
			continue
		}
		depParts = append(depParts, fmt.Sprintf("\n[%s]:\n%s", st.stepName(dep), out.Text))
	}
	if len(depParts) > 0 {
		parts = append(parts, "Context from previous agents:")
		parts = append(parts, depParts...)
	}
	if len(parts) == 0 {
		return "No input provided."
	}
	return strings.Join(parts, "\n\n")
}

// recallBlock renders recalled memory entries in the same labeled shape as
// dependency context.
func recallBlock(entries []memory.Recalled) string {
	parts := []string{"Recalled context:"}
	for _, r := range entries {
		parts = append(parts, fmt.Sprintf("\n[%s]:\n%s", r.Key, r.Content))
	}
	return strings.Join(parts, "\n\n")
}

// settleBranches skips the losing branch targets of a routing step. The
// first matching outgoing edge in ascending target order wins; an
// unconditional or "default" edge wins only when no condition matched. With
// no match and no default, every target loses.
func (st *runState) settleBranches(ctx context.Context, s planner.Step, text string) {
	edges := st.graph.Outgoing(s.NodeID)
	if len(edges) == 0 {
		return
	}
	winner := selectBranch(s.Config, edges, text)
	for _, e := range edges {
		if e.Target == winner || st.status[e.Target] != run.StatusPending {
			continue
		}
		st.skip(ctx, e.Target, st.plan.GroupOf(e.Target), run.SkipConditionNotMet)
		st.propagate(ctx, e.Target)
	}
}

// selectBranch picks the winning target for a routing step's output.
func selectBranch(cfg graph.Config, edges []graph.Edge, output string) string {
	if len(cfg.Branches) > 0 {
		return selectMapped(cfg.Branches, output)
	}
	def := ""
	for _, e := range edges {
		c := strings.TrimSpace(e.Condition)
		if c == "" || c == "default" {
			if def == "" {
				def = e.Target
			}
			continue
		}
		if evalCondition(c, output) {
			return e.Target
		}
	}
	return def
}

// selectMapped picks from an explicit branches map of condition value to
// target. Entries are tried in ascending target order with "default" last.
func selectMapped(branches map[string]string, output string) string {
	type entry struct{ value, target string }
	var list []entry
	def := ""
	for v, t := range branches {
		if v == "default" {
			def = t
			continue
		}
		list = append(list, entry{v, t})
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].target != list[j].target {
			return list[i].target < list[j].target
		}
		return list[i].value < list[j].value
	})
	for _, e := range list {
		if evalCondition(e.value, output) {
			return e.target
		}
	}
	return def
}

// evalCondition evaluates an edge condition against the source output.
// Supported forms: "equals:<s>", "contains:<s>", "expr:<program>" with the
// output bound as "output", "default" which always matches, and a bare
// string which matches when the output contains it.
func evalCondition(cond, output string) bool {
	c := strings.TrimSpace(cond)
	switch {
	case c == "" || c == "default":
		return true
	case strings.HasPrefix(c, "equals:"):
		return output == strings.TrimPrefix(c, "equals:")
	case strings.HasPrefix(c, "contains:"):
		return strings.Contains(output, strings.TrimPrefix(c, "contains:"))
	case strings.HasPrefix(c, "expr:"):
		return evalExpr(strings.TrimPrefix(c, "expr:"), output)
	default:
		return strings.Contains(output, c)
	}
}

// evalExpr compiles and runs an expr program with the step output bound as
// "output". Compile and runtime errors evaluate to false.
func evalExpr(code, output string) bool {
	program, err := expr.Compile(code, expr.AsBool())
	if err != nil {
		return false
	}
	v, err := expr.Run(program, map[string]any{"output": output})
	if err != nil {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}
