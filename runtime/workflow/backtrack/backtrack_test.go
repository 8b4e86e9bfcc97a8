package backtrack

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/braidflow/braid/runtime/workflow/graph"
	"github.com/braidflow/braid/runtime/workflow/model"
	"github.com/braidflow/braid/runtime/workflow/model/mocks"
	"github.com/braidflow/braid/runtime/workflow/stream"
)

func newTestPolicy(t *testing.T, client model.Client) (*Policy, *stream.ChannelSink) {
	t.Helper()
	sink := stream.NewChannelSink(64)
	pub, err := stream.NewPublisher(stream.PublisherOptions{Sink: sink})
	require.NoError(t, err)
	p, err := New(Options{
		Client:    client,
		Publisher: pub,
		BaseDelay: time.Millisecond,
		MaxDelay:  4 * time.Millisecond,
	})
	require.NoError(t, err)
	return p, sink
}

func drainEvents(t *testing.T, sink *stream.ChannelSink) []stream.Event {
	t.Helper()
	require.NoError(t, sink.Close(context.Background()))
	var out []stream.Event
	for ev := range sink.Events() {
		out = append(out, ev)
	}
	return out
}

func eventTypes(events []stream.Event) []stream.EventType {
	types := make([]stream.EventType, 0, len(events))
	for _, ev := range events {
		types = append(types, ev.Type())
	}
	return types
}

func draftStep() Step {
	return Step{
		RunID:  "run-1",
		NodeID: "draft",
		Name:   "Draft",
		Group:  1,
		Config: graph.Config{
			Provider:       "openai",
			Model:          "gpt-4o",
			MaxTokens:      500,
			TimeoutSeconds: 5,
		},
		Prompt: "User input:\nwrite a haiku",
	}
}

func TestExecuteFirstAttemptSucceeds(t *testing.T) {
	client := mocks.NewClient(t)
	client.AddComplete(func(_ context.Context, req model.Request) (model.Response, error) {
		assert.Equal(t, "gpt-4o", req.Model)
		assert.Equal(t, "User input:\nwrite a haiku", req.UserMessage)
		return model.Response{
			Text:      "silent pond",
			Model:     "gpt-4o",
			Usage:     model.TokenUsage{Prompt: 1000, Completion: 500},
			LatencyMS: 42,
		}, nil
	})
	p, sink := newTestPolicy(t, client)

	out := p.Execute(context.Background(), draftStep())

	require.True(t, out.Completed)
	assert.True(t, out.Succeeded())
	assert.Equal(t, "silent pond", out.FinalText())
	assert.Equal(t, 1, out.Attempts)
	assert.Zero(t, out.Retries())
	assert.Equal(t, int64(42), out.LatencyMS)
	// Cost is derived from the pricing table when the client reports none.
	assert.Equal(t, 0.0075, out.Cost)
	assert.False(t, client.HasMore())
	assert.Empty(t, drainEvents(t, sink))
}

func TestExecuteRetriesThenSucceeds(t *testing.T) {
	client := mocks.NewClient(t)
	transient := model.NewError("openai", "chat.completions", 503, model.KindTransient, "upstream unavailable", nil)
	client.AddComplete(func(context.Context, model.Request) (model.Response, error) {
		return model.Response{}, transient
	})
	client.AddComplete(func(context.Context, model.Request) (model.Response, error) {
		return model.Response{}, transient
	})
	client.AddComplete(func(context.Context, model.Request) (model.Response, error) {
		return model.Response{Text: "ok", Usage: model.TokenUsage{Prompt: 10, Completion: 5}}, nil
	})
	p, sink := newTestPolicy(t, client)

	out := p.Execute(context.Background(), draftStep())

	require.True(t, out.Completed)
	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, 2, out.Retries())
	assert.False(t, client.HasMore())

	events := drainEvents(t, sink)
	require.Equal(t, []stream.EventType{
		stream.EventAgentFailed,
		stream.EventAgentRetrying,
		stream.EventAgentFailed,
		stream.EventAgentRetrying,
	}, eventTypes(events))

	first := events[0].(stream.AgentFailed)
	assert.True(t, first.Data.WillRetry)
	assert.Equal(t, 2, first.Data.RetriesRemaining)
	assert.Contains(t, first.Data.Error, "upstream unavailable")

	retry1 := events[1].(stream.AgentRetrying)
	assert.Equal(t, 1, retry1.Data.RetryNumber)

	second := events[2].(stream.AgentFailed)
	assert.True(t, second.Data.WillRetry)
	assert.Equal(t, 1, second.Data.RetriesRemaining)

	retry2 := events[3].(stream.AgentRetrying)
	assert.Equal(t, 2, retry2.Data.RetryNumber)
}

func TestExecuteExhaustsRetries(t *testing.T) {
	client := mocks.NewClient(t)
	client.SetComplete(func(context.Context, model.Request) (model.Response, error) {
		return model.Response{}, model.NewError("openai", "chat.completions", 500, model.KindTransient, "boom", nil)
	})
	p, sink := newTestPolicy(t, client)

	out := p.Execute(context.Background(), draftStep())

	require.False(t, out.Completed)
	assert.False(t, out.Succeeded())
	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, model.KindTransient, out.Kind)
	assert.Contains(t, out.Err, "boom")

	events := drainEvents(t, sink)
	require.Equal(t, []stream.EventType{
		stream.EventAgentFailed,
		stream.EventAgentRetrying,
		stream.EventAgentFailed,
		stream.EventAgentRetrying,
		stream.EventAgentFailed,
	}, eventTypes(events))
	last := events[4].(stream.AgentFailed)
	assert.False(t, last.Data.WillRetry)
	assert.Zero(t, last.Data.RetriesRemaining)
}

func TestExecuteConfigurationErrorFailsFast(t *testing.T) {
	client := mocks.NewClient(t)
	client.AddComplete(func(context.Context, model.Request) (model.Response, error) {
		return model.Response{}, model.NewError("openai", "chat.completions", 401, model.KindConfiguration, "bad api key", nil)
	})
	p, sink := newTestPolicy(t, client)

	out := p.Execute(context.Background(), draftStep())

	require.False(t, out.Completed)
	assert.Equal(t, 1, out.Attempts)
	assert.Equal(t, model.KindConfiguration, out.Kind)
	assert.False(t, client.HasMore())

	events := drainEvents(t, sink)
	require.Len(t, events, 1)
	failed := events[0].(stream.AgentFailed)
	assert.False(t, failed.Data.WillRetry)
}

func TestExecuteInvalidResponseRetriesOnce(t *testing.T) {
	client := mocks.NewClient(t)
	client.SetComplete(func(context.Context, model.Request) (model.Response, error) {
		return model.Response{}, model.NewError("openai", "chat.completions", 200, model.KindInvalidResponse, "empty choices", nil)
	})
	p, _ := newTestPolicy(t, client)

	out := p.Execute(context.Background(), draftStep())

	require.False(t, out.Completed)
	assert.Equal(t, 2, out.Attempts, "invalid responses get one extra attempt at most")
	assert.Equal(t, model.KindInvalidResponse, out.Kind)
}

func TestExecuteFallbackSucceeds(t *testing.T) {
	client := mocks.NewClient(t)
	client.AddComplete(func(context.Context, model.Request) (model.Response, error) {
		return model.Response{}, model.NewError("openai", "chat.completions", 401, model.KindConfiguration, "bad api key", nil)
	})
	client.AddComplete(func(_ context.Context, req model.Request) (model.Response, error) {
		// The fallback runs with the original step's prompt.
		assert.Equal(t, "User input:\nwrite a haiku", req.UserMessage)
		assert.Equal(t, "claude-3-haiku", req.Model)
		return model.Response{Text: "fallback text", Usage: model.TokenUsage{Prompt: 20, Completion: 10}}, nil
	})
	p, sink := newTestPolicy(t, client)

	step := draftStep()
	step.Fallback = &Step{
		RunID:  step.RunID,
		NodeID: "draft_backup",
		Name:   "Draft Backup",
		Group:  step.Group,
		Config: graph.Config{Provider: "anthropic", Model: "claude-3-haiku", MaxTokens: 500, TimeoutSeconds: 5},
		Prompt: step.Prompt,
	}

	out := p.Execute(context.Background(), step)

	require.False(t, out.Completed)
	require.NotNil(t, out.Fallback)
	assert.True(t, out.Fallback.Completed)
	assert.True(t, out.Succeeded())
	assert.Equal(t, "fallback text", out.FinalText())
	assert.Equal(t, "draft", out.NodeID)
	assert.Equal(t, "draft_backup", out.Fallback.NodeID)
	assert.False(t, client.HasMore())

	events := drainEvents(t, sink)
	require.Equal(t, []stream.EventType{
		stream.EventAgentFailed,
		stream.EventAgentFallback,
		stream.EventAgentStarted,
	}, eventTypes(events))

	fallback := events[1].(stream.AgentFallback)
	assert.Equal(t, "draft", fallback.Data.OriginalAgentID)
	assert.Equal(t, "draft_backup", fallback.Data.FallbackAgentID)
	assert.Equal(t, "Draft Backup", fallback.Data.FallbackAgentName)
	assert.Contains(t, fallback.Data.Reason, "bad api key")

	started := events[2].(stream.AgentStarted)
	assert.Equal(t, "draft_backup", started.Data.AgentID)
	assert.Equal(t, 1, started.Data.ParallelGroup)
}

func TestExecuteFallbackAlsoFails(t *testing.T) {
	client := mocks.NewClient(t)
	client.AddComplete(func(context.Context, model.Request) (model.Response, error) {
		return model.Response{}, model.NewError("openai", "chat.completions", 401, model.KindConfiguration, "bad api key", nil)
	})
	client.AddComplete(func(context.Context, model.Request) (model.Response, error) {
		return model.Response{}, model.NewError("anthropic", "messages", 529, model.KindTransient, "overloaded", nil)
	})
	p, sink := newTestPolicy(t, client)

	step := draftStep()
	step.Fallback = &Step{
		NodeID: "draft_backup",
		Name:   "Draft Backup",
		Config: graph.Config{Provider: "anthropic", Model: "claude-3-haiku", TimeoutSeconds: 5},
		Prompt: step.Prompt,
	}

	out := p.Execute(context.Background(), step)

	assert.False(t, out.Succeeded())
	require.NotNil(t, out.Fallback)
	assert.False(t, out.Fallback.Completed)
	assert.Contains(t, out.Fallback.Err, "overloaded")
	assert.False(t, client.HasMore())

	// The fallback is one attempt only: failed, no retrying event after it.
	events := drainEvents(t, sink)
	require.Equal(t, []stream.EventType{
		stream.EventAgentFailed,
		stream.EventAgentFallback,
		stream.EventAgentStarted,
		stream.EventAgentFailed,
	}, eventTypes(events))
	last := events[3].(stream.AgentFailed)
	assert.Equal(t, "draft_backup", last.Data.AgentID)
	assert.False(t, last.Data.WillRetry)
}

func TestExecuteCancelledDuringBackoff(t *testing.T) {
	client := mocks.NewClient(t)
	client.AddComplete(func(context.Context, model.Request) (model.Response, error) {
		return model.Response{}, model.NewError("openai", "chat.completions", 503, model.KindTransient, "unavailable", nil)
	})
	sink := stream.NewChannelSink(64)
	pub, err := stream.NewPublisher(stream.PublisherOptions{Sink: sink})
	require.NoError(t, err)
	p, err := New(Options{
		Client:    client,
		Publisher: pub,
		BaseDelay: 500 * time.Millisecond,
		MaxDelay:  time.Second,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	out := p.Execute(ctx, draftStep())

	assert.True(t, out.Cancelled)
	assert.False(t, out.Succeeded())

	// The attempt failure was announced before the cancellation hit.
	events := drainEvents(t, sink)
	require.Equal(t, []stream.EventType{stream.EventAgentFailed}, eventTypes(events))
}

func TestExecuteContextErrorIsCancellation(t *testing.T) {
	client := mocks.NewClient(t)
	client.AddComplete(func(ctx context.Context, _ model.Request) (model.Response, error) {
		<-ctx.Done()
		return model.Response{}, ctx.Err()
	})
	p, _ := newTestPolicy(t, client)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	out := p.Execute(ctx, draftStep())

	assert.True(t, out.Cancelled)
	assert.False(t, out.Completed)
}

func TestBackoffSchedule(t *testing.T) {
	p := &Policy{base: time.Second, max: 10 * time.Second}
	assert.Equal(t, 1*time.Second, p.backoff(0))
	assert.Equal(t, 2*time.Second, p.backoff(1))
	assert.Equal(t, 4*time.Second, p.backoff(2))
	assert.Equal(t, 8*time.Second, p.backoff(3))
	assert.Equal(t, 10*time.Second, p.backoff(4), "delay caps at the maximum")
	assert.Equal(t, 10*time.Second, p.backoff(5))
}

func TestBackoffJitterBounds(t *testing.T) {
	p := &Policy{base: time.Second, max: 10 * time.Second, jitter: 0.5}
	for i := 0; i < 50; i++ {
		d := p.backoff(1)
		assert.GreaterOrEqual(t, d, 2*time.Second)
		assert.Less(t, d, 3*time.Second)
	}
}

func TestNewValidation(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client is required")

	sink := stream.NewChannelSink(1)
	pub, err := stream.NewPublisher(stream.PublisherOptions{Sink: sink})
	require.NoError(t, err)
	_, err = New(Options{Publisher: pub})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "client is required")

	_, err = New(Options{Client: mocks.NewClient(t)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "publisher is required")
}

func TestDoomed(t *testing.T) {
	pendingAll := func(string) bool { return true }

	t.Run("partial input survives", func(t *testing.T) {
		// c consumes a and b; a failed but b can still complete.
		g := &graph.Graph{
			Nodes: []graph.Node{{ID: "a"}, {ID: "b"}, {ID: "c"}, {ID: "d"}},
			Edges: []graph.Edge{
				{Source: "a", Target: "c"},
				{Source: "b", Target: "c"},
				{Source: "c", Target: "d"},
			},
		}
		unrunnable := func(id string) bool { return id == "a" }
		assert.Empty(t, Doomed(g, "a", unrunnable, pendingAll))
	})

	t.Run("chain collapses", func(t *testing.T) {
		g := &graph.Graph{
			Nodes: []graph.Node{{ID: "a"}, {ID: "b"}, {ID: "d"}},
			Edges: []graph.Edge{
				{Source: "a", Target: "b"},
				{Source: "b", Target: "d"},
			},
		}
		unrunnable := func(id string) bool { return id == "a" }
		assert.Equal(t, []string{"b", "d"}, Doomed(g, "a", unrunnable, pendingAll))
	})

	t.Run("settled nodes are left alone", func(t *testing.T) {
		g := &graph.Graph{
			Nodes: []graph.Node{{ID: "a"}, {ID: "b"}, {ID: "d"}},
			Edges: []graph.Edge{
				{Source: "a", Target: "b"},
				{Source: "b", Target: "d"},
			},
		}
		unrunnable := func(id string) bool { return id == "a" }
		// b already completed before a's failure was known: nothing dooms.
		pending := func(id string) bool { return id == "d" }
		assert.Empty(t, Doomed(g, "a", unrunnable, pending))
	})

	t.Run("multiple bad deps doom the join", func(t *testing.T) {
		g := &graph.Graph{
			Nodes: []graph.Node{{ID: "a"}, {ID: "b"}, {ID: "c"}},
			Edges: []graph.Edge{
				{Source: "a", Target: "c"},
				{Source: "b", Target: "c"},
			},
		}
		unrunnable := func(id string) bool { return id == "a" || id == "b" }
		assert.Equal(t, []string{"c"}, Doomed(g, "a", unrunnable, pendingAll))
	})
}

func TestErrorClassification(t *testing.T) {
	transient := model.NewError("openai", "chat.completions", 503, model.KindTransient, "x", nil)
	assert.True(t, model.IsRetryable(transient))
	assert.Equal(t, model.KindTransient, model.KindOf(transient))

	cfg := model.NewError("openai", "chat.completions", 401, model.KindConfiguration, "x", nil)
	assert.False(t, model.IsRetryable(cfg))

	assert.False(t, model.IsRetryable(context.Canceled))
	assert.True(t, model.IsRetryable(context.DeadlineExceeded))
	assert.Equal(t, model.KindTimeout, model.KindOf(context.DeadlineExceeded))
	assert.True(t, model.IsRetryable(errors.New("anything else")))
}
