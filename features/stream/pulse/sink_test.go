package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	streamopts "goa.design/pulse/streaming/options"

	clientspulse "github.com/braidflow/braid/features/stream/pulse/clients/pulse"
	mockpulse "github.com/braidflow/braid/features/stream/pulse/clients/pulse/mocks"
	"github.com/braidflow/braid/runtime/workflow/stream"
)

func TestRunStreamID(t *testing.T) {
	require.Equal(t, "run/run-123", RunStreamID("run-123"))
	require.Equal(t, "run-123", RunIDFromStream("run/run-123"))
	require.Equal(t, "custom-topic", RunIDFromStream("custom-topic"))
}

func TestSendPublishesEnvelope(t *testing.T) {
	cli := mockpulse.NewClient(t)
	str := mockpulse.NewStream(t)

	cli.AddStream(func(name string, _ ...streamopts.Stream) (clientspulse.Stream, error) {
		require.Equal(t, "run/run-123", name)
		return str, nil
	})
	const lastID = "1-0"
	str.AddAdd(func(ctx context.Context, event string, payload []byte) (string, error) {
		require.Equal(t, string(stream.EventAgentCompleted), event)
		var env struct {
			Type      string          `json:"type"`
			Timestamp string          `json:"timestamp"`
			Payload   json.RawMessage `json:"payload"`
		}
		require.NoError(t, json.Unmarshal(payload, &env))
		require.Equal(t, "agent_completed", env.Type)
		_, terr := time.Parse(stream.TimestampLayout, env.Timestamp)
		require.NoError(t, terr)
		var body stream.AgentCompletedPayload
		require.NoError(t, json.Unmarshal(env.Payload, &body))
		require.Equal(t, "summarize", body.AgentID)
		require.Equal(t, 120, body.Tokens.Prompt)
		require.Equal(t, 40, body.Tokens.Completion)
		require.InDelta(t, 0.0021, body.Cost, 1e-9)
		return lastID, nil
	})

	sink, err := NewSink(Options{Client: cli})
	require.NoError(t, err)

	err = sink.Send(context.Background(), stream.NewAgentCompleted("run-123", stream.AgentCompletedPayload{
		AgentID:   "summarize",
		AgentName: "Summarize",
		Tokens:    stream.TokensPayload{Prompt: 120, Completion: 40},
		Cost:      0.0021,
		LatencyMS: 950,
	}))
	require.NoError(t, err)
	require.False(t, str.HasMore())
	require.False(t, cli.HasMore())
}

func TestOnPublishedCalled(t *testing.T) {
	cli := mockpulse.NewClient(t)
	str := mockpulse.NewStream(t)

	cli.AddStream(func(name string, _ ...streamopts.Stream) (clientspulse.Stream, error) {
		require.Equal(t, "run/run-123", name)
		return str, nil
	})
	str.AddAdd(func(ctx context.Context, event string, payload []byte) (string, error) {
		require.Equal(t, string(stream.EventAgentStarted), event)
		return "42-0", nil
	})

	var (
		called    bool
		gotEvent  stream.Event
		gotID     string
		gotStream string
	)

	sink, err := NewSink(Options{
		Client: cli,
		OnPublished: func(ctx context.Context, ev PublishedEvent) error {
			require.NotNil(t, ctx)
			called = true
			gotEvent = ev.Event
			gotID = ev.EntryID
			gotStream = ev.StreamID
			return nil
		},
	})
	require.NoError(t, err)

	err = sink.Send(context.Background(), stream.NewAgentStarted("run-123", stream.AgentStartedPayload{
		AgentID:       "fetch",
		AgentName:     "Fetch",
		ParallelGroup: 0,
	}))
	require.NoError(t, err)
	require.True(t, called)
	require.Equal(t, "42-0", gotID)
	require.Equal(t, "run/run-123", gotStream)
	require.Equal(t, stream.EventAgentStarted, gotEvent.Type())
}

func TestOnPublishedErrorPropagates(t *testing.T) {
	cli := mockpulse.NewClient(t)
	str := mockpulse.NewStream(t)

	cli.AddStream(func(name string, _ ...streamopts.Stream) (clientspulse.Stream, error) {
		return str, nil
	})
	str.AddAdd(func(ctx context.Context, event string, payload []byte) (string, error) {
		return "1-0", nil
	})

	sink, err := NewSink(Options{
		Client: cli,
		OnPublished: func(ctx context.Context, ev PublishedEvent) error {
			return errors.New("after-publish")
		},
	})
	require.NoError(t, err)

	err = sink.Send(context.Background(), stream.NewAgentRetrying("r", stream.AgentRetryingPayload{
		AgentID:     "fetch",
		AgentName:   "Fetch",
		RetryNumber: 1,
	}))
	require.EqualError(t, err, "after-publish")
}

func TestCustomStreamID(t *testing.T) {
	cli := mockpulse.NewClient(t)
	str := mockpulse.NewStream(t)
	cli.AddStream(func(name string, _ ...streamopts.Stream) (clientspulse.Stream, error) {
		require.Equal(t, "custom/run-1", name)
		return str, nil
	})
	str.AddAdd(func(ctx context.Context, event string, payload []byte) (string, error) {
		return "1-0", nil
	})
	sink, err := NewSink(Options{
		Client: cli,
		StreamID: func(e stream.Event) (string, error) {
			return "custom/" + e.RunID(), nil
		},
	})
	require.NoError(t, err)
	require.NoError(t, sink.Send(
		context.Background(),
		stream.NewExecutionStarted("run-1", stream.ExecutionStartedPayload{TotalAgents: 4}),
	))
}

func TestNewSinkRequiresClient(t *testing.T) {
	_, err := NewSink(Options{})
	require.EqualError(t, err, "pulse client is required")
}

func TestSendRequiresRunID(t *testing.T) {
	sink, err := NewSink(Options{Client: mockpulse.NewClient(t)})
	require.NoError(t, err)
	err = sink.Send(context.Background(), stream.NewAgentSkipped("", stream.AgentSkippedPayload{AgentID: "a"}))
	require.EqualError(t, err, "stream event missing run id")
}

func TestStreamCreationError(t *testing.T) {
	cli := mockpulse.NewClient(t)
	cli.AddStream(func(name string, _ ...streamopts.Stream) (clientspulse.Stream, error) {
		return nil, errors.New("boom")
	})
	sink, err := NewSink(Options{Client: cli})
	require.NoError(t, err)
	err = sink.Send(
		context.Background(),
		stream.NewAgentStarted("r", stream.AgentStartedPayload{AgentID: "a"}),
	)
	require.EqualError(t, err, "boom")
}

func TestAddError(t *testing.T) {
	cli := mockpulse.NewClient(t)
	str := mockpulse.NewStream(t)
	cli.AddStream(func(name string, _ ...streamopts.Stream) (clientspulse.Stream, error) {
		return str, nil
	})
	str.AddAdd(func(ctx context.Context, event string, payload []byte) (string, error) {
		return "", errors.New("add-failed")
	})
	sink, err := NewSink(Options{Client: cli})
	require.NoError(t, err)
	err = sink.Send(
		context.Background(),
		stream.NewAgentStarted("r", stream.AgentStartedPayload{AgentID: "a"}),
	)
	require.EqualError(t, err, "add-failed")
}

func TestCloseDelegatesOnce(t *testing.T) {
	cli := mockpulse.NewClient(t)
	cli.AddClose(func(ctx context.Context) error {
		require.NotNil(t, ctx)
		return nil
	})
	sink, err := NewSink(Options{Client: cli})
	require.NoError(t, err)
	require.NoError(t, sink.Close(context.Background()))
	// Close is idempotent and only releases the client once.
	require.NoError(t, sink.Close(context.Background()))
	require.False(t, cli.HasMore())
}

func TestSendAfterCloseFails(t *testing.T) {
	cli := mockpulse.NewClient(t)
	cli.AddClose(func(ctx context.Context) error { return nil })
	sink, err := NewSink(Options{Client: cli})
	require.NoError(t, err)
	require.NoError(t, sink.Close(context.Background()))
	err = sink.Send(context.Background(), stream.NewAgentStarted("r", stream.AgentStartedPayload{AgentID: "a"}))
	require.ErrorIs(t, err, stream.ErrSinkClosed)
}
