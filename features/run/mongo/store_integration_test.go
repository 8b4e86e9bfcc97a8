package mongo

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	clientsmongo "github.com/braidflow/braid/features/run/mongo/clients/mongo"
	"github.com/braidflow/braid/runtime/workflow/budget"
	"github.com/braidflow/braid/runtime/workflow/run"
)

var (
	testMongoClient    *mongodriver.Client
	testMongoContainer testcontainers.Container
	skipMongoTests     bool
)

func setupMongoDB() {
	ctx := context.Background()

	var containerErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				containerErr = fmt.Errorf("docker not available: %v", r)
			}
		}()
		req := testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForLog("Waiting for connections"),
			Tmpfs:        map[string]string{"/data/db": "rw"},
		}
		testMongoContainer, containerErr = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
	}()

	if containerErr != nil {
		fmt.Printf("Docker not available, MongoDB tests will be skipped: %v\n", containerErr)
		skipMongoTests = true
		return
	}

	host, err := testMongoContainer.Host(ctx)
	if err != nil {
		fmt.Printf("Failed to get container host: %v\n", err)
		skipMongoTests = true
		return
	}

	port, err := testMongoContainer.MappedPort(ctx, "27017")
	if err != nil {
		fmt.Printf("Failed to get container port: %v\n", err)
		skipMongoTests = true
		return
	}

	uri := fmt.Sprintf("mongodb://%s:%s", host, port.Port())
	testMongoClient, err = mongodriver.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		fmt.Printf("Failed to connect to MongoDB: %v\n", err)
		skipMongoTests = true
		return
	}

	if err := testMongoClient.Ping(ctx, nil); err != nil {
		fmt.Printf("Failed to ping MongoDB: %v\n", err)
		skipMongoTests = true
	}
}

func getIntegrationStore(t *testing.T) *Store {
	t.Helper()
	if testMongoClient == nil && !skipMongoTests {
		setupMongoDB()
	}
	if skipMongoTests {
		t.Skip("Docker not available, skipping MongoDB test")
	}
	prefix := strings.ToLower(t.Name())
	store, err := NewStoreFromMongo(clientsmongo.Options{
		Client:     testMongoClient,
		Database:   "braid_test",
		Executions: prefix + "_executions",
		Steps:      prefix + "_steps",
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		db := testMongoClient.Database("braid_test")
		_ = db.Collection(prefix + "_executions").Drop(context.Background())
		_ = db.Collection(prefix + "_steps").Drop(context.Background())
	})
	return store
}

func TestMongoStoreExecutionLifecycle(t *testing.T) {
	store := getIntegrationStore(t)
	ctx := context.Background()

	maxCost := 0.5
	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	exec := &run.Execution{
		ID:           "run-1",
		WorkflowName: "pipeline",
		Input:        "summarize",
		Definition:   []byte(`{"nodes": [], "edges": []}`),
		Limits:       budget.Limits{MaxCost: &maxCost},
		Status:       run.RunRunning,
		CreatedAt:    created,
	}
	require.NoError(t, store.CreateExecution(ctx, exec))

	_, err := store.Execution(ctx, "missing")
	require.ErrorIs(t, err, run.ErrNotFound)

	done := created.Add(3 * time.Second)
	exec.Status = run.RunCompleted
	exec.CompletedAt = &done
	exec.Totals = run.Totals{TokensPrompt: 100, TokensCompletion: 40, Cost: 0.01, AgentsCompleted: 2}
	require.NoError(t, store.UpdateExecution(ctx, exec))

	stored, err := store.Execution(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, run.RunCompleted, stored.Status)
	require.Equal(t, "pipeline", stored.WorkflowName)
	require.JSONEq(t, `{"nodes": [], "edges": []}`, string(stored.Definition))
	require.NotNil(t, stored.Limits.MaxCost)
	require.Equal(t, maxCost, *stored.Limits.MaxCost)
	require.Equal(t, exec.Totals, stored.Totals)
	require.True(t, stored.CreatedAt.Equal(created))
	require.True(t, stored.CompletedAt.Equal(done))

	err = store.UpdateExecution(ctx, &run.Execution{ID: "ghost"})
	require.ErrorIs(t, err, run.ErrNotFound)
}

func TestMongoStoreListExecutionsOrder(t *testing.T) {
	store := getIntegrationStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-a", "run-b", "run-c"} {
		exec := &run.Execution{
			ID:        id,
			Status:    run.RunCompleted,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, store.CreateExecution(ctx, exec))
	}

	all, err := store.ListExecutions(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, []string{"run-c", "run-b", "run-a"}, executionIDs(all))

	limited, err := store.ListExecutions(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, []string{"run-c", "run-b"}, executionIDs(limited))
}

func TestMongoStoreStepRoundTrip(t *testing.T) {
	store := getIntegrationStore(t)
	ctx := context.Background()

	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	rec := &run.StepRecord{
		ID:        "step-1",
		RunID:     "run-1",
		NodeID:    "draft",
		Name:      "Draft",
		Order:     0,
		Status:    run.StatusRunning,
		Input:     "write a draft",
		Provider:  "openai",
		Model:     "gpt-4o",
		StartedAt: &started,
	}
	require.NoError(t, store.SaveStep(ctx, rec))

	rec.Status = run.StatusCompleted
	rec.Output = "the draft"
	rec.TokensPrompt = 20
	rec.TokensCompletion = 10
	rec.Cost = 0.00015
	require.NoError(t, store.SaveStep(ctx, rec))
	require.NoError(t, store.SaveStep(ctx, &run.StepRecord{
		ID: "step-2", RunID: "run-1", NodeID: "polish", Order: 1,
		Status: run.StatusSkipped, SkipReason: run.SkipDependencyFailed,
	}))

	steps, err := store.Steps(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, steps, 2)
	require.Equal(t, "draft", steps[0].NodeID)
	require.Equal(t, run.StatusCompleted, steps[0].Status)
	require.Equal(t, "the draft", steps[0].Output)
	require.Equal(t, 20, steps[0].TokensPrompt)
	require.True(t, steps[0].StartedAt.Equal(started))
	require.Equal(t, run.SkipDependencyFailed, steps[1].SkipReason)

	other, err := store.Steps(ctx, "run-2")
	require.NoError(t, err)
	require.Empty(t, other)
}
