// Package mongo hosts the MongoDB client used by the run store.
package mongo

//go:generate cmg gen .

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"goa.design/clue/health"

	"github.com/braidflow/braid/runtime/workflow/budget"
	"github.com/braidflow/braid/runtime/workflow/planner"
	"github.com/braidflow/braid/runtime/workflow/run"
)

const (
	defaultExecutionsCollection = "workflow_executions"
	defaultStepsCollection      = "workflow_steps"
	defaultOpTimeout            = 5 * time.Second
	runClientName               = "run-mongo"
)

// Client exposes Mongo-backed operations for execution and step records.
type Client interface {
	health.Pinger

	InsertExecution(ctx context.Context, e *run.Execution) error
	ReplaceExecution(ctx context.Context, e *run.Execution) error
	FindExecution(ctx context.Context, id string) (*run.Execution, error)
	ListExecutions(ctx context.Context, limit int) ([]*run.Execution, error)
	UpsertStep(ctx context.Context, s *run.StepRecord) error
	ListSteps(ctx context.Context, runID string) ([]*run.StepRecord, error)
}

// Options configures the Mongo run client.
type Options struct {
	Client     *mongodriver.Client
	Database   string
	Executions string
	Steps      string
	Timeout    time.Duration
}

type client struct {
	mongo      *mongodriver.Client
	executions collection
	steps      collection
	timeout    time.Duration
}

// New returns a Client backed by MongoDB.
func New(opts Options) (Client, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	executions := opts.Executions
	if executions == "" {
		executions = defaultExecutionsCollection
	}
	steps := opts.Steps
	if steps == "" {
		steps = defaultStepsCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	db := opts.Client.Database(opts.Database)
	execColl := mongoCollection{coll: db.Collection(executions)}
	stepColl := mongoCollection{coll: db.Collection(steps)}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := ensureIndexes(ctx, execColl, stepColl); err != nil {
		return nil, err
	}
	return newClientWithCollections(opts.Client, execColl, stepColl, timeout)
}

func (c *client) Name() string {
	return runClientName
}

func (c *client) Ping(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	return c.mongo.Ping(ctx, readpref.Primary())
}

func (c *client) InsertExecution(ctx context.Context, e *run.Execution) error {
	if e == nil || e.ID == "" {
		return errors.New("execution id is required")
	}
	doc, err := fromExecution(e)
	if err != nil {
		return err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	_, err = c.executions.InsertOne(ctx, doc)
	return err
}

func (c *client) ReplaceExecution(ctx context.Context, e *run.Execution) error {
	if e == nil || e.ID == "" {
		return errors.New("execution id is required")
	}
	doc, err := fromExecution(e)
	if err != nil {
		return err
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	res, err := c.executions.ReplaceOne(ctx, bson.M{"id": e.ID}, doc)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return run.ErrNotFound
	}
	return nil
}

func (c *client) FindExecution(ctx context.Context, id string) (*run.Execution, error) {
	if id == "" {
		return nil, errors.New("execution id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	var doc executionDocument
	if err := c.executions.FindOne(ctx, bson.M{"id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return nil, run.ErrNotFound
		}
		return nil, err
	}
	return doc.toExecution()
}

func (c *client) ListExecutions(ctx context.Context, limit int) ([]*run.Execution, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	findOpts := options.Find().SetSort(bson.D{
		{Key: "created_at", Value: -1},
		{Key: "id", Value: -1},
	})
	if limit > 0 {
		findOpts = findOpts.SetLimit(int64(limit))
	}
	cur, err := c.executions.Find(ctx, bson.M{}, findOpts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := []*run.Execution{}
	for cur.Next(ctx) {
		var doc executionDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		e, err := doc.toExecution()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) UpsertStep(ctx context.Context, s *run.StepRecord) error {
	if s == nil || s.ID == "" {
		return errors.New("step id is required")
	}
	if s.RunID == "" {
		return errors.New("run id is required")
	}
	doc := fromStep(s)
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	_, err := c.steps.ReplaceOne(ctx, bson.M{"id": s.ID}, doc, options.Replace().SetUpsert(true))
	return err
}

func (c *client) ListSteps(ctx context.Context, runID string) ([]*run.StepRecord, error) {
	if runID == "" {
		return nil, errors.New("run id is required")
	}
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	findOpts := options.Find().SetSort(bson.D{
		{Key: "execution_order", Value: 1},
		{Key: "node_id", Value: 1},
	})
	cur, err := c.steps.Find(ctx, bson.M{"run_id": runID}, findOpts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	out := []*run.StepRecord{}
	for cur.Next(ctx) {
		var doc stepDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toStep())
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

type executionDocument struct {
	ID            string         `bson:"id"`
	WorkflowName  string         `bson:"workflow_name,omitempty"`
	Input         string         `bson:"input,omitempty"`
	Definition    []byte         `bson:"definition,omitempty"`
	Plan          []byte         `bson:"plan,omitempty"`
	MaxTokens     *int           `bson:"max_tokens,omitempty"`
	MaxCost       *float64       `bson:"max_cost,omitempty"`
	EstimatedCost *float64       `bson:"estimated_cost,omitempty"`
	Status        string         `bson:"status"`
	Error         string         `bson:"error,omitempty"`
	Totals        totalsDocument `bson:"totals"`
	DroppedEvents int64          `bson:"dropped_events,omitempty"`
	CreatedAt     time.Time      `bson:"created_at"`
	StartedAt     *time.Time     `bson:"started_at,omitempty"`
	CompletedAt   *time.Time     `bson:"completed_at,omitempty"`
}

type totalsDocument struct {
	TokensPrompt     int     `bson:"tokens_prompt"`
	TokensCompletion int     `bson:"tokens_completion"`
	Cost             float64 `bson:"cost"`
	DurationMS       int64   `bson:"duration_ms"`
	AgentsCompleted  int     `bson:"agents_completed"`
	AgentsFailed     int     `bson:"agents_failed"`
	AgentsSkipped    int     `bson:"agents_skipped"`
}

type stepDocument struct {
	ID               string     `bson:"id"`
	RunID            string     `bson:"run_id"`
	NodeID           string     `bson:"node_id"`
	Name             string     `bson:"name,omitempty"`
	Group            int        `bson:"parallel_group"`
	Order            int        `bson:"execution_order"`
	Status           string     `bson:"status"`
	Input            string     `bson:"input,omitempty"`
	Output           string     `bson:"output,omitempty"`
	Provider         string     `bson:"provider,omitempty"`
	Model            string     `bson:"model,omitempty"`
	TokensPrompt     int        `bson:"tokens_prompt,omitempty"`
	TokensCompletion int        `bson:"tokens_completion,omitempty"`
	Cost             float64    `bson:"cost,omitempty"`
	LatencyMS        int64      `bson:"latency_ms,omitempty"`
	Retries          int        `bson:"retries,omitempty"`
	IsFallback       bool       `bson:"is_fallback,omitempty"`
	FallbackFor      string     `bson:"fallback_for,omitempty"`
	SkipReason       string     `bson:"skip_reason,omitempty"`
	Error            string     `bson:"error,omitempty"`
	StartedAt        *time.Time `bson:"started_at,omitempty"`
	CompletedAt      *time.Time `bson:"completed_at,omitempty"`
}

func fromExecution(e *run.Execution) (executionDocument, error) {
	doc := executionDocument{
		ID:            e.ID,
		WorkflowName:  e.WorkflowName,
		Input:         e.Input,
		MaxTokens:     cloneIntPtr(e.Limits.MaxTokens),
		MaxCost:       cloneFloatPtr(e.Limits.MaxCost),
		EstimatedCost: cloneFloatPtr(e.EstimatedCost),
		Status:        string(e.Status),
		Error:         e.Error,
		Totals: totalsDocument{
			TokensPrompt:     e.Totals.TokensPrompt,
			TokensCompletion: e.Totals.TokensCompletion,
			Cost:             e.Totals.Cost,
			DurationMS:       e.Totals.DurationMS,
			AgentsCompleted:  e.Totals.AgentsCompleted,
			AgentsFailed:     e.Totals.AgentsFailed,
			AgentsSkipped:    e.Totals.AgentsSkipped,
		},
		DroppedEvents: e.DroppedEvents,
		CreatedAt:     e.CreatedAt.UTC(),
		StartedAt:     utcPtr(e.StartedAt),
		CompletedAt:   utcPtr(e.CompletedAt),
	}
	if len(e.Definition) > 0 {
		doc.Definition = append([]byte(nil), e.Definition...)
	}
	if e.Plan != nil {
		b, err := json.Marshal(e.Plan)
		if err != nil {
			return executionDocument{}, fmt.Errorf("encode plan: %w", err)
		}
		doc.Plan = b
	}
	return doc, nil
}

func (doc executionDocument) toExecution() (*run.Execution, error) {
	e := &run.Execution{
		ID:           doc.ID,
		WorkflowName: doc.WorkflowName,
		Input:        doc.Input,
		Limits: budget.Limits{
			MaxTokens: cloneIntPtr(doc.MaxTokens),
			MaxCost:   cloneFloatPtr(doc.MaxCost),
		},
		EstimatedCost: cloneFloatPtr(doc.EstimatedCost),
		Status:        run.RunStatus(doc.Status),
		Error:         doc.Error,
		Totals: run.Totals{
			TokensPrompt:     doc.Totals.TokensPrompt,
			TokensCompletion: doc.Totals.TokensCompletion,
			Cost:             doc.Totals.Cost,
			DurationMS:       doc.Totals.DurationMS,
			AgentsCompleted:  doc.Totals.AgentsCompleted,
			AgentsFailed:     doc.Totals.AgentsFailed,
			AgentsSkipped:    doc.Totals.AgentsSkipped,
		},
		DroppedEvents: doc.DroppedEvents,
		CreatedAt:     doc.CreatedAt,
		StartedAt:     clonePtr(doc.StartedAt),
		CompletedAt:   clonePtr(doc.CompletedAt),
	}
	if len(doc.Definition) > 0 {
		e.Definition = append(json.RawMessage(nil), doc.Definition...)
	}
	if len(doc.Plan) > 0 {
		var p planner.Plan
		if err := json.Unmarshal(doc.Plan, &p); err != nil {
			return nil, fmt.Errorf("decode plan: %w", err)
		}
		e.Plan = &p
	}
	return e, nil
}

func fromStep(s *run.StepRecord) stepDocument {
	return stepDocument{
		ID:               s.ID,
		RunID:            s.RunID,
		NodeID:           s.NodeID,
		Name:             s.Name,
		Group:            s.Group,
		Order:            s.Order,
		Status:           string(s.Status),
		Input:            s.Input,
		Output:           s.Output,
		Provider:         s.Provider,
		Model:            s.Model,
		TokensPrompt:     s.TokensPrompt,
		TokensCompletion: s.TokensCompletion,
		Cost:             s.Cost,
		LatencyMS:        s.LatencyMS,
		Retries:          s.Retries,
		IsFallback:       s.IsFallback,
		FallbackFor:      s.FallbackFor,
		SkipReason:       s.SkipReason,
		Error:            s.Error,
		StartedAt:        utcPtr(s.StartedAt),
		CompletedAt:      utcPtr(s.CompletedAt),
	}
}

func (doc stepDocument) toStep() *run.StepRecord {
	return &run.StepRecord{
		ID:               doc.ID,
		RunID:            doc.RunID,
		NodeID:           doc.NodeID,
		Name:             doc.Name,
		Group:            doc.Group,
		Order:            doc.Order,
		Status:           run.Status(doc.Status),
		Input:            doc.Input,
		Output:           doc.Output,
		Provider:         doc.Provider,
		Model:            doc.Model,
		TokensPrompt:     doc.TokensPrompt,
		TokensCompletion: doc.TokensCompletion,
		Cost:             doc.Cost,
		LatencyMS:        doc.LatencyMS,
		Retries:          doc.Retries,
		IsFallback:       doc.IsFallback,
		FallbackFor:      doc.FallbackFor,
		SkipReason:       doc.SkipReason,
		Error:            doc.Error,
		StartedAt:        clonePtr(doc.StartedAt),
		CompletedAt:      clonePtr(doc.CompletedAt),
	}
}

func cloneIntPtr(src *int) *int {
	if src == nil {
		return nil
	}
	v := *src
	return &v
}

func cloneFloatPtr(src *float64) *float64 {
	if src == nil {
		return nil
	}
	v := *src
	return &v
}

func clonePtr(src *time.Time) *time.Time {
	if src == nil {
		return nil
	}
	v := *src
	return &v
}

func utcPtr(src *time.Time) *time.Time {
	if src == nil {
		return nil
	}
	v := src.UTC()
	return &v
}

func ensureIndexes(ctx context.Context, executions, steps collection) error {
	execIndexes := []mongodriver.IndexModel{
		{
			Keys:    bson.D{{Key: "id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "created_at", Value: -1}},
		},
	}
	for _, index := range execIndexes {
		if _, err := executions.Indexes().CreateOne(ctx, index); err != nil {
			return err
		}
	}
	stepIndexes := []mongodriver.IndexModel{
		{
			Keys:    bson.D{{Key: "id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "run_id", Value: 1}, {Key: "execution_order", Value: 1}},
		},
	}
	for _, index := range stepIndexes {
		if _, err := steps.Indexes().CreateOne(ctx, index); err != nil {
			return err
		}
	}
	return nil
}

func newClientWithCollections(mongoClient *mongodriver.Client, executions, steps collection, timeout time.Duration) (*client, error) {
	if executions == nil {
		return nil, errors.New("executions collection is required")
	}
	if steps == nil {
		return nil, errors.New("steps collection is required")
	}
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return &client{
		mongo:      mongoClient,
		executions: executions,
		steps:      steps,
		timeout:    timeout,
	}, nil
}

type collection interface {
	FindOne(ctx context.Context, filter any, opts ...*options.FindOneOptions) singleResult
	Find(ctx context.Context, filter any, opts ...*options.FindOptions) (cursor, error)
	InsertOne(ctx context.Context, doc any, opts ...*options.InsertOneOptions) (*mongodriver.InsertOneResult, error)
	ReplaceOne(ctx context.Context, filter any, replacement any, opts ...*options.ReplaceOptions) (*mongodriver.UpdateResult, error)
	Indexes() indexView
}

type indexView interface {
	CreateOne(ctx context.Context, model mongodriver.IndexModel, opts ...*options.CreateIndexesOptions) (string, error)
}

type singleResult interface {
	Decode(val any) error
}

type cursor interface {
	Next(ctx context.Context) bool
	Decode(val any) error
	Err() error
	Close(ctx context.Context) error
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) FindOne(ctx context.Context, filter any, opts ...*options.FindOneOptions) singleResult {
	return mongoSingleResult{res: c.coll.FindOne(ctx, filter, opts...)}
}

func (c mongoCollection) Find(ctx context.Context, filter any, opts ...*options.FindOptions) (cursor, error) {
	cur, err := c.coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	return mongoCursor{cursor: cur}, nil
}

func (c mongoCollection) InsertOne(ctx context.Context, doc any, opts ...*options.InsertOneOptions) (*mongodriver.InsertOneResult, error) {
	return c.coll.InsertOne(ctx, doc, opts...)
}

func (c mongoCollection) ReplaceOne(ctx context.Context, filter any, replacement any, opts ...*options.ReplaceOptions) (*mongodriver.UpdateResult, error) {
	return c.coll.ReplaceOne(ctx, filter, replacement, opts...)
}

func (c mongoCollection) Indexes() indexView {
	return mongoIndexView{view: c.coll.Indexes()}
}

type mongoSingleResult struct {
	res *mongodriver.SingleResult
}

func (r mongoSingleResult) Decode(val any) error {
	return r.res.Decode(val)
}

type mongoCursor struct {
	cursor *mongodriver.Cursor
}

func (c mongoCursor) Next(ctx context.Context) bool { return c.cursor.Next(ctx) }
func (c mongoCursor) Decode(val any) error          { return c.cursor.Decode(val) }
func (c mongoCursor) Err() error                    { return c.cursor.Err() }
func (c mongoCursor) Close(ctx context.Context) error {
	return c.cursor.Close(ctx)
}

type mongoIndexView struct {
	view mongodriver.IndexView
}

func (v mongoIndexView) CreateOne(ctx context.Context, model mongodriver.IndexModel, opts ...*options.CreateIndexesOptions) (string, error) {
	return v.view.CreateOne(ctx, model, opts...)
}
