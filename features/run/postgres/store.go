// Package postgres provides a PostgreSQL-backed implementation of the
// workflow run store built on bun. Call EnsureSchema once at startup to
// create the tables and indexes.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/braidflow/braid/runtime/workflow/budget"
	"github.com/braidflow/braid/runtime/workflow/planner"
	"github.com/braidflow/braid/runtime/workflow/run"
)

// Store implements run.Store on top of a bun database handle.
type Store struct {
	db *bun.DB
}

var _ run.Store = (*Store)(nil)

// NewStore wraps an existing bun handle.
func NewStore(db *bun.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	return &Store{db: db}, nil
}

// NewStoreFromDSN opens a pgdriver connection for dsn and wraps it.
func NewStoreFromDSN(dsn string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("dsn is required")
	}
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return NewStore(bun.NewDB(sqldb, pgdialect.New()))
}

// DB exposes the underlying handle so callers can close it or share it.
func (s *Store) DB() *bun.DB {
	return s.db
}

// EnsureSchema creates the tables and indexes when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	models := []any{(*executionModel)(nil), (*stepModel)(nil)}
	for _, model := range models {
		if _, err := s.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}
	indexes := []*bun.CreateIndexQuery{
		s.db.NewCreateIndex().
			Model((*executionModel)(nil)).
			Index("workflow_executions_created_at_idx").
			Column("created_at").
			IfNotExists(),
		s.db.NewCreateIndex().
			Model((*stepModel)(nil)).
			Index("workflow_steps_run_order_idx").
			Column("run_id", "execution_order").
			IfNotExists(),
	}
	for _, index := range indexes {
		if _, err := index.Exec(ctx); err != nil {
			return err
		}
	}
	return nil
}

// CreateExecution implements run.Store.
func (s *Store) CreateExecution(ctx context.Context, e *run.Execution) error {
	if e == nil || e.ID == "" {
		return errors.New("execution id is required")
	}
	model, err := fromExecution(e)
	if err != nil {
		return err
	}
	_, err = s.db.NewInsert().Model(model).Exec(ctx)
	return err
}

// UpdateExecution implements run.Store.
func (s *Store) UpdateExecution(ctx context.Context, e *run.Execution) error {
	if e == nil || e.ID == "" {
		return errors.New("execution id is required")
	}
	model, err := fromExecution(e)
	if err != nil {
		return err
	}
	res, err := s.db.NewUpdate().Model(model).WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return run.ErrNotFound
	}
	return nil
}

// Execution implements run.Store.
func (s *Store) Execution(ctx context.Context, id string) (*run.Execution, error) {
	if id == "" {
		return nil, errors.New("execution id is required")
	}
	model := new(executionModel)
	err := s.db.NewSelect().Model(model).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, run.ErrNotFound
		}
		return nil, err
	}
	return model.toExecution()
}

// ListExecutions implements run.Store.
func (s *Store) ListExecutions(ctx context.Context, limit int) ([]*run.Execution, error) {
	var models []*executionModel
	q := s.db.NewSelect().Model(&models).OrderExpr("created_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]*run.Execution, 0, len(models))
	for _, model := range models {
		e, err := model.toExecution()
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// SaveStep implements run.Store.
func (s *Store) SaveStep(ctx context.Context, rec *run.StepRecord) error {
	if rec == nil || rec.ID == "" {
		return errors.New("step id is required")
	}
	if rec.RunID == "" {
		return errors.New("run id is required")
	}
	q := s.db.NewInsert().Model(fromStep(rec)).On("CONFLICT (id) DO UPDATE")
	for _, col := range stepUpdateColumns {
		q = q.Set(col + " = EXCLUDED." + col)
	}
	_, err := q.Exec(ctx)
	return err
}

// Steps implements run.Store.
func (s *Store) Steps(ctx context.Context, runID string) ([]*run.StepRecord, error) {
	if runID == "" {
		return nil, errors.New("run id is required")
	}
	var models []*stepModel
	err := s.db.NewSelect().
		Model(&models).
		Where("run_id = ?", runID).
		OrderExpr("execution_order ASC, node_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*run.StepRecord, 0, len(models))
	for _, model := range models {
		out = append(out, model.toStep())
	}
	return out, nil
}

type executionModel struct {
	bun.BaseModel `bun:"table:workflow_executions"`

	ID               string          `bun:"id,pk"`
	WorkflowName     string          `bun:"workflow_name,nullzero"`
	Input            string          `bun:"input,nullzero"`
	Definition       json.RawMessage `bun:"definition,nullzero,type:jsonb"`
	Plan             json.RawMessage `bun:"plan,nullzero,type:jsonb"`
	MaxTokens        *int            `bun:"max_tokens"`
	MaxCost          *float64        `bun:"max_cost"`
	EstimatedCost    *float64        `bun:"estimated_cost"`
	Status           string          `bun:"status,notnull"`
	Error            string          `bun:"error,nullzero"`
	TokensPrompt     int             `bun:"tokens_prompt"`
	TokensCompletion int             `bun:"tokens_completion"`
	Cost             float64         `bun:"cost"`
	DurationMS       int64           `bun:"duration_ms"`
	AgentsCompleted  int             `bun:"agents_completed"`
	AgentsFailed     int             `bun:"agents_failed"`
	AgentsSkipped    int             `bun:"agents_skipped"`
	DroppedEvents    int64           `bun:"dropped_events"`
	CreatedAt        time.Time       `bun:"created_at,notnull"`
	StartedAt        *time.Time      `bun:"started_at"`
	CompletedAt      *time.Time      `bun:"completed_at"`
}

type stepModel struct {
	bun.BaseModel `bun:"table:workflow_steps"`

	ID               string     `bun:"id,pk"`
	RunID            string     `bun:"run_id,notnull"`
	NodeID           string     `bun:"node_id,notnull"`
	Name             string     `bun:"name,nullzero"`
	Group            int        `bun:"parallel_group"`
	Order            int        `bun:"execution_order"`
	Status           string     `bun:"status,notnull"`
	Input            string     `bun:"input,nullzero"`
	Output           string     `bun:"output,nullzero"`
	Provider         string     `bun:"provider,nullzero"`
	Model            string     `bun:"model,nullzero"`
	TokensPrompt     int        `bun:"tokens_prompt"`
	TokensCompletion int        `bun:"tokens_completion"`
	Cost             float64    `bun:"cost"`
	LatencyMS        int64      `bun:"latency_ms"`
	Retries          int        `bun:"retries"`
	IsFallback       bool       `bun:"is_fallback"`
	FallbackFor      string     `bun:"fallback_for,nullzero"`
	SkipReason       string     `bun:"skip_reason,nullzero"`
	Error            string     `bun:"error,nullzero"`
	StartedAt        *time.Time `bun:"started_at"`
	CompletedAt      *time.Time `bun:"completed_at"`
}

// stepUpdateColumns lists the non-key columns refreshed on conflict.
var stepUpdateColumns = []string{
	"run_id", "node_id", "name", "parallel_group", "execution_order",
	"status", "input", "output", "provider", "model",
	"tokens_prompt", "tokens_completion", "cost", "latency_ms", "retries",
	"is_fallback", "fallback_for", "skip_reason", "error",
	"started_at", "completed_at",
}

func fromExecution(e *run.Execution) (*executionModel, error) {
	model := &executionModel{
		ID:               e.ID,
		WorkflowName:     e.WorkflowName,
		Input:            e.Input,
		Definition:       append(json.RawMessage(nil), e.Definition...),
		MaxTokens:        e.Limits.MaxTokens,
		MaxCost:          e.Limits.MaxCost,
		EstimatedCost:    e.EstimatedCost,
		Status:           string(e.Status),
		Error:            e.Error,
		TokensPrompt:     e.Totals.TokensPrompt,
		TokensCompletion: e.Totals.TokensCompletion,
		Cost:             e.Totals.Cost,
		DurationMS:       e.Totals.DurationMS,
		AgentsCompleted:  e.Totals.AgentsCompleted,
		AgentsFailed:     e.Totals.AgentsFailed,
		AgentsSkipped:    e.Totals.AgentsSkipped,
		DroppedEvents:    e.DroppedEvents,
		CreatedAt:        e.CreatedAt.UTC(),
		StartedAt:        utcPtr(e.StartedAt),
		CompletedAt:      utcPtr(e.CompletedAt),
	}
	if e.Plan != nil {
		b, err := json.Marshal(e.Plan)
		if err != nil {
			return nil, fmt.Errorf("encode plan: %w", err)
		}
		model.Plan = b
	}
	return model, nil
}

func (m *executionModel) toExecution() (*run.Execution, error) {
	e := &run.Execution{
		ID:           m.ID,
		WorkflowName: m.WorkflowName,
		Input:        m.Input,
		Definition:   append(json.RawMessage(nil), m.Definition...),
		Limits: budget.Limits{
			MaxTokens: m.MaxTokens,
			MaxCost:   m.MaxCost,
		},
		EstimatedCost: m.EstimatedCost,
		Status:        run.RunStatus(m.Status),
		Error:         m.Error,
		Totals: run.Totals{
			TokensPrompt:     m.TokensPrompt,
			TokensCompletion: m.TokensCompletion,
			Cost:             m.Cost,
			DurationMS:       m.DurationMS,
			AgentsCompleted:  m.AgentsCompleted,
			AgentsFailed:     m.AgentsFailed,
			AgentsSkipped:    m.AgentsSkipped,
		},
		DroppedEvents: m.DroppedEvents,
		CreatedAt:     m.CreatedAt,
		StartedAt:     m.StartedAt,
		CompletedAt:   m.CompletedAt,
	}
	if len(e.Definition) == 0 {
		e.Definition = nil
	}
	if len(m.Plan) > 0 {
		var p planner.Plan
		if err := json.Unmarshal(m.Plan, &p); err != nil {
			return nil, fmt.Errorf("decode plan: %w", err)
		}
		e.Plan = &p
	}
	return e, nil
}

func fromStep(rec *run.StepRecord) *stepModel {
	return &stepModel{
		ID:               rec.ID,
		RunID:            rec.RunID,
		NodeID:           rec.NodeID,
		Name:             rec.Name,
		Group:            rec.Group,
		Order:            rec.Order,
		Status:           string(rec.Status),
		Input:            rec.Input,
		Output:           rec.Output,
		Provider:         rec.Provider,
		Model:            rec.Model,
		TokensPrompt:     rec.TokensPrompt,
		TokensCompletion: rec.TokensCompletion,
		Cost:             rec.Cost,
		LatencyMS:        rec.LatencyMS,
		Retries:          rec.Retries,
		IsFallback:       rec.IsFallback,
		FallbackFor:      rec.FallbackFor,
		SkipReason:       rec.SkipReason,
		Error:            rec.Error,
		StartedAt:        utcPtr(rec.StartedAt),
		CompletedAt:      utcPtr(rec.CompletedAt),
	}
}

func (m *stepModel) toStep() *run.StepRecord {
	return &run.StepRecord{
		ID:               m.ID,
		RunID:            m.RunID,
		NodeID:           m.NodeID,
		Name:             m.Name,
		Group:            m.Group,
		Order:            m.Order,
		Status:           run.Status(m.Status),
		Input:            m.Input,
		Output:           m.Output,
		Provider:         m.Provider,
		Model:            m.Model,
		TokensPrompt:     m.TokensPrompt,
		TokensCompletion: m.TokensCompletion,
		Cost:             m.Cost,
		LatencyMS:        m.LatencyMS,
		Retries:          m.Retries,
		IsFallback:       m.IsFallback,
		FallbackFor:      m.FallbackFor,
		SkipReason:       m.SkipReason,
		Error:            m.Error,
		StartedAt:        m.StartedAt,
		CompletedAt:      m.CompletedAt,
	}
}

func utcPtr(src *time.Time) *time.Time {
	if src == nil {
		return nil
	}
	v := src.UTC()
	return &v
}
