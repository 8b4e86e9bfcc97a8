package mongo

import (
	"context"
	"errors"

	mongoc "github.com/braidflow/braid/features/run/mongo/clients/mongo"
	"github.com/braidflow/braid/runtime/workflow/run"
)

// Store implements run.Store by delegating to the Mongo client.
type Store struct {
	client mongoc.Client
}

var _ run.Store = (*Store)(nil)

// NewStore builds a Store using the provided client.
func NewStore(client mongoc.Client) (*Store, error) {
	if client == nil {
		return nil, errors.New("client is required")
	}
	return &Store{client: client}, nil
}

// NewStoreFromMongo builds the low-level client from opts and wraps it in a
// Store.
func NewStoreFromMongo(opts mongoc.Options) (*Store, error) {
	client, err := mongoc.New(opts)
	if err != nil {
		return nil, err
	}
	return NewStore(client)
}

// CreateExecution implements run.Store.
func (s *Store) CreateExecution(ctx context.Context, e *run.Execution) error {
	return s.client.InsertExecution(ctx, e)
}

// UpdateExecution implements run.Store.
func (s *Store) UpdateExecution(ctx context.Context, e *run.Execution) error {
	return s.client.ReplaceExecution(ctx, e)
}

// Execution implements run.Store.
func (s *Store) Execution(ctx context.Context, id string) (*run.Execution, error) {
	return s.client.FindExecution(ctx, id)
}

// ListExecutions implements run.Store.
func (s *Store) ListExecutions(ctx context.Context, limit int) ([]*run.Execution, error) {
	return s.client.ListExecutions(ctx, limit)
}

// SaveStep implements run.Store.
func (s *Store) SaveStep(ctx context.Context, rec *run.StepRecord) error {
	return s.client.UpsertStep(ctx, rec)
}

// Steps implements run.Store.
func (s *Store) Steps(ctx context.Context, runID string) ([]*run.StepRecord, error) {
	return s.client.ListSteps(ctx, runID)
}
