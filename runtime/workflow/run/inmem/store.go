// Package inmem provides the in-memory run store used by tests, the demo
// command, and embedders that do not need durability.
package inmem

import (
	"context"
	"sort"
	"sync"

	"github.com/braidflow/braid/runtime/workflow/run"
)

// Store keeps executions and steps in memory. Records are copied on the way
// in and out so callers can mutate their values freely. Safe for concurrent
// use.
type Store struct {
	mu         sync.RWMutex
	executions map[string]*run.Execution
	order      []string
	steps      map[string][]*run.StepRecord
}

var _ run.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{
		executions: make(map[string]*run.Execution),
		steps:      make(map[string][]*run.StepRecord),
	}
}

// CreateExecution implements run.Store.
func (s *Store) CreateExecution(_ context.Context, e *run.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.executions[e.ID]; !exists {
		s.order = append(s.order, e.ID)
	}
	s.executions[e.ID] = copyExecution(e)
	return nil
}

// UpdateExecution implements run.Store.
func (s *Store) UpdateExecution(_ context.Context, e *run.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.executions[e.ID]; !exists {
		return run.ErrNotFound
	}
	s.executions[e.ID] = copyExecution(e)
	return nil
}

// Execution implements run.Store.
func (s *Store) Execution(_ context.Context, id string) (*run.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.executions[id]
	if !ok {
		return nil, run.ErrNotFound
	}
	return copyExecution(e), nil
}

// ListExecutions implements run.Store.
func (s *Store) ListExecutions(_ context.Context, limit int) ([]*run.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*run.Execution, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, copyExecution(s.executions[s.order[i]]))
	}
	return out, nil
}

// SaveStep implements run.Store.
func (s *Store) SaveStep(_ context.Context, rec *run.StepRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := s.steps[rec.RunID]
	for i, existing := range records {
		if existing.ID == rec.ID {
			records[i] = copyStep(rec)
			return nil
		}
	}
	s.steps[rec.RunID] = append(records, copyStep(rec))
	return nil
}

// Steps implements run.Store.
func (s *Store) Steps(_ context.Context, runID string) ([]*run.StepRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := s.steps[runID]
	out := make([]*run.StepRecord, 0, len(records))
	for _, rec := range records {
		out = append(out, copyStep(rec))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].NodeID < out[j].NodeID
	})
	return out, nil
}

func copyExecution(e *run.Execution) *run.Execution {
	dup := *e
	if e.Definition != nil {
		dup.Definition = append([]byte(nil), e.Definition...)
	}
	if e.EstimatedCost != nil {
		v := *e.EstimatedCost
		dup.EstimatedCost = &v
	}
	if e.StartedAt != nil {
		v := *e.StartedAt
		dup.StartedAt = &v
	}
	if e.CompletedAt != nil {
		v := *e.CompletedAt
		dup.CompletedAt = &v
	}
	return &dup
}

func copyStep(rec *run.StepRecord) *run.StepRecord {
	dup := *rec
	if rec.StartedAt != nil {
		v := *rec.StartedAt
		dup.StartedAt = &v
	}
	if rec.CompletedAt != nil {
		v := *rec.CompletedAt
		dup.CompletedAt = &v
	}
	return &dup
}
