// Package inmem provides the in-memory memory store used by tests and the
// demo command. Entries live for the process lifetime; durable recall lives
// in features/memory/mongo.
package inmem

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/braidflow/braid/runtime/workflow/memory"
)

type entry struct {
	memory.Entry
	vector []float32
}

// Store keeps embedded entries in memory, grouped by workflow. Safe for
// concurrent use.
type Store struct {
	embedder memory.Embedder

	mu      sync.RWMutex
	entries map[string][]entry
}

var _ memory.Store = (*Store)(nil)

// New builds a store that embeds with the given embedder.
func New(embedder memory.Embedder) (*Store, error) {
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	return &Store{
		embedder: embedder,
		entries:  make(map[string][]entry),
	}, nil
}

// Save implements memory.Store. Saving an existing key within a workflow
// replaces the previous entry.
func (s *Store) Save(ctx context.Context, workflowID, key, content string, metadata map[string]any) error {
	vector, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("embed memory entry %q: %w", key, err)
	}
	e := entry{
		Entry: memory.Entry{
			Key:       key,
			Content:   content,
			Metadata:  metadata,
			CreatedAt: time.Now().UTC(),
		},
		vector: vector,
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.entries[workflowID]
	for i := range list {
		if list[i].Key == key {
			list[i] = e
			return nil
		}
	}
	s.entries[workflowID] = append(list, e)
	return nil
}

// Recall implements memory.Store.
func (s *Store) Recall(ctx context.Context, workflowID, query string, topK int) ([]memory.Recalled, error) {
	if topK <= 0 {
		topK = memory.DefaultTopK
	}
	vector, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed recall query: %w", err)
	}
	s.mu.RLock()
	list := s.entries[workflowID]
	scored := make([]memory.Recalled, 0, len(list))
	for _, e := range list {
		scored = append(scored, memory.Recalled{
			Entry:      e.Entry,
			Similarity: memory.Cosine(vector, e.vector),
		})
	}
	s.mu.RUnlock()

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Similarity > scored[j].Similarity })
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}
