// Package mongo provides a MongoDB-backed implementation of the workflow
// memory store. Content is embedded at save time through the configured
// embedder and ranked by cosine similarity at recall time, so recall works
// against any MongoDB deployment without a vector search index.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	clientsmongo "github.com/braidflow/braid/features/memory/mongo/clients/mongo"
	"github.com/braidflow/braid/runtime/workflow/memory"
)

// Options configures the Store wrapper.
type Options struct {
	Client   clientsmongo.Client
	Embedder memory.Embedder
}

// Store implements memory.Store by delegating persistence to the Mongo
// client.
type Store struct {
	client   clientsmongo.Client
	embedder memory.Embedder
}

var _ memory.Store = (*Store)(nil)

// NewStore builds a Mongo-backed memory store using the provided client and
// embedder.
func NewStore(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("client is required")
	}
	if opts.Embedder == nil {
		return nil, errors.New("embedder is required")
	}
	return &Store{client: opts.Client, embedder: opts.Embedder}, nil
}

// NewStoreFromMongo builds the low-level client from opts and wraps it in a
// Store.
func NewStoreFromMongo(opts clientsmongo.Options, embedder memory.Embedder) (*Store, error) {
	client, err := clientsmongo.New(opts)
	if err != nil {
		return nil, err
	}
	return NewStore(Options{Client: client, Embedder: embedder})
}

// Save implements memory.Store. Saving an existing key within a workflow
// replaces the previous entry.
func (s *Store) Save(ctx context.Context, workflowID, key, content string, metadata map[string]any) error {
	vector, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("embed memory entry %q: %w", key, err)
	}
	return s.client.UpsertEntry(ctx, workflowID, clientsmongo.Record{
		Key:       key,
		Content:   content,
		Metadata:  metadata,
		Embedding: vector,
		CreatedAt: time.Now().UTC(),
	})
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
	records, err := s.client.ListEntries(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	scored := make([]memory.Recalled, 0, len(records))
	for _, rec := range records {
		scored = append(scored, memory.Recalled{
			Entry: memory.Entry{
				Key:       rec.Key,
				Content:   rec.Content,
				Metadata:  rec.Metadata,
				CreatedAt: rec.CreatedAt,
			},
			Similarity: memory.Cosine(vector, rec.Embedding),
		})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Similarity > scored[j].Similarity })
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored, nil
}
