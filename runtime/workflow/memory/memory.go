// Package memory gives workflows recall: step outputs saved under a key can
// be retrieved by semantic similarity in later steps and later runs. Entries
// are scoped by workflow so unrelated pipelines never cross-pollinate.
package memory

import (
	"context"
	"math"
	"time"
)

// DefaultTopK is the recall result count when the caller does not specify
// one.
const DefaultTopK = 5

type (
	// Entry is one stored memory.
	Entry struct {
		// Key is the caller-chosen identifier, typically the memory_key of
		// the node that produced the content.
		Key string `json:"key"`

		// Content is the stored text.
		Content string `json:"content"`

		// Metadata carries free-form attribution (node ID, run ID, model).
		Metadata map[string]any `json:"metadata,omitempty"`

		CreatedAt time.Time `json:"created_at"`
	}

	// Recalled is an entry returned by a similarity query.
	Recalled struct {
		Entry

		// Similarity is the cosine similarity to the query, -1 to 1.
		Similarity float64 `json:"similarity"`
	}

	// Embedder turns text into a vector. Implementations wrap embedding
	// providers; see features/memory/openai.
	Embedder interface {
		Embed(ctx context.Context, text string) ([]float32, error)
	}

	// Store saves and recalls entries. Implementations embed content at save
	// time and rank by cosine similarity at recall time.
	Store interface {
		// Save stores content under key within the workflow scope.
		Save(ctx context.Context, workflowID, key, content string, metadata map[string]any) error

		// Recall returns up to topK entries most similar to query, best
		// first. topK <= 0 uses DefaultTopK.
		Recall(ctx context.Context, workflowID, query string, topK int) ([]Recalled, error)
	}
)

// Cosine computes the cosine similarity of two vectors. Mismatched lengths
// and zero vectors yield 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
