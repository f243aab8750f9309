// Package rag holds the embedding index and the retrieval-augmented answer
// engine. An Index persists one collection of embedded segments per
// collection key; a Collection answers nearest-neighbour queries over it.
// Two backends satisfy Index: LocalStore (a directory per key) and
// QdrantStore (a Qdrant collection per key).
package rag

import (
	"context"

	"github.com/54b3r/docchat-go/internal/document"
)

const (
	// DefaultTopK is the number of segments retrieved when k <= 0.
	DefaultTopK = 4

	// DefaultHistoryDepth is the number of prior messages the CLI and server
	// show the model when RAG_HISTORY_DEPTH is unset.
	DefaultHistoryDepth = 6

	// DefaultBatchSize is the number of texts per embedding request.
	DefaultBatchSize = 64
)

// Embedder converts text into dense vectors. Implementations must be safe to
// call from multiple goroutines.
type Embedder interface {
	// Embed returns one vector per text, parallel to the input.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Model names the embedding model.
	Model() string
}

// Index creates, detects and opens embedding collections by key.
// Implementations must be safe to call from multiple goroutines.
type Index interface {
	// Exists reports whether key's storage exists and is non-empty.
	Exists(ctx context.Context, key string) (bool, error)

	// Create embeds segments and persists them under key, replacing any
	// previous content. It is all-or-nothing: on error nothing is left at key.
	Create(ctx context.Context, key string, segments []document.Segment) (Collection, error)

	// Load opens an existing collection. Returns a NotFound error when
	// Exists would report false.
	Load(ctx context.Context, key string) (Collection, error)
}

// Collection is an opened, queryable set of embedded segments.
type Collection interface {
	// Key is the collection key.
	Key() string

	// Retrieve returns the min(k, n) segments most similar to query by
	// cosine similarity, best first. k <= 0 means DefaultTopK.
	Retrieve(ctx context.Context, query string, k int) ([]document.Segment, error)
}
