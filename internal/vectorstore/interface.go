// Package vectorstore defines the vector index used by the extraction
// pipeline and its chromem-go implementation.
package vectorstore

import (
	"context"
	"errors"
)

// Sentinel errors for vector index operations.
var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyEntries indicates an empty or nil upsert batch.
	ErrEmptyEntries = errors.New("empty or nil entries")

	// ErrDimensionMismatch indicates a vector whose dimensionality does
	// not match the index. Fatal: this is a configuration bug, never
	// retried.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrIndexUnavailable indicates a storage failure. Retried a bounded
	// number of times by the pipeline, then surfaced as a document-level
	// failure.
	ErrIndexUnavailable = errors.New("vector index unavailable")
)

// Embedder generates vector embeddings from text.
//
// Implementations can run a local model or call a remote API; the index
// and retriever depend only on this capability.
type Embedder interface {
	// EmbedDocuments generates embeddings for multiple texts, one vector
	// per input, in input order.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a single query. Some models
	// prefix queries differently from documents.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Entry is one indexed chunk: its vector plus the metadata needed to map
// a match back to the source chunk.
type Entry struct {
	// ID is the deterministic chunk id. Re-upserting the same id
	// overwrites rather than duplicates.
	ID string

	// DocumentID is the owning document. Queries never cross documents.
	DocumentID string

	// Seq is the chunk's sequence index within its document.
	Seq int

	// Text is the chunk text, stored so retrieval can hand context to
	// the extractor without a separate chunk store.
	Text string

	// Start and End are the chunk's character offsets in the document.
	Start int
	End   int

	// Vector is the chunk embedding.
	Vector []float32
}

// Match is a query hit with its similarity score in [0,1].
type Match struct {
	Entry Entry
	Score float32
}

// Index stores (chunk, vector, metadata) tuples partitioned by document.
//
// Guarantees:
//   - Upsert is idempotent on entry id.
//   - An upsert batch becomes visible to queries atomically: a concurrent
//     query for the same document sees all of the batch or none of it.
//   - Query results are ordered by descending similarity, ties broken by
//     ascending sequence index.
//   - Query never returns entries for a deleted document.
//   - Concurrent upsert/query/delete across different documents do not
//     interfere; isolation is per-document partition, not a global lock.
type Index interface {
	// Upsert stores a batch of entries. All entries must belong to the
	// same document.
	Upsert(ctx context.Context, entries []Entry) error

	// Query returns up to k nearest entries of the given document,
	// ordered by descending similarity. Fewer than k entries is not an
	// error; a document with no entries yields an empty result.
	Query(ctx context.Context, vector []float32, k int, documentID string) ([]Match, error)

	// DeleteByDocument removes every entry of a document and returns the
	// number removed.
	DeleteByDocument(ctx context.Context, documentID string) (int, error)

	// Count returns the number of entries indexed for a document.
	Count(ctx context.Context, documentID string) (int, error)

	// Close releases resources held by the index.
	Close() error
}
