// Package retrieval maps field queries onto the most relevant chunks of
// a single document.
package retrieval

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/labsubmitd/internal/submission"
	"github.com/fyrsmithlabs/labsubmitd/internal/vectorstore"
)

// ScoredChunk is a retrieved chunk with its similarity to the query.
type ScoredChunk struct {
	Chunk submission.Chunk
	Score float32
}

// Retriever embeds a query and resolves the nearest chunks within one
// document. Retrieval never crosses documents: the index is queried with
// the document's partition and nothing else, so near-identical content in
// another document can never leak into this one's extraction context.
type Retriever struct {
	embedder vectorstore.Embedder
	index    vectorstore.Index
	logger   *zap.Logger
}

// New creates a Retriever.
func New(embedder vectorstore.Embedder, index vectorstore.Index, logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retriever{
		embedder: embedder,
		index:    index,
		logger:   logger,
	}
}

// Retrieve returns up to k chunks of the given document most relevant to
// queryText, ordered by descending similarity. Fewer than k indexed
// chunks is not an error.
func (r *Retriever) Retrieve(ctx context.Context, queryText string, k int, documentID string) ([]ScoredChunk, error) {
	if queryText == "" {
		return nil, fmt.Errorf("query text cannot be empty")
	}
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}

	vector, err := r.embedder.EmbedQuery(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	matches, err := r.index.Query(ctx, vector, k, documentID)
	if err != nil {
		return nil, fmt.Errorf("querying index: %w", err)
	}

	chunks := make([]ScoredChunk, len(matches))
	for i, m := range matches {
		chunks[i] = ScoredChunk{
			Chunk: submission.Chunk{
				ID:         m.Entry.ID,
				DocumentID: m.Entry.DocumentID,
				Text:       m.Entry.Text,
				Start:      m.Entry.Start,
				End:        m.Entry.End,
				Seq:        m.Entry.Seq,
				Embedding:  m.Entry.Vector,
			},
			Score: m.Score,
		}
	}

	r.logger.Debug("retrieved chunks",
		zap.String("document_id", documentID),
		zap.Int("k", k),
		zap.Int("results", len(chunks)),
	)

	return chunks, nil
}
