package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/labsubmitd/internal/submission"
)

// ProcessBatch runs the pipeline for multiple documents concurrently,
// bounded by maxConcurrent (default 4). One document failing never
// aborts the others: each slot holds that document's terminal Result,
// ordered to match the input.
func (o *Orchestrator) ProcessBatch(ctx context.Context, docs []submission.Document, specs []submission.FieldSpec, maxConcurrent int) []*submission.Result {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	results := make([]*submission.Result, len(docs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrent)
	for i, doc := range docs {
		i, doc := i, doc
		g.Go(func() error {
			results[i] = o.Process(gctx, doc, specs)
			return nil
		})
	}
	g.Wait() //nolint:errcheck // workers never return errors

	return results
}

// ProcessAndStore runs the pipeline and persists the terminal result,
// failure reports included. Storage failure is reported to the caller
// but the result itself is still returned.
func (o *Orchestrator) ProcessAndStore(ctx context.Context, store submission.SubmissionStore, doc submission.Document, specs []submission.FieldSpec) (*submission.Result, error) {
	result := o.Process(ctx, doc, specs)

	storedID, createdAt, err := store.Save(ctx, result)
	if err != nil {
		return result, fmt.Errorf("storing result for document %s: %w", doc.ID, err)
	}
	result.CreatedAt = createdAt
	o.logger.Debug("result stored",
		zap.String("document_id", doc.ID),
		zap.String("stored_id", storedID),
	)
	return result, nil
}
