package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/labsubmitd/internal/chunker"
	"github.com/fyrsmithlabs/labsubmitd/internal/embeddings"
	"github.com/fyrsmithlabs/labsubmitd/internal/llm"
	"github.com/fyrsmithlabs/labsubmitd/internal/retrieval"
	"github.com/fyrsmithlabs/labsubmitd/internal/retrypolicy"
	"github.com/fyrsmithlabs/labsubmitd/internal/submission"
	"github.com/fyrsmithlabs/labsubmitd/internal/vectorstore"
)

// pipelineTracer for OpenTelemetry instrumentation.
var pipelineTracer = otel.Tracer("labsubmitd.pipeline")

// ErrNoRequiredFields indicates that no required field could be
// recovered from any backend for a document.
var ErrNoRequiredFields = errors.New("no required fields recoverable")

// Config holds orchestrator configuration. Pass one explicitly per
// orchestrator: concurrent pipelines with different configurations can
// coexist because nothing here is process-global.
type Config struct {
	// RetrievalK is the number of chunks retrieved per field group.
	// Default 5.
	RetrievalK int

	// PerFieldRetrieval enables one focused retrieval query per field
	// instead of a single pass for the whole schema.
	PerFieldRetrieval bool

	// EmbedBatchSize is the number of chunks per embedding call.
	// Default 32.
	EmbedBatchSize int

	// EmbedConcurrency bounds concurrent embedding batches within one
	// document. Default 4.
	EmbedConcurrency int

	// ConfidenceWeights weights required fields in the overall
	// confidence. Unlisted fields weigh 1.
	ConfidenceWeights map[string]float64

	// Retry is the policy for embedding and index calls. The extractor
	// carries its own copy for LLM calls.
	Retry retrypolicy.Policy

	// EmbeddingTimeout bounds each embedding call. Zero disables.
	EmbeddingTimeout time.Duration

	// IndexTimeout bounds each vector index call. Zero disables.
	IndexTimeout time.Duration

	// CleanupTimeout bounds the index cleanup after cancellation.
	// Default 10s.
	CleanupTimeout time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.RetrievalK <= 0 {
		c.RetrievalK = 5
	}
	if c.EmbedBatchSize <= 0 {
		c.EmbedBatchSize = 32
	}
	if c.EmbedConcurrency <= 0 {
		c.EmbedConcurrency = 4
	}
	if c.CleanupTimeout <= 0 {
		c.CleanupTimeout = 10 * time.Second
	}
}

// Orchestrator runs the extraction pipeline. Pipelines for different
// documents may run concurrently; stages within one document are
// strictly sequential. The orchestrator holds no locks across external
// calls — the index handles its own per-document synchronization.
type Orchestrator struct {
	chunker   *chunker.Chunker
	embedder  vectorstore.Embedder
	index     vectorstore.Index
	retriever *retrieval.Retriever
	extractor *llm.Extractor
	config    Config
	logger    *zap.Logger
}

// New creates an Orchestrator. The embedding provider's dimensionality
// must match the index's; a mismatch is a configuration bug caught here.
func New(ck *chunker.Chunker, embedder vectorstore.Embedder, index vectorstore.Index, retriever *retrieval.Retriever, extractor *llm.Extractor, cfg Config, logger *zap.Logger) (*Orchestrator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()

	// Catch embedder/index dimensionality disagreement up front when
	// both sides can report it. A 0 dimension means "not known yet"
	// (fastembed reports it only after the model loads a first batch).
	type dimensioned interface{ Dimension() int }
	type sized interface{ VectorSize() int }
	if d, ok := embedder.(dimensioned); ok {
		if s, ok := index.(sized); ok {
			if d.Dimension() != 0 && s.VectorSize() != 0 && d.Dimension() != s.VectorSize() {
				return nil, fmt.Errorf("%w: embedder produces %d-dimensional vectors, index expects %d",
					vectorstore.ErrDimensionMismatch, d.Dimension(), s.VectorSize())
			}
		}
	}

	return &Orchestrator{
		chunker:   ck,
		embedder:  embedder,
		index:     index,
		retriever: retriever,
		extractor: extractor,
		config:    cfg,
		logger:    logger,
	}, nil
}

// Process runs the full pipeline for one document. It always returns a
// terminal Result: completed with extracted fields, or a failure report
// carrying the last state reached and the error kind. A failure never
// panics and never affects other documents' pipelines.
func (o *Orchestrator) Process(ctx context.Context, doc submission.Document, specs []submission.FieldSpec) *submission.Result {
	ctx, span := pipelineTracer.Start(ctx, "Orchestrator.Process")
	defer span.End()
	span.SetAttributes(attribute.String("document_id", doc.ID))

	start := time.Now()
	state := newPipelineState()
	logger := o.logger.With(zap.String("document_id", doc.ID))

	result, err := o.run(ctx, state, doc, specs, logger)
	if err != nil {
		if ctx.Err() != nil {
			o.cleanupAfterCancel(doc.ID, logger)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		last := state.current
		if !last.Terminal() {
			_ = state.advance(StateFailed)
		}
		result = o.failureReport(doc.ID, last, err)
		if ctx.Err() != nil {
			result.FailureKind = FailureCanceled
		}
	} else {
		span.SetStatus(codes.Ok, "success")
	}

	result.ProcessingTime = time.Since(start)
	result.CreatedAt = time.Now().UTC()
	span.SetAttributes(
		attribute.String("status", string(result.Status)),
		attribute.Float64("overall_confidence", result.OverallConfidence),
	)

	logger.Info("pipeline finished",
		zap.String("status", string(result.Status)),
		zap.Float64("overall_confidence", result.OverallConfidence),
		zap.Duration("processing_time", result.ProcessingTime),
	)

	return result
}

// run drives the state machine. Any returned error puts the document in
// the failed terminal state.
func (o *Orchestrator) run(ctx context.Context, state *pipelineState, doc submission.Document, specs []submission.FieldSpec, logger *zap.Logger) (*submission.Result, error) {
	var warnings []string

	// pending -> chunking
	if err := o.enter(ctx, state, StateChunking); err != nil {
		return nil, err
	}
	chunks := o.chunker.Split(doc.ID, doc.Text)
	if len(chunks) == 0 {
		return nil, submission.ErrEmptyDocument
	}
	logger.Debug("document chunked", zap.Int("chunks", len(chunks)))

	// chunking -> embedding
	if err := o.enter(ctx, state, StateEmbedding); err != nil {
		return nil, err
	}
	entries, err := o.embedChunks(ctx, chunks)
	if err != nil {
		return nil, err
	}
	if err := o.upsertEntries(ctx, entries); err != nil {
		return nil, err
	}
	logger.Debug("chunks indexed", zap.Int("entries", len(entries)))

	// embedding -> retrieving: retrieval runs for every field group
	// here, so extracting never has to step backwards.
	if err := o.enter(ctx, state, StateRetrieving); err != nil {
		return nil, err
	}
	groups := fieldGroups(specs, o.config.PerFieldRetrieval)
	evidence := make([][]retrieval.ScoredChunk, len(groups))
	for i, group := range groups {
		ev, err := o.retrieveGroup(ctx, doc.ID, group)
		if err != nil {
			return nil, err
		}
		evidence[i] = ev
	}

	// retrieving -> extracting, repeated per field group
	var candidates []submission.ExtractedField
	for i, group := range groups {
		if err := o.enter(ctx, state, StateExtracting); err != nil {
			return nil, err
		}
		extraction, err := o.extractor.Extract(ctx, group, evidence[i])
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// Extraction degrades gracefully: this group's fields are
			// emitted missing instead of failing the document.
			logger.Warn("extraction failed for field group, marking fields missing",
				zap.Strings("fields", fieldNames(group)),
				zap.Error(err),
			)
			warnings = append(warnings, fmt.Sprintf("extraction failed for %s: %v", strings.Join(fieldNames(group), ","), err))
			for _, spec := range group {
				candidates = append(candidates, submission.ExtractedField{
					Name:            spec.Name,
					NormalizedValue: submission.MissingValue,
				})
			}
			continue
		}
		if len(extraction.Attempted) > 1 {
			warnings = append(warnings, fmt.Sprintf("fell back to backend %s (attempted: %s)",
				extraction.Backend, strings.Join(extraction.Attempted, ",")))
		}
		candidates = append(candidates, extraction.Fields...)
	}

	// extracting -> reconciling
	if err := o.enter(ctx, state, StateReconciling); err != nil {
		return nil, err
	}
	fields := reconcile(specs, candidates)
	if !anyRequiredRecovered(specs, fields) {
		return nil, ErrNoRequiredFields
	}

	// reconciling -> completed. Always terminal success from here:
	// confidence is informational, not a gate.
	if err := o.enter(ctx, state, StateCompleted); err != nil {
		return nil, err
	}
	return &submission.Result{
		DocumentID:        doc.ID,
		Fields:            fields,
		OverallConfidence: o.overallConfidence(specs, fields),
		Status:            submission.StatusCompleted,
		Warnings:          warnings,
	}, nil
}

// enter advances the state machine, honoring cancellation at every
// state boundary.
func (o *Orchestrator) enter(ctx context.Context, state *pipelineState, next State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return state.advance(next)
}

// embedChunks embeds all chunks in concurrent batches, bounded by the
// configured concurrency. Nothing is upserted here: the entries land in
// the index later as one atomic batch.
func (o *Orchestrator) embedChunks(ctx context.Context, chunks []submission.Chunk) ([]vectorstore.Entry, error) {
	entries := make([]vectorstore.Entry, len(chunks))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.config.EmbedConcurrency)

	for begin := 0; begin < len(chunks); begin += o.config.EmbedBatchSize {
		end := begin + o.config.EmbedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[begin:end]
		offset := begin

		g.Go(func() error {
			texts := make([]string, len(batch))
			for i, c := range batch {
				texts[i] = c.Text
			}

			var vectors [][]float32
			err := o.config.Retry.Execute(gctx, o.logger, "embed", func(ctx context.Context) error {
				return o.withTimeout(ctx, o.config.EmbeddingTimeout, embeddings.ErrProviderUnavailable, func(ctx context.Context) error {
					var err error
					vectors, err = o.embedder.EmbedDocuments(ctx, texts)
					return err
				})
			})
			if err != nil {
				return err
			}
			if len(vectors) != len(batch) {
				return fmt.Errorf("embedder returned %d vectors for %d texts", len(vectors), len(batch))
			}

			mu.Lock()
			defer mu.Unlock()
			for i, c := range batch {
				entries[offset+i] = vectorstore.Entry{
					ID:         c.ID,
					DocumentID: c.DocumentID,
					Seq:        c.Seq,
					Text:       c.Text,
					Start:      c.Start,
					End:        c.End,
					Vector:     vectors[i],
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return entries, nil
}

// upsertEntries stores the embedded chunks as one batch, retried under
// the policy.
func (o *Orchestrator) upsertEntries(ctx context.Context, entries []vectorstore.Entry) error {
	return o.config.Retry.Execute(ctx, o.logger, "index.upsert", func(ctx context.Context) error {
		return o.withTimeout(ctx, o.config.IndexTimeout, vectorstore.ErrIndexUnavailable, func(ctx context.Context) error {
			err := o.index.Upsert(ctx, entries)
			if err != nil && errors.Is(err, vectorstore.ErrIndexUnavailable) {
				return retrypolicy.MarkRetryable(err)
			}
			return err
		})
	})
}

// retrieveGroup retrieves evidence for one field group, retried under
// the policy.
func (o *Orchestrator) retrieveGroup(ctx context.Context, documentID string, group []submission.FieldSpec) ([]retrieval.ScoredChunk, error) {
	var evidence []retrieval.ScoredChunk
	err := o.config.Retry.Execute(ctx, o.logger, "retrieve", func(ctx context.Context) error {
		return o.withTimeout(ctx, o.config.IndexTimeout, vectorstore.ErrIndexUnavailable, func(ctx context.Context) error {
			var err error
			evidence, err = o.retriever.Retrieve(ctx, groupQuery(group), o.config.RetrievalK, documentID)
			if err != nil && errors.Is(err, vectorstore.ErrIndexUnavailable) {
				return retrypolicy.MarkRetryable(err)
			}
			return err
		})
	})
	return evidence, err
}

// withTimeout bounds one external call. When the call exceeds its own
// deadline while the parent context is still live, the error comes back
// wrapped in the call's unavailability sentinel and marked retryable: a
// timed-out dependency is an unavailable dependency, not a cancelled
// pipeline. A dead parent context passes through untouched.
func (o *Orchestrator) withTimeout(ctx context.Context, d time.Duration, unavailable error, fn func(context.Context) error) error {
	if d <= 0 {
		return fn(ctx)
	}
	cctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	err := fn(cctx)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return retrypolicy.MarkRetryable(fmt.Errorf("%w: call timed out after %s", unavailable, d))
	}
	return err
}

// cleanupAfterCancel removes index entries of a document whose pipeline
// was cancelled before completing, so nothing half-indexed lingers. Runs
// on a fresh context because the pipeline's own context is already dead.
func (o *Orchestrator) cleanupAfterCancel(documentID string, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), o.config.CleanupTimeout)
	defer cancel()

	removed, err := o.index.DeleteByDocument(ctx, documentID)
	if err != nil {
		logger.Error("cleanup after cancellation failed", zap.Error(err))
		return
	}
	logger.Info("cleaned up cancelled pipeline", zap.Int("entries_removed", removed))
}

// failureReport builds the Result-shaped failure report for a document.
func (o *Orchestrator) failureReport(documentID string, last State, err error) *submission.Result {
	return &submission.Result{
		DocumentID:  documentID,
		Status:      submission.StatusFailed,
		LastState:   string(last),
		FailureKind: failureKind(err),
		Warnings:    []string{err.Error()},
	}
}

// overallConfidence is the weighted mean of required-field confidences.
// Weights default to uniform.
func (o *Orchestrator) overallConfidence(specs []submission.FieldSpec, fields []submission.ExtractedField) float64 {
	byName := make(map[string]submission.ExtractedField, len(fields))
	for _, f := range fields {
		byName[f.Name] = f
	}

	var sum, weightSum float64
	for _, spec := range specs {
		if !spec.Required {
			continue
		}
		weight := 1.0
		if w, ok := o.config.ConfidenceWeights[spec.Name]; ok && w > 0 {
			weight = w
		}
		sum += byName[spec.Name].Confidence * weight
		weightSum += weight
	}
	if weightSum == 0 {
		return 0
	}
	return sum / weightSum
}

// Delete removes a document's index entries. Used by callers retiring a
// submission, and available for manual cleanup.
func (o *Orchestrator) Delete(ctx context.Context, documentID string) (int, error) {
	return o.index.DeleteByDocument(ctx, documentID)
}

// Query answers an ad-hoc question about one indexed document.
func (o *Orchestrator) Query(ctx context.Context, documentID, question string, k int) (string, error) {
	if k <= 0 {
		k = o.config.RetrievalK
	}
	evidence, err := o.retriever.Retrieve(ctx, question, k, documentID)
	if err != nil {
		return "", fmt.Errorf("retrieving context: %w", err)
	}
	if len(evidence) == 0 {
		return "", fmt.Errorf("no indexed content for document %s", documentID)
	}
	return o.extractor.Answer(ctx, question, evidence)
}

func fieldNames(specs []submission.FieldSpec) []string {
	names := make([]string, len(specs))
	for i, s := range specs {
		names[i] = s.Name
	}
	return names
}
