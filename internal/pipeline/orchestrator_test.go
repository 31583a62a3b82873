package pipeline

import (
	"context"
	"errors"
	"hash/fnv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/labsubmitd/internal/chunker"
	"github.com/fyrsmithlabs/labsubmitd/internal/llm"
	"github.com/fyrsmithlabs/labsubmitd/internal/retrieval"
	"github.com/fyrsmithlabs/labsubmitd/internal/retrypolicy"
	"github.com/fyrsmithlabs/labsubmitd/internal/submission"
	"github.com/fyrsmithlabs/labsubmitd/internal/vectorstore"
)

// hashEmbedder produces deterministic bag-of-words vectors. Good enough
// for exercising the pipeline without a model.
type hashEmbedder struct {
	dims    int
	calls   atomic.Int32
	failN   atomic.Int32 // fail this many calls before succeeding
	blockOn chan struct{}
}

func (h *hashEmbedder) embed(text string) []float32 {
	v := make([]float32, h.dims)
	hasher := fnv.New32a()
	word := ""
	for _, r := range text + " " {
		if r == ' ' || r == '\n' {
			if word != "" {
				hasher.Reset()
				hasher.Write([]byte(word))
				v[int(hasher.Sum32())%h.dims]++
				word = ""
			}
			continue
		}
		word += string(r)
	}
	return v
}

func (h *hashEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	h.calls.Add(1)
	if h.blockOn != nil {
		select {
		case <-h.blockOn:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if h.failN.Load() > 0 {
		h.failN.Add(-1)
		return nil, retrypolicy.MarkRetryable(errors.New("embedder warming up"))
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = h.embed(t)
	}
	return out, nil
}

func (h *hashEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return h.embed(text), nil
}

// jsonBackend always answers with a fixed JSON payload.
type jsonBackend struct {
	name     string
	response string
	err      error
	calls    atomic.Int32
}

func (b *jsonBackend) Name() string { return b.name }

func (b *jsonBackend) Complete(context.Context, string) (string, error) {
	b.calls.Add(1)
	if b.err != nil {
		return "", b.err
	}
	return b.response, nil
}

const goodResponse = `{"fields": {
	"submitter_name": {"value": "Jane Doe", "confidence": 0.95},
	"submitter_email": {"value": "jane@example.com", "confidence": 0.9},
	"sample_type": {"value": "blood", "confidence": 0.85}
}}`

func testFieldSpecs() []submission.FieldSpec {
	return []submission.FieldSpec{
		{Name: "submitter_name", Type: submission.FieldString, Required: true, Hint: "person who submitted"},
		{Name: "submitter_email", Type: submission.FieldString, Required: true, Hint: "contact email"},
		{Name: "sample_type", Type: submission.FieldEnum, Required: true, Values: []string{"blood", "saliva", "tissue", "dna", "rna"}},
	}
}

func newTestOrchestrator(t *testing.T, embedder *hashEmbedder, backends []llm.Backend, cfg Config) (*Orchestrator, *vectorstore.ChromemIndex) {
	t.Helper()

	ck, err := chunker.New(chunker.Config{ChunkSize: 50, Overlap: 10})
	require.NoError(t, err)

	index, err := vectorstore.NewChromemIndex(vectorstore.ChromemConfig{VectorSize: embedder.dims}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = index.Close() })

	retriever := retrieval.New(embedder, index, nil)

	extractor, err := llm.NewExtractor(backends, llm.ExtractorConfig{
		Retry: retrypolicy.Policy{MaxAttempts: 2, BaseBackoff: time.Millisecond},
	}, nil)
	require.NoError(t, err)

	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retrypolicy.Policy{MaxAttempts: 3, BaseBackoff: time.Millisecond}
	}
	orch, err := New(ck, embedder, index, retriever, extractor, cfg, zap.NewNop())
	require.NoError(t, err)
	return orch, index
}

func TestProcess_EndToEnd(t *testing.T) {
	embedder := &hashEmbedder{dims: 16}
	backend := &jsonBackend{name: "anthropic", response: goodResponse}
	orch, index := newTestOrchestrator(t, embedder, []llm.Backend{backend}, Config{})

	doc := submission.Document{
		ID:   "doc-1",
		Text: "Submitted by Jane Doe (jane@example.com), sample type: blood. Twelve samples for whole genome sequencing.",
	}

	result := orch.Process(context.Background(), doc, testFieldSpecs())
	require.NotNil(t, result)

	assert.Equal(t, submission.StatusCompleted, result.Status)
	assert.Equal(t, "doc-1", result.DocumentID)
	require.Len(t, result.Fields, 3)

	name, ok := result.Field("submitter_name")
	require.True(t, ok)
	assert.Equal(t, "Jane Doe", name.NormalizedValue)
	assert.Equal(t, "anthropic", name.Backend)
	assert.NotEmpty(t, name.EvidenceChunks)

	email, ok := result.Field("submitter_email")
	require.True(t, ok)
	assert.Equal(t, "jane@example.com", email.NormalizedValue)

	assert.InDelta(t, (0.95+0.9+0.85)/3, result.OverallConfidence, 1e-9)
	assert.Greater(t, result.ProcessingTime, time.Duration(0))
	assert.False(t, result.CreatedAt.IsZero())

	// The document's chunks are indexed and queryable afterwards.
	count, err := index.Count(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Greater(t, count, 0)
}

func TestProcess_EmbeddingTimeoutIsProviderFailure(t *testing.T) {
	// Never-closed blockOn makes every embedding call outlast its
	// deadline while the pipeline context stays live.
	embedder := &hashEmbedder{dims: 16, blockOn: make(chan struct{})}
	backend := &jsonBackend{name: "anthropic", response: goodResponse}
	orch, _ := newTestOrchestrator(t, embedder, []llm.Backend{backend}, Config{
		EmbeddingTimeout: 15 * time.Millisecond,
		Retry:            retrypolicy.Policy{MaxAttempts: 2, BaseBackoff: time.Millisecond},
	})

	doc := submission.Document{ID: "doc-slow", Text: "Submitted by Jane Doe, sample type blood."}
	result := orch.Process(context.Background(), doc, testFieldSpecs())
	require.NotNil(t, result)

	assert.Equal(t, submission.StatusFailed, result.Status)
	assert.Equal(t, string(StateEmbedding), result.LastState)
	assert.Equal(t, FailureProviderUnavailable, result.FailureKind)
	assert.Equal(t, int32(2), embedder.calls.Load())
	assert.Zero(t, backend.calls.Load())
}

func TestProcess_EmptyDocumentFails(t *testing.T) {
	embedder := &hashEmbedder{dims: 16}
	backend := &jsonBackend{name: "anthropic", response: goodResponse}
	orch, _ := newTestOrchestrator(t, embedder, []llm.Backend{backend}, Config{})

	result := orch.Process(context.Background(), submission.Document{ID: "doc-e", Text: "   "}, testFieldSpecs())
	require.NotNil(t, result)

	assert.Equal(t, submission.StatusFailed, result.Status)
	assert.Equal(t, string(StateChunking), result.LastState)
	assert.Equal(t, FailureEmptyDocument, result.FailureKind)
	assert.Zero(t, backend.calls.Load())
}

func TestProcess_TransientEmbeddingFailureRetried(t *testing.T) {
	embedder := &hashEmbedder{dims: 16}
	embedder.failN.Store(1)
	backend := &jsonBackend{name: "anthropic", response: goodResponse}
	orch, _ := newTestOrchestrator(t, embedder, []llm.Backend{backend}, Config{})

	doc := submission.Document{ID: "doc-r", Text: "Submitted by Jane Doe, sample type blood."}
	result := orch.Process(context.Background(), doc, testFieldSpecs())

	assert.Equal(t, submission.StatusCompleted, result.Status)
	assert.GreaterOrEqual(t, embedder.calls.Load(), int32(2))
}

func TestProcess_AllBackendsDownIsGracefulDegradationToFailure(t *testing.T) {
	embedder := &hashEmbedder{dims: 16}
	down := &jsonBackend{name: "anthropic", err: retrypolicy.MarkRetryable(llm.ErrProviderUnavailable)}
	orch, _ := newTestOrchestrator(t, embedder, []llm.Backend{down}, Config{})

	doc := submission.Document{ID: "doc-d", Text: "Submitted by Jane Doe, sample type blood."}
	result := orch.Process(context.Background(), doc, testFieldSpecs())

	// Extraction degrades to missing fields, and with no required field
	// recovered the document fails in reconciling.
	require.NotNil(t, result)
	assert.Equal(t, submission.StatusFailed, result.Status)
	assert.Equal(t, string(StateReconciling), result.LastState)
	assert.Equal(t, FailureNoRequiredFields, result.FailureKind)
	assert.NotEmpty(t, result.Warnings)
}

func TestProcess_FallbackBackendRecordedInWarnings(t *testing.T) {
	embedder := &hashEmbedder{dims: 16}
	primary := &jsonBackend{name: "anthropic", err: retrypolicy.MarkRetryable(llm.ErrProviderUnavailable)}
	secondary := &jsonBackend{name: "openai", response: goodResponse}
	orch, _ := newTestOrchestrator(t, embedder, []llm.Backend{primary, secondary}, Config{})

	doc := submission.Document{ID: "doc-f", Text: "Submitted by Jane Doe, sample type blood."}
	result := orch.Process(context.Background(), doc, testFieldSpecs())

	assert.Equal(t, submission.StatusCompleted, result.Status)
	name, ok := result.Field("submitter_name")
	require.True(t, ok)
	assert.Equal(t, "openai", name.Backend)
	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[0], "openai")
	assert.Contains(t, result.Warnings[0], "anthropic")
}

func TestProcess_CancellationCleansUpIndex(t *testing.T) {
	embedder := &hashEmbedder{dims: 16, blockOn: make(chan struct{})}
	backend := &jsonBackend{name: "anthropic", response: goodResponse}
	orch, index := newTestOrchestrator(t, embedder, []llm.Backend{backend}, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	doc := submission.Document{ID: "doc-c", Text: "Submitted by Jane Doe, sample type blood."}
	result := orch.Process(ctx, doc, testFieldSpecs())

	require.NotNil(t, result)
	assert.Equal(t, submission.StatusFailed, result.Status)
	assert.Equal(t, FailureCanceled, result.FailureKind)

	count, err := index.Count(context.Background(), "doc-c")
	require.NoError(t, err)
	assert.Zero(t, count, "cancelled pipeline must leave no index entries behind")
}

func TestProcess_PerFieldRetrieval(t *testing.T) {
	embedder := &hashEmbedder{dims: 16}
	backend := &jsonBackend{name: "anthropic", response: goodResponse}
	orch, _ := newTestOrchestrator(t, embedder, []llm.Backend{backend}, Config{PerFieldRetrieval: true})

	doc := submission.Document{
		ID:   "doc-p",
		Text: "Submitted by Jane Doe (jane@example.com). Sample type: blood. Institution: Acme Lab.",
	}
	result := orch.Process(context.Background(), doc, testFieldSpecs())

	assert.Equal(t, submission.StatusCompleted, result.Status)
	assert.Equal(t, int32(3), backend.calls.Load(), "one extraction round per field")
}

func TestProcess_ConfidenceWeights(t *testing.T) {
	embedder := &hashEmbedder{dims: 16}
	backend := &jsonBackend{name: "anthropic", response: goodResponse}
	orch, _ := newTestOrchestrator(t, embedder, []llm.Backend{backend}, Config{
		ConfidenceWeights: map[string]float64{"submitter_name": 2},
	})

	doc := submission.Document{ID: "doc-w", Text: "Submitted by Jane Doe, sample type blood."}
	result := orch.Process(context.Background(), doc, testFieldSpecs())

	require.Equal(t, submission.StatusCompleted, result.Status)
	want := (2*0.95 + 0.9 + 0.85) / 4
	assert.InDelta(t, want, result.OverallConfidence, 1e-9)
}

func TestProcessBatch_OneFailureDoesNotAbortOthers(t *testing.T) {
	embedder := &hashEmbedder{dims: 16}
	backend := &jsonBackend{name: "anthropic", response: goodResponse}
	orch, _ := newTestOrchestrator(t, embedder, []llm.Backend{backend}, Config{})

	docs := []submission.Document{
		{ID: "batch-1", Text: "Submitted by Jane Doe, sample type blood."},
		{ID: "batch-2", Text: "   "},
		{ID: "batch-3", Text: "Submitted by Jane Doe, sample type saliva."},
	}
	results := orch.ProcessBatch(context.Background(), docs, testFieldSpecs(), 2)

	require.Len(t, results, 3)
	assert.Equal(t, submission.StatusCompleted, results[0].Status)
	assert.Equal(t, submission.StatusFailed, results[1].Status)
	assert.Equal(t, submission.StatusCompleted, results[2].Status)
	for i, r := range results {
		assert.Equal(t, docs[i].ID, r.DocumentID, "results keep input order")
	}
}

func TestProcessAndStore(t *testing.T) {
	embedder := &hashEmbedder{dims: 16}
	backend := &jsonBackend{name: "anthropic", response: goodResponse}
	orch, _ := newTestOrchestrator(t, embedder, []llm.Backend{backend}, Config{})

	store, err := submission.NewJSONStore(t.TempDir(), nil)
	require.NoError(t, err)

	doc := submission.Document{ID: "doc-s", Text: "Submitted by Jane Doe, sample type blood."}
	result, err := orch.ProcessAndStore(context.Background(), store, doc, testFieldSpecs())
	require.NoError(t, err)
	assert.Equal(t, submission.StatusCompleted, result.Status)

	stored, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "doc-s", stored[0].DocumentID)
}

func TestDelete(t *testing.T) {
	embedder := &hashEmbedder{dims: 16}
	backend := &jsonBackend{name: "anthropic", response: goodResponse}
	orch, index := newTestOrchestrator(t, embedder, []llm.Backend{backend}, Config{})

	doc := submission.Document{ID: "doc-del", Text: "Submitted by Jane Doe, sample type blood."}
	result := orch.Process(context.Background(), doc, testFieldSpecs())
	require.Equal(t, submission.StatusCompleted, result.Status)

	removed, err := orch.Delete(context.Background(), "doc-del")
	require.NoError(t, err)
	assert.Greater(t, removed, 0)

	count, err := index.Count(context.Background(), "doc-del")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestQuery(t *testing.T) {
	embedder := &hashEmbedder{dims: 16}
	backend := &jsonBackend{name: "anthropic", response: "Jane Doe submitted the samples."}
	orch, index := newTestOrchestrator(t, embedder, []llm.Backend{backend}, Config{})

	entries := []vectorstore.Entry{
		{ID: "doc-q:000000", DocumentID: "doc-q", Seq: 0, Text: "Submitted by Jane Doe", Vector: embedder.embed("Submitted by Jane Doe")},
	}
	require.NoError(t, index.Upsert(context.Background(), entries))

	answer, err := orch.Query(context.Background(), "doc-q", "who submitted?", 0)
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe submitted the samples.", answer)

	_, err = orch.Query(context.Background(), "missing-doc", "who submitted?", 3)
	assert.Error(t, err)
}

func TestNew_DimensionMismatchRejected(t *testing.T) {
	index, err := vectorstore.NewChromemIndex(vectorstore.ChromemConfig{VectorSize: 384}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = index.Close() })

	ck, err := chunker.New(chunker.Config{})
	require.NoError(t, err)

	backend := &jsonBackend{name: "anthropic", response: goodResponse}
	extractor, err := llm.NewExtractor([]llm.Backend{backend}, llm.ExtractorConfig{}, nil)
	require.NoError(t, err)

	embedder := &fixedDimEmbedder{dims: 16}
	_, err = New(ck, embedder, index, retrieval.New(embedder, index, nil), extractor, Config{}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, vectorstore.ErrDimensionMismatch)
}

// fixedDimEmbedder reports a dimension like the real providers do.
type fixedDimEmbedder struct {
	hashEmbedder
	dims int
}

func (f *fixedDimEmbedder) Dimension() int { return f.dims }

func (f *fixedDimEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dims)
	}
	return out, nil
}

func (f *fixedDimEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return make([]float32, f.dims), nil
}
