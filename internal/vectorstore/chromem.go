package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// chromemTracer for OpenTelemetry instrumentation.
var chromemTracer = otel.Tracer("labsubmitd.vectorstore.chromem")

// ChromemConfig holds configuration for the chromem-go embedded index.
type ChromemConfig struct {
	// Path is the directory for persistent storage. Empty means
	// in-memory only.
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool

	// VectorSize is the expected embedding dimension. Must match the
	// embedding provider's output dimension.
	// Default: 384 (bge-small / all-MiniLM class models)
	VectorSize int

	// CollectionPrefix prefixes the per-document collection names.
	// Default: "sub"
	CollectionPrefix string
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.VectorSize == 0 {
		c.VectorSize = 384
	}
	if c.CollectionPrefix == "" {
		c.CollectionPrefix = "sub"
	}
}

// Validate validates the configuration.
func (c *ChromemConfig) Validate() error {
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive", ErrInvalidConfig)
	}
	return nil
}

// ChromemIndex implements Index using chromem-go.
//
// Each document gets its own chromem collection, which is what enforces
// the isolation guarantee: a query can only ever touch the partition of
// the document it names. A per-document RW lock makes each upsert batch
// atomic with respect to queries for the same document without blocking
// pipelines working on other documents.
type ChromemIndex struct {
	db     *chromem.DB
	config ChromemConfig
	logger *zap.Logger

	// locks holds one *sync.RWMutex per document id.
	locks sync.Map
}

// NewChromemIndex creates a ChromemIndex with the given configuration.
func NewChromemIndex(config ChromemConfig, logger *zap.Logger) (*ChromemIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	var db *chromem.DB
	if config.Path == "" {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(config.Path, config.Compress)
		if err != nil {
			return nil, fmt.Errorf("%w: opening chromem DB: %v", ErrIndexUnavailable, err)
		}
	}

	logger.Info("chromem index initialized",
		zap.String("path", config.Path),
		zap.Int("vector_size", config.VectorSize),
		zap.String("collection_prefix", config.CollectionPrefix),
	)

	return &ChromemIndex{
		db:     db,
		config: config,
		logger: logger,
	}, nil
}

// collectionName maps a document id to its partition.
func (s *ChromemIndex) collectionName(documentID string) string {
	return s.config.CollectionPrefix + "_" + documentID
}

// lockFor returns the lock guarding a document's partition.
func (s *ChromemIndex) lockFor(documentID string) *sync.RWMutex {
	mu, _ := s.locks.LoadOrStore(documentID, &sync.RWMutex{})
	return mu.(*sync.RWMutex)
}

// noEmbed is installed as the collection embedding function. All vectors
// are computed by the embedding provider before they reach the index, so
// chromem must never embed on its own.
func noEmbed(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("index stores precomputed vectors only")
}

// Upsert stores a batch of entries for one document. Entry ids are
// deterministic per (document, seq), so re-indexing overwrites instead of
// duplicating. The batch becomes query-visible atomically.
func (s *ChromemIndex) Upsert(ctx context.Context, entries []Entry) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.Upsert")
	defer span.End()

	span.SetAttributes(attribute.Int("entry_count", len(entries)))

	if len(entries) == 0 {
		return ErrEmptyEntries
	}

	documentID := entries[0].DocumentID
	for i, e := range entries {
		if e.DocumentID != documentID {
			return fmt.Errorf("entry at index %d belongs to document %q but batch targets %q - all entries must target the same document",
				i, e.DocumentID, documentID)
		}
		if len(e.Vector) != s.config.VectorSize {
			span.SetStatus(codes.Error, "dimension mismatch")
			return fmt.Errorf("%w: entry %s has dimension %d, index expects %d",
				ErrDimensionMismatch, e.ID, len(e.Vector), s.config.VectorSize)
		}
	}

	span.SetAttributes(attribute.String("document_id", documentID))

	mu := s.lockFor(documentID)
	mu.Lock()
	defer mu.Unlock()

	collection, err := s.db.GetOrCreateCollection(s.collectionName(documentID), nil, noEmbed)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: getting collection for %s: %v", ErrIndexUnavailable, documentID, err)
	}

	docs := make([]chromem.Document, len(entries))
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
		docs[i] = chromem.Document{
			ID:        e.ID,
			Content:   e.Text,
			Embedding: e.Vector,
			Metadata: map[string]string{
				"document_id": e.DocumentID,
				"seq":         strconv.Itoa(e.Seq),
				"start":       strconv.Itoa(e.Start),
				"end":         strconv.Itoa(e.End),
			},
		}
	}

	// Drop any previous versions of these ids, then add. Held under the
	// document lock, so queries see the old batch or the new one, never
	// a mix.
	if err := collection.Delete(ctx, nil, nil, ids...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: clearing stale entries for %s: %v", ErrIndexUnavailable, documentID, err)
	}
	if err := collection.AddDocuments(ctx, docs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: adding entries for %s: %v", ErrIndexUnavailable, documentID, err)
	}

	span.SetAttributes(attribute.Int("entries_added", len(docs)))
	span.SetStatus(codes.Ok, "success")

	s.logger.Debug("upserted entries",
		zap.String("document_id", documentID),
		zap.Int("count", len(entries)),
	)

	return nil
}

// Query returns up to k nearest entries of one document, ordered by
// descending similarity with ties broken by ascending sequence index.
func (s *ChromemIndex) Query(ctx context.Context, vector []float32, k int, documentID string) ([]Match, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.Query")
	defer span.End()

	span.SetAttributes(
		attribute.String("document_id", documentID),
		attribute.Int("k", k),
	)

	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	if len(vector) != s.config.VectorSize {
		span.SetStatus(codes.Error, "dimension mismatch")
		return nil, fmt.Errorf("%w: query vector has dimension %d, index expects %d",
			ErrDimensionMismatch, len(vector), s.config.VectorSize)
	}

	mu := s.lockFor(documentID)
	mu.RLock()
	defer mu.RUnlock()

	collection := s.db.GetCollection(s.collectionName(documentID), noEmbed)
	if collection == nil {
		// Unknown or deleted document: k is an upper bound, not a
		// requirement.
		return []Match{}, nil
	}

	count := collection.Count()
	if count == 0 {
		return []Match{}, nil
	}
	if k > count {
		k = count
	}

	results, err := collection.QueryEmbedding(ctx, vector, k, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: querying document %s: %v", ErrIndexUnavailable, documentID, err)
	}

	matches := make([]Match, len(results))
	for i, r := range results {
		matches[i] = Match{
			Entry: Entry{
				ID:         r.ID,
				DocumentID: r.Metadata["document_id"],
				Seq:        atoiMeta(r.Metadata, "seq"),
				Start:      atoiMeta(r.Metadata, "start"),
				End:        atoiMeta(r.Metadata, "end"),
				Text:       r.Content,
				Vector:     r.Embedding,
			},
			Score: r.Similarity,
		}
	}

	// chromem orders by similarity already; re-sort to pin tie order to
	// ascending sequence index for determinism.
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Entry.Seq < matches[j].Entry.Seq
	})

	span.SetAttributes(attribute.Int("results_count", len(matches)))
	span.SetStatus(codes.Ok, "success")

	return matches, nil
}

// DeleteByDocument removes a document's partition and returns the number
// of entries removed. Queries issued afterwards return nothing.
func (s *ChromemIndex) DeleteByDocument(ctx context.Context, documentID string) (int, error) {
	_, span := chromemTracer.Start(ctx, "ChromemIndex.DeleteByDocument")
	defer span.End()

	span.SetAttributes(attribute.String("document_id", documentID))

	mu := s.lockFor(documentID)
	mu.Lock()
	defer mu.Unlock()

	name := s.collectionName(documentID)
	collection := s.db.GetCollection(name, noEmbed)
	if collection == nil {
		span.SetStatus(codes.Ok, "nothing to delete")
		return 0, nil
	}

	removed := collection.Count()
	if err := s.db.DeleteCollection(name); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("%w: deleting document %s: %v", ErrIndexUnavailable, documentID, err)
	}

	span.SetAttributes(attribute.Int("entries_removed", removed))
	span.SetStatus(codes.Ok, "success")

	s.logger.Debug("deleted document entries",
		zap.String("document_id", documentID),
		zap.Int("count", removed),
	)

	return removed, nil
}

// Count returns the number of entries indexed for a document.
func (s *ChromemIndex) Count(ctx context.Context, documentID string) (int, error) {
	mu := s.lockFor(documentID)
	mu.RLock()
	defer mu.RUnlock()

	collection := s.db.GetCollection(s.collectionName(documentID), noEmbed)
	if collection == nil {
		return 0, nil
	}
	return collection.Count(), nil
}

// VectorSize returns the embedding dimension the index accepts.
func (s *ChromemIndex) VectorSize() int {
	return s.config.VectorSize
}

// Close closes the index. chromem persists writes as they happen, so
// there is nothing to flush.
func (s *ChromemIndex) Close() error {
	s.logger.Info("chromem index closed")
	return nil
}

func atoiMeta(metadata map[string]string, key string) int {
	n, _ := strconv.Atoi(metadata[key])
	return n
}

// Ensure ChromemIndex implements Index.
var _ Index = (*ChromemIndex)(nil)
