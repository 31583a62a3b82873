//go:build cgo

package embeddings

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	fastembed "github.com/anush008/fastembed-go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/labsubmitd/internal/retrypolicy"
)

// FastEmbedConfig holds configuration for the FastEmbed provider.
type FastEmbedConfig struct {
	// Model is the embedding model to use.
	// Supported: BAAI/bge-small-en-v1.5 (default), BAAI/bge-base-en-v1.5,
	// sentence-transformers/all-MiniLM-L6-v2, etc.
	Model string

	// CacheDir is the directory to cache model files.
	// Defaults to ./local_cache.
	CacheDir string

	// MaxLength is the maximum input sequence length. Defaults to 512.
	MaxLength int
}

// FastEmbedProvider generates embeddings with a local ONNX model.
type FastEmbedProvider struct {
	model     *fastembed.FlagEmbedding
	modelName string
	dimension int
	metrics   *Metrics
	mu        sync.RWMutex
}

// modelMapping maps friendly model names to fastembed model constants.
var modelMapping = map[string]fastembed.EmbeddingModel{
	"BAAI/bge-small-en-v1.5":                 fastembed.BGESmallENV15,
	"BAAI/bge-small-en":                      fastembed.BGESmallEN,
	"BAAI/bge-base-en-v1.5":                  fastembed.BGEBaseENV15,
	"BAAI/bge-base-en":                       fastembed.BGEBaseEN,
	"sentence-transformers/all-MiniLM-L6-v2": fastembed.AllMiniLML6V2,
}

// modelDimensions maps fastembed models to their embedding dimensions.
var modelDimensions = map[fastembed.EmbeddingModel]int{
	fastembed.BGESmallENV15: 384,
	fastembed.BGESmallEN:    384,
	fastembed.BGEBaseENV15:  768,
	fastembed.BGEBaseEN:     768,
	fastembed.AllMiniLML6V2: 384,
}

// fastEmbedModelDimension returns the dimension for a known model name.
func fastEmbedModelDimension(model string) (int, bool) {
	m, ok := modelMapping[model]
	if !ok {
		return 0, false
	}
	return modelDimensions[m], true
}

// NewFastEmbedProvider creates a local embedding provider. The model is
// downloaded into CacheDir on first use.
func NewFastEmbedProvider(cfg FastEmbedConfig) (*FastEmbedProvider, error) {
	modelName := cfg.Model
	if modelName == "" {
		modelName = "BAAI/bge-small-en-v1.5"
	}

	model, ok := modelMapping[modelName]
	if !ok {
		model = fastembed.EmbeddingModel(modelName)
		if _, known := modelDimensions[model]; !known {
			return nil, fmt.Errorf("%w: unsupported model %q", ErrInvalidConfig, modelName)
		}
	}

	cacheDir := cfg.CacheDir
	if cacheDir == "" {
		cacheDir = filepath.Join(".", "local_cache")
	}
	maxLength := cfg.MaxLength
	if maxLength == 0 {
		maxLength = 512
	}

	showProgress := false
	flagEmbed, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:                model,
		CacheDir:             cacheDir,
		MaxLength:            maxLength,
		ShowDownloadProgress: &showProgress,
	})
	if err != nil {
		return nil, retrypolicy.MarkRetryable(
			fmt.Errorf("%w: initializing fastembed: %v", ErrProviderUnavailable, err))
	}

	return &FastEmbedProvider{
		model:     flagEmbed,
		modelName: modelName,
		dimension: modelDimensions[model],
		metrics:   NewMetrics(zap.NewNop()),
	}, nil
}

// EmbedDocuments generates embeddings for multiple texts. Uses the
// "passage: " prefix recommended for BGE document embeddings.
func (p *FastEmbedProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	var genErr error
	defer func() {
		p.metrics.RecordGeneration(ctx, p.modelName, "embed_documents", time.Since(start), len(texts), genErr)
	}()

	if len(texts) == 0 {
		genErr = fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
		return nil, genErr
	}
	if err := ctx.Err(); err != nil {
		genErr = err
		return nil, genErr
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	vectors, err := p.model.PassageEmbed(texts, 256)
	if err != nil {
		genErr = retrypolicy.MarkRetryable(fmt.Errorf("%w: %v", ErrProviderUnavailable, err))
		return nil, genErr
	}
	return vectors, nil
}

// EmbedQuery generates an embedding for a single query. QueryEmbed adds
// the "query: " prefix automatically.
func (p *FastEmbedProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	var genErr error
	defer func() {
		p.metrics.RecordGeneration(ctx, p.modelName, "embed_query", time.Since(start), 1, genErr)
	}()

	if text == "" {
		genErr = fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
		return nil, genErr
	}
	if err := ctx.Err(); err != nil {
		genErr = err
		return nil, genErr
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	vector, err := p.model.QueryEmbed(text)
	if err != nil {
		genErr = retrypolicy.MarkRetryable(fmt.Errorf("%w: %v", ErrProviderUnavailable, err))
		return nil, genErr
	}
	return vector, nil
}

// Dimension returns the embedding dimension for the current model.
func (p *FastEmbedProvider) Dimension() int {
	return p.dimension
}

// Close releases the ONNX model.
func (p *FastEmbedProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.model != nil {
		return p.model.Destroy()
	}
	return nil
}

var _ Provider = (*FastEmbedProvider)(nil)
