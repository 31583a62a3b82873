package main

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/labsubmitd/internal/chunker"
	"github.com/fyrsmithlabs/labsubmitd/internal/config"
	"github.com/fyrsmithlabs/labsubmitd/internal/embeddings"
	"github.com/fyrsmithlabs/labsubmitd/internal/llm"
	"github.com/fyrsmithlabs/labsubmitd/internal/logging"
	"github.com/fyrsmithlabs/labsubmitd/internal/pipeline"
	"github.com/fyrsmithlabs/labsubmitd/internal/retrieval"
	"github.com/fyrsmithlabs/labsubmitd/internal/retrypolicy"
	"github.com/fyrsmithlabs/labsubmitd/internal/submission"
	"github.com/fyrsmithlabs/labsubmitd/internal/telemetry"
	"github.com/fyrsmithlabs/labsubmitd/internal/vectorstore"
)

// app holds the wired pipeline and its collaborators for one command
// invocation.
type app struct {
	cfg          *config.Config
	logger       *zap.Logger
	orchestrator *pipeline.Orchestrator
	store        *submission.JSONStore
	embedder     embeddings.Provider
	index        *vectorstore.ChromemIndex
	telemetry    *telemetry.Provider
}

// newApp loads configuration and builds the full pipeline.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Observability.Enabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: version,
		Endpoint:       cfg.Observability.OTLPEndpoint,
		Protocol:       cfg.Observability.OTLPProtocol,
		Insecure:       cfg.Observability.Insecure,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("setting up telemetry: %w", err)
	}

	logger.Debug("configuration loaded",
		zap.String("embeddings_provider", cfg.Embeddings.Provider),
		zap.Strings("llm_priority", cfg.LLM.Priority),
		logging.RedactedString("anthropic_api_key", cfg.LLM.Anthropic.APIKey),
		logging.RedactedString("openai_api_key", cfg.LLM.OpenAI.APIKey),
	)

	ck, err := chunker.New(chunker.Config{
		ChunkSize: cfg.Chunking.ChunkSize,
		Overlap:   cfg.Chunking.ChunkOverlap,
	})
	if err != nil {
		return nil, err
	}

	embedder, err := embeddings.NewProvider(embeddings.ProviderConfig{
		Provider: cfg.Embeddings.Provider,
		Model:    cfg.Embeddings.Model,
		BaseURL:  cfg.Embeddings.BaseURL,
		APIKey:   cfg.Embeddings.APIKey,
		CacheDir: cfg.Embeddings.CacheDir,
	})
	if err != nil {
		return nil, fmt.Errorf("creating embedding provider: %w", err)
	}

	index, err := vectorstore.NewChromemIndex(vectorstore.ChromemConfig{
		Path:             cfg.VectorStore.Path,
		Compress:         cfg.VectorStore.Compress,
		VectorSize:       cfg.VectorStore.VectorSize,
		CollectionPrefix: cfg.VectorStore.CollectionPrefix,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating vector index: %w", err)
	}

	retriever := retrieval.New(embedder, index, logger)

	backends, err := llm.NewBackends(cfg.LLM.Priority, map[string]llm.BackendConfig{
		"anthropic": backendConfig(cfg.LLM.Anthropic),
		"openai":    backendConfig(cfg.LLM.OpenAI),
		"ollama":    backendConfig(cfg.LLM.Ollama),
	})
	if err != nil {
		return nil, fmt.Errorf("creating LLM backends: %w", err)
	}

	retry := retrypolicy.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseBackoff: cfg.Retry.BackoffBase,
	}

	extractor, err := llm.NewExtractor(backends, llm.ExtractorConfig{Retry: retry}, logger)
	if err != nil {
		return nil, err
	}

	orch, err := pipeline.New(ck, embedder, index, retriever, extractor, pipeline.Config{
		RetrievalK:        cfg.Retrieval.K,
		PerFieldRetrieval: cfg.Retrieval.PerField,
		EmbedBatchSize:    cfg.Embeddings.BatchSize,
		EmbedConcurrency:  cfg.Embeddings.Concurrency,
		ConfidenceWeights: cfg.Pipeline.ConfidenceWeights,
		Retry:             retry,
		EmbeddingTimeout:  cfg.Pipeline.EmbeddingTimeout,
		IndexTimeout:      cfg.Pipeline.IndexTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}

	store, err := submission.NewJSONStore(cfg.Store.Dir, logger)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:          cfg,
		logger:       logger,
		orchestrator: orch,
		store:        store,
		embedder:     embedder,
		index:        index,
		telemetry:    tel,
	}, nil
}

func backendConfig(c config.LLMBackendConfig) llm.BackendConfig {
	return llm.BackendConfig{
		APIKey:      c.APIKey,
		Model:       c.Model,
		BaseURL:     c.BaseURL,
		Timeout:     c.Timeout,
		MaxTokens:   c.MaxTokens,
		Temperature: c.Temperature,
	}
}

// close releases provider and index resources and flushes telemetry.
func (a *app) close() {
	if err := a.embedder.Close(); err != nil {
		a.logger.Warn("closing embedding provider", zap.Error(err))
	}
	if err := a.index.Close(); err != nil {
		a.logger.Warn("closing vector index", zap.Error(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.telemetry.Shutdown(ctx); err != nil {
		a.logger.Warn("shutting down telemetry", zap.Error(err))
	}
	_ = a.logger.Sync()
}
