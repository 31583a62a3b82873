// Package config provides configuration loading for labsubmitd.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the daemon.
type Config struct {
	Logging       LoggingConfig       `koanf:"logging"`
	Observability ObservabilityConfig `koanf:"observability"`
	Chunking      ChunkingConfig      `koanf:"chunking"`
	Embeddings    EmbeddingsConfig    `koanf:"embeddings"`
	VectorStore   VectorStoreConfig   `koanf:"vectorstore"`
	Retrieval     RetrievalConfig     `koanf:"retrieval"`
	LLM           LLMConfig           `koanf:"llm"`
	Retry         RetryConfig         `koanf:"retry"`
	Pipeline      PipelineConfig      `koanf:"pipeline"`
	Store         StoreConfig         `koanf:"store"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json or console
}

// ObservabilityConfig controls OpenTelemetry export.
type ObservabilityConfig struct {
	Enabled      bool   `koanf:"enabled"`
	ServiceName  string `koanf:"service_name"`
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPProtocol string `koanf:"otlp_protocol"` // grpc or http
	Insecure     bool   `koanf:"insecure"`
}

// ChunkingConfig controls document splitting.
type ChunkingConfig struct {
	ChunkSize    int `koanf:"chunk_size"`
	ChunkOverlap int `koanf:"chunk_overlap"`
}

// EmbeddingsConfig selects and tunes the embedding provider.
type EmbeddingsConfig struct {
	Provider    string        `koanf:"provider"` // fastembed or remote
	Model       string        `koanf:"model"`
	BaseURL     string        `koanf:"base_url"`
	APIKey      string        `koanf:"api_key"`
	CacheDir    string        `koanf:"cache_dir"`
	BatchSize   int           `koanf:"batch_size"`
	Concurrency int           `koanf:"concurrency"`
	Timeout     time.Duration `koanf:"timeout"`
}

// VectorStoreConfig controls the chromem index.
type VectorStoreConfig struct {
	Path             string `koanf:"path"` // empty for in-memory
	Compress         bool   `koanf:"compress"`
	VectorSize       int    `koanf:"vector_size"`
	CollectionPrefix string `koanf:"collection_prefix"`
}

// RetrievalConfig controls evidence retrieval.
type RetrievalConfig struct {
	K        int  `koanf:"k"`
	PerField bool `koanf:"per_field"`
}

// LLMBackendConfig configures one extraction backend.
type LLMBackendConfig struct {
	APIKey      string        `koanf:"api_key"`
	Model       string        `koanf:"model"`
	BaseURL     string        `koanf:"base_url"`
	Timeout     time.Duration `koanf:"timeout"`
	MaxTokens   int           `koanf:"max_tokens"`
	Temperature float64       `koanf:"temperature"`
}

// LLMConfig configures the extraction backends and their fallback
// order.
type LLMConfig struct {
	Priority  []string         `koanf:"priority"` // e.g. ["anthropic", "openai", "ollama"]
	Anthropic LLMBackendConfig `koanf:"anthropic"`
	OpenAI    LLMBackendConfig `koanf:"openai"`
	Ollama    LLMBackendConfig `koanf:"ollama"`
}

// RetryConfig controls the shared retry policy.
type RetryConfig struct {
	MaxAttempts int           `koanf:"max_attempts"`
	BackoffBase time.Duration `koanf:"backoff_base"`
}

// PipelineConfig tunes the orchestrator.
type PipelineConfig struct {
	ConfidenceWeights map[string]float64 `koanf:"confidence_weights"`
	EmbeddingTimeout  time.Duration      `koanf:"embedding_timeout"`
	IndexTimeout      time.Duration      `koanf:"index_timeout"`
	BatchConcurrency  int                `koanf:"batch_concurrency"`
}

// StoreConfig controls result persistence.
type StoreConfig struct {
	Dir string `koanf:"dir"`
}

// Validate checks cross-field constraints that defaults cannot fix.
func (c *Config) Validate() error {
	if c.Chunking.ChunkOverlap >= c.Chunking.ChunkSize {
		return fmt.Errorf("chunking: overlap %d must be smaller than chunk size %d",
			c.Chunking.ChunkOverlap, c.Chunking.ChunkSize)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging: unknown format %q", c.Logging.Format)
	}
	switch c.Embeddings.Provider {
	case "fastembed", "remote":
	default:
		return fmt.Errorf("embeddings: unknown provider %q", c.Embeddings.Provider)
	}
	if len(c.LLM.Priority) == 0 {
		return fmt.Errorf("llm: at least one backend required in priority")
	}
	for _, name := range c.LLM.Priority {
		switch name {
		case "anthropic", "openai", "ollama":
		default:
			return fmt.Errorf("llm: unknown backend %q in priority", name)
		}
	}
	for _, w := range c.Pipeline.ConfidenceWeights {
		if w < 0 {
			return fmt.Errorf("pipeline: confidence weights must be non-negative")
		}
	}
	return nil
}
