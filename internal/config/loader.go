package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const maxConfigFileSize = 1024 * 1024 // 1MB

// Load reads configuration from an optional YAML file, then overrides
// with LABSUBMITD_-prefixed environment variables.
//
// Precedence (highest to lowest):
//  1. Environment variables (LABSUBMITD_CHUNKING_CHUNK_SIZE, ...)
//  2. YAML config file
//  3. Defaults
//
// Environment variables map to config keys by stripping the prefix,
// lowercasing, and splitting on the first underscore:
//
//	LABSUBMITD_LOGGING_LEVEL       -> logging.level
//	LABSUBMITD_RETRIEVAL_K         -> retrieval.k
//	LABSUBMITD_CHUNKING_CHUNK_SIZE -> chunking.chunk_size
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		content, err := readConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("LABSUBMITD_", ".", func(s string) string {
		lower := strings.ToLower(strings.TrimPrefix(s, "LABSUBMITD_"))
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func readConfigFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	content, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return content, nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Observability.ServiceName == "" {
		cfg.Observability.ServiceName = "labsubmitd"
	}
	if cfg.Observability.OTLPProtocol == "" {
		cfg.Observability.OTLPProtocol = "grpc"
	}
	if cfg.Observability.OTLPEndpoint == "" {
		cfg.Observability.OTLPEndpoint = "localhost:4317"
	}

	if cfg.Chunking.ChunkSize == 0 {
		cfg.Chunking.ChunkSize = 1000
	}
	if cfg.Chunking.ChunkOverlap == 0 {
		cfg.Chunking.ChunkOverlap = 200
	}

	if cfg.Embeddings.Provider == "" {
		cfg.Embeddings.Provider = "fastembed"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "BAAI/bge-small-en-v1.5"
	}
	if cfg.Embeddings.BatchSize == 0 {
		cfg.Embeddings.BatchSize = 32
	}
	if cfg.Embeddings.Concurrency == 0 {
		cfg.Embeddings.Concurrency = 4
	}
	if cfg.Embeddings.Timeout == 0 {
		cfg.Embeddings.Timeout = 30 * time.Second
	}

	if cfg.VectorStore.VectorSize == 0 {
		cfg.VectorStore.VectorSize = 384 // bge-small-en-v1.5 dimensions
	}
	if cfg.VectorStore.CollectionPrefix == "" {
		cfg.VectorStore.CollectionPrefix = "sub"
	}

	if cfg.Retrieval.K == 0 {
		cfg.Retrieval.K = 5
	}

	if len(cfg.LLM.Priority) == 0 {
		cfg.LLM.Priority = []string{"anthropic", "openai", "ollama"}
	}
	if cfg.LLM.Anthropic.APIKey == "" {
		cfg.LLM.Anthropic.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if cfg.LLM.OpenAI.APIKey == "" {
		cfg.LLM.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.BackoffBase == 0 {
		cfg.Retry.BackoffBase = 500 * time.Millisecond
	}

	if cfg.Pipeline.BatchConcurrency == 0 {
		cfg.Pipeline.BatchConcurrency = 4
	}
	if cfg.Pipeline.IndexTimeout == 0 {
		cfg.Pipeline.IndexTimeout = 15 * time.Second
	}
	if cfg.Pipeline.EmbeddingTimeout == 0 {
		cfg.Pipeline.EmbeddingTimeout = cfg.Embeddings.Timeout
	}

	if cfg.Store.Dir == "" {
		cfg.Store.Dir = "./submissions"
	}
}
