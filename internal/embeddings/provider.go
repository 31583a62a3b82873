// Package embeddings provides embedding generation via multiple providers.
//
// Two backends are supported: a local ONNX model via fastembed (default,
// requires CGO) and any OpenAI-compatible remote endpoint (TEI, OpenAI)
// via langchaingo. Callers depend only on the Provider interface.
package embeddings

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/labsubmitd/internal/vectorstore"
)

// Sentinel errors for embedding generation.
var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrProviderUnavailable indicates a network or model-load failure.
	// Retryable with backoff.
	ErrProviderUnavailable = errors.New("embedding provider unavailable")

	// ErrRateLimited indicates the provider asked us to slow down.
	// Retryable after the provider-specified delay.
	ErrRateLimited = errors.New("embedding provider rate limited")
)

// Provider is the interface for embedding providers.
type Provider interface {
	vectorstore.Embedder
	// Dimension returns the embedding dimension for the current model.
	Dimension() int
	// Close releases resources held by the provider.
	Close() error
}

// ProviderConfig holds configuration for creating an embedding provider.
type ProviderConfig struct {
	// Provider is the provider type: "fastembed" or "remote".
	Provider string
	// Model is the embedding model name.
	Model string
	// BaseURL is the remote endpoint URL (remote provider only).
	BaseURL string
	// APIKey is the remote API key (remote provider only, optional for TEI).
	APIKey string
	// CacheDir is the model cache directory (fastembed only).
	CacheDir string
}

// NewProvider creates an embedding provider based on the configuration.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	switch cfg.Provider {
	case "fastembed", "":
		return NewFastEmbedProvider(FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: cfg.CacheDir,
		})
	case "remote":
		return NewRemoteProvider(RemoteConfig{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			APIKey:  cfg.APIKey,
		})
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}

// detectDimensionFromModel returns the embedding dimension for a model
// name, falling back to 384 for unknown small models.
func detectDimensionFromModel(model string) int {
	if dim, ok := fastEmbedModelDimension(model); ok {
		return dim
	}
	switch {
	case strings.Contains(model, "text-embedding-3-large"):
		return 3072
	case strings.Contains(model, "text-embedding"):
		return 1536
	case strings.Contains(model, "large"):
		return 1024
	case strings.Contains(model, "base"):
		return 768
	default:
		return 384
	}
}
