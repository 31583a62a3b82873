// Package llm provides structured-field extraction over interchangeable
// LLM backends with a configured fallback order.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for LLM operations.
var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrProviderUnavailable indicates a network or server failure.
	// Retryable with backoff, then triggers backend fallback.
	ErrProviderUnavailable = errors.New("llm backend unavailable")

	// ErrRateLimited indicates the backend asked us to slow down.
	ErrRateLimited = errors.New("llm backend rate limited")

	// ErrParseFailure indicates a structured response that could not be
	// parsed even after one repair attempt. Treated as backend failure:
	// the extractor falls back to the next configured backend.
	ErrParseFailure = errors.New("llm response parse failure")

	// ErrAllBackendsFailed indicates every configured backend failed for
	// an extraction call.
	ErrAllBackendsFailed = errors.New("all llm backends failed")
)

// Backend generates a completion for a prompt. Implementations handle
// their own rate limiting and timeouts; retry and fallback policy lives
// with the caller.
type Backend interface {
	// Name identifies the backend in results and logs.
	Name() string

	// Complete generates a completion for the prompt.
	Complete(ctx context.Context, prompt string) (string, error)
}

// BackendConfig holds configuration for a single LLM backend.
type BackendConfig struct {
	// APIKey authenticates remote backends. Unused by ollama.
	APIKey string

	// Model is the model name. Each backend has a sensible default.
	Model string

	// BaseURL overrides the backend's default endpoint.
	BaseURL string

	// Timeout bounds each HTTP call. Default 60s.
	Timeout time.Duration

	// MaxTokens bounds the response length. Default 2000.
	MaxTokens int

	// Temperature controls sampling. Extraction wants it low; default 0.1.
	Temperature float64
}

func (c *BackendConfig) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 2000
	}
	if c.Temperature == 0 {
		c.Temperature = 0.1
	}
}

// NewBackend creates a backend by name: "anthropic", "openai", "ollama".
func NewBackend(name string, cfg BackendConfig) (Backend, error) {
	switch name {
	case "anthropic":
		return newAnthropicBackend(cfg)
	case "openai":
		return newOpenAIBackend(cfg)
	case "ollama":
		return newOllamaBackend(cfg)
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, name)
	}
}

// NewBackends creates the backend chain in the given priority order.
func NewBackends(priority []string, configs map[string]BackendConfig) ([]Backend, error) {
	if len(priority) == 0 {
		return nil, fmt.Errorf("%w: backend priority list is empty", ErrInvalidConfig)
	}
	backends := make([]Backend, 0, len(priority))
	for _, name := range priority {
		b, err := NewBackend(name, configs[name])
		if err != nil {
			return nil, fmt.Errorf("creating backend %q: %w", name, err)
		}
		backends = append(backends, b)
	}
	return backends, nil
}
