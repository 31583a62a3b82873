//go:build !cgo

package embeddings

import (
	"context"
	"errors"
)

// ErrFastEmbedNotAvailable is returned when the binary was built without
// CGO. Use the remote provider instead.
var ErrFastEmbedNotAvailable = errors.New("fastembed: not available (built without CGO, use the remote provider)")

// FastEmbedConfig holds configuration for the FastEmbed provider.
type FastEmbedConfig struct {
	Model     string
	CacheDir  string
	MaxLength int
}

// FastEmbedProvider is a stub for non-CGO builds.
type FastEmbedProvider struct{}

// NewFastEmbedProvider returns an error when CGO is not available.
func NewFastEmbedProvider(_ FastEmbedConfig) (*FastEmbedProvider, error) {
	return nil, ErrFastEmbedNotAvailable
}

// EmbedDocuments returns an error when CGO is not available.
func (p *FastEmbedProvider) EmbedDocuments(_ context.Context, _ []string) ([][]float32, error) {
	return nil, ErrFastEmbedNotAvailable
}

// EmbedQuery returns an error when CGO is not available.
func (p *FastEmbedProvider) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	return nil, ErrFastEmbedNotAvailable
}

// Dimension returns 0 when CGO is not available.
func (p *FastEmbedProvider) Dimension() int { return 0 }

// Close is a no-op when CGO is not available.
func (p *FastEmbedProvider) Close() error { return nil }

// fastEmbedModelDimension returns dimensions for known models without
// loading them.
func fastEmbedModelDimension(model string) (int, bool) {
	dims := map[string]int{
		"BAAI/bge-small-en-v1.5":                 384,
		"BAAI/bge-small-en":                      384,
		"BAAI/bge-base-en-v1.5":                  768,
		"BAAI/bge-base-en":                       768,
		"sentence-transformers/all-MiniLM-L6-v2": 384,
	}
	d, ok := dims[model]
	return d, ok
}
