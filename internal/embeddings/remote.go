package embeddings

import (
	"context"
	"fmt"
	"strings"
	"time"

	lcembeddings "github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/labsubmitd/internal/retrypolicy"
)

// rateLimitDelay is the fallback wait when a provider rate-limits us
// without saying for how long.
const rateLimitDelay = 2 * time.Second

// RemoteConfig holds configuration for the remote embedding provider.
type RemoteConfig struct {
	// BaseURL is the endpoint URL.
	// For TEI: http://localhost:8080/v1
	// For OpenAI: https://api.openai.com/v1
	BaseURL string

	// Model is the embedding model to use.
	// For TEI: BAAI/bge-small-en-v1.5
	// For OpenAI: text-embedding-3-small
	Model string

	// APIKey is the API key (required for OpenAI, optional for TEI).
	APIKey string
}

// Validate validates the configuration.
func (c RemoteConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	return nil
}

// RemoteProvider generates embeddings through any OpenAI-compatible
// endpoint via langchaingo.
type RemoteProvider struct {
	embedder  lcembeddings.Embedder
	config    RemoteConfig
	dimension int
	metrics   *Metrics
}

// NewRemoteProvider creates a remote embedding provider.
func NewRemoteProvider(config RemoteConfig) (*RemoteProvider, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	apiKey := config.APIKey
	if apiKey == "" {
		// langchaingo requires a token; TEI ignores it.
		apiKey = "placeholder"
	}

	llm, err := openai.New(
		openai.WithBaseURL(config.BaseURL),
		openai.WithModel(config.Model),
		openai.WithToken(apiKey),
	)
	if err != nil {
		return nil, fmt.Errorf("creating openai client: %w", err)
	}

	embedder, err := lcembeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	return &RemoteProvider{
		embedder:  embedder,
		config:    config,
		dimension: detectDimensionFromModel(config.Model),
		metrics:   NewMetrics(zap.NewNop()),
	}, nil
}

// EmbedDocuments generates embeddings for multiple texts.
func (p *RemoteProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	var genErr error
	defer func() {
		p.metrics.RecordGeneration(ctx, p.config.Model, "embed_documents", time.Since(start), len(texts), genErr)
	}()

	if len(texts) == 0 {
		genErr = fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
		return nil, genErr
	}

	vectors, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		genErr = classifyRemoteError(err)
		return nil, genErr
	}
	return vectors, nil
}

// EmbedQuery generates an embedding for a single query.
func (p *RemoteProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	var genErr error
	defer func() {
		p.metrics.RecordGeneration(ctx, p.config.Model, "embed_query", time.Since(start), 1, genErr)
	}()

	if text == "" {
		genErr = fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
		return nil, genErr
	}

	vector, err := p.embedder.EmbedQuery(ctx, text)
	if err != nil {
		genErr = classifyRemoteError(err)
		return nil, genErr
	}
	return vector, nil
}

// Dimension returns the embedding dimension based on the configured model.
func (p *RemoteProvider) Dimension() int {
	return p.dimension
}

// Close is a no-op: the provider holds no connection state.
func (p *RemoteProvider) Close() error {
	return nil
}

// classifyRemoteError maps a transport error onto the provider error
// taxonomy. Both classes are transient; rate limits additionally carry a
// wait hint for the retry policy.
func classifyRemoteError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "429") || strings.Contains(strings.ToLower(msg), "rate limit") {
		return retrypolicy.MarkRetryableAfter(
			fmt.Errorf("%w: %v", ErrRateLimited, err), rateLimitDelay)
	}
	return retrypolicy.MarkRetryable(fmt.Errorf("%w: %v", ErrProviderUnavailable, err))
}

var _ Provider = (*RemoteProvider)(nil)
