package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/labsubmitd/internal/retrypolicy"
)

const (
	defaultAnthropicModel   = "claude-3-5-haiku-latest"
	defaultAnthropicBaseURL = "https://api.anthropic.com"

	// Shared client-side rate limit: requests per second / burst.
	defaultRateLimit = 2.0
	defaultBurst     = 5
)

// anthropicBackend implements Backend using Anthropic's messages API.
type anthropicBackend struct {
	cfg        BackendConfig
	model      string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func newAnthropicBackend(cfg BackendConfig) (Backend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: anthropic API key required", ErrInvalidConfig)
	}
	cfg.applyDefaults()

	model := cfg.Model
	if model == "" {
		model = defaultAnthropicModel
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}

	return &anthropicBackend{
		cfg:     cfg,
		model:   model,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
	}, nil
}

func (a *anthropicBackend) Name() string { return "anthropic" }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
}

type anthropicError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends the prompt to the messages API. Transport failures,
// 429s, and 5xx responses come back marked retryable so the caller's
// policy can back off or fall over to the next backend.
func (a *anthropicBackend) Complete(ctx context.Context, prompt string) (string, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	req := anthropicRequest{
		Model:       a.model,
		MaxTokens:   a.cfg.MaxTokens,
		Temperature: a.cfg.Temperature,
		Messages: []anthropicMessage{
			{Role: "user", Content: prompt},
		},
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", a.cfg.APIKey)
	httpReq.Header.Set("Anthropic-Version", "2023-06-01")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return "", retrypolicy.MarkRetryable(fmt.Errorf("%w: %v", ErrProviderUnavailable, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", retrypolicy.MarkRetryableAfter(
			fmt.Errorf("%w: status 429", ErrRateLimited), retryAfterHeader(resp))
	case resp.StatusCode >= 500:
		return "", retrypolicy.MarkRetryable(
			fmt.Errorf("%w: status %d: %s", ErrProviderUnavailable, resp.StatusCode, string(body)))
	case resp.StatusCode != http.StatusOK:
		var errResp anthropicError
		if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
			return "", fmt.Errorf("API error (%d): %s", resp.StatusCode, errResp.Error.Message)
		}
		return "", fmt.Errorf("API error (%d): %s", resp.StatusCode, string(body))
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if len(parsed.Content) == 0 {
		return "", retrypolicy.MarkRetryable(fmt.Errorf("%w: empty response", ErrProviderUnavailable))
	}
	return parsed.Content[0].Text, nil
}

var _ Backend = (*anthropicBackend)(nil)
