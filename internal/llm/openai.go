package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/labsubmitd/internal/retrypolicy"
)

const (
	defaultOpenAIModel   = "gpt-4o-mini"
	defaultOpenAIBaseURL = "https://api.openai.com"

	fallbackRetryAfter = 2 * time.Second
)

// openAIBackend implements Backend using OpenAI's chat completions API.
type openAIBackend struct {
	cfg        BackendConfig
	model      string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func newOpenAIBackend(cfg BackendConfig) (Backend, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: openai API key required", ErrInvalidConfig)
	}
	cfg.applyDefaults()

	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}

	return &openAIBackend{
		cfg:     cfg,
		model:   model,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(defaultRateLimit), defaultBurst),
	}, nil
}

func (o *openAIBackend) Name() string { return "openai" }

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature"`
	Messages    []openAIMessage `json:"messages"`
}

type openAIResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
}

type openAIError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends the prompt to the chat completions API.
func (o *openAIBackend) Complete(ctx context.Context, prompt string) (string, error) {
	if err := o.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}

	req := openAIRequest{
		Model:       o.model,
		MaxTokens:   o.cfg.MaxTokens,
		Temperature: o.cfg.Temperature,
		Messages: []openAIMessage{
			{Role: "user", Content: prompt},
		},
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/v1/chat/completions", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)

	resp, err := o.httpClient.Do(httpReq)
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
		var errResp openAIError
		if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
			return "", fmt.Errorf("API error (%d): %s", resp.StatusCode, errResp.Error.Message)
		}
		return "", fmt.Errorf("API error (%d): %s", resp.StatusCode, string(body))
	}

	var parsed openAIResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", retrypolicy.MarkRetryable(fmt.Errorf("%w: empty response", ErrProviderUnavailable))
	}
	return parsed.Choices[0].Message.Content, nil
}

// retryAfterHeader reads the Retry-After header as seconds, falling back
// to a fixed delay when absent or malformed.
func retryAfterHeader(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return fallbackRetryAfter
}

var _ Backend = (*openAIBackend)(nil)
