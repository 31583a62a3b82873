package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/fyrsmithlabs/labsubmitd/internal/retrypolicy"
)

const (
	defaultOllamaModel   = "llama3.1:8b"
	defaultOllamaBaseURL = "http://localhost:11434"
)

// ollamaBackend implements Backend against a local Ollama server. No API
// key and no client-side rate limiting; the model is the bottleneck.
type ollamaBackend struct {
	cfg        BackendConfig
	model      string
	baseURL    string
	httpClient *http.Client
}

func newOllamaBackend(cfg BackendConfig) (Backend, error) {
	cfg.applyDefaults()

	model := cfg.Model
	if model == "" {
		model = defaultOllamaModel
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultOllamaBaseURL
	}

	return &ollamaBackend{
		cfg:     cfg,
		model:   model,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}, nil
}

func (o *ollamaBackend) Name() string { return "ollama" }

type ollamaRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Complete sends the prompt to the Ollama generate API.
func (o *ollamaBackend) Complete(ctx context.Context, prompt string) (string, error) {
	req := ollamaRequest{
		Model:  o.model,
		Prompt: prompt,
		Stream: false,
		Options: map[string]any{
			"temperature": o.cfg.Temperature,
			"num_predict": o.cfg.MaxTokens,
		},
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/generate", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return "", retrypolicy.MarkRetryable(fmt.Errorf("%w: %v", ErrProviderUnavailable, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", retrypolicy.MarkRetryable(
			fmt.Errorf("%w: status %d: %s", ErrProviderUnavailable, resp.StatusCode, string(body)))
	}

	var parsed ollamaResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}
	if parsed.Response == "" {
		return "", retrypolicy.MarkRetryable(fmt.Errorf("%w: empty response", ErrProviderUnavailable))
	}
	return parsed.Response, nil
}

var _ Backend = (*ollamaBackend)(nil)
