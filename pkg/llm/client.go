// Package llm provides the outbound text-completion client against an
// OpenAI-compatible chat-completions API.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/zju-rshub/rsagent/pkg/config"
)

// Options overrides per-call generation parameters. Nil fields fall back to
// the client's configured defaults.
type Options struct {
	Model       string
	Temperature *float64
	MaxTokens   int
}

// Client is the text-completion operation consumed by the orchestrator,
// classifier, and workflows.
type Client interface {
	// Generate sends one completion request and returns the response text.
	Generate(ctx context.Context, human, system string, opts *Options) (string, error)
}

// HTTPClient talks to an OpenAI-compatible /chat/completions endpoint.
type HTTPClient struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	timeout     time.Duration
	httpClient  *http.Client
}

// NewHTTPClient creates a client from LLM settings.
func NewHTTPClient(cfg config.LLMSettings) *HTTPClient {
	return &HTTPClient{
		baseURL:     cfg.BaseURL,
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.Timeout,
		httpClient:  &http.Client{},
	}
}

// completionsURL builds the chat completions endpoint from the base URL.
func (c *HTTPClient) completionsURL() string {
	base := strings.TrimSuffix(c.baseURL, "/")
	if strings.HasSuffix(base, "/chat/completions") {
		return base
	}
	return base + "/chat/completions"
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiRequest struct {
	Model       string       `json:"model"`
	Messages    []apiMessage `json:"messages"`
	Temperature *float64     `json:"temperature,omitempty"`
	MaxTokens   *int         `json:"max_tokens,omitempty"`
}

type apiResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Generate implements Client. Each call carries its own timeout; the
// returned error classifies through ClassifyError.
func (c *HTTPClient) Generate(ctx context.Context, human, system string, opts *Options) (string, error) {
	model := c.model
	temperature := c.temperature
	maxTokens := c.maxTokens
	if opts != nil {
		if opts.Model != "" {
			model = opts.Model
		}
		if opts.Temperature != nil {
			temperature = *opts.Temperature
		}
		if opts.MaxTokens > 0 {
			maxTokens = opts.MaxTokens
		}
	}

	messages := make([]apiMessage, 0, 2)
	if system != "" {
		messages = append(messages, apiMessage{Role: "system", Content: system})
	}
	messages = append(messages, apiMessage{Role: "user", Content: human})

	reqBody := apiRequest{
		Model:       model,
		Messages:    messages,
		Temperature: &temperature,
	}
	if maxTokens > 0 {
		reqBody.MaxTokens = &maxTokens
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal completion request: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.completionsURL(), bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read completion response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var parsed apiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse completion response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("completion response has no choices")
	}

	slog.Debug("LLM completion",
		"model", model,
		"duration_ms", time.Since(start).Milliseconds(),
		"total_tokens", parsed.Usage.TotalTokens)

	return parsed.Choices[0].Message.Content, nil
}
