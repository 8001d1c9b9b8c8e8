// Package rshub is the client for the remote simulation service: task
// submission, completion polling, and result loading.
package rshub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// SubmitSuccess is the literal response the service returns for an
// accepted submission; anything else is a failure.
const SubmitSuccess = "Job submitted!"

// CompletionState classifies a completion-poll response.
type CompletionState int

const (
	// StateRunning means the tasks are still in progress.
	StateRunning CompletionState = iota
	// StateCompleted means every task in the project finished.
	StateCompleted
	// StateFailed is terminal; polling must stop.
	StateFailed
)

// ClassifyCompletion maps a poll response onto a state by the service's
// literal status substrings.
func ClassifyCompletion(status string) CompletionState {
	if strings.Contains(status, "Jobs are failed") {
		return StateFailed
	}
	if strings.Contains(status, "Jobs are completed") {
		return StateCompleted
	}
	return StateRunning
}

// ResultRequest identifies one task output to load.
type ResultRequest struct {
	Token     string   `json:"token"`
	Project   string   `json:"project_name"`
	Task      string   `json:"task_name"`
	FreqGHz   float64  `json:"freq"`
	Scenario  string   `json:"scenario"`
	OutputVar string   `json:"output_var"`
	AngleDeg  *float64 `json:"angle,omitempty"`
}

// Result holds one task's loaded output. A task succeeded when its error
// message is empty and its outputs load.
type Result struct {
	ErrorMessage string         `json:"error_message"`
	Outputs      map[string]any `json:"outputs"`
}

// Client is the simulation service surface the workflows consume.
type Client interface {
	// Submit sends one flat parameter map as a task. The returned string
	// equals SubmitSuccess on acceptance.
	Submit(ctx context.Context, data map[string]any) (string, error)
	// CheckCompletion returns the raw status text for a project's tasks.
	CheckCompletion(ctx context.Context, token, project, task string) (string, error)
	// LoadResult fetches one task's outputs and error message.
	LoadResult(ctx context.Context, req ResultRequest) (*Result, error)
}

// HTTPClient talks to the simulation service over HTTP.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPClient creates a client against the service base URL.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal rshub request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build rshub request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("rshub request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rshub returned status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse rshub response: %w", err)
	}
	return nil
}

// Submit implements Client.
func (c *HTTPClient) Submit(ctx context.Context, data map[string]any) (string, error) {
	var resp struct {
		Result string `json:"result"`
	}
	if err := c.post(ctx, "/api/submit-task", data, &resp); err != nil {
		return "", err
	}
	return resp.Result, nil
}

// CheckCompletion implements Client.
func (c *HTTPClient) CheckCompletion(ctx context.Context, token, project, task string) (string, error) {
	var resp struct {
		Status string `json:"status"`
	}
	body := map[string]string{
		"token":        token,
		"project_name": project,
		"task_name":    task,
	}
	if err := c.post(ctx, "/api/check-completion", body, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// LoadResult implements Client.
func (c *HTTPClient) LoadResult(ctx context.Context, req ResultRequest) (*Result, error) {
	var resp Result
	if err := c.post(ctx, "/api/load-file", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
