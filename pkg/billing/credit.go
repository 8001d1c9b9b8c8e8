package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// CreditResult is the outcome of a credit update.
type CreditResult struct {
	OK        bool
	Message   string
	Remaining int // -1 when the remote balance is unknown
}

// CreditAPI is the remote credit service consumed by settlement and the
// preflight check.
type CreditAPI interface {
	// Check reports whether the account's balance covers the given amount.
	Check(ctx context.Context, token string, credits int) (bool, string, error)
	// Update applies a signed credit delta (negative deducts).
	Update(ctx context.Context, token string, delta int) (*CreditResult, error)
}

// CreditClient talks to the user-service credit endpoints.
type CreditClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewCreditClient creates a client against the user API base URL with the
// given per-call timeout.
func NewCreditClient(baseURL string, timeout time.Duration) *CreditClient {
	return &CreditClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type creditRequest struct {
	Token   string `json:"token"`
	Credits int    `json:"credits"`
}

type checkResponse struct {
	Logic   bool   `json:"logic"`
	Message string `json:"message"`
}

type updateResponse struct {
	Result  bool   `json:"result"`
	Message string `json:"message"`
	Credits *int   `json:"credits"`
}

func (c *CreditClient) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal credit request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build credit request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("credit request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read credit response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("credit api returned status %d: %s", resp.StatusCode, data)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse credit response: %w", err)
	}
	return nil
}

// Check implements CreditAPI.
func (c *CreditClient) Check(ctx context.Context, token string, credits int) (bool, string, error) {
	var resp checkResponse
	err := c.post(ctx, "/api/Check-credits", creditRequest{Token: token, Credits: credits}, &resp)
	if err != nil {
		return false, "", err
	}
	return resp.Logic, resp.Message, nil
}

// Update implements CreditAPI.
func (c *CreditClient) Update(ctx context.Context, token string, delta int) (*CreditResult, error) {
	var resp updateResponse
	err := c.post(ctx, "/api/Update-credits", creditRequest{Token: token, Credits: delta}, &resp)
	if err != nil {
		return nil, err
	}

	remaining := -1
	if resp.Credits != nil {
		remaining = *resp.Credits
	}
	return &CreditResult{
		OK:        resp.Result,
		Message:   resp.Message,
		Remaining: remaining,
	}, nil
}
