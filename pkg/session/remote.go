package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/zju-rshub/rsagent/pkg/models"
)

// RemoteStore is the remote session backend, authoritative in production
// mode. All operations are keyed by (token, chat id).
type RemoteStore interface {
	Save(ctx context.Context, token string, sess *models.ChatSession) error
	Load(ctx context.Context, token, sessionID string) (*models.ChatSession, error)
	ListIDs(ctx context.Context, token string) ([]string, error)
	Delete(ctx context.Context, token, sessionID string) error
}

// RemoteClient talks to the user-service chat endpoints.
type RemoteClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewRemoteClient creates a client against the user API base URL.
func NewRemoteClient(baseURL string, timeout time.Duration) *RemoteClient {
	return &RemoteClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Save uploads the session as a multipart JSON document. The endpoint may
// answer with an empty body, which counts as success.
func (c *RemoteClient) Save(ctx context.Context, token string, sess *models.ChatSession) error {
	doc, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", "session.json")
	if err != nil {
		return fmt.Errorf("failed to build multipart body: %w", err)
	}
	if _, err := part.Write(doc); err != nil {
		return fmt.Errorf("failed to write multipart body: %w", err)
	}
	if err := writer.WriteField("token", token); err != nil {
		return fmt.Errorf("failed to write multipart field: %w", err)
	}
	if err := writer.WriteField("chatid", sess.SessionID); err != nil {
		return fmt.Errorf("failed to write multipart field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/create-update-chat", &body)
	if err != nil {
		return fmt.Errorf("failed to build save request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("save session request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read save response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("save session returned status %d: %s", resp.StatusCode, data)
	}

	// Empty or informal success responses count as success.
	text := strings.TrimSpace(string(data))
	if text == "" {
		return nil
	}
	var result struct {
		Result bool `json:"result"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		lower := strings.ToLower(text)
		if strings.Contains(lower, "success") || strings.Contains(lower, "ok") {
			return nil
		}
		return fmt.Errorf("save session returned unexpected response: %.200s", text)
	}
	if !result.Result {
		return fmt.Errorf("save session rejected by remote store")
	}
	return nil
}

// Load retrieves one session document. An empty response means the session
// does not exist.
func (c *RemoteClient) Load(ctx context.Context, token, sessionID string) (*models.ChatSession, error) {
	payload, _ := json.Marshal(map[string]string{"token": token, "chatid": sessionID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/retrieve-chat", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build load request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("load session request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read load response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("load session returned status %d", resp.StatusCode)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrNotFound
	}

	var sess models.ChatSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to parse remote session: %w", err)
	}
	if sess.SessionID == "" {
		return nil, ErrNotFound
	}
	return &sess, nil
}

// ListIDs returns all chat ids stored for the token.
func (c *RemoteClient) ListIDs(ctx context.Context, token string) ([]string, error) {
	payload, _ := json.Marshal(map[string]string{"token": token})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/list-chats", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build list request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list sessions request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list sessions returned status %d", resp.StatusCode)
	}

	var result struct {
		ChatIDs []string `json:"chatids"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to parse list response: %w", err)
	}
	return result.ChatIDs, nil
}

// Delete removes one session from the remote store.
func (c *RemoteClient) Delete(ctx context.Context, _ string, sessionID string) error {
	payload, _ := json.Marshal(map[string]string{"chatid": sessionID})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/delete-chat", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build delete request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("delete session request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("delete session returned status %d", resp.StatusCode)
	}

	var result struct {
		Result       bool   `json:"result"`
		ErrorMessage string `json:"error_message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("failed to parse delete response: %w", err)
	}
	if !result.Result {
		return fmt.Errorf("delete session rejected: %s", result.ErrorMessage)
	}
	return nil
}
