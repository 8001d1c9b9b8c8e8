package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zju-rshub/rsagent/pkg/models"
)

func seedSession(t *testing.T, fx *serverFixture, chatID, title string) {
	t.Helper()
	require.NoError(t, fx.remote.Save(context.Background(), "local-test-token", &models.ChatSession{
		SessionID: chatID,
		Title:     title,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
		Messages: []models.ChatMessage{
			{Role: models.RoleUser, Content: "问题", Timestamp: time.Now()},
			{Role: models.RoleAssistant, Content: "回答", Timestamp: time.Now()},
		},
	}))
}

func TestListSessions(t *testing.T) {
	fx := newTestServer(t)
	seedSession(t, fx, "1700000000001", "第一段对话")
	seedSession(t, fx, "1700000000002", "第二段对话")

	rec := doJSON(t, fx.server, http.MethodPost, "/agent/chat/sessions", `{}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Success  bool                    `json:"success"`
		Sessions []models.SessionSummary `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Len(t, body.Sessions, 2)
}

func TestGetSession(t *testing.T) {
	fx := newTestServer(t)
	seedSession(t, fx, "1700000000001", "第一段对话")

	rec := doJSON(t, fx.server, http.MethodPost, "/agent/chat/sessions/1700000000001", `{}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Success     bool               `json:"success"`
		ChatID      string             `json:"chat_id"`
		ChatTitle   string             `json:"chat_title"`
		SessionData models.ChatSession `json:"session_data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Equal(t, "1700000000001", body.ChatID)
	assert.Equal(t, "第一段对话", body.ChatTitle)
	assert.Len(t, body.SessionData.Messages, 2)
}

func TestGetSession_NotFound(t *testing.T) {
	fx := newTestServer(t)

	rec := doJSON(t, fx.server, http.MethodPost, "/agent/chat/sessions/nope", `{}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "会话不存在")
}

func TestDeleteSession(t *testing.T) {
	fx := newTestServer(t)
	seedSession(t, fx, "1700000000001", "要删除的对话")

	rec := doJSON(t, fx.server, http.MethodDelete, "/agent/chat/sessions/1700000000001", `{}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":true`)

	rec = doJSON(t, fx.server, http.MethodPost, "/agent/chat/sessions/1700000000001", `{}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
