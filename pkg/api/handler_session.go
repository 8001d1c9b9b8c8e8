package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/zju-rshub/rsagent/pkg/session"
)

// sessionRequest carries the caller's token for session endpoints.
type sessionRequest struct {
	Token string `json:"token"`
}

func (s *Server) resolveToken(c *gin.Context) (string, bool) {
	var req sessionRequest
	// The body is optional in local mode; ignore binding failures and let
	// the resolver decide.
	_ = c.ShouldBindJSON(&req)

	token, err := s.resolver.Resolve(req.Token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": err.Error()})
		return "", false
	}
	return token, true
}

// listSessionsHandler handles POST /agent/chat/sessions.
func (s *Server) listSessionsHandler(c *gin.Context) {
	token, ok := s.resolveToken(c)
	if !ok {
		return
	}

	sessions, err := s.store.List(c.Request.Context(), token)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "sessions": sessions})
}

// getSessionHandler handles POST /agent/chat/sessions/:chat_id.
func (s *Server) getSessionHandler(c *gin.Context) {
	token, ok := s.resolveToken(c)
	if !ok {
		return
	}
	chatID := c.Param("chat_id")

	sess, err := s.store.Load(c.Request.Context(), token, chatID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"detail": "会话不存在"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"session_data": sess,
		"chat_id":      chatID,
		"chat_title":   sess.Title,
	})
}

// deleteSessionHandler handles DELETE /agent/chat/sessions/:chat_id.
func (s *Server) deleteSessionHandler(c *gin.Context) {
	token, ok := s.resolveToken(c)
	if !ok {
		return
	}
	chatID := c.Param("chat_id")

	if err := s.store.Delete(c.Request.Context(), token, chatID); err != nil {
		c.JSON(http.StatusOK, gin.H{"success": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
