package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/zju-rshub/rsagent/pkg/metrics"
	"github.com/zju-rshub/rsagent/pkg/models"
)

// progressWSHandler upgrades GET /progress/ws/:session_id and serves the
// subscription until the client disconnects.
func (s *Server) progressWSHandler(c *gin.Context) {
	sessionID := c.Param("session_id")

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		// Browser frontends connect cross-origin; auth is carried per
		// request, not per connection.
		InsecureSkipVerify: true,
	})
	if err != nil {
		slog.Warn("WebSocket upgrade failed", "session_id", sessionID, "error", err)
		return
	}

	metrics.ProgressSubscribers.Inc()
	defer metrics.ProgressSubscribers.Dec()

	s.manager.HandleConnection(c.Request.Context(), conn, sessionID)
}

// abortHandler handles POST /progress/abort/:session_id. Idempotent: the
// flag is simply set, whether or not a turn is running.
func (s *Server) abortHandler(c *gin.Context) {
	sessionID := c.Param("session_id")
	s.hub.Abort(sessionID)

	c.JSON(http.StatusOK, gin.H{
		"status":     "success",
		"message":    "已请求中止会话 " + sessionID,
		"session_id": sessionID,
		"timestamp":  time.Now().Format(time.RFC3339),
	})
}

// progressStatusHandler handles GET /progress/status/:session_id with a
// polling snapshot of the session's channel.
func (s *Server) progressStatusHandler(c *gin.Context) {
	sessionID := c.Param("session_id")
	recent := s.hub.Recent(sessionID, 5)

	var latest *models.ProgressEvent
	if evt, ok := s.hub.Latest(sessionID); ok {
		latest = &evt
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id":         sessionID,
		"active_connections": s.manager.SubscriberCount(sessionID),
		"recent_messages":    recent,
		"latest":             latest,
		"aborted":            s.hub.Aborted(sessionID),
	})
}
