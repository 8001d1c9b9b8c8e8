package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/zju-rshub/rsagent/pkg/agent"
)

// respondTurnError maps a pipeline failure to an HTTP error response.
// Pre-execution failures carry their own status; anything else is a 500.
func respondTurnError(c *gin.Context, err error) {
	var turnErr *agent.TurnError
	if errors.As(err, &turnErr) {
		c.JSON(turnErr.Status, gin.H{"detail": turnErr.Message})
		return
	}

	slog.Error("Unexpected turn failure", "error", err)
	c.JSON(http.StatusInternalServerError, gin.H{"detail": "internal server error"})
}
