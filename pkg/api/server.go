// Package api exposes the HTTP surface: the chat endpoints, the progress
// WebSocket, session management, health, and metrics.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/zju-rshub/rsagent/pkg/agent"
	"github.com/zju-rshub/rsagent/pkg/auth"
	"github.com/zju-rshub/rsagent/pkg/config"
	"github.com/zju-rshub/rsagent/pkg/metrics"
	"github.com/zju-rshub/rsagent/pkg/progress"
	"github.com/zju-rshub/rsagent/pkg/session"
	"github.com/zju-rshub/rsagent/pkg/version"
)

// Server wires the HTTP routes to the turn pipeline and its collaborators.
type Server struct {
	router       *gin.Engine
	orchestrator *agent.Orchestrator
	hub          *progress.Hub
	manager      *progress.Manager
	store        *session.Store
	resolver     *auth.Resolver
	settings     *config.Settings
}

// NewServer builds the router. The caller owns startup and shutdown.
func NewServer(orchestrator *agent.Orchestrator, hub *progress.Hub, manager *progress.Manager, store *session.Store, resolver *auth.Resolver, settings *config.Settings) *Server {
	s := &Server{
		router:       gin.New(),
		orchestrator: orchestrator,
		hub:          hub,
		manager:      manager,
		store:        store,
		resolver:     resolver,
		settings:     settings,
	}

	s.router.Use(gin.Recovery())
	s.router.Use(corsMiddleware())
	s.registerRoutes()
	return s
}

// Router exposes the underlying engine, mainly for tests and custom
// http.Server setups.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/metrics", gin.WrapH(metrics.Handler()))

	// The chat API is served bare and under the versioned prefixes the
	// frontend generations use interchangeably.
	for _, g := range []*gin.RouterGroup{
		s.router.Group(""),
		s.router.Group("/api"),
		s.router.Group("/api/v1"),
	} {
		g.POST("/agent/chat", s.chatHandler)
		g.POST("/agent/chat/upload", s.uploadHandler)

		g.POST("/agent/chat/sessions", s.listSessionsHandler)
		g.POST("/agent/chat/sessions/:chat_id", s.getSessionHandler)
		g.DELETE("/agent/chat/sessions/:chat_id", s.deleteSessionHandler)

		g.GET("/progress/ws/:session_id", s.progressWSHandler)
		g.POST("/progress/abort/:session_id", s.abortHandler)
		g.GET("/progress/status/:session_id", s.progressStatusHandler)
	}

	// Compatibility alias used by older frontends.
	s.router.GET("/ws/progress/:session_id", s.progressWSHandler)
}

func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": version.AppName,
		"version": version.GitCommit,
		"mode":    string(s.settings.Mode),
	})
}

// corsMiddleware allows browser frontends on other origins to call the
// API, matching the permissive policy of the upstream deployment.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
