// Package api provides the HTTP server: health endpoint and the
// client-facing websocket channel.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/senarios/aris/pkg/agent"
	"github.com/senarios/aris/pkg/auth"
	"github.com/senarios/aris/pkg/database"
	"github.com/senarios/aris/pkg/mcp"
)

// Server is the HTTP API server.
type Server struct {
	router     *gin.Engine
	dbClient   *database.Client // nil when running without a database
	dispatcher *mcp.Dispatcher  // nil when MCP is disabled
	factory    *agent.Factory
	verifier   auth.Verifier
}

// NewServer creates the server and registers routes.
func NewServer(factory *agent.Factory, verifier auth.Verifier, dbClient *database.Client, dispatcher *mcp.Dispatcher) *Server {
	s := &Server{
		router:     gin.Default(),
		dbClient:   dbClient,
		dispatcher: dispatcher,
		factory:    factory,
		verifier:   verifier,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/ws", s.handleWebSocket)
}

// Run starts the server, with TLS when certificate paths are configured.
func (s *Server) Run(addr, certFile, keyFile string) error {
	if certFile != "" && keyFile != "" {
		return s.router.RunTLS(addr, certFile, keyFile)
	}
	return s.router.Run(addr)
}

// handleHealth reports readiness: {status: "ok"} once the process can
// serve traffic. Database and MCP details ride along for operators.
func (s *Server) handleHealth(c *gin.Context) {
	payload := gin.H{"status": "ok"}

	if s.dbClient != nil {
		reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()

		dbHealth, err := database.Health(reqCtx, s.dbClient.DB())
		payload["database"] = dbHealth
		if err != nil {
			payload["status"] = "unhealthy"
			payload["error"] = err.Error()
			c.JSON(http.StatusServiceUnavailable, payload)
			return
		}
	}

	if s.dispatcher != nil {
		payload["mcp_servers"] = s.dispatcher.States()
	}

	c.JSON(http.StatusOK, payload)
}
