// ARIS orchestrator server - accepts client connections over WebSocket,
// plans and executes tool-backed work per session, and persists plans and
// session memory in PostgreSQL.
package main

import (
	"context"
	"log"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/senarios/aris/pkg/agent"
	"github.com/senarios/aris/pkg/api"
	"github.com/senarios/aris/pkg/auth"
	"github.com/senarios/aris/pkg/config"
	"github.com/senarios/aris/pkg/database"
	"github.com/senarios/aris/pkg/ingest"
	"github.com/senarios/aris/pkg/llm"
	"github.com/senarios/aris/pkg/mcp"
	"github.com/senarios/aris/pkg/memory"
	"github.com/senarios/aris/pkg/planstore"
	"github.com/senarios/aris/pkg/sessions"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file loaded: %v", err)
	}

	gin.SetMode(getEnv("GIN_MODE", "release"))

	ctx := context.Background()

	settings, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	log.Printf("Starting ARIS")
	log.Printf("Agent type: %s", settings.AgentType)
	log.Printf("Bind: %s:%s", settings.BindAddr, settings.HTTPPort)

	// Database
	dbConfig, err := database.LoadConfigFromEnv()
	if err != nil {
		log.Fatalf("Failed to load database config: %v", err)
	}
	dbClient, err := database.NewClient(ctx, dbConfig)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			log.Printf("Error closing database client: %v", err)
		}
	}()
	log.Println("✓ Connected to PostgreSQL database")

	// Stores
	planStore := planstore.NewSQLStore(dbClient.DB())
	sessionStore := sessions.NewSQLStore(dbClient.DB())
	memoryStore := memory.NewSQLStore(dbClient.DB())
	go memoryStore.RunSweeper(ctx, settings.MemorySweepInterval)

	// MCP dispatcher
	registry, err := config.LoadMCPServers(settings.MCPConfigPath)
	if err != nil {
		log.Fatalf("Failed to load MCP server config: %v", err)
	}
	dispatcher := mcp.NewDispatcher(registry, settings)
	defer func() { _ = dispatcher.Close() }()

	for server, startErr := range dispatcher.StartAll(ctx) {
		if startErr != nil {
			log.Printf("Warning: MCP server %q unavailable: %v", server, startErr)
		} else {
			log.Printf("✓ MCP server %q connected", server)
		}
	}

	// LLM collaborator
	llmClient, err := llm.NewBedrockClient(ctx, settings.BedrockRegion, settings.LLMTimeout)
	if err != nil {
		log.Fatalf("Failed to initialize LLM client: %v", err)
	}

	// Auth collaborator
	verifier, err := auth.NewJWTVerifier(settings.AuthSigningKey, settings.AuthIssuer, settings.AuthAudience)
	if err != nil {
		log.Fatalf("Failed to initialize auth verifier: %v", err)
	}

	// Document ingestion collaborator (optional)
	var ingestor agent.Ingestor
	if settings.IngestionURL != "" {
		ingestor = ingest.NewClient(settings.IngestionURL)
		log.Printf("✓ Document ingestion at %s", settings.IngestionURL)
	}

	factory := agent.NewFactory(agent.Deps{
		Settings:  settings,
		PlanStore: planStore,
		Sessions:  sessionStore,
		Memory:    memoryStore,
		Catalog:   dispatcher,
		LLM:       llmClient,
		Ingestor:  ingestor,
		Guardrail: agent.NewLLMGuardrail(llmClient),
	})

	server := api.NewServer(factory, verifier, dbClient, dispatcher)

	addr := settings.BindAddr + ":" + settings.HTTPPort
	log.Printf("HTTP server listening on %s", addr)
	if err := server.Run(addr, settings.TLSCertFile, settings.TLSKeyFile); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
