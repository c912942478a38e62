package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/senarios/aris/pkg/agent"
	"github.com/senarios/aris/pkg/config"
	"github.com/senarios/aris/pkg/events"
)

const (
	// writeTimeout bounds one frame write to a client.
	writeTimeout = 10 * time.Second

	// pingInterval is the keep-alive cadence.
	pingInterval = 5 * time.Second
)

// inboundFrame is the client → server message shape.
type inboundFrame struct {
	Message   *string        `json:"message"`
	Action    string         `json:"action"`
	Question  string         `json:"question"`
	DocBucket string         `json:"doc_bucket"`
	DocKey    string         `json:"doc_key"`
	ModelID   string         `json:"model_id"`
	RagParams map[string]any `json:"rag_params"`
}

// wsSink adapts a websocket connection to the event bus sink.
type wsSink struct {
	conn *websocket.Conn
}

func (s *wsSink) Send(ctx context.Context, frame []byte) error {
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return s.conn.Write(writeCtx, websocket.MessageText, frame)
}

// handleWebSocket owns one client connection: handshake auth, session
// binding, the keep-alive loop, and the per-message turn sequencing.
func (s *Server) handleWebSocket(c *gin.Context) {
	// Token verification happens before any session state is created.
	token := c.GetHeader("Authorization")
	if token == "" {
		token = c.Query("Authorization")
	}
	claims, err := s.verifier.Verify(token)
	if err != nil {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Warn("WebSocket accept failed", "error", err)
		return
	}

	// A session is pinned to this connection. Reconnecting clients resume
	// by presenting their session id.
	sessionID := c.Query("session_id")
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	logger := slog.Default().With("session_id", sessionID, "user_id", claims.UserID)

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	bus := events.NewBus(ctx, &wsSink{conn: conn})
	defer bus.Close()

	sessionAgent := s.factory.Create(sessionID, claims.UserID, bus)

	// Keep-alive pings ride the same ordered bus as every other frame.
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				bus.PublishPing()
			}
		}
	}()

	logger.Info("WebSocket session established")
	defer func() {
		logger.Info("WebSocket session closed")
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			// Client disconnected: stop emitting and issuing new work.
			cancel()
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			bus.PublishError("invalid_json")
			continue
		}

		s.handleFrame(ctx, logger, bus, sessionAgent, &frame)
	}
}

// handleFrame processes one inbound frame: document ingestion, runtime
// options, then the message turn.
func (s *Server) handleFrame(ctx context.Context, logger *slog.Logger, bus *events.Bus, sessionAgent agent.Agent, frame *inboundFrame) {
	message := ""
	if frame.Message != nil {
		message = *frame.Message
	} else if frame.Action == "agent" {
		message = frame.Question
	}

	if frame.DocBucket != "" && frame.DocKey != "" {
		if handler, ok := sessionAgent.(agent.DocumentHandler); ok {
			notice, err := handler.ProcessDocument(ctx, frame.DocBucket, frame.DocKey, message)
			if err != nil {
				logger.Warn("Document processing failed", "error", err)
				bus.PublishError("doc_processing_failed: " + err.Error())
			} else {
				bus.PublishDocumentNotice(notice)
			}
		}
	}

	sessionAgent.SetRuntimeOptions(extractOptions(frame))

	if _, err := sessionAgent.ProcessMessage(ctx, message); err != nil {
		logger.Warn("Turn processing failed", "error", err)
		bus.PublishError("processing_failed")
	}
}

// extractOptions maps the inbound frame's knobs to runtime options.
// model_id may arrive top-level or under rag_params.model_params.
func extractOptions(frame *inboundFrame) agent.Options {
	opts := agent.Options{ModelID: frame.ModelID}

	modelParams, _ := frame.RagParams["model_params"].(map[string]any)
	if opts.ModelID == "" {
		if id, ok := modelParams["model_id"].(string); ok {
			opts.ModelID = id
		}
	}

	switch t := modelParams["temperature"].(type) {
	case float64:
		opts.Temperature = &t
	case string:
		opts.Temperature = config.ParseTemperature(t)
	}

	if enabled, ok := frame.RagParams["guardrails"].(bool); ok {
		opts.Guardrails = enabled
	}

	search, _ := frame.RagParams["search"].(map[string]any)
	opts.DeepSearch = boolish(search["deep_search"]) || boolish(frame.RagParams["deep_search"])
	opts.WebSearch = boolish(search["web_search"]) || boolish(frame.RagParams["web_search"])

	return opts
}

func boolish(v any) bool {
	b, ok := v.(bool)
	return ok && b
}
