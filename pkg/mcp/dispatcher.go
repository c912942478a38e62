// Package mcp implements the dispatcher over remote MCP tool servers:
// connection management, tool discovery, auth injection, and result
// normalization.
package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/senarios/aris/pkg/config"
	"github.com/senarios/aris/pkg/models"
)

// ServerState tracks the lifecycle of one server connection.
type ServerState string

// Server states.
const (
	ServerStateConfigured ServerState = "configured"
	ServerStateConnecting ServerState = "connecting"
	ServerStateConnected  ServerState = "connected"
	ServerStateFailed     ServerState = "failed"
)

// Timeouts and cache policy.
const (
	// InitTimeout bounds one server connection attempt.
	InitTimeout = 30 * time.Second

	// DefaultCallTimeout is the per-call deadline when a server does not
	// override it.
	DefaultCallTimeout = 90 * time.Second

	// MaxCallTimeout is the hard ceiling for per-server overrides.
	MaxCallTimeout = 30 * time.Minute

	// DiscoveryTTL is how long the tool→server mapping stays fresh.
	DiscoveryTTL = 300 * time.Second
)

// appName identifies this client to MCP servers.
const appName = "aris-agent"

// CredentialSource supplies login credentials for servers that require
// authentication. Implemented by config.Settings.
type CredentialSource interface {
	CredentialsFor(server string) (config.Credentials, bool)
}

// Dispatcher holds long-lived client connections to the configured MCP
// servers and routes tool calls. Shared across sessions; all methods are
// safe for concurrent use.
type Dispatcher struct {
	registry    *config.MCPServerRegistry
	credentials CredentialSource
	logger      *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*mcpsdk.ClientSession
	states   map[string]ServerState
	failures map[string]string // server → last error message

	// Discovery cache.
	cacheMu      sync.RWMutex
	toolToServer map[string]string
	serverTools  map[string][]models.ToolDescriptor
	discoveredAt time.Time

	// Per-server auth tokens, refreshed under a per-server mutex so
	// concurrent calls do not stampede reauthentication.
	tokenMu sync.RWMutex
	tokens  map[string]string
	loginMu sync.Map // server → *sync.Mutex

	// connectMu serializes connection attempts per server.
	connectMu sync.Map // server → *sync.Mutex
}

// NewDispatcher creates a dispatcher for the configured server registry.
func NewDispatcher(registry *config.MCPServerRegistry, credentials CredentialSource) *Dispatcher {
	return &Dispatcher{
		registry:     registry,
		credentials:  credentials,
		logger:       slog.Default(),
		sessions:     make(map[string]*mcpsdk.ClientSession),
		states:       make(map[string]ServerState),
		failures:     make(map[string]string),
		toolToServer: make(map[string]string),
		serverTools:  make(map[string][]models.ToolDescriptor),
		tokens:       make(map[string]string),
	}
}

// StartAll opens all configured connections and performs warm-up login on
// servers that require auth. Idempotent: already-connected servers are
// skipped. Per-server failures are returned; they never abort the rest.
func (d *Dispatcher) StartAll(ctx context.Context) map[string]error {
	results := make(map[string]error)
	for _, name := range d.registry.Names() {
		err := d.connect(ctx, name)
		if err == nil {
			err = d.warmUpAuth(ctx, name)
		}
		results[name] = err
		if err != nil {
			d.logger.Warn("MCP server failed to start", "server", name, "error", err)
		}
	}
	return results
}

// connect establishes the session for one server, lazily and exactly once
// per outage.
func (d *Dispatcher) connect(ctx context.Context, name string) error {
	muI, _ := d.connectMu.LoadOrStore(name, &sync.Mutex{})
	mu := muI.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	d.mu.RLock()
	_, connected := d.sessions[name]
	d.mu.RUnlock()
	if connected {
		return nil
	}

	serverCfg, err := d.registry.Get(name)
	if err != nil {
		return err
	}

	d.setState(name, ServerStateConnecting)

	initCtx, cancel := context.WithTimeout(ctx, InitTimeout)
	defer cancel()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: appName, Version: "1"}, nil)
	transport := &mcpsdk.StreamableClientTransport{Endpoint: serverCfg.URL}

	session, err := client.Connect(initCtx, transport, nil)
	if err != nil {
		d.setFailed(name, err)
		return fmt.Errorf("connect to %q: %w", name, err)
	}

	d.mu.Lock()
	d.sessions[name] = session
	d.states[name] = ServerStateConnected
	delete(d.failures, name)
	d.mu.Unlock()

	d.logger.Info("MCP server connected", "server", name)
	return nil
}

// States returns a copy of the per-server connection states.
func (d *Dispatcher) States() map[string]ServerState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make(map[string]ServerState, len(d.states))
	for _, name := range d.registry.Names() {
		state, ok := d.states[name]
		if !ok {
			state = ServerStateConfigured
		}
		out[name] = state
	}
	return out
}

// Close shuts down all sessions.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var firstErr error
	for name, session := range d.sessions {
		if err := session.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close session %q: %w", name, err)
		}
	}
	d.sessions = make(map[string]*mcpsdk.ClientSession)
	d.states = make(map[string]ServerState)
	return firstErr
}

func (d *Dispatcher) setState(name string, state ServerState) {
	d.mu.Lock()
	d.states[name] = state
	d.mu.Unlock()
}

func (d *Dispatcher) setFailed(name string, err error) {
	d.mu.Lock()
	d.states[name] = ServerStateFailed
	d.failures[name] = err.Error()
	delete(d.sessions, name)
	d.mu.Unlock()
	d.invalidateServer(name)
}

func (d *Dispatcher) session(name string) (*mcpsdk.ClientSession, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.sessions[name]
	return s, ok
}

// callTimeout returns the per-call deadline for a server, clamped to the
// ceiling.
func (d *Dispatcher) callTimeout(name string) time.Duration {
	cfg, err := d.registry.Get(name)
	if err != nil || cfg.TimeoutSeconds <= 0 {
		return DefaultCallTimeout
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout > MaxCallTimeout {
		return MaxCallTimeout
	}
	return timeout
}
