package mcp

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/senarios/aris/pkg/config"
)

// loginToolName returns the designated login tool for a server.
func loginToolName(cfg *config.MCPServerConfig) string {
	if cfg.LoginTool != "" {
		return cfg.LoginTool
	}
	return strings.ReplaceAll(cfg.Name, "-", "_") + "_login"
}

// warmUpAuth obtains the process-wide token for a requires_auth server.
// A login failure is reported but leaves the server usable for tools that
// tolerate missing auth.
func (d *Dispatcher) warmUpAuth(ctx context.Context, server string) error {
	cfg, err := d.registry.Get(server)
	if err != nil {
		return err
	}
	if !cfg.RequiresAuth {
		return nil
	}
	return d.login(ctx, server, false)
}

// login invokes the server's designated login tool with configured
// credentials and stores the returned token. The per-server mutex prevents
// a thundering herd of reauthentication; when force is false an existing
// token short-circuits.
func (d *Dispatcher) login(ctx context.Context, server string, force bool) error {
	muI, _ := d.loginMu.LoadOrStore(server, &sync.Mutex{})
	mu := muI.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	if !force {
		if _, ok := d.token(server); ok {
			return nil
		}
	}

	cfg, err := d.registry.Get(server)
	if err != nil {
		return err
	}
	creds, ok := d.credentials.CredentialsFor(server)
	if !ok {
		return fmt.Errorf("no credentials configured for server %q", server)
	}

	result, err := d.callOnce(ctx, server, loginToolName(cfg), map[string]any{
		"username": creds.Username,
		"password": creds.Password,
	})
	if err != nil {
		return fmt.Errorf("login to %q: %w", server, err)
	}

	normalized := NormalizeResult(result)
	payload, ok := normalized.(map[string]any)
	if !ok {
		return fmt.Errorf("login to %q: unexpected result shape %T", server, normalized)
	}
	if success, ok := payload["success"].(bool); ok && !success {
		return fmt.Errorf("login to %q failed: %v", server, payload["error"])
	}
	token, _ := payload["jwt_token"].(string)
	if token == "" {
		return fmt.Errorf("login to %q returned no token", server)
	}

	d.tokenMu.Lock()
	d.tokens[server] = token
	d.tokenMu.Unlock()

	d.logger.Info("Authenticated with MCP server", "server", server, "user", creds.Username)
	return nil
}

func (d *Dispatcher) token(server string) (string, bool) {
	d.tokenMu.RLock()
	defer d.tokenMu.RUnlock()
	token, ok := d.tokens[server]
	return token, ok && token != ""
}

// IsAuthError detects authentication-class failures that warrant one
// silent re-login and retry.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"unauthorized",
		"unauthenticated",
		"401",
		"token expired",
		"invalid token",
		"authentication",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
