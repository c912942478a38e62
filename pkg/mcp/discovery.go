package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/senarios/aris/pkg/models"
)

// ListTools returns the union of tool descriptors across connected
// servers. Unreachable servers contribute nothing; discovery degrades
// per-server, never globally.
func (d *Dispatcher) ListTools(ctx context.Context) ([]models.ToolDescriptor, error) {
	if err := d.refreshDiscovery(ctx, false); err != nil {
		return nil, err
	}

	d.cacheMu.RLock()
	defer d.cacheMu.RUnlock()

	var all []models.ToolDescriptor
	for _, tools := range d.serverTools {
		all = append(all, tools...)
	}
	return all, nil
}

// ToolServer returns the server owning a tool, using the discovery cache.
func (d *Dispatcher) ToolServer(ctx context.Context, toolName string) (string, bool) {
	if err := d.refreshDiscovery(ctx, false); err != nil {
		return "", false
	}

	d.cacheMu.RLock()
	defer d.cacheMu.RUnlock()
	server, ok := d.toolToServer[toolName]
	return server, ok
}

// RefreshDiscovery forces a re-probe of all connected servers.
func (d *Dispatcher) RefreshDiscovery(ctx context.Context) error {
	return d.refreshDiscovery(ctx, true)
}

// refreshDiscovery rebuilds the tool→server mapping when the cache is
// stale or a force refresh is requested.
func (d *Dispatcher) refreshDiscovery(ctx context.Context, force bool) error {
	d.cacheMu.RLock()
	fresh := !force && time.Since(d.discoveredAt) < DiscoveryTTL && len(d.toolToServer) > 0
	d.cacheMu.RUnlock()
	if fresh {
		return nil
	}

	toolToServer := make(map[string]string)
	serverTools := make(map[string][]models.ToolDescriptor)

	for _, name := range d.registry.Names() {
		session, ok := d.session(name)
		if !ok {
			continue
		}

		opCtx, cancel := context.WithTimeout(ctx, d.callTimeout(name))
		result, err := session.ListTools(opCtx, nil)
		cancel()
		if err != nil {
			d.logger.Warn("Failed to list tools from MCP server",
				"server", name, "error", err)
			if ClassifyError(err) == RetryNewSession {
				d.setFailed(name, err)
			}
			continue
		}

		serverCfg, cfgErr := d.registry.Get(name)
		requiresAuth := cfgErr == nil && serverCfg.RequiresAuth

		for _, tool := range result.Tools {
			desc := models.ToolDescriptor{
				Name:         tool.Name,
				Description:  tool.Description,
				InputSchema:  schemaToMap(tool.InputSchema),
				Server:       name,
				RequiresAuth: requiresAuth,
			}
			desc.Capability, desc.Domain = toolMetadata(tool.Meta)
			toolToServer[tool.Name] = name
			serverTools[name] = append(serverTools[name], desc)
		}
	}

	d.cacheMu.Lock()
	d.toolToServer = toolToServer
	d.serverTools = serverTools
	d.discoveredAt = time.Now()
	d.cacheMu.Unlock()

	total := len(toolToServer)
	d.logger.Info("MCP discovery complete", "tools", total, "servers", len(serverTools))
	return nil
}

// invalidateServer drops a server's discovery entries after connection
// loss so the next lookup re-probes.
func (d *Dispatcher) invalidateServer(name string) {
	d.cacheMu.Lock()
	defer d.cacheMu.Unlock()
	delete(d.serverTools, name)
	for tool, server := range d.toolToServer {
		if server == name {
			delete(d.toolToServer, tool)
		}
	}
	d.discoveredAt = time.Time{}
}

// ServersForCapability returns servers advertising a capability in their
// tool metadata.
func (d *Dispatcher) ServersForCapability(ctx context.Context, capability string) ([]string, error) {
	if err := d.refreshDiscovery(ctx, false); err != nil {
		return nil, err
	}

	d.cacheMu.RLock()
	defer d.cacheMu.RUnlock()

	var servers []string
	for name, tools := range d.serverTools {
		for _, tool := range tools {
			if tool.Capability == capability {
				servers = append(servers, name)
				break
			}
		}
	}
	return servers, nil
}

// schemaToMap converts an SDK input schema into a plain map for the
// planner prompt and client frames.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return nil
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

// toolMetadata extracts capability/domain hints from a tool's metadata.
// Servers advertise them either as direct keys or as "capability:x" /
// "domain:y" tags.
func toolMetadata(meta map[string]any) (capability, domain string) {
	if meta == nil {
		return "", ""
	}
	if v, ok := meta["capability"].(string); ok {
		capability = v
	}
	if v, ok := meta["domain"].(string); ok {
		domain = v
	}
	if tags, ok := meta["tags"].([]any); ok {
		for _, t := range tags {
			tag, ok := t.(string)
			if !ok {
				continue
			}
			if capability == "" && strings.HasPrefix(tag, "capability:") {
				capability = strings.TrimPrefix(tag, "capability:")
			}
			if domain == "" && strings.HasPrefix(tag, "domain:") {
				domain = strings.TrimPrefix(tag, "domain:")
			}
		}
	}
	return capability, domain
}

// errToolNotFound formats the routing failure for unknown tools.
func errToolNotFound(toolName string) error {
	return fmt.Errorf("no server provides tool %q", toolName)
}
