package mcp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/senarios/aris/pkg/config"
)

type noCreds struct{}

func (noCreds) CredentialsFor(string) (config.Credentials, bool) {
	return config.Credentials{}, false
}

func testRegistry() *config.MCPServerRegistry {
	return config.NewMCPServerRegistry(map[string]*config.MCPServerConfig{
		"intelycx-core": {
			Name:         "intelycx-core",
			URL:          "http://core:9000/mcp",
			RequiresAuth: true,
		},
		"intelycx-file-generator": {
			Name:           "intelycx-file-generator",
			URL:            "http://files:9001/mcp",
			TimeoutSeconds: 120,
		},
		"slow-server": {
			Name:           "slow-server",
			URL:            "http://slow:9002/mcp",
			TimeoutSeconds: 7200, // above the ceiling
		},
	})
}

func TestStatesDefaultToConfigured(t *testing.T) {
	d := NewDispatcher(testRegistry(), noCreds{})

	states := d.States()
	assert.Equal(t, ServerStateConfigured, states["intelycx-core"])
	assert.Equal(t, ServerStateConfigured, states["intelycx-file-generator"])
}

func TestCallTimeoutClamping(t *testing.T) {
	d := NewDispatcher(testRegistry(), noCreds{})

	assert.Equal(t, DefaultCallTimeout, d.callTimeout("intelycx-core"))
	assert.Equal(t, 120*time.Second, d.callTimeout("intelycx-file-generator"))
	assert.Equal(t, MaxCallTimeout, d.callTimeout("slow-server"))
	assert.Equal(t, DefaultCallTimeout, d.callTimeout("unknown"))
}

func TestLoginToolName(t *testing.T) {
	assert.Equal(t, "intelycx_core_login",
		loginToolName(&config.MCPServerConfig{Name: "intelycx-core"}))
	assert.Equal(t, "custom_login",
		loginToolName(&config.MCPServerConfig{Name: "x", LoginTool: "custom_login"}))
}

func TestInvalidateServerDropsMappings(t *testing.T) {
	d := NewDispatcher(testRegistry(), noCreds{})

	d.cacheMu.Lock()
	d.toolToServer = map[string]string{
		"get_fake_data": "intelycx-core",
		"create_pdf":    "intelycx-file-generator",
	}
	d.discoveredAt = time.Now()
	d.cacheMu.Unlock()

	d.invalidateServer("intelycx-core")

	d.cacheMu.RLock()
	defer d.cacheMu.RUnlock()
	assert.NotContains(t, d.toolToServer, "get_fake_data")
	assert.Contains(t, d.toolToServer, "create_pdf")
	assert.True(t, d.discoveredAt.IsZero())
}

func TestWithTokenDoesNotMutateInput(t *testing.T) {
	args := map[string]any{"a": 1}
	out := withToken(args, "tok")

	assert.Equal(t, "tok", out["jwt_token"])
	assert.NotContains(t, args, "jwt_token")
}
