package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTemperature(t *testing.T) {
	temp := ParseTemperature("0.7")
	require.NotNil(t, temp)
	assert.InDelta(t, 0.7, *temp, 1e-9)

	assert.Nil(t, ParseTemperature(""))
	assert.Nil(t, ParseTemperature("warm"))
}

func TestEnvKeyForServer(t *testing.T) {
	assert.Equal(t, "INTELYCX_CORE", envKeyForServer("intelycx-core"))
	assert.Equal(t, "CORE2", envKeyForServer("core2"))
}

func TestCredentialsFor(t *testing.T) {
	t.Setenv("ARIS_MCP_INTELYCX_CORE_USERNAME", "user")
	t.Setenv("ARIS_MCP_INTELYCX_CORE_PASSWORD", "pass")

	s := &Settings{MCPCredentials: map[string]Credentials{}}
	creds, ok := s.CredentialsFor("intelycx-core")
	require.True(t, ok)
	assert.Equal(t, "user", creds.Username)
	assert.Equal(t, "pass", creds.Password)

	_, ok = s.CredentialsFor("unknown-server")
	assert.False(t, ok)
}

func TestLoadMCPServers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mcp_servers.json")
	content := `{
		"mcpServers": {
			"intelycx-core": {"url": "http://core:9000/mcp", "requires_auth": true},
			"intelycx-file-generator": {"url": "http://files:9001/mcp", "timeout_seconds": 120}
		}
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	registry, err := LoadMCPServers(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"intelycx-core", "intelycx-file-generator"}, registry.Names())

	core, err := registry.Get("intelycx-core")
	require.NoError(t, err)
	assert.True(t, core.RequiresAuth)
	assert.Equal(t, "http://core:9000/mcp", core.URL)

	files, err := registry.Get("intelycx-file-generator")
	require.NoError(t, err)
	assert.False(t, files.RequiresAuth)
	assert.Equal(t, 120, files.TimeoutSeconds)

	_, err = registry.Get("missing")
	assert.ErrorIs(t, err, ErrMCPServerNotFound)
}

func TestLoadMCPServersMissingFile(t *testing.T) {
	registry, err := LoadMCPServers(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Empty(t, registry.Names())
}

func TestLoadMCPServersRejectsMissingURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"mcpServers": {"x": {}}}`), 0o600))

	_, err := LoadMCPServers(path)
	assert.Error(t, err)
}

func TestSettingsValidate(t *testing.T) {
	s := &Settings{LLMTimeout: DefaultLLMTimeout}
	assert.NoError(t, s.Validate())

	s.TLSCertFile = "cert.pem"
	assert.Error(t, s.Validate())

	s.TLSKeyFile = "key.pem"
	assert.NoError(t, s.Validate())

	s.LLMTimeout = 0
	assert.Error(t, s.Validate())
}
