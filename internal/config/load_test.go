package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadAppliesBridgeDefaults(t *testing.T) {
	path := writeConfig(t, `{"servers":{"linear":{"command":"npx","args":["linear-mcp"]}}}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, DefaultBridgeConfig(), cfg.Bridge)
	assert.Equal(t, TransportStdio, cfg.Servers["linear"].Transport)
}

func TestLoadPartialBridgeOverrideKeepsOtherDefaults(t *testing.T) {
	path := writeConfig(t, `{"_bridge":{"logLevel":"debug"},"servers":{}}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Bridge.LogLevel)
	assert.Equal(t, DefaultBridgeConfig().Port, cfg.Bridge.Port)
}

func TestLoadResolvesUpstreamKeysByPriority(t *testing.T) {
	path := writeConfig(t, `{
		"mcpUpstreams": {"linear": {"command": "first"}},
		"servers": {"linear": {"command": "second"}, "github": {"command": "third"}}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "first", cfg.Servers["linear"].Command)
	assert.Equal(t, "third", cfg.Servers["github"].Command)
}

func TestLoadFiltersSelfReferenceFromClientConfigKeys(t *testing.T) {
	path := writeConfig(t, `{
		"mcpServers": {
			"self": {"command": "crabeye-mcp-bridge", "args": ["start"]},
			"linear": {"command": "npx", "args": ["linear-mcp"]}
		}
	}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	_, hasSelf := cfg.Servers["self"]
	assert.False(t, hasSelf)
	assert.Contains(t, cfg.Servers, "linear")
}

func TestLoadDoesNotFilterSelfReferenceFromServersKey(t *testing.T) {
	// "servers" is the bridge's own config key, not a client-config-compatible
	// one, so the self-reference filter does not apply to it.
	path := writeConfig(t, `{"servers":{"self":{"command":"crabeye-mcp-bridge"}}}`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "crabeye-mcp-bridge", cfg.Servers["self"].Command)
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	path := writeConfig(t, `{not valid json`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsInvalidServerEntry(t *testing.T) {
	path := writeConfig(t, `{"servers":{"linear":{"_bridge":{"toolPolicy":"sometimes"}}}}`)

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.json"))
	assert.Error(t, err)
}
