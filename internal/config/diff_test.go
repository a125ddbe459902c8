package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseConfig() *ResolvedConfig {
	return &ResolvedConfig{
		Bridge: DefaultBridgeConfig(),
		Servers: map[string]ServerConfig{
			"linear": {Transport: TransportStdio, Command: "npx", Args: []string{"linear-mcp"}},
		},
	}
}

func TestComputeDiffIsEmptyForIdenticalConfig(t *testing.T) {
	cfg := baseConfig()
	assert.True(t, ComputeDiff(cfg, cfg).IsEmpty())
}

func TestComputeDiffDetectsAddedAndRemoved(t *testing.T) {
	oldCfg := baseConfig()
	newCfg := baseConfig()
	delete(newCfg.Servers, "linear")
	newCfg.Servers["github"] = ServerConfig{Transport: TransportStdio, Command: "npx", Args: []string{"github-mcp"}}

	diff := ComputeDiff(oldCfg, newCfg)
	assert.Equal(t, []string{"github"}, diff.Added)
	assert.Equal(t, []string{"linear"}, diff.Removed)
	assert.Empty(t, diff.Reconnect)
	assert.Empty(t, diff.Updated)
}

func TestComputeDiffClassifiesConnectionFieldChangeAsReconnect(t *testing.T) {
	oldCfg := baseConfig()
	newCfg := baseConfig()
	newCfg.Servers["linear"] = ServerConfig{Transport: TransportStdio, Command: "npx", Args: []string{"linear-mcp", "--verbose"}}

	diff := ComputeDiff(oldCfg, newCfg)
	assert.Equal(t, []string{"linear"}, diff.Reconnect)
	assert.Empty(t, diff.Updated)
}

func TestComputeDiffClassifiesBridgeMetaOnlyChangeAsUpdated(t *testing.T) {
	oldCfg := baseConfig()
	newCfg := baseConfig()
	sc := newCfg.Servers["linear"]
	sc.Bridge = &BridgeMeta{Category: "project-management"}
	newCfg.Servers["linear"] = sc

	diff := ComputeDiff(oldCfg, newCfg)
	assert.Empty(t, diff.Reconnect)
	assert.Equal(t, []string{"linear"}, diff.Updated)
}

func TestComputeDiffDetectsBridgeLevelChanges(t *testing.T) {
	oldCfg := baseConfig()
	newCfg := baseConfig()
	newCfg.Bridge.LogLevel = "debug"
	newCfg.Bridge.HealthCheckInterval = 30
	newCfg.Bridge.ToolPolicy = PolicyNever
	newCfg.Bridge.Port = 9999

	diff := ComputeDiff(oldCfg, newCfg)
	require.NotNil(t, diff.BridgeLogLevel)
	assert.Equal(t, "debug", *diff.BridgeLogLevel)
	require.NotNil(t, diff.BridgeHealthCheckInterval)
	assert.Equal(t, 30, *diff.BridgeHealthCheckInterval)
	require.NotNil(t, diff.BridgeToolPolicy)
	assert.Equal(t, PolicyNever, *diff.BridgeToolPolicy)
	assert.Equal(t, []string{"port"}, diff.RequiresRestart)
}

func TestStableJSONIgnoresMapKeyOrder(t *testing.T) {
	a := map[string]any{"b": 1, "a": 2}
	b := map[string]any{"a": 2, "b": 1}
	assert.Equal(t, StableJSON(a), StableJSON(b))
}
