package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/crabeye/mcp-bridge/internal/bridgeerr"
)

// selfReferenceMarker is the literal substring that, when present in a
// server's command or any of its args, marks that entry as a reference to
// this bridge's own binary — filtered out of mcpServers/context_servers to
// stop the bridge from registering itself as an upstream of itself.
const selfReferenceMarker = "crabeye-mcp-bridge"

// upstreamKeysByPriority lists the top-level config keys that hold an
// upstream-name → ServerConfig map, in the priority order spec.md §6
// mandates: earlier wins on duplicate names.
var upstreamKeysByPriority = []string{"mcpUpstreams", "servers", "context_servers", "mcpServers"}

// selfExcludedKeys are the keys whose entries are subject to the
// self-reference filter — only the client-config-compatible keys, per
// spec.md §6 ("Entries read from mcpServers (and context_servers)").
var selfExcludedKeys = map[string]bool{"context_servers": true, "mcpServers": true}

type rawFile struct {
	Bridge         *BridgeConfig              `json:"_bridge,omitempty"`
	MCPUpstreams   map[string]json.RawMessage `json:"mcpUpstreams,omitempty"`
	Servers        map[string]json.RawMessage `json:"servers,omitempty"`
	ContextServers map[string]json.RawMessage `json:"context_servers,omitempty"`
	MCPServers     map[string]json.RawMessage `json:"mcpServers,omitempty"`
}

// Load reads and parses the config file at path, applies bridge-level
// defaults, resolves the four possible upstream-table keys by priority,
// and filters out self-referencing entries.
func Load(path string) (*ResolvedConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &bridgeerr.ConfigError{Path: path, Err: err}
	}

	var raw rawFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &bridgeerr.ConfigError{Path: path, Err: fmt.Errorf("malformed JSON: %w", err)}
	}

	byKey := map[string]map[string]json.RawMessage{
		"mcpUpstreams":    raw.MCPUpstreams,
		"servers":         raw.Servers,
		"context_servers": raw.ContextServers,
		"mcpServers":      raw.MCPServers,
	}

	resolved := make(map[string]ServerConfig)
	for _, key := range upstreamKeysByPriority {
		table := byKey[key]
		for name, rawEntry := range table {
			if _, exists := resolved[name]; exists {
				continue // earlier key already won this name
			}
			var sc ServerConfig
			if err := json.Unmarshal(rawEntry, &sc); err != nil {
				return nil, &bridgeerr.ConfigError{Path: path, Err: fmt.Errorf("server %q: %w", name, err)}
			}
			if selfExcludedKeys[key] && isSelfReference(sc) {
				continue
			}
			resolved[name] = sc
		}
	}

	bridge := DefaultBridgeConfig()
	if raw.Bridge != nil {
		applyBridgeOverrides(&bridge, raw.Bridge)
	}

	cfg := &ResolvedConfig{Bridge: bridge, Servers: resolved}
	if err := Validate(cfg); err != nil {
		return nil, &bridgeerr.ConfigError{Path: path, Err: err}
	}
	return cfg, nil
}

// isSelfReference reports whether a server entry's command or any arg
// contains the literal crabeye-mcp-bridge substring.
func isSelfReference(sc ServerConfig) bool {
	if strings.Contains(sc.Command, selfReferenceMarker) {
		return true
	}
	for _, arg := range sc.Args {
		if strings.Contains(arg, selfReferenceMarker) {
			return true
		}
	}
	return false
}

// applyBridgeOverrides merges non-zero fields from raw onto defaults,
// since a partially specified _bridge block must not zero out the rest.
func applyBridgeOverrides(defaults *BridgeConfig, raw *BridgeConfig) {
	if raw.Port != 0 {
		defaults.Port = raw.Port
	}
	if raw.LogLevel != "" {
		defaults.LogLevel = raw.LogLevel
	}
	if raw.LogFormat != "" {
		defaults.LogFormat = raw.LogFormat
	}
	if raw.ToolPolicy != "" {
		defaults.ToolPolicy = raw.ToolPolicy
	}
	if raw.HealthCheckInterval != 0 {
		defaults.HealthCheckInterval = raw.HealthCheckInterval
	}
	if raw.MaxUpstreamConnections != 0 {
		defaults.MaxUpstreamConnections = raw.MaxUpstreamConnections
	}
	if raw.ConnectionTimeout != 0 {
		defaults.ConnectionTimeout = raw.ConnectionTimeout
	}
	if raw.IdleTimeout != 0 {
		defaults.IdleTimeout = raw.IdleTimeout
	}
}
