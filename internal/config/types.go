// Package config holds the bridge's configuration shape and the pure
// load/diff/validate logic over it. It has no knowledge of fsnotify or any
// other I/O concern beyond reading a file from disk — that lives in
// internal/watcher.
package config

import "encoding/json"

// ToolPolicy mirrors types.McpServerTransport's style in the teacher's
// pkg/types/mcp_server.go: a string enum with a validator.
type ToolPolicy string

const (
	PolicyAlways ToolPolicy = "always"
	PolicyPrompt ToolPolicy = "prompt"
	PolicyNever  ToolPolicy = "never"
)

// ValidateToolPolicy validates a raw string and returns the canonical
// ToolPolicy, defaulting empty input to PolicyAlways.
func ValidateToolPolicy(input string) (ToolPolicy, error) {
	switch ToolPolicy(input) {
	case PolicyAlways, "":
		return PolicyAlways, nil
	case PolicyPrompt:
		return PolicyPrompt, nil
	case PolicyNever:
		return PolicyNever, nil
	default:
		return "", &invalidPolicyError{input}
	}
}

type invalidPolicyError struct{ value string }

func (e *invalidPolicyError) Error() string {
	return "unsupported tool policy: " + e.value + " (acceptable values: 'always', 'prompt', 'never')"
}

// TransportKind tags which variant of ServerConfig is populated.
type TransportKind string

const (
	TransportStdio          TransportKind = "stdio"
	TransportStreamableHTTP TransportKind = "streamable-http"
	TransportSSE            TransportKind = "sse"
)

// BridgeMeta is the optional "_bridge" metadata block attached to a single
// server entry in the config file.
type BridgeMeta struct {
	Category   string                `json:"category,omitempty"`
	ToolPolicy ToolPolicy            `json:"toolPolicy,omitempty"`
	Tools      map[string]ToolPolicy `json:"tools,omitempty"`
	Auth       json.RawMessage       `json:"auth,omitempty"`
}

// ServerConfig is the tagged variant described in spec.md §3: either a
// STDIO launch descriptor or an HTTP/SSE endpoint descriptor, plus the
// optional per-server _bridge block. Transport is inferred at load time:
// presence of Command means STDIO, presence of URL means HTTP/SSE.
type ServerConfig struct {
	Transport TransportKind `json:"-"`

	// STDIO fields.
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`

	// HTTP fields.
	Type    string            `json:"type,omitempty"` // "streamable-http" (default) or "sse"
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`

	Bridge *BridgeMeta `json:"_bridge,omitempty"`
}

// rawServerConfig is the wire shape used only during unmarshalling, so that
// Transport can be derived rather than required on disk.
type rawServerConfig struct {
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	Type    string            `json:"type,omitempty"`
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Bridge  *BridgeMeta       `json:"_bridge,omitempty"`
}

// UnmarshalJSON infers Transport from which fields are present: a non-empty
// Command means stdio, a non-empty URL means HTTP with Type defaulting to
// streamable-http.
func (c *ServerConfig) UnmarshalJSON(data []byte) error {
	var raw rawServerConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = ServerConfig{
		Command: raw.Command,
		Args:    raw.Args,
		Env:     raw.Env,
		Type:    raw.Type,
		URL:     raw.URL,
		Headers: raw.Headers,
		Bridge:  raw.Bridge,
	}
	switch {
	case raw.Command != "":
		c.Transport = TransportStdio
	case raw.Type == string(TransportSSE):
		c.Transport = TransportSSE
		c.Type = string(TransportSSE)
	case raw.URL != "":
		c.Transport = TransportStreamableHTTP
		if c.Type == "" {
			c.Type = string(TransportStreamableHTTP)
		}
	}
	return nil
}

func (c ServerConfig) MarshalJSON() ([]byte, error) {
	raw := rawServerConfig{
		Command: c.Command,
		Args:    c.Args,
		Env:     c.Env,
		Type:    c.Type,
		URL:     c.URL,
		Headers: c.Headers,
		Bridge:  c.Bridge,
	}
	return json.Marshal(raw)
}

// connectionFields returns only the fields that identify the connection
// itself (spec.md §4.7): used by the diff algorithm to decide reconnect vs.
// metadata-only update, independent of _bridge.
func (c ServerConfig) connectionFields() map[string]any {
	switch c.Transport {
	case TransportStdio:
		return map[string]any{"command": c.Command, "args": c.Args, "env": c.Env}
	default:
		return map[string]any{"type": c.Type, "url": c.URL, "headers": c.Headers}
	}
}

// BridgeConfig is the global "_bridge" block, with the defaults from
// spec.md §6 applied by Load.
type BridgeConfig struct {
	Port                   int        `json:"port"`
	LogLevel               string     `json:"logLevel"`
	LogFormat              string     `json:"logFormat"`
	ToolPolicy             ToolPolicy `json:"toolPolicy"`
	HealthCheckInterval    int        `json:"healthCheckInterval"`
	MaxUpstreamConnections int        `json:"maxUpstreamConnections"`
	ConnectionTimeout      int        `json:"connectionTimeout"`
	IdleTimeout            int        `json:"idleTimeout"`
}

// DefaultBridgeConfig returns the spec.md §6 defaults.
func DefaultBridgeConfig() BridgeConfig {
	return BridgeConfig{
		Port:                   19875,
		LogLevel:               "info",
		LogFormat:              "text",
		ToolPolicy:             PolicyAlways,
		HealthCheckInterval:    0,
		MaxUpstreamConnections: 20,
		ConnectionTimeout:      30,
		IdleTimeout:            600,
	}
}

// ResolvedConfig is the output of Load: the bridge-level block plus the
// flattened, self-exclusion-filtered, priority-resolved upstream set keyed
// by server name.
type ResolvedConfig struct {
	Bridge  BridgeConfig
	Servers map[string]ServerConfig
}
