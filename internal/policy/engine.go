// Package policy implements the Policy Engine (spec.md §4.5): the
// per-tool/per-server/global cascade that decides whether a tool call
// proceeds, is denied outright, or must be confirmed via elicitation.
package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/crabeye/mcp-bridge/internal/bridgeerr"
	"github.com/crabeye/mcp-bridge/internal/config"
)

// ElicitResult is the downstream client's answer to an elicitation
// request.
type ElicitResult struct {
	Action string // "accept", "decline", "cancel"
}

// ElicitFunc prompts the downstream client for confirmation. message is a
// human-readable description of the call (spec.md §4.5: "pretty-printed
// arguments"). Implementations that don't support elicitation (most
// downstream clients, today) return an error.
type ElicitFunc func(ctx context.Context, message string) (ElicitResult, error)

// Engine holds the current policy state: the global default plus each
// server's resolved policy table. update replaces all of it atomically, so
// a config reload never observes a half-applied policy set.
type Engine struct {
	mu sync.RWMutex

	global  config.ToolPolicy
	servers map[string]serverPolicy
}

type serverPolicy struct {
	policy config.ToolPolicy // per-server default; empty means "fall through to global"
	tools  map[string]config.ToolPolicy
}

// New builds an Engine; call Update to populate it from a loaded config.
func New() *Engine {
	return &Engine{global: config.PolicyAlways, servers: map[string]serverPolicy{}}
}

// Update atomically replaces the engine's state from a global policy and
// the servers map of a ResolvedConfig.
func (e *Engine) Update(global config.ToolPolicy, servers map[string]config.ServerConfig) {
	next := make(map[string]serverPolicy, len(servers))
	for name, sc := range servers {
		if sc.Bridge == nil {
			continue
		}
		next[name] = serverPolicy{policy: sc.Bridge.ToolPolicy, tools: sc.Bridge.Tools}
	}

	e.mu.Lock()
	e.global = global
	e.servers = next
	e.mu.Unlock()
}

// Resolve implements the spec.md §4.5 cascade: per-tool, then per-server,
// then global.
func (e *Engine) Resolve(source, toolName string) config.ToolPolicy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if sp, ok := e.servers[source]; ok {
		if p, ok := sp.tools[toolName]; ok && p != "" {
			return p
		}
		if sp.policy != "" {
			return sp.policy
		}
	}
	if e.global != "" {
		return e.global
	}
	return config.PolicyAlways
}

// Enforce applies the resolved policy for (source, toolName), blocking on
// elicitFn for a "prompt" resolution. args is pretty-printed into the
// elicitation message only; it is never otherwise interpreted. elicitFn may
// be nil, meaning the downstream client did not advertise elicitation
// support at all.
func (e *Engine) Enforce(ctx context.Context, source, toolName string, args map[string]any, elicitFn ElicitFunc) error {
	switch e.Resolve(source, toolName) {
	case config.PolicyNever:
		return &bridgeerr.PolicyError{Tool: toolName, Reason: "tool is disabled by policy"}
	case config.PolicyPrompt:
		return e.enforcePrompt(ctx, source, toolName, args, elicitFn)
	default:
		return nil
	}
}

func (e *Engine) enforcePrompt(ctx context.Context, source, toolName string, args map[string]any, elicitFn ElicitFunc) error {
	if elicitFn == nil {
		return &bridgeerr.PolicyError{Tool: toolName, Reason: "requires confirmation but the client does not support elicitation"}
	}

	pretty, err := json.MarshalIndent(args, "", "  ")
	if err != nil {
		pretty = []byte("{}")
	}
	message := fmt.Sprintf("Allow %s__%s to run with arguments:\n%s", source, toolName, string(pretty))

	result, err := elicitFn(ctx, message)
	if err != nil {
		return &bridgeerr.PolicyError{Tool: toolName, Reason: "requires confirmation but the client does not support elicitation"}
	}
	if result.Action != "accept" {
		return &bridgeerr.PolicyError{Tool: toolName, Reason: "declined by user"}
	}
	return nil
}
