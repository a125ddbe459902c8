package config

import (
	"encoding/json"
	"reflect"
	"sort"
)

// Diff is the structured change set between two resolved configs, per
// spec.md §3/§4.7.
type Diff struct {
	Added     []string
	Removed   []string
	Reconnect []string
	Updated   []string

	BridgeLogLevel            *string
	BridgeHealthCheckInterval *int
	BridgeToolPolicy          *ToolPolicy
	RequiresRestart           []string
}

// requiresRestartBridgeFields lists the BridgeConfig fields that are
// reported in RequiresRestart rather than hot-applied; logLevel,
// healthCheckInterval and toolPolicy are the hot-reloadable ones.
var requiresRestartBridgeFields = []string{"port", "logFormat", "maxUpstreamConnections", "connectionTimeout", "idleTimeout"}

// ComputeDiff compares the old and new resolved configs. Server names are
// compared for membership, then surviving names are compared on their
// connection-identifying fields only (command/args/env for stdio,
// type/url/headers for HTTP) to decide reconnect vs. metadata-only update.
func ComputeDiff(oldCfg, newCfg *ResolvedConfig) Diff {
	var d Diff

	for name := range newCfg.Servers {
		if _, ok := oldCfg.Servers[name]; !ok {
			d.Added = append(d.Added, name)
		}
	}
	for name := range oldCfg.Servers {
		if _, ok := newCfg.Servers[name]; !ok {
			d.Removed = append(d.Removed, name)
		}
	}
	for name, newSC := range newCfg.Servers {
		oldSC, ok := oldCfg.Servers[name]
		if !ok {
			continue
		}
		if !stableEqual(oldSC.connectionFields(), newSC.connectionFields()) {
			d.Reconnect = append(d.Reconnect, name)
		} else if !stableEqual(oldSC.Bridge, newSC.Bridge) {
			d.Updated = append(d.Updated, name)
		}
	}

	sort.Strings(d.Added)
	sort.Strings(d.Removed)
	sort.Strings(d.Reconnect)
	sort.Strings(d.Updated)

	if oldCfg.Bridge.LogLevel != newCfg.Bridge.LogLevel {
		v := newCfg.Bridge.LogLevel
		d.BridgeLogLevel = &v
	}
	if oldCfg.Bridge.HealthCheckInterval != newCfg.Bridge.HealthCheckInterval {
		v := newCfg.Bridge.HealthCheckInterval
		d.BridgeHealthCheckInterval = &v
	}
	if oldCfg.Bridge.ToolPolicy != newCfg.Bridge.ToolPolicy {
		v := newCfg.Bridge.ToolPolicy
		d.BridgeToolPolicy = &v
	}

	oldFields := restartFieldValues(oldCfg.Bridge)
	newFields := restartFieldValues(newCfg.Bridge)
	for _, field := range requiresRestartBridgeFields {
		if oldFields[field] != newFields[field] {
			d.RequiresRestart = append(d.RequiresRestart, field)
		}
	}

	return d
}

func restartFieldValues(b BridgeConfig) map[string]any {
	return map[string]any{
		"port":                   b.Port,
		"logFormat":              b.LogFormat,
		"maxUpstreamConnections": b.MaxUpstreamConnections,
		"connectionTimeout":      b.ConnectionTimeout,
		"idleTimeout":            b.IdleTimeout,
	}
}

// IsEmpty reports whether the diff carries no changes at all, which backs
// the idempotence property diff(c,c) == empty from spec.md §8.
func (d Diff) IsEmpty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Reconnect) == 0 && len(d.Updated) == 0 &&
		d.BridgeLogLevel == nil && d.BridgeHealthCheckInterval == nil && d.BridgeToolPolicy == nil &&
		len(d.RequiresRestart) == 0
}

// stableEqual compares two values by their key-sorted JSON encoding, so
// map key order never produces a spurious inequality. nil encodes as
// "null", so it is distinguished from a present-but-empty value ("{}" or
// "[]").
func stableEqual(a, b any) bool {
	return stableJSON(a) == stableJSON(b)
}

// StableJSON exposes stableJSON for callers outside this package (the
// config watcher uses it to short-circuit reloads that didn't actually
// change anything).
func StableJSON(v any) string {
	return stableJSON(v)
}

// stableJSON marshals v into a canonical, key-sorted JSON string.
func stableJSON(v any) string {
	if isNilValue(v) {
		return "null"
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return string(raw)
	}
	sorted, err := json.Marshal(canonicalize(generic))
	if err != nil {
		return string(raw)
	}
	return string(sorted)
}

func isNilValue(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Interface:
		return rv.IsNil()
	default:
		return false
	}
}

// canonicalize recursively copies nested map[string]any and []any values.
// It does not sort anything itself: the key order of the final encoding
// comes from encoding/json, which writes map keys in sorted order.
func canonicalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, sub := range val {
			out[k] = canonicalize(sub)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, sub := range val {
			out[i] = canonicalize(sub)
		}
		return out
	default:
		return val
	}
}
