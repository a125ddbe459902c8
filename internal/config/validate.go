package config

import "fmt"

// Validate checks structural requirements Load cannot enforce by shape
// alone: a server must be either stdio or HTTP-like, never neither, and
// every tool policy value (global, per-server, per-tool) must be one of
// the three recognised enum values.
func Validate(cfg *ResolvedConfig) error {
	if _, err := ValidateToolPolicy(string(cfg.Bridge.ToolPolicy)); err != nil {
		return fmt.Errorf("_bridge.toolPolicy: %w", err)
	}

	for name, sc := range cfg.Servers {
		if sc.Transport == "" {
			return fmt.Errorf("server %q: must specify either command (stdio) or url (http/sse)", name)
		}
		if sc.Transport != TransportStdio && sc.URL == "" {
			return fmt.Errorf("server %q: url is required for transport %q", name, sc.Transport)
		}
		if sc.Bridge == nil {
			continue
		}
		if sc.Bridge.ToolPolicy != "" {
			if _, err := ValidateToolPolicy(string(sc.Bridge.ToolPolicy)); err != nil {
				return fmt.Errorf("server %q: _bridge.toolPolicy: %w", name, err)
			}
		}
		for tool, policy := range sc.Bridge.Tools {
			if _, err := ValidateToolPolicy(string(policy)); err != nil {
				return fmt.Errorf("server %q: _bridge.tools[%q]: %w", name, tool, err)
			}
		}
	}
	return nil
}
