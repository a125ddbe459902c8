package search

import "github.com/crabeye/mcp-bridge/pkg/types"

// SearchToolsMetaTool and RunToolMetaTool are the two synthetic tools
// registered unconditionally, ahead of the enabled set, in every
// tools/list response (spec.md §4.4, §4.6). Definitions fixed: schema
// style grounded on the pack's own meta-tool conventions (see
// golovatskygroup-mcp-lens's BuiltinTools in the reference tree).

func SearchToolsMetaTool() types.Tool {
	return types.Tool{
		Name:        "search_tools",
		Description: "Search the tools exposed by every connected upstream server. Accepts one or more query objects; each may filter by tool name/description (text or regex:/pattern/), provider, or category, in summary or detail mode.",
		InputSchema: types.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"queries": map[string]any{
					"type":        "array",
					"description": "Non-empty list of query objects.",
					"minItems":    1,
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"tool":         map[string]any{"type": "string", "description": "Text query, or regex:<pattern> / /pattern/flags."},
							"provider":     map[string]any{"type": "string", "description": "Upstream server name prefix or regex."},
							"category":     map[string]any{"type": "string", "description": "Server category prefix or regex."},
							"expand_tools": map[string]any{"type": "boolean", "description": "Return matching tools instead of a provider summary."},
							"limit":        map[string]any{"type": "integer", "description": "Page size, default 10, max 50."},
							"offset":       map[string]any{"type": "integer", "description": "Page offset, default 0."},
						},
					},
				},
			},
			Required: []string{"queries"},
		},
	}
}

func RunToolMetaTool() types.Tool {
	return types.Tool{
		Name:        "run_tool",
		Description: "Invoke a tool found via search_tools. Equivalent to calling the namespaced tool directly, but callable even before it appears in the enabled set.",
		InputSchema: types.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"name":      map[string]any{"type": "string", "description": "Namespaced tool name, e.g. linear__create_issue."},
				"arguments": map[string]any{"type": "object", "description": "Arguments forwarded to the tool."},
			},
			Required: []string{"name"},
		},
	}
}
