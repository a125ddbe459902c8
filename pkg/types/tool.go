// Package types holds the wire-facing data transfer objects shared between
// the bridge's internal packages: tools, search results and the small set
// of DTOs that cross a package boundary without needing package-private
// bookkeeping fields.
package types

import "encoding/json"

// ToolInputSchema is the JSON-schema object describing a tool's input
// parameters. The bridge never interprets it beyond pass-through, but it is
// typed here because the bridge server reads its Type/Properties/Required
// fields when registering the tool with its downstream MCP server.
type ToolInputSchema struct {
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties,omitempty"`
	Required   []string       `json:"required,omitempty"`
}

// Tool is a tool definition as the bridge hands it to the downstream MCP
// client. Tools held by the registry carry their namespaced name (e.g.
// "linear__create_issue"); an upstream session's tool list and the two
// meta-tools use unnamespaced names.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema ToolInputSchema `json:"input_schema"`
	Annotations map[string]any  `json:"annotations,omitempty"`

	// Disabled is set on placeholder entries returned by search when the
	// policy engine resolves the tool to "never" — the tool is visible in
	// search results but cannot be auto-enabled or called.
	Disabled bool `json:"disabled,omitempty"`
}

// ToolInvokeResult is the result of a tool call, shaped for direct
// re-serialization as the content of a run_tool / direct tool call response.
type ToolInvokeResult struct {
	Meta    map[string]any `json:"_meta,omitempty"`
	IsError bool           `json:"isError,omitempty"`

	Content           []map[string]any `json:"content"`
	StructuredContent any              `json:"structuredContent,omitempty"`
}

// RawSchema marshals an arbitrary schema value into json.RawMessage. The
// upstream session decodes the result into ToolInputSchema, so schema
// keywords other than type/properties/required are not kept.
func RawSchema(v any) (json.RawMessage, error) {
	return json.Marshal(v)
}
