// Package bridgeserver is the Bridge Server (spec.md §4.6): the downstream
// MCP face. It wraps a mark3labs/mcp-go server.MCPServer, keeps its
// registered tool set in lock-step with the search service's visible set
// (falling back to the full registry when no search service is wired),
// dispatches search_tools/run_tool and direct tool calls, and forwards
// tools/list_changed to the downstream client. Grounded on the teacher's
// internal/service/mcp/{mcp,tool}.go AddTool/DeleteTools wiring and
// InvokeTool routing, adapted from its gorm-backed server registry to this
// bridge's in-memory registry/search/policy/manager stack.
package bridgeserver

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/crabeye/mcp-bridge/internal/bridgeerr"
	"github.com/crabeye/mcp-bridge/internal/logging"
	"github.com/crabeye/mcp-bridge/internal/policy"
	"github.com/crabeye/mcp-bridge/internal/registry"
	"github.com/crabeye/mcp-bridge/internal/telemetry"
	"github.com/crabeye/mcp-bridge/internal/upstream"
	"github.com/crabeye/mcp-bridge/pkg/types"
)

// ToolCaller is the bridge server's view of the Upstream Manager.
type ToolCaller interface {
	GetClient(name string) (*upstream.Client, bool)
}

// PolicyEnforcer is the bridge server's view of the Policy Engine.
type PolicyEnforcer interface {
	Enforce(ctx context.Context, source, toolName string, args map[string]any, elicitFn policy.ElicitFunc) error
}

// Searcher is the bridge server's view of the Tool Search Service.
type Searcher interface {
	Search(params types.SearchToolsParams) types.SearchToolsResponse
	VisibleTools() []types.Tool
	OnVisibleChanged(fn func()) func()
}

// Options configures New.
type Options struct {
	Name    string
	Version string

	Registry *registry.Registry
	Search   Searcher // optional; nil falls back to the full registry list
	Policy   PolicyEnforcer
	Manager  ToolCaller
	Log      *logging.Logger

	// Metrics records tool-call outcomes; nil falls back to a no-op.
	Metrics telemetry.CustomMetrics
}

// Server is the Bridge Server.
type Server struct {
	mcpServer *server.MCPServer
	reg       *registry.Registry
	search    Searcher
	policy    PolicyEnforcer
	manager   ToolCaller
	log       *logging.Logger
	metrics   telemetry.CustomMetrics

	unsubRegistry func()
	unsubSearch   func()

	mu         sync.Mutex
	registered map[string]struct{}
}

// New builds a Server and performs the initial tool-set sync.
func New(opts Options) *Server {
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewNoopCustomMetrics()
	}
	s := &Server{
		reg:        opts.Registry,
		search:     opts.Search,
		policy:     opts.Policy,
		manager:    opts.Manager,
		log:        opts.Log.With("bridgeserver", ""),
		metrics:    metrics,
		registered: make(map[string]struct{}),
	}

	s.mcpServer = server.NewMCPServer(
		opts.Name,
		opts.Version,
		server.WithToolCapabilities(true),
	)

	s.syncTools()
	if s.search != nil {
		s.unsubSearch = s.search.OnVisibleChanged(s.onVisibleChanged)
	} else if s.reg != nil {
		s.unsubRegistry = s.reg.OnChanged(s.onVisibleChanged)
	}

	return s
}

// Close unsubscribes from whichever source the server was watching.
func (s *Server) Close() {
	if s.unsubSearch != nil {
		s.unsubSearch()
	}
	if s.unsubRegistry != nil {
		s.unsubRegistry()
	}
}

// ServeStdio blocks, serving the downstream MCP session over stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// onVisibleChanged re-syncs the registered tool set and notifies the
// downstream client. The notification error (no client connected yet) is
// swallowed, per spec.md §4.6.
func (s *Server) onVisibleChanged() {
	s.syncTools()
}

// visibleTools returns the search service's visible set, or every
// registered tool when no search service is wired (spec.md §4.6
// fallback).
func (s *Server) visibleTools() []types.Tool {
	if s.search != nil {
		return s.search.VisibleTools()
	}
	if s.reg == nil {
		return nil
	}
	return s.reg.ListTools()
}

// syncTools diffs the desired visible set against the mcp-go server's
// current registered tools, adding/removing only what changed, then
// triggers a tools/list_changed notification downstream.
func (s *Server) syncTools() {
	desired := s.visibleTools()

	s.mu.Lock()
	prev := s.registered
	next := make(map[string]struct{}, len(desired))
	var toAdd []types.Tool
	for _, t := range desired {
		next[t.Name] = struct{}{}
		if _, ok := prev[t.Name]; !ok {
			toAdd = append(toAdd, t)
		}
	}
	var toRemove []string
	for name := range prev {
		if _, ok := next[name]; !ok {
			toRemove = append(toRemove, name)
		}
	}
	s.registered = next
	s.mu.Unlock()

	for _, t := range toAdd {
		mcpTool, err := toMCPTool(t)
		if err != nil {
			s.log.Warn("failed to convert tool for registration", "tool", t.Name, "error", err)
			continue
		}
		s.mcpServer.AddTool(mcpTool, s.handleToolCall)
	}
	if len(toRemove) > 0 {
		s.mcpServer.DeleteTools(toRemove...)
	}
}

// toMCPTool converts the bridge's Tool DTO into mcp-go's wire type,
// grounded on the teacher's convertToolModelToMcpObject.
func toMCPTool(t types.Tool) (mcp.Tool, error) {
	schema := mcp.ToolInputSchema{
		Type:       t.InputSchema.Type,
		Properties: t.InputSchema.Properties,
		Required:   t.InputSchema.Required,
	}
	if schema.Type == "" {
		schema.Type = "object"
	}
	return mcp.Tool{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: schema,
	}, nil
}

// handleToolCall is the single handler registered for every tool the
// bridge server exposes; it dispatches on name.
func (s *Server) handleToolCall(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	switch req.Params.Name {
	case "search_tools":
		return s.handleSearchTools(req)
	case "run_tool":
		return s.handleRunTool(ctx, req)
	default:
		return s.routeToolCall(ctx, req.Params.Name, toArgsMap(req.Params.Arguments))
	}
}

func toArgsMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

// handleSearchTools validates and dispatches search_tools, per spec.md
// §4.6: parameter errors are isError:true content, never protocol errors.
func (s *Server) handleSearchTools(req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := json.Marshal(req.Params.Arguments)
	if err != nil {
		return mcp.NewToolResultError("invalid arguments: " + err.Error()), nil
	}
	var params types.SearchToolsParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return mcp.NewToolResultError("invalid arguments: " + err.Error()), nil
	}
	if len(params.Queries) == 0 {
		return mcp.NewToolResultError("queries must be a non-empty array"), nil
	}
	for i, q := range params.Queries {
		if q.Tool == "" && q.Provider == "" && q.Category == "" {
			return mcp.NewToolResultError(fmt.Sprintf("queries[%d] must set at least one of tool, provider, category", i)), nil
		}
	}

	if s.search == nil {
		return mcp.NewToolResultError("search is not available"), nil
	}
	resp := s.search.Search(params)
	encoded, err := json.Marshal(resp)
	if err != nil {
		return mcp.NewToolResultError("failed to encode search results: " + err.Error()), nil
	}
	return mcp.NewToolResultText(string(encoded)), nil
}

// handleRunTool extracts name/arguments and routes exactly like a direct
// tool call (spec.md §4.6).
func (s *Server) handleRunTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := toArgsMap(req.Params.Arguments)
	name, _ := args["name"].(string)
	if name == "" {
		return mcp.NewToolResultError("name is required"), nil
	}
	toolArgs, _ := args["arguments"].(map[string]any)
	return s.routeToolCall(ctx, name, toolArgs)
}

// routeToolCall implements spec.md §4.6's routing: split the namespace,
// confirm the tool is registered, enforce policy, resolve the upstream
// client, delegate the call with the original tool name, and wrap errors
// with diagnostic context. Used identically by a direct tool call and by
// run_tool, so run_tool cannot reach an upstream through a tool name that
// was never (or is no longer) registered.
func (s *Server) routeToolCall(ctx context.Context, namespaced string, args map[string]any) (*mcp.CallToolResult, error) {
	start := time.Now()
	requestID := uuid.NewString()
	metrics := s.metrics
	if metrics == nil {
		metrics = telemetry.NewNoopCustomMetrics()
	}
	source, toolName, ok := registry.SplitNamespace(namespaced)
	if !ok {
		metrics.RecordToolCall(ctx, "", namespaced, telemetry.ToolCallOutcomeError, time.Since(start))
		return nil, &bridgeerr.ProtocolError{
			Code: bridgeerr.CodeInvalidParams,
			Msg:  fmt.Sprintf("tool name %q is not namespaced", namespaced),
		}
	}

	log := s.log.WithFields("request_id", requestID, "source", source, "tool", toolName)

	if s.reg != nil {
		if _, _, ok := s.reg.GetTool(namespaced); !ok {
			metrics.RecordToolCall(ctx, source, toolName, telemetry.ToolCallOutcomeError, time.Since(start))
			log.Warn("tool call rejected: not registered")
			return nil, &bridgeerr.ProtocolError{
				Code: bridgeerr.CodeInvalidParams,
				Msg:  fmt.Sprintf("tool %q is not registered", namespaced),
			}
		}
	}

	if s.policy != nil {
		if err := s.policy.Enforce(ctx, source, toolName, args, s.elicitFunc(ctx)); err != nil {
			metrics.RecordToolCall(ctx, source, toolName, telemetry.ToolCallOutcomeDenied, time.Since(start))
			log.Info("tool call denied by policy", "error", err)
			return nil, &bridgeerr.ProtocolError{
				Code: bridgeerr.CodeInvalidRequest,
				Msg:  err.Error(),
				Err:  err,
			}
		}
	}

	client, ok := s.manager.GetClient(source)
	if !ok || client.Status() != upstream.StatusConnected {
		metrics.RecordToolCall(ctx, source, toolName, telemetry.ToolCallOutcomeError, time.Since(start))
		log.Warn("tool call rejected: upstream not connected")
		return nil, &bridgeerr.ProtocolError{
			Code: bridgeerr.CodeInternalError,
			Msg:  fmt.Sprintf("upstream server %q is not connected", source),
		}
	}

	result, err := client.CallTool(ctx, toolName, args)
	if err != nil {
		metrics.RecordToolCall(ctx, source, toolName, telemetry.ToolCallOutcomeError, time.Since(start))
		log.Warn("tool call failed", "error", err)
		wrapped := &bridgeerr.UpstreamCallError{Server: source, Tool: toolName, Err: err}
		return nil, &bridgeerr.ProtocolError{
			Code: bridgeerr.CodeInternalError,
			Msg:  fmt.Sprintf("Upstream server %q error: %v", source, err),
			Err:  wrapped,
		}
	}
	metrics.RecordToolCall(ctx, source, toolName, telemetry.ToolCallOutcomeSuccess, time.Since(start))
	log.Debug("tool call succeeded", "duration_ms", time.Since(start).Milliseconds())
	return toCallToolResult(result), nil
}

// elicitFunc adapts the downstream client session (if any) into a
// policy.ElicitFunc. Most downstream clients do not implement
// elicitation; this degrades to "unsupported" for any session that
// doesn't satisfy the elicitor interface, matching spec.md §4.5's
// intended failure mode without depending on an unconfirmed mcp-go API.
func (s *Server) elicitFunc(ctx context.Context) policy.ElicitFunc {
	sess := server.ClientSessionFromContext(ctx)
	if sess == nil {
		return nil
	}
	el, ok := sess.(elicitor)
	if !ok {
		return nil
	}
	return func(ctx context.Context, message string) (policy.ElicitResult, error) {
		action, err := el.Elicit(ctx, message)
		if err != nil {
			return policy.ElicitResult{}, err
		}
		return policy.ElicitResult{Action: action}, nil
	}
}

// elicitor is satisfied by a downstream session capable of issuing an MCP
// elicitation request. No session type in the reference tree implements
// it today; the type assertion in elicitFunc simply fails for those,
// which is the desired "client does not support elicitation" behaviour.
type elicitor interface {
	Elicit(ctx context.Context, message string) (action string, err error)
}

// toCallToolResult converts the upstream's ToolInvokeResult into mcp-go's
// wire type, preserving content and error flags verbatim.
func toCallToolResult(r *types.ToolInvokeResult) *mcp.CallToolResult {
	if r == nil {
		return mcp.NewToolResultText("")
	}
	content := make([]mcp.Content, 0, len(r.Content))
	for _, c := range r.Content {
		content = append(content, mapToContent(c))
	}
	return &mcp.CallToolResult{
		Content: content,
		IsError: r.IsError,
	}
}

// mapToContent converts one loosely-typed content block back into an
// mcp.Content implementation. Only "text" is round-tripped losslessly
// today; anything else is re-encoded as JSON text so no data is dropped.
func mapToContent(c map[string]any) mcp.Content {
	if kind, _ := c["type"].(string); kind == "text" {
		if text, ok := c["text"].(string); ok {
			return mcp.NewTextContent(text)
		}
	}
	encoded, err := json.Marshal(c)
	if err != nil {
		return mcp.NewTextContent(fmt.Sprintf("%v", c))
	}
	return mcp.NewTextContent(string(encoded))
}

// ListTools exposes the current visible tool set sorted by name.
func (s *Server) ListTools() []types.Tool {
	tools := s.visibleTools()
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name < tools[j].Name })
	return tools
}
