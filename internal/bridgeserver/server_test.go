package bridgeserver

import (
	"context"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crabeye/mcp-bridge/internal/logging"
	"github.com/crabeye/mcp-bridge/internal/registry"
	"github.com/crabeye/mcp-bridge/internal/upstream"
	"github.com/crabeye/mcp-bridge/pkg/types"
)

func testLogger(t *testing.T) *logging.Logger {
	t.Helper()
	log, err := logging.New("error", logging.FormatJSON)
	require.NoError(t, err)
	return log
}

// fakeManager is a minimal ToolCaller double.
type fakeManager struct {
	clients map[string]*upstream.Client
}

func (f *fakeManager) GetClient(name string) (*upstream.Client, bool) {
	c, ok := f.clients[name]
	return c, ok
}

func newCallRequest(name string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Request: mcp.Request{Method: "tools/call"},
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func TestRouteToolCallUnnamespacedIsInvalidParams(t *testing.T) {
	reg := registry.New()
	s := &Server{reg: reg, log: testLogger(t), registered: map[string]struct{}{}}

	_, err := s.routeToolCall(context.Background(), "no_separator_here", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not namespaced")
}

func TestRouteToolCallUnknownUpstreamIsInternalError(t *testing.T) {
	reg := registry.New()
	reg.SetToolsForSource("svc", []types.Tool{{Name: "tool"}})
	mgr := &fakeManager{clients: map[string]*upstream.Client{}}
	s := &Server{reg: reg, manager: mgr, log: testLogger(t), registered: map[string]struct{}{}}

	_, err := s.routeToolCall(context.Background(), "svc__tool", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")
}

// TestRouteToolCallUnregisteredToolIsInvalidParams is spec.md §4.6: both a
// direct tool call and run_tool must confirm the target tool is present in
// the registry before routing, even when its source is otherwise reachable.
func TestRouteToolCallUnregisteredToolIsInvalidParams(t *testing.T) {
	reg := registry.New()
	reg.SetToolsForSource("svc", []types.Tool{{Name: "other_tool"}})
	mgr := &fakeManager{clients: map[string]*upstream.Client{}}
	s := &Server{reg: reg, manager: mgr, log: testLogger(t), registered: map[string]struct{}{}}

	_, err := s.routeToolCall(context.Background(), "svc__missing_tool", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")
}

// TestHandleRunToolRejectsUnregisteredTool guards run_tool specifically,
// since (unlike a direct call) mcp-go never validates its caller-supplied
// name against the set of tools added via AddTool.
func TestHandleRunToolRejectsUnregisteredTool(t *testing.T) {
	reg := registry.New()
	mgr := &fakeManager{clients: map[string]*upstream.Client{}}
	s := &Server{reg: reg, manager: mgr, log: testLogger(t), registered: map[string]struct{}{}}

	_, err := s.handleRunTool(context.Background(), newCallRequest("run_tool", map[string]any{
		"name": "svc__missing_tool",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")
}

func TestHandleSearchToolsRejectsEmptyQueries(t *testing.T) {
	s := &Server{log: testLogger(t), registered: map[string]struct{}{}}
	result, err := s.handleSearchTools(newCallRequest("search_tools", map[string]any{"queries": []any{}}))
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.IsError)
}

func TestHandleSearchToolsRejectsQueryWithNoFilter(t *testing.T) {
	s := &Server{log: testLogger(t), registered: map[string]struct{}{}}
	result, err := s.handleSearchTools(newCallRequest("search_tools", map[string]any{
		"queries": []any{map[string]any{}},
	}))
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.IsError)
}

func TestHandleRunToolRequiresName(t *testing.T) {
	s := &Server{log: testLogger(t), registered: map[string]struct{}{}}
	result, err := s.handleRunTool(context.Background(), newCallRequest("run_tool", map[string]any{}))
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.IsError)
}

func TestToCallToolResultRoundTripsTextContent(t *testing.T) {
	r := &types.ToolInvokeResult{
		Content: []map[string]any{{"type": "text", "text": "hello"}},
	}
	result := toCallToolResult(r)
	require.Len(t, result.Content, 1)
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		ptc, ok2 := result.Content[0].(*mcp.TextContent)
		require.True(t, ok2)
		tc = *ptc
	}
	assert.Equal(t, "hello", tc.Text)
}
