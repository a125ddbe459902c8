package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crabeye/mcp-bridge/internal/config"
	"github.com/crabeye/mcp-bridge/internal/registry"
	"github.com/crabeye/mcp-bridge/pkg/types"
)

type alwaysPolicy struct{ policy config.ToolPolicy }

func (p alwaysPolicy) Resolve(source, toolName string) config.ToolPolicy { return p.policy }

func newTestRegistry() *registry.Registry {
	reg := registry.New()
	reg.SetCategoryForSource("linear", "issues")
	reg.SetToolsForSource("linear", []types.Tool{
		{Name: "create_issue", Description: "Create a Linear issue"},
		{Name: "list_issues", Description: "List Linear issues"},
	})
	reg.SetToolsForSource("github", []types.Tool{
		{Name: "create_pr", Description: "Open a GitHub pull request"},
	})
	return reg
}

func TestSearchSummaryModeOmitsTools(t *testing.T) {
	reg := newTestRegistry()
	svc := New(reg, alwaysPolicy{config.PolicyAlways})

	resp := svc.Search(types.SearchToolsParams{Queries: []types.SearchToolsQuery{{Provider: "linear"}}})
	require.Len(t, resp.Results, 1)
	result := resp.Results[0]
	require.Len(t, result.Providers, 1)
	assert.Equal(t, "linear", result.Providers[0].Name)
	assert.Equal(t, 2, result.Providers[0].ToolCount)
	assert.Empty(t, result.Providers[0].Tools)
}

func TestSearchDetailModeTextQuery(t *testing.T) {
	reg := newTestRegistry()
	svc := New(reg, alwaysPolicy{config.PolicyAlways})

	resp := svc.Search(types.SearchToolsParams{Queries: []types.SearchToolsQuery{{Tool: "issue"}}})
	require.Len(t, resp.Results, 1)
	var names []string
	for _, p := range resp.Results[0].Providers {
		for _, tool := range p.Tools {
			names = append(names, tool.Name)
		}
	}
	assert.Contains(t, names, "linear__create_issue")
	assert.Contains(t, names, "linear__list_issues")
}

func TestSearchCrossQueryDedup(t *testing.T) {
	reg := newTestRegistry()
	svc := New(reg, alwaysPolicy{config.PolicyAlways})

	resp := svc.Search(types.SearchToolsParams{Queries: []types.SearchToolsQuery{
		{Tool: "issue"},
		{Tool: "issue"},
	}})
	require.Len(t, resp.Results, 2)
	assert.NotZero(t, resp.Results[0].Count)
	assert.Zero(t, resp.Results[1].Count)
}

func TestSearchNeverPolicyYieldsDisabledPlaceholder(t *testing.T) {
	reg := newTestRegistry()
	svc := New(reg, alwaysPolicy{config.PolicyNever})

	resp := svc.Search(types.SearchToolsParams{Queries: []types.SearchToolsQuery{{Provider: "linear", ExpandTools: true}}})
	require.Len(t, resp.Results, 1)
	require.NotEmpty(t, resp.Results[0].Providers)
	for _, tool := range resp.Results[0].Providers[0].Tools {
		assert.True(t, tool.Disabled)
		assert.Empty(t, tool.Description)
	}
}

func TestVisibleToolsAlwaysIncludesMetaTools(t *testing.T) {
	reg := registry.New()
	svc := New(reg, alwaysPolicy{config.PolicyAlways})

	visible := svc.VisibleTools()
	require.Len(t, visible, 2)
	assert.Equal(t, "search_tools", visible[0].Name)
	assert.Equal(t, "run_tool", visible[1].Name)
}

func TestInvalidRegexFilterYieldsEmptySet(t *testing.T) {
	reg := newTestRegistry()
	svc := New(reg, alwaysPolicy{config.PolicyAlways})

	resp := svc.Search(types.SearchToolsParams{Queries: []types.SearchToolsQuery{{Tool: "regex:("}}})
	require.Len(t, resp.Results, 1)
	assert.Zero(t, resp.Results[0].Total)
}
