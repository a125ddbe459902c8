package registry

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crabeye/mcp-bridge/pkg/types"
)

func tool(name string) types.Tool {
	return types.Tool{Name: name, InputSchema: types.ToolInputSchema{Type: "object"}}
}

func TestSetToolsForSourceOwnership(t *testing.T) {
	r := New()
	r.SetToolsForSource("linear", []types.Tool{tool("create_issue"), tool("list_issues")})

	got, source, ok := r.GetTool("linear__create_issue")
	require.True(t, ok)
	assert.Equal(t, "linear", source)
	assert.Equal(t, "linear__create_issue", got.Name)

	assert.ElementsMatch(t, []string{"linear"}, r.ListSources())
	assert.Len(t, r.ListTools(), 2)
}

func TestSetToolsForSourceReplacesPreviousSet(t *testing.T) {
	r := New()
	r.SetToolsForSource("linear", []types.Tool{tool("a"), tool("b")})
	r.SetToolsForSource("linear", []types.Tool{tool("b"), tool("c")})

	_, _, aExists := r.GetTool("linear__a")
	assert.False(t, aExists)

	_, _, bExists := r.GetTool("linear__b")
	assert.True(t, bExists)
	_, _, cExists := r.GetTool("linear__c")
	assert.True(t, cExists)
}

// TestRemoveSourceNeverSteals is spec.md §8 property 3 / S-style scenario:
// source A owns x, source B claims x via SetToolsForSource, then A is
// removed — x must remain owned by B.
func TestRemoveSourceNeverSteals(t *testing.T) {
	r := New()
	r.SetToolsForSource("a", []types.Tool{tool("x")})
	r.SetToolsForSource("b", []types.Tool{tool("x")})

	r.RemoveSource("a")

	got, source, ok := r.GetTool("b__x")
	require.True(t, ok)
	assert.Equal(t, "b", source)
	assert.Equal(t, "b__x", got.Name)
}

func TestRemoveSourceRemovesOwnedEntries(t *testing.T) {
	r := New()
	r.SetToolsForSource("linear", []types.Tool{tool("a")})
	r.RemoveSource("linear")

	_, _, ok := r.GetTool("linear__a")
	assert.False(t, ok)
	assert.Empty(t, r.ListSources())
}

func TestRemoveSourceNotifiesOnlyOnActualRemoval(t *testing.T) {
	r := New()
	var calls int32
	r.OnChanged(func() { atomic.AddInt32(&calls, 1) })

	r.RemoveSource("never-registered")
	assert.Equal(t, int32(0), calls)

	r.SetToolsForSource("linear", []types.Tool{tool("a")})
	assert.Equal(t, int32(1), calls)

	r.RemoveSource("linear")
	assert.Equal(t, int32(2), calls)
}

func TestOnChangedSwallowsPanics(t *testing.T) {
	r := New()
	var secondCalled bool
	r.OnChanged(func() { panic("boom") })
	r.OnChanged(func() { secondCalled = true })

	assert.NotPanics(t, func() {
		r.SetToolsForSource("linear", []types.Tool{tool("a")})
	})
	assert.True(t, secondCalled)
}

func TestUnsubscribeStopsFurtherNotifications(t *testing.T) {
	r := New()
	var calls int32
	unsubscribe := r.OnChanged(func() { atomic.AddInt32(&calls, 1) })
	unsubscribe()

	r.SetToolsForSource("linear", []types.Tool{tool("a")})
	assert.Equal(t, int32(0), calls)
}

func TestCategoryLifetimeIndependentOfTools(t *testing.T) {
	r := New()
	r.SetCategoryForSource("linear", "issue-tracking")

	cat, ok := r.GetCategoryForSource("linear")
	require.True(t, ok)
	assert.Equal(t, "issue-tracking", cat)

	r.RemoveSource("linear") // never had tools; category persists regardless
	cat, ok = r.GetCategoryForSource("linear")
	require.True(t, ok)
	assert.Equal(t, "issue-tracking", cat)

	r.RemoveCategoryForSource("linear")
	_, ok = r.GetCategoryForSource("linear")
	assert.False(t, ok)
}
