// Package registry implements the Tool Registry: the authoritative,
// multi-source, observable table mapping every namespaced tool name to the
// upstream that currently owns it.
package registry

import (
	"sync"

	"github.com/crabeye/mcp-bridge/pkg/types"
)

// entry is one row of the main table: a tool plus the source that
// currently owns its namespaced name.
type entry struct {
	source string
	tool   types.Tool
}

// ChangedCallback is invoked after any registry mutation that changed the
// effective set of tools. Panics inside a callback are recovered so one bad
// observer never blocks the next (mirrors the teacher's swallowed-error
// callback contract for tool addition/deletion hooks).
type ChangedCallback func()

// Registry is the multi-source tool table described in spec.md §4.1.
type Registry struct {
	mu sync.RWMutex

	// tools maps namespaced name -> entry. Invariant (a)/(b): every name
	// here is present in bysource[entry.source], and in no other
	// source's set.
	tools map[string]entry

	// bySource maps source -> set of namespaced names it currently owns.
	bySource map[string]map[string]struct{}

	// categories maps source -> category string, independent of whether
	// the source currently owns any tools.
	categories map[string]string

	observers []ChangedCallback
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		tools:      make(map[string]entry),
		bySource:   make(map[string]map[string]struct{}),
		categories: make(map[string]string),
	}
}

// SetToolsForSource atomically removes every tool previously owned by
// source and installs the new set, asserting ownership of every name in
// tools even if another source had claimed it in the interim (last writer
// wins, per spec.md §3). Always fires a change notification.
func (r *Registry) SetToolsForSource(source string, tools []types.Tool) {
	r.mu.Lock()

	for name := range r.bySource[source] {
		if e, ok := r.tools[name]; ok && e.source == source {
			delete(r.tools, name)
		}
	}

	names := make(map[string]struct{}, len(tools))
	for _, t := range tools {
		namespaced := Namespace(source, t.Name)
		r.tools[namespaced] = entry{source: source, tool: withNamespacedName(t, namespaced)}
		names[namespaced] = struct{}{}
	}
	r.bySource[source] = names

	r.mu.Unlock()
	r.notify()
}

// RemoveSource removes every entry still owned by source, leaving intact
// any entry source once owned but whose ownership has since moved to a
// different source via a later SetToolsForSource call (spec.md §8 property
// 3). Fires a notification only if something was actually removed.
func (r *Registry) RemoveSource(source string) {
	r.mu.Lock()
	names, ok := r.bySource[source]
	if !ok || len(names) == 0 {
		r.mu.Unlock()
		return
	}
	removed := false
	for name := range names {
		if e, ok := r.tools[name]; ok && e.source == source {
			delete(r.tools, name)
			removed = true
		}
	}
	delete(r.bySource, source)
	r.mu.Unlock()

	if removed {
		r.notify()
	}
}

// SetCategoryForSource records the category string for a source. Category
// lifetime is independent of the source's current tool ownership.
func (r *Registry) SetCategoryForSource(source, category string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.categories[source] = category
}

// GetCategoryForSource returns the category for source, and whether one is
// set.
func (r *Registry) GetCategoryForSource(source string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cat, ok := r.categories[source]
	return cat, ok
}

// RemoveCategoryForSource deletes the category recorded for source, if any.
func (r *Registry) RemoveCategoryForSource(source string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.categories, source)
}

// GetTool returns the registered tool and its owning source by namespaced
// name.
func (r *Registry) GetTool(name string) (types.Tool, string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[name]
	if !ok {
		return types.Tool{}, "", false
	}
	return e.tool, e.source, true
}

// ListTools returns every registered tool across every source, in
// unspecified order.
func (r *Registry) ListTools() []types.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.Tool, 0, len(r.tools))
	for _, e := range r.tools {
		out = append(out, e.tool)
	}
	return out
}

// RegisteredTool pairs a tool with the source that currently owns it, for
// callers (e.g. the search indexer) that need both.
type RegisteredTool struct {
	Tool   types.Tool
	Source string
}

// ListRegisteredTools returns every (tool, source) pair in the registry.
func (r *Registry) ListRegisteredTools() []RegisteredTool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RegisteredTool, 0, len(r.tools))
	for _, e := range r.tools {
		out = append(out, RegisteredTool{Tool: e.tool, Source: e.source})
	}
	return out
}

// ListSources returns every source name that currently owns at least one
// tool.
func (r *Registry) ListSources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.bySource))
	for source, names := range r.bySource {
		if len(names) > 0 {
			out = append(out, source)
		}
	}
	return out
}

// OnChanged registers an observer invoked after every mutation that alters
// the registry. It returns an unsubscribe function.
func (r *Registry) OnChanged(cb ChangedCallback) (unsubscribe func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := len(r.observers)
	r.observers = append(r.observers, cb)
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if idx < len(r.observers) {
			r.observers[idx] = nil
		}
	}
}

// notify invokes every live observer, recovering from panics so one
// misbehaving observer cannot block the rest.
func (r *Registry) notify() {
	r.mu.RLock()
	observers := make([]ChangedCallback, len(r.observers))
	copy(observers, r.observers)
	r.mu.RUnlock()

	for _, cb := range observers {
		if cb == nil {
			continue
		}
		invokeSafely(cb)
	}
}

func invokeSafely(cb ChangedCallback) {
	defer func() { _ = recover() }()
	cb()
}

func withNamespacedName(t types.Tool, namespaced string) types.Tool {
	t.Name = namespaced
	return t
}
