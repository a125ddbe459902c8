// Package manager implements the Upstream Manager (spec.md §4.3): the set
// of upstream clients, concurrent connect/close fan-out, and config-diff
// driven reconciliation. Concurrency across clients is modelled with
// golang.org/x/sync/errgroup (grounded on the fan-out pattern in the
// reference tree's other_examples/Dub1n-mcp-proxy__http.go).
package manager

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/crabeye/mcp-bridge/internal/config"
	"github.com/crabeye/mcp-bridge/internal/logging"
	"github.com/crabeye/mcp-bridge/internal/registry"
	"github.com/crabeye/mcp-bridge/internal/upstream"
	"github.com/crabeye/mcp-bridge/pkg/types"
)

// ClientFactory constructs an upstream.Client for a named server config.
// Abstracted behind a factory so tests can inject fakes (spec.md §4.3:
// "construct each client via a factory to enable test injection of
// variants").
type ClientFactory func(name string, sc config.ServerConfig) *upstream.Client

// Status is the manager's per-client read-only view (spec.md §4.3).
type Status struct {
	Name      string
	Status    upstream.Status
	Health    Health
	ToolCount int
	LastPing  string
}

// ConnectResult summarises a connectAll call.
type ConnectResult struct {
	Total     int
	Connected int
	Failed    []string
}

type clientEntry struct {
	client            *upstream.Client
	cfg               config.ServerConfig
	unsubscribeStatus func()
	unsubscribeTools  func()
}

// Manager owns the set of upstream clients and runs the periodic health
// loop.
type Manager struct {
	mu       sync.RWMutex
	clients  map[string]*clientEntry
	cfg      *config.ResolvedConfig
	registry *registry.Registry
	factory  ClientFactory
	log      *logging.Logger

	health *healthLoop
}

// New constructs a Manager bound to reg: client tool/status observers
// feed registry.SetToolsForSource and registry.RemoveSource directly.
func New(reg *registry.Registry, factory ClientFactory, log *logging.Logger) *Manager {
	m := &Manager{
		clients:  make(map[string]*clientEntry),
		registry: reg,
		factory:  factory,
		log:      log.With("manager", ""),
	}
	m.health = newHealthLoop(m, log)
	return m
}

// ConnectAll resolves the configured upstream set, constructs a client per
// entry, wires registry observers, and connects every client concurrently.
// Individual failures never abort the others (spec.md §4.3).
func (m *Manager) ConnectAll(ctx context.Context, cfg *config.ResolvedConfig) ConnectResult {
	entries := make(map[string]*clientEntry, len(cfg.Servers))
	for name, sc := range cfg.Servers {
		entry := &clientEntry{client: m.factory(name, sc), cfg: sc}
		m.wireEntry(name, entry)
		entries[name] = entry
	}

	m.mu.Lock()
	m.cfg = cfg
	m.clients = entries
	m.mu.Unlock()

	return m.connectEntries(ctx, entries)
}

// connectEntries fans out Connect() across every entry concurrently via
// errgroup, collecting per-name failures without aborting the others.
func (m *Manager) connectEntries(ctx context.Context, entries map[string]*clientEntry) ConnectResult {
	var mu sync.Mutex
	result := ConnectResult{Total: len(entries)}

	var eg errgroup.Group
	for name, entry := range entries {
		name, entry := name, entry
		eg.Go(func() error {
			if err := entry.client.Connect(ctx); err != nil {
				mu.Lock()
				result.Failed = append(result.Failed, name)
				mu.Unlock()
				m.log.Warn("upstream connect failed", "server", name, "error", err)
				return nil
			}
			mu.Lock()
			result.Connected++
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait()
	return result
}

// wireEntry registers the registry-feeding observers spec.md §4.3
// requires: onToolsChanged -> registry.SetToolsForSource(namespaced), and
// onStatusChange(error) -> registry.RemoveSource.
func (m *Manager) wireEntry(name string, entry *clientEntry) {
	entry.unsubscribeTools = entry.client.OnToolsChanged(func(tools []types.Tool) {
		m.registry.SetToolsForSource(name, tools)
	})
	entry.unsubscribeStatus = entry.client.OnStatusChange(func(evt upstream.StatusEvent) {
		if evt.Current == upstream.StatusError {
			m.registry.RemoveSource(name)
		}
	})
	if entry.cfg.Bridge != nil && entry.cfg.Bridge.Category != "" {
		m.registry.SetCategoryForSource(name, entry.cfg.Bridge.Category)
	}
}

// CloseAll stops the health loop, unsubscribes every observer, closes
// every client concurrently (ignoring errors), and removes every source
// from the registry.
func (m *Manager) CloseAll() {
	m.health.stop()

	m.mu.Lock()
	entries := m.clients
	m.clients = make(map[string]*clientEntry)
	m.mu.Unlock()

	var wg sync.WaitGroup
	for name, entry := range entries {
		wg.Add(1)
		go func(name string, entry *clientEntry) {
			defer wg.Done()
			if entry.unsubscribeStatus != nil {
				entry.unsubscribeStatus()
			}
			if entry.unsubscribeTools != nil {
				entry.unsubscribeTools()
			}
			_ = entry.client.Close()
			m.registry.RemoveSource(name)
		}(name, entry)
	}
	wg.Wait()
}

// ApplyConfigDiff applies a computed diff in the ordered phases spec.md
// §4.3 requires: close+drop removed, reconnect changed, add new, update
// metadata-only.
func (m *Manager) ApplyConfigDiff(ctx context.Context, diff config.Diff, newCfg *config.ResolvedConfig) {
	m.mu.Lock()
	m.cfg = newCfg
	m.mu.Unlock()

	for _, name := range diff.Removed {
		m.removeEntry(name)
	}
	for _, name := range diff.Reconnect {
		sc, ok := newCfg.Servers[name]
		if !ok {
			continue
		}
		m.removeEntry(name)
		m.addEntry(ctx, name, sc)
	}
	for _, name := range diff.Added {
		sc, ok := newCfg.Servers[name]
		if !ok {
			continue
		}
		m.addEntry(ctx, name, sc)
	}
	for _, name := range diff.Updated {
		sc, ok := newCfg.Servers[name]
		if !ok {
			continue
		}
		m.mu.Lock()
		if entry, ok := m.clients[name]; ok {
			entry.cfg = sc
		}
		m.mu.Unlock()
		if sc.Bridge != nil && sc.Bridge.Category != "" {
			m.registry.SetCategoryForSource(name, sc.Bridge.Category)
		} else {
			m.registry.RemoveCategoryForSource(name)
		}
	}
}

func (m *Manager) removeEntry(name string) {
	m.mu.Lock()
	entry, ok := m.clients[name]
	if ok {
		delete(m.clients, name)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	if entry.unsubscribeStatus != nil {
		entry.unsubscribeStatus()
	}
	if entry.unsubscribeTools != nil {
		entry.unsubscribeTools()
	}
	_ = entry.client.Close()
	m.registry.RemoveSource(name)
	m.registry.RemoveCategoryForSource(name)
}

func (m *Manager) addEntry(ctx context.Context, name string, sc config.ServerConfig) {
	entry := &clientEntry{client: m.factory(name, sc), cfg: sc}
	m.wireEntry(name, entry)
	m.mu.Lock()
	m.clients[name] = entry
	m.mu.Unlock()
	if err := entry.client.Connect(ctx); err != nil {
		m.log.Warn("upstream connect failed", "server", name, "error", err)
	}
}

// GetClient returns the named client, if present.
func (m *Manager) GetClient(name string) (*upstream.Client, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.clients[name]
	if !ok {
		return nil, false
	}
	return entry.client, true
}

// GetStatuses returns a read-only snapshot of every client's status.
func (m *Manager) GetStatuses() []Status {
	m.mu.RLock()
	entries := make(map[string]*clientEntry, len(m.clients))
	for name, entry := range m.clients {
		entries[name] = entry
	}
	m.mu.RUnlock()

	out := make([]Status, 0, len(entries))
	for name, entry := range entries {
		health, lastPing := m.health.snapshot(name)
		out = append(out, Status{
			Name:      name,
			Status:    entry.client.Status(),
			Health:    health,
			ToolCount: len(entry.client.Tools()),
			LastPing:  lastPing,
		})
	}
	return out
}

// RestartHealthChecks stops the current health loop (if any) and starts a
// new one at the given interval in seconds; 0 disables it.
func (m *Manager) RestartHealthChecks(intervalSeconds int) {
	m.health.restart(intervalSeconds)
}

func (m *Manager) clientNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.clients))
	for name := range m.clients {
		names = append(names, name)
	}
	return names
}

func (m *Manager) clientByName(name string) (*upstream.Client, bool) {
	return m.GetClient(name)
}
