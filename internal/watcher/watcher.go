// Package watcher implements the config file watcher described in
// spec.md §4.7: watches the directory containing the config file (more
// reliable across OSes for atomic rename replacements), debounces bursts
// of filesystem events, coalesces concurrent reloads, and short-circuits
// when the reloaded config is unchanged. Built on fsnotify's directory
// watch, with the teacher's swallow-and-log approach to listener/observer
// errors (see DESIGN.md).
package watcher

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/crabeye/mcp-bridge/internal/config"
	"github.com/crabeye/mcp-bridge/internal/logging"
)

// defaultDebounce matches spec.md §4.7's default.
const defaultDebounce = 500 * time.Millisecond

// ReloadFunc is invoked with the newly loaded config and the diff against
// whatever was loaded last. Returning an error only logs it; the watcher
// keeps running.
type ReloadFunc func(cfg *config.ResolvedConfig, diff config.Diff) error

// Watcher watches a single config file's containing directory and debounces
// reload attempts on changes to that file.
type Watcher struct {
	path     string
	debounce time.Duration
	log      *logging.Logger
	onReload ReloadFunc

	fsw *fsnotify.Watcher

	mu       sync.Mutex
	current  *config.ResolvedConfig
	lastJSON string
	inFlight bool
	pending  bool

	timer *time.Timer

	done chan struct{}
}

// New builds a Watcher for path, running an initial Load to seed the
// baseline config it diffs future reloads against. debounce <= 0 uses the
// spec's default.
func New(path string, debounce time.Duration, log *logging.Logger, onReload ReloadFunc) (*Watcher, error) {
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	initial, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		path:     path,
		debounce: debounce,
		log:      log.With("watcher", ""),
		onReload: onReload,
		current:  initial,
		lastJSON: stableJSON(initial),
		done:     make(chan struct{}),
	}
	return w, nil
}

// Initial returns the config loaded at construction time.
func (w *Watcher) Initial() *config.ResolvedConfig {
	return w.current
}

// Start begins watching the config file's directory in the background.
// Call Close to stop.
func (w *Watcher) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return err
	}
	w.fsw = fsw

	go w.run()
	return nil
}

// Close stops the watcher: it waits for the event loop to exit and cancels
// a pending debounce timer. A reload that is already running is not waited
// for.
func (w *Watcher) Close() error {
	if w.fsw == nil {
		return nil
	}
	err := w.fsw.Close()
	<-w.done
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	return err
}

func (w *Watcher) run() {
	defer close(w.done)
	base := filepath.Base(w.path)
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("config watcher error", "error", err)
		}
	}
}

// scheduleReload debounces bursts of events into a single reload attempt,
// restarting the timer on every new event within the window.
func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.triggerReload)
}

// triggerReload runs a reload attempt, or sets the pending flag if one is
// already in flight (spec.md §4.7: "coalesces concurrent reloads").
func (w *Watcher) triggerReload() {
	w.mu.Lock()
	if w.inFlight {
		w.pending = true
		w.mu.Unlock()
		return
	}
	w.inFlight = true
	w.mu.Unlock()

	w.doReload()

	w.mu.Lock()
	w.inFlight = false
	rerun := w.pending
	w.pending = false
	w.mu.Unlock()

	if rerun {
		w.triggerReload()
	}
}

func (w *Watcher) doReload() {
	newCfg, err := config.Load(w.path)
	if err != nil {
		w.log.Error("config reload failed, keeping previous config", "path", w.path, "error", err)
		return
	}

	encoded := stableJSON(newCfg)

	w.mu.Lock()
	if encoded == w.lastJSON {
		w.mu.Unlock()
		return
	}
	oldCfg := w.current
	w.current = newCfg
	w.lastJSON = encoded
	w.mu.Unlock()

	diff := config.ComputeDiff(oldCfg, newCfg)
	if w.onReload == nil {
		return
	}
	if err := w.onReload(newCfg, diff); err != nil {
		w.log.Error("config reload listener failed", "error", err)
	}
}

func stableJSON(cfg *config.ResolvedConfig) string {
	if cfg == nil {
		return ""
	}
	return config.StableJSON(cfg)
}
