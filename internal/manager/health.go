package manager

import (
	"context"
	"sync"
	"time"

	"github.com/crabeye/mcp-bridge/internal/logging"
	"github.com/crabeye/mcp-bridge/internal/upstream"
)

// Health is the manager-tracked health state for one client, orthogonal to
// the client's own connection Status (spec.md §3).
type Health string

const (
	HealthUnknown   Health = "unknown"
	HealthHealthy   Health = "healthy"
	HealthUnhealthy Health = "unhealthy"
)

// unhealthyThreshold is the number of consecutive ping failures that
// triggers a forced reconnect (spec.md §4.3, §8 property 8).
const unhealthyThreshold = 3

// pingTimeout bounds each health probe.
const pingTimeout = 5 * time.Second

type healthRecord struct {
	health          Health
	consecutiveFail int
	lastPingAt      time.Time
}

// healthLoop runs the periodic health tick described in spec.md §4.3. It
// is owned by one Manager and restarted whenever the interval changes via
// a hot config reload.
type healthLoop struct {
	m   *Manager
	log *logging.Logger

	mu       sync.Mutex
	records  map[string]*healthRecord
	inFlight map[string]bool

	cancel context.CancelFunc
	done   chan struct{}
}

func newHealthLoop(m *Manager, log *logging.Logger) *healthLoop {
	return &healthLoop{
		m:        m,
		log:      log.With("health", ""),
		records:  make(map[string]*healthRecord),
		inFlight: make(map[string]bool),
	}
}

// restart stops any running loop and, if intervalSeconds > 0, starts a new
// one at that period. intervalSeconds == 0 disables the loop entirely and
// a restart call is then a no-op until restarted with a nonzero interval.
func (h *healthLoop) restart(intervalSeconds int) {
	h.stop()
	if intervalSeconds <= 0 {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.mu.Lock()
	h.cancel = cancel
	h.done = make(chan struct{})
	done := h.done
	h.mu.Unlock()

	go h.run(ctx, time.Duration(intervalSeconds)*time.Second, done)
}

func (h *healthLoop) stop() {
	h.mu.Lock()
	cancel := h.cancel
	done := h.done
	h.cancel = nil
	h.done = nil
	h.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (h *healthLoop) run(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.tick(ctx)
		}
	}
}

// tick runs one health sweep across every client, per spec.md §4.3.
func (h *healthLoop) tick(ctx context.Context) {
	for _, name := range h.m.clientNames() {
		client, ok := h.m.clientByName(name)
		if !ok {
			continue
		}
		if client.Status() != upstream.StatusConnected {
			continue
		}
		if !h.tryMarkInFlight(name) {
			continue
		}
		go h.pingOne(ctx, name, client)
	}
}

// tryMarkInFlight guards against overlapping pings within one tick
// (spec.md §8 property 7: "health-loop reentrancy").
func (h *healthLoop) tryMarkInFlight(name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.inFlight[name] {
		return false
	}
	h.inFlight[name] = true
	return true
}

func (h *healthLoop) clearInFlight(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.inFlight, name)
}

func (h *healthLoop) pingOne(ctx context.Context, name string, client *upstream.Client) {
	defer h.clearInFlight(name)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	err := client.Ping(pingCtx)

	rec := h.record(name)
	h.mu.Lock()
	wasUnhealthy := rec.health == HealthUnhealthy
	if err == nil {
		rec.consecutiveFail = 0
		rec.health = HealthHealthy
		rec.lastPingAt = time.Now()
		h.mu.Unlock()
		if wasUnhealthy {
			h.log.Info("upstream recovered", "server", name)
		}
		return
	}

	rec.consecutiveFail++
	rec.health = HealthUnhealthy
	fails := rec.consecutiveFail
	thresholdHit := fails >= unhealthyThreshold
	if thresholdHit {
		rec.consecutiveFail = 0
		rec.health = HealthUnknown
	}
	h.mu.Unlock()

	h.log.Warn("upstream health check failed", "server", name, "error", err, "consecutive_failures", fails)

	if thresholdHit {
		h.log.Error("upstream unhealthy threshold reached, forcing reconnect", "server", name)
		reconnectCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := client.Reconnect(reconnectCtx); err != nil {
			h.log.Error("forced reconnect failed", "server", name, "error", err)
		}
	}
}

func (h *healthLoop) record(name string) *healthRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec, ok := h.records[name]
	if !ok {
		rec = &healthRecord{health: HealthUnknown}
		h.records[name] = rec
	}
	return rec
}

func (h *healthLoop) snapshot(name string) (Health, string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	rec, ok := h.records[name]
	if !ok {
		return HealthUnknown, ""
	}
	lastPing := ""
	if !rec.lastPingAt.IsZero() {
		lastPing = rec.lastPingAt.Format(time.RFC3339)
	}
	return rec.health, lastPing
}
