// Package upstream implements the Upstream Client state machine shared by
// the STDIO and HTTP/SSE transports (spec.md §4.2): one cooperative,
// single-threaded session with one upstream MCP server, with exponential
// backoff reconnect and epoch-guarded async callbacks.
package upstream

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crabeye/mcp-bridge/internal/logging"
	"github.com/crabeye/mcp-bridge/pkg/types"
)

// Status is a connection's lifecycle state.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// StatusEvent is delivered to onStatusChange observers.
type StatusEvent struct {
	Previous Status
	Current  Status
	Err      error
}

// StatusChangeFunc and ToolsChangedFunc are the two observer shapes a
// Client supports (spec.md §4.2, last paragraph).
type StatusChangeFunc func(StatusEvent)
type ToolsChangedFunc func([]types.Tool)

// Session is the minimal surface the client state machine needs from an
// established MCP connection; stdio.go and http.go each provide a dialer
// that produces one, wrapping the real mark3labs/mcp-go client. Exported
// so other packages' tests can inject a fake session/dialer to exercise
// the state machine without a real subprocess or socket.
type Session interface {
	ListTools(ctx context.Context) ([]types.Tool, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*types.ToolInvokeResult, error)
	Ping(ctx context.Context) error
	Close() error
	// SetToolsChangedHandler registers a callback the session invokes
	// whenever the upstream sends tools/list_changed. It is called at
	// most once, right after a successful dial.
	SetToolsChangedHandler(func())
	// SetCloseHandler registers a callback the session invokes at most
	// once, when the transport detects it can no longer be used (the
	// stdio process exited, the HTTP/SSE connection dropped) without an
	// explicit Close call from this package.
	SetCloseHandler(func(error))
}

// DialFunc establishes a new upstream session. Returning a non-nil error
// leaves the client in StatusDisconnected / StatusError per the caller's
// retry bookkeeping.
type DialFunc func(ctx context.Context) (Session, error)

// BackoffConfig parameterises the reconnect schedule: delay = min(base *
// 2^attempt, max).
type BackoffConfig struct {
	Base       time.Duration
	Max        time.Duration
	MaxRetries int
}

func DefaultBackoff() BackoffConfig {
	return BackoffConfig{Base: 500 * time.Millisecond, Max: 30 * time.Second, MaxRetries: 8}
}

// Client is one upstream connection's state machine.
type Client struct {
	Name string

	dial    DialFunc
	backoff BackoffConfig
	log     *logging.Logger

	mu        sync.Mutex
	status    Status
	lastErr   error
	epoch     uint64
	closed    bool
	attempt   int
	sess      Session
	tools     []types.Tool
	pending   *pendingConnect
	timer     *time.Timer
	sessionID string

	statusObservers []*observer[StatusChangeFunc]
	toolsObservers  []*observer[ToolsChangedFunc]
}

type observer[T any] struct {
	fn   T
	live bool
}

// pendingConnect coalesces concurrent connect() calls (spec.md §4.2,
// §8 property 5): the transport factory is invoked exactly once per
// logical attempt; all concurrent callers await the same result.
type pendingConnect struct {
	done chan struct{}
	err  error
}

// New constructs a Client around a dial function. dial is supplied by
// NewStdioClient/NewHTTPClient in production and by a fake in tests.
func New(name string, dial DialFunc, backoff BackoffConfig, log *logging.Logger) *Client {
	return &Client{
		Name:    name,
		dial:    dial,
		backoff: backoff,
		log:     log.With("upstream", name),
		status:  StatusDisconnected,
	}
}

func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Client) Tools() []types.Tool {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.Tool, len(c.tools))
	copy(out, c.tools)
	return out
}

// OnStatusChange registers an observer and returns an unsubscribe func.
func (c *Client) OnStatusChange(fn StatusChangeFunc) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	o := &observer[StatusChangeFunc]{fn: fn, live: true}
	c.statusObservers = append(c.statusObservers, o)
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		o.live = false
	}
}

// OnToolsChanged registers an observer and returns an unsubscribe func.
func (c *Client) OnToolsChanged(fn ToolsChangedFunc) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	o := &observer[ToolsChangedFunc]{fn: fn, live: true}
	c.toolsObservers = append(c.toolsObservers, o)
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		o.live = false
	}
}

// Connect attempts to establish the upstream session. Concurrent callers
// while a connect is already in flight share its result (coalescing).
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("upstream %s: client is closed", c.Name)
	}
	if c.pending != nil {
		pending := c.pending
		c.mu.Unlock()
		select {
		case <-pending.done:
			return pending.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	c.stopTimerLocked()
	pending := &pendingConnect{done: make(chan struct{})}
	c.pending = pending
	c.epoch++
	epoch := c.epoch
	prev := c.status
	c.status = StatusConnecting
	c.mu.Unlock()

	c.emitStatus(StatusEvent{Previous: prev, Current: StatusConnecting})

	err := c.attemptDial(ctx, epoch)

	c.mu.Lock()
	pending.err = err
	c.pending = nil
	c.mu.Unlock()
	close(pending.done)

	return err
}

// attemptDial performs exactly one dial and, on success, installs the
// session and discovers tools. epoch is the value captured at the start
// of this logical Connect call; any state mutation checks the epoch has
// not moved on before writing (guards against a caller racing a newer
// Connect/close).
func (c *Client) attemptDial(ctx context.Context, epoch uint64) error {
	sess, err := c.dial(ctx)
	if err != nil {
		c.onConnectFailure(epoch, err)
		return err
	}

	tools, err := sess.ListTools(ctx)
	if err != nil {
		_ = sess.Close()
		c.onConnectFailure(epoch, err)
		return err
	}

	c.mu.Lock()
	if c.epoch != epoch || c.closed {
		c.mu.Unlock()
		_ = sess.Close()
		return nil
	}
	sessionID := uuid.NewString()
	c.sess = sess
	c.tools = tools
	c.attempt = 0
	c.sessionID = sessionID
	prev := c.status
	c.status = StatusConnected
	c.mu.Unlock()

	sess.SetToolsChangedHandler(func() { c.handleToolsChangedNotification(epoch) })
	sess.SetCloseHandler(func(closeErr error) { c.onTransportClose(epoch, closeErr) })

	c.log.Info("upstream connected", "epoch", epoch, "session_id", sessionID, "tools", len(tools))
	c.emitStatus(StatusEvent{Previous: prev, Current: StatusConnected})
	c.emitTools(tools)
	return nil
}

// onTransportClose handles an unsolicited transport close (process exit,
// dropped HTTP/SSE connection) while connected or connecting (spec.md
// §4.2): transitions to disconnected and schedules a reconnect the same
// way a failed dial does. Epoch-guarded so a close signal from a session
// this client has already superseded (via Reconnect or Close) is ignored.
func (c *Client) onTransportClose(epoch uint64, err error) {
	c.mu.Lock()
	if c.epoch != epoch || c.closed || c.status == StatusDisconnected {
		c.mu.Unlock()
		return
	}
	prev := c.status
	c.status = StatusDisconnected
	c.lastErr = err
	sess := c.sess
	c.sess = nil
	sessionID := c.sessionID
	c.sessionID = ""
	c.mu.Unlock()

	if sess != nil {
		_ = sess.Close()
	}
	c.log.Warn("upstream transport closed", "epoch", epoch, "session_id", sessionID, "error", err)
	c.emitStatus(StatusEvent{Previous: prev, Current: StatusDisconnected, Err: err})
	c.scheduleReconnect(epoch)
}

func (c *Client) onConnectFailure(epoch uint64, err error) {
	c.mu.Lock()
	if c.epoch != epoch || c.closed {
		c.mu.Unlock()
		return
	}
	prev := c.status
	c.status = StatusDisconnected
	c.lastErr = err
	c.mu.Unlock()

	c.emitStatus(StatusEvent{Previous: prev, Current: StatusDisconnected, Err: err})
	c.scheduleReconnect(epoch)
}

// handleToolsChangedNotification re-fetches tools/list after the upstream
// signals tools/list_changed, discarding the result if the epoch has
// since advanced (spec.md §4.2 epoch discipline).
func (c *Client) handleToolsChangedNotification(epoch uint64) {
	c.mu.Lock()
	if c.epoch != epoch || c.closed {
		c.mu.Unlock()
		return
	}
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	tools, err := sess.ListTools(ctx)
	if err != nil {
		c.log.Warn("failed to refresh tool list after notification", "error", err)
		return
	}

	c.mu.Lock()
	if c.epoch != epoch || c.closed {
		c.mu.Unlock()
		return
	}
	c.tools = tools
	c.mu.Unlock()

	c.emitTools(tools)
}

// CallTool delegates to the active session. Fails fast (non-retryable) if
// the client is not currently connected.
func (c *Client) CallTool(ctx context.Context, toolName string, args map[string]any) (*types.ToolInvokeResult, error) {
	c.mu.Lock()
	if c.status != StatusConnected || c.sess == nil {
		status := c.status
		c.mu.Unlock()
		return nil, fmt.Errorf("upstream %s: not connected (status=%s)", c.Name, status)
	}
	sess := c.sess
	c.mu.Unlock()
	return sess.CallTool(ctx, toolName, args)
}

// Ping round-trips a health probe. It does not interpret failures or
// mutate status/health — the manager's health loop does that.
func (c *Client) Ping(ctx context.Context) error {
	c.mu.Lock()
	if c.status != StatusConnected || c.sess == nil {
		c.mu.Unlock()
		return fmt.Errorf("upstream %s: not connected", c.Name)
	}
	sess := c.sess
	c.mu.Unlock()
	return sess.Ping(ctx)
}

// Reconnect forces a fresh connect regardless of current status, used by
// the manager's health loop once the unhealthy threshold is reached.
func (c *Client) Reconnect(ctx context.Context) error {
	c.mu.Lock()
	sess := c.sess
	c.sess = nil
	c.mu.Unlock()
	if sess != nil {
		_ = sess.Close()
	}
	return c.Connect(ctx)
}

// Close marks the client closed, suppressing further reconnects, cancels
// any pending reconnect timer, and tears down the active session.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	c.epoch++
	c.stopTimerLocked()
	sess := c.sess
	c.sess = nil
	c.tools = nil
	prev := c.status
	c.status = StatusDisconnected
	c.mu.Unlock()

	if prev != StatusDisconnected {
		c.emitStatus(StatusEvent{Previous: prev, Current: StatusDisconnected})
	}
	if sess != nil {
		return sess.Close()
	}
	return nil
}

// scheduleReconnect arms a single backoff timer for the given epoch. A
// timer is never double-armed: stopTimerLocked always runs first.
func (c *Client) scheduleReconnect(epoch uint64) {
	c.mu.Lock()
	if c.closed || c.epoch != epoch {
		c.mu.Unlock()
		return
	}
	if c.attempt < c.backoff.MaxRetries {
		c.attempt++
	} else {
		c.stopTimerLocked()
		prev := c.status
		c.status = StatusError
		c.mu.Unlock()
		c.emitStatus(StatusEvent{Previous: prev, Current: StatusError, Err: fmt.Errorf("max reconnect attempts exceeded")})
		return
	}
	delay := backoffDelay(c.backoff, c.attempt)
	c.stopTimerLocked()
	c.timer = time.AfterFunc(delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = c.Connect(ctx)
		cancel()
	})
	c.mu.Unlock()
}

func (c *Client) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// backoffDelay implements delay = min(base * 2^attempt, max) with a small
// jitter to avoid a reconnect thundering herd across many upstreams.
func backoffDelay(cfg BackoffConfig, attempt int) time.Duration {
	delay := cfg.Base
	for i := 0; i < attempt && delay < cfg.Max; i++ {
		delay *= 2
	}
	if delay > cfg.Max {
		delay = cfg.Max
	}
	jitter := time.Duration(rand.Int63n(int64(delay) / 10 + 1))
	return delay + jitter
}

func (c *Client) emitStatus(evt StatusEvent) {
	c.mu.Lock()
	observers := make([]*observer[StatusChangeFunc], len(c.statusObservers))
	copy(observers, c.statusObservers)
	c.mu.Unlock()
	for _, o := range observers {
		if !o.live {
			continue
		}
		invokeStatus(o.fn, evt)
	}
}

func (c *Client) emitTools(tools []types.Tool) {
	c.mu.Lock()
	observers := make([]*observer[ToolsChangedFunc], len(c.toolsObservers))
	copy(observers, c.toolsObservers)
	c.mu.Unlock()
	for _, o := range observers {
		if !o.live {
			continue
		}
		invokeTools(o.fn, tools)
	}
}

func invokeStatus(fn StatusChangeFunc, evt StatusEvent) {
	defer func() { _ = recover() }()
	fn(evt)
}

func invokeTools(fn ToolsChangedFunc, tools []types.Tool) {
	defer func() { _ = recover() }()
	fn(tools)
}
