package upstream

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crabeye/mcp-bridge/internal/logging"
	"github.com/crabeye/mcp-bridge/pkg/types"
)

// fakeSession is an in-memory session double used to exercise the state
// machine without a real subprocess or socket, per the teacher's style of
// injectable connectors (see MEKXH-golem's Connector/Client interfaces).
type fakeSession struct {
	tools     []types.Tool
	listErr   error
	pingErr   error
	closed    int32
	changedFn func()
	closeFn   func(error)
}

func (f *fakeSession) ListTools(ctx context.Context) ([]types.Tool, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.tools, nil
}
func (f *fakeSession) CallTool(ctx context.Context, name string, args map[string]any) (*types.ToolInvokeResult, error) {
	return &types.ToolInvokeResult{Content: []map[string]any{{"type": "text", "text": name}}}, nil
}
func (f *fakeSession) Ping(ctx context.Context) error   { return f.pingErr }
func (f *fakeSession) Close() error                     { atomic.AddInt32(&f.closed, 1); return nil }
func (f *fakeSession) SetToolsChangedHandler(fn func()) { f.changedFn = fn }
func (f *fakeSession) SetCloseHandler(fn func(error))   { f.closeFn = fn }

func testLogger(t *testing.T) *logging.Logger {
	t.Helper()
	log, err := logging.New("error", logging.FormatJSON)
	require.NoError(t, err)
	return log
}

func TestClientConnectSuccessTransitionsToConnected(t *testing.T) {
	log := testLogger(t)
	sess := &fakeSession{tools: []types.Tool{{Name: "a"}}}
	var dialCount int32
	c := New("svc", func(ctx context.Context) (Session, error) {
		atomic.AddInt32(&dialCount, 1)
		return sess, nil
	}, DefaultBackoff(), log)

	err := c.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusConnected, c.Status())
	assert.Equal(t, int32(1), dialCount)
	assert.Len(t, c.Tools(), 1)
}

// TestConnectCoalescing is spec.md §8 property 5: N concurrent Connect()
// calls produce exactly one dial invocation.
func TestConnectCoalescing(t *testing.T) {
	log := testLogger(t)
	var dialCount int32
	release := make(chan struct{})
	c := New("svc", func(ctx context.Context) (Session, error) {
		atomic.AddInt32(&dialCount, 1)
		<-release
		return &fakeSession{}, nil
	}, DefaultBackoff(), log)

	var wg sync.WaitGroup
	const n = 10
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_ = c.Connect(context.Background())
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), dialCount)
}

// TestEpochDiscardsStaleToolsNotification is spec.md §8 property 4: a
// tools-changed notification from a superseded epoch must not mutate
// client state.
func TestEpochDiscardsStaleToolsNotification(t *testing.T) {
	log := testLogger(t)
	first := &fakeSession{tools: []types.Tool{{Name: "old"}}}
	second := &fakeSession{tools: []types.Tool{{Name: "new"}}}
	calls := 0
	c := New("svc", func(ctx context.Context) (Session, error) {
		calls++
		if calls == 1 {
			return first, nil
		}
		return second, nil
	}, DefaultBackoff(), log)

	require.NoError(t, c.Connect(context.Background()))
	staleEpoch := c.epoch

	require.NoError(t, c.Reconnect(context.Background()))
	assert.Equal(t, []types.Tool{{Name: "new"}}, c.Tools())

	// A stale notification captured at the first epoch must no-op.
	c.handleToolsChangedNotification(staleEpoch)
	assert.Equal(t, []types.Tool{{Name: "new"}}, c.Tools())
}

func TestConnectFailureSchedulesReconnectAndEmitsStatus(t *testing.T) {
	log := testLogger(t)
	c := New("svc", func(ctx context.Context) (Session, error) {
		return nil, fmt.Errorf("dial failed")
	}, BackoffConfig{Base: 10 * time.Millisecond, Max: 20 * time.Millisecond, MaxRetries: 2}, log)

	var events []StatusEvent
	var mu sync.Mutex
	c.OnStatusChange(func(e StatusEvent) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})

	err := c.Connect(context.Background())
	assert.Error(t, err)
	assert.Equal(t, StatusDisconnected, c.Status())

	mu.Lock()
	assert.NotEmpty(t, events)
	mu.Unlock()
}

func TestBackoffDelayMonotonicUntilMax(t *testing.T) {
	cfg := BackoffConfig{Base: 100 * time.Millisecond, Max: 1 * time.Second, MaxRetries: 10}
	prev := time.Duration(0)
	for attempt := 1; attempt <= 6; attempt++ {
		// jitter makes exact comparison noisy; check the delay against the
		// deterministic floor (delay without jitter) plus at most 10% jitter,
		// and that the floor never decreases.
		base := cfg.Base
		for i := 0; i < attempt && base < cfg.Max; i++ {
			base *= 2
		}
		if base > cfg.Max {
			base = cfg.Max
		}
		d := backoffDelay(cfg, attempt)
		assert.GreaterOrEqual(t, d, base)
		assert.LessOrEqual(t, d, base+base/10)
		assert.GreaterOrEqual(t, base, prev)
		prev = base
	}
}

// TestTransportCloseWhileConnectedSchedulesReconnect is spec.md §4.2:
// "Transport onclose while connected or connecting -> disconnected +
// schedule reconnect."
func TestTransportCloseWhileConnectedSchedulesReconnect(t *testing.T) {
	log := testLogger(t)
	first := &fakeSession{tools: []types.Tool{{Name: "a"}}}
	second := &fakeSession{tools: []types.Tool{{Name: "a"}}}
	var dialCount int32
	c := New("svc", func(ctx context.Context) (Session, error) {
		n := atomic.AddInt32(&dialCount, 1)
		if n == 1 {
			return first, nil
		}
		return second, nil
	}, BackoffConfig{Base: 5 * time.Millisecond, Max: 10 * time.Millisecond, MaxRetries: 3}, log)

	require.NoError(t, c.Connect(context.Background()))
	require.NotNil(t, first.closeFn)

	var events []StatusEvent
	var mu sync.Mutex
	c.OnStatusChange(func(e StatusEvent) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	})

	first.closeFn(fmt.Errorf("upstream process exited"))

	assert.Equal(t, StatusDisconnected, c.Status())
	assert.Equal(t, int32(1), atomic.LoadInt32(&first.closed))

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&dialCount) >= 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.NotEmpty(t, events)
	mu.Unlock()
}

// TestTransportCloseAfterExplicitCloseIsIgnored guards the epoch check:
// a close signal from a session this client has already torn down via
// Close must not resurrect it with a spurious reconnect.
func TestTransportCloseAfterExplicitCloseIsIgnored(t *testing.T) {
	log := testLogger(t)
	sess := &fakeSession{tools: []types.Tool{{Name: "a"}}}
	c := New("svc", func(ctx context.Context) (Session, error) {
		return sess, nil
	}, DefaultBackoff(), log)

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Close())
	require.NotNil(t, sess.closeFn)

	sess.closeFn(fmt.Errorf("late close signal"))

	assert.Equal(t, StatusDisconnected, c.Status())
}

func TestCloseSuppressesReconnectAndClosesSession(t *testing.T) {
	log := testLogger(t)
	sess := &fakeSession{tools: []types.Tool{{Name: "a"}}}
	c := New("svc", func(ctx context.Context) (Session, error) {
		return sess, nil
	}, DefaultBackoff(), log)

	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Close())

	assert.Equal(t, StatusDisconnected, c.Status())
	assert.Equal(t, int32(1), atomic.LoadInt32(&sess.closed))

	err := c.Connect(context.Background())
	assert.Error(t, err)
}
