package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/crabeye/mcp-bridge/internal/config"
	"github.com/crabeye/mcp-bridge/internal/logging"
	"github.com/crabeye/mcp-bridge/pkg/types"
)

// wireSession adapts a mark3labs/mcp-go *client.Client to the package's
// internal session interface, grounded on
// internal/service/mcp/util.go's newMcpServerSession/runStdioServer in the
// reference tree (same Initialize/ListTools/CallTool/Close shape, but kept
// alive across calls instead of one connection per call).
type wireSession struct {
	c *mcpclient.Client

	done      chan struct{}
	closeOnce sync.Once
	closeFn   func(error)
}

func newWireSession(c *mcpclient.Client) *wireSession {
	return &wireSession{c: c, done: make(chan struct{})}
}

func (w *wireSession) ListTools(ctx context.Context) ([]types.Tool, error) {
	resp, err := w.c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, err
	}
	out := make([]types.Tool, 0, len(resp.Tools))
	for _, t := range resp.Tools {
		schema, err := types.RawSchema(t.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("tool %s: encode input schema: %w", t.Name, err)
		}
		var inputSchema types.ToolInputSchema
		_ = json.Unmarshal(schema, &inputSchema)
		out = append(out, types.Tool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: inputSchema,
		})
	}
	return out, nil
}

func (w *wireSession) CallTool(ctx context.Context, name string, args map[string]any) (*types.ToolInvokeResult, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	resp, err := w.c.CallTool(ctx, req)
	if err != nil {
		return nil, err
	}

	content := make([]map[string]any, 0, len(resp.Content))
	for _, item := range resp.Content {
		raw, err := json.Marshal(item)
		if err != nil {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err == nil {
			content = append(content, m)
		}
	}
	return &types.ToolInvokeResult{
		IsError:           resp.IsError,
		Content:           content,
		StructuredContent: resp.StructuredContent,
	}, nil
}

func (w *wireSession) Ping(ctx context.Context) error {
	return w.c.Ping(ctx)
}

func (w *wireSession) Close() error {
	w.closeOnce.Do(func() { close(w.done) })
	return w.c.Close()
}

func (w *wireSession) SetToolsChangedHandler(fn func()) {
	w.c.OnNotification(func(notification mcp.JSONRPCNotification) {
		if notification.Method == "notifications/tools/list_changed" {
			fn()
		}
	})
}

// SetCloseHandler registers the callback notifyClosed invokes. Session
// implementations that detect their own transport dropping (forwardStderr
// for stdio, the liveness watchdog for HTTP/SSE) call notifyClosed, which
// runs it at most once.
func (w *wireSession) SetCloseHandler(fn func(error)) {
	w.closeFn = fn
}

func (w *wireSession) notifyClosed(err error) {
	w.closeOnce.Do(func() {
		close(w.done)
		if w.closeFn != nil {
			w.closeFn(err)
		}
	})
}

// NewStdioClient builds a Client whose dialer spawns command/args with the
// process environment merged with sc.Env, wiring stderr to the logger at
// debug level (grounded on captureStdioServerStderr in the reference
// tree's internal/service/mcp/util.go).
func NewStdioClient(name string, sc config.ServerConfig, backoff BackoffConfig, log *logging.Logger) *Client {
	dial := func(ctx context.Context) (Session, error) {
		envVars := make([]string, 0, len(sc.Env))
		for k, v := range sc.Env {
			envVars = append(envVars, k+"="+v)
		}

		c, err := mcpclient.NewStdioMCPClient(sc.Command, envVars, sc.Args...)
		if err != nil {
			return nil, fmt.Errorf("create stdio client: %w", err)
		}

		initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if _, err := c.Initialize(initCtx, initializeRequest(name)); err != nil {
			_ = c.Close()
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("initialize upstream %s: timed out", name)
			}
			return nil, fmt.Errorf("initialize upstream %s: %w", name, err)
		}

		sess := newWireSession(c)
		forwardStderr(name, sess, log)
		return sess, nil
	}
	return New(name, dial, backoff, log)
}

// forwardStderr logs the subprocess's stderr in the background and, once
// the read loop ends (the process exited, its stdio pipes closed), treats
// that as the transport's onclose signal (spec.md §4.2) by notifying sess.
func forwardStderr(name string, sess *wireSession, log *logging.Logger) {
	stdio, ok := sess.c.GetTransport().(*transport.Stdio)
	if !ok {
		return
	}
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := stdio.Stderr().Read(buf)
			if n > 0 {
				log.Debug("upstream stderr", "server", name, "line", string(buf[:n]))
			}
			if err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
					log.Debug("upstream process exited", "server", name)
				} else {
					log.Debug("upstream stderr closed", "server", name, "error", err)
				}
				sess.notifyClosed(fmt.Errorf("upstream %s: process exited: %w", name, err))
				return
			}
		}
	}()
}

func initializeRequest(name string) mcp.InitializeRequest {
	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{Name: "crabeye-mcp-bridge upstream client for " + name, Version: "0.1"}
	req.Params.Capabilities = mcp.ClientCapabilities{}
	return req
}
