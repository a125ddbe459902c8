package upstream

import (
	"context"
	"errors"
	"fmt"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"

	"github.com/crabeye/mcp-bridge/internal/config"
	"github.com/crabeye/mcp-bridge/internal/logging"
)

// NewHTTPClient builds a Client for the "streamable-http" or "sse"
// transport kinds, grounded on createHTTPMcpServerConn / createSSEMcpServerConn
// in the reference tree's internal/service/mcp/util.go.
func NewHTTPClient(name string, sc config.ServerConfig, backoff BackoffConfig, log *logging.Logger) *Client {
	dial := func(ctx context.Context) (Session, error) {
		var opts []transport.ClientOption
		if len(sc.Headers) > 0 {
			opts = append(opts, transport.WithHeaders(sc.Headers))
		}

		var c *mcpclient.Client
		var err error
		switch sc.Transport {
		case config.TransportSSE:
			c, err = mcpclient.NewSSEMCPClient(sc.URL, opts...)
			if err != nil {
				return nil, fmt.Errorf("create sse client: %w", err)
			}
			if startErr := c.Start(ctx); startErr != nil {
				return nil, fmt.Errorf("start sse transport: %w", startErr)
			}
		default:
			var shOpts []transport.StreamableHTTPCOption
			if len(sc.Headers) > 0 {
				shOpts = append(shOpts, transport.WithHTTPHeaders(sc.Headers))
			}
			c, err = mcpclient.NewStreamableHttpClient(sc.URL, shOpts...)
			if err != nil {
				return nil, fmt.Errorf("create streamable-http client: %w", err)
			}
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
		watchHTTPLiveness(name, sess, log)
		return sess, nil
	}
	return New(name, dial, backoff, log)
}

// httpLivenessInterval bounds how quickly a dropped HTTP/SSE connection is
// noticed. It runs independently of the manager's configurable health-check
// interval (spec.md §3 allows that to be disabled entirely) since detecting
// a transport close is this package's own responsibility, not the health
// loop's.
const httpLivenessInterval = 20 * time.Second

// watchHTTPLiveness pings sess in the background and treats a failure as
// the HTTP/SSE transport's onclose signal (spec.md §4.2), since mcp-go's
// HTTP transports expose no passive close notification the way the stdio
// transport's stderr pipe does.
func watchHTTPLiveness(name string, sess *wireSession, log *logging.Logger) {
	go func() {
		ticker := time.NewTicker(httpLivenessInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sess.done:
				return
			case <-ticker.C:
				pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := sess.c.Ping(pingCtx)
				cancel()
				if err != nil {
					log.Debug("upstream connection dropped", "server", name, "error", err)
					sess.notifyClosed(fmt.Errorf("upstream %s: connection dropped: %w", name, err))
					return
				}
			}
		}
	}()
}
