// Package httpapi is the bridge's small control-plane HTTP listener:
// liveness at /health, per-upstream status at /status and, when telemetry
// is enabled, a Prometheus /metrics endpoint. Grounded on the teacher's internal/api/server.go gin
// setup, trimmed to the surface the bridge itself needs (no proxy routes,
// no auth, no user management — this repo has a single downstream client
// over STDIO, not a multi-tenant registry).
package httpapi

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/crabeye/mcp-bridge/internal/manager"
	"github.com/crabeye/mcp-bridge/internal/telemetry"
	"github.com/crabeye/mcp-bridge/internal/version"
)

// StatusProvider is the httpapi package's view of the Upstream Manager.
type StatusProvider interface {
	GetStatuses() []manager.Status
}

// ServerOptions configures NewServer.
type ServerOptions struct {
	Port      int
	Manager   StatusProvider
	Providers *telemetry.Providers
}

// Server is the bridge's control-plane HTTP listener.
type Server struct {
	port      int
	router    *gin.Engine
	manager   StatusProvider
	providers *telemetry.Providers
	srv       *http.Server
}

// NewServer builds a Server; call Start to begin listening.
func NewServer(opts ServerOptions) *Server {
	s := &Server{
		port:      opts.Port,
		manager:   opts.Manager,
		providers: opts.Providers,
	}
	s.router = s.setupRouter()
	return s
}

func (s *Server) setupRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	if s.providers != nil && s.providers.IsEnabled() {
		r.Use(otelgin.Middleware(s.providers.ServiceName()))
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/status", s.statusHandler())

	return r
}

func (s *Server) statusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var statuses []manager.Status
		if s.manager != nil {
			statuses = s.manager.GetStatuses()
		}
		c.JSON(http.StatusOK, gin.H{
			"version": version.GetVersion(),
			"servers": statuses,
		})
	}
}

// Start runs the HTTP server until Shutdown is called. It is non-blocking:
// the serve loop runs in a goroutine, and this method returns once the
// server is listening.
func (s *Server) Start() error {
	s.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.router,
	}
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("httpapi: listen: %w", err)
	}
	go func() {
		_ = s.srv.Serve(ln)
	}()
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
