package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/crabeye/mcp-bridge/internal/bridgeserver"
	"github.com/crabeye/mcp-bridge/internal/config"
	"github.com/crabeye/mcp-bridge/internal/httpapi"
	"github.com/crabeye/mcp-bridge/internal/logging"
	"github.com/crabeye/mcp-bridge/internal/manager"
	"github.com/crabeye/mcp-bridge/internal/policy"
	"github.com/crabeye/mcp-bridge/internal/registry"
	"github.com/crabeye/mcp-bridge/internal/search"
	"github.com/crabeye/mcp-bridge/internal/telemetry"
	"github.com/crabeye/mcp-bridge/internal/upstream"
	"github.com/crabeye/mcp-bridge/internal/version"
	"github.com/crabeye/mcp-bridge/internal/watcher"
)

const (
	bridgeName             = "crabeye-mcp-bridge"
	telemetryEnabledEnvVar = "MCP_BRIDGE_OTEL_ENABLED"
)

// runStart loads the config file, connects to every configured upstream MCP
// server, and serves the aggregated search_tools/run_tool interface to a
// downstream MCP client over STDIO. A small HTTP listener also exposes
// /health, /status and (when telemetry is enabled) /metrics.
func runStart(cmd *cobra.Command, args []string) error {
	path, err := resolveConfigPath()
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	initial, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := config.Validate(initial); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	log, err := logging.New(initial.Bridge.LogLevel, logging.Format(initial.Bridge.LogFormat))
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer log.Sync()

	telemetryEnabled := os.Getenv(telemetryEnabledEnvVar) == "true" || os.Getenv(telemetryEnabledEnvVar) == "1"
	providers, err := telemetry.Init(ctx, &telemetry.Config{ServiceName: bridgeName, Enabled: telemetryEnabled})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := providers.Shutdown(context.Background()); err != nil {
			log.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	var metrics telemetry.CustomMetrics = telemetry.NewNoopCustomMetrics()
	if providers.IsEnabled() {
		metrics, err = telemetry.NewOtelCustomMetrics(providers.Meter)
		if err != nil {
			return fmt.Errorf("init metrics: %w", err)
		}
	}

	reg := registry.New()
	policyEngine := policy.New()
	policyEngine.Update(initial.Bridge.ToolPolicy, initial.Servers)
	searchSvc := search.New(reg, policyEngine)
	defer searchSvc.Close()

	backoff := upstream.DefaultBackoff()
	mgr := manager.New(reg, clientFactory(backoff, log), log)

	connectCtx, connectCancel := context.WithTimeout(ctx, connectTimeout(initial.Bridge.ConnectionTimeout))
	result := mgr.ConnectAll(connectCtx, initial)
	connectCancel()
	log.Info("connected to upstream servers", "total", result.Total, "connected", result.Connected, "failed", result.Failed)
	mgr.RestartHealthChecks(initial.Bridge.HealthCheckInterval)

	bridge := bridgeserver.New(bridgeserver.Options{
		Name:     bridgeName,
		Version:  version.GetVersion(),
		Registry: reg,
		Search:   searchSvc,
		Policy:   policyEngine,
		Manager:  mgr,
		Log:      log,
		Metrics:  metrics,
	})
	defer bridge.Close()

	httpSrv := httpapi.NewServer(httpapi.ServerOptions{
		Port:      initial.Bridge.Port,
		Manager:   mgr,
		Providers: providers,
	})
	if err := httpSrv.Start(); err != nil {
		return fmt.Errorf("start http listener: %w", err)
	}
	defer httpSrv.Shutdown(context.Background())

	w, err := watcher.New(path, 0, log, reloadFunc(mgr, policyEngine, log))
	if err != nil {
		return fmt.Errorf("init config watcher: %w", err)
	}
	if err := w.Start(); err != nil {
		return fmt.Errorf("start config watcher: %w", err)
	}
	defer w.Close()

	go func() {
		<-ctx.Done()
		log.Info("shutting down")
		mgr.CloseAll()
	}()

	if err := bridge.ServeStdio(); err != nil {
		return fmt.Errorf("bridge server: %w", err)
	}
	return nil
}

// clientFactory selects the transport-appropriate upstream.Client
// constructor for a server config, per spec.md §3's stdio/streamable-http/sse
// tagged union.
func clientFactory(backoff upstream.BackoffConfig, log *logging.Logger) manager.ClientFactory {
	return func(name string, sc config.ServerConfig) *upstream.Client {
		if sc.Transport == config.TransportStdio {
			return upstream.NewStdioClient(name, sc, backoff, log)
		}
		return upstream.NewHTTPClient(name, sc, backoff, log)
	}
}

// reloadFunc applies a config.Diff to the running manager and policy engine
// on every debounced config file change, per spec.md §4.7.
func reloadFunc(mgr *manager.Manager, policyEngine *policy.Engine, log *logging.Logger) watcher.ReloadFunc {
	return func(cfg *config.ResolvedConfig, diff config.Diff) error {
		if err := config.Validate(cfg); err != nil {
			log.Warn("reloaded config failed validation, keeping previous config", "error", err)
			return err
		}

		mgr.ApplyConfigDiff(context.Background(), diff, cfg)
		policyEngine.Update(cfg.Bridge.ToolPolicy, cfg.Servers)

		if diff.BridgeLogLevel != nil {
			if err := log.SetLevel(*diff.BridgeLogLevel); err != nil {
				log.Warn("failed to apply reloaded log level", "error", err)
			}
		}
		if diff.BridgeHealthCheckInterval != nil {
			mgr.RestartHealthChecks(*diff.BridgeHealthCheckInterval)
		}
		if len(diff.RequiresRestart) > 0 {
			log.Warn("config change requires a bridge restart to take effect", "fields", diff.RequiresRestart)
		}
		return nil
	}
}

// connectTimeout turns the configured connectionTimeout (seconds) into a
// time.Duration, defaulting to 30s when unset.
func connectTimeout(seconds int) time.Duration {
	if seconds <= 0 {
		seconds = 30
	}
	return time.Duration(seconds) * time.Second
}
