// Package telemetry sets up the bridge's OpenTelemetry metrics providers
// and exposes a CustomMetrics interface for the handful of bridge-specific
// counters/histograms the rest of the code records against. Grounded on
// the teacher's telemetry.Init/Providers/CustomMetrics pattern referenced
// from cmd/start.go and internal/service/mcp/{mcp,tool}.go, reconstructed
// here since the teacher's internal/telemetry package itself was not part
// of the retrieved reference tree (see DESIGN.md).
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

func attrString(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// Config controls whether telemetry is enabled and how the resulting
// metrics are labelled.
type Config struct {
	ServiceName string
	Enabled     bool
}

// Providers holds the initialized OpenTelemetry SDK pieces. A disabled
// Providers still has a valid (no-op-safe) Meter but IsEnabled reports
// false so callers skip creating and registering real instruments.
type Providers struct {
	Meter    metric.Meter
	provider *sdkmetric.MeterProvider
	enabled  bool
	service  string
}

// Init builds the metrics pipeline. When cfg.Enabled is false, it returns a
// Providers with IsEnabled()==false and a no-op meter; callers are expected
// to use NewNoopCustomMetrics in that case rather than registering real
// instruments, mirroring the teacher's cmd/start.go wiring.
func Init(ctx context.Context, cfg *Config) (*Providers, error) {
	if !cfg.Enabled {
		return &Providers{Meter: noop.NewMeterProvider().Meter(cfg.ServiceName), service: cfg.ServiceName}, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceNameKey.String(cfg.ServiceName)),
	)
	if err != nil {
		return nil, fmt.Errorf("build otel resource: %w", err)
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)

	return &Providers{
		Meter:    provider.Meter(cfg.ServiceName),
		provider: provider,
		enabled:  true,
		service:  cfg.ServiceName,
	}, nil
}

// IsEnabled reports whether real metrics collection is active.
func (p *Providers) IsEnabled() bool { return p != nil && p.enabled }

// ServiceName returns the service name metrics/traces are labelled with.
func (p *Providers) ServiceName() string {
	if p == nil {
		return ""
	}
	return p.service
}

// Shutdown flushes and stops the meter provider. Safe to call on a
// disabled Providers.
func (p *Providers) Shutdown(ctx context.Context) error {
	if p == nil || p.provider == nil {
		return nil
	}
	return p.provider.Shutdown(ctx)
}

// ToolCallOutcome tags a completed tool call for the ToolCallsTotal
// counter's "outcome" label.
type ToolCallOutcome string

const (
	ToolCallOutcomeSuccess ToolCallOutcome = "success"
	ToolCallOutcomeError   ToolCallOutcome = "error"
	ToolCallOutcomeDenied  ToolCallOutcome = "denied"
)

// CustomMetrics is the bridge-specific metrics surface. A Noop
// implementation is used whenever telemetry is disabled so the rest of the
// code never has to branch on whether metrics collection is active.
type CustomMetrics interface {
	RecordToolCall(ctx context.Context, source, tool string, outcome ToolCallOutcome, d time.Duration)
	RecordHealthPing(ctx context.Context, source string, healthy bool, d time.Duration)
	RecordReconnect(ctx context.Context, source string)
	RecordSearch(ctx context.Context, resultCount int, d time.Duration)
}

// NewNoopCustomMetrics returns a CustomMetrics whose methods do nothing,
// used when telemetry is disabled (spec's Non-goals exclude global rate
// limiting and persistence, not observability, so a no-op is still wired
// through rather than special-cased away).
func NewNoopCustomMetrics() CustomMetrics { return noopMetrics{} }

type noopMetrics struct{}

func (noopMetrics) RecordToolCall(context.Context, string, string, ToolCallOutcome, time.Duration) {}
func (noopMetrics) RecordHealthPing(context.Context, string, bool, time.Duration)                  {}
func (noopMetrics) RecordReconnect(context.Context, string)                                        {}
func (noopMetrics) RecordSearch(context.Context, int, time.Duration)                               {}

// otelMetrics is the real implementation, backed by OpenTelemetry
// instruments registered against the process-wide meter.
type otelMetrics struct {
	toolCalls     metric.Int64Counter
	toolCallSecs  metric.Float64Histogram
	healthPings   metric.Int64Counter
	healthPingSec metric.Float64Histogram
	reconnects    metric.Int64Counter
	searches      metric.Int64Counter
	searchResults metric.Int64Histogram
}

// NewOtelCustomMetrics registers the bridge's instruments against meter.
func NewOtelCustomMetrics(meter metric.Meter) (CustomMetrics, error) {
	toolCalls, err := meter.Int64Counter(
		"bridge_tool_calls_total",
		metric.WithDescription("Total number of tool calls routed through the bridge, by upstream and outcome."),
	)
	if err != nil {
		return nil, fmt.Errorf("create bridge_tool_calls_total: %w", err)
	}
	toolCallSecs, err := meter.Float64Histogram(
		"bridge_tool_call_duration_seconds",
		metric.WithDescription("Duration of upstream tool calls."),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create bridge_tool_call_duration_seconds: %w", err)
	}
	healthPings, err := meter.Int64Counter(
		"bridge_health_pings_total",
		metric.WithDescription("Total number of upstream health pings, by outcome."),
	)
	if err != nil {
		return nil, fmt.Errorf("create bridge_health_pings_total: %w", err)
	}
	healthPingSec, err := meter.Float64Histogram(
		"bridge_health_ping_duration_seconds",
		metric.WithDescription("Duration of upstream health pings."),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create bridge_health_ping_duration_seconds: %w", err)
	}
	reconnects, err := meter.Int64Counter(
		"bridge_upstream_reconnects_total",
		metric.WithDescription("Total number of forced upstream reconnects triggered by the health loop."),
	)
	if err != nil {
		return nil, fmt.Errorf("create bridge_upstream_reconnects_total: %w", err)
	}
	searches, err := meter.Int64Counter(
		"bridge_search_calls_total",
		metric.WithDescription("Total number of search_tools invocations."),
	)
	if err != nil {
		return nil, fmt.Errorf("create bridge_search_calls_total: %w", err)
	}
	searchResults, err := meter.Int64Histogram(
		"bridge_search_result_count",
		metric.WithDescription("Number of tools returned per search_tools call."),
	)
	if err != nil {
		return nil, fmt.Errorf("create bridge_search_result_count: %w", err)
	}

	return &otelMetrics{
		toolCalls:     toolCalls,
		toolCallSecs:  toolCallSecs,
		healthPings:   healthPings,
		healthPingSec: healthPingSec,
		reconnects:    reconnects,
		searches:      searches,
		searchResults: searchResults,
	}, nil
}

func (m *otelMetrics) RecordToolCall(ctx context.Context, source, tool string, outcome ToolCallOutcome, d time.Duration) {
	attrs := metric.WithAttributes(
		attrString("source", source),
		attrString("tool", tool),
		attrString("outcome", string(outcome)),
	)
	m.toolCalls.Add(ctx, 1, attrs)
	m.toolCallSecs.Record(ctx, d.Seconds(), attrs)
}

func (m *otelMetrics) RecordHealthPing(ctx context.Context, source string, healthy bool, d time.Duration) {
	outcome := "healthy"
	if !healthy {
		outcome = "unhealthy"
	}
	attrs := metric.WithAttributes(attrString("source", source), attrString("outcome", outcome))
	m.healthPings.Add(ctx, 1, attrs)
	m.healthPingSec.Record(ctx, d.Seconds(), attrs)
}

func (m *otelMetrics) RecordReconnect(ctx context.Context, source string) {
	m.reconnects.Add(ctx, 1, metric.WithAttributes(attrString("source", source)))
}

func (m *otelMetrics) RecordSearch(ctx context.Context, resultCount int, d time.Duration) {
	m.searches.Add(ctx, 1)
	m.searchResults.Record(ctx, int64(resultCount))
	_ = d // duration currently unused beyond the counter; kept in the signature for future histogram use.
}
