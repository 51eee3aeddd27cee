package instrumentation

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric attribute keys.
const (
	attrGrantType = "grant_type"
	attrResult    = "result"
	attrStatus    = "status"
	attrTool      = "tool"
	attrReason    = "reason"
)

// Result values for metric labels.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Metrics provides methods for recording observability metrics.
// The zero value is a no-op recorder, used when instrumentation is disabled.
type Metrics struct {
	tokensIssuedTotal     metric.Int64Counter
	tokenValidationsTotal metric.Int64Counter
	codeExchangesTotal    metric.Int64Counter

	activeSessions        metric.Int64UpDownCounter
	sessionEvictionsTotal metric.Int64Counter

	toolInvocationsTotal metric.Int64Counter
	toolDuration         metric.Float64Histogram
}

// NewMetrics creates a Metrics instance with all instruments initialized.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}

	var err error

	m.tokensIssuedTotal, err = meter.Int64Counter(
		"oauth_tokens_issued_total",
		metric.WithDescription("Total number of access tokens issued"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth_tokens_issued_total counter: %w", err)
	}

	m.tokenValidationsTotal, err = meter.Int64Counter(
		"oauth_token_validations_total",
		metric.WithDescription("Total number of bearer token validations"),
		metric.WithUnit("{validation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth_token_validations_total counter: %w", err)
	}

	m.codeExchangesTotal, err = meter.Int64Counter(
		"oauth_code_exchanges_total",
		metric.WithDescription("Total number of authorization code exchanges"),
		metric.WithUnit("{exchange}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth_code_exchanges_total counter: %w", err)
	}

	m.activeSessions, err = meter.Int64UpDownCounter(
		"active_sessions",
		metric.WithDescription("Number of active sessions"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create active_sessions gauge: %w", err)
	}

	m.sessionEvictionsTotal, err = meter.Int64Counter(
		"session_evictions_total",
		metric.WithDescription("Total number of session evictions"),
		metric.WithUnit("{eviction}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session_evictions_total counter: %w", err)
	}

	m.toolInvocationsTotal, err = meter.Int64Counter(
		"mcp_tool_invocations_total",
		metric.WithDescription("Total number of MCP tool invocations"),
		metric.WithUnit("{invocation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mcp_tool_invocations_total counter: %w", err)
	}

	m.toolDuration, err = meter.Float64Histogram(
		"mcp_tool_duration_seconds",
		metric.WithDescription("MCP tool execution duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mcp_tool_duration_seconds histogram: %w", err)
	}

	return m, nil
}

// RecordTokenIssued records an access token mint with its grant type.
func (m *Metrics) RecordTokenIssued(ctx context.Context, grantType string) {
	if m.tokensIssuedTotal == nil {
		return
	}
	m.tokensIssuedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrGrantType, grantType),
	))
}

// RecordTokenValidation records a bearer token validation attempt.
// Result should be "success" or "failure".
func (m *Metrics) RecordTokenValidation(ctx context.Context, result string) {
	if m.tokenValidationsTotal == nil {
		return
	}
	m.tokenValidationsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrResult, result),
	))
}

// RecordCodeExchange records an authorization code exchange attempt.
// Result should be "success" or "failure".
func (m *Metrics) RecordCodeExchange(ctx context.Context, result string) {
	if m.codeExchangesTotal == nil {
		return
	}
	m.codeExchangesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrResult, result),
	))
}

// IncrementActiveSessions increments the active sessions counter.
func (m *Metrics) IncrementActiveSessions(ctx context.Context) {
	if m.activeSessions == nil {
		return
	}
	m.activeSessions.Add(ctx, 1)
}

// DecrementActiveSessions decrements the active sessions counter.
func (m *Metrics) DecrementActiveSessions(ctx context.Context) {
	if m.activeSessions == nil {
		return
	}
	m.activeSessions.Add(ctx, -1)
}

// RecordSessionEviction records a session eviction with its reason.
func (m *Metrics) RecordSessionEviction(ctx context.Context, reason string) {
	if m.sessionEvictionsTotal == nil {
		return
	}
	m.sessionEvictionsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String(attrReason, reason),
	))
}

// RecordToolInvocation records an MCP tool invocation.
// Status should be "success" or "error".
func (m *Metrics) RecordToolInvocation(ctx context.Context, toolName, status string, duration time.Duration) {
	if m.toolInvocationsTotal == nil || m.toolDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrTool, toolName),
		attribute.String(attrStatus, status),
	}

	m.toolInvocationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.toolDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}
