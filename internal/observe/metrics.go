// Package observe provides observability primitives for the orchestration
// engine: OpenTelemetry metrics with a Prometheus exporter bridge so the
// local dashboard can scrape /metrics.
//
// A package-level default [Metrics] instance ([Default]) is provided for
// convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope for all engine metrics.
const meterName = "github.com/nlxhq/nlx"

// Metrics holds the OTel instruments for the engine. All fields are safe
// for concurrent use.
type Metrics struct {
	// ActionDuration tracks per-action execution latency in seconds.
	// Attributes: kind, status (ok|error|skipped).
	ActionDuration metric.Float64Histogram

	// BusRequests counts bus request/reply calls.
	// Attributes: subject, status (ok|timeout|error).
	BusRequests metric.Int64Counter

	// PlansTotal counts produced plans. Attributes: route
	// (quick_ref|conversational|music|llm|fallback).
	PlansTotal metric.Int64Counter

	// MusicWait tracks how long the handler waited for async music
	// results, in seconds. Attribute: outcome (received|timeout).
	MusicWait metric.Float64Histogram

	// ApprovalsPending counts plans returned for approval.
	ApprovalsPending metric.Int64Counter
}

// NewMetrics creates all instruments on the given provider.
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter(meterName)

	actionDuration, err := meter.Float64Histogram("nlx_action_duration_seconds",
		metric.WithDescription("Per-action execution latency"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	busRequests, err := meter.Int64Counter("nlx_bus_requests_total",
		metric.WithDescription("Bus request/reply calls"))
	if err != nil {
		return nil, err
	}

	plansTotal, err := meter.Int64Counter("nlx_plans_total",
		metric.WithDescription("Plans produced, by planning route"))
	if err != nil {
		return nil, err
	}

	musicWait, err := meter.Float64Histogram("nlx_music_wait_seconds",
		metric.WithDescription("Time spent waiting for async music results"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	approvalsPending, err := meter.Int64Counter("nlx_approvals_pending_total",
		metric.WithDescription("Plans returned to the user for approval"))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		ActionDuration:   actionDuration,
		BusRequests:      busRequests,
		PlansTotal:       plansTotal,
		MusicWait:        musicWait,
		ApprovalsPending: approvalsPending,
	}, nil
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default returns the process-wide [Metrics] instance, creating it from the
// global meter provider on first use.
func Default() *Metrics {
	defaultOnce.Do(func() {
		m, err := NewMetrics(otel.GetMeterProvider())
		if err != nil {
			// The OTel SDK only fails instrument creation on invalid
			// names; fall back to a no-op-provider instance.
			m = &Metrics{}
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

// RecordAction records one action execution. Nil-safe so callers can run
// without metrics wired.
func (m *Metrics) RecordAction(ctx context.Context, kind string, status string, elapsed time.Duration) {
	if m == nil || m.ActionDuration == nil {
		return
	}
	m.ActionDuration.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("status", status),
		))
}

// RecordBusRequest counts one request/reply call. Nil-safe.
func (m *Metrics) RecordBusRequest(ctx context.Context, subject, status string) {
	if m == nil || m.BusRequests == nil {
		return
	}
	m.BusRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("subject", subject),
			attribute.String("status", status),
		))
}

// RecordPlan counts one produced plan. Nil-safe.
func (m *Metrics) RecordPlan(ctx context.Context, route string) {
	if m == nil || m.PlansTotal == nil {
		return
	}
	m.PlansTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("route", route)))
}

// RecordMusicWait records one async music wait. Nil-safe.
func (m *Metrics) RecordMusicWait(ctx context.Context, outcome string, elapsed time.Duration) {
	if m == nil || m.MusicWait == nil {
		return
	}
	m.MusicWait.Record(ctx, elapsed.Seconds(),
		metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordApprovalPending counts one plan held for approval. Nil-safe.
func (m *Metrics) RecordApprovalPending(ctx context.Context) {
	if m == nil || m.ApprovalsPending == nil {
		return
	}
	m.ApprovalsPending.Add(ctx, 1)
}
