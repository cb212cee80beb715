package publisher

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

func attrErrorType(reason string) attribute.KeyValue {
	return attribute.String("error_type", reason)
}

// Metrics wraps the four OTel instruments spec §4.3 names:
// events_published_total, events_failed_total, outbox_lag_seconds, and
// publish_duration_seconds. Registered against a Meter obtained from
// internal/platform/telemetry.InitMeterProvider, the same OTLP/gRPC path
// go-core/telemetry/metrics.go establishes for every other service.
type Metrics struct {
	published       metric.Int64Counter
	failed          metric.Int64Counter
	outboxLag       metric.Float64Histogram
	publishDuration metric.Float64Histogram
}

// NewMetrics registers the publisher's instruments against meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	published, err := meter.Int64Counter("events_published_total",
		metric.WithDescription("events successfully delivered to all subscribers"))
	if err != nil {
		return nil, err
	}
	failed, err := meter.Int64Counter("events_failed_total",
		metric.WithDescription("delivery attempts that failed for at least one subscriber"))
	if err != nil {
		return nil, err
	}
	outboxLag, err := meter.Float64Histogram("outbox_lag_seconds",
		metric.WithDescription("age of the oldest unpublished outbox row at claim time"))
	if err != nil {
		return nil, err
	}
	publishDuration, err := meter.Float64Histogram("publish_duration_seconds",
		metric.WithDescription("time spent delivering one event to all subscribers"))
	if err != nil {
		return nil, err
	}
	return &Metrics{published: published, failed: failed, outboxLag: outboxLag, publishDuration: publishDuration}, nil
}

func (m *Metrics) RecordPublished(ctx context.Context, events int64) {
	m.published.Add(ctx, events)
}

func (m *Metrics) RecordFailed(ctx context.Context, reason string) {
	m.failed.Add(ctx, 1, metric.WithAttributes(attrErrorType(reason)))
}

func (m *Metrics) RecordPublishDuration(ctx context.Context, seconds float64) {
	m.publishDuration.Record(ctx, seconds)
}

func (m *Metrics) RecordOutboxLag(ctx context.Context, worldID, branch string, seconds float64) {
	m.outboxLag.Record(ctx, seconds, metric.WithAttributes(
		attribute.String("world_id", worldID),
		attribute.String("branch", branch),
	))
}
