// Package telemetry records outbox metrics through OpenTelemetry.
//
// Nothing is exported off the terminal: the desktop host installs a local
// provider (see NewLocalProvider) whose only reader is polled in-process.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName scopes every instrument of this package.
const MeterName = "tablepos.terminal.outbox"

// Instrument names.
const (
	MetricItemsProcessed = "outbox.items.processed"
	MetricItemsFailed    = "outbox.items.failed"
	MetricItemsRetried   = "outbox.items.retried"
	MetricPassDuration   = "outbox.pass.duration"
	MetricQueueDepth     = "outbox.queue.depth"
)

// Metrics holds the scheduler instruments. A nil *Metrics records nothing.
type Metrics struct {
	itemsProcessed metric.Int64Counter
	itemsFailed    metric.Int64Counter
	itemsRetried   metric.Int64Counter
	passDuration   metric.Float64Histogram
	queueDepth     metric.Int64Gauge
}

// NewMetrics creates the instruments on provider. A nil provider falls back
// to the global one, which is a no-op unless the host installed a provider.
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}

	meter := provider.Meter(MeterName)

	var (
		m   Metrics
		err error
	)

	m.itemsProcessed, err = meter.Int64Counter(
		MetricItemsProcessed,
		metric.WithDescription("Number of queued operations replayed successfully"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s counter: %w", MetricItemsProcessed, err)
	}

	m.itemsFailed, err = meter.Int64Counter(
		MetricItemsFailed,
		metric.WithDescription("Number of queued operations dropped after exhausting retries"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s counter: %w", MetricItemsFailed, err)
	}

	m.itemsRetried, err = meter.Int64Counter(
		MetricItemsRetried,
		metric.WithDescription("Number of failed attempts kept for a later pass"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s counter: %w", MetricItemsRetried, err)
	}

	m.passDuration, err = meter.Float64Histogram(
		MetricPassDuration,
		metric.WithDescription("Time taken per processing pass"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s histogram: %w", MetricPassDuration, err)
	}

	m.queueDepth, err = meter.Int64Gauge(
		MetricQueueDepth,
		metric.WithDescription("Number of operations waiting in the outbox"),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s gauge: %w", MetricQueueDepth, err)
	}

	return &m, nil
}

func typeAttr(itemType string) attribute.KeyValue {
	if itemType == "" {
		itemType = "untyped"
	}
	return attribute.String("item.type", itemType)
}

// ItemProcessed counts a successful replay.
func (m *Metrics) ItemProcessed(ctx context.Context, itemType string) {
	if m == nil {
		return
	}
	m.itemsProcessed.Add(ctx, 1, metric.WithAttributes(typeAttr(itemType)))
}

// ItemFailed counts a permanently failed operation.
func (m *Metrics) ItemFailed(ctx context.Context, itemType, kind string) {
	if m == nil {
		return
	}
	m.itemsFailed.Add(ctx, 1, metric.WithAttributes(typeAttr(itemType), attribute.String("error.kind", kind)))
}

// ItemRetried counts a failed attempt that stays queued.
func (m *Metrics) ItemRetried(ctx context.Context, itemType, kind string) {
	if m == nil {
		return
	}
	m.itemsRetried.Add(ctx, 1, metric.WithAttributes(typeAttr(itemType), attribute.String("error.kind", kind)))
}

// PassCompleted records the duration of a pass.
func (m *Metrics) PassCompleted(ctx context.Context, d time.Duration) {
	if m == nil {
		return
	}
	m.passDuration.Record(ctx, d.Seconds())
}

// QueueDepth records the current queue length.
func (m *Metrics) QueueDepth(ctx context.Context, depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Record(ctx, int64(depth))
}
