package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	require.NoError(t, err)
	return m, reader
}

func findMetric(t *testing.T, reader *sdkmetric.ManualReader, name string) *metricdata.Metrics {
	t.Helper()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// =====================================================
// Metrics Tests
// =====================================================

// TestNewMetrics_DefaultProvider verifies the global provider fallback.
func TestNewMetrics_DefaultProvider(t *testing.T) {
	m, err := NewMetrics(nil)
	require.NoError(t, err)
	require.NotNil(t, m)

	// Global provider is a no-op, recording must not panic
	m.ItemProcessed(context.Background(), "order")
	m.QueueDepth(context.Background(), 3)
}

// TestMetrics_NilReceiver verifies a nil *Metrics is usable.
func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics
	ctx := context.Background()

	assert.NotPanics(t, func() {
		m.ItemProcessed(ctx, "order")
		m.ItemFailed(ctx, "order", "HTTP_ERROR")
		m.ItemRetried(ctx, "order", "TIMEOUT")
		m.PassCompleted(ctx, time.Second)
		m.QueueDepth(ctx, 1)
	})
}

// TestMetrics_Counters verifies counters and their attributes.
func TestMetrics_Counters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ItemProcessed(ctx, "order")
	m.ItemProcessed(ctx, "order")
	m.ItemProcessed(ctx, "")
	m.ItemFailed(ctx, "table", "HTTP_ERROR")

	processed := findMetric(t, reader, MetricItemsProcessed)
	require.NotNil(t, processed)
	sum, ok := processed.Data.(metricdata.Sum[int64])
	require.True(t, ok)

	byType := map[string]int64{}
	for _, dp := range sum.DataPoints {
		v, _ := dp.Attributes.Value(attribute.Key("item.type"))
		byType[v.AsString()] = dp.Value
	}
	assert.Equal(t, map[string]int64{"order": 2, "untyped": 1}, byType)

	failed := findMetric(t, reader, MetricItemsFailed)
	require.NotNil(t, failed)
	fsum := failed.Data.(metricdata.Sum[int64])
	require.Len(t, fsum.DataPoints, 1)
	kind, _ := fsum.DataPoints[0].Attributes.Value(attribute.Key("error.kind"))
	assert.Equal(t, "HTTP_ERROR", kind.AsString())
}

// TestMetrics_PassAndDepth verifies the histogram and the gauge.
func TestMetrics_PassAndDepth(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.PassCompleted(ctx, 250*time.Millisecond)
	m.QueueDepth(ctx, 4)
	m.QueueDepth(ctx, 2)

	duration := findMetric(t, reader, MetricPassDuration)
	require.NotNil(t, duration)
	hist := duration.Data.(metricdata.Histogram[float64])
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(1), hist.DataPoints[0].Count)
	assert.InDelta(t, 0.25, hist.DataPoints[0].Sum, 1e-9)

	depth := findMetric(t, reader, MetricQueueDepth)
	require.NotNil(t, depth)
	gauge := depth.Data.(metricdata.Gauge[int64])
	require.Len(t, gauge.DataPoints, 1)
	assert.Equal(t, int64(2), gauge.DataPoints[0].Value)
}

// =====================================================
// LocalProvider Tests
// =====================================================

// TestLocalProvider_Snapshot verifies the flattened view.
func TestLocalProvider_Snapshot(t *testing.T) {
	p := NewLocalProvider()
	defer p.Shutdown(context.Background())

	m, err := NewMetrics(p)
	require.NoError(t, err)

	ctx := context.Background()
	m.ItemProcessed(ctx, "order")
	m.ItemRetried(ctx, "table", "NETWORK_ERROR")
	m.ItemRetried(ctx, "order", "TIMEOUT")
	m.PassCompleted(ctx, time.Second)
	m.PassCompleted(ctx, 3*time.Second)
	m.QueueDepth(ctx, 7)

	snap, err := p.Snapshot(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1.0, snap[MetricItemsProcessed])
	assert.Equal(t, 2.0, snap[MetricItemsRetried])
	assert.Equal(t, 7.0, snap[MetricQueueDepth])
	assert.Equal(t, 2.0, snap[MetricPassDuration+".count"])
	assert.InDelta(t, 4.0, snap[MetricPassDuration+".sum"], 1e-9)

	_, ok := snap[MetricItemsFailed]
	assert.False(t, ok, "unrecorded instruments are not reported")
}
