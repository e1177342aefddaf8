package telemetry

import (
	"context"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// LocalProvider is an in-process meter provider backed by a manual reader.
// Values are only observable through Snapshot.
type LocalProvider struct {
	*sdkmetric.MeterProvider
	reader *sdkmetric.ManualReader
}

// NewLocalProvider creates a LocalProvider.
func NewLocalProvider() *LocalProvider {
	reader := sdkmetric.NewManualReader()
	return &LocalProvider{
		MeterProvider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)),
		reader:        reader,
	}
}

// Snapshot collects current values keyed by instrument name. Counters report
// their total across attributes, gauges their latest value, histograms a
// ".count" and ".sum" pair.
func (p *LocalProvider) Snapshot(ctx context.Context) (map[string]float64, error) {
	var rm metricdata.ResourceMetrics
	if err := p.reader.Collect(ctx, &rm); err != nil {
		return nil, err
	}

	out := make(map[string]float64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				var total int64
				for _, dp := range data.DataPoints {
					total += dp.Value
				}
				out[m.Name] = float64(total)
			case metricdata.Gauge[int64]:
				for _, dp := range data.DataPoints {
					out[m.Name] = float64(dp.Value)
				}
			case metricdata.Histogram[float64]:
				var count uint64
				var sum float64
				for _, dp := range data.DataPoints {
					count += dp.Count
					sum += dp.Sum
				}
				out[m.Name+".count"] = float64(count)
				out[m.Name+".sum"] = sum
			}
		}
	}
	return out, nil
}
