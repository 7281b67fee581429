// ABOUTME: SDK meter provider with a pull reader for in-process counter snapshots
// ABOUTME: Used by the mesh when metrics are enabled and by tests asserting counts

package metrics

import (
	"context"
	"fmt"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// Provider owns an SDK MeterProvider and the manual reader attached to it.
type Provider struct {
	mp     *sdkmetric.MeterProvider
	reader *sdkmetric.ManualReader
	rec    *Recorder
}

// NewProvider builds a MeterProvider with a manual reader and a Recorder on it.
func NewProvider() (*Provider, error) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	rec, err := New(mp)
	if err != nil {
		_ = mp.Shutdown(context.Background())
		return nil, err
	}
	return &Provider{mp: mp, reader: reader, rec: rec}, nil
}

// Recorder returns the recorder bound to this provider.
func (p *Provider) Recorder() *Recorder { return p.rec }

// Totals sums every int64 counter by instrument name.
func (p *Provider) Totals(ctx context.Context) (map[string]int64, error) {
	return Totals(ctx, p.reader)
}

// Shutdown flushes and releases the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if err := p.mp.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down meter provider: %w", err)
	}
	return nil
}

// Totals collects from reader and sums int64 sum data points per instrument.
func Totals(ctx context.Context, reader sdkmetric.Reader) (map[string]int64, error) {
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		return nil, fmt.Errorf("collecting metrics: %w", err)
	}
	totals := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				totals[m.Name] += dp.Value
			}
		}
	}
	return totals, nil
}
