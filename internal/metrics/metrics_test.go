// ABOUTME: Tests for the metrics recorder using an SDK manual reader
// ABOUTME: Verifies counters are registered and attributed by component

package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()
	totals, err := Totals(context.Background(), reader)
	require.NoError(t, err)
	return totals
}

func TestRecorder_Counts(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	rec, err := New(mp)
	require.NoError(t, err)

	ctx := context.Background()
	rec.Dispatched(ctx, "risk", "PriceUpdate")
	rec.Dispatched(ctx, "risk", "PriceUpdate")
	rec.Dropped(ctx, "risk", "prices")
	rec.HandlerError(ctx, "rebalance", "RebalanceProposal")
	rec.TransportFailure(ctx, "connections", "read")
	rec.Published(ctx, "risk", "RiskAlert")
	rec.Transition(ctx, "connections", "established")

	totals := collect(t, reader)
	assert.Equal(t, int64(2), totals["topicmesh.events.dispatched"])
	assert.Equal(t, int64(1), totals["topicmesh.events.dropped"])
	assert.Equal(t, int64(1), totals["topicmesh.handler.errors"])
	assert.Equal(t, int64(1), totals["topicmesh.transport.failures"])
	assert.Equal(t, int64(1), totals["topicmesh.events.published"])
	assert.Equal(t, int64(1), totals["topicmesh.connections.transitions"])
}

func TestNoop(t *testing.T) {
	rec := Noop()
	require.NotNil(t, rec)
	rec.Dispatched(context.Background(), "x", "y")
}

func TestProvider_TotalsAndShutdown(t *testing.T) {
	p, err := NewProvider()
	require.NoError(t, err)

	ctx := context.Background()
	p.Recorder().Published(ctx, "price-feed", "PriceUpdate")
	p.Recorder().Published(ctx, "risk", "RiskAlert")

	totals, err := p.Totals(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), totals["topicmesh.events.published"])

	require.NoError(t, p.Shutdown(ctx))
	_, err = p.Totals(ctx)
	assert.Error(t, err, "collecting after shutdown fails")
}
