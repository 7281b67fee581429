// ABOUTME: OpenTelemetry counters shared by the runtime and connection manager
// ABOUTME: Wraps instrument creation and attribute plumbing behind small helpers

package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/2389/topicmesh"

// Recorder holds the instruments used across the mesh.
type Recorder struct {
	dispatched  metric.Int64Counter
	dropped     metric.Int64Counter
	handlerErrs metric.Int64Counter
	transport   metric.Int64Counter
	published   metric.Int64Counter
	transitions metric.Int64Counter
}

// New creates a Recorder on mp, or on the global provider when mp is nil.
func New(mp metric.MeterProvider) (*Recorder, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName)

	r := &Recorder{}
	var err error
	if r.dispatched, err = meter.Int64Counter("topicmesh.events.dispatched",
		metric.WithDescription("Events handed to a handler")); err != nil {
		return nil, fmt.Errorf("creating dispatched counter: %w", err)
	}
	if r.dropped, err = meter.Int64Counter("topicmesh.events.dropped",
		metric.WithDescription("Payloads rejected by the codec")); err != nil {
		return nil, fmt.Errorf("creating dropped counter: %w", err)
	}
	if r.handlerErrs, err = meter.Int64Counter("topicmesh.handler.errors",
		metric.WithDescription("Handlers that returned an error")); err != nil {
		return nil, fmt.Errorf("creating handler error counter: %w", err)
	}
	if r.transport, err = meter.Int64Counter("topicmesh.transport.failures",
		metric.WithDescription("Failed topic reads and publishes")); err != nil {
		return nil, fmt.Errorf("creating transport failure counter: %w", err)
	}
	if r.published, err = meter.Int64Counter("topicmesh.events.published",
		metric.WithDescription("Events successfully published")); err != nil {
		return nil, fmt.Errorf("creating published counter: %w", err)
	}
	if r.transitions, err = meter.Int64Counter("topicmesh.connections.transitions",
		metric.WithDescription("Connection status changes")); err != nil {
		return nil, fmt.Errorf("creating transition counter: %w", err)
	}
	return r, nil
}

// Noop returns a Recorder that discards everything.
func Noop() *Recorder {
	r, _ := New(noop.NewMeterProvider())
	return r
}

func attrs(component string, kv ...attribute.KeyValue) metric.MeasurementOption {
	return metric.WithAttributes(append([]attribute.KeyValue{attribute.String("component", component)}, kv...)...)
}

// Dispatched counts an event delivered to a handler.
func (r *Recorder) Dispatched(ctx context.Context, component, eventType string) {
	r.dispatched.Add(ctx, 1, attrs(component, attribute.String("type", eventType)))
}

// Dropped counts a payload the codec rejected.
func (r *Recorder) Dropped(ctx context.Context, component, topic string) {
	r.dropped.Add(ctx, 1, attrs(component, attribute.String("topic", topic)))
}

// HandlerError counts a handler failure.
func (r *Recorder) HandlerError(ctx context.Context, component, eventType string) {
	r.handlerErrs.Add(ctx, 1, attrs(component, attribute.String("type", eventType)))
}

// TransportFailure counts a failed read or publish.
func (r *Recorder) TransportFailure(ctx context.Context, component, op string) {
	r.transport.Add(ctx, 1, attrs(component, attribute.String("op", op)))
}

// Published counts a successful publish.
func (r *Recorder) Published(ctx context.Context, component, eventType string) {
	r.published.Add(ctx, 1, attrs(component, attribute.String("type", eventType)))
}

// Transition counts a connection moving to status.
func (r *Recorder) Transition(ctx context.Context, component, status string) {
	r.transitions.Add(ctx, 1, attrs(component, attribute.String("status", status)))
}
