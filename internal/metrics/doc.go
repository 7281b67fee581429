// Package metrics records agent and connection counters through the
// OpenTelemetry metric API.
//
// Instruments:
//
//   - topicmesh.events.dispatched   events handed to a handler
//   - topicmesh.events.dropped      payloads rejected by the codec
//   - topicmesh.handler.errors      handlers that returned an error
//   - topicmesh.transport.failures  failed reads and publishes
//   - topicmesh.events.published    successful publishes
//   - topicmesh.connections.transitions  connection status changes
//
// Every instrument carries a "component" attribute. A Recorder built with a
// nil MeterProvider uses the global provider, which is a no-op until the
// process installs one.
package metrics
