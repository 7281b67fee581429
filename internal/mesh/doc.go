// Package mesh assembles a running topicmesh node from configuration.
//
// # Components
//
// New builds, in order:
//
//   - the topic log transport (memory, Redis Streams or SQLite)
//   - the optional SQLite database for checkpoints, connection audit and
//     the emitted-event ledger
//   - the OpenTelemetry meter provider when metrics are enabled
//   - the event feed that fans published events out to subscribers
//   - the risk, rebalance and price-feed agents
//   - the connection manager when connections are enabled
//
// Every runtime and the connection manager publish through the same sink,
// which records to the ledger and the feed.
//
// # Lifecycle
//
// Run starts every component and blocks until the context is cancelled, then
// shuts down with a fresh five-second context. Shutdown stops pollers first so
// nothing publishes into a closed store, then releases the feed, meter
// provider, database and transport. It is safe to call more than once.
package mesh
