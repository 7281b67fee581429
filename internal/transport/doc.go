// Package transport defines the topic log the agents communicate through and
// ships two implementations of it.
//
// # Model
//
// A topic is an append-only log. Every entry carries a per-topic sequence
// number that increases monotonically, an opaque payload string, and the time
// the log accepted it. Consumers keep their own cursor and call ReadSince to
// fetch every entry with a sequence number greater than the cursor, in
// ascending order.
//
// # Implementations
//
//   - MemoryLog: in-process log, used by tests and single-process demos
//   - RedisLog: Redis Streams, entries stored under stream ID 0-<seq>
//
// The SQLite store in internal/store also satisfies Transport for durable
// single-host deployments.
//
// # Errors
//
// Every failure returned by an implementation wraps ErrTransport so callers can
// distinguish a broken log from a malformed payload:
//
//	if errors.Is(err, transport.ErrTransport) { ... retry next tick ... }
//
// Retries, timeouts and reconnection belong to the implementation, not to the
// agents that use it.
package transport
