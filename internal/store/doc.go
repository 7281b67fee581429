// Package store provides durable local storage for topicmesh on SQLite.
//
// # Architecture
//
// SQLiteStore is a single struct that satisfies several narrow interfaces
// owned by other packages:
//
//   - transport.Transport: a durable topic log (topic_messages)
//   - runtime.CheckpointStore: consumer cursors (cursors)
//   - connection.Store: the connection table and its status history
//     (connections, connection_history)
//   - runtime.Sink: a ledger of every event an agent published
//     (emitted_events)
//
// # Topic log
//
// Sequence numbers are dense and 1-based per topic. Publish assigns the next
// sequence inside a single INSERT ... SELECT statement, so two writers on the
// same database cannot be handed the same number.
//
// # SQLite Configuration
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//	PRAGMA busy_timeout=5000;
//
// ":memory:" databases are pinned to one connection so every query sees the
// same database.
//
// # Error Handling
//
//   - ErrNotFound: requested record does not exist
//   - transport errors from the topic log wrap transport.ErrTransport
package store
