// Package feed fans out published domain events to in-process subscribers.
//
// Broadcaster implements runtime.Sink, so any runtime or connection manager
// configured with it reports every successful publish here. Subscribers pick a
// topic, or the empty string for every topic, and receive Items on a buffered
// channel. A slow subscriber loses events rather than blocking publishers.
//
// Tee combines sinks, which is how the event ledger and the broadcaster are
// attached to the same runtime.
package feed
