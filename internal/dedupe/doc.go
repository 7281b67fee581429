// Package dedupe is a bounded, TTL-based set of seen keys.
//
// The connection manager marks every connection request key here before it
// touches the connection table, so a request redelivered within the window is
// rejected without a table scan. Time comes from an injected clock so expiry
// can be driven from tests.
package dedupe
