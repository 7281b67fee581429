// Package connection implements the peer handshake over topics.
//
// # Overview
//
// A Manager owns an inbound topic and a table of Connections, one per unique
// request key (requester account plus the sequence number of the request on
// the inbound topic). It polls the inbound topic on its own ticker and reacts
// to three handshake messages:
//
//   - connection_request: records a pending connection, then either approves
//     it immediately or parks it in needs_confirmation, depending on the
//     ApprovalPolicy.
//   - connection_created: completes a handshake this manager started with
//     RequestConnection.
//   - close_connection: closes the named connection.
//
// An optional control topic carries operator commands (accept_connection and
// close_connection) so a separate process can approve requests.
//
// # State machine
//
//	pending ──► needs_confirmation ──► established
//	   │               │                    │
//	   └───────────────┴────────► closed ◄──┘
//
// Status only moves forward and closed is terminal. Records are never
// deleted.
//
// # Polling discipline
//
// Poll cycles never overlap. Undecodable messages, duplicates and rate-limited
// requests are logged and skipped, and the cursor still advances past them. A
// failed read leaves the cursor where it was.
//
// # Readiness
//
// Initialize loads persisted records from the ConnectionStore and then flips
// the manager ready. WaitUntilReady blocks on that signal with a timeout.
package connection
