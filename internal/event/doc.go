// Package event is the codec between topic payloads and typed domain events.
//
// # Wire format
//
// Every payload is a JSON object with a common envelope:
//
//	{
//	  "type": "PriceUpdate",
//	  "timestamp": 1717000000000,
//	  "sender": "price-feed",
//	  "details": { "tokenId": "HBAR", "price": 0.071, "source": "feed" },
//	  "votes": { "for": 3, "against": 1, "total": 4 }
//	}
//
// type, timestamp (milliseconds) and sender are required; votes is optional.
// The details object is checked against a per-type JSON schema.
//
// # Variants
//
// DomainEvent is a sealed interface. Decode returns one of:
//
//   - *PriceUpdate, *RiskAlert
//   - *RebalanceProposal, *RebalanceApproved, *RebalanceExecuted, *PolicyChange
//   - *ConnectionRequest, *ConnectionCreated, *CloseConnection, *AcceptConnection
//
// Consumers branch with a type switch or the Is* predicates. Payloads with an
// unknown type, a missing envelope field, or invalid details fail with an
// error wrapping ErrInvalidPayload.
package event
