// ABOUTME: Connection record and its forward-only status machine
// ABOUTME: Status ranks enforce pending -> needs_confirmation -> established, any -> closed

package connection

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

var (
	// ErrNotFound is returned for operations on an unknown connection.
	ErrNotFound = errors.New("connection not found")
	// ErrAlreadyClosed is returned when a closed connection is asked to move.
	ErrAlreadyClosed = errors.New("connection already closed")
	// ErrDuplicateRequest marks a connection request that was already seen.
	ErrDuplicateRequest = errors.New("duplicate connection request")
	// ErrRateLimited marks a connection request dropped by the per-peer limiter.
	ErrRateLimited = errors.New("connection request rate limited")
	// ErrInvalidTransition is returned for a backwards status change.
	ErrInvalidTransition = errors.New("invalid connection status transition")
)

// Status is the handshake state of a Connection.
type Status string

const (
	StatusPending           Status = "pending"
	StatusNeedsConfirmation Status = "needs_confirmation"
	StatusEstablished       Status = "established"
	StatusClosed            Status = "closed"
)

func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 1
	case StatusNeedsConfirmation:
		return 2
	case StatusEstablished:
		return 3
	case StatusClosed:
		return 4
	default:
		return 0
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool { return s.rank() > 0 }

// Direction records which side started the handshake.
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// Connection is one peer relationship.
type Connection struct {
	ConnectionTopicID string
	TargetAccountID   string
	Status            Status
	Direction         Direction
	Created           time.Time
	LastActivity      time.Time

	// ConnectionRequestID is the sequence number of the originating
	// connection_request on the topic it was published to.
	ConnectionRequestID int64
	UniqueRequestKey    string

	Memo string
	// InboundTopicID is where the peer receives handshake messages.
	InboundTopicID string
	CloseReason    string
}

// IsPending reports whether the request awaits a decision.
func (c Connection) IsPending() bool { return c.Status == StatusPending }

// NeedsConfirmation reports whether an operator must accept the request.
func (c Connection) NeedsConfirmation() bool { return c.Status == StatusNeedsConfirmation }

// IsEstablished reports whether the handshake completed.
func (c Connection) IsEstablished() bool { return c.Status == StatusEstablished }

// IsClosed reports whether the connection is closed.
func (c Connection) IsClosed() bool { return c.Status == StatusClosed }

// RequestKey builds the unique request key for a requester and sequence.
func RequestKey(requester string, sequence int64) string {
	return requester + ":" + strconv.FormatInt(sequence, 10)
}

// transition moves c to next, refusing regressions and moves out of closed.
func (c *Connection) transition(next Status, now time.Time) error {
	if c.Status == StatusClosed {
		if next == StatusClosed {
			return nil
		}
		return fmt.Errorf("%s: %w", c.UniqueRequestKey, ErrAlreadyClosed)
	}
	if next.rank() < c.Status.rank() {
		return fmt.Errorf("%s: %s -> %s: %w", c.UniqueRequestKey, c.Status, next, ErrInvalidTransition)
	}
	c.Status = next
	c.LastActivity = now
	return nil
}
