// ABOUTME: Topic log transport contract shared by agents and the connection manager
// ABOUTME: Defines Message, the Transport interface, and the TransportError type

package transport

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrTransport marks failures of the underlying log (read or publish).
var ErrTransport = errors.New("transport error")

// Message is a single entry read from a topic.
type Message struct {
	Sequence  int64
	Contents  string
	Timestamp time.Time
}

// Transport is the topic log consumed by the runtime and connection manager.
type Transport interface {
	// Publish appends payload to topic and returns the assigned sequence number.
	Publish(ctx context.Context, topic, payload string) (int64, error)
	// ReadSince returns every message on topic with Sequence > cursor,
	// ordered by ascending sequence number.
	ReadSince(ctx context.Context, topic string, cursor int64) ([]Message, error)
}

// TransportError describes a failed operation against a topic.
type TransportError struct {
	Op    string // "publish" or "read"
	Topic string
	Err   error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Topic, e.Err)
}

// Unwrap exposes both ErrTransport and the underlying cause to errors.Is.
func (e *TransportError) Unwrap() []error {
	return []error{ErrTransport, e.Err}
}

// Wrap builds a TransportError, or returns nil when err is nil.
func Wrap(op, topic string, err error) error {
	if err == nil {
		return nil
	}
	return &TransportError{Op: op, Topic: topic, Err: err}
}
