// ABOUTME: In-memory topic log implementing Transport
// ABOUTME: Used by tests and single-process runs; supports batch limits and fault injection

package transport

import (
	"context"
	"sync"

	"github.com/2389/topicmesh/internal/clock"
)

// MemoryLog is a thread-safe in-process topic log.
type MemoryLog struct {
	mu     sync.RWMutex
	topics map[string][]Message
	clock  clock.Clock

	// MaxBatch caps how many messages a single ReadSince returns (0 = no cap).
	MaxBatch int

	readErr    error
	publishErr error
}

// NewMemoryLog creates an empty log. A nil clock uses wall time.
func NewMemoryLog(clk clock.Clock) *MemoryLog {
	if clk == nil {
		clk = clock.Real()
	}
	return &MemoryLog{
		topics: make(map[string][]Message),
		clock:  clk,
	}
}

// Publish appends payload to topic.
func (l *MemoryLog) Publish(ctx context.Context, topic, payload string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, Wrap("publish", topic, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.publishErr != nil {
		return 0, Wrap("publish", topic, l.publishErr)
	}

	seq := int64(len(l.topics[topic])) + 1
	l.topics[topic] = append(l.topics[topic], Message{
		Sequence:  seq,
		Contents:  payload,
		Timestamp: l.clock.Now(),
	})
	return seq, nil
}

// ReadSince returns messages with Sequence > cursor in ascending order.
func (l *MemoryLog) ReadSince(ctx context.Context, topic string, cursor int64) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, Wrap("read", topic, err)
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.readErr != nil {
		return nil, Wrap("read", topic, l.readErr)
	}

	msgs := l.topics[topic]
	if cursor < 0 {
		cursor = 0
	}
	if cursor >= int64(len(msgs)) {
		return nil, nil
	}

	// Sequence numbers are dense and 1-based, so the slice index is seq-1.
	out := msgs[cursor:]
	if l.MaxBatch > 0 && len(out) > l.MaxBatch {
		out = out[:l.MaxBatch]
	}
	result := make([]Message, len(out))
	copy(result, out)
	return result, nil
}

// Messages returns a copy of every message on topic.
func (l *MemoryLog) Messages(topic string) []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	result := make([]Message, len(l.topics[topic]))
	copy(result, l.topics[topic])
	return result
}

// FailReads makes subsequent reads fail with err until cleared with nil.
func (l *MemoryLog) FailReads(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.readErr = err
}

// FailPublishes makes subsequent publishes fail with err until cleared with nil.
func (l *MemoryLog) FailPublishes(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.publishErr = err
}
