// ABOUTME: In-memory fan-out of published domain events to subscribers
// ABOUTME: Implements runtime.Sink; per-topic or all-topic subscriptions with drop-on-full

package feed

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/2389/topicmesh/internal/event"
	"github.com/2389/topicmesh/internal/runtime"
)

// subscriberBufferSize is the channel buffer for each subscriber.
const subscriberBufferSize = 64

// AllTopics subscribes to every topic.
const AllTopics = ""

// Item is one published event as seen by subscribers.
type Item struct {
	Topic    string
	Sequence int64
	Event    event.DomainEvent
}

// Broadcaster delivers published events to subscribers without blocking.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan Item // topic -> subID -> ch
	closed      bool
	dropped     atomic.Int64
	logger      *slog.Logger
}

var _ runtime.Sink = (*Broadcaster)(nil)

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		subscribers: make(map[string]map[string]chan Item),
		logger:      logger.With("component", "feed"),
	}
}

// Subscribe registers for events on topic (AllTopics for every topic). The
// subscription ends when ctx is cancelled, which closes the channel.
func (b *Broadcaster) Subscribe(ctx context.Context, topic string) (<-chan Item, string) {
	subID := uuid.NewString()
	ch := make(chan Item, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	if _, ok := b.subscribers[topic]; !ok {
		b.subscribers[topic] = make(map[string]chan Item)
	}
	b.subscribers[topic][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "topic", topic, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(topic, subID)
	}()

	return ch, subID
}

// Emit delivers ev to subscribers of topic and of AllTopics.
func (b *Broadcaster) Emit(_ context.Context, topic string, sequence int64, ev event.DomainEvent) {
	item := Item{Topic: topic, Sequence: sequence, Event: ev}

	// Sends are non-blocking, so holding the read lock keeps Unsubscribe
	// from closing a channel mid-send.
	b.mu.RLock()
	defer b.mu.RUnlock()

	b.deliver(b.subscribers[topic], item)
	if topic != AllTopics {
		b.deliver(b.subscribers[AllTopics], item)
	}
}

func (b *Broadcaster) deliver(subs map[string]chan Item, item Item) {
	for id, ch := range subs {
		select {
		case ch <- item:
		default:
			b.dropped.Add(1)
			b.logger.Debug("dropped event for slow subscriber",
				"topic", item.Topic,
				"sequence", item.Sequence,
				"sub_id", id,
			)
		}
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(topic, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[topic]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}
	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, topic)
	}
	b.logger.Debug("subscriber removed", "topic", topic, "sub_id", subID)
}

// Subscribers returns the number of live subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, subs := range b.subscribers {
		n += len(subs)
	}
	return n
}

// Dropped returns how many deliveries were skipped for full subscribers.
func (b *Broadcaster) Dropped() int64 { return b.dropped.Load() }

// Close closes every subscriber channel. Later subscriptions are closed
// immediately.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for topic, subs := range b.subscribers {
		for id, ch := range subs {
			close(ch)
			delete(subs, id)
		}
		delete(b.subscribers, topic)
	}
	b.closed = true
	b.logger.Debug("feed closed")
}
