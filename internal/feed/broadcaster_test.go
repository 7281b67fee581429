// ABOUTME: Tests for the event feed broadcaster and Tee
// ABOUTME: Covers topic routing, wildcard subscriptions, slow subscribers and cleanup

package feed

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/topicmesh/internal/event"
	"github.com/2389/topicmesh/internal/runtime"
)

func alert(token string) *event.RiskAlert {
	return &event.RiskAlert{
		Header:  event.Header{Timestamp: 1, Sender: "risk"},
		Details: event.RiskAlertDetails{Severity: event.SeverityHigh, TokenID: token},
	}
}

func TestBroadcaster_RoutesByTopic(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alerts, _ := b.Subscribe(ctx, "alerts")
	everything, _ := b.Subscribe(ctx, AllTopics)

	b.Emit(ctx, "alerts", 3, alert("HBAR"))
	b.Emit(ctx, "prices", 9, alert("ETH"))

	got := <-alerts
	assert.Equal(t, "alerts", got.Topic)
	assert.Equal(t, int64(3), got.Sequence)
	assert.Equal(t, "HBAR", got.Event.(*event.RiskAlert).Details.TokenID)
	select {
	case extra := <-alerts:
		t.Fatalf("unexpected item on alerts: %+v", extra)
	default:
	}

	first, second := <-everything, <-everything
	assert.Equal(t, "alerts", first.Topic)
	assert.Equal(t, "prices", second.Topic)
}

func TestBroadcaster_SlowSubscriberDrops(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()
	ctx := context.Background()

	ch, _ := b.Subscribe(ctx, "alerts")
	for i := 0; i < subscriberBufferSize+5; i++ {
		b.Emit(ctx, "alerts", int64(i+1), alert("X"))
	}
	assert.Len(t, ch, subscriberBufferSize)
	assert.Equal(t, int64(5), b.Dropped())
}

func TestBroadcaster_UnsubscribeOnCancel(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()
	ctx, cancel := context.WithCancel(context.Background())

	ch, _ := b.Subscribe(ctx, "alerts")
	require.Equal(t, 1, b.Subscribers())
	cancel()

	require.Eventually(t, func() bool { return b.Subscribers() == 0 }, time.Second, 5*time.Millisecond)
	_, open := <-ch
	assert.False(t, open)

	b.Unsubscribe("alerts", "unknown")
	b.Emit(context.Background(), "alerts", 1, alert("X"))
}

func TestBroadcaster_CloseClosesChannels(t *testing.T) {
	b := NewBroadcaster(nil)
	ch, _ := b.Subscribe(context.Background(), AllTopics)
	b.Close()

	_, open := <-ch
	assert.False(t, open)

	late, _ := b.Subscribe(context.Background(), "alerts")
	_, open = <-late
	assert.False(t, open, "subscriptions after Close are closed immediately")
	assert.Zero(t, b.Subscribers())
}

func TestBroadcaster_ConcurrentEmitAndUnsubscribe(t *testing.T) {
	b := NewBroadcaster(nil)
	defer b.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		_, id := b.Subscribe(ctx, "alerts")
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				b.Emit(ctx, "alerts", int64(j), alert("X"))
			}
		}()
		go func() {
			defer wg.Done()
			b.Unsubscribe("alerts", id)
			cancel()
		}()
	}
	wg.Wait()
}

type recordingSink struct {
	mu    sync.Mutex
	items []Item
}

func (r *recordingSink) Emit(_ context.Context, topic string, seq int64, ev event.DomainEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, Item{Topic: topic, Sequence: seq, Event: ev})
}

func TestTee(t *testing.T) {
	assert.Nil(t, Tee())
	assert.Nil(t, Tee(nil, nil))

	only := &recordingSink{}
	assert.Same(t, only, Tee(nil, only).(*recordingSink))

	a, b := &recordingSink{}, &recordingSink{}
	var sink runtime.Sink = Tee(a, nil, b)
	sink.Emit(context.Background(), "t", 4, alert("X"))

	require.Len(t, a.items, 1)
	require.Len(t, b.items, 1)
	assert.Equal(t, int64(4), b.items[0].Sequence)
}
