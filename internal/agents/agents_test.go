// ABOUTME: Shared fixtures for domain agent tests
// ABOUTME: In-memory log, fake clock, and event publish/collect helpers

package agents

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/2389/topicmesh/internal/clock"
	"github.com/2389/topicmesh/internal/event"
	"github.com/2389/topicmesh/internal/runtime"
	"github.com/2389/topicmesh/internal/transport"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	log   *transport.MemoryLog
	clock *clock.Fake
}

func newFixture() *fixture {
	clk := clock.NewFake(epoch)
	return &fixture{log: transport.NewMemoryLog(clk), clock: clk}
}

func (f *fixture) params(name, in, out string) runtime.Params {
	return runtime.Params{
		Name:         name,
		Transport:    f.log,
		InputTopic:   in,
		OutputTopic:  out,
		PollInterval: time.Second,
		Clock:        f.clock,
	}
}

func (f *fixture) publish(t *testing.T, topic string, ev event.DomainEvent) {
	t.Helper()
	raw, err := event.Encode(ev)
	require.NoError(t, err)
	_, err = f.log.Publish(context.Background(), topic, string(raw))
	require.NoError(t, err)
}

func (f *fixture) events(t *testing.T, topic string) []event.DomainEvent {
	t.Helper()
	var out []event.DomainEvent
	for _, m := range f.log.Messages(topic) {
		ev, err := event.DecodeString(m.Contents)
		require.NoError(t, err)
		out = append(out, ev)
	}
	return out
}

func priceUpdate(token string, price float64) *event.PriceUpdate {
	return &event.PriceUpdate{
		Header:  event.Header{Timestamp: epoch.UnixMilli(), Sender: "feed"},
		Details: event.PriceUpdateDetails{TokenID: token, Price: price},
	}
}
