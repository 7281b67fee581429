// ABOUTME: Tests for mesh assembly and lifecycle
// ABOUTME: Drives agents through Poll on a fake clock and checks ledger, feed and metrics wiring

package mesh

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/topicmesh/internal/clock"
	"github.com/2389/topicmesh/internal/config"
	"github.com/2389/topicmesh/internal/connection"
	"github.com/2389/topicmesh/internal/event"
	"github.com/2389/topicmesh/internal/feed"
	"github.com/2389/topicmesh/internal/store"
)

var epoch = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func newMesh(t *testing.T, mutate func(*config.Config)) (*Mesh, *clock.Fake) {
	t.Helper()
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	clk := clock.NewFake(epoch)
	m, err := NewWithOptions(cfg, nil, Options{Clock: clk})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Shutdown(context.Background()) })
	return m, clk
}

func publish(t *testing.T, m *Mesh, topic string, ev event.DomainEvent) int64 {
	t.Helper()
	raw, err := event.Encode(ev)
	require.NoError(t, err)
	seq, err := m.Transport().Publish(context.Background(), topic, string(raw))
	require.NoError(t, err)
	return seq
}

func price(token string, p float64) *event.PriceUpdate {
	return &event.PriceUpdate{
		Header:  event.Header{Timestamp: epoch.UnixMilli(), Sender: "oracle"},
		Details: event.PriceUpdateDetails{TokenID: token, Price: p},
	}
}

func TestNew_DefaultsToInMemoryAgents(t *testing.T) {
	m, _ := newMesh(t, nil)

	assert.NotNil(t, m.Risk())
	assert.NotNil(t, m.Rebalance())
	assert.NotNil(t, m.PriceFeed())
	assert.NotNil(t, m.Portfolio())
	assert.NotNil(t, m.Feed())
	assert.Nil(t, m.Connections())
	assert.Nil(t, m.Store())

	totals, err := m.MetricTotals(context.Background())
	require.NoError(t, err)
	assert.Nil(t, totals)

	require.NoError(t, m.Shutdown(context.Background()))
	require.NoError(t, m.Shutdown(context.Background()), "shutdown is idempotent")
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Transport.Kind = "kafka"
	_, err := New(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transport.kind")
}

func TestNew_RejectsBadApprovalExpression(t *testing.T) {
	cfg := config.Default()
	cfg.Connections.Enabled = true
	cfg.Connections.AccountID = "bob"
	cfg.Connections.InboundTopic = "bob-in"
	cfg.Connections.Approval = config.ApprovalConfig{Mode: "expression", Expression: "request.account +"}

	_, err := NewWithOptions(cfg, nil, Options{Clock: clock.NewFake(epoch)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "building approval policy")
}

func TestMesh_RiskAlertsReachLedgerFeedAndMetrics(t *testing.T) {
	m, _ := newMesh(t, func(c *config.Config) {
		c.Database.Path = filepath.Join(t.TempDir(), "mesh.db")
		c.Metrics.Enabled = true
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alerts, _ := m.Feed().Subscribe(ctx, "risk-alerts")

	for _, p := range []float64{100, 110, 95, 130} {
		publish(t, m, "prices", price("HBAR", p))
	}
	require.NoError(t, m.Risk().Poll(ctx))

	var severities []event.Severity
	for i := 0; i < 3; i++ {
		item := <-alerts
		assert.Equal(t, "risk-alerts", item.Topic)
		severities = append(severities, item.Event.(*event.RiskAlert).Details.Severity)
	}
	assert.Equal(t, []event.Severity{event.SeverityHigh, event.SeverityMedium, event.SeverityHigh}, severities)

	n, err := m.Store().CountEvents(ctx, event.TypeRiskAlert)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	totals, err := m.MetricTotals(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), totals["topicmesh.events.dispatched"])
	assert.Equal(t, int64(3), totals["topicmesh.events.published"])
}

func TestMesh_PriceFeedFeedsRiskAgent(t *testing.T) {
	m, _ := newMesh(t, nil)
	ctx := context.Background()

	require.NoError(t, m.PriceFeed().Poll(ctx))
	require.NoError(t, m.PriceFeed().Poll(ctx))
	require.NoError(t, m.Risk().Poll(ctx))

	for _, token := range m.PriceFeed().Tokens() {
		assert.Len(t, m.Risk().History(token), 2, token)
	}
}

func TestMesh_SQLiteTransportSharesDatabaseAndResumes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topics.db")
	withSQLite := func(c *config.Config) {
		c.Transport.Kind = config.TransportSQLite
		c.Transport.SQLite.Path = path
		c.Database.Checkpoints = true
	}
	ctx := context.Background()

	first, _ := newMesh(t, withSQLite)
	s, ok := first.Transport().(*store.SQLiteStore)
	require.True(t, ok)
	assert.Same(t, s, first.Store(), "sqlite transport doubles as the database")

	publish(t, first, "prices", price("ETH", 100))
	publish(t, first, "prices", price("ETH", 101))
	require.NoError(t, first.Risk().Poll(ctx))
	require.NoError(t, first.Shutdown(ctx))

	second, _ := newMesh(t, withSQLite)
	second.Risk().Start(ctx)
	defer second.Risk().Stop()
	assert.Equal(t, int64(2), second.Risk().Cursor(), "cursor resumes from checkpoint")
}

func TestMesh_ConnectionsUseDatabase(t *testing.T) {
	m, _ := newMesh(t, func(c *config.Config) {
		c.Database.Path = filepath.Join(t.TempDir(), "mesh.db")
		c.Connections.Enabled = true
		c.Connections.AccountID = "bob"
		c.Connections.InboundTopic = "bob-in"
		c.Connections.ControlTopic = "bob-control"
		c.Connections.Approval.Mode = "manual"
	})
	ctx := context.Background()
	mgr := m.Connections()
	require.NotNil(t, mgr)
	require.NoError(t, mgr.Initialize(ctx))

	seq := publish(t, m, "bob-in", &event.ConnectionRequest{
		Header: event.Header{Timestamp: epoch.UnixMilli(), Sender: "alice"},
		Details: event.ConnectionRequestDetails{
			RequestingAccountID: "alice",
			InboundTopicID:      "alice-in",
		},
	})
	require.NoError(t, mgr.Poll(ctx))
	require.Len(t, mgr.GetPendingRequests(), 1)

	publish(t, m, "bob-control", &event.AcceptConnection{
		Header:  event.Header{Timestamp: epoch.UnixMilli(), Sender: "operator"},
		Details: event.AcceptConnectionDetails{RequestID: seq},
	})
	require.NoError(t, mgr.Poll(ctx))

	stored, err := m.Store().GetConnection(ctx, connection.RequestKey("alice", seq))
	require.NoError(t, err)
	assert.Equal(t, connection.StatusEstablished, stored.Status)

	n, err := m.Store().CountEvents(ctx, event.TypeConnectionCreated)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMesh_RunStopsOnCancel(t *testing.T) {
	m, clk := newMesh(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	sub, _ := m.Feed().Subscribe(context.Background(), feed.AllTopics)

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool { return clk.Tickers() == 3 }, time.Second, 5*time.Millisecond)
	clk.Advance(10 * time.Second)

	select {
	case item := <-sub:
		assert.Equal(t, "prices", item.Topic)
	case <-time.After(time.Second):
		t.Fatal("price feed did not publish after the clock advanced")
	}

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.False(t, m.Risk().IsRunning())
	assert.False(t, m.PriceFeed().IsRunning())
	assert.Zero(t, clk.Tickers())
}
