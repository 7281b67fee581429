// ABOUTME: Tests for the connection manager handshake, table and poll loop
// ABOUTME: Covers approval, de-duplication, closing, readiness, rate limits and persistence

package connection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/topicmesh/internal/clock"
	"github.com/2389/topicmesh/internal/event"
	"github.com/2389/topicmesh/internal/transport"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	log   *transport.MemoryLog
	clock *clock.Fake
}

func newHarness() *harness {
	clk := clock.NewFake(epoch)
	return &harness{log: transport.NewMemoryLog(clk), clock: clk}
}

func (h *harness) manager(t *testing.T, account string, mutate ...func(*Params)) *Manager {
	t.Helper()
	p := Params{
		AccountID:     account,
		InboundTopic:  account + "-in",
		OutboundTopic: account + "-out",
		Transport:     h.log,
		PollInterval:  time.Second,
		Clock:         h.clock,
	}
	for _, fn := range mutate {
		fn(&p)
	}
	m, err := New(p)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

func (h *harness) send(t *testing.T, topic string, ev event.DomainEvent) int64 {
	t.Helper()
	raw, err := event.Encode(ev)
	require.NoError(t, err)
	seq, err := h.log.Publish(context.Background(), topic, string(raw))
	require.NoError(t, err)
	return seq
}

func (h *harness) received(t *testing.T, topic string) []event.DomainEvent {
	t.Helper()
	var out []event.DomainEvent
	for _, msg := range h.log.Messages(topic) {
		ev, err := event.DecodeString(msg.Contents)
		require.NoError(t, err)
		out = append(out, ev)
	}
	return out
}

func request(from, replyTopic, memo string) *event.ConnectionRequest {
	return &event.ConnectionRequest{
		Header: event.Header{Timestamp: epoch.UnixMilli(), Sender: from},
		Details: event.ConnectionRequestDetails{
			RequestingAccountID: from,
			InboundTopicID:      replyTopic,
			Memo:                memo,
		},
	}
}

func manual(p *Params) { p.Policy = ManualApprove() }

func TestNew_RequiresIdentity(t *testing.T) {
	log := transport.NewMemoryLog(nil)
	_, err := New(Params{InboundTopic: "in", Transport: log})
	assert.Error(t, err)
	_, err = New(Params{AccountID: "a", Transport: log})
	assert.Error(t, err)
	_, err = New(Params{AccountID: "a", InboundTopic: "in"})
	assert.Error(t, err)
}

func TestManager_AutoApprovesRequest(t *testing.T) {
	h := newHarness()
	bob := h.manager(t, "bob")
	ctx := context.Background()

	seq := h.send(t, "bob-in", request("alice", "alice-in", "hello"))
	require.NoError(t, bob.Poll(ctx))

	conn, ok := bob.Get(RequestKey("alice", seq))
	require.True(t, ok)
	assert.True(t, conn.IsEstablished())
	assert.False(t, conn.IsPending())
	assert.Equal(t, Inbound, conn.Direction)
	assert.Equal(t, seq, conn.ConnectionRequestID)
	assert.NotEmpty(t, conn.ConnectionTopicID)
	assert.Equal(t, epoch, conn.Created)

	replies := h.received(t, "alice-in")
	require.Len(t, replies, 1)
	created := replies[0].(*event.ConnectionCreated)
	assert.Equal(t, conn.ConnectionTopicID, created.Details.ConnectionTopicID)
	assert.Equal(t, "alice", created.Details.ConnectedAccountID)
	assert.Equal(t, seq, created.Details.ConnectionID)
	assert.Equal(t, "bob", created.Sender)
	assert.Equal(t, "hello", created.Details.Memo)
}

func TestManager_ReplyFallsBackToOutboundTopic(t *testing.T) {
	h := newHarness()
	bob := h.manager(t, "bob")

	h.send(t, "bob-in", request("alice", "", ""))
	require.NoError(t, bob.Poll(context.Background()))

	assert.Len(t, h.log.Messages("bob-out"), 1)
	assert.Len(t, bob.ActiveConnections(), 1)
}

func TestManager_ManualApproval(t *testing.T) {
	h := newHarness()
	bob := h.manager(t, "bob", manual)
	ctx := context.Background()

	seq := h.send(t, "bob-in", request("alice", "alice-in", "please"))
	require.NoError(t, bob.Poll(ctx))

	pending := bob.GetPendingRequests()
	require.Len(t, pending, 1)
	assert.True(t, pending[0].NeedsConfirmation())
	assert.Empty(t, h.log.Messages("alice-in"))

	h.clock.Advance(time.Minute)
	conn, err := bob.AcceptConnectionRequest(ctx, AcceptParams{RequestID: seq, Memo: "welcome"})
	require.NoError(t, err)
	assert.True(t, conn.IsEstablished())
	assert.Equal(t, "welcome", conn.Memo)
	assert.Equal(t, epoch.Add(time.Minute), conn.LastActivity)
	assert.Empty(t, bob.GetPendingRequests())

	again, err := bob.AcceptConnectionRequest(ctx, AcceptParams{RequestID: seq})
	require.NoError(t, err)
	assert.Equal(t, conn.ConnectionTopicID, again.ConnectionTopicID)
	assert.Len(t, h.log.Messages("alice-in"), 1, "accepting twice sends one response")

	_, err = bob.AcceptConnectionRequest(ctx, AcceptParams{RequestID: 99})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManager_AcceptPublishFailureKeepsRequestPending(t *testing.T) {
	h := newHarness()
	bob := h.manager(t, "bob", manual)
	ctx := context.Background()

	seq := h.send(t, "bob-in", request("alice", "alice-in", ""))
	require.NoError(t, bob.Poll(ctx))

	h.log.FailPublishes(errors.New("log offline"))
	_, err := bob.AcceptConnectionRequest(ctx, AcceptParams{RequestID: seq})
	require.ErrorIs(t, err, transport.ErrTransport)
	assert.Len(t, bob.GetPendingRequests(), 1)

	h.log.FailPublishes(nil)
	conn, err := bob.AcceptConnectionRequest(ctx, AcceptParams{RequestID: seq})
	require.NoError(t, err)
	assert.True(t, conn.IsEstablished())
}

func TestManager_DuplicateRequestKeepsOneRecord(t *testing.T) {
	h := newHarness()
	bob := h.manager(t, "bob", manual)
	ctx := context.Background()

	seq := h.send(t, "bob-in", request("alice", "alice-in", ""))
	require.NoError(t, bob.Poll(ctx))

	// Re-reading the topic redelivers the same request.
	bob.SetCursor(0)
	require.NoError(t, bob.Poll(ctx))
	assert.Len(t, bob.Connections(), 1)

	// With the fast-path cache cleared the table still rejects it.
	bob.seen.Forget(RequestKey("alice", seq))
	bob.SetCursor(0)
	require.NoError(t, bob.Poll(ctx))
	assert.Len(t, bob.Connections(), 1)
	assert.Equal(t, int64(1), bob.Cursor())
}

func TestManager_SameRequesterDifferentSequences(t *testing.T) {
	h := newHarness()
	bob := h.manager(t, "bob", manual)

	h.send(t, "bob-in", request("alice", "alice-in", "one"))
	h.send(t, "bob-in", request("alice", "alice-in", "two"))
	require.NoError(t, bob.Poll(context.Background()))

	pending := bob.GetPendingRequests()
	require.Len(t, pending, 2)
	assert.Equal(t, "one", pending[0].Memo)
	assert.Equal(t, "two", pending[1].Memo)
}

func TestManager_PoisonPillDoesNotStall(t *testing.T) {
	h := newHarness()
	bob := h.manager(t, "bob", manual)
	ctx := context.Background()

	h.send(t, "bob-in", request("alice", "alice-in", ""))
	_, err := h.log.Publish(ctx, "bob-in", `{"type":"connection_request"`)
	require.NoError(t, err)
	_, err = h.log.Publish(ctx, "bob-in", `{"type":"Bogus","timestamp":1,"sender":"x","details":{}}`)
	require.NoError(t, err)
	h.send(t, "bob-in", request("carol", "carol-in", ""))

	require.NoError(t, bob.Poll(ctx))
	assert.Len(t, bob.Connections(), 2)
	assert.Equal(t, int64(4), bob.Cursor())
}

func TestManager_ReadFailureKeepsCursor(t *testing.T) {
	h := newHarness()
	bob := h.manager(t, "bob", manual)
	ctx := context.Background()

	h.send(t, "bob-in", request("alice", "alice-in", ""))
	h.log.FailReads(errors.New("unreachable"))

	err := bob.Poll(ctx)
	require.ErrorIs(t, err, transport.ErrTransport)
	assert.Zero(t, bob.Cursor())
	assert.Empty(t, bob.Connections())

	h.log.FailReads(nil)
	require.NoError(t, bob.Poll(ctx))
	assert.Len(t, bob.Connections(), 1)
}

func TestManager_CloseIsIdempotent(t *testing.T) {
	h := newHarness()
	bob := h.manager(t, "bob")
	ctx := context.Background()

	seq := h.send(t, "bob-in", request("alice", "alice-in", ""))
	require.NoError(t, bob.Poll(ctx))
	conn, _ := bob.Get(RequestKey("alice", seq))

	closed, err := bob.CloseConnection(ctx, CloseParams{ConnectionTopicID: conn.ConnectionTopicID, Reason: "done"})
	require.NoError(t, err)
	assert.True(t, closed.IsClosed())
	assert.Equal(t, "done", closed.CloseReason)

	again, err := bob.CloseConnection(ctx, CloseParams{ConnectionTopicID: conn.ConnectionTopicID, Reason: "again"})
	require.NoError(t, err)
	assert.True(t, again.IsClosed())
	assert.Equal(t, "done", again.CloseReason)

	replies := h.received(t, "alice-in")
	require.Len(t, replies, 2, "created + one close notification")
	assert.True(t, event.IsCloseConnection(replies[1]))

	_, err = bob.AcceptConnectionRequest(ctx, AcceptParams{RequestID: seq})
	assert.ErrorIs(t, err, ErrAlreadyClosed)

	_, err = bob.CloseConnection(ctx, CloseParams{ConnectionTopicID: "nope"})
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Empty(t, bob.ActiveConnections())
	assert.Len(t, bob.Connections(), 1, "closed records are kept")
}

func TestManager_CloseByRequestID(t *testing.T) {
	h := newHarness()
	bob := h.manager(t, "bob", manual)
	ctx := context.Background()

	seq := h.send(t, "bob-in", request("alice", "alice-in", ""))
	require.NoError(t, bob.Poll(ctx))

	conn, err := bob.CloseConnection(ctx, CloseParams{RequestID: seq, Reason: "rejected"})
	require.NoError(t, err)
	assert.True(t, conn.IsClosed())
	assert.Empty(t, h.log.Messages("alice-in"), "no topic yet, so no peer notification")
}

func TestManager_PeerClose(t *testing.T) {
	h := newHarness()
	bob := h.manager(t, "bob")
	ctx := context.Background()

	seq := h.send(t, "bob-in", request("alice", "alice-in", ""))
	require.NoError(t, bob.Poll(ctx))
	conn, _ := bob.Get(RequestKey("alice", seq))

	h.send(t, "bob-in", &event.CloseConnection{
		Header:  event.Header{Timestamp: epoch.UnixMilli(), Sender: "alice"},
		Details: event.CloseConnectionDetails{ConnectionTopicID: conn.ConnectionTopicID, Reason: "bye"},
	})
	require.NoError(t, bob.Poll(ctx))

	conn, _ = bob.Get(RequestKey("alice", seq))
	assert.True(t, conn.IsClosed())
	assert.Equal(t, "bye", conn.CloseReason)
	assert.Len(t, h.log.Messages("alice-in"), 1, "peer close is not echoed back")
}

func TestManager_OutboundHandshake(t *testing.T) {
	h := newHarness()
	alice := h.manager(t, "alice")
	bob := h.manager(t, "bob")
	ctx := context.Background()

	out, err := alice.RequestConnection(ctx, RequestParams{
		TargetAccountID:    "bob",
		TargetInboundTopic: "bob-in",
		Memo:               "trade?",
	})
	require.NoError(t, err)
	assert.True(t, out.IsPending())
	assert.Equal(t, Outbound, out.Direction)
	assert.Len(t, alice.GetPendingRequests(), 1)

	require.NoError(t, bob.Poll(ctx))
	require.NoError(t, alice.Poll(ctx))

	done, ok := alice.Get(out.UniqueRequestKey)
	require.True(t, ok)
	assert.True(t, done.IsEstablished())

	inbound := bob.FetchConnectionData("alice")
	require.Len(t, inbound, 1)
	assert.Equal(t, inbound[0].ConnectionTopicID, done.ConnectionTopicID)

	_, err = alice.RequestConnection(ctx, RequestParams{TargetAccountID: "bob"})
	assert.Error(t, err)
}

func TestManager_CreatedForUnknownRequestIsSkipped(t *testing.T) {
	h := newHarness()
	alice := h.manager(t, "alice")

	h.send(t, "alice-in", &event.ConnectionCreated{
		Header: event.Header{Timestamp: epoch.UnixMilli(), Sender: "mallory"},
		Details: event.ConnectionCreatedDetails{
			ConnectionTopicID:  "t",
			ConnectedAccountID: "alice",
			ConnectionID:       7,
		},
	})
	require.NoError(t, alice.Poll(context.Background()))
	assert.Empty(t, alice.Connections())
	assert.Equal(t, int64(1), alice.Cursor())
}

func TestManager_FetchConnectionDataNewestFirst(t *testing.T) {
	h := newHarness()
	bob := h.manager(t, "bob", manual)
	ctx := context.Background()

	first := h.send(t, "bob-in", request("alice", "alice-in", "first"))
	h.send(t, "bob-in", request("alice", "alice-in", "second"))
	h.send(t, "bob-in", request("carol", "carol-in", ""))
	require.NoError(t, bob.Poll(ctx))

	h.clock.Advance(time.Minute)
	_, err := bob.AcceptConnectionRequest(ctx, AcceptParams{RequestID: first})
	require.NoError(t, err)

	conns := bob.FetchConnectionData("alice")
	require.Len(t, conns, 2)
	assert.Equal(t, "first", conns[0].Memo, "most recently active first")
	assert.Equal(t, "second", conns[1].Memo)
	assert.Empty(t, bob.FetchConnectionData("nobody"))
}

func TestManager_WaitUntilReady(t *testing.T) {
	h := newHarness()
	bob := h.manager(t, "bob")
	ctx := context.Background()

	assert.False(t, bob.IsReady())
	assert.False(t, bob.WaitUntilReady(ctx, 0))

	released := make(chan bool, 1)
	go func() { released <- bob.WaitUntilReady(ctx, time.Hour) }()

	require.NoError(t, bob.Initialize(ctx))
	select {
	case ok := <-released:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("waiter not released by Initialize")
	}

	assert.True(t, bob.WaitUntilReady(ctx, 0))
	require.NoError(t, bob.Initialize(ctx))
}

func TestManager_WaitUntilReadyTimesOut(t *testing.T) {
	h := newHarness()
	bob := h.manager(t, "bob")

	result := make(chan bool, 1)
	go func() { result <- bob.WaitUntilReady(context.Background(), 5*time.Second) }()

	require.Eventually(t, func() bool { return h.clock.Tickers() == 2 }, time.Second, 5*time.Millisecond,
		"dedupe sweeper plus the wait timer")
	h.clock.Advance(5 * time.Second)

	select {
	case ok := <-result:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("wait did not time out")
	}
}

func TestManager_RateLimitsPerPeer(t *testing.T) {
	h := newHarness()
	bob := h.manager(t, "bob", manual, func(p *Params) {
		p.RateLimit = 1
		p.RateBurst = 1
	})
	ctx := context.Background()

	h.send(t, "bob-in", request("alice", "alice-in", "a1"))
	h.send(t, "bob-in", request("alice", "alice-in", "a2"))
	h.send(t, "bob-in", request("carol", "carol-in", "c1"))
	require.NoError(t, bob.Poll(ctx))

	assert.Len(t, bob.FetchConnectionData("alice"), 1)
	assert.Len(t, bob.FetchConnectionData("carol"), 1)
	assert.Equal(t, int64(3), bob.Cursor(), "dropped request still advances the cursor")

	h.clock.Advance(time.Second)
	h.send(t, "bob-in", request("alice", "alice-in", "a3"))
	require.NoError(t, bob.Poll(ctx))
	assert.Len(t, bob.FetchConnectionData("alice"), 2)
}

func TestManager_CELPolicy(t *testing.T) {
	h := newHarness()
	policy, err := NewCELPolicy(`request.memo.startsWith("trusted")`)
	require.NoError(t, err)
	bob := h.manager(t, "bob", func(p *Params) { p.Policy = policy })

	h.send(t, "bob-in", request("alice", "alice-in", "trusted partner"))
	h.send(t, "bob-in", request("mallory", "mallory-in", "let me in"))
	require.NoError(t, bob.Poll(context.Background()))

	assert.True(t, bob.FetchConnectionData("alice")[0].IsEstablished())
	assert.True(t, bob.FetchConnectionData("mallory")[0].NeedsConfirmation())
}

func TestManager_ControlTopicAccept(t *testing.T) {
	h := newHarness()
	bob := h.manager(t, "bob", manual, func(p *Params) { p.ControlTopic = "bob-control" })
	ctx := context.Background()

	seq := h.send(t, "bob-in", request("alice", "alice-in", ""))
	h.send(t, "bob-control", &event.AcceptConnection{
		Header:  event.Header{Timestamp: epoch.UnixMilli(), Sender: "operator"},
		Details: event.AcceptConnectionDetails{RequestID: seq, Memo: "approved by ops"},
	})
	require.NoError(t, bob.Poll(ctx))

	conn, _ := bob.Get(RequestKey("alice", seq))
	assert.True(t, conn.IsEstablished())
	assert.Equal(t, "approved by ops", conn.Memo)

	h.send(t, "bob-control", &event.CloseConnection{
		Header:  event.Header{Timestamp: epoch.UnixMilli(), Sender: "operator"},
		Details: event.CloseConnectionDetails{ConnectionTopicID: conn.ConnectionTopicID, Reason: "ops"},
	})
	require.NoError(t, bob.Poll(ctx))
	conn, _ = bob.Get(RequestKey("alice", seq))
	assert.True(t, conn.IsClosed())
}

type memStore struct {
	mu      sync.Mutex
	records map[string]Connection
	saves   int
	fail    error
}

func (s *memStore) SaveConnection(_ context.Context, c Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	if s.records == nil {
		s.records = make(map[string]Connection)
	}
	s.records[c.UniqueRequestKey] = c
	s.saves++
	return nil
}

func (s *memStore) LoadConnections(context.Context) ([]Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	out := make([]Connection, 0, len(s.records))
	for _, c := range s.records {
		out = append(out, c)
	}
	return out, nil
}

func TestManager_PersistsAndRestores(t *testing.T) {
	h := newHarness()
	store := &memStore{}
	ctx := context.Background()

	bob := h.manager(t, "bob", manual, func(p *Params) { p.Store = store })
	seq := h.send(t, "bob-in", request("alice", "alice-in", "hi"))
	require.NoError(t, bob.Poll(ctx))
	assert.Equal(t, 2, store.saves, "recorded then moved to needs_confirmation")
	assert.Equal(t, StatusNeedsConfirmation, store.records[RequestKey("alice", seq)].Status)

	restarted := h.manager(t, "bob", manual, func(p *Params) { p.Store = store })
	require.NoError(t, restarted.Initialize(ctx))
	require.Len(t, restarted.GetPendingRequests(), 1)

	// The restarted manager re-reads the topic but does not duplicate the record.
	require.NoError(t, restarted.Poll(ctx))
	assert.Len(t, restarted.Connections(), 1)
}

func TestManager_StoreFailuresAreNotFatal(t *testing.T) {
	h := newHarness()
	store := &memStore{fail: errors.New("disk full")}
	ctx := context.Background()

	bob := h.manager(t, "bob", func(p *Params) { p.Store = store })
	assert.Error(t, bob.Initialize(ctx))
	assert.False(t, bob.IsReady())

	h.send(t, "bob-in", request("alice", "alice-in", ""))
	require.NoError(t, bob.Poll(ctx))
	assert.Len(t, bob.ActiveConnections(), 1)
}

type memCheckpoints struct {
	mu      sync.Mutex
	cursors map[string]int64
}

func (c *memCheckpoints) LoadCursor(_ context.Context, consumer, topic string) (int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.cursors[consumer+"/"+topic]
	return v, ok, nil
}

func (c *memCheckpoints) SaveCursor(_ context.Context, consumer, topic string, cursor int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cursors == nil {
		c.cursors = make(map[string]int64)
	}
	c.cursors[consumer+"/"+topic] = cursor
	return nil
}

func TestManager_Checkpoints(t *testing.T) {
	h := newHarness()
	cp := &memCheckpoints{}
	ctx := context.Background()

	bob := h.manager(t, "bob", manual, func(p *Params) { p.Checkpoints = cp })
	h.send(t, "bob-in", request("alice", "alice-in", ""))
	h.send(t, "bob-in", request("carol", "carol-in", ""))
	require.NoError(t, bob.Poll(ctx))
	assert.Equal(t, int64(2), cp.cursors["connections/bob-in"])

	restarted := h.manager(t, "bob", manual, func(p *Params) { p.Checkpoints = cp })
	require.NoError(t, restarted.Initialize(ctx))
	assert.Equal(t, int64(2), restarted.Cursor())
	require.NoError(t, restarted.Poll(ctx))
	assert.Empty(t, restarted.Connections(), "checkpointed messages are not re-read")
}

func TestManager_StartStop(t *testing.T) {
	h := newHarness()
	bob := h.manager(t, "bob", manual)
	ctx := context.Background()

	bob.Start(ctx)
	bob.Start(ctx)
	assert.True(t, bob.IsRunning())

	h.send(t, "bob-in", request("alice", "alice-in", ""))
	h.clock.Advance(time.Second)
	require.Eventually(t, func() bool { return len(bob.Connections()) == 1 }, time.Second, 5*time.Millisecond)

	bob.Stop()
	bob.Stop()
	assert.False(t, bob.IsRunning())

	h.send(t, "bob-in", request("carol", "carol-in", ""))
	h.clock.Advance(5 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, bob.Connections(), 1, "no cycle runs after Stop")
}

func TestManager_ContextCancelClearsRunning(t *testing.T) {
	h := newHarness()
	bob := h.manager(t, "bob", manual)

	ctx, cancel := context.WithCancel(context.Background())
	bob.Start(ctx)
	require.True(t, bob.IsRunning())

	cancel()
	require.Eventually(t, func() bool { return !bob.IsRunning() }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, h.clock.Tickers())

	bob.Start(context.Background())
	assert.True(t, bob.IsRunning())
	assert.Equal(t, 1, h.clock.Tickers())

	h.send(t, "bob-in", request("alice", "alice-in", ""))
	h.clock.Advance(time.Second)
	require.Eventually(t, func() bool { return len(bob.Connections()) == 1 }, time.Second, 5*time.Millisecond)
	bob.Stop()
}

func TestManager_RepeatedAcceptRecordsActivity(t *testing.T) {
	h := newHarness()
	bob := h.manager(t, "bob", manual)
	ctx := context.Background()

	seq := h.send(t, "bob-in", request("alice", "alice-in", ""))
	require.NoError(t, bob.Poll(ctx))
	_, err := bob.AcceptConnectionRequest(ctx, AcceptParams{RequestID: seq})
	require.NoError(t, err)

	h.clock.Advance(time.Hour)
	again, err := bob.AcceptConnectionRequest(ctx, AcceptParams{RequestID: seq})
	require.NoError(t, err)
	assert.Equal(t, epoch.Add(time.Hour), again.LastActivity)
	assert.Equal(t, epoch, again.Created)
	assert.Len(t, h.log.Messages("alice-in"), 1, "no second response")
}

func TestManager_RedeliveredCreatedRecordsActivity(t *testing.T) {
	h := newHarness()
	alice := h.manager(t, "alice")
	bob := h.manager(t, "bob")
	ctx := context.Background()

	out, err := alice.RequestConnection(ctx, RequestParams{TargetAccountID: "bob", TargetInboundTopic: "bob-in"})
	require.NoError(t, err)
	require.NoError(t, bob.Poll(ctx))
	require.NoError(t, alice.Poll(ctx))

	created := h.received(t, "alice-in")
	require.Len(t, created, 1)

	h.clock.Advance(time.Hour)
	h.send(t, "alice-in", created[0])
	require.NoError(t, alice.Poll(ctx))

	conn, ok := alice.Get(out.UniqueRequestKey)
	require.True(t, ok)
	assert.True(t, conn.IsEstablished())
	assert.Equal(t, epoch.Add(time.Hour), conn.LastActivity)
}
