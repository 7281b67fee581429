// ABOUTME: Connection manager that runs the handshake over an inbound topic
// ABOUTME: Owns the connection table, its poll loop, readiness, and operator commands

package connection

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/2389/topicmesh/internal/clock"
	"github.com/2389/topicmesh/internal/dedupe"
	"github.com/2389/topicmesh/internal/event"
	"github.com/2389/topicmesh/internal/metrics"
	"github.com/2389/topicmesh/internal/runtime"
	"github.com/2389/topicmesh/internal/transport"
)

const (
	// DefaultPollInterval is used when Params.PollInterval is zero.
	DefaultPollInterval = 5 * time.Second
	// DefaultSeenTTL bounds how long a request key stays in the fast-path cache.
	DefaultSeenTTL  = time.Hour
	defaultSeenSize = 10_000

	// checkpointConsumer is the consumer name used for cursor checkpoints.
	checkpointConsumer = "connections"
	metricsComponent   = "connection"
)

// Store persists connection records.
type Store interface {
	SaveConnection(ctx context.Context, c Connection) error
	LoadConnections(ctx context.Context) ([]Connection, error)
}

// Params configures a Manager.
type Params struct {
	AccountID     string
	InboundTopic  string
	OutboundTopic string
	// ControlTopic carries operator commands. Empty disables it.
	ControlTopic string
	Transport    transport.Transport
	PollInterval time.Duration
	Policy       ApprovalPolicy

	// RateLimit is the sustained number of requests per second accepted from
	// one peer. Zero disables limiting.
	RateLimit rate.Limit
	RateBurst int

	Store       Store
	Checkpoints runtime.CheckpointStore
	Sink        runtime.Sink
	Seen        *dedupe.Cache
	Clock       clock.Clock
	Logger      *slog.Logger
	Metrics     *metrics.Recorder
}

// RequestParams describes an outbound connection request.
type RequestParams struct {
	TargetAccountID    string
	TargetInboundTopic string
	Memo               string
}

// AcceptParams identifies an inbound request to accept.
type AcceptParams struct {
	RequestID int64
	Memo      string
}

// CloseParams identifies a connection to close, by topic or by request ID.
type CloseParams struct {
	ConnectionTopicID string
	RequestID         int64
	Reason            string
}

// Manager runs the connection handshake for one account.
type Manager struct {
	account     string
	inbound     string
	outbound    string
	control     string
	transport   transport.Transport
	interval    time.Duration
	policy      ApprovalPolicy
	rateLimit   rate.Limit
	rateBurst   int
	store       Store
	checkpoints runtime.CheckpointStore
	sink        runtime.Sink
	seen        *dedupe.Cache
	ownsSeen    bool
	clock       clock.Clock
	logger      *slog.Logger
	metrics     *metrics.Recorder

	// mu guards the table and limiters. Operator commands and the poll loop
	// both take it.
	mu       sync.Mutex
	conns    map[string]*Connection
	order    []string
	limiters map[string]*rate.Limiter

	inboundCursor atomic.Int64
	controlCursor atomic.Int64
	cycleMu       sync.Mutex

	readyOnce sync.Once
	ready     chan struct{}

	lifeMu  sync.Mutex
	running bool
	ticker  clock.Ticker
	stopCh  chan struct{}
	done    chan struct{}
}

// New creates a Manager. It does not load state or start polling.
func New(p Params) (*Manager, error) {
	if p.AccountID == "" {
		return nil, errors.New("connection manager: account id is required")
	}
	if p.InboundTopic == "" {
		return nil, errors.New("connection manager: inbound topic is required")
	}
	if p.Transport == nil {
		return nil, errors.New("connection manager: transport is required")
	}
	if p.Clock == nil {
		p.Clock = clock.Real()
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.Metrics == nil {
		p.Metrics = metrics.Noop()
	}
	if p.PollInterval <= 0 {
		p.PollInterval = DefaultPollInterval
	}
	if p.Policy == nil {
		p.Policy = AutoApprove()
	}
	if p.RateLimit > 0 && p.RateBurst < 1 {
		p.RateBurst = 1
	}

	m := &Manager{
		account:     p.AccountID,
		inbound:     p.InboundTopic,
		outbound:    p.OutboundTopic,
		control:     p.ControlTopic,
		transport:   p.Transport,
		interval:    p.PollInterval,
		policy:      p.Policy,
		rateLimit:   p.RateLimit,
		rateBurst:   p.RateBurst,
		store:       p.Store,
		checkpoints: p.Checkpoints,
		sink:        p.Sink,
		seen:        p.Seen,
		clock:       p.Clock,
		logger:      p.Logger.With("component", "connections", "account", p.AccountID),
		metrics:     p.Metrics,
		conns:       make(map[string]*Connection),
		limiters:    make(map[string]*rate.Limiter),
		ready:       make(chan struct{}),
	}
	if m.seen == nil {
		m.seen = dedupe.NewWithOptions(dedupe.Options{
			TTL:     DefaultSeenTTL,
			MaxSize: defaultSeenSize,
			Clock:   p.Clock,
		})
		m.ownsSeen = true
	}
	return m, nil
}

// AccountID returns the account this manager answers for.
func (m *Manager) AccountID() string { return m.account }

// InboundTopic returns the topic the manager polls for handshake messages.
func (m *Manager) InboundTopic() string { return m.inbound }

// ControlTopic returns the operator command topic, if any.
func (m *Manager) ControlTopic() string { return m.control }

// Cursor returns the inbound topic cursor.
func (m *Manager) Cursor() int64 { return m.inboundCursor.Load() }

// SetCursor reinitialises the inbound cursor.
func (m *Manager) SetCursor(seq int64) {
	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()
	m.inboundCursor.Store(seq)
}

// Initialize loads persisted connections and cursors, then marks the manager
// ready. Calling it again after success is a no-op.
func (m *Manager) Initialize(ctx context.Context) error {
	if m.IsReady() {
		return nil
	}

	if m.store != nil {
		records, err := m.store.LoadConnections(ctx)
		if err != nil {
			return fmt.Errorf("loading connections: %w", err)
		}
		slices.SortStableFunc(records, func(a, b Connection) int {
			return a.Created.Compare(b.Created)
		})

		m.mu.Lock()
		for _, rec := range records {
			if _, exists := m.conns[rec.UniqueRequestKey]; exists {
				continue
			}
			c := rec
			m.conns[c.UniqueRequestKey] = &c
			m.order = append(m.order, c.UniqueRequestKey)
			m.seen.Mark(c.UniqueRequestKey)
		}
		m.mu.Unlock()
		m.logger.Info("loaded connections", "count", len(records))
	}

	m.loadCursor(ctx, m.inbound, &m.inboundCursor)
	if m.control != "" {
		m.loadCursor(ctx, m.control, &m.controlCursor)
	}

	m.readyOnce.Do(func() { close(m.ready) })
	return nil
}

// IsReady reports whether Initialize has completed.
func (m *Manager) IsReady() bool {
	select {
	case <-m.ready:
		return true
	default:
		return false
	}
}

// WaitUntilReady blocks until the manager is ready, the timeout elapses or ctx
// ends. A zero timeout answers immediately; a negative one waits on ctx only.
func (m *Manager) WaitUntilReady(ctx context.Context, timeout time.Duration) bool {
	if timeout == 0 || m.IsReady() {
		return m.IsReady()
	}

	var expired <-chan time.Time
	if timeout > 0 {
		t := m.clock.NewTicker(timeout)
		defer t.Stop()
		expired = t.C()
	}

	select {
	case <-m.ready:
		return true
	case <-expired:
		return m.IsReady()
	case <-ctx.Done():
		return m.IsReady()
	}
}

// Start begins polling. Calling Start on a running manager is a no-op.
func (m *Manager) Start(ctx context.Context) {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()

	if m.running {
		return
	}
	m.ticker = m.clock.NewTicker(m.interval)
	m.stopCh = make(chan struct{})
	m.done = make(chan struct{})
	m.running = true

	go m.loop(ctx, m.ticker, m.stopCh, m.done)

	m.logger.Info("connection manager started",
		"inbound_topic", m.inbound,
		"control_topic", m.control,
		"interval", m.interval,
	)
}

// Stop halts polling and waits for an in-flight cycle to finish.
func (m *Manager) Stop() {
	m.lifeMu.Lock()
	if !m.running {
		m.lifeMu.Unlock()
		return
	}
	m.running = false
	m.ticker.Stop()
	close(m.stopCh)
	done := m.done
	m.lifeMu.Unlock()

	<-done
	m.logger.Info("connection manager stopped", "cursor", m.Cursor())
}

// IsRunning reports whether the poll loop is active.
func (m *Manager) IsRunning() bool {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	return m.running
}

// Close stops polling and releases the seen-key cache if the manager made it.
func (m *Manager) Close() {
	m.Stop()
	if m.ownsSeen {
		m.seen.Close()
	}
}

func (m *Manager) loop(ctx context.Context, ticker clock.Ticker, stop, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			m.expire(stop)
			return
		case <-ticker.C():
			select {
			case <-stop:
				return
			default:
			}
			if err := m.Poll(ctx); err != nil {
				m.logger.Debug("poll cycle aborted", "error", err)
			}
		}
	}
}

// expire marks the loop owning stop as finished after its context ended,
// so IsRunning reports false and Start can begin a new loop.
func (m *Manager) expire(stop chan struct{}) {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	if !m.running || m.stopCh != stop {
		return
	}
	m.running = false
	m.ticker.Stop()
	m.logger.Info("connection manager stopped", "reason", "context done")
}

// Poll runs one cycle over the inbound topic and then the control topic.
func (m *Manager) Poll(ctx context.Context) error {
	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()

	var errs []error
	if err := m.drain(ctx, m.inbound, &m.inboundCursor, m.handleInbound); err != nil {
		errs = append(errs, err)
	}
	if m.control != "" {
		if err := m.drain(ctx, m.control, &m.controlCursor, m.handleControl); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) drain(ctx context.Context, topic string, cursor *atomic.Int64, handle func(context.Context, transport.Message) error) error {
	from := cursor.Load()
	msgs, err := m.transport.ReadSince(ctx, topic, from)
	if err != nil {
		m.metrics.TransportFailure(ctx, metricsComponent, "read")
		m.logger.Warn("reading topic failed", "topic", topic, "cursor", from, "error", err)
		return fmt.Errorf("reading %s: %w", topic, err)
	}

	slices.SortFunc(msgs, func(a, b transport.Message) int {
		return cmp.Compare(a.Sequence, b.Sequence)
	})

	highest := from
	for _, msg := range msgs {
		if msg.Sequence <= highest {
			continue
		}
		highest = msg.Sequence
		if err := handle(ctx, msg); err != nil {
			m.logSkipped(topic, msg.Sequence, err)
		}
	}

	if highest > from {
		cursor.Store(highest)
		m.saveCursor(ctx, topic, highest)
	}
	return nil
}

func (m *Manager) logSkipped(topic string, seq int64, err error) {
	switch {
	case errors.Is(err, ErrDuplicateRequest):
		m.logger.Debug("ignoring duplicate request", "topic", topic, "sequence", seq, "error", err)
	case errors.Is(err, event.ErrInvalidPayload):
		m.logger.Warn("dropping undecodable message", "topic", topic, "sequence", seq, "error", err)
	default:
		m.logger.Warn("message not applied", "topic", topic, "sequence", seq, "error", err)
	}
}

func (m *Manager) decode(ctx context.Context, topic string, msg transport.Message) (event.DomainEvent, error) {
	ev, err := event.DecodeString(msg.Contents)
	if err != nil {
		m.metrics.Dropped(ctx, metricsComponent, topic)
		return nil, err
	}
	return ev, nil
}

func (m *Manager) handleInbound(ctx context.Context, msg transport.Message) error {
	ev, err := m.decode(ctx, m.inbound, msg)
	if err != nil {
		return err
	}

	switch e := ev.(type) {
	case *event.ConnectionRequest:
		err = m.onRequest(ctx, msg.Sequence, e)
	case *event.ConnectionCreated:
		err = m.onCreated(ctx, e)
	case *event.CloseConnection:
		err = m.onPeerClose(ctx, e)
	default:
		m.logger.Debug("ignoring non-handshake event", "type", ev.Type(), "sequence", msg.Sequence)
		return nil
	}
	m.countHandled(ctx, ev, err)
	return err
}

func (m *Manager) handleControl(ctx context.Context, msg transport.Message) error {
	ev, err := m.decode(ctx, m.control, msg)
	if err != nil {
		return err
	}

	switch e := ev.(type) {
	case *event.AcceptConnection:
		_, err = m.AcceptConnectionRequest(ctx, AcceptParams{
			RequestID: e.Details.RequestID,
			Memo:      e.Details.Memo,
		})
	case *event.CloseConnection:
		_, err = m.CloseConnection(ctx, CloseParams{
			ConnectionTopicID: e.Details.ConnectionTopicID,
			Reason:            e.Details.Reason,
		})
	default:
		m.logger.Debug("ignoring unknown control command", "type", ev.Type(), "sequence", msg.Sequence)
		return nil
	}
	m.countHandled(ctx, ev, err)
	return err
}

func (m *Manager) countHandled(ctx context.Context, ev event.DomainEvent, err error) {
	if err != nil {
		m.metrics.HandlerError(ctx, metricsComponent, string(ev.Type()))
		return
	}
	m.metrics.Dispatched(ctx, metricsComponent, string(ev.Type()))
}

func (m *Manager) onRequest(ctx context.Context, seq int64, e *event.ConnectionRequest) error {
	requester := e.Details.RequestingAccountID
	key := RequestKey(requester, seq)

	if m.seen.CheckAndMark(key) {
		return fmt.Errorf("%s: %w", key, ErrDuplicateRequest)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.conns[key]; exists {
		return fmt.Errorf("%s: %w", key, ErrDuplicateRequest)
	}
	if !m.allow(requester) {
		m.seen.Forget(key)
		return fmt.Errorf("request %s from %s: %w", key, requester, ErrRateLimited)
	}

	now := m.clock.Now()
	c := &Connection{
		TargetAccountID:     requester,
		Status:              StatusPending,
		Direction:           Inbound,
		Created:             now,
		LastActivity:        now,
		ConnectionRequestID: seq,
		UniqueRequestKey:    key,
		Memo:                e.Details.Memo,
		InboundTopicID:      e.Details.InboundTopicID,
	}
	m.insert(ctx, c)

	approved, err := m.policy.Approve(Request{
		Account: requester,
		Memo:    e.Details.Memo,
		Topic:   e.Details.InboundTopicID,
	})
	if err != nil {
		m.logger.Warn("approval policy failed; waiting for an operator", "request", key, "error", err)
		approved = false
	}
	if !approved {
		return m.setStatus(ctx, c, StatusNeedsConfirmation)
	}

	if err := m.establish(ctx, c, c.Memo); err != nil {
		return fmt.Errorf("auto-approving %s: %w", key, err)
	}
	return nil
}

func (m *Manager) onCreated(ctx context.Context, e *event.ConnectionCreated) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.findOutbound(e.Details.ConnectionID, e.Sender)
	if c == nil {
		return fmt.Errorf("connection_created for request %d from %s: %w",
			e.Details.ConnectionID, e.Sender, ErrNotFound)
	}
	if c.IsEstablished() {
		m.touch(ctx, c)
		return nil
	}
	if c.IsClosed() {
		return fmt.Errorf("%s: %w", c.UniqueRequestKey, ErrAlreadyClosed)
	}

	c.ConnectionTopicID = e.Details.ConnectionTopicID
	if e.Details.Memo != "" {
		c.Memo = e.Details.Memo
	}
	return m.setStatus(ctx, c, StatusEstablished)
}

func (m *Manager) onPeerClose(ctx context.Context, e *event.CloseConnection) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.findByTopic(e.Details.ConnectionTopicID)
	if c == nil {
		return fmt.Errorf("close for %s: %w", e.Details.ConnectionTopicID, ErrNotFound)
	}
	return m.closeLocked(ctx, c, e.Details.Reason, false)
}

// RequestConnection asks a peer for a connection by publishing a
// connection_request to its inbound topic.
func (m *Manager) RequestConnection(ctx context.Context, p RequestParams) (Connection, error) {
	if p.TargetAccountID == "" || p.TargetInboundTopic == "" {
		return Connection{}, errors.New("requesting connection: target account and inbound topic are required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	req := &event.ConnectionRequest{
		Header: event.Header{Timestamp: m.clock.Now().UnixMilli(), Sender: m.account},
		Details: event.ConnectionRequestDetails{
			RequestingAccountID: m.account,
			InboundTopicID:      m.inbound,
			Memo:                p.Memo,
		},
	}
	seq, err := m.publish(ctx, p.TargetInboundTopic, req)
	if err != nil {
		return Connection{}, fmt.Errorf("requesting connection with %s: %w", p.TargetAccountID, err)
	}

	now := m.clock.Now()
	c := &Connection{
		TargetAccountID:     p.TargetAccountID,
		Status:              StatusPending,
		Direction:           Outbound,
		Created:             now,
		LastActivity:        now,
		ConnectionRequestID: seq,
		UniqueRequestKey:    RequestKey(m.account, seq) + "@" + p.TargetInboundTopic,
		Memo:                p.Memo,
		InboundTopicID:      p.TargetInboundTopic,
	}
	m.insert(ctx, c)
	return *c, nil
}

// AcceptConnectionRequest establishes an inbound request that is pending or
// awaiting confirmation. Accepting an established connection returns it
// unchanged.
func (m *Manager) AcceptConnectionRequest(ctx context.Context, p AcceptParams) (Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.findInbound(p.RequestID)
	if c == nil {
		return Connection{}, fmt.Errorf("accepting request %d: %w", p.RequestID, ErrNotFound)
	}
	switch {
	case c.IsClosed():
		return *c, fmt.Errorf("accepting request %d: %w", p.RequestID, ErrAlreadyClosed)
	case c.IsEstablished():
		m.touch(ctx, c)
		return *c, nil
	}

	memo := p.Memo
	if memo == "" {
		memo = c.Memo
	}
	if err := m.establish(ctx, c, memo); err != nil {
		return *c, fmt.Errorf("accepting request %d: %w", p.RequestID, err)
	}
	return *c, nil
}

// CloseConnection closes a connection and notifies the peer. Closing a closed
// connection succeeds without publishing again.
func (m *Manager) CloseConnection(ctx context.Context, p CloseParams) (Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var c *Connection
	if p.ConnectionTopicID != "" {
		c = m.findByTopic(p.ConnectionTopicID)
	} else if c = m.findInbound(p.RequestID); c == nil {
		c = m.findOutbound(p.RequestID, "")
	}
	if c == nil {
		return Connection{}, fmt.Errorf("closing connection: %w", ErrNotFound)
	}
	if err := m.closeLocked(ctx, c, p.Reason, true); err != nil {
		return *c, err
	}
	return *c, nil
}

// FetchConnectionData returns every connection with accountID, most recently
// active first.
func (m *Manager) FetchConnectionData(accountID string) []Connection {
	out := m.filter(func(c *Connection) bool { return c.TargetAccountID == accountID })
	slices.SortStableFunc(out, func(a, b Connection) int {
		return b.LastActivity.Compare(a.LastActivity)
	})
	return out
}

// GetPendingRequests returns pending and needs_confirmation connections,
// oldest first.
func (m *Manager) GetPendingRequests() []Connection {
	return m.filter(func(c *Connection) bool { return c.IsPending() || c.NeedsConfirmation() })
}

// ActiveConnections returns every connection that is not closed.
func (m *Manager) ActiveConnections() []Connection {
	return m.filter(func(c *Connection) bool { return !c.IsClosed() })
}

// Connections returns every record in creation order.
func (m *Manager) Connections() []Connection {
	return m.filter(func(*Connection) bool { return true })
}

// Get returns the connection with the given unique request key.
func (m *Manager) Get(key string) (Connection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[key]
	if !ok {
		return Connection{}, false
	}
	return *c, true
}

func (m *Manager) filter(keep func(*Connection) bool) []Connection {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Connection
	for _, key := range m.order {
		if c := m.conns[key]; keep(c) {
			out = append(out, *c)
		}
	}
	return out
}

// establish publishes connection_created to the peer and marks c established.
// Caller holds mu.
func (m *Manager) establish(ctx context.Context, c *Connection, memo string) error {
	topicID := c.ConnectionTopicID
	if topicID == "" {
		topicID = uuid.NewString()
	}
	to, err := m.peerTopic(c)
	if err != nil {
		return err
	}

	created := &event.ConnectionCreated{
		Header: event.Header{Timestamp: m.clock.Now().UnixMilli(), Sender: m.account},
		Details: event.ConnectionCreatedDetails{
			ConnectionTopicID:  topicID,
			ConnectedAccountID: c.TargetAccountID,
			ConnectionID:       c.ConnectionRequestID,
			Memo:               memo,
		},
	}
	if _, err := m.publish(ctx, to, created); err != nil {
		return err
	}

	c.ConnectionTopicID = topicID
	c.Memo = memo
	return m.setStatus(ctx, c, StatusEstablished)
}

// closeLocked closes c. Caller holds mu.
func (m *Manager) closeLocked(ctx context.Context, c *Connection, reason string, notify bool) error {
	if c.IsClosed() {
		return nil
	}
	c.CloseReason = reason
	if err := m.setStatus(ctx, c, StatusClosed); err != nil {
		return err
	}
	if !notify || c.ConnectionTopicID == "" {
		return nil
	}

	to, err := m.peerTopic(c)
	if err != nil {
		m.logger.Warn("cannot notify peer of close", "connection", c.ConnectionTopicID, "error", err)
		return nil
	}
	closing := &event.CloseConnection{
		Header: event.Header{Timestamp: m.clock.Now().UnixMilli(), Sender: m.account},
		Details: event.CloseConnectionDetails{
			ConnectionTopicID: c.ConnectionTopicID,
			Reason:            reason,
		},
	}
	if _, err := m.publish(ctx, to, closing); err != nil {
		m.logger.Warn("close notification not delivered", "connection", c.ConnectionTopicID, "error", err)
	}
	return nil
}

func (m *Manager) setStatus(ctx context.Context, c *Connection, next Status) error {
	prev := c.Status
	if err := c.transition(next, m.clock.Now()); err != nil {
		return err
	}
	if prev == next {
		return nil
	}
	m.metrics.Transition(ctx, metricsComponent, string(next))
	m.logger.Info("connection status changed",
		"request", c.UniqueRequestKey,
		"peer", c.TargetAccountID,
		"from", prev,
		"to", next,
	)
	m.persist(ctx, c)
	return nil
}

func (m *Manager) insert(ctx context.Context, c *Connection) {
	m.conns[c.UniqueRequestKey] = c
	m.order = append(m.order, c.UniqueRequestKey)
	m.metrics.Transition(ctx, metricsComponent, string(c.Status))
	m.logger.Info("connection recorded",
		"request", c.UniqueRequestKey,
		"peer", c.TargetAccountID,
		"direction", c.Direction,
	)
	m.persist(ctx, c)
}

// touch records activity on c without changing its status.
func (m *Manager) touch(ctx context.Context, c *Connection) {
	c.LastActivity = m.clock.Now()
	m.persist(ctx, c)
}

func (m *Manager) persist(ctx context.Context, c *Connection) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveConnection(ctx, *c); err != nil {
		m.logger.Warn("persisting connection failed", "request", c.UniqueRequestKey, "error", err)
	}
}

func (m *Manager) publish(ctx context.Context, topic string, ev event.DomainEvent) (int64, error) {
	payload, err := event.Encode(ev)
	if err != nil {
		return 0, fmt.Errorf("encoding %s: %w", ev.Type(), err)
	}
	seq, err := m.transport.Publish(ctx, topic, string(payload))
	if err != nil {
		m.metrics.TransportFailure(ctx, metricsComponent, "publish")
		m.logger.Error("publish failed", "topic", topic, "type", ev.Type(), "error", err)
		return 0, err
	}
	m.metrics.Published(ctx, metricsComponent, string(ev.Type()))
	if m.sink != nil {
		m.sink.Emit(ctx, topic, seq, ev)
	}
	return seq, nil
}

func (m *Manager) peerTopic(c *Connection) (string, error) {
	if c.InboundTopicID != "" {
		return c.InboundTopicID, nil
	}
	if m.outbound != "" {
		return m.outbound, nil
	}
	return "", fmt.Errorf("no topic to reach %s", c.TargetAccountID)
}

// allow applies the per-peer limiter. Caller holds mu.
func (m *Manager) allow(peer string) bool {
	if m.rateLimit <= 0 {
		return true
	}
	l, ok := m.limiters[peer]
	if !ok {
		l = rate.NewLimiter(m.rateLimit, m.rateBurst)
		m.limiters[peer] = l
	}
	return l.AllowN(m.clock.Now(), 1)
}

func (m *Manager) findInbound(requestID int64) *Connection {
	for _, key := range m.order {
		c := m.conns[key]
		if c.Direction == Inbound && c.ConnectionRequestID == requestID {
			return c
		}
	}
	return nil
}

// findOutbound matches an outbound request by sequence and, when given, by the
// peer that answered.
func (m *Manager) findOutbound(requestID int64, peer string) *Connection {
	for _, key := range m.order {
		c := m.conns[key]
		if c.Direction != Outbound || c.ConnectionRequestID != requestID {
			continue
		}
		if peer == "" || c.TargetAccountID == peer {
			return c
		}
	}
	return nil
}

func (m *Manager) findByTopic(topicID string) *Connection {
	if topicID == "" {
		return nil
	}
	for _, key := range m.order {
		if c := m.conns[key]; c.ConnectionTopicID == topicID {
			return c
		}
	}
	return nil
}

func (m *Manager) loadCursor(ctx context.Context, topic string, cursor *atomic.Int64) {
	if m.checkpoints == nil {
		return
	}
	seq, ok, err := m.checkpoints.LoadCursor(ctx, checkpointConsumer, topic)
	if err != nil {
		m.logger.Warn("loading checkpoint failed", "topic", topic, "error", err)
		return
	}
	if ok && seq > cursor.Load() {
		cursor.Store(seq)
	}
}

func (m *Manager) saveCursor(ctx context.Context, topic string, seq int64) {
	if m.checkpoints == nil {
		return
	}
	if err := m.checkpoints.SaveCursor(ctx, checkpointConsumer, topic, seq); err != nil {
		m.logger.Warn("saving checkpoint failed", "topic", topic, "cursor", seq, "error", err)
	}
}
