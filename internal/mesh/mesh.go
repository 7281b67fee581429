// ABOUTME: Mesh orchestrator that wires transport, store, feed, agents and connections
// ABOUTME: Manages component lifecycle for the serve command

package mesh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/2389/topicmesh/internal/agents"
	"github.com/2389/topicmesh/internal/clock"
	"github.com/2389/topicmesh/internal/config"
	"github.com/2389/topicmesh/internal/connection"
	"github.com/2389/topicmesh/internal/dedupe"
	"github.com/2389/topicmesh/internal/feed"
	"github.com/2389/topicmesh/internal/metrics"
	"github.com/2389/topicmesh/internal/runtime"
	"github.com/2389/topicmesh/internal/store"
	"github.com/2389/topicmesh/internal/transport"
)

// Options overrides pieces New would otherwise build from config.
type Options struct {
	Clock     clock.Clock
	Transport transport.Transport
}

// Mesh owns every component of one node.
type Mesh struct {
	config *config.Config
	clock  clock.Clock
	logger *slog.Logger

	transport transport.Transport
	// closers release the transport and database in reverse order of opening.
	closers []namedCloser
	store   *store.SQLiteStore

	metrics  *metrics.Provider
	recorder *metrics.Recorder
	feed     *feed.Broadcaster
	seen     *dedupe.Cache

	risk        *agents.RiskAgent
	rebalance   *agents.RebalanceAgent
	priceFeed   *agents.PriceFeedAgent
	portfolio   *agents.MemoryPortfolio
	connections *connection.Manager

	shutdownOnce sync.Once
	shutdownErr  error
}

type namedCloser struct {
	label string
	c     io.Closer
}

// New builds a mesh from cfg. Nothing polls until Run or Start.
func New(cfg *config.Config, logger *slog.Logger) (*Mesh, error) {
	return NewWithOptions(cfg, logger, Options{})
}

// NewWithOptions is New with injectable clock and transport.
func NewWithOptions(cfg *config.Config, logger *slog.Logger, opts Options) (_ *Mesh, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	m := &Mesh{
		config: cfg,
		clock:  opts.Clock,
		logger: logger.With("component", "mesh"),
	}
	defer func() {
		if err != nil {
			if m.metrics != nil {
				_ = m.metrics.Shutdown(context.Background())
			}
			m.closeResources()
		}
	}()

	if err := m.initTransport(opts.Transport); err != nil {
		return nil, err
	}
	if err := m.initDatabase(); err != nil {
		return nil, err
	}
	if err := m.initMetrics(); err != nil {
		return nil, err
	}

	m.feed = feed.NewBroadcaster(logger)

	m.initAgents(logger)
	if err := m.initConnections(logger); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Mesh) initTransport(override transport.Transport) error {
	if override != nil {
		m.transport = override
		return nil
	}
	tc := m.config.Transport
	switch tc.Kind {
	case config.TransportRedis:
		rl := transport.NewRedisLog(transport.RedisOptions{
			Addr:      tc.Redis.Addr,
			Password:  tc.Redis.Password,
			DB:        tc.Redis.DB,
			KeyPrefix: tc.Redis.KeyPrefix,
		})
		m.transport = rl
		m.closers = append(m.closers, namedCloser{"redis close", rl})
	case config.TransportSQLite:
		s, err := store.NewSQLiteStore(tc.SQLite.Path)
		if err != nil {
			return fmt.Errorf("opening sqlite transport: %w", err)
		}
		m.transport = s
		m.store = s
		m.closers = append(m.closers, namedCloser{"store close", s})
	default:
		m.transport = transport.NewMemoryLog(m.clock)
	}
	m.logger.Info("transport ready", "kind", tc.Kind)
	return nil
}

func (m *Mesh) initDatabase() error {
	path := m.config.DatabasePath()
	if path == "" || (m.store != nil && path == m.config.Transport.SQLite.Path) {
		return nil
	}
	s, err := store.NewSQLiteStore(path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	m.store = s
	m.closers = append(m.closers, namedCloser{"database close", s})
	m.logger.Info("database ready", "path", path)
	return nil
}

func (m *Mesh) initMetrics() error {
	if !m.config.Metrics.Enabled {
		m.recorder = metrics.Noop()
		return nil
	}
	p, err := metrics.NewProvider()
	if err != nil {
		return fmt.Errorf("creating metrics provider: %w", err)
	}
	m.metrics = p
	m.recorder = p.Recorder()
	return nil
}

// sink returns the ledger and feed combined. A nil store must not reach Tee
// as a typed nil.
func (m *Mesh) sink() runtime.Sink {
	if m.store != nil {
		return feed.Tee(m.store, m.feed)
	}
	return feed.Tee(m.feed)
}

func (m *Mesh) checkpoints() runtime.CheckpointStore {
	if m.store == nil || !m.config.Database.Checkpoints {
		return nil
	}
	return m.store
}

func (m *Mesh) runtimeParams(name, input, output string, interval time.Duration, logger *slog.Logger) runtime.Params {
	return runtime.Params{
		Name:         name,
		Transport:    m.transport,
		InputTopic:   input,
		OutputTopic:  output,
		PollInterval: interval,
		Clock:        m.clock,
		Logger:       logger,
		Metrics:      m.recorder,
		Checkpoints:  m.checkpoints(),
		Sink:         m.sink(),
	}
}

func (m *Mesh) initAgents(logger *slog.Logger) {
	ac := m.config.Agents

	if ac.Risk.Enabled {
		m.risk = agents.NewRiskAgent(
			m.runtimeParams("risk-assessment", ac.Risk.InputTopic, ac.Risk.OutputTopic, ac.PollInterval, logger),
			agents.RiskConfig{
				HistorySize: ac.Risk.HistorySize,
				Thresholds: agents.RiskThresholds{
					High:   ac.Risk.HighThreshold,
					Medium: ac.Risk.MediumThreshold,
				},
			},
		)
	}

	if ac.Rebalance.Enabled {
		m.portfolio = agents.NewMemoryPortfolio(ac.Rebalance.Balances)
		m.rebalance = agents.NewRebalanceAgent(
			m.runtimeParams("rebalance", ac.Rebalance.InputTopic, ac.Rebalance.OutputTopic, ac.PollInterval, logger),
			agents.RebalanceConfig{Quorum: ac.Rebalance.Quorum, Balances: m.portfolio},
		)
	}

	if ac.PriceFeed.Enabled {
		m.priceFeed = agents.NewPriceFeedAgent(
			m.runtimeParams("price-feed", "", ac.PriceFeed.OutputTopic, ac.PriceFeed.Interval, logger),
			agents.PriceFeedConfig{
				Tokens: ac.PriceFeed.Tokens,
				Source: agents.NewRandomWalkSource(ac.PriceFeed.StartPrices, ac.PriceFeed.Step),
			},
		)
	}
}

func (m *Mesh) initConnections(logger *slog.Logger) error {
	cc := m.config.Connections
	if !cc.Enabled {
		return nil
	}

	policy, err := connection.PolicyFromConfig(cc.Approval.Mode, cc.Approval.Expression)
	if err != nil {
		return fmt.Errorf("building approval policy: %w", err)
	}

	m.seen = dedupe.NewWithOptions(dedupe.Options{
		TTL:     cc.DedupeTTL,
		MaxSize: cc.DedupeSize,
		Clock:   m.clock,
	})

	p := connection.Params{
		AccountID:     cc.AccountID,
		InboundTopic:  cc.InboundTopic,
		OutboundTopic: cc.OutboundTopic,
		ControlTopic:  cc.ControlTopic,
		Transport:     m.transport,
		PollInterval:  cc.PollInterval,
		Policy:        policy,
		RateLimit:     rate.Limit(cc.RateLimit),
		RateBurst:     cc.RateBurst,
		Checkpoints:   m.checkpoints(),
		Sink:          m.sink(),
		Seen:          m.seen,
		Clock:         m.clock,
		Logger:        logger,
		Metrics:       m.recorder,
	}
	if m.store != nil {
		p.Store = m.store
	}

	mgr, err := connection.New(p)
	if err != nil {
		return fmt.Errorf("creating connection manager: %w", err)
	}
	m.connections = mgr
	return nil
}

// Start loads connection state and starts every poller.
func (m *Mesh) Start(ctx context.Context) error {
	if m.connections != nil {
		if err := m.connections.Initialize(ctx); err != nil {
			return fmt.Errorf("initializing connections: %w", err)
		}
		m.connections.Start(ctx)
	}
	for _, r := range m.runtimes() {
		r.Start(ctx)
	}
	m.logger.Info("mesh started",
		"agents", len(m.runtimes()),
		"connections", m.connections != nil,
	)
	return nil
}

// Run starts the mesh and blocks until ctx is cancelled.
func (m *Mesh) Run(ctx context.Context) error {
	if err := m.Start(ctx); err != nil {
		_ = m.gracefulShutdown()
		return err
	}
	<-ctx.Done()
	m.logger.Info("context canceled, initiating shutdown")
	return m.gracefulShutdown()
}

// gracefulShutdown uses a fresh context since the run context is already done.
func (m *Mesh) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.Shutdown(ctx)
}

// Shutdown stops every poller and releases resources.
func (m *Mesh) Shutdown(ctx context.Context) error {
	m.shutdownOnce.Do(func() {
		m.logger.Info("shutting down mesh")

		for _, r := range m.runtimes() {
			r.Stop()
		}
		if m.connections != nil {
			m.connections.Close()
		}

		var errs []error
		if m.metrics != nil {
			if totals, err := m.metrics.Totals(ctx); err == nil {
				m.logger.Info("final counters", "totals", totals)
			}
			errs = appendCloseError(errs, "metrics shutdown", m.metrics.Shutdown(ctx))
		}
		errs = append(errs, m.closeResources()...)
		m.shutdownErr = errors.Join(errs...)
	})
	if m.shutdownErr != nil {
		return fmt.Errorf("shutdown errors: %w", m.shutdownErr)
	}
	return nil
}

// closeResources releases everything that is not a poller.
func (m *Mesh) closeResources() []error {
	if m.feed != nil {
		m.feed.Close()
	}
	if m.seen != nil {
		m.seen.Close()
	}
	var errs []error
	for i := len(m.closers) - 1; i >= 0; i-- {
		errs = appendCloseError(errs, m.closers[i].label, m.closers[i].c.Close())
	}
	m.closers = nil
	return errs
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

type poller interface {
	Start(ctx context.Context)
	Stop()
	Name() string
}

func (m *Mesh) runtimes() []poller {
	var out []poller
	if m.priceFeed != nil {
		out = append(out, m.priceFeed)
	}
	if m.risk != nil {
		out = append(out, m.risk)
	}
	if m.rebalance != nil {
		out = append(out, m.rebalance)
	}
	return out
}

// Config returns the effective configuration.
func (m *Mesh) Config() *config.Config { return m.config }

// Transport returns the topic log.
func (m *Mesh) Transport() transport.Transport { return m.transport }

// Store returns the SQLite database, or nil when none is configured.
func (m *Mesh) Store() *store.SQLiteStore { return m.store }

// Feed returns the broadcaster of published events.
func (m *Mesh) Feed() *feed.Broadcaster { return m.feed }

// Risk returns the risk agent, or nil when disabled.
func (m *Mesh) Risk() *agents.RiskAgent { return m.risk }

// Rebalance returns the rebalance agent, or nil when disabled.
func (m *Mesh) Rebalance() *agents.RebalanceAgent { return m.rebalance }

// PriceFeed returns the price feed, or nil when disabled.
func (m *Mesh) PriceFeed() *agents.PriceFeedAgent { return m.priceFeed }

// Portfolio returns the portfolio the rebalance agent operates on.
func (m *Mesh) Portfolio() *agents.MemoryPortfolio { return m.portfolio }

// Connections returns the connection manager, or nil when disabled.
func (m *Mesh) Connections() *connection.Manager { return m.connections }

// MetricTotals returns counter totals, or nil when metrics are disabled.
func (m *Mesh) MetricTotals(ctx context.Context) (map[string]int64, error) {
	if m.metrics == nil {
		return nil, nil
	}
	return m.metrics.Totals(ctx)
}
