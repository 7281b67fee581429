// ABOUTME: Agent runtime that polls an input topic and dispatches decoded events
// ABOUTME: Owns the cursor, the ticker, and publishing to the output topic

package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/2389/topicmesh/internal/clock"
	"github.com/2389/topicmesh/internal/event"
	"github.com/2389/topicmesh/internal/metrics"
	"github.com/2389/topicmesh/internal/transport"
)

// DefaultPollInterval is used when Params.PollInterval is zero.
const DefaultPollInterval = 5 * time.Second

// Handler receives decoded events in sequence order.
type Handler interface {
	HandleMessage(ctx context.Context, ev event.DomainEvent) error
}

// Ticker is implemented by handlers that need a hook after every poll cycle.
type Ticker interface {
	Tick(ctx context.Context) error
}

// Sink receives every event a runtime successfully publishes.
type Sink interface {
	Emit(ctx context.Context, topic string, sequence int64, ev event.DomainEvent)
}

// CheckpointStore persists cursors across restarts.
type CheckpointStore interface {
	LoadCursor(ctx context.Context, consumer, topic string) (int64, bool, error)
	SaveCursor(ctx context.Context, consumer, topic string, cursor int64) error
}

// Params configures a Runtime.
type Params struct {
	Name         string
	Transport    transport.Transport
	InputTopic   string
	OutputTopic  string
	PollInterval time.Duration
	Handler      Handler
	Clock        clock.Clock
	Logger       *slog.Logger
	Metrics      *metrics.Recorder
	Checkpoints  CheckpointStore
	Sink         Sink
}

// Runtime is the poll/dispatch/publish loop for one agent.
type Runtime struct {
	name        string
	transport   transport.Transport
	input       string
	output      string
	interval    time.Duration
	handler     Handler
	clock       clock.Clock
	logger      *slog.Logger
	metrics     *metrics.Recorder
	checkpoints CheckpointStore
	sink        Sink

	cursor atomic.Int64

	// cycleMu serialises poll cycles so they never overlap.
	cycleMu sync.Mutex

	mu      sync.Mutex
	running bool
	ticker  clock.Ticker
	stopCh  chan struct{}
	done    chan struct{}
}

// New creates a Runtime. It does not start polling.
func New(p Params) *Runtime {
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
	return &Runtime{
		name:        p.Name,
		transport:   p.Transport,
		input:       p.InputTopic,
		output:      p.OutputTopic,
		interval:    p.PollInterval,
		handler:     p.Handler,
		clock:       p.Clock,
		logger:      p.Logger.With("component", "runtime", "agent", p.Name),
		metrics:     p.Metrics,
		checkpoints: p.Checkpoints,
		sink:        p.Sink,
	}
}

// Name returns the agent name this runtime was created for.
func (r *Runtime) Name() string { return r.name }

// InputTopic returns the topic the runtime reads.
func (r *Runtime) InputTopic() string { return r.input }

// OutputTopic returns the topic Publish writes to.
func (r *Runtime) OutputTopic() string { return r.output }

// Cursor returns the highest sequence number processed on the input topic.
func (r *Runtime) Cursor() int64 { return r.cursor.Load() }

// SetCursor reinitialises the cursor. Intended for explicit resets only.
func (r *Runtime) SetCursor(seq int64) {
	r.cycleMu.Lock()
	defer r.cycleMu.Unlock()
	r.cursor.Store(seq)
}

// IsRunning reports whether the poll loop is active.
func (r *Runtime) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Start begins periodic polling. Calling Start on a running runtime is a no-op.
func (r *Runtime) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return
	}
	if r.input == "" {
		r.logger.Debug("runtime has no input topic; running emit-only")
	}

	r.loadCheckpoint(ctx)

	r.ticker = r.clock.NewTicker(r.interval)
	r.stopCh = make(chan struct{})
	r.done = make(chan struct{})
	r.running = true

	go r.loop(ctx, r.ticker, r.stopCh, r.done)

	r.logger.Info("runtime started",
		"input_topic", r.input,
		"output_topic", r.output,
		"interval", r.interval,
		"cursor", r.Cursor(),
	)
}

// Stop halts polling and waits for an in-flight cycle to finish.
func (r *Runtime) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.ticker.Stop()
	close(r.stopCh)
	done := r.done
	r.mu.Unlock()

	<-done
	r.logger.Info("runtime stopped", "cursor", r.Cursor())
}

func (r *Runtime) loop(ctx context.Context, ticker clock.Ticker, stop, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			r.expire(stop)
			return
		case <-ticker.C():
			// A tick and a stop can be ready together; stop wins.
			select {
			case <-stop:
				return
			default:
			}
			if err := r.Poll(ctx); err != nil {
				r.logger.Debug("poll cycle aborted", "error", err)
			}
		}
	}
}

// expire clears the running state of the loop owning stop once its context
// ends. A loop already replaced by Stop and Start leaves state alone.
func (r *Runtime) expire(stop chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running || r.stopCh != stop {
		return
	}
	r.running = false
	r.ticker.Stop()
	r.logger.Info("runtime stopped", "reason", "context done")
}

// Poll runs one read/dispatch cycle. Without an input topic it only runs the
// Tick hook.
func (r *Runtime) Poll(ctx context.Context) error {
	r.cycleMu.Lock()
	defer r.cycleMu.Unlock()

	if r.input == "" {
		r.tick(ctx)
		return nil
	}

	cursor := r.cursor.Load()
	msgs, err := r.transport.ReadSince(ctx, r.input, cursor)
	if err != nil {
		r.metrics.TransportFailure(ctx, r.name, "read")
		r.logger.Warn("reading input topic failed",
			"topic", r.input,
			"cursor", cursor,
			"error", err,
		)
		return fmt.Errorf("reading %s: %w", r.input, err)
	}

	slices.SortFunc(msgs, func(a, b transport.Message) int {
		switch {
		case a.Sequence < b.Sequence:
			return -1
		case a.Sequence > b.Sequence:
			return 1
		}
		return 0
	})

	highest := cursor
	for _, msg := range msgs {
		if msg.Sequence <= highest {
			continue
		}
		highest = msg.Sequence
		r.dispatch(ctx, msg)
	}

	if highest > cursor {
		r.cursor.Store(highest)
		r.saveCheckpoint(ctx, highest)
	}

	r.tick(ctx)
	return nil
}

func (r *Runtime) tick(ctx context.Context) {
	if t, ok := r.handler.(Ticker); ok {
		if err := t.Tick(ctx); err != nil {
			r.logger.Warn("tick failed", "error", err)
		}
	}
}

func (r *Runtime) dispatch(ctx context.Context, msg transport.Message) {
	ev, err := event.DecodeString(msg.Contents)
	if err != nil {
		r.metrics.Dropped(ctx, r.name, r.input)
		r.logger.Warn("dropping undecodable message",
			"topic", r.input,
			"sequence", msg.Sequence,
			"error", err,
		)
		return
	}

	if err := r.handler.HandleMessage(ctx, ev); err != nil {
		r.metrics.HandlerError(ctx, r.name, string(ev.Type()))
		r.logger.Error("handler failed",
			"topic", r.input,
			"sequence", msg.Sequence,
			"type", ev.Type(),
			"error", err,
		)
		return
	}
	r.metrics.Dispatched(ctx, r.name, string(ev.Type()))
}

// Publish sends ev to the output topic.
func (r *Runtime) Publish(ctx context.Context, ev event.DomainEvent) error {
	return r.PublishTo(ctx, r.output, ev)
}

// PublishTo sends ev to an explicit topic. Failures are logged and returned;
// there is no retry.
func (r *Runtime) PublishTo(ctx context.Context, topic string, ev event.DomainEvent) error {
	if topic == "" {
		return errors.New("publish: no topic")
	}
	if ev == nil {
		return errors.New("publish: nil event")
	}
	payload, err := event.Encode(ev)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", ev.Type(), err)
	}

	seq, err := r.transport.Publish(ctx, topic, string(payload))
	if err != nil {
		r.metrics.TransportFailure(ctx, r.name, "publish")
		r.logger.Error("publish failed",
			"topic", topic,
			"type", ev.Type(),
			"error", err,
		)
		return err
	}

	r.metrics.Published(ctx, r.name, string(ev.Type()))
	r.logger.Debug("published event", "topic", topic, "type", ev.Type(), "sequence", seq)
	if r.sink != nil {
		r.sink.Emit(ctx, topic, seq, ev)
	}
	return nil
}

// Now returns the runtime clock's current time.
func (r *Runtime) Now() time.Time { return r.clock.Now() }

// Logger returns the runtime's component logger.
func (r *Runtime) Logger() *slog.Logger { return r.logger }

func (r *Runtime) loadCheckpoint(ctx context.Context) {
	if r.checkpoints == nil || r.input == "" {
		return
	}
	cursor, ok, err := r.checkpoints.LoadCursor(ctx, r.name, r.input)
	if err != nil {
		r.logger.Warn("loading checkpoint failed; starting from in-memory cursor", "error", err)
		return
	}
	if ok && cursor > r.cursor.Load() {
		r.cursor.Store(cursor)
	}
}

func (r *Runtime) saveCheckpoint(ctx context.Context, cursor int64) {
	if r.checkpoints == nil {
		return
	}
	if err := r.checkpoints.SaveCursor(ctx, r.name, r.input, cursor); err != nil {
		r.logger.Warn("saving checkpoint failed", "cursor", cursor, "error", err)
	}
}
