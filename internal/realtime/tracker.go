// Package realtime tracks the connectivity of a realtime channel and defers
// presence-style work while it is down.
package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/outbox/internal/core/clock"
	"github.com/vietddude/outbox/internal/core/domain"
	"github.com/vietddude/outbox/internal/metrics"
)

const (
	// DefaultBufferSize bounds the deferred-operation buffer.
	DefaultBufferSize = 50
	// DefaultMaxDelay caps the reconnect backoff.
	DefaultMaxDelay = 30 * time.Second
)

// ErrTrackerStopped is returned by Execute after Stop.
var ErrTrackerStopped = errors.New("connection tracker stopped")

// DefaultBackoff is the reconnect schedule used when none is configured.
func DefaultBackoff() []time.Duration {
	return []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
	}
}

// Signal is a boolean connectivity stream from a realtime channel.
type Signal interface {
	Subscribe(fn func(connected bool)) (unsubscribe func())
}

// Tracker follows a realtime channel's connected signal, drives reconnect
// attempts with its own backoff and buffers operations while disconnected.
type Tracker struct {
	signal      Signal
	clock       clock.Clock
	log         *slog.Logger
	delays      []time.Duration
	maxDelay    time.Duration
	bufferSize  int
	reconnect   func(ctx context.Context) error
	maxAttempts int

	mu          sync.Mutex
	state       domain.ConnectionState
	buffer      []domain.QueuedOperation
	retry       clock.Timer
	generation  uint64
	replay      clock.Timer
	replayGen   uint64
	replays     int
	attempting  bool
	draining    bool
	stopped     bool
	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()

	nextID    int
	listeners map[int]func(domain.ConnectionState)
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock sets the clock used for reconnect timers.
func WithClock(c clock.Clock) Option {
	return func(t *Tracker) { t.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.log = l }
}

// WithBackoff sets the reconnect delays and the cap applied to each of them.
func WithBackoff(delays []time.Duration, max time.Duration) Option {
	return func(t *Tracker) {
		if len(delays) > 0 {
			t.delays = delays
		}
		if max > 0 {
			t.maxDelay = max
		}
	}
}

// WithBufferSize bounds the deferred-operation buffer.
func WithBufferSize(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.bufferSize = n
		}
	}
}

// WithReconnect sets the hook invoked on every reconnect attempt.
// A nil hook leaves the tracker waiting passively for the signal.
func WithReconnect(fn func(ctx context.Context) error) Option {
	return func(t *Tracker) { t.reconnect = fn }
}

// WithMaxAttempts stops reconnecting after n failed attempts. Zero means unlimited.
func WithMaxAttempts(n int) Option {
	return func(t *Tracker) { t.maxAttempts = n }
}

// NewTracker creates a tracker and subscribes it to signal.
func NewTracker(signal Signal, opts ...Option) *Tracker {
	t := &Tracker{
		signal:     signal,
		clock:      clock.Real(),
		log:        slog.Default(),
		delays:     DefaultBackoff(),
		maxDelay:   DefaultMaxDelay,
		bufferSize: DefaultBufferSize,
		listeners:  make(map[int]func(domain.ConnectionState)),
	}
	for _, opt := range opts {
		opt(t)
	}
	t.ctx, t.cancel = context.WithCancel(context.Background())

	unsubscribe := signal.Subscribe(t.handle)
	t.mu.Lock()
	t.unsubscribe = unsubscribe
	t.mu.Unlock()
	return t
}

// State returns a snapshot of the connection state.
func (t *Tracker) State() domain.ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// Pending returns a snapshot of the deferred operations in FIFO order.
func (t *Tracker) Pending() []domain.QueuedOperation {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.QueuedOperation, len(t.buffer))
	copy(out, t.buffer)
	return out
}

// OnChange registers fn to run whenever the connection state changes.
func (t *Tracker) OnChange(fn func(domain.ConnectionState)) (unsubscribe func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id := t.nextID
	t.listeners[id] = fn
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.listeners, id)
	}
}

// Execute runs op now when the channel is connected and nothing is waiting
// ahead of it. Otherwise, or when op fails, it is buffered and replayed on
// the next reconnect, or on the backoff schedule while still connected.
func (t *Tracker) Execute(ctx context.Context, name string, op func(ctx context.Context) error) error {
	queued := domain.QueuedOperation{
		ID:        uuid.NewString(),
		Name:      name,
		Operation: op,
		Timestamp: t.clock.Now(),
	}

	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return ErrTrackerStopped
	}
	runNow := t.state.Connected && !t.draining && len(t.buffer) == 0
	if !runNow {
		t.pushLocked(queued)
		t.scheduleReplayLocked()
		t.mu.Unlock()
		t.log.Debug("Deferred realtime operation", "name", name)
		return nil
	}
	t.mu.Unlock()

	if err := op(ctx); err != nil {
		t.log.Warn("Realtime operation failed, deferring", "name", name, "error", err)
		t.mu.Lock()
		t.pushLocked(queued)
		t.scheduleReplayLocked()
		t.mu.Unlock()
	}
	return nil
}

// Stop cancels reconnect timers and unsubscribes from the signal.
// Buffered operations are discarded.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	t.cancelRetryLocked()
	t.cancelReplayLocked()
	unsubscribe := t.unsubscribe
	t.unsubscribe = nil
	t.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	t.cancel()
}

func (t *Tracker) handle(connected bool) {
	if connected {
		t.onConnected()
		return
	}
	t.onDisconnected()
}

func (t *Tracker) onConnected() {
	now := t.clock.Now()

	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.cancelRetryLocked()
	t.cancelReplayLocked()
	t.replays = 0
	t.state.Connected = true
	t.state.Reconnecting = false
	t.state.Attempts = 0
	t.state.LastConnectedAt = &now
	snap, listeners := t.snapshotLocked(), t.listenersLocked()
	t.mu.Unlock()

	metrics.RealtimeConnected.Set(1)
	t.log.Info("Realtime channel connected")
	notify(listeners, snap)
	t.drain()
}

func (t *Tracker) onDisconnected() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	wasConnected := t.state.Connected
	if !wasConnected && (t.retry != nil || t.attempting) {
		t.mu.Unlock()
		return
	}
	t.cancelReplayLocked()
	t.state.Connected = false
	t.state.Reconnecting = true
	t.scheduleAttemptLocked()
	snap, listeners := t.snapshotLocked(), t.listenersLocked()
	t.mu.Unlock()

	metrics.RealtimeConnected.Set(0)
	if wasConnected {
		t.log.Warn("Realtime channel disconnected")
	}
	notify(listeners, snap)
}

func (t *Tracker) scheduleAttemptLocked() {
	if t.reconnect == nil {
		return
	}
	if t.maxAttempts > 0 && t.state.Attempts >= t.maxAttempts {
		t.state.Reconnecting = false
		t.log.Error("Giving up on realtime reconnection", "attempts", t.state.Attempts)
		return
	}
	delay := t.delayFor(t.state.Attempts)
	t.generation++
	gen := t.generation
	t.retry = t.clock.AfterFunc(delay, func() { t.attempt(gen) })
	t.log.Debug("Scheduled realtime reconnect", "attempt", t.state.Attempts+1, "delay", delay)
}

func (t *Tracker) attempt(gen uint64) {
	t.mu.Lock()
	if t.stopped || gen != t.generation || t.state.Connected {
		t.mu.Unlock()
		return
	}
	t.retry = nil
	t.attempting = true
	t.state.Attempts++
	attempts := t.state.Attempts
	ctx := t.ctx
	snap, listeners := t.snapshotLocked(), t.listenersLocked()
	t.mu.Unlock()

	metrics.RealtimeReconnectAttempts.Inc()
	notify(listeners, snap)

	err := t.reconnect(ctx)

	t.mu.Lock()
	t.attempting = false
	if err == nil || t.stopped || t.state.Connected {
		t.mu.Unlock()
		return
	}
	t.scheduleAttemptLocked()
	snap, listeners = t.snapshotLocked(), t.listenersLocked()
	t.mu.Unlock()

	t.log.Warn("Realtime reconnect failed", "attempt", attempts, "error", err)
	notify(listeners, snap)
}

// drain replays buffered operations in FIFO order. Failures go back to the
// tail; the pass stops when it reaches one of them again.
func (t *Tracker) drain() {
	t.mu.Lock()
	if t.draining {
		t.mu.Unlock()
		return
	}
	t.draining = true
	ctx := t.ctx
	t.mu.Unlock()

	failed := make(map[string]struct{})
	for {
		t.mu.Lock()
		if t.stopped || !t.state.Connected || len(t.buffer) == 0 {
			if len(t.buffer) == 0 {
				t.replays = 0
			}
			t.draining = false
			t.mu.Unlock()
			return
		}
		next := t.buffer[0]
		if _, seen := failed[next.ID]; seen {
			t.draining = false
			t.scheduleReplayLocked()
			t.mu.Unlock()
			return
		}
		t.buffer = t.buffer[1:]
		metrics.DeferredBufferSize.Set(float64(len(t.buffer)))
		t.mu.Unlock()

		if err := next.Operation(ctx); err != nil {
			t.log.Warn("Deferred realtime operation failed, requeueing", "name", next.Name, "error", err)
			failed[next.ID] = struct{}{}
			t.mu.Lock()
			t.pushLocked(next)
			t.mu.Unlock()
		}
	}
}

// scheduleReplayLocked retries the buffer on the backoff schedule while the
// channel stays connected. A reconnect drains it anyway.
func (t *Tracker) scheduleReplayLocked() {
	if t.stopped || !t.state.Connected || t.replay != nil || len(t.buffer) == 0 {
		return
	}
	delay := t.delayFor(t.replays)
	t.replays++
	gen := t.replayGen
	t.replay = t.clock.AfterFunc(delay, func() { t.replayBuffer(gen) })
	t.log.Debug("Scheduled deferred buffer replay", "delay", delay, "pending", len(t.buffer))
}

func (t *Tracker) replayBuffer(gen uint64) {
	t.mu.Lock()
	if t.stopped || gen != t.replayGen {
		t.mu.Unlock()
		return
	}
	t.replay = nil
	t.mu.Unlock()

	t.drain()
}

func (t *Tracker) cancelReplayLocked() {
	t.replayGen++
	if t.replay != nil {
		t.replay.Stop()
		t.replay = nil
	}
}

func (t *Tracker) pushLocked(op domain.QueuedOperation) {
	if len(t.buffer) >= t.bufferSize {
		evicted := t.buffer[0]
		t.buffer = t.buffer[1:]
		metrics.DeferredEvictions.Inc()
		t.log.Warn("Deferred buffer full, evicting oldest operation",
			"evicted", evicted.Name,
			"queued_at", evicted.Timestamp,
			"capacity", t.bufferSize)
	}
	t.buffer = append(t.buffer, op)
	metrics.DeferredBufferSize.Set(float64(len(t.buffer)))
}

func (t *Tracker) delayFor(attempts int) time.Duration {
	idx := min(attempts, len(t.delays)-1)
	return min(t.delays[idx], t.maxDelay)
}

func (t *Tracker) cancelRetryLocked() {
	t.generation++
	if t.retry != nil {
		t.retry.Stop()
		t.retry = nil
	}
}

func (t *Tracker) snapshotLocked() domain.ConnectionState {
	s := t.state
	if s.LastConnectedAt != nil {
		at := *s.LastConnectedAt
		s.LastConnectedAt = &at
	}
	return s
}

func (t *Tracker) listenersLocked() []func(domain.ConnectionState) {
	fns := make([]func(domain.ConnectionState), 0, len(t.listeners))
	for _, fn := range t.listeners {
		fns = append(fns, fn)
	}
	return fns
}

func notify(fns []func(domain.ConnectionState), s domain.ConnectionState) {
	for _, fn := range fns {
		fn(s)
	}
}
