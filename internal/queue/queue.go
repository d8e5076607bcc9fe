// Package queue implements a durable FIFO operation queue with per-entry
// backoff, a circuit breaker and a fixed capacity.
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/vietddude/outbox/internal/core/clock"
	"github.com/vietddude/outbox/internal/core/domain"
	"github.com/vietddude/outbox/internal/metrics"
)

// minWakeDelay keeps a scheduled pass from joining the pass that scheduled it.
const minWakeDelay = 50 * time.Millisecond

// Queue is a durable FIFO queue of pending operations.
type Queue struct {
	cfg   RetryConfig
	store Store
	key   string
	clock clock.Clock
	log   *slog.Logger
	ready func() bool

	mu         sync.Mutex
	entries    []domain.QueueEntry
	processors map[domain.OperationType]ProcessorFunc
	breaker    *CircuitBreaker
	wake       clock.Timer
	loaded     bool
	closed     bool
	handlers   []FailureHandler

	persistMu sync.Mutex
	flight    singleflight.Group
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock sets the clock used for retry times and timers.
func WithClock(c clock.Clock) Option {
	return func(q *Queue) { q.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.log = l }
}

// WithStorageKey overrides the key the queue is persisted under.
func WithStorageKey(key string) Option {
	return func(q *Queue) { q.key = key }
}

// WithFailureHandler registers a terminal failure handler.
func WithFailureHandler(h FailureHandler) Option {
	return func(q *Queue) { q.handlers = append(q.handlers, h) }
}

// WithReadiness gates timer-driven passes. Scheduled retries are skipped
// while ready returns false; explicit ProcessQueue calls are not gated.
func WithReadiness(ready func() bool) Option {
	return func(q *Queue) { q.ready = ready }
}

// New creates a queue. Call Init to load persisted entries.
func New(cfg RetryConfig, store Store, opts ...Option) (*Queue, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry config: %w", err)
	}
	cfg.BackoffDelays = append([]time.Duration(nil), cfg.BackoffDelays...)

	q := &Queue{
		cfg:        cfg,
		store:      store,
		key:        DefaultStorageKey,
		clock:      clock.Real(),
		log:        slog.Default(),
		processors: make(map[domain.OperationType]ProcessorFunc),
		breaker: NewCircuitBreaker(
			cfg.EnableCircuitBreaker,
			cfg.CircuitBreakerThreshold,
			cfg.CircuitBreakerCooldown,
		),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

// Init loads persisted entries. Corrupted state is discarded and the queue
// starts empty; Init never fails because of store contents. Enqueue and
// ProcessQueue are rejected until Init has run; later calls are no-ops.
func (q *Queue) Init(ctx context.Context) {
	q.persistMu.Lock()
	defer q.persistMu.Unlock()

	q.mu.Lock()
	done := q.loaded
	q.mu.Unlock()
	if done {
		return
	}

	loaded := q.load(ctx)

	q.mu.Lock()
	if len(loaded) > q.cfg.MaxQueueSize {
		q.log.Warn("Persisted queue exceeds capacity, keeping oldest entries",
			"persisted", len(loaded), "capacity", q.cfg.MaxQueueSize)
		for _, e := range loaded[q.cfg.MaxQueueSize:] {
			q.log.Warn("Dropping persisted entry over capacity", "id", e.ID, "operation", e.OperationType)
		}
		loaded = loaded[:q.cfg.MaxQueueSize]
	}
	q.entries = loaded
	q.loaded = true
	size := len(q.entries)
	q.scheduleWakeLocked(q.clock.Now())
	q.mu.Unlock()

	metrics.QueueSize.Set(float64(size))
	q.log.Info("Operation queue initialized", "entries", size, "key", q.key)
}

// Dispose cancels outstanding timers. Later calls to Enqueue fail and
// ProcessQueue becomes a no-op.
func (q *Queue) Dispose() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.stopWakeLocked()
}

// RegisterProcessor associates fn with an operation type, replacing any
// previous processor.
func (q *Queue) RegisterProcessor(op domain.OperationType, fn ProcessorFunc) error {
	if !op.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrUnknownOperation, op)
	}
	if fn == nil {
		return fmt.Errorf("nil processor for %s", op)
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.processors[op] = fn
	q.scheduleWakeLocked(q.clock.Now())
	return nil
}

// MissingProcessors lists operation types that have no processor.
func (q *Queue) MissingProcessors() []domain.OperationType {
	q.mu.Lock()
	defer q.mu.Unlock()

	var missing []domain.OperationType
	for _, op := range domain.OperationTypes {
		if _, ok := q.processors[op]; !ok {
			missing = append(missing, op)
		}
	}
	return missing
}

// OnTerminalFailure registers a handler for entries dropped after max retries.
func (q *Queue) OnTerminalFailure(h FailureHandler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers = append(q.handlers, h)
}

// Enqueue adds an operation and persists the queue before returning its id.
func (q *Queue) Enqueue(ctx context.Context, payload domain.Payload) (string, error) {
	if payload == nil {
		metrics.OperationsRejected.WithLabelValues("invalid").Inc()
		return "", fmt.Errorf("%w: nil payload", domain.ErrInvalidPayload)
	}
	op := payload.OperationType()
	if !op.Valid() {
		metrics.OperationsRejected.WithLabelValues("invalid").Inc()
		return "", fmt.Errorf("%w: %q", domain.ErrUnknownOperation, op)
	}
	if err := payload.Validate(); err != nil {
		metrics.OperationsRejected.WithLabelValues("invalid").Inc()
		return "", err
	}

	id, err := newEntryID()
	if err != nil {
		return "", err
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return "", ErrQueueClosed
	}
	if !q.loaded {
		q.mu.Unlock()
		return "", ErrNotInitialized
	}
	if len(q.entries) >= q.cfg.MaxQueueSize {
		q.mu.Unlock()
		metrics.OperationsRejected.WithLabelValues("full").Inc()
		return "", &QueueFullError{Capacity: q.cfg.MaxQueueSize}
	}

	now := q.clock.Now()
	entry := domain.QueueEntry{
		ID:            id,
		OperationType: op,
		Payload:       payload,
		NextRetryTime: now,
		CreatedAt:     now,
	}
	q.entries = append(q.entries, entry.Clone())
	size := len(q.entries)
	q.scheduleWakeLocked(now)
	q.mu.Unlock()

	metrics.OperationsEnqueued.WithLabelValues(string(op)).Inc()
	metrics.QueueSize.Set(float64(size))
	q.log.Debug("Operation enqueued", "id", id, "operation", op, "queue_len", size)

	q.persist(ctx)
	return id, nil
}

// ProcessQueue runs one pass over ready entries. Concurrent callers share the
// pass already in flight. Processor failures only affect retry bookkeeping
// and are never returned.
func (q *Queue) ProcessQueue(ctx context.Context) {
	_, _, _ = q.flight.Do("process", func() (any, error) {
		q.drain(ctx)
		return nil, nil
	})
}

type candidate struct {
	id string
	fn ProcessorFunc
}

func (q *Queue) drain(ctx context.Context) {
	now := q.clock.Now()

	q.mu.Lock()
	if q.closed || !q.loaded {
		q.mu.Unlock()
		return
	}
	wasOpen := q.breaker.State().Phase == BreakerOpen
	if !q.breaker.Allow(now) {
		q.scheduleWakeLocked(now)
		until := q.breaker.State().CooldownUntil
		q.mu.Unlock()
		q.log.Debug("Circuit breaker open, skipping queue pass", "cooldown_until", until)
		return
	}
	if wasOpen {
		metrics.CircuitBreakerOpen.Set(0)
		q.log.Info("Circuit breaker closed, resuming queue processing")
	}

	var candidates []candidate
	for _, e := range q.entries {
		if e.NextRetryTime.After(now) {
			continue
		}
		fn, ok := q.processors[e.OperationType]
		if !ok {
			continue
		}
		candidates = append(candidates, candidate{id: e.ID, fn: fn})
	}
	q.mu.Unlock()

	var (
		dropped []domain.QueueEntry
		failed  bool
	)
	for _, c := range candidates {
		if ctx.Err() != nil {
			break
		}

		q.mu.Lock()
		idx := q.indexLocked(c.id)
		if idx < 0 {
			q.mu.Unlock()
			continue
		}
		entry := q.entries[idx].Clone()
		q.mu.Unlock()

		start := time.Now()
		ok, err := invoke(ctx, c.fn, entry)
		metrics.ProcessLatency.WithLabelValues(string(entry.OperationType)).Observe(time.Since(start).Seconds())

		if ok && err == nil {
			q.mu.Lock()
			if idx := q.indexLocked(c.id); idx >= 0 {
				q.removeLocked(idx)
			}
			q.breaker.RecordSuccess()
			size := len(q.entries)
			q.mu.Unlock()

			metrics.OperationsProcessed.WithLabelValues(string(entry.OperationType)).Inc()
			metrics.QueueSize.Set(float64(size))
			q.log.Debug("Operation processed", "id", entry.ID, "operation", entry.OperationType)
			q.persist(ctx)
			continue
		}

		failed = true
		reason := "processor reported failure"
		if err != nil {
			reason = err.Error()
		}
		metrics.OperationFailures.WithLabelValues(string(entry.OperationType)).Inc()

		now := q.clock.Now()
		q.mu.Lock()
		idx = q.indexLocked(c.id)
		if idx < 0 {
			q.mu.Unlock()
			continue
		}
		e := &q.entries[idx]
		e.RetryCount++
		e.LastError = reason
		if e.RetryCount >= q.cfg.MaxRetries {
			dropped = append(dropped, e.Clone())
			q.removeLocked(idx)
		} else {
			e.NextRetryTime = now.Add(q.cfg.DelayFor(e.RetryCount))
			q.log.Warn("Operation failed, scheduled retry",
				"id", e.ID,
				"operation", e.OperationType,
				"retry_count", e.RetryCount,
				"next_retry", e.NextRetryTime,
				"error", reason)
		}
		opened := q.breaker.RecordFailure(now)
		state := q.breaker.State()
		q.mu.Unlock()

		if opened {
			metrics.CircuitBreakerOpen.Set(1)
			q.log.Warn("Circuit breaker opened",
				"failures", state.Failures,
				"cooldown_until", state.CooldownUntil)
			break
		}
	}

	if failed {
		q.persist(ctx)
	}

	q.mu.Lock()
	q.scheduleWakeLocked(q.clock.Now())
	size := len(q.entries)
	handlers := append([]FailureHandler(nil), q.handlers...)
	q.mu.Unlock()
	metrics.QueueSize.Set(float64(size))

	for _, e := range dropped {
		metrics.OperationsDropped.WithLabelValues(string(e.OperationType)).Inc()
		q.log.Error("Operation dropped after max retries",
			"id", e.ID,
			"operation", e.OperationType,
			"retry_count", e.RetryCount,
			"error", e.LastError)
		for _, h := range handlers {
			h(e)
		}
	}
}

// IsCircuitBreakerActive reports whether the circuit breaker is open.
func (q *Queue) IsCircuitBreakerActive() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.breaker.State().Phase == BreakerOpen
}

// CircuitState returns the circuit breaker state.
func (q *Queue) CircuitState() BreakerState {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.breaker.State()
}

// GetQueueSize returns the number of pending entries.
func (q *Queue) GetQueueSize() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// GetQueueItems returns a copy of the pending entries in FIFO order.
func (q *Queue) GetQueueItems() []domain.QueueEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := make([]domain.QueueEntry, len(q.entries))
	for i, e := range q.entries {
		items[i] = e.Clone()
	}
	return items
}

// Clear removes every entry and the persisted state, and resets the breaker.
func (q *Queue) Clear(ctx context.Context) error {
	q.persistMu.Lock()
	defer q.persistMu.Unlock()

	q.mu.Lock()
	q.entries = nil
	q.breaker.Reset()
	q.stopWakeLocked()
	q.mu.Unlock()

	metrics.QueueSize.Set(0)
	metrics.CircuitBreakerOpen.Set(0)
	if err := q.store.Remove(ctx, q.key); err != nil {
		metrics.PersistErrors.WithLabelValues("remove").Inc()
		return fmt.Errorf("failed to clear persisted queue: %w", err)
	}
	return nil
}

func (q *Queue) indexLocked(id string) int {
	for i, e := range q.entries {
		if e.ID == id {
			return i
		}
	}
	return -1
}

func (q *Queue) removeLocked(idx int) {
	q.entries = append(q.entries[:idx], q.entries[idx+1:]...)
}

func (q *Queue) stopWakeLocked() {
	if q.wake != nil {
		q.wake.Stop()
		q.wake = nil
	}
}

// scheduleWakeLocked arms a single timer for the next moment a pass could
// make progress: the breaker cooldown while open, otherwise the earliest
// retry time among entries that have a processor.
func (q *Queue) scheduleWakeLocked(now time.Time) {
	q.stopWakeLocked()
	if q.closed || len(q.entries) == 0 {
		return
	}

	var at time.Time
	if st := q.breaker.State(); st.Phase == BreakerOpen {
		at = st.CooldownUntil
	} else {
		for _, e := range q.entries {
			if _, ok := q.processors[e.OperationType]; !ok {
				continue
			}
			if at.IsZero() || e.NextRetryTime.Before(at) {
				at = e.NextRetryTime
			}
		}
		if at.IsZero() {
			return
		}
	}

	delay := max(at.Sub(now), minWakeDelay)
	q.wake = q.clock.AfterFunc(delay, q.onWake)
}

func (q *Queue) onWake() {
	if q.ready != nil && !q.ready() {
		q.log.Debug("Skipping scheduled queue pass while not ready")
		return
	}
	q.ProcessQueue(context.Background())
}

func newEntryID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("failed to generate entry id: %w", err)
	}
	return id.String(), nil
}
