// Package network observes connectivity, classifies link quality and
// debounces recovery so that queue draining does not thrash on a flapping link.
package network

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vietddude/outbox/internal/core/clock"
	"github.com/vietddude/outbox/internal/core/domain"
	"github.com/vietddude/outbox/internal/metrics"
)

// DefaultDebounce is how long a connection must stay up before recovery runs.
const DefaultDebounce = 2 * time.Second

// ErrAlreadyStarted is returned when Start is called twice.
var ErrAlreadyStarted = errors.New("network observer already started")

// Source emits raw connectivity events.
type Source interface {
	Subscribe(fn func(domain.ConnectivityEvent)) (unsubscribe func())
	Fetch(ctx context.Context) (domain.ConnectivityEvent, error)
}

// Drainer is triggered once a reconnection survives the debounce window.
type Drainer interface {
	ProcessQueue(ctx context.Context)
}

// Observer tracks network state and drives recovery.
type Observer struct {
	source   Source
	clock    clock.Clock
	log      *slog.Logger
	debounce time.Duration
	drainer  Drainer

	mu          sync.Mutex
	state       domain.NetworkState
	pending     clock.Timer
	generation  uint64
	stable      bool
	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	started     bool
	stopped     bool

	nextID   int
	offline  map[int]func()
	online   map[int]func()
	onChange map[int]func(domain.NetworkState)
}

// Option configures an Observer.
type Option func(*Observer)

// WithClock sets the clock used for the debounce timer.
func WithClock(c clock.Clock) Option {
	return func(o *Observer) { o.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Observer) { o.log = l }
}

// WithDebounce sets the reconnection debounce window.
func WithDebounce(d time.Duration) Option {
	return func(o *Observer) { o.debounce = d }
}

// WithDrainer sets the component drained after a debounced reconnection.
func WithDrainer(d Drainer) Option {
	return func(o *Observer) { o.drainer = d }
}

// New creates an observer. The initial state is offline, so a session that
// starts online runs the debounced recovery once.
func New(source Source, opts ...Option) *Observer {
	o := &Observer{
		source:   source,
		clock:    clock.Real(),
		log:      slog.Default(),
		debounce: DefaultDebounce,
		offline:  make(map[int]func()),
		online:   make(map[int]func()),
		onChange: make(map[int]func(domain.NetworkState)),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.state = domain.NetworkState{
		TransportType: domain.TransportNone,
		Quality:       domain.QualityOffline,
		LastChanged:   o.clock.Now(),
	}
	o.ctx, o.cancel = context.WithCancel(context.Background())
	return o
}

// Start subscribes to the source and evaluates the current connectivity.
func (o *Observer) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return ErrAlreadyStarted
	}
	o.started = true
	o.cancel()
	o.ctx, o.cancel = context.WithCancel(ctx)
	o.mu.Unlock()

	unsubscribe := o.source.Subscribe(o.handle)
	o.mu.Lock()
	o.unsubscribe = unsubscribe
	o.mu.Unlock()

	if err := o.Refresh(ctx); err != nil {
		o.log.Warn("Initial connectivity fetch failed", "error", err)
	}
	return nil
}

// Stop unsubscribes from the source and cancels the debounce timer.
func (o *Observer) Stop() {
	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	o.stopped = true
	o.stable = false
	o.cancelPendingLocked()
	unsubscribe := o.unsubscribe
	o.unsubscribe = nil
	o.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	o.cancel()
}

// Refresh re-evaluates connectivity out of band, e.g. when the app returns
// to the foreground.
func (o *Observer) Refresh(ctx context.Context) error {
	ev, err := o.source.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch connectivity: %w", err)
	}
	o.handle(ev)
	return nil
}

// State returns the latest computed network state.
func (o *Observer) State() domain.NetworkState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// IsOnline reports whether the link is up and not known to lack internet access.
func (o *Observer) IsOnline() bool {
	s := o.State()
	return s.IsConnected && s.IsInternetReachable != domain.Unreachable
}

// Ready reports whether the current connection has survived the debounce
// window. It stays false on a flapping link. Like recovery, it follows the
// connected flag only; reachability affects Quality and IsOnline.
func (o *Observer) Ready() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.stable && o.state.IsConnected
}

// Quality returns the current quality tier.
func (o *Observer) Quality() domain.Quality {
	return o.State().Quality
}

// IsSlow reports whether the link is connected but of slow or moderate quality.
func (o *Observer) IsSlow() bool {
	q := o.Quality()
	return q == domain.QualitySlow || q == domain.QualityModerate
}

// OnOffline registers fn to run when the connection drops.
func (o *Observer) OnOffline(fn func()) (unsubscribe func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := o.nextIDLocked()
	o.offline[id] = fn
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.offline, id)
	}
}

// OnOnline registers fn to run after a reconnection survives the debounce window.
func (o *Observer) OnOnline(fn func()) (unsubscribe func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := o.nextIDLocked()
	o.online[id] = fn
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.online, id)
	}
}

// OnStateChange registers fn to run on every observed state change,
// regardless of debounce.
func (o *Observer) OnStateChange(fn func(domain.NetworkState)) (unsubscribe func()) {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := o.nextIDLocked()
	o.onChange[id] = fn
	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.onChange, id)
	}
}

func (o *Observer) handle(ev domain.ConnectivityEvent) {
	now := o.clock.Now()
	next := domain.NetworkState{
		IsConnected:         ev.IsConnected,
		IsInternetReachable: domain.ReachabilityFrom(ev.IsInternetReachable),
		TransportType:       ev.Type,
		Quality:             Classify(ev),
		Details:             ev.Details,
	}
	if next.TransportType == "" {
		next.TransportType = domain.TransportUnknown
	}

	o.mu.Lock()
	if o.stopped {
		o.mu.Unlock()
		return
	}
	prev := o.state
	changed := !next.SameAs(prev)
	next.LastChanged = prev.LastChanged
	if changed {
		next.LastChanged = now
	}
	o.state = next

	var wentOffline bool
	switch {
	case prev.IsConnected && !next.IsConnected:
		wentOffline = true
		o.stable = false
		o.cancelPendingLocked()
	case !prev.IsConnected && next.IsConnected:
		o.scheduleRecoveryLocked()
	}

	var changeFns []func(domain.NetworkState)
	if changed {
		changeFns = collect(o.onChange)
	}
	var offlineFns []func()
	if wentOffline {
		offlineFns = collect(o.offline)
	}
	o.mu.Unlock()

	metrics.NetworkQuality.Set(float64(next.Quality.Score()))
	if changed {
		o.log.Debug("Network state changed",
			"connected", next.IsConnected,
			"reachable", next.IsInternetReachable.String(),
			"transport", next.TransportType,
			"quality", next.Quality)
	}
	for _, fn := range changeFns {
		fn(next)
	}
	if wentOffline {
		metrics.NetworkTransitions.WithLabelValues("offline").Inc()
		o.log.Info("Network went offline", "transport", prev.TransportType)
		for _, fn := range offlineFns {
			fn()
		}
	}
}

func (o *Observer) scheduleRecoveryLocked() {
	o.cancelPendingLocked()
	o.generation++
	gen := o.generation
	o.pending = o.clock.AfterFunc(o.debounce, func() {
		o.recover(gen)
	})
}

func (o *Observer) cancelPendingLocked() {
	o.generation++
	if o.pending != nil {
		o.pending.Stop()
		o.pending = nil
	}
}

// recover runs once a connection has held for the debounce window. It keys
// off IsConnected alone: an unreachable but connected link still drains, and
// processor failures then back off in the queue.
func (o *Observer) recover(gen uint64) {
	o.mu.Lock()
	if o.stopped || gen != o.generation || !o.state.IsConnected {
		o.mu.Unlock()
		return
	}
	o.pending = nil
	o.stable = true
	state := o.state
	onlineFns := collect(o.online)
	ctx := o.ctx
	o.mu.Unlock()

	metrics.NetworkTransitions.WithLabelValues("online").Inc()
	o.log.Info("Network recovered",
		"transport", state.TransportType,
		"quality", state.Quality,
		"stable_for", o.debounce)
	for _, fn := range onlineFns {
		fn()
	}
	if o.drainer != nil {
		o.drainer.ProcessQueue(ctx)
	}
}

func (o *Observer) nextIDLocked() int {
	o.nextID++
	return o.nextID
}

func collect[F any](m map[int]F) []F {
	fns := make([]F, 0, len(m))
	for _, fn := range m {
		fns = append(fns, fn)
	}
	return fns
}
