package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/vietddude/outbox/internal/core/clock"
	"github.com/vietddude/outbox/internal/core/config"
	"github.com/vietddude/outbox/internal/core/domain"
	"github.com/vietddude/outbox/internal/dispatch"
	"github.com/vietddude/outbox/internal/health"
	"github.com/vietddude/outbox/internal/infra/connectivity"
	"github.com/vietddude/outbox/internal/infra/storage"
	"github.com/vietddude/outbox/internal/network"
	"github.com/vietddude/outbox/internal/queue"
	"github.com/vietddude/outbox/internal/realtime"
)

// App is the main application struct that manages the component lifecycle.
type App struct {
	cfg   *config.AppConfig
	log   *slog.Logger
	clock clock.Clock

	store      storage.Store
	queue      *queue.Queue
	dispatcher *dispatch.Client
	observer   *network.Observer
	manual     *connectivity.Manual
	probe      *connectivity.Probe
	file       *connectivity.FileSource
	channel    *realtime.WSChannel
	tracker    *realtime.Tracker

	healthServer *health.Server

	stopOnce sync.Once
}

// Option configures an App.
type Option func(*App)

// WithClock overrides the clock shared by every component.
func WithClock(c clock.Clock) Option {
	return func(a *App) { a.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithStore supplies an already opened store instead of cfg.Storage.
func WithStore(s storage.Store) Option {
	return func(a *App) { a.store = s }
}

// New creates an App with all dependencies initialized.
func New(ctx context.Context, cfg *config.AppConfig, opts ...Option) (*App, error) {
	a := &App{
		cfg:   cfg,
		log:   slog.Default(),
		clock: clock.Real(),
	}
	for _, opt := range opts {
		opt(a)
	}

	// 1. Initialize Storage
	if a.store == nil {
		store, err := OpenStore(ctx, cfg.Storage)
		if err != nil {
			return nil, err
		}
		a.store = store
	}

	// 2. Initialize Queue; retry timers only drain once the link is stable
	q, err := queue.New(cfg.Queue, a.store,
		queue.WithClock(a.clock),
		queue.WithLogger(a.log.With("component", "queue")),
		queue.WithStorageKey(cfg.Storage.Key),
		queue.WithReadiness(func() bool {
			return a.observer == nil || a.observer.Ready()
		}),
	)
	if err != nil {
		_ = a.store.Close()
		return nil, fmt.Errorf("failed to init queue: %w", err)
	}
	a.queue = q

	// 3. Initialize Dispatch
	if cfg.Dispatch.BaseURL != "" {
		d, err := dispatch.NewClient(cfg.Dispatch, a.clock, a.log.With("component", "dispatch"))
		if err != nil {
			_ = a.store.Close()
			return nil, err
		}
		if err := d.Register(q); err != nil {
			_ = a.store.Close()
			return nil, fmt.Errorf("failed to register processors: %w", err)
		}
		a.dispatcher = d
	}

	// 4. Initialize Network Observer
	source, err := a.newSource()
	if err != nil {
		_ = a.store.Close()
		return nil, err
	}
	a.observer = network.New(source,
		network.WithClock(a.clock),
		network.WithLogger(a.log.With("component", "network")),
		network.WithDebounce(cfg.Network.Debounce),
		network.WithDrainer(q),
	)

	// 5. Initialize Realtime Tracker
	if cfg.Realtime.URL != "" {
		header := http.Header{}
		if cfg.Realtime.AuthToken != "" {
			header.Set("Authorization", "Bearer "+cfg.Realtime.AuthToken)
		}
		a.channel = realtime.NewWSChannel(cfg.Realtime.URL,
			realtime.WithHeader(header),
			realtime.WithPing(cfg.Realtime.PingInterval, cfg.Realtime.PongWait),
			realtime.WithWSLogger(a.log.With("component", "realtime")),
		)
		a.tracker = realtime.NewTracker(a.channel,
			realtime.WithClock(a.clock),
			realtime.WithLogger(a.log.With("component", "realtime")),
			realtime.WithBackoff(cfg.Realtime.BackoffDelays, cfg.Realtime.MaxDelay),
			realtime.WithBufferSize(cfg.Realtime.BufferSize),
			realtime.WithMaxAttempts(cfg.Realtime.MaxAttempts),
			realtime.WithReconnect(a.channel.Reconnect),
		)
	}

	// 6. Initialize Health Server
	var rt health.RealtimeView
	if a.tracker != nil {
		rt = a.tracker
	}
	monitor := health.NewMonitor(q, cfg.Queue.MaxQueueSize, a.observer, rt, storeHealth(a.store), a.clock)
	a.healthServer = health.NewServer(monitor, cfg.Server.Port)

	return a, nil
}

func (a *App) newSource() (network.Source, error) {
	switch a.cfg.Network.Source {
	case config.SourceFile:
		a.file = connectivity.NewFileSource(a.cfg.Network.StatusFile, a.log.With("component", "connectivity"))
		return a.file, nil
	case config.SourceManual:
		a.manual = connectivity.NewManual(connectivity.Disconnected())
		return a.manual, nil
	case config.SourceProbe, "":
		a.probe = connectivity.NewProbe(a.cfg.Network.Probe,
			connectivity.WithProbeLogger(a.log.With("component", "connectivity")))
		return a.probe, nil
	}
	return nil, fmt.Errorf("unknown network source %q", a.cfg.Network.Source)
}

// Start loads persisted work and starts every component.
func (a *App) Start(ctx context.Context) error {
	// Start Health Server
	if a.cfg.Server.Port > 0 {
		go func() {
			if err := a.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.log.Error("Health server failed", "error", err)
			}
		}()
	}

	a.queue.Init(ctx)
	if missing := a.queue.MissingProcessors(); len(missing) > 0 {
		a.log.Warn("Operation types without a processor stay queued", "operations", missing)
	}

	// Start Connectivity Source
	switch {
	case a.probe != nil:
		a.probe.Start(ctx)
	case a.file != nil:
		if err := a.file.Start(ctx); err != nil {
			return fmt.Errorf("failed to watch status file: %w", err)
		}
	}

	if err := a.observer.Start(ctx); err != nil {
		return err
	}

	// Start Realtime Channel
	if a.channel != nil {
		if err := a.channel.Reconnect(ctx); err != nil {
			a.log.Warn("Realtime channel unavailable, will retry", "error", err)
		}
	}

	a.log.Info("Outbox started",
		"queued", a.queue.GetQueueSize(),
		"online", a.observer.IsOnline(),
		"realtime", a.channel != nil)
	return nil
}

// Stop tears every component down: timers cleared, subscriptions cancelled.
func (a *App) Stop(ctx context.Context) error {
	var errs []error
	a.stopOnce.Do(func() {
		a.log.Info("Stopping Outbox...")

		if a.tracker != nil {
			a.tracker.Stop()
		}
		if a.channel != nil {
			errs = append(errs, a.channel.Close())
		}
		a.observer.Stop()
		if a.probe != nil {
			a.probe.Stop()
		}
		if a.file != nil {
			errs = append(errs, a.file.Stop())
		}
		a.queue.Dispose()
		errs = append(errs, a.store.Close())

		// Stop Health Server
		if a.cfg.Server.Port > 0 {
			errs = append(errs, a.healthServer.Stop(ctx))
		}
	})
	return errors.Join(errs...)
}

// Publish hands a payload to the resilience layer. Presence and typing
// pulses travel over the realtime channel when one is configured and are
// deferred while it is down; everything else is queued durably.
func (a *App) Publish(ctx context.Context, p domain.Payload) (string, error) {
	if a.tracker != nil && ephemeral(p.OperationType()) {
		if err := p.Validate(); err != nil {
			return "", err
		}
		msg := map[string]any{"type": p.OperationType(), "payload": p}
		return "", a.tracker.Execute(ctx, string(p.OperationType()), func(ctx context.Context) error {
			return a.channel.Send(ctx, msg)
		})
	}
	return a.queue.Enqueue(ctx, p)
}

func ephemeral(op domain.OperationType) bool {
	return op == domain.OpPresencePulse || op == domain.OpTypingPulse
}

// Queue returns the operation queue.
func (a *App) Queue() *queue.Queue { return a.queue }

// Observer returns the network observer.
func (a *App) Observer() *network.Observer { return a.observer }

// Tracker returns the realtime tracker, or nil when realtime is disabled.
func (a *App) Tracker() *realtime.Tracker { return a.tracker }

// Manual returns the push source when network.source is manual.
func (a *App) Manual() *connectivity.Manual { return a.manual }

// Handler exposes the diagnostics routes.
func (a *App) Handler() http.Handler { return a.healthServer.Handler() }
