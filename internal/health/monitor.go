package health

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/outbox/internal/core/clock"
	"github.com/vietddude/outbox/internal/core/domain"
)

// QueueView is the read side of the operation queue.
type QueueView interface {
	GetQueueSize() int
	IsCircuitBreakerActive() bool
	GetQueueItems() []domain.QueueEntry
}

// NetworkView is the read side of the network observer.
type NetworkView interface {
	State() domain.NetworkState
}

// RealtimeView is the read side of the realtime connection tracker.
type RealtimeView interface {
	State() domain.ConnectionState
	Pending() []domain.QueuedOperation
}

// StoreChecker pings the durable store.
type StoreChecker func(ctx context.Context) error

// Monitor aggregates health status from the resilience components.
type Monitor struct {
	queue    QueueView
	capacity int
	network  NetworkView
	realtime RealtimeView
	store    StoreChecker
	clock    clock.Clock
	cacheTTL time.Duration

	mu         sync.Mutex
	lastCheck  time.Time
	lastReport *HealthReport
}

// NewMonitor creates a new health monitor. network, realtime and store may be nil.
func NewMonitor(q QueueView, capacity int, network NetworkView, realtime RealtimeView, store StoreChecker, clk clock.Clock) *Monitor {
	if clk == nil {
		clk = clock.Real()
	}
	return &Monitor{
		queue:    q,
		capacity: capacity,
		network:  network,
		realtime: realtime,
		store:    store,
		clock:    clk,
		cacheTTL: time.Second,
	}
}

// CheckHealth evaluates every component. Results are cached briefly so
// frequent probes do not hammer the store.
func (m *Monitor) CheckHealth(ctx context.Context) HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	if m.lastReport != nil && now.Sub(m.lastCheck) < m.cacheTTL {
		return *m.lastReport
	}

	report := HealthReport{
		SystemStatus: StatusHealthy,
		Components:   make(map[string]ComponentHealth),
	}
	add := func(c ComponentHealth) {
		report.Components[c.Name] = c
		report.SystemStatus = worse(report.SystemStatus, c.Status)
	}

	add(m.checkQueue())
	if m.network != nil {
		add(m.checkNetwork())
	}
	if m.realtime != nil {
		add(m.checkRealtime())
	}
	if m.store != nil {
		add(m.checkStore(ctx))
	}

	m.lastCheck = now
	m.lastReport = &report
	return report
}

func (m *Monitor) checkQueue() ComponentHealth {
	size := m.queue.GetQueueSize()
	breaker := m.queue.IsCircuitBreakerActive()
	h := ComponentHealth{
		Name:   "queue",
		Status: StatusHealthy,
		Details: map[string]any{
			"size":            size,
			"capacity":        m.capacity,
			"circuit_breaker": breaker,
		},
	}

	switch {
	case m.capacity > 0 && size >= m.capacity:
		h.Status, h.Reason = StatusCritical, "queue at capacity"
	case breaker:
		h.Status, h.Reason = StatusDegraded, "circuit breaker open"
	case m.capacity > 0 && size*5 >= m.capacity*4:
		h.Status, h.Reason = StatusDegraded, "queue above 80% capacity"
	}
	return h
}

func (m *Monitor) checkNetwork() ComponentHealth {
	s := m.network.State()
	h := ComponentHealth{
		Name:   "network",
		Status: StatusHealthy,
		Details: map[string]any{
			"connected":    s.IsConnected,
			"reachable":    s.IsInternetReachable.String(),
			"transport":    s.TransportType,
			"quality":      s.Quality,
			"last_changed": s.LastChanged,
		},
	}
	if !s.IsConnected || s.IsInternetReachable == domain.Unreachable {
		h.Status, h.Reason = StatusDegraded, "offline"
	}
	return h
}

func (m *Monitor) checkRealtime() ComponentHealth {
	s := m.realtime.State()
	h := ComponentHealth{
		Name:   "realtime",
		Status: StatusHealthy,
		Details: map[string]any{
			"connected":    s.Connected,
			"reconnecting": s.Reconnecting,
			"attempts":     s.Attempts,
			"deferred":     len(m.realtime.Pending()),
		},
	}
	switch {
	case s.Connected:
	case s.Reconnecting:
		h.Status, h.Reason = StatusDegraded, "reconnecting"
	case s.Attempts > 0:
		h.Status, h.Reason = StatusCritical, "reconnect attempts exhausted"
	default:
		h.Status, h.Reason = StatusDegraded, "not connected"
	}
	return h
}

func (m *Monitor) checkStore(ctx context.Context) ComponentHealth {
	h := ComponentHealth{Name: "store", Status: StatusHealthy}
	if err := m.store(ctx); err != nil {
		h.Status, h.Reason = StatusCritical, err.Error()
	}
	return h
}
