package connectivity

import (
	"sync"

	"github.com/vietddude/outbox/internal/core/domain"
)

// hub fans events out to subscribers and remembers the last one.
type hub struct {
	mu      sync.Mutex
	current domain.ConnectivityEvent
	seen    bool
	nextID  int
	subs    map[int]func(domain.ConnectivityEvent)
}

func (h *hub) Subscribe(fn func(domain.ConnectivityEvent)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs == nil {
		h.subs = make(map[int]func(domain.ConnectivityEvent))
	}
	h.nextID++
	id := h.nextID
	h.subs[id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.subs, id)
	}
}

// Subscribers returns the number of active subscriptions.
func (h *hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *hub) last() domain.ConnectivityEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

// publish records ev and delivers it. With onlyChanged set, an event equal
// to the previous one is dropped. It reports whether ev was delivered.
func (h *hub) publish(ev domain.ConnectivityEvent, onlyChanged bool) bool {
	h.mu.Lock()
	if onlyChanged && h.seen && sameEvent(h.current, ev) {
		h.mu.Unlock()
		return false
	}
	h.current = ev
	h.seen = true
	fns := make([]func(domain.ConnectivityEvent), 0, len(h.subs))
	for _, fn := range h.subs {
		fns = append(fns, fn)
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
	return true
}

func sameEvent(a, b domain.ConnectivityEvent) bool {
	return a.IsConnected == b.IsConnected &&
		domain.ReachabilityFrom(a.IsInternetReachable) == domain.ReachabilityFrom(b.IsInternetReachable) &&
		a.Type == b.Type &&
		sameDetails(a.Details, b.Details)
}

func sameDetails(a, b domain.TransportDetails) bool {
	if (a.Strength == nil) != (b.Strength == nil) {
		return false
	}
	if a.Strength != nil && *a.Strength != *b.Strength {
		return false
	}
	return a.CellularGeneration == b.CellularGeneration &&
		a.SSID == b.SSID &&
		a.Carrier == b.Carrier &&
		a.Interface == b.Interface
}
