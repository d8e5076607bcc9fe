// Package connectivity provides sources of raw connectivity events for the
// network observer.
package connectivity

import (
	"context"

	"github.com/vietddude/outbox/internal/core/domain"
)

// Manual is a source driven by explicit Emit calls. Platform bridges and
// tests push events through it.
type Manual struct {
	hub
}

// NewManual creates a manual source reporting initial until the first Emit.
func NewManual(initial domain.ConnectivityEvent) *Manual {
	m := &Manual{}
	m.current = initial
	return m
}

// Emit records ev as current and delivers it synchronously to subscribers.
func (m *Manual) Emit(ev domain.ConnectivityEvent) {
	m.publish(ev, false)
}

// Fetch returns the last emitted event.
func (m *Manual) Fetch(ctx context.Context) (domain.ConnectivityEvent, error) {
	if err := ctx.Err(); err != nil {
		return domain.ConnectivityEvent{}, err
	}
	return m.last(), nil
}

// Connected builds an event for a connected link of the given type.
func Connected(t domain.TransportType) domain.ConnectivityEvent {
	reachable := true
	return domain.ConnectivityEvent{IsConnected: true, IsInternetReachable: &reachable, Type: t}
}

// Disconnected builds an event for a lost link.
func Disconnected() domain.ConnectivityEvent {
	return domain.ConnectivityEvent{Type: domain.TransportNone}
}
