package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/outbox/internal/core/clock"
	"github.com/vietddude/outbox/internal/core/domain"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type fakeSignal struct {
	mu  sync.Mutex
	fns []func(bool)
}

func (s *fakeSignal) Subscribe(fn func(bool)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fns = append(s.fns, fn)
	idx := len(s.fns) - 1
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.fns[idx] = nil
	}
}

func (s *fakeSignal) emit(connected bool) {
	s.mu.Lock()
	fns := append([]func(bool){}, s.fns...)
	s.mu.Unlock()
	for _, fn := range fns {
		if fn != nil {
			fn(connected)
		}
	}
}

func newTestTracker(t *testing.T, opts ...Option) (*Tracker, *clock.Fake, *fakeSignal) {
	t.Helper()
	clk := clock.NewFake(epoch)
	sig := &fakeSignal{}
	base := []Option{WithClock(clk), WithLogger(slog.New(slog.DiscardHandler))}
	tr := NewTracker(sig, append(base, opts...)...)
	t.Cleanup(tr.Stop)
	return tr, clk, sig
}

func record(log *[]string, name string) func(context.Context) error {
	return func(context.Context) error {
		*log = append(*log, name)
		return nil
	}
}

func TestTracker_BuffersWhileDisconnectedAndDrainsFIFO(t *testing.T) {
	ctx := context.Background()
	tr, _, sig := newTestTracker(t)

	var ran []string
	require.NoError(t, tr.Execute(ctx, "a", record(&ran, "a")))
	require.NoError(t, tr.Execute(ctx, "b", record(&ran, "b")))
	require.NoError(t, tr.Execute(ctx, "c", record(&ran, "c")))
	assert.Empty(t, ran)
	assert.Len(t, tr.Pending(), 3)

	sig.emit(true)

	assert.Equal(t, []string{"a", "b", "c"}, ran)
	assert.Empty(t, tr.Pending())
}

func TestTracker_ExecuteRunsImmediatelyWhenConnected(t *testing.T) {
	ctx := context.Background()
	tr, _, sig := newTestTracker(t)
	sig.emit(true)

	var ran []string
	require.NoError(t, tr.Execute(ctx, "typing", record(&ran, "typing")))
	assert.Equal(t, []string{"typing"}, ran)

	require.NoError(t, tr.Execute(ctx, "broken", func(context.Context) error {
		return errors.New("write failed")
	}))
	pending := tr.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "broken", pending[0].Name)
}

func TestTracker_FailedDrainRequeuesAtTail(t *testing.T) {
	ctx := context.Background()
	tr, _, sig := newTestTracker(t)

	var ran []string
	failures := 0
	require.NoError(t, tr.Execute(ctx, "flaky", func(context.Context) error {
		failures++
		return errors.New("not yet")
	}))
	require.NoError(t, tr.Execute(ctx, "ok", record(&ran, "ok")))

	sig.emit(true)

	assert.Equal(t, 1, failures)
	assert.Equal(t, []string{"ok"}, ran)
	pending := tr.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "flaky", pending[0].Name)
}

func TestTracker_FailureWhileConnectedDoesNotStall(t *testing.T) {
	ctx := context.Background()
	tr, clk, sig := newTestTracker(t)
	sig.emit(true)

	healthy := false
	var ran []string
	require.NoError(t, tr.Execute(ctx, "stuck", func(context.Context) error {
		if !healthy {
			return errors.New("write failed")
		}
		ran = append(ran, "stuck")
		return nil
	}))
	for _, name := range []string{"p1", "p2", "p3", "p4", "p5"} {
		require.NoError(t, tr.Execute(ctx, name, record(&ran, name)))
	}
	assert.Empty(t, ran)
	assert.Len(t, tr.Pending(), 6)

	// First replay after one backoff step: the healthy ops go out in order and
	// the failing one stays at the tail.
	clk.Advance(time.Second)
	assert.Equal(t, []string{"p1", "p2", "p3", "p4", "p5"}, ran)
	pending := tr.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, "stuck", pending[0].Name)
	assert.Equal(t, 1, clk.Pending())

	healthy = true
	clk.Advance(2 * time.Second)
	assert.Equal(t, []string{"p1", "p2", "p3", "p4", "p5", "stuck"}, ran)
	assert.Empty(t, tr.Pending())
	assert.Equal(t, 0, clk.Pending())
	assert.True(t, tr.State().Connected)
}

func TestTracker_DisconnectCancelsReplay(t *testing.T) {
	ctx := context.Background()
	tr, clk, sig := newTestTracker(t)
	sig.emit(true)

	require.NoError(t, tr.Execute(ctx, "broken", func(context.Context) error {
		return errors.New("write failed")
	}))
	require.Equal(t, 1, clk.Pending())

	sig.emit(false)
	assert.Equal(t, 0, clk.Pending())
	assert.Len(t, tr.Pending(), 1)
}

func TestTracker_EvictsOldestWhenFull(t *testing.T) {
	ctx := context.Background()
	tr, _, _ := newTestTracker(t, WithBufferSize(2))

	var ran []string
	require.NoError(t, tr.Execute(ctx, "first", record(&ran, "first")))
	require.NoError(t, tr.Execute(ctx, "second", record(&ran, "second")))
	require.NoError(t, tr.Execute(ctx, "third", record(&ran, "third")))

	pending := tr.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, "second", pending[0].Name)
	assert.Equal(t, "third", pending[1].Name)
}

func TestTracker_ReconnectBackoffIsCapped(t *testing.T) {
	var attempts []time.Time
	var clk *clock.Fake
	tr, clk, sig := newTestTracker(t,
		WithBackoff([]time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, 3*time.Second),
		WithReconnect(func(context.Context) error {
			attempts = append(attempts, clk.Now())
			return errors.New("dial refused")
		}),
	)

	sig.emit(true)
	sig.emit(false)
	state := tr.State()
	assert.False(t, state.Connected)
	assert.True(t, state.Reconnecting)

	clk.Advance(10 * time.Second)

	require.Len(t, attempts, 4)
	assert.Equal(t, epoch.Add(1*time.Second), attempts[0])
	assert.Equal(t, epoch.Add(3*time.Second), attempts[1])
	assert.Equal(t, epoch.Add(6*time.Second), attempts[2])
	assert.Equal(t, epoch.Add(9*time.Second), attempts[3])
	assert.Equal(t, 4, tr.State().Attempts)
}

func TestTracker_RepeatedDisconnectDoesNotResetBackoff(t *testing.T) {
	calls := 0
	_, clk, sig := newTestTracker(t,
		WithReconnect(func(context.Context) error {
			calls++
			return errors.New("dial refused")
		}),
	)

	sig.emit(false)
	clk.Advance(500 * time.Millisecond)
	sig.emit(false)
	clk.Advance(500 * time.Millisecond)

	assert.Equal(t, 1, calls)
}

func TestTracker_MaxAttempts(t *testing.T) {
	calls := 0
	tr, clk, sig := newTestTracker(t,
		WithMaxAttempts(2),
		WithReconnect(func(context.Context) error {
			calls++
			return errors.New("dial refused")
		}),
	)

	sig.emit(false)
	clk.Advance(time.Minute)

	assert.Equal(t, 2, calls)
	assert.False(t, tr.State().Reconnecting)
	assert.Equal(t, 0, clk.Pending())
}

func TestTracker_ReconnectResetsState(t *testing.T) {
	var sig *fakeSignal
	tr, clk, sig := newTestTracker(t,
		WithReconnect(func(context.Context) error {
			sig.emit(true)
			return nil
		}),
	)

	var states []bool
	tr.OnChange(func(s domain.ConnectionState) { states = append(states, s.Connected) })

	sig.emit(false)
	clk.Advance(time.Second)

	state := tr.State()
	assert.True(t, state.Connected)
	assert.False(t, state.Reconnecting)
	assert.Equal(t, 0, state.Attempts)
	require.NotNil(t, state.LastConnectedAt)
	assert.Equal(t, epoch.Add(time.Second), *state.LastConnectedAt)
	assert.Equal(t, []bool{false, false, true}, states)
	assert.Equal(t, 0, clk.Pending())
}

func TestTracker_Stop(t *testing.T) {
	tr, clk, sig := newTestTracker(t,
		WithReconnect(func(context.Context) error { return errors.New("dial refused") }),
	)

	sig.emit(false)
	require.Equal(t, 1, clk.Pending())

	tr.Stop()
	assert.Equal(t, 0, clk.Pending())
	assert.ErrorIs(t, tr.Execute(context.Background(), "late", func(context.Context) error { return nil }), ErrTrackerStopped)

	sig.emit(true)
	assert.False(t, tr.State().Connected)
}
