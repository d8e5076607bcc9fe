package queue

import "time"

// BreakerPhase is the phase of the circuit breaker.
type BreakerPhase int

const (
	BreakerClosed BreakerPhase = iota // Processing allowed, failures accumulate
	BreakerOpen                       // Processing suspended until CooldownUntil
)

func (p BreakerPhase) String() string {
	if p == BreakerOpen {
		return "open"
	}
	return "closed"
}

// BreakerState is an immutable snapshot of the circuit breaker.
type BreakerState struct {
	Phase         BreakerPhase
	Failures      int
	CooldownUntil time.Time
}

// CircuitBreaker stops queue processing after consecutive failures until a
// cooldown elapses. There is no half-open probing: once the cooldown passes
// the breaker closes fully. It is not safe for concurrent use; the queue
// guards it with its own lock.
type CircuitBreaker struct {
	enabled   bool
	threshold int
	cooldown  time.Duration
	state     BreakerState
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(enabled bool, threshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		enabled:   enabled,
		threshold: threshold,
		cooldown:  cooldown,
	}
}

// State returns the current state.
func (b *CircuitBreaker) State() BreakerState {
	return b.state
}

// Allow reports whether processing may run at now. An open breaker whose
// cooldown has elapsed transitions to closed with a zero failure count.
func (b *CircuitBreaker) Allow(now time.Time) bool {
	if b.state.Phase == BreakerOpen {
		if now.Before(b.state.CooldownUntil) {
			return false
		}
		b.state = BreakerState{Phase: BreakerClosed}
	}
	return true
}

// RecordSuccess resets the consecutive failure count.
func (b *CircuitBreaker) RecordSuccess() {
	if b.state.Phase == BreakerClosed {
		b.state.Failures = 0
	}
}

// RecordFailure counts a failure and reports whether the breaker opened.
func (b *CircuitBreaker) RecordFailure(now time.Time) bool {
	if b.state.Phase == BreakerOpen {
		return false
	}
	b.state.Failures++
	if !b.enabled || b.state.Failures < b.threshold {
		return false
	}
	b.state = BreakerState{
		Phase:         BreakerOpen,
		Failures:      b.state.Failures,
		CooldownUntil: now.Add(b.cooldown),
	}
	return true
}

// Reset forces the breaker closed.
func (b *CircuitBreaker) Reset() {
	b.state = BreakerState{Phase: BreakerClosed}
}
