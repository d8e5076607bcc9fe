package dispatch

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vietddude/outbox/internal/core/clock"
)

// defaultRetryAfter is used when a 429 carries no usable Retry-After.
const defaultRetryAfter = 60 * time.Second

// throttlePatterns mark rate limiting reported in a non-429 body.
var throttlePatterns = []string{
	"rate limit exceeded",
	"too many requests",
	"quota exceeded",
}

// Throttle remembers server back-pressure so requests are not sent while
// the endpoint has asked the client to wait.
type Throttle struct {
	clock clock.Clock

	mu    sync.Mutex
	until time.Time
	count int
}

// NewThrottle creates a throttle.
func NewThrottle(c clock.Clock) *Throttle {
	return &Throttle{clock: c}
}

// Record notes a rate-limit response. retryAfter is the raw header value,
// either delta-seconds or an HTTP date.
func (t *Throttle) Record(retryAfter string) {
	now := t.clock.Now()
	wait := parseRetryAfter(retryAfter, now)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.count++
	if until := now.Add(wait); until.After(t.until) {
		t.until = until
	}
}

// Remaining returns how long requests should still be held back.
func (t *Throttle) Remaining() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if d := t.until.Sub(t.clock.Now()); d > 0 {
		return d
	}
	return 0
}

// Count returns the number of rate-limit responses seen.
func (t *Throttle) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// DetectThrottlePattern reports whether a response body signals rate limiting.
func DetectThrottlePattern(body string) bool {
	lower := strings.ToLower(body)
	for _, p := range throttlePatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return defaultRetryAfter
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
		return 0
	}
	return defaultRetryAfter
}
