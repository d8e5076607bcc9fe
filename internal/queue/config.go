package queue

import (
	"time"

	"github.com/vietddude/outbox/internal/core/validate"
)

// RetryConfig defines retry behavior. It is immutable for the lifetime of a Queue.
type RetryConfig struct {
	MaxRetries              int             `yaml:"max_retries" validate:"min=1"`
	BackoffDelays           []time.Duration `yaml:"backoff_delays" validate:"min=1,dive,gte=0"`
	MaxQueueSize            int             `yaml:"max_queue_size" validate:"min=1"`
	EnableCircuitBreaker    bool            `yaml:"enable_circuit_breaker"`
	CircuitBreakerThreshold int             `yaml:"circuit_breaker_threshold" validate:"required_if=EnableCircuitBreaker true,gte=0"`
	CircuitBreakerCooldown  time.Duration   `yaml:"circuit_breaker_cooldown" validate:"required_if=EnableCircuitBreaker true,gte=0"`
}

// DefaultRetryConfig provides sensible defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries: 5,
		BackoffDelays: []time.Duration{
			1 * time.Second,
			2 * time.Second,
			4 * time.Second,
			8 * time.Second,
			16 * time.Second,
			30 * time.Second,
		},
		MaxQueueSize:            100,
		EnableCircuitBreaker:    true,
		CircuitBreakerThreshold: 5,
		CircuitBreakerCooldown:  60 * time.Second,
	}
}

// Validate rejects configurations the queue cannot run with.
func (c RetryConfig) Validate() error {
	return validate.Struct(c)
}

// DelayFor returns the backoff applied after the retryCount-th failure.
// Delays grow along BackoffDelays and plateau at its last value.
func (c RetryConfig) DelayFor(retryCount int) time.Duration {
	if len(c.BackoffDelays) == 0 {
		return 0
	}
	idx := min(max(retryCount-1, 0), len(c.BackoffDelays)-1)
	return c.BackoffDelays[idx]
}
