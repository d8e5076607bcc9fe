package queue

import (
	"errors"
	"fmt"
)

// Common errors returned by the Queue
var (
	ErrQueueFull   = errors.New("operation queue is full")
	ErrQueueClosed = errors.New("operation queue is closed")

	// ErrNotInitialized is returned by Enqueue before Init has loaded the persisted queue.
	ErrNotInitialized = errors.New("operation queue is not initialized")
)

// QueueFullError is returned by Enqueue when the queue is at capacity.
type QueueFullError struct {
	Capacity int
}

func (e *QueueFullError) Error() string {
	return fmt.Sprintf("%s: capacity %d reached", ErrQueueFull, e.Capacity)
}

func (e *QueueFullError) Unwrap() error {
	return ErrQueueFull
}
