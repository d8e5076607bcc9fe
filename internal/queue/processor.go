package queue

import (
	"context"
	"fmt"

	"github.com/vietddude/outbox/internal/core/domain"
)

// ProcessorFunc performs the side effect of one queued entry. Returning false
// or an error counts as a failed attempt; the processor decides what is
// transient by choosing whether to report success.
type ProcessorFunc func(ctx context.Context, entry domain.QueueEntry) (bool, error)

// FailureHandler is notified when an entry is dropped after exhausting retries.
type FailureHandler func(entry domain.QueueEntry)

// Handle registers a typed processor for the operation type of P.
func Handle[P domain.Payload](
	q *Queue,
	fn func(ctx context.Context, entry domain.QueueEntry, payload P) (bool, error),
) error {
	var zero P
	op := zero.OperationType()
	return q.RegisterProcessor(op, func(ctx context.Context, entry domain.QueueEntry) (bool, error) {
		payload, ok := entry.Payload.(P)
		if !ok {
			return false, fmt.Errorf("payload %T does not match operation %s", entry.Payload, op)
		}
		return fn(ctx, entry, payload)
	})
}

func invoke(ctx context.Context, fn ProcessorFunc, entry domain.QueueEntry) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = fmt.Errorf("processor panic: %v", r)
		}
	}()
	return fn(ctx, entry)
}
