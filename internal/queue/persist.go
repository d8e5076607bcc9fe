package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vietddude/outbox/internal/core/domain"
	"github.com/vietddude/outbox/internal/metrics"
)

// DefaultStorageKey is the key under which the queue blob is stored.
const DefaultStorageKey = "operation_queue"

// Store is the blob store the queue persists to.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
}

// decodeEntries parses a persisted queue. A blob that is not a JSON array is
// an error; individual entries that fail to decode are skipped and returned
// as errors alongside the valid entries.
func decodeEntries(blob string) ([]domain.QueueEntry, []error, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal([]byte(blob), &raws); err != nil {
		return nil, nil, fmt.Errorf("failed to parse persisted queue: %w", err)
	}

	entries := make([]domain.QueueEntry, 0, len(raws))
	var skipped []error
	for i, raw := range raws {
		var e domain.QueueEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			skipped = append(skipped, fmt.Errorf("entry %d: %w", i, err))
			continue
		}
		entries = append(entries, e)
	}
	return entries, skipped, nil
}

// persist writes the current queue. Writes are serialized and always write
// the newest snapshot. Failures are logged, never returned.
func (q *Queue) persist(ctx context.Context) {
	q.persistMu.Lock()
	defer q.persistMu.Unlock()

	q.mu.Lock()
	snapshot := make([]domain.QueueEntry, len(q.entries))
	copy(snapshot, q.entries)
	q.mu.Unlock()

	data, err := json.Marshal(snapshot)
	if err != nil {
		metrics.PersistErrors.WithLabelValues("marshal").Inc()
		q.log.Error("Failed to serialize queue", "error", err)
		return
	}
	if err := q.store.Set(ctx, q.key, string(data)); err != nil {
		metrics.PersistErrors.WithLabelValues("set").Inc()
		q.log.Error("Failed to persist queue", "key", q.key, "error", err)
	}
}

func (q *Queue) load(ctx context.Context) []domain.QueueEntry {
	blob, found, err := q.store.Get(ctx, q.key)
	if err != nil {
		metrics.PersistErrors.WithLabelValues("get").Inc()
		q.log.Error("Failed to read persisted queue, starting empty", "key", q.key, "error", err)
		return nil
	}
	if !found || blob == "" {
		return nil
	}

	entries, skipped, err := decodeEntries(blob)
	if err != nil {
		q.log.Warn("Discarding corrupted queue state", "key", q.key, "error", err)
		if err := q.store.Remove(ctx, q.key); err != nil {
			metrics.PersistErrors.WithLabelValues("remove").Inc()
			q.log.Error("Failed to remove corrupted queue state", "key", q.key, "error", err)
		}
		return nil
	}
	for _, skipErr := range skipped {
		q.log.Warn("Discarding unreadable queue entry", "error", skipErr)
	}
	return entries
}
