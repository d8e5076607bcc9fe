package cli

import (
	"context"
	"fmt"

	"github.com/vietddude/outbox/internal/control"
	"github.com/vietddude/outbox/internal/core/config"
	"github.com/vietddude/outbox/internal/queue"
)

// openQueue opens the configured store and loads the persisted queue for
// offline inspection. The caller must call the returned close func.
func openQueue(ctx context.Context, cfg *config.AppConfig) (*queue.Queue, func(), error) {
	store, err := control.OpenStore(ctx, cfg.Storage)
	if err != nil {
		return nil, nil, err
	}

	q, err := queue.New(cfg.Queue, store, queue.WithStorageKey(cfg.Storage.Key))
	if err != nil {
		_ = store.Close()
		return nil, nil, fmt.Errorf("failed to init queue: %w", err)
	}
	q.Init(ctx)

	return q, func() {
		q.Dispose()
		_ = store.Close()
	}, nil
}
