package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// KVRepo implements storage.Store on the kv_store table.
type KVRepo struct {
	db *DB
}

// NewKVRepo creates a new PostgreSQL blob store.
func NewKVRepo(db *DB) *KVRepo {
	return &KVRepo{db: db}
}

// Get retrieves the value stored under key.
func (r *KVRepo) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.db.GetContext(ctx, &value, `SELECT value FROM kv_store WHERE key = $1`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return value, true, nil
}

// Set upserts the value for key.
func (r *KVRepo) Set(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO kv_store (key, value, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at
	`
	if _, err := r.db.ExecContext(ctx, query, key, value, time.Now().Unix()); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// Remove deletes key.
func (r *KVRepo) Remove(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM kv_store WHERE key = $1`, key); err != nil {
		return fmt.Errorf("failed to remove %s: %w", key, err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (r *KVRepo) Close() error {
	return r.db.Close()
}

// Health pings the database.
func (r *KVRepo) Health(ctx context.Context) error {
	return r.db.Health(ctx)
}
