package storage

import (
	"context"
	"errors"
)

var (
	// ErrStoreClosed is returned by operations on a closed store
	ErrStoreClosed = errors.New("store closed")
)

// Store is a namespaced get/set/remove blob store used to survive restarts.
type Store interface {
	// Get returns the value for key and whether it exists
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key, replacing any previous value
	Set(ctx context.Context, key, value string) error

	// Remove deletes key; removing a missing key is not an error
	Remove(ctx context.Context, key string) error

	// Close releases underlying resources
	Close() error
}

// prefixed namespaces every key of an underlying store.
type prefixed struct {
	Store
	prefix string
}

// WithPrefix returns a Store that prepends prefix to every key.
func WithPrefix(s Store, prefix string) Store {
	if prefix == "" {
		return s
	}
	return &prefixed{Store: s, prefix: prefix}
}

func (p *prefixed) Get(ctx context.Context, key string) (string, bool, error) {
	return p.Store.Get(ctx, p.prefix+key)
}

func (p *prefixed) Set(ctx context.Context, key, value string) error {
	return p.Store.Set(ctx, p.prefix+key, value)
}

func (p *prefixed) Remove(ctx context.Context, key string) error {
	return p.Store.Remove(ctx, p.prefix+key)
}

// Unwrap returns the underlying store.
func (p *prefixed) Unwrap() Store {
	return p.Store
}
