package domain

import (
	"context"
	"time"
)

// ConnectionState is the realtime channel's connection view.
type ConnectionState struct {
	Connected       bool       `json:"connected"`
	Reconnecting    bool       `json:"reconnecting"`
	LastConnectedAt *time.Time `json:"last_connected_at,omitempty"`
	Attempts        int        `json:"attempts"`
}

// QueuedOperation is a deferred presence-style operation held while the
// realtime channel is down.
type QueuedOperation struct {
	ID        string
	Name      string
	Operation func(ctx context.Context) error
	Timestamp time.Time
}
