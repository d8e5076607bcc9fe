package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// QueueEntry is a pending operation owned by the operation queue.
type QueueEntry struct {
	ID            string
	OperationType OperationType
	Payload       Payload
	RetryCount    int
	NextRetryTime time.Time
	CreatedAt     time.Time
	LastError     string
}

type entryJSON struct {
	ID            string          `json:"id"`
	OperationType OperationType   `json:"operation_type"`
	Payload       json.RawMessage `json:"payload"`
	RetryCount    int             `json:"retry_count"`
	NextRetryTime time.Time       `json:"next_retry_time"`
	CreatedAt     time.Time       `json:"created_at"`
	LastError     string          `json:"last_error,omitempty"`
}

// MarshalJSON stores the payload next to its operation tag.
func (e QueueEntry) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return json.Marshal(entryJSON{
		ID:            e.ID,
		OperationType: e.OperationType,
		Payload:       raw,
		RetryCount:    e.RetryCount,
		NextRetryTime: e.NextRetryTime,
		CreatedAt:     e.CreatedAt,
		LastError:     e.LastError,
	})
}

// UnmarshalJSON restores the concrete payload struct from the operation tag.
func (e *QueueEntry) UnmarshalJSON(data []byte) error {
	var raw entryJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.ID == "" {
		return fmt.Errorf("queue entry missing id")
	}
	if raw.RetryCount < 0 {
		return fmt.Errorf("queue entry %s has negative retry count", raw.ID)
	}
	payload, err := DecodePayload(raw.OperationType, raw.Payload)
	if err != nil {
		return err
	}

	*e = QueueEntry{
		ID:            raw.ID,
		OperationType: raw.OperationType,
		Payload:       payload,
		RetryCount:    raw.RetryCount,
		NextRetryTime: raw.NextRetryTime,
		CreatedAt:     raw.CreatedAt,
		LastError:     raw.LastError,
	}
	return nil
}

// Clone returns a copy that shares no mutable state with e.
func (e QueueEntry) Clone() QueueEntry {
	if batch, ok := e.Payload.(ReadReceiptBatch); ok {
		batch.MessageIDs = append([]string(nil), batch.MessageIDs...)
		e.Payload = batch
	}
	return e
}
