package domain

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestQueueEntry_JSONRestoresTypedPayload(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	in := QueueEntry{
		ID:            "e1",
		OperationType: OpReadReceipts,
		Payload:       ReadReceiptBatch{ConversationID: "c1", MessageIDs: []string{"m1", "m2"}, ReadAt: at},
		RetryCount:    2,
		NextRetryTime: at.Add(4 * time.Second),
		CreatedAt:     at,
		LastError:     "timeout",
	}

	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var out QueueEntry
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	batch, ok := out.Payload.(ReadReceiptBatch)
	if !ok {
		t.Fatalf("expected ReadReceiptBatch payload, got %T", out.Payload)
	}
	if len(batch.MessageIDs) != 2 || !batch.ReadAt.Equal(at) {
		t.Errorf("unexpected payload: %+v", batch)
	}
	if out.RetryCount != 2 || out.LastError != "timeout" || !out.NextRetryTime.Equal(in.NextRetryTime) {
		t.Errorf("unexpected entry: %+v", out)
	}
}

func TestQueueEntry_UnmarshalRejectsUnknownOperation(t *testing.T) {
	var e QueueEntry
	err := json.Unmarshal([]byte(`{"id":"x","operation_type":"teleport","payload":{}}`), &e)
	if !errors.Is(err, ErrUnknownOperation) {
		t.Errorf("expected ErrUnknownOperation, got %v", err)
	}
}

func TestQueueEntry_CloneCopiesSlices(t *testing.T) {
	e := QueueEntry{Payload: ReadReceiptBatch{ConversationID: "c", MessageIDs: []string{"a"}}}
	c := e.Clone()
	c.Payload.(ReadReceiptBatch).MessageIDs[0] = "changed"

	if e.Payload.(ReadReceiptBatch).MessageIDs[0] != "a" {
		t.Error("clone shares the message id slice")
	}
}

func TestPayload_Validate(t *testing.T) {
	tests := []struct {
		name    string
		payload Payload
		wantErr bool
	}{
		{"status ok", StatusUpdate{MessageID: "m", ConversationID: "c", Status: StatusRead}, false},
		{"status bad", StatusUpdate{MessageID: "m", ConversationID: "c", Status: "lost"}, true},
		{"receipts empty", ReadReceiptBatch{ConversationID: "c"}, true},
		{"receipts blank id", ReadReceiptBatch{ConversationID: "c", MessageIDs: []string{""}}, true},
		{"delivered ok", MessageDelivered{MessageID: "m", UserID: "u"}, false},
		{"presence missing user", PresencePulse{}, true},
		{"typing ok", TypingPulse{ConversationID: "c", UserID: "u"}, false},
	}
	for _, tt := range tests {
		err := tt.payload.Validate()
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: Validate() error = %v, wantErr %v", tt.name, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, ErrInvalidPayload) {
			t.Errorf("%s: expected ErrInvalidPayload, got %v", tt.name, err)
		}
	}
}
