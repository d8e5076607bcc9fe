package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/outbox/internal/core/validate"
)

var (
	// ErrUnknownOperation is returned for an operation type outside the closed set.
	ErrUnknownOperation = errors.New("unknown operation type")
	// ErrInvalidPayload is returned when a payload fails validation.
	ErrInvalidPayload = errors.New("invalid payload")
)

// OperationType tags a queued side effect. The set is closed: every value has
// exactly one payload struct.
type OperationType string

const (
	OpStatusUpdate     OperationType = "status_update"
	OpReadReceipts     OperationType = "read_receipts"
	OpMessageDelivered OperationType = "message_delivered"
	OpPresencePulse    OperationType = "presence_pulse"
	OpTypingPulse      OperationType = "typing_pulse"
)

// OperationTypes lists every known operation type.
var OperationTypes = []OperationType{
	OpStatusUpdate,
	OpReadReceipts,
	OpMessageDelivered,
	OpPresencePulse,
	OpTypingPulse,
}

// Valid reports whether op is a known operation type.
func (op OperationType) Valid() bool {
	for _, known := range OperationTypes {
		if op == known {
			return true
		}
	}
	return false
}

// Payload is the typed body of a queued operation.
type Payload interface {
	OperationType() OperationType
	Validate() error
}

// MessageStatus is the delivery status carried by a StatusUpdate.
type MessageStatus string

const (
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
)

// StatusUpdate changes the status of a single message.
type StatusUpdate struct {
	MessageID      string        `json:"message_id" validate:"required"`
	ConversationID string        `json:"conversation_id" validate:"required"`
	Status         MessageStatus `json:"status" validate:"oneof=sent delivered read"`
}

func (StatusUpdate) OperationType() OperationType { return OpStatusUpdate }

func (p StatusUpdate) Validate() error { return validatePayload(p) }

// ReadReceiptBatch marks several messages of one conversation as read.
type ReadReceiptBatch struct {
	ConversationID string    `json:"conversation_id" validate:"required"`
	MessageIDs     []string  `json:"message_ids" validate:"min=1,dive,required"`
	ReadAt         time.Time `json:"read_at"`
}

func (ReadReceiptBatch) OperationType() OperationType { return OpReadReceipts }

func (p ReadReceiptBatch) Validate() error { return validatePayload(p) }

// MessageDelivered acknowledges delivery of a message to a recipient.
type MessageDelivered struct {
	MessageID      string `json:"message_id" validate:"required"`
	ConversationID string `json:"conversation_id"`
	UserID         string `json:"user_id" validate:"required"`
}

func (MessageDelivered) OperationType() OperationType { return OpMessageDelivered }

func (p MessageDelivered) Validate() error { return validatePayload(p) }

// PresencePulse publishes the online state of a user.
type PresencePulse struct {
	UserID string    `json:"user_id" validate:"required"`
	Online bool      `json:"online"`
	At     time.Time `json:"at"`
}

func (PresencePulse) OperationType() OperationType { return OpPresencePulse }

func (p PresencePulse) Validate() error { return validatePayload(p) }

// TypingPulse publishes a typing indicator.
type TypingPulse struct {
	ConversationID string `json:"conversation_id" validate:"required"`
	UserID         string `json:"user_id" validate:"required"`
	Typing         bool   `json:"typing"`
}

func (TypingPulse) OperationType() OperationType { return OpTypingPulse }

func (p TypingPulse) Validate() error { return validatePayload(p) }

func validatePayload(p Payload) error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidPayload, p.OperationType(), err)
	}
	return nil
}

// DecodePayload decodes raw JSON into the payload struct for op.
func DecodePayload(op OperationType, raw json.RawMessage) (Payload, error) {
	var (
		p   Payload
		err error
	)
	switch op {
	case OpStatusUpdate:
		var v StatusUpdate
		err = json.Unmarshal(raw, &v)
		p = v
	case OpReadReceipts:
		var v ReadReceiptBatch
		err = json.Unmarshal(raw, &v)
		p = v
	case OpMessageDelivered:
		var v MessageDelivered
		err = json.Unmarshal(raw, &v)
		p = v
	case OpPresencePulse:
		var v PresencePulse
		err = json.Unmarshal(raw, &v)
		p = v
	case OpTypingPulse:
		var v TypingPulse
		err = json.Unmarshal(raw, &v)
		p = v
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, op)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", op, err)
	}
	return p, nil
}
