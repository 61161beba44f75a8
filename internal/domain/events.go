package domain

import (
	"time"

	"github.com/google/uuid"
)

// PaymentEvent is the message published when a payment reaches a terminal
// state. Consumed by the notification-service.
type PaymentEvent struct {
	EventID       uuid.UUID  `json:"event_id"`
	PaymentID     uuid.UUID  `json:"payment_id"`
	PayerID       uuid.UUID  `json:"payer_id"`
	PayeeID       *uuid.UUID `json:"payee_id,omitempty"`
	PaymentType   string     `json:"payment_type"`
	Status        string     `json:"status"`
	Amount        int64      `json:"amount"`
	NetAmount     int64      `json:"net_amount"`
	Currency      string     `json:"currency"`
	FailureReason *string    `json:"failure_reason,omitempty"`
	OccurredAt    time.Time  `json:"occurred_at"`
}

// EscrowEvent is published when escrowed funds are released or refunded.
type EscrowEvent struct {
	EventID    uuid.UUID `json:"event_id"`
	PaymentID  uuid.UUID `json:"payment_id"`
	PayeeID    uuid.UUID `json:"payee_id"`
	Action     string    `json:"action"` // 'released' or 'refunded'
	NetAmount  int64     `json:"net_amount"`
	OccurredAt time.Time `json:"occurred_at"`
}

// SparkTransferEvent is published after a spark gift completes so the
// recipient can be notified.
type SparkTransferEvent struct {
	EventID     uuid.UUID `json:"event_id"`
	SenderID    uuid.UUID `json:"sender_id"`
	RecipientID uuid.UUID `json:"recipient_id"`
	Amount      int64     `json:"amount"`
	OccurredAt  time.Time `json:"occurred_at"`
}
