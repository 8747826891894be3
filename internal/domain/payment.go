package domain

import (
	"time"

	"github.com/google/uuid"
)

// Payment intent statuses. Only pending ever transitions.
const (
	PaymentStatusPending   = "pending"
	PaymentStatusCompleted = "completed"
	PaymentStatusFailed    = "failed"
	PaymentStatusExpired   = "expired"
)

// PaymentIntent tracks one checkout session from creation until the processor
// reports a terminal outcome. It maps to the `payment_intents` table.
type PaymentIntent struct {
	ID                    uuid.UUID  `json:"id"`
	ExternalTransactionID *string    `json:"external_transaction_id,omitempty"`
	LearnerID             string     `json:"learner_id"`
	CourseID              uuid.UUID  `json:"course_id"`
	Amount                int64      `json:"amount"` // in cents
	Currency              string     `json:"currency"`
	Status                string     `json:"status"`
	RedirectURL           *string    `json:"redirect_url,omitempty"`
	FailureReason         *string    `json:"failure_reason,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
	CompletedAt           *time.Time `json:"completed_at,omitempty"`
}

// IsTerminal reports whether the intent can no longer change status.
func (p PaymentIntent) IsTerminal() bool {
	return p.Status != PaymentStatusPending
}

// PaymentNotification is the decoded body of a processor webhook. It is only
// decoded after the raw payload's signature has been verified.
type PaymentNotification struct {
	TransactionID string `json:"transaction_id"`
	EventType     string `json:"event_type"`
	Amount        int64  `json:"amount"` // in cents
	Currency      string `json:"currency,omitempty"`
	Reference     string `json:"reference,omitempty"` // our intent id, echoed back by the processor
	OccurredAt    string `json:"occurred_at,omitempty"`
}

// RelayedPaymentNotification is the envelope an edge gateway publishes to RabbitMQ
// when it forwards a webhook without verifying it.
type RelayedPaymentNotification struct {
	Payload   string `json:"payload"`
	Signature string `json:"signature"`
}

// CheckoutResponse is returned by the checkout endpoint.
type CheckoutResponse struct {
	Mode     string     `json:"mode"` // 'enrolled' or 'redirect'
	Target   string     `json:"target,omitempty"`
	IntentID *uuid.UUID `json:"intent_id,omitempty"`
}
