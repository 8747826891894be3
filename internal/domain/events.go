package domain

import (
	"time"

	"github.com/google/uuid"
)

// Routing keys for events published on the learning events exchange.
const (
	RoutingKeyEnrollmentCreated = "enrollment.created"
	RoutingKeyModuleCompleted   = "module.completed"
)

// EnrollmentCreatedEvent is emitted once per new enrollment record.
type EnrollmentCreatedEvent struct {
	LearnerID        string    `json:"learner_id"`
	CourseID         uuid.UUID `json:"course_id"`
	Source           string    `json:"source"`
	PaymentReference *string   `json:"payment_reference,omitempty"`
	AmountPaid       *int64    `json:"amount_paid,omitempty"`
	EnrolledAt       time.Time `json:"enrolled_at"`
}

// ModuleCompletedEvent is emitted when a module's completion latch flips.
type ModuleCompletedEvent struct {
	LearnerID   string    `json:"learner_id"`
	CourseID    uuid.UUID `json:"course_id"`
	ModuleID    string    `json:"module_id"`
	CompletedAt time.Time `json:"completed_at"`
}

// PaymentAlert is published to the operator alert exchange for authenticity and
// consistency violations.
type PaymentAlert struct {
	Kind                  string     `json:"kind"`
	ExternalTransactionID string     `json:"external_transaction_id,omitempty"`
	IntentID              *uuid.UUID `json:"intent_id,omitempty"`
	LearnerID             string     `json:"learner_id,omitempty"`
	CourseID              *uuid.UUID `json:"course_id,omitempty"`
	Detail                string     `json:"detail"`
	RaisedAt              time.Time  `json:"raised_at"`
}

// EnrollmentCreatedFromRecord converts a stored record into its event payload.
func EnrollmentCreatedFromRecord(rec EnrollmentRecord) EnrollmentCreatedEvent {
	return EnrollmentCreatedEvent{
		LearnerID:        rec.LearnerID,
		CourseID:         rec.CourseID,
		Source:           rec.Source,
		PaymentReference: rec.PaymentReference,
		AmountPaid:       rec.AmountPaid,
		EnrolledAt:       rec.EnrolledAt,
	}
}
