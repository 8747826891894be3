/**
 * @description
 * Core domain models for the enrollment-service: course snapshots, enrollment
 * records, payment intents and module progress.
 *
 * @notes
 * - Amounts are `int64` in the smallest currency unit (cents). A course priced
 *   49.99 carries Price 4999.
 * - Learner and instructor identifiers are the identity provider's subject ids,
 *   so they are plain strings. Courses are keyed by UUID.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Enrollment sources.
const (
	EnrollmentSourceFree = "free"
	EnrollmentSourcePaid = "paid"
)

// Course is the read-only snapshot of a catalog course that this service gates.
// It maps to the `courses` table, which the catalog application keeps in sync.
type Course struct {
	ID           uuid.UUID `json:"id"`
	Title        string    `json:"title"`
	Price        int64     `json:"price"` // in cents, 0 means free
	Currency     string    `json:"currency"`
	InstructorID string    `json:"instructor_id"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// IsFree reports whether the course can be accessed without payment.
func (c Course) IsFree() bool {
	return c.Price <= 0
}

// EnrollmentRecord is the durable fact that a learner may access a course.
// It is written once and never mutated.
type EnrollmentRecord struct {
	LearnerID        string    `json:"learner_id"`
	CourseID         uuid.UUID `json:"course_id"`
	Source           string    `json:"source"` // 'free' or 'paid'
	PaymentReference *string   `json:"payment_reference,omitempty"`
	AmountPaid       *int64    `json:"amount_paid,omitempty"`
	EnrolledAt       time.Time `json:"enrolled_at"`
}

// NewFreeEnrollment builds the record written by the free checkout path.
func NewFreeEnrollment(learnerID string, courseID uuid.UUID, at time.Time) EnrollmentRecord {
	return EnrollmentRecord{
		LearnerID:  learnerID,
		CourseID:   courseID,
		Source:     EnrollmentSourceFree,
		EnrolledAt: at,
	}
}

// NewPaidEnrollment builds the record written when a payment completes.
func NewPaidEnrollment(learnerID string, courseID uuid.UUID, externalTransactionID string, amount int64, at time.Time) EnrollmentRecord {
	ref := externalTransactionID
	paid := amount
	return EnrollmentRecord{
		LearnerID:        learnerID,
		CourseID:         courseID,
		Source:           EnrollmentSourcePaid,
		PaymentReference: &ref,
		AmountPaid:       &paid,
		EnrolledAt:       at,
	}
}

// CourseSyncRequest is the DTO the catalog application sends to keep a course snapshot current.
type CourseSyncRequest struct {
	Title        string `json:"title" validate:"max=300"`
	Price        int64  `json:"price" validate:"gte=0"`
	Currency     string `json:"currency" validate:"omitempty,len=3,alpha"`
	InstructorID string `json:"instructor_id" validate:"required"`
}
