/**
 * @description
 * This file defines the `Repository` interface, the contract for every data access
 * operation the enrollment-service performs. Business logic in `internal/app`
 * depends only on this interface, so the PostgreSQL implementation and the
 * in-memory implementation used by tests and local development are interchangeable.
 *
 * @notes
 * - Every mutation is an atomic conditional write keyed by a natural unique key.
 *   Implementations must never emulate one with a read followed by a write.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/annievinnie/E-learning-sub001/internal/domain"
	"github.com/google/uuid"
)

var (
	ErrCourseNotFound                 = errors.New("course not found")
	ErrEnrollmentNotFound             = errors.New("enrollment not found")
	ErrPaymentIntentNotFound          = errors.New("payment intent not found")
	ErrPaymentIntentNotPending        = errors.New("payment intent is not pending")
	ErrDuplicateExternalTransactionID = errors.New("external transaction id already attached to another intent")
)

// Repository defines the set of methods for interacting with persisted state.
type Repository interface {
	// Course catalog snapshot
	FindCourseByID(ctx context.Context, courseID uuid.UUID) (*domain.Course, error)
	UpsertCourse(ctx context.Context, course domain.Course) (*domain.Course, error)

	// Enrollment ledger
	FindEnrollment(ctx context.Context, learnerID string, courseID uuid.UUID) (*domain.EnrollmentRecord, error)
	// CreateEnrollment inserts the record unless one already exists for the pair.
	// It reports whether a new row was written.
	CreateEnrollment(ctx context.Context, record domain.EnrollmentRecord) (bool, error)

	// Payment intents
	CreatePaymentIntent(ctx context.Context, intent *domain.PaymentIntent) error
	FindPaymentIntentByID(ctx context.Context, intentID uuid.UUID) (*domain.PaymentIntent, error)
	FindPaymentIntentByExternalID(ctx context.Context, externalTransactionID string) (*domain.PaymentIntent, error)
	FindOpenPaymentIntent(ctx context.Context, learnerID string, courseID uuid.UUID, createdAfter time.Time) (*domain.PaymentIntent, error)
	AttachExternalTransaction(ctx context.Context, intentID uuid.UUID, externalTransactionID, redirectURL string) error
	MarkPaymentIntentFailed(ctx context.Context, intentID uuid.UUID, reason string) (bool, error)
	CompletePaymentIntent(ctx context.Context, params CompletePaymentParams) (*CompletePaymentResult, error)
	ExpireStalePaymentIntents(ctx context.Context, createdBefore time.Time) (int64, error)

	// Module progress
	RecordModuleProgress(ctx context.Context, params RecordProgressParams) (*RecordProgressResult, error)
	ListModuleProgress(ctx context.Context, learnerID string, courseID uuid.UUID) ([]domain.ModuleProgress, error)

	// Event outbox
	ClaimOutboxMessages(ctx context.Context, limit int, staleAfterSeconds int) ([]OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, id int64) error
	MarkOutboxFailed(ctx context.Context, id int64, retryAfterSeconds int, lastError string) error
}

// CompletePaymentParams carries the verified facts of a completion notification.
type CompletePaymentParams struct {
	IntentID              uuid.UUID
	ExternalTransactionID string
	Amount                int64
	CompletedAt           time.Time
}

// CompletePaymentResult describes what the conditional completion actually did.
// When Transitioned is false, Intent holds the status that blocked the transition.
type CompletePaymentResult struct {
	Intent            domain.PaymentIntent
	Transitioned      bool
	EnrollmentCreated bool
}

// RecordProgressParams is one playback report. MarkComplete asks the store to
// flip the completion latch if it is still unset.
type RecordProgressParams struct {
	LearnerID     string
	CourseID      uuid.UUID
	ModuleID      string
	OffsetSeconds float64
	TotalSeconds  float64
	MarkComplete  bool
	RecordedAt    time.Time
}

// RecordProgressResult holds the stored row after the write.
type RecordProgressResult struct {
	Progress     domain.ModuleProgress
	CompletedNow bool
}

// OutboxMessage is an event waiting to be published.
type OutboxMessage struct {
	ID         int64
	Exchange   string
	RoutingKey string
	Payload    []byte
	Attempts   int
}
