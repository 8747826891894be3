/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It holds the course snapshot and enrollment ledger queries plus the helpers
 * shared by the payment intent, progress and outbox files of this package.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver and connection pool.
 * - internal/domain: domain models returned to the app layer.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/annievinnie/E-learning-sub001/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultEventsExchange = "learning.events"

// PostgresRepository is the PostgreSQL implementation of Repository.
type PostgresRepository struct {
	db             *pgxpool.Pool
	eventsExchange string
}

// NewPostgresRepository creates a repository that enqueues domain events on eventsExchange.
func NewPostgresRepository(db *pgxpool.Pool, eventsExchange string) *PostgresRepository {
	exchange := strings.TrimSpace(eventsExchange)
	if exchange == "" {
		exchange = defaultEventsExchange
	}
	return &PostgresRepository{db: db, eventsExchange: exchange}
}

// FindCourseByID retrieves the course snapshot.
func (r *PostgresRepository) FindCourseByID(ctx context.Context, courseID uuid.UUID) (*domain.Course, error) {
	var course domain.Course
	err := r.db.QueryRow(ctx, `
		SELECT id, title, price, btrim(currency), instructor_id, updated_at
		FROM courses
		WHERE id = $1
	`, courseID).Scan(&course.ID, &course.Title, &course.Price, &course.Currency, &course.InstructorID, &course.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCourseNotFound
		}
		return nil, err
	}
	return &course, nil
}

// UpsertCourse stores the latest catalog snapshot for a course.
// Payment intents keep their own amount, so repricing never affects an open checkout.
func (r *PostgresRepository) UpsertCourse(ctx context.Context, course domain.Course) (*domain.Course, error) {
	var stored domain.Course
	err := r.db.QueryRow(ctx, `
		INSERT INTO courses (id, title, price, currency, instructor_id, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (id) DO UPDATE
		SET title = EXCLUDED.title,
			price = EXCLUDED.price,
			currency = EXCLUDED.currency,
			instructor_id = EXCLUDED.instructor_id,
			updated_at = NOW()
		RETURNING id, title, price, btrim(currency), instructor_id, updated_at
	`, course.ID, course.Title, course.Price, course.Currency, course.InstructorID).Scan(
		&stored.ID, &stored.Title, &stored.Price, &stored.Currency, &stored.InstructorID, &stored.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert course: %w", err)
	}
	return &stored, nil
}

// FindEnrollment retrieves the enrollment record for a learner and course.
func (r *PostgresRepository) FindEnrollment(ctx context.Context, learnerID string, courseID uuid.UUID) (*domain.EnrollmentRecord, error) {
	var rec domain.EnrollmentRecord
	err := r.db.QueryRow(ctx, `
		SELECT learner_id, course_id, source, payment_reference, amount_paid, enrolled_at
		FROM enrollments
		WHERE learner_id = $1 AND course_id = $2
	`, learnerID, courseID).Scan(&rec.LearnerID, &rec.CourseID, &rec.Source, &rec.PaymentReference, &rec.AmountPaid, &rec.EnrolledAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEnrollmentNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// CreateEnrollment inserts the record if the pair is not enrolled yet and, in the
// same transaction, enqueues the enrollment.created event.
func (r *PostgresRepository) CreateEnrollment(ctx context.Context, record domain.EnrollmentRecord) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	created, err := insertEnrollmentTx(ctx, tx, record)
	if err != nil {
		return false, err
	}
	if created {
		if err := enqueueEventTx(ctx, tx, r.eventsExchange, domain.RoutingKeyEnrollmentCreated, domain.EnrollmentCreatedFromRecord(record)); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return created, nil
}

func insertEnrollmentTx(ctx context.Context, tx pgx.Tx, record domain.EnrollmentRecord) (bool, error) {
	result, err := tx.Exec(ctx, `
		INSERT INTO enrollments (learner_id, course_id, source, payment_reference, amount_paid, enrolled_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (learner_id, course_id) DO NOTHING
	`, record.LearnerID, record.CourseID, record.Source, record.PaymentReference, record.AmountPaid, record.EnrolledAt)
	if err != nil {
		return false, fmt.Errorf("failed to insert enrollment: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

func enqueueEventTx(ctx context.Context, tx pgx.Tx, exchange, routingKey string, payload interface{}) error {
	blob, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO event_outbox (exchange, routing_key, payload)
		VALUES ($1, $2, $3::jsonb)
	`, strings.TrimSpace(exchange), strings.TrimSpace(routingKey), string(blob))
	if err != nil {
		return fmt.Errorf("failed to enqueue outbox event: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
