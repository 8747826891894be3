package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/annievinnie/E-learning-sub001/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const paymentIntentColumns = `
	id, external_transaction_id, learner_id, course_id, amount, btrim(currency), status,
	redirect_url, failure_reason, created_at, updated_at, completed_at`

func scanPaymentIntent(row pgx.Row) (*domain.PaymentIntent, error) {
	var intent domain.PaymentIntent
	err := row.Scan(
		&intent.ID,
		&intent.ExternalTransactionID,
		&intent.LearnerID,
		&intent.CourseID,
		&intent.Amount,
		&intent.Currency,
		&intent.Status,
		&intent.RedirectURL,
		&intent.FailureReason,
		&intent.CreatedAt,
		&intent.UpdatedAt,
		&intent.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentIntentNotFound
		}
		return nil, err
	}
	return &intent, nil
}

// CreatePaymentIntent persists a new pending intent. It commits before returning so
// the intent is durable ahead of any call to the processor.
func (r *PostgresRepository) CreatePaymentIntent(ctx context.Context, intent *domain.PaymentIntent) error {
	if intent.ID == uuid.Nil {
		intent.ID = uuid.New()
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO payment_intents (id, learner_id, course_id, amount, currency, status)
		VALUES ($1, $2, $3, $4, $5, 'pending')
		RETURNING status, created_at, updated_at
	`, intent.ID, intent.LearnerID, intent.CourseID, intent.Amount, intent.Currency).Scan(&intent.Status, &intent.CreatedAt, &intent.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create payment intent: %w", err)
	}
	return nil
}

// FindPaymentIntentByID retrieves an intent by our checkout reference.
func (r *PostgresRepository) FindPaymentIntentByID(ctx context.Context, intentID uuid.UUID) (*domain.PaymentIntent, error) {
	row := r.db.QueryRow(ctx, `SELECT `+paymentIntentColumns+` FROM payment_intents WHERE id = $1`, intentID)
	return scanPaymentIntent(row)
}

// FindPaymentIntentByExternalID retrieves an intent by the processor's transaction id.
func (r *PostgresRepository) FindPaymentIntentByExternalID(ctx context.Context, externalTransactionID string) (*domain.PaymentIntent, error) {
	row := r.db.QueryRow(ctx, `SELECT `+paymentIntentColumns+` FROM payment_intents WHERE external_transaction_id = $1`, externalTransactionID)
	return scanPaymentIntent(row)
}

// FindOpenPaymentIntent returns the newest pending intent that already has a processor
// redirect and was created after createdAfter.
func (r *PostgresRepository) FindOpenPaymentIntent(ctx context.Context, learnerID string, courseID uuid.UUID, createdAfter time.Time) (*domain.PaymentIntent, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+paymentIntentColumns+`
		FROM payment_intents
		WHERE learner_id = $1
			AND course_id = $2
			AND status = 'pending'
			AND redirect_url IS NOT NULL
			AND created_at > $3
		ORDER BY created_at DESC
		LIMIT 1
	`, learnerID, courseID, createdAfter)
	return scanPaymentIntent(row)
}

// AttachExternalTransaction records the processor's transaction id and redirect on a
// pending intent. It never overwrites an id that is already attached.
func (r *PostgresRepository) AttachExternalTransaction(ctx context.Context, intentID uuid.UUID, externalTransactionID, redirectURL string) error {
	result, err := r.db.Exec(ctx, `
		UPDATE payment_intents
		SET external_transaction_id = $2,
			redirect_url = $3,
			updated_at = NOW()
		WHERE id = $1
			AND status = 'pending'
			AND (external_transaction_id IS NULL OR external_transaction_id = $2)
	`, intentID, externalTransactionID, redirectURL)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateExternalTransactionID
		}
		return fmt.Errorf("failed to attach external transaction: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrPaymentIntentNotPending
	}
	return nil
}

// MarkPaymentIntentFailed moves a pending intent to failed. It reports whether the
// intent was still pending.
func (r *PostgresRepository) MarkPaymentIntentFailed(ctx context.Context, intentID uuid.UUID, reason string) (bool, error) {
	result, err := r.db.Exec(ctx, `
		UPDATE payment_intents
		SET status = 'failed',
			failure_reason = $2,
			updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, intentID, truncateReason(reason))
	if err != nil {
		return false, fmt.Errorf("failed to mark payment intent failed: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// CompletePaymentIntent performs the pending -> completed transition and the paid
// enrollment insert as one transaction. The UPDATE is conditional on the pending
// status, so concurrent deliveries of the same notification serialise on the row
// lock and only the first one observes a pending intent.
func (r *PostgresRepository) CompletePaymentIntent(ctx context.Context, params CompletePaymentParams) (*CompletePaymentResult, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		UPDATE payment_intents
		SET status = 'completed',
			external_transaction_id = COALESCE(external_transaction_id, $2),
			completed_at = $3,
			updated_at = $3
		WHERE id = $1
			AND status = 'pending'
			AND (external_transaction_id IS NULL OR external_transaction_id = $2)
		RETURNING `+paymentIntentColumns, params.IntentID, params.ExternalTransactionID, params.CompletedAt)
	intent, err := scanPaymentIntent(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateExternalTransactionID
		}
		if !errors.Is(err, ErrPaymentIntentNotFound) {
			return nil, fmt.Errorf("failed to complete payment intent: %w", err)
		}
		// Nothing transitioned: report the status that blocked it.
		current, findErr := scanPaymentIntent(tx.QueryRow(ctx, `SELECT `+paymentIntentColumns+` FROM payment_intents WHERE id = $1`, params.IntentID))
		if findErr != nil {
			return nil, findErr
		}
		return &CompletePaymentResult{Intent: *current}, nil
	}

	record := domain.NewPaidEnrollment(intent.LearnerID, intent.CourseID, params.ExternalTransactionID, params.Amount, params.CompletedAt)
	created, err := insertEnrollmentTx(ctx, tx, record)
	if err != nil {
		return nil, err
	}
	if created {
		if err := enqueueEventTx(ctx, tx, r.eventsExchange, domain.RoutingKeyEnrollmentCreated, domain.EnrollmentCreatedFromRecord(record)); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &CompletePaymentResult{Intent: *intent, Transitioned: true, EnrollmentCreated: created}, nil
}

// ExpireStalePaymentIntents marks every pending intent created before createdBefore as expired.
func (r *PostgresRepository) ExpireStalePaymentIntents(ctx context.Context, createdBefore time.Time) (int64, error) {
	result, err := r.db.Exec(ctx, `
		UPDATE payment_intents
		SET status = 'expired',
			updated_at = NOW()
		WHERE status = 'pending' AND created_at < $1
	`, createdBefore)
	if err != nil {
		return 0, fmt.Errorf("failed to expire payment intents: %w", err)
	}
	return result.RowsAffected(), nil
}

func truncateReason(reason string) string {
	if len(reason) > 500 {
		return reason[:500]
	}
	return reason
}
