package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/annievinnie/E-learning-sub001/internal/domain"
	"github.com/annievinnie/E-learning-sub001/internal/store"
	"github.com/google/uuid"
)

// ReconcileOutcome names what a notification did. Every outcome is acknowledged to the processor.
type ReconcileOutcome string

const (
	OutcomeEnrolled           ReconcileOutcome = "enrolled"
	OutcomeDuplicate          ReconcileOutcome = "duplicate"
	OutcomeDuplicatePayment   ReconcileOutcome = "duplicate_payment"
	OutcomeUnknownTransaction ReconcileOutcome = "unknown_transaction"
	OutcomeIgnoredEvent       ReconcileOutcome = "ignored_event"
	OutcomeMarkedFailed       ReconcileOutcome = "marked_failed"
	OutcomeRejectedLate       ReconcileOutcome = "rejected_late"
)

const (
	eventCompleted = "completed"
	eventFailed    = "failed"
)

// Notification is one inbound processor event exactly as received.
type Notification struct {
	Payload   []byte
	Signature string
}

// Reconciler turns verified processor notifications into intent transitions and enrollments.
type Reconciler struct {
	repo    store.Repository
	secret  []byte
	alerter Alerter
	logger  *slog.Logger
	now     func() time.Time
}

func NewReconciler(repo store.Repository, webhookSecret string, alerter Alerter, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		repo:    repo,
		secret:  []byte(strings.TrimSpace(webhookSecret)),
		alerter: alerter,
		logger:  logger,
		now:     time.Now,
	}
}

// Reconcile verifies and applies one notification. It returns an error only for
// authenticity failures, malformed payloads, amount mismatches and store failures.
func (r *Reconciler) Reconcile(ctx context.Context, n Notification) (ReconcileOutcome, error) {
	if !VerifySignature(r.secret, n.Payload, n.Signature) {
		r.alert(ctx, domain.PaymentAlert{Kind: AlertInvalidSignature, Detail: fmt.Sprintf("payload_bytes=%d", len(n.Payload))})
		return "", ErrInvalidSignature
	}

	var event domain.PaymentNotification
	if err := json.Unmarshal(n.Payload, &event); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedNotification, err)
	}
	event.TransactionID = strings.TrimSpace(event.TransactionID)
	if event.TransactionID == "" {
		return "", fmt.Errorf("%w: missing transaction_id", ErrMalformedNotification)
	}

	eventType := normalizeEventType(event.EventType)
	if eventType != eventCompleted && eventType != eventFailed {
		r.logger.Info("ignoring payment event", "event_type", event.EventType, "external_transaction_id", event.TransactionID)
		return OutcomeIgnoredEvent, nil
	}

	intent, err := r.findIntent(ctx, event)
	if err != nil {
		if errors.Is(err, store.ErrPaymentIntentNotFound) {
			r.logger.Warn("payment notification for unknown transaction", "external_transaction_id", event.TransactionID, "event_type", eventType)
			return OutcomeUnknownTransaction, nil
		}
		return "", fmt.Errorf("failed to load payment intent: %w", err)
	}
	if intent.ExternalTransactionID != nil && *intent.ExternalTransactionID != event.TransactionID {
		r.alert(ctx, alertFor(AlertReferenceMismatch, intent, event.TransactionID,
			"reference points at an intent bound to "+*intent.ExternalTransactionID))
		return OutcomeUnknownTransaction, nil
	}

	if eventType == eventFailed {
		return r.applyFailure(ctx, intent, event)
	}
	return r.applyCompletion(ctx, intent, event)
}

func (r *Reconciler) findIntent(ctx context.Context, event domain.PaymentNotification) (*domain.PaymentIntent, error) {
	intent, err := r.repo.FindPaymentIntentByExternalID(ctx, event.TransactionID)
	if err == nil || !errors.Is(err, store.ErrPaymentIntentNotFound) {
		return intent, err
	}

	// The checkout response may have been lost before the transaction id was attached.
	ref, parseErr := uuid.Parse(strings.TrimSpace(event.Reference))
	if parseErr != nil {
		return nil, err
	}
	return r.repo.FindPaymentIntentByID(ctx, ref)
}

func (r *Reconciler) applyCompletion(ctx context.Context, intent *domain.PaymentIntent, event domain.PaymentNotification) (ReconcileOutcome, error) {
	if mismatch := checkAmount(intent, event); mismatch != nil {
		r.alert(ctx, alertFor(AlertAmountMismatch, intent, event.TransactionID, mismatch.Error()))
		return "", mismatch
	}

	switch intent.Status {
	case domain.PaymentStatusCompleted:
		r.logger.Info("duplicate completion ignored", "external_transaction_id", event.TransactionID, "intent_id", intent.ID)
		return OutcomeDuplicate, nil
	case domain.PaymentStatusExpired, domain.PaymentStatusFailed:
		return r.rejectLate(ctx, intent, event.TransactionID), nil
	}

	result, err := r.repo.CompletePaymentIntent(ctx, store.CompletePaymentParams{
		IntentID:              intent.ID,
		ExternalTransactionID: event.TransactionID,
		Amount:                event.Amount,
		CompletedAt:           r.now().UTC(),
	})
	if err != nil {
		if errors.Is(err, store.ErrDuplicateExternalTransactionID) {
			r.alert(ctx, alertFor(AlertReferenceMismatch, intent, event.TransactionID, "transaction id already bound to another intent"))
			return OutcomeUnknownTransaction, nil
		}
		return "", fmt.Errorf("failed to complete payment intent: %w", err)
	}

	if !result.Transitioned {
		switch result.Intent.Status {
		case domain.PaymentStatusCompleted:
			// Another delivery won the conditional write between our read and our update.
			winner := result.Intent.ExternalTransactionID
			if winner != nil && *winner == event.TransactionID {
				r.logger.Warn("completion raced with a redelivery of the same transaction",
					"external_transaction_id", event.TransactionID, "intent_id", result.Intent.ID)
				return OutcomeDuplicate, nil
			}
			r.alert(ctx, alertFor(AlertConcurrentComplete, &result.Intent, event.TransactionID, "intent completed concurrently by a different transaction"))
			return OutcomeDuplicate, nil
		case domain.PaymentStatusExpired, domain.PaymentStatusFailed:
			return r.rejectLate(ctx, &result.Intent, event.TransactionID), nil
		default:
			r.alert(ctx, alertFor(AlertReferenceMismatch, &result.Intent, event.TransactionID, "intent is bound to a different transaction"))
			return OutcomeUnknownTransaction, nil
		}
	}

	if !result.EnrollmentCreated {
		r.alert(ctx, alertFor(AlertDuplicatePayment, &result.Intent, event.TransactionID, "payment completed for a learner who was already enrolled"))
		return OutcomeDuplicatePayment, nil
	}

	r.logger.Info("payment completed; enrollment created",
		"external_transaction_id", event.TransactionID,
		"intent_id", intent.ID,
		"learner_id", intent.LearnerID,
		"course_id", intent.CourseID,
		"amount", event.Amount,
	)
	return OutcomeEnrolled, nil
}

func (r *Reconciler) applyFailure(ctx context.Context, intent *domain.PaymentIntent, event domain.PaymentNotification) (ReconcileOutcome, error) {
	if intent.Status != domain.PaymentStatusPending {
		r.logger.Info("failure event for terminal intent ignored", "external_transaction_id", event.TransactionID, "status", intent.Status)
		return OutcomeIgnoredEvent, nil
	}
	changed, err := r.repo.MarkPaymentIntentFailed(ctx, intent.ID, "processor reported failure")
	if err != nil {
		return "", fmt.Errorf("failed to mark payment intent failed: %w", err)
	}
	if !changed {
		return OutcomeIgnoredEvent, nil
	}
	r.logger.Info("payment intent marked failed", "external_transaction_id", event.TransactionID, "intent_id", intent.ID)
	return OutcomeMarkedFailed, nil
}

func (r *Reconciler) rejectLate(ctx context.Context, intent *domain.PaymentIntent, externalTransactionID string) ReconcileOutcome {
	r.alert(ctx, alertFor(AlertLateCompletion, intent, externalTransactionID,
		fmt.Sprintf("completion received for %s intent; no enrollment granted", intent.Status)))
	return OutcomeRejectedLate
}

func (r *Reconciler) alert(ctx context.Context, alert domain.PaymentAlert) {
	alert.RaisedAt = r.now().UTC()
	if r.alerter == nil {
		r.logger.Error("payment alert", "kind", alert.Kind, "external_transaction_id", alert.ExternalTransactionID, "detail", alert.Detail)
		return
	}
	r.alerter.Alert(ctx, alert)
}

func alertFor(kind string, intent *domain.PaymentIntent, externalTransactionID, detail string) domain.PaymentAlert {
	intentID := intent.ID
	courseID := intent.CourseID
	return domain.PaymentAlert{
		Kind:                  kind,
		ExternalTransactionID: externalTransactionID,
		IntentID:              &intentID,
		LearnerID:             intent.LearnerID,
		CourseID:              &courseID,
		Detail:                detail,
	}
}

func checkAmount(intent *domain.PaymentIntent, event domain.PaymentNotification) *AmountMismatchError {
	currency := strings.ToUpper(strings.TrimSpace(event.Currency))
	if event.Amount == intent.Amount && (currency == "" || currency == intent.Currency) {
		return nil
	}
	return &AmountMismatchError{
		IntentID:              intent.ID.String(),
		ExternalTransactionID: event.TransactionID,
		ExpectedAmount:        intent.Amount,
		ActualAmount:          event.Amount,
		ExpectedCurrency:      intent.Currency,
		ActualCurrency:        currency,
	}
}

func normalizeEventType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "completed", "complete", "success", "successful", "succeeded", "paid",
		"payment.completed", "payment.succeeded", "checkout.completed":
		return eventCompleted
	case "failed", "failure", "declined", "payment.failed", "checkout.failed":
		return eventFailed
	default:
		return strings.ToLower(strings.TrimSpace(raw))
	}
}
