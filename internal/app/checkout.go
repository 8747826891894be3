/**
 * @description
 * Checkout initiation. Free courses enroll immediately; paid courses persist a
 * pending payment intent and then open a hosted checkout with the processor.
 *
 * @notes
 * - The intent row commits before the processor is called, so every checkout the
 *   processor knows about is traceable to an intent even if we crash right after.
 * - The intent id is sent to the processor as the reference and idempotency key.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/annievinnie/E-learning-sub001/internal/domain"
	"github.com/annievinnie/E-learning-sub001/internal/store"
	"github.com/annievinnie/E-learning-sub001/pkg/paymentclient"
	"github.com/google/uuid"
)

// Checkout modes returned to the client.
const (
	CheckoutModeEnrolled = "enrolled"
	CheckoutModeRedirect = "redirect"
)

const processorCallTimeout = 20 * time.Second

// CheckoutProcessor opens hosted checkout sessions with the payment processor.
type CheckoutProcessor interface {
	CreateCheckout(ctx context.Context, req paymentclient.CheckoutRequest) (*paymentclient.CheckoutResponse, error)
}

// CheckoutConfig holds the checkout settings taken from configuration.
type CheckoutConfig struct {
	SuccessURL      string
	CancelURL       string
	DefaultCurrency string
	IntentTTL       time.Duration
}

// CheckoutResult is the outcome of StartCheckout.
type CheckoutResult struct {
	Mode     string
	Target   string
	IntentID *uuid.UUID
}

// CheckoutService implements checkout initiation.
type CheckoutService struct {
	repo      store.Repository
	processor CheckoutProcessor
	limiter   CheckoutLimiter
	cfg       CheckoutConfig
	now       func() time.Time
}

func NewCheckoutService(repo store.Repository, processor CheckoutProcessor, limiter CheckoutLimiter, cfg CheckoutConfig) *CheckoutService {
	if cfg.IntentTTL <= 0 {
		cfg.IntentTTL = 24 * time.Hour
	}
	if strings.TrimSpace(cfg.DefaultCurrency) == "" {
		cfg.DefaultCurrency = "USD"
	}
	return &CheckoutService{
		repo:      repo,
		processor: processor,
		limiter:   limiter,
		cfg:       cfg,
		now:       time.Now,
	}
}

// StartCheckout enrolls the learner in a free course or returns the processor redirect for a paid one.
func (s *CheckoutService) StartCheckout(ctx context.Context, learnerID string, courseID uuid.UUID) (*CheckoutResult, error) {
	course, err := s.repo.FindCourseByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, store.ErrCourseNotFound) {
			return nil, ErrCourseNotFound
		}
		return nil, fmt.Errorf("failed to load course: %w", err)
	}

	if course.InstructorID == learnerID {
		return &CheckoutResult{Mode: CheckoutModeEnrolled}, nil
	}

	_, err = s.repo.FindEnrollment(ctx, learnerID, courseID)
	if err == nil {
		return &CheckoutResult{Mode: CheckoutModeEnrolled}, nil
	}
	if !errors.Is(err, store.ErrEnrollmentNotFound) {
		return nil, fmt.Errorf("failed to check enrollment: %w", err)
	}

	if course.IsFree() {
		created, err := s.repo.CreateEnrollment(ctx, domain.NewFreeEnrollment(learnerID, courseID, s.now().UTC()))
		if err != nil {
			return nil, fmt.Errorf("failed to create free enrollment: %w", err)
		}
		if created {
			log.Printf("level=info component=checkout msg=\"free enrollment created\" course_id=%s learner_id=%s", courseID, learnerID)
		}
		return &CheckoutResult{Mode: CheckoutModeEnrolled}, nil
	}

	return s.startPaidCheckout(ctx, learnerID, course)
}

func (s *CheckoutService) startPaidCheckout(ctx context.Context, learnerID string, course *domain.Course) (*CheckoutResult, error) {
	if err := s.admitCheckout(ctx, learnerID, course.ID); err != nil {
		return nil, err
	}

	open, err := s.repo.FindOpenPaymentIntent(ctx, learnerID, course.ID, s.now().Add(-s.cfg.IntentTTL))
	switch {
	case err == nil && open.Amount == course.Price && open.RedirectURL != nil:
		log.Printf("level=info component=checkout msg=\"reusing open payment intent\" intent_id=%s course_id=%s", open.ID, course.ID)
		id := open.ID
		return &CheckoutResult{Mode: CheckoutModeRedirect, Target: *open.RedirectURL, IntentID: &id}, nil
	case err != nil && !errors.Is(err, store.ErrPaymentIntentNotFound):
		return nil, fmt.Errorf("failed to look up open payment intent: %w", err)
	}

	currency := strings.ToUpper(strings.TrimSpace(course.Currency))
	if currency == "" {
		currency = s.cfg.DefaultCurrency
	}
	intent := &domain.PaymentIntent{
		ID:        uuid.New(),
		LearnerID: learnerID,
		CourseID:  course.ID,
		Amount:    course.Price,
		Currency:  currency,
	}
	if err := s.repo.CreatePaymentIntent(ctx, intent); err != nil {
		return nil, fmt.Errorf("failed to persist payment intent: %w", err)
	}

	// A learner who disconnects mid-call must not abandon a session the processor may already hold.
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), processorCallTimeout)
	defer cancel()

	resp, err := s.processor.CreateCheckout(callCtx, paymentclient.CheckoutRequest{
		Amount:          intent.Amount,
		Currency:        intent.Currency,
		CourseID:        course.ID.String(),
		LearnerID:       learnerID,
		Reference:       intent.ID.String(),
		SuccessRedirect: withIntentParam(s.cfg.SuccessURL, intent.ID),
		CancelRedirect:  withIntentParam(s.cfg.CancelURL, intent.ID),
	})
	if err != nil {
		if isProcessorRejection(err) {
			log.Printf("level=error component=checkout msg=\"processor rejected checkout\" intent_id=%s course_id=%s err=%v", intent.ID, course.ID, err)
			s.failIntent(ctx, intent.ID, "processor rejected checkout: "+err.Error())
		} else {
			// The session may exist on the processor side; a later completion still matches by reference
			// and the expiry sweep closes the intent otherwise.
			log.Printf("level=warn component=checkout msg=\"processor outcome unknown; intent left pending\" intent_id=%s course_id=%s err=%v", intent.ID, course.ID, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrProcessorUnavailable, err)
	}

	if err := s.repo.AttachExternalTransaction(callCtx, intent.ID, resp.TransactionID, resp.RedirectURL); err != nil {
		if errors.Is(err, store.ErrDuplicateExternalTransactionID) {
			log.Printf("level=error component=checkout msg=\"processor reused a transaction id\" intent_id=%s external_transaction_id=%s", intent.ID, resp.TransactionID)
			s.failIntent(ctx, intent.ID, "processor returned a transaction id owned by another intent")
			return nil, fmt.Errorf("%w: duplicate transaction id", ErrProcessorUnavailable)
		}
		// The webhook can still match this intent through the reference it echoes back.
		log.Printf("level=warn component=checkout msg=\"failed to attach external transaction\" intent_id=%s external_transaction_id=%s err=%v", intent.ID, resp.TransactionID, err)
	}

	log.Printf("level=info component=checkout msg=\"checkout opened\" intent_id=%s external_transaction_id=%s amount=%d currency=%s", intent.ID, resp.TransactionID, intent.Amount, intent.Currency)
	id := intent.ID
	return &CheckoutResult{Mode: CheckoutModeRedirect, Target: resp.RedirectURL, IntentID: &id}, nil
}

// HasPendingPayment reports whether the learner has an open checkout for the course.
// Handlers use it to tell "enrollment pending" apart from "enrollment required".
func (s *CheckoutService) HasPendingPayment(ctx context.Context, learnerID string, courseID uuid.UUID) bool {
	_, err := s.repo.FindOpenPaymentIntent(ctx, learnerID, courseID, s.now().Add(-s.cfg.IntentTTL))
	return err == nil
}

func (s *CheckoutService) admitCheckout(ctx context.Context, learnerID string, courseID uuid.UUID) error {
	if s.limiter == nil {
		return nil
	}
	wait, err := s.limiter.AllowCheckout(ctx, learnerID, courseID)
	if err != nil {
		log.Printf("level=warn component=checkout msg=\"checkout limiter unavailable; allowing request\" err=%v", err)
		return nil
	}
	if wait > 0 {
		return &RateLimitError{RetryAfterSeconds: retryAfterSeconds(wait)}
	}
	return nil
}

// isProcessorRejection reports whether the processor definitively refused the checkout,
// as opposed to a transport failure whose outcome we never observed.
func isProcessorRejection(err error) bool {
	if errors.Is(err, paymentclient.ErrIncompleteResponse) {
		return true
	}
	var apiErr *paymentclient.ErrorResponse
	return errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500
}

func (s *CheckoutService) failIntent(ctx context.Context, intentID uuid.UUID, reason string) {
	failCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, err := s.repo.MarkPaymentIntentFailed(failCtx, intentID, reason); err != nil {
		log.Printf("level=error component=checkout msg=\"failed to mark intent failed\" intent_id=%s err=%v", intentID, err)
	}
}

func withIntentParam(rawURL string, intentID uuid.UUID) string {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	q := u.Query()
	q.Set("intent_id", intentID.String())
	u.RawQuery = q.Encode()
	return u.String()
}
