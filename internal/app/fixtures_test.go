package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/annievinnie/E-learning-sub001/internal/domain"
	"github.com/annievinnie/E-learning-sub001/internal/store"
	"github.com/annievinnie/E-learning-sub001/pkg/paymentclient"
	"github.com/google/uuid"
)

const testWebhookSecret = "whsec_test_secret"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingAlerter struct {
	mu     sync.Mutex
	alerts []domain.PaymentAlert
}

func (a *recordingAlerter) Alert(ctx context.Context, alert domain.PaymentAlert) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, alert)
}

func (a *recordingAlerter) kinds() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	kinds := make([]string, 0, len(a.alerts))
	for _, alert := range a.alerts {
		kinds = append(kinds, alert.Kind)
	}
	return kinds
}

type stubProcessor struct {
	mu       sync.Mutex
	calls    []paymentclient.CheckoutRequest
	err      error
	txPrefix string
	ctxErrs  []error
	// onCall runs before the stub answers, so tests can inspect store state at call time.
	onCall func(req paymentclient.CheckoutRequest)
}

func (p *stubProcessor) CreateCheckout(ctx context.Context, req paymentclient.CheckoutRequest) (*paymentclient.CheckoutResponse, error) {
	p.mu.Lock()
	p.calls = append(p.calls, req)
	p.ctxErrs = append(p.ctxErrs, ctx.Err())
	n := len(p.calls)
	p.mu.Unlock()

	if p.onCall != nil {
		p.onCall(req)
	}
	if p.err != nil {
		return nil, p.err
	}
	prefix := p.txPrefix
	if prefix == "" {
		prefix = "tx"
	}
	txID := fmt.Sprintf("%s_%d_%s", prefix, n, req.Reference)
	return &paymentclient.CheckoutResponse{
		TransactionID: txID,
		RedirectURL:   "https://pay.example.com/checkout/" + txID,
	}, nil
}

func (p *stubProcessor) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// countingLimiter admits limit attempts per learner and course, then asks for a 42s wait.
type countingLimiter struct {
	mu     sync.Mutex
	limit  int
	counts map[string]int
	err    error
}

func (l *countingLimiter) AllowCheckout(ctx context.Context, learnerID string, courseID uuid.UUID) (time.Duration, error) {
	if l.err != nil {
		return 0, l.err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.counts == nil {
		l.counts = make(map[string]int)
	}
	key := learnerID + ":" + courseID.String()
	if l.counts[key] >= l.limit {
		return 42 * time.Second, nil
	}
	l.counts[key]++
	return 0, nil
}

func seedCourse(t *testing.T, repo *store.MemoryRepository, price int64, instructorID string) domain.Course {
	t.Helper()
	course, err := repo.UpsertCourse(context.Background(), domain.Course{
		ID:           uuid.New(),
		Title:        "Distributed Systems",
		Price:        price,
		Currency:     "USD",
		InstructorID: instructorID,
	})
	if err != nil {
		t.Fatalf("expected course upsert to succeed, got %v", err)
	}
	return *course
}

func signedNotification(t *testing.T, event domain.PaymentNotification) Notification {
	t.Helper()
	payload, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("failed to marshal notification: %v", err)
	}
	return Notification{Payload: payload, Signature: SignPayload([]byte(testWebhookSecret), payload)}
}

func newTestCheckout(repo store.Repository, processor CheckoutProcessor) *CheckoutService {
	return NewCheckoutService(repo, processor, nil, CheckoutConfig{
		SuccessURL:      "https://learn.example.com/checkout/success",
		CancelURL:       "https://learn.example.com/checkout/cancel",
		DefaultCurrency: "USD",
		IntentTTL:       24 * time.Hour,
	})
}

func newTestReconciler(repo store.Repository, alerter Alerter) *Reconciler {
	return NewReconciler(repo, testWebhookSecret, alerter, discardLogger())
}
