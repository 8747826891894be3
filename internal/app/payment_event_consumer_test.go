package app

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/annievinnie/E-learning-sub001/internal/domain"
	"github.com/annievinnie/E-learning-sub001/internal/store"
	"github.com/google/uuid"
)

type failingIntentStore struct {
	store.Repository
}

func (failingIntentStore) FindPaymentIntentByExternalID(ctx context.Context, externalTransactionID string) (*domain.PaymentIntent, error) {
	return nil, errors.New("connection refused")
}

func relayEnvelope(t *testing.T, n Notification) []byte {
	t.Helper()
	body, err := json.Marshal(domain.RelayedPaymentNotification{Payload: string(n.Payload), Signature: n.Signature})
	if err != nil {
		t.Fatalf("failed to marshal envelope: %v", err)
	}
	return body
}

func TestPaymentEventConsumer_HandleMessage(t *testing.T) {
	repo := store.NewMemoryRepository("")
	course := seedCourse(t, repo, 4999, "user_instructor")
	intent := openCheckout(t, repo, course, "user_learner")
	consumer := NewPaymentEventConsumer(newTestReconciler(repo, &recordingAlerter{}), discardLogger())

	valid := signedNotification(t, completedEvent(intent))
	forged := Notification{Payload: valid.Payload, Signature: "sha256=00"}

	tests := []struct {
		name string
		body []byte
		want bool
	}{
		{name: "undecodable envelope is dropped", body: []byte("not json"), want: true},
		{name: "forged signature is dropped", body: relayEnvelope(t, forged), want: true},
		{name: "valid completion is acked", body: relayEnvelope(t, valid), want: true},
		{name: "redelivery is acked", body: relayEnvelope(t, valid), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := consumer.HandleMessage(tt.body); got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}

	if got := repo.CountEnrollments(course.ID); got != 1 {
		t.Fatalf("expected 1 enrollment, got %d", got)
	}
}

func TestPaymentEventConsumer_StoreFailureRequeues(t *testing.T) {
	reconciler := newTestReconciler(failingIntentStore{}, &recordingAlerter{})
	consumer := NewPaymentEventConsumer(reconciler, discardLogger())

	n := signedNotification(t, domain.PaymentNotification{
		TransactionID: "tx_1",
		EventType:     "completed",
		Amount:        4999,
		Reference:     uuid.NewString(),
	})
	if consumer.HandleMessage(relayEnvelope(t, n)) {
		t.Fatal("expected a store failure to requeue the message")
	}
}
