package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/annievinnie/E-learning-sub001/internal/domain"
	"github.com/annievinnie/E-learning-sub001/internal/store"
	"github.com/google/uuid"
)

type expiryStoreStub struct {
	cutoff  time.Time
	expired int64
	err     error
	calls   int
}

func (s *expiryStoreStub) ExpireStalePaymentIntents(ctx context.Context, createdBefore time.Time) (int64, error) {
	s.calls++
	s.cutoff = createdBefore
	if s.err != nil {
		return 0, s.err
	}
	return s.expired, nil
}

func TestRunIntentExpiry_UsesTTLCutoff(t *testing.T) {
	fixed := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	repo := &expiryStoreStub{expired: 3}
	jobs := NewJobs(repo, 6*time.Hour, discardLogger())
	jobs.now = func() time.Time { return fixed }

	expired, err := jobs.RunIntentExpiry(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if expired != 3 {
		t.Fatalf("expected 3 expired, got %d", expired)
	}
	if want := fixed.Add(-6 * time.Hour); !repo.cutoff.Equal(want) {
		t.Fatalf("expected cutoff %s, got %s", want, repo.cutoff)
	}
}

func TestRunIntentExpiry_DefaultTTLAndErrors(t *testing.T) {
	repo := &expiryStoreStub{err: errors.New("db down")}
	jobs := NewJobs(repo, 0, discardLogger())
	if jobs.intentTTL != 24*time.Hour {
		t.Fatalf("expected default ttl of 24h, got %s", jobs.intentTTL)
	}

	if _, err := jobs.RunIntentExpiry(context.Background()); err == nil {
		t.Fatal("expected store error to propagate")
	}

	// The cron entry logs and swallows the failure.
	jobs.ExpireStalePaymentIntents()
	if repo.calls != 2 {
		t.Fatalf("expected 2 store calls, got %d", repo.calls)
	}
}

func TestRunIntentExpiry_CompletedIntentSurvivesSweep(t *testing.T) {
	repo := store.NewMemoryRepository("")
	course := seedCourse(t, repo, 4999, "user_instructor")
	paid := openCheckout(t, repo, course, "user_paid")
	abandoned := openCheckout(t, repo, course, "user_abandoned")
	if _, err := newTestReconciler(repo, &recordingAlerter{}).Reconcile(context.Background(), signedNotification(t, completedEvent(paid))); err != nil {
		t.Fatalf("unexpected reconcile error: %v", err)
	}

	jobs := NewJobs(repo, time.Hour, discardLogger())
	jobs.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	expired, err := jobs.RunIntentExpiry(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if expired != 1 {
		t.Fatalf("expected 1 expired intent, got %d", expired)
	}

	statuses := map[uuid.UUID]string{paid.ID: domain.PaymentStatusCompleted, abandoned.ID: domain.PaymentStatusExpired}
	for id, want := range statuses {
		intent, _ := repo.FindPaymentIntentByID(context.Background(), id)
		if intent.Status != want {
			t.Fatalf("intent %s: expected status %s, got %s", id, want, intent.Status)
		}
	}
}

func TestScheduler_RejectsInvalidSchedule(t *testing.T) {
	jobs := NewJobs(&expiryStoreStub{}, time.Hour, discardLogger())

	if err := NewScheduler(jobs, discardLogger(), "every now and then").Start(); err == nil {
		t.Fatal("expected an invalid cron spec to be rejected")
	}

	s := NewScheduler(jobs, discardLogger(), "")
	if s.expirySchedule != defaultIntentExpirySchedule {
		t.Fatalf("expected default schedule, got %q", s.expirySchedule)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	<-s.Stop().Done()
}
