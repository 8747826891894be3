package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/annievinnie/E-learning-sub001/internal/domain"
	"github.com/annievinnie/E-learning-sub001/internal/store"
	"github.com/annievinnie/E-learning-sub001/pkg/rabbitmq"
	"github.com/google/uuid"
)

type publishedMessage struct {
	exchange   string
	routingKey string
	body       []byte
}

type recordingPublisher struct {
	mu        sync.Mutex
	published []publishedMessage
	failNext  int
	closed    int
}

func (p *recordingPublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failNext > 0 {
		p.failNext--
		return errors.New("broker unavailable")
	}
	blob, err := json.Marshal(body)
	if err != nil {
		return err
	}
	p.published = append(p.published, publishedMessage{exchange: exchange, routingKey: routingKey, body: blob})
	return nil
}

func (p *recordingPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed++
}

// countingDialer hands out publisher on every dial, or failures while dialErr is set.
type countingDialer struct {
	publisher *recordingPublisher
	dialErr   error
	dials     int
}

func (d *countingDialer) dial() (rabbitmq.Publisher, error) {
	d.dials++
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	return d.publisher, nil
}

func TestOutboxDispatcher_PublishesEnrollmentEvents(t *testing.T) {
	repo := store.NewMemoryRepository("learning.events")
	courseID := uuid.New()
	if _, err := repo.CreateEnrollment(context.Background(), domain.NewFreeEnrollment("user_learner", courseID, time.Now())); err != nil {
		t.Fatalf("unexpected seed error: %v", err)
	}
	publisher := &recordingPublisher{}
	dialer := &countingDialer{publisher: publisher}
	dispatcher := NewOutboxDispatcher(repo, dialer.dial)

	published, err := dispatcher.flushOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if published != 1 || len(publisher.published) != 1 {
		t.Fatalf("expected one published message, got %d", published)
	}

	msg := publisher.published[0]
	if msg.exchange != "learning.events" || msg.routingKey != domain.RoutingKeyEnrollmentCreated {
		t.Fatalf("unexpected destination %s/%s", msg.exchange, msg.routingKey)
	}
	var event domain.EnrollmentCreatedEvent
	if err := json.Unmarshal(msg.body, &event); err != nil {
		t.Fatalf("expected the stored payload to be published verbatim, got %v", err)
	}
	if event.LearnerID != "user_learner" || event.CourseID != courseID {
		t.Fatalf("unexpected event payload: %+v", event)
	}
	if pending := repo.PendingOutbox(); len(pending) != 0 {
		t.Fatalf("expected empty outbox, got %v", pending)
	}
	if dialer.dials != 1 {
		t.Fatalf("expected a single dial, got %d", dialer.dials)
	}
}

func TestOutboxDispatcher_FailedPublishIsRetriedLater(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	repo := store.NewMemoryRepository("")
	repo.SetClock(func() time.Time { return now })
	if _, err := repo.CreateEnrollment(context.Background(), domain.NewFreeEnrollment("user_learner", uuid.New(), now)); err != nil {
		t.Fatalf("unexpected seed error: %v", err)
	}
	publisher := &recordingPublisher{failNext: 1}
	dialer := &countingDialer{publisher: publisher}
	dispatcher := NewOutboxDispatcher(repo, dialer.dial)

	if published, _ := dispatcher.flushOnce(context.Background()); published != 0 {
		t.Fatalf("expected nothing published on broker failure, got %d", published)
	}
	if publisher.closed != 1 {
		t.Fatalf("expected the broken producer to be closed, got %d closes", publisher.closed)
	}
	if published, _ := dispatcher.flushOnce(context.Background()); published != 0 {
		t.Fatalf("expected the message to wait for its backoff, got %d", published)
	}

	now = now.Add(5 * time.Second)
	if published, _ := dispatcher.flushOnce(context.Background()); published != 1 {
		t.Fatalf("expected the retry to publish, got %d", published)
	}
	if dialer.dials != 2 {
		t.Fatalf("expected a redial after the failed publish, got %d dials", dialer.dials)
	}
}

func TestOutboxDispatcher_UnreachableBrokerKeepsEventsPending(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	repo := store.NewMemoryRepository("")
	repo.SetClock(func() time.Time { return now })
	for i := 0; i < 3; i++ {
		if _, err := repo.CreateEnrollment(context.Background(), domain.NewFreeEnrollment("user_learner", uuid.New(), now)); err != nil {
			t.Fatalf("unexpected seed error: %v", err)
		}
	}
	publisher := &recordingPublisher{}
	dialer := &countingDialer{publisher: publisher, dialErr: errors.New("dial tcp: connection refused")}
	dispatcher := NewOutboxDispatcher(repo, dialer.dial)

	published, err := dispatcher.flushOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if published != 0 {
		t.Fatalf("expected nothing published while the broker is down, got %d", published)
	}
	if pending := repo.PendingOutbox(); len(pending) != 3 {
		t.Fatalf("expected all events to stay pending, got %v", pending)
	}
	if dialer.dials != 1 {
		t.Fatalf("expected one dial attempt per batch, got %d", dialer.dials)
	}

	dialer.dialErr = nil
	now = now.Add(5 * time.Second)
	if published, _ := dispatcher.flushOnce(context.Background()); published != 3 {
		t.Fatalf("expected the backlog to publish once the broker is back, got %d", published)
	}
	if pending := repo.PendingOutbox(); len(pending) != 0 {
		t.Fatalf("expected empty outbox, got %v", pending)
	}
}

func TestOutboxDispatcher_WithoutDialerNeverMarksPublished(t *testing.T) {
	repo := store.NewMemoryRepository("")
	if _, err := repo.CreateEnrollment(context.Background(), domain.NewFreeEnrollment("user_learner", uuid.New(), time.Now())); err != nil {
		t.Fatalf("unexpected seed error: %v", err)
	}

	if published, _ := NewOutboxDispatcher(repo, nil).flushOnce(context.Background()); published != 0 {
		t.Fatalf("expected nothing published, got %d", published)
	}
	if pending := repo.PendingOutbox(); len(pending) != 1 {
		t.Fatalf("expected the event to stay pending, got %v", pending)
	}
}

func TestOutboxDispatcher_RunStopsOnCancel(t *testing.T) {
	dispatcher := NewOutboxDispatcher(store.NewMemoryRepository(""), (&countingDialer{publisher: &recordingPublisher{}}).dial)
	dispatcher.pollInterval = 5 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatcher.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected Run to return after cancellation")
	}
}

func TestRetryDelaySeconds(t *testing.T) {
	tests := []struct {
		attempt int
		want    int
	}{
		{attempt: 0, want: 1},
		{attempt: 1, want: 2},
		{attempt: 4, want: 16},
		{attempt: 8, want: 256},
		{attempt: 9, want: 300},
		{attempt: 50, want: 300},
	}
	for _, tt := range tests {
		if got := retryDelaySeconds(tt.attempt); got != tt.want {
			t.Fatalf("attempt %d: expected %d, got %d", tt.attempt, tt.want, got)
		}
	}
}
