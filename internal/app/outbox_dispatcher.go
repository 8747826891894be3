package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/annievinnie/E-learning-sub001/internal/store"
	"github.com/annievinnie/E-learning-sub001/pkg/rabbitmq"
)

const (
	defaultOutboxBatchSize       = 50
	defaultOutboxPollInterval    = 1200 * time.Millisecond
	defaultOutboxStaleProcessing = 2 * time.Minute
	maxOutboxRetryDelaySeconds   = 300
)

var errBrokerUnavailable = errors.New("broker unavailable")

// OutboxStore is the slice of the repository the dispatcher drives.
type OutboxStore interface {
	ClaimOutboxMessages(ctx context.Context, limit int, staleAfterSeconds int) ([]store.OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, id int64) error
	MarkOutboxFailed(ctx context.Context, id int64, retryAfterSeconds int, lastError string) error
}

// PublisherDialer opens a broker connection for the dispatcher.
type PublisherDialer func() (rabbitmq.Publisher, error)

// OutboxDispatcher relays committed domain events from the outbox table to the broker.
// It dials its own producer on demand and drops it after a failed publish, so rows
// stay pending while the broker is unreachable.
type OutboxDispatcher struct {
	repo                OutboxStore
	dial                PublisherDialer
	publisher           rabbitmq.Publisher
	batchSize           int
	pollInterval        time.Duration
	staleProcessingTime time.Duration
}

func NewOutboxDispatcher(repo OutboxStore, dial PublisherDialer) *OutboxDispatcher {
	return &OutboxDispatcher{
		repo:                repo,
		dial:                dial,
		batchSize:           defaultOutboxBatchSize,
		pollInterval:        defaultOutboxPollInterval,
		staleProcessingTime: defaultOutboxStaleProcessing,
	}
}

func (d *OutboxDispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.closePublisher()
			return
		case <-ticker.C:
			if _, err := d.flushOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Printf("level=error component=outbox_dispatcher msg=\"outbox flush failed\" err=%v", err)
			}
		}
	}
}

// flushOnce publishes one claimed batch and returns how many messages were published.
func (d *OutboxDispatcher) flushOnce(ctx context.Context) (int, error) {
	staleAfterSeconds := int(d.staleProcessingTime.Seconds())
	messages, err := d.repo.ClaimOutboxMessages(ctx, d.batchSize, staleAfterSeconds)
	if err != nil {
		return 0, err
	}

	published := 0
	var brokerErr error
	for _, message := range messages {
		err := brokerErr
		if err == nil {
			err = d.publishMessage(ctx, message)
			if errors.Is(err, errBrokerUnavailable) {
				brokerErr = err
			}
		}
		if err != nil {
			retryAfter := retryDelaySeconds(message.Attempts)
			log.Printf("level=warn component=outbox_dispatcher msg=\"publish failed; scheduling retry\" id=%d routing_key=%s retry_after_seconds=%d err=%v", message.ID, message.RoutingKey, retryAfter, err)
			if markErr := d.repo.MarkOutboxFailed(ctx, message.ID, retryAfter, err.Error()); markErr != nil {
				log.Printf("level=error component=outbox_dispatcher msg=\"failed to mark outbox message failed\" id=%d err=%v", message.ID, markErr)
			}
			continue
		}
		if err := d.repo.MarkOutboxPublished(ctx, message.ID); err != nil {
			log.Printf("level=error component=outbox_dispatcher msg=\"failed to mark outbox message published\" id=%d err=%v", message.ID, err)
			continue
		}
		published++
	}
	return published, nil
}

func (d *OutboxDispatcher) publishMessage(ctx context.Context, message store.OutboxMessage) error {
	if !json.Valid(message.Payload) {
		return errors.New("outbox payload is not valid JSON")
	}
	if d.publisher == nil {
		if d.dial == nil {
			return errBrokerUnavailable
		}
		publisher, err := d.dial()
		if err != nil {
			return fmt.Errorf("%w: %v", errBrokerUnavailable, err)
		}
		d.publisher = publisher
	}

	if err := d.publisher.Publish(ctx, message.Exchange, message.RoutingKey, json.RawMessage(message.Payload)); err != nil {
		d.closePublisher()
		return err
	}
	return nil
}

func (d *OutboxDispatcher) closePublisher() {
	if d.publisher != nil {
		d.publisher.Close()
		d.publisher = nil
	}
}

func retryDelaySeconds(attempt int) int {
	if attempt < 1 {
		return 1
	}
	delay := 1 << min(attempt, 9)
	if delay > maxOutboxRetryDelaySeconds {
		return maxOutboxRetryDelaySeconds
	}
	return delay
}
