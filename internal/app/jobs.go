/**
 * @description
 * Scheduled job implementations for the enrollment-service.
 */
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const intentExpiryJobTimeout = 2 * time.Minute

// IntentExpiryStore is the store operation the expiry sweep needs.
type IntentExpiryStore interface {
	ExpireStalePaymentIntents(ctx context.Context, createdBefore time.Time) (int64, error)
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	repo      IntentExpiryStore
	intentTTL time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewJobs creates a new Jobs runner.
func NewJobs(repo IntentExpiryStore, intentTTL time.Duration, logger *slog.Logger) *Jobs {
	if intentTTL <= 0 {
		intentTTL = 24 * time.Hour
	}
	return &Jobs{
		repo:      repo,
		intentTTL: intentTTL,
		logger:    logger,
		now:       time.Now,
	}
}

// ExpireStalePaymentIntents is the cron entry point for the expiry sweep.
func (j *Jobs) ExpireStalePaymentIntents() {
	j.logger.Info("starting payment intent expiry job")
	ctx, cancel := context.WithTimeout(context.Background(), intentExpiryJobTimeout)
	defer cancel()

	expired, err := j.RunIntentExpiry(ctx)
	if err != nil {
		j.logger.Error("failed to expire stale payment intents", "error", err)
		return
	}

	j.logger.Info("payment intent expiry job finished", "expired", expired)
}

// RunIntentExpiry moves pending intents older than the TTL to expired and returns how many moved.
// An intent completed concurrently keeps its completed status.
func (j *Jobs) RunIntentExpiry(ctx context.Context) (int64, error) {
	cutoff := j.now().UTC().Add(-j.intentTTL)
	expired, err := j.repo.ExpireStalePaymentIntents(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("expire payment intents created before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return expired, nil
}
