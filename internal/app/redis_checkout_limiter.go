package app

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// checkoutWindowScript keeps one sorted set of attempt timestamps per learner and course.
// It returns -1 when the attempt is admitted, otherwise the milliseconds until the
// oldest attempt leaves the window. Refused attempts are not recorded.
var checkoutWindowScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local attempts = tonumber(ARGV[3])
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", now - window)
if redis.call("ZCARD", KEYS[1]) < attempts then
  redis.call("ZADD", KEYS[1], now, ARGV[4])
  redis.call("PEXPIRE", KEYS[1], window)
  return -1
end
local oldest = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
return math.max(tonumber(oldest[2]) + window - now, 1)
`)

// CheckoutLimiter throttles repeated checkout attempts by one learner on one course.
// A zero wait admits the attempt.
type CheckoutLimiter interface {
	AllowCheckout(ctx context.Context, learnerID string, courseID uuid.UUID) (wait time.Duration, err error)
}

// RedisCheckoutLimiter is a sliding-window CheckoutLimiter shared by every replica.
type RedisCheckoutLimiter struct {
	client   redis.UniversalClient
	prefix   string
	attempts int
	window   time.Duration
	now      func() time.Time
}

// NewRedisCheckoutLimiter admits at most attempts checkouts per learner and course in any window.
func NewRedisCheckoutLimiter(client redis.UniversalClient, prefix string, attempts int, window time.Duration) *RedisCheckoutLimiter {
	trimmedPrefix := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmedPrefix == "" {
		trimmedPrefix = "enrollment"
	}
	if window < time.Second {
		window = time.Second
	}
	return &RedisCheckoutLimiter{
		client:   client,
		prefix:   trimmedPrefix,
		attempts: attempts,
		window:   window,
		now:      time.Now,
	}
}

func (l *RedisCheckoutLimiter) key(learnerID string, courseID uuid.UUID) string {
	return fmt.Sprintf("%s:checkout_attempts:%s:%s", l.prefix, courseID, learnerID)
}

func (l *RedisCheckoutLimiter) AllowCheckout(ctx context.Context, learnerID string, courseID uuid.UUID) (time.Duration, error) {
	if l == nil || l.client == nil || l.attempts <= 0 {
		return 0, nil
	}
	learnerID = strings.TrimSpace(learnerID)
	if learnerID == "" {
		return 0, nil
	}

	waitMs, err := checkoutWindowScript.Run(ctx, l.client,
		[]string{l.key(learnerID, courseID)},
		l.now().UnixMilli(), l.window.Milliseconds(), l.attempts, uuid.NewString(),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("checkout limiter script failed: %w", err)
	}
	if waitMs < 0 {
		return 0, nil
	}
	return time.Duration(waitMs) * time.Millisecond, nil
}

// retryAfterSeconds rounds a wait up to whole seconds for the Retry-After header.
func retryAfterSeconds(wait time.Duration) int {
	seconds := int(math.Ceil(wait.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}
