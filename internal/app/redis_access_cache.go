package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisAccessCache stores enrollment grants in Redis with a TTL.
type RedisAccessCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisAccessCache(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisAccessCache {
	trimmedPrefix := strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if trimmedPrefix == "" {
		trimmedPrefix = "enrollment"
	}
	return &RedisAccessCache{client: client, prefix: trimmedPrefix, ttl: ttl}
}

func (c *RedisAccessCache) key(learnerID string, courseID uuid.UUID) string {
	return fmt.Sprintf("%s:access:%s:%s", c.prefix, courseID, learnerID)
}

func (c *RedisAccessCache) IsGranted(ctx context.Context, learnerID string, courseID uuid.UUID) (bool, error) {
	if c == nil || c.client == nil {
		return false, nil
	}
	_, err := c.client.Get(ctx, c.key(learnerID, courseID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (c *RedisAccessCache) MarkGranted(ctx context.Context, learnerID string, courseID uuid.UUID) error {
	if c == nil || c.client == nil || c.ttl <= 0 {
		return nil
	}
	return c.client.Set(ctx, c.key(learnerID, courseID), "1", c.ttl).Err()
}
