package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Processed webhook deliveries are remembered long enough to outlive any
// provider retry schedule.
const processedExpiry = 24 * time.Hour

// RedisStore remembers processed webhook deliveries by provider + event id.
// It implements checkout.DeliveryStore as a fast path in front of the
// authoritative row lock on the payment attempt.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(addr, password string, db int) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

func key(provider, eventID string) string {
	return fmt.Sprintf("webhook:%s:%s", provider, eventID)
}

func (r *RedisStore) Seen(ctx context.Context, provider, eventID string) (bool, error) {
	_, err := r.client.Get(ctx, key(provider, eventID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis GET: %w", err)
	}
	return true, nil
}

func (r *RedisStore) MarkProcessed(ctx context.Context, provider, eventID string) error {
	if err := r.client.Set(ctx, key(provider, eventID), "processed", processedExpiry).Err(); err != nil {
		return fmt.Errorf("redis SET: %w", err)
	}
	return nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
