package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/phrazzld/dispatch/internal/task"
)

// Redis is a Cache backed by a shared redis client. The client owns a
// connection pool and is created once per process; every Redis cache
// and any other redis consumer share it rather than dialing per
// request.
type Redis struct {
	client *redis.Client
}

// NewRedis wraps an already constructed client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Get returns the cached value. Expiry is enforced server-side by the
// TTL passed to Set.
func (r *Redis) Get(ctx context.Context, kind task.Kind, fingerprint string) ([]byte, bool, error) {
	val, err := r.client.Get(ctx, Key(kind, fingerprint)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache get: %w", err)
	}
	return val, true, nil
}

// Set stores value with the given TTL. Last writer wins.
func (r *Redis) Set(ctx context.Context, kind task.Kind, fingerprint string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, Key(kind, fingerprint), value, ttl).Err(); err != nil {
		return fmt.Errorf("cache set: %w", err)
	}
	return nil
}

// Invalidate removes the key.
func (r *Redis) Invalidate(ctx context.Context, kind task.Kind, fingerprint string) error {
	if err := r.client.Del(ctx, Key(kind, fingerprint)).Err(); err != nil {
		return fmt.Errorf("cache invalidate: %w", err)
	}
	return nil
}
