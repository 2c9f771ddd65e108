package redisx

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/cafeteria-pos/internal/orders"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// Cache is the order service's view of Redis. Redis is never the source of
// truth: callers treat every error as a miss.
type Cache struct {
	R *redis.Client
}

func (c *Cache) LookupIdempotent(ctx context.Context, key string) (int64, bool, error) {
	s, err := c.R.Get(ctx, fmt.Sprintf(KeyIdemOrderCreate, key)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("idempotency key %q: %w", key, err)
	}
	return id, true, nil
}

func (c *Cache) RememberIdempotent(ctx context.Context, key string, orderID int64) error {
	return c.R.Set(ctx, fmt.Sprintf(KeyIdemOrderCreate, key), orderID, TTLIdempotency).Err()
}

func (c *Cache) CacheStatus(ctx context.Context, orderID int64, status orders.Status) error {
	return c.R.Set(ctx, fmt.Sprintf(KeyOrderStatus, orderID), string(status), TTLStatusCache).Err()
}

func (c *Cache) CachedStatus(ctx context.Context, orderID int64) (orders.Status, bool, error) {
	s, err := c.R.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return orders.Status(s), true, nil
}

// ForgetStatus drops the cached status of orderID.
func (c *Cache) ForgetStatus(ctx context.Context, orderID int64) error {
	return c.R.Del(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Err()
}

// FirstSeen records eventID for service and reports whether this is the
// first time it was seen.
func (c *Cache) FirstSeen(ctx context.Context, service, eventID string) (bool, error) {
	return c.R.SetNX(ctx, fmt.Sprintf(KeyDedup, service, eventID), "1", TTLDedup).Result()
}
