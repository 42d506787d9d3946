package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrKeyInFlight = errors.New("idempotency key reserved by an in-flight request")
	ErrKeyNotFound = errors.New("idempotency key not found")
)

const inFlightMarker = "pending"

// CheckAndReserve reserves key within namespace if unseen. Returns the cached
// result bytes when a completed request already used the key, ErrKeyInFlight
// when another request holds the reservation, and (nil, nil) when the caller
// now owns the key and should run the operation.
func (c *Client) CheckAndReserve(ctx context.Context, namespace, key string, ttl time.Duration) ([]byte, error) {
	prefixedKey := c.idempotencyKey(namespace, key)

	set, err := c.rdb.SetNX(ctx, prefixedKey, inFlightMarker, ttl).Result()
	if err != nil {
		return nil, err
	}

	if set {
		return nil, nil
	}

	val, err := c.rdb.Get(ctx, prefixedKey).Result()
	if errors.Is(err, redis.Nil) {
		// Reservation expired between SetNX and Get; caller retries.
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, err
	}

	if val == inFlightMarker {
		return nil, ErrKeyInFlight
	}

	return []byte(val), nil
}

// StoreResult caches the completed result for replay under the same key.
func (c *Client) StoreResult(ctx context.Context, namespace, key string, result []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, c.idempotencyKey(namespace, key), result, ttl).Err()
}

// Release frees a reservation after a failed attempt so a retry can run.
func (c *Client) Release(ctx context.Context, namespace, key string) error {
	return c.rdb.Del(ctx, c.idempotencyKey(namespace, key)).Err()
}

func (c *Client) idempotencyKey(namespace, key string) string {
	return c.prefixKey("idempotency:" + namespace + ":" + key)
}
