// Package idempotency provides the at-most-once execution guard used by
// every workflow command. The relational store's unique key columns are the
// authoritative duplicate check; this guard is the fast path that answers
// replays from cache and blocks concurrent in-flight duplicates.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/carebook/paydesk/internal/errs"
	redispkg "github.com/carebook/paydesk/internal/redis"
)

// Cache is the reservation backend. *redis.Client implements it; tests and
// single-node deployments use the in-memory implementation.
type Cache interface {
	CheckAndReserve(ctx context.Context, namespace, key string, ttl time.Duration) ([]byte, error)
	StoreResult(ctx context.Context, namespace, key string, result []byte, ttl time.Duration) error
	Release(ctx context.Context, namespace, key string) error
}

type Guard struct {
	cache Cache
	ttl   time.Duration
	log   *zerolog.Logger
}

func NewGuard(cache Cache, ttl time.Duration, log *zerolog.Logger) *Guard {
	return &Guard{cache: cache, ttl: ttl, log: log}
}

// Execute runs op at most once per (namespace, key). A replayed key returns
// the recorded result without re-running op. An empty key forfeits
// idempotency and runs op directly; fresh keys are the calling boundary's
// job, never generated here.
func Execute[T any](ctx context.Context, g *Guard, namespace, key string, op func(ctx context.Context) (T, error)) (T, bool, error) {
	var zero T

	if key == "" || g == nil || g.cache == nil {
		result, err := op(ctx)
		return result, false, err
	}

	cached, err := g.cache.CheckAndReserve(ctx, namespace, key, g.ttl)
	if err != nil && !errors.Is(err, redispkg.ErrKeyNotFound) {
		if errors.Is(err, redispkg.ErrKeyInFlight) {
			return zero, false, errs.Conflict("request with idempotency key %s is already in progress", key)
		}
		// Cache unavailable. The store's unique constraints still hold the
		// at-most-once line, so proceed rather than fail the command.
		g.log.Warn().Err(err).Str("namespace", namespace).Msg("idempotency cache unavailable, falling through to store")
		result, opErr := op(ctx)
		return result, false, opErr
	}

	if cached != nil {
		var result T
		if err := json.Unmarshal(cached, &result); err != nil {
			g.log.Warn().Err(err).Str("namespace", namespace).Msg("cached idempotency result unreadable, re-executing")
		} else {
			return result, true, nil
		}
	}

	result, err := op(ctx)
	if err != nil {
		// Only completed commands are replayable. Domain rejections and
		// store failures release the key so a corrected retry can run.
		if releaseErr := g.cache.Release(ctx, namespace, key); releaseErr != nil {
			g.log.Warn().Err(releaseErr).Str("namespace", namespace).Msg("failed to release idempotency reservation")
		}
		return zero, false, err
	}

	encoded, marshalErr := json.Marshal(result)
	if marshalErr != nil {
		g.log.Warn().Err(marshalErr).Str("namespace", namespace).Msg("failed to encode idempotency result for caching")
		return result, false, nil
	}
	if storeErr := g.cache.StoreResult(ctx, namespace, key, encoded, g.ttl); storeErr != nil {
		g.log.Warn().Err(storeErr).Str("namespace", namespace).Msg("failed to cache idempotency result")
	}

	return result, false, nil
}
