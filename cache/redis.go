package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const scanBatch = 256

// fenceTTL bounds how long an idle fence counter is kept. A lookup would
// have to stall this long between Fence and SetFenced to miss a bump.
const fenceTTL = 24 * time.Hour

// errFenceMoved aborts a fenced write whose scope was bumped.
var errFenceMoved = errors.New("cache fence moved")

// Redis stores entries under a key prefix in a Redis deployment.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

// NewRedis wraps client. prefix is prepended to every key, e.g. "pg:".
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return raw, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = r.prefix + k
	}
	if err := r.client.Del(ctx, prefixed...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// DeleteByPattern removes every key matching the glob pattern. It walks the
// keyspace with SCAN so it never blocks the server the way KEYS would.
func (r *Redis) DeleteByPattern(ctx context.Context, pattern string) error {
	iter := r.client.Scan(ctx, 0, r.prefix+pattern, scanBatch).Iterator()
	batch := make([]string, 0, scanBatch)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatch {
			if err := r.client.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("redis del: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}
	if len(batch) > 0 {
		if err := r.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
	}
	return nil
}

func (r *Redis) fenceKey(scope string) string {
	return r.prefix + "fence:" + scope
}

// Fence returns the current counter of scope.
func (r *Redis) Fence(ctx context.Context, scope string) (string, error) {
	v, err := r.client.Get(ctx, r.fenceKey(scope)).Result()
	if errors.Is(err, redis.Nil) {
		return "0", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis fence: %w", err)
	}
	return v, nil
}

// SetFenced stores value under key only if scope's counter still equals
// fence. The counter is watched, so a Bump between the check and the write
// aborts the transaction.
func (r *Redis) SetFenced(ctx context.Context, scope, fence, key string, value []byte, ttl time.Duration) (bool, error) {
	fenceKey := r.fenceKey(scope)
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, fenceKey).Result()
		if errors.Is(err, redis.Nil) {
			current = "0"
		} else if err != nil {
			return err
		}
		if current != fence {
			return errFenceMoved
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, r.prefix+key, value, ttl)
			return nil
		})
		return err
	}, fenceKey)
	switch {
	case errors.Is(err, errFenceMoved), errors.Is(err, redis.TxFailedErr):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("redis fenced set: %w", err)
	}
	return true, nil
}

// Bump invalidates every counter value issued for scope.
func (r *Redis) Bump(ctx context.Context, scope string) error {
	key := r.fenceKey(scope)
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, fenceTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis bump: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
