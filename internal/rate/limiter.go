package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable wraps Redis failures.
var ErrUnavailable = errors.New("rate limiter unavailable")

// Config bounds failures per key.
type Config struct {
	MaxFailures int           `mapstructure:"max_failures"`
	Window      time.Duration `mapstructure:"window"`
	Prefix      string        `mapstructure:"prefix"`
}

func DefaultConfig() Config {
	return Config{
		MaxFailures: 10,
		Window:      15 * time.Minute,
		Prefix:      "lf:",
	}
}

// Limiter is a Redis-backed failed-login counter.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a Limiter. Zero config fields take their defaults.
func New(client redis.UniversalClient, cfg Config) *Limiter {
	def := DefaultConfig()
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = def.MaxFailures
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.Prefix == "" {
		cfg.Prefix = def.Prefix
	}
	return &Limiter{redis: client, config: cfg}
}

func (l *Limiter) key(k string) string { return l.config.Prefix + k }

// Allow reports whether key is still within its failure budget.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	count, err := l.redis.Get(ctx, l.key(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return true, nil
	}
	if err != nil {
		return true, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return count < int64(l.config.MaxFailures), nil
}

// Fail records one failure for key. The increment and the window TTL are
// applied in one transaction; EXPIRE NX only sets a TTL the key lacks, so
// the window stays fixed from the first failure.
func (l *Limiter) Fail(ctx context.Context, key string) error {
	k := l.key(key)
	_, err := l.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, k)
		pipe.ExpireNX(ctx, k, l.config.Window)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Reset clears the counter for key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	if err := l.redis.Del(ctx, l.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Failures returns the current counter for key.
func (l *Limiter) Failures(ctx context.Context, key string) (int, error) {
	count, err := l.redis.Get(ctx, l.key(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return int(count), nil
}
