package cache

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss is returned by Get for absent or expired keys.
var ErrCacheMiss = errors.New("cache miss")

// Nop is a cache that stores nothing.
type Nop struct{}

func (Nop) Get(context.Context, string) ([]byte, error) { return nil, ErrCacheMiss }

func (Nop) Set(context.Context, string, []byte, time.Duration) error { return nil }

func (Nop) Delete(context.Context, ...string) error { return nil }

func (Nop) DeleteByPattern(context.Context, string) error { return nil }

func (Nop) Fence(context.Context, string) (string, error) { return "", nil }

func (Nop) SetFenced(context.Context, string, string, string, []byte, time.Duration) (bool, error) {
	return true, nil
}

func (Nop) Bump(context.Context, string) error { return nil }
