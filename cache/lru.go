package cache

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/hashicorp/golang-lru/v2/simplelru"
)

type lruEntry struct {
	value     []byte
	expiresAt time.Time
}

// LRU is an in-process cache bounded by entry count. Entries honour the
// per-call TTL and are additionally evicted after maxTTL.
type LRU struct {
	entries *lru.LRU[string, lruEntry]
	now     func() time.Time

	// fenceMu serializes fence bumps with fenced writes. Evicting a fence
	// bumps epoch, which invalidates every token issued before.
	fenceMu sync.Mutex
	fences  *simplelru.LRU[string, uint64]
	epoch   uint64
}

// NewLRU returns an LRU holding at most size entries for at most maxTTL.
func NewLRU(size int, maxTTL time.Duration) *LRU {
	if size < 16 {
		size = 16
	}
	c := &LRU{
		entries: lru.NewLRU[string, lruEntry](size, nil, maxTTL),
		now:     time.Now,
	}
	// cannot fail for a positive size
	c.fences, _ = simplelru.NewLRU[string, uint64](size, func(string, uint64) { c.epoch++ })
	return c
}

func (c *LRU) Get(_ context.Context, key string) ([]byte, error) {
	e, ok := c.entries.Get(key)
	if !ok {
		return nil, ErrCacheMiss
	}
	if !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		c.entries.Remove(key)
		return nil, ErrCacheMiss
	}
	return append([]byte(nil), e.value...), nil
}

func (c *LRU) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := lruEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = c.now().Add(ttl)
	}
	c.entries.Add(key, e)
	return nil
}

func (c *LRU) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		c.entries.Remove(k)
	}
	return nil
}

// DeleteByPattern removes keys matching a path.Match glob.
func (c *LRU) DeleteByPattern(_ context.Context, pattern string) error {
	if _, err := path.Match(pattern, ""); err != nil {
		return fmt.Errorf("lru pattern %q: %w", pattern, err)
	}
	for _, k := range c.entries.Keys() {
		if ok, _ := path.Match(pattern, k); ok {
			c.entries.Remove(k)
		}
	}
	return nil
}

// Fence returns the current token of scope.
func (c *LRU) Fence(_ context.Context, scope string) (string, error) {
	c.fenceMu.Lock()
	defer c.fenceMu.Unlock()
	return c.fenceLocked(scope), nil
}

func (c *LRU) fenceLocked(scope string) string {
	gen, _ := c.fences.Peek(scope)
	return strconv.FormatUint(c.epoch, 10) + "." + strconv.FormatUint(gen, 10)
}

// SetFenced stores value under key only if scope's token still equals fence.
func (c *LRU) SetFenced(ctx context.Context, scope, fence, key string, value []byte, ttl time.Duration) (bool, error) {
	c.fenceMu.Lock()
	defer c.fenceMu.Unlock()
	if c.fenceLocked(scope) != fence {
		return false, nil
	}
	return true, c.Set(ctx, key, value, ttl)
}

// Bump invalidates every token issued for scope.
func (c *LRU) Bump(_ context.Context, scope string) error {
	c.fenceMu.Lock()
	defer c.fenceMu.Unlock()
	gen, _ := c.fences.Peek(scope)
	c.fences.Add(scope, gen+1)
	return nil
}

// Len reports the number of live entries.
func (c *LRU) Len() int {
	return c.entries.Len()
}
