// Package cache provides the best-effort byte caches used by the Engine to
// accelerate identity and document lookups.
//
//   - [Redis]: shared cache on go-redis, pattern deletes via SCAN + DEL
//   - [LRU]: in-process expirable LRU for single-instance deployments
//   - [Nop]: always misses
//
// Every implementation returns [ErrCacheMiss] for absent keys. Callers treat
// any other error as a miss as well.
package cache
