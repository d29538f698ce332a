package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/packguard"
	"github.com/MrEthical07/packguard/cache"
	"github.com/MrEthical07/packguard/permission"
	"github.com/MrEthical07/packguard/store/memory"
)

const loadtestPassword = "loadtest-password"

type user struct {
	identity *packguard.Identity
	access   string
}

func main() {
	var (
		users       = flag.Int("users", 100, "number of identities to seed")
		docs        = flag.Int("docs", 1000, "number of documents to seed")
		shares      = flag.Int("shares", 3, "shares granted per document")
		concurrency = flag.Int("concurrency", 64, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "operations per phase (authenticate + authorize)")
		cacheKind   = flag.String("cache", "lru", "cache backend: none|lru|redis")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
	)
	flag.Parse()

	if *users <= 0 || *docs <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "users, docs, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	c, cleanup, err := openCache(*cacheKind, *redisAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cache: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	store := memory.New()
	cfg := packguard.DefaultConfig()
	cfg.JWT.AccessSecret = strings.Repeat("a", 32)
	cfg.JWT.RefreshSecret = strings.Repeat("r", 32)
	cfg.JWT.TwoFactorSecret = strings.Repeat("t", 32)
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Audit.Enabled = false

	b := packguard.New().
		WithConfig(cfg).
		WithIdentityStore(store).
		WithDocumentStore(store).
		WithCodeSender(discardSender{})
	if c != nil {
		b.WithCache(c)
	}
	engine, err := b.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	fmt.Printf("seeding %d users, %d documents...\n", *users, *docs)
	startSeed := time.Now()
	seeded, err := seed(ctx, engine, store, *users, *docs, *shares)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	authStats := runPhase(*ops, *concurrency, func(r *rand.Rand) error {
		_, err := engine.Authenticate(ctx, seeded[r.Intn(len(seeded))].access)
		return err
	})
	authzStats := runPhase(*ops, *concurrency, func(r *rand.Rand) error {
		u := seeded[r.Intn(len(seeded))]
		doc := fmt.Sprintf("doc-%d", r.Intn(*docs))
		_, err := engine.AuthorizeDocument(ctx, u.identity, doc, permission.ActionView)
		// denials are expected outcomes
		if errors.Is(err, packguard.ErrForbidden) {
			return nil
		}
		return err
	})

	fmt.Println("---- results ----")
	printStats("authenticate", authStats)
	printStats("authorize", authzStats)
}

func openCache(kind, addr string) (packguard.Cache, func(), error) {
	switch kind {
	case "none":
		return nil, func() {}, nil
	case "lru":
		return cache.NewLRU(100000, time.Hour), func() {}, nil
	case "redis":
	default:
		return nil, nil, fmt.Errorf("unknown cache backend %q", kind)
	}

	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("start miniredis: %w", err)
		}
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
		fmt.Printf("using miniredis at %s\n", mr.Addr())
		return cache.NewRedis(client, "lt:"), func() {
			_ = client.Close()
			mr.Close()
		}, nil
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
	fmt.Printf("using redis at %s\n", addr)
	return cache.NewRedis(client, "lt:"), func() { _ = client.Close() }, nil
}

// seed provisions identities, logs each one in once and spreads document
// ownership and shares across them.
func seed(ctx context.Context, engine *packguard.Engine, store *memory.Store, users, docs, shares int) ([]user, error) {
	roles := []permission.SystemRole{permission.RoleViewer, permission.RoleMerchandiser, permission.RoleDesigner}
	out := make([]user, 0, users)
	for i := 0; i < users; i++ {
		view, err := engine.CreateIdentity(ctx, nil, packguard.NewIdentity{
			Email:    fmt.Sprintf("user-%d@loadtest.local", i),
			Password: loadtestPassword,
			Role:     roles[i%len(roles)],
		})
		if err != nil {
			return nil, err
		}
		res, err := engine.Login(ctx, view.Email, loadtestPassword)
		if err != nil {
			return nil, err
		}
		identity, err := engine.Authenticate(ctx, res.AccessToken)
		if err != nil {
			return nil, err
		}
		out = append(out, user{identity: identity, access: res.AccessToken})
	}

	docRoles := []permission.DocumentRole{permission.DocAdmin, permission.DocEditor, permission.DocViewer, permission.DocFactory}
	now := time.Now().UTC()
	for d := 0; d < docs; d++ {
		id := fmt.Sprintf("doc-%d", d)
		owner := out[d%len(out)].identity.ID
		store.PutDocument(permission.Document{ID: id, OwnerID: owner})
		for s := 1; s <= shares && s < len(out); s++ {
			grantee := out[(d+s)%len(out)].identity.ID
			if err := store.SaveShare(ctx, permission.ShareEntry{
				DocumentID: id,
				UserID:     grantee,
				Role:       docRoles[(d+s)%len(docRoles)],
				SharedBy:   owner,
				SharedAt:   now,
			}); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}

type discardSender struct{}

func (discardSender) SendCode(context.Context, string, string, string) error { return nil }

func runPhase(ops, concurrency int, op func(r *rand.Rand) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(r)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
