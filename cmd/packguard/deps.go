package main

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
	"github.com/sirupsen/logrus"

	"github.com/MrEthical07/packguard"
	"github.com/MrEthical07/packguard/cache"
	"github.com/MrEthical07/packguard/dispatch"
	"github.com/MrEthical07/packguard/httpapi"
	"github.com/MrEthical07/packguard/internal/rate"
	"github.com/MrEthical07/packguard/store/memory"
	"github.com/MrEthical07/packguard/store/postgres"
)

// deps are the external collaborators of one process.
type deps struct {
	identities packguard.IdentityStore
	documents  packguard.DocumentStore
	audits     packguard.AuditStore
	cache      packguard.Cache
	sender     packguard.CodeSender
	throttle   packguard.LoginThrottle
	checks     map[string]httpapi.HealthCheck
	closers    []func()
}

func (d *deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		d.closers[i]()
	}
}

// openDeps connects the stores, cache and code sender named by cfg. With
// inMemory set the process keeps all state in memory.
func openDeps(ctx context.Context, cfg *appConfig, log *logrus.Logger, inMemory bool) (*deps, error) {
	d := &deps{checks: make(map[string]httpapi.HealthCheck)}

	if inMemory {
		store := memory.New()
		d.identities, d.documents, d.audits = store, store, store
		log.Warn("using in-memory store, state is lost on exit")
	} else {
		pool, err := openPool(ctx, cfg)
		if err != nil {
			return nil, err
		}
		d.closers = append(d.closers, pool.Close)
		store := postgres.New(pool)
		d.identities, d.documents, d.audits = store, store, store
		d.checks["postgres"] = pool.Ping
	}

	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			d.Close()
			return nil, oops.Code("CONFIG_INVALID").With("key", "redis.url").Wrap(err)
		}
		client := redis.NewClient(opts)
		d.closers = append(d.closers, func() { _ = client.Close() })
		d.cache = cache.NewRedis(client, cfg.Redis.Prefix)
		d.throttle = rate.New(client, cfg.LoginThrottle)
		d.checks["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	} else {
		d.cache = cache.NewLRU(cfg.LocalCache.Size, cfg.Auth.Cache.IdentityTTL)
	}

	if cfg.SMTP.Host != "" {
		sender, err := dispatch.NewSMTPSender(cfg.SMTP)
		if err != nil {
			d.Close()
			return nil, err
		}
		d.sender = sender
	} else {
		log.Warn("smtp.host not set, two-factor codes are written to the log")
		d.sender = dispatch.NewLogSender(log)
	}
	return d, nil
}

func openPool(ctx context.Context, cfg *appConfig) (*pgxpool.Pool, error) {
	if cfg.Database.URL == "" {
		return nil, oops.Code("CONFIG_INVALID").Errorf("database.url is required (or use --memory)")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, oops.Code("CONFIG_INVALID").With("key", "database.url").Wrap(err)
	}
	if cfg.Database.MaxConns > 0 {
		poolCfg.MaxConns = cfg.Database.MaxConns
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, oops.Code("DB_CONNECT_FAILED").With("operation", "ping database").Wrap(err)
	}
	return pool, nil
}

// buildEngine assembles an Engine over d.
func buildEngine(cfg *appConfig, d *deps, log *logrus.Logger, metrics *packguard.Metrics) (*packguard.Engine, error) {
	b := packguard.New().
		WithConfig(cfg.Auth).
		WithIdentityStore(d.identities).
		WithDocumentStore(d.documents).
		WithAuditStore(d.audits).
		WithCache(d.cache).
		WithCodeSender(d.sender).
		WithLogger(log.WithField("component", "engine")).
		WithMetrics(metrics)
	if d.throttle != nil {
		b.WithLoginThrottle(d.throttle)
	}
	return b.Build()
}
