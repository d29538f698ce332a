package packguard

import (
	"errors"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/MrEthical07/packguard/cache"
	"github.com/MrEthical07/packguard/internal/audit"
	"github.com/MrEthical07/packguard/internal/flows"
	"github.com/MrEthical07/packguard/jwt"
	"github.com/MrEthical07/packguard/password"
	"github.com/MrEthical07/packguard/permission"
)

// Builder assembles an Engine. It is single-use.
type Builder struct {
	config Config

	identities IdentityStore
	documents  DocumentStore
	audits     AuditStore
	cache      Cache
	sender     CodeSender
	throttle   LoginThrottle
	logger     logrus.FieldLogger
	metrics    *Metrics
	policy     *permission.Policy
	now        func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

func (b *Builder) WithIdentityStore(s IdentityStore) *Builder {
	b.identities = s
	return b
}

func (b *Builder) WithDocumentStore(s DocumentStore) *Builder {
	b.documents = s
	return b
}

// WithAuditStore enables persistence and querying of audit records.
func (b *Builder) WithAuditStore(s AuditStore) *Builder {
	b.audits = s
	return b
}

// WithCache sets the accelerator cache. Omitting it is legal.
func (b *Builder) WithCache(c Cache) *Builder {
	b.cache = c
	return b
}

func (b *Builder) WithCodeSender(s CodeSender) *Builder {
	b.sender = s
	return b
}

// WithLoginThrottle bounds failed logins per e-mail address.
func (b *Builder) WithLoginThrottle(t LoginThrottle) *Builder {
	b.throttle = t
	return b
}

func (b *Builder) WithLogger(l logrus.FieldLogger) *Builder {
	b.logger = l
	return b
}

func (b *Builder) WithMetrics(m *Metrics) *Builder {
	b.metrics = m
	return b
}

// WithPolicy replaces permission.DefaultPolicy.
func (b *Builder) WithPolicy(p permission.Policy) *Builder {
	b.policy = &p
	return b
}

// WithClock overrides time.Now for token issuance, challenge expiry and
// audit timestamps.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration and returns a ready Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.identities == nil {
		return nil, errors.New("identity store required")
	}
	if b.documents == nil {
		return nil, errors.New("document store required")
	}
	if b.sender == nil {
		return nil, errors.New("code sender required")
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		logger = l
	}
	var c Cache = cache.Nop{}
	if b.cache != nil {
		c = b.cache
	}
	policy := permission.DefaultPolicy()
	if b.policy != nil {
		policy = *b.policy
	}

	tokens, err := jwt.NewManager(jwt.Config{
		Issuer:          cfg.JWT.Issuer,
		AccessSecret:    []byte(cfg.JWT.AccessSecret),
		RefreshSecret:   []byte(cfg.JWT.RefreshSecret),
		TwoFactorSecret: []byte(cfg.JWT.TwoFactorSecret),
		AccessTTL:       cfg.JWT.AccessTTL,
		RefreshTTL:      cfg.JWT.RefreshTTL,
		TwoFactorTTL:    cfg.JWT.TwoFactorTTL,
		Leeway:          cfg.JWT.Leeway,
		Now:             now,
	})
	if err != nil {
		return nil, err
	}

	hasher, err := password.NewHasher(cfg.Password)
	if err != nil {
		return nil, err
	}
	// verified against on unknown e-mails so both paths cost one argon2 run
	dummy, err := hasher.Hash("packguard-unknown-identity")
	if err != nil {
		return nil, err
	}

	engine := &Engine{
		config:     cfg,
		identities: b.identities,
		documents:  b.documents,
		audits:     b.audits,
		cache:      c,
		sender:     b.sender,
		throttle:   b.throttle,
		tokens:     tokens,
		hasher:     hasher,
		dummyHash:  dummy,
		policy:     policy,
		logger:     logger.WithField("component", "packguard"),
		metrics:    b.metrics,
		now:        now,
		challenge: flows.ChallengeConfig{
			CodeDigits:  cfg.TwoFactor.CodeDigits,
			CodeTTL:     cfg.TwoFactor.CodeTTL,
			MaxAttempts: cfg.TwoFactor.MaxAttempts,
		},
	}

	if cfg.Audit.Enabled {
		var sinks audit.MultiSink
		if b.audits != nil {
			sinks = append(sinks, audit.NewStoreSink(b.audits, logger))
		}
		if cfg.Audit.LogRecords {
			sinks = append(sinks, audit.NewLogSink(logger))
		}
		engine.audit = audit.NewDispatcher(audit.Config{
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
			OnDrop:     engine.onAuditDrop,
		}, sinks)
	}

	b.built = true
	return engine, nil
}
