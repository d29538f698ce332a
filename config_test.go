package packguard_test

import (
	"strings"
	"testing"
	"time"

	"github.com/MrEthical07/packguard"
	"github.com/MrEthical07/packguard/store/memory"
)

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*packguard.Config)
		want   string
	}{
		{"missing secret", func(c *packguard.Config) { c.JWT.RefreshSecret = "" }, "secrets"},
		{"too few digits", func(c *packguard.Config) { c.TwoFactor.CodeDigits = 4 }, "digits"},
		{"too many digits", func(c *packguard.Config) { c.TwoFactor.CodeDigits = 11 }, "digits"},
		{"zero code ttl", func(c *packguard.Config) { c.TwoFactor.CodeTTL = 0 }, "code TTL"},
		{"zero attempts", func(c *packguard.Config) { c.TwoFactor.MaxAttempts = 0 }, "attempts"},
		{"session shorter than code", func(c *packguard.Config) { c.JWT.TwoFactorTTL = 5 * time.Minute }, "must not be shorter"},
		{"no refresh slots", func(c *packguard.Config) { c.Session.MaxRefreshTokens = 0 }, "refresh tokens"},
		{"negative cache ttl", func(c *packguard.Config) { c.Cache.DocumentTTL = -time.Second }, "cache"},
		{"empty audit buffer", func(c *packguard.Config) { c.Audit.BufferSize = 0 }, "buffer"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}

	cfg := testConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("test config must be valid: %v", err)
	}
	cfg.Audit.Enabled = false
	cfg.Audit.BufferSize = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("buffer size is irrelevant with audit disabled: %v", err)
	}
}

func TestBuildRejectsWeakSetup(t *testing.T) {
	store := memory.New()
	build := func(cfg packguard.Config) error {
		engine, err := packguard.New().
			WithConfig(cfg).
			WithIdentityStore(store).
			WithDocumentStore(store).
			WithCodeSender(&recordingSender{}).
			Build()
		if err == nil {
			engine.Close()
		}
		return err
	}

	short := testConfig()
	short.JWT.AccessSecret = "too-short"
	if err := build(short); err == nil {
		t.Fatal("expected short secret rejected")
	}

	shared := testConfig()
	shared.JWT.RefreshSecret = shared.JWT.AccessSecret
	if err := build(shared); err == nil {
		t.Fatal("expected reused secret rejected")
	}

	weak := testConfig()
	weak.Password.Memory = 1024
	if err := build(weak); err == nil {
		t.Fatal("expected weak argon2 parameters rejected")
	}

	if _, err := packguard.New().WithConfig(testConfig()).WithIdentityStore(store).WithDocumentStore(store).Build(); err == nil {
		t.Fatal("expected missing code sender rejected")
	}

	b := packguard.New().
		WithConfig(testConfig()).
		WithIdentityStore(store).
		WithDocumentStore(store).
		WithCodeSender(&recordingSender{})
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()
	if _, err := b.Build(); err == nil {
		t.Fatal("expected builder reuse rejected")
	}
}
