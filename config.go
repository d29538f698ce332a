package packguard

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/packguard/password"
)

// Config holds every Engine setting. Build it with DefaultConfig and
// override fields; the Builder validates it once.
type Config struct {
	JWT       JWTConfig       `mapstructure:"jwt"`
	TwoFactor TwoFactorConfig `mapstructure:"two_factor"`
	Session   SessionConfig   `mapstructure:"session"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Password  password.Config `mapstructure:"password"`
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig configures the three token kinds. Each kind has its own secret.
type JWTConfig struct {
	Issuer          string        `mapstructure:"issuer"`
	AccessSecret    string        `mapstructure:"access_secret"`
	RefreshSecret   string        `mapstructure:"refresh_secret"`
	TwoFactorSecret string        `mapstructure:"two_factor_secret"`
	AccessTTL       time.Duration `mapstructure:"access_ttl"`
	RefreshTTL      time.Duration `mapstructure:"refresh_ttl"`
	TwoFactorTTL    time.Duration `mapstructure:"two_factor_ttl"`
	Leeway          time.Duration `mapstructure:"leeway"`
}

/*
====================================
TWO-FACTOR CONFIG
====================================
*/

// TwoFactorConfig configures the e-mailed code challenge.
type TwoFactorConfig struct {
	CodeDigits  int           `mapstructure:"code_digits"`
	CodeTTL     time.Duration `mapstructure:"code_ttl"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig bounds refresh-token bookkeeping on the identity.
type SessionConfig struct {
	// MaxRefreshTokens caps the listed refresh token ids; the oldest are
	// dropped first.
	MaxRefreshTokens int `mapstructure:"max_refresh_tokens"`
}

/*
====================================
CACHE CONFIG
====================================
*/

// CacheConfig sets write-through TTLs.
type CacheConfig struct {
	IdentityTTL time.Duration `mapstructure:"identity_ttl"`
	DocumentTTL time.Duration `mapstructure:"document_ttl"`
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	BufferSize int  `mapstructure:"buffer_size"`
	DropIfFull bool `mapstructure:"drop_if_full"`
	// LogRecords additionally writes every record to the Engine logger.
	LogRecords bool `mapstructure:"log_records"`
}

// DefaultConfig returns production defaults. Secrets are left empty and must
// be supplied.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			Issuer:       "packguard",
			AccessTTL:    15 * time.Minute,
			RefreshTTL:   7 * 24 * time.Hour,
			TwoFactorTTL: 15 * time.Minute,
			Leeway:       30 * time.Second,
		},
		TwoFactor: TwoFactorConfig{
			CodeDigits:  6,
			CodeTTL:     10 * time.Minute,
			MaxAttempts: 5,
		},
		Session: SessionConfig{
			MaxRefreshTokens: 10,
		},
		Cache: CacheConfig{
			IdentityTTL: 60 * time.Second,
			DocumentTTL: 60 * time.Second,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Password: password.DefaultConfig(),
	}
}

// Validate checks cross-field constraints. Secret strength is enforced when
// the token manager is created.
func (c *Config) Validate() error {
	if c.JWT.AccessSecret == "" || c.JWT.RefreshSecret == "" || c.JWT.TwoFactorSecret == "" {
		return errors.New("jwt secrets must be set")
	}
	if c.TwoFactor.CodeDigits < 6 || c.TwoFactor.CodeDigits > 10 {
		return errors.New("two-factor code digits must be between 6 and 10")
	}
	if c.TwoFactor.CodeTTL <= 0 {
		return errors.New("two-factor code TTL must be > 0")
	}
	if c.TwoFactor.MaxAttempts <= 0 {
		return errors.New("two-factor max attempts must be > 0")
	}
	if c.JWT.TwoFactorTTL < c.TwoFactor.CodeTTL {
		return fmt.Errorf("two-factor session TTL (%s) must not be shorter than code TTL (%s)",
			c.JWT.TwoFactorTTL, c.TwoFactor.CodeTTL)
	}
	if c.Session.MaxRefreshTokens <= 0 {
		return errors.New("session max refresh tokens must be > 0")
	}
	if c.Cache.IdentityTTL < 0 || c.Cache.DocumentTTL < 0 {
		return errors.New("cache TTLs must be >= 0")
	}
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("audit buffer size must be > 0 when audit is enabled")
	}
	return c.Password.Validate()
}
