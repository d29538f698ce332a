package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/MrEthical07/packguard"
	"github.com/MrEthical07/packguard/dispatch"
	"github.com/MrEthical07/packguard/httpapi"
	"github.com/MrEthical07/packguard/internal/rate"
)

// appConfig is the full process configuration.
type appConfig struct {
	Server struct {
		Address         string        `mapstructure:"address"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"server"`

	Logging struct {
		Level  string `mapstructure:"level"`  // trace|debug|info|warning|error
		Format string `mapstructure:"format"` // text|json
		File   string `mapstructure:"file"`   // file prefix; empty logs to stdout only
	} `mapstructure:"logs"`

	Database struct {
		URL      string `mapstructure:"url"`
		MaxConns int32  `mapstructure:"max_conns"`
	} `mapstructure:"database"`

	Redis struct {
		URL    string `mapstructure:"url"` // empty selects the in-process LRU
		Prefix string `mapstructure:"prefix"`
	} `mapstructure:"redis"`

	// Failed-login throttle; active only with Redis.
	LoginThrottle rate.Config `mapstructure:"login_throttle"`

	LocalCache struct {
		Size int `mapstructure:"size"`
	} `mapstructure:"local_cache"`

	SMTP dispatch.SMTPConfig `mapstructure:"smtp"` // empty host logs codes instead

	HTTP httpapi.Config `mapstructure:"http"`

	Auth packguard.Config `mapstructure:"auth"`

	Bootstrap struct {
		AdminEmail    string `mapstructure:"admin_email"`
		AdminPassword string `mapstructure:"admin_password"`
	} `mapstructure:"bootstrap"`
}

// loadConfig reads configuration from file and environment. Environment keys
// use underscores for nesting: AUTH_JWT_ACCESS_SECRET, DATABASE_URL.
func loadConfig(path string) (*appConfig, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if path == "" {
		path = os.Getenv("CONFIG_FILE")
	}
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("packguard")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			v.AddConfigPath(filepath.Join(xdg, "packguard"))
		}
		v.AddConfigPath("/etc/packguard")
	}

	if err := v.ReadInConfig(); err != nil {
		var nf viper.ConfigFileNotFoundError
		if !errors.As(err, &nf) {
			return nil, fmt.Errorf("config read error: %w", err)
		}
	}

	cfg := &appConfig{
		HTTP:          httpapi.DefaultConfig(),
		Auth:          packguard.DefaultConfig(),
		LoginThrottle: rate.DefaultConfig(),
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal error: %w", err)
	}
	if strings.TrimSpace(cfg.Server.Address) == "" {
		return nil, errors.New("server.address must not be empty")
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("logs.level", "info")
	v.SetDefault("logs.format", "text")
	v.SetDefault("logs.file", "")

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 10)

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.prefix", "packguard:")
	v.SetDefault("local_cache.size", 10000)

	lt := rate.DefaultConfig()
	v.SetDefault("login_throttle.max_failures", lt.MaxFailures)
	v.SetDefault("login_throttle.window", lt.Window)
	v.SetDefault("login_throttle.prefix", lt.Prefix)

	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from", "")
	v.SetDefault("smtp.subject", "")
	v.SetDefault("smtp.timeout", 10*time.Second)

	h := httpapi.DefaultConfig()
	v.SetDefault("http.max_body_bytes", h.MaxBodyBytes)
	v.SetDefault("http.auth_rate_per_second", h.AuthRatePerSecond)
	v.SetDefault("http.auth_burst", h.AuthBurst)

	a := packguard.DefaultConfig()
	v.SetDefault("auth.jwt.issuer", a.JWT.Issuer)
	v.SetDefault("auth.jwt.access_secret", "")
	v.SetDefault("auth.jwt.refresh_secret", "")
	v.SetDefault("auth.jwt.two_factor_secret", "")
	v.SetDefault("auth.jwt.access_ttl", a.JWT.AccessTTL)
	v.SetDefault("auth.jwt.refresh_ttl", a.JWT.RefreshTTL)
	v.SetDefault("auth.jwt.two_factor_ttl", a.JWT.TwoFactorTTL)
	v.SetDefault("auth.jwt.leeway", a.JWT.Leeway)
	v.SetDefault("auth.two_factor.code_digits", a.TwoFactor.CodeDigits)
	v.SetDefault("auth.two_factor.code_ttl", a.TwoFactor.CodeTTL)
	v.SetDefault("auth.two_factor.max_attempts", a.TwoFactor.MaxAttempts)
	v.SetDefault("auth.session.max_refresh_tokens", a.Session.MaxRefreshTokens)
	v.SetDefault("auth.cache.identity_ttl", a.Cache.IdentityTTL)
	v.SetDefault("auth.cache.document_ttl", a.Cache.DocumentTTL)
	v.SetDefault("auth.audit.enabled", a.Audit.Enabled)
	v.SetDefault("auth.audit.buffer_size", a.Audit.BufferSize)
	v.SetDefault("auth.audit.drop_if_full", a.Audit.DropIfFull)
	v.SetDefault("auth.audit.log_records", a.Audit.LogRecords)
	v.SetDefault("auth.password.memory_kb", a.Password.Memory)
	v.SetDefault("auth.password.time", a.Password.Time)
	v.SetDefault("auth.password.parallelism", a.Password.Parallelism)
	v.SetDefault("auth.password.salt_length", a.Password.SaltLength)
	v.SetDefault("auth.password.key_length", a.Password.KeyLength)
	v.SetDefault("auth.password.min_length", a.Password.MinLength)

	v.SetDefault("bootstrap.admin_email", "")
	v.SetDefault("bootstrap.admin_password", "")
}
