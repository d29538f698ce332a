package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/packguard"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")

	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, packguard.DefaultConfig().JWT.AccessTTL, cfg.Auth.JWT.AccessTTL)
	assert.Equal(t, packguard.DefaultConfig().Password, cfg.Auth.Password)
	assert.Equal(t, 587, cfg.SMTP.Port)
	assert.Equal(t, int64(1<<20), cfg.HTTP.MaxBodyBytes)
	assert.Empty(t, cfg.Redis.URL)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "packguard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  address: "127.0.0.1:9000"
logs:
  level: debug
  format: json
auth:
  jwt:
    access_secret: file-secret
    access_ttl: 5m
  two_factor:
    code_ttl: 2m
redis:
  url: redis://localhost:6379/0
`), 0o600))

	t.Setenv("AUTH_JWT_ACCESS_SECRET", "env-secret")
	t.Setenv("AUTH_TWO_FACTOR_MAX_ATTEMPTS", "3")
	t.Setenv("DATABASE_URL", "postgres://pg@localhost/packguard")

	cfg, err := loadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Address)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "env-secret", cfg.Auth.JWT.AccessSecret)
	assert.Equal(t, 5*time.Minute, cfg.Auth.JWT.AccessTTL)
	assert.Equal(t, 2*time.Minute, cfg.Auth.TwoFactor.CodeTTL)
	assert.Equal(t, 3, cfg.Auth.TwoFactor.MaxAttempts)
	assert.Equal(t, packguard.DefaultConfig().TwoFactor.CodeDigits, cfg.Auth.TwoFactor.CodeDigits)
	assert.Equal(t, "postgres://pg@localhost/packguard", cfg.Database.URL)
	assert.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
}

func TestLoadConfigRejectsEmptyAddress(t *testing.T) {
	t.Setenv("SERVER_ADDRESS", " ")
	_, err := loadConfig("")
	assert.ErrorContains(t, err, "server.address")
}

func TestNewLoggerLevels(t *testing.T) {
	for level, want := range map[string]string{"debug": "debug", "warn": "warning", "bogus": "info"} {
		log, closeLog, err := newLogger(logOptions{Level: level})
		require.NoError(t, err)
		assert.Equal(t, want, log.GetLevel().String(), level)
		closeLog()
	}

	prefix := filepath.Join(t.TempDir(), "packguard")
	log, closeLog, err := newLogger(logOptions{Level: "info", Format: "json", File: prefix})
	require.NoError(t, err)
	log.Info("hello")
	closeLog()

	matches, err := filepath.Glob(prefix + "_*.log")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	raw, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"msg":"hello"`)
}
