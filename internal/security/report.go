package security

import (
	"fmt"
	"time"
)

type PasswordReport struct {
	Memory      uint32 `json:"memoryKb"`
	Time        uint32 `json:"time"`
	Parallelism uint8  `json:"parallelism"`
	SaltLength  uint32 `json:"saltLength"`
	KeyLength   uint32 `json:"keyLength"`
	MinLength   int    `json:"minLength"`
}

type Report struct {
	SigningAlgorithm    string         `json:"signingAlgorithm"`
	AccessTTL           time.Duration  `json:"accessTtl"`
	RefreshTTL          time.Duration  `json:"refreshTtl"`
	TwoFactorTTL        time.Duration  `json:"twoFactorTtl"`
	CodeDigits          int            `json:"codeDigits"`
	CodeTTL             time.Duration  `json:"codeTtl"`
	MaxAttempts         int            `json:"maxAttempts"`
	MaxRefreshTokens    int            `json:"maxRefreshTokens"`
	Argon2              PasswordReport `json:"argon2"`
	CacheEnabled        bool           `json:"cacheEnabled"`
	AuditActive         bool           `json:"auditActive"`
	LoginThrottleActive bool           `json:"loginThrottleActive"`
	Warnings            []string       `json:"warnings,omitempty"`
}

type ReportInput struct {
	AccessTTL        time.Duration
	RefreshTTL       time.Duration
	TwoFactorTTL     time.Duration
	CodeDigits       int
	CodeTTL          time.Duration
	MaxAttempts      int
	MaxRefreshTokens int
	Password         PasswordReport
	CacheEnabled     bool
	AuditEnabled     bool
	AuditStore       bool
	LoginThrottle    bool
}

// Thresholds above or below which BuildReport warns.
const (
	maxRecommendedAccessTTL = time.Hour
	maxRecommendedCodeTTL   = 15 * time.Minute
	maxRecommendedAttempts  = 10
	minRecommendedMemoryKB  = 19 * 1024
)

func BuildReport(input ReportInput) Report {
	r := Report{
		SigningAlgorithm:    "HS256",
		AccessTTL:           input.AccessTTL,
		RefreshTTL:          input.RefreshTTL,
		TwoFactorTTL:        input.TwoFactorTTL,
		CodeDigits:          input.CodeDigits,
		CodeTTL:             input.CodeTTL,
		MaxAttempts:         input.MaxAttempts,
		MaxRefreshTokens:    input.MaxRefreshTokens,
		Argon2:              input.Password,
		CacheEnabled:        input.CacheEnabled,
		AuditActive:         input.AuditEnabled && input.AuditStore,
		LoginThrottleActive: input.LoginThrottle,
	}

	if input.AccessTTL > maxRecommendedAccessTTL {
		r.warn("access token TTL %s exceeds %s; role changes stay invisible that long", input.AccessTTL, maxRecommendedAccessTTL)
	}
	if input.CodeTTL > maxRecommendedCodeTTL {
		r.warn("two-factor code TTL %s exceeds %s", input.CodeTTL, maxRecommendedCodeTTL)
	}
	if input.MaxAttempts > maxRecommendedAttempts {
		r.warn("two-factor max attempts %d exceeds %d", input.MaxAttempts, maxRecommendedAttempts)
	}
	if input.Password.Memory < minRecommendedMemoryKB {
		r.warn("argon2 memory %d KiB is below %d KiB", input.Password.Memory, minRecommendedMemoryKB)
	}
	if !input.LoginThrottle {
		r.warn("no failed-login throttle configured")
	}
	if input.AuditEnabled && !input.AuditStore {
		r.warn("audit enabled without an audit store; records are not persisted")
	}
	if !input.AuditEnabled {
		r.warn("audit trail disabled")
	}
	return r
}

func (r *Report) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}
