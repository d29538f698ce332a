package flows

import (
	"errors"
	"time"

	"github.com/MrEthical07/packguard/internal"
)

// Challenge is the persisted form of a pending two-factor challenge. An
// attempt counter never exists without a code hash.
type Challenge struct {
	CodeHash  string    `json:"codeHash"`
	ExpiresAt time.Time `json:"expiresAt"`
	Attempts  int       `json:"attempts"`
}

// Outcome is the result of a verification step.
type Outcome uint8

const (
	OutcomeVerified Outcome = iota + 1
	OutcomeInvalidCode
	OutcomeExpired
	OutcomeExhausted
	OutcomeNoChallenge
)

func (o Outcome) String() string {
	switch o {
	case OutcomeVerified:
		return "verified"
	case OutcomeInvalidCode:
		return "invalid_code"
	case OutcomeExpired:
		return "expired"
	case OutcomeExhausted:
		return "exhausted"
	case OutcomeNoChallenge:
		return "no_challenge"
	default:
		return "unknown"
	}
}

// ChallengeConfig parameterises challenge creation and verification.
type ChallengeConfig struct {
	CodeDigits  int
	CodeTTL     time.Duration
	MaxAttempts int
}

var errInvalidChallengeConfig = errors.New("invalid challenge configuration")

// StartChallenge creates a fresh pending challenge and returns it with the
// plaintext code. It replaces whatever challenge was pending before.
func StartChallenge(cfg ChallengeConfig, now time.Time) (string, *Challenge, error) {
	if cfg.CodeTTL <= 0 || cfg.MaxAttempts <= 0 {
		return "", nil, errInvalidChallengeConfig
	}
	code, err := internal.NewOTP(cfg.CodeDigits)
	if err != nil {
		return "", nil, err
	}
	return code, &Challenge{
		CodeHash:  internal.HashCode(code),
		ExpiresAt: now.Add(cfg.CodeTTL),
		Attempts:  0,
	}, nil
}

// VerifyChallenge applies one verification attempt. The checks run in a
// fixed order: missing, expired, exhausted, then code comparison, so an
// exhausted challenge is rejected even when the submitted code is correct.
//
// The returned challenge is the state to persist: nil clears it.
func VerifyChallenge(cfg ChallengeConfig, pending *Challenge, code string, now time.Time) (*Challenge, Outcome) {
	if pending == nil || pending.CodeHash == "" {
		return nil, OutcomeNoChallenge
	}
	if !now.Before(pending.ExpiresAt) {
		return nil, OutcomeExpired
	}
	if pending.Attempts >= cfg.MaxAttempts {
		return nil, OutcomeExhausted
	}
	if !internal.CodeMatches(code, pending.CodeHash) {
		next := *pending
		next.Attempts++
		return &next, OutcomeInvalidCode
	}
	return nil, OutcomeVerified
}
