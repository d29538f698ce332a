package jwt

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TwoFactorTokenType is the typ claim carried by two-factor session tokens.
const TwoFactorTokenType = "two-factor"

const minSecretBytes = 32

// ErrInvalidToken is returned for any token that fails signature, algorithm,
// issuer, type or expiry checks.
var ErrInvalidToken = errors.New("invalid token")

// Config holds signing secrets and lifetimes for every token kind.
type Config struct {
	Issuer          string
	AccessSecret    []byte
	RefreshSecret   []byte
	TwoFactorSecret []byte
	AccessTTL       time.Duration
	RefreshTTL      time.Duration
	TwoFactorTTL    time.Duration
	Leeway          time.Duration
	// Now overrides the clock for issuance and verification. Defaults to time.Now.
	Now func() time.Time
}

// Manager issues and parses tokens. It is immutable after construction and
// safe for concurrent use.
type Manager struct {
	config Config
}

// AccessClaims is the claim set of an access token. Role is captured at
// issuance time and is not refreshed until a new token is minted.
type AccessClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// RefreshClaims is the claim set of a refresh token. ID (jti) must also be
// listed on the identity for the token to be honoured.
type RefreshClaims struct {
	jwt.RegisteredClaims
}

// TwoFactorClaims is the claim set of a two-factor session token.
type TwoFactorClaims struct {
	Type string `json:"typ"`
	jwt.RegisteredClaims
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 || cfg.TwoFactorTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.AccessTTL >= cfg.RefreshTTL {
		return nil, errors.New("access TTL must be shorter than refresh TTL")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	for name, secret := range map[string][]byte{
		"access":     cfg.AccessSecret,
		"refresh":    cfg.RefreshSecret,
		"two-factor": cfg.TwoFactorSecret,
	} {
		if len(secret) < minSecretBytes {
			return nil, fmt.Errorf("%s secret must be at least %d bytes", name, minSecretBytes)
		}
	}
	if bytes.Equal(cfg.AccessSecret, cfg.RefreshSecret) ||
		bytes.Equal(cfg.AccessSecret, cfg.TwoFactorSecret) ||
		bytes.Equal(cfg.RefreshSecret, cfg.TwoFactorSecret) {
		return nil, errors.New("token secrets must be distinct")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{config: cfg}, nil
}

// IssueAccess signs an access token for subjectID carrying role.
func (m *Manager) IssueAccess(subjectID, role string) (string, error) {
	now := m.config.Now()
	claims := AccessClaims{
		Role:             role,
		RegisteredClaims: m.registered(subjectID, now, m.config.AccessTTL),
	}
	return sign(claims, m.config.AccessSecret)
}

// IssueRefresh signs a refresh token and returns it with its token id. The
// caller must append the id to the identity's refresh list and persist it.
func (m *Manager) IssueRefresh(subjectID string) (token string, tokenID string, err error) {
	now := m.config.Now()
	claims := RefreshClaims{RegisteredClaims: m.registered(subjectID, now, m.config.RefreshTTL)}
	claims.ID = uuid.NewString()
	token, err = sign(claims, m.config.RefreshSecret)
	if err != nil {
		return "", "", err
	}
	return token, claims.ID, nil
}

// IssueTwoFactor signs a two-factor session token bound to subjectID.
func (m *Manager) IssueTwoFactor(subjectID string) (string, error) {
	now := m.config.Now()
	claims := TwoFactorClaims{
		Type:             TwoFactorTokenType,
		RegisteredClaims: m.registered(subjectID, now, m.config.TwoFactorTTL),
	}
	return sign(claims, m.config.TwoFactorSecret)
}

// ParseAccess verifies an access token.
func (m *Manager) ParseAccess(tokenStr string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := m.parse(tokenStr, claims, m.config.AccessSecret); err != nil {
		return nil, err
	}
	return claims, nil
}

// ParseRefresh verifies a refresh token's signature and expiry. It does not
// check list membership.
func (m *Manager) ParseRefresh(tokenStr string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := m.parse(tokenStr, claims, m.config.RefreshSecret); err != nil {
		return nil, err
	}
	if claims.ID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ParseTwoFactor verifies a two-factor session token.
func (m *Manager) ParseTwoFactor(tokenStr string) (*TwoFactorClaims, error) {
	claims := &TwoFactorClaims{}
	if err := m.parse(tokenStr, claims, m.config.TwoFactorSecret); err != nil {
		return nil, err
	}
	if claims.Type != TwoFactorTokenType {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// AccessTTL returns the configured access-token lifetime.
func (m *Manager) AccessTTL() time.Duration { return m.config.AccessTTL }

// RefreshTTL returns the configured refresh-token lifetime.
func (m *Manager) RefreshTTL() time.Duration { return m.config.RefreshTTL }

func (m *Manager) registered(subjectID string, now time.Time, ttl time.Duration) jwt.RegisteredClaims {
	return jwt.RegisteredClaims{
		Subject:   subjectID,
		Issuer:    m.config.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

func (m *Manager) parse(tokenStr string, claims jwt.Claims, secret []byte) error {
	if tokenStr == "" {
		return ErrInvalidToken
	}
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(m.config.Now),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return ErrInvalidToken
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return ErrInvalidToken
	}
	return nil
}

func sign(claims jwt.Claims, secret []byte) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
