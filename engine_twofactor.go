package packguard

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/MrEthical07/packguard/internal/flows"
)

// beginChallenge replaces any pending challenge with a fresh one, persists
// it, sends the code and returns a two-factor session token. If sending
// fails the challenge is cleared again and ErrCodeDispatch is returned.
func (e *Engine) beginChallenge(ctx context.Context, identityID string) (string, error) {
	token, err := e.tokens.IssueTwoFactor(identityID)
	if err != nil {
		return "", err
	}

	var code string
	identity, err := e.mutateIdentity(ctx, identityID, func(i *Identity) error {
		if !i.Active {
			return ErrIdentityInactive
		}
		if !i.TwoFactor.Enabled {
			return ErrNoChallenge
		}
		plain, pending, err := flows.StartChallenge(e.challenge, e.now().UTC())
		if err != nil {
			return err
		}
		code = plain
		i.TwoFactor.Pending = pending
		return nil
	})
	if err != nil {
		return "", wrapStore("start two-factor challenge", err)
	}

	digest := identity.TwoFactor.Pending.CodeHash
	if err := e.sender.SendCode(ctx, identity.Email, code, identity.DisplayName); err != nil {
		e.logger.WithFields(logrus.Fields{"identity_id": identityID, "error": err}).Warn("two-factor code dispatch failed")
		e.metrics.twoFactor("dispatch_failed")
		e.rollbackChallenge(context.WithoutCancel(ctx), identityID, digest)
		return "", ErrCodeDispatch
	}
	e.metrics.twoFactor("started")
	return token, nil
}

// rollbackChallenge clears the pending challenge only if it is still the one
// identified by digest, so a concurrent resend is not undone.
func (e *Engine) rollbackChallenge(ctx context.Context, identityID, digest string) {
	_, err := e.mutateIdentity(ctx, identityID, func(i *Identity) error {
		if i.TwoFactor.Pending == nil || i.TwoFactor.Pending.CodeHash != digest {
			return errNoWrite
		}
		i.TwoFactor.Pending = nil
		return nil
	})
	if err != nil {
		e.logger.WithFields(logrus.Fields{"identity_id": identityID, "error": err}).Error("two-factor rollback failed")
	}
}

// ResendTwoFactor starts a fresh challenge for the holder of a two-factor
// session token. A pending challenge, expired or not, is replaced and its
// attempt counter reset.
func (e *Engine) ResendTwoFactor(ctx context.Context, twoFactorToken string) (*LoginResult, error) {
	claims, err := e.tokens.ParseTwoFactor(twoFactorToken)
	if err != nil {
		return nil, ErrInvalidToken
	}
	token, err := e.beginChallenge(ctx, claims.Subject)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, err
	}
	e.metrics.twoFactor("resent")
	return &LoginResult{TwoFactorRequired: true, TwoFactorToken: token}, nil
}

// VerifyTwoFactor checks code against the pending challenge. Every outcome
// other than a missing challenge is persisted before returning: a failed
// comparison increments the attempt counter, expiry and exhaustion clear
// the challenge, and success clears it while listing a new refresh token.
func (e *Engine) VerifyTwoFactor(ctx context.Context, twoFactorToken, code string) (_ *LoginResult, err error) {
	ctx, span := tracer.Start(ctx, "packguard.verify_two_factor")
	defer func() { endSpan(span, err) }()

	claims, err := e.tokens.ParseTwoFactor(twoFactorToken)
	if err != nil {
		return nil, ErrInvalidToken
	}
	code = strings.TrimSpace(code)
	if !isDigits(code) {
		return nil, invalidf("code must be numeric")
	}

	refreshToken, tokenID, err := e.tokens.IssueRefresh(claims.Subject)
	if err != nil {
		return nil, err
	}

	var outcome flows.Outcome
	identity, err := e.mutateIdentity(ctx, claims.Subject, func(i *Identity) error {
		if !i.Active {
			return ErrIdentityInactive
		}
		now := e.now().UTC()
		next, out := flows.VerifyChallenge(e.challenge, i.TwoFactor.Pending, code, now)
		outcome = out
		if out == flows.OutcomeNoChallenge {
			return errNoWrite
		}
		i.TwoFactor.Pending = next
		if out == flows.OutcomeVerified {
			i.LastLoginAt = &now
			i.addRefreshToken(tokenID, e.config.Session.MaxRefreshTokens)
		}
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, wrapStore("verify two-factor", err)
	}
	e.metrics.twoFactor(outcome.String())
	span.SetAttributes(attribute.String("two_factor.outcome", outcome.String()))

	switch outcome {
	case flows.OutcomeVerified:
	case flows.OutcomeExpired:
		return nil, ErrCodeExpired
	case flows.OutcomeExhausted:
		return nil, ErrTooManyAttempts
	case flows.OutcomeInvalidCode:
		return nil, ErrInvalidCode
	default:
		return nil, ErrNoChallenge
	}

	access, err := e.tokens.IssueAccess(identity.ID, identity.Role.String())
	if err != nil {
		return nil, err
	}
	view := identity.View()
	e.recordAudit(ctx, identity, AuditLogin, resourceKindIdentity, identity.ID, map[string]string{"two_factor": "true"})
	return &LoginResult{AccessToken: access, RefreshToken: refreshToken, Identity: &view}, nil
}

// SetTwoFactor turns two-factor login on or off for the actor. Turning it
// off discards any pending challenge.
func (e *Engine) SetTwoFactor(ctx context.Context, actor *Identity, enabled bool) (*IdentityView, error) {
	if actor == nil {
		return nil, ErrUnauthorized
	}
	identity, err := e.mutateIdentity(ctx, actor.ID, func(i *Identity) error {
		if i.TwoFactor.Enabled == enabled && (enabled || i.TwoFactor.Pending == nil) {
			return errNoWrite
		}
		i.TwoFactor.Enabled = enabled
		if !enabled {
			i.TwoFactor.Pending = nil
		}
		return nil
	})
	if err != nil {
		return nil, wrapStore("set two-factor", err)
	}
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	e.recordAudit(ctx, actor, AuditTwoFactorToggle, resourceKindIdentity, actor.ID, map[string]string{"state": state})
	view := identity.View()
	return &view, nil
}

func isDigits(s string) bool {
	if s == "" || len(s) > 10 {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
