package packguard

import (
	"context"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// Login checks primary credentials. With two-factor disabled it issues an
// access and a refresh token and lists the refresh token id on the
// identity. With two-factor enabled it never issues tokens: it starts a
// challenge, e-mails the code and returns a two-factor session token.
func (e *Engine) Login(ctx context.Context, email, secret string) (_ *LoginResult, err error) {
	ctx, span := tracer.Start(ctx, "packguard.login")
	defer func() { endSpan(span, err) }()

	email = normalizeEmail(email)
	if email == "" || secret == "" {
		return nil, invalidf("email and password are required")
	}
	if !e.loginAllowed(ctx, email) {
		e.metrics.login("throttled")
		return nil, ErrLoginThrottled
	}

	identity, err := e.identities.FindByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		_, _ = e.hasher.Verify(secret, e.dummyHash)
		e.loginFailed(ctx, email)
		e.metrics.login("invalid_credentials")
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, wrapStore("login: find identity", err)
	}

	ok, err := e.hasher.Verify(secret, identity.PasswordHash)
	if err != nil {
		e.logger.WithFields(logrus.Fields{"identity_id": identity.ID, "error": err}).Error("stored password hash unreadable")
		e.loginFailed(ctx, email)
		e.metrics.login("invalid_credentials")
		return nil, ErrInvalidCredentials
	}
	if !ok {
		e.loginFailed(ctx, email)
		e.metrics.login("invalid_credentials")
		return nil, ErrInvalidCredentials
	}
	if !identity.Active {
		e.metrics.login("inactive")
		return nil, ErrIdentityInactive
	}

	e.loginSucceeded(ctx, email)
	span.SetAttributes(
		attribute.String("identity.id", identity.ID),
		attribute.Bool("login.two_factor_required", identity.TwoFactor.Enabled),
	)

	if identity.TwoFactor.Enabled {
		token, err := e.beginChallenge(ctx, identity.ID)
		if err != nil {
			return nil, err
		}
		e.metrics.login("two_factor_required")
		return &LoginResult{TwoFactorRequired: true, TwoFactorToken: token}, nil
	}

	rehash := e.passwordRehash(identity.PasswordHash, secret)
	result, err := e.issueSession(ctx, identity.ID, func(i *Identity) error {
		if rehash != "" {
			i.PasswordHash = rehash
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.metrics.login("success")
	return result, nil
}

// issueSession lists a new refresh token id on the identity, stamps the
// login time and returns fresh tokens. extra runs inside the same
// conditional write.
func (e *Engine) issueSession(ctx context.Context, identityID string, extra func(*Identity) error) (*LoginResult, error) {
	refreshToken, tokenID, err := e.tokens.IssueRefresh(identityID)
	if err != nil {
		return nil, err
	}

	identity, err := e.mutateIdentity(ctx, identityID, func(i *Identity) error {
		if !i.Active {
			return ErrIdentityInactive
		}
		if extra != nil {
			if err := extra(i); err != nil {
				return err
			}
		}
		now := e.now().UTC()
		i.LastLoginAt = &now
		i.addRefreshToken(tokenID, e.config.Session.MaxRefreshTokens)
		return nil
	})
	if err != nil {
		return nil, wrapStore("issue session", err)
	}

	access, err := e.tokens.IssueAccess(identity.ID, identity.Role.String())
	if err != nil {
		return nil, err
	}
	view := identity.View()
	e.recordAudit(ctx, identity, AuditLogin, resourceKindIdentity, identity.ID, nil)
	return &LoginResult{AccessToken: access, RefreshToken: refreshToken, Identity: &view}, nil
}

// passwordRehash returns a new hash when the stored one uses weaker
// parameters, or "" when no upgrade is due or it fails.
func (e *Engine) passwordRehash(stored, secret string) string {
	needs, err := e.hasher.NeedsRehash(stored)
	if err != nil || !needs {
		return ""
	}
	upgraded, err := e.hasher.Hash(secret)
	if err != nil {
		return ""
	}
	return upgraded
}

// Refresh exchanges a listed refresh token for a new access token carrying
// the identity's current role. The refresh token itself is not rotated.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (_ string, err error) {
	ctx, span := tracer.Start(ctx, "packguard.refresh")
	defer func() { endSpan(span, err) }()

	claims, err := e.tokens.ParseRefresh(refreshToken)
	if err != nil {
		e.metrics.refresh("invalid_token")
		return "", ErrInvalidToken
	}

	identity, err := e.identities.FindByID(ctx, claims.Subject)
	if errors.Is(err, ErrNotFound) {
		e.metrics.refresh("invalid_token")
		return "", ErrInvalidToken
	}
	if err != nil {
		return "", wrapStore("refresh: find identity", err)
	}
	if !identity.Active {
		e.metrics.refresh("inactive")
		return "", ErrIdentityInactive
	}
	if !identity.HasRefreshToken(claims.ID) {
		e.metrics.refresh("revoked")
		return "", ErrInvalidToken
	}

	access, err := e.tokens.IssueAccess(identity.ID, identity.Role.String())
	if err != nil {
		return "", err
	}
	e.metrics.refresh("success")
	return access, nil
}

// Logout revokes refreshToken for the authenticated actor. An empty
// refreshToken revokes every refresh token of the actor. Revoking an id that
// is no longer listed succeeds.
func (e *Engine) Logout(ctx context.Context, actor *Identity, refreshToken string) error {
	if actor == nil {
		return ErrUnauthorized
	}

	var tokenID string
	if refreshToken != "" {
		claims, err := e.tokens.ParseRefresh(refreshToken)
		if err != nil || claims.Subject != actor.ID {
			return ErrInvalidToken
		}
		tokenID = claims.ID
	}

	_, err := e.mutateIdentity(ctx, actor.ID, func(i *Identity) error {
		if tokenID == "" {
			if len(i.RefreshTokens) == 0 {
				return errNoWrite
			}
			i.RefreshTokens = nil
			return nil
		}
		if !i.removeRefreshToken(tokenID) {
			return errNoWrite
		}
		return nil
	})
	if err != nil {
		return wrapStore("logout", err)
	}

	scope := "single"
	if tokenID == "" {
		scope = "all"
	}
	e.recordAudit(ctx, actor, AuditLogout, resourceKindIdentity, actor.ID, map[string]string{"scope": scope})
	return nil
}

// LogoutByRefresh revokes the presented refresh token without an access
// token. The token must still be listed.
func (e *Engine) LogoutByRefresh(ctx context.Context, refreshToken string) error {
	claims, err := e.tokens.ParseRefresh(refreshToken)
	if err != nil {
		return ErrInvalidToken
	}

	identity, err := e.mutateIdentity(ctx, claims.Subject, func(i *Identity) error {
		if !i.removeRefreshToken(claims.ID) {
			return ErrInvalidToken
		}
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return ErrInvalidToken
	}
	if err != nil {
		return wrapStore("logout by refresh", err)
	}
	e.recordAudit(ctx, identity, AuditLogout, resourceKindIdentity, identity.ID, map[string]string{"scope": "single"})
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

/*
====================================
LOGIN THROTTLE
====================================
*/

func (e *Engine) loginAllowed(ctx context.Context, email string) bool {
	if e.throttle == nil {
		return true
	}
	ok, err := e.throttle.Allow(ctx, email)
	if err != nil {
		e.logger.WithFields(logrus.Fields{"error": err}).Warn("login throttle check failed")
		return true
	}
	return ok
}

func (e *Engine) loginFailed(ctx context.Context, email string) {
	if e.throttle == nil {
		return
	}
	if err := e.throttle.Fail(ctx, email); err != nil {
		e.logger.WithFields(logrus.Fields{"error": err}).Warn("login throttle update failed")
	}
}

func (e *Engine) loginSucceeded(ctx context.Context, email string) {
	if e.throttle == nil {
		return
	}
	if err := e.throttle.Reset(ctx, email); err != nil {
		e.logger.WithFields(logrus.Fields{"error": err}).Warn("login throttle reset failed")
	}
}
