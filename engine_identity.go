package packguard

import (
	"context"
	"errors"

	"github.com/MrEthical07/packguard/jwt"
	"github.com/MrEthical07/packguard/permission"
)

// cachedIdentity is the cache representation of an identity. It holds no
// secrets: no password hash, refresh token ids or challenge.
type cachedIdentity struct {
	ID               string                `json:"id"`
	Email            string                `json:"email"`
	DisplayName      string                `json:"displayName"`
	Role             permission.SystemRole `json:"role"`
	Active           bool                  `json:"active"`
	TwoFactorEnabled bool                  `json:"twoFactorEnabled"`
}

func toCached(i *Identity) cachedIdentity {
	return cachedIdentity{
		ID:               i.ID,
		Email:            i.Email,
		DisplayName:      i.DisplayName,
		Role:             i.Role,
		Active:           i.Active,
		TwoFactorEnabled: i.TwoFactor.Enabled,
	}
}

func (c cachedIdentity) identity() *Identity {
	return &Identity{
		ID:          c.ID,
		Email:       c.Email,
		DisplayName: c.DisplayName,
		Role:        c.Role,
		Active:      c.Active,
		TwoFactor:   TwoFactorState{Enabled: c.TwoFactorEnabled},
	}
}

// VerifyAccess checks an access token without I/O.
func (e *Engine) VerifyAccess(accessToken string) (*jwt.AccessClaims, error) {
	claims, err := e.tokens.ParseAccess(accessToken)
	if err != nil {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ResolveIdentity returns the identity named by claims. The cache is tried
// first; a miss or a cache error falls back to the store and writes the
// result through. The identity must exist and be active.
//
// The returned identity is an authorization projection: it carries no
// password hash, refresh token ids or challenge.
func (e *Engine) ResolveIdentity(ctx context.Context, claims *jwt.AccessClaims) (*Identity, error) {
	if claims == nil || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	id := claims.Subject

	var cached cachedIdentity
	if e.cacheGetJSON(ctx, identityCacheKey(id), &cached) && cached.ID == id {
		if !cached.Active {
			return nil, ErrIdentityInactive
		}
		return cached.identity(), nil
	}

	scope := identityScope(id)
	fence, fenced := e.cacheFence(ctx, scope)
	identity, err := e.identities.FindByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, wrapStore("resolve identity", err)
	}
	entry := toCached(identity)
	if fenced {
		e.cacheFillJSON(ctx, scope, fence, identityCacheKey(id), entry, e.config.Cache.IdentityTTL)
	}
	if !identity.Active {
		return nil, ErrIdentityInactive
	}
	return entry.identity(), nil
}

// Authenticate verifies an access token and resolves its identity.
func (e *Engine) Authenticate(ctx context.Context, accessToken string) (*Identity, error) {
	claims, err := e.VerifyAccess(accessToken)
	if err != nil {
		return nil, err
	}
	return e.ResolveIdentity(ctx, claims)
}
