package packguard

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"github.com/google/uuid"

	"github.com/MrEthical07/packguard/password"
	"github.com/MrEthical07/packguard/permission"
)

// CreateIdentity provisions an identity. actor must be an Admin; a nil actor
// is the system itself (bootstrap and command-line provisioning).
func (e *Engine) CreateIdentity(ctx context.Context, actor *Identity, req NewIdentity) (*IdentityView, error) {
	if actor != nil {
		if err := requireAdmin(actor); err != nil {
			return nil, err
		}
	}

	email := normalizeEmail(req.Email)
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		return nil, invalidf("invalid email address")
	}
	if req.Role == 0 {
		req.Role = permission.RoleViewer
	}
	if !req.Role.Valid() {
		return nil, invalidf("invalid role")
	}
	displayName := strings.TrimSpace(req.DisplayName)
	if displayName == "" {
		displayName = email
	}

	hash, err := e.hashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()
	identity := &Identity{
		ID:           uuid.NewString(),
		Email:        email,
		DisplayName:  displayName,
		Role:         req.Role,
		PasswordHash: hash,
		Active:       true,
		TwoFactor:    TwoFactorState{Enabled: req.TwoFactorEnabled},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.identities.Create(ctx, identity); err != nil {
		return nil, wrapStore("create identity", err)
	}

	e.recordAudit(ctx, actor, AuditIdentityCreate, resourceKindIdentity, identity.ID, map[string]string{
		"email": identity.Email,
		"role":  identity.Role.String(),
	})
	view := identity.View()
	return &view, nil
}

// ChangeRole sets the system role of identity id. Outstanding access tokens
// keep the role they were issued with until they are refreshed.
func (e *Engine) ChangeRole(ctx context.Context, actor *Identity, id string, role permission.SystemRole) (*IdentityView, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if !role.Valid() {
		return nil, invalidf("invalid role")
	}

	var previous permission.SystemRole
	identity, err := e.mutateIdentity(ctx, id, func(i *Identity) error {
		previous = i.Role
		if i.Role == role {
			return errNoWrite
		}
		i.Role = role
		return nil
	})
	if err != nil {
		return nil, wrapStore("change role", err)
	}

	if previous != role {
		e.recordAudit(ctx, actor, AuditIdentityRole, resourceKindIdentity, id, map[string]string{
			"from": previous.String(),
			"to":   role.String(),
		})
	}
	view := identity.View()
	return &view, nil
}

// SetActive activates or deactivates identity id. Deactivation revokes every
// refresh token and discards any pending challenge.
func (e *Engine) SetActive(ctx context.Context, actor *Identity, id string, active bool) (*IdentityView, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}
	if !active && actor.ID == id {
		return nil, &ForbiddenError{Reason: "self_deactivation"}
	}

	changed := false
	identity, err := e.mutateIdentity(ctx, id, func(i *Identity) error {
		if i.Active == active {
			return errNoWrite
		}
		changed = true
		i.Active = active
		if !active {
			i.RefreshTokens = nil
			i.TwoFactor.Pending = nil
		}
		return nil
	})
	if err != nil {
		return nil, wrapStore("set active", err)
	}

	if changed {
		state := "deactivated"
		if active {
			state = "activated"
		}
		e.recordAudit(ctx, actor, AuditIdentityActive, resourceKindIdentity, id, map[string]string{"state": state})
	}
	view := identity.View()
	return &view, nil
}

// ResetPassword replaces the password of identity id. Admins may reset any
// identity; other actors only their own. Every refresh token is revoked.
func (e *Engine) ResetPassword(ctx context.Context, actor *Identity, id, newPassword string) error {
	if actor == nil {
		return ErrUnauthorized
	}
	if actor.ID != id {
		if err := requireAdmin(actor); err != nil {
			return err
		}
	}

	hash, err := e.hashPassword(newPassword)
	if err != nil {
		return err
	}

	_, err = e.mutateIdentity(ctx, id, func(i *Identity) error {
		i.PasswordHash = hash
		i.RefreshTokens = nil
		i.TwoFactor.Pending = nil
		return nil
	})
	if err != nil {
		return wrapStore("reset password", err)
	}

	e.recordAudit(ctx, actor, AuditIdentityPassword, resourceKindIdentity, id, nil)
	return nil
}

// DeleteIdentity removes identity id. Only Admins may delete and nobody may
// delete themselves.
func (e *Engine) DeleteIdentity(ctx context.Context, actor *Identity, id string) error {
	if err := requireAdmin(actor); err != nil {
		return err
	}
	if actor.ID == id {
		return ErrSelfDeletion
	}

	target, err := e.identities.FindByID(ctx, id)
	if err != nil {
		return wrapStore("delete identity", err)
	}
	if err := e.identities.Delete(ctx, id); err != nil {
		return wrapStore("delete identity", err)
	}
	e.invalidateIdentity(ctx, id)

	e.recordAudit(ctx, actor, AuditIdentityDelete, resourceKindIdentity, id, map[string]string{"email": target.Email})
	return nil
}

func (e *Engine) hashPassword(secret string) (string, error) {
	hash, err := e.hasher.Hash(secret)
	if errors.Is(err, password.ErrTooShort) {
		return "", invalidf("password must be at least %d characters", e.hasher.MinLength())
	}
	if err != nil {
		return "", err
	}
	return hash, nil
}
