package packguard

import (
	"slices"
	"time"

	"github.com/MrEthical07/packguard/internal/audit"
	"github.com/MrEthical07/packguard/internal/flows"
	"github.com/MrEthical07/packguard/permission"
)

// PendingChallenge is an outstanding two-factor challenge: the digest of the
// e-mailed code, its expiry and the failed-attempt counter.
type PendingChallenge = flows.Challenge

// TwoFactorState is the two-factor substructure of an Identity. A nil Pending
// means no challenge is outstanding.
type TwoFactorState struct {
	Enabled bool              `json:"enabled"`
	Pending *PendingChallenge `json:"-"`
}

// Identity is the authoritative user record.
type Identity struct {
	ID            string                `json:"id"`
	Email         string                `json:"email"`
	DisplayName   string                `json:"displayName"`
	Role          permission.SystemRole `json:"role"`
	PasswordHash  string                `json:"-"`
	Active        bool                  `json:"active"`
	RefreshTokens []string              `json:"-"`
	TwoFactor     TwoFactorState        `json:"twoFactor"`
	LastLoginAt   *time.Time            `json:"lastLoginAt,omitempty"`
	Version       int64                 `json:"-"`
	CreatedAt     time.Time             `json:"createdAt"`
	UpdatedAt     time.Time             `json:"updatedAt"`
}

// Clone returns a deep copy of the identity.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	out := *i
	out.RefreshTokens = slices.Clone(i.RefreshTokens)
	if i.TwoFactor.Pending != nil {
		p := *i.TwoFactor.Pending
		out.TwoFactor.Pending = &p
	}
	if i.LastLoginAt != nil {
		t := *i.LastLoginAt
		out.LastLoginAt = &t
	}
	return &out
}

// HasRefreshToken reports whether tokenID is currently listed.
func (i *Identity) HasRefreshToken(tokenID string) bool {
	return tokenID != "" && slices.Contains(i.RefreshTokens, tokenID)
}

// addRefreshToken appends tokenID and drops the oldest ids beyond limit.
func (i *Identity) addRefreshToken(tokenID string, limit int) {
	i.RefreshTokens = append(i.RefreshTokens, tokenID)
	if limit > 0 && len(i.RefreshTokens) > limit {
		i.RefreshTokens = slices.Clone(i.RefreshTokens[len(i.RefreshTokens)-limit:])
	}
}

// removeRefreshToken reports whether tokenID was listed.
func (i *Identity) removeRefreshToken(tokenID string) bool {
	before := len(i.RefreshTokens)
	i.RefreshTokens = slices.DeleteFunc(i.RefreshTokens, func(id string) bool { return id == tokenID })
	return len(i.RefreshTokens) != before
}

// View returns the outward projection of the identity.
func (i *Identity) View() IdentityView {
	return IdentityView{
		ID:               i.ID,
		Email:            i.Email,
		DisplayName:      i.DisplayName,
		Role:             i.Role,
		Active:           i.Active,
		TwoFactorEnabled: i.TwoFactor.Enabled,
		LastLoginAt:      i.LastLoginAt,
		CreatedAt:        i.CreatedAt,
		UpdatedAt:        i.UpdatedAt,
	}
}

// IdentityView is the only identity shape returned to clients. It carries no
// password hash, refresh token ids or challenge state.
type IdentityView struct {
	ID               string                `json:"id"`
	Email            string                `json:"email"`
	DisplayName      string                `json:"displayName"`
	Role             permission.SystemRole `json:"role"`
	Active           bool                  `json:"active"`
	TwoFactorEnabled bool                  `json:"twoFactorEnabled"`
	LastLoginAt      *time.Time            `json:"lastLoginAt,omitempty"`
	CreatedAt        time.Time             `json:"createdAt"`
	UpdatedAt        time.Time             `json:"updatedAt"`
}

// LoginResult is returned by Login and VerifyTwoFactor. When
// TwoFactorRequired is set only TwoFactorToken is populated.
type LoginResult struct {
	AccessToken       string        `json:"accessToken,omitempty"`
	RefreshToken      string        `json:"refreshToken,omitempty"`
	TwoFactorRequired bool          `json:"twoFactorRequired"`
	TwoFactorToken    string        `json:"twoFactorToken,omitempty"`
	Identity          *IdentityView `json:"user,omitempty"`
}

// NewIdentity carries the fields accepted when provisioning an identity.
type NewIdentity struct {
	Email            string
	DisplayName      string
	Password         string
	Role             permission.SystemRole
	TwoFactorEnabled bool
}

// AuditRecord is one append-only audit entry.
type AuditRecord = audit.Record

// AuditQuery filters the audit trail. Zero fields do not filter.
type AuditQuery struct {
	ActorID      string
	Action       string
	ResourceKind string
	From         time.Time
	To           time.Time
	Page         int
	PageSize     int
}

// AuditPage is one newest-first page of audit records.
type AuditPage struct {
	Records  []AuditRecord `json:"records"`
	Total    int           `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"pageSize"`
}

// Audited action kinds.
const (
	AuditLogin            = "auth.login"
	AuditLogout           = "auth.logout"
	AuditTwoFactorToggle  = "identity.two_factor"
	AuditIdentityCreate   = "identity.create"
	AuditIdentityRole     = "identity.role_change"
	AuditIdentityActive   = "identity.active_change"
	AuditIdentityPassword = "identity.password_reset"
	AuditIdentityDelete   = "identity.delete"
	AuditShareGrant       = "share.grant"
	AuditShareUpdate      = "share.update"
	AuditShareRevoke      = "share.revoke"
	resourceKindIdentity  = "identity"
	resourceKindDocument  = "document"
	defaultAuditPageSize  = 50
	maxAuditPageSize      = 200
)
