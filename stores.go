package packguard

import (
	"context"
	"time"

	"github.com/MrEthical07/packguard/permission"
)

// Errors returned by store implementations.
var (
	ErrIdentityNotFound = kindError(ErrNotFound, "identity not found")
	ErrDocumentNotFound = kindError(ErrNotFound, "document not found")
	ErrShareNotFound    = kindError(ErrNotFound, "share entry not found")
)

// FindOptions tunes identity reads.
type FindOptions struct {
	IncludeChallenge bool
}

// FindOption mutates FindOptions.
type FindOption func(*FindOptions)

// WithChallenge opts in to reading the pending two-factor challenge. Reads
// without it return TwoFactor.Pending == nil.
func WithChallenge() FindOption {
	return func(o *FindOptions) { o.IncludeChallenge = true }
}

// ApplyFindOptions folds opts for store implementations.
func ApplyFindOptions(opts ...FindOption) FindOptions {
	var o FindOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// IdentityStore is the durable identity record store.
//
// Update is conditional: it succeeds only when the stored version equals
// identity.Version, then writes every field (pending challenge included) and
// advances identity.Version. A mismatch returns ErrVersionConflict. Callers
// must therefore read with WithChallenge before updating.
type IdentityStore interface {
	FindByID(ctx context.Context, id string, opts ...FindOption) (*Identity, error)
	FindByEmail(ctx context.Context, email string, opts ...FindOption) (*Identity, error)
	Create(ctx context.Context, identity *Identity) error
	Update(ctx context.Context, identity *Identity) error
	Delete(ctx context.Context, id string) error
}

// DocumentStore exposes document ownership and the share table.
type DocumentStore interface {
	FindDocument(ctx context.Context, id string) (*permission.Document, error)
	FindShare(ctx context.Context, documentID, userID string) (*permission.ShareEntry, error)
	ListShares(ctx context.Context, documentID string) ([]permission.ShareEntry, error)
	// SaveShare inserts or replaces the entry for (DocumentID, UserID).
	SaveShare(ctx context.Context, entry permission.ShareEntry) error
	DeleteShare(ctx context.Context, documentID, userID string) error
}

// AuditStore persists and queries audit records. QueryAudit receives a
// normalized query and returns records newest first.
type AuditStore interface {
	AppendAudit(ctx context.Context, record AuditRecord) error
	QueryAudit(ctx context.Context, query AuditQuery) (AuditPage, error)
}

// Cache is a best-effort byte cache. Get returns cache.ErrCacheMiss for
// absent keys. DeleteByPattern accepts glob patterns such as "doc:42:*".
//
// Fences guard write-through against concurrent invalidation: a reader takes
// Fence(scope) before loading from the store and writes with SetFenced, which
// stores nothing if Bump(scope) ran in between.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	DeleteByPattern(ctx context.Context, pattern string) error

	Fence(ctx context.Context, scope string) (string, error)
	SetFenced(ctx context.Context, scope, fence, key string, value []byte, ttl time.Duration) (bool, error)
	Bump(ctx context.Context, scope string) error
}

// LoginThrottle counts failed logins per e-mail address. Errors are logged
// and the login proceeds.
type LoginThrottle interface {
	Allow(ctx context.Context, key string) (bool, error)
	Fail(ctx context.Context, key string) error
	Reset(ctx context.Context, key string) error
}

// CodeSender delivers a plaintext two-factor code out of band.
type CodeSender interface {
	SendCode(ctx context.Context, address, code, displayName string) error
}
