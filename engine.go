package packguard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"github.com/MrEthical07/packguard/cache"
	"github.com/MrEthical07/packguard/internal/audit"
	"github.com/MrEthical07/packguard/internal/flows"
	"github.com/MrEthical07/packguard/internal/security"
	"github.com/MrEthical07/packguard/jwt"
	"github.com/MrEthical07/packguard/password"
	"github.com/MrEthical07/packguard/permission"
)

// maxMutationRetries bounds reload-and-reapply cycles on version conflicts.
const maxMutationRetries = 4

// errNoWrite aborts a mutation without writing and without failing.
var errNoWrite = errors.New("no write")

// Engine is the authentication and access core. It is safe for concurrent
// use; Close releases the audit dispatcher.
type Engine struct {
	config     Config
	identities IdentityStore
	documents  DocumentStore
	audits     AuditStore
	cache      Cache
	sender     CodeSender
	throttle   LoginThrottle
	tokens     *jwt.Manager
	hasher     *password.Hasher
	dummyHash  string
	policy     permission.Policy
	logger     logrus.FieldLogger
	metrics    *Metrics
	audit      *audit.Dispatcher
	challenge  flows.ChallengeConfig
	now        func() time.Time
}

// Close drains pending audit records.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// Shutdown drains pending audit records until ctx ends. Records still
// buffered at that point are dropped and counted.
func (e *Engine) Shutdown(ctx context.Context) error {
	if e == nil {
		return nil
	}
	return e.audit.Shutdown(ctx)
}

// AuditStats reports delivered, dropped and buffered audit records. It is
// zero when auditing is disabled.
func (e *Engine) AuditStats() AuditStats {
	return e.audit.Stats()
}

// Policy returns the effective-role table in use.
func (e *Engine) Policy() permission.Policy {
	return e.policy
}

type AuditStats = audit.Stats

// SecurityReport is a snapshot of the security-relevant settings of an Engine.
type SecurityReport = security.Report

// SecurityReport summarizes the effective configuration and lists settings
// weaker than recommended.
func (e *Engine) SecurityReport() SecurityReport {
	_, nop := e.cache.(cache.Nop)
	pw := e.config.Password
	return security.BuildReport(security.ReportInput{
		AccessTTL:        e.config.JWT.AccessTTL,
		RefreshTTL:       e.config.JWT.RefreshTTL,
		TwoFactorTTL:     e.config.JWT.TwoFactorTTL,
		CodeDigits:       e.config.TwoFactor.CodeDigits,
		CodeTTL:          e.config.TwoFactor.CodeTTL,
		MaxAttempts:      e.config.TwoFactor.MaxAttempts,
		MaxRefreshTokens: e.config.Session.MaxRefreshTokens,
		Password: security.PasswordReport{
			Memory:      pw.Memory,
			Time:        pw.Time,
			Parallelism: pw.Parallelism,
			SaltLength:  pw.SaltLength,
			KeyLength:   pw.KeyLength,
			MinLength:   pw.MinLength,
		},
		CacheEnabled:  !nop,
		AuditEnabled:  e.audit != nil,
		AuditStore:    e.audits != nil,
		LoginThrottle: e.throttle != nil,
	})
}

// mutateIdentity loads the identity with its challenge, applies fn and writes
// it back conditionally on Version. On a version conflict the whole cycle is
// retried. fn may return errNoWrite to finish without writing; any other
// error aborts. The identity cache entry is invalidated after every write.
func (e *Engine) mutateIdentity(ctx context.Context, id string, fn func(*Identity) error) (*Identity, error) {
	for attempt := 0; attempt < maxMutationRetries; attempt++ {
		identity, err := e.identities.FindByID(ctx, id, WithChallenge())
		if err != nil {
			return nil, err
		}
		if err := fn(identity); err != nil {
			if errors.Is(err, errNoWrite) {
				return identity, nil
			}
			return nil, err
		}
		identity.UpdatedAt = e.now().UTC()

		err = e.identities.Update(ctx, identity)
		if errors.Is(err, ErrVersionConflict) {
			e.logger.WithFields(logrus.Fields{
				"identity_id": id,
				"attempt":     attempt + 1,
			}).Debug("identity version conflict, retrying")
			continue
		}
		if err != nil {
			return nil, err
		}
		e.invalidateIdentity(ctx, id)
		return identity, nil
	}
	return nil, ErrVersionConflict
}

/*
====================================
CACHE HELPERS
====================================
*/

func identityCacheKey(id string) string { return "identity:" + id }

func documentOwnerKey(documentID string) string { return "doc:" + documentID + ":owner" }

func documentShareKey(documentID, userID string) string {
	return "doc:" + documentID + ":share:" + userID
}

func documentPattern(documentID string) string { return "doc:" + documentID + ":*" }

func identityScope(id string) string { return "identity:" + id }

func documentScope(documentID string) string { return "doc:" + documentID }

func (e *Engine) cacheGetJSON(ctx context.Context, key string, dst any) bool {
	raw, err := e.cache.Get(ctx, key)
	if err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			e.metrics.cache("get", "miss")
		} else {
			e.metrics.cache("get", "error")
			e.logger.WithFields(logrus.Fields{"key": key, "error": err}).Warn("cache get failed")
		}
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		e.metrics.cache("get", "error")
		e.logger.WithFields(logrus.Fields{"key": key, "error": err}).Warn("cache entry undecodable")
		return false
	}
	e.metrics.cache("get", "hit")
	return true
}

// cacheFence must be taken before the store read whose result is later
// written back with cacheFillJSON. ok is false when the fence is unavailable,
// in which case the result is not cached.
func (e *Engine) cacheFence(ctx context.Context, scope string) (fence string, ok bool) {
	fence, err := e.cache.Fence(ctx, scope)
	if err != nil {
		e.metrics.cache("fence", "error")
		e.logger.WithFields(logrus.Fields{"scope": scope, "error": err}).Warn("cache fence failed")
		return "", false
	}
	return fence, true
}

// cacheFillJSON writes value under key unless scope was invalidated since
// fence was taken.
func (e *Engine) cacheFillJSON(ctx context.Context, scope, fence, key string, value any, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	stored, err := e.cache.SetFenced(ctx, scope, fence, key, raw, ttl)
	switch {
	case err != nil:
		e.metrics.cache("set", "error")
		e.logger.WithFields(logrus.Fields{"key": key, "error": err}).Warn("cache set failed")
	case !stored:
		e.metrics.cache("set", "stale")
		e.logger.WithField("key", key).Debug("cache fill skipped after invalidation")
	default:
		e.metrics.cache("set", "ok")
	}
}

// invalidate* bump the scope fence before deleting, so a lookup that read
// the store before the change cannot write its result back afterwards.

func (e *Engine) invalidateIdentity(ctx context.Context, id string) {
	e.bumpScope(ctx, identityScope(id))
	key := identityCacheKey(id)
	if err := e.cache.Delete(ctx, key); err != nil {
		e.metrics.cache("delete", "error")
		e.logger.WithFields(logrus.Fields{"key": key, "identity_id": id, "error": err}).Warn("cache delete failed")
	}
}

func (e *Engine) invalidateDocument(ctx context.Context, documentID string) {
	e.bumpScope(ctx, documentScope(documentID))
	pattern := documentPattern(documentID)
	if err := e.cache.DeleteByPattern(ctx, pattern); err != nil {
		e.metrics.cache("delete", "error")
		e.logger.WithFields(logrus.Fields{"key": pattern, "error": err}).Warn("cache pattern delete failed")
	}
}

func (e *Engine) bumpScope(ctx context.Context, scope string) {
	if err := e.cache.Bump(ctx, scope); err != nil {
		e.metrics.cache("fence", "error")
		e.logger.WithFields(logrus.Fields{"scope": scope, "error": err}).Warn("cache fence bump failed")
	}
}

/*
====================================
AUDIT HELPERS
====================================
*/

// recordAudit enqueues a record. It never fails the caller.
func (e *Engine) recordAudit(ctx context.Context, actor *Identity, action, resourceKind, resourceID string, details map[string]string) {
	if e.audit == nil {
		return
	}
	now := e.now().UTC()
	record := AuditRecord{
		ID:           ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		Action:       action,
		ResourceKind: resourceKind,
		ResourceID:   resourceID,
		Details:      details,
		SourceIP:     clientIPFromContext(ctx),
		UserAgent:    userAgentFromContext(ctx),
		Timestamp:    now,
	}
	if actor != nil {
		record.ActorID = actor.ID
		record.ActorEmail = actor.Email
	} else {
		record.ActorID = "system"
	}
	e.audit.Emit(context.WithoutCancel(ctx), record)
}

func (e *Engine) onAuditDrop(record AuditRecord) {
	e.metrics.auditDropped()
	e.logger.WithFields(logrus.Fields{
		"action":    record.Action,
		"record_id": record.ID,
	}).Warn("audit buffer full, record dropped")
}

func requireAdmin(actor *Identity) error {
	if actor == nil || actor.Role != permission.TopSystemRole {
		return &ForbiddenError{Reason: "admin_required"}
	}
	return nil
}

func wrapStore(op string, err error) error {
	return fmt.Errorf("%s: %w", op, err)
}
