package packguard

import (
	"context"
	"errors"
	"slices"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrEthical07/packguard/permission"
)

// cachedShare caches share lookups, including the absence of a share.
type cachedShare struct {
	Entry *permission.ShareEntry `json:"entry,omitempty"`
}

func (e *Engine) loadDocument(ctx context.Context, documentID string) (*permission.Document, error) {
	if documentID == "" {
		return nil, invalidf("document id is required")
	}
	var doc permission.Document
	if e.cacheGetJSON(ctx, documentOwnerKey(documentID), &doc) && doc.ID == documentID {
		return &doc, nil
	}
	scope := documentScope(documentID)
	fence, fenced := e.cacheFence(ctx, scope)
	found, err := e.documents.FindDocument(ctx, documentID)
	if err != nil {
		return nil, wrapStore("load document", err)
	}
	if fenced {
		e.cacheFillJSON(ctx, scope, fence, documentOwnerKey(documentID), found, e.config.Cache.DocumentTTL)
	}
	return found, nil
}

func (e *Engine) loadShare(ctx context.Context, documentID, userID string) (*permission.ShareEntry, error) {
	key := documentShareKey(documentID, userID)
	var cached cachedShare
	if e.cacheGetJSON(ctx, key, &cached) {
		return cached.Entry, nil
	}
	scope := documentScope(documentID)
	fence, fenced := e.cacheFence(ctx, scope)
	entry, err := e.documents.FindShare(ctx, documentID, userID)
	if errors.Is(err, ErrNotFound) {
		entry, err = nil, nil
	}
	if err != nil {
		return nil, wrapStore("load share", err)
	}
	if fenced {
		e.cacheFillJSON(ctx, scope, fence, key, cachedShare{Entry: entry}, e.config.Cache.DocumentTTL)
	}
	return entry, nil
}

// decide runs the authorization decision for actor on doc.
func (e *Engine) decide(ctx context.Context, actor *Identity, doc *permission.Document, actions []permission.Action) (permission.Decision, error) {
	var share *permission.ShareEntry
	if actor.Role != permission.TopSystemRole && actor.ID != doc.OwnerID {
		var err error
		share, err = e.loadShare(ctx, doc.ID, actor.ID)
		if err != nil {
			return permission.Decision{}, err
		}
	}
	decision := permission.Authorize(
		permission.Subject{ID: actor.ID, Role: actor.Role},
		*doc, share, actions, e.policy,
	)
	e.metrics.authorization(decision.Allowed, decision.Reason)
	return decision, nil
}

// AuthorizeDocument decides whether actor may perform every action on the
// document. A denial is a *ForbiddenError naming the missing actions; the
// decision is returned either way.
func (e *Engine) AuthorizeDocument(ctx context.Context, actor *Identity, documentID string, actions ...permission.Action) (_ permission.Decision, err error) {
	ctx, span := tracer.Start(ctx, "packguard.authorize_document",
		trace.WithAttributes(attribute.String("document.id", documentID)),
	)
	defer func() { endSpan(span, err) }()

	if actor == nil {
		return permission.Decision{}, ErrUnauthorized
	}
	doc, err := e.loadDocument(ctx, documentID)
	if err != nil {
		return permission.Decision{}, err
	}
	decision, err := e.decide(ctx, actor, doc, actions)
	if err != nil {
		return permission.Decision{}, err
	}
	span.SetAttributes(
		attribute.Bool("authz.allowed", decision.Allowed),
		attribute.String("authz.reason", decision.Reason),
	)
	if !decision.Allowed {
		return decision, &ForbiddenError{Missing: decision.Missing, Reason: decision.Reason}
	}
	return decision, nil
}

// ListShares returns the share table of a document. It requires the share
// capability.
func (e *Engine) ListShares(ctx context.Context, actor *Identity, documentID string) ([]permission.ShareEntry, error) {
	if _, err := e.AuthorizeDocument(ctx, actor, documentID, permission.ActionShare); err != nil {
		return nil, err
	}
	entries, err := e.documents.ListShares(ctx, documentID)
	if err != nil {
		return nil, wrapStore("list shares", err)
	}
	slices.SortFunc(entries, func(a, b permission.ShareEntry) int {
		return a.SharedAt.Compare(b.SharedAt)
	})
	return entries, nil
}

// ShareDocument grants role on a document to userID. Owner can never be
// granted and the document owner cannot receive a share.
func (e *Engine) ShareDocument(ctx context.Context, actor *Identity, documentID, userID string, role permission.DocumentRole) (*permission.ShareEntry, error) {
	if !role.Valid() {
		return nil, invalidf("invalid document role")
	}
	if !role.Shareable() {
		return nil, ErrOwnerImmutable
	}
	if userID == "" {
		return nil, invalidf("user id is required")
	}
	if _, err := e.AuthorizeDocument(ctx, actor, documentID, permission.ActionShare); err != nil {
		return nil, err
	}
	doc, err := e.loadDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if userID == doc.OwnerID {
		return nil, ErrOwnerImmutable
	}
	if _, err := e.identities.FindByID(ctx, userID); err != nil {
		return nil, wrapStore("share document: find user", err)
	}
	existing, err := e.documents.FindShare(ctx, documentID, userID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, wrapStore("share document", err)
	}
	if existing != nil {
		return nil, kindError(ErrConflict, "document already shared with this user")
	}

	entry := permission.ShareEntry{
		DocumentID: documentID,
		UserID:     userID,
		Role:       role,
		SharedBy:   actor.ID,
		SharedAt:   e.now().UTC(),
	}
	if err := e.documents.SaveShare(ctx, entry); err != nil {
		return nil, wrapStore("share document", err)
	}
	e.invalidateDocument(ctx, documentID)

	e.recordAudit(ctx, actor, AuditShareGrant, resourceKindDocument, documentID, map[string]string{
		"user_id": userID,
		"role":    string(role),
	})
	return &entry, nil
}

// UpdateShare changes the role of an existing share. Owner entries cannot be
// changed and no entry can be promoted to Owner.
func (e *Engine) UpdateShare(ctx context.Context, actor *Identity, documentID, userID string, role permission.DocumentRole) (*permission.ShareEntry, error) {
	if !role.Valid() {
		return nil, invalidf("invalid document role")
	}
	if !role.Shareable() {
		return nil, ErrOwnerImmutable
	}
	if _, err := e.AuthorizeDocument(ctx, actor, documentID, permission.ActionShare); err != nil {
		return nil, err
	}
	doc, err := e.loadDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	existing, err := e.documents.FindShare(ctx, documentID, userID)
	if err != nil {
		return nil, wrapStore("update share", err)
	}
	if userID == doc.OwnerID || existing.Role == permission.DocOwner {
		return nil, ErrOwnerImmutable
	}
	if existing.Role == role {
		return existing, nil
	}

	previous := existing.Role
	updated := *existing
	updated.Role = role
	if err := e.documents.SaveShare(ctx, updated); err != nil {
		return nil, wrapStore("update share", err)
	}
	e.invalidateDocument(ctx, documentID)

	e.recordAudit(ctx, actor, AuditShareUpdate, resourceKindDocument, documentID, map[string]string{
		"user_id": userID,
		"from":    string(previous),
		"to":      string(role),
	})
	return &updated, nil
}

// RevokeShare removes userID's share. It requires the share capability,
// except that anyone may drop their own non-owner share. Owner entries are
// never revocable.
func (e *Engine) RevokeShare(ctx context.Context, actor *Identity, documentID, userID string) error {
	if actor == nil {
		return ErrUnauthorized
	}
	doc, err := e.loadDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if userID != actor.ID {
		if _, err := e.AuthorizeDocument(ctx, actor, documentID, permission.ActionShare); err != nil {
			return err
		}
	}
	existing, err := e.documents.FindShare(ctx, documentID, userID)
	if err != nil {
		return wrapStore("revoke share", err)
	}
	if userID == doc.OwnerID || existing.Role == permission.DocOwner {
		return ErrOwnerImmutable
	}
	if err := e.documents.DeleteShare(ctx, documentID, userID); err != nil {
		return wrapStore("revoke share", err)
	}
	e.invalidateDocument(ctx, documentID)

	e.recordAudit(ctx, actor, AuditShareRevoke, resourceKindDocument, documentID, map[string]string{
		"user_id": userID,
		"role":    string(existing.Role),
	})
	return nil
}
