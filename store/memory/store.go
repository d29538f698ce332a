// Package memory implements every packguard store interface on in-process
// maps. It has the same semantics as the Postgres store: conditional
// identity updates, opt-in challenge reads and newest-first audit queries.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/MrEthical07/packguard"
	"github.com/MrEthical07/packguard/permission"
)

// Store is safe for concurrent use. The zero value is not usable; call New.
type Store struct {
	mu         sync.RWMutex
	identities map[string]*packguard.Identity
	byEmail    map[string]string
	documents  map[string]permission.Document
	shares     map[string]map[string]permission.ShareEntry
	audit      []packguard.AuditRecord
}

func New() *Store {
	return &Store{
		identities: make(map[string]*packguard.Identity),
		byEmail:    make(map[string]string),
		documents:  make(map[string]permission.Document),
		shares:     make(map[string]map[string]permission.ShareEntry),
	}
}

var (
	_ packguard.IdentityStore = (*Store)(nil)
	_ packguard.DocumentStore = (*Store)(nil)
	_ packguard.AuditStore    = (*Store)(nil)
)

/*
====================================
IDENTITIES
====================================
*/

func project(identity *packguard.Identity, opts []packguard.FindOption) *packguard.Identity {
	out := identity.Clone()
	if !packguard.ApplyFindOptions(opts...).IncludeChallenge {
		out.TwoFactor.Pending = nil
	}
	return out
}

func (s *Store) FindByID(_ context.Context, id string, opts ...packguard.FindOption) (*packguard.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	identity, ok := s.identities[id]
	if !ok {
		return nil, packguard.ErrIdentityNotFound
	}
	return project(identity, opts), nil
}

func (s *Store) FindByEmail(_ context.Context, email string, opts ...packguard.FindOption) (*packguard.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, packguard.ErrIdentityNotFound
	}
	return project(s.identities[id], opts), nil
}

func (s *Store) Create(_ context.Context, identity *packguard.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := strings.ToLower(identity.Email)
	if _, taken := s.byEmail[email]; taken {
		return packguard.ErrEmailTaken
	}
	if _, exists := s.identities[identity.ID]; exists {
		return packguard.ErrConflict
	}
	identity.Version = 1
	s.identities[identity.ID] = identity.Clone()
	s.byEmail[email] = identity.ID
	return nil
}

func (s *Store) Update(_ context.Context, identity *packguard.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.identities[identity.ID]
	if !ok {
		return packguard.ErrIdentityNotFound
	}
	if current.Version != identity.Version {
		return packguard.ErrVersionConflict
	}
	email := strings.ToLower(identity.Email)
	if owner, taken := s.byEmail[email]; taken && owner != identity.ID {
		return packguard.ErrEmailTaken
	}

	delete(s.byEmail, strings.ToLower(current.Email))
	identity.Version++
	s.identities[identity.ID] = identity.Clone()
	s.byEmail[email] = identity.ID
	return nil
}

// Delete removes the identity and every share it holds.
func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.identities[id]
	if !ok {
		return packguard.ErrIdentityNotFound
	}
	delete(s.identities, id)
	delete(s.byEmail, strings.ToLower(current.Email))
	for _, entries := range s.shares {
		delete(entries, id)
	}
	return nil
}

/*
====================================
DOCUMENTS
====================================
*/

// PutDocument registers a document and its owner.
func (s *Store) PutDocument(doc permission.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents[doc.ID] = doc
}

func (s *Store) FindDocument(_ context.Context, id string) (*permission.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.documents[id]
	if !ok {
		return nil, packguard.ErrDocumentNotFound
	}
	return &doc, nil
}

func (s *Store) FindShare(_ context.Context, documentID, userID string) (*permission.ShareEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.shares[documentID][userID]
	if !ok {
		return nil, packguard.ErrShareNotFound
	}
	return &entry, nil
}

func (s *Store) ListShares(_ context.Context, documentID string) ([]permission.ShareEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.documents[documentID]; !ok {
		return nil, packguard.ErrDocumentNotFound
	}
	out := make([]permission.ShareEntry, 0, len(s.shares[documentID]))
	for _, entry := range s.shares[documentID] {
		out = append(out, entry)
	}
	slices.SortFunc(out, func(a, b permission.ShareEntry) int { return strings.Compare(a.UserID, b.UserID) })
	return out, nil
}

func (s *Store) SaveShare(_ context.Context, entry permission.ShareEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.documents[entry.DocumentID]; !ok {
		return packguard.ErrDocumentNotFound
	}
	entries, ok := s.shares[entry.DocumentID]
	if !ok {
		entries = make(map[string]permission.ShareEntry)
		s.shares[entry.DocumentID] = entries
	}
	entries[entry.UserID] = entry
	return nil
}

func (s *Store) DeleteShare(_ context.Context, documentID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.shares[documentID][userID]; !ok {
		return packguard.ErrShareNotFound
	}
	delete(s.shares[documentID], userID)
	return nil
}

/*
====================================
AUDIT
====================================
*/

func (s *Store) AppendAudit(_ context.Context, record packguard.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record.Details != nil {
		details := make(map[string]string, len(record.Details))
		for k, v := range record.Details {
			details[k] = v
		}
		record.Details = details
	}
	s.audit = append(s.audit, record)
	return nil
}

func (s *Store) QueryAudit(_ context.Context, q packguard.AuditQuery) (packguard.AuditPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []packguard.AuditRecord
	for _, r := range s.audit {
		switch {
		case q.ActorID != "" && r.ActorID != q.ActorID:
		case q.Action != "" && r.Action != q.Action:
		case q.ResourceKind != "" && r.ResourceKind != q.ResourceKind:
		case !q.From.IsZero() && r.Timestamp.Before(q.From):
		case !q.To.IsZero() && r.Timestamp.After(q.To):
		default:
			matched = append(matched, r)
		}
	}
	// newest first; ULIDs break timestamp ties
	slices.SortStableFunc(matched, func(a, b packguard.AuditRecord) int {
		if c := b.Timestamp.Compare(a.Timestamp); c != 0 {
			return c
		}
		return strings.Compare(b.ID, a.ID)
	})

	page := packguard.AuditPage{Total: len(matched), Page: q.Page, PageSize: q.PageSize, Records: []packguard.AuditRecord{}}
	start := (q.Page - 1) * q.PageSize
	if start < 0 || q.PageSize <= 0 || start >= len(matched) {
		return page, nil
	}
	end := min(start+q.PageSize, len(matched))
	page.Records = append(page.Records, matched[start:end]...)
	return page, nil
}
