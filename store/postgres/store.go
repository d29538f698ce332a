// Package postgres implements the packguard store interfaces on PostgreSQL
// through pgx. Schema lives in migrations/ and is applied with Migrate.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"github.com/MrEthical07/packguard"
	"github.com/MrEthical07/packguard/permission"
)

// Pool is the subset of *pgxpool.Pool the store needs.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements IdentityStore, DocumentStore and AuditStore.
type Store struct {
	pool Pool
}

// New returns a Store backed by pool.
func New(pool Pool) *Store {
	return &Store{pool: pool}
}

var (
	_ packguard.IdentityStore = (*Store)(nil)
	_ packguard.DocumentStore = (*Store)(nil)
	_ packguard.AuditStore    = (*Store)(nil)
)

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation
}

/*
====================================
IDENTITIES
====================================
*/

const identityColumns = `id, email, display_name, role, password_hash, active,
		       refresh_tokens, two_factor_enabled, last_login_at, version,
		       created_at, updated_at`

const challengeColumns = `, challenge_hash, challenge_expires_at, challenge_attempts`

func selectIdentity(where string, withChallenge bool) string {
	cols := identityColumns
	if withChallenge {
		cols += challengeColumns
	}
	return "SELECT " + cols + " FROM identities WHERE " + where
}

func scanIdentity(row pgx.Row, withChallenge bool) (*packguard.Identity, error) {
	var (
		identity      packguard.Identity
		role          string
		lastLogin     *time.Time
		challengeHash *string
		challengeExp  *time.Time
		attempts      int
	)
	dest := []any{
		&identity.ID, &identity.Email, &identity.DisplayName, &role,
		&identity.PasswordHash, &identity.Active, &identity.RefreshTokens,
		&identity.TwoFactor.Enabled, &lastLogin, &identity.Version,
		&identity.CreatedAt, &identity.UpdatedAt,
	}
	if withChallenge {
		dest = append(dest, &challengeHash, &challengeExp, &attempts)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	parsed, err := permission.ParseSystemRole(role)
	if err != nil {
		return nil, err
	}
	identity.Role = parsed
	identity.LastLoginAt = lastLogin
	if challengeHash != nil && challengeExp != nil {
		identity.TwoFactor.Pending = &packguard.PendingChallenge{
			CodeHash:  *challengeHash,
			ExpiresAt: *challengeExp,
			Attempts:  attempts,
		}
	}
	return &identity, nil
}

func (s *Store) findIdentity(ctx context.Context, where string, arg string, opts []packguard.FindOption) (*packguard.Identity, error) {
	withChallenge := packguard.ApplyFindOptions(opts...).IncludeChallenge
	row := s.pool.QueryRow(ctx, selectIdentity(where, withChallenge), arg)
	identity, err := scanIdentity(row, withChallenge)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("IDENTITY_NOT_FOUND").With("key", arg).Wrap(packguard.ErrIdentityNotFound)
	}
	if err != nil {
		return nil, oops.Code("IDENTITY_QUERY_FAILED").With("key", arg).Wrap(err)
	}
	return identity, nil
}

func (s *Store) FindByID(ctx context.Context, id string, opts ...packguard.FindOption) (*packguard.Identity, error) {
	return s.findIdentity(ctx, "id = $1", id, opts)
}

func (s *Store) FindByEmail(ctx context.Context, email string, opts ...packguard.FindOption) (*packguard.Identity, error) {
	return s.findIdentity(ctx, "LOWER(email) = LOWER($1)", email, opts)
}

func challengeArgs(identity *packguard.Identity) (hash *string, expires *time.Time, attempts int) {
	if p := identity.TwoFactor.Pending; p != nil {
		return &p.CodeHash, &p.ExpiresAt, p.Attempts
	}
	return nil, nil, 0
}

func refreshTokens(identity *packguard.Identity) []string {
	if identity.RefreshTokens == nil {
		return []string{}
	}
	return identity.RefreshTokens
}

// Create inserts identity at version 1.
func (s *Store) Create(ctx context.Context, identity *packguard.Identity) error {
	hash, expires, attempts := challengeArgs(identity)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO identities (
			id, email, display_name, role, password_hash, active,
			refresh_tokens, two_factor_enabled, challenge_hash,
			challenge_expires_at, challenge_attempts, last_login_at,
			version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, 1, $13, $14)
	`,
		identity.ID,
		identity.Email,
		identity.DisplayName,
		identity.Role.String(),
		identity.PasswordHash,
		identity.Active,
		refreshTokens(identity),
		identity.TwoFactor.Enabled,
		hash,
		expires,
		attempts,
		identity.LastLoginAt,
		identity.CreatedAt,
		identity.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return oops.Code("IDENTITY_EMAIL_TAKEN").With("email", identity.Email).Wrap(packguard.ErrEmailTaken)
	}
	if err != nil {
		return oops.Code("IDENTITY_CREATE_FAILED").With("id", identity.ID).Wrap(err)
	}
	identity.Version = 1
	return nil
}

// Update writes every field when the stored version still equals
// identity.Version.
func (s *Store) Update(ctx context.Context, identity *packguard.Identity) error {
	hash, expires, attempts := challengeArgs(identity)
	tag, err := s.pool.Exec(ctx, `
		UPDATE identities SET
			email = $3, display_name = $4, role = $5, password_hash = $6,
			active = $7, refresh_tokens = $8, two_factor_enabled = $9,
			challenge_hash = $10, challenge_expires_at = $11,
			challenge_attempts = $12, last_login_at = $13, updated_at = $14,
			version = version + 1
		WHERE id = $1 AND version = $2
	`,
		identity.ID,
		identity.Version,
		identity.Email,
		identity.DisplayName,
		identity.Role.String(),
		identity.PasswordHash,
		identity.Active,
		refreshTokens(identity),
		identity.TwoFactor.Enabled,
		hash,
		expires,
		attempts,
		identity.LastLoginAt,
		identity.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return oops.Code("IDENTITY_EMAIL_TAKEN").With("email", identity.Email).Wrap(packguard.ErrEmailTaken)
	}
	if err != nil {
		return oops.Code("IDENTITY_UPDATE_FAILED").With("id", identity.ID).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return s.missedUpdate(ctx, identity.ID)
	}
	identity.Version++
	return nil
}

// missedUpdate tells a stale version apart from a deleted row.
func (s *Store) missedUpdate(ctx context.Context, id string) error {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM identities WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return oops.Code("IDENTITY_UPDATE_FAILED").With("id", id).Wrap(err)
	}
	if !exists {
		return oops.Code("IDENTITY_NOT_FOUND").With("id", id).Wrap(packguard.ErrIdentityNotFound)
	}
	return packguard.ErrVersionConflict
}

// Delete removes the identity; shares cascade.
func (s *Store) Delete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM identities WHERE id = $1`, id)
	if err != nil {
		return oops.Code("IDENTITY_DELETE_FAILED").With("id", id).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("IDENTITY_NOT_FOUND").With("id", id).Wrap(packguard.ErrIdentityNotFound)
	}
	return nil
}

/*
====================================
DOCUMENTS
====================================
*/

// CreateDocument registers a document and its owner.
func (s *Store) CreateDocument(ctx context.Context, doc permission.Document) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO documents (id, owner_id) VALUES ($1, $2)`, doc.ID, doc.OwnerID)
	if isUniqueViolation(err) {
		return oops.Code("DOCUMENT_EXISTS").With("id", doc.ID).Wrap(packguard.ErrConflict)
	}
	if err != nil {
		return oops.Code("DOCUMENT_CREATE_FAILED").With("id", doc.ID).Wrap(err)
	}
	return nil
}

func (s *Store) FindDocument(ctx context.Context, id string) (*permission.Document, error) {
	var doc permission.Document
	err := s.pool.QueryRow(ctx, `SELECT id, owner_id FROM documents WHERE id = $1`, id).Scan(&doc.ID, &doc.OwnerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("DOCUMENT_NOT_FOUND").With("id", id).Wrap(packguard.ErrDocumentNotFound)
	}
	if err != nil {
		return nil, oops.Code("DOCUMENT_QUERY_FAILED").With("id", id).Wrap(err)
	}
	return &doc, nil
}

func scanShare(row pgx.Row) (permission.ShareEntry, error) {
	var (
		entry permission.ShareEntry
		role  string
	)
	if err := row.Scan(&entry.DocumentID, &entry.UserID, &role, &entry.SharedBy, &entry.SharedAt); err != nil {
		return entry, err
	}
	parsed, err := permission.ParseDocumentRole(role)
	if err != nil {
		return entry, err
	}
	entry.Role = parsed
	return entry, nil
}

func (s *Store) FindShare(ctx context.Context, documentID, userID string) (*permission.ShareEntry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT document_id, user_id, role, shared_by, shared_at
		FROM document_shares
		WHERE document_id = $1 AND user_id = $2
	`, documentID, userID)
	entry, err := scanShare(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, oops.Code("SHARE_NOT_FOUND").
			With("document_id", documentID).
			With("user_id", userID).
			Wrap(packguard.ErrShareNotFound)
	}
	if err != nil {
		return nil, oops.Code("SHARE_QUERY_FAILED").With("document_id", documentID).Wrap(err)
	}
	return &entry, nil
}

func (s *Store) ListShares(ctx context.Context, documentID string) ([]permission.ShareEntry, error) {
	if _, err := s.FindDocument(ctx, documentID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT document_id, user_id, role, shared_by, shared_at
		FROM document_shares
		WHERE document_id = $1
		ORDER BY user_id
	`, documentID)
	if err != nil {
		return nil, oops.Code("SHARE_LIST_FAILED").With("document_id", documentID).Wrap(err)
	}
	defer rows.Close()

	out := []permission.ShareEntry{}
	for rows.Next() {
		entry, err := scanShare(rows)
		if err != nil {
			return nil, oops.Code("SHARE_SCAN_FAILED").With("document_id", documentID).Wrap(err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, oops.Code("SHARE_LIST_FAILED").With("document_id", documentID).Wrap(err)
	}
	return out, nil
}

func (s *Store) SaveShare(ctx context.Context, entry permission.ShareEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO document_shares (document_id, user_id, role, shared_by, shared_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (document_id, user_id) DO UPDATE SET
			role = EXCLUDED.role,
			shared_by = EXCLUDED.shared_by,
			shared_at = EXCLUDED.shared_at
	`, entry.DocumentID, entry.UserID, string(entry.Role), entry.SharedBy, entry.SharedAt)
	if isForeignKeyViolation(err) {
		return oops.Code("SHARE_TARGET_MISSING").
			With("document_id", entry.DocumentID).
			With("user_id", entry.UserID).
			Wrap(packguard.ErrNotFound)
	}
	if err != nil {
		return oops.Code("SHARE_SAVE_FAILED").With("document_id", entry.DocumentID).Wrap(err)
	}
	return nil
}

func (s *Store) DeleteShare(ctx context.Context, documentID, userID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM document_shares WHERE document_id = $1 AND user_id = $2`, documentID, userID)
	if err != nil {
		return oops.Code("SHARE_DELETE_FAILED").With("document_id", documentID).Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return oops.Code("SHARE_NOT_FOUND").
			With("document_id", documentID).
			With("user_id", userID).
			Wrap(packguard.ErrShareNotFound)
	}
	return nil
}

/*
====================================
AUDIT
====================================
*/

func (s *Store) AppendAudit(ctx context.Context, record packguard.AuditRecord) error {
	var details []byte
	if len(record.Details) > 0 {
		var err error
		if details, err = json.Marshal(record.Details); err != nil {
			return oops.Code("AUDIT_APPEND_FAILED").With("operation", "marshal details").Wrap(err)
		}
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_records (
			id, actor_id, actor_email, action, resource_kind, resource_id,
			details, source_ip, user_agent, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		record.ID,
		record.ActorID,
		record.ActorEmail,
		record.Action,
		record.ResourceKind,
		record.ResourceID,
		details,
		record.SourceIP,
		record.UserAgent,
		record.Timestamp,
	)
	if err != nil {
		return oops.Code("AUDIT_APPEND_FAILED").With("action", record.Action).Wrap(err)
	}
	return nil
}

// auditFilter renders the WHERE clause for q with positional args.
func auditFilter(q packguard.AuditQuery) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(expr string, v any) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(expr, len(args)))
	}
	if q.ActorID != "" {
		add("actor_id = $%d", q.ActorID)
	}
	if q.Action != "" {
		add("action = $%d", q.Action)
	}
	if q.ResourceKind != "" {
		add("resource_kind = $%d", q.ResourceKind)
	}
	if !q.From.IsZero() {
		add("created_at >= $%d", q.From)
	}
	if !q.To.IsZero() {
		add("created_at <= $%d", q.To)
	}
	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (s *Store) QueryAudit(ctx context.Context, q packguard.AuditQuery) (packguard.AuditPage, error) {
	page := packguard.AuditPage{Page: q.Page, PageSize: q.PageSize, Records: []packguard.AuditRecord{}}
	where, args := auditFilter(q)

	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM audit_records"+where, args...).Scan(&page.Total); err != nil {
		return page, oops.Code("AUDIT_QUERY_FAILED").With("operation", "count").Wrap(err)
	}
	if page.Total == 0 {
		return page, nil
	}

	limit := len(args) + 1
	sql := fmt.Sprintf(`SELECT id, actor_id, actor_email, action, resource_kind, resource_id,
		       details, source_ip, user_agent, created_at
		FROM audit_records%s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d`, where, limit, limit+1)
	args = append(args, q.PageSize, (q.Page-1)*q.PageSize)

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return page, oops.Code("AUDIT_QUERY_FAILED").With("operation", "select").Wrap(err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			r       packguard.AuditRecord
			details []byte
		)
		if err := rows.Scan(&r.ID, &r.ActorID, &r.ActorEmail, &r.Action, &r.ResourceKind,
			&r.ResourceID, &details, &r.SourceIP, &r.UserAgent, &r.Timestamp); err != nil {
			return page, oops.Code("AUDIT_SCAN_FAILED").Wrap(err)
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &r.Details); err != nil {
				return page, oops.Code("AUDIT_SCAN_FAILED").With("id", r.ID).Wrap(err)
			}
		}
		page.Records = append(page.Records, r)
	}
	if err := rows.Err(); err != nil {
		return page, oops.Code("AUDIT_QUERY_FAILED").Wrap(err)
	}
	return page, nil
}
