package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/packguard"
	"github.com/MrEthical07/packguard/permission"
)

var identityCols = []string{
	"id", "email", "display_name", "role", "password_hash", "active",
	"refresh_tokens", "two_factor_enabled", "last_login_at", "version",
	"created_at", "updated_at",
}

func newMock(t *testing.T) (pgxmock.PgxPoolIface, *Store) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err, "failed to create mock")
	t.Cleanup(mock.Close)
	return mock, New(mock)
}

func TestStore_FindByID(t *testing.T) {
	created := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	expires := created.Add(10 * time.Minute)

	tests := []struct {
		name      string
		opts      []packguard.FindOption
		setupMock func(mock pgxmock.PgxPoolIface)
		check     func(t *testing.T, got *packguard.Identity, err error)
	}{
		{
			name: "without challenge projection",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				rows := pgxmock.NewRows(identityCols).
					AddRow("u1", "ana@example.com", "Ana", "designer", "hash", true,
						[]string{"r1", "r2"}, true, nil, int64(4), created, created)
				mock.ExpectQuery(`(?s)SELECT id, email, .+ FROM identities WHERE id = \$1`).
					WithArgs("u1").
					WillReturnRows(rows)
			},
			check: func(t *testing.T, got *packguard.Identity, err error) {
				require.NoError(t, err)
				assert.Equal(t, permission.RoleDesigner, got.Role)
				assert.Equal(t, []string{"r1", "r2"}, got.RefreshTokens)
				assert.Equal(t, int64(4), got.Version)
				assert.True(t, got.TwoFactor.Enabled)
				assert.Nil(t, got.TwoFactor.Pending)
				assert.Nil(t, got.LastLoginAt)
			},
		},
		{
			name: "with challenge projection",
			opts: []packguard.FindOption{packguard.WithChallenge()},
			setupMock: func(mock pgxmock.PgxPoolIface) {
				cols := append(append([]string{}, identityCols...), "challenge_hash", "challenge_expires_at", "challenge_attempts")
				hash := "digest"
				rows := pgxmock.NewRows(cols).
					AddRow("u1", "ana@example.com", "Ana", "viewer", "hash", true,
						[]string{}, true, nil, int64(2), created, created,
						&hash, &expires, 3)
				mock.ExpectQuery(`(?s)SELECT .+challenge_hash, challenge_expires_at, challenge_attempts FROM identities WHERE id = \$1`).
					WithArgs("u1").
					WillReturnRows(rows)
			},
			check: func(t *testing.T, got *packguard.Identity, err error) {
				require.NoError(t, err)
				require.NotNil(t, got.TwoFactor.Pending)
				assert.Equal(t, "digest", got.TwoFactor.Pending.CodeHash)
				assert.Equal(t, expires, got.TwoFactor.Pending.ExpiresAt)
				assert.Equal(t, 3, got.TwoFactor.Pending.Attempts)
			},
		},
		{
			name: "missing row",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`FROM identities WHERE id = \$1`).
					WithArgs("u1").
					WillReturnRows(pgxmock.NewRows(identityCols))
			},
			check: func(t *testing.T, _ *packguard.Identity, err error) {
				require.Error(t, err)
				assert.ErrorIs(t, err, packguard.ErrIdentityNotFound)
				assert.ErrorIs(t, err, packguard.ErrNotFound)
			},
		},
		{
			name: "database error",
			setupMock: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`FROM identities WHERE id = \$1`).
					WithArgs("u1").
					WillReturnError(errors.New("connection refused"))
			},
			check: func(t *testing.T, _ *packguard.Identity, err error) {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "connection refused")
				assert.NotErrorIs(t, err, packguard.ErrNotFound)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, store := newMock(t)
			tt.setupMock(mock)

			got, err := store.FindByID(context.Background(), "u1", tt.opts...)
			tt.check(t, got, err)

			assert.NoError(t, mock.ExpectationsWereMet(), "unfulfilled expectations")
		})
	}
}

func TestStore_FindByEmailIsCaseInsensitive(t *testing.T) {
	mock, store := newMock(t)
	now := time.Now().UTC()
	mock.ExpectQuery(`FROM identities WHERE LOWER\(email\) = LOWER\(\$1\)`).
		WithArgs("Ana@Example.com").
		WillReturnRows(pgxmock.NewRows(identityCols).
			AddRow("u1", "ana@example.com", "Ana", "admin", "hash", true,
				[]string{}, false, &now, int64(1), now, now))

	got, err := store.FindByEmail(context.Background(), "Ana@Example.com")
	require.NoError(t, err)
	assert.Equal(t, permission.RoleAdmin, got.Role)
	require.NotNil(t, got.LastLoginAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Create(t *testing.T) {
	t.Run("sets version 1", func(t *testing.T) {
		mock, store := newMock(t)
		mock.ExpectExec(`INSERT INTO identities`).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		identity := &packguard.Identity{ID: "u1", Email: "ana@example.com", Role: permission.RoleViewer}
		require.NoError(t, store.Create(context.Background(), identity))
		assert.Equal(t, int64(1), identity.Version)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unique violation maps to email taken", func(t *testing.T) {
		mock, store := newMock(t)
		mock.ExpectExec(`INSERT INTO identities`).
			WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation})

		err := store.Create(context.Background(), &packguard.Identity{ID: "u1", Email: "ana@example.com"})
		assert.ErrorIs(t, err, packguard.ErrEmailTaken)
		assert.ErrorIs(t, err, packguard.ErrConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_Update(t *testing.T) {
	identity := func() *packguard.Identity {
		return &packguard.Identity{
			ID:      "u1",
			Email:   "ana@example.com",
			Role:    permission.RoleMerchandiser,
			Version: 3,
			TwoFactor: packguard.TwoFactorState{
				Enabled: true,
				Pending: &packguard.PendingChallenge{CodeHash: "d", ExpiresAt: time.Now(), Attempts: 1},
			},
		}
	}

	t.Run("advances version", func(t *testing.T) {
		mock, store := newMock(t)
		mock.ExpectExec(`(?s)UPDATE identities SET .+ WHERE id = \$1 AND version = \$2`).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		in := identity()
		require.NoError(t, store.Update(context.Background(), in))
		assert.Equal(t, int64(4), in.Version)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stale version conflicts", func(t *testing.T) {
		mock, store := newMock(t)
		mock.ExpectExec(`UPDATE identities SET`).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectQuery(`SELECT EXISTS`).
			WithArgs("u1").
			WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

		in := identity()
		err := store.Update(context.Background(), in)
		assert.ErrorIs(t, err, packguard.ErrVersionConflict)
		assert.Equal(t, int64(3), in.Version)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("deleted row is not found", func(t *testing.T) {
		mock, store := newMock(t)
		mock.ExpectExec(`UPDATE identities SET`).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectQuery(`SELECT EXISTS`).
			WithArgs("u1").
			WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

		err := store.Update(context.Background(), identity())
		assert.ErrorIs(t, err, packguard.ErrIdentityNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_Delete(t *testing.T) {
	mock, store := newMock(t)
	mock.ExpectExec(`DELETE FROM identities WHERE id = \$1`).
		WithArgs("u1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`DELETE FROM identities WHERE id = \$1`).
		WithArgs("u2").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	require.NoError(t, store.Delete(context.Background(), "u1"))
	assert.ErrorIs(t, store.Delete(context.Background(), "u2"), packguard.ErrIdentityNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Shares(t *testing.T) {
	sharedAt := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	shareCols := []string{"document_id", "user_id", "role", "shared_by", "shared_at"}

	t.Run("find share", func(t *testing.T) {
		mock, store := newMock(t)
		mock.ExpectQuery(`FROM document_shares\s+WHERE document_id = \$1 AND user_id = \$2`).
			WithArgs("d1", "u2").
			WillReturnRows(pgxmock.NewRows(shareCols).AddRow("d1", "u2", "factory", "u1", sharedAt))

		got, err := store.FindShare(context.Background(), "d1", "u2")
		require.NoError(t, err)
		assert.Equal(t, permission.DocFactory, got.Role)
		assert.Equal(t, sharedAt, got.SharedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing share", func(t *testing.T) {
		mock, store := newMock(t)
		mock.ExpectQuery(`FROM document_shares`).
			WillReturnRows(pgxmock.NewRows(shareCols))

		_, err := store.FindShare(context.Background(), "d1", "u2")
		assert.ErrorIs(t, err, packguard.ErrShareNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("list requires the document", func(t *testing.T) {
		mock, store := newMock(t)
		mock.ExpectQuery(`SELECT id, owner_id FROM documents WHERE id = \$1`).
			WithArgs("d9").
			WillReturnRows(pgxmock.NewRows([]string{"id", "owner_id"}))

		_, err := store.ListShares(context.Background(), "d9")
		assert.ErrorIs(t, err, packguard.ErrDocumentNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("list ordered rows", func(t *testing.T) {
		mock, store := newMock(t)
		mock.ExpectQuery(`SELECT id, owner_id FROM documents`).
			WithArgs("d1").
			WillReturnRows(pgxmock.NewRows([]string{"id", "owner_id"}).AddRow("d1", "u1"))
		mock.ExpectQuery(`ORDER BY user_id`).
			WithArgs("d1").
			WillReturnRows(pgxmock.NewRows(shareCols).
				AddRow("d1", "u2", "editor", "u1", sharedAt).
				AddRow("d1", "u3", "viewer", "u1", sharedAt))

		got, err := store.ListShares(context.Background(), "d1")
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, permission.DocEditor, got[0].Role)
		assert.Equal(t, "u3", got[1].UserID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("save upserts", func(t *testing.T) {
		mock, store := newMock(t)
		mock.ExpectExec(`ON CONFLICT \(document_id, user_id\) DO UPDATE`).
			WithArgs("d1", "u2", "admin", "u1", sharedAt).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		err := store.SaveShare(context.Background(), permission.ShareEntry{
			DocumentID: "d1", UserID: "u2", Role: permission.DocAdmin, SharedBy: "u1", SharedAt: sharedAt,
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("delete missing share", func(t *testing.T) {
		mock, store := newMock(t)
		mock.ExpectExec(`DELETE FROM document_shares`).
			WithArgs("d1", "u2").
			WillReturnResult(pgxmock.NewResult("DELETE", 0))

		assert.ErrorIs(t, store.DeleteShare(context.Background(), "d1", "u2"), packguard.ErrShareNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStore_QueryAudit(t *testing.T) {
	ts := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	cols := []string{"id", "actor_id", "actor_email", "action", "resource_kind", "resource_id",
		"details", "source_ip", "user_agent", "created_at"}

	t.Run("filters and pages", func(t *testing.T) {
		mock, store := newMock(t)
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM audit_records WHERE actor_id = \$1 AND action = \$2`).
			WithArgs("u1", packguard.AuditLogin).
			WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))
		mock.ExpectQuery(`ORDER BY created_at DESC, id DESC\s+LIMIT \$3 OFFSET \$4`).
			WithArgs("u1", packguard.AuditLogin, 2, 2).
			WillReturnRows(pgxmock.NewRows(cols).
				AddRow("01A", "u1", "ana@example.com", packguard.AuditLogin, "identity", "u1",
					[]byte(`{"outcome":"success"}`), "10.0.0.1", "curl", ts))

		page, err := store.QueryAudit(context.Background(), packguard.AuditQuery{
			ActorID: "u1", Action: packguard.AuditLogin, Page: 2, PageSize: 2,
		})
		require.NoError(t, err)
		assert.Equal(t, 3, page.Total)
		require.Len(t, page.Records, 1)
		assert.Equal(t, "success", page.Records[0].Details["outcome"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty count skips select", func(t *testing.T) {
		mock, store := newMock(t)
		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM audit_records`).
			WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(0))

		page, err := store.QueryAudit(context.Background(), packguard.AuditQuery{Page: 1, PageSize: 50})
		require.NoError(t, err)
		assert.Empty(t, page.Records)
		assert.NotNil(t, page.Records)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestMigrateURL(t *testing.T) {
	assert.Equal(t, "pgx5://u:p@db:5432/app", migrateURL("postgres://u:p@db:5432/app"))
	assert.Equal(t, "pgx5://db/app", migrateURL("postgresql://db/app"))
	assert.Equal(t, "pgx5://db/app", migrateURL("pgx5://db/app"))
}
