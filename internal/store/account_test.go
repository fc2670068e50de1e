package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgerrcode"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/keyward/apiserver/types"
)

func newMockRepo(t *testing.T) (*AccountRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		_ = db.Close()
	})
	return NewAccountRepository(db), mock
}

var accountRowColumns = []string{"id", "username", "email", "phone", "password_hash", "created_at", "updated_at"}

func TestAccountRepository_GetByUsername(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("found with phone", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectQuery(regexp.QuoteMeta(`FROM accounts WHERE username = $1`)).
			WithArgs("alice").
			WillReturnRows(sqlmock.NewRows(accountRowColumns).
				AddRow(int64(7), "alice", "a@x.com", "+15550100", "$2a$10$hash", now, now))

		account, err := repo.GetByUsername(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, int64(7), account.ID)
		assert.Equal(t, "a@x.com", account.Email)
		require.NotNil(t, account.Phone)
		assert.Equal(t, "+15550100", *account.Phone)
		assert.Equal(t, "$2a$10$hash", account.PasswordHash)
	})

	t.Run("found without phone", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectQuery(regexp.QuoteMeta(`FROM accounts WHERE username = $1`)).
			WithArgs("bob").
			WillReturnRows(sqlmock.NewRows(accountRowColumns).
				AddRow(int64(8), "bob", "b@x.com", nil, "$2a$10$hash", now, now))

		account, err := repo.GetByUsername(ctx, "bob")
		require.NoError(t, err)
		assert.Nil(t, account.Phone)
	})

	t.Run("missing", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectQuery(regexp.QuoteMeta(`FROM accounts WHERE username = $1`)).
			WithArgs("ghost").
			WillReturnError(sql.ErrNoRows)

		_, err := repo.GetByUsername(ctx, "ghost")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestAccountRepository_GetByID(t *testing.T) {
	repo, mock := newMockRepo(t)
	boom := errors.New("connection reset")
	mock.ExpectQuery(regexp.QuoteMeta(`FROM accounts WHERE id = $1`)).
		WithArgs(int64(3)).
		WillReturnError(boom)

	_, err := repo.GetByID(context.Background(), 3)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestAccountRepository_Create(t *testing.T) {
	ctx := context.Background()
	insert := regexp.QuoteMeta(`INSERT INTO accounts (username, email, phone, password_hash, created_at, updated_at)`)

	t.Run("assigns id", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		phone := "+15550100"
		mock.ExpectQuery(insert).
			WithArgs("alice", "a@x.com", "+15550100", "$2a$10$hash", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))

		account, err := repo.Create(ctx, types.Account{
			Username:     "alice",
			Email:        "a@x.com",
			Phone:        &phone,
			PasswordHash: "$2a$10$hash",
		})
		require.NoError(t, err)
		assert.Equal(t, int64(11), account.ID)
		assert.False(t, account.CreatedAt.IsZero())
		assert.Equal(t, account.CreatedAt, account.UpdatedAt)
	})

	t.Run("null phone", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectQuery(insert).
			WithArgs("bob", "b@x.com", nil, "$2a$10$hash", sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(12)))

		_, err := repo.Create(ctx, types.Account{Username: "bob", Email: "b@x.com", PasswordHash: "$2a$10$hash"})
		require.NoError(t, err)
	})

	t.Run("unique violation", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectQuery(insert).
			WillReturnError(&pq.Error{Code: pgerrcode.UniqueViolation, Constraint: "accounts_email_key"})

		_, err := repo.Create(ctx, types.Account{Username: "carol", Email: "a@x.com", PasswordHash: "h"})
		assert.ErrorIs(t, err, ErrDuplicateKey)
	})

	t.Run("other database error", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectQuery(insert).
			WillReturnError(&pq.Error{Code: pgerrcode.NotNullViolation})

		_, err := repo.Create(ctx, types.Account{Username: "carol", Email: "c@x.com"})
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrDuplicateKey)
	})
}

func TestAccountRepository_UpdatePasswordHash(t *testing.T) {
	ctx := context.Background()
	update := regexp.QuoteMeta(`UPDATE accounts`)

	exists := regexp.QuoteMeta(`SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`)

	t.Run("updated", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectExec(update).
			WithArgs("$2a$10$new", sqlmock.AnyArg(), int64(5), "$2a$10$old").
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, repo.UpdatePasswordHash(ctx, 5, "$2a$10$old", "$2a$10$new"))
	})

	t.Run("hash changed since read", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectExec(update).
			WithArgs("$2a$10$new", sqlmock.AnyArg(), int64(5), "$2a$10$old").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(exists).
			WithArgs(int64(5)).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		assert.ErrorIs(t, repo.UpdatePasswordHash(ctx, 5, "$2a$10$old", "$2a$10$new"), ErrConflict)
	})

	t.Run("no such account", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectExec(update).
			WithArgs("$2a$10$new", sqlmock.AnyArg(), int64(99), "$2a$10$old").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(exists).
			WithArgs(int64(99)).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		assert.ErrorIs(t, repo.UpdatePasswordHash(ctx, 99, "$2a$10$old", "$2a$10$new"), ErrNotFound)
	})
}
