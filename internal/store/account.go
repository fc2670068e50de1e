package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/lib/pq"
	"github.com/samber/oops"

	"github.com/keyward/apiserver/types"
)

// AccountRepository handles persistence for accounts in Postgres.
type AccountRepository struct {
	db *sql.DB
}

func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

const accountColumns = `id, username, email, phone, password_hash, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (types.Account, error) {
	var (
		account types.Account
		phone   sql.NullString
	)
	err := row.Scan(
		&account.ID,
		&account.Username,
		&account.Email,
		&phone,
		&account.PasswordHash,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Account{}, ErrNotFound
		}
		return types.Account{}, err
	}
	if phone.Valid {
		account.Phone = &phone.String
	}
	return account, nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id int64) (types.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccount(r.db.QueryRowContext(ctx, query, id))
}

func (r *AccountRepository) GetByUsername(ctx context.Context, username string) (types.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE username = $1`
	return scanAccount(r.db.QueryRowContext(ctx, query, username))
}

// Create inserts account and returns it with the assigned id. The unique
// constraints on username, email and phone make the check and the insert a
// single atomic step; a collision yields ErrDuplicateKey.
func (r *AccountRepository) Create(ctx context.Context, account types.Account) (types.Account, error) {
	now := time.Now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now

	phone := sql.NullString{String: account.PhoneValue(), Valid: account.Phone != nil}

	const query = `
		INSERT INTO accounts (username, email, phone, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		account.Username,
		account.Email,
		phone,
		account.PasswordHash,
		account.CreatedAt,
		account.UpdatedAt,
	).Scan(&account.ID); err != nil {
		return types.Account{}, classify(err)
	}
	return account, nil
}

// UpdatePasswordHash replaces the stored hash for the account with id, but
// only while it still equals oldHash. A changed hash yields ErrConflict.
func (r *AccountRepository) UpdatePasswordHash(ctx context.Context, id int64, oldHash, newHash string) error {
	const query = `
		UPDATE accounts
		SET password_hash = $1,
			updated_at = $2
		WHERE id = $3 AND password_hash = $4`
	result, err := r.db.ExecContext(ctx, query, newHash, time.Now().UTC(), id, oldHash)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	var exists bool
	err = r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE id = $1)`, id).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrConflict
}

func classify(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == pgerrcode.UniqueViolation {
		return oops.Code("STORE_DUPLICATE_KEY").
			With("constraint", pqErr.Constraint).
			Wrap(ErrDuplicateKey)
	}
	return err
}
