package local

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"uolems/internal/database"
	"uolems/internal/identity"
)

type Account struct {
	UID           string
	Email         string
	PasswordHash  string
	EmailVerified bool
	DisplayName   string
	PhotoURL      string
	Provider      string
	CreatedAt     time.Time
	SignedOutAt   *time.Time
}

// Accounts is the persistence the provider needs. AccountByEmail returns
// identity.ErrUserNotFound when no row matches.
type Accounts interface {
	AccountByEmail(ctx context.Context, email string) (Account, error)
	CreateAccount(ctx context.Context, account Account) error
	// EnsureAccount inserts account unless one with the same email exists and
	// returns the stored row either way.
	EnsureAccount(ctx context.Context, account Account) (Account, error)
	MarkSignedOut(ctx context.Context, uid string, at time.Time) error
	MarkVerified(ctx context.Context, uid string) error
}

type PGAccounts struct {
	store *database.Store
}

func NewPGAccounts(store *database.Store) *PGAccounts {
	return &PGAccounts{store: store}
}

const accountColumns = `uid, email, COALESCE(password_hash, ''), email_verified, display_name, photo_url, provider, created_at, signed_out_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.UID, &a.Email, &a.PasswordHash, &a.EmailVerified, &a.DisplayName, &a.PhotoURL, &a.Provider, &a.CreatedAt, &a.SignedOutAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, identity.ErrUserNotFound
	}
	return a, err
}

func (s *PGAccounts) AccountByEmail(ctx context.Context, email string) (Account, error) {
	row := s.store.Pool.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE email = $1
	`, email)
	return scanAccount(row)
}

func (s *PGAccounts) CreateAccount(ctx context.Context, a Account) error {
	_, err := s.store.Pool.Exec(ctx, `
		INSERT INTO accounts (uid, email, password_hash, email_verified, display_name, photo_url, provider, created_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8)
	`, a.UID, a.Email, a.PasswordHash, a.EmailVerified, a.DisplayName, a.PhotoURL, a.Provider, a.CreatedAt)
	return err
}

func (s *PGAccounts) EnsureAccount(ctx context.Context, a Account) (Account, error) {
	var stored Account
	err := s.store.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO accounts (uid, email, password_hash, email_verified, display_name, photo_url, provider, created_at)
			VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8)
			ON CONFLICT (email) DO NOTHING
		`, a.UID, a.Email, a.PasswordHash, a.EmailVerified, a.DisplayName, a.PhotoURL, a.Provider, a.CreatedAt)
		if err != nil {
			return err
		}
		stored, err = scanAccount(tx.QueryRow(ctx, `
			SELECT `+accountColumns+`
			FROM accounts
			WHERE email = $1
		`, a.Email))
		return err
	})
	return stored, err
}

func (s *PGAccounts) MarkSignedOut(ctx context.Context, uid string, at time.Time) error {
	tag, err := s.store.Pool.Exec(ctx, `UPDATE accounts SET signed_out_at = $1 WHERE uid = $2`, at, uid)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return identity.ErrUserNotFound
	}
	return nil
}

func (s *PGAccounts) MarkVerified(ctx context.Context, uid string) error {
	tag, err := s.store.Pool.Exec(ctx, `UPDATE accounts SET email_verified = true WHERE uid = $1`, uid)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return identity.ErrUserNotFound
	}
	return nil
}
