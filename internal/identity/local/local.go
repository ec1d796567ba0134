// Package local is a self-hosted identity provider: password accounts are
// kept in PostgreSQL and federated sign-in accepts Google ID tokens.
package local

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"uolems/internal/identity"
	"uolems/internal/model"
)

const (
	providerPassword = "password"
)

type IDTokenVerifier interface {
	Verify(ctx context.Context, raw string) (*GoogleClaims, error)
}

type Provider struct {
	accounts Accounts
	verifier IDTokenVerifier
	now      func() time.Time
}

func New(accounts Accounts, verifier IDTokenVerifier) *Provider {
	return &Provider{
		accounts: accounts,
		verifier: verifier,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Register creates a password account. New accounts start unverified; the
// accounts command is the caller that provisions them.
func (p *Provider) Register(ctx context.Context, email, password, displayName string) (model.Identity, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return model.Identity{}, identity.ErrInvalidCredential
	}
	hash, err := HashPassword(password)
	if err != nil {
		return model.Identity{}, fmt.Errorf("hash password: %w", err)
	}
	account := Account{
		UID:          uuid.NewString(),
		Email:        email,
		PasswordHash: hash,
		DisplayName:  displayName,
		Provider:     providerPassword,
		CreatedAt:    p.now(),
	}
	if err := p.accounts.CreateAccount(ctx, account); err != nil {
		return model.Identity{}, err
	}
	return toIdentity(account), nil
}

// VerifyEmail marks the account's address as confirmed.
func (p *Provider) VerifyEmail(ctx context.Context, uid string) error {
	return p.accounts.MarkVerified(ctx, uid)
}

func (p *Provider) SignInWithPassword(ctx context.Context, email, password string) (model.Identity, error) {
	account, err := p.accounts.AccountByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return model.Identity{}, err
	}
	if account.PasswordHash == "" {
		// federated-only account
		return model.Identity{}, identity.ErrInvalidCredential
	}
	if err := CheckPassword(account.PasswordHash, password); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return model.Identity{}, identity.ErrWrongPassword
		}
		return model.Identity{}, err
	}
	return toIdentity(account), nil
}

func (p *Provider) SignInWithCredential(ctx context.Context, cred identity.Credential) (model.Identity, error) {
	if cred.Provider() != identity.ProviderGoogle || cred.IDToken == "" {
		return model.Identity{}, fmt.Errorf("%s without id token: %w", cred.Provider(), identity.ErrInvalidCredential)
	}
	if p.verifier == nil {
		return model.Identity{}, errors.New("federated sign-in not configured")
	}
	claims, err := p.verifier.Verify(ctx, cred.IDToken)
	if err != nil {
		return model.Identity{}, fmt.Errorf("verify id token: %v: %w", err, identity.ErrInvalidCredential)
	}

	account, err := p.accounts.EnsureAccount(ctx, Account{
		UID:           uuid.NewString(),
		Email:         normalizeEmail(claims.Email),
		EmailVerified: claims.EmailVerified,
		DisplayName:   claims.Name,
		PhotoURL:      claims.Picture,
		Provider:      identity.ProviderGoogle,
		CreatedAt:     p.now(),
	})
	if err != nil {
		return model.Identity{}, err
	}
	id := toIdentity(account)
	id.EmailVerified = claims.EmailVerified
	if claims.Name != "" {
		id.DisplayName = claims.Name
	}
	if claims.Picture != "" {
		id.PhotoURL = claims.Picture
	}
	return id, nil
}

func (p *Provider) SignOut(ctx context.Context, uid string) error {
	return p.accounts.MarkSignedOut(ctx, uid, p.now())
}

func toIdentity(a Account) model.Identity {
	return model.Identity{
		UID:           a.UID,
		Email:         a.Email,
		EmailVerified: a.EmailVerified,
		DisplayName:   a.DisplayName,
		PhotoURL:      a.PhotoURL,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
