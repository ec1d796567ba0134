package local

import (
	"context"
	"errors"
	"testing"
	"time"

	"uolems/internal/database"
	"uolems/internal/database/dbtest"
	"uolems/internal/identity"
)

func TestPGAccounts(t *testing.T) {
	pool := dbtest.Pool(t)
	ctx := context.Background()
	accounts := NewPGAccounts(database.NewStore(pool))
	p := New(accounts, nil)

	if _, err := accounts.AccountByEmail(ctx, "nobody@uol.edu.pk"); !errors.Is(err, identity.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}

	registered, err := p.Register(ctx, "ali@student.uol.edu.pk", "secret", "Ali")
	if err != nil {
		t.Fatalf("register error: %v", err)
	}
	if _, err := p.SignInWithPassword(ctx, "ali@student.uol.edu.pk", "secret"); err != nil {
		t.Fatalf("sign in error: %v", err)
	}

	ensured, err := accounts.EnsureAccount(ctx, Account{
		UID:       "other-uid",
		Email:     "ali@student.uol.edu.pk",
		Provider:  identity.ProviderGoogle,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("ensure error: %v", err)
	}
	if ensured.UID != registered.UID {
		t.Fatalf("ensure must return existing account, got %s", ensured.UID)
	}

	if err := p.SignOut(ctx, registered.UID); err != nil {
		t.Fatalf("sign out error: %v", err)
	}
	stored, _ := accounts.AccountByEmail(ctx, "ali@student.uol.edu.pk")
	if stored.SignedOutAt == nil {
		t.Fatalf("expected signed_out_at to be set")
	}
	if err := accounts.MarkSignedOut(ctx, "missing", time.Now()); !errors.Is(err, identity.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}

	if stored.EmailVerified {
		t.Fatalf("registered account must start unverified")
	}
	if err := p.VerifyEmail(ctx, registered.UID); err != nil {
		t.Fatalf("verify error: %v", err)
	}
	if id, _ := p.SignInWithPassword(ctx, "ali@student.uol.edu.pk", "secret"); !id.EmailVerified {
		t.Fatalf("expected verified identity after VerifyEmail")
	}
	if err := accounts.MarkVerified(ctx, "missing"); !errors.Is(err, identity.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}
