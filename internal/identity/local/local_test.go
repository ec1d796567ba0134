package local

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"uolems/internal/identity"
)

const (
	testKeyID    = "test-google-key"
	testClientID = "client-123.apps.googleusercontent.com"
)

type memAccounts struct {
	mu        sync.Mutex
	byEmail   map[string]Account
	signedOut map[string]time.Time
}

func newMemAccounts() *memAccounts {
	return &memAccounts{byEmail: map[string]Account{}, signedOut: map[string]time.Time{}}
}

func (m *memAccounts) AccountByEmail(_ context.Context, email string) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byEmail[email]
	if !ok {
		return Account{}, identity.ErrUserNotFound
	}
	return a, nil
}

func (m *memAccounts) CreateAccount(_ context.Context, a Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byEmail[a.Email]; ok {
		return errors.New("duplicate email")
	}
	m.byEmail[a.Email] = a
	return nil
}

func (m *memAccounts) EnsureAccount(_ context.Context, a Account) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.byEmail[a.Email]; ok {
		return existing, nil
	}
	m.byEmail[a.Email] = a
	return a, nil
}

func (m *memAccounts) MarkSignedOut(_ context.Context, uid string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signedOut[uid] = at
	return nil
}

func (m *memAccounts) MarkVerified(_ context.Context, uid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for email, a := range m.byEmail {
		if a.UID == uid {
			a.EmailVerified = true
			m.byEmail[email] = a
			return nil
		}
	}
	return identity.ErrUserNotFound
}

func generateTestKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	return key
}

func buildJWKSetJSON(pub *rsa.PublicKey, kid string) json.RawMessage {
	jwks := map[string]any{
		"keys": []map[string]any{{
			"kty": "RSA",
			"kid": kid,
			"use": "sig",
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	}
	data, _ := json.Marshal(jwks)
	return data
}

func newTestVerifier(t *testing.T, key *rsa.PrivateKey) *TokenVerifier {
	t.Helper()
	kf, err := keyfunc.NewJWKSetJSON(buildJWKSetJSON(&key.PublicKey, testKeyID))
	if err != nil {
		t.Fatalf("keyfunc: %v", err)
	}
	return NewTokenVerifier(kf, testClientID)
}

func signGoogleToken(t *testing.T, key *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = testKeyID
	signed, err := token.SignedString(key)
	if err != nil {
		t.Fatal(err)
	}
	return signed
}

func googleClaims(email string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":            "https://accounts.google.com",
		"aud":            testClientID,
		"sub":            "google-sub-1",
		"email":          email,
		"email_verified": true,
		"name":           "Sara Ahmed",
		"picture":        "https://example.com/sara.png",
		"iat":            jwt.NewNumericDate(now),
		"exp":            jwt.NewNumericDate(now.Add(time.Hour)),
	}
}

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("secret")
	if err != nil {
		t.Fatalf("hash error: %v", err)
	}
	if err := CheckPassword(hash, "secret"); err != nil {
		t.Fatalf("expected password to match")
	}
	if err := CheckPassword(hash, "wrong"); err == nil {
		t.Fatalf("expected password mismatch")
	}
}

func TestSignInWithPassword(t *testing.T) {
	ctx := context.Background()
	p := New(newMemAccounts(), nil)
	registered, err := p.Register(ctx, " Ali@Student.uol.edu.pk ", "secret", "Ali")
	if err != nil {
		t.Fatalf("register error: %v", err)
	}
	if registered.EmailVerified {
		t.Fatalf("new password accounts must be unverified")
	}

	id, err := p.SignInWithPassword(ctx, "ali@student.uol.edu.pk", "secret")
	if err != nil {
		t.Fatalf("sign in error: %v", err)
	}
	if id.UID != registered.UID {
		t.Fatalf("expected uid %s, got %s", registered.UID, id.UID)
	}

	if _, err := p.SignInWithPassword(ctx, "ali@student.uol.edu.pk", "nope"); !errors.Is(err, identity.ErrWrongPassword) {
		t.Fatalf("expected ErrWrongPassword, got %v", err)
	}
	if _, err := p.SignInWithPassword(ctx, "ghost@uol.edu.pk", "secret"); !errors.Is(err, identity.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestVerifyEmail(t *testing.T) {
	ctx := context.Background()
	p := New(newMemAccounts(), nil)
	registered, err := p.Register(ctx, "sara@uol.edu.pk", "secret", "Sara")
	if err != nil {
		t.Fatalf("register error: %v", err)
	}
	if err := p.VerifyEmail(ctx, registered.UID); err != nil {
		t.Fatalf("verify error: %v", err)
	}
	id, err := p.SignInWithPassword(ctx, "sara@uol.edu.pk", "secret")
	if err != nil {
		t.Fatalf("sign in error: %v", err)
	}
	if !id.EmailVerified {
		t.Fatalf("expected verified identity")
	}
	if err := p.VerifyEmail(ctx, "ghost"); !errors.Is(err, identity.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestSignInWithCredentialCreatesAccountOnce(t *testing.T) {
	ctx := context.Background()
	key := generateTestKey(t)
	accounts := newMemAccounts()
	p := New(accounts, newTestVerifier(t, key))

	raw := signGoogleToken(t, key, googleClaims("sara@uol.edu.pk"))
	first, err := p.SignInWithCredential(ctx, identity.Credential{IDToken: raw})
	if err != nil {
		t.Fatalf("sign in error: %v", err)
	}
	if !first.EmailVerified || first.DisplayName != "Sara Ahmed" || first.PhotoURL == "" {
		t.Fatalf("unexpected identity %+v", first)
	}
	second, err := p.SignInWithCredential(ctx, identity.Credential{IDToken: raw})
	if err != nil {
		t.Fatalf("second sign in error: %v", err)
	}
	if second.UID != first.UID {
		t.Fatalf("expected stable uid, got %s and %s", first.UID, second.UID)
	}
	if len(accounts.byEmail) != 1 {
		t.Fatalf("expected one account, got %d", len(accounts.byEmail))
	}

	if _, err := p.SignInWithPassword(ctx, "sara@uol.edu.pk", "x"); !errors.Is(err, identity.ErrInvalidCredential) {
		t.Fatalf("federated-only account must reject passwords, got %v", err)
	}
}

func TestSignInWithCredentialRejectsBadTokens(t *testing.T) {
	ctx := context.Background()
	key := generateTestKey(t)
	other := generateTestKey(t)
	p := New(newMemAccounts(), newTestVerifier(t, key))

	wrongAudience := googleClaims("a@uol.edu.pk")
	wrongAudience["aud"] = "someone-else"
	wrongIssuer := googleClaims("a@uol.edu.pk")
	wrongIssuer["iss"] = "https://evil.example.com"
	expired := googleClaims("a@uol.edu.pk")
	expired["exp"] = jwt.NewNumericDate(time.Now().Add(-time.Hour))

	tests := []struct {
		name string
		cred identity.Credential
	}{
		{"wrong audience", identity.Credential{IDToken: signGoogleToken(t, key, wrongAudience)}},
		{"wrong issuer", identity.Credential{IDToken: signGoogleToken(t, key, wrongIssuer)}},
		{"expired", identity.Credential{IDToken: signGoogleToken(t, key, expired)}},
		{"foreign key", identity.Credential{IDToken: signGoogleToken(t, other, googleClaims("a@uol.edu.pk"))}},
		{"access token only", identity.Credential{AccessToken: "ya29.token"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := p.SignInWithCredential(ctx, tt.cred); !errors.Is(err, identity.ErrInvalidCredential) {
				t.Fatalf("expected ErrInvalidCredential, got %v", err)
			}
		})
	}
}

func TestSignOutStampsAccount(t *testing.T) {
	accounts := newMemAccounts()
	p := New(accounts, nil)
	fixed := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return fixed }

	if err := p.SignOut(context.Background(), "uid-1"); err != nil {
		t.Fatalf("sign out error: %v", err)
	}
	if !accounts.signedOut["uid-1"].Equal(fixed) {
		t.Fatalf("expected signed out stamp %s, got %s", fixed, accounts.signedOut["uid-1"])
	}
}
