package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"uolems/internal/sessionstore"
)

var ErrSessionRevoked = errors.New("session revoked")

// Issuer stores a session and signs an access token that references it.
type Issuer struct {
	sessions sessionstore.Store
	secret   string
	issuer   string
	ttl      time.Duration
}

func NewIssuer(sessions sessionstore.Store, secret, issuer string, ttl time.Duration) *Issuer {
	return &Issuer{sessions: sessions, secret: secret, issuer: issuer, ttl: ttl}
}

func (i *Issuer) Issue(ctx context.Context, sess sessionstore.Session) (sessionstore.Session, string, error) {
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	if sess.IssuedAt.IsZero() {
		sess.IssuedAt = time.Now().UTC()
	}
	if err := i.sessions.Save(ctx, sess, i.ttl); err != nil {
		return sessionstore.Session{}, "", fmt.Errorf("save session: %w", err)
	}
	token, err := NewAccessToken(i.secret, i.issuer, sess.ID, i.ttl, Claims{
		UID:   sess.UID,
		Role:  string(sess.Role),
		Email: sess.Email,
	})
	if err != nil {
		return sessionstore.Session{}, "", fmt.Errorf("sign token: %w", err)
	}
	return sess, token, nil
}

func (i *Issuer) Revoke(ctx context.Context, sessionID string) error {
	return i.sessions.Delete(ctx, sessionID)
}

// Authenticate validates a bearer token and confirms its session is still
// stored.
func (i *Issuer) Authenticate(ctx context.Context, token string) (*Claims, sessionstore.Session, error) {
	claims, err := ParseToken(i.secret, i.issuer, token)
	if err != nil {
		return nil, sessionstore.Session{}, err
	}
	sess, err := i.sessions.Get(ctx, claims.SessionID())
	if errors.Is(err, sessionstore.ErrNotFound) {
		return nil, sessionstore.Session{}, ErrSessionRevoked
	}
	if err != nil {
		return nil, sessionstore.Session{}, err
	}
	if sess.UID != claims.UID {
		return nil, sessionstore.Session{}, ErrSessionRevoked
	}
	return claims, sess, nil
}
