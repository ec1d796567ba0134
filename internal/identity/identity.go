// Package identity defines the identity provider the service authenticates
// against. Implementations live in toolkit (hosted) and local (self-hosted).
package identity

import (
	"context"
	"errors"
	"strings"

	"uolems/internal/model"
)

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrWrongPassword     = errors.New("wrong password")
	ErrInvalidCredential = errors.New("invalid credential")
)

const ProviderGoogle = "google.com"

// Credential is a federated sign-in result handed over by the client.
type Credential struct {
	IDToken     string `json:"idToken"`
	AccessToken string `json:"accessToken"`
	ProviderID  string `json:"providerId"`
}

// Empty reports whether the client abandoned the federated flow before a
// token was issued.
func (c Credential) Empty() bool {
	return strings.TrimSpace(c.IDToken) == "" && strings.TrimSpace(c.AccessToken) == ""
}

func (c Credential) Provider() string {
	if c.ProviderID == "" {
		return ProviderGoogle
	}
	return c.ProviderID
}

type Provider interface {
	SignInWithPassword(ctx context.Context, email, password string) (model.Identity, error)
	SignInWithCredential(ctx context.Context, cred Credential) (model.Identity, error)
	SignOut(ctx context.Context, uid string) error
}

// EmailInDomains reports whether email belongs to one of domains. An empty
// list accepts every address.
func EmailInDomains(email string, domains []string) bool {
	if len(domains) == 0 {
		return true
	}
	email = strings.ToLower(strings.TrimSpace(email))
	for _, d := range domains {
		d = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(d)), "@")
		if d != "" && strings.HasSuffix(email, "@"+d) {
			return true
		}
	}
	return false
}
