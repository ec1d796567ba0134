package local

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

var googleIssuers = []string{"accounts.google.com", "https://accounts.google.com"}

// GoogleClaims are the ID token claims the provider reads.
type GoogleClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
	jwt.RegisteredClaims
}

// TokenVerifier checks Google-issued ID tokens against a JWKS.
type TokenVerifier struct {
	jwks     keyfunc.Keyfunc
	audience string
	leeway   time.Duration
}

// NewGoogleVerifier fetches Google's signing keys in the background. Startup
// does not fail when the JWKS endpoint is unreachable.
func NewGoogleVerifier(jwksURL, clientID string, logger *slog.Logger) (*TokenVerifier, error) {
	storage, err := jwkset.NewStorageFromHTTP(jwksURL, jwkset.HTTPClientStorageOptions{
		Client:                    &http.Client{Timeout: 10 * time.Second},
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           time.Hour,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("jwks refresh failed", slog.String("error", err.Error()), slog.String("url", jwksURL))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("jwks storage: %w", err)
	}
	k, err := keyfunc.New(keyfunc.Options{Storage: storage})
	if err != nil {
		return nil, fmt.Errorf("keyfunc: %w", err)
	}
	return NewTokenVerifier(k, clientID), nil
}

func NewTokenVerifier(kf keyfunc.Keyfunc, audience string) *TokenVerifier {
	return &TokenVerifier{jwks: kf, audience: audience, leeway: 30 * time.Second}
}

func (v *TokenVerifier) Verify(ctx context.Context, raw string) (*GoogleClaims, error) {
	if v.audience == "" {
		return nil, errors.New("google client id not configured")
	}
	claims := &GoogleClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, v.jwks.KeyfuncCtx(ctx),
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithAudience(v.audience),
		jwt.WithLeeway(v.leeway),
	)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if !validIssuer(claims.Issuer) {
		return nil, jwt.ErrTokenInvalidIssuer
	}
	if claims.Subject == "" || claims.Email == "" {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

func validIssuer(iss string) bool {
	for _, allowed := range googleIssuers {
		if iss == allowed {
			return true
		}
	}
	return false
}
