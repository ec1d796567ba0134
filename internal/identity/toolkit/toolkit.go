// Package toolkit signs users in through the Google Identity Toolkit relying
// party API, the backend of the mobile client's authentication SDK.
package toolkit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"google.golang.org/api/googleapi"
	identitytoolkit "google.golang.org/api/identitytoolkit/v3"
	"google.golang.org/api/option"

	"uolems/internal/identity"
	"uolems/internal/model"
)

type Client struct {
	rp         *identitytoolkit.RelyingpartyService
	requestURI string
	logger     *slog.Logger
}

// New builds a client authenticated by apiKey. opts are appended after the
// key, so option.WithEndpoint can point the client at an emulator.
func New(ctx context.Context, apiKey, requestURI string, logger *slog.Logger, opts ...option.ClientOption) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("identity toolkit api key is required")
	}
	svc, err := identitytoolkit.NewService(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("identity toolkit: %w", err)
	}
	return &Client{
		rp:         svc.Relyingparty,
		requestURI: requestURI,
		logger:     logger.With(slog.String("component", "identity_toolkit")),
	}, nil
}

func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (model.Identity, error) {
	signIn, err := c.rp.VerifyPassword(&identitytoolkit.IdentitytoolkitRelyingpartyVerifyPasswordRequest{
		Email:             email,
		Password:          password,
		ReturnSecureToken: true,
	}).Context(ctx).Do()
	if err != nil {
		return model.Identity{}, mapError("verifyPassword", err)
	}

	// verifyPassword does not report verification state.
	info, err := c.rp.GetAccountInfo(&identitytoolkit.IdentitytoolkitRelyingpartyGetAccountInfoRequest{
		IdToken: signIn.IdToken,
	}).Context(ctx).Do()
	if err != nil {
		return model.Identity{}, mapError("getAccountInfo", err)
	}
	if len(info.Users) == 0 || info.Users[0] == nil {
		return model.Identity{}, identity.ErrUserNotFound
	}
	u := info.Users[0]
	return model.Identity{
		UID:           u.LocalId,
		Email:         u.Email,
		EmailVerified: u.EmailVerified,
		DisplayName:   u.DisplayName,
		PhotoURL:      u.PhotoUrl,
	}, nil
}

func (c *Client) SignInWithCredential(ctx context.Context, cred identity.Credential) (model.Identity, error) {
	form := url.Values{}
	if cred.IDToken != "" {
		form.Set("id_token", cred.IDToken)
	}
	if cred.AccessToken != "" {
		form.Set("access_token", cred.AccessToken)
	}
	form.Set("providerId", cred.Provider())

	resp, err := c.rp.VerifyAssertion(&identitytoolkit.IdentitytoolkitRelyingpartyVerifyAssertionRequest{
		PostBody:            form.Encode(),
		RequestUri:          c.requestURI,
		ReturnSecureToken:   true,
		ReturnIdpCredential: true,
	}).Context(ctx).Do()
	if err != nil {
		return model.Identity{}, mapError("verifyAssertion", err)
	}
	// A rejected assertion can come back as a 200 carrying errorMessage.
	if resp.ErrorMessage != "" {
		return model.Identity{}, mapMessage("verifyAssertion", resp.ErrorMessage)
	}
	return model.Identity{
		UID:           resp.LocalId,
		Email:         resp.Email,
		EmailVerified: resp.EmailVerified,
		DisplayName:   resp.DisplayName,
		PhotoURL:      resp.PhotoUrl,
	}, nil
}

// SignOut has nothing to revoke upstream; the issued session is dropped by
// the caller.
func (c *Client) SignOut(_ context.Context, uid string) error {
	c.logger.Debug("sign out", slog.String("uid", uid))
	return nil
}

func mapError(method string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return mapMessage(method, apiErr.Message)
	}
	return fmt.Errorf("%s: %w", method, err)
}

// mapMessage translates Identity Toolkit error codes. Messages may carry a
// detail suffix such as "TOO_MANY_ATTEMPTS_TRY_LATER : Access disabled".
func mapMessage(method, message string) error {
	code, _, _ := strings.Cut(message, " ")
	switch code {
	case "EMAIL_NOT_FOUND", "USER_NOT_FOUND":
		return fmt.Errorf("%s: %w", method, identity.ErrUserNotFound)
	case "INVALID_PASSWORD":
		return fmt.Errorf("%s: %w", method, identity.ErrWrongPassword)
	case "INVALID_LOGIN_CREDENTIALS", "INVALID_IDP_RESPONSE", "INVALID_ID_TOKEN", "INVALID_EMAIL":
		return fmt.Errorf("%s: %w", method, identity.ErrInvalidCredential)
	default:
		return errors.New(method + ": " + message)
	}
}
