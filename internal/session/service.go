package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"uolems/internal/identity"
	"uolems/internal/metrics"
	"uolems/internal/sessionstore"
)

type Issuer interface {
	Issue(ctx context.Context, sess sessionstore.Session) (sessionstore.Session, string, error)
	Revoke(ctx context.Context, sessionID string) error
}

// Service runs the password and federated login flows.
type Service struct {
	provider       identity.Provider
	resolver       *Resolver
	issuer         Issuer
	allowedDomains []string
	logger         *slog.Logger
}

func NewService(provider identity.Provider, resolver *Resolver, issuer Issuer, allowedDomains []string, logger *slog.Logger) *Service {
	return &Service{
		provider:       provider,
		resolver:       resolver,
		issuer:         issuer,
		allowedDomains: allowedDomains,
		logger:         logger.With("component", "session_service"),
	}
}

func (s *Service) Login(ctx context.Context, email, password string) (Outcome, error) {
	email = strings.TrimSpace(email)
	password = strings.TrimSpace(password)
	if email == "" || password == "" {
		return Outcome{}, s.fail(&Error{
			Kind:     KindValidation,
			Code:     CodeMissingCredentials,
			Message:  "Please enter email and password",
			Severity: SeverityError,
		})
	}

	id, err := s.provider.SignInWithPassword(ctx, email, password)
	if ctx.Err() != nil {
		return Outcome{}, s.fail(abandoned(ctx))
	}
	if err != nil {
		return Outcome{}, s.fail(passwordError(err))
	}

	out, err := s.resolver.Resolve(ctx, id, false)
	if err != nil {
		return Outcome{}, s.fail(err)
	}
	return s.issue(ctx, out)
}

func (s *Service) FederatedLogin(ctx context.Context, cred identity.Credential) (Outcome, error) {
	if cred.Empty() {
		return Outcome{}, s.fail(&Error{
			Kind:     KindProvider,
			Code:     CodeSignInCancelled,
			Message:  "Sign in cancelled.",
			Severity: SeverityInfo,
		})
	}

	id, err := s.provider.SignInWithCredential(ctx, cred)
	if ctx.Err() != nil {
		return Outcome{}, s.fail(abandoned(ctx))
	}
	if err != nil {
		return Outcome{}, s.fail(&Error{
			Kind:     KindProvider,
			Code:     CodeFederatedFailed,
			Message:  "Google Sign In Failed. Please try again.",
			Severity: SeverityError,
			Err:      err,
		})
	}

	if !identity.EmailInDomains(id.Email, s.allowedDomains) {
		if err := s.provider.SignOut(ctx, id.UID); err != nil {
			s.logger.Warn("sign out failed", slog.String("uid", id.UID), slog.String("error", err.Error()))
		}
		return Outcome{}, s.fail(&Error{
			Kind:     KindProvider,
			Code:     CodeDomainNotAllowed,
			Message:  "Only UOL emails allowed.",
			Severity: SeverityError,
		})
	}

	out, err := s.resolver.Resolve(ctx, id, true)
	if err != nil {
		return Outcome{}, s.fail(err)
	}
	return s.issue(ctx, out)
}

// Logout signs uid out of the identity provider and revokes its session.
func (s *Service) Logout(ctx context.Context, uid, sessionID string) error {
	var errs []error
	if err := s.provider.SignOut(ctx, uid); err != nil {
		errs = append(errs, err)
	}
	if s.issuer != nil && sessionID != "" {
		if err := s.issuer.Revoke(ctx, sessionID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Service) issue(ctx context.Context, out Outcome) (Outcome, error) {
	if s.issuer == nil {
		return out, nil
	}
	sess, token, err := s.issuer.Issue(ctx, sessionstore.Session{
		UID:         out.Identity.UID,
		Email:       out.Identity.Email,
		Role:        out.Role,
		Route:       string(out.Route),
		Preferences: out.Preferences,
	})
	if err != nil {
		return Outcome{}, s.fail(&Error{
			Kind:     KindStore,
			Code:     CodeStoreError,
			Message:  "Login failed",
			Severity: SeverityError,
			Err:      err,
		})
	}
	out.SessionID = sess.ID
	out.AccessToken = token
	return out, nil
}

func (s *Service) fail(err error) error {
	code := "unknown"
	var serr *Error
	if errors.As(err, &serr) {
		code = serr.Code
	}
	metrics.LoginFailures.WithLabelValues(code).Inc()
	s.logger.Info("login failed", slog.String("code", code), slog.String("error", err.Error()))
	return err
}

func passwordError(err error) *Error {
	e := &Error{Kind: KindProvider, Severity: SeverityError, Err: err}
	switch {
	case errors.Is(err, identity.ErrUserNotFound):
		e.Code, e.Message = CodeUserNotFound, "No user found with this email."
	case errors.Is(err, identity.ErrWrongPassword):
		e.Code, e.Message = CodeWrongPassword, "Incorrect password."
	case errors.Is(err, identity.ErrInvalidCredential):
		e.Code, e.Message = CodeInvalidCredential, "Invalid email or password."
	default:
		e.Code, e.Message = CodeLoginFailed, "Login failed"
	}
	return e
}
