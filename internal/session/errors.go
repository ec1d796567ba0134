package session

import "context"

type Kind string

const (
	KindValidation Kind = "validation"
	KindProvider   Kind = "provider"
	KindStore      Kind = "store"
	KindDomain     Kind = "domain"
	KindAbandoned  Kind = "abandoned"
)

const (
	CodeMissingCredentials = "missing_credentials"
	CodeUserNotFound       = "user_not_found"
	CodeWrongPassword      = "wrong_password"
	CodeInvalidCredential  = "invalid_credential"
	CodeLoginFailed        = "login_failed"
	CodeSignInCancelled    = "sign_in_cancelled"
	CodeFederatedFailed    = "federated_failed"
	CodeDomainNotAllowed   = "domain_not_allowed"
	CodeStoreError         = "store_error"
	CodeZombieAccount      = "zombie_account"
	CodeEmailNotVerified   = "email_not_verified"
	CodeAbandoned          = "abandoned"
)

type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Error is a terminal failure of one login attempt. Message is the text shown
// to the user; State is set when the attempt reached a blocking state.
type Error struct {
	Kind     Kind
	Code     string
	Message  string
	Severity Severity
	State    State
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Err.Error()
	}
	return e.Code
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches on Code so the package sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

var (
	ErrAbandoned = &Error{Kind: KindAbandoned, Code: CodeAbandoned}
	ErrStore     = &Error{Kind: KindStore, Code: CodeStoreError}
)

func abandoned(ctx context.Context) *Error {
	return &Error{Kind: KindAbandoned, Code: CodeAbandoned, Severity: SeverityInfo, Err: context.Cause(ctx)}
}

func storeError(err error) *Error {
	return &Error{
		Kind:     KindStore,
		Code:     CodeStoreError,
		Message:  "Error checking role: " + err.Error(),
		Severity: SeverityError,
		Err:      err,
	}
}
