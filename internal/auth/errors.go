package auth

import (
	"errors"
	"fmt"
)

// Kind classifies an authentication failure so callers can map it to a
// distinct user-facing outcome without inspecting messages.
type Kind string

const (
	KindMissingField         Kind = "missing_field"
	KindUserAlreadyExists    Kind = "user_already_exists"
	KindUserNotFound         Kind = "user_not_found"
	KindInvalidCredentials   Kind = "invalid_credentials"
	KindAuthenticationFailed Kind = "authentication_failed"
)

// Sentinels for errors.Is matching. Only Kind is compared.
var (
	ErrMissingField         = &Error{Kind: KindMissingField}
	ErrUserAlreadyExists    = &Error{Kind: KindUserAlreadyExists}
	ErrUserNotFound         = &Error{Kind: KindUserNotFound}
	ErrInvalidCredentials   = &Error{Kind: KindInvalidCredentials}
	ErrAuthenticationFailed = &Error{Kind: KindAuthenticationFailed}
)

// ErrExternalSyncFailed marks a provider or VT failure in logs. It never
// leaves the component that produced it.
var ErrExternalSyncFailed = errors.New("auth: external sync failed")

// Error is the failure type returned by registration and login.
type Error struct {
	Kind  Kind
	Field string
	err   error
}

func (e *Error) Error() string {
	message := "auth: " + string(e.Kind)
	if e.Field != "" {
		message = fmt.Sprintf("%s (%s)", message, e.Field)
	}
	if e.err != nil {
		message = fmt.Sprintf("%s: %v", message, e.err)
	}
	return message
}

func (e *Error) Unwrap() error {
	return e.err
}

// Is matches any *Error with the same Kind.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return other.Kind == e.Kind
}

// UserFacing reports whether the failure may be shown verbatim to the user.
func (e *Error) UserFacing() bool {
	return e.Kind != KindAuthenticationFailed
}

// KindOf extracts the failure kind, reporting AuthenticationFailed for
// errors outside the taxonomy.
func KindOf(err error) Kind {
	var authErr *Error
	if errors.As(err, &authErr) {
		return authErr.Kind
	}
	return KindAuthenticationFailed
}

func missingField(field string) error {
	return &Error{Kind: KindMissingField, Field: field}
}

func newError(kind Kind, cause error) error {
	return &Error{Kind: kind, err: cause}
}
