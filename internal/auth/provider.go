package auth

import (
	"context"
	"errors"
	"time"
)

// ErrAccountExists is returned by a provider when an account for the email
// already exists. The synchronizer treats it as found.
var ErrAccountExists = errors.New("auth: external account already exists")

// ExternalAccount is the provider-side mirror of an identity.
type ExternalAccount struct {
	ID    string
	Email string
}

// AccountRequest describes an external account to provision.
type AccountRequest struct {
	Email    string
	Password string
	// Verified marks the email address as already confirmed.
	Verified bool
	Metadata map[string]string
}

// ProviderSession is the external provider's session for an identity.
type ProviderSession struct {
	AccessToken string
	ExpiresAt   time.Time
}

// ExternalAuthProvider is the managed authentication provider contract.
type ExternalAuthProvider interface {
	// FindAccountByEmail returns nil without error when no account matches.
	FindAccountByEmail(ctx context.Context, email string) (*ExternalAccount, error)
	CreateAccount(ctx context.Context, request AccountRequest) (*ExternalAccount, error)
	PasswordSignIn(ctx context.Context, email, password string) (ProviderSession, error)
}
