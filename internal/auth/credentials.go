package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/StoreViewLabs/storeview/identity/internal/users"
	"golang.org/x/crypto/bcrypt"
)

// DefaultBcryptCost is the password hashing cost used when none is configured.
const DefaultBcryptCost = 12

var errMissingIdentityStore = errors.New("auth: identity store required")

// IdentityStore is the slice of the primary store the credential adapter needs.
type IdentityStore interface {
	FindByEmail(ctx context.Context, email string) (users.Identity, error)
	Insert(ctx context.Context, identity users.Identity) (users.Identity, error)
}

// NewIdentity describes an identity to register.
type NewIdentity struct {
	Email    string
	Password string
	Name     string
	Role     users.Role
}

// CredentialStoreConfig configures the credential adapter.
type CredentialStoreConfig struct {
	Identities IdentityStore
	// BcryptCost defaults to DefaultBcryptCost when zero.
	BcryptCost int
}

// CredentialStore verifies and creates password-backed identities.
type CredentialStore struct {
	identities IdentityStore
	cost       int
}

// NewCredentialStore constructs the credential adapter.
func NewCredentialStore(cfg CredentialStoreConfig) (*CredentialStore, error) {
	if cfg.Identities == nil {
		return nil, errMissingIdentityStore
	}
	cost := cfg.BcryptCost
	if cost == 0 {
		cost = DefaultBcryptCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("auth: bcrypt cost %d out of range", cost)
	}
	return &CredentialStore{identities: cfg.Identities, cost: cost}, nil
}

// VerifyCredentials returns the identity for email when password matches its hash.
// It never writes.
func (s *CredentialStore) VerifyCredentials(ctx context.Context, email, password string) (users.Identity, error) {
	identity, err := s.identities.FindByEmail(ctx, email)
	if errors.Is(err, users.ErrNotFound) {
		return users.Identity{}, newError(KindUserNotFound, nil)
	}
	if err != nil {
		return users.Identity{}, newError(KindAuthenticationFailed, err)
	}
	if !identity.HasPassword() {
		return users.Identity{}, newError(KindUserNotFound, nil)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(*identity.PasswordHash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return users.Identity{}, newError(KindInvalidCredentials, nil)
		}
		return users.Identity{}, newError(KindAuthenticationFailed, err)
	}
	return identity, nil
}

// CreateIdentity hashes the password and inserts a new identity.
// A duplicate email, whether seen up front or raised by the unique index, is
// reported as UserAlreadyExists.
func (s *CredentialStore) CreateIdentity(ctx context.Context, request NewIdentity) (users.Identity, error) {
	_, err := s.identities.FindByEmail(ctx, request.Email)
	if err == nil {
		return users.Identity{}, newError(KindUserAlreadyExists, nil)
	}
	if !errors.Is(err, users.ErrNotFound) {
		return users.Identity{}, newError(KindAuthenticationFailed, err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(request.Password), s.cost)
	if err != nil {
		return users.Identity{}, newError(KindAuthenticationFailed, err)
	}
	encoded := string(hash)

	role := request.Role
	if role == "" {
		role = users.RoleStaff
	}

	created, err := s.identities.Insert(ctx, users.Identity{
		Email:        request.Email,
		PasswordHash: &encoded,
		Name:         strings.TrimSpace(request.Name),
		Role:         role,
	})
	if errors.Is(err, users.ErrDuplicateEmail) {
		return users.Identity{}, newError(KindUserAlreadyExists, nil)
	}
	if err != nil {
		return users.Identity{}, newError(KindAuthenticationFailed, err)
	}
	return created, nil
}
