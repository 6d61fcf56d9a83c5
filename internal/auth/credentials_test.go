package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/StoreViewLabs/storeview/identity/internal/users"
	"golang.org/x/crypto/bcrypt"
)

type failingIdentityStore struct {
	err error
}

func (s failingIdentityStore) FindByEmail(context.Context, string) (users.Identity, error) {
	return users.Identity{}, s.err
}

func (s failingIdentityStore) Insert(context.Context, users.Identity) (users.Identity, error) {
	return users.Identity{}, s.err
}

func TestNewCredentialStoreDefaultsCost(t *testing.T) {
	identities, _ := openIdentityStore(t)
	store, err := NewCredentialStore(CredentialStoreConfig{Identities: identities})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}
	if store.cost != DefaultBcryptCost {
		t.Fatalf("expected default cost %d, got %d", DefaultBcryptCost, store.cost)
	}
	if _, err := NewCredentialStore(CredentialStoreConfig{}); err == nil {
		t.Fatalf("expected error for missing identity store")
	}
	if _, err := NewCredentialStore(CredentialStoreConfig{Identities: identities, BcryptCost: 99}); err == nil {
		t.Fatalf("expected error for out of range cost")
	}
}

func TestCreateIdentityHashesPassword(t *testing.T) {
	identities, _ := openIdentityStore(t)
	store := newTestCredentialStore(t, identities)

	created, err := store.CreateIdentity(context.Background(), NewIdentity{
		Email:    "Owner@Example.com",
		Password: "Secret123!",
		Role:     users.RoleBusinessOwner,
	})
	if err != nil {
		t.Fatalf("create identity failed: %v", err)
	}
	if created.Role != users.RoleBusinessOwner {
		t.Fatalf("expected requested role, got %s", created.Role)
	}
	if !created.HasPassword() || *created.PasswordHash == "Secret123!" {
		t.Fatalf("expected a password hash to be stored")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(*created.PasswordHash), []byte("Secret123!")); err != nil {
		t.Fatalf("stored hash does not verify: %v", err)
	}
}

func TestCreateIdentityRejectsDuplicate(t *testing.T) {
	identities, _ := openIdentityStore(t)
	store := newTestCredentialStore(t, identities)
	ctx := context.Background()

	if _, err := store.CreateIdentity(ctx, NewIdentity{Email: "dup@example.com", Password: "pw"}); err != nil {
		t.Fatalf("first create failed: %v", err)
	}
	_, err := store.CreateIdentity(ctx, NewIdentity{Email: "DUP@example.com", Password: "pw"})
	if !errors.Is(err, ErrUserAlreadyExists) {
		t.Fatalf("expected user already exists, got %v", err)
	}
}

func TestVerifyCredentialsOutcomes(t *testing.T) {
	identities, _ := openIdentityStore(t)
	store := newTestCredentialStore(t, identities)
	ctx := context.Background()

	if _, err := store.CreateIdentity(ctx, NewIdentity{Email: "carol@example.com", Password: "right"}); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := identities.Insert(ctx, users.Identity{Email: "sso-only@example.com"}); err != nil {
		t.Fatalf("insert provider-only identity failed: %v", err)
	}

	identity, err := store.VerifyCredentials(ctx, " CAROL@example.com", "right")
	if err != nil {
		t.Fatalf("expected valid credentials: %v", err)
	}
	if identity.Email != "carol@example.com" {
		t.Fatalf("unexpected identity %q", identity.Email)
	}

	if _, err := store.VerifyCredentials(ctx, "carol@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, err := store.VerifyCredentials(ctx, "nobody@example.com", "right"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected user not found, got %v", err)
	}
	if _, err := store.VerifyCredentials(ctx, "sso-only@example.com", "anything"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected user not found for passwordless identity, got %v", err)
	}
}

func TestStoreFailuresMapToAuthenticationFailed(t *testing.T) {
	storeErr := errors.New("database is locked")
	store := newTestCredentialStore(t, failingIdentityStore{err: storeErr})

	_, err := store.VerifyCredentials(context.Background(), "x@example.com", "pw")
	if !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("expected authentication failed, got %v", err)
	}
	if !errors.Is(err, storeErr) {
		t.Fatalf("expected cause to be wrapped, got %v", err)
	}
	if errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("store failure must not look like invalid credentials")
	}

	_, err = store.CreateIdentity(context.Background(), NewIdentity{Email: "x@example.com", Password: "pw"})
	if KindOf(err) != KindAuthenticationFailed {
		t.Fatalf("expected authentication failed kind, got %s", KindOf(err))
	}
}
