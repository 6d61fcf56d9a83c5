package auth

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/StoreViewLabs/storeview/identity/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var errProviderUnavailable = errors.New("dial tcp 10.0.0.1:4434: connect: connection refused")

type fakeProvider struct {
	mu          sync.Mutex
	accounts    map[string]string
	findErr     error
	createErr   error
	signInErr   error
	findCalls   int
	createCalls int
	signInCalls int
	lastRequest AccountRequest
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{accounts: map[string]string{}}
}

func (p *fakeProvider) FindAccountByEmail(_ context.Context, email string) (*ExternalAccount, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.findCalls++
	if p.findErr != nil {
		return nil, p.findErr
	}
	if _, ok := p.accounts[email]; !ok {
		return nil, nil
	}
	return &ExternalAccount{ID: "kratos-" + email, Email: email}, nil
}

func (p *fakeProvider) CreateAccount(_ context.Context, request AccountRequest) (*ExternalAccount, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.createCalls++
	p.lastRequest = request
	if p.createErr != nil {
		return nil, p.createErr
	}
	if _, ok := p.accounts[request.Email]; ok {
		return nil, ErrAccountExists
	}
	p.accounts[request.Email] = request.Password
	return &ExternalAccount{ID: "kratos-" + request.Email, Email: request.Email}, nil
}

func (p *fakeProvider) PasswordSignIn(_ context.Context, email, password string) (ProviderSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.signInCalls++
	if p.signInErr != nil {
		return ProviderSession{}, p.signInErr
	}
	stored, ok := p.accounts[email]
	if !ok || stored != password {
		return ProviderSession{}, errors.New("kratos: the provided credentials are invalid")
	}
	return ProviderSession{
		AccessToken: "ory_st_" + email,
		ExpiresAt:   time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
	}, nil
}

func (p *fakeProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.findCalls + p.createCalls + p.signInCalls
}

func (p *fakeProvider) accountCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.accounts)
}

func openIdentityStore(t *testing.T) (*users.Store, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "auth.db")), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&users.Identity{}); err != nil {
		t.Fatalf("failed to migrate identity schema: %v", err)
	}
	store, err := users.NewStore(users.StoreConfig{Database: db})
	if err != nil {
		t.Fatalf("failed to create identity store: %v", err)
	}
	return store, db
}

func newTestCredentialStore(t *testing.T, identities IdentityStore) *CredentialStore {
	t.Helper()
	store, err := NewCredentialStore(CredentialStoreConfig{
		Identities: identities,
		BcryptCost: bcrypt.MinCost,
	})
	if err != nil {
		t.Fatalf("failed to create credential store: %v", err)
	}
	return store
}

func newTestSynchronizer(t *testing.T, provider ExternalAuthProvider) *Synchronizer {
	t.Helper()
	synchronizer, err := NewSynchronizer(SynchronizerConfig{
		Provider:      provider,
		ProvisionedBy: "storeview-dashboard",
		Timeout:       time.Second,
	})
	if err != nil {
		t.Fatalf("failed to create synchronizer: %v", err)
	}
	return synchronizer
}
