package auth

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/StoreViewLabs/storeview/identity/internal/metrics"
	"github.com/StoreViewLabs/storeview/identity/internal/users"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type orchestratorHarness struct {
	orchestrator *Orchestrator
	provider     *fakeProvider
	identities   *users.Store
	database     *gorm.DB
	metrics      *metrics.Metrics
}

func newOrchestratorHarness(t *testing.T) orchestratorHarness {
	t.Helper()
	identities, db := openIdentityStore(t)
	provider := newFakeProvider()
	collectors := metrics.New(prometheus.NewRegistry())
	orchestrator, err := NewOrchestrator(OrchestratorConfig{
		Credentials: newTestCredentialStore(t, identities),
		External:    newTestSynchronizer(t, provider),
		Metrics:     collectors,
	})
	if err != nil {
		t.Fatalf("failed to create orchestrator: %v", err)
	}
	return orchestratorHarness{
		orchestrator: orchestrator,
		provider:     provider,
		identities:   identities,
		database:     db,
		metrics:      collectors,
	}
}

func TestRegisterCreatesStaffIdentityAndSyncs(t *testing.T) {
	harness := newOrchestratorHarness(t)
	ctx := context.Background()

	result, err := harness.orchestrator.Register(ctx, RegistrationRequest{Email: "alice@x.com", Password: "Secret123!"})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if result.Identity.Role != users.RoleStaff {
		t.Fatalf("expected default STAFF role, got %s", result.Identity.Role)
	}
	if result.Degraded() {
		t.Fatalf("expected provider session on healthy provider")
	}

	stored, err := harness.identities.FindByEmail(ctx, "alice@x.com")
	if err != nil {
		t.Fatalf("expected stored identity: %v", err)
	}
	if !stored.HasPassword() || *stored.PasswordHash == "Secret123!" {
		t.Fatalf("expected hashed password on stored identity")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(*stored.PasswordHash), []byte("Secret123!")); err != nil {
		t.Fatalf("stored hash does not verify: %v", err)
	}
	if harness.provider.createCalls != 1 || harness.provider.signInCalls != 1 {
		t.Fatalf("expected one create and one sign-in, got create=%d sign_in=%d",
			harness.provider.createCalls, harness.provider.signInCalls)
	}
}

func TestRegisterDuplicateLeavesSingleRecord(t *testing.T) {
	harness := newOrchestratorHarness(t)
	ctx := context.Background()

	if _, err := harness.orchestrator.Register(ctx, RegistrationRequest{Email: "alice@x.com", Password: "Secret123!"}); err != nil {
		t.Fatalf("first register failed: %v", err)
	}
	callsBefore := harness.provider.calls()

	_, err := harness.orchestrator.Register(ctx, RegistrationRequest{Email: "alice@x.com", Password: "Other456!"})
	if !errors.Is(err, ErrUserAlreadyExists) {
		t.Fatalf("expected user already exists, got %v", err)
	}
	if harness.provider.calls() != callsBefore {
		t.Fatalf("expected no provider calls for a rejected registration")
	}

	var count int64
	if err := harness.database.Model(&users.Identity{}).Where("email = ?", "alice@x.com").Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one identity row, got %d", count)
	}
	if harness.provider.accountCount() != 1 {
		t.Fatalf("expected one external account, got %d", harness.provider.accountCount())
	}
}

func TestAuthenticateWrongPasswordSkipsProvider(t *testing.T) {
	harness := newOrchestratorHarness(t)
	ctx := context.Background()

	if _, err := harness.orchestrator.Register(ctx, RegistrationRequest{Email: "alice@x.com", Password: "Secret123!"}); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	callsBefore := harness.provider.calls()

	_, err := harness.orchestrator.Authenticate(ctx, "alice@x.com", "wrong")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	_, err = harness.orchestrator.Authenticate(ctx, "nobody@x.com", "Secret123!")
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected user not found, got %v", err)
	}
	if harness.provider.calls() != callsBefore {
		t.Fatalf("expected zero provider calls on failed logins, got %d", harness.provider.calls()-callsBefore)
	}
	if got := testutil.ToFloat64(harness.metrics.AuthAttempts.WithLabelValues(flowLogin, string(KindInvalidCredentials))); got != 1 {
		t.Fatalf("expected one invalid credential attempt recorded, got %v", got)
	}
}

func TestAuthenticateSucceedsWhenProviderUnreachable(t *testing.T) {
	harness := newOrchestratorHarness(t)
	ctx := context.Background()

	if _, err := harness.orchestrator.Register(ctx, RegistrationRequest{Email: "alice@x.com", Password: "Secret123!"}); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	harness.provider.mu.Lock()
	harness.provider.findErr = errProviderUnavailable
	harness.provider.createErr = errProviderUnavailable
	harness.provider.signInErr = errProviderUnavailable
	harness.provider.mu.Unlock()

	result, err := harness.orchestrator.Authenticate(ctx, "ALICE@x.com", "Secret123!")
	if err != nil {
		t.Fatalf("expected login to succeed while degraded: %v", err)
	}
	if !result.Degraded() {
		t.Fatalf("expected degraded result")
	}
	if result.Identity.Email != "alice@x.com" {
		t.Fatalf("unexpected identity %q", result.Identity.Email)
	}
}

func TestRegisterWithoutProviderIsDegraded(t *testing.T) {
	identities, _ := openIdentityStore(t)
	orchestrator, err := NewOrchestrator(OrchestratorConfig{Credentials: newTestCredentialStore(t, identities)})
	if err != nil {
		t.Fatalf("failed to create orchestrator: %v", err)
	}
	result, err := orchestrator.Register(context.Background(), RegistrationRequest{
		Email:    "owner@x.com",
		Password: "pw",
		Role:     users.RoleBusinessOwner,
	})
	if err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if !result.Degraded() || result.Identity.Role != users.RoleBusinessOwner {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestMissingFieldsRejectedBeforeStore(t *testing.T) {
	harness := newOrchestratorHarness(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		call  func() error
		field string
	}{
		{"register without email", func() error {
			_, err := harness.orchestrator.Register(ctx, RegistrationRequest{Email: "  ", Password: "pw"})
			return err
		}, "email"},
		{"register without password", func() error {
			_, err := harness.orchestrator.Register(ctx, RegistrationRequest{Email: "a@x.com"})
			return err
		}, "password"},
		{"login without password", func() error {
			_, err := harness.orchestrator.Authenticate(ctx, "a@x.com", "")
			return err
		}, "password"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.call()
			var authErr *Error
			if !errors.As(err, &authErr) || authErr.Kind != KindMissingField {
				t.Fatalf("expected missing field error, got %v", err)
			}
			if authErr.Field != tc.field {
				t.Fatalf("expected field %q, got %q", tc.field, authErr.Field)
			}
		})
	}
	if harness.provider.calls() != 0 {
		t.Fatalf("expected no provider calls")
	}
}

func TestConcurrentRegistrationsYieldOneIdentity(t *testing.T) {
	harness := newOrchestratorHarness(t)
	ctx := context.Background()

	const attempts = 2
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := harness.orchestrator.Register(ctx, RegistrationRequest{Email: "race@x.com", Password: "pw"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var succeeded, duplicates int
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrUserAlreadyExists):
			duplicates++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || duplicates != 1 {
		t.Fatalf("expected one success and one duplicate, got %d and %d", succeeded, duplicates)
	}
	if harness.provider.accountCount() != 1 {
		t.Fatalf("expected one external account, got %d", harness.provider.accountCount())
	}
}
