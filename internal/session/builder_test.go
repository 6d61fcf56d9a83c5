package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/StoreViewLabs/storeview/identity/internal/auth"
	"github.com/StoreViewLabs/storeview/identity/internal/tenants"
	"github.com/StoreViewLabs/storeview/identity/internal/users"
)

type stubTenants struct {
	mu         sync.Mutex
	businesses map[string]tenants.Business
	err        error
	calls      int
}

func (s *stubTenants) FindByOwner(_ context.Context, ownerID string) (tenants.Business, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return tenants.Business{}, s.err
	}
	business, ok := s.businesses[ownerID]
	if !ok {
		return tenants.Business{}, tenants.ErrNotFound
	}
	return business, nil
}

type stubLinker struct {
	mu       sync.Mutex
	resolved *string
	calls    int
}

func (l *stubLinker) ResolveExternalTenantID(_ context.Context, _ tenants.Business) *string {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return l.resolved
}

func newTestBuilder(t *testing.T, finder TenantFinder, linker TenantLinker) *Builder {
	t.Helper()
	builder, err := NewBuilder(BuilderConfig{Tenants: finder, Linker: linker})
	if err != nil {
		t.Fatalf("failed to construct builder: %v", err)
	}
	return builder
}

func ownerIdentity() users.Identity {
	periodEnd := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	return users.Identity{
		ID:    "owner-1",
		Email: "owner@example.com",
		Name:  "Olive Owner",
		Role:  users.RoleBusinessOwner,
		Billing: users.Billing{
			CustomerID:       "cus_1",
			SubscriptionID:   "sub_1",
			PriceID:          "price_1",
			CurrentPeriodEnd: &periodEnd,
		},
	}
}

func TestMintOwnerWithoutVTCredentials(t *testing.T) {
	finder := &stubTenants{businesses: map[string]tenants.Business{
		"owner-1": {ID: "biz-1", OwnerID: "owner-1", Name: "Corner Store", UseScenario: "retail"},
	}}
	linker := &stubLinker{}
	builder := newTestBuilder(t, finder, linker)

	token, err := builder.Mint(context.Background(), ownerIdentity(), nil)
	if err != nil {
		t.Fatalf("mint failed: %v", err)
	}
	if token.ExternalTenantID != nil {
		t.Fatalf("expected nil external tenant id, got %q", *token.ExternalTenantID)
	}
	if linker.calls != 0 {
		t.Fatalf("expected no VT resolution, got %d calls", linker.calls)
	}
	if token.Tenant == nil || token.Tenant.ID != "biz-1" || token.Tenant.UseScenario != "retail" {
		t.Fatalf("unexpected tenant summary %+v", token.Tenant)
	}
	if token.VTPlatformID != nil || token.VTAPIKey != nil {
		t.Fatalf("expected no VT credentials in token")
	}
	if token.Billing.SubscriptionID != "sub_1" || token.Billing.CurrentPeriodEnd == nil {
		t.Fatalf("expected billing fields copied, got %+v", token.Billing)
	}
	if token.ProviderAccessToken != nil {
		t.Fatalf("expected nil provider token for degraded sign-in")
	}
}

func TestMintOwnerWithVTCredentialsUsesResolvedID(t *testing.T) {
	resolved := "vt-biz-900"
	finder := &stubTenants{businesses: map[string]tenants.Business{
		"owner-1": {
			ID:           "biz-1",
			OwnerID:      "owner-1",
			Name:         "Corner Store",
			VTCredential: &tenants.VTCredential{BusinessID: "biz-1", PlatformID: "plat-7", APIKey: "key-7"},
		},
	}}
	linker := &stubLinker{resolved: &resolved}
	builder := newTestBuilder(t, finder, linker)
	providerSession := &auth.ProviderSession{
		AccessToken: "ory_st_abc",
		ExpiresAt:   time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	token, err := builder.Mint(context.Background(), ownerIdentity(), providerSession)
	if err != nil {
		t.Fatalf("mint failed: %v", err)
	}
	if token.ExternalTenantID == nil || *token.ExternalTenantID != resolved {
		t.Fatalf("expected resolved external tenant id")
	}
	if token.VTPlatformID == nil || *token.VTPlatformID != "plat-7" || token.VTAPIKey == nil || *token.VTAPIKey != "key-7" {
		t.Fatalf("expected raw VT credentials in token")
	}
	if token.ProviderAccessToken == nil || *token.ProviderAccessToken != "ory_st_abc" {
		t.Fatalf("expected provider access token")
	}
	if linker.calls != 1 {
		t.Fatalf("expected exactly one resolution, got %d", linker.calls)
	}
}

func TestMintStaffSkipsTenantLookup(t *testing.T) {
	finder := &stubTenants{}
	builder := newTestBuilder(t, finder, &stubLinker{})

	token, err := builder.Mint(context.Background(), users.Identity{ID: "staff-1", Email: "s@example.com", Role: users.RoleStaff}, nil)
	if err != nil {
		t.Fatalf("mint failed: %v", err)
	}
	if finder.calls != 0 || token.Tenant != nil {
		t.Fatalf("expected no tenant lookup for staff")
	}
}

func TestMintOwnerWithoutBusiness(t *testing.T) {
	builder := newTestBuilder(t, &stubTenants{}, &stubLinker{})
	token, err := builder.Mint(context.Background(), ownerIdentity(), nil)
	if err != nil {
		t.Fatalf("mint failed: %v", err)
	}
	if token.Tenant != nil {
		t.Fatalf("expected no tenant summary")
	}
}

func TestMintPropagatesStoreFailure(t *testing.T) {
	storeErr := errors.New("connection reset")
	builder := newTestBuilder(t, &stubTenants{err: storeErr}, &stubLinker{})
	if _, err := builder.Mint(context.Background(), ownerIdentity(), nil); !errors.Is(err, storeErr) {
		t.Fatalf("expected store failure to propagate, got %v", err)
	}
}

func TestApplyUpdateOverlaysWithoutResolving(t *testing.T) {
	resolved := "vt-biz-900"
	finder := &stubTenants{businesses: map[string]tenants.Business{
		"owner-1": {
			ID:           "biz-1",
			OwnerID:      "owner-1",
			Name:         "Corner Store",
			VTCredential: &tenants.VTCredential{BusinessID: "biz-1", PlatformID: "plat-7", APIKey: "key-7"},
		},
	}}
	linker := &stubLinker{resolved: &resolved}
	builder := newTestBuilder(t, finder, linker)
	ctx := context.Background()

	minted, err := builder.Apply(ctx, Token{}, SignIn{Identity: ownerIdentity()})
	if err != nil {
		t.Fatalf("sign-in failed: %v", err)
	}
	finderCalls, linkerCalls := finder.calls, linker.calls

	image := "https://cdn.example.com/avatar.png"
	subscription := "sub_2"
	updated, err := builder.Apply(ctx, minted, Update{Overlay: Overlay{
		Image:                 &image,
		BillingSubscriptionID: &subscription,
	}})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if finder.calls != finderCalls || linker.calls != linkerCalls {
		t.Fatalf("expected update to skip the store and the resolver")
	}
	if updated.Image != image || updated.Billing.SubscriptionID != subscription {
		t.Fatalf("expected overlay fields applied, got %+v", updated)
	}
	if updated.Billing.CustomerID != "cus_1" || updated.Tenant == nil || updated.ExternalTenantID == nil {
		t.Fatalf("expected untouched fields preserved, got %+v", updated)
	}
	if minted.Image != "" {
		t.Fatalf("expected the original token to stay unchanged")
	}
}

func TestProjectCopiesEveryField(t *testing.T) {
	externalID := "vt-1"
	accessToken := "ory_st_abc"
	expires := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	token := Token{
		UserID:              "user-1",
		Email:               "owner@example.com",
		Role:                users.RoleBusinessOwner,
		Tenant:              &TenantSummary{ID: "biz-1", Name: "Corner Store"},
		ExternalTenantID:    &externalID,
		ProviderAccessToken: &accessToken,
		ProviderExpiresAt:   &expires,
	}

	projected := Project(token)
	if projected.User.ID != "user-1" || projected.User.Role != users.RoleBusinessOwner {
		t.Fatalf("unexpected user projection %+v", projected.User)
	}
	if projected.Tenant == nil || projected.Tenant.Name != "Corner Store" {
		t.Fatalf("expected tenant projection")
	}
	if projected.AccessToken == nil || *projected.AccessToken != accessToken {
		t.Fatalf("expected access token projection")
	}
	projected.Tenant.Name = "mutated"
	if token.Tenant.Name != "Corner Store" {
		t.Fatalf("expected projection to copy the tenant summary")
	}
}

func TestOverlayEmpty(t *testing.T) {
	if !(Overlay{}).Empty() {
		t.Fatalf("expected zero overlay to be empty")
	}
	name := "n"
	if (Overlay{Name: &name}).Empty() {
		t.Fatalf("expected overlay with name to be non-empty")
	}
}
