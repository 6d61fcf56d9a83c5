package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/StoreViewLabs/storeview/identity/internal/auth"
	"github.com/StoreViewLabs/storeview/identity/internal/tenants"
	"github.com/StoreViewLabs/storeview/identity/internal/users"
	"go.uber.org/zap"
)

var (
	errMissingTenantFinder = errors.New("session: tenant finder required")
	errMissingIdentityID   = errors.New("session: identity id required")
	errUnknownEvent        = errors.New("session: unknown event")
)

// TenantFinder loads the business owned by an identity.
type TenantFinder interface {
	FindByOwner(ctx context.Context, ownerID string) (tenants.Business, error)
}

// TenantLinker resolves the VT business id of a tenant; nil means unlinked.
type TenantLinker interface {
	ResolveExternalTenantID(ctx context.Context, business tenants.Business) *string
}

// BuilderConfig wires the token builder.
type BuilderConfig struct {
	Tenants TenantFinder
	// Linker may be nil when no VT integration is configured.
	Linker TenantLinker
	Logger *zap.Logger
}

// Builder mints tokens on sign-in and merges explicit updates into them.
type Builder struct {
	tenants TenantFinder
	linker  TenantLinker
	logger  *zap.Logger
}

// NewBuilder constructs a token builder.
func NewBuilder(cfg BuilderConfig) (*Builder, error) {
	if cfg.Tenants == nil {
		return nil, errMissingTenantFinder
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{tenants: cfg.Tenants, linker: cfg.Linker, logger: logger}, nil
}

// Mint assembles a token for a freshly authenticated identity. Business
// owners get their tenant summary, raw VT credentials and resolved external
// tenant id.
func (b *Builder) Mint(ctx context.Context, identity users.Identity, providerSession *auth.ProviderSession) (Token, error) {
	if strings.TrimSpace(identity.ID) == "" {
		return Token{}, errMissingIdentityID
	}

	token := Token{
		UserID: identity.ID,
		Email:  identity.Email,
		Name:   identity.Name,
		Role:   identity.Role,
		Image:  identity.Image,
		Billing: Billing{
			CustomerID:       identity.Billing.CustomerID,
			SubscriptionID:   identity.Billing.SubscriptionID,
			PriceID:          identity.Billing.PriceID,
			CurrentPeriodEnd: cloneTime(identity.Billing.CurrentPeriodEnd),
		},
	}
	if providerSession != nil {
		token.ProviderAccessToken = stringPtr(providerSession.AccessToken)
		if !providerSession.ExpiresAt.IsZero() {
			expiresAt := providerSession.ExpiresAt.UTC()
			token.ProviderExpiresAt = &expiresAt
		}
	}

	if identity.Role != users.RoleBusinessOwner {
		return token, nil
	}

	business, err := b.tenants.FindByOwner(ctx, identity.ID)
	if errors.Is(err, tenants.ErrNotFound) {
		b.logger.Info("business owner has no business", zap.String("user_id", identity.ID))
		return token, nil
	}
	if err != nil {
		return Token{}, fmt.Errorf("session: load tenant: %w", err)
	}

	token.Tenant = &TenantSummary{
		ID:          business.ID,
		Name:        business.Name,
		UseScenario: business.UseScenario,
	}
	if !business.HasVTCredentials() {
		return token, nil
	}
	token.VTPlatformID = stringPtr(business.VTCredential.PlatformID)
	token.VTAPIKey = stringPtr(business.VTCredential.APIKey)
	if b.linker != nil {
		token.ExternalTenantID = b.linker.ResolveExternalTenantID(ctx, business)
	}
	return token, nil
}

// Apply moves existing to the state described by event. SignIn re-mints;
// Update merges the overlay without touching the store or the VT service.
func (b *Builder) Apply(ctx context.Context, existing Token, event Event) (Token, error) {
	switch e := event.(type) {
	case SignIn:
		return b.Mint(ctx, e.Identity, e.ProviderSession)
	case Update:
		return e.Overlay.applyTo(existing), nil
	default:
		return Token{}, fmt.Errorf("%w: %T", errUnknownEvent, event)
	}
}
