package session

import (
	"time"

	"github.com/StoreViewLabs/storeview/identity/internal/auth"
	"github.com/StoreViewLabs/storeview/identity/internal/users"
)

// TenantSummary is the snapshot of the owned business carried in a token.
type TenantSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	UseScenario string `json:"use_scenario,omitempty"`
}

// Billing mirrors the subscription fields of the identity.
type Billing struct {
	CustomerID       string     `json:"customer_id,omitempty"`
	SubscriptionID   string     `json:"subscription_id,omitempty"`
	PriceID          string     `json:"price_id,omitempty"`
	CurrentPeriodEnd *time.Time `json:"current_period_end,omitempty"`
}

// Token is the signed, per-login payload. It is never persisted.
type Token struct {
	UserID              string         `json:"user_id"`
	Email               string         `json:"email"`
	Name                string         `json:"name,omitempty"`
	Role                users.Role     `json:"role"`
	Image               string         `json:"image,omitempty"`
	Billing             Billing        `json:"billing"`
	Tenant              *TenantSummary `json:"tenant,omitempty"`
	ExternalTenantID    *string        `json:"external_tenant_id,omitempty"`
	VTPlatformID        *string        `json:"vt_platform_id,omitempty"`
	VTAPIKey            *string        `json:"vt_api_key,omitempty"`
	ProviderAccessToken *string        `json:"provider_access_token,omitempty"`
	ProviderExpiresAt   *time.Time     `json:"provider_expires_at,omitempty"`
}

// Event drives a token transition. It is either SignIn or Update.
type Event interface {
	isEvent()
}

// SignIn is a fresh credential-based login; the token is minted from scratch.
type SignIn struct {
	Identity        users.Identity
	ProviderSession *auth.ProviderSession
}

// Update is an explicit session update; Overlay is merged verbatim.
type Update struct {
	Overlay Overlay
}

func (SignIn) isEvent() {}
func (Update) isEvent() {}

// Overlay lists the fields of an explicit update. Nil fields leave the token
// unchanged. Only server-side callers may set tenant, billing, VT or provider
// fields; the HTTP surface accepts name and image.
type Overlay struct {
	Name                    *string        `json:"name,omitempty"`
	Image                   *string        `json:"image,omitempty"`
	BillingCustomerID       *string        `json:"billing_customer_id,omitempty"`
	BillingSubscriptionID   *string        `json:"billing_subscription_id,omitempty"`
	BillingPriceID          *string        `json:"billing_price_id,omitempty"`
	BillingCurrentPeriodEnd *time.Time     `json:"billing_current_period_end,omitempty"`
	Tenant                  *TenantSummary `json:"tenant,omitempty"`
	ExternalTenantID        *string        `json:"external_tenant_id,omitempty"`
	VTPlatformID            *string        `json:"vt_platform_id,omitempty"`
	VTAPIKey                *string        `json:"vt_api_key,omitempty"`
	ProviderAccessToken     *string        `json:"provider_access_token,omitempty"`
	ProviderExpiresAt       *time.Time     `json:"provider_expires_at,omitempty"`
}

// Empty reports whether the overlay changes nothing.
func (o Overlay) Empty() bool {
	return o == Overlay{}
}

func (o Overlay) applyTo(token Token) Token {
	if o.Name != nil {
		token.Name = *o.Name
	}
	if o.Image != nil {
		token.Image = *o.Image
	}
	if o.BillingCustomerID != nil {
		token.Billing.CustomerID = *o.BillingCustomerID
	}
	if o.BillingSubscriptionID != nil {
		token.Billing.SubscriptionID = *o.BillingSubscriptionID
	}
	if o.BillingPriceID != nil {
		token.Billing.PriceID = *o.BillingPriceID
	}
	if o.BillingCurrentPeriodEnd != nil {
		token.Billing.CurrentPeriodEnd = cloneTime(o.BillingCurrentPeriodEnd)
	}
	if o.Tenant != nil {
		tenant := *o.Tenant
		token.Tenant = &tenant
	}
	if o.ExternalTenantID != nil {
		token.ExternalTenantID = cloneString(o.ExternalTenantID)
	}
	if o.VTPlatformID != nil {
		token.VTPlatformID = cloneString(o.VTPlatformID)
	}
	if o.VTAPIKey != nil {
		token.VTAPIKey = cloneString(o.VTAPIKey)
	}
	if o.ProviderAccessToken != nil {
		token.ProviderAccessToken = cloneString(o.ProviderAccessToken)
	}
	if o.ProviderExpiresAt != nil {
		token.ProviderExpiresAt = cloneTime(o.ProviderExpiresAt)
	}
	return token
}

// Session is the public projection of a token seen by the rest of the application.
type Session struct {
	User               User           `json:"user"`
	Tenant             *TenantSummary `json:"tenant"`
	ExternalTenantID   *string        `json:"external_tenant_id"`
	VTPlatformID       *string        `json:"vt_platform_id"`
	VTAPIKey           *string        `json:"vt_api_key"`
	AccessToken        *string        `json:"access_token"`
	AccessTokenExpires *time.Time     `json:"access_token_expires_at"`
}

// User is the identity part of a session.
type User struct {
	ID      string     `json:"id"`
	Email   string     `json:"email"`
	Name    string     `json:"name"`
	Role    users.Role `json:"role"`
	Image   string     `json:"image"`
	Billing Billing    `json:"billing"`
}

// Project copies the token fields the application may see into a Session.
func Project(token Token) Session {
	projected := Session{
		User: User{
			ID:      token.UserID,
			Email:   token.Email,
			Name:    token.Name,
			Role:    token.Role,
			Image:   token.Image,
			Billing: token.Billing,
		},
		ExternalTenantID:   cloneString(token.ExternalTenantID),
		VTPlatformID:       cloneString(token.VTPlatformID),
		VTAPIKey:           cloneString(token.VTAPIKey),
		AccessToken:        cloneString(token.ProviderAccessToken),
		AccessTokenExpires: cloneTime(token.ProviderExpiresAt),
	}
	projected.User.Billing.CurrentPeriodEnd = cloneTime(token.Billing.CurrentPeriodEnd)
	if token.Tenant != nil {
		tenant := *token.Tenant
		projected.Tenant = &tenant
	}
	return projected
}

func cloneString(value *string) *string {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}

func cloneTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	copied := value.UTC()
	return &copied
}

func stringPtr(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
