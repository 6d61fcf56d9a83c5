package users

import (
	"strings"
	"time"
)

// Role enumerates the access levels an identity can hold.
type Role string

const (
	RoleAdmin         Role = "ADMIN"
	RoleBusinessOwner Role = "BUSINESS_OWNER"
	RoleStaff         Role = "STAFF"
)

// Valid reports whether the role is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleBusinessOwner, RoleStaff:
		return true
	default:
		return false
	}
}

// Identity is one human user of the dashboard, keyed by lower-cased email.
type Identity struct {
	ID           string    `gorm:"column:id;primaryKey;size:64"`
	Email        string    `gorm:"column:email;size:320;not null;uniqueIndex:idx_users_email"`
	PasswordHash *string   `gorm:"column:password_hash;size:255"`
	Name         string    `gorm:"column:name;size:320"`
	Role         Role      `gorm:"column:role;size:32;not null"`
	Image        string    `gorm:"column:image;size:512"`
	Billing      Billing   `gorm:"embedded;embeddedPrefix:billing_"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// Billing holds the subscription fields copied into every session token.
type Billing struct {
	CustomerID       string     `gorm:"column:customer_id;size:190"`
	SubscriptionID   string     `gorm:"column:subscription_id;size:190"`
	PriceID          string     `gorm:"column:price_id;size:190"`
	CurrentPeriodEnd *time.Time `gorm:"column:current_period_end"`
}

// TableName exposes the table backing identities.
func (Identity) TableName() string {
	return "users"
}

// HasPassword reports whether the identity can authenticate with a password.
func (i Identity) HasPassword() bool {
	return i.PasswordHash != nil && *i.PasswordHash != ""
}

// NormalizeEmail returns the canonical form of an email address.
func NormalizeEmail(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func normalize(value string) string {
	return strings.TrimSpace(value)
}
