package tenants

import "time"

// Business is the tenant owned by a business-owner identity.
type Business struct {
	ID           string        `gorm:"column:id;primaryKey;size:64"`
	OwnerID      string        `gorm:"column:owner_id;size:64;not null;index"`
	Name         string        `gorm:"column:name;size:320;not null"`
	UseScenario  string        `gorm:"column:use_scenario;size:64"`
	VTCredential *VTCredential `gorm:"foreignKey:BusinessID;references:ID"`
	CreatedAt    time.Time     `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time     `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing businesses.
func (Business) TableName() string {
	return "businesses"
}

// VTCredential links a business to its account on the VT platform.
type VTCredential struct {
	ID         uint      `gorm:"column:id;primaryKey;autoIncrement"`
	BusinessID string    `gorm:"column:business_id;size:64;not null;uniqueIndex"`
	PlatformID string    `gorm:"column:platform_id;size:190;not null"`
	APIKey     string    `gorm:"column:api_key;size:512;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing VT credentials.
func (VTCredential) TableName() string {
	return "business_vt_credentials"
}

// HasVTCredentials reports whether the business is configured for VT integration.
func (b Business) HasVTCredentials() bool {
	return b.VTCredential != nil && b.VTCredential.PlatformID != ""
}
