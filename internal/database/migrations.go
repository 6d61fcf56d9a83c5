package database

import (
	"errors"
	"time"

	"github.com/StoreViewLabs/storeview/identity/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationCanonicalizeUserEmails = "2024-06-10_canonicalize_user_emails"
	migrationBackfillUserRoles      = "2024-06-10_backfill_user_roles"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationCanonicalizeUserEmails, apply: canonicalizeUserEmails},
		{name: migrationBackfillUserRoles, apply: backfillUserRoles},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// canonicalizeUserEmails lower-cases stored emails. Rows whose canonical form
// collides with another row are left untouched.
func canonicalizeUserEmails(db *gorm.DB) error {
	var identities []users.Identity
	if err := db.Select("id", "email").Find(&identities).Error; err != nil {
		return err
	}
	for _, identity := range identities {
		canonical := users.NormalizeEmail(identity.Email)
		if canonical == identity.Email {
			continue
		}
		var collisions int64
		if err := db.Model(&users.Identity{}).Where("email = ?", canonical).Count(&collisions).Error; err != nil {
			return err
		}
		if collisions > 0 {
			continue
		}
		if err := db.Model(&users.Identity{}).Where("id = ?", identity.ID).Update("email", canonical).Error; err != nil {
			return err
		}
	}
	return nil
}

func backfillUserRoles(db *gorm.DB) error {
	return db.Model(&users.Identity{}).
		Where("role IS NULL OR role = ''").
		Update("role", string(users.RoleStaff)).Error
}
