package tenants

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrNotFound indicates the identity owns no business.
	ErrNotFound = errors.New("tenants: business not found")

	errMissingDatabase = errors.New("tenants: database connection required")
)

// StoreConfig describes the dependencies of the business store.
type StoreConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// Store reads businesses from the primary relational store.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewStore constructs the business store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: cfg.Database, logger: logger}, nil
}

// FindByOwner returns the business owned by ownerID together with its VT credential.
// When more than one business is owned the oldest wins and a warning is logged.
func (s *Store) FindByOwner(ctx context.Context, ownerID string) (Business, error) {
	owner := strings.TrimSpace(ownerID)
	if owner == "" {
		return Business{}, ErrNotFound
	}

	var businesses []Business
	err := s.db.WithContext(ctx).
		Preload("VTCredential").
		Where("owner_id = ?", owner).
		Order("created_at ASC").
		Order("id ASC").
		Limit(2).
		Find(&businesses).
		Error
	if err != nil {
		return Business{}, fmt.Errorf("tenants: find by owner: %w", err)
	}
	if len(businesses) == 0 {
		return Business{}, ErrNotFound
	}
	if len(businesses) > 1 {
		s.logger.Warn("identity owns multiple businesses; using the oldest",
			zap.String("owner_id", owner),
			zap.String("business_id", businesses[0].ID))
	}
	return businesses[0], nil
}

// Create persists a business and, when present, its VT credential.
func (s *Store) Create(ctx context.Context, business Business) (Business, error) {
	if strings.TrimSpace(business.ID) == "" || strings.TrimSpace(business.OwnerID) == "" {
		return Business{}, fmt.Errorf("tenants: business id and owner id are required")
	}
	if err := s.db.WithContext(ctx).Create(&business).Error; err != nil {
		return Business{}, fmt.Errorf("tenants: create: %w", err)
	}
	return business, nil
}
