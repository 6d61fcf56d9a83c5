package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

var (
	// ErrNotFound indicates no identity matched the lookup.
	ErrNotFound = errors.New("users: identity not found")
	// ErrDuplicateEmail indicates the unique email constraint rejected an insert.
	ErrDuplicateEmail = errors.New("users: email already registered")
	// ErrInvalidIdentity indicates the identity is missing required attributes.
	ErrInvalidIdentity = errors.New("users: invalid identity")

	errMissingDatabase = errors.New("users: database connection required")
)

// StoreConfig describes the dependencies required by the identity store.
type StoreConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
}

// Store reads and writes identities in the primary relational store.
// It is the only writer of identity rows.
type Store struct {
	db         *gorm.DB
	now        func() time.Time
	idProvider IDProvider
}

// NewStore constructs the identity store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = NewUUIDProvider()
	}
	return &Store{
		db:         cfg.Database,
		now:        clock,
		idProvider: idProvider,
	}, nil
}

// FindByEmail returns the identity registered under the canonical form of email.
func (s *Store) FindByEmail(ctx context.Context, email string) (Identity, error) {
	canonical := NormalizeEmail(email)
	if canonical == "" {
		return Identity{}, ErrNotFound
	}
	var identity Identity
	err := s.db.WithContext(ctx).
		Where("email = ?", canonical).
		Take(&identity).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Identity{}, ErrNotFound
	}
	if err != nil {
		return Identity{}, fmt.Errorf("users: find by email: %w", err)
	}
	return identity, nil
}

// FindByID returns the identity with the given primary key.
func (s *Store) FindByID(ctx context.Context, id string) (Identity, error) {
	var identity Identity
	err := s.db.WithContext(ctx).
		Where("id = ?", normalize(id)).
		Take(&identity).
		Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Identity{}, ErrNotFound
	}
	if err != nil {
		return Identity{}, fmt.Errorf("users: find by id: %w", err)
	}
	return identity, nil
}

// Insert persists a new identity. The email is canonicalized and an id is
// assigned when absent. A unique-constraint violation surfaces as ErrDuplicateEmail.
func (s *Store) Insert(ctx context.Context, identity Identity) (Identity, error) {
	identity.Email = NormalizeEmail(identity.Email)
	identity.Name = normalize(identity.Name)
	if identity.Email == "" {
		return Identity{}, fmt.Errorf("%w: email required", ErrInvalidIdentity)
	}
	if identity.Role == "" {
		identity.Role = RoleStaff
	}
	if !identity.Role.Valid() {
		return Identity{}, fmt.Errorf("%w: unknown role %q", ErrInvalidIdentity, identity.Role)
	}
	if identity.ID == "" {
		id, err := s.idProvider.NewID()
		if err != nil {
			return Identity{}, fmt.Errorf("users: allocate id: %w", err)
		}
		identity.ID = id
	}
	now := s.now().UTC()
	identity.CreatedAt = now
	identity.UpdatedAt = now

	if err := s.db.WithContext(ctx).Create(&identity).Error; err != nil {
		if isUniqueViolation(err) {
			return Identity{}, ErrDuplicateEmail
		}
		return Identity{}, fmt.Errorf("users: insert: %w", err)
	}
	return identity, nil
}

// isUniqueViolation relies on gorm error translation, enabled by database.Open.
func isUniqueViolation(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
