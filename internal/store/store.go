// Package store provides database operations using GORM.
package store

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/SameeranB/ii-client/internal/model"
)

// Common errors
var (
	ErrNotFound = errors.New("record not found")
)

// Store wraps GORM DB for database operations.
type Store struct {
	db *gorm.DB
}

// New creates a new Store with the given GORM DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying GORM DB for advanced queries.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// --- Credentials ---

// GetCredential returns the credential in the primary slot.
func (s *Store) GetCredential(ctx context.Context) (*model.Credential, error) {
	var credential model.Credential
	if err := s.db.WithContext(ctx).First(&credential, "slot = ?", model.PrimarySlot).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &credential, nil
}

// ReplaceCredential installs a credential in the primary slot, replacing
// whatever was there. Delete-then-insert runs in one transaction so a
// failed write never leaves the slot empty-but-committed halfway.
func (s *Store) ReplaceCredential(ctx context.Context, credential *model.Credential) error {
	credential.Slot = model.PrimarySlot
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("slot = ?", model.PrimarySlot).Delete(&model.Credential{}).Error; err != nil {
			return err
		}
		return tx.Create(credential).Error
	})
}

// DeleteCredential clears the primary slot. Deleting an empty slot is
// not an error.
func (s *Store) DeleteCredential(ctx context.Context) error {
	return s.db.WithContext(ctx).Where("slot = ?", model.PrimarySlot).Delete(&model.Credential{}).Error
}
