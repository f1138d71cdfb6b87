// Package model defines the database models used by the backend.
// These models work with both PostgreSQL and SQLite via GORM.
package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PrimarySlot is the fixed identity slot. The client holds a single
// provider identity at a time, so every credential row uses this slot
// and writes replace whatever was there before.
const PrimarySlot = "primary"

// AuthType values recorded on credentials.
const (
	AuthTypeOAuth  = "oauth"
	AuthTypeAPIKey = "api_key"
)

// Credential represents the stored provider identity. The token payload
// itself is encrypted; only non-sensitive metadata is stored in the clear.
type Credential struct {
	ID            string    `gorm:"primaryKey;type:text" json:"id"`
	Slot          string    `gorm:"uniqueIndex;not null;type:text" json:"slot"`
	Provider      string    `gorm:"not null;type:text" json:"provider"`
	AuthType      string    `gorm:"column:auth_type;not null;type:text" json:"auth_type"`
	Encryption    string    `gorm:"not null;type:text" json:"-"`
	EncryptedData []byte    `gorm:"column:encrypted_data" json:"-"`
	ConnectedAt   time.Time `gorm:"column:connected_at;not null" json:"connected_at"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Credential) TableName() string { return "credentials" }

func (c *Credential) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.Slot == "" {
		c.Slot = PrimarySlot
	}
	return nil
}

// AllModels returns all models for migration.
func AllModels() []interface{} {
	return []interface{}{
		&Credential{},
	}
}
