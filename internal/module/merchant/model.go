package merchant

import (
	"time"

	"github.com/google/uuid"
)

// MerchantStatus represents the lifecycle status of a merchant account.
type MerchantStatus string

const (
	MerchantStatusActive    MerchantStatus = "active"
	MerchantStatusSuspended MerchantStatus = "suspended"
)

// Merchant represents a registered merchant account.
type Merchant struct {
	ID   uuid.UUID `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Name string    `json:"name" gorm:"not null"`

	// Authentication
	Email        string `json:"email" gorm:"uniqueIndex;not null"`
	PasswordHash string `json:"-" gorm:"column:password_hash;not null"`
	// APIKeyHash is the SHA-256 hex digest of the merchant's API key.
	// The key itself is shown once at creation and never stored.
	APIKeyHash string `json:"-" gorm:"column:api_key_hash;uniqueIndex;not null"`

	Status MerchantStatus `json:"status" gorm:"default:active"`

	// RoutingConfigJSON holds the merchant's routing overrides (weights,
	// per-provider costs, forced provider). Empty means platform defaults.
	RoutingConfigJSON string `json:"-" gorm:"column:routing_config_json"`

	CreatedAt time.Time `json:"created_at" gorm:"column:created_at"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at"`
}

// TableName returns the database table name.
func (Merchant) TableName() string {
	return "merchants"
}

// CanTransact checks if the merchant is allowed to create payments.
func (m *Merchant) CanTransact() bool {
	return m.Status == MerchantStatusActive
}
