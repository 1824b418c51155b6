package merchant

import (
	"time"

	"github.com/google/uuid"
)

// RegisterRequest represents a merchant registration request.
type RegisterRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
}

// LoginRequest represents an email/password login request.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// MerchantResponse is the public view of a merchant account.
type MerchantResponse struct {
	ID        uuid.UUID      `json:"id"`
	Name      string         `json:"name"`
	Email     string         `json:"email"`
	Status    MerchantStatus `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
}

// ToResponse converts a merchant to its public view.
func (m *Merchant) ToResponse() MerchantResponse {
	return MerchantResponse{
		ID:        m.ID,
		Name:      m.Name,
		Email:     m.Email,
		Status:    m.Status,
		CreatedAt: m.CreatedAt,
	}
}

// UpdateRoutingOverridesRequest replaces the merchant's routing overrides.
type UpdateRoutingOverridesRequest struct {
	Overrides map[string]any `json:"overrides" binding:"required"`
}
