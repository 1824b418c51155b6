package intent

import (
	"time"

	"github.com/google/uuid"

	"github.com/routepay/server/internal/module/provider"
)

// CreateRequest is the body of POST /payment-intents.
type CreateRequest struct {
	AmountMinor        int64  `json:"amount_minor" binding:"required,gt=0"`
	Currency           string `json:"currency" binding:"required,len=3"`
	Description        string `json:"description" binding:"max=500"`
	ProviderPreference string `json:"provider_preference"`
}

// RerouteRequest is the body of POST /payment-intents/:id/reroute.
type RerouteRequest struct {
	ProviderPreference string `json:"provider_preference"`
}

// RefundRequest is the body of POST /payment-intents/:id/refund.
type RefundRequest struct {
	Reason string `json:"reason" binding:"max=500"`
}

// DemoAuthorizeRequest selects the simulated settlement outcome.
type DemoAuthorizeRequest struct {
	Outcome string `json:"outcome" binding:"omitempty,oneof=approved declined"`
}

// IntentResponse is the client view of a payment intent.
type IntentResponse struct {
	ID                  uuid.UUID         `json:"id"`
	MerchantID          uuid.UUID         `json:"merchant_id"`
	AmountMinor         int64             `json:"amount_minor"`
	Currency            string            `json:"currency"`
	Description         string            `json:"description,omitempty"`
	Status              Status            `json:"status"`
	Provider            provider.Provider `json:"provider"`
	ProviderRef         string            `json:"provider_ref,omitempty"`
	RoutingReasonCode   string            `json:"routing_reason_code,omitempty"`
	RootPaymentIntentID uuid.UUID         `json:"root_payment_intent_id"`
	AttemptNumber       int               `json:"attempt_number"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// CreatedResponse is an intent plus its checkout config.
type CreatedResponse struct {
	IntentResponse
	CheckoutConfig map[string]any `json:"checkout_config"`
}

// ToResponse converts the model to its API shape.
func (p *PaymentIntent) ToResponse() IntentResponse {
	return IntentResponse{
		ID:                  p.ID,
		MerchantID:          p.MerchantID,
		AmountMinor:         p.AmountMinor,
		Currency:            p.Currency,
		Description:         p.Description,
		Status:              p.Status,
		Provider:            p.Provider,
		ProviderRef:         p.ProviderRef,
		RoutingReasonCode:   p.RoutingReasonCode,
		RootPaymentIntentID: p.RootPaymentIntentID,
		AttemptNumber:       p.AttemptNumber,
		CreatedAt:           p.CreatedAt,
		UpdatedAt:           p.UpdatedAt,
	}
}

func (c *Created) ToResponse() CreatedResponse {
	return CreatedResponse{
		IntentResponse: c.PaymentIntent.ToResponse(),
		CheckoutConfig: c.CheckoutConfig,
	}
}
