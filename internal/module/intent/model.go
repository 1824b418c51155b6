package intent

import (
	"time"

	"github.com/google/uuid"

	"github.com/routepay/server/internal/module/provider"
)

// Status is the payment intent lifecycle state.
type Status string

const (
	StatusCreated               Status = "CREATED"
	StatusRequiresPaymentMethod Status = "REQUIRES_PAYMENT_METHOD"
	StatusProcessing            Status = "PROCESSING"
	StatusSucceeded             Status = "SUCCEEDED"
	StatusFailed                Status = "FAILED"
	StatusRefunded              Status = "REFUNDED"
)

// Final reports whether the status is terminal.
func (s Status) Final() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusRefunded
}

// PaymentIntent is one attempt at collecting a payment. Retries create new
// intents chained through RootPaymentIntentID.
type PaymentIntent struct {
	ID          uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	MerchantID  uuid.UUID `json:"merchant_id" gorm:"type:uuid;not null;index"`
	AmountMinor int64     `json:"amount_minor" gorm:"not null"`
	Currency    string    `json:"currency" gorm:"not null"`
	Description string    `json:"description,omitempty"`

	Status      Status            `json:"status" gorm:"not null"`
	Provider    provider.Provider `json:"provider" gorm:"not null"`
	ProviderRef string            `json:"provider_ref,omitempty"`

	IdempotencyKey    string     `json:"idempotency_key,omitempty"`
	RoutingDecisionID *uuid.UUID `json:"routing_decision_id,omitempty" gorm:"type:uuid"`
	RoutingReasonCode string     `json:"routing_reason_code"`

	RootPaymentIntentID uuid.UUID `json:"root_payment_intent_id" gorm:"type:uuid;not null;index"`
	AttemptNumber       int       `json:"attempt_number" gorm:"not null;default:0"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name.
func (PaymentIntent) TableName() string {
	return "payment_intents"
}

// RoutingDecision is the persisted audit record of one routing choice.
// An intent accumulates one decision per attempt, including fallbacks.
type RoutingDecision struct {
	ID                  uuid.UUID         `json:"id" gorm:"type:uuid;primaryKey"`
	MerchantID          uuid.UUID         `json:"merchant_id" gorm:"type:uuid;not null;index"`
	PaymentIntentID     uuid.UUID         `json:"payment_intent_id" gorm:"type:uuid;not null;index"`
	ChosenProvider      provider.Provider `json:"chosen_provider" gorm:"not null"`
	ReasonCode          string            `json:"reason_code" gorm:"not null"`
	CandidateScoresJSON string            `json:"candidate_scores_json" gorm:"column:candidate_scores_json"`
	CreatedAt           time.Time         `json:"created_at"`
}

// TableName returns the database table name.
func (RoutingDecision) TableName() string {
	return "routing_decisions"
}

// IdempotencyRecord maps a merchant's idempotency key to the intent it
// produced. Recorded only after the whole create flow succeeded.
type IdempotencyRecord struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	MerchantID      uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_idem_merchant_endpoint_key"`
	Endpoint        string    `gorm:"not null;uniqueIndex:idx_idem_merchant_endpoint_key"`
	IdempotencyKey  string    `gorm:"not null;uniqueIndex:idx_idem_merchant_endpoint_key"`
	PaymentIntentID uuid.UUID `gorm:"type:uuid;not null"`
	RequestHash     string    `gorm:"not null"`
	CreatedAt       time.Time
}

// TableName returns the database table name.
func (IdempotencyRecord) TableName() string {
	return "idempotency_records"
}
