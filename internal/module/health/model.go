package health

import (
	"time"

	"github.com/google/uuid"

	"github.com/routepay/server/internal/module/provider"
)

// CircuitState is the per-provider circuit breaker state.
type CircuitState string

const (
	CircuitClosed   CircuitState = "CLOSED"
	CircuitOpen     CircuitState = "OPEN"
	CircuitHalfOpen CircuitState = "HALF_OPEN"
)

// Event types recorded in the payment event log. Health statistics are
// recomputed from this log rather than kept in memory.
const (
	EventCreateSessionSucceeded = "PROVIDER_CREATE_SESSION_SUCCEEDED"
	EventCreateSessionFailed    = "PROVIDER_CREATE_SESSION_FAILED"
	EventPaymentSucceeded       = "PAYMENT_SUCCEEDED"
	EventPaymentFailed          = "PAYMENT_FAILED"
	EventRefundSucceeded        = "REFUND_SUCCEEDED"
)

// PaymentEvent is one durable entry in the provider event log. Raw
// payloads are never stored; only a hash and a sanitized extract.
type PaymentEvent struct {
	ID              uuid.UUID         `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	PaymentIntentID *uuid.UUID        `gorm:"type:uuid;index"`
	Provider        provider.Provider `gorm:"not null;index:idx_events_provider_created"`
	EventType       string            `gorm:"not null"`
	PayloadHash     string            `gorm:"not null"`
	SanitizedJSON   string            `gorm:"column:sanitized_payload_json"`
	CreatedAt       time.Time         `gorm:"not null;index:idx_events_provider_created,sort:desc"`
}

// TableName returns the database table name.
func (PaymentEvent) TableName() string {
	return "payment_events"
}

// Snapshot is the persisted health state for one provider.
type Snapshot struct {
	ID            uuid.UUID         `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Provider      provider.Provider `gorm:"uniqueIndex;not null"`
	CircuitState  CircuitState      `gorm:"not null;default:CLOSED"`
	SuccessRate   float64           `gorm:"not null;default:0"`
	ErrorRate     float64           `gorm:"not null;default:0"`
	P95LatencyMs  int64             `gorm:"column:p95_latency_ms;not null;default:0"`
	LastFailureAt *time.Time        `gorm:"column:last_failure_at"`
	WindowStart   *time.Time        `gorm:"column:window_start"`
	WindowEnd     *time.Time        `gorm:"column:window_end"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TableName returns the database table name.
func (Snapshot) TableName() string {
	return "provider_health_snapshots"
}

// View is the read-side snapshot handed to routing and availability.
// CircuitState reflects the open-interval TTL: an OPEN circuit whose last
// failure is older than the TTL reads as HALF_OPEN without a write.
type View struct {
	Provider      provider.Provider `json:"provider"`
	CircuitState  CircuitState      `json:"circuit_state"`
	SuccessRate   float64           `json:"success_rate"`
	ErrorRate     float64           `json:"error_rate"`
	P95LatencyMs  int64             `json:"p95_latency_ms"`
	LastFailureAt *time.Time        `json:"last_failure_at,omitempty"`
	UpdatedAt     time.Time         `json:"updated_at"`
}
