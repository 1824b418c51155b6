package intent

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/routepay/server/internal/module/provider"
)

// Module errors surfaced by the repository.
var (
	ErrIntentNotFound = errors.New("payment intent not found")
)

// DecisionFilter narrows the admin decision search.
type DecisionFilter struct {
	MerchantID *uuid.UUID
	From       *time.Time
	To         *time.Time
	Provider   *provider.Provider
}

// Repository defines data access for payment intents, routing decisions
// and idempotency records.
type Repository interface {
	CreateIntent(ctx context.Context, pi *PaymentIntent) error
	SaveIntent(ctx context.Context, pi *PaymentIntent) error
	GetIntent(ctx context.Context, merchantID, intentID uuid.UUID) (*PaymentIntent, error)
	GetIntentByID(ctx context.Context, intentID uuid.UUID) (*PaymentIntent, error)
	ListIntents(ctx context.Context, merchantID uuid.UUID, status *Status, from, to *time.Time) ([]*PaymentIntent, error)
	CountByRoot(ctx context.Context, rootID uuid.UUID) (int64, error)
	FindByProviderRef(ctx context.Context, p provider.Provider, providerRef string) (*PaymentIntent, error)

	CreateDecision(ctx context.Context, decision *RoutingDecision) error
	SearchDecisions(ctx context.Context, filter DecisionFilter) ([]*RoutingDecision, error)

	FindIdempotency(ctx context.Context, merchantID uuid.UUID, endpoint, key string) (*IdempotencyRecord, error)
	SaveIdempotency(ctx context.Context, rec *IdempotencyRecord) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a gorm-backed intent repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) CreateIntent(ctx context.Context, pi *PaymentIntent) error {
	return r.db.WithContext(ctx).Create(pi).Error
}

func (r *repository) SaveIntent(ctx context.Context, pi *PaymentIntent) error {
	return r.db.WithContext(ctx).Save(pi).Error
}

func (r *repository) GetIntent(ctx context.Context, merchantID, intentID uuid.UUID) (*PaymentIntent, error) {
	var pi PaymentIntent
	err := r.db.WithContext(ctx).
		Where("id = ? AND merchant_id = ?", intentID, merchantID).
		First(&pi).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrIntentNotFound
		}
		return nil, err
	}
	return &pi, nil
}

func (r *repository) GetIntentByID(ctx context.Context, intentID uuid.UUID) (*PaymentIntent, error) {
	var pi PaymentIntent
	err := r.db.WithContext(ctx).Where("id = ?", intentID).First(&pi).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrIntentNotFound
		}
		return nil, err
	}
	return &pi, nil
}

func (r *repository) ListIntents(ctx context.Context, merchantID uuid.UUID, status *Status, from, to *time.Time) ([]*PaymentIntent, error) {
	q := r.db.WithContext(ctx).Where("merchant_id = ?", merchantID)
	if status != nil {
		q = q.Where("status = ?", *status)
	}
	if from != nil {
		q = q.Where("created_at >= ?", *from)
	}
	if to != nil {
		q = q.Where("created_at <= ?", *to)
	}
	var intents []*PaymentIntent
	if err := q.Order("created_at DESC").Find(&intents).Error; err != nil {
		return nil, err
	}
	return intents, nil
}

func (r *repository) CountByRoot(ctx context.Context, rootID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&PaymentIntent{}).
		Where("root_payment_intent_id = ?", rootID).
		Count(&count).Error
	return count, err
}

func (r *repository) FindByProviderRef(ctx context.Context, p provider.Provider, providerRef string) (*PaymentIntent, error) {
	var pi PaymentIntent
	err := r.db.WithContext(ctx).
		Where("provider = ? AND provider_ref = ?", p, providerRef).
		First(&pi).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrIntentNotFound
		}
		return nil, err
	}
	return &pi, nil
}

func (r *repository) CreateDecision(ctx context.Context, decision *RoutingDecision) error {
	return r.db.WithContext(ctx).Create(decision).Error
}

func (r *repository) SearchDecisions(ctx context.Context, filter DecisionFilter) ([]*RoutingDecision, error) {
	q := r.db.WithContext(ctx).Model(&RoutingDecision{})
	if filter.MerchantID != nil {
		q = q.Where("merchant_id = ?", *filter.MerchantID)
	}
	if filter.From != nil {
		q = q.Where("created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		q = q.Where("created_at <= ?", *filter.To)
	}
	if filter.Provider != nil {
		q = q.Where("chosen_provider = ?", *filter.Provider)
	}
	var decisions []*RoutingDecision
	if err := q.Order("created_at DESC").Find(&decisions).Error; err != nil {
		return nil, err
	}
	return decisions, nil
}

func (r *repository) FindIdempotency(ctx context.Context, merchantID uuid.UUID, endpoint, key string) (*IdempotencyRecord, error) {
	var rec IdempotencyRecord
	err := r.db.WithContext(ctx).
		Where("merchant_id = ? AND endpoint = ? AND idempotency_key = ?", merchantID, endpoint, key).
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// SaveIdempotency inserts the record, tolerating a concurrent duplicate.
// The unique index on (merchant, endpoint, key) keeps the first writer.
func (r *repository) SaveIdempotency(ctx context.Context, rec *IdempotencyRecord) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(rec).Error
}
