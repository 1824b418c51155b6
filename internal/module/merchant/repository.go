package merchant

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository defines the interface for merchant data access.
type Repository interface {
	Create(ctx context.Context, m *Merchant) error
	GetByID(ctx context.Context, id uuid.UUID) (*Merchant, error)
	GetByEmail(ctx context.Context, email string) (*Merchant, error)
	GetByAPIKeyHash(ctx context.Context, hash string) (*Merchant, error)
	Update(ctx context.Context, m *Merchant) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new merchant repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, m *Merchant) error {
	return r.db.WithContext(ctx).Create(m).Error
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*Merchant, error) {
	var m Merchant
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMerchantNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (r *repository) GetByEmail(ctx context.Context, email string) (*Merchant, error) {
	var m Merchant
	err := r.db.WithContext(ctx).Where("email = ?", email).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMerchantNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (r *repository) GetByAPIKeyHash(ctx context.Context, hash string) (*Merchant, error) {
	var m Merchant
	err := r.db.WithContext(ctx).Where("api_key_hash = ?", hash).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMerchantNotFound
		}
		return nil, err
	}
	return &m, nil
}

func (r *repository) Update(ctx context.Context, m *Merchant) error {
	return r.db.WithContext(ctx).Save(m).Error
}
