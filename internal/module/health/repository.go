package health

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/routepay/server/internal/module/provider"
)

// Repository defines data access for health snapshots and the event log.
type Repository interface {
	FindSnapshot(ctx context.Context, p provider.Provider) (*Snapshot, error)
	SaveSnapshot(ctx context.Context, snap *Snapshot) error

	AppendEvent(ctx context.Context, event *PaymentEvent) error
	// RecentByTypes returns events of the given types since `from`,
	// newest first.
	RecentByTypes(ctx context.Context, p provider.Provider, types []string, from time.Time) ([]*PaymentEvent, error)
	CountByTypeSince(ctx context.Context, p provider.Provider, eventType string, from time.Time) (int64, error)
	ListByIntent(ctx context.Context, intentID string) ([]*PaymentEvent, error)
}

// ErrSnapshotNotFound is returned when no snapshot row exists yet.
var ErrSnapshotNotFound = errors.New("health snapshot not found")

type repository struct {
	db *gorm.DB
}

// NewRepository creates a gorm-backed health repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) FindSnapshot(ctx context.Context, p provider.Provider) (*Snapshot, error) {
	var snap Snapshot
	err := r.db.WithContext(ctx).Where("provider = ?", p).First(&snap).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSnapshotNotFound
		}
		return nil, err
	}
	return &snap, nil
}

func (r *repository) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	return r.db.WithContext(ctx).Save(snap).Error
}

func (r *repository) AppendEvent(ctx context.Context, event *PaymentEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *repository) RecentByTypes(ctx context.Context, p provider.Provider, types []string, from time.Time) ([]*PaymentEvent, error) {
	var events []*PaymentEvent
	err := r.db.WithContext(ctx).
		Where("provider = ? AND event_type IN ? AND created_at >= ?", p, types, from).
		Order("created_at DESC").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repository) CountByTypeSince(ctx context.Context, p provider.Provider, eventType string, from time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&PaymentEvent{}).
		Where("provider = ? AND event_type = ? AND created_at >= ?", p, eventType, from).
		Count(&count).Error
	return count, err
}

func (r *repository) ListByIntent(ctx context.Context, intentID string) ([]*PaymentEvent, error) {
	var events []*PaymentEvent
	err := r.db.WithContext(ctx).
		Where("payment_intent_id = ?", intentID).
		Order("created_at ASC").
		Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}
