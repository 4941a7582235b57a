package refunds

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fixora-backend/pkg/db/models"
	"github.com/angelmondragon/fixora-backend/pkg/enums"
)

// Repository persists refund records. There is at most one per payment order.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, record *models.RefundRecord) error
	FindByPaymentOrderID(ctx context.Context, paymentOrderID uuid.UUID) (*models.RefundRecord, error)
	Transition(ctx context.Context, id uuid.UUID, from, to enums.RefundStatus, updates map[string]any) (bool, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, record *models.RefundRecord) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *repository) FindByPaymentOrderID(ctx context.Context, paymentOrderID uuid.UUID) (*models.RefundRecord, error) {
	var record models.RefundRecord
	if err := r.db.WithContext(ctx).Where("payment_order_id = ?", paymentOrderID).First(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *repository) Transition(ctx context.Context, id uuid.UUID, from, to enums.RefundStatus, updates map[string]any) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, fmt.Errorf("invalid refund transition %s -> %s", from, to)
	}
	values := map[string]any{"status": to}
	for k, v := range updates {
		values[k] = v
	}
	res := r.db.WithContext(ctx).
		Model(&models.RefundRecord{}).
		Where("id = ? AND status = ?", id, from).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
