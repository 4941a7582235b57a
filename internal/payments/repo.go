package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fixora-backend/pkg/db/models"
	"github.com/angelmondragon/fixora-backend/pkg/enums"
)

// Repository persists payment orders. Status changes are compare-and-swap
// updates that report whether this caller performed the transition.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.PaymentOrder) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.PaymentOrder, error)
	FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.PaymentOrder, error)
	Transition(ctx context.Context, id uuid.UUID, from, to enums.PaymentOrderStatus, updates map[string]any) (bool, error)
	TransitionClaimed(ctx context.Context, id uuid.UUID, from, to enums.PaymentOrderStatus, claim string, updates map[string]any) (bool, error)
	ClaimCapture(ctx context.Context, id uuid.UUID, paymentID string, at time.Time) (bool, error)
	LockHeld(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]models.PaymentOrder, error)
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

func (r *repository) Create(ctx context.Context, order *models.PaymentOrder) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.PaymentOrder, error) {
	var order models.PaymentOrder
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (*models.PaymentOrder, error) {
	var order models.PaymentOrder
	if err := r.db.WithContext(ctx).Where("gateway_order_id = ?", gatewayOrderID).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// Transition applies updates and the new status only while the order is
// still in from. Illegal transitions are refused before touching the row.
func (r *repository) Transition(ctx context.Context, id uuid.UUID, from, to enums.PaymentOrderStatus, updates map[string]any) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, fmt.Errorf("invalid payment order transition %s -> %s", from, to)
	}
	values := map[string]any{"status": to}
	for k, v := range updates {
		values[k] = v
	}
	res := r.db.WithContext(ctx).
		Model(&models.PaymentOrder{}).
		Where("id = ? AND status = ?", id, from).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// TransitionClaimed is Transition restricted to the capture claim: claim is
// the gateway payment id holding the order, and an empty claim matches only
// unclaimed orders.
func (r *repository) TransitionClaimed(ctx context.Context, id uuid.UUID, from, to enums.PaymentOrderStatus, claim string, updates map[string]any) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, fmt.Errorf("invalid payment order transition %s -> %s", from, to)
	}
	values := map[string]any{"status": to}
	for k, v := range updates {
		values[k] = v
	}
	q := r.db.WithContext(ctx).
		Model(&models.PaymentOrder{}).
		Where("id = ? AND status = ?", id, from)
	if claim == "" {
		q = q.Where("gateway_payment_id IS NULL")
	} else {
		q = q.Where("gateway_payment_id = ?", claim)
	}
	res := q.Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ClaimCapture binds a pending order to paymentID before the gateway capture
// runs. A repeat claim by the same payment id refreshes capture_started_at.
func (r *repository) ClaimCapture(ctx context.Context, id uuid.UUID, paymentID string, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.PaymentOrder{}).
		Where("id = ? AND status = ?", id, enums.PaymentOrderStatusPending).
		Where("(gateway_payment_id IS NULL OR gateway_payment_id = ?)", paymentID).
		Updates(map[string]any{
			"gateway_payment_id": paymentID,
			"capture_started_at": at,
			"updated_at":         at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// LockHeld writes the row of a captured order so that concurrent status
// changes on it queue behind the caller's transaction. It reports false when
// the order is no longer captured.
func (r *repository) LockHeld(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.PaymentOrder{}).
		Where("id = ? AND status = ?", id, enums.PaymentOrderStatusCaptured).
		Update("updated_at", at)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]models.PaymentOrder, error) {
	if limit <= 0 {
		limit = 100
	}
	var orders []models.PaymentOrder
	if err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", enums.PaymentOrderStatusPending, createdBefore).
		Order("created_at ASC").
		Limit(limit).
		Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}
