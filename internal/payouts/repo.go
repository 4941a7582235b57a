package payouts

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fixora-backend/pkg/db/models"
	"github.com/angelmondragon/fixora-backend/pkg/enums"
)

// Repository persists payout requests.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, request *models.PayoutRequest) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.PayoutRequest, error)
	FindByIdempotencyKey(ctx context.Context, technicianID uuid.UUID, key string) (*models.PayoutRequest, error)
	Transition(ctx context.Context, id uuid.UUID, from, to enums.PayoutStatus, updates map[string]any) (bool, error)
	IncrementAttempts(ctx context.Context, id uuid.UUID, at time.Time) error
	ListProcessing(ctx context.Context, updatedBefore time.Time, limit int) ([]models.PayoutRequest, error)
	ListByTechnician(ctx context.Context, technicianID uuid.UUID, limit int) ([]models.PayoutRequest, error)
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

func (r *repository) Create(ctx context.Context, request *models.PayoutRequest) error {
	if request.ID == uuid.Nil {
		request.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(request).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.PayoutRequest, error) {
	var request models.PayoutRequest
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&request).Error; err != nil {
		return nil, err
	}
	return &request, nil
}

func (r *repository) FindByIdempotencyKey(ctx context.Context, technicianID uuid.UUID, key string) (*models.PayoutRequest, error) {
	var request models.PayoutRequest
	if err := r.db.WithContext(ctx).
		Where("technician_id = ? AND idempotency_key = ?", technicianID, key).
		First(&request).Error; err != nil {
		return nil, err
	}
	return &request, nil
}

func (r *repository) Transition(ctx context.Context, id uuid.UUID, from, to enums.PayoutStatus, updates map[string]any) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, fmt.Errorf("invalid payout transition %s -> %s", from, to)
	}
	values := map[string]any{"status": to}
	for k, v := range updates {
		values[k] = v
	}
	res := r.db.WithContext(ctx).
		Model(&models.PayoutRequest{}).
		Where("id = ? AND status = ?", id, from).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) IncrementAttempts(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.PayoutRequest{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"attempts":   gorm.Expr("attempts + 1"),
			"updated_at": at,
		}).Error
}

// ListProcessing returns in-flight payouts untouched since updatedBefore,
// oldest first.
func (r *repository) ListProcessing(ctx context.Context, updatedBefore time.Time, limit int) ([]models.PayoutRequest, error) {
	if limit <= 0 {
		limit = 100
	}
	var requests []models.PayoutRequest
	if err := r.db.WithContext(ctx).
		Where("status = ? AND gateway_payout_id IS NULL AND updated_at < ?", enums.PayoutStatusProcessing, updatedBefore).
		Order("created_at ASC").
		Limit(limit).
		Find(&requests).Error; err != nil {
		return nil, err
	}
	return requests, nil
}

func (r *repository) ListByTechnician(ctx context.Context, technicianID uuid.UUID, limit int) ([]models.PayoutRequest, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var requests []models.PayoutRequest
	if err := r.db.WithContext(ctx).
		Where("technician_id = ?", technicianID).
		Order("created_at DESC").
		Limit(limit).
		Find(&requests).Error; err != nil {
		return nil, err
	}
	return requests, nil
}
