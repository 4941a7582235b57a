package completion

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fixora-backend/pkg/db/models"
	"github.com/angelmondragon/fixora-backend/pkg/enums"
)

var activeStatuses = []enums.CompletionStatus{
	enums.CompletionStatusPending,
	enums.CompletionStatusOTPIssued,
	enums.CompletionStatusOTPVerified,
	enums.CompletionStatusReleased,
}

// Repository persists completion records. All status writes are guarded by
// the current status in the WHERE clause.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, record *models.CompletionRecord) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.CompletionRecord, error)
	FindActiveByBooking(ctx context.Context, bookingID uuid.UUID) (*models.CompletionRecord, error)
	Transition(ctx context.Context, id uuid.UUID, from, to enums.CompletionStatus, updates map[string]any) (bool, error)
	RecordFailedAttempt(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	ExpireIssuedBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
	ExpireActiveForBooking(ctx context.Context, bookingID uuid.UUID, at time.Time) (int64, error)
	HasPendingRefund(ctx context.Context, paymentOrderID uuid.UUID) (bool, error)
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

func (r *repository) Create(ctx context.Context, record *models.CompletionRecord) error {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(record).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.CompletionRecord, error) {
	var record models.CompletionRecord
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *repository) FindActiveByBooking(ctx context.Context, bookingID uuid.UUID) (*models.CompletionRecord, error) {
	var record models.CompletionRecord
	if err := r.db.WithContext(ctx).
		Where("booking_id = ? AND status IN ?", bookingID, activeStatuses).
		Order("created_at DESC").
		First(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

func (r *repository) Transition(ctx context.Context, id uuid.UUID, from, to enums.CompletionStatus, updates map[string]any) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, fmt.Errorf("invalid completion transition %s -> %s", from, to)
	}
	values := map[string]any{"status": to}
	for k, v := range updates {
		values[k] = v
	}
	res := r.db.WithContext(ctx).
		Model(&models.CompletionRecord{}).
		Where("id = ? AND status = ?", id, from).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// RecordFailedAttempt burns one attempt. The last attempt moves the record
// to expired in the same statement, so concurrent wrong guesses can never
// exceed the budget.
func (r *repository) RecordFailedAttempt(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.CompletionRecord{}).
		Where("id = ? AND status = ? AND attempts_remaining > 0", id, enums.CompletionStatusOTPIssued).
		Updates(map[string]any{
			"attempts_remaining": gorm.Expr("attempts_remaining - 1"),
			"status": gorm.Expr("CASE WHEN attempts_remaining <= 1 THEN ? ELSE status END",
				enums.CompletionStatusExpired),
			"updated_at": at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// ExpireIssuedBefore expires codes whose validity ended before cutoff.
func (r *repository) ExpireIssuedBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	if limit <= 0 {
		limit = 500
	}
	ids := r.db.Model(&models.CompletionRecord{}).
		Select("id").
		Where("status = ? AND expires_at < ?", enums.CompletionStatusOTPIssued, cutoff).
		Limit(limit)
	res := r.db.WithContext(ctx).
		Model(&models.CompletionRecord{}).
		Where("id IN (?) AND status = ?", ids, enums.CompletionStatusOTPIssued).
		Updates(map[string]any{
			"status":     enums.CompletionStatusExpired,
			"updated_at": cutoff,
		})
	return res.RowsAffected, res.Error
}

// ExpireActiveForBooking voids pending and issued codes, used when the
// booking is canceled.
func (r *repository) ExpireActiveForBooking(ctx context.Context, bookingID uuid.UUID, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.CompletionRecord{}).
		Where("booking_id = ? AND status IN ?", bookingID, []enums.CompletionStatus{
			enums.CompletionStatusPending,
			enums.CompletionStatusOTPIssued,
		}).
		Updates(map[string]any{
			"status":     enums.CompletionStatusExpired,
			"updated_at": at,
		})
	return res.RowsAffected, res.Error
}

// HasPendingRefund reports a cancellation refund for the order that has not
// reached its gateway outcome yet.
func (r *repository) HasPendingRefund(ctx context.Context, paymentOrderID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.RefundRecord{}).
		Where("payment_order_id = ? AND status = ?", paymentOrderID, enums.RefundStatusPending).
		Count(&count).Error
	return count > 0, err
}
