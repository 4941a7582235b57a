// Package bookings persists the bookings created by a successful capture.
package bookings

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fixora-backend/pkg/db/models"
	"github.com/angelmondragon/fixora-backend/pkg/enums"
)

type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, booking *models.Booking) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	FindByPaymentOrderID(ctx context.Context, paymentOrderID uuid.UUID) (*models.Booking, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to enums.BookingStatus, at time.Time) (bool, error)
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

func (r *repository) Create(ctx context.Context, booking *models.Booking) error {
	if booking.ID == uuid.Nil {
		booking.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(booking).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	var booking models.Booking
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&booking).Error; err != nil {
		return nil, err
	}
	return &booking, nil
}

func (r *repository) FindByPaymentOrderID(ctx context.Context, paymentOrderID uuid.UUID) (*models.Booking, error) {
	var booking models.Booking
	if err := r.db.WithContext(ctx).Where("payment_order_id = ?", paymentOrderID).First(&booking).Error; err != nil {
		return nil, err
	}
	return &booking, nil
}

// UpdateStatus moves the booking from -> to and reports whether it won.
func (r *repository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to enums.BookingStatus, at time.Time) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, errors.New("invalid booking status transition " + string(from) + " -> " + string(to))
	}
	updates := map[string]any{
		"status":     to,
		"updated_at": at,
	}
	if to == enums.BookingStatusCanceled {
		updates["canceled_at"] = at
	}
	res := r.db.WithContext(ctx).
		Model(&models.Booking{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
