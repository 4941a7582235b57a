package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fixora-backend/pkg/enums"
)

// Booking exists only for a captured payment order.
type Booking struct {
	ID             uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	PaymentOrderID uuid.UUID           `gorm:"column:payment_order_id;type:uuid;not null;uniqueIndex"`
	CustomerID     uuid.UUID           `gorm:"column:customer_id;type:uuid;not null"`
	TechnicianID   uuid.UUID           `gorm:"column:technician_id;type:uuid;not null"`
	Status         enums.BookingStatus `gorm:"column:status;type:booking_status;not null;default:'confirmed'"`
	ScheduledAt    time.Time           `gorm:"column:scheduled_at;not null"`
	Address        string              `gorm:"column:address;not null"`
	Description    *string             `gorm:"column:description"`
	AmountCents    int64               `gorm:"column:amount_cents;not null"`
	CanceledAt     *time.Time          `gorm:"column:canceled_at"`
	CreatedAt      time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
