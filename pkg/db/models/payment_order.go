package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fixora-backend/pkg/enums"
)

// TempBookingPrefix marks the placeholder booking reference an order carries
// until capture creates the real booking.
const TempBookingPrefix = "tmp_"

// PaymentOrder is an authorize-only gateway order and its settlement state.
type PaymentOrder struct {
	ID                      uuid.UUID                `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	GatewayOrderID          string                   `gorm:"column:gateway_order_id;not null;uniqueIndex"`
	GatewayPaymentID        *string                  `gorm:"column:gateway_payment_id"`
	CustomerID              uuid.UUID                `gorm:"column:customer_id;type:uuid;not null"`
	TechnicianID            uuid.UUID                `gorm:"column:technician_id;type:uuid;not null"`
	AmountCents             int64                    `gorm:"column:amount_cents;not null"`
	CommissionCents         int64                    `gorm:"column:commission_cents;not null"`
	TechnicianEarningsCents int64                    `gorm:"column:technician_earnings_cents;not null"`
	Currency                enums.Currency           `gorm:"column:currency;not null;default:'inr'"`
	Status                  enums.PaymentOrderStatus `gorm:"column:status;type:payment_order_status;not null;default:'pending'"`
	BookingRef              string                   `gorm:"column:booking_ref;not null"`
	BookingID               *uuid.UUID               `gorm:"column:booking_id;type:uuid"`
	ContactEmail            *string                  `gorm:"column:contact_email"`
	ContactPhone            *string                  `gorm:"column:contact_phone"`
	FailureReason           *string                  `gorm:"column:failure_reason"`
	CaptureStartedAt        *time.Time               `gorm:"column:capture_started_at"`
	CapturedAt              *time.Time               `gorm:"column:captured_at"`
	ReleasedAt              *time.Time               `gorm:"column:released_at"`
	RefundedAt              *time.Time               `gorm:"column:refunded_at"`
	FailedAt                *time.Time               `gorm:"column:failed_at"`
	CreatedAt               time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt               time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

func (PaymentOrder) TableName() string { return "payment_orders" }
