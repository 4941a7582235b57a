package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fixora-backend/pkg/enums"
)

// RefundRecord stores the three-way split of a canceled booking. The parts
// always sum to AmountCents.
type RefundRecord struct {
	ID                          uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	PaymentOrderID              uuid.UUID          `gorm:"column:payment_order_id;type:uuid;not null;uniqueIndex"`
	BookingID                   uuid.UUID          `gorm:"column:booking_id;type:uuid;not null"`
	AmountCents                 int64              `gorm:"column:amount_cents;not null"`
	CustomerRefundCents         int64              `gorm:"column:customer_refund_cents;not null"`
	TechnicianCompensationCents int64              `gorm:"column:technician_compensation_cents;not null"`
	PlatformFeeCents            int64              `gorm:"column:platform_fee_cents;not null"`
	Type                        enums.RefundType   `gorm:"column:type;type:refund_type;not null"`
	Status                      enums.RefundStatus `gorm:"column:status;type:refund_status;not null;default:'pending'"`
	Reason                      *string            `gorm:"column:reason"`
	GatewayRefundID             *string            `gorm:"column:gateway_refund_id"`
	FailureReason               *string            `gorm:"column:failure_reason"`
	ProcessedAt                 *time.Time         `gorm:"column:processed_at"`
	CreatedAt                   time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt                   time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}
