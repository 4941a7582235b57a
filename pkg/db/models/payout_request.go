package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fixora-backend/pkg/enums"
)

// PayoutRequest moves ledger balance to an external account. The request id
// doubles as the gateway idempotency key.
type PayoutRequest struct {
	ID              uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	TechnicianID    uuid.UUID          `gorm:"column:technician_id;type:uuid;not null"`
	AmountCents     int64              `gorm:"column:amount_cents;not null"`
	Method          enums.PayoutMethod `gorm:"column:method;type:payout_method;not null"`
	Destination     string             `gorm:"column:destination;not null"`
	Status          enums.PayoutStatus `gorm:"column:status;type:payout_status;not null;default:'pending'"`
	IdempotencyKey  string             `gorm:"column:idempotency_key;not null"`
	GatewayPayoutID *string            `gorm:"column:gateway_payout_id"`
	FailureReason   *string            `gorm:"column:failure_reason"`
	Attempts        int                `gorm:"column:attempts;not null;default:0"`
	CompletedAt     *time.Time         `gorm:"column:completed_at"`
	FailedAt        *time.Time         `gorm:"column:failed_at"`
	CreatedAt       time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}
