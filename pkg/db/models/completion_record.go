package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fixora-backend/pkg/enums"
)

// CompletionRecord gates escrow release behind a one-time code. Only the
// argon2id hash of the code is stored. A pending record has no code yet.
type CompletionRecord struct {
	ID                uuid.UUID              `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	BookingID         uuid.UUID              `gorm:"column:booking_id;type:uuid;not null"`
	PaymentOrderID    uuid.UUID              `gorm:"column:payment_order_id;type:uuid;not null"`
	CustomerID        uuid.UUID              `gorm:"column:customer_id;type:uuid;not null"`
	TechnicianID      uuid.UUID              `gorm:"column:technician_id;type:uuid;not null"`
	CodeHash          string                 `gorm:"column:code_hash;not null;default:''"`
	ExpiresAt         *time.Time             `gorm:"column:expires_at"`
	AttemptsRemaining int                    `gorm:"column:attempts_remaining;not null"`
	Status            enums.CompletionStatus `gorm:"column:status;type:completion_status;not null;default:'pending'"`
	VerifiedAt        *time.Time             `gorm:"column:verified_at"`
	ReleasedAt        *time.Time             `gorm:"column:released_at"`
	CreatedAt         time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}
