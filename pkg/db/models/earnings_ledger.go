package models

import (
	"time"

	"github.com/google/uuid"
)

// EarningsLedger is the per-technician running balance. ReservedPayoutCents
// is the part of PendingPayoutCents held by in-flight payouts.
type EarningsLedger struct {
	TechnicianID        uuid.UUID `gorm:"column:technician_id;type:uuid;primaryKey"`
	TotalEarningsCents  int64     `gorm:"column:total_earnings_cents;not null;default:0"`
	PendingPayoutCents  int64     `gorm:"column:pending_payout_cents;not null;default:0"`
	ReservedPayoutCents int64     `gorm:"column:reserved_payout_cents;not null;default:0"`
	Version             int64     `gorm:"column:version;not null;default:0"`
	CreatedAt           time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// AvailableCents is the balance a new payout may draw on.
func (l EarningsLedger) AvailableCents() int64 {
	return l.PendingPayoutCents - l.ReservedPayoutCents
}
