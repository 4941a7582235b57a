package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fixora-backend/pkg/enums"
)

// LedgerEvent records an immutable balance movement for a technician.
type LedgerEvent struct {
	ID              uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	TechnicianID    uuid.UUID             `gorm:"column:technician_id;type:uuid;not null"`
	Type            enums.LedgerEventType `gorm:"column:type;type:ledger_event_type;not null"`
	AmountCents     int64                 `gorm:"column:amount_cents;not null"`
	PaymentOrderID  *uuid.UUID            `gorm:"column:payment_order_id;type:uuid"`
	PayoutRequestID *uuid.UUID            `gorm:"column:payout_request_id;type:uuid"`
	Metadata        json.RawMessage       `gorm:"column:metadata;type:jsonb"`
	CreatedAt       time.Time             `gorm:"column:created_at;autoCreateTime"`
}
