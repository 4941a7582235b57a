package payloads

import (
	"time"

	"github.com/angelmondragon/fixora-backend/pkg/enums"
	"github.com/google/uuid"
)

// PaymentAuthorizedEvent is emitted once the authorize-only order is stored.
type PaymentAuthorizedEvent struct {
	PaymentOrderID          uuid.UUID `json:"payment_order_id"`
	GatewayOrderID          string    `json:"gateway_order_id"`
	CustomerID              uuid.UUID `json:"customer_id"`
	TechnicianID            uuid.UUID `json:"technician_id"`
	AmountCents             int64     `json:"amount_cents"`
	CommissionCents         int64     `json:"commission_cents"`
	TechnicianEarningsCents int64     `json:"technician_earnings_cents"`
}

// PaymentCapturedEvent announces the booking created for a captured payment.
type PaymentCapturedEvent struct {
	PaymentOrderID   uuid.UUID `json:"payment_order_id"`
	BookingID        uuid.UUID `json:"booking_id"`
	GatewayPaymentID string    `json:"gateway_payment_id"`
	CustomerID       uuid.UUID `json:"customer_id"`
	TechnicianID     uuid.UUID `json:"technician_id"`
	AmountCents      int64     `json:"amount_cents"`
	ScheduledAt      time.Time `json:"scheduled_at"`
}

// PaymentFailedEvent covers rejected captures, gateway cancellations and
// authorization expiry.
type PaymentFailedEvent struct {
	PaymentOrderID uuid.UUID `json:"payment_order_id"`
	CustomerID     uuid.UUID `json:"customer_id"`
	Reason         string    `json:"reason"`
}

// PaymentReleasedEvent reports escrow released into a technician ledger.
type PaymentReleasedEvent struct {
	PaymentOrderID          uuid.UUID `json:"payment_order_id"`
	BookingID               uuid.UUID `json:"booking_id"`
	CompletionID            uuid.UUID `json:"completion_id"`
	TechnicianID            uuid.UUID `json:"technician_id"`
	TechnicianEarningsCents int64     `json:"technician_earnings_cents"`
}

// CompletionCodeIssuedEvent lets the notification service deliver the code
// reference to the customer. The code itself never leaves the engine.
type CompletionCodeIssuedEvent struct {
	CompletionID uuid.UUID `json:"completion_id"`
	BookingID    uuid.UUID `json:"booking_id"`
	CustomerID   uuid.UUID `json:"customer_id"`
	TechnicianID uuid.UUID `json:"technician_id"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// RefundProcessedEvent carries the three-way refund split.
type RefundProcessedEvent struct {
	RefundID                    uuid.UUID        `json:"refund_id"`
	PaymentOrderID              uuid.UUID        `json:"payment_order_id"`
	BookingID                   uuid.UUID        `json:"booking_id"`
	Type                        enums.RefundType `json:"type"`
	CustomerRefundCents         int64            `json:"customer_refund_cents"`
	TechnicianCompensationCents int64            `json:"technician_compensation_cents"`
	PlatformFeeCents            int64            `json:"platform_fee_cents"`
}

// PayoutStatusEvent is shared by payout_completed and payout_failed.
type PayoutStatusEvent struct {
	PayoutID        uuid.UUID          `json:"payout_id"`
	TechnicianID    uuid.UUID          `json:"technician_id"`
	AmountCents     int64              `json:"amount_cents"`
	Method          enums.PayoutMethod `json:"method"`
	Status          enums.PayoutStatus `json:"status"`
	GatewayPayoutID string             `json:"gateway_payout_id,omitempty"`
	Reason          string             `json:"reason,omitempty"`
}

// CompletionRequestedEvent is consumed from the booking workflow when a
// customer marks work complete.
type CompletionRequestedEvent struct {
	BookingID  uuid.UUID `json:"booking_id"`
	CustomerID uuid.UUID `json:"customer_id"`
}
