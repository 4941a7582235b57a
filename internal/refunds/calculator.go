package refunds

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/fixora-backend/pkg/config"
	"github.com/angelmondragon/fixora-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fixora-backend/pkg/errors"
)

// ReasonTooCloseToService is returned when neither refund window applies.
const ReasonTooCloseToService = "too close to service start"

// Policy holds the cancellation windows and fee.
type Policy struct {
	FullRefundWindow    time.Duration
	PartialRefundCutoff time.Duration
	CancellationFeeBps  int64
}

func PolicyFromConfig(cfg config.EscrowConfig) Policy {
	return Policy{
		FullRefundWindow:    cfg.FullRefundWindow,
		PartialRefundCutoff: cfg.PartialRefundCutoff,
		CancellationFeeBps:  cfg.CancellationFeeBps,
	}
}

// Breakdown is the three-way split of a refunded amount. The parts always
// sum to AmountCents.
type Breakdown struct {
	AmountCents                 int64            `json:"amount_cents"`
	CustomerRefundCents         int64            `json:"customer_refund_cents"`
	TechnicianCompensationCents int64            `json:"technician_compensation_cents"`
	PlatformFeeCents            int64            `json:"platform_fee_cents"`
	Type                        enums.RefundType `json:"type"`
}

// Calculator evaluates the refund windows in order: full, partial, rejected.
type Calculator struct {
	policy Policy
}

func NewCalculator(policy Policy) Calculator {
	return Calculator{policy: policy}
}

// Compute splits amount for a cancellation at canceledAt. The customer
// share is floored to a minor unit, the technician receives floor(fee/2)
// and the platform keeps what remains.
func (c Calculator) Compute(amountCents int64, bookedAt, serviceAt, canceledAt time.Time) (Breakdown, error) {
	if amountCents <= 0 {
		return Breakdown{}, pkgerrors.New(pkgerrors.CodeInvalidAmount, "refund amount must be positive")
	}

	if canceledAt.Sub(bookedAt) <= c.policy.FullRefundWindow {
		return Breakdown{
			AmountCents:         amountCents,
			CustomerRefundCents: amountCents,
			Type:                enums.RefundTypeFull,
		}, nil
	}

	if serviceAt.Sub(canceledAt) >= c.policy.PartialRefundCutoff {
		keepBps := decimal.NewFromInt(10000 - c.policy.CancellationFeeBps)
		customer := decimal.NewFromInt(amountCents).
			Mul(keepBps).
			Div(decimal.NewFromInt(10000)).
			Floor().
			IntPart()
		fee := amountCents - customer
		technician := fee / 2
		return Breakdown{
			AmountCents:                 amountCents,
			CustomerRefundCents:         customer,
			TechnicianCompensationCents: technician,
			PlatformFeeCents:            fee - technician,
			Type:                        enums.RefundTypePartial,
		}, nil
	}

	return Breakdown{}, pkgerrors.New(pkgerrors.CodeRefundWindowClosed, ReasonTooCloseToService).
		WithDetails(map[string]any{
			"service_at":  serviceAt.UTC(),
			"canceled_at": canceledAt.UTC(),
		})
}
