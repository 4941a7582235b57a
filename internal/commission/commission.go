// Package commission splits a service amount between the platform and the
// technician. All values are minor currency units.
package commission

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/fixora-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/fixora-backend/pkg/errors"
)

const basisPointsDenominator = 10000

var bpsDenominator = decimal.NewFromInt(basisPointsDenominator)

// Policy is the platform's rate-based cut with a hard ceiling.
type Policy struct {
	RateBps  int64
	CapCents int64
}

// Split is the commission breakdown persisted on a payment order.
type Split struct {
	AmountCents             int64
	CommissionCents         int64
	TechnicianEarningsCents int64
}

// Bounds restricts the amounts an order may be authorized for.
type Bounds struct {
	MinCents int64
	MaxCents int64
}

func PolicyFromConfig(cfg config.EscrowConfig) Policy {
	return Policy{RateBps: cfg.CommissionRateBps, CapCents: cfg.CommissionCapCents}
}

func BoundsFromConfig(cfg config.EscrowConfig) Bounds {
	return Bounds{MinCents: cfg.MinAmountCents, MaxCents: cfg.MaxAmountCents}
}

// Commission returns min(round(amount × rate), cap), rounding half away from
// zero to a whole minor unit.
func (p Policy) Commission(amountCents int64) int64 {
	if amountCents <= 0 || p.RateBps <= 0 {
		return 0
	}
	raw := decimal.NewFromInt(amountCents).
		Mul(decimal.NewFromInt(p.RateBps)).
		Div(bpsDenominator).
		Round(0).
		IntPart()
	if p.CapCents > 0 && raw > p.CapCents {
		return p.CapCents
	}
	return raw
}

func (p Policy) TechnicianEarnings(amountCents int64) int64 {
	return amountCents - p.Commission(amountCents)
}

func (p Policy) Split(amountCents int64) Split {
	commission := p.Commission(amountCents)
	return Split{
		AmountCents:             amountCents,
		CommissionCents:         commission,
		TechnicianEarningsCents: amountCents - commission,
	}
}

// Validate rejects amounts outside [MinCents, MaxCents].
func (b Bounds) Validate(amountCents int64) error {
	if amountCents < b.MinCents || amountCents > b.MaxCents {
		return pkgerrors.New(pkgerrors.CodeInvalidAmount, fmt.Sprintf("amount must be between %d and %d", b.MinCents, b.MaxCents)).
			WithDetails(map[string]any{
				"amount_cents": amountCents,
				"min_cents":    b.MinCents,
				"max_cents":    b.MaxCents,
			})
	}
	return nil
}
