package earnings

import (
	"fmt"

	"github.com/angelmondragon/fixora-backend/pkg/db/models"
	"github.com/angelmondragon/fixora-backend/pkg/enums"
)

// Balance is a ledger reduced from its event history.
type Balance struct {
	TotalEarningsCents  int64
	PendingPayoutCents  int64
	ReservedPayoutCents int64
}

func (b Balance) AvailableCents() int64 {
	return b.PendingPayoutCents - b.ReservedPayoutCents
}

// Replay folds ledger events into balances. It fails on an unknown event
// type or when any balance would go negative along the way.
func Replay(events []models.LedgerEvent) (Balance, error) {
	var b Balance
	for _, event := range events {
		switch event.Type {
		case enums.LedgerEventTypeCredit:
			b.TotalEarningsCents += event.AmountCents
			b.PendingPayoutCents += event.AmountCents
		case enums.LedgerEventTypePayoutReserved:
			b.ReservedPayoutCents += event.AmountCents
		case enums.LedgerEventTypePayoutReleased:
			b.ReservedPayoutCents -= event.AmountCents
		case enums.LedgerEventTypePayoutDebit:
			b.TotalEarningsCents -= event.AmountCents
			b.PendingPayoutCents -= event.AmountCents
			b.ReservedPayoutCents -= event.AmountCents
		default:
			return Balance{}, fmt.Errorf("unknown ledger event type %q", event.Type)
		}
		if b.TotalEarningsCents < 0 || b.PendingPayoutCents < 0 || b.ReservedPayoutCents < 0 {
			return Balance{}, fmt.Errorf("ledger went negative at event %s", event.ID)
		}
	}
	return b, nil
}

// Matches reports whether the stored ledger equals the replayed balance.
func (b Balance) Matches(ledger *models.EarningsLedger) bool {
	if ledger == nil {
		return b == Balance{}
	}
	return ledger.TotalEarningsCents == b.TotalEarningsCents &&
		ledger.PendingPayoutCents == b.PendingPayoutCents &&
		ledger.ReservedPayoutCents == b.ReservedPayoutCents
}
