package payouts

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/fixora-backend/internal/earnings"
	"github.com/angelmondragon/fixora-backend/internal/testdb"
	"github.com/angelmondragon/fixora-backend/pkg/db"
	"github.com/angelmondragon/fixora-backend/pkg/db/models"
	"github.com/angelmondragon/fixora-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fixora-backend/pkg/errors"
	"github.com/angelmondragon/fixora-backend/pkg/gateway"
	"github.com/angelmondragon/fixora-backend/pkg/gateway/gatewaytest"
	"github.com/angelmondragon/fixora-backend/pkg/logger"
	"github.com/angelmondragon/fixora-backend/pkg/outbox"
)

type harness struct {
	svc      Service
	conn     *gorm.DB
	gw       *gatewaytest.Fake
	earnings earnings.Repository

	mu  sync.Mutex
	now time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	conn := testdb.Open(t)
	logg := logger.New(logger.Options{ServiceName: "payouts-test", Output: io.Discard})
	h := &harness{
		conn:     conn,
		gw:       &gatewaytest.Fake{},
		earnings: earnings.NewRepository(conn),
		now:      time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC),
	}
	svc, err := NewService(ServiceParams{
		Tx:             db.NewFromConn(conn),
		Requests:       NewRepository(conn),
		Earnings:       h.earnings,
		Gateway:        h.gw,
		Outbox:         outbox.NewService(outbox.NewRepository(conn), logg),
		ThresholdCents: 50000,
		Logger:         logg,
		Now:            h.tick,
	})
	require.NoError(t, err)
	h.svc = svc
	return h
}

// tick advances the clock so ledger events keep a strict order.
func (h *harness) tick() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.now = h.now.Add(time.Second)
	return h.now
}

func (h *harness) credit(t *testing.T, tech uuid.UUID, amount int64) {
	t.Helper()
	ctx := context.Background()
	at := h.tick()
	orderID := uuid.New()
	require.NoError(t, h.earnings.Credit(ctx, tech, amount, at))
	require.NoError(t, h.earnings.AppendEvent(ctx, &models.LedgerEvent{
		TechnicianID:   tech,
		Type:           enums.LedgerEventTypeCredit,
		AmountCents:    amount,
		PaymentOrderID: &orderID,
		CreatedAt:      at,
	}))
}

func (h *harness) assertLedger(t *testing.T, tech uuid.UUID, total, pending, reserved int64) {
	t.Helper()
	ctx := context.Background()
	ledger, err := h.earnings.Get(ctx, tech)
	require.NoError(t, err)
	assert.Equal(t, total, ledger.TotalEarningsCents, "total")
	assert.Equal(t, pending, ledger.PendingPayoutCents, "pending")
	assert.Equal(t, reserved, ledger.ReservedPayoutCents, "reserved")

	events, err := h.earnings.ListEvents(ctx, tech)
	require.NoError(t, err)
	balance, err := earnings.Replay(events)
	require.NoError(t, err)
	assert.True(t, balance.Matches(ledger), "replayed %+v stored %+v", balance, ledger)
}

func input(tech uuid.UUID, amount int64) PayoutInput {
	return PayoutInput{
		TechnicianID: tech,
		ActorID:      tech,
		AmountCents:  amount,
		Method:       enums.PayoutMethodUPI,
		Destination:  "tech@okaxis",
	}
}

func TestRequestPayout_Completes(t *testing.T) {
	h := newHarness(t)
	tech := uuid.New()
	h.credit(t, tech, 90000)

	res, err := h.svc.RequestPayout(context.Background(), input(tech, 60000))
	require.NoError(t, err)
	assert.Equal(t, enums.PayoutStatusCompleted, res.Status)
	assert.Equal(t, "pout_1", res.GatewayPayoutID)

	require.Len(t, h.gw.Payouts, 1)
	assert.Equal(t, res.PayoutID.String(), h.gw.Payouts[0].IdempotencyKey)
	assert.Equal(t, enums.CurrencyINR, h.gw.Payouts[0].Currency)
	h.assertLedger(t, tech, 30000, 30000, 0)

	stored, err := NewRepository(h.conn).FindByID(context.Background(), res.PayoutID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.Attempts)
	assert.NotNil(t, stored.CompletedAt)
}

func TestRequestPayout_Validation(t *testing.T) {
	h := newHarness(t)
	tech := uuid.New()
	h.credit(t, tech, 90000)
	ctx := context.Background()

	other := input(tech, 60000)
	other.ActorID = uuid.New()
	_, err := h.svc.RequestPayout(ctx, other)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeForbidden))

	_, err = h.svc.RequestPayout(ctx, input(tech, 49999))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientBalance))

	_, err = h.svc.RequestPayout(ctx, input(tech, 90001))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientBalance))

	bad := input(tech, 60000)
	bad.Method = "cheque"
	_, err = h.svc.RequestPayout(ctx, bad)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	assert.Zero(t, h.gw.PayoutCount())
	h.assertLedger(t, tech, 90000, 90000, 0)
}

func TestRequestPayout_RejectedLeavesLedgerUnchanged(t *testing.T) {
	h := newHarness(t)
	tech := uuid.New()
	h.credit(t, tech, 90000)
	h.gw.CreatePayoutFn = func(gateway.PayoutRequest) (gateway.PayoutResult, error) {
		return gateway.PayoutResult{}, &gateway.RejectedError{Op: "payout", Code: "account_closed", Reason: "destination account closed"}
	}

	_, err := h.svc.RequestPayout(context.Background(), input(tech, 60000))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeGatewayRejected))

	requests, err := h.svc.ListPayouts(context.Background(), tech, 10)
	require.NoError(t, err)
	require.Len(t, requests, 1)
	assert.Equal(t, enums.PayoutStatusFailed, requests[0].Status)
	require.NotNil(t, requests[0].FailureReason)
	assert.Equal(t, "destination account closed", *requests[0].FailureReason)

	h.assertLedger(t, tech, 90000, 90000, 0)
}

func TestRequestPayout_TransientThenReconciled(t *testing.T) {
	h := newHarness(t)
	tech := uuid.New()
	h.credit(t, tech, 120000)
	h.gw.CreatePayoutFn = func(gateway.PayoutRequest) (gateway.PayoutResult, error) {
		return gateway.PayoutResult{}, gateway.Unavailable("payout", nil)
	}
	ctx := context.Background()

	res, err := h.svc.RequestPayout(ctx, input(tech, 70000))
	require.NoError(t, err)
	assert.Equal(t, enums.PayoutStatusProcessing, res.Status)
	h.assertLedger(t, tech, 120000, 120000, 70000)

	// the held reservation blocks a second payout beyond what remains
	_, err = h.svc.RequestPayout(ctx, input(tech, 60000))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientBalance))

	h.gw.CreatePayoutFn = nil
	h.mu.Lock()
	h.now = h.now.Add(2 * time.Minute)
	h.mu.Unlock()

	settled, err := h.svc.ReconcileProcessing(ctx, time.Minute, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, settled)

	require.Len(t, h.gw.Payouts, 2)
	assert.Equal(t, h.gw.Payouts[0].IdempotencyKey, h.gw.Payouts[1].IdempotencyKey)
	h.assertLedger(t, tech, 50000, 50000, 0)

	stored, err := NewRepository(h.conn).FindByID(ctx, res.PayoutID)
	require.NoError(t, err)
	assert.Equal(t, enums.PayoutStatusCompleted, stored.Status)
	assert.Equal(t, 2, stored.Attempts)
}

func TestRequestPayout_IdempotencyKeyReplays(t *testing.T) {
	h := newHarness(t)
	tech := uuid.New()
	h.credit(t, tech, 200000)
	ctx := context.Background()

	req := input(tech, 60000)
	req.IdempotencyKey = "payout-2026-03-05"
	first, err := h.svc.RequestPayout(ctx, req)
	require.NoError(t, err)

	second, err := h.svc.RequestPayout(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.PayoutID, second.PayoutID)
	assert.Equal(t, 1, h.gw.PayoutCount())

	req.AmountCents = 70000
	_, err = h.svc.RequestPayout(ctx, req)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeIdempotency))

	h.assertLedger(t, tech, 140000, 140000, 0)
}

func TestRequestPayout_ConcurrentRequestsCannotOverdraw(t *testing.T) {
	h := newHarness(t)
	tech := uuid.New()
	h.credit(t, tech, 100000)

	var wg sync.WaitGroup
	results := make([]error, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = h.svc.RequestPayout(context.Background(), input(tech, 60000))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientBalance), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, succeeded)
	h.assertLedger(t, tech, 40000, 40000, 0)
}

func TestGetLedger(t *testing.T) {
	h := newHarness(t)
	tech := uuid.New()

	empty, err := h.svc.GetLedger(context.Background(), tech)
	require.NoError(t, err)
	assert.Zero(t, empty.AvailableCents)
	assert.EqualValues(t, 50000, empty.PayoutThreshold)

	h.credit(t, tech, 75000)
	summary, err := h.svc.GetLedger(context.Background(), tech)
	require.NoError(t, err)
	assert.EqualValues(t, 75000, summary.TotalEarningsCents)
	assert.EqualValues(t, 75000, summary.AvailableCents)
}
