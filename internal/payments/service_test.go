package payments

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/fixora-backend/internal/bookings"
	"github.com/angelmondragon/fixora-backend/internal/commission"
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

const testSecret = "whsec_capture_test"

type harness struct {
	svc  Service
	conn *gorm.DB
	gw   *gatewaytest.Fake
	now  time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	conn := testdb.Open(t)
	logg := logger.New(logger.Options{ServiceName: "payments-test", Output: io.Discard})
	gw := &gatewaytest.Fake{}
	h := &harness{conn: conn, gw: gw, now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}

	svc, err := NewService(ServiceParams{
		Tx:              db.NewFromConn(conn),
		Orders:          NewRepository(conn),
		Bookings:        bookings.NewRepository(conn),
		Gateway:         gw,
		Outbox:          outbox.NewService(outbox.NewRepository(conn), logg),
		Policy:          commission.Policy{RateBps: 1000, CapCents: 20000},
		Bounds:          commission.Bounds{MinCents: 10000, MaxCents: 5000000},
		SignatureSecret: testSecret,
		Logger:          logg,
		Now:             func() time.Time { return h.now },
	})
	require.NoError(t, err)
	h.svc = svc
	return h
}

func (h *harness) authorize(t *testing.T, amount int64) *AuthorizeResult {
	t.Helper()
	res, err := h.svc.Authorize(context.Background(), AuthorizeInput{
		AmountCents:  amount,
		CustomerID:   uuid.New(),
		TechnicianID: uuid.New(),
		Contact:      Contact{Email: "customer@example.com"},
	})
	require.NoError(t, err)
	return res
}

func (h *harness) draft() BookingDraft {
	return BookingDraft{ScheduledAt: h.now.Add(24 * time.Hour), Address: "12 MG Road, Bengaluru", Description: "AC service"}
}

func countRows(t *testing.T, conn *gorm.DB, table, where string, args ...any) int64 {
	t.Helper()
	var n int64
	q := conn.Table(table)
	if where != "" {
		q = q.Where(where, args...)
	}
	require.NoError(t, q.Count(&n).Error)
	return n
}

func TestAuthorizePersistsPendingOrder(t *testing.T) {
	h := newHarness(t)

	res := h.authorize(t, 150000)
	assert.Equal(t, int64(15000), res.CommissionCents)
	assert.Equal(t, int64(135000), res.TechnicianEarningsCents)

	order, err := NewRepository(h.conn).FindByID(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentOrderStatusPending, order.Status)
	assert.True(t, strings.HasPrefix(order.BookingRef, models.TempBookingPrefix))
	assert.Nil(t, order.BookingID)
	assert.Equal(t, res.GatewayOrderID, order.GatewayOrderID)

	require.Len(t, h.gw.Orders, 1)
	assert.Equal(t, res.OrderID.String(), h.gw.Orders[0].IdempotencyKey)
	assert.Equal(t, enums.CurrencyINR, h.gw.Orders[0].Currency)

	assert.Equal(t, int64(0), countRows(t, h.conn, "bookings", ""))
	assert.Equal(t, int64(1), countRows(t, h.conn, "outbox_events", "event_type = ?", enums.EventPaymentAuthorized))
}

func TestAuthorizeRejectsOutOfBoundsAmount(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Authorize(context.Background(), AuthorizeInput{
		AmountCents:  9999,
		CustomerID:   uuid.New(),
		TechnicianID: uuid.New(),
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidAmount))
	assert.Empty(t, h.gw.Orders)
}

func TestAuthorizeGatewayUnavailableStoresNothing(t *testing.T) {
	h := newHarness(t)
	h.gw.CreateOrderFn = func(gateway.CreateOrderRequest) (gateway.CreateOrderResult, error) {
		return gateway.CreateOrderResult{}, gateway.Unavailable("create_order", nil)
	}

	_, err := h.svc.Authorize(context.Background(), AuthorizeInput{
		AmountCents:  50000,
		CustomerID:   uuid.New(),
		TechnicianID: uuid.New(),
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeGatewayUnavailable))
	assert.Equal(t, int64(0), countRows(t, h.conn, "payment_orders", ""))
}

func TestConfirmCaptureSignatureMismatchStopsEarly(t *testing.T) {
	h := newHarness(t)
	res := h.authorize(t, 50000)

	_, err := h.svc.ConfirmCapture(context.Background(), ConfirmCaptureInput{
		GatewayOrderID:   res.GatewayOrderID,
		GatewayPaymentID: "pay_1",
		Signature:        gateway.Sign("wrong-secret", res.GatewayOrderID, "pay_1"),
		Draft:            h.draft(),
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeSignatureMismatch))
	assert.Zero(t, h.gw.CaptureCount())
	assert.Equal(t, int64(0), countRows(t, h.conn, "bookings", ""))
}

func TestConfirmCaptureTwiceCreatesOneBooking(t *testing.T) {
	h := newHarness(t)
	res := h.authorize(t, 150000)
	input := ConfirmCaptureInput{
		GatewayOrderID:   res.GatewayOrderID,
		GatewayPaymentID: "pay_42",
		Signature:        gateway.Sign(testSecret, res.GatewayOrderID, "pay_42"),
		Draft:            h.draft(),
	}

	first, err := h.svc.ConfirmCapture(context.Background(), input)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)
	assert.Equal(t, enums.PaymentOrderStatusCaptured, first.Status)

	second, err := h.svc.ConfirmCapture(context.Background(), input)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.BookingID, second.BookingID)

	assert.Equal(t, int64(1), countRows(t, h.conn, "bookings", ""))
	assert.Equal(t, 1, h.gw.CaptureCount())
	assert.Equal(t, "pay_42", h.gw.Captures[0].IdempotencyKey)
	assert.Equal(t, int64(150000), h.gw.Captures[0].AmountCents)

	order, err := NewRepository(h.conn).FindByID(context.Background(), res.OrderID)
	require.NoError(t, err)
	require.NotNil(t, order.BookingID)
	assert.Equal(t, first.BookingID, *order.BookingID)
	assert.Equal(t, first.BookingID.String(), order.BookingRef)
	assert.Equal(t, int64(1), countRows(t, h.conn, "outbox_events", "event_type = ?", enums.EventPaymentCaptured))
}

func TestConfirmCaptureRejectedMarksOrderFailed(t *testing.T) {
	h := newHarness(t)
	res := h.authorize(t, 50000)
	h.gw.CaptureFn = func(gateway.CaptureRequest) (gateway.CaptureResult, error) {
		return gateway.CaptureResult{}, &gateway.RejectedError{Op: "capture", Code: "card_declined", Reason: "insufficient funds"}
	}
	input := ConfirmCaptureInput{
		GatewayOrderID:   res.GatewayOrderID,
		GatewayPaymentID: "pay_7",
		Signature:        gateway.Sign(testSecret, res.GatewayOrderID, "pay_7"),
		Draft:            h.draft(),
	}

	_, err := h.svc.ConfirmCapture(context.Background(), input)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeCaptureFailed))

	order, err := NewRepository(h.conn).FindByID(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentOrderStatusFailed, order.Status)
	require.NotNil(t, order.FailureReason)
	assert.Contains(t, *order.FailureReason, "insufficient funds")
	assert.Equal(t, int64(0), countRows(t, h.conn, "bookings", ""))

	_, err = h.svc.ConfirmCapture(context.Background(), input)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeCaptureFailed))
	assert.Equal(t, 1, h.gw.CaptureCount())
}

func TestConfirmCaptureGatewayUnavailableLeavesOrderPending(t *testing.T) {
	h := newHarness(t)
	res := h.authorize(t, 50000)
	h.gw.CaptureFn = func(gateway.CaptureRequest) (gateway.CaptureResult, error) {
		return gateway.CaptureResult{}, gateway.Unavailable("capture", nil)
	}

	_, err := h.svc.ConfirmCapture(context.Background(), ConfirmCaptureInput{
		GatewayOrderID:   res.GatewayOrderID,
		GatewayPaymentID: "pay_9",
		Signature:        gateway.Sign(testSecret, res.GatewayOrderID, "pay_9"),
		Draft:            h.draft(),
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeGatewayUnavailable))
	assert.Equal(t, "processing", pkgerrors.As(err).Message())

	order, err := NewRepository(h.conn).FindByID(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentOrderStatusPending, order.Status)
}

func (h *harness) captureInput(res *AuthorizeResult, paymentID string) ConfirmCaptureInput {
	return ConfirmCaptureInput{
		GatewayOrderID:   res.GatewayOrderID,
		GatewayPaymentID: paymentID,
		Signature:        gateway.Sign(testSecret, res.GatewayOrderID, paymentID),
		Draft:            h.draft(),
	}
}

func TestConfirmCaptureHoldsOrderAgainstExpiryCancelAndWebhook(t *testing.T) {
	h := newHarness(t)
	res := h.authorize(t, 50000)
	order, err := NewRepository(h.conn).FindByID(context.Background(), res.OrderID)
	require.NoError(t, err)
	h.now = h.now.Add(10 * time.Minute)

	var expired int
	var changed bool
	var cancelErr, expireErr, webhookErr error
	h.gw.CaptureFn = func(gateway.CaptureRequest) (gateway.CaptureResult, error) {
		ctx := context.Background()
		expired, expireErr = h.svc.ExpireStalePending(ctx, 5*time.Minute, 10)
		_, cancelErr = h.svc.CancelAuthorization(ctx, res.OrderID, order.CustomerID)
		changed, webhookErr = h.svc.FailPending(ctx, res.GatewayOrderID, "payment_intent.canceled")
		return gateway.CaptureResult{Status: "captured"}, nil
	}

	out, err := h.svc.ConfirmCapture(context.Background(), h.captureInput(res, "pay_held"))
	require.NoError(t, err)
	assert.False(t, out.Duplicate)

	require.NoError(t, expireErr)
	assert.Zero(t, expired)
	assert.True(t, pkgerrors.IsCode(cancelErr, pkgerrors.CodeStateConflict))
	require.NoError(t, webhookErr)
	assert.False(t, changed)

	order, err = NewRepository(h.conn).FindByID(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentOrderStatusCaptured, order.Status)
	assert.Equal(t, int64(1), countRows(t, h.conn, "bookings", ""))
	assert.Zero(t, h.gw.RefundCount())
	assert.Zero(t, countRows(t, h.conn, "outbox_events", "event_type = ?", enums.EventPaymentFailed))
}

func TestConfirmCaptureReversesWhenOrderFailsDuringCapture(t *testing.T) {
	h := newHarness(t)
	res := h.authorize(t, 50000)
	h.gw.CaptureFn = func(gateway.CaptureRequest) (gateway.CaptureResult, error) {
		err := h.conn.Model(&models.PaymentOrder{}).
			Where("id = ?", res.OrderID).
			Updates(map[string]any{"status": enums.PaymentOrderStatusFailed, "failure_reason": FailureReasonAbandoned}).Error
		return gateway.CaptureResult{Status: "captured"}, err
	}

	_, err := h.svc.ConfirmCapture(context.Background(), h.captureInput(res, "pay_orphan"))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeCaptureFailed))

	require.Equal(t, 1, h.gw.RefundCount())
	assert.Equal(t, ReversalKey("pay_orphan"), h.gw.Refunds[0].IdempotencyKey)
	assert.Equal(t, "pay_orphan", h.gw.Refunds[0].GatewayPaymentID)
	assert.Equal(t, int64(50000), h.gw.Refunds[0].AmountCents)
	assert.Equal(t, int64(0), countRows(t, h.conn, "bookings", ""))
}

func TestConfirmCaptureReversalUnavailableIsRetryable(t *testing.T) {
	h := newHarness(t)
	res := h.authorize(t, 50000)
	h.gw.CaptureFn = func(gateway.CaptureRequest) (gateway.CaptureResult, error) {
		err := h.conn.Model(&models.PaymentOrder{}).
			Where("id = ?", res.OrderID).
			Update("status", enums.PaymentOrderStatusFailed).Error
		return gateway.CaptureResult{Status: "captured"}, err
	}
	h.gw.RefundFn = func(gateway.RefundRequest) (gateway.RefundResult, error) {
		return gateway.RefundResult{}, gateway.Unavailable("refund", nil)
	}

	_, err := h.svc.ConfirmCapture(context.Background(), h.captureInput(res, "pay_r"))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeGatewayUnavailable))
	assert.Equal(t, 1, h.gw.RefundCount())
}

func TestConfirmCaptureRefusesSecondPaymentWhileClaimed(t *testing.T) {
	h := newHarness(t)
	res := h.authorize(t, 50000)
	h.gw.CaptureFn = func(gateway.CaptureRequest) (gateway.CaptureResult, error) {
		return gateway.CaptureResult{}, gateway.Unavailable("capture", nil)
	}

	_, err := h.svc.ConfirmCapture(context.Background(), h.captureInput(res, "pay_a"))
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeGatewayUnavailable))

	_, err = h.svc.ConfirmCapture(context.Background(), h.captureInput(res, "pay_b"))
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	assert.Equal(t, 1, h.gw.CaptureCount())

	h.gw.CaptureFn = nil
	out, err := h.svc.ConfirmCapture(context.Background(), h.captureInput(res, "pay_a"))
	require.NoError(t, err)
	assert.False(t, out.Duplicate)
	assert.Equal(t, 2, h.gw.CaptureCount())
	assert.Equal(t, "pay_a", h.gw.Captures[1].IdempotencyKey)
}

func TestConfirmCaptureConcurrentRequestsCreateOneBooking(t *testing.T) {
	h := newHarness(t)
	res := h.authorize(t, 150000)
	input := h.captureInput(res, "pay_parallel")

	var wg sync.WaitGroup
	results := make([]*ConfirmCaptureResult, 5)
	errs := make([]error, len(results))
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.svc.ConfirmCapture(context.Background(), input)
		}(i)
	}
	wg.Wait()

	fresh := 0
	for i, err := range errs {
		require.NoError(t, err)
		assert.Equal(t, results[0].BookingID, results[i].BookingID)
		if !results[i].Duplicate {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh)
	assert.Equal(t, int64(1), countRows(t, h.conn, "bookings", ""))
	assert.Equal(t, int64(1), countRows(t, h.conn, "outbox_events", "event_type = ?", enums.EventPaymentCaptured))
	assert.Zero(t, h.gw.RefundCount())
	for _, c := range h.gw.Captures {
		assert.Equal(t, "pay_parallel", c.IdempotencyKey)
	}
}

func TestConfirmCaptureRequiresValidDraft(t *testing.T) {
	h := newHarness(t)
	res := h.authorize(t, 50000)

	draft := h.draft()
	draft.Address = " "
	_, err := h.svc.ConfirmCapture(context.Background(), ConfirmCaptureInput{
		GatewayOrderID:   res.GatewayOrderID,
		GatewayPaymentID: "pay_3",
		Signature:        gateway.Sign(testSecret, res.GatewayOrderID, "pay_3"),
		Draft:            draft,
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	assert.Zero(t, h.gw.CaptureCount())
}

func TestExpireStalePendingFailsOldOrders(t *testing.T) {
	h := newHarness(t)
	stale := h.authorize(t, 50000)
	h.now = h.now.Add(10 * time.Minute)
	fresh := h.authorize(t, 50000)

	expired, err := h.svc.ExpireStalePending(context.Background(), 5*time.Minute, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	repo := NewRepository(h.conn)
	order, err := repo.FindByID(context.Background(), stale.OrderID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentOrderStatusFailed, order.Status)
	assert.Equal(t, FailureReasonExpired, *order.FailureReason)

	order, err = repo.FindByID(context.Background(), fresh.OrderID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentOrderStatusPending, order.Status)
}

func TestExpireStalePendingReversesAbandonedCapture(t *testing.T) {
	h := newHarness(t)
	res := h.authorize(t, 50000)
	h.gw.CaptureFn = func(gateway.CaptureRequest) (gateway.CaptureResult, error) {
		return gateway.CaptureResult{}, gateway.Unavailable("capture", nil)
	}
	_, err := h.svc.ConfirmCapture(context.Background(), h.captureInput(res, "pay_lost"))
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeGatewayUnavailable))

	h.now = h.now.Add(10 * time.Minute)
	expired, err := h.svc.ExpireStalePending(context.Background(), 5*time.Minute, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	require.Equal(t, 1, h.gw.RefundCount())
	assert.Equal(t, ReversalKey("pay_lost"), h.gw.Refunds[0].IdempotencyKey)

	order, err := NewRepository(h.conn).FindByID(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentOrderStatusFailed, order.Status)
	assert.Equal(t, FailureReasonAbandoned, *order.FailureReason)

	_, err = h.svc.ConfirmCapture(context.Background(), h.captureInput(res, "pay_lost"))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeCaptureFailed))
	assert.Equal(t, 1, h.gw.CaptureCount())
}

func TestExpireStalePendingKeepsClaimWhenReversalFails(t *testing.T) {
	h := newHarness(t)
	res := h.authorize(t, 50000)
	h.gw.CaptureFn = func(gateway.CaptureRequest) (gateway.CaptureResult, error) {
		return gateway.CaptureResult{}, gateway.Unavailable("capture", nil)
	}
	h.gw.RefundFn = func(gateway.RefundRequest) (gateway.RefundResult, error) {
		return gateway.RefundResult{}, gateway.Unavailable("refund", nil)
	}
	_, err := h.svc.ConfirmCapture(context.Background(), h.captureInput(res, "pay_stuck"))
	require.Error(t, err)

	h.now = h.now.Add(10 * time.Minute)
	expired, err := h.svc.ExpireStalePending(context.Background(), 5*time.Minute, 10)
	require.NoError(t, err)
	assert.Zero(t, expired)

	order, err := NewRepository(h.conn).FindByID(context.Background(), res.OrderID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentOrderStatusPending, order.Status)
	require.NotNil(t, order.GatewayPaymentID)
	assert.Equal(t, "pay_stuck", *order.GatewayPaymentID)
}

func TestCancelAuthorizationOnlyBeforeCapture(t *testing.T) {
	h := newHarness(t)
	res := h.authorize(t, 50000)
	order, err := NewRepository(h.conn).FindByID(context.Background(), res.OrderID)
	require.NoError(t, err)

	_, err = h.svc.CancelAuthorization(context.Background(), res.OrderID, uuid.New())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	canceled, err := h.svc.CancelAuthorization(context.Background(), res.OrderID, order.CustomerID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentOrderStatusFailed, canceled.Status)
	assert.Equal(t, FailureReasonCanceled, *canceled.FailureReason)

	changed, err := h.svc.FailPending(context.Background(), res.GatewayOrderID, "payment_failed")
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestGetOrderHidesForeignOrders(t *testing.T) {
	h := newHarness(t)
	res := h.authorize(t, 50000)

	_, err := h.svc.GetOrder(context.Background(), res.OrderID, Viewer{UserID: uuid.New(), Role: enums.ActorRoleCustomer})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	order, err := h.svc.GetOrder(context.Background(), res.OrderID, Viewer{Role: enums.ActorRoleAdmin})
	require.NoError(t, err)
	assert.Equal(t, res.OrderID, order.ID)
}
