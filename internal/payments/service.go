// Package payments authorizes gateway orders and commits the booking once
// the gateway confirms capture. A booking never exists for money that was
// not captured.
package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fixora-backend/internal/bookings"
	"github.com/angelmondragon/fixora-backend/internal/commission"
	"github.com/angelmondragon/fixora-backend/pkg/db"
	"github.com/angelmondragon/fixora-backend/pkg/db/models"
	"github.com/angelmondragon/fixora-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fixora-backend/pkg/errors"
	"github.com/angelmondragon/fixora-backend/pkg/gateway"
	"github.com/angelmondragon/fixora-backend/pkg/logger"
	"github.com/angelmondragon/fixora-backend/pkg/outbox"
	"github.com/angelmondragon/fixora-backend/pkg/outbox/payloads"
)

const (
	FailureReasonCanceled        = "canceled"
	FailureReasonExpired         = "authorization_expired"
	FailureReasonAbandoned       = "capture_abandoned"
	FailureReasonCaptureRejected = "capture_rejected"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type operationRecorder interface {
	IncOperation(operation, outcome string)
	AddAmount(operation string, cents int64)
}

type noopRecorder struct{}

func (noopRecorder) IncOperation(string, string) {}
func (noopRecorder) AddAmount(string, int64)     {}

// Service is the authorize/capture half of the settlement engine.
type Service interface {
	Authorize(ctx context.Context, input AuthorizeInput) (*AuthorizeResult, error)
	ConfirmCapture(ctx context.Context, input ConfirmCaptureInput) (*ConfirmCaptureResult, error)
	GetOrder(ctx context.Context, orderID uuid.UUID, viewer Viewer) (*models.PaymentOrder, error)
	GetBooking(ctx context.Context, bookingID uuid.UUID, viewer Viewer) (*models.Booking, error)
	CancelAuthorization(ctx context.Context, orderID, customerID uuid.UUID) (*models.PaymentOrder, error)
	FailPending(ctx context.Context, gatewayOrderID, reason string) (bool, error)
	ExpireStalePending(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

// Viewer is the authenticated caller of a read operation.
type Viewer struct {
	UserID uuid.UUID
	Role   enums.ActorRole
}

func (v Viewer) canSee(customerID, technicianID uuid.UUID) bool {
	if v.Role == enums.ActorRoleAdmin {
		return true
	}
	return v.UserID != uuid.Nil && (v.UserID == customerID || v.UserID == technicianID)
}

type Contact struct {
	Email string
	Phone string
}

type AuthorizeInput struct {
	AmountCents  int64
	CustomerID   uuid.UUID
	TechnicianID uuid.UUID
	Contact      Contact
}

type AuthorizeResult struct {
	OrderID                 uuid.UUID
	GatewayOrderID          string
	AmountCents             int64
	CommissionCents         int64
	TechnicianEarningsCents int64
	Currency                enums.Currency
}

// BookingDraft is the schedule the customer picked before paying.
type BookingDraft struct {
	ScheduledAt time.Time
	Address     string
	Description string
}

type ConfirmCaptureInput struct {
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
	Draft            BookingDraft
}

type ConfirmCaptureResult struct {
	BookingID      uuid.UUID
	PaymentOrderID uuid.UUID
	Status         enums.PaymentOrderStatus
	Duplicate      bool
}

type ServiceParams struct {
	Tx              txRunner
	Orders          Repository
	Bookings        bookings.Repository
	Gateway         gateway.Gateway
	Outbox          outbox.Emitter
	Policy          commission.Policy
	Bounds          commission.Bounds
	Currency        enums.Currency
	SignatureSecret string
	Logger          *logger.Logger
	Metrics         operationRecorder
	Now             func() time.Time
}

type service struct {
	tx       txRunner
	orders   Repository
	bookings bookings.Repository
	gateway  gateway.Gateway
	outbox   outbox.Emitter
	policy   commission.Policy
	bounds   commission.Bounds
	currency enums.Currency
	secret   string
	logg     *logger.Logger
	metrics  operationRecorder
	now      func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("payment order repository required")
	}
	if params.Bookings == nil {
		return nil, fmt.Errorf("booking repository required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if strings.TrimSpace(params.SignatureSecret) == "" {
		return nil, fmt.Errorf("gateway signature secret required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Currency == "" {
		params.Currency = enums.CurrencyINR
	}
	if params.Metrics == nil {
		params.Metrics = noopRecorder{}
	}
	if params.Now == nil {
		params.Now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		tx:       params.Tx,
		orders:   params.Orders,
		bookings: params.Bookings,
		gateway:  params.Gateway,
		outbox:   params.Outbox,
		policy:   params.Policy,
		bounds:   params.Bounds,
		currency: params.Currency,
		secret:   params.SignatureSecret,
		logg:     params.Logger,
		metrics:  params.Metrics,
		now:      params.Now,
	}, nil
}

// Authorize creates an authorize-only gateway order and stores it as a
// pending PaymentOrder with a placeholder booking reference.
func (s *service) Authorize(ctx context.Context, input AuthorizeInput) (*AuthorizeResult, error) {
	if input.CustomerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id is required")
	}
	if input.TechnicianID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "technician id is required")
	}
	if input.CustomerID == input.TechnicianID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer and technician must differ")
	}
	if err := s.bounds.Validate(input.AmountCents); err != nil {
		s.metrics.IncOperation("authorize", "invalid_amount")
		return nil, err
	}

	split := s.policy.Split(input.AmountCents)
	orderID := uuid.New()
	ctx = s.logg.WithPaymentOrderID(ctx, orderID.String())

	gwOrder, err := s.gateway.CreateOrder(ctx, gateway.CreateOrderRequest{
		AmountCents:    split.AmountCents,
		Currency:       s.currency,
		IdempotencyKey: orderID.String(),
		ReceiptEmail:   input.Contact.Email,
		Metadata: map[string]string{
			"payment_order_id": orderID.String(),
			"customer_id":      input.CustomerID.String(),
			"technician_id":    input.TechnicianID.String(),
		},
	})
	if err != nil {
		s.metrics.IncOperation("authorize", "gateway_error")
		return nil, s.gatewayError(ctx, "create order", err)
	}

	now := s.now()
	order := &models.PaymentOrder{
		ID:                      orderID,
		GatewayOrderID:          gwOrder.GatewayOrderID,
		CustomerID:              input.CustomerID,
		TechnicianID:            input.TechnicianID,
		AmountCents:             split.AmountCents,
		CommissionCents:         split.CommissionCents,
		TechnicianEarningsCents: split.TechnicianEarningsCents,
		Currency:                s.currency,
		Status:                  enums.PaymentOrderStatusPending,
		BookingRef:              models.TempBookingPrefix + uuid.NewString(),
		ContactEmail:            optionalString(input.Contact.Email),
		ContactPhone:            optionalString(input.Contact.Phone),
		CreatedAt:               now,
		UpdatedAt:               now,
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.orders.WithTx(tx).Create(ctx, order); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentAuthorized,
			AggregateType: enums.AggregatePaymentOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{UserID: input.CustomerID, Role: string(enums.ActorRoleCustomer)},
			OccurredAt:    now,
			Data: payloads.PaymentAuthorizedEvent{
				PaymentOrderID:          order.ID,
				GatewayOrderID:          order.GatewayOrderID,
				CustomerID:              order.CustomerID,
				TechnicianID:            order.TechnicianID,
				AmountCents:             order.AmountCents,
				CommissionCents:         order.CommissionCents,
				TechnicianEarningsCents: order.TechnicianEarningsCents,
			},
		})
	})
	if err != nil {
		// the gateway order is authorize-only and lapses on its own
		s.logg.Error(ctx, "persist authorized payment order", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "store payment order")
	}

	s.metrics.IncOperation("authorize", "ok")
	s.logg.Info(ctx, "payment order authorized")
	return &AuthorizeResult{
		OrderID:                 order.ID,
		GatewayOrderID:          order.GatewayOrderID,
		AmountCents:             order.AmountCents,
		CommissionCents:         order.CommissionCents,
		TechnicianEarningsCents: order.TechnicianEarningsCents,
		Currency:                order.Currency,
	}, nil
}

var errCaptureRaceLost = errors.New("capture race lost")

// ConfirmCapture verifies the client-reported payment, captures it and
// creates the booking. Replays for an already captured order return the
// existing booking.
//
// The order is claimed for the payment id before the gateway capture runs.
// Cancel, the webhook and the expiry sweep leave claimed orders alone, so a
// capture that succeeds at the gateway always finds its order still pending.
func (s *service) ConfirmCapture(ctx context.Context, input ConfirmCaptureInput) (*ConfirmCaptureResult, error) {
	if !gateway.VerifySignature(s.secret, input.GatewayOrderID, input.GatewayPaymentID, input.Signature) {
		s.metrics.IncOperation("capture", "signature_mismatch")
		s.logg.Warn(s.logg.WithField(ctx, "gateway_order_id", input.GatewayOrderID), "capture signature mismatch")
		return nil, pkgerrors.New(pkgerrors.CodeSignatureMismatch, "payment signature mismatch")
	}
	paymentID := strings.TrimSpace(input.GatewayPaymentID)
	if paymentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "gateway payment id is required")
	}

	order, err := s.orders.FindByGatewayOrderID(ctx, input.GatewayOrderID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment order")
	}
	ctx = s.logg.WithPaymentOrderID(ctx, order.ID.String())

	if order.Status != enums.PaymentOrderStatusPending {
		return s.settledCapture(ctx, order, paymentID)
	}
	if err := validateDraft(input.Draft, s.now()); err != nil {
		return nil, err
	}

	claimed, err := s.orders.ClaimCapture(ctx, order.ID, paymentID, s.now())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim payment order")
	}
	if !claimed {
		current, lerr := s.orders.FindByID(ctx, order.ID)
		if lerr != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, lerr, "reload payment order")
		}
		if current.Status == enums.PaymentOrderStatusPending {
			s.metrics.IncOperation("capture", "claimed_elsewhere")
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "capture already in progress for another payment")
		}
		return s.settledCapture(ctx, current, paymentID)
	}

	if _, err := s.gateway.Capture(ctx, gateway.CaptureRequest{
		GatewayOrderID:   order.GatewayOrderID,
		GatewayPaymentID: paymentID,
		AmountCents:      order.AmountCents,
		IdempotencyKey:   paymentID,
	}); err != nil {
		if rejected, ok := gateway.AsRejected(err); ok {
			s.metrics.IncOperation("capture", "rejected")
			if ferr := s.failPendingOrder(ctx, order, paymentID, FailureReasonCaptureRejected+": "+rejected.Reason); ferr != nil {
				s.logg.Error(ctx, "mark payment order failed", ferr)
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeCaptureFailed, err, "payment capture failed").
				WithDetails(map[string]any{"payment_order_id": order.ID, "reason": rejected.Reason})
		}
		// the claim stays; a retry with the same payment id resumes it and
		// the expiry sweep reverses it once it goes stale
		s.metrics.IncOperation("capture", "gateway_unavailable")
		return nil, s.gatewayError(ctx, "capture", err)
	}

	now := s.now()
	booking := &models.Booking{
		ID:             uuid.New(),
		PaymentOrderID: order.ID,
		CustomerID:     order.CustomerID,
		TechnicianID:   order.TechnicianID,
		Status:         enums.BookingStatusConfirmed,
		ScheduledAt:    input.Draft.ScheduledAt.UTC(),
		Address:        strings.TrimSpace(input.Draft.Address),
		Description:    optionalString(input.Draft.Description),
		AmountCents:    order.AmountCents,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.bookings.WithTx(tx).Create(ctx, booking); err != nil {
			if db.IsUniqueViolation(err, "") {
				return errCaptureRaceLost
			}
			return err
		}
		won, err := s.orders.WithTx(tx).TransitionClaimed(ctx, order.ID, enums.PaymentOrderStatusPending, enums.PaymentOrderStatusCaptured, paymentID, map[string]any{
			"booking_id":  booking.ID,
			"booking_ref": booking.ID.String(),
			"captured_at": now,
			"updated_at":  now,
		})
		if err != nil {
			return err
		}
		if !won {
			return errCaptureRaceLost
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentCaptured,
			AggregateType: enums.AggregatePaymentOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{UserID: order.CustomerID, Role: string(enums.ActorRoleCustomer)},
			OccurredAt:    now,
			Data: payloads.PaymentCapturedEvent{
				PaymentOrderID:   order.ID,
				BookingID:        booking.ID,
				GatewayPaymentID: paymentID,
				CustomerID:       order.CustomerID,
				TechnicianID:     order.TechnicianID,
				AmountCents:      order.AmountCents,
				ScheduledAt:      booking.ScheduledAt,
			},
		})
	})
	if errors.Is(err, errCaptureRaceLost) {
		current, lerr := s.orders.FindByID(ctx, order.ID)
		if lerr != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, lerr, "reload payment order")
		}
		if current.Status == enums.PaymentOrderStatusFailed {
			// our capture went through but the order was failed underneath it
			if rerr := s.reverseCapture(ctx, current, paymentID); rerr != nil {
				s.metrics.IncOperation("capture", "reversal_pending")
				return nil, s.gatewayError(ctx, "reverse capture", rerr)
			}
			s.metrics.IncOperation("capture", "reversed")
			return nil, pkgerrors.New(pkgerrors.CodeCaptureFailed, "payment order has failed; the capture was refunded").
				WithDetails(map[string]any{"payment_order_id": order.ID, "reason": derefString(current.FailureReason)})
		}
		return s.existingCapture(ctx, current, paymentID)
	}
	if err != nil {
		// funds are captured and the claim still holds the order; a retry with
		// the same payment id replays the idempotent capture and commits
		s.logg.Error(ctx, "commit captured booking", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "commit booking")
	}

	s.metrics.IncOperation("capture", "ok")
	s.metrics.AddAmount("capture", order.AmountCents)
	s.logg.Info(s.logg.WithField(ctx, "booking_id", booking.ID.String()), "payment captured and booking created")
	return &ConfirmCaptureResult{
		BookingID:      booking.ID,
		PaymentOrderID: order.ID,
		Status:         enums.PaymentOrderStatusCaptured,
	}, nil
}

// settledCapture answers a capture request for an order that has already
// left pending.
func (s *service) settledCapture(ctx context.Context, order *models.PaymentOrder, paymentID string) (*ConfirmCaptureResult, error) {
	if order.Status == enums.PaymentOrderStatusFailed {
		s.metrics.IncOperation("capture", "already_failed")
		return nil, pkgerrors.New(pkgerrors.CodeCaptureFailed, "payment order has failed").
			WithDetails(map[string]any{"payment_order_id": order.ID, "reason": derefString(order.FailureReason)})
	}
	return s.existingCapture(ctx, order, paymentID)
}

func (s *service) existingCapture(ctx context.Context, order *models.PaymentOrder, paymentID string) (*ConfirmCaptureResult, error) {
	if order.GatewayPaymentID != nil && *order.GatewayPaymentID != paymentID {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order was captured with a different payment")
	}
	booking, err := s.bookings.FindByPaymentOrderID(ctx, order.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load booking for captured order")
	}
	s.metrics.IncOperation("capture", "duplicate")
	s.logg.Info(ctx, "capture replay returned existing booking")
	return &ConfirmCaptureResult{
		BookingID:      booking.ID,
		PaymentOrderID: order.ID,
		Status:         order.Status,
		Duplicate:      true,
	}, nil
}

// reverseCapture refunds a capture whose order can no longer hold it. The
// idempotency key is derived from the payment id so every path that reverses
// the same capture collapses into one gateway refund. A rejection means the
// gateway holds nothing to reverse.
func (s *service) reverseCapture(ctx context.Context, order *models.PaymentOrder, paymentID string) error {
	_, err := s.gateway.Refund(ctx, gateway.RefundRequest{
		GatewayOrderID:   order.GatewayOrderID,
		GatewayPaymentID: paymentID,
		AmountCents:      order.AmountCents,
		IdempotencyKey:   ReversalKey(paymentID),
		Notes: map[string]string{
			"payment_order_id": order.ID.String(),
			"reason":           "capture_reversal",
		},
	})
	if err == nil {
		s.metrics.AddAmount("capture_reversal", order.AmountCents)
		s.logg.Warn(s.logg.WithField(ctx, "gateway_payment_id", paymentID), "captured funds reversed")
		return nil
	}
	if _, ok := gateway.AsRejected(err); ok {
		s.logg.Warn(s.logg.WithField(ctx, "gateway_payment_id", paymentID), "capture reversal rejected; nothing held")
		return nil
	}
	return err
}

// ReversalKey is the gateway idempotency key of the refund that undoes an
// orphaned capture.
func ReversalKey(paymentID string) string {
	return "reversal_" + paymentID
}

func (s *service) GetOrder(ctx context.Context, orderID uuid.UUID, viewer Viewer) (*models.PaymentOrder, error) {
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment order")
	}
	if !viewer.canSee(order.CustomerID, order.TechnicianID) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment order not found")
	}
	return order, nil
}

func (s *service) GetBooking(ctx context.Context, bookingID uuid.UUID, viewer Viewer) (*models.Booking, error) {
	booking, err := s.bookings.FindByID(ctx, bookingID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "booking not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load booking")
	}
	if !viewer.canSee(booking.CustomerID, booking.TechnicianID) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "booking not found")
	}
	return booking, nil
}

// CancelAuthorization abandons an order before capture. Nothing was
// captured, so there is nothing to refund.
func (s *service) CancelAuthorization(ctx context.Context, orderID, customerID uuid.UUID) (*models.PaymentOrder, error) {
	order, err := s.GetOrder(ctx, orderID, Viewer{UserID: customerID, Role: enums.ActorRoleCustomer})
	if err != nil {
		return nil, err
	}
	if order.CustomerID != customerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the paying customer can cancel")
	}
	if order.Status == enums.PaymentOrderStatusFailed {
		return order, nil
	}
	if err := cancelable(order); err != nil {
		return nil, err
	}

	if err := s.failPendingOrder(ctx, order, "", FailureReasonCanceled); err != nil {
		if !errors.Is(err, errNotPending) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "cancel payment order")
		}
		current, lerr := s.orders.FindByID(ctx, order.ID)
		if lerr != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, lerr, "reload payment order")
		}
		if current.Status == enums.PaymentOrderStatusFailed {
			return current, nil
		}
		if cerr := cancelable(current); cerr != nil {
			return nil, cerr
		}
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment order changed during cancel")
	}
	return s.orders.FindByID(ctx, order.ID)
}

func cancelable(order *models.PaymentOrder) error {
	switch {
	case order.Status != enums.PaymentOrderStatusPending:
		return pkgerrors.New(pkgerrors.CodeStateConflict, "payment already captured; cancel the booking instead")
	case order.GatewayPaymentID != nil:
		return pkgerrors.New(pkgerrors.CodeStateConflict, "payment capture in progress")
	}
	return nil
}

// FailPending marks an unclaimed pending order failed; the gateway webhook
// calls it for canceled intents. It reports whether this call made the
// change.
func (s *service) FailPending(ctx context.Context, gatewayOrderID, reason string) (bool, error) {
	order, err := s.orders.FindByGatewayOrderID(ctx, gatewayOrderID)
	if err != nil {
		if db.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	if order.Status != enums.PaymentOrderStatusPending {
		return false, nil
	}
	ctx = s.logg.WithPaymentOrderID(ctx, order.ID.String())
	if order.GatewayPaymentID != nil {
		s.logg.Info(ctx, "payment order has a capture in progress; leaving it pending")
		return false, nil
	}
	if err := s.failPendingOrder(ctx, order, "", reason); err != nil {
		if errors.Is(err, errNotPending) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ExpireStalePending fails pending orders whose authorization window has
// lapsed without a capture. An order claimed by a capture that has not
// finished within the same window is reversed at the gateway first; claims
// younger than the window are left to their capture.
func (s *service) ExpireStalePending(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	cutoff := s.now().Add(-olderThan)
	orders, err := s.orders.ListStalePending(ctx, cutoff, limit)
	if err != nil {
		return 0, err
	}
	expired := 0
	for i := range orders {
		order := &orders[i]
		octx := s.logg.WithPaymentOrderID(ctx, order.ID.String())

		claim, reason := "", FailureReasonExpired
		if order.GatewayPaymentID != nil {
			if order.CaptureStartedAt != nil && order.CaptureStartedAt.After(cutoff) {
				continue
			}
			claim, reason = *order.GatewayPaymentID, FailureReasonAbandoned
			if err := s.reverseCapture(octx, order, claim); err != nil {
				s.metrics.IncOperation("expire", "reversal_pending")
				s.logg.Warn(s.logg.WithField(octx, "error", err.Error()), "abandoned capture not reversed; retrying next sweep")
				continue
			}
		}
		if err := s.failPendingOrder(octx, order, claim, reason); err != nil {
			if errors.Is(err, errNotPending) {
				continue
			}
			return expired, err
		}
		expired++
	}
	return expired, nil
}

var errNotPending = errors.New("payment order no longer pending")

// failPendingOrder fails the order only while it is pending and held by
// claim. The empty claim matches orders no capture has touched.
func (s *service) failPendingOrder(ctx context.Context, order *models.PaymentOrder, claim, reason string) error {
	now := s.now()
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		won, err := s.orders.WithTx(tx).TransitionClaimed(ctx, order.ID, enums.PaymentOrderStatusPending, enums.PaymentOrderStatusFailed, claim, map[string]any{
			"failure_reason": reason,
			"failed_at":      now,
			"updated_at":     now,
		})
		if err != nil {
			return err
		}
		if !won {
			return errNotPending
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentFailed,
			AggregateType: enums.AggregatePaymentOrder,
			AggregateID:   order.ID,
			OccurredAt:    now,
			Data: payloads.PaymentFailedEvent{
				PaymentOrderID: order.ID,
				CustomerID:     order.CustomerID,
				Reason:         reason,
			},
		})
	})
	if err != nil {
		return err
	}
	s.metrics.IncOperation("fail_order", "ok")
	s.logg.Info(s.logg.WithField(ctx, "reason", reason), "payment order failed")
	return nil
}

func (s *service) gatewayError(ctx context.Context, op string, err error) error {
	if gateway.IsUnavailable(err) {
		s.logg.Warn(s.logg.WithField(ctx, "gateway_op", op), "payment gateway unavailable")
		return pkgerrors.Wrap(pkgerrors.CodeGatewayUnavailable, err, "processing")
	}
	if rejected, ok := gateway.AsRejected(err); ok {
		s.logg.Warn(s.logg.WithField(ctx, "gateway_op", op), "payment gateway rejected request")
		return pkgerrors.Wrap(pkgerrors.CodeGatewayRejected, err, rejected.Reason)
	}
	s.logg.Error(ctx, "payment gateway call failed", err)
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, op+" failed")
}

func validateDraft(draft BookingDraft, now time.Time) error {
	if draft.ScheduledAt.IsZero() {
		return pkgerrors.New(pkgerrors.CodeValidation, "scheduled time is required")
	}
	if draft.ScheduledAt.Before(now) {
		return pkgerrors.New(pkgerrors.CodeValidation, "scheduled time must be in the future")
	}
	if strings.TrimSpace(draft.Address) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "service address is required")
	}
	return nil
}

func optionalString(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
