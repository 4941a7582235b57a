package refunds

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fixora-backend/internal/bookings"
	"github.com/angelmondragon/fixora-backend/internal/completion"
	"github.com/angelmondragon/fixora-backend/internal/payments"
	"github.com/angelmondragon/fixora-backend/pkg/db"
	"github.com/angelmondragon/fixora-backend/pkg/db/models"
	"github.com/angelmondragon/fixora-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fixora-backend/pkg/errors"
	"github.com/angelmondragon/fixora-backend/pkg/gateway"
	"github.com/angelmondragon/fixora-backend/pkg/logger"
	"github.com/angelmondragon/fixora-backend/pkg/outbox"
	"github.com/angelmondragon/fixora-backend/pkg/outbox/payloads"
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

// Service cancels captured bookings and returns money to the customer.
type Service interface {
	Quote(ctx context.Context, input QuoteInput) (Breakdown, error)
	Cancel(ctx context.Context, input CancelInput) (*CancelResult, error)
}

type QuoteInput struct {
	AmountCents int64
	BookedAt    time.Time
	ServiceAt   time.Time
	CanceledAt  time.Time
}

type CancelInput struct {
	BookingID  uuid.UUID
	CustomerID uuid.UUID
	Reason     string
}

// CancelResult reports the refund record. A pending status means the
// gateway outcome is unknown and Cancel may be called again.
type CancelResult struct {
	Refund    *models.RefundRecord
	Status    enums.RefundStatus
	Duplicate bool
}

type ServiceParams struct {
	Tx          txRunner
	Refunds     Repository
	Orders      payments.Repository
	Bookings    bookings.Repository
	Completions completion.Repository
	Gateway     gateway.Gateway
	Outbox      outbox.Emitter
	Calculator  Calculator
	Logger      *logger.Logger
	Metrics     operationRecorder
	Now         func() time.Time
}

type service struct {
	tx          txRunner
	refunds     Repository
	orders      payments.Repository
	bookings    bookings.Repository
	completions completion.Repository
	gateway     gateway.Gateway
	outbox      outbox.Emitter
	calc        Calculator
	logg        *logger.Logger
	metrics     operationRecorder
	now         func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Refunds == nil {
		return nil, fmt.Errorf("refund repository required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("payment order repository required")
	}
	if params.Bookings == nil {
		return nil, fmt.Errorf("booking repository required")
	}
	if params.Completions == nil {
		return nil, fmt.Errorf("completion repository required")
	}
	if params.Gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Metrics == nil {
		params.Metrics = noopRecorder{}
	}
	if params.Now == nil {
		params.Now = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		tx:          params.Tx,
		refunds:     params.Refunds,
		orders:      params.Orders,
		bookings:    params.Bookings,
		completions: params.Completions,
		gateway:     params.Gateway,
		outbox:      params.Outbox,
		calc:        params.Calculator,
		logg:        params.Logger,
		metrics:     params.Metrics,
		now:         params.Now,
	}, nil
}

// Quote is the pure calculation; a zero CanceledAt means now.
func (s *service) Quote(_ context.Context, input QuoteInput) (Breakdown, error) {
	if input.BookedAt.IsZero() || input.ServiceAt.IsZero() {
		return Breakdown{}, pkgerrors.New(pkgerrors.CodeValidation, "booking and service times are required")
	}
	canceledAt := input.CanceledAt
	if canceledAt.IsZero() {
		canceledAt = s.now()
	}
	return s.calc.Compute(input.AmountCents, input.BookedAt, input.ServiceAt, canceledAt)
}

var (
	errOrderNotHeld  = errors.New("payment order not captured")
	errRefundStarted = errors.New("refund already started")
)

// Cancel refunds a captured booking per the cancellation windows. The refund
// record id is the gateway idempotency key, so retries after a transient
// failure can never refund twice.
func (s *service) Cancel(ctx context.Context, input CancelInput) (*CancelResult, error) {
	booking, err := s.bookings.FindByID(ctx, input.BookingID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "booking not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load booking")
	}
	if booking.CustomerID != input.CustomerID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "only the booking customer can cancel")
	}
	order, err := s.orders.FindByID(ctx, booking.PaymentOrderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment order")
	}
	ctx = s.logg.WithPaymentOrderID(ctx, order.ID.String())

	record, err := s.refunds.FindByPaymentOrderID(ctx, order.ID)
	if err != nil && !db.IsNotFound(err) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load refund record")
	}
	if record != nil {
		return s.resume(ctx, order, booking, record)
	}

	if err := requireHeld(order); err != nil {
		return nil, err
	}

	now := s.now()
	breakdown, err := s.calc.Compute(order.AmountCents, booking.CreatedAt, booking.ScheduledAt, now)
	if err != nil {
		s.metrics.IncOperation("refund", "window_closed")
		return nil, err
	}

	record = &models.RefundRecord{
		ID:                          uuid.New(),
		PaymentOrderID:              order.ID,
		BookingID:                   booking.ID,
		AmountCents:                 breakdown.AmountCents,
		CustomerRefundCents:         breakdown.CustomerRefundCents,
		TechnicianCompensationCents: breakdown.TechnicianCompensationCents,
		PlatformFeeCents:            breakdown.PlatformFeeCents,
		Type:                        breakdown.Type,
		Status:                      enums.RefundStatusPending,
		Reason:                      optionalString(input.Reason),
		CreatedAt:                   now,
		UpdatedAt:                   now,
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.refunds.WithTx(tx).Create(ctx, record); err != nil {
			if db.IsUniqueViolation(err, "") {
				return errRefundStarted
			}
			return err
		}
		if _, err := s.completions.WithTx(tx).ExpireActiveForBooking(ctx, booking.ID, now); err != nil {
			return err
		}
		// writing the order row queues this commit behind a release holding
		// it; a release that runs after us sees the pending record instead
		held, err := s.orders.WithTx(tx).LockHeld(ctx, order.ID, now)
		if err != nil {
			return err
		}
		if !held {
			return errOrderNotHeld
		}
		return nil
	})
	switch {
	case errors.Is(err, errRefundStarted):
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "cancellation already in progress")
	case errors.Is(err, errOrderNotHeld):
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment is no longer held in escrow")
	case err != nil:
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "store refund record")
	}

	s.logg.Info(s.logg.WithField(ctx, "refund_id", record.ID.String()), "refund record created")
	return s.submit(ctx, order, booking, record)
}

func (s *service) resume(ctx context.Context, order *models.PaymentOrder, booking *models.Booking, record *models.RefundRecord) (*CancelResult, error) {
	switch record.Status {
	case enums.RefundStatusProcessed:
		s.metrics.IncOperation("refund", "duplicate")
		return &CancelResult{Refund: record, Status: record.Status, Duplicate: true}, nil
	case enums.RefundStatusFailed:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "refund was rejected by the gateway").
			WithDetails(map[string]any{"refund_id": record.ID, "reason": derefString(record.FailureReason)})
	}
	if err := requireHeld(order); err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithField(ctx, "refund_id", record.ID.String()), "retrying pending refund")
	return s.submit(ctx, order, booking, record)
}

func (s *service) submit(ctx context.Context, order *models.PaymentOrder, booking *models.Booking, record *models.RefundRecord) (*CancelResult, error) {
	result, err := s.gateway.Refund(ctx, gateway.RefundRequest{
		GatewayOrderID:   order.GatewayOrderID,
		GatewayPaymentID: derefString(order.GatewayPaymentID),
		AmountCents:      record.CustomerRefundCents,
		IdempotencyKey:   record.ID.String(),
		Notes: map[string]string{
			"refund_id":        record.ID.String(),
			"booking_id":       booking.ID.String(),
			"payment_order_id": order.ID.String(),
			"refund_type":      string(record.Type),
		},
	})
	if err != nil {
		if rejected, ok := gateway.AsRejected(err); ok {
			return nil, s.markFailed(ctx, record, rejected)
		}
		s.metrics.IncOperation("refund", "gateway_unavailable")
		s.logg.Warn(s.logg.WithField(ctx, "refund_id", record.ID.String()), "refund outcome unknown; left pending")
		return &CancelResult{Refund: record, Status: enums.RefundStatusPending}, nil
	}

	now := s.now()
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		won, err := s.refunds.WithTx(tx).Transition(ctx, record.ID, enums.RefundStatusPending, enums.RefundStatusProcessed, map[string]any{
			"gateway_refund_id": result.RefundID,
			"processed_at":      now,
			"updated_at":        now,
		})
		if err != nil {
			return err
		}
		if !won {
			return errRefundStarted
		}
		won, err = s.orders.WithTx(tx).Transition(ctx, order.ID, enums.PaymentOrderStatusCaptured, enums.PaymentOrderStatusRefunded, map[string]any{
			"refunded_at": now,
			"updated_at":  now,
		})
		if err != nil {
			return err
		}
		if !won {
			return errOrderNotHeld
		}
		if _, err := s.bookings.WithTx(tx).UpdateStatus(ctx, booking.ID, enums.BookingStatusConfirmed, enums.BookingStatusCanceled, now); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventRefundProcessed,
			AggregateType: enums.AggregateRefund,
			AggregateID:   record.ID,
			Actor:         &outbox.ActorRef{UserID: booking.CustomerID, Role: string(enums.ActorRoleCustomer)},
			OccurredAt:    now,
			Data: payloads.RefundProcessedEvent{
				RefundID:                    record.ID,
				PaymentOrderID:              order.ID,
				BookingID:                   booking.ID,
				Type:                        record.Type,
				CustomerRefundCents:         record.CustomerRefundCents,
				TechnicianCompensationCents: record.TechnicianCompensationCents,
				PlatformFeeCents:            record.PlatformFeeCents,
			},
		})
	})
	if errors.Is(err, errRefundStarted) {
		current, lerr := s.refunds.FindByPaymentOrderID(ctx, order.ID)
		if lerr != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, lerr, "reload refund record")
		}
		return &CancelResult{Refund: current, Status: current.Status, Duplicate: true}, nil
	}
	if err != nil {
		s.logg.Error(ctx, "commit processed refund", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "commit refund")
	}

	record.Status = enums.RefundStatusProcessed
	record.GatewayRefundID = &result.RefundID
	record.ProcessedAt = &now
	s.metrics.IncOperation("refund", "ok")
	s.metrics.AddAmount("refund", record.CustomerRefundCents)
	s.logg.Info(s.logg.WithField(ctx, "refund_id", record.ID.String()), "refund processed and booking canceled")
	return &CancelResult{Refund: record, Status: record.Status}, nil
}

func (s *service) markFailed(ctx context.Context, record *models.RefundRecord, rejected *gateway.RejectedError) error {
	s.metrics.IncOperation("refund", "rejected")
	now := s.now()
	if _, err := s.refunds.Transition(ctx, record.ID, enums.RefundStatusPending, enums.RefundStatusFailed, map[string]any{
		"failure_reason": rejected.Reason,
		"updated_at":     now,
	}); err != nil {
		s.logg.Error(ctx, "mark refund failed", err)
	}
	s.logg.Warn(s.logg.WithField(ctx, "refund_id", record.ID.String()), "gateway rejected refund")
	return pkgerrors.Wrap(pkgerrors.CodeGatewayRejected, rejected, "refund rejected by gateway").
		WithDetails(map[string]any{"refund_id": record.ID, "reason": rejected.Reason})
}

func requireHeld(order *models.PaymentOrder) error {
	switch order.Status {
	case enums.PaymentOrderStatusCaptured:
		return nil
	case enums.PaymentOrderStatusReleased:
		return pkgerrors.New(pkgerrors.CodeStateConflict, "payment already released to the technician")
	default:
		return pkgerrors.New(pkgerrors.CodeStateConflict, "payment is not held in escrow").
			WithDetails(map[string]any{"payment_order_status": order.Status})
	}
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
