// Package completion gates escrow release behind a one-time code that the
// customer hands to the technician once the work is done.
package completion

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/fixora-backend/internal/bookings"
	"github.com/angelmondragon/fixora-backend/internal/earnings"
	"github.com/angelmondragon/fixora-backend/internal/payments"
	"github.com/angelmondragon/fixora-backend/pkg/config"
	"github.com/angelmondragon/fixora-backend/pkg/db"
	"github.com/angelmondragon/fixora-backend/pkg/db/models"
	"github.com/angelmondragon/fixora-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fixora-backend/pkg/errors"
	"github.com/angelmondragon/fixora-backend/pkg/logger"
	"github.com/angelmondragon/fixora-backend/pkg/outbox"
	"github.com/angelmondragon/fixora-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/fixora-backend/pkg/security"
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

type Service interface {
	RequestCompletion(ctx context.Context, bookingID, customerID uuid.UUID) (*models.CompletionRecord, error)
	IssueCode(ctx context.Context, input IssueCodeInput) (*IssueCodeResult, error)
	ReleaseOnOTP(ctx context.Context, input ReleaseInput) (*ReleaseResult, error)
	ExpireStaleCodes(ctx context.Context, limit int) (int64, error)
}

type IssueCodeInput struct {
	BookingID  uuid.UUID
	CustomerID uuid.UUID
}

// IssueCodeResult carries the plaintext code exactly once. Duplicate results
// have no code.
type IssueCodeResult struct {
	CompletionID      uuid.UUID
	Code              string
	ExpiresAt         time.Time
	AttemptsRemaining int
	Status            enums.CompletionStatus
	Duplicate         bool
}

type ReleaseInput struct {
	CompletionID uuid.UUID
	TechnicianID uuid.UUID
	Code         string
}

// ReleaseResult reports RemainingAttempts as left on the record when the
// code matched.
type ReleaseResult struct {
	CompletionID      uuid.UUID
	PaymentOrderID    uuid.UUID
	Released          bool
	RemainingAttempts int
	CreditedCents     int64
	Duplicate         bool
}

type ServiceParams struct {
	Tx           txRunner
	Records      Repository
	Orders       payments.Repository
	Bookings     bookings.Repository
	Earnings     earnings.Repository
	Outbox       outbox.Emitter
	Argon        config.ArgonConfig
	CodeValidity time.Duration
	MaxAttempts  int
	Logger       *logger.Logger
	Metrics      operationRecorder
	Now          func() time.Time
	GenerateCode func() (string, error)
}

type service struct {
	tx          txRunner
	records     Repository
	orders      payments.Repository
	bookings    bookings.Repository
	earnings    earnings.Repository
	outbox      outbox.Emitter
	hasher      *security.CodeHasher
	validity    time.Duration
	maxAttempts int
	logg        *logger.Logger
	metrics     operationRecorder
	now         func() time.Time
	generate    func() (string, error)
}

func NewService(params ServiceParams) (Service, error) {
	if params.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Records == nil {
		return nil, fmt.Errorf("completion repository required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("payment order repository required")
	}
	if params.Bookings == nil {
		return nil, fmt.Errorf("booking repository required")
	}
	if params.Earnings == nil {
		return nil, fmt.Errorf("earnings repository required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.CodeValidity <= 0 {
		params.CodeValidity = 5 * time.Minute
	}
	if params.MaxAttempts <= 0 {
		params.MaxAttempts = 3
	}
	if params.Metrics == nil {
		params.Metrics = noopRecorder{}
	}
	if params.Now == nil {
		params.Now = func() time.Time { return time.Now().UTC() }
	}
	if params.GenerateCode == nil {
		params.GenerateCode = func() (string, error) { return security.GenerateOTP(security.OTPDigits) }
	}
	return &service{
		tx:          params.Tx,
		records:     params.Records,
		orders:      params.Orders,
		bookings:    params.Bookings,
		earnings:    params.Earnings,
		outbox:      params.Outbox,
		hasher:      security.NewCodeHasher(params.Argon),
		validity:    params.CodeValidity,
		maxAttempts: params.MaxAttempts,
		logg:        params.Logger,
		metrics:     params.Metrics,
		now:         params.Now,
		generate:    params.GenerateCode,
	}, nil
}

// RequestCompletion opens a pending record for a booking the customer marked
// complete. It holds no code until the customer asks for one.
func (s *service) RequestCompletion(ctx context.Context, bookingID, customerID uuid.UUID) (*models.CompletionRecord, error) {
	booking, order, err := s.loadForCustomer(ctx, bookingID, customerID)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithPaymentOrderID(ctx, order.ID.String())

	existing, err := s.records.FindActiveByBooking(ctx, booking.ID)
	if err == nil {
		return existing, nil
	}
	if !db.IsNotFound(err) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load completion record")
	}
	if order.Status != enums.PaymentOrderStatusCaptured {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment is not held in escrow").
			WithDetails(map[string]any{"payment_order_status": order.Status})
	}

	now := s.now()
	record := &models.CompletionRecord{
		ID:                uuid.New(),
		BookingID:         booking.ID,
		PaymentOrderID:    order.ID,
		CustomerID:        booking.CustomerID,
		TechnicianID:      booking.TechnicianID,
		AttemptsRemaining: s.maxAttempts,
		Status:            enums.CompletionStatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.records.Create(ctx, record); err != nil {
		if db.IsUniqueViolation(err, "") {
			return s.records.FindActiveByBooking(ctx, booking.ID)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create completion record")
	}
	s.metrics.IncOperation("request_completion", "ok")
	s.logg.Info(s.logg.WithField(ctx, "completion_id", record.ID.String()), "completion requested")
	return record, nil
}

// IssueCode generates a fresh code for the booking. An outstanding code is
// superseded; a released booking yields a duplicate result without a code.
func (s *service) IssueCode(ctx context.Context, input IssueCodeInput) (*IssueCodeResult, error) {
	booking, order, err := s.loadForCustomer(ctx, input.BookingID, input.CustomerID)
	if err != nil {
		return nil, err
	}
	ctx = s.logg.WithPaymentOrderID(ctx, order.ID.String())

	current, err := s.records.FindActiveByBooking(ctx, booking.ID)
	if err != nil && !db.IsNotFound(err) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load completion record")
	}
	if current != nil {
		switch current.Status {
		case enums.CompletionStatusReleased:
			s.metrics.IncOperation("issue_code", "duplicate")
			return &IssueCodeResult{
				CompletionID: current.ID,
				Status:       current.Status,
				Duplicate:    true,
			}, nil
		case enums.CompletionStatusOTPVerified:
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "release already in progress")
		}
	}

	if order.Status != enums.PaymentOrderStatusCaptured {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment is not held in escrow").
			WithDetails(map[string]any{"payment_order_status": order.Status})
	}

	code, err := s.generate()
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate completion code")
	}
	hash, err := s.hasher.Hash(code)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "hash completion code")
	}

	now := s.now()
	expiresAt := now.Add(s.validity)
	var issued *models.CompletionRecord

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		records := s.records.WithTx(tx)
		refunding, err := records.HasPendingRefund(ctx, order.ID)
		if err != nil {
			return err
		}
		if refunding {
			return errRefundPending
		}
		codeFields := map[string]any{
			"code_hash":          hash,
			"expires_at":         expiresAt,
			"attempts_remaining": s.maxAttempts,
			"updated_at":         now,
		}

		if current != nil && current.Status == enums.CompletionStatusPending {
			won, err := records.Transition(ctx, current.ID, enums.CompletionStatusPending, enums.CompletionStatusOTPIssued, codeFields)
			if err != nil {
				return err
			}
			if !won {
				return errIssueRaceLost
			}
			issued = current
		} else {
			if current != nil {
				won, err := records.Transition(ctx, current.ID, enums.CompletionStatusOTPIssued, enums.CompletionStatusExpired, map[string]any{"updated_at": now})
				if err != nil {
					return err
				}
				if !won {
					return errIssueRaceLost
				}
			}
			issued = &models.CompletionRecord{
				ID:             uuid.New(),
				BookingID:      booking.ID,
				PaymentOrderID: order.ID,
				CustomerID:     booking.CustomerID,
				TechnicianID:   booking.TechnicianID,
				CodeHash:       hash,
				ExpiresAt:      &expiresAt,
				Status:         enums.CompletionStatusOTPIssued,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			issued.AttemptsRemaining = s.maxAttempts
			if err := records.Create(ctx, issued); err != nil {
				if db.IsUniqueViolation(err, "") {
					return errIssueRaceLost
				}
				return err
			}
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventCompletionCodeIssued,
			AggregateType: enums.AggregateCompletion,
			AggregateID:   issued.ID,
			Actor:         &outbox.ActorRef{UserID: booking.CustomerID, Role: string(enums.ActorRoleCustomer)},
			OccurredAt:    now,
			Data: payloads.CompletionCodeIssuedEvent{
				CompletionID: issued.ID,
				BookingID:    booking.ID,
				CustomerID:   booking.CustomerID,
				TechnicianID: booking.TechnicianID,
				ExpiresAt:    expiresAt,
			},
		})
	})
	if errors.Is(err, errRefundPending) {
		s.metrics.IncOperation("issue_code", "refund_pending")
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "booking cancellation in progress")
	}
	if errors.Is(err, errIssueRaceLost) {
		s.metrics.IncOperation("issue_code", "conflict")
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "completion code is being issued concurrently")
	}
	if err != nil {
		s.logg.Error(ctx, "issue completion code", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "issue completion code")
	}

	s.metrics.IncOperation("issue_code", "ok")
	s.logg.Info(s.logg.WithField(ctx, "completion_id", issued.ID.String()), "completion code issued")
	return &IssueCodeResult{
		CompletionID:      issued.ID,
		Code:              code,
		ExpiresAt:         expiresAt,
		AttemptsRemaining: s.maxAttempts,
		Status:            enums.CompletionStatusOTPIssued,
	}, nil
}

var (
	errIssueRaceLost   = errors.New("completion issue race lost")
	errReleaseRaceLost = errors.New("completion release race lost")
	errOrderNotHeld    = errors.New("payment order not captured")
	errRefundPending   = errors.New("refund pending for payment order")
)

// ReleaseOnOTP verifies the technician's code and, on a match, moves the
// technician's earnings out of escrow into their ledger in one transaction.
func (s *service) ReleaseOnOTP(ctx context.Context, input ReleaseInput) (*ReleaseResult, error) {
	record, err := s.records.FindByID(ctx, input.CompletionID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "completion record not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load completion record")
	}
	if record.TechnicianID != input.TechnicianID {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "completion belongs to another technician")
	}
	ctx = s.logg.WithPaymentOrderID(s.logg.WithTechnicianID(ctx, record.TechnicianID.String()), record.PaymentOrderID.String())

	if res, err := s.checkReleasable(record); res != nil || err != nil {
		return res, err
	}

	now := s.now()
	if record.ExpiresAt == nil || !now.Before(*record.ExpiresAt) {
		if _, err := s.records.Transition(ctx, record.ID, enums.CompletionStatusOTPIssued, enums.CompletionStatusExpired, map[string]any{"updated_at": now}); err != nil {
			s.logg.Error(ctx, "expire completion record", err)
		}
		s.metrics.IncOperation("release", "expired")
		return nil, exhaustedError(record.ID)
	}

	ok, err := s.hasher.Verify(input.Code, record.CodeHash)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "verify completion code")
	}
	if !ok {
		return nil, s.rejectAttempt(ctx, record, now)
	}

	order, err := s.orders.FindByID(ctx, record.PaymentOrderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment order")
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		records := s.records.WithTx(tx)
		won, err := records.Transition(ctx, record.ID, enums.CompletionStatusOTPIssued, enums.CompletionStatusOTPVerified, map[string]any{
			"verified_at": now,
			"updated_at":  now,
		})
		if err != nil {
			return err
		}
		if !won {
			return errReleaseRaceLost
		}

		won, err = s.orders.WithTx(tx).Transition(ctx, order.ID, enums.PaymentOrderStatusCaptured, enums.PaymentOrderStatusReleased, map[string]any{
			"released_at": now,
			"updated_at":  now,
		})
		if err != nil {
			return err
		}
		if !won {
			return errOrderNotHeld
		}
		// a cancel writes the order row before committing its refund record,
		// so once the CAS above holds the row any committed refund is visible
		refunding, err := records.HasPendingRefund(ctx, order.ID)
		if err != nil {
			return err
		}
		if refunding {
			return errRefundPending
		}

		ledger := s.earnings.WithTx(tx)
		if order.TechnicianEarningsCents > 0 {
			if err := ledger.Credit(ctx, order.TechnicianID, order.TechnicianEarningsCents, now); err != nil {
				return err
			}
			orderID := order.ID
			if err := ledger.AppendEvent(ctx, &models.LedgerEvent{
				TechnicianID:   order.TechnicianID,
				Type:           enums.LedgerEventTypeCredit,
				AmountCents:    order.TechnicianEarningsCents,
				PaymentOrderID: &orderID,
				CreatedAt:      now,
			}); err != nil {
				return err
			}
		}

		won, err = records.Transition(ctx, record.ID, enums.CompletionStatusOTPVerified, enums.CompletionStatusReleased, map[string]any{
			"released_at": now,
			"updated_at":  now,
		})
		if err != nil {
			return err
		}
		if !won {
			return errReleaseRaceLost
		}

		won, err = s.bookings.WithTx(tx).UpdateStatus(ctx, record.BookingID, enums.BookingStatusConfirmed, enums.BookingStatusCompleted, now)
		if err != nil {
			return err
		}
		if !won {
			return errOrderNotHeld
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentReleased,
			AggregateType: enums.AggregatePaymentOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{UserID: record.TechnicianID, Role: string(enums.ActorRoleTechnician)},
			OccurredAt:    now,
			Data: payloads.PaymentReleasedEvent{
				PaymentOrderID:          order.ID,
				BookingID:               record.BookingID,
				CompletionID:            record.ID,
				TechnicianID:            order.TechnicianID,
				TechnicianEarningsCents: order.TechnicianEarningsCents,
			},
		})
	})
	switch {
	case errors.Is(err, errReleaseRaceLost):
		current, lerr := s.records.FindByID(ctx, record.ID)
		if lerr != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, lerr, "reload completion record")
		}
		if res, cerr := s.checkReleasable(current); res != nil || cerr != nil {
			return res, cerr
		}
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "completion is being released concurrently")
	case errors.Is(err, errRefundPending):
		s.metrics.IncOperation("release", "refund_pending")
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "booking cancellation in progress").
			WithDetails(map[string]any{"payment_order_id": order.ID})
	case errors.Is(err, errOrderNotHeld):
		s.metrics.IncOperation("release", "state_conflict")
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "payment is no longer held in escrow").
			WithDetails(map[string]any{"payment_order_id": order.ID})
	case err != nil:
		s.logg.Error(ctx, "release escrow", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "release escrow")
	}

	s.metrics.IncOperation("release", "ok")
	s.metrics.AddAmount("release", order.TechnicianEarningsCents)
	s.logg.Info(s.logg.WithField(ctx, "completion_id", record.ID.String()), "escrow released to technician")
	return &ReleaseResult{
		CompletionID:      record.ID,
		PaymentOrderID:    order.ID,
		Released:          true,
		RemainingAttempts: record.AttemptsRemaining,
		CreditedCents:     order.TechnicianEarningsCents,
	}, nil
}

// checkReleasable answers for records that are not waiting on a code. A nil
// result and nil error means the record is otp_issued.
func (s *service) checkReleasable(record *models.CompletionRecord) (*ReleaseResult, error) {
	switch record.Status {
	case enums.CompletionStatusOTPIssued:
		return nil, nil
	case enums.CompletionStatusReleased:
		s.metrics.IncOperation("release", "duplicate")
		return &ReleaseResult{
			CompletionID:      record.ID,
			PaymentOrderID:    record.PaymentOrderID,
			Released:          true,
			RemainingAttempts: record.AttemptsRemaining,
			Duplicate:         true,
		}, nil
	case enums.CompletionStatusExpired:
		s.metrics.IncOperation("release", "expired")
		return nil, exhaustedError(record.ID)
	default:
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "completion code has not been issued").
			WithDetails(map[string]any{"status": record.Status})
	}
}

func (s *service) rejectAttempt(ctx context.Context, record *models.CompletionRecord, now time.Time) error {
	if _, err := s.records.RecordFailedAttempt(ctx, record.ID, now); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record failed attempt")
	}
	current, err := s.records.FindByID(ctx, record.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload completion record")
	}
	if current.Status == enums.CompletionStatusReleased {
		return pkgerrors.New(pkgerrors.CodeDuplicateOperation, "escrow already released")
	}
	if current.Status != enums.CompletionStatusOTPIssued || current.AttemptsRemaining <= 0 {
		s.metrics.IncOperation("release", "exhausted")
		s.logg.Warn(s.logg.WithField(ctx, "completion_id", record.ID.String()), "completion code attempts exhausted")
		return exhaustedError(record.ID)
	}
	s.metrics.IncOperation("release", "invalid_code")
	return pkgerrors.New(pkgerrors.CodeOtpInvalid, "completion code does not match").
		WithDetails(map[string]any{"remaining_attempts": current.AttemptsRemaining})
}

// ExpireStaleCodes is run by the cron worker.
func (s *service) ExpireStaleCodes(ctx context.Context, limit int) (int64, error) {
	n, err := s.records.ExpireIssuedBefore(ctx, s.now(), limit)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logg.Info(s.logg.WithField(ctx, "expired", n), "expired stale completion codes")
	}
	return n, nil
}

func (s *service) loadForCustomer(ctx context.Context, bookingID, customerID uuid.UUID) (*models.Booking, *models.PaymentOrder, error) {
	booking, err := s.bookings.FindByID(ctx, bookingID)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "booking not found")
		}
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load booking")
	}
	if customerID != uuid.Nil && booking.CustomerID != customerID {
		return nil, nil, pkgerrors.New(pkgerrors.CodeForbidden, "booking belongs to another customer")
	}
	order, err := s.orders.FindByID(ctx, booking.PaymentOrderID)
	if err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment order")
	}
	return booking, order, nil
}

func exhaustedError(completionID uuid.UUID) error {
	return pkgerrors.New(pkgerrors.CodeOtpExpiredOrExhausted, "completion code expired or attempts exhausted").
		WithDetails(map[string]any{"completion_id": completionID})
}
