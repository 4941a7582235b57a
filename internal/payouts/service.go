// Package payouts moves released earnings from a technician ledger to their
// bank or UPI account. Funds are reserved before the gateway call and only
// debited once the gateway confirms, so a failed transfer never touches the
// balance.
package payouts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/fixora-backend/internal/earnings"
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

type Service interface {
	RequestPayout(ctx context.Context, input PayoutInput) (*PayoutResult, error)
	ReconcileProcessing(ctx context.Context, olderThan time.Duration, limit int) (int, error)
	GetLedger(ctx context.Context, technicianID uuid.UUID) (*LedgerSummary, error)
	ListPayouts(ctx context.Context, technicianID uuid.UUID, limit int) ([]models.PayoutRequest, error)
}

type PayoutInput struct {
	TechnicianID   uuid.UUID
	ActorID        uuid.UUID
	AmountCents    int64
	Method         enums.PayoutMethod
	Destination    string
	IdempotencyKey string
}

type PayoutResult struct {
	PayoutID        uuid.UUID
	Status          enums.PayoutStatus
	AmountCents     int64
	GatewayPayoutID string
	FailureReason   string
	Duplicate       bool
}

type LedgerSummary struct {
	TechnicianID        uuid.UUID
	TotalEarningsCents  int64
	PendingPayoutCents  int64
	ReservedPayoutCents int64
	AvailableCents      int64
	PayoutThreshold     int64
}

type ServiceParams struct {
	Tx             txRunner
	Requests       Repository
	Earnings       earnings.Repository
	Gateway        gateway.Gateway
	Outbox         outbox.Emitter
	ThresholdCents int64
	Currency       enums.Currency
	Logger         *logger.Logger
	Metrics        operationRecorder
	Now            func() time.Time
}

type service struct {
	tx        txRunner
	requests  Repository
	earnings  earnings.Repository
	gateway   gateway.Gateway
	outbox    outbox.Emitter
	threshold int64
	currency  enums.Currency
	logg      *logger.Logger
	metrics   operationRecorder
	now       func() time.Time
}

func NewService(params ServiceParams) (Service, error) {
	if params.Tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Requests == nil {
		return nil, fmt.Errorf("payout repository required")
	}
	if params.Earnings == nil {
		return nil, fmt.Errorf("earnings repository required")
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
	if params.ThresholdCents <= 0 {
		return nil, fmt.Errorf("payout threshold must be positive")
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
		tx:        params.Tx,
		requests:  params.Requests,
		earnings:  params.Earnings,
		gateway:   params.Gateway,
		outbox:    params.Outbox,
		threshold: params.ThresholdCents,
		currency:  params.Currency,
		logg:      params.Logger,
		metrics:   params.Metrics,
		now:       params.Now,
	}, nil
}

var (
	errKeyTaken       = errors.New("payout idempotency key taken")
	errAlreadySettled = errors.New("payout already settled")
)

// RequestPayout reserves the amount, records the request as processing and
// submits the transfer. A transient gateway fault returns a processing
// result; the reconciler finishes it.
func (s *service) RequestPayout(ctx context.Context, input PayoutInput) (*PayoutResult, error) {
	if input.ActorID != input.TechnicianID || input.TechnicianID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "payouts can only be requested by the technician")
	}
	if !input.Method.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unsupported payout method").
			WithDetails(map[string]any{"method": input.Method})
	}
	destination := strings.TrimSpace(input.Destination)
	if destination == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payout destination is required")
	}
	if input.AmountCents < s.threshold {
		s.metrics.IncOperation("payout", "below_threshold")
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientBalance, "amount is below the payout threshold").
			WithDetails(map[string]any{"threshold_cents": s.threshold, "amount_cents": input.AmountCents})
	}
	ctx = s.logg.WithTechnicianID(ctx, input.TechnicianID.String())

	key := strings.TrimSpace(input.IdempotencyKey)
	if key != "" {
		existing, err := s.requests.FindByIdempotencyKey(ctx, input.TechnicianID, key)
		if err == nil {
			return s.replay(existing, input)
		}
		if !db.IsNotFound(err) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payout request")
		}
	}

	now := s.now()
	request := &models.PayoutRequest{
		ID:           uuid.New(),
		TechnicianID: input.TechnicianID,
		AmountCents:  input.AmountCents,
		Method:       input.Method,
		Destination:  destination,
		Status:       enums.PayoutStatusProcessing,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	request.IdempotencyKey = key
	if key == "" {
		request.IdempotencyKey = request.ID.String()
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		ledger := s.earnings.WithTx(tx)
		if err := ledger.Reserve(ctx, request.TechnicianID, request.AmountCents, now); err != nil {
			return err
		}
		if err := s.requests.WithTx(tx).Create(ctx, request); err != nil {
			if db.IsUniqueViolation(err, "") {
				return errKeyTaken
			}
			return err
		}
		requestID := request.ID
		return ledger.AppendEvent(ctx, &models.LedgerEvent{
			TechnicianID:    request.TechnicianID,
			Type:            enums.LedgerEventTypePayoutReserved,
			AmountCents:     request.AmountCents,
			PayoutRequestID: &requestID,
			CreatedAt:       now,
		})
	})
	switch {
	case errors.Is(err, earnings.ErrInsufficientBalance):
		s.metrics.IncOperation("payout", "insufficient_balance")
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientBalance, "insufficient balance for payout").
			WithDetails(map[string]any{"amount_cents": input.AmountCents})
	case errors.Is(err, errKeyTaken):
		existing, lerr := s.requests.FindByIdempotencyKey(ctx, input.TechnicianID, request.IdempotencyKey)
		if lerr != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, lerr, "load payout request")
		}
		return s.replay(existing, input)
	case err != nil:
		s.logg.Error(ctx, "reserve payout", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reserve payout")
	}

	s.logg.Info(s.logg.WithField(ctx, "payout_id", request.ID.String()), "payout reserved")
	return s.dispatch(ctx, request)
}

func (s *service) replay(existing *models.PayoutRequest, input PayoutInput) (*PayoutResult, error) {
	if existing.AmountCents != input.AmountCents || existing.Method != input.Method {
		return nil, pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with a different payout")
	}
	s.metrics.IncOperation("payout", "duplicate")
	res := resultFor(existing)
	res.Duplicate = true
	return res, nil
}

// dispatch submits a processing request to the gateway. The request id is
// the idempotency key, so repeated dispatches move money at most once.
func (s *service) dispatch(ctx context.Context, request *models.PayoutRequest) (*PayoutResult, error) {
	ctx = s.logg.WithField(ctx, "payout_id", request.ID.String())
	if err := s.requests.IncrementAttempts(ctx, request.ID, s.now()); err != nil {
		s.logg.Error(ctx, "increment payout attempts", err)
	}

	result, err := s.gateway.CreatePayout(ctx, gateway.PayoutRequest{
		Destination:    request.Destination,
		Method:         request.Method,
		AmountCents:    request.AmountCents,
		Currency:       s.currency,
		IdempotencyKey: request.ID.String(),
		Metadata: map[string]string{
			"payout_id":     request.ID.String(),
			"technician_id": request.TechnicianID.String(),
		},
	})
	if err != nil {
		if rejected, ok := gateway.AsRejected(err); ok {
			return s.fail(ctx, request, rejected)
		}
		s.metrics.IncOperation("payout", "gateway_unavailable")
		s.logg.Warn(ctx, "payout outcome unknown; left processing")
		return &PayoutResult{PayoutID: request.ID, Status: enums.PayoutStatusProcessing, AmountCents: request.AmountCents}, nil
	}
	return s.complete(ctx, request, result.PayoutID)
}

func (s *service) complete(ctx context.Context, request *models.PayoutRequest, gatewayPayoutID string) (*PayoutResult, error) {
	now := s.now()
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		won, err := s.requests.WithTx(tx).Transition(ctx, request.ID, enums.PayoutStatusProcessing, enums.PayoutStatusCompleted, map[string]any{
			"gateway_payout_id": gatewayPayoutID,
			"completed_at":      now,
			"updated_at":        now,
		})
		if err != nil {
			return err
		}
		if !won {
			return errAlreadySettled
		}
		ledger := s.earnings.WithTx(tx)
		if err := ledger.DebitReserved(ctx, request.TechnicianID, request.AmountCents, now); err != nil {
			return err
		}
		requestID := request.ID
		if err := ledger.AppendEvent(ctx, &models.LedgerEvent{
			TechnicianID:    request.TechnicianID,
			Type:            enums.LedgerEventTypePayoutDebit,
			AmountCents:     request.AmountCents,
			PayoutRequestID: &requestID,
			CreatedAt:       now,
		}); err != nil {
			return err
		}
		return s.emitStatus(ctx, tx, request, enums.EventPayoutCompleted, enums.PayoutStatusCompleted, gatewayPayoutID, "", now)
	})
	if errors.Is(err, errAlreadySettled) {
		return s.reload(ctx, request.ID)
	}
	if err != nil {
		// the transfer went through; the reconciler replays it with the same key
		s.logg.Error(ctx, "commit completed payout", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "commit payout")
	}

	s.metrics.IncOperation("payout", "ok")
	s.metrics.AddAmount("payout", request.AmountCents)
	s.logg.Info(ctx, "payout completed")
	return &PayoutResult{
		PayoutID:        request.ID,
		Status:          enums.PayoutStatusCompleted,
		AmountCents:     request.AmountCents,
		GatewayPayoutID: gatewayPayoutID,
	}, nil
}

func (s *service) fail(ctx context.Context, request *models.PayoutRequest, rejected *gateway.RejectedError) (*PayoutResult, error) {
	now := s.now()
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		won, err := s.requests.WithTx(tx).Transition(ctx, request.ID, enums.PayoutStatusProcessing, enums.PayoutStatusFailed, map[string]any{
			"failure_reason": rejected.Reason,
			"failed_at":      now,
			"updated_at":     now,
		})
		if err != nil {
			return err
		}
		if !won {
			return errAlreadySettled
		}
		ledger := s.earnings.WithTx(tx)
		if err := ledger.ReleaseReservation(ctx, request.TechnicianID, request.AmountCents, now); err != nil {
			return err
		}
		requestID := request.ID
		if err := ledger.AppendEvent(ctx, &models.LedgerEvent{
			TechnicianID:    request.TechnicianID,
			Type:            enums.LedgerEventTypePayoutReleased,
			AmountCents:     request.AmountCents,
			PayoutRequestID: &requestID,
			CreatedAt:       now,
		}); err != nil {
			return err
		}
		return s.emitStatus(ctx, tx, request, enums.EventPayoutFailed, enums.PayoutStatusFailed, "", rejected.Reason, now)
	})
	if errors.Is(err, errAlreadySettled) {
		return s.reload(ctx, request.ID)
	}
	if err != nil {
		s.logg.Error(ctx, "commit failed payout", err)
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "commit payout failure")
	}

	s.metrics.IncOperation("payout", "rejected")
	s.logg.Warn(s.logg.WithField(ctx, "reason", rejected.Reason), "gateway rejected payout")
	return nil, pkgerrors.Wrap(pkgerrors.CodeGatewayRejected, rejected, "payout rejected by gateway").
		WithDetails(map[string]any{"payout_id": request.ID, "status": enums.PayoutStatusFailed, "reason": rejected.Reason})
}

func (s *service) emitStatus(ctx context.Context, tx *gorm.DB, request *models.PayoutRequest, eventType enums.OutboxEventType, status enums.PayoutStatus, gatewayPayoutID, reason string, at time.Time) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregatePayoutRequest,
		AggregateID:   request.ID,
		Actor:         &outbox.ActorRef{UserID: request.TechnicianID, Role: string(enums.ActorRoleTechnician)},
		OccurredAt:    at,
		Data: payloads.PayoutStatusEvent{
			PayoutID:        request.ID,
			TechnicianID:    request.TechnicianID,
			AmountCents:     request.AmountCents,
			Method:          request.Method,
			Status:          status,
			GatewayPayoutID: gatewayPayoutID,
			Reason:          reason,
		},
	})
}

func (s *service) reload(ctx context.Context, id uuid.UUID) (*PayoutResult, error) {
	current, err := s.requests.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload payout request")
	}
	res := resultFor(current)
	res.Duplicate = true
	return res, nil
}

// ReconcileProcessing re-dispatches payouts whose gateway outcome is still
// unknown. Each request is retried with its original idempotency key.
func (s *service) ReconcileProcessing(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	stale, err := s.requests.ListProcessing(ctx, s.now().Add(-olderThan), limit)
	if err != nil {
		return 0, err
	}
	settled := 0
	var errs error
	for i := range stale {
		request := &stale[i]
		rctx := s.logg.WithTechnicianID(ctx, request.TechnicianID.String())
		res, err := s.dispatch(rctx, request)
		if err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeGatewayRejected) {
				settled++
				continue
			}
			errs = multierr.Append(errs, fmt.Errorf("payout %s: %w", request.ID, err))
			continue
		}
		if res.Status != enums.PayoutStatusProcessing {
			settled++
		}
	}
	return settled, errs
}

func (s *service) GetLedger(ctx context.Context, technicianID uuid.UUID) (*LedgerSummary, error) {
	ledger, err := s.earnings.Get(ctx, technicianID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load earnings ledger")
	}
	return &LedgerSummary{
		TechnicianID:        technicianID,
		TotalEarningsCents:  ledger.TotalEarningsCents,
		PendingPayoutCents:  ledger.PendingPayoutCents,
		ReservedPayoutCents: ledger.ReservedPayoutCents,
		AvailableCents:      ledger.AvailableCents(),
		PayoutThreshold:     s.threshold,
	}, nil
}

func (s *service) ListPayouts(ctx context.Context, technicianID uuid.UUID, limit int) ([]models.PayoutRequest, error) {
	requests, err := s.requests.ListByTechnician(ctx, technicianID, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payouts")
	}
	return requests, nil
}

func resultFor(request *models.PayoutRequest) *PayoutResult {
	res := &PayoutResult{
		PayoutID:    request.ID,
		Status:      request.Status,
		AmountCents: request.AmountCents,
	}
	if request.GatewayPayoutID != nil {
		res.GatewayPayoutID = *request.GatewayPayoutID
	}
	if request.FailureReason != nil {
		res.FailureReason = *request.FailureReason
	}
	return res
}
