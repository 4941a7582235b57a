package controllers

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fixora-backend/internal/completion"
	"github.com/angelmondragon/fixora-backend/internal/payments"
	"github.com/angelmondragon/fixora-backend/internal/payouts"
	"github.com/angelmondragon/fixora-backend/internal/refunds"
	"github.com/angelmondragon/fixora-backend/pkg/db/models"
)

type stubPaymentService struct {
	authorizeFn func(payments.AuthorizeInput) (*payments.AuthorizeResult, error)
	confirmFn   func(payments.ConfirmCaptureInput) (*payments.ConfirmCaptureResult, error)
	orderFn     func(uuid.UUID, payments.Viewer) (*models.PaymentOrder, error)
	bookingFn   func(uuid.UUID, payments.Viewer) (*models.Booking, error)
	cancelFn    func(uuid.UUID, uuid.UUID) (*models.PaymentOrder, error)
}

func (s stubPaymentService) Authorize(_ context.Context, input payments.AuthorizeInput) (*payments.AuthorizeResult, error) {
	return s.authorizeFn(input)
}

func (s stubPaymentService) ConfirmCapture(_ context.Context, input payments.ConfirmCaptureInput) (*payments.ConfirmCaptureResult, error) {
	return s.confirmFn(input)
}

func (s stubPaymentService) GetOrder(_ context.Context, orderID uuid.UUID, viewer payments.Viewer) (*models.PaymentOrder, error) {
	return s.orderFn(orderID, viewer)
}

func (s stubPaymentService) GetBooking(_ context.Context, bookingID uuid.UUID, viewer payments.Viewer) (*models.Booking, error) {
	return s.bookingFn(bookingID, viewer)
}

func (s stubPaymentService) CancelAuthorization(_ context.Context, orderID, customerID uuid.UUID) (*models.PaymentOrder, error) {
	return s.cancelFn(orderID, customerID)
}

func (stubPaymentService) FailPending(context.Context, string, string) (bool, error) {
	return false, nil
}

func (stubPaymentService) ExpireStalePending(context.Context, time.Duration, int) (int, error) {
	return 0, nil
}

type stubCompletionService struct {
	issueFn   func(completion.IssueCodeInput) (*completion.IssueCodeResult, error)
	releaseFn func(completion.ReleaseInput) (*completion.ReleaseResult, error)
}

func (stubCompletionService) RequestCompletion(context.Context, uuid.UUID, uuid.UUID) (*models.CompletionRecord, error) {
	return nil, nil
}

func (s stubCompletionService) IssueCode(_ context.Context, input completion.IssueCodeInput) (*completion.IssueCodeResult, error) {
	return s.issueFn(input)
}

func (s stubCompletionService) ReleaseOnOTP(_ context.Context, input completion.ReleaseInput) (*completion.ReleaseResult, error) {
	return s.releaseFn(input)
}

func (stubCompletionService) ExpireStaleCodes(context.Context, int) (int64, error) {
	return 0, nil
}

type stubRefundService struct {
	quoteFn  func(refunds.QuoteInput) (refunds.Breakdown, error)
	cancelFn func(refunds.CancelInput) (*refunds.CancelResult, error)
}

func (s stubRefundService) Quote(_ context.Context, input refunds.QuoteInput) (refunds.Breakdown, error) {
	return s.quoteFn(input)
}

func (s stubRefundService) Cancel(_ context.Context, input refunds.CancelInput) (*refunds.CancelResult, error) {
	return s.cancelFn(input)
}

type stubPayoutService struct {
	requestFn func(payouts.PayoutInput) (*payouts.PayoutResult, error)
	ledgerFn  func(uuid.UUID) (*payouts.LedgerSummary, error)
	listFn    func(uuid.UUID, int) ([]models.PayoutRequest, error)
}

func (s stubPayoutService) RequestPayout(_ context.Context, input payouts.PayoutInput) (*payouts.PayoutResult, error) {
	return s.requestFn(input)
}

func (stubPayoutService) ReconcileProcessing(context.Context, time.Duration, int) (int, error) {
	return 0, nil
}

func (s stubPayoutService) GetLedger(_ context.Context, technicianID uuid.UUID) (*payouts.LedgerSummary, error) {
	return s.ledgerFn(technicianID)
}

func (s stubPayoutService) ListPayouts(_ context.Context, technicianID uuid.UUID, limit int) ([]models.PayoutRequest, error) {
	return s.listFn(technicianID, limit)
}
