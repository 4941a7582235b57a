package controllers

import (
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fixora-backend/internal/completion"
	"github.com/angelmondragon/fixora-backend/internal/payments"
	"github.com/angelmondragon/fixora-backend/internal/refunds"
	"github.com/angelmondragon/fixora-backend/pkg/db/models"
	"github.com/angelmondragon/fixora-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fixora-backend/pkg/errors"
)

func TestGetBookingNotVisible(t *testing.T) {
	bookingID := uuid.New()
	svc := stubPaymentService{bookingFn: func(uuid.UUID, payments.Viewer) (*models.Booking, error) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "booking not found")
	}}

	rec := serve(t, GetBooking(svc, nil), actorRequest{
		method: http.MethodGet,
		target: "/api/v1/bookings/" + bookingID.String(),
		userID: uuid.New(),
		role:   enums.ActorRoleCustomer,
		params: map[string]string{"bookingId": bookingID.String()},
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rec.Code)
	}
}

func TestCompleteBookingReturnsCodeOnce(t *testing.T) {
	bookingID := uuid.New()
	customerID := uuid.New()
	expires := time.Date(2026, 3, 3, 12, 10, 0, 0, time.UTC)
	var got completion.IssueCodeInput
	svc := stubCompletionService{issueFn: func(input completion.IssueCodeInput) (*completion.IssueCodeResult, error) {
		got = input
		return &completion.IssueCodeResult{
			CompletionID:      uuid.New(),
			Code:              "482913",
			ExpiresAt:         expires,
			AttemptsRemaining: 3,
			Status:            enums.CompletionStatusOTPIssued,
		}, nil
	}}

	rec := serve(t, CompleteBooking(svc, nil), actorRequest{
		method: http.MethodPost,
		target: "/api/v1/bookings/" + bookingID.String() + "/complete",
		userID: customerID,
		role:   enums.ActorRoleCustomer,
		params: map[string]string{"bookingId": bookingID.String()},
	})

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d (%s)", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("expected no-store cache header")
	}
	if got.BookingID != bookingID || got.CustomerID != customerID {
		t.Fatalf("unexpected input %+v", got)
	}

	var resp completionCodeResponse
	decodeData(t, rec, &resp)
	if resp.Code != "482913" || resp.AttemptsRemaining != 3 || !resp.ExpiresAt.Equal(expires) {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestCompleteBookingDuplicateOmitsCode(t *testing.T) {
	bookingID := uuid.New()
	svc := stubCompletionService{issueFn: func(completion.IssueCodeInput) (*completion.IssueCodeResult, error) {
		return &completion.IssueCodeResult{
			CompletionID: uuid.New(),
			Status:       enums.CompletionStatusReleased,
			Duplicate:    true,
		}, nil
	}}

	rec := serve(t, CompleteBooking(svc, nil), actorRequest{
		method: http.MethodPost,
		target: "/api/v1/bookings/" + bookingID.String() + "/complete",
		userID: uuid.New(),
		role:   enums.ActorRoleCustomer,
		params: map[string]string{"bookingId": bookingID.String()},
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	var resp completionCodeResponse
	decodeData(t, rec, &resp)
	if resp.Code != "" || !resp.Duplicate {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestCancelBookingWithoutBody(t *testing.T) {
	bookingID := uuid.New()
	var got refunds.CancelInput
	svc := stubRefundService{cancelFn: func(input refunds.CancelInput) (*refunds.CancelResult, error) {
		got = input
		return &refunds.CancelResult{
			Refund: &models.RefundRecord{
				ID:                  uuid.New(),
				BookingID:           bookingID,
				Type:                enums.RefundTypeFull,
				AmountCents:         100000,
				CustomerRefundCents: 100000,
				Status:              enums.RefundStatusProcessed,
			},
			Status: enums.RefundStatusProcessed,
		}, nil
	}}

	rec := serve(t, CancelBooking(svc, nil), actorRequest{
		method: http.MethodPost,
		target: "/api/v1/bookings/" + bookingID.String() + "/cancel",
		userID: uuid.New(),
		role:   enums.ActorRoleCustomer,
		params: map[string]string{"bookingId": bookingID.String()},
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d (%s)", rec.Code, rec.Body.String())
	}
	if got.Reason != "" {
		t.Fatalf("expected empty reason got %q", got.Reason)
	}
	var resp refundResponse
	decodeData(t, rec, &resp)
	if resp.CustomerRefundCents != 100000 || resp.Type != string(enums.RefundTypeFull) {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestCancelBookingPendingRefundAccepted(t *testing.T) {
	bookingID := uuid.New()
	svc := stubRefundService{cancelFn: func(input refunds.CancelInput) (*refunds.CancelResult, error) {
		if input.Reason != "running late" {
			t.Fatalf("unexpected reason %q", input.Reason)
		}
		return &refunds.CancelResult{
			Refund: &models.RefundRecord{ID: uuid.New(), BookingID: bookingID, Status: enums.RefundStatusPending},
			Status: enums.RefundStatusPending,
		}, nil
	}}

	rec := serve(t, CancelBooking(svc, nil), actorRequest{
		method: http.MethodPost,
		target: "/api/v1/bookings/" + bookingID.String() + "/cancel",
		body:   `{"reason":"running late"}`,
		userID: uuid.New(),
		role:   enums.ActorRoleCustomer,
		params: map[string]string{"bookingId": bookingID.String()},
	})

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202 got %d", rec.Code)
	}
}

func TestCancelBookingWindowClosed(t *testing.T) {
	bookingID := uuid.New()
	svc := stubRefundService{cancelFn: func(refunds.CancelInput) (*refunds.CancelResult, error) {
		return nil, pkgerrors.New(pkgerrors.CodeRefundWindowClosed, "cancellation window closed")
	}}

	rec := serve(t, CancelBooking(svc, nil), actorRequest{
		method: http.MethodPost,
		target: "/api/v1/bookings/" + bookingID.String() + "/cancel",
		userID: uuid.New(),
		role:   enums.ActorRoleCustomer,
		params: map[string]string{"bookingId": bookingID.String()},
	})

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 got %d", rec.Code)
	}
	if code := errorCode(t, rec); code != string(pkgerrors.CodeRefundWindowClosed) {
		t.Fatalf("unexpected code %s", code)
	}
}

func TestQuoteRefund(t *testing.T) {
	var got refunds.QuoteInput
	svc := stubRefundService{quoteFn: func(input refunds.QuoteInput) (refunds.Breakdown, error) {
		got = input
		return refunds.Breakdown{
			AmountCents:                 100000,
			CustomerRefundCents:         80000,
			TechnicianCompensationCents: 10000,
			PlatformFeeCents:            10000,
			Type:                        enums.RefundTypePartial,
		}, nil
	}}

	rec := serve(t, QuoteRefund(svc, nil), actorRequest{
		method: http.MethodPost,
		target: "/api/v1/refunds/quote",
		body:   `{"amount_cents":100000,"booked_at":"2026-03-01T10:00:00Z","service_at":"2026-03-03T10:00:00Z"}`,
		userID: uuid.New(),
		role:   enums.ActorRoleCustomer,
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d (%s)", rec.Code, rec.Body.String())
	}
	if !got.CanceledAt.IsZero() {
		t.Fatalf("expected zero cancel time when omitted")
	}
	var resp refunds.Breakdown
	decodeData(t, rec, &resp)
	if resp.Type != enums.RefundTypePartial || resp.CustomerRefundCents != 80000 {
		t.Fatalf("unexpected breakdown %+v", resp)
	}
}
