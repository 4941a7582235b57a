package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fixora-backend/api/responses"
	"github.com/angelmondragon/fixora-backend/api/validators"
	"github.com/angelmondragon/fixora-backend/internal/completion"
	"github.com/angelmondragon/fixora-backend/internal/payments"
	"github.com/angelmondragon/fixora-backend/internal/refunds"
	"github.com/angelmondragon/fixora-backend/pkg/db/models"
	"github.com/angelmondragon/fixora-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fixora-backend/pkg/errors"
	"github.com/angelmondragon/fixora-backend/pkg/logger"
)

func GetBooking(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}

		viewer, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		bookingID, err := validators.ParseUUIDParam(r, "bookingId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		booking, err := svc.GetBooking(r.Context(), bookingID, viewer)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newBookingResponse(booking))
	}
}

// CompleteBooking hands the customer a fresh completion code to read out to
// the technician. The plaintext code only ever appears in this response.
func CompleteBooking(svc completion.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "completion service unavailable"))
			return
		}

		viewer, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		bookingID, err := validators.ParseUUIDParam(r, "bookingId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.IssueCode(r.Context(), completion.IssueCodeInput{
			BookingID:  bookingID,
			CustomerID: viewer.UserID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		w.Header().Set("Cache-Control", "no-store")
		status := http.StatusCreated
		if result.Duplicate {
			status = http.StatusOK
		}
		responses.WriteSuccessStatus(w, status, completionCodeResponse{
			CompletionID:      result.CompletionID,
			Code:              result.Code,
			ExpiresAt:         result.ExpiresAt,
			AttemptsRemaining: result.AttemptsRemaining,
			Status:            string(result.Status),
			Duplicate:         result.Duplicate,
		})
	}
}

// CancelBooking cancels a captured booking and refunds it per the
// cancellation windows. A pending refund answers 202 and may be retried.
func CancelBooking(svc refunds.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "refund service unavailable"))
			return
		}

		viewer, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		bookingID, err := validators.ParseUUIDParam(r, "bookingId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload cancelBookingRequest
		if err := decodeOptionalBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Cancel(r.Context(), refunds.CancelInput{
			BookingID:  bookingID,
			CustomerID: viewer.UserID,
			Reason:     validators.SanitizeString(payload.Reason, 500),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status := http.StatusOK
		if result.Status == enums.RefundStatusPending {
			status = http.StatusAccepted
		}
		resp := newRefundResponse(result.Refund)
		resp.Status = string(result.Status)
		resp.Duplicate = result.Duplicate
		responses.WriteSuccessStatus(w, status, resp)
	}
}

type cancelBookingRequest struct {
	Reason string `json:"reason" validate:"omitempty,max=500"`
}

type bookingResponse struct {
	ID             uuid.UUID  `json:"id"`
	PaymentOrderID uuid.UUID  `json:"payment_order_id"`
	CustomerID     uuid.UUID  `json:"customer_id"`
	TechnicianID   uuid.UUID  `json:"technician_id"`
	Status         string     `json:"status"`
	ScheduledAt    time.Time  `json:"scheduled_at"`
	Address        string     `json:"address"`
	Description    *string    `json:"description,omitempty"`
	AmountCents    int64      `json:"amount_cents"`
	CanceledAt     *time.Time `json:"canceled_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func newBookingResponse(booking *models.Booking) bookingResponse {
	if booking == nil {
		return bookingResponse{}
	}
	return bookingResponse{
		ID:             booking.ID,
		PaymentOrderID: booking.PaymentOrderID,
		CustomerID:     booking.CustomerID,
		TechnicianID:   booking.TechnicianID,
		Status:         string(booking.Status),
		ScheduledAt:    booking.ScheduledAt,
		Address:        booking.Address,
		Description:    booking.Description,
		AmountCents:    booking.AmountCents,
		CanceledAt:     booking.CanceledAt,
		CreatedAt:      booking.CreatedAt,
	}
}

type completionCodeResponse struct {
	CompletionID      uuid.UUID `json:"completion_id"`
	Code              string    `json:"code"`
	ExpiresAt         time.Time `json:"expires_at"`
	AttemptsRemaining int       `json:"attempts_remaining"`
	Status            string    `json:"status"`
	Duplicate         bool      `json:"duplicate"`
}

type refundResponse struct {
	ID                          uuid.UUID  `json:"id"`
	PaymentOrderID              uuid.UUID  `json:"payment_order_id"`
	BookingID                   uuid.UUID  `json:"booking_id"`
	Type                        string     `json:"type"`
	Status                      string     `json:"status"`
	AmountCents                 int64      `json:"amount_cents"`
	CustomerRefundCents         int64      `json:"customer_refund_cents"`
	TechnicianCompensationCents int64      `json:"technician_compensation_cents"`
	PlatformFeeCents            int64      `json:"platform_fee_cents"`
	GatewayRefundID             *string    `json:"gateway_refund_id,omitempty"`
	ProcessedAt                 *time.Time `json:"processed_at,omitempty"`
	Duplicate                   bool       `json:"duplicate"`
}

func newRefundResponse(record *models.RefundRecord) refundResponse {
	if record == nil {
		return refundResponse{}
	}
	return refundResponse{
		ID:                          record.ID,
		PaymentOrderID:              record.PaymentOrderID,
		BookingID:                   record.BookingID,
		Type:                        string(record.Type),
		Status:                      string(record.Status),
		AmountCents:                 record.AmountCents,
		CustomerRefundCents:         record.CustomerRefundCents,
		TechnicianCompensationCents: record.TechnicianCompensationCents,
		PlatformFeeCents:            record.PlatformFeeCents,
		GatewayRefundID:             record.GatewayRefundID,
		ProcessedAt:                 record.ProcessedAt,
	}
}
