package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fixora-backend/api/responses"
	"github.com/angelmondragon/fixora-backend/api/validators"
	"github.com/angelmondragon/fixora-backend/internal/payments"
	"github.com/angelmondragon/fixora-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/fixora-backend/pkg/errors"
	"github.com/angelmondragon/fixora-backend/pkg/logger"
)

// AuthorizePayment opens an authorize-only gateway order for the calling customer.
func AuthorizePayment(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
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

		var payload authorizeRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Authorize(r.Context(), payments.AuthorizeInput{
			AmountCents:  payload.AmountCents,
			CustomerID:   viewer.UserID,
			TechnicianID: payload.TechnicianID,
			Contact: payments.Contact{
				Email: validators.SanitizeString(payload.Contact.Email, 254),
				Phone: validators.SanitizeString(payload.Contact.Phone, 20),
			},
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, authorizeResponse{
			OrderID:                 result.OrderID,
			GatewayOrderID:          result.GatewayOrderID,
			AmountCents:             result.AmountCents,
			CommissionCents:         result.CommissionCents,
			TechnicianEarningsCents: result.TechnicianEarningsCents,
			Currency:                string(result.Currency),
		})
	}
}

// ConfirmPayment verifies the gateway confirmation and captures the held funds.
// Replays with the same gateway payment return the original booking with 200.
func ConfirmPayment(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}

		var payload confirmRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		draft := payments.BookingDraft{
			ScheduledAt: payload.Booking.ScheduledAt.UTC(),
			Address:     validators.SanitizeString(payload.Booking.Address, 512),
		}
		if payload.Booking.Description != nil {
			draft.Description = validators.SanitizeString(*payload.Booking.Description, 2000)
		}

		result, err := svc.ConfirmCapture(r.Context(), payments.ConfirmCaptureInput{
			GatewayOrderID:   payload.GatewayOrderID,
			GatewayPaymentID: payload.GatewayPaymentID,
			Signature:        payload.Signature,
			Draft:            draft,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status := http.StatusCreated
		if result.Duplicate {
			status = http.StatusOK
		}
		responses.WriteSuccessStatus(w, status, confirmResponse{
			BookingID:      result.BookingID,
			PaymentOrderID: result.PaymentOrderID,
			Status:         string(result.Status),
			Duplicate:      result.Duplicate,
		})
	}
}

// GetPaymentOrder returns an order to its customer, its technician, or an admin.
func GetPaymentOrder(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
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

		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.GetOrder(r.Context(), orderID, viewer)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newPaymentOrderResponse(order))
	}
}

// CancelPaymentOrder voids a pending authorization before capture.
func CancelPaymentOrder(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
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

		orderID, err := validators.ParseUUIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		order, err := svc.CancelAuthorization(r.Context(), orderID, viewer.UserID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newPaymentOrderResponse(order))
	}
}

type contactRequest struct {
	Email string `json:"email" validate:"omitempty,email,max=254"`
	Phone string `json:"phone" validate:"omitempty,e164"`
}

type authorizeRequest struct {
	TechnicianID uuid.UUID      `json:"technician_id" validate:"required"`
	AmountCents  int64          `json:"amount_cents" validate:"required,gt=0"`
	Contact      contactRequest `json:"contact"`
}

type authorizeResponse struct {
	OrderID                 uuid.UUID `json:"order_id"`
	GatewayOrderID          string    `json:"gateway_order_id"`
	AmountCents             int64     `json:"amount_cents"`
	CommissionCents         int64     `json:"commission_cents"`
	TechnicianEarningsCents int64     `json:"technician_earnings_cents"`
	Currency                string    `json:"currency"`
}

type bookingDraftRequest struct {
	ScheduledAt time.Time `json:"scheduled_at" validate:"required"`
	Address     string    `json:"address" validate:"required,notblank,max=512"`
	Description *string   `json:"description,omitempty" validate:"omitempty,max=2000"`
}

type confirmRequest struct {
	GatewayOrderID   string              `json:"gateway_order_id" validate:"required,max=255"`
	GatewayPaymentID string              `json:"gateway_payment_id" validate:"required,max=255"`
	Signature        string              `json:"signature" validate:"required,max=512"`
	Booking          bookingDraftRequest `json:"booking" validate:"required"`
}

type confirmResponse struct {
	BookingID      uuid.UUID `json:"booking_id"`
	PaymentOrderID uuid.UUID `json:"payment_order_id"`
	Status         string    `json:"status"`
	Duplicate      bool      `json:"duplicate"`
}

type paymentOrderResponse struct {
	ID                      uuid.UUID  `json:"id"`
	GatewayOrderID          string     `json:"gateway_order_id"`
	CustomerID              uuid.UUID  `json:"customer_id"`
	TechnicianID            uuid.UUID  `json:"technician_id"`
	AmountCents             int64      `json:"amount_cents"`
	CommissionCents         int64      `json:"commission_cents"`
	TechnicianEarningsCents int64      `json:"technician_earnings_cents"`
	Currency                string     `json:"currency"`
	Status                  string     `json:"status"`
	BookingID               *uuid.UUID `json:"booking_id,omitempty"`
	FailureReason           *string    `json:"failure_reason,omitempty"`
	CapturedAt              *time.Time `json:"captured_at,omitempty"`
	ReleasedAt              *time.Time `json:"released_at,omitempty"`
	RefundedAt              *time.Time `json:"refunded_at,omitempty"`
	CreatedAt               time.Time  `json:"created_at"`
}

func newPaymentOrderResponse(order *models.PaymentOrder) paymentOrderResponse {
	if order == nil {
		return paymentOrderResponse{}
	}
	return paymentOrderResponse{
		ID:                      order.ID,
		GatewayOrderID:          order.GatewayOrderID,
		CustomerID:              order.CustomerID,
		TechnicianID:            order.TechnicianID,
		AmountCents:             order.AmountCents,
		CommissionCents:         order.CommissionCents,
		TechnicianEarningsCents: order.TechnicianEarningsCents,
		Currency:                string(order.Currency),
		Status:                  string(order.Status),
		BookingID:               order.BookingID,
		FailureReason:           order.FailureReason,
		CapturedAt:              order.CapturedAt,
		ReleasedAt:              order.ReleasedAt,
		RefundedAt:              order.RefundedAt,
		CreatedAt:               order.CreatedAt,
	}
}
