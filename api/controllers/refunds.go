package controllers

import (
	"net/http"
	"time"

	"github.com/angelmondragon/fixora-backend/api/responses"
	"github.com/angelmondragon/fixora-backend/api/validators"
	"github.com/angelmondragon/fixora-backend/internal/refunds"
	pkgerrors "github.com/angelmondragon/fixora-backend/pkg/errors"
	"github.com/angelmondragon/fixora-backend/pkg/logger"
)

// QuoteRefund previews the refund split without touching any booking.
func QuoteRefund(svc refunds.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "refund service unavailable"))
			return
		}

		var payload quoteRefundRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := refunds.QuoteInput{
			AmountCents: payload.AmountCents,
			BookedAt:    payload.BookedAt,
			ServiceAt:   payload.ServiceAt,
		}
		if payload.CanceledAt != nil {
			input.CanceledAt = *payload.CanceledAt
		}

		breakdown, err := svc.Quote(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, breakdown)
	}
}

type quoteRefundRequest struct {
	AmountCents int64      `json:"amount_cents" validate:"required,gt=0"`
	BookedAt    time.Time  `json:"booked_at" validate:"required"`
	ServiceAt   time.Time  `json:"service_at" validate:"required"`
	CanceledAt  *time.Time `json:"canceled_at,omitempty"`
}
