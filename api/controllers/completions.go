package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/fixora-backend/api/responses"
	"github.com/angelmondragon/fixora-backend/api/validators"
	"github.com/angelmondragon/fixora-backend/internal/completion"
	pkgerrors "github.com/angelmondragon/fixora-backend/pkg/errors"
	"github.com/angelmondragon/fixora-backend/pkg/logger"
)

// VerifyCompletion lets the assigned technician submit the customer's code
// and release the escrowed earnings.
func VerifyCompletion(svc completion.Service, logg *logger.Logger) http.HandlerFunc {
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

		completionID, err := validators.ParseUUIDParam(r, "completionId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload verifyCompletionRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		ctx := r.Context()
		if logg != nil {
			ctx = logg.WithTechnicianID(ctx, viewer.UserID.String())
		}

		result, err := svc.ReleaseOnOTP(ctx, completion.ReleaseInput{
			CompletionID: completionID,
			TechnicianID: viewer.UserID,
			Code:         payload.Code,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, verifyCompletionResponse{
			CompletionID:      result.CompletionID,
			PaymentOrderID:    result.PaymentOrderID,
			Released:          result.Released,
			RemainingAttempts: result.RemainingAttempts,
			CreditedCents:     result.CreditedCents,
			Duplicate:         result.Duplicate,
		})
	}
}

type verifyCompletionRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

type verifyCompletionResponse struct {
	CompletionID      uuid.UUID `json:"completion_id"`
	PaymentOrderID    uuid.UUID `json:"payment_order_id"`
	Released          bool      `json:"released"`
	RemainingAttempts int       `json:"remaining_attempts"`
	CreditedCents     int64     `json:"credited_cents"`
	Duplicate         bool      `json:"duplicate"`
}
