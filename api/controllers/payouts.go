package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fixora-backend/api/middleware"
	"github.com/angelmondragon/fixora-backend/api/responses"
	"github.com/angelmondragon/fixora-backend/api/validators"
	"github.com/angelmondragon/fixora-backend/internal/payouts"
	"github.com/angelmondragon/fixora-backend/pkg/db/models"
	"github.com/angelmondragon/fixora-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fixora-backend/pkg/errors"
	"github.com/angelmondragon/fixora-backend/pkg/logger"
)

// RequestPayout withdraws released earnings for the calling technician. The
// Idempotency-Key header doubles as the payout's replay key.
func RequestPayout(svc payouts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payout service unavailable"))
			return
		}

		viewer, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		key := strings.TrimSpace(r.Header.Get(middleware.IdempotencyKeyHeader))
		if key == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required"))
			return
		}

		var payload payoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.RequestPayout(r.Context(), payouts.PayoutInput{
			TechnicianID:   viewer.UserID,
			ActorID:        viewer.UserID,
			AmountCents:    payload.AmountCents,
			Method:         enums.PayoutMethod(payload.Method),
			Destination:    strings.TrimSpace(payload.Destination),
			IdempotencyKey: key,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status := http.StatusCreated
		switch {
		case result.Duplicate:
			status = http.StatusOK
		case result.Status == enums.PayoutStatusProcessing:
			status = http.StatusAccepted
		}
		resp := payoutResultResponse{
			PayoutID:    result.PayoutID,
			Status:      string(result.Status),
			AmountCents: result.AmountCents,
			Duplicate:   result.Duplicate,
		}
		if result.GatewayPayoutID != "" {
			resp.GatewayPayoutID = &result.GatewayPayoutID
		}
		if result.FailureReason != "" {
			resp.FailureReason = &result.FailureReason
		}
		responses.WriteSuccessStatus(w, status, resp)
	}
}

func ListPayouts(svc payouts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payout service unavailable"))
			return
		}

		viewer, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", validators.PageLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		requests, err := svc.ListPayouts(r.Context(), viewer.UserID, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]payoutResponse, 0, len(requests))
		for i := range requests {
			items = append(items, newPayoutResponse(&requests[i]))
		}
		responses.WriteSuccess(w, map[string]any{"payouts": items})
	}
}

// TechnicianLedger returns the caller's balances and the payout threshold.
func TechnicianLedger(svc payouts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payout service unavailable"))
			return
		}

		viewer, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		summary, err := svc.GetLedger(r.Context(), viewer.UserID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, ledgerResponse{
			TechnicianID:        summary.TechnicianID,
			TotalEarningsCents:  summary.TotalEarningsCents,
			PendingPayoutCents:  summary.PendingPayoutCents,
			ReservedPayoutCents: summary.ReservedPayoutCents,
			AvailableCents:      summary.AvailableCents,
			PayoutThreshold:     summary.PayoutThreshold,
		})
	}
}

type payoutRequest struct {
	AmountCents int64  `json:"amount_cents" validate:"required,gt=0"`
	Method      string `json:"method" validate:"required,oneof=bank_transfer upi"`
	Destination string `json:"destination" validate:"required,notblank,max=255"`
}

type payoutResultResponse struct {
	PayoutID        uuid.UUID `json:"payout_id"`
	Status          string    `json:"status"`
	AmountCents     int64     `json:"amount_cents"`
	GatewayPayoutID *string   `json:"gateway_payout_id,omitempty"`
	FailureReason   *string   `json:"failure_reason,omitempty"`
	Duplicate       bool      `json:"duplicate"`
}

type payoutResponse struct {
	ID              uuid.UUID  `json:"id"`
	AmountCents     int64      `json:"amount_cents"`
	Method          string     `json:"method"`
	Status          string     `json:"status"`
	GatewayPayoutID *string    `json:"gateway_payout_id,omitempty"`
	FailureReason   *string    `json:"failure_reason,omitempty"`
	Attempts        int        `json:"attempts"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

func newPayoutResponse(req *models.PayoutRequest) payoutResponse {
	return payoutResponse{
		ID:              req.ID,
		AmountCents:     req.AmountCents,
		Method:          string(req.Method),
		Status:          string(req.Status),
		GatewayPayoutID: req.GatewayPayoutID,
		FailureReason:   req.FailureReason,
		Attempts:        req.Attempts,
		CompletedAt:     req.CompletedAt,
		CreatedAt:       req.CreatedAt,
	}
}

type ledgerResponse struct {
	TechnicianID        uuid.UUID `json:"technician_id"`
	TotalEarningsCents  int64     `json:"total_earnings_cents"`
	PendingPayoutCents  int64     `json:"pending_payout_cents"`
	ReservedPayoutCents int64     `json:"reserved_payout_cents"`
	AvailableCents      int64     `json:"available_cents"`
	PayoutThreshold     int64     `json:"payout_threshold_cents"`
}
