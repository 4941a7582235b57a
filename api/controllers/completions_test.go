package controllers

import (
	"net/http"
	"testing"

	"github.com/google/uuid"

	"github.com/angelmondragon/fixora-backend/internal/completion"
	"github.com/angelmondragon/fixora-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fixora-backend/pkg/errors"
)

func TestVerifyCompletionReleases(t *testing.T) {
	completionID := uuid.New()
	techID := uuid.New()
	var got completion.ReleaseInput
	svc := stubCompletionService{releaseFn: func(input completion.ReleaseInput) (*completion.ReleaseResult, error) {
		got = input
		return &completion.ReleaseResult{
			CompletionID:      input.CompletionID,
			PaymentOrderID:    uuid.New(),
			Released:          true,
			RemainingAttempts: 2,
			CreditedCents:     85000,
		}, nil
	}}

	rec := serve(t, VerifyCompletion(svc, nil), actorRequest{
		method: http.MethodPost,
		target: "/api/v1/completions/" + completionID.String() + "/verify",
		body:   `{"code":"482913"}`,
		userID: techID,
		role:   enums.ActorRoleTechnician,
		params: map[string]string{"completionId": completionID.String()},
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d (%s)", rec.Code, rec.Body.String())
	}
	if got.TechnicianID != techID || got.Code != "482913" || got.CompletionID != completionID {
		t.Fatalf("unexpected input %+v", got)
	}

	var resp verifyCompletionResponse
	decodeData(t, rec, &resp)
	if !resp.Released || resp.CreditedCents != 85000 || resp.RemainingAttempts != 2 {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestVerifyCompletionRejectsMalformedCode(t *testing.T) {
	completionID := uuid.New()
	for _, body := range []string{`{"code":"12345"}`, `{"code":"12ab56"}`, `{}`} {
		rec := serve(t, VerifyCompletion(stubCompletionService{}, nil), actorRequest{
			method: http.MethodPost,
			target: "/api/v1/completions/" + completionID.String() + "/verify",
			body:   body,
			userID: uuid.New(),
			role:   enums.ActorRoleTechnician,
			params: map[string]string{"completionId": completionID.String()},
		})
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %s: expected 400 got %d", body, rec.Code)
		}
	}
}

func TestVerifyCompletionWrongCodeSurfacesAttempts(t *testing.T) {
	completionID := uuid.New()
	svc := stubCompletionService{releaseFn: func(completion.ReleaseInput) (*completion.ReleaseResult, error) {
		return nil, pkgerrors.New(pkgerrors.CodeOtpInvalid, "completion code did not match").
			WithDetails(map[string]any{"remaining_attempts": 1})
	}}

	rec := serve(t, VerifyCompletion(svc, nil), actorRequest{
		method: http.MethodPost,
		target: "/api/v1/completions/" + completionID.String() + "/verify",
		body:   `{"code":"000000"}`,
		userID: uuid.New(),
		role:   enums.ActorRoleTechnician,
		params: map[string]string{"completionId": completionID.String()},
	})

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 got %d", rec.Code)
	}
	if code := errorCode(t, rec); code != string(pkgerrors.CodeOtpInvalid) {
		t.Fatalf("unexpected code %s", code)
	}
}

func TestVerifyCompletionExhausted(t *testing.T) {
	completionID := uuid.New()
	svc := stubCompletionService{releaseFn: func(completion.ReleaseInput) (*completion.ReleaseResult, error) {
		return nil, pkgerrors.New(pkgerrors.CodeOtpExpiredOrExhausted, "completion code expired")
	}}

	rec := serve(t, VerifyCompletion(svc, nil), actorRequest{
		method: http.MethodPost,
		target: "/api/v1/completions/" + completionID.String() + "/verify",
		body:   `{"code":"000000"}`,
		userID: uuid.New(),
		role:   enums.ActorRoleTechnician,
		params: map[string]string{"completionId": completionID.String()},
	})

	if rec.Code != http.StatusGone {
		t.Fatalf("expected 410 got %d", rec.Code)
	}
}
