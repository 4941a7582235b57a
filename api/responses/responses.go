// Package responses writes the JSON envelopes every handler returns:
// {"data": ...} on success and {"error": {code, message, details}} on failure.
package responses

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	pkgerrors "github.com/angelmondragon/fixora-backend/pkg/errors"
	"github.com/angelmondragon/fixora-backend/pkg/logger"
)

// Success wraps a handler payload.
type Success struct {
	Data any `json:"data"`
}

// Failure is the body of every non-2xx response.
type Failure struct {
	Error Problem `json:"error"`
}

// Problem carries a stable machine code and a caller-safe message.
type Problem struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, Success{Data: data})
}

// Codes whose service message is safe to show the caller. Everything else
// gets the generic public message from the error metadata.
var publicMessageCodes = map[pkgerrors.Code]struct{}{
	pkgerrors.CodeValidation:            {},
	pkgerrors.CodeForbidden:             {},
	pkgerrors.CodeUnauthorized:          {},
	pkgerrors.CodeNotFound:              {},
	pkgerrors.CodeConflict:              {},
	pkgerrors.CodeStateConflict:         {},
	pkgerrors.CodeIdempotency:           {},
	pkgerrors.CodeRateLimit:             {},
	pkgerrors.CodeInvalidAmount:         {},
	pkgerrors.CodeOtpInvalid:            {},
	pkgerrors.CodeOtpExpiredOrExhausted: {},
	pkgerrors.CodeRefundWindowClosed:    {},
	pkgerrors.CodeInsufficientBalance:   {},
	pkgerrors.CodeGatewayRejected:       {},
}

// detail keys copied onto the log line so rejected requests can be traced
// back to the aggregate they touched.
var loggedDetailKeys = []string{"payment_order_id", "booking_id", "payout_id", "status", "reason"}

func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}
	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}
	meta := pkgerrors.MetadataFor(typed.Code())

	problem := Problem{Code: string(typed.Code()), Message: meta.PublicMessage}
	if _, ok := publicMessageCodes[typed.Code()]; ok && typed.Message() != "" {
		problem.Message = typed.Message()
	}
	if meta.DetailsAllowed {
		problem.Details = typed.Details()
	}

	if logg != nil {
		logRejection(ctx, logg, err, typed, meta.HTTPStatus)
	}
	writeJSON(w, meta.HTTPStatus, Failure{Error: problem})
}

func logRejection(ctx context.Context, logg *logger.Logger, err error, typed *pkgerrors.Error, status int) {
	dump := pkgerrors.Dump(err)
	fields := map[string]any{
		"error":       dump.TopMessage,
		"error_code":  dump.Code,
		"error_chain": dump.Chain,
		"http_status": status,
	}
	if dump.PGCode != "" {
		fields["pg_code"] = dump.PGCode
		fields["pg_detail"] = dump.PGDetail
		fields["pg_constraint"] = dump.PGConstraint
	}
	if details, ok := typed.Details().(map[string]any); ok {
		for _, key := range loggedDetailKeys {
			if v, ok := details[key]; ok {
				fields[key] = v
			}
		}
	}

	ctx = logg.WithFields(ctx, fields)
	if status >= http.StatusInternalServerError {
		logg.Error(ctx, "request.error", err)
		return
	}
	logg.Warn(ctx, "request.rejected")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":{"code":"INTERNAL_ERROR","message":"failed to encode response"}}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}
