package responses

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/fixora-backend/pkg/errors"
	"github.com/angelmondragon/fixora-backend/pkg/logger"
)

func decodeFailure(t *testing.T, w *httptest.ResponseRecorder) Problem {
	t.Helper()
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	var body Failure
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body.Error
}

func TestWriteSuccessStatus(t *testing.T) {
	w := httptest.NewRecorder()
	WriteSuccessStatus(w, http.StatusAccepted, map[string]string{"status": "pending"})

	assert.Equal(t, http.StatusAccepted, w.Code)
	var body Success
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, map[string]any{"status": "pending"}, body.Data)
}

func TestWriteError(t *testing.T) {
	cases := []struct {
		name        string
		err         error
		wantStatus  int
		wantCode    pkgerrors.Code
		wantMessage string
		wantDetails bool
	}{
		{
			name:        "validation keeps message and details",
			err:         pkgerrors.New(pkgerrors.CodeValidation, "amount_cents is required").WithDetails(map[string]any{"field": "amount_cents"}),
			wantStatus:  http.StatusBadRequest,
			wantCode:    pkgerrors.CodeValidation,
			wantMessage: "amount_cents is required",
			wantDetails: true,
		},
		{
			name:        "otp mismatch exposes remaining attempts",
			err:         pkgerrors.New(pkgerrors.CodeOtpInvalid, "completion code is incorrect").WithDetails(map[string]any{"remaining_attempts": 2}),
			wantStatus:  http.StatusUnprocessableEntity,
			wantCode:    pkgerrors.CodeOtpInvalid,
			wantMessage: "completion code is incorrect",
			wantDetails: true,
		},
		{
			name:        "gateway outage reads as processing",
			err:         pkgerrors.Wrap(pkgerrors.CodeGatewayUnavailable, errors.New("dial tcp: timeout"), "capture call timed out"),
			wantStatus:  http.StatusServiceUnavailable,
			wantCode:    pkgerrors.CodeGatewayUnavailable,
			wantMessage: "processing",
		},
		{
			name:        "untyped error becomes internal",
			err:         errors.New("boom"),
			wantStatus:  http.StatusInternalServerError,
			wantCode:    pkgerrors.CodeInternal,
			wantMessage: "internal server error",
		},
		{
			name:        "nil error becomes internal",
			wantStatus:  http.StatusInternalServerError,
			wantCode:    pkgerrors.CodeInternal,
			wantMessage: "internal server error",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(context.Background(), nil, w, tc.err)

			assert.Equal(t, tc.wantStatus, w.Code)
			problem := decodeFailure(t, w)
			assert.Equal(t, string(tc.wantCode), problem.Code)
			assert.Equal(t, tc.wantMessage, problem.Message)
			if tc.wantDetails {
				assert.NotNil(t, problem.Details)
			} else {
				assert.Nil(t, problem.Details)
			}
		})
	}
}

func TestWriteErrorLogsAggregateDetails(t *testing.T) {
	var buf bytes.Buffer
	logg := logger.New(logger.Options{ServiceName: "responses-test", Format: "json", Output: &buf})

	err := pkgerrors.New(pkgerrors.CodeStateConflict, "order already released").
		WithDetails(map[string]any{"payment_order_id": "po_1", "status": "released", "card_last4": "4242"})
	WriteError(context.Background(), logg, httptest.NewRecorder(), err)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "request.rejected", line["message"])
	assert.Equal(t, "po_1", line["payment_order_id"])
	assert.Equal(t, "released", line["status"])
	assert.EqualValues(t, http.StatusUnprocessableEntity, line["http_status"])
	assert.NotContains(t, line, "card_last4")
	assert.NotContains(t, line, "pg_code")
}

func TestWriteJSONFallsBackOnEncodeFailure(t *testing.T) {
	w := httptest.NewRecorder()
	WriteSuccess(w, map[string]any{"bad": make(chan int)})

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	problem := decodeFailure(t, w)
	assert.Equal(t, string(pkgerrors.CodeInternal), problem.Code)
}
