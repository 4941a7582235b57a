package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allCodes = []Code{
	CodeValidation, CodeUnauthorized, CodeForbidden, CodeNotFound, CodeConflict,
	CodeStateConflict, CodeIdempotency, CodeRateLimit, CodeInternal, CodeDependency,
	CodeInvalidAmount, CodeSignatureMismatch, CodeGatewayUnavailable, CodeCaptureFailed,
	CodeDuplicateOperation, CodeOtpInvalid, CodeOtpExpiredOrExhausted, CodeRefundWindowClosed,
	CodeInsufficientBalance, CodeGatewayRejected,
}

func TestEveryCodeHasMetadata(t *testing.T) {
	for _, code := range allCodes {
		meta, ok := metadataByCode[code]
		require.True(t, ok, "code %s has no metadata", code)
		assert.NotZero(t, meta.HTTPStatus, code)
		assert.NotEmpty(t, meta.PublicMessage, code)
	}
	assert.Len(t, metadataByCode, len(allCodes))
}

func TestSettlementCodeSurface(t *testing.T) {
	cases := []struct {
		code      Code
		status    int
		retryable bool
	}{
		{CodeStateConflict, http.StatusUnprocessableEntity, false},
		{CodeIdempotency, http.StatusConflict, false},
		{CodeGatewayUnavailable, http.StatusServiceUnavailable, true},
		{CodeGatewayRejected, http.StatusBadGateway, false},
		{CodeCaptureFailed, http.StatusPaymentRequired, false},
		{CodeOtpExpiredOrExhausted, http.StatusGone, false},
		{CodeDependency, http.StatusServiceUnavailable, true},
	}
	for _, tc := range cases {
		meta := MetadataFor(tc.code)
		assert.Equal(t, tc.status, meta.HTTPStatus, tc.code)
		assert.Equal(t, tc.retryable, meta.Retryable, tc.code)
	}
	assert.Equal(t, "processing", MetadataFor(CodeGatewayUnavailable).PublicMessage)
}

func TestMetadataForUnknownCodeIsInternal(t *testing.T) {
	assert.Equal(t, metadataByCode[CodeInternal], MetadataFor("SOMETHING_UNKNOWN"))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := stdErrors.New("connection reset")
	err := Wrap(CodeDependency, cause, "load ledger").WithDetails(map[string]any{"technician_id": "t-1"})

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, CodeDependency, err.Code())
	assert.Equal(t, "load ledger", err.Message())
	assert.Equal(t, "DEPENDENCY_ERROR: load ledger", err.Error())
	assert.Equal(t, map[string]any{"technician_id": "t-1"}, err.Details())

	assert.Nil(t, Wrap(CodeInternal, nil, "no cause").Unwrap())
}

func TestNilErrorAccessors(t *testing.T) {
	var err *Error
	assert.Equal(t, CodeInternal, err.Code())
	assert.Empty(t, err.Message())
	assert.Nil(t, err.Details())
	assert.Nil(t, err.WithDetails("x"))
	assert.Empty(t, err.Error())
}

func TestAsAndIsCode(t *testing.T) {
	inner := New(CodeGatewayUnavailable, "timeout")
	outer := fmt.Errorf("capture: %w", inner)

	require.NotNil(t, As(outer))
	assert.Same(t, inner, As(outer))
	assert.Nil(t, As(nil))
	assert.Nil(t, As(stdErrors.New("plain")))

	assert.True(t, IsCode(outer, CodeGatewayUnavailable))
	assert.False(t, IsCode(outer, CodeCaptureFailed))
	assert.False(t, IsCode(nil, CodeInternal))
}
