package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation    Code = "VALIDATION_ERROR"
	CodeUnauthorized  Code = "UNAUTHORIZED"
	CodeForbidden     Code = "FORBIDDEN"
	CodeNotFound      Code = "NOT_FOUND"
	CodeConflict      Code = "CONFLICT"
	CodeStateConflict Code = "STATE_CONFLICT"
	CodeIdempotency   Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit     Code = "RATE_LIMIT_EXCEEDED"
	CodeInternal      Code = "INTERNAL_ERROR"
	CodeDependency    Code = "DEPENDENCY_ERROR"

	CodeInvalidAmount         Code = "INVALID_AMOUNT"
	CodeSignatureMismatch     Code = "SIGNATURE_MISMATCH"
	CodeGatewayUnavailable    Code = "GATEWAY_UNAVAILABLE"
	CodeCaptureFailed         Code = "CAPTURE_FAILED"
	CodeDuplicateOperation    Code = "DUPLICATE_OPERATION"
	CodeOtpInvalid            Code = "OTP_INVALID"
	CodeOtpExpiredOrExhausted Code = "OTP_EXPIRED_OR_EXHAUSTED"
	CodeRefundWindowClosed    Code = "REFUND_WINDOW_CLOSED"
	CodeInsufficientBalance   Code = "INSUFFICIENT_BALANCE"
	CodeGatewayRejected       Code = "GATEWAY_REJECTED"
)

type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
}

// metadataByCode maps each code to its HTTP surface. Codes missing here
// fall back to CodeInternal.
var metadataByCode = map[Code]Metadata{
	CodeValidation:            {HTTPStatus: http.StatusBadRequest, PublicMessage: "validation failed", DetailsAllowed: true},
	CodeUnauthorized:          {HTTPStatus: http.StatusUnauthorized, PublicMessage: "authentication required"},
	CodeForbidden:             {HTTPStatus: http.StatusForbidden, PublicMessage: "access denied"},
	CodeNotFound:              {HTTPStatus: http.StatusNotFound, PublicMessage: "resource not found"},
	CodeConflict:              {HTTPStatus: http.StatusConflict, PublicMessage: "conflict detected"},
	CodeStateConflict:         {HTTPStatus: http.StatusUnprocessableEntity, PublicMessage: "state transition disallowed", DetailsAllowed: true},
	CodeIdempotency:           {HTTPStatus: http.StatusConflict, PublicMessage: "idempotency key reused", DetailsAllowed: true},
	CodeRateLimit:             {HTTPStatus: http.StatusTooManyRequests, PublicMessage: "rate limit exceeded"},
	CodeInternal:              {HTTPStatus: http.StatusInternalServerError, Retryable: true, PublicMessage: "internal server error"},
	CodeDependency:            {HTTPStatus: http.StatusServiceUnavailable, Retryable: true, PublicMessage: "dependency unavailable", DetailsAllowed: true},
	CodeInvalidAmount:         {HTTPStatus: http.StatusBadRequest, PublicMessage: "amount outside allowed bounds", DetailsAllowed: true},
	CodeSignatureMismatch:     {HTTPStatus: http.StatusUnauthorized, PublicMessage: "payment signature mismatch"},
	// callers surface this as "processing"; the operation may still settle.
	CodeGatewayUnavailable:    {HTTPStatus: http.StatusServiceUnavailable, Retryable: true, PublicMessage: "processing"},
	CodeCaptureFailed:         {HTTPStatus: http.StatusPaymentRequired, PublicMessage: "payment capture failed", DetailsAllowed: true},
	CodeDuplicateOperation:    {HTTPStatus: http.StatusOK, PublicMessage: "operation already applied", DetailsAllowed: true},
	CodeOtpInvalid:            {HTTPStatus: http.StatusUnprocessableEntity, PublicMessage: "invalid completion code", DetailsAllowed: true},
	CodeOtpExpiredOrExhausted: {HTTPStatus: http.StatusGone, PublicMessage: "completion code expired"},
	CodeRefundWindowClosed:    {HTTPStatus: http.StatusUnprocessableEntity, PublicMessage: "too close to service start"},
	CodeInsufficientBalance:   {HTTPStatus: http.StatusUnprocessableEntity, PublicMessage: "insufficient balance", DetailsAllowed: true},
	CodeGatewayRejected:       {HTTPStatus: http.StatusBadGateway, PublicMessage: "payment provider rejected the request", DetailsAllowed: true},
}

func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// IsCode reports whether the outermost *Error in err's chain carries code.
func IsCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.Code() == code
}

func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}
