// Package gateway defines the narrow contract the settlement engine has with
// the external payment provider. Every call returns an explicit result or a
// typed failure: ErrUnavailable for transient faults, *RejectedError for
// terminal refusals.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/angelmondragon/fixora-backend/pkg/enums"
)

// ErrUnavailable marks a transient fault (timeout, 5xx, network). The
// operation may or may not have been applied; retry with the same
// idempotency key.
var ErrUnavailable = errors.New("payment gateway unavailable")

// RejectedError is a terminal refusal by the gateway.
type RejectedError struct {
	Op     string
	Code   string
	Reason string
}

func (e *RejectedError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("gateway rejected %s: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("gateway rejected %s (%s): %s", e.Op, e.Code, e.Reason)
}

// Unavailable wraps cause so errors.Is(err, ErrUnavailable) holds.
func Unavailable(op string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%s: %w", op, ErrUnavailable)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, cause)
}

// IsUnavailable reports whether err is a transient gateway fault.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// AsRejected extracts a terminal gateway refusal from err.
func AsRejected(err error) (*RejectedError, bool) {
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		return rejected, true
	}
	return nil, false
}

type CreateOrderRequest struct {
	AmountCents    int64
	Currency       enums.Currency
	IdempotencyKey string
	ReceiptEmail   string
	Metadata       map[string]string
}

type CreateOrderResult struct {
	GatewayOrderID string
	Status         string
}

type CaptureRequest struct {
	GatewayOrderID   string
	GatewayPaymentID string
	AmountCents      int64
	IdempotencyKey   string
}

type CaptureResult struct {
	Status string
}

type RefundRequest struct {
	GatewayOrderID   string
	GatewayPaymentID string
	AmountCents      int64
	IdempotencyKey   string
	Notes            map[string]string
}

type RefundResult struct {
	RefundID string
	Status   string
}

type PayoutRequest struct {
	Destination    string
	Method         enums.PayoutMethod
	AmountCents    int64
	Currency       enums.Currency
	IdempotencyKey string
	Metadata       map[string]string
}

type PayoutResult struct {
	PayoutID string
	Status   string
}

// Gateway is implemented by provider adapters (see pkg/stripe) and wrapped
// by Retrying.
type Gateway interface {
	CreateOrder(ctx context.Context, req CreateOrderRequest) (CreateOrderResult, error)
	Capture(ctx context.Context, req CaptureRequest) (CaptureResult, error)
	Refund(ctx context.Context, req RefundRequest) (RefundResult, error)
	CreatePayout(ctx context.Context, req PayoutRequest) (PayoutResult, error)
}
