// Package gatewaytest provides an in-memory gateway.Gateway for tests.
package gatewaytest

import (
	"context"
	"fmt"
	"sync"

	"github.com/angelmondragon/fixora-backend/pkg/gateway"
)

// Fake succeeds by default. Set the *Fn hooks to script failures. Every
// request is recorded so tests can assert on idempotency keys.
type Fake struct {
	mu sync.Mutex

	CreateOrderFn  func(req gateway.CreateOrderRequest) (gateway.CreateOrderResult, error)
	CaptureFn      func(req gateway.CaptureRequest) (gateway.CaptureResult, error)
	RefundFn       func(req gateway.RefundRequest) (gateway.RefundResult, error)
	CreatePayoutFn func(req gateway.PayoutRequest) (gateway.PayoutResult, error)

	Orders   []gateway.CreateOrderRequest
	Captures []gateway.CaptureRequest
	Refunds  []gateway.RefundRequest
	Payouts  []gateway.PayoutRequest
}

var _ gateway.Gateway = (*Fake)(nil)

func (f *Fake) CreateOrder(_ context.Context, req gateway.CreateOrderRequest) (gateway.CreateOrderResult, error) {
	f.mu.Lock()
	f.Orders = append(f.Orders, req)
	n := len(f.Orders)
	fn := f.CreateOrderFn
	f.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return gateway.CreateOrderResult{GatewayOrderID: fmt.Sprintf("order_%d_%s", n, req.IdempotencyKey), Status: "created"}, nil
}

func (f *Fake) Capture(_ context.Context, req gateway.CaptureRequest) (gateway.CaptureResult, error) {
	f.mu.Lock()
	f.Captures = append(f.Captures, req)
	fn := f.CaptureFn
	f.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return gateway.CaptureResult{Status: "captured"}, nil
}

func (f *Fake) Refund(_ context.Context, req gateway.RefundRequest) (gateway.RefundResult, error) {
	f.mu.Lock()
	f.Refunds = append(f.Refunds, req)
	n := len(f.Refunds)
	fn := f.RefundFn
	f.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return gateway.RefundResult{RefundID: fmt.Sprintf("rfnd_%d", n), Status: "processed"}, nil
}

func (f *Fake) CreatePayout(_ context.Context, req gateway.PayoutRequest) (gateway.PayoutResult, error) {
	f.mu.Lock()
	f.Payouts = append(f.Payouts, req)
	n := len(f.Payouts)
	fn := f.CreatePayoutFn
	f.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return gateway.PayoutResult{PayoutID: fmt.Sprintf("pout_%d", n), Status: "processed"}, nil
}

// CaptureCount returns how many capture calls were made.
func (f *Fake) CaptureCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Captures)
}

// PayoutCount returns how many payout calls were made.
func (f *Fake) PayoutCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Payouts)
}

// RefundCount returns how many refund calls were made.
func (f *Fake) RefundCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Refunds)
}
