package stripe

import (
	"context"
	"errors"
	"net/http"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/paymentintent"
	"github.com/stripe/stripe-go/v84/refund"
	"github.com/stripe/stripe-go/v84/transfer"

	"github.com/angelmondragon/fixora-backend/pkg/gateway"
)

// backend is the subset of Stripe's resource packages the adapter calls.
type backend struct {
	newPaymentIntent     func(*stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	capturePaymentIntent func(string, *stripe.PaymentIntentCaptureParams) (*stripe.PaymentIntent, error)
	newRefund            func(*stripe.RefundParams) (*stripe.Refund, error)
	newTransfer          func(*stripe.TransferParams) (*stripe.Transfer, error)
}

func defaultBackend() backend {
	return backend{
		newPaymentIntent:     paymentintent.New,
		capturePaymentIntent: paymentintent.Capture,
		newRefund:            refund.New,
		newTransfer:          transfer.New,
	}
}

// Gateway adapts Stripe to gateway.Gateway: orders are manual-capture
// PaymentIntents and payouts are transfers to the technician's connected
// account.
type Gateway struct {
	client  *Client
	backend backend
}

var _ gateway.Gateway = (*Gateway)(nil)

func NewGateway(client *Client) (*Gateway, error) {
	if client == nil {
		return nil, errors.New("stripe client is required")
	}
	return &Gateway{client: client, backend: defaultBackend()}, nil
}

func (g *Gateway) CreateOrder(ctx context.Context, req gateway.CreateOrderRequest) (gateway.CreateOrderResult, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.AmountCents),
		Currency:      stripe.String(string(req.Currency)),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
	}
	if req.ReceiptEmail != "" {
		params.ReceiptEmail = stripe.String(req.ReceiptEmail)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)

	pi, err := g.backend.newPaymentIntent(params)
	if err != nil {
		return gateway.CreateOrderResult{}, mapError("create_order", err)
	}
	return gateway.CreateOrderResult{GatewayOrderID: pi.ID, Status: string(pi.Status)}, nil
}

func (g *Gateway) Capture(ctx context.Context, req gateway.CaptureRequest) (gateway.CaptureResult, error) {
	params := &stripe.PaymentIntentCaptureParams{
		AmountToCapture: stripe.Int64(req.AmountCents),
	}
	params.AddMetadata("gateway_payment_id", req.GatewayPaymentID)
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)

	pi, err := g.backend.capturePaymentIntent(req.GatewayOrderID, params)
	if err != nil {
		return gateway.CaptureResult{}, mapError("capture", err)
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		return gateway.CaptureResult{}, &gateway.RejectedError{
			Op:     "capture",
			Code:   string(pi.Status),
			Reason: "payment intent not captured",
		}
	}
	return gateway.CaptureResult{Status: string(pi.Status)}, nil
}

func (g *Gateway) Refund(ctx context.Context, req gateway.RefundRequest) (gateway.RefundResult, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.GatewayOrderID),
		Amount:        stripe.Int64(req.AmountCents),
	}
	for k, v := range req.Notes {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)

	re, err := g.backend.newRefund(params)
	if err != nil {
		return gateway.RefundResult{}, mapError("refund", err)
	}
	if re.Status == stripe.RefundStatusFailed || re.Status == stripe.RefundStatusCanceled {
		return gateway.RefundResult{}, &gateway.RejectedError{Op: "refund", Code: string(re.Status), Reason: "refund not accepted"}
	}
	return gateway.RefundResult{RefundID: re.ID, Status: string(re.Status)}, nil
}

func (g *Gateway) CreatePayout(ctx context.Context, req gateway.PayoutRequest) (gateway.PayoutResult, error) {
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(req.AmountCents),
		Currency:    stripe.String(string(req.Currency)),
		Destination: stripe.String(req.Destination),
	}
	params.AddMetadata("payout_method", string(req.Method))
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)

	tr, err := g.backend.newTransfer(params)
	if err != nil {
		return gateway.PayoutResult{}, mapError("create_payout", err)
	}
	return gateway.PayoutResult{PayoutID: tr.ID, Status: "paid"}, nil
}

// mapError sorts Stripe failures into transient and terminal. Rate limits,
// 5xx responses and transport errors are transient.
func mapError(op string, err error) error {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return gateway.Unavailable(op, err)
	}
	status := stripeErr.HTTPStatusCode
	if status == 0 || status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
		return gateway.Unavailable(op, err)
	}
	if stripeErr.Code == stripe.ErrorCodeIdempotencyKeyInUse {
		return gateway.Unavailable(op, err)
	}
	return &gateway.RejectedError{
		Op:     op,
		Code:   string(stripeErr.Code),
		Reason: stripeErr.Msg,
	}
}
