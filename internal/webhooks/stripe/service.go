package stripewebhook

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/stripe/stripe-go/v84"

	pkgerrors "github.com/angelmondragon/fixora-backend/pkg/errors"
	"github.com/angelmondragon/fixora-backend/pkg/logger"
)

type orderFailer interface {
	FailPending(ctx context.Context, gatewayOrderID, reason string) (bool, error)
}

type ServiceParams struct {
	Orders orderFailer
	Logger *logger.Logger
}

// Service reacts to PaymentIntent lifecycle events. The capture path never
// depends on a webhook; only a canceled intent closes its order.
type Service struct {
	orders orderFailer
	logg   *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment order service required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Service{
		orders: params.Orders,
		logg:   params.Logger,
	}, nil
}

func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}

	switch event.Type {
	case stripe.EventTypePaymentIntentCanceled:
		intent, err := decodeIntent(event)
		if err != nil {
			return err
		}
		changed, err := s.orders.FailPending(ctx, intent.ID, cancelReason(intent))
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fail payment order")
		}
		ctx = s.logg.WithFields(ctx, map[string]any{
			"gateway_order_id": intent.ID,
			"stripe_event":     string(event.Type),
			"changed":          changed,
		})
		s.logg.Info(ctx, "payment intent cancellation applied")
		return nil
	case stripe.EventTypePaymentIntentPaymentFailed:
		// a failed attempt leaves the intent open for another payment
		// method; the order stays pending until capture, cancel or expiry
		intent, err := decodeIntent(event)
		if err != nil {
			return err
		}
		ctx = s.logg.WithFields(ctx, map[string]any{
			"gateway_order_id": intent.ID,
			"stripe_event":     string(event.Type),
			"reason":           attemptFailure(intent),
		})
		s.logg.Info(ctx, "payment attempt failed; order left pending")
		return nil
	default:
		return nil
	}
}

func decodeIntent(event *stripe.Event) (*stripe.PaymentIntent, error) {
	var intent stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment intent event")
	}
	if intent.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment intent id missing")
	}
	return &intent, nil
}

func cancelReason(intent *stripe.PaymentIntent) string {
	if intent.CancellationReason != "" {
		return "gateway_canceled: " + string(intent.CancellationReason)
	}
	return "gateway_canceled"
}

func attemptFailure(intent *stripe.PaymentIntent) string {
	if intent.LastPaymentError != nil {
		if msg := strings.TrimSpace(intent.LastPaymentError.Msg); msg != "" {
			return msg
		}
	}
	return "unknown"
}
