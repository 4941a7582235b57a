package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/angelmondragon/fixora-backend/pkg/logger"
)

const (
	defaultCallTimeout = 30 * time.Second
	defaultRetryBase   = 200 * time.Millisecond
	maxRetryDelay      = 5 * time.Second
)

// Observer receives per-call outcomes; pkg/metrics implements it.
type Observer interface {
	ObserveGatewayCall(op string, outcome string, duration time.Duration)
}

// RetryOptions tunes the Retrying decorator.
type RetryOptions struct {
	CallTimeout time.Duration
	MaxRetries  uint64
	Base        time.Duration
	Logger      *logger.Logger
	Observer    Observer
}

// Retrying bounds every call with a timeout and retries ErrUnavailable with
// jittered exponential backoff. Rejections are returned immediately.
type Retrying struct {
	next     Gateway
	timeout  time.Duration
	retries  uint64
	base     time.Duration
	logg     *logger.Logger
	observer Observer
}

var _ Gateway = (*Retrying)(nil)

func NewRetrying(next Gateway, opts RetryOptions) (*Retrying, error) {
	if next == nil {
		return nil, errors.New("gateway is required")
	}
	r := &Retrying{
		next:     next,
		timeout:  opts.CallTimeout,
		retries:  opts.MaxRetries,
		base:     opts.Base,
		logg:     opts.Logger,
		observer: opts.Observer,
	}
	if r.timeout <= 0 {
		r.timeout = defaultCallTimeout
	}
	if r.base <= 0 {
		r.base = defaultRetryBase
	}
	return r, nil
}

func (r *Retrying) CreateOrder(ctx context.Context, req CreateOrderRequest) (CreateOrderResult, error) {
	var out CreateOrderResult
	err := r.do(ctx, "create_order", func(ctx context.Context) error {
		var err error
		out, err = r.next.CreateOrder(ctx, req)
		return err
	})
	return out, err
}

func (r *Retrying) Capture(ctx context.Context, req CaptureRequest) (CaptureResult, error) {
	var out CaptureResult
	err := r.do(ctx, "capture", func(ctx context.Context) error {
		var err error
		out, err = r.next.Capture(ctx, req)
		return err
	})
	return out, err
}

func (r *Retrying) Refund(ctx context.Context, req RefundRequest) (RefundResult, error) {
	var out RefundResult
	err := r.do(ctx, "refund", func(ctx context.Context) error {
		var err error
		out, err = r.next.Refund(ctx, req)
		return err
	})
	return out, err
}

func (r *Retrying) CreatePayout(ctx context.Context, req PayoutRequest) (PayoutResult, error) {
	var out PayoutResult
	err := r.do(ctx, "create_payout", func(ctx context.Context) error {
		var err error
		out, err = r.next.CreatePayout(ctx, req)
		return err
	})
	return out, err
}

func (r *Retrying) do(ctx context.Context, op string, fn func(context.Context) error) error {
	backoff := retry.NewExponential(r.base)
	backoff = retry.WithCappedDuration(maxRetryDelay, backoff)
	backoff = retry.WithJitterPercent(20, backoff)
	backoff = retry.WithMaxRetries(r.retries, backoff)

	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()

		started := time.Now()
		err := fn(callCtx)
		if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			err = Unavailable(op, err)
		}
		r.observe(op, err, time.Since(started))

		if err == nil {
			return nil
		}
		if IsUnavailable(err) {
			if r.logg != nil {
				logCtx := r.logg.WithFields(ctx, map[string]any{
					"gateway_op": op,
					"attempt":    attempt,
					"error":      err.Error(),
				})
				r.logg.Warn(logCtx, "gateway call unavailable, backing off")
			}
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil && ctx.Err() != nil && !IsUnavailable(err) {
		return Unavailable(op, err)
	}
	return err
}

func (r *Retrying) observe(op string, err error, d time.Duration) {
	if r.observer == nil {
		return
	}
	outcome := "ok"
	switch {
	case err == nil:
	case IsUnavailable(err):
		outcome = "unavailable"
	default:
		outcome = "rejected"
	}
	r.observer.ObserveGatewayCall(op, outcome, d)
}
