// Package bootstrap assembles the settlement services shared by the api and
// background binaries.
package bootstrap

import (
	"context"
	"fmt"

	"github.com/angelmondragon/fixora-backend/internal/bookings"
	"github.com/angelmondragon/fixora-backend/internal/commission"
	"github.com/angelmondragon/fixora-backend/internal/completion"
	"github.com/angelmondragon/fixora-backend/internal/earnings"
	"github.com/angelmondragon/fixora-backend/internal/payments"
	"github.com/angelmondragon/fixora-backend/internal/payouts"
	"github.com/angelmondragon/fixora-backend/internal/refunds"
	"github.com/angelmondragon/fixora-backend/pkg/config"
	"github.com/angelmondragon/fixora-backend/pkg/db"
	"github.com/angelmondragon/fixora-backend/pkg/enums"
	"github.com/angelmondragon/fixora-backend/pkg/gateway"
	"github.com/angelmondragon/fixora-backend/pkg/logger"
	"github.com/angelmondragon/fixora-backend/pkg/metrics"
	"github.com/angelmondragon/fixora-backend/pkg/outbox"
	"github.com/angelmondragon/fixora-backend/pkg/stripe"
)

// Services groups the four settlement services over one database handle.
type Services struct {
	Payments   payments.Service
	Completion completion.Service
	Refunds    refunds.Service
	Payouts    payouts.Service
}

// Gateway returns the stripe client together with a retrying gateway that
// reports call outcomes to recorder.
func Gateway(ctx context.Context, cfg *config.Config, logg *logger.Logger, recorder *metrics.SettlementMetrics) (*stripe.Client, gateway.Gateway, error) {
	if cfg.Gateway.Provider != "" && cfg.Gateway.Provider != "stripe" {
		return nil, nil, fmt.Errorf("unsupported payment gateway %q", cfg.Gateway.Provider)
	}
	client, err := stripe.NewClient(ctx, stripe.ClientParams{
		Config:      cfg.Stripe,
		HTTPTimeout: cfg.Gateway.CallTimeout,
		Logger:      logg,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("stripe client: %w", err)
	}
	base, err := stripe.NewGateway(client)
	if err != nil {
		return nil, nil, fmt.Errorf("stripe gateway: %w", err)
	}
	opts := gateway.RetryOptions{
		CallTimeout: cfg.Gateway.CallTimeout,
		MaxRetries:  cfg.Gateway.MaxRetries,
		Base:        cfg.Gateway.RetryBase,
		Logger:      logg,
	}
	if recorder != nil {
		opts.Observer = recorder
	}
	gw, err := gateway.NewRetrying(base, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("retrying gateway: %w", err)
	}
	return client, gw, nil
}

// NewServices wires repositories, the outbox emitter, and the gateway into
// the settlement services.
func NewServices(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, gw gateway.Gateway, recorder *metrics.SettlementMetrics) (*Services, error) {
	currency, err := enums.ParseCurrency(cfg.Gateway.Currency)
	if err != nil {
		return nil, err
	}

	conn := dbClient.DB()
	emitter := outbox.NewService(outbox.NewRepository(conn), logg)
	orders := payments.NewRepository(conn)
	bookingRepo := bookings.NewRepository(conn)
	ledger := earnings.NewRepository(conn)
	refundRepo := refunds.NewRepository(conn)
	completionRepo := completion.NewRepository(conn)

	paymentParams := payments.ServiceParams{
		Tx:              dbClient,
		Orders:          orders,
		Bookings:        bookingRepo,
		Gateway:         gw,
		Outbox:          emitter,
		Policy:          commission.PolicyFromConfig(cfg.Escrow),
		Bounds:          commission.BoundsFromConfig(cfg.Escrow),
		Currency:        currency,
		SignatureSecret: cfg.Gateway.SignatureSecret,
		Logger:          logg,
	}
	completionParams := completionParams(cfg, logg, dbClient, emitter)
	refundParams := refunds.ServiceParams{
		Tx:          dbClient,
		Refunds:     refundRepo,
		Orders:      orders,
		Bookings:    bookingRepo,
		Completions: completionRepo,
		Gateway:     gw,
		Outbox:      emitter,
		Calculator:  refunds.NewCalculator(refunds.PolicyFromConfig(cfg.Escrow)),
		Logger:      logg,
	}
	payoutParams := payouts.ServiceParams{
		Tx:             dbClient,
		Requests:       payouts.NewRepository(conn),
		Earnings:       ledger,
		Gateway:        gw,
		Outbox:         emitter,
		ThresholdCents: cfg.Escrow.PayoutThreshold,
		Currency:       currency,
		Logger:         logg,
	}
	if recorder != nil {
		paymentParams.Metrics = recorder
		completionParams.Metrics = recorder
		refundParams.Metrics = recorder
		payoutParams.Metrics = recorder
	}

	paymentService, err := payments.NewService(paymentParams)
	if err != nil {
		return nil, fmt.Errorf("payments service: %w", err)
	}
	completionService, err := completion.NewService(completionParams)
	if err != nil {
		return nil, fmt.Errorf("completion service: %w", err)
	}
	refundService, err := refunds.NewService(refundParams)
	if err != nil {
		return nil, fmt.Errorf("refunds service: %w", err)
	}
	payoutService, err := payouts.NewService(payoutParams)
	if err != nil {
		return nil, fmt.Errorf("payouts service: %w", err)
	}

	return &Services{
		Payments:   paymentService,
		Completion: completionService,
		Refunds:    refundService,
		Payouts:    payoutService,
	}, nil
}

// Completion builds the completion service alone, for binaries that never
// reach the payment gateway.
func Completion(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, recorder *metrics.SettlementMetrics) (completion.Service, error) {
	params := completionParams(cfg, logg, dbClient, outbox.NewService(outbox.NewRepository(dbClient.DB()), logg))
	if recorder != nil {
		params.Metrics = recorder
	}
	return completion.NewService(params)
}

func completionParams(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, emitter *outbox.Service) completion.ServiceParams {
	conn := dbClient.DB()
	return completion.ServiceParams{
		Tx:           dbClient,
		Records:      completion.NewRepository(conn),
		Orders:       payments.NewRepository(conn),
		Bookings:     bookings.NewRepository(conn),
		Earnings:     earnings.NewRepository(conn),
		Outbox:       emitter,
		Argon:        cfg.Argon,
		CodeValidity: cfg.Escrow.OTPValidity,
		MaxAttempts:  cfg.Escrow.OTPMaxAttempts,
		Logger:       logg,
	}
}
