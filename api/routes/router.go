package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/fixora-backend/api/controllers"
	webhookcontrollers "github.com/angelmondragon/fixora-backend/api/controllers/webhooks"
	"github.com/angelmondragon/fixora-backend/api/middleware"
	"github.com/angelmondragon/fixora-backend/internal/completion"
	"github.com/angelmondragon/fixora-backend/internal/payments"
	"github.com/angelmondragon/fixora-backend/internal/payouts"
	"github.com/angelmondragon/fixora-backend/internal/refunds"
	"github.com/angelmondragon/fixora-backend/pkg/config"
	"github.com/angelmondragon/fixora-backend/pkg/enums"
	"github.com/angelmondragon/fixora-backend/pkg/logger"
	"github.com/angelmondragon/fixora-backend/pkg/metrics"
)

type stripeWebhookGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

type stripeSigner interface {
	SigningSecret() string
}

// Deps collects everything the HTTP surface needs. Nil stores disable the
// middleware that depends on them.
type Deps struct {
	Config *config.Config
	Logger *logger.Logger

	DB          controllers.Pinger
	Redis       controllers.Pinger
	Idempotency middleware.IdempotencyStore
	RateLimiter middleware.RateLimiterStore
	Metrics     http.Handler
	HTTPMetrics *metrics.HTTPMetrics

	Payments   payments.Service
	Completion completion.Service
	Refunds    refunds.Service
	Payouts    payouts.Service

	StripeWebhooks     webhookcontrollers.StripeWebhookService
	StripeClient       stripeSigner
	StripeWebhookGuard stripeWebhookGuard
}

func NewRouter(deps Deps) http.Handler {
	cfg := deps.Config
	logg := deps.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg, deps.HTTPMetrics),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	// Completion issue and verify are not idempotent routes: a replayed issue
	// response would persist the plaintext code and every verify attempt must
	// count against the code.
	replayable := middleware.Idempotency(deps.Idempotency, logg, cfg.Eventing.HTTPIdempotencyTTL)
	settlement := middleware.Idempotency(deps.Idempotency, logg, cfg.Eventing.HTTPSettlementIdempotencyTTL)

	verifyPolicy := middleware.NewRateLimitPolicy(
		"completion_verify",
		cfg.RateLimit.VerifyWindow,
		cfg.RateLimit.VerifyIPLimit,
		cfg.RateLimit.VerifyUserLimit,
	)
	authorizePolicy := middleware.NewRateLimitPolicy(
		"payment_authorize",
		cfg.RateLimit.AuthorizeWindow,
		0,
		cfg.RateLimit.AuthorizeUserLimit,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, map[string]controllers.Pinger{
			"postgres": deps.DB,
			"redis":    deps.Redis,
		}, logg))
	})
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(deps.StripeWebhooks, deps.StripeClient, deps.StripeWebhookGuard, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Route("/payments", func(r chi.Router) {
			r.With(
				middleware.RequireRole(logg, enums.ActorRoleCustomer),
				middleware.RateLimit(authorizePolicy, deps.RateLimiter, logg),
				replayable,
			).Post("/orders", controllers.AuthorizePayment(deps.Payments, logg))
			r.With(
				middleware.RequireRole(logg, enums.ActorRoleCustomer),
				settlement,
			).Post("/confirm", controllers.ConfirmPayment(deps.Payments, logg))
			r.Get("/orders/{orderId}", controllers.GetPaymentOrder(deps.Payments, logg))
			r.With(
				middleware.RequireRole(logg, enums.ActorRoleCustomer),
				settlement,
			).Post("/orders/{orderId}/cancel", controllers.CancelPaymentOrder(deps.Payments, logg))
		})

		r.Route("/bookings", func(r chi.Router) {
			r.Get("/{bookingId}", controllers.GetBooking(deps.Payments, logg))
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(logg, enums.ActorRoleCustomer))
				r.Post("/{bookingId}/complete", controllers.CompleteBooking(deps.Completion, logg))
				r.With(settlement).Post("/{bookingId}/cancel", controllers.CancelBooking(deps.Refunds, logg))
			})
		})

		r.Post("/refunds/quote", controllers.QuoteRefund(deps.Refunds, logg))

		r.With(
			middleware.RequireRole(logg, enums.ActorRoleTechnician),
			middleware.RateLimit(verifyPolicy, deps.RateLimiter, logg),
		).Post("/completions/{completionId}/verify", controllers.VerifyCompletion(deps.Completion, logg))

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, enums.ActorRoleTechnician))
			r.With(settlement).Post("/payouts", controllers.RequestPayout(deps.Payouts, logg))
			r.Get("/payouts", controllers.ListPayouts(deps.Payouts, logg))
			r.Get("/technicians/me/ledger", controllers.TechnicianLedger(deps.Payouts, logg))
		})
	})

	return r
}
