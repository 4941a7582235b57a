package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/fixora-backend/pkg/logger"
)

const defaultBatchSize = 200

type pendingAuthorizationExpirer interface {
	ExpireStalePending(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

type completionCodeExpirer interface {
	ExpireStaleCodes(ctx context.Context, limit int) (int64, error)
}

type processingPayoutReconciler interface {
	ReconcileProcessing(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

func batchOrDefault(size int) int {
	if size <= 0 {
		return defaultBatchSize
	}
	return size
}

// AuthorizationExpiryJobParams configure the sweep that voids authorizations
// the customer never confirmed.
type AuthorizationExpiryJobParams struct {
	Logger    *logger.Logger
	Payments  pendingAuthorizationExpirer
	OrderTTL  time.Duration
	BatchSize int
}

func NewAuthorizationExpiryJob(params AuthorizationExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payment service required")
	}
	if params.OrderTTL <= 0 {
		return nil, fmt.Errorf("order ttl must be positive")
	}
	return &authorizationExpiryJob{
		logg:     params.Logger,
		payments: params.Payments,
		ttl:      params.OrderTTL,
		batch:    batchOrDefault(params.BatchSize),
	}, nil
}

type authorizationExpiryJob struct {
	logg     *logger.Logger
	payments pendingAuthorizationExpirer
	ttl      time.Duration
	batch    int
}

func (j *authorizationExpiryJob) Name() string { return "authorization-expiry" }

func (j *authorizationExpiryJob) Run(ctx context.Context) error {
	expired, err := j.payments.ExpireStalePending(ctx, j.ttl, j.batch)
	if err != nil {
		return fmt.Errorf("expire pending authorizations: %w", err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"expired": expired,
		"ttl":     j.ttl.String(),
	}), "cron.authorizations_expired")
	return nil
}

type CompletionExpiryJobParams struct {
	Logger     *logger.Logger
	Completion completionCodeExpirer
	BatchSize  int
}

func NewCompletionExpiryJob(params CompletionExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Completion == nil {
		return nil, fmt.Errorf("completion service required")
	}
	return &completionExpiryJob{
		logg:       params.Logger,
		completion: params.Completion,
		batch:      batchOrDefault(params.BatchSize),
	}, nil
}

type completionExpiryJob struct {
	logg       *logger.Logger
	completion completionCodeExpirer
	batch      int
}

func (j *completionExpiryJob) Name() string { return "completion-expiry" }

func (j *completionExpiryJob) Run(ctx context.Context) error {
	expired, err := j.completion.ExpireStaleCodes(ctx, j.batch)
	if err != nil {
		return fmt.Errorf("expire completion codes: %w", err)
	}
	j.logg.Info(j.logg.WithField(ctx, "expired", expired), "cron.completion_codes_expired")
	return nil
}

// PayoutReconcileJobParams configure the retry of payouts whose gateway call
// ended in a transient failure.
type PayoutReconcileJobParams struct {
	Logger    *logger.Logger
	Payouts   processingPayoutReconciler
	MinAge    time.Duration
	BatchSize int
}

func NewPayoutReconcileJob(params PayoutReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Payouts == nil {
		return nil, fmt.Errorf("payout service required")
	}
	minAge := params.MinAge
	if minAge <= 0 {
		minAge = time.Minute
	}
	return &payoutReconcileJob{
		logg:    params.Logger,
		payouts: params.Payouts,
		minAge:  minAge,
		batch:   batchOrDefault(params.BatchSize),
	}, nil
}

type payoutReconcileJob struct {
	logg    *logger.Logger
	payouts processingPayoutReconciler
	minAge  time.Duration
	batch   int
}

func (j *payoutReconcileJob) Name() string { return "payout-reconcile" }

func (j *payoutReconcileJob) Run(ctx context.Context) error {
	settled, err := j.payouts.ReconcileProcessing(ctx, j.minAge, j.batch)
	if err != nil {
		return fmt.Errorf("reconcile processing payouts: %w", err)
	}
	j.logg.Info(j.logg.WithField(ctx, "settled", settled), "cron.payouts_reconciled")
	return nil
}
