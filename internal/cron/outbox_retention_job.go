package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/fixora-backend/pkg/logger"
)

const (
	fallbackOutboxRetention     = 30 * 24 * time.Hour
	fallbackDeadLetterRetention = 90 * 24 * time.Hour
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type publishedPruner interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
}

type deadLetterPruner interface {
	DeleteFailedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
}

// OutboxRetentionJobParams configure pruning of delivered outbox rows and of
// old dead letters. DeadLetters is optional.
type OutboxRetentionJobParams struct {
	Logger              *logger.Logger
	DB                  txRunner
	Outbox              publishedPruner
	DeadLetters         deadLetterPruner
	Retention           time.Duration
	DeadLetterRetention time.Duration
}

func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	switch {
	case params.Logger == nil:
		return nil, errors.New("logger required")
	case params.DB == nil:
		return nil, errors.New("db runner required")
	case params.Outbox == nil:
		return nil, errors.New("outbox repository required")
	}
	job := &outboxRetentionJob{
		logg:          params.Logger,
		db:            params.DB,
		outbox:        params.Outbox,
		deadLetters:   params.DeadLetters,
		keepPublished: params.Retention,
		keepFailed:    params.DeadLetterRetention,
		now:           time.Now,
	}
	if job.keepPublished <= 0 {
		job.keepPublished = fallbackOutboxRetention
	}
	if job.keepFailed <= 0 {
		job.keepFailed = fallbackDeadLetterRetention
	}
	return job, nil
}

type outboxRetentionJob struct {
	logg          *logger.Logger
	db            txRunner
	outbox        publishedPruner
	deadLetters   deadLetterPruner
	keepPublished time.Duration
	keepFailed    time.Duration
	now           func() time.Time
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

// Run never touches undelivered rows; they stay until published or dead
// lettered.
func (j *outboxRetentionJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	var published, failed int64
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		if published, err = j.outbox.DeletePublishedBefore(ctx, tx, now.Add(-j.keepPublished)); err != nil {
			return fmt.Errorf("prune published: %w", err)
		}
		if j.deadLetters == nil {
			return nil
		}
		if failed, err = j.deadLetters.DeleteFailedBefore(ctx, tx, now.Add(-j.keepFailed)); err != nil {
			return fmt.Errorf("prune dead letters: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if published+failed > 0 {
		j.logg.Info(j.logg.WithFields(ctx, map[string]any{
			"published_deleted":    published,
			"dead_letters_deleted": failed,
		}), "cron.outbox_pruned")
	}
	return nil
}
