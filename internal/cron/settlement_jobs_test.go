package cron

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/fixora-backend/internal/testdb"
	"github.com/angelmondragon/fixora-backend/pkg/db"
	"github.com/angelmondragon/fixora-backend/pkg/db/models"
	"github.com/angelmondragon/fixora-backend/pkg/enums"
	"github.com/angelmondragon/fixora-backend/pkg/logger"
	"github.com/angelmondragon/fixora-backend/pkg/outbox"
)

type sweepRecorder struct {
	olderThan time.Duration
	limit     int
	err       error
}

func (s *sweepRecorder) ExpireStalePending(_ context.Context, olderThan time.Duration, limit int) (int, error) {
	s.olderThan, s.limit = olderThan, limit
	return 2, s.err
}

func (s *sweepRecorder) ExpireStaleCodes(_ context.Context, limit int) (int64, error) {
	s.limit = limit
	return 3, s.err
}

func (s *sweepRecorder) ReconcileProcessing(_ context.Context, olderThan time.Duration, limit int) (int, error) {
	s.olderThan, s.limit = olderThan, limit
	return 1, s.err
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "cron-test", Output: io.Discard})
}

func TestAuthorizationExpiryJob(t *testing.T) {
	rec := &sweepRecorder{}
	job, err := NewAuthorizationExpiryJob(AuthorizationExpiryJobParams{
		Logger:   testLogger(),
		Payments: rec,
		OrderTTL: 5 * time.Minute,
	})
	require.NoError(t, err)
	assert.Equal(t, "authorization-expiry", job.Name())

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, 5*time.Minute, rec.olderThan)
	assert.Equal(t, defaultBatchSize, rec.limit)

	_, err = NewAuthorizationExpiryJob(AuthorizationExpiryJobParams{Logger: testLogger(), Payments: rec})
	assert.Error(t, err)
}

func TestCompletionExpiryJobPropagatesErrors(t *testing.T) {
	rec := &sweepRecorder{err: errors.New("db gone")}
	job, err := NewCompletionExpiryJob(CompletionExpiryJobParams{
		Logger:     testLogger(),
		Completion: rec,
		BatchSize:  50,
	})
	require.NoError(t, err)

	err = job.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, rec.err)
	assert.Equal(t, 50, rec.limit)
}

func TestPayoutReconcileJobDefaults(t *testing.T) {
	rec := &sweepRecorder{}
	job, err := NewPayoutReconcileJob(PayoutReconcileJobParams{Logger: testLogger(), Payouts: rec})
	require.NoError(t, err)

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, time.Minute, rec.olderThan)
	assert.Equal(t, defaultBatchSize, rec.limit)
}

func TestOutboxRetentionJobKeepsUndelivered(t *testing.T) {
	conn := testdb.Open(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)
	old := now.Add(-40 * 24 * time.Hour)
	recent := now.Add(-time.Hour)

	rows := []models.OutboxEvent{
		{ID: uuid.New(), CreatedAt: old, PublishedAt: &old},
		{ID: uuid.New(), CreatedAt: old},
		{ID: uuid.New(), CreatedAt: recent, PublishedAt: &recent},
	}
	for i := range rows {
		rows[i].EventType = enums.EventPaymentCaptured
		rows[i].AggregateType = enums.AggregatePaymentOrder
		rows[i].AggregateID = uuid.New()
		rows[i].Payload = json.RawMessage(`{}`)
		require.NoError(t, conn.Create(&rows[i]).Error)
	}

	dlq := outbox.NewDLQRepository(conn)
	stale := models.NewDeadLetter(rows[1], enums.OutboxDLQReasonMaxAttempts, nil, now.Add(-100*24*time.Hour))
	fresh := models.NewDeadLetter(rows[2], enums.OutboxDLQReasonNonRetryable, nil, now.Add(-24*time.Hour))
	require.NoError(t, dlq.InsertTx(conn, stale))
	require.NoError(t, dlq.InsertTx(conn, fresh))

	job, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger:      testLogger(),
		DB:          db.NewFromConn(conn),
		Outbox:      outbox.NewRepository(conn),
		DeadLetters: dlq,
		Retention:   30 * 24 * time.Hour,
	})
	require.NoError(t, err)
	job.(*outboxRetentionJob).now = func() time.Time { return now }

	require.NoError(t, job.Run(ctx))

	var remaining []models.OutboxEvent
	require.NoError(t, conn.Order("created_at ASC").Find(&remaining).Error)
	require.Len(t, remaining, 2)
	ids := []uuid.UUID{remaining[0].ID, remaining[1].ID}
	assert.Contains(t, ids, rows[1].ID)
	assert.Contains(t, ids, rows[2].ID)

	letters, err := dlq.ListRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, rows[2].ID, letters[0].EventID)
}

func TestOutboxRetentionJobRequiresOutbox(t *testing.T) {
	_, err := NewOutboxRetentionJob(OutboxRetentionJobParams{Logger: testLogger(), DB: db.NewFromConn(testdb.Open(t))})
	assert.Error(t, err)
}
