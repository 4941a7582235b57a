package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/fixora-backend/internal/testdb"
	"github.com/angelmondragon/fixora-backend/pkg/db/models"
	"github.com/angelmondragon/fixora-backend/pkg/enums"
)

func seedOutboxRow(t *testing.T, conn *gorm.DB, attempts int) models.OutboxEvent {
	t.Helper()
	lastErr := "pubsub unavailable"
	row := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventPayoutFailed,
		AggregateType: enums.AggregatePayoutRequest,
		AggregateID:   uuid.New(),
		Payload:       json.RawMessage(`{"eventId":"x"}`),
		AttemptCount:  attempts,
		LastError:     &lastErr,
	}
	require.NoError(t, conn.Create(&row).Error)
	return row
}

func TestDLQRepositoryInsertIsIdempotentPerEvent(t *testing.T) {
	conn := testdb.Open(t)
	repo := NewDLQRepository(conn)
	event := seedOutboxRow(t, conn, 25)
	failedAt := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)

	entry := models.NewDeadLetter(event, enums.OutboxDLQReasonMaxAttempts, errors.New(strings.Repeat("x", 5000)), failedAt)
	require.NoError(t, repo.InsertTx(conn, entry))
	require.NoError(t, repo.InsertTx(conn, entry))

	rows, err := repo.ListRecent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, event.ID, rows[0].EventID)
	require.NotNil(t, rows[0].ErrorMessage)
	assert.Len(t, *rows[0].ErrorMessage, 2000)

	assert.Error(t, repo.InsertTx(nil, entry))
}

func TestDLQRepositoryRequeueResetsOutboxRow(t *testing.T) {
	conn := testdb.Open(t)
	repo := NewDLQRepository(conn)
	event := seedOutboxRow(t, conn, 25)
	require.NoError(t, repo.InsertTx(conn, models.NewDeadLetter(event, enums.OutboxDLQReasonMaxAttempts, nil, time.Now())))

	require.NoError(t, repo.Requeue(context.Background(), event.ID))

	var stored models.OutboxEvent
	require.NoError(t, conn.First(&stored, "id = ?", event.ID).Error)
	assert.Zero(t, stored.AttemptCount)
	assert.Nil(t, stored.LastError)

	rows, err := repo.ListRecent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, rows)

	err = repo.Requeue(context.Background(), event.ID)
	assert.ErrorIs(t, err, ErrDLQEntryNotFound)
}

func TestDLQRepositoryRequeueRecreatesPrunedRow(t *testing.T) {
	conn := testdb.Open(t)
	repo := NewDLQRepository(conn)
	event := seedOutboxRow(t, conn, 3)
	require.NoError(t, repo.InsertTx(conn, models.NewDeadLetter(event, enums.OutboxDLQReasonNonRetryable, nil, time.Now())))
	require.NoError(t, conn.Delete(&models.OutboxEvent{}, "id = ?", event.ID).Error)

	require.NoError(t, repo.Requeue(context.Background(), event.ID))

	var stored models.OutboxEvent
	require.NoError(t, conn.First(&stored, "id = ?", event.ID).Error)
	assert.Equal(t, event.EventType, stored.EventType)
	assert.JSONEq(t, string(event.Payload), string(stored.Payload))
	assert.Nil(t, stored.PublishedAt)
}
