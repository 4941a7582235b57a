package completion

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/fixora-backend/pkg/errors"
	"github.com/angelmondragon/fixora-backend/pkg/logger"
	"github.com/angelmondragon/fixora-backend/pkg/outbox"
)

const (
	// JobCompletedEventType is published by the job workflow when a
	// technician marks the work done.
	JobCompletedEventType = "job_completed"

	completionRequestConsumer = "completion-requests"
)

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

type processedMarker interface {
	CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Delete(ctx context.Context, consumer string, eventID uuid.UUID) error
}

// Consumer opens a completion record for every job_completed event so the
// customer can be prompted for the code.
type Consumer struct {
	svc          Service
	subscription receiver
	idempotency  processedMarker
	logg         *logger.Logger
}

func NewConsumer(svc Service, subscription receiver, marker processedMarker, logg *logger.Logger) (*Consumer, error) {
	if svc == nil {
		return nil, fmt.Errorf("completion service required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("completion subscription required")
	}
	if marker == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{svc: svc, subscription: subscription, idempotency: marker, logg: logg}, nil
}

func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		if c.process(ctx, msg) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
}

type jobCompletedPayload struct {
	BookingID  uuid.UUID `json:"booking_id"`
	CustomerID uuid.UUID `json:"customer_id"`
}

// process reports whether the message should be acked. Malformed messages and
// business rejections are acked; dependency failures are redelivered.
func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) bool {
	eventType := msg.Attributes["event_type"]
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"event_type": eventType,
	})

	if eventType != JobCompletedEventType {
		c.logg.Debug(logCtx, "completion.consumer.skipped")
		return true
	}

	envelope, eventID, err := outbox.DecodeEnvelope(msg.Data)
	if err != nil {
		c.logg.Error(logCtx, "completion.consumer.bad_envelope", err)
		return true
	}

	var payload jobCompletedPayload
	if err := json.Unmarshal(envelope.Data, &payload); err != nil || payload.BookingID == uuid.Nil || payload.CustomerID == uuid.Nil {
		if err == nil {
			err = fmt.Errorf("booking_id and customer_id are required")
		}
		c.logg.Error(logCtx, "completion.consumer.bad_payload", err)
		return true
	}
	logCtx = c.logg.WithFields(logCtx, map[string]any{
		"event_id":   eventID.String(),
		"booking_id": payload.BookingID.String(),
	})

	already, err := c.idempotency.CheckAndMarkProcessed(ctx, completionRequestConsumer, eventID)
	if err != nil {
		c.logg.Error(logCtx, "completion.consumer.idempotency_failed", err)
		return false
	}
	if already {
		c.logg.Info(logCtx, "completion.consumer.duplicate")
		return true
	}

	record, err := c.svc.RequestCompletion(logCtx, payload.BookingID, payload.CustomerID)
	if err != nil {
		if isPermanent(err) {
			c.logg.Warn(c.logg.WithField(logCtx, "error", err.Error()), "completion.consumer.rejected")
			return true
		}
		c.logg.Error(logCtx, "completion.consumer.failed", err)
		if delErr := c.idempotency.Delete(ctx, completionRequestConsumer, eventID); delErr != nil {
			c.logg.Error(logCtx, "completion.consumer.idempotency_release_failed", delErr)
		}
		return false
	}

	c.logg.Info(c.logg.WithField(logCtx, "completion_id", record.ID.String()), "completion.consumer.requested")
	return true
}

func isPermanent(err error) bool {
	typed := pkgerrors.As(err)
	if typed == nil {
		return false
	}
	switch typed.Code() {
	case pkgerrors.CodeNotFound, pkgerrors.CodeForbidden, pkgerrors.CodeStateConflict, pkgerrors.CodeValidation:
		return true
	}
	return false
}
