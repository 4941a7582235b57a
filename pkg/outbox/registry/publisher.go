// Package registry maps outbox event types to their topic and typed payload
// and decodes stored rows for the outbox publisher.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/angelmondragon/fixora-backend/pkg/config"
	"github.com/angelmondragon/fixora-backend/pkg/db/models"
	"github.com/angelmondragon/fixora-backend/pkg/enums"
	"github.com/angelmondragon/fixora-backend/pkg/outbox"
	"github.com/angelmondragon/fixora-backend/pkg/outbox/payloads"
)

// EventDescriptor links an event type to its aggregate, topic and payload.
type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Topic          string
	PayloadFactory func() any
}

func describe[T any](eventType enums.OutboxEventType, aggregate enums.OutboxAggregateType) EventDescriptor {
	return EventDescriptor{
		EventType:      eventType,
		AggregateType:  aggregate,
		PayloadFactory: func() any { return new(T) },
	}
}

// ResolvedEvent is a decoded outbox row ready to publish.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NonRetryableError marks a row that can never publish; the dispatcher moves
// it to the dead letter table instead of retrying.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }

func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

func nonRetryable(format string, args ...any) error {
	return NewNonRetryableError(fmt.Errorf(format, args...))
}

// NewEventRegistry routes every settlement event to the single settlement
// topic; subscribers filter on the event_type attribute. It fails when an
// event type has no descriptor so a new enum value cannot ship unroutable.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	if cfg.SettlementTopic == "" {
		return nil, errors.New("settlement topic is required")
	}
	descriptors := []EventDescriptor{
		describe[payloads.PaymentAuthorizedEvent](enums.EventPaymentAuthorized, enums.AggregatePaymentOrder),
		describe[payloads.PaymentCapturedEvent](enums.EventPaymentCaptured, enums.AggregatePaymentOrder),
		describe[payloads.PaymentFailedEvent](enums.EventPaymentFailed, enums.AggregatePaymentOrder),
		describe[payloads.PaymentReleasedEvent](enums.EventPaymentReleased, enums.AggregatePaymentOrder),
		describe[payloads.CompletionCodeIssuedEvent](enums.EventCompletionCodeIssued, enums.AggregateCompletion),
		describe[payloads.RefundProcessedEvent](enums.EventRefundProcessed, enums.AggregateRefund),
		describe[payloads.PayoutStatusEvent](enums.EventPayoutCompleted, enums.AggregatePayoutRequest),
		describe[payloads.PayoutStatusEvent](enums.EventPayoutFailed, enums.AggregatePayoutRequest),
	}

	reg := &EventRegistry{entries: make(map[enums.OutboxEventType]EventDescriptor, len(descriptors))}
	for _, desc := range descriptors {
		desc.Topic = cfg.SettlementTopic
		reg.entries[desc.EventType] = desc
	}
	for _, eventType := range enums.OutboxEventTypes() {
		if _, ok := reg.entries[eventType]; !ok {
			return nil, fmt.Errorf("event type %s has no descriptor", eventType)
		}
	}
	return reg, nil
}

// Resolve validates the row and decodes its typed payload. Every failure is
// non-retryable: a malformed row stays malformed.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	if !ok {
		return nil, nonRetryable("unsupported event type %s", event.EventType)
	}
	if desc.AggregateType != event.AggregateType {
		return nil, nonRetryable("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType)
	}
	if event.AggregateID == uuid.Nil {
		return nil, nonRetryable("missing aggregate_id")
	}

	envelope, eventID, err := outbox.DecodeEnvelope(event.Payload)
	if err != nil {
		return nil, NewNonRetryableError(err)
	}
	if event.ID != uuid.Nil && eventID != event.ID {
		return nil, nonRetryable("envelope eventId %s does not match row %s", eventID, event.ID)
	}
	if !envelope.HasData() {
		return nil, nonRetryable("payload missing for %s", event.EventType)
	}

	payload := desc.PayloadFactory()
	if err := json.Unmarshal(envelope.Data, payload); err != nil {
		return nil, nonRetryable("decode %s payload: %w", event.EventType, err)
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}
