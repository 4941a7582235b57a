package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregatePaymentOrder  OutboxAggregateType = "payment_order"
	AggregateCompletion    OutboxAggregateType = "completion"
	AggregateRefund        OutboxAggregateType = "refund"
	AggregatePayoutRequest OutboxAggregateType = "payout_request"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregatePaymentOrder,
	AggregateCompletion,
	AggregateRefund,
	AggregatePayoutRequest,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventPaymentAuthorized    OutboxEventType = "payment_authorized"
	EventPaymentCaptured      OutboxEventType = "payment_captured"
	EventPaymentFailed        OutboxEventType = "payment_failed"
	EventPaymentReleased      OutboxEventType = "payment_released"
	EventCompletionCodeIssued OutboxEventType = "completion_code_issued"
	EventRefundProcessed      OutboxEventType = "refund_processed"
	EventPayoutCompleted      OutboxEventType = "payout_completed"
	EventPayoutFailed         OutboxEventType = "payout_failed"
)

var validOutboxEventTypes = []OutboxEventType{
	EventPaymentAuthorized,
	EventPaymentCaptured,
	EventPaymentFailed,
	EventPaymentReleased,
	EventCompletionCodeIssued,
	EventRefundProcessed,
	EventPayoutCompleted,
	EventPayoutFailed,
}

// OutboxEventTypes lists every event_type value.
func OutboxEventTypes() []OutboxEventType {
	return append([]OutboxEventType(nil), validOutboxEventTypes...)
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}

// OutboxDLQErrorReason records why the publisher gave up on an event.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
	OutboxDLQReasonDecode       OutboxDLQErrorReason = "decode_failed"
)

func (r OutboxDLQErrorReason) IsValid() bool {
	switch r {
	case OutboxDLQReasonMaxAttempts, OutboxDLQReasonNonRetryable, OutboxDLQReasonDecode:
		return true
	}
	return false
}
