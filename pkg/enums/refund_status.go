package enums

import "fmt"

// RefundStatus tracks a refund record against the gateway.
type RefundStatus string

const (
	RefundStatusPending   RefundStatus = "pending"
	RefundStatusProcessed RefundStatus = "processed"
	RefundStatusFailed    RefundStatus = "failed"
)

var validRefundStatuses = []RefundStatus{
	RefundStatusPending,
	RefundStatusProcessed,
	RefundStatusFailed,
}

var refundTransitions = map[RefundStatus][]RefundStatus{
	RefundStatusPending: {RefundStatusProcessed, RefundStatusFailed},
}

// String implements fmt.Stringer.
func (r RefundStatus) String() string {
	return string(r)
}

// IsValid reports whether the value is a known RefundStatus.
func (r RefundStatus) IsValid() bool {
	for _, candidate := range validRefundStatuses {
		if candidate == r {
			return true
		}
	}
	return false
}

// CanTransitionTo reports whether next is a legal successor of r.
func (r RefundStatus) CanTransitionTo(next RefundStatus) bool {
	for _, candidate := range refundTransitions[r] {
		if candidate == next {
			return true
		}
	}
	return false
}

// ParseRefundStatus converts raw input into a RefundStatus.
func ParseRefundStatus(value string) (RefundStatus, error) {
	for _, candidate := range validRefundStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid refund status %q", value)
}

// RefundType names the cancellation window a refund fell into.
type RefundType string

const (
	RefundTypeFull    RefundType = "FULL"
	RefundTypePartial RefundType = "PARTIAL"
)

// IsValid reports whether the value is a known RefundType.
func (r RefundType) IsValid() bool {
	return r == RefundTypeFull || r == RefundTypePartial
}
