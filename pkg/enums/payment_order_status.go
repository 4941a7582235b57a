package enums

import "fmt"

// PaymentOrderStatus tracks a payment order from authorization to settlement.
type PaymentOrderStatus string

const (
	PaymentOrderStatusPending  PaymentOrderStatus = "pending"
	PaymentOrderStatusCaptured PaymentOrderStatus = "captured"
	PaymentOrderStatusReleased PaymentOrderStatus = "released"
	PaymentOrderStatusRefunded PaymentOrderStatus = "refunded"
	PaymentOrderStatusFailed   PaymentOrderStatus = "failed"
)

var validPaymentOrderStatuses = []PaymentOrderStatus{
	PaymentOrderStatusPending,
	PaymentOrderStatusCaptured,
	PaymentOrderStatusReleased,
	PaymentOrderStatusRefunded,
	PaymentOrderStatusFailed,
}

// Orders only ever move forward. Released, refunded and failed are terminal.
var paymentOrderTransitions = map[PaymentOrderStatus][]PaymentOrderStatus{
	PaymentOrderStatusPending:  {PaymentOrderStatusCaptured, PaymentOrderStatusFailed},
	PaymentOrderStatusCaptured: {PaymentOrderStatusReleased, PaymentOrderStatusRefunded},
}

// String implements fmt.Stringer.
func (s PaymentOrderStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known PaymentOrderStatus.
func (s PaymentOrderStatus) IsValid() bool {
	for _, candidate := range validPaymentOrderStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s PaymentOrderStatus) CanTransitionTo(next PaymentOrderStatus) bool {
	for _, candidate := range paymentOrderTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s PaymentOrderStatus) IsTerminal() bool {
	return len(paymentOrderTransitions[s]) == 0
}

// HasCaptured reports whether funds were captured at some point.
func (s PaymentOrderStatus) HasCaptured() bool {
	switch s {
	case PaymentOrderStatusCaptured, PaymentOrderStatusReleased, PaymentOrderStatusRefunded:
		return true
	}
	return false
}

// ParsePaymentOrderStatus converts raw input into a PaymentOrderStatus.
func ParsePaymentOrderStatus(value string) (PaymentOrderStatus, error) {
	for _, candidate := range validPaymentOrderStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment order status %q", value)
}
