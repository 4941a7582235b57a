package enums

import "fmt"

// CompletionStatus tracks the one-time code gate for a booking.
type CompletionStatus string

const (
	CompletionStatusPending     CompletionStatus = "pending"
	CompletionStatusOTPIssued   CompletionStatus = "otp_issued"
	CompletionStatusOTPVerified CompletionStatus = "otp_verified"
	CompletionStatusReleased    CompletionStatus = "released"
	CompletionStatusExpired     CompletionStatus = "expired"
)

var validCompletionStatuses = []CompletionStatus{
	CompletionStatusPending,
	CompletionStatusOTPIssued,
	CompletionStatusOTPVerified,
	CompletionStatusReleased,
	CompletionStatusExpired,
}

var completionTransitions = map[CompletionStatus][]CompletionStatus{
	CompletionStatusPending:     {CompletionStatusOTPIssued, CompletionStatusExpired},
	CompletionStatusOTPIssued:   {CompletionStatusOTPVerified, CompletionStatusExpired},
	CompletionStatusOTPVerified: {CompletionStatusReleased},
}

// String implements fmt.Stringer.
func (s CompletionStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known CompletionStatus.
func (s CompletionStatus) IsValid() bool {
	for _, candidate := range validCompletionStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s CompletionStatus) CanTransitionTo(next CompletionStatus) bool {
	for _, candidate := range completionTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s CompletionStatus) IsTerminal() bool {
	return len(completionTransitions[s]) == 0
}

// ParseCompletionStatus converts raw input into a CompletionStatus.
func ParseCompletionStatus(value string) (CompletionStatus, error) {
	for _, candidate := range validCompletionStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid completion status %q", value)
}
