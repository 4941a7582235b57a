package enums

import "testing"

func TestPaymentOrderStatusMovesForwardOnly(t *testing.T) {
	allowed := map[[2]PaymentOrderStatus]bool{
		{PaymentOrderStatusPending, PaymentOrderStatusCaptured}:  true,
		{PaymentOrderStatusPending, PaymentOrderStatusFailed}:    true,
		{PaymentOrderStatusCaptured, PaymentOrderStatusReleased}: true,
		{PaymentOrderStatusCaptured, PaymentOrderStatusRefunded}: true,
	}
	for _, from := range validPaymentOrderStatuses {
		for _, to := range validPaymentOrderStatuses {
			got := from.CanTransitionTo(to)
			if got != allowed[[2]PaymentOrderStatus{from, to}] {
				t.Fatalf("%s -> %s: expected %v got %v", from, to, !got, got)
			}
		}
	}
	for _, terminal := range []PaymentOrderStatus{PaymentOrderStatusReleased, PaymentOrderStatusRefunded, PaymentOrderStatusFailed} {
		if !terminal.IsTerminal() {
			t.Fatalf("%s should be terminal", terminal)
		}
	}
}

func TestCompletionStatusTable(t *testing.T) {
	if !CompletionStatusOTPIssued.CanTransitionTo(CompletionStatusExpired) {
		t.Fatalf("otp_issued must be able to expire")
	}
	if CompletionStatusOTPVerified.CanTransitionTo(CompletionStatusExpired) {
		t.Fatalf("otp_verified must not expire")
	}
	if CompletionStatusExpired.CanTransitionTo(CompletionStatusOTPIssued) {
		t.Fatalf("expired is terminal")
	}
	if !CompletionStatusReleased.IsTerminal() || !CompletionStatusExpired.IsTerminal() {
		t.Fatalf("released and expired are terminal")
	}
}

func TestPayoutStatusTable(t *testing.T) {
	if !PayoutStatusProcessing.CanTransitionTo(PayoutStatusFailed) {
		t.Fatalf("processing payouts can fail")
	}
	if PayoutStatusCompleted.CanTransitionTo(PayoutStatusFailed) {
		t.Fatalf("completed payouts are final")
	}
}

func TestParseRejectsUnknownValues(t *testing.T) {
	if _, err := ParsePaymentOrderStatus("settled"); err == nil {
		t.Fatalf("expected error for unknown status")
	}
	if _, err := ParsePayoutMethod("cheque"); err == nil {
		t.Fatalf("expected error for unknown payout method")
	}
	if c, err := ParseCurrency(" INR "); err != nil || c != CurrencyINR {
		t.Fatalf("expected inr, got %q %v", c, err)
	}
}

func TestBookingAndRefundTables(t *testing.T) {
	if !BookingStatusConfirmed.CanTransitionTo(BookingStatusCanceled) {
		t.Fatalf("confirmed bookings can be canceled")
	}
	if BookingStatusCompleted.CanTransitionTo(BookingStatusCanceled) {
		t.Fatalf("completed bookings cannot be canceled")
	}
	if !RefundStatusPending.CanTransitionTo(RefundStatusProcessed) {
		t.Fatalf("pending refunds can be processed")
	}
	if RefundStatusFailed.CanTransitionTo(RefundStatusProcessed) {
		t.Fatalf("failed refunds are final")
	}
}
