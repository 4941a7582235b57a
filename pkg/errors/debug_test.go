package errors

import (
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestDumpDecodesPgxConstraint(t *testing.T) {
	pgErr := &pgconn.PgError{
		Code:           "23505",
		ConstraintName: "bookings_payment_order_id_key",
		TableName:      "bookings",
		Message:        "duplicate key value violates unique constraint",
	}
	err := Wrap(CodeConflict, fmt.Errorf("insert booking: %w", pgErr), "booking exists")

	d := Dump(err)
	if d.Code != CodeConflict {
		t.Fatalf("expected conflict code, got %s", d.Code)
	}
	if d.PGCode != "23505" || d.PGConstraint != "bookings_payment_order_id_key" {
		t.Fatalf("pg fields not decoded: %+v", d)
	}
	if len(d.Chain) != 3 {
		t.Fatalf("expected 3 chain entries, got %d", len(d.Chain))
	}
}

func TestDumpMarksRetryableCodes(t *testing.T) {
	d := Dump(New(CodeGatewayUnavailable, "gateway timeout"))
	if !d.Retryable {
		t.Fatalf("gateway unavailable should be retryable")
	}
	if Dump(nil).TopMessage != "" {
		t.Fatalf("nil dump should be empty")
	}
}
