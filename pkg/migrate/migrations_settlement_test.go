package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/angelmondragon/fixora-backend/pkg/migrate"
)

func readMigration(t *testing.T, suffix string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", "*_"+suffix+".sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no %s migration file found", suffix)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func assertContains(t *testing.T, content string, checks []string) {
	t.Helper()
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestMigrationsDirIsValid(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("validate migrations: %v", err)
	}
}

func TestBookingMigrationGuaranteesOneBookingPerOrder(t *testing.T) {
	content := readMigration(t, "create_payment_orders_and_bookings")
	assertContains(t, content, []string{
		"CREATE TABLE IF NOT EXISTS payment_orders",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_payment_orders_gateway_order_id ON payment_orders (gateway_order_id)",
		"CHECK (commission_cents >= 0 AND commission_cents + technician_earnings_cents = amount_cents)",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_bookings_payment_order_id ON bookings (payment_order_id)",
		"DROP TABLE IF EXISTS bookings",
	})
}

func TestCaptureClaimMigrationAddsColumn(t *testing.T) {
	content := readMigration(t, "add_payment_order_capture_claim")
	assertContains(t, content, []string{
		"ADD COLUMN IF NOT EXISTS capture_started_at timestamptz NULL",
		"idx_payment_orders_pending_claims",
		"DROP COLUMN IF EXISTS capture_started_at",
	})
}

func TestEarningsMigrationKeepsBalancesNonNegative(t *testing.T) {
	content := readMigration(t, "create_earnings_and_payouts")
	assertContains(t, content, []string{
		"CHECK (total_earnings_cents >= 0)",
		"CHECK (pending_payout_cents >= 0)",
		"CHECK (reserved_payout_cents >= 0 AND reserved_payout_cents <= pending_payout_cents)",
		"ux_payout_requests_technician_idempotency",
		"ux_ledger_events_credit_per_order",
	})
}

func TestRefundMigrationEnforcesExactSplit(t *testing.T) {
	content := readMigration(t, "create_refund_records")
	assertContains(t, content, []string{
		"CHECK (customer_refund_cents + technician_compensation_cents + platform_fee_cents = amount_cents)",
		"CREATE UNIQUE INDEX IF NOT EXISTS ux_refund_records_payment_order_id",
	})
}

func TestCreateSQLMigrationWritesGooseTemplate(t *testing.T) {
	dir := t.TempDir()
	path, err := migrate.CreateSQLMigration(dir, "Add Payout Notes!", time.Date(2026, 4, 1, 8, 30, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("create migration: %v", err)
	}
	if !strings.HasSuffix(path, "20260401083000_add_payout_notes.sql") {
		t.Fatalf("unexpected filename %q", path)
	}
	if err := migrate.ValidateDir(dir); err != nil {
		t.Fatalf("generated migration should validate: %v", err)
	}
}
