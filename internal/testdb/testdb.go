// Package testdb opens isolated in-memory sqlite databases carrying the
// settlement schema, for repository and service tests.
package testdb

import (
	"fmt"
	"strings"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// schema mirrors pkg/migrate/migrations with sqlite column types. Partial
// unique indexes are kept because the services rely on them.
var schema = []string{
	`CREATE TABLE payment_orders (
		id text PRIMARY KEY,
		gateway_order_id text NOT NULL,
		gateway_payment_id text,
		customer_id text NOT NULL,
		technician_id text NOT NULL,
		amount_cents integer NOT NULL,
		commission_cents integer NOT NULL,
		technician_earnings_cents integer NOT NULL,
		currency text NOT NULL DEFAULT 'inr',
		status text NOT NULL DEFAULT 'pending',
		booking_ref text NOT NULL,
		booking_id text,
		contact_email text,
		contact_phone text,
		failure_reason text,
		capture_started_at datetime,
		captured_at datetime,
		released_at datetime,
		refunded_at datetime,
		failed_at datetime,
		created_at datetime NOT NULL,
		updated_at datetime NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_payment_orders_gateway_order_id ON payment_orders (gateway_order_id)`,
	`CREATE TABLE bookings (
		id text PRIMARY KEY,
		payment_order_id text NOT NULL,
		customer_id text NOT NULL,
		technician_id text NOT NULL,
		status text NOT NULL DEFAULT 'confirmed',
		scheduled_at datetime NOT NULL,
		address text NOT NULL,
		description text,
		amount_cents integer NOT NULL,
		canceled_at datetime,
		created_at datetime NOT NULL,
		updated_at datetime NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_bookings_payment_order_id ON bookings (payment_order_id)`,
	`CREATE TABLE completion_records (
		id text PRIMARY KEY,
		booking_id text NOT NULL,
		payment_order_id text NOT NULL,
		customer_id text NOT NULL,
		technician_id text NOT NULL,
		code_hash text NOT NULL DEFAULT '',
		expires_at datetime,
		attempts_remaining integer NOT NULL CHECK (attempts_remaining >= 0),
		status text NOT NULL DEFAULT 'pending',
		verified_at datetime,
		released_at datetime,
		created_at datetime NOT NULL,
		updated_at datetime NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_completion_records_one_active ON completion_records (booking_id)
		WHERE status IN ('pending', 'otp_issued', 'otp_verified', 'released')`,
	`CREATE TABLE earnings_ledgers (
		technician_id text PRIMARY KEY,
		total_earnings_cents integer NOT NULL DEFAULT 0 CHECK (total_earnings_cents >= 0),
		pending_payout_cents integer NOT NULL DEFAULT 0 CHECK (pending_payout_cents >= 0),
		reserved_payout_cents integer NOT NULL DEFAULT 0 CHECK (reserved_payout_cents >= 0 AND reserved_payout_cents <= pending_payout_cents),
		version integer NOT NULL DEFAULT 0,
		created_at datetime NOT NULL,
		updated_at datetime NOT NULL
	)`,
	`CREATE TABLE payout_requests (
		id text PRIMARY KEY,
		technician_id text NOT NULL,
		amount_cents integer NOT NULL,
		method text NOT NULL,
		destination text NOT NULL,
		status text NOT NULL DEFAULT 'pending',
		idempotency_key text NOT NULL,
		gateway_payout_id text,
		failure_reason text,
		attempts integer NOT NULL DEFAULT 0,
		completed_at datetime,
		failed_at datetime,
		created_at datetime NOT NULL,
		updated_at datetime NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_payout_requests_technician_idempotency ON payout_requests (technician_id, idempotency_key)`,
	`CREATE TABLE ledger_events (
		id text PRIMARY KEY,
		technician_id text NOT NULL,
		type text NOT NULL,
		amount_cents integer NOT NULL,
		payment_order_id text,
		payout_request_id text,
		metadata text,
		created_at datetime NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_ledger_events_credit_per_order ON ledger_events (payment_order_id) WHERE type = 'credit'`,
	`CREATE TABLE refund_records (
		id text PRIMARY KEY,
		payment_order_id text NOT NULL,
		booking_id text NOT NULL,
		amount_cents integer NOT NULL,
		customer_refund_cents integer NOT NULL,
		technician_compensation_cents integer NOT NULL,
		platform_fee_cents integer NOT NULL,
		type text NOT NULL,
		status text NOT NULL DEFAULT 'pending',
		reason text,
		gateway_refund_id text,
		failure_reason text,
		processed_at datetime,
		created_at datetime NOT NULL,
		updated_at datetime NOT NULL,
		CHECK (customer_refund_cents + technician_compensation_cents + platform_fee_cents = amount_cents)
	)`,
	`CREATE UNIQUE INDEX ux_refund_records_payment_order_id ON refund_records (payment_order_id)`,
	`CREATE TABLE outbox_events (
		id text PRIMARY KEY,
		event_type text NOT NULL,
		aggregate_type text NOT NULL,
		aggregate_id text NOT NULL,
		payload text NOT NULL,
		created_at datetime NOT NULL,
		published_at datetime,
		attempt_count integer NOT NULL DEFAULT 0,
		last_error text
	)`,
	`CREATE TABLE outbox_dlq (
		id text PRIMARY KEY,
		event_id text NOT NULL,
		event_type text NOT NULL,
		aggregate_type text NOT NULL,
		aggregate_id text NOT NULL,
		payload_json text NOT NULL,
		error_reason text NOT NULL,
		error_message text,
		attempt_count integer NOT NULL DEFAULT 0,
		failed_at datetime NOT NULL,
		created_at datetime NOT NULL
	)`,
	`CREATE UNIQUE INDEX ux_outbox_dlq_event_id ON outbox_dlq (event_id)`,
}

// Open returns a fresh database named after the running test. The
// connection pool is pinned to one connection so every statement sees the
// same in-memory database.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	return conn
}
