package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/fixora-backend/pkg/errors"
)

func capture(opts Options) (*Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	opts.Output = buf
	opts.Format = "json"
	if opts.ServiceName == "" {
		opts.ServiceName = "logger-test"
	}
	return New(opts), buf
}

func entries(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		entry := map[string]any{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry), line)
		out = append(out, entry)
	}
	return out
}

func TestErrorCarriesContextFieldsAndCode(t *testing.T) {
	log, buf := capture(Options{Level: zerolog.DebugLevel})

	ctx := log.WithRequestID(context.Background(), "req-123")
	ctx = log.WithPaymentOrderID(ctx, "po-1")
	log.Error(ctx, "payments.capture_failed", pkgerrors.New(pkgerrors.CodeCaptureFailed, "declined"))

	logged := entries(t, buf)
	require.Len(t, logged, 1)
	entry := logged[0]
	assert.Equal(t, "logger-test", entry["service"])
	assert.Equal(t, "req-123", entry[FieldRequestID])
	assert.Equal(t, "po-1", entry[FieldPaymentOrderID])
	assert.Equal(t, "CAPTURE_FAILED", entry["error_code"])
	assert.Equal(t, "payments.capture_failed", entry["message"])
	assert.NotEmpty(t, entry["stack"])
}

func TestErrorWithPlainError(t *testing.T) {
	log, buf := capture(Options{})
	log.Error(context.Background(), "cron.cycle_failed", errors.New("redis down"))

	entry := entries(t, buf)[0]
	assert.Equal(t, "redis down", entry["error"])
	assert.NotContains(t, entry, "error_code")
}

func TestWarnStackToggle(t *testing.T) {
	loud, buf := capture(Options{WarnStack: true})
	loud.Warn(context.Background(), "ledger.drift")
	assert.Contains(t, entries(t, buf)[0], "stack")

	quiet, buf := capture(Options{})
	quiet.Warn(context.Background(), "ledger.drift")
	assert.NotContains(t, entries(t, buf)[0], "stack")
}

func TestFieldsStayOnDerivedContext(t *testing.T) {
	log, buf := capture(Options{})
	base := context.Background()

	derived := log.WithTechnicianID(base, "tech-1")
	log.Info(base, "plain")
	log.Info(derived, "enriched")

	logged := entries(t, buf)
	require.Len(t, logged, 2)
	assert.NotContains(t, logged[0], FieldTechnicianID)
	assert.Equal(t, "tech-1", logged[1][FieldTechnicianID])
}

func TestLevelFiltersDebug(t *testing.T) {
	log, buf := capture(Options{})
	log.Debug(context.Background(), "gateway.payload")
	assert.Zero(t, buf.Len())
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"":        zerolog.InfoLevel,
		"invalid": zerolog.InfoLevel,
		" WARN ":  zerolog.WarnLevel,
		"debug":   zerolog.DebugLevel,
	}
	for input, want := range cases {
		assert.Equal(t, want, ParseLevel(input), "input %q", input)
	}
}

func TestSensitiveFieldsAreRedacted(t *testing.T) {
	log, buf := capture(Options{})

	ctx := log.WithField(context.Background(), "code", "482913")
	ctx = log.WithFields(ctx, map[string]any{
		"Destination": "tech@okaxis",
		"booking_id":  "bk-1",
	})
	log.Info(ctx, "completion.attempt")

	assert.NotContains(t, buf.String(), "482913")
	assert.NotContains(t, buf.String(), "tech@okaxis")

	entry := entries(t, buf)[0]
	assert.Equal(t, redacted, entry["code"])
	assert.Equal(t, redacted, entry["Destination"])
	assert.Equal(t, "bk-1", entry["booking_id"])
}
