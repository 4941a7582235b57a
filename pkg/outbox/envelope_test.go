package outbox

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeEnvelope(t *testing.T) {
	id := uuid.New()
	raw := []byte(`{"version":1,"eventId":"` + id.String() + `","occurredAt":"2026-03-05T12:00:00Z","data":{"booking_id":"b"}}`)

	envelope, eventID, err := DecodeEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, id, eventID)
	assert.Equal(t, 1, envelope.Version)
	assert.True(t, envelope.HasData())

	_, _, err = DecodeEnvelope([]byte(`{"eventId":"evt-1"}`))
	assert.ErrorContains(t, err, "not a uuid")

	_, _, err = DecodeEnvelope([]byte(`not json`))
	assert.ErrorContains(t, err, "decode envelope")
}

func TestEnvelopeHasData(t *testing.T) {
	for raw, want := range map[string]bool{
		"":       false,
		"null":   false,
		" null ": false,
		"{}":     true,
	} {
		assert.Equal(t, want, PayloadEnvelope{Data: json.RawMessage(raw)}.HasData(), "data %q", raw)
	}
}
