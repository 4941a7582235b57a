package instance

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIDPrefersEnvironment(t *testing.T) {
	t.Setenv("FIXORA_INSTANCE_ID", " cron-7 ")
	assert.Equal(t, "cron-7", ID())
}

func TestIDFallsBackToHost(t *testing.T) {
	t.Setenv("FIXORA_INSTANCE_ID", "")
	assert.NotEmpty(t, ID())
}
