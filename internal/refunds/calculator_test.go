package refunds

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/fixora-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/fixora-backend/pkg/errors"
)

var defaultPolicy = Policy{
	FullRefundWindow:    4 * time.Hour,
	PartialRefundCutoff: time.Hour,
	CancellationFeeBps:  2000,
}

func TestComputeWindows(t *testing.T) {
	calc := NewCalculator(defaultPolicy)
	t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	service := t0.Add(10 * time.Hour)

	t.Run("full within four hours of booking", func(t *testing.T) {
		got, err := calc.Compute(50000, t0, service, t0.Add(3*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, Breakdown{AmountCents: 50000, CustomerRefundCents: 50000, Type: enums.RefundTypeFull}, got)
	})

	t.Run("full at the window edge", func(t *testing.T) {
		got, err := calc.Compute(50000, t0, service, t0.Add(4*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, enums.RefundTypeFull, got.Type)
	})

	t.Run("partial with fee split", func(t *testing.T) {
		got, err := calc.Compute(50000, t0, service, t0.Add(5*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, Breakdown{
			AmountCents:                 50000,
			CustomerRefundCents:         40000,
			TechnicianCompensationCents: 5000,
			PlatformFeeCents:            5000,
			Type:                        enums.RefundTypePartial,
		}, got)
	})

	t.Run("partial exactly one hour before service", func(t *testing.T) {
		got, err := calc.Compute(50000, t0, service, service.Add(-time.Hour))
		require.NoError(t, err)
		assert.Equal(t, enums.RefundTypePartial, got.Type)
	})

	t.Run("rejected twenty minutes before service", func(t *testing.T) {
		_, err := calc.Compute(50000, t0, service, t0.Add(9*time.Hour+40*time.Minute))
		require.Error(t, err)
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeRefundWindowClosed))
		assert.Contains(t, err.Error(), ReasonTooCloseToService)
	})

	t.Run("rejected after service start", func(t *testing.T) {
		_, err := calc.Compute(50000, t0, service, service.Add(time.Minute))
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeRefundWindowClosed))
	})
}

func TestComputeRemainderGoesToPlatform(t *testing.T) {
	calc := NewCalculator(defaultPolicy)
	t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	got, err := calc.Compute(10007, t0, t0.Add(48*time.Hour), t0.Add(6*time.Hour))
	require.NoError(t, err)
	// 80% of 10007 is 8005.6, floored to 8005; fee 2002 splits 1001/1001.
	assert.Equal(t, int64(8005), got.CustomerRefundCents)
	assert.Equal(t, int64(1001), got.TechnicianCompensationCents)
	assert.Equal(t, int64(1001), got.PlatformFeeCents)

	got, err = calc.Compute(10003, t0, t0.Add(48*time.Hour), t0.Add(6*time.Hour))
	require.NoError(t, err)
	// 8002.4 floors to 8002; fee 2001 leaves the odd unit with the platform.
	assert.Equal(t, int64(8002), got.CustomerRefundCents)
	assert.Equal(t, int64(1000), got.TechnicianCompensationCents)
	assert.Equal(t, int64(1001), got.PlatformFeeCents)
}

func TestComputePartsAlwaysSumToAmount(t *testing.T) {
	calc := NewCalculator(defaultPolicy)
	t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	for amount := int64(10000); amount <= 5000000; amount += 7919 {
		got, err := calc.Compute(amount, t0, t0.Add(24*time.Hour), t0.Add(5*time.Hour))
		require.NoError(t, err)
		require.Equal(t, amount, got.CustomerRefundCents+got.TechnicianCompensationCents+got.PlatformFeeCents, "amount %d", amount)
		require.GreaterOrEqual(t, got.PlatformFeeCents, got.TechnicianCompensationCents)
	}
}

func TestComputeRejectsNonPositiveAmount(t *testing.T) {
	calc := NewCalculator(defaultPolicy)
	now := time.Now()
	_, err := calc.Compute(0, now, now.Add(time.Hour), now)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInvalidAmount))
}
