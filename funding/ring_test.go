package funding

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryRingEvictsOldestBeyondCapacity(t *testing.T) {
	t.Parallel()
	r := NewHistoryRing(3)
	base := time.Now()
	for i := 0; i < 5; i++ {
		r.Append(RateSample{RateHourly: decimal.NewFromInt(int64(i)), ObservedAt: base.Add(time.Duration(i) * time.Hour)})
	}
	samples := r.Samples()
	require.Len(t, samples, 3)
	assert.Equal(t, "2", samples[0].RateHourly.String())
	assert.Equal(t, "4", samples[2].RateHourly.String())
}

func TestZScoreRequiresAtLeastTwoSamples(t *testing.T) {
	t.Parallel()
	r := NewHistoryRing(10)
	_, ok := r.ZScore(decimal.NewFromInt(1))
	assert.False(t, ok)

	r.Append(RateSample{RateHourly: decimal.NewFromFloat(0.0001), ObservedAt: time.Now()})
	r.Append(RateSample{RateHourly: decimal.NewFromFloat(0.0003), ObservedAt: time.Now().Add(time.Hour)})
	z, ok := r.ZScore(decimal.NewFromFloat(0.0003))
	require.True(t, ok)
	assert.True(t, z.GreaterThan(decimal.Zero))
}

func TestVelocitySlopeDetectsDecline(t *testing.T) {
	t.Parallel()
	r := NewHistoryRing(20)
	base := time.Now()
	rates := []float64{0.001, 0.0009, 0.0008, 0.0007, 0.0006}
	for i, rate := range rates {
		r.Append(RateSample{RateHourly: decimal.NewFromFloat(rate), ObservedAt: base.Add(time.Duration(i) * time.Hour)})
	}
	slope, ok := r.VelocitySlope(24)
	require.True(t, ok)
	assert.True(t, slope.LessThan(decimal.Zero), "expected a negative slope for a declining rate series, got %s", slope.String())
}
