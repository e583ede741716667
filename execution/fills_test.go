package execution

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestRetainMaxKeepsHigherObserved(t *testing.T) {
	t.Parallel()
	got := retainMax("T1", "leg1", decimal.NewFromInt(2), decimal.NewFromInt(3))
	assert.True(t, decimal.NewFromInt(3).Equal(got))
}

// S5: a venue-reported cumulative fill decrease must never move the tracked
// fill backward.
func TestRetainMaxClampsDecrease(t *testing.T) {
	t.Parallel()
	got := retainMax("T1", "leg1", decimal.NewFromInt(3), decimal.NewFromInt(1))
	assert.True(t, decimal.NewFromInt(3).Equal(got), "observed decrease must be clamped to the prior max")
}

func TestRetainMaxEqualObservedIsKept(t *testing.T) {
	t.Parallel()
	got := retainMax("T1", "leg1", decimal.NewFromInt(2), decimal.NewFromInt(2))
	assert.True(t, decimal.NewFromInt(2).Equal(got))
}
