package execution

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestReadbackVWAPOverwritesBeyondThreshold(t *testing.T) {
	t.Parallel()
	assert.True(t, ReadbackVWAP(decimal.NewFromInt(100), decimal.NewFromFloat(100.05), decimal.Zero, decimal.Zero))
	assert.False(t, ReadbackVWAP(decimal.NewFromInt(100), decimal.NewFromFloat(100.001), decimal.Zero, decimal.Zero))
}

func TestReadbackVWAPZeroProvisionalAlwaysOverwrites(t *testing.T) {
	t.Parallel()
	assert.True(t, ReadbackVWAP(decimal.Zero, decimal.NewFromInt(1), decimal.Zero, decimal.Zero))
}

func TestReadbackVWAPPnLDeltaAloneTriggersOverwrite(t *testing.T) {
	t.Parallel()
	assert.True(t, ReadbackVWAP(decimal.NewFromInt(100), decimal.NewFromInt(100), decimal.Zero, decimal.NewFromFloat(0.31)))
	assert.False(t, ReadbackVWAP(decimal.NewFromInt(100), decimal.NewFromInt(100), decimal.Zero, decimal.NewFromFloat(0.29)))
}
