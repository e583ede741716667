package idgen

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewTradeIDMonotonicLexicalOrder(t *testing.T) {
	t.Parallel()
	t0 := time.UnixMilli(1_700_000_000_000)
	t1 := t0.Add(time.Second)

	id0 := NewTradeIDAt(t0)
	id1 := NewTradeIDAt(t1)

	assert.Len(t, id0, 26)
	assert.Less(t, id0[:10], id1[:10])
}

func TestNewTradeIDUnique(t *testing.T) {
	t.Parallel()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewTradeID()
		assert.False(t, seen[id])
		seen[id] = true
	}
}
