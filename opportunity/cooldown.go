package opportunity

import (
	"sync"
	"time"

	"github.com/web3guy0/fundingarb/types"
)

// Cooldown tracks per-symbol execution failures and suppresses rescanning
// during an exponential backoff window, generalizing the teacher's
// CircuitBreaker trip/cooldown timer (risk/circuit_breaker.go) from a
// single global trip to one independent timer per symbol.
type Cooldown struct {
	mu          sync.Mutex
	baseSeconds int
	maxFailures int
	state       map[types.Symbol]*cooldownState
}

type cooldownState struct {
	failures  int
	until     time.Time
}

// NewCooldown builds a Cooldown ring. baseSeconds is the first backoff
// duration; each further failure doubles it, capped at maxFailures-1
// doublings.
func NewCooldown(baseSeconds, maxFailures int) *Cooldown {
	if baseSeconds <= 0 {
		baseSeconds = 60
	}
	if maxFailures <= 0 {
		maxFailures = 3
	}
	return &Cooldown{
		baseSeconds: baseSeconds,
		maxFailures: maxFailures,
		state:       make(map[types.Symbol]*cooldownState),
	}
}

// InCooldown reports whether symbol is currently suppressed.
func (c *Cooldown) InCooldown(symbol types.Symbol) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.state[symbol]
	if !ok {
		return false
	}
	return time.Now().Before(st.until)
}

// RecordFailure bumps symbol's failure count and (re)arms its cooldown
// timer with exponential backoff: base * 2^(failures-1), capped at
// base * 2^(maxFailures-1).
func (c *Cooldown) RecordFailure(symbol types.Symbol) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.state[symbol]
	if !ok {
		st = &cooldownState{}
		c.state[symbol] = st
	}
	st.failures++
	exp := st.failures - 1
	if exp > c.maxFailures-1 {
		exp = c.maxFailures - 1
	}
	backoff := time.Duration(c.baseSeconds) * time.Second
	for i := 0; i < exp; i++ {
		backoff *= 2
	}
	st.until = time.Now().Add(backoff)
}

// RecordSuccess clears symbol's failure count after a successful
// execution.
func (c *Cooldown) RecordSuccess(symbol types.Symbol) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.state, symbol)
}
