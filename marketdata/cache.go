// Package marketdata refreshes and caches per-symbol, per-venue order book
// and funding state across both venues. It generalizes the teacher's
// feeds/window_scanner.go polling-scanner shape from single-venue Polymarket
// windows to a bounded-concurrency, two-venue snapshot cache (spec section
// 4.C).
package marketdata

import (
	"sync"
	"time"

	"github.com/web3guy0/fundingarb/types"
)

// defaultTTL is how long a cached snapshot stays eligible for scanning
// before a refresh is required (spec section 4.C: <=5s TTL).
const defaultTTL = 5 * time.Second

// pair is the refreshed state for one symbol across both venues.
type pair struct {
	MakerL1      types.OrderbookL1
	HedgeL1      types.OrderbookL1
	MakerFunding types.FundingRate
	HedgeFunding types.FundingRate
	MakerOK      bool
	HedgeOK      bool
	RefreshedAt  time.Time
}

// Cache holds the latest snapshot per symbol. Reads never block on a
// refresh in progress; Scan callers always see the last completed snapshot.
type Cache struct {
	mu   sync.RWMutex
	data map[types.Symbol]pair
	ttl  time.Duration
}

// NewCache builds an empty cache with the default TTL.
func NewCache() *Cache {
	return &Cache{data: make(map[types.Symbol]pair), ttl: defaultTTL}
}

func (c *Cache) get(symbol types.Symbol) (pair, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.data[symbol]
	if !ok {
		return pair{}, false
	}
	return p, time.Since(p.RefreshedAt) <= c.ttl
}

func (c *Cache) set(symbol types.Symbol, p pair) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[symbol] = p
}

// Snapshot is the public, read-only view of a symbol's cached state.
type Snapshot struct {
	Symbol       types.Symbol
	MakerL1      types.OrderbookL1
	HedgeL1      types.OrderbookL1
	MakerFunding types.FundingRate
	HedgeFunding types.FundingRate
	MakerOK      bool
	HedgeOK      bool
	RefreshedAt  time.Time
}

// Fresh reports whether both venues contributed a non-stale side (spec
// section 4.C's "missing side" degrade rather than fail semantics: a scan
// treats a symbol as unusable this tick if either side is missing, without
// dropping the symbol from the universe).
func (s Snapshot) Fresh() bool {
	return s.MakerOK && s.HedgeOK
}

// Get returns the last cached snapshot for symbol, or a zero Snapshot with
// Fresh()==false if nothing has been refreshed yet.
func (c *Cache) Get(symbol types.Symbol) Snapshot {
	p, fresh := c.get(symbol)
	return Snapshot{
		Symbol: symbol, MakerL1: p.MakerL1, HedgeL1: p.HedgeL1,
		MakerFunding: p.MakerFunding, HedgeFunding: p.HedgeFunding,
		MakerOK: fresh && p.MakerOK, HedgeOK: fresh && p.HedgeOK,
		RefreshedAt: p.RefreshedAt,
	}
}

// All returns every cached snapshot, used by Scan to build its universe.
func (c *Cache) All() []Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Snapshot, 0, len(c.data))
	for symbol, p := range c.data {
		fresh := time.Since(p.RefreshedAt) <= c.ttl
		out = append(out, Snapshot{
			Symbol: symbol, MakerL1: p.MakerL1, HedgeL1: p.HedgeL1,
			MakerFunding: p.MakerFunding, HedgeFunding: p.HedgeFunding,
			MakerOK: fresh && p.MakerOK, HedgeOK: fresh && p.HedgeOK,
			RefreshedAt: p.RefreshedAt,
		})
	}
	return out
}
