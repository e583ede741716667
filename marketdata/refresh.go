package marketdata

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/web3guy0/fundingarb/types"
	"github.com/web3guy0/fundingarb/venue"
)

// perVenueTimeout bounds a single venue call so one stalled venue never
// stalls the whole refresh fan-out (spec section 4.C: 2s per-venue timeout).
const perVenueTimeout = 2 * time.Second

// maxConcurrentRefreshes bounds the fan-out across symbols (spec section
// 4.C: <=20 concurrent), adapted from feeds/window_scanner.go's bounded
// worker idiom using golang.org/x/sync/semaphore instead of a raw
// buffered-channel token pool.
const maxConcurrentRefreshes = 20

// Refresher drives Cache updates by polling both venues for every symbol in
// its universe on a fixed cadence.
type Refresher struct {
	cache  *Cache
	maker  venue.Port
	hedge  venue.Port
	sem    *semaphore.Weighted
	period time.Duration
}

// NewRefresher builds a Refresher polling maker/hedge every period.
func NewRefresher(cache *Cache, maker, hedge venue.Port, period time.Duration) *Refresher {
	return &Refresher{
		cache: cache, maker: maker, hedge: hedge,
		sem: semaphore.NewWeighted(maxConcurrentRefreshes), period: period,
	}
}

// RefreshSymbols fans out one refresh per symbol, bounded by sem, and
// blocks until every symbol has either succeeded or timed out on each
// venue.
func (r *Refresher) RefreshSymbols(ctx context.Context, symbols []types.Symbol) {
	var wg sync.WaitGroup
	for _, symbol := range symbols {
		if err := r.sem.Acquire(ctx, 1); err != nil {
			return
		}
		wg.Add(1)
		go func(symbol types.Symbol) {
			defer wg.Done()
			defer r.sem.Release(1)
			r.refreshOne(ctx, symbol)
		}(symbol)
	}
	wg.Wait()
}

func (r *Refresher) refreshOne(ctx context.Context, symbol types.Symbol) {
	var wg sync.WaitGroup
	var makerL1, hedgeL1 types.OrderbookL1
	var makerFunding, hedgeFunding types.FundingRate
	var makerOK, hedgeOK bool

	wg.Add(2)
	go func() {
		defer wg.Done()
		makerL1, makerFunding, makerOK = r.fetchVenue(ctx, r.maker, symbol)
	}()
	go func() {
		defer wg.Done()
		hedgeL1, hedgeFunding, hedgeOK = r.fetchVenue(ctx, r.hedge, symbol)
	}()
	wg.Wait()

	r.cache.set(symbol, pair{
		MakerL1: makerL1, HedgeL1: hedgeL1,
		MakerFunding: makerFunding, HedgeFunding: hedgeFunding,
		MakerOK: makerOK, HedgeOK: hedgeOK,
		RefreshedAt: time.Now(),
	})
}

func (r *Refresher) fetchVenue(ctx context.Context, port venue.Port, symbol types.Symbol) (types.OrderbookL1, types.FundingRate, bool) {
	vctx, cancel := context.WithTimeout(ctx, perVenueTimeout)
	defer cancel()

	l1, err := port.GetOrderbookL1(vctx, symbol)
	if err != nil {
		log.Debug().Err(err).Str("venue", port.Name()).Str("symbol", string(symbol)).Msg("marketdata: l1 fetch failed")
		return types.OrderbookL1{}, types.FundingRate{}, false
	}
	fr, err := port.GetFundingRate(vctx, symbol)
	if err != nil {
		log.Debug().Err(err).Str("venue", port.Name()).Str("symbol", string(symbol)).Msg("marketdata: funding fetch failed")
		return l1, types.FundingRate{}, false
	}
	return l1, fr, true
}

// Run drives RefreshSymbols on a fixed cadence until ctx is cancelled.
func (r *Refresher) Run(ctx context.Context, universe func() []types.Symbol) {
	ticker := time.NewTicker(r.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RefreshSymbols(ctx, universe())
		}
	}
}
