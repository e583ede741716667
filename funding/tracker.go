package funding

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/web3guy0/fundingarb/storage"
	"github.com/web3guy0/fundingarb/types"
	"github.com/web3guy0/fundingarb/venue"
)

// Tracker updates each open trade's accrued funding on a slow tick (spec
// section 4.G) and maintains the per-symbol rate history the position
// manager's Z_SCORE and FUNDING_VELOCITY rules consult read-only.
type Tracker struct {
	maker venue.Port
	hedge venue.Port
	store *storage.Store

	mu         sync.RWMutex
	histories  map[types.Symbol]*HistoryRing
	ringCap    int
}

// NewTracker builds a Tracker. ringCap <=0 uses defaultCapacity.
func NewTracker(maker, hedge venue.Port, store *storage.Store, ringCap int) *Tracker {
	return &Tracker{
		maker:     maker,
		hedge:     hedge,
		store:     store,
		histories: make(map[types.Symbol]*HistoryRing),
		ringCap:   ringCap,
	}
}

// History returns the rate history ring for a symbol, creating it empty if
// this is the first time the symbol has been observed.
func (t *Tracker) History(symbol types.Symbol) *HistoryRing {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.histories[symbol]
	if !ok {
		r = NewHistoryRing(t.ringCap)
		t.histories[symbol] = r
	}
	return r
}

// Tick refreshes accrued funding for every open trade and appends the
// current hourly rate for every distinct symbol among them to its history
// ring. funding_collected is computed as funding_received - funding_paid
// across both legs, i.e. the sum of each venue's net realized funding since
// the trade opened (each venue already reports its own leg's sign).
func (t *Tracker) Tick(ctx context.Context, trades []*types.Trade) {
	seen := make(map[types.Symbol]bool, len(trades))
	for _, trade := range trades {
		if trade.OpenedAt == nil {
			continue
		}
		since := *trade.OpenedAt

		makerFunding, err := t.maker.GetRealizedFunding(ctx, trade.Symbol, since)
		if err != nil {
			log.Warn().Err(err).Str("trade_id", trade.TradeID).Str("venue", t.maker.Name()).Msg("funding: maker fetch failed")
			continue
		}
		hedgeFunding, err := t.hedge.GetRealizedFunding(ctx, trade.Symbol, since)
		if err != nil {
			log.Warn().Err(err).Str("trade_id", trade.TradeID).Str("venue", t.hedge.Name()).Msg("funding: hedge fetch failed")
			continue
		}

		trade.FundingCollected = makerFunding.Add(hedgeFunding)
		if t.store != nil {
			t.store.AppendFundingRealized(storage.FundingRealizedRow{
				TradeID: trade.TradeID, Symbol: string(trade.Symbol), Venue: t.maker.Name(),
				Amount: makerFunding, SettledAt: time.Now(),
			})
			t.store.AppendFundingRealized(storage.FundingRealizedRow{
				TradeID: trade.TradeID, Symbol: string(trade.Symbol), Venue: t.hedge.Name(),
				Amount: hedgeFunding, SettledAt: time.Now(),
			})
		}

		if seen[trade.Symbol] {
			continue
		}
		seen[trade.Symbol] = true
		t.snapshotRate(ctx, trade.Symbol)
	}
}

func (t *Tracker) snapshotRate(ctx context.Context, symbol types.Symbol) {
	rate, err := t.maker.GetFundingRate(ctx, symbol)
	if err != nil {
		log.Debug().Err(err).Str("symbol", string(symbol)).Msg("funding: rate snapshot fetch failed")
		return
	}
	t.History(symbol).Append(RateSample{RateHourly: rate.RateHourly, ObservedAt: rate.ObservedAt})
	if t.store != nil {
		t.store.SaveFundingSnapshot(storage.FundingSnapshotRow{
			Symbol: string(symbol), Venue: t.maker.Name(), RateHourly: rate.RateHourly, ObservedAt: rate.ObservedAt,
		})
	}
}

// Run ticks on a fixed interval (>=30s per spec section 4.G) until ctx is
// cancelled, pulling the open-trade set from getOpenTrades each cycle.
func (t *Tracker) Run(ctx context.Context, interval time.Duration, getOpenTrades func() []*types.Trade) {
	if interval < 30*time.Second {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.Tick(ctx, getOpenTrades())
		}
	}
}
