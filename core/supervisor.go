// Package core wires the data feed, opportunity scanner, execution engine,
// position manager, funding tracker and reconciler into one orchestrated
// run. Generalizes the teacher's core/engine.go central-orchestrator shape
// ("Feed -> Strategy -> Risk -> Sizing -> Execution -> TP/SL -> Storage")
// into "MarketData -> Opportunity -> Execution -> PositionManager -> Store".
package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/fundingarb/events"
	"github.com/web3guy0/fundingarb/execution"
	"github.com/web3guy0/fundingarb/funding"
	"github.com/web3guy0/fundingarb/internal/config"
	"github.com/web3guy0/fundingarb/internal/metrics"
	"github.com/web3guy0/fundingarb/marketdata"
	"github.com/web3guy0/fundingarb/opportunity"
	"github.com/web3guy0/fundingarb/position"
	"github.com/web3guy0/fundingarb/storage"
	"github.com/web3guy0/fundingarb/types"
	"github.com/web3guy0/fundingarb/venue"
)

const (
	opportunityScanPeriod   = 1 * time.Second
	positionTickPeriod      = 2 * time.Second
	fundingTrackPeriod      = 30 * time.Second
	reconcilePeriod         = 60 * time.Second
	marketDataRefreshPeriod = 3 * time.Second
)

// Supervisor is the process-level orchestrator (spec section 4.I).
type Supervisor struct {
	cfg   *config.Config
	maker venue.Port
	hedge venue.Port
	store *storage.Store
	bus   *events.Bus

	cache      *marketdata.Cache
	refresher  *marketdata.Refresher
	scanner    *opportunity.Scanner
	engine     *execution.Engine
	posMgr     *position.Manager
	tracker    *funding.Tracker
	reconciler *execution.Reconciler
	breaker    *Breaker

	universeMu sync.RWMutex
	universe   []types.Symbol

	tradesMu   sync.RWMutex
	openTrades map[string]*types.Trade

	scanMu   sync.RWMutex
	lastScan []types.Opportunity

	wg sync.WaitGroup
}

// NewSupervisor builds every component and hydrates in-memory open-trade
// state from storage (store may be nil, e.g. for a paper run with no
// persistence — hydration and reconciliation are then skipped).
func NewSupervisor(cfg *config.Config, maker, hedge venue.Port, store *storage.Store) (*Supervisor, error) {
	bus := events.NewBus()
	cache := marketdata.NewCache()

	s := &Supervisor{
		cfg: cfg, maker: maker, hedge: hedge, store: store, bus: bus,
		cache:      cache,
		refresher:  marketdata.NewRefresher(cache, maker, hedge, marketDataRefreshPeriod),
		scanner:    opportunity.NewScanner(cfg.Trading),
		engine:     execution.NewEngine(maker, hedge, cfg.Execution, cfg.Trading, store, bus),
		tracker:    funding.NewTracker(maker, hedge, store, 0),
		breaker:    NewBreaker(cfg.Safety, bus),
		openTrades: make(map[string]*types.Trade),
	}
	if store != nil {
		s.reconciler = execution.NewReconciler(store, maker, hedge, bus, cfg.Execution.StepTolerance, cfg.Safety.AutoImportGhosts)
	}
	s.posMgr = position.NewManager(maker, hedge, s.engine, s.tracker, bus, s, cfg.Exits, cfg.Trading)

	bus.Subscribe(events.BrokenHedgeDetected, func(ev events.Event) {
		trade, ok := ev.Payload.(*types.Trade)
		if !ok {
			return
		}
		s.breaker.MarkBrokenHedge(trade.Symbol)
	})

	if err := s.hydrate(); err != nil {
		return nil, fmt.Errorf("hydrate open trades: %w", err)
	}
	return s, nil
}

// hydrate loads every non-terminal TradeRow (and its legs) into the
// in-memory registry the position manager and funding tracker iterate over,
// since FSM/tick state only ever lives in memory between ticks.
func (s *Supervisor) hydrate() error {
	if s.store == nil {
		return nil
	}
	rows, err := s.store.GetOpenTrades()
	if err != nil {
		return err
	}
	for _, row := range rows {
		trade, err := hydrateTrade(s.store, row)
		if err != nil {
			log.Warn().Err(err).Str("trade_id", row.ID).Msg("supervisor: skipping unhydratable trade")
			continue
		}
		s.openTrades[trade.TradeID] = trade
	}
	log.Info().Int("count", len(s.openTrades)).Msg("supervisor: hydrated open trades from storage")
	return nil
}

func hydrateTrade(store *storage.Store, row storage.TradeRow) (*types.Trade, error) {
	legs, err := store.GetTradeLegs(row.ID)
	if err != nil {
		return nil, err
	}
	trade := &types.Trade{
		TradeID: row.ID, Symbol: types.Symbol(row.Symbol),
		TargetNotionalUSD: row.DesiredNotional, Status: types.TradeStatus(row.Status),
		EntryAPY: row.EntryAPY, FundingCollected: row.FundingCollected,
		RealizedPnL: row.RealizedPnL, CloseReason: row.CloseReason,
		CreatedAt: row.CreatedAt, ClosedAt: row.ClosedAt,
	}
	if !row.OpenedAt.IsZero() {
		opened := row.OpenedAt
		trade.OpenedAt = &opened
	}
	for _, leg := range legs {
		tl := types.TradeLeg{
			Venue: leg.Venue, Side: types.Side(leg.Side), OrderID: "",
			QtyFilled: leg.EntryQty, EntryPx: leg.EntryPx, ExitPx: leg.ExitPx, Fees: leg.Fees,
		}
		switch leg.Leg {
		case "maker":
			trade.Leg1 = tl
		case "hedge":
			trade.Leg2 = tl
		}
	}
	return trade, nil
}

// BestFor implements position.OpportunityProvider: the highest-scored
// opportunity from the most recent scan other than symbol on the
// excludeVenues pair, in either orientation (§9 design note: KELLY_ROTATION may rotate within the same
// symbol onto a better venue pairing, or into a different symbol entirely).
func (s *Supervisor) BestFor(symbol types.Symbol, excludeVenues [2]string) *types.Opportunity {
	s.scanMu.RLock()
	defer s.scanMu.RUnlock()
	for i := range s.lastScan {
		opp := s.lastScan[i]
		if opp.Symbol == symbol && opp.LongVenue == excludeVenues[0] && opp.ShortVenue == excludeVenues[1] {
			continue
		}
		if opp.Symbol == symbol && opp.ShortVenue == excludeVenues[0] && opp.LongVenue == excludeVenues[1] {
			continue
		}
		return &opp
	}
	return nil
}

// SetUniverse replaces the traded symbol universe.
func (s *Supervisor) SetUniverse(symbols []types.Symbol) {
	s.universeMu.Lock()
	defer s.universeMu.Unlock()
	s.universe = symbols
}

func (s *Supervisor) getUniverse() []types.Symbol {
	s.universeMu.RLock()
	defer s.universeMu.RUnlock()
	return append([]types.Symbol(nil), s.universe...)
}

func (s *Supervisor) getOpenTrades() []*types.Trade {
	s.tradesMu.RLock()
	defer s.tradesMu.RUnlock()
	out := make([]*types.Trade, 0, len(s.openTrades))
	for _, t := range s.openTrades {
		out = append(out, t)
	}
	return out
}

// Run starts every background stage on its own cadence and blocks until ctx
// is cancelled, then performs the graceful-shutdown sequence (spec section
// 4.I): stop accepting new opportunities, let in-flight FSMs finish their
// current tick, flush the store, and return.
func (s *Supervisor) Run(ctx context.Context) error {
	if s.store != nil {
		if _, err := s.reconciler.Run(ctx); err != nil {
			return fmt.Errorf("startup reconciliation: %w", err)
		}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.refresher.Run(ctx, s.getUniverse)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.tracker.Run(ctx, fundingTrackPeriod, s.getOpenTrades)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.posMgr.Run(ctx, positionTickPeriod, s.getOpenTrades)
	}()

	if s.reconciler != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.reconciler.RunPeriodic(ctx, reconcilePeriod, s.onMismatches)
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runOpportunityLoop(ctx)
	}()

	<-ctx.Done()
	log.Info().Msg("supervisor: shutdown signal received, draining background stages")
	s.wg.Wait()

	if s.store != nil {
		flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.store.Close(flushCtx); err != nil {
			return fmt.Errorf("flush store: %w", err)
		}
	}
	log.Info().Msg("supervisor: shutdown complete")
	return nil
}

// onMismatches mirrors the reconciler's corrective actions (already applied
// to storage by Reconciler.Run) into the in-memory openTrades registry, so
// the position manager and funding tracker's next tick see the same state
// the store does.
func (s *Supervisor) onMismatches(mismatches []execution.Mismatch) {
	s.tradesMu.Lock()
	defer s.tradesMu.Unlock()
	for _, m := range mismatches {
		log.Warn().Str("trade_id", m.TradeID).Str("symbol", string(m.Symbol)).
			Str("kind", string(m.Kind)).Str("detail", m.Detail).Msg("reconciler: mismatch detected")

		trade, ok := s.openTrades[m.TradeID]
		if !ok {
			continue
		}
		switch m.Kind {
		case execution.MismatchZombie:
			delete(s.openTrades, m.TradeID)
		case execution.MismatchLegMissing:
			trade.Status = types.TradeStatusBrokenHedge
		}
	}
}

// runOpportunityLoop is the entry-side cadence: scan, filter, size, and open
// the single best surviving opportunity per tick, subject to the breaker
// and max_open_trades.
func (s *Supervisor) runOpportunityLoop(ctx context.Context) {
	ticker := time.NewTicker(opportunityScanPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.scanAndExecuteOnce(ctx)
		}
	}
}

func (s *Supervisor) scanAndExecuteOnce(ctx context.Context) {
	snapshots := s.cache.All()
	opps := s.scanner.Scan(snapshots)

	s.scanMu.Lock()
	s.lastScan = opps
	s.scanMu.Unlock()

	metrics.OpenTradeCount.Set(float64(s.countOpenTrades()))

	if s.breaker.IsTripped() {
		return
	}
	if s.countOpenTrades() >= s.cfg.Trading.MaxOpenTrades {
		return
	}

	for _, opp := range opps {
		if s.breaker.SymbolPaused(opp.Symbol) {
			continue
		}
		if s.hasOpenTrade(opp.Symbol) {
			continue
		}
		s.openOne(ctx, opp)
		return
	}
}

func (s *Supervisor) countOpenTrades() int {
	s.tradesMu.RLock()
	defer s.tradesMu.RUnlock()
	return len(s.openTrades)
}

func (s *Supervisor) hasOpenTrade(symbol types.Symbol) bool {
	s.tradesMu.RLock()
	defer s.tradesMu.RUnlock()
	for _, t := range s.openTrades {
		if t.Symbol == symbol {
			return true
		}
	}
	return false
}

func (s *Supervisor) openOne(ctx context.Context, opp types.Opportunity) {
	trade, state, err := s.engine.OpenTrade(ctx, opp)
	if err != nil {
		log.Warn().Err(err).Str("symbol", string(opp.Symbol)).Str("state", state.String()).Msg("supervisor: open failed")
		s.scanner.RecordFailure(opp.Symbol)
		s.breaker.RecordOpenFailure()
		return
	}

	s.scanner.RecordSuccess(opp.Symbol)
	s.breaker.RecordOpenSuccess()

	s.tradesMu.Lock()
	s.openTrades[trade.TradeID] = trade
	s.tradesMu.Unlock()
}

// CloseAll runs a coordinated close against every open trade, used by the
// `close-all` CLI path and by an operator-initiated emergency drain.
func (s *Supervisor) CloseAll(ctx context.Context, reason string) error {
	trades := s.getOpenTrades()
	var firstErr error
	for _, trade := range trades {
		if trade.Status != types.TradeStatusOpen {
			continue
		}
		if err := s.engine.CloseTrade(ctx, trade, reason); err != nil {
			log.Error().Err(err).Str("trade_id", trade.TradeID).Msg("supervisor: close-all failed for trade")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		s.tradesMu.Lock()
		delete(s.openTrades, trade.TradeID)
		s.tradesMu.Unlock()
	}
	return firstErr
}

// Reconcile runs one reconciliation pass on demand, for the `reconcile` CLI
// path.
func (s *Supervisor) Reconcile(ctx context.Context) ([]execution.Mismatch, error) {
	if s.reconciler == nil {
		return nil, fmt.Errorf("reconcile: no store configured")
	}
	return s.reconciler.Run(ctx)
}

// Equity sums both venues' available balance; the `doctor` CLI path uses it
// as its venue connectivity check.
func (s *Supervisor) Equity(ctx context.Context) (decimal.Decimal, error) {
	makerBal, err := s.maker.GetAvailableBalance(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("maker balance: %w", err)
	}
	hedgeBal, err := s.hedge.GetAvailableBalance(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("hedge balance: %w", err)
	}
	return makerBal.Add(hedgeBal), nil
}
