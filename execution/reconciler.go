package execution

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/fundingarb/events"
	"github.com/web3guy0/fundingarb/internal/idgen"
	"github.com/web3guy0/fundingarb/storage"
	"github.com/web3guy0/fundingarb/types"
	"github.com/web3guy0/fundingarb/venue"
)

// Mismatch classifies a discrepancy between persisted trade state and what
// the venues actually report, generalizing the teacher's single-venue
// startup-only RecoverPositions into a two-venue classification
// running at startup AND periodically (spec section 4.H).
type Mismatch struct {
	TradeID string
	Symbol  types.Symbol
	Kind    MismatchKind
	Detail  string
}

type MismatchKind string

const (
	// MismatchGhost: a venue reports a position with no corresponding open
	// trade row — placed by a previous run that crashed before persisting,
	// or opened manually outside this system. Alerted on every pass;
	// auto-imported into the store only when AutoImportGhosts is set.
	MismatchGhost MismatchKind = "ghost"
	// MismatchZombie: a trade row is OPEN in storage but neither venue
	// reports a matching position — the position was closed out-of-band (or
	// liquidated). The store row is marked CLOSED so it stops being treated
	// as live.
	MismatchZombie MismatchKind = "zombie"
	// MismatchSizeDrift: both sides have a position, but qty disagrees
	// with the persisted leg beyond StepTolerance. The persisted leg qty is
	// corrected from venue truth.
	MismatchSizeDrift MismatchKind = "size_drift"
	// MismatchLegMissing: storage shows OPEN but one venue reports no
	// position at all while the other does — a one-sided broken hedge that
	// outlived a restart. The trade is marked BROKEN_HEDGE.
	MismatchLegMissing MismatchKind = "leg_missing"
)

// Reconciler compares storage.Store's OPEN trades against both venues'
// reported positions and takes the corrective action spec section 4.H
// prescribes for each mismatch kind.
type Reconciler struct {
	store            *storage.Store
	maker            venue.Port
	hedge            venue.Port
	bus              *events.Bus
	tol              decimal.Decimal
	autoImportGhosts bool
}

// NewReconciler builds a Reconciler. tol is the step tolerance below which a
// qty difference is not considered drift; autoImportGhosts gates whether a
// Ghost is adopted into the store or only alerted on (spec section 4.H / 9).
func NewReconciler(store *storage.Store, maker, hedge venue.Port, bus *events.Bus, tol decimal.Decimal, autoImportGhosts bool) *Reconciler {
	return &Reconciler{store: store, maker: maker, hedge: hedge, bus: bus, tol: tol, autoImportGhosts: autoImportGhosts}
}

// Run performs one reconciliation pass, applying each mismatch's corrective
// action and returning every mismatch found. The supervisor calls this once
// at startup (blocking) and then on a >=60s periodic cadence for the
// remainder of the run.
func (r *Reconciler) Run(ctx context.Context) ([]Mismatch, error) {
	openTrades, err := r.store.GetOpenTrades()
	if err != nil {
		return nil, err
	}

	makerPositions, err := r.maker.ListPositions(ctx)
	if err != nil {
		return nil, err
	}
	hedgePositions, err := r.hedge.ListPositions(ctx)
	if err != nil {
		return nil, err
	}

	makerBySymbol := indexBySymbol(makerPositions)
	hedgeBySymbol := indexBySymbol(hedgePositions)
	claimedSymbols := make(map[types.Symbol]bool, len(openTrades))

	var mismatches []Mismatch
	for _, row := range openTrades {
		symbol := types.Symbol(row.Symbol)
		claimedSymbols[symbol] = true

		legs, err := r.store.GetTradeLegs(row.ID)
		if err != nil {
			return nil, err
		}
		var makerLeg, hedgeLeg *storage.TradeLegRow
		for i := range legs {
			switch legs[i].Leg {
			case "maker":
				makerLeg = &legs[i]
			case "hedge":
				hedgeLeg = &legs[i]
			}
		}

		makerPos, hasMaker := makerBySymbol[symbol]
		hedgePos, hasHedge := hedgeBySymbol[symbol]

		switch {
		case !hasMaker && !hasHedge:
			m := Mismatch{
				TradeID: row.ID, Symbol: symbol, Kind: MismatchZombie,
				Detail: "no position on either venue for a persisted OPEN trade",
			}
			r.resolveZombie(row)
			mismatches = append(mismatches, m)
		case hasMaker != hasHedge:
			m := Mismatch{
				TradeID: row.ID, Symbol: symbol, Kind: MismatchLegMissing,
				Detail: "only one venue reports a position for this trade",
			}
			r.resolveLegMissing(row)
			mismatches = append(mismatches, m)
		default:
			if makerLeg != nil && !withinTolerance(makerPos.Qty, makerLeg.EntryQty, r.tol) {
				mismatches = append(mismatches, Mismatch{
					TradeID: row.ID, Symbol: symbol, Kind: MismatchSizeDrift,
					Detail: "maker leg qty drifted from persisted size",
				})
				r.resolveSizeDrift(*makerLeg, makerPos.Qty)
			}
			if hedgeLeg != nil && !withinTolerance(hedgePos.Qty, hedgeLeg.EntryQty, r.tol) {
				mismatches = append(mismatches, Mismatch{
					TradeID: row.ID, Symbol: symbol, Kind: MismatchSizeDrift,
					Detail: "hedge leg qty drifted from persisted size",
				})
				r.resolveSizeDrift(*hedgeLeg, hedgePos.Qty)
			}
		}
	}

	for symbol, pos := range makerBySymbol {
		if !claimedSymbols[symbol] {
			mismatches = append(mismatches, Mismatch{
				Symbol: symbol, Kind: MismatchGhost,
				Detail: "maker venue reports a position with no matching OPEN trade",
			})
			r.resolveGhost(r.maker, "maker", pos)
		}
	}
	for symbol, pos := range hedgeBySymbol {
		if !claimedSymbols[symbol] {
			mismatches = append(mismatches, Mismatch{
				Symbol: symbol, Kind: MismatchGhost,
				Detail: "hedge venue reports a position with no matching OPEN trade",
			})
			r.resolveGhost(r.hedge, "hedge", pos)
		}
	}

	for _, m := range mismatches {
		log.Warn().Str("trade_id", m.TradeID).Str("symbol", string(m.Symbol)).
			Str("kind", string(m.Kind)).Str("detail", m.Detail).Msg("reconciler: mismatch found")
	}

	return mismatches, nil
}

// resolveZombie marks a trade CLOSED when neither venue still carries a
// position for it: the store must stop treating it as live so it drops out
// of GetOpenTrades and the position manager's tick universe.
func (r *Reconciler) resolveZombie(row storage.TradeRow) {
	row.Status = string(types.TradeStatusClosed)
	row.CloseReason = ReasonZombie
	now := time.Now()
	row.ClosedAt = &now
	if err := r.store.SaveTradeSync(row); err != nil {
		log.Error().Err(err).Str("trade_id", row.ID).Msg("reconciler: failed to close zombie trade")
		return
	}
	log.Warn().Str("trade_id", row.ID).Msg("reconciler: zombie trade marked CLOSED")
}

// resolveLegMissing marks a trade BROKEN_HEDGE and alerts the breaker via
// the bus, exactly as Engine.MarkBrokenHedge does mid-run — a leg vanishing
// across a restart gets the same treatment as one vanishing live.
func (r *Reconciler) resolveLegMissing(row storage.TradeRow) {
	row.Status = string(types.TradeStatusBrokenHedge)
	if err := r.store.SaveTradeSync(row); err != nil {
		log.Error().Err(err).Str("trade_id", row.ID).Msg("reconciler: failed to mark leg-missing trade broken")
		return
	}
	if r.bus != nil {
		r.bus.Publish(events.Event{Kind: events.BrokenHedgeDetected, Payload: &types.Trade{
			TradeID: row.ID, Symbol: types.Symbol(row.Symbol), Status: types.TradeStatusBrokenHedge,
		}})
	}
	log.Warn().Str("trade_id", row.ID).Msg("reconciler: leg-missing trade marked BROKEN_HEDGE")
}

// resolveSizeDrift overwrites the persisted leg qty with venue truth: the
// venue is always the source of truth for what is actually held.
func (r *Reconciler) resolveSizeDrift(leg storage.TradeLegRow, venueQty decimal.Decimal) {
	leg.EntryQty = venueQty
	r.store.SaveTradeLeg(leg)
	log.Info().Str("trade_id", leg.TradeID).Str("leg", leg.Leg).
		Str("corrected_qty", venueQty.String()).Msg("reconciler: size drift corrected from venue truth")
}

// resolveGhost either auto-imports the stray position as a new BROKEN_HEDGE,
// single-leg-known trade row (AutoImportGhosts) or leaves it as an alert
// only — spec section 4.H treats silently adopting unexplained exposure as
// the riskier default, so auto-import stays opt-in.
func (r *Reconciler) resolveGhost(port venue.Port, legName string, pos types.Position) {
	if !r.autoImportGhosts {
		return
	}
	tradeID := idgen.NewTradeID()
	row := storage.TradeRow{
		ID: tradeID, Symbol: string(pos.Symbol), Status: string(types.TradeStatusBrokenHedge),
		CloseReason: "", OpenedAt: time.Now(),
	}
	if legName == "maker" {
		row.MakerVenue = port.Name()
	} else {
		row.HedgeVenue = port.Name()
	}
	if err := r.store.SaveTradeSync(row); err != nil {
		log.Error().Err(err).Str("symbol", string(pos.Symbol)).Msg("reconciler: failed to auto-import ghost position")
		return
	}
	r.store.SaveTradeLeg(storage.TradeLegRow{
		TradeID: tradeID, Leg: legName, Venue: port.Name(), Side: string(pos.Side),
		EntryPx: pos.EntryPx, EntryQty: pos.Qty,
	})
	log.Warn().Str("trade_id", tradeID).Str("symbol", string(pos.Symbol)).Str("venue", port.Name()).
		Msg("reconciler: ghost position auto-imported as BROKEN_HEDGE (single leg known)")
}

// RunPeriodic runs Run on a fixed interval (>=60s per spec section 4.H)
// until ctx is cancelled, invoking onMismatch for every pass that finds at
// least one discrepancy.
func (r *Reconciler) RunPeriodic(ctx context.Context, interval time.Duration, onMismatch func([]Mismatch)) {
	if interval < 60*time.Second {
		interval = 60 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			mismatches, err := r.Run(ctx)
			if err != nil {
				log.Error().Err(err).Msg("reconciler: periodic pass failed")
				continue
			}
			if len(mismatches) > 0 && onMismatch != nil {
				onMismatch(mismatches)
			}
		}
	}
}

func indexBySymbol(positions []types.Position) map[types.Symbol]types.Position {
	out := make(map[types.Symbol]types.Position, len(positions))
	for _, p := range positions {
		if !p.Qty.IsZero() {
			out[p.Symbol] = p
		}
	}
	return out
}

func withinTolerance(a, b, tol decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(tol)
}
