package execution

import (
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// retainMax returns the larger of the previously observed cumulative fill
// and a freshly read one, logging a reset event instead of ever letting the
// tracked fill move backward (spec section 4.E "cumulative-fill accounting"
// and scenario S5: a venue-reported decrease, e.g. after a venue-side
// restart, must never reduce the engine's tracked fill).
func retainMax(tradeID, leg string, previous, observed decimal.Decimal) decimal.Decimal {
	if observed.GreaterThanOrEqual(previous) {
		return observed
	}
	log.Warn().Str("trade_id", tradeID).Str("leg", leg).
		Str("previous", previous.String()).Str("observed", observed.String()).
		Msg("execution: cumulative fill decreased, retaining prior max and logging reset")
	return previous
}
