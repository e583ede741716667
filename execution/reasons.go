package execution

// CloseReason literals the engine sets on types.Trade.CloseReason. Several
// are mandated verbatim by spec.md section 8's end-to-end scenarios so a
// test (or an operator grepping logs) can match on the literal string
// instead of free-form error text.
const (
	// ReasonLeg1Unfilled: LEG1 never filled and escalation was disabled or
	// also failed, so no LEG2 was ever submitted (spec section 4.E step 5).
	ReasonLeg1Unfilled = "leg1_unfilled_abort"
	// ReasonRollbackRecovered: LEG2 could not be hedged, but the LEG1
	// rollback flattened the residual within its slippage budget (spec.md
	// S2's mandated literal).
	ReasonRollbackRecovered = "rollback_hedge_failed_then_recovered"
	// ReasonRollbackBrokenHedge: LEG2 could not be hedged and the rollback
	// itself could not flatten LEG1 either; the trade is handed to
	// BROKEN_HEDGE and left for the reconciler.
	ReasonRollbackBrokenHedge = "rollback_failed_broken_hedge"
	// ReasonBrokenHedgeRecovered: a BROKEN_HEDGE trade's stranded leg was
	// finally flattened, closing the trade out (spec.md S3's mandated
	// literal).
	ReasonBrokenHedgeRecovered = "broken_hedge_recovered"
	// ReasonPreflightRejected: the immediate pre-open re-check (spec section
	// 4.E) found the opportunity no longer executable — illiquid, too wide,
	// under-margined, or under min_notional once quantized — so neither leg
	// was ever submitted.
	ReasonPreflightRejected = "preflight_rejected"
	// ReasonZombie: a reconciler pass found an OPEN trade row with no
	// position on either venue and closed it out rather than leave it
	// perpetually tracked (spec section 4.H).
	ReasonZombie = "zombie"
)
