package execution

import "errors"

var (
	// ErrTimeout is returned when a maker reprice loop or hedge IOC retry
	// loop exhausts its budget without a terminal fill.
	ErrTimeout = errors.New("execution: timed out waiting for fill")

	// ErrBrokenHedge marks a coordinated close in which a leg could not be
	// flattened within HedgeIOCMaxAttempts/CloseMaxSlippage — the trade is
	// left in BROKEN_HEDGE, the core never auto-retries this; it surfaces to
	// events.BrokenHedgeDetected and waits for position manager/operator
	// intervention.
	ErrBrokenHedge = errors.New("execution: close could not flatten a leg, trade left in broken hedge")

	// ErrRollbackFailed marks a rollback sequence that itself could not
	// close the already-filled leg1 remainder.
	ErrRollbackFailed = errors.New("execution: rollback could not flatten leg1")
)
