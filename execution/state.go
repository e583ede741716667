// Package execution drives the two-leg (maker + hedge) open/close sequence
// and the startup/steady-state reconciler. The ExecState sum type
// generalizes the teacher's single-order OrderState lattice
// (execution/executor.go) from one CLOB order to a whole hedged-pair
// life cycle (spec section 4.E).
package execution

import "errors"

// ExecState is the life cycle of one Trade's opening/rollback sequence.
// BROKEN_HEDGE is deliberately not a member: it is a trade-level Status
// outcome layered on top of this lattice (raised once LEG2 or the close
// sequence cannot resolve), not a step within it.
type ExecState int

const (
	StatePending ExecState = iota
	StateLeg1Submitted
	StateLeg1Filled
	StateLeg2Submitted
	StateComplete
	StatePartialFill
	StateRollbackQueued
	StateRollbackInProgress
	StateRollbackDone
	StateRollbackFailed
	StateFailed
	StateAborted
)

var execStateNames = [...]string{
	"PENDING",
	"LEG1_SUBMITTED",
	"LEG1_FILLED",
	"LEG2_SUBMITTED",
	"COMPLETE",
	"PARTIAL_FILL",
	"ROLLBACK_QUEUED",
	"ROLLBACK_IN_PROGRESS",
	"ROLLBACK_DONE",
	"ROLLBACK_FAILED",
	"FAILED",
	"ABORTED",
}

// String renders the state the way it is persisted on types.Trade.ExecState.
func (s ExecState) String() string {
	if s < 0 || int(s) >= len(execStateNames) {
		return "UNKNOWN"
	}
	return execStateNames[s]
}

var execStateByName = func() map[string]ExecState {
	m := make(map[string]ExecState, len(execStateNames))
	for i, n := range execStateNames {
		m[n] = ExecState(i)
	}
	return m
}()

// ParseExecState inverts String, for callers that only have
// types.Trade.ExecState (persisted as a string to avoid an import cycle) in
// hand and need the typed state back, e.g. to persist a Trade without
// disturbing its current opening-sequence state.
func ParseExecState(s string) ExecState {
	if st, ok := execStateByName[s]; ok {
		return st
	}
	return StatePending
}

// IsTerminal reports whether state can no longer transition.
func (s ExecState) IsTerminal() bool {
	switch s {
	case StateComplete, StateRollbackDone, StateRollbackFailed, StateFailed, StateAborted:
		return true
	default:
		return false
	}
}

var transitions = map[ExecState][]ExecState{
	StatePending:            {StateLeg1Submitted, StateAborted},
	StateLeg1Submitted:      {StateLeg1Filled, StateAborted, StateFailed},
	StateLeg1Filled:         {StateLeg2Submitted},
	StateLeg2Submitted:      {StateComplete, StatePartialFill, StateRollbackQueued, StateFailed},
	StatePartialFill:        {StateComplete, StateRollbackQueued},
	StateRollbackQueued:     {StateRollbackInProgress},
	StateRollbackInProgress: {StateRollbackDone, StateRollbackFailed},
}

// ErrInvalidTransition is returned by Transition for an edge not present in
// the lattice above.
var ErrInvalidTransition = errors.New("execution: invalid state transition")

// Transition validates from->to against the lattice; the FSM refuses to
// silently skip a step (e.g. LEG1_SUBMITTED straight to COMPLETE).
func Transition(from, to ExecState) error {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return nil
		}
	}
	return ErrInvalidTransition
}
